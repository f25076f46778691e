package harvest

import (
	"errors"
	"strings"
	"time"
)

const (
	solutionSeparator        = "\n\n---\n\n"
	maxSolutionComments      = 3
	minSolutionCommentLength = 50
	minFallbackAnswerSize    = 100
)

var (
	// ErrMalformedItem means the item lacks the payload, body or URL a record needs.
	ErrMalformedItem = errors.New("item is missing required fields")
	// ErrNoSolution means the item is well formed but carries no usable answer.
	ErrNoSolution = errors.New("item has no solution")
)

var solutionPhrases = []string{
	"fixed", "solved", "solution", "workaround", "try this",
	"you need to", "the issue", "the problem", "root cause",
}

// Extractor maps raw source items to normalized records. It has no side
// effects: items it cannot map yield no record and one of ErrMalformedItem
// or ErrNoSolution.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Run(target Target, item RawItem) (Record, error) {
	switch item.Kind {
	case KindIssues:
		if item.Issue != nil {
			return e.fromIssue(target, item.Issue)
		}
	case KindDiscussions:
		if item.Discussion != nil {
			return e.fromDiscussion(target, item.Discussion)
		}
	case KindReviewComments:
		if item.ReviewComment != nil {
			return e.fromReviewComment(target, item.ReviewComment)
		}
	case KindStackOverflow:
		if item.Question != nil {
			return e.fromQuestion(target, item.Question)
		}
	}
	return Record{}, ErrMalformedItem
}

func (e *Extractor) fromIssue(target Target, issue *RawIssue) (Record, error) {
	problem := NormalizeText(issue.Body)
	if problem == "" || issue.URL == "" {
		return Record{}, ErrMalformedItem
	}

	// Short replies such as "Fixed." never take a solution slot. When no
	// substantial reply exists the first short one is kept alone, so the
	// filter rejects it by length instead of the record vanishing here.
	var parts []string
	short := ""
	for _, c := range issue.Comments {
		body := NormalizeText(c.Body)
		if body == "" {
			continue
		}
		if _, ok := ContainsAny(body, solutionPhrases); !ok {
			continue
		}
		if TextLength(body) < minSolutionCommentLength {
			if short == "" {
				short = body
			}
			continue
		}
		parts = append(parts, body)
		if len(parts) == maxSolutionComments {
			break
		}
	}
	if len(parts) == 0 && short != "" {
		parts = append(parts, short)
	}
	if len(parts) == 0 {
		return Record{}, ErrNoSolution
	}

	return Record{
		Technology: target.Technology,
		Repo:       target.Repo,
		Title:      NormalizeText(issue.Title),
		Problem:    problem,
		Solution:   strings.Join(parts, solutionSeparator),
		URL:        issue.URL,
		Metadata: Metadata{
			Kind:          KindIssues,
			Number:        issue.Number,
			Author:        issue.Author,
			Labels:        issue.Labels,
			CommentsCount: len(issue.Comments),
			CreatedAt:     issue.CreatedAt.UTC(),
			ClosedAt:      utcPtr(issue.ClosedAt),
		},
	}, nil
}

func (e *Extractor) fromDiscussion(target Target, d *RawDiscussion) (Record, error) {
	problem := NormalizeText(d.Body)
	if problem == "" || d.URL == "" {
		return Record{}, ErrMalformedItem
	}

	solution, official := discussionAnswer(d)
	if solution == "" {
		return Record{}, ErrNoSolution
	}

	return Record{
		Technology: target.Technology,
		Repo:       target.Repo,
		Title:      NormalizeText(d.Title),
		Problem:    problem,
		Solution:   solution,
		URL:        d.URL,
		Metadata: Metadata{
			Kind:              KindDiscussions,
			Number:            d.Number,
			Author:            d.Author,
			Category:          d.Category,
			CommentsCount:     len(d.Comments),
			HasOfficialAnswer: official,
			CreatedAt:         d.CreatedAt.UTC(),
		},
	}, nil
}

// discussionAnswer prefers the marked answer, then a comment flagged as the
// answer, then the longest substantial comment.
func discussionAnswer(d *RawDiscussion) (string, bool) {
	if d.Answer != nil {
		if body := NormalizeText(d.Answer.Body); body != "" {
			return body, true
		}
	}

	for _, c := range d.Comments {
		if c.IsAnswer {
			if body := NormalizeText(c.Body); body != "" {
				return body, true
			}
		}
	}

	longest := ""
	for _, c := range d.Comments {
		body := NormalizeText(c.Body)
		if TextLength(body) > minFallbackAnswerSize && TextLength(body) > TextLength(longest) {
			longest = body
		}
	}
	return longest, false
}

func (e *Extractor) fromReviewComment(target Target, rc *RawReviewComment) (Record, error) {
	hunk := strings.TrimSpace(strings.ReplaceAll(rc.DiffHunk, "\r\n", "\n"))
	feedback := NormalizeText(rc.Body)
	if hunk == "" || feedback == "" || rc.URL == "" {
		return Record{}, ErrMalformedItem
	}

	return Record{
		Technology:  target.Technology,
		Repo:        target.Repo,
		CodeContext: hunk,
		Feedback:    feedback,
		URL:         rc.URL,
		Metadata: Metadata{
			Kind:      KindReviewComments,
			Number:    rc.PRNumber,
			CommentID: rc.ID,
			FilePath:  rc.Path,
			Line:      rc.Line,
			Side:      rc.Side,
			Author:    rc.Author,
			CreatedAt: rc.CreatedAt.UTC(),
		},
	}, nil
}

func (e *Extractor) fromQuestion(target Target, q *RawQuestion) (Record, error) {
	problem := NormalizeText(q.Body)
	if problem == "" || q.URL == "" {
		return Record{}, ErrMalformedItem
	}
	if q.Answer == nil {
		return Record{}, ErrNoSolution
	}
	solution := NormalizeText(q.Answer.Body)
	if solution == "" {
		return Record{}, ErrNoSolution
	}

	return Record{
		Technology: target.Technology,
		Repo:       target.Repo,
		Title:      NormalizeText(q.Title),
		Problem:    problem,
		Solution:   solution,
		URL:        q.URL,
		Metadata: Metadata{
			Kind:              KindStackOverflow,
			Number:            q.ID,
			Score:             q.Score,
			HasOfficialAnswer: true,
			CreatedAt:         q.CreatedAt.UTC(),
		},
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
