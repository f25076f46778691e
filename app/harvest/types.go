package harvest

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind identifies a source of problem/solution pairs.
type Kind string

const (
	KindIssues         Kind = "issues"
	KindDiscussions    Kind = "discussions"
	KindReviewComments Kind = "review_comments"
	KindStackOverflow  Kind = "stackoverflow"
)

var AllKinds = []Kind{KindIssues, KindDiscussions, KindReviewComments, KindStackOverflow}

func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown source kind '%s'", s)
}

// SourceDir is the directory under the data dir holding this kind's output.
func (k Kind) SourceDir() string {
	switch k {
	case KindIssues:
		return "github_issues"
	case KindDiscussions:
		return "github_discussions"
	case KindReviewComments:
		return "github_reviews"
	default:
		return string(k)
	}
}

func (k Kind) IsGitHub() bool {
	return k != KindStackOverflow
}

// Target is one configured unit of work: a repository (or Stack Overflow tag)
// harvested for a single kind, carrying the settings of that kind.
type Target struct {
	Kind       Kind
	Repo       string
	Technology string

	Since    time.Time
	PerPage  int
	MaxPages int // 0 means unlimited
	MaxItems int // 0 means unlimited
	Filter   FilterConfig
}

func (t Target) Name() string {
	return string(t.Kind) + ":" + t.Repo
}

// Tag is the repository identifier safe for use in file names.
func (t Target) Tag() string {
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_").Replace(t.Repo)
}

func (t Target) OwnerName() (string, string, error) {
	owner, name, ok := strings.Cut(t.Repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository '%s', expected owner/name", t.Repo)
	}
	return owner, name, nil
}

// Comment is a reply attached to an issue or discussion.
type Comment struct {
	Author    string
	Body      string
	CreatedAt time.Time
	IsAnswer  bool
}

type RawIssue struct {
	Number    int
	Title     string
	Body      string
	Author    string
	Labels    []string
	URL       string
	CreatedAt time.Time
	ClosedAt  *time.Time
	Comments  []Comment
}

type RawDiscussion struct {
	Number    int
	Title     string
	Body      string
	Author    string
	Category  string
	URL       string
	CreatedAt time.Time
	Answer    *Comment
	Comments  []Comment
}

type RawReviewComment struct {
	ID        int64
	PRNumber  int
	Path      string
	DiffHunk  string
	Body      string
	Author    string
	Line      int
	Side      string
	URL       string
	CreatedAt time.Time
}

type Answer struct {
	ID    int
	Body  string
	Score int
}

type RawQuestion struct {
	ID        int
	Tag       string
	Title     string
	Body      string
	Score     int
	URL       string
	CreatedAt time.Time
	Answer    *Answer
}

// RawItem is a tagged union of the payloads a source can return. Exactly
// the field matching Kind is set; sources validate this before returning it.
type RawItem struct {
	Kind          Kind
	Issue         *RawIssue
	Discussion    *RawDiscussion
	ReviewComment *RawReviewComment
	Question      *RawQuestion
}

// Page is one response of a paginated listing. An empty Next means there
// are no further pages.
type Page struct {
	Items []RawItem
	Next  string
}

func (p *Page) Last() bool {
	return p.Next == ""
}

// Source fetches pages of raw items for targets of one kind.
type Source interface {
	Kind() Kind
	FetchPage(ctx context.Context, target Target, cursor string) (*Page, error)
}

// Metadata carries source details that are not part of the problem/solution text.
type Metadata struct {
	Kind              Kind       `json:"kind"`
	Number            int        `json:"number,omitempty"`
	CommentID         int64      `json:"comment_id,omitempty"`
	FilePath          string     `json:"file_path,omitempty"`
	Line              int        `json:"line,omitempty"`
	Side              string     `json:"side,omitempty"`
	Author            string     `json:"author,omitempty"`
	Labels            []string   `json:"labels,omitempty"`
	Category          string     `json:"category,omitempty"`
	Score             int        `json:"score,omitempty"`
	CommentsCount     int        `json:"comments_count,omitempty"`
	HasOfficialAnswer bool       `json:"has_official_answer,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

// Record is a normalized problem/solution pair. Review comments use
// CodeContext/Feedback instead of Problem/Solution.
type Record struct {
	Technology  string   `json:"technology,omitempty"`
	Repo        string   `json:"repo"`
	Title       string   `json:"title,omitempty"`
	Problem     string   `json:"problem,omitempty"`
	Solution    string   `json:"solution,omitempty"`
	CodeContext string   `json:"code_context,omitempty"`
	Feedback    string   `json:"feedback,omitempty"`
	URL         string   `json:"url"`
	Metadata    Metadata `json:"metadata"`
}

func (r Record) ProblemText() string {
	if r.Metadata.Kind == KindReviewComments {
		return r.CodeContext
	}
	return r.Problem
}

func (r Record) SolutionText() string {
	if r.Metadata.Kind == KindReviewComments {
		return r.Feedback
	}
	return r.Solution
}

type TargetStatus string

const (
	StatusCompleted TargetStatus = "completed"
	StatusFailed    TargetStatus = "failed"
	StatusCancelled TargetStatus = "cancelled"
)

// TargetResult summarizes the harvest of a single target.
type TargetResult struct {
	Target     Target
	Status     TargetStatus
	Pages      int
	Fetched    int
	Malformed  int
	Unsolved   int
	Accepted   int
	Rejected   map[string]int
	Records    []Record
	OutputPath string
	Err        error
	Duration   time.Duration
}

func (r *TargetResult) RejectedTotal() int {
	total := 0
	for _, n := range r.Rejected {
		total += n
	}
	return total
}

// Summary is the outcome of a harvest run.
type Summary struct {
	RunID         int64
	Results       []TargetResult
	CombinedPaths map[Kind]string
	Duplicates    map[Kind]int
	Interrupted   bool
}

func (s *Summary) Accepted() int {
	total := 0
	for _, r := range s.Results {
		total += r.Accepted
	}
	return total
}

func (s *Summary) Failed() int {
	failed := 0
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			failed++
		}
	}
	return failed
}

// AllFailed reports whether every configured target failed.
func (s *Summary) AllFailed() bool {
	return len(s.Results) > 0 && s.Failed() == len(s.Results)
}
