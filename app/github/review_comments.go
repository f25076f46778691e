package github

import (
	"context"
	"log/slog"

	gh "github.com/google/go-github/v69/github"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

var _ harvest.Source = (*ReviewCommentSource)(nil)

// ReviewCommentSource pages through closed pull requests and returns the
// inline review comments of the merged ones.
type ReviewCommentSource struct {
	client *Client
}

func NewReviewCommentSource(client *Client) *ReviewCommentSource {
	return &ReviewCommentSource{client: client}
}

func (s *ReviewCommentSource) Kind() harvest.Kind {
	return harvest.KindReviewComments
}

func (s *ReviewCommentSource) FetchPage(ctx context.Context, target harvest.Target, cursor string) (*harvest.Page, error) {
	owner, name, err := target.OwnerName()
	if err != nil {
		return nil, err
	}
	page, err := parsePageCursor(cursor)
	if err != nil {
		return nil, err
	}

	opts := &gh.PullRequestListOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{Page: page, PerPage: perPage(target.PerPage)},
	}

	ctx = restContext(ctx)
	prs, resp, err := s.client.rest.PullRequests.List(ctx, owner, name, opts)
	if err != nil {
		return nil, wrapError(err, "failed to list pull requests of %s (page %d)", target.Repo, page)
	}

	var items []harvest.RawItem
	for _, pr := range prs {
		if pr.MergedAt == nil || pr.Number == nil {
			continue
		}
		if !target.Since.IsZero() && pr.GetMergedAt().Before(target.Since) {
			continue
		}

		comments, err := s.listComments(ctx, owner, name, pr.GetNumber())
		if err != nil {
			if !skippable(ctx, err) {
				return nil, err
			}
			slog.Warn("Failed to list review comments, skipping pull request", "repo", target.Repo, "number", pr.GetNumber(), "error", err)
			continue
		}
		items = append(items, comments...)
	}

	return &harvest.Page{Items: items, Next: nextPageCursor(resp)}, nil
}

func (s *ReviewCommentSource) listComments(ctx context.Context, owner, name string, number int) ([]harvest.RawItem, error) {
	opts := &gh.PullRequestListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}

	var out []harvest.RawItem
	for {
		comments, resp, err := s.client.rest.PullRequests.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, wrapError(err, "failed to list review comments of %s/%s#%d", owner, name, number)
		}
		for _, c := range comments {
			out = append(out, harvest.RawItem{Kind: harvest.KindReviewComments, ReviewComment: toRawReviewComment(number, c)})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func toRawReviewComment(prNumber int, c *gh.PullRequestComment) *harvest.RawReviewComment {
	line := c.GetOriginalLine()
	if line == 0 {
		line = c.GetLine()
	}

	return &harvest.RawReviewComment{
		ID:        c.GetID(),
		PRNumber:  prNumber,
		Path:      c.GetPath(),
		DiffHunk:  c.GetDiffHunk(),
		Body:      c.GetBody(),
		Author:    c.GetUser().GetLogin(),
		Line:      line,
		Side:      c.GetSide(),
		URL:       c.GetHTMLURL(),
		CreatedAt: c.GetCreatedAt().Time,
	}
}
