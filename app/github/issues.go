package github

import (
	"context"
	"log/slog"

	gh "github.com/google/go-github/v69/github"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

var _ harvest.Source = (*IssueSource)(nil)

// IssueSource lists closed issues, newest activity first, with their comments.
type IssueSource struct {
	client *Client
}

func NewIssueSource(client *Client) *IssueSource {
	return &IssueSource{client: client}
}

func (s *IssueSource) Kind() harvest.Kind {
	return harvest.KindIssues
}

func (s *IssueSource) FetchPage(ctx context.Context, target harvest.Target, cursor string) (*harvest.Page, error) {
	owner, name, err := target.OwnerName()
	if err != nil {
		return nil, err
	}
	page, err := parsePageCursor(cursor)
	if err != nil {
		return nil, err
	}

	opts := &gh.IssueListByRepoOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		Since:       target.Since,
		ListOptions: gh.ListOptions{Page: page, PerPage: perPage(target.PerPage)},
	}

	ctx = restContext(ctx)
	issues, resp, err := s.client.rest.Issues.ListByRepo(ctx, owner, name, opts)
	if err != nil {
		return nil, wrapError(err, "failed to list issues of %s (page %d)", target.Repo, page)
	}

	items := make([]harvest.RawItem, 0, len(issues))
	for _, issue := range issues {
		// The issues endpoint also returns pull requests.
		if issue.IsPullRequest() || issue.Number == nil {
			continue
		}

		var comments []harvest.Comment
		if issue.GetComments() > 0 {
			comments, err = s.listComments(ctx, owner, name, issue.GetNumber())
			if err != nil {
				if !skippable(ctx, err) {
					return nil, err
				}
				slog.Warn("Failed to list issue comments, skipping issue", "repo", target.Repo, "number", issue.GetNumber(), "error", err)
				continue
			}
		}

		items = append(items, harvest.RawItem{Kind: harvest.KindIssues, Issue: toRawIssue(issue, comments)})
	}

	return &harvest.Page{Items: items, Next: nextPageCursor(resp)}, nil
}

func (s *IssueSource) listComments(ctx context.Context, owner, name string, number int) ([]harvest.Comment, error) {
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}

	var out []harvest.Comment
	for {
		comments, resp, err := s.client.rest.Issues.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, wrapError(err, "failed to list comments of %s/%s#%d", owner, name, number)
		}
		for _, c := range comments {
			out = append(out, harvest.Comment{
				Author:    c.GetUser().GetLogin(),
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func toRawIssue(issue *gh.Issue, comments []harvest.Comment) *harvest.RawIssue {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		if name := l.GetName(); name != "" {
			labels = append(labels, name)
		}
	}

	raw := &harvest.RawIssue{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		Author:    issue.GetUser().GetLogin(),
		Labels:    labels,
		URL:       issue.GetHTMLURL(),
		CreatedAt: issue.GetCreatedAt().Time,
		Comments:  comments,
	}
	if issue.ClosedAt != nil {
		closed := issue.GetClosedAt().Time
		raw.ClosedAt = &closed
	}
	return raw
}
