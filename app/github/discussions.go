package github

import (
	"context"

	"github.com/shurcooL/githubv4"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

const discussionCommentsPerItem = 10

var _ harvest.Source = (*DiscussionSource)(nil)

// DiscussionSource lists repository discussions through the GraphQL API,
// most recently updated first.
type DiscussionSource struct {
	client *Client
}

func NewDiscussionSource(client *Client) *DiscussionSource {
	return &DiscussionSource{client: client}
}

func (s *DiscussionSource) Kind() harvest.Kind {
	return harvest.KindDiscussions
}

type actor struct {
	Login string
}

type discussionComment struct {
	Body      string
	IsAnswer  bool
	CreatedAt githubv4.DateTime
	Author    actor
}

type discussionNode struct {
	Number    int
	Title     string
	Body      string
	URL       string
	CreatedAt githubv4.DateTime
	Author    actor
	Category  struct {
		Name string
	}
	Answer struct {
		Body      string
		CreatedAt githubv4.DateTime
		Author    actor
	}
	Comments struct {
		Nodes []discussionComment
	} `graphql:"comments(first: $commentCount)"`
}

type discussionsQuery struct {
	Repository struct {
		Discussions struct {
			PageInfo struct {
				HasNextPage bool
				EndCursor   githubv4.String
			}
			Nodes []discussionNode
		} `graphql:"discussions(first: $first, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC})"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

func (s *DiscussionSource) FetchPage(ctx context.Context, target harvest.Target, cursor string) (*harvest.Page, error) {
	owner, name, err := target.OwnerName()
	if err != nil {
		return nil, err
	}

	first := target.PerPage
	if first <= 0 || first > 100 {
		first = 50
	}

	variables := map[string]any{
		"owner":        githubv4.String(owner),
		"name":         githubv4.String(name),
		"first":        githubv4.Int(first),
		"commentCount": githubv4.Int(discussionCommentsPerItem),
		"cursor":       (*githubv4.String)(nil),
	}
	if cursor != "" {
		variables["cursor"] = githubv4.NewString(githubv4.String(cursor))
	}

	var q discussionsQuery
	if err := s.client.graphql.Query(ctx, &q, variables); err != nil {
		return nil, wrapError(err, "failed to query discussions of %s", target.Repo)
	}

	conn := q.Repository.Discussions
	items := make([]harvest.RawItem, 0, len(conn.Nodes))
	for _, node := range conn.Nodes {
		items = append(items, harvest.RawItem{Kind: harvest.KindDiscussions, Discussion: toRawDiscussion(node)})
	}

	next := ""
	if conn.PageInfo.HasNextPage && conn.PageInfo.EndCursor != "" {
		next = string(conn.PageInfo.EndCursor)
	}

	return &harvest.Page{Items: items, Next: next}, nil
}

func toRawDiscussion(node discussionNode) *harvest.RawDiscussion {
	raw := &harvest.RawDiscussion{
		Number:    node.Number,
		Title:     node.Title,
		Body:      node.Body,
		Author:    node.Author.Login,
		Category:  node.Category.Name,
		URL:       node.URL,
		CreatedAt: node.CreatedAt.Time,
	}

	if node.Answer.Body != "" {
		raw.Answer = &harvest.Comment{
			Author:    node.Answer.Author.Login,
			Body:      node.Answer.Body,
			CreatedAt: node.Answer.CreatedAt.Time,
			IsAnswer:  true,
		}
	}

	for _, c := range node.Comments.Nodes {
		raw.Comments = append(raw.Comments, harvest.Comment{
			Author:    c.Author.Login,
			Body:      c.Body,
			CreatedAt: c.CreatedAt.Time,
			IsAnswer:  c.IsAnswer,
		})
	}

	return raw
}
