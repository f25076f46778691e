package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	client, _ := newTestClientWithSleeps(t, mux)
	return client
}

func newTestClientWithSleeps(t *testing.T, mux *http.ServeMux) (*Client, *[]time.Duration) {
	t.Helper()

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	transport, sleeps := newTestTransport(nil, 0)
	client, err := newClient(Options{Token: "test-token", APIURL: server.URL, UserAgent: "gh-harvest-test"}, transport)
	require.NoError(t, err)
	return client, sleeps
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("X-RateLimit-Remaining", "4990")
		io.WriteString(w, `{"login":"octocat"}`)
	})

	client := newTestClient(t, mux)
	require.NoError(t, client.Verify(context.Background()))

	remaining, known := client.transport.Budget.Remaining(ResourceCore)
	assert.True(t, known)
	assert.Equal(t, 4990, remaining)
}

func TestVerifyErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "bad credentials",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, `{"message":"Bad credentials"}`)
			},
			want: ErrUnauthorized,
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Hour).Unix()))
				w.WriteHeader(http.StatusForbidden)
				io.WriteString(w, `{"message":"API rate limit exceeded"}`)
			},
			want: ErrRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /user", tt.handler)

			err := newTestClient(t, mux).Verify(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestIssueSourceFetchPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/issues", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "closed", q.Get("state"))
		assert.Equal(t, "2024-01-01T00:00:00Z", q.Get("since"))
		assert.Equal(t, "30", q.Get("per_page"))

		if q.Get("page") == "2" {
			io.WriteString(w, `[]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/app/issues?page=2>; rel="next"`, r.Host))
		io.WriteString(w, `[
			{"number": 1, "title": "Crash on start", "body": "panic: nil map", "comments": 2,
			 "user": {"login": "alice"}, "labels": [{"name": "bug"}],
			 "html_url": "https://github.com/acme/app/issues/1",
			 "created_at": "2024-02-01T10:00:00Z", "closed_at": "2024-02-03T12:00:00Z"},
			{"number": 2, "title": "Add flag", "pull_request": {"url": "https://api.github.com/repos/acme/app/pulls/2"}},
			{"number": 3, "title": "Docs typo", "comments": 0, "user": {"login": "bob"}}
		]`)
	})
	mux.HandleFunc("GET /repos/acme/app/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"body": "Same here", "user": {"login": "carol"}, "created_at": "2024-02-01T11:00:00Z"},
			{"body": "Fixed by initializing the map", "user": {"login": "alice"}, "created_at": "2024-02-02T09:00:00Z"}
		]`)
	})

	source := NewIssueSource(newTestClient(t, mux))
	assert.Equal(t, harvest.KindIssues, source.Kind())

	target := harvest.Target{
		Kind:    harvest.KindIssues,
		Repo:    "acme/app",
		PerPage: 30,
		Since:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	page, err := source.FetchPage(context.Background(), target, "")
	require.NoError(t, err)

	assert.Equal(t, "2", page.Next)
	require.Len(t, page.Items, 2, "pull requests should be skipped")

	issue := page.Items[0].Issue
	require.NotNil(t, issue)
	assert.Equal(t, 1, issue.Number)
	assert.Equal(t, "alice", issue.Author)
	assert.Equal(t, []string{"bug"}, issue.Labels)
	require.NotNil(t, issue.ClosedAt)
	assert.Equal(t, time.Date(2024, 2, 3, 12, 0, 0, 0, time.UTC), issue.ClosedAt.UTC())
	require.Len(t, issue.Comments, 2)
	assert.Equal(t, "Fixed by initializing the map", issue.Comments[1].Body)

	assert.Equal(t, 3, page.Items[1].Issue.Number)
	assert.Empty(t, page.Items[1].Issue.Comments)
	assert.Nil(t, page.Items[1].Issue.ClosedAt)

	last, err := source.FetchPage(context.Background(), target, page.Next)
	require.NoError(t, err)
	assert.Empty(t, last.Items)
	assert.Empty(t, last.Next)
}

func TestIssueSourceSkipsIssueWhenCommentsFail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/issues", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"number": 1, "title": "Deleted thread", "body": "panic", "comments": 3},
			{"number": 4, "title": "Crash on save", "body": "panic: nil pointer", "comments": 1}
		]`)
	})
	mux.HandleFunc("GET /repos/acme/app/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"Not Found"}`)
	})
	mux.HandleFunc("GET /repos/acme/app/issues/4/comments", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"body": "Fixed by checking the handle first", "user": {"login": "alice"}}]`)
	})

	source := NewIssueSource(newTestClient(t, mux))
	page, err := source.FetchPage(context.Background(), harvest.Target{Kind: harvest.KindIssues, Repo: "acme/app"}, "")
	require.NoError(t, err)

	require.Len(t, page.Items, 1)
	assert.Equal(t, 4, page.Items[0].Issue.Number)
	require.Len(t, page.Items[0].Issue.Comments, 1)
}

func TestIssueSourceFailsPageWhenCommentsRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/issues", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"number": 1, "title": "Crash", "body": "panic", "comments": 3}]`)
	})
	mux.HandleFunc("GET /repos/acme/app/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Hour).Unix()))
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"message":"API rate limit exceeded"}`)
	})

	source := NewIssueSource(newTestClient(t, mux))
	_, err := source.FetchPage(context.Background(), harvest.Target{Kind: harvest.KindIssues, Repo: "acme/app"}, "")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestIssueSourceWaitsOutExhaustedQuota(t *testing.T) {
	var calls atomic.Int32
	reset := time.Now().Add(time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/issues", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// The first page uses up the quota.
			w.Header().Set("X-RateLimit-Resource", "core")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprint(reset.Unix()))
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/app/issues?page=2>; rel="next"`, r.Host))
		} else {
			w.Header().Set("X-RateLimit-Remaining", "5000")
		}
		io.WriteString(w, `[]`)
	})

	client, sleeps := newTestClientWithSleeps(t, mux)
	source := NewIssueSource(client)
	target := harvest.Target{Kind: harvest.KindIssues, Repo: "acme/app"}

	page, err := source.FetchPage(context.Background(), target, "")
	require.NoError(t, err)
	require.Equal(t, "2", page.Next)

	// The second request must reach the server after the transport waited,
	// rather than being refused locally by the REST client.
	_, err = source.FetchPage(context.Background(), target, page.Next)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	require.Len(t, *sleeps, 1)
	assert.Equal(t, time.Unix(reset.Unix(), 0).Add(defaultResetBuffer).Sub(testNow), (*sleeps)[0])
}

func TestIssueSourceRejectsBadInput(t *testing.T) {
	source := NewIssueSource(newTestClient(t, http.NewServeMux()))

	_, err := source.FetchPage(context.Background(), harvest.Target{Repo: "no-owner"}, "")
	assert.Error(t, err)

	_, err = source.FetchPage(context.Background(), harvest.Target{Repo: "acme/app"}, "zero")
	assert.Error(t, err)
}

func TestReviewCommentSourceSkipsPullRequestWhenCommentsFail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/pulls", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"number": 5, "merged_at": "2024-03-01T00:00:00Z"},
			{"number": 8, "merged_at": "2024-03-02T00:00:00Z"}
		]`)
	})
	mux.HandleFunc("GET /repos/acme/app/pulls/5/comments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"Not Found"}`)
	})
	mux.HandleFunc("GET /repos/acme/app/pulls/8/comments", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id": 91, "path": "lib/io.go", "diff_hunk": "@@ -1 +1 @@\n-a\n+b", "body": "Close the file"}]`)
	})

	source := NewReviewCommentSource(newTestClient(t, mux))
	page, err := source.FetchPage(context.Background(), harvest.Target{Kind: harvest.KindReviewComments, Repo: "acme/app"}, "")
	require.NoError(t, err)

	require.Len(t, page.Items, 1)
	assert.Equal(t, 8, page.Items[0].ReviewComment.PRNumber)
}

func TestReviewCommentSourceFetchPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "closed", r.URL.Query().Get("state"))
		io.WriteString(w, `[
			{"number": 5, "merged_at": "2024-03-01T00:00:00Z"},
			{"number": 6, "merged_at": null},
			{"number": 7, "merged_at": "2020-03-01T00:00:00Z"}
		]`)
	})
	mux.HandleFunc("GET /repos/acme/app/pulls/5/comments", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"id": 77, "path": "app/main.py", "diff_hunk": "@@ -1,2 +1,2 @@\n-x = 1\n+x = 2",
			 "body": "Use a constant here", "user": {"login": "dave"}, "original_line": 12, "line": 14,
			 "side": "RIGHT", "html_url": "https://github.com/acme/app/pull/5#discussion_r77",
			 "created_at": "2024-02-28T08:00:00Z"}
		]`)
	})
	mux.HandleFunc("GET /repos/acme/app/pulls/6/comments", func(w http.ResponseWriter, r *http.Request) {
		t.Error("Unmerged pull requests should not be fetched")
	})
	mux.HandleFunc("GET /repos/acme/app/pulls/7/comments", func(w http.ResponseWriter, r *http.Request) {
		t.Error("Pull requests merged before the cutoff should not be fetched")
	})

	source := NewReviewCommentSource(newTestClient(t, mux))
	target := harvest.Target{
		Kind:  harvest.KindReviewComments,
		Repo:  "acme/app",
		Since: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	page, err := source.FetchPage(context.Background(), target, "")
	require.NoError(t, err)
	assert.Empty(t, page.Next)
	require.Len(t, page.Items, 1)

	comment := page.Items[0].ReviewComment
	require.NotNil(t, comment)
	assert.Equal(t, harvest.KindReviewComments, page.Items[0].Kind)
	assert.EqualValues(t, 77, comment.ID)
	assert.Equal(t, 5, comment.PRNumber)
	assert.Equal(t, "app/main.py", comment.Path)
	assert.Equal(t, 12, comment.Line, "original line wins over the current line")
	assert.Equal(t, "dave", comment.Author)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func TestDiscussionSourceFetchPage(t *testing.T) {
	var requests []graphQLRequest

	mux := http.NewServeMux()
	mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)

		if req.Variables["cursor"] != nil {
			io.WriteString(w, `{"data":{"repository":{"discussions":{
				"pageInfo":{"hasNextPage":false,"endCursor":"Y3Vyc29yOjQ="},
				"nodes":[]}}}}`)
			return
		}
		io.WriteString(w, `{"data":{"repository":{"discussions":{
			"pageInfo":{"hasNextPage":true,"endCursor":"Y3Vyc29yOjI="},
			"nodes":[
				{"number":10,"title":"How to retry?","body":"It fails with a timeout","url":"https://github.com/acme/app/discussions/10",
				 "createdAt":"2024-04-01T00:00:00Z","author":{"login":"erin"},"category":{"name":"Q&A"},
				 "answer":{"body":"Raise the deadline","createdAt":"2024-04-02T00:00:00Z","author":{"login":"frank"}},
				 "comments":{"nodes":[
					{"body":"Raise the deadline","isAnswer":true,"createdAt":"2024-04-02T00:00:00Z","author":{"login":"frank"}}
				 ]}},
				{"number":11,"title":"Roadmap","body":"What is next?","url":"https://github.com/acme/app/discussions/11",
				 "createdAt":"2024-04-03T00:00:00Z","author":{"login":"gina"},"category":{"name":"Ideas"},
				 "comments":{"nodes":[]}}
			]}}}}`)
	})

	source := NewDiscussionSource(newTestClient(t, mux))
	target := harvest.Target{Kind: harvest.KindDiscussions, Repo: "acme/app"}

	page, err := source.FetchPage(context.Background(), target, "")
	require.NoError(t, err)
	assert.Equal(t, "Y3Vyc29yOjI=", page.Next)
	require.Len(t, page.Items, 2)

	first := page.Items[0].Discussion
	require.NotNil(t, first)
	assert.Equal(t, 10, first.Number)
	assert.Equal(t, "Q&A", first.Category)
	require.NotNil(t, first.Answer)
	assert.True(t, first.Answer.IsAnswer)
	assert.Equal(t, "frank", first.Answer.Author)
	require.Len(t, first.Comments, 1)
	assert.True(t, first.Comments[0].IsAnswer)

	second := page.Items[1].Discussion
	assert.Nil(t, second.Answer)
	assert.Empty(t, second.Comments)

	last, err := source.FetchPage(context.Background(), target, page.Next)
	require.NoError(t, err)
	assert.Empty(t, last.Items)
	assert.Empty(t, last.Next)

	require.Len(t, requests, 2)
	assert.Contains(t, requests[0].Query, "discussions(first: $first")
	assert.Equal(t, "acme", requests[0].Variables["owner"])
	assert.EqualValues(t, 50, requests[0].Variables["first"])
	assert.Equal(t, "Y3Vyc29yOjI=", requests[1].Variables["cursor"])
}
