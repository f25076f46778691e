package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v69/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

const defaultGraphQLURL = "https://api.github.com/graphql"

type Options struct {
	Token string
	// APIURL overrides the REST base URL (e.g. GitHub Enterprise or a test server).
	APIURL string
	// GraphQLURL defaults to APIURL + "graphql" when APIURL is set.
	GraphQLURL        string
	RequestsPerSecond float64
	MaxRetries        int
	UserAgent         string
	Timeout           time.Duration
}

// Client gives the REST and GraphQL sources a shared authenticated HTTP
// client, so all workers draw from one rate limiter and quota budget.
type Client struct {
	rest      *gh.Client
	graphql   *githubv4.Client
	transport *Transport
}

func NewClient(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	transport := NewTransport(http.DefaultTransport, opts.RequestsPerSecond, opts.MaxRetries, opts.UserAgent)
	return newClient(opts, transport)
}

func newClient(opts Options, transport *Transport) (*Client, error) {
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
			Base:   transport,
		},
		Timeout: opts.Timeout,
	}

	rest := gh.NewClient(httpClient)
	if opts.UserAgent != "" {
		rest.UserAgent = opts.UserAgent
	}

	graphQLURL := opts.GraphQLURL
	if opts.APIURL != "" {
		base := opts.APIURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		baseURL, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("failed to parse API URL: %w", err)
		}
		rest.BaseURL = baseURL
		if graphQLURL == "" {
			graphQLURL = base + "graphql"
		}
	}
	if graphQLURL == "" {
		graphQLURL = defaultGraphQLURL
	}

	return &Client{
		rest:      rest,
		graphql:   githubv4.NewEnterpriseClient(graphQLURL, httpClient),
		transport: transport,
	}, nil
}

// Verify checks the token before any harvesting starts.
func (c *Client) Verify(ctx context.Context) error {
	user, _, err := c.rest.Users.Get(restContext(ctx), "")
	if err != nil {
		return wrapError(err, "failed to verify token")
	}

	attrs := []any{"login", user.GetLogin()}
	if remaining, ok := c.transport.Budget.Remaining(ResourceCore); ok {
		attrs = append(attrs, "rate_remaining", remaining)
	}
	slog.Info("GitHub token verified", attrs...)

	return nil
}

// restContext turns off go-github's own quota check. It refuses requests
// locally once a response reported zero remaining, which would bypass the
// transport's wait-for-reset handling and fail the target instead.
func restContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, gh.BypassRateLimitCheck, true)
}

func parsePageCursor(cursor string) (int, error) {
	if cursor == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(cursor)
	if err != nil || page < 1 {
		return 0, fmt.Errorf("invalid page cursor '%s'", cursor)
	}
	return page, nil
}

func nextPageCursor(resp *gh.Response) string {
	if resp == nil || resp.NextPage == 0 {
		return ""
	}
	return strconv.Itoa(resp.NextPage)
}

func perPage(t int) int {
	if t <= 0 || t > 100 {
		return 100
	}
	return t
}
