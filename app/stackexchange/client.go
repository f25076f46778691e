package stackexchange

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

const (
	site          = "stackoverflow"
	bodyFilter    = "withbody"
	maxIDsPerCall = 100
	lowQuota      = 10
)

var ErrThrottled = errors.New("stack exchange throttle violation")

var _ harvest.Source = (*Client)(nil)

type Options struct {
	BaseURL           string
	Key               string
	UserAgent         string
	RequestsPerSecond float64
	MaxRetries        int
	Timeout           time.Duration
}

// Client lists Stack Overflow questions with their accepted answers. It
// honours the API's backoff field across all workers sharing it.
type Client struct {
	http    *resty.Client
	key     string
	limiter *rate.Limiter

	mu           sync.Mutex
	backoffUntil time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(opts Options) *Client {
	c := &Client{
		key:     opts.Key,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		now:     time.Now,
		sleep:   sleepContext,
	}

	c.http = resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests ||
				resp.StatusCode() >= http.StatusInternalServerError ||
				isThrottled(resp)
		})
	if opts.UserAgent != "" {
		c.http.SetHeader("User-Agent", opts.UserAgent)
	}

	c.http.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return c.wait(req.Context())
	})

	return c
}

func (c *Client) Kind() harvest.Kind {
	return harvest.KindStackOverflow
}

// FetchPage returns one page of questions for the target's tag. The cursor
// is the API page number.
func (c *Client) FetchPage(ctx context.Context, target harvest.Target, cursor string) (*harvest.Page, error) {
	page := 1
	if cursor != "" {
		p, err := strconv.Atoi(cursor)
		if err != nil || p < 1 {
			return nil, fmt.Errorf("invalid page cursor '%s'", cursor)
		}
		page = p
	}

	pageSize := target.PerPage
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}

	params := map[string]string{
		"tagged":   target.Repo,
		"sort":     "votes",
		"order":    "desc",
		"page":     strconv.Itoa(page),
		"pagesize": strconv.Itoa(pageSize),
	}
	if !target.Since.IsZero() {
		params["fromdate"] = strconv.FormatInt(target.Since.Unix(), 10)
	}

	var questions wrapper[question]
	if err := c.get(ctx, "/questions", params, &questions); err != nil {
		return nil, fmt.Errorf("failed to list questions tagged %s (page %d): %w", target.Repo, page, err)
	}

	var answerIDs []int
	for _, q := range questions.Items {
		if q.AcceptedAnswerID != 0 {
			answerIDs = append(answerIDs, q.AcceptedAnswerID)
		}
	}

	answers, err := c.fetchAnswers(ctx, answerIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch accepted answers for %s (page %d): %w", target.Repo, page, err)
	}

	items := make([]harvest.RawItem, 0, len(questions.Items))
	for _, q := range questions.Items {
		raw := &harvest.RawQuestion{
			ID:        q.QuestionID,
			Tag:       target.Repo,
			Title:     html.UnescapeString(q.Title),
			Body:      htmlToText(q.Body),
			Score:     q.Score,
			URL:       q.Link,
			CreatedAt: time.Unix(q.CreationDate, 0).UTC(),
		}
		if a, ok := answers[q.AcceptedAnswerID]; ok {
			raw.Answer = &harvest.Answer{ID: a.AnswerID, Body: htmlToText(a.Body), Score: a.Score}
		}
		items = append(items, harvest.RawItem{Kind: harvest.KindStackOverflow, Question: raw})
	}

	next := ""
	if questions.HasMore {
		next = strconv.Itoa(page + 1)
	}

	return &harvest.Page{Items: items, Next: next}, nil
}

func (c *Client) fetchAnswers(ctx context.Context, ids []int) (map[int]answer, error) {
	out := make(map[int]answer, len(ids))

	for start := 0; start < len(ids); start += maxIDsPerCall {
		end := min(start+maxIDsPerCall, len(ids))
		parts := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			parts = append(parts, strconv.Itoa(id))
		}

		var answers wrapper[answer]
		params := map[string]string{"pagesize": strconv.Itoa(maxIDsPerCall)}
		if err := c.get(ctx, "/answers/"+strings.Join(parts, ";"), params, &answers); err != nil {
			return nil, err
		}
		for _, a := range answers.Items {
			out[a.AnswerID] = a
		}
	}

	return out, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	var apiErr wrapper[struct{}]

	req := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetQueryParam("site", site).
		SetQueryParam("filter", bodyFilter).
		SetResult(out).
		SetError(&apiErr)
	if c.key != "" {
		req.SetQueryParam("key", c.key)
	}

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}

	if resp.IsError() {
		if isThrottled(resp) {
			return fmt.Errorf("%w: %s", ErrThrottled, apiErr.ErrorMessage)
		}
		return fmt.Errorf("unexpected status %d for %s: %s %s", resp.StatusCode(), path, apiErr.ErrorName, apiErr.ErrorMessage)
	}

	c.observe(out)

	return nil
}

// observe applies the backoff and quota hints of a successful response.
func (c *Client) observe(out any) {
	var backoff, quota int
	switch w := out.(type) {
	case *wrapper[question]:
		backoff, quota = w.Backoff, w.QuotaRemaining
	case *wrapper[answer]:
		backoff, quota = w.Backoff, w.QuotaRemaining
	default:
		return
	}

	if backoff > 0 {
		until := c.now().Add(time.Duration(backoff) * time.Second)
		c.mu.Lock()
		if until.After(c.backoffUntil) {
			c.backoffUntil = until
		}
		c.mu.Unlock()
		slog.Warn("Stack Exchange requested backoff", "seconds", backoff)
	}
	if quota > 0 && quota < lowQuota {
		slog.Warn("Stack Exchange quota low", "remaining", quota)
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	wait := c.backoffUntil.Sub(c.now())
	c.mu.Unlock()

	if wait > 0 {
		return c.sleep(ctx, wait)
	}
	return nil
}

func isThrottled(resp *resty.Response) bool {
	if resp == nil || resp.StatusCode() != http.StatusBadRequest {
		return false
	}
	return strings.Contains(resp.String(), "throttle_violation")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
