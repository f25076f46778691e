package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultLowWater       = 10
	defaultResetBuffer    = 5 * time.Second
	defaultRateLimitDelay = 60 * time.Second
	maxBackoffDelay       = 30 * time.Second
)

// Rate limit resources as reported in the X-RateLimit-Resource header.
const (
	ResourceCore    = "core"
	ResourceGraphQL = "graphql"
)

type quota struct {
	remaining int
	reset     time.Time
}

// Budget tracks the remaining request quota reported by the API, per rate
// limit resource. It is shared by every worker using the same transport.
type Budget struct {
	mu       sync.Mutex
	quotas   map[string]quota
	lowWater int
}

func NewBudget(lowWater int) *Budget {
	return &Budget{quotas: make(map[string]quota), lowWater: lowWater}
}

// Update records the X-RateLimit-Remaining and X-RateLimit-Reset headers
// against resource.
func (b *Budget) Update(resource string, h http.Header) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.quotas[resource]
	q.remaining = remaining
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		q.reset = time.Unix(reset, 0)
	}
	b.quotas[resource] = q
}

// Delay returns how long to wait before the next request against resource.
// It is zero unless that quota is below the low-water mark.
func (b *Budget) Delay(resource string, now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, known := b.quotas[resource]
	if !known || q.remaining >= b.lowWater {
		return 0
	}

	resume := q.reset.Add(defaultResetBuffer)
	if !now.Before(resume) {
		return 0
	}
	return resume.Sub(now)
}

func (b *Budget) Remaining(resource string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, known := b.quotas[resource]
	return q.remaining, known
}

// requestResource guesses the quota a request draws from before any
// response has named it.
func requestResource(req *http.Request) string {
	if strings.HasSuffix(req.URL.Path, "/graphql") {
		return ResourceGraphQL
	}
	return ResourceCore
}

func responseResource(req *http.Request, resp *http.Response) string {
	if resource := resp.Header.Get("X-RateLimit-Resource"); resource != "" {
		return resource
	}
	return requestResource(req)
}

// Transport is an http.RoundTripper that paces requests, waits out rate
// limits and retries transient failures.
type Transport struct {
	Base       http.RoundTripper
	Limiter    *rate.Limiter
	Budget     *Budget
	MaxRetries int
	UserAgent  string

	// RateLimitDelay is used when a rate-limit response carries no timing hints.
	RateLimitDelay time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewTransport(base http.RoundTripper, requestsPerSecond float64, maxRetries int, userAgent string) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		Base:           base,
		Limiter:        rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		Budget:         NewBudget(defaultLowWater),
		MaxRetries:     maxRetries,
		UserAgent:      userAgent,
		RateLimitDelay: defaultRateLimitDelay,
		sleep:          sleepContext,
		now:            time.Now,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		if t.Limiter != nil {
			if err := t.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		if t.Budget != nil {
			resource := requestResource(req)
			if wait := t.Budget.Delay(resource, t.now()); wait > 0 {
				slog.Warn("Rate limit low, waiting for reset", "host", req.URL.Host, "resource", resource, "delay", wait.Round(time.Second))
				if err := t.sleep(ctx, wait); err != nil {
					return nil, err
				}
			}
		}

		r, err := t.prepare(req, attempt)
		if err != nil {
			return nil, err
		}

		resp, err := t.Base.RoundTrip(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= t.MaxRetries {
				return nil, fmt.Errorf("%w: %s %s: %v", ErrRetriesExhausted, req.Method, req.URL.Path, err)
			}
			delay := backoffDelay(attempt + 1)
			slog.Warn("Request failed, retrying", "path", req.URL.Path, "attempt", attempt+1, "delay", delay, "error", err)
			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if t.Budget != nil {
			t.Budget.Update(responseResource(req, resp), resp.Header)
		}

		if wait, limited := t.rateLimitDelay(resp); limited {
			if attempt >= t.MaxRetries {
				return resp, nil
			}
			discard(resp)
			slog.Warn("Rate limited, waiting", "path", req.URL.Path, "status", resp.StatusCode, "attempt", attempt+1, "delay", wait.Round(time.Second))
			if err := t.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			if attempt >= t.MaxRetries {
				return resp, nil
			}
			discard(resp)
			delay := backoffDelay(attempt + 1)
			slog.Warn("Server error, retrying", "path", req.URL.Path, "status", resp.StatusCode, "attempt", attempt+1, "delay", delay)
			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		return resp, nil
	}
}

// prepare clones the request for one attempt, rewinding the body on retries.
func (t *Transport) prepare(req *http.Request, attempt int) (*http.Request, error) {
	r := req.Clone(req.Context())
	if t.UserAgent != "" && r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", t.UserAgent)
	}
	if attempt > 0 && req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("cannot retry %s %s: request body is not replayable", req.Method, req.URL.Path)
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		r.Body = body
	}
	return r, nil
}

// rateLimitDelay reports whether resp is a rate-limit response and how long
// to wait before retrying it.
func (t *Transport) rateLimitDelay(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second, true
		}
		if at, err := http.ParseTime(retryAfter); err == nil {
			return max(at.Sub(t.now()), 0), true
		}
	}

	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			return max(time.Unix(reset, 0).Sub(t.now()), 0) + time.Second, true
		}
		return t.RateLimitDelay, true
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return t.RateLimitDelay, true
	}

	return 0, false
}

func backoffDelay(retry int) time.Duration {
	delay := time.Duration(1<<uint(retry-1)) * time.Second
	if delay > maxBackoffDelay {
		delay = maxBackoffDelay
	}
	return delay
}

func discard(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
