package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v69/github"
)

var (
	// ErrUnauthorized means the token is missing, expired or revoked.
	ErrUnauthorized = errors.New("github token rejected")
	// ErrRateLimited means the rate limit was still exceeded after all retries.
	ErrRateLimited = errors.New("github rate limit exceeded")
	// ErrRetriesExhausted means the request kept failing at the network level.
	ErrRetriesExhausted = errors.New("request retries exhausted")
)

// wrapError maps go-github errors onto the package's sentinel errors.
func wrapError(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)

	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", msg, ErrUnauthorized)
	}

	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%s: %w: %v", msg, ErrRateLimited, err)
	}

	return fmt.Errorf("%s: %w", msg, err)
}

// skippable reports whether err only affects the item being fetched, so the
// caller can log it and move on instead of failing the whole page.
func skippable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrRetriesExhausted)
}
