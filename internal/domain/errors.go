package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrTimeout      = errors.New("request timeout")
	ErrUnavailable  = errors.New("service temporarily unavailable")
	ErrInvalidInput = errors.New("invalid input")
	ErrContextDone  = errors.New("context cancelled")
)

// UpstreamError represents a non-2xx response from the Opinion API. It carries
// the HTTP status so retry policy and response mapping can branch on the cause
// without inspecting error strings.
type UpstreamError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // from the Retry-After header on 429s; zero when absent
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("upstream HTTP %d", e.Status)
}

// Unwrap maps well-known statuses onto the sentinel errors so callers can use
// errors.Is across the whole error chain.
func (e *UpstreamError) Unwrap() error {
	switch e.Status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	}
	return nil
}
