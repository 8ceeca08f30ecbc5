// Package governor makes outbound Opinion API calls safe under upstream rate
// limits and transient failures. It composes, outermost to innermost, a
// circuit breaker, per-key request deduplication, a concurrency cap, and a
// requests-per-second throttle. Callers that want retry semantics use DoRetry,
// which layers exponential backoff around the whole stack.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/opinionproxy/internal/domain"
)

// Config holds the admission-control and failure-policy tunables.
type Config struct {
	MaxConcurrent     int64         // operations executing at once
	RequestsPerSecond float64       // operation starts admitted per trailing one-second window
	FailureThreshold  uint32        // consecutive non-429 failures that open the circuit
	SuccessThreshold  uint32        // consecutive successes that close a half-open circuit
	RecoveryTimeout   time.Duration // open -> half-open cooldown
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
}

// DefaultConfig matches the limits the Opinion API tolerates in practice.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     10,
		RequestsPerSecond: 30,
		FailureThreshold:  5,
		SuccessThreshold:  2,
		RecoveryTimeout:   30 * time.Second,
		RetryBaseDelay:    500 * time.Millisecond,
		RetryMaxDelay:     8 * time.Second,
	}
}

// Operation is the unit of work admitted by the governor.
type Operation func(ctx context.Context) (any, error)

// Governor is a per-process admission controller for upstream calls. All
// state (breaker, in-flight registry, rate limiter) is owned by the instance;
// construct one per upstream and share it by reference.
type Governor struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group
	sem     *semaphore.Weighted
	limiter *windowLimiter
	logger  *slog.Logger
}

// New creates a Governor from the given config, filling zero fields from
// DefaultConfig.
func New(cfg Config, logger *slog.Logger) *Governor {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}

	g := &Governor{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter: newWindowLimiter(int(cfg.RequestsPerSecond), time.Second),
		logger:  logger.With(slog.String("component", "governor")),
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "opinion",
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A 429 is an expected backpressure signal from a healthy upstream,
		// not a service-health failure. Caller-side cancellation is likewise
		// not the upstream's fault.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrRateLimited) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return g
}

// Do runs op through the breaker, the dedup layer, and the concurrency/rate
// limiters. Concurrent callers sharing a key observe the result of a single
// underlying execution. When the circuit is open Do fails immediately with
// domain.ErrUnavailable without invoking op.
func (g *Governor) Do(ctx context.Context, key string, op Operation) (any, error) {
	result, err := g.breaker.Execute(func() (any, error) {
		v, err, _ := g.group.Do(key, func() (any, error) {
			return g.admit(ctx, op)
		})
		return v, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("governor: %w", domain.ErrUnavailable)
		}
		return nil, err
	}
	return result, nil
}

// admit blocks until a concurrency slot and a rate token are available, then
// runs op. The slot is released on every completion path.
func (g *Governor) admit(ctx context.Context, op Operation) (any, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("governor: acquire slot: %w", err)
	}
	defer g.sem.Release(1)

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("governor: rate wait: %w", err)
	}

	return op(ctx)
}

// DoRetry runs Do with exponential backoff. Rate-limited and circuit-open
// failures are never retried; they propagate immediately so the caller can
// back off on its own terms. The delay doubles per attempt, capped at
// RetryMaxDelay.
func (g *Governor) DoRetry(ctx context.Context, key string, maxAttempts int, op Operation) (any, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := g.Do(ctx, key, op)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, domain.ErrRateLimited) ||
			errors.Is(err, domain.ErrUnavailable) ||
			ctx.Err() != nil {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := g.cfg.RetryBaseDelay << (attempt - 1)
		if delay > g.cfg.RetryMaxDelay {
			delay = g.cfg.RetryMaxDelay
		}
		g.logger.Debug("retrying upstream call",
			slog.String("key", key),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("governor: %w: %w", domain.ErrContextDone, ctx.Err())
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// Stats is a point-in-time view of the governor's breaker for health reporting.
type Stats struct {
	CircuitState         string `json:"circuitState"`
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"totalSuccesses"`
	TotalFailures        uint32 `json:"totalFailures"`
	ConsecutiveFailures  uint32 `json:"consecutiveFailures"`
	ConsecutiveSuccesses uint32 `json:"consecutiveSuccesses"`
}

// Stats returns the current breaker state and counters.
func (g *Governor) Stats() Stats {
	counts := g.breaker.Counts()
	return Stats{
		CircuitState:         g.breaker.State().String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}
