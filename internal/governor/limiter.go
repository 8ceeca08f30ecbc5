package governor

import (
	"context"
	"sync"
	"time"
)

// maxStartHistory bounds the recorded start timestamps so a long run of
// admissions cannot grow the window state without bound.
const maxStartHistory = 1000

// windowLimiter admits at most limit operation starts within any trailing
// window. Unlike a token bucket it carries no burst allowance: the count of
// starts inside every trailing window stays at or below the limit, not just
// the steady-state average.
type windowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	starts []time.Time
}

// newWindowLimiter creates a limiter admitting limit starts per window.
// Non-positive arguments fall back to 1 start per second.
func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &windowLimiter{limit: limit, window: window}
}

// Wait blocks until one more start fits inside the trailing window, then
// records it. It returns early with the context error when ctx is done.
func (l *windowLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.pruneLocked(now)
		if len(l.starts) < l.limit {
			l.starts = append(l.starts, now)
			if len(l.starts) > maxStartHistory {
				l.starts = l.starts[len(l.starts)-maxStartHistory:]
			}
			l.mu.Unlock()
			return nil
		}
		wait := l.starts[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// pruneLocked drops starts that have aged out of the window. Caller holds the
// mutex.
func (l *windowLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.starts) && !l.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.starts = l.starts[i:]
	}
}
