package llm

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a minimum interval between inference calls. One
// limiter instance is created at startup and injected into every call
// site; callers queue behind the mutex so only one call proceeds at a
// time and N back-to-back calls take at least (N-1) intervals.
type Limiter struct {
	mu   sync.Mutex
	min  time.Duration
	last time.Time
}

// NewLimiter returns a limiter with the given floor. A zero or negative
// interval disables waiting.
func NewLimiter(min time.Duration) *Limiter {
	return &Limiter{min: min}
}

// Wait blocks until the interval since the previous call has elapsed or
// ctx is done. The mutex is held across the sleep deliberately: later
// callers queue rather than racing the timestamp.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.min <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.last.IsZero() {
		if wait := l.min - time.Since(l.last); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	l.last = time.Now()
	return nil
}
