// Package ratelimit provides a shared token bucket for outbound calls.
//
// It wraps golang.org/x/time/rate but takes its notion of time from an
// injected Clock so that waits can be driven by a fake clock in tests.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Clock is the time source used by a Limiter.
type Clock interface {
	Now() time.Time
	// After behaves like time.After.
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Limiter is a token bucket that makes callers queue instead of fail.
type Limiter struct {
	lim   *rate.Limiter
	clock Clock
}

// New creates a limiter allowing qps requests per second with the given options.
func New(qps float64, opts ...Option) *Limiter {
	cfg := options{burst: 1, clock: systemClock{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Limiter{
		lim:   rate.NewLimiter(rate.Limit(qps), cfg.burst),
		clock: cfg.clock,
	}
}

// Wait blocks until a token is available or ctx is done. It returns how
// long the caller was held back.
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := l.clock.Now()
	r := l.lim.ReserveN(now, 1)
	if !r.OK() {
		return 0, fmt.Errorf("%w: burst %d", ErrExceedsBurst, l.lim.Burst())
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return 0, nil
	}
	select {
	case <-l.clock.After(delay):
		return delay, nil
	case <-ctx.Done():
		// Give the token back so cancelled callers do not slow the rest.
		r.CancelAt(l.clock.Now())
		return 0, ctx.Err()
	}
}

// Allow reports whether a token is available right now and takes it if so.
func (l *Limiter) Allow() bool {
	return l.lim.AllowN(l.clock.Now(), 1)
}

// QPS returns the configured rate.
func (l *Limiter) QPS() float64 {
	return float64(l.lim.Limit())
}
