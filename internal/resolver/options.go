package resolver

import (
	"time"

	"github.com/okian/lostfits/pkg/logger"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithWorkers sets the number of background resolution workers.
func WithWorkers(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithQueueSize bounds the background resolution queue.
func WithQueueSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithNegativeTTL sets how long a not-found answer is remembered.
func WithNegativeTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.negativeTTL = d
		}
	}
}

// WithBackfiller sets who is told when a system's location becomes known.
func WithBackfiller(b Backfiller) Option {
	return func(r *Resolver) {
		r.backfiller = b
	}
}

// WithClock overrides the time source used for negative cache expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithFetchTimeout bounds one shared store and catalog lookup.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}
