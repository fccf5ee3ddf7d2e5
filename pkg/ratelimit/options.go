package ratelimit

type options struct {
	burst int
	clock Clock
}

// Option configures a Limiter.
type Option func(*options)

// WithBurst sets the bucket size. Values below 1 are ignored.
func WithBurst(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.burst = n
		}
	}
}

// WithClock injects the time source.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}
