package aggregate

import (
	"time"

	"github.com/okian/lostfits/pkg/logger"
)

// Option applies a configuration option to the Maintainer.
type Option func(*Maintainer)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Maintainer) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Maintainer) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMaxRangeDays bounds how many days one Rebuild may cover.
func WithMaxRangeDays(n int) Option {
	return func(m *Maintainer) {
		if n > 0 {
			m.maxRangeDays = n
		}
	}
}
