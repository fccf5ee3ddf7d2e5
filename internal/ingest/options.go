package ingest

import (
	"github.com/okian/lostfits/internal/domain/dedupe"
	"github.com/okian/lostfits/pkg/logger"
)

// Option configures an Ingester.
type Option func(*Ingester)

// WithDeduper replaces the default in-memory fast-path deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(i *Ingester) {
		if d != nil {
			i.dedupe = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(i *Ingester) {
		if l != nil {
			i.logger = l
		}
	}
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithBatchSize caps how many packages one tick pulls.
func WithBatchSize(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithPollerLogger sets a custom logger on the poller.
func WithPollerLogger(l logger.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}
