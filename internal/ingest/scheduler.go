package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/lostfits/pkg/logger"
	"github.com/okian/lostfits/pkg/metrics"
)

// TickFunc performs one unit of scheduled work.
type TickFunc func(ctx context.Context)

// Scheduler runs a TickFunc on a fixed interval. A tick that comes due
// while the previous one is still running is skipped, never queued.
type Scheduler struct {
	interval time.Duration
	tick     TickFunc

	running atomic.Bool
	skipped atomic.Int64
	ran     atomic.Int64
	wg      sync.WaitGroup

	logger logger.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(interval time.Duration, tick TickFunc, l logger.Logger) *Scheduler {
	if l == nil {
		l = logger.Get().Named("scheduler")
	}
	return &Scheduler{interval: interval, tick: tick, logger: l}
}

// Run fires an immediate tick and then one per interval until ctx ends.
// It waits for an in-flight tick before returning.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	defer s.wg.Wait()

	s.Trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Trigger(ctx)
		}
	}
}

// Trigger starts a tick in the background unless one is already running.
// It reports whether a tick was started.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		metrics.RecordPollTickSkipped()
		s.logger.Debug(ctx, "tick skipped, previous still running")
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.ran.Add(1)
		s.tick(ctx)
	}()
	return true
}

// Running reports whether a tick is in flight.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Ran returns how many ticks have started.
func (s *Scheduler) Ran() int64 { return s.ran.Load() }

// Skipped returns how many ticks were skipped because of overlap.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }
