// Package ingest pulls killmails from the feed and records them.
//
// An Ingester handles a single event. A Poller drains the feed into the
// Ingester once per tick, and a Scheduler runs ticks on an interval without
// ever letting two overlap.
package ingest

import (
	"context"
	"fmt"

	"github.com/okian/lostfits/internal/domain/dedupe"
	"github.com/okian/lostfits/internal/domain/fit"
	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/internal/resolver"
	"github.com/okian/lostfits/pkg/logger"
	"github.com/okian/lostfits/pkg/metrics"
)

// Outcome is what happened to one event.
type Outcome int

// Outcomes.
const (
	Ingested Outcome = iota
	Duplicate
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Ingested:
		return "ingested"
	case Duplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// Recorder persists an event and its aggregate increments atomically.
type Recorder interface {
	Record(ctx context.Context, ev model.RawEvent, f fit.Fit, loc model.Location) (bool, error)
}

// Resolver provides cached locations and background resolution.
type Resolver interface {
	Locate(systemID int64) model.Location
	Require(ctx context.Context, kind resolver.Kind, id int64)
}

// Ingester records single events.
type Ingester struct {
	recorder Recorder
	resolver Resolver
	dedupe   dedupe.Deduper
	logger   logger.Logger
}

// NewIngester creates an Ingester.
func NewIngester(rec Recorder, res Resolver, opts ...Option) *Ingester {
	i := &Ingester{
		recorder: rec,
		resolver: res,
		logger:   logger.Get().Named("ingest"),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.dedupe == nil {
		i.dedupe = dedupe.NewInMemoryDeduper()
	}
	return i
}

// Warm marks ids as already seen, typically the most recent stored
// killmails, so a restart does not send them all to the database again.
func (i *Ingester) Warm(ctx context.Context, ids []int64) {
	for _, id := range ids {
		i.dedupe.SeenAndRecord(ctx, id)
	}
	metrics.UpdateDedupeSize(i.dedupe.Size())
	i.logger.Info(ctx, "dedupe window warmed", logger.Int("ids", len(ids)))
}

// Ingest records ev once. A killmail already seen, in memory or in the
// store, is reported as Duplicate. On a store error the fast-path entry is
// removed so a later delivery can retry.
func (i *Ingester) Ingest(ctx context.Context, ev model.RawEvent) (Outcome, error) {
	if i.dedupe.SeenAndRecord(ctx, ev.KillmailID) {
		metrics.RecordKillmailDuplicate()
		return Duplicate, nil
	}
	metrics.UpdateDedupeSize(i.dedupe.Size())

	f := fit.Normalize(ev.ShipTypeID, ev.Items)
	loc := i.resolver.Locate(ev.SolarSystemID)

	inserted, err := i.recorder.Record(ctx, ev, f, loc)
	if err != nil {
		i.dedupe.Unrecord(ctx, ev.KillmailID)
		metrics.RecordKillmailFailed()
		metrics.RecordErrorByComponent("ingest", "store")
		return Failed, fmt.Errorf("%w %d: %w", ErrStore, ev.KillmailID, err)
	}
	if !inserted {
		metrics.RecordKillmailDuplicate()
		return Duplicate, nil
	}
	metrics.RecordKillmailIngested()

	for _, id := range ev.TypeIDs() {
		i.resolver.Require(ctx, resolver.KindType, id)
	}
	if !loc.Resolved() {
		i.resolver.Require(ctx, resolver.KindSystem, ev.SolarSystemID)
	}

	i.logger.Debug(ctx, "killmail ingested",
		logger.Int64("killmail_id", ev.KillmailID),
		logger.Int64("ship_type_id", ev.ShipTypeID),
		logger.String("fit_signature", f.Signature()),
		logger.String("zone", string(loc.Zone)),
	)
	return Ingested, nil
}
