// Package aggregate keeps the daily fit and location counters in step with
// the raw killmails.
//
// Record is the hot path: one transaction per killmail that inserts the raw
// row and increments both counters with insert-or-increment upserts.
// Rebuild recomputes whole days from the raw rows and is the repair path
// for anything the hot path missed.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/lostfits/internal/adapters/repository"
	"github.com/okian/lostfits/internal/domain/fit"
	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/pkg/logger"
	"github.com/okian/lostfits/pkg/metrics"
)

const (
	defaultMaxRangeDays = 366
	rebuildAttempts     = 3
)

// Store is the persistence the Maintainer needs.
type Store interface {
	RecordKillmail(ctx context.Context, rec repository.KillmailRecord) (bool, error)
	EachKillmailOfDay(ctx context.Context, day string, fn func([]repository.KillmailRaw) error) error
	ReplaceDay(ctx context.Context, day string, killmails int64, fits []repository.FitAggregateDaily, locs []repository.LocationAggregateDaily) error
	CountKillmailsOfDay(ctx context.Context, day string) (int64, error)
	SumFitLossesOfDay(ctx context.Context, day string) (int64, error)
	BackfillLocation(ctx context.Context, loc model.Location) (int64, error)
	Locations(ctx context.Context, systemIDs []int64) (map[int64]model.Location, error)
}

// Maintainer owns aggregate writes.
type Maintainer struct {
	// writes lets many Records run at once and a rebuild run alone.
	writes       sync.RWMutex
	store        Store
	logger       logger.Logger
	now          func() time.Time
	maxRangeDays int
}

// New creates a Maintainer over store.
func New(store Store, opts ...Option) *Maintainer {
	m := &Maintainer{
		store:        store,
		logger:       logger.Get().Named("aggregate"),
		now:          time.Now,
		maxRangeDays: defaultMaxRangeDays,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record persists ev and increments its fit and location counters. It
// returns false when ev was already stored, in which case nothing changes.
func (m *Maintainer) Record(ctx context.Context, ev model.RawEvent, f fit.Fit, loc model.Location) (bool, error) {
	m.writes.RLock()
	defer m.writes.RUnlock()
	inserted, err := m.store.RecordKillmail(ctx, repository.KillmailRecord{
		Event:      ev,
		Signature:  f.Signature(),
		SlotCounts: f.SlotCounts(),
		Location:   loc,
		IngestedAt: m.now().UTC(),
	})
	if err != nil {
		metrics.RecordErrorByComponent("aggregate", "record")
		return false, fmt.Errorf("record killmail %d: %w", ev.KillmailID, err)
	}
	if inserted {
		metrics.RecordAggregateIncrement()
	}
	return inserted, nil
}

// BackfillLocation fills in rows stored before loc's system was resolved.
func (m *Maintainer) BackfillLocation(ctx context.Context, loc model.Location) (int64, error) {
	n, err := m.store.BackfillLocation(ctx, loc)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RecordLocationBackfill(n)
		m.logger.Debug(ctx, "backfilled location",
			logger.Int64("system_id", loc.SystemID), logger.Int64("rows", n))
	}
	return n, nil
}

// DayReport describes one rebuilt day.
type DayReport struct {
	Day       string `json:"day"`
	Killmails int64  `json:"killmails"`
	FitRows   int    `json:"fit_rows"`
}

type fitKey struct {
	ship int64
	sig  string
}

type locKey struct {
	fitKey
	system int64
}

// RebuildDay recomputes both aggregates of day from the raw killmails and
// swaps them in atomically. Records wait while it runs. Killmails written
// by another process between the scan and the swap make the swap roll back
// and the day is scanned again.
func (m *Maintainer) RebuildDay(ctx context.Context, day string) (DayReport, error) {
	if _, err := time.Parse(model.DayLayout, day); err != nil {
		return DayReport{}, fmt.Errorf("%w: %q", ErrInvalidRange, day)
	}

	m.writes.Lock()
	defer m.writes.Unlock()

	var (
		r   DayReport
		err error
	)
	for attempt := 1; attempt <= rebuildAttempts; attempt++ {
		r, err = m.rebuildDay(ctx, day)
		if !errors.Is(err, repository.ErrDayChanged) {
			break
		}
		m.logger.Warn(ctx, "day changed during rebuild, retrying",
			logger.String("day", day), logger.Int("attempt", attempt), logger.Error(err))
	}
	if err != nil {
		metrics.RecordErrorByComponent("aggregate", "rebuild")
		return DayReport{}, err
	}
	metrics.RecordAggregateRebuild()
	if _, err := m.Drift(ctx, day); err != nil {
		return DayReport{}, err
	}
	return r, nil
}

func (m *Maintainer) rebuildDay(ctx context.Context, day string) (DayReport, error) {
	fits := make(map[fitKey]int64)
	locs := make(map[locKey]int64)
	var n int64
	err := m.store.EachKillmailOfDay(ctx, day, func(batch []repository.KillmailRaw) error {
		for i := range batch {
			k := fitKey{ship: batch[i].VictimShipTypeID, sig: batch[i].FitSignature}
			fits[k]++
			locs[locKey{fitKey: k, system: batch[i].SolarSystemID}]++
			n++
		}
		return ctx.Err()
	})
	if err != nil {
		return DayReport{}, err
	}

	systemIDs := make([]int64, 0, len(locs))
	seen := make(map[int64]struct{})
	for k := range locs {
		if _, ok := seen[k.system]; !ok {
			seen[k.system] = struct{}{}
			systemIDs = append(systemIDs, k.system)
		}
	}
	known, err := m.store.Locations(ctx, systemIDs)
	if err != nil {
		return DayReport{}, err
	}

	now := m.now().UTC()
	fitRows := make([]repository.FitAggregateDaily, 0, len(fits))
	for k, c := range fits {
		fitRows = append(fitRows, repository.FitAggregateDaily{
			Day: day, ShipTypeID: k.ship, FitSignature: k.sig, LossCount: c, LastUpdated: now,
		})
	}
	locRows := make([]repository.LocationAggregateDaily, 0, len(locs))
	for k, c := range locs {
		loc, ok := known[k.system]
		if !ok {
			loc = model.UnresolvedLocation(k.system)
		}
		locRows = append(locRows, repository.LocationAggregateDaily{
			Day:             day,
			ShipTypeID:      k.ship,
			FitSignature:    k.sig,
			SolarSystemID:   k.system,
			ConstellationID: loc.ConstellationID,
			RegionID:        loc.RegionID,
			SecurityZone:    string(loc.Zone),
			LossCount:       c,
			LastUpdated:     now,
		})
	}

	if err := m.store.ReplaceDay(ctx, day, n, fitRows, locRows); err != nil {
		return DayReport{}, err
	}
	return DayReport{Day: day, Killmails: n, FitRows: len(fitRows)}, nil
}

// Rebuild recomputes every day from from to to inclusive. progress, when
// set, is called after each day.
func (m *Maintainer) Rebuild(ctx context.Context, from, to string, progress func(DayReport)) ([]DayReport, error) {
	days, err := m.Days(from, to)
	if err != nil {
		return nil, err
	}
	reports := make([]DayReport, 0, len(days))
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := m.RebuildDay(ctx, day)
		if err != nil {
			return reports, fmt.Errorf("rebuild %s: %w", day, err)
		}
		reports = append(reports, r)
		if progress != nil {
			progress(r)
		}
		m.logger.Info(ctx, "rebuilt aggregates",
			logger.String("day", r.Day), logger.Int64("killmails", r.Killmails), logger.Int("fits", r.FitRows))
	}
	return reports, nil
}

// Drift returns raw killmails minus aggregated losses for day. A positive
// value means increments were lost. The result is exported as a gauge.
func (m *Maintainer) Drift(ctx context.Context, day string) (int64, error) {
	d, err := m.dayDrift(ctx, day)
	if err != nil {
		return 0, err
	}
	metrics.UpdateAggregateDrift(d)
	return d, nil
}

// DriftOver sums the drift of every day in days and exports the total.
// Days that match are not reported.
func (m *Maintainer) DriftOver(ctx context.Context, days []string) (map[string]int64, error) {
	out := make(map[string]int64)
	var total int64
	for _, day := range days {
		d, err := m.dayDrift(ctx, day)
		if err != nil {
			return nil, err
		}
		if d != 0 {
			out[day] = d
			total += d
		}
	}
	metrics.UpdateAggregateDrift(total)
	return out, nil
}

func (m *Maintainer) dayDrift(ctx context.Context, day string) (int64, error) {
	raw, err := m.store.CountKillmailsOfDay(ctx, day)
	if err != nil {
		return 0, err
	}
	agg, err := m.store.SumFitLossesOfDay(ctx, day)
	if err != nil {
		return 0, err
	}
	d := raw - agg
	if d != 0 {
		m.logger.Warn(ctx, "aggregate drift detected",
			logger.String("day", day), logger.Int64("raw", raw), logger.Int64("aggregated", agg))
	}
	return d, nil
}

// Days expands an inclusive day range. Empty bounds default to today (UTC).
func (m *Maintainer) Days(from, to string) ([]string, error) {
	today := m.now().UTC().Format(model.DayLayout)
	if from == "" {
		from = today
	}
	if to == "" {
		to = today
	}
	start, err := time.Parse(model.DayLayout, from)
	if err != nil {
		return nil, fmt.Errorf("%w: from %q", ErrInvalidRange, from)
	}
	end, err := time.Parse(model.DayLayout, to)
	if err != nil {
		return nil, fmt.Errorf("%w: to %q", ErrInvalidRange, to)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from, to)
	}
	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(model.DayLayout))
		if len(days) > m.maxRangeDays {
			return nil, fmt.Errorf("%w: more than %d days", ErrInvalidRange, m.maxRangeDays)
		}
	}
	return days, nil
}
