package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/lostfits/internal/aggregate"
	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/internal/jobs"
	"github.com/okian/lostfits/internal/resolver"
	"github.com/okian/lostfits/pkg/logger"
)

// RebuildSummary is the result of an aggregate rebuild.
type RebuildSummary struct {
	From      string                `json:"from"`
	To        string                `json:"to"`
	Killmails int64                 `json:"killmails"`
	FitRows   int                   `json:"fit_rows"`
	Days      []aggregate.DayReport `json:"days"`
}

// PollStatus describes the ingestion scheduler.
type PollStatus struct {
	Enabled  bool        `json:"enabled"`
	Interval string      `json:"interval"`
	Running  bool        `json:"running"`
	Ticks    int64       `json:"ticks"`
	Skipped  int64       `json:"skipped"`
	LastTick *TickRecord `json:"last_tick,omitempty"`
}

// Status is the admin view of the running process.
type Status struct {
	Time           time.Time      `json:"time"`
	DatabaseDriver string         `json:"database_driver"`
	CacheBackend   string         `json:"cache_backend"`
	Killmails      int64          `json:"total_killmails"`
	DedupeSize     int64          `json:"dedupe_size"`
	Day            string         `json:"day"`
	Drift          int64          `json:"aggregate_drift"`
	RecentDays     []string       `json:"days_with_killmails"`
	Poll           PollStatus     `json:"poll"`
	Resolver       resolver.Stats `json:"resolver"`
	RunningJobs    []jobs.Job     `json:"running_jobs"`
}

// ReseedTypes resolves every referenced item type that is not stored yet.
func (s *Service) ReseedTypes(ctx context.Context) (resolver.Progress, error) {
	return s.reseedTypes(ctx, nil)
}

func (s *Service) reseedTypes(ctx context.Context, progress resolver.ProgressFunc) (resolver.Progress, error) {
	if !s.isOpen() {
		return resolver.Progress{}, ErrNotOpen
	}
	ids, err := s.store.ReferencedTypeIDs(ctx)
	if err != nil {
		return resolver.Progress{}, fmt.Errorf("list referenced types: %w", err)
	}
	pr, err := s.resolver.ReseedTypes(ctx, ids, progress)
	if err != nil {
		return pr, err
	}
	if pr.Resolved > 0 {
		s.invalidate(ctx, false)
	}
	return pr, nil
}

// SeedUniverse stores every region, constellation and system the catalog
// knows about.
func (s *Service) SeedUniverse(ctx context.Context) (resolver.Progress, error) {
	return s.seedUniverse(ctx, nil)
}

func (s *Service) seedUniverse(ctx context.Context, progress resolver.ProgressFunc) (resolver.Progress, error) {
	if !s.isOpen() {
		return resolver.Progress{}, ErrNotOpen
	}
	pr, err := s.resolver.SeedUniverse(ctx, progress)
	// A partial seed still stored names worth showing.
	s.invalidate(ctx, true)
	return pr, err
}

// RebuildAggregates recomputes the daily aggregates of [from, to] from the
// stored killmails. Empty bounds mean today.
func (s *Service) RebuildAggregates(ctx context.Context, from, to string) (RebuildSummary, error) {
	return s.rebuild(ctx, from, to, nil)
}

func (s *Service) rebuild(ctx context.Context, from, to string, progress func(aggregate.DayReport)) (RebuildSummary, error) {
	if !s.isOpen() {
		return RebuildSummary{}, ErrNotOpen
	}
	days, err := s.maintainer.Days(from, to)
	if err != nil {
		return RebuildSummary{}, err
	}
	sum := RebuildSummary{From: days[0], To: days[len(days)-1]}
	reports, err := s.maintainer.Rebuild(ctx, sum.From, sum.To, progress)
	for _, r := range reports {
		sum.Killmails += r.Killmails
		sum.FitRows += r.FitRows
	}
	sum.Days = reports
	if len(reports) > 0 {
		s.invalidate(ctx, false)
	}
	return sum, err
}

func (s *Service) invalidate(ctx context.Context, universe bool) {
	if universe {
		if err := s.queries.InvalidateUniverse(ctx); err != nil {
			s.logger.Warn(ctx, "universe cache invalidation failed", logger.Error(err))
		}
	}
	if err := s.queries.InvalidateQueries(ctx); err != nil {
		s.logger.Warn(ctx, "query cache invalidation failed", logger.Error(err))
	}
}

// Admin adapts the Service to the HTTP admin endpoints, which run every
// operation as a background job.
type Admin struct {
	s *Service
}

// Admin returns the job-based admin view.
func (s *Service) Admin() Admin { return Admin{s: s} }

// ReseedTypes starts a type reseed job.
func (a Admin) ReseedTypes(_ context.Context) (jobs.Job, bool, error) {
	return a.s.jobs.Start(JobReseedTypes, "reseeding referenced item types",
		func(ctx context.Context, report jobs.Reporter) (any, error) {
			return a.s.reseedTypes(ctx, progressTo(report))
		})
}

// SeedUniverse starts a universe seed job.
func (a Admin) SeedUniverse(_ context.Context) (jobs.Job, bool, error) {
	return a.s.jobs.Start(JobSeedUniverse, "seeding regions, constellations and systems",
		func(ctx context.Context, report jobs.Reporter) (any, error) {
			return a.s.seedUniverse(ctx, progressTo(report))
		})
}

// RebuildAggregates validates the range and starts a rebuild job.
func (a Admin) RebuildAggregates(_ context.Context, from, to string) (jobs.Job, bool, error) {
	days, err := a.s.maintainer.Days(from, to)
	if err != nil {
		return jobs.Job{}, false, err
	}
	first, last := days[0], days[len(days)-1]
	msg := fmt.Sprintf("rebuilding aggregates %s..%s", first, last)
	return a.s.jobs.Start(JobRebuildAggregates, msg,
		func(ctx context.Context, report jobs.Reporter) (any, error) {
			var done int64
			return a.s.rebuild(ctx, first, last, func(d aggregate.DayReport) {
				done++
				report(done, d)
			})
		})
}

// Jobs lists retained jobs, newest first.
func (a Admin) Jobs() []jobs.Job { return a.s.jobs.List() }

// Job returns one job.
func (a Admin) Job(id string) (jobs.Job, error) { return a.s.jobs.Get(id) }

// Status reports the pipeline state.
func (a Admin) Status(ctx context.Context) (any, error) {
	return a.s.Status(ctx)
}

func progressTo(report jobs.Reporter) resolver.ProgressFunc {
	return func(p resolver.Progress) {
		report(p.Processed, p)
	}
}

// Status collects the pipeline state and checks today's aggregate drift.
func (s *Service) Status(ctx context.Context) (Status, error) {
	if !s.isOpen() {
		return Status{}, ErrNotOpen
	}
	now := s.now().UTC()
	st := Status{
		Time:           now,
		DatabaseDriver: s.cfg.DatabaseDriver,
		CacheBackend:   s.cache.Backend(),
		DedupeSize:     s.deduper.Size(),
		Day:            now.Format(model.DayLayout),
		Poll: PollStatus{
			Enabled:  s.cfg.PollEnabled,
			Interval: s.cfg.PollInterval().String(),
			Running:  s.scheduler.Running(),
			Ticks:    s.scheduler.Ran(),
			Skipped:  s.scheduler.Skipped(),
			LastTick: s.lastTick.Load(),
		},
		Resolver:    s.resolver.Stats(),
		RunningJobs: []jobs.Job{},
	}

	var err error
	if st.Killmails, err = s.store.CountKillmails(ctx); err != nil {
		return Status{}, fmt.Errorf("count killmails: %w", err)
	}
	if st.Drift, err = s.maintainer.Drift(ctx, st.Day); err != nil {
		return Status{}, fmt.Errorf("aggregate drift: %w", err)
	}
	if st.RecentDays, err = s.recentDays(ctx); err != nil {
		return Status{}, fmt.Errorf("recent days: %w", err)
	}
	for _, kind := range []string{JobReseedTypes, JobSeedUniverse, JobRebuildAggregates} {
		if j, ok := s.jobs.Running(kind); ok {
			st.RunningJobs = append(st.RunningJobs, j)
		}
	}
	return st, nil
}
