// Package service wires the ingestion pipeline, the query layer and the
// maintenance jobs into one process and implements the dependencies
// required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/lostfits/internal/adapters/cache"
	"github.com/okian/lostfits/internal/adapters/catalog"
	"github.com/okian/lostfits/internal/adapters/feed"
	"github.com/okian/lostfits/internal/adapters/http/api"
	"github.com/okian/lostfits/internal/adapters/http/swagger"
	"github.com/okian/lostfits/internal/adapters/repository"
	"github.com/okian/lostfits/internal/aggregate"
	"github.com/okian/lostfits/internal/config"
	"github.com/okian/lostfits/internal/domain/dedupe"
	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/internal/ingest"
	"github.com/okian/lostfits/internal/jobs"
	"github.com/okian/lostfits/internal/query"
	"github.com/okian/lostfits/internal/resolver"
	"github.com/okian/lostfits/pkg/logger"
	"github.com/okian/lostfits/pkg/metrics"
	"github.com/okian/lostfits/pkg/ratelimit"
)

// Job kinds.
const (
	JobReseedTypes       = "reseed_types"
	JobSeedUniverse      = "seed_universe"
	JobRebuildAggregates = "rebuild_aggregates"
)

var (
	// ErrNotOpen is returned when a component is used before Open.
	ErrNotOpen = errors.New("service not open")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("service already started")
)

// Service owns every long-lived component of the process.
type Service struct {
	mu sync.Mutex

	cfg *config.Config

	// Core components
	store      *repository.Store
	cache      cache.Cache
	catalog    catalog.Catalog
	maintainer *aggregate.Maintainer
	resolver   *resolver.Resolver
	deduper    dedupe.Deduper
	ingester   *ingest.Ingester
	poller     *ingest.Poller
	scheduler  *ingest.Scheduler
	jobs       *jobs.Manager
	queries    *query.Service
	api        *api.Server

	lastTick   atomic.Pointer[TickRecord]
	live       atomic.Bool
	httpClient *http.Client

	// State
	opened   bool
	started  bool
	base     context.Context
	cancel   context.CancelFunc
	stopPoll context.CancelFunc
	polling  sync.WaitGroup

	now    func() time.Time
	logger logger.Logger
}

// TickRecord is the outcome of the latest poll tick.
type TickRecord struct {
	At     time.Time     `json:"at"`
	Report ingest.Report `json:"report"`
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source of the aggregate and query layers.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCatalog replaces the ESI client.
func WithCatalog(c catalog.Catalog) Option {
	return func(s *Service) {
		s.catalog = c
	}
}

// WithHTTPClient sets the client used for the feed.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Service) {
		s.httpClient = hc
	}
}

// New constructs a Service for cfg. Nothing is connected until Open.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects the store and the cache and builds every component. The
// resolver workers run from here on; polling waits for Start.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	cfg := s.cfg

	store, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL,
		repository.WithLogger(s.logger.Named("repository")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	c, err := cache.Open(ctx, cfg.RedisURL)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("open cache: %w", err)
	}
	s.store, s.cache = store, c

	if s.catalog == nil {
		s.catalog = catalog.New(cfg.ESIBase, ratelimit.New(cfg.ESIMaxQPS),
			catalog.WithUserAgent(cfg.ESIUserAgent),
			catalog.WithTimeout(cfg.ESITimeout()),
			catalog.WithLogger(s.logger.Named("catalog")))
	}

	s.maintainer = aggregate.New(store,
		aggregate.WithClock(s.now),
		aggregate.WithLogger(s.logger.Named("aggregate")))
	s.resolver = resolver.New(store, s.catalog,
		resolver.WithBackfiller(backfiller{s: s}),
		resolver.WithWorkers(cfg.ResolverWorkers),
		resolver.WithQueueSize(cfg.ResolverQueueSize),
		resolver.WithLogger(s.logger.Named("resolver")))

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))
	s.ingester = ingest.NewIngester(s.maintainer, s.resolver,
		ingest.WithDeduper(s.deduper),
		ingest.WithLogger(s.logger.Named("ingest")))

	feedOpts := []feed.Option{
		feed.WithQueueID(cfg.FeedQueueID),
		feed.WithTTW(cfg.FeedTTWSecs),
		feed.WithTimeout(cfg.FeedTimeout()),
		feed.WithLogger(s.logger.Named("feed")),
	}
	if s.httpClient != nil {
		feedOpts = append(feedOpts, feed.WithHTTPClient(s.httpClient))
	}
	s.poller = ingest.NewPoller(feed.New(cfg.FeedURL, feedOpts...), s.ingester,
		ingest.WithBatchSize(cfg.PollBatchSize),
		ingest.WithPollerLogger(s.logger.Named("poller")))
	s.scheduler = ingest.NewScheduler(cfg.PollInterval(), s.tick, s.logger.Named("scheduler"))

	s.jobs = jobs.NewManager(jobs.WithLogger(s.logger.Named("jobs")))
	s.queries = query.New(store,
		query.WithCache(c),
		query.WithCacheTTL(cfg.QueryCacheTTL()),
		query.WithClock(s.now),
		query.WithLogger(s.logger.Named("query")))
	s.api = api.NewServer(s.queries,
		api.WithAdmin(Admin{s: s}),
		api.WithHealthCheck(store),
		api.WithAPIKey(cfg.AdminAPIKey),
		api.WithCORSOrigins(cfg.Origins()),
		api.WithMaxLimit(cfg.MaxLimit),
		api.WithLogger(s.logger.Named("api")))

	// Workers outlive the caller's context; Stop ends them.
	s.base, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.resolver.Start(s.base)

	s.opened = true
	s.live.Store(true)
	s.logger.Info(ctx, "service opened",
		logger.String("database_driver", cfg.DatabaseDriver),
		logger.String("cache_backend", c.Backend()),
		logger.Int("resolver_workers", cfg.ResolverWorkers))
	return nil
}

// Start opens the service if needed, warms the dedupe window, queues the
// systems still unresolved and starts polling when enabled.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Open(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	ids, err := s.store.RecentKillmailIDs(ctx, s.cfg.DedupeSize)
	if err != nil {
		return fmt.Errorf("warm dedupe: %w", err)
	}
	s.ingester.Warm(ctx, ids)

	unresolved, err := s.store.UnresolvedSystemIDs(ctx)
	if err != nil {
		return fmt.Errorf("list unresolved systems: %w", err)
	}
	for _, id := range unresolved {
		s.resolver.Require(s.base, resolver.KindSystem, id)
	}

	if s.cfg.PollEnabled {
		var pollCtx context.Context
		pollCtx, s.stopPoll = context.WithCancel(s.base)
		s.polling.Add(1)
		go func() {
			defer s.polling.Done()
			s.scheduler.Run(pollCtx)
		}()
	}

	s.started = true
	s.logger.Info(ctx, "service started",
		logger.Int("warmed", len(ids)),
		logger.Int("unresolved_systems", len(unresolved)),
		logger.Bool("polling", s.cfg.PollEnabled),
		logger.Duration("poll_interval", s.cfg.PollInterval()))
	return nil
}

// Stop ends polling, cancels running jobs, drains the resolver and closes
// the cache and the store. ctx bounds the wait.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.live.Store(false)

	if s.stopPoll != nil {
		s.stopPoll()
		s.stopPoll = nil
	}
	s.polling.Wait()

	var errs []error
	if err := s.jobs.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop jobs: %w", err))
	}
	if err := s.resolver.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop resolver: %w", err))
	}
	s.cancel()

	if err := s.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.opened, s.started = false, false
	s.logger.Info(ctx, "service stopped")
	return errors.Join(errs...)
}

// tick drains one batch from the feed and keeps the report for Status.
func (s *Service) tick(ctx context.Context) {
	rep := s.poller.Tick(ctx)
	s.lastTick.Store(&TickRecord{At: s.now().UTC(), Report: rep})
	if rep.Ingested > 0 {
		if err := s.queries.InvalidateQueries(ctx); err != nil {
			s.logger.Warn(ctx, "query cache invalidation failed", logger.Error(err))
		}
	}
}

// Handler returns the API and docs routes behind the CORS middleware.
func (s *Service) Handler(ctx context.Context) (http.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil, ErrNotOpen
	}
	mux := http.NewServeMux()
	s.api.Register(ctx, mux)
	swagger.Register(ctx, mux)
	return api.CORS(s.cfg.Origins(), mux), nil
}

// Queries exposes the query layer.
func (s *Service) Queries() *query.Service { return s.queries }

// Store exposes the repository.
func (s *Service) Store() *repository.Store { return s.store }

// RefreshMetrics exports gauges that are cheaper to poll than to track.
func (s *Service) RefreshMetrics(ctx context.Context) {
	if !s.isOpen() {
		return
	}
	n, err := s.store.CountKillmails(ctx)
	if err != nil {
		s.logger.Debug(ctx, "count killmails failed", logger.Error(err))
		return
	}
	metrics.UpdateKillmailsStored(n)
	metrics.UpdateDedupeSize(s.deduper.Size())
	days, err := s.recentDays(ctx)
	if err != nil {
		s.logger.Debug(ctx, "recent days failed", logger.Error(err))
		return
	}
	// Today is always checked, the older days only when they hold killmails.
	if today := s.now().UTC().Format(model.DayLayout); !slices.Contains(days, today) {
		days = append(days, today)
	}
	if _, err := s.maintainer.DriftOver(ctx, days); err != nil {
		s.logger.Debug(ctx, "drift check failed", logger.Error(err))
	}
}

// recentDays lists the days of the default query window that hold killmails.
func (s *Service) recentDays(ctx context.Context) ([]string, error) {
	now := s.now().UTC()
	from := now.AddDate(0, 0, 1-query.DefaultDays).Format(model.DayLayout)
	days, err := s.store.DaysWithKillmails(ctx, from, now.Format(model.DayLayout))
	if err != nil {
		return nil, err
	}
	if days == nil {
		days = []string{}
	}
	return days, nil
}

// backfiller drops cached responses once unresolved rows gain a location.
type backfiller struct {
	s *Service
}

func (b backfiller) BackfillLocation(ctx context.Context, loc model.Location) (int64, error) {
	n, err := b.s.maintainer.BackfillLocation(ctx, loc)
	if err == nil && n > 0 {
		b.s.invalidate(ctx, false)
	}
	return n, err
}

// isOpen never takes mu, so job bodies can call it while Stop waits on them.
func (s *Service) isOpen() bool {
	return s.live.Load()
}
