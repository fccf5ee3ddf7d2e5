// Package query answers read-only questions about losses over a rolling
// window of days: which ships and fits die most, and where.
//
// The window for D days is today and the D-1 days before it, in UTC.
// Queries without data answer with found=false and zero totals rather than
// an error.
package query

import (
	"context"
	"time"

	"github.com/okian/lostfits/internal/adapters/cache"
	"github.com/okian/lostfits/internal/adapters/repository"
	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/pkg/logger"
)

const (
	defaultCacheTTL = 30 * time.Second
	exampleLimit    = 5
	unknownName     = "Unknown"

	// Cache key namespaces.
	queryPrefix    = "query:"
	universePrefix = "universe:"
)

// Store is the read side of the repository.
type Store interface {
	TopShips(ctx context.Context, f repository.Filter, limit int) ([]repository.ShipLosses, error)
	TopFits(ctx context.Context, f repository.Filter, limit int) ([]repository.FitLosses, error)
	TotalLosses(ctx context.Context, f repository.Filter) (int64, error)
	LossesBy(ctx context.Context, f repository.Filter, dim repository.Dimension, limit int) ([]repository.LocationLosses, error)
	ShipTypeIDs(ctx context.Context) ([]int64, error)

	ItemTypes(ctx context.Context, ids []int64) (map[int64]model.ItemType, error)
	SearchItemTypes(ctx context.Context, search string, limit, offset int) ([]model.ItemType, int64, error)
	CountItemTypes(ctx context.Context) (int64, error)
	Regions(ctx context.Context, ids []int64) ([]model.Region, error)
	Constellations(ctx context.Context, q repository.ConstellationQuery) ([]model.Constellation, error)
	Systems(ctx context.Context, q repository.SystemQuery) ([]model.SolarSystem, error)

	Killmail(ctx context.Context, id int64) (repository.KillmailRaw, error)
	Killmails(ctx context.Context, limit, offset int) ([]repository.KillmailRaw, int64, error)
	ExampleKillmails(ctx context.Context, signature string, limit int) ([]repository.KillmailRaw, error)
	CountBySignature(ctx context.Context, signature string) (int64, error)
	Stats(ctx context.Context) (repository.KillmailStats, error)
}

// Service answers queries.
type Service struct {
	store    Store
	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
	logger   logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache caches popular, stats and universe responses in c.
func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithCacheTTL sets how long popular and stats responses are cached.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cacheTTL = d
		}
	}
}

// WithClock overrides the time source used for the window.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cacheTTL: defaultCacheTTL,
		now:      time.Now,
		logger:   logger.Get().Named("query"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window is an inclusive range of days.
type Window struct {
	Days      int    `json:"days"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (s *Service) window(days int) Window {
	if days < 1 || days > MaxDays {
		days = DefaultDays
	}
	end := s.now().UTC()
	start := end.AddDate(0, 0, -(days - 1))
	return Window{Days: days, StartDate: start.Format(model.DayLayout), EndDate: end.Format(model.DayLayout)}
}

func (s *Service) filter(w Window, p Params, signature string) repository.Filter {
	return repository.Filter{
		From:           w.StartDate,
		To:             w.EndDate,
		Signature:      signature,
		Ships:          p.Ships,
		Regions:        p.Regions,
		Constellations: p.Constellations,
		Systems:        p.Systems,
		Zones:          p.Zones,
	}
}

// InvalidateUniverse drops cached universe listings, after a seed.
func (s *Service) InvalidateUniverse(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeletePrefix(ctx, universePrefix)
}

// InvalidateQueries drops cached popular and stats responses, after a rebuild.
func (s *Service) InvalidateQueries(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeletePrefix(ctx, queryPrefix)
}

// names returns the names of ids, "Unknown" for any not stored yet.
func (s *Service) names(ctx context.Context, ids []int64) (map[int64]string, error) {
	types, err := s.store.ItemTypes(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if t, ok := types[id]; ok && t.Name != "" {
			out[id] = t.Name
		} else {
			out[id] = unknownName
		}
	}
	return out, nil
}
