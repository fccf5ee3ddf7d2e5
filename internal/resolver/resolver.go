// Package resolver turns item type and solar system IDs into reference data.
//
// Lookups go memory, then the persistent store, then the rate-limited
// catalog. Concurrent lookups of one ID share a single flight. Unknown IDs
// seen during ingestion are handed to Require, which resolves them on a
// background worker pool without ever blocking the caller.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/lostfits/internal/adapters/catalog"
	"github.com/okian/lostfits/internal/adapters/mq/queue"
	"github.com/okian/lostfits/internal/adapters/mq/worker"
	"github.com/okian/lostfits/internal/adapters/repository"
	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/pkg/logger"
	"github.com/okian/lostfits/pkg/metrics"
)

const (
	defaultWorkers      = 4
	defaultQueueSize    = 10_000
	defaultNegativeTTL  = time.Hour
	defaultFetchTimeout = 30 * time.Second
)

// Kind names what a Request resolves.
type Kind string

// Request kinds.
const (
	KindType   Kind = "type"
	KindSystem Kind = "system"
)

// Request is one queued resolution.
type Request struct {
	Kind Kind
	ID   int64
}

func (q Request) key() string {
	return string(q.Kind) + ":" + strconv.FormatInt(q.ID, 10)
}

// Lookup results, used as metric labels.
const (
	resultMemory   = "memory"
	resultStore    = "store"
	resultCatalog  = "catalog"
	resultNotFound = "not_found"
	resultError    = "error"
)

// Store persists reference rows.
type Store interface {
	ItemType(ctx context.Context, id int64) (model.ItemType, error)
	SaveItemType(ctx context.Context, t model.ItemType) error
	ItemGroup(ctx context.Context, id int64) (model.ItemGroup, error)
	SaveItemGroup(ctx context.Context, g model.ItemGroup) error
	System(ctx context.Context, id int64) (model.SolarSystem, error)
	SaveSystem(ctx context.Context, s model.SolarSystem) error
	Constellation(ctx context.Context, id int64) (model.Constellation, error)
	SaveConstellation(ctx context.Context, c model.Constellation) error
	Region(ctx context.Context, id int64) (model.Region, error)
	SaveRegion(ctx context.Context, r model.Region) error
	StoredIDs(ctx context.Context, kind string, ids []int64) (map[int64]struct{}, error)
}

// Backfiller is told when a system's location becomes known.
type Backfiller interface {
	BackfillLocation(ctx context.Context, loc model.Location) (int64, error)
}

// Stats is a snapshot of the resolver caches.
type Stats struct {
	Types     int `json:"types"`
	Systems   int `json:"systems"`
	Negative  int `json:"negative"`
	Pending   int `json:"pending"`
	QueueSize int `json:"queue_size"`
}

// Resolver resolves reference IDs.
type Resolver struct {
	store      Store
	catalog    catalog.Catalog
	backfiller Backfiller

	mu             sync.RWMutex
	types          map[int64]model.ItemType
	groups         map[int64]model.ItemGroup
	constellations map[int64]model.Constellation
	regions        map[int64]model.Region
	locations      map[int64]model.Location
	negative       map[string]time.Time

	pendingMu sync.Mutex
	pending   map[string]struct{}

	flight singleflight.Group

	workers      int
	queueSize    int
	negativeTTL  time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	queue *queue.InMemoryQueue[Request]
	pool  *worker.Pool[Request]

	logger logger.Logger
}

// New creates a Resolver. Call Start before using Require.
func New(store Store, cat catalog.Catalog, opts ...Option) *Resolver {
	r := &Resolver{
		store:          store,
		catalog:        cat,
		types:          make(map[int64]model.ItemType),
		groups:         make(map[int64]model.ItemGroup),
		constellations: make(map[int64]model.Constellation),
		regions:        make(map[int64]model.Region),
		locations:      make(map[int64]model.Location),
		negative:       make(map[string]time.Time),
		pending:        make(map[string]struct{}),
		workers:        defaultWorkers,
		queueSize:      defaultQueueSize,
		negativeTTL:    defaultNegativeTTL,
		fetchTimeout:   defaultFetchTimeout,
		now:            time.Now,
		logger:         logger.Get().Named("resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.queue = queue.NewInMemoryQueue[Request](queue.WithCapacity(r.queueSize), queue.WithName("resolver"))
	r.pool = worker.NewPool(r.workers, r.queue, r.handle,
		worker.WithName("resolver"), worker.WithLogger(r.logger))
	return r
}

// Start launches the background workers.
func (r *Resolver) Start(ctx context.Context) {
	r.pool.Start(ctx)
}

// Shutdown stops accepting requests and drains the queue.
func (r *Resolver) Shutdown(ctx context.Context) error {
	return r.pool.Shutdown(ctx)
}

// Require schedules id for background resolution unless it is already
// known, known-missing or queued. A cached system is scheduled for a
// backfill only. It never blocks; a full queue drops the request.
func (r *Resolver) Require(ctx context.Context, kind Kind, id int64) {
	if id <= 0 || r.known(kind, id) {
		return
	}
	req := Request{Kind: kind, ID: id}
	k := req.key()

	r.pendingMu.Lock()
	if _, ok := r.pending[k]; ok {
		r.pendingMu.Unlock()
		return
	}
	r.pending[k] = struct{}{}
	r.pendingMu.Unlock()

	if err := r.queue.Enqueue(ctx, req); err != nil {
		r.donePending(k)
		metrics.RecordResolverDropped()
		r.logger.Debug(ctx, "resolution request dropped",
			logger.String("kind", string(kind)), logger.Int64("id", id), logger.Error(err))
	}
}

func (r *Resolver) handle(ctx context.Context, req Request) error {
	defer r.donePending(req.key())

	var err error
	switch req.Kind {
	case KindType:
		_, err = r.Resolve(ctx, req.ID)
	case KindSystem:
		r.mu.RLock()
		loc, ok := r.locations[req.ID]
		r.mu.RUnlock()
		if ok {
			r.backfill(ctx, loc)
			return nil
		}
		_, err = r.ResolveSystem(ctx, req.ID)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (r *Resolver) donePending(k string) {
	r.pendingMu.Lock()
	delete(r.pending, k)
	r.pendingMu.Unlock()
}

func (r *Resolver) known(kind Kind, id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind == KindType {
		if _, ok := r.types[id]; ok {
			return true
		}
	}
	// Systems are required for rows stored without a location; a cached
	// system still has those rows to backfill.
	return r.isNegativeLocked(Request{Kind: kind, ID: id}.key())
}

func (r *Resolver) isNegativeLocked(k string) bool {
	until, ok := r.negative[k]
	return ok && r.now().Before(until)
}

func (r *Resolver) markNegative(k string) {
	r.mu.Lock()
	r.negative[k] = r.now().Add(r.negativeTTL)
	r.mu.Unlock()
}

// Locate returns the cached location of a system, or an unresolved
// location when it has not been resolved yet. It never does I/O.
func (r *Resolver) Locate(systemID int64) model.Location {
	r.mu.RLock()
	loc, ok := r.locations[systemID]
	r.mu.RUnlock()
	if ok {
		return loc
	}
	return model.UnresolvedLocation(systemID)
}

// Stats returns cache sizes.
func (r *Resolver) Stats() Stats {
	r.mu.RLock()
	s := Stats{Types: len(r.types), Systems: len(r.locations), Negative: len(r.negative)}
	r.mu.RUnlock()

	r.pendingMu.Lock()
	s.Pending = len(r.pending)
	r.pendingMu.Unlock()
	s.QueueSize = r.queue.Len()
	return s
}

// share runs fn once per key for every concurrent caller. fn is detached
// from the first caller's cancellation and bounded by the fetch timeout, so
// one caller giving up does not fail the others; each caller still returns
// as soon as its own ctx ends.
func (r *Resolver) share(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := r.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// Resolve returns the item type for id, filling in its category.
func (r *Resolver) Resolve(ctx context.Context, typeID int64) (model.ItemType, error) {
	k := Request{Kind: KindType, ID: typeID}.key()

	r.mu.RLock()
	t, ok := r.types[typeID]
	negative := r.isNegativeLocked(k)
	r.mu.RUnlock()
	switch {
	case ok:
		metrics.RecordResolverLookup(string(KindType), resultMemory)
		return t, nil
	case negative:
		metrics.RecordResolverLookup(string(KindType), resultNotFound)
		return model.ItemType{}, fmt.Errorf("%w: type %d", ErrNotFound, typeID)
	}

	v, err := r.share(ctx, k, func(ctx context.Context) (any, error) {
		return r.fetchType(ctx, typeID)
	})
	if err != nil {
		return model.ItemType{}, err
	}
	return v.(model.ItemType), nil
}

func (r *Resolver) fetchType(ctx context.Context, typeID int64) (model.ItemType, error) {
	t, err := r.store.ItemType(ctx, typeID)
	switch {
	case err == nil:
		metrics.RecordResolverLookup(string(KindType), resultStore)
		r.rememberType(t)
		return t, nil
	case !errors.Is(err, repository.ErrNotFound):
		metrics.RecordResolverLookup(string(KindType), resultError)
		return model.ItemType{}, err
	}

	t, err = r.catalog.Type(ctx, typeID)
	if err != nil {
		if catalog.IsNotFound(err) {
			metrics.RecordResolverLookup(string(KindType), resultNotFound)
			r.markNegative(Request{Kind: KindType, ID: typeID}.key())
			return model.ItemType{}, fmt.Errorf("%w: type %d", ErrNotFound, typeID)
		}
		metrics.RecordResolverLookup(string(KindType), resultError)
		return model.ItemType{}, err
	}

	if t.GroupID > 0 {
		g, err := r.group(ctx, t.GroupID)
		switch {
		case err == nil:
			t.CategoryID = g.CategoryID
		case !errors.Is(err, ErrNotFound):
			metrics.RecordResolverLookup(string(KindType), resultError)
			return model.ItemType{}, err
		}
	}

	if err := r.store.SaveItemType(ctx, t); err != nil {
		metrics.RecordResolverLookup(string(KindType), resultError)
		return model.ItemType{}, err
	}
	metrics.RecordResolverLookup(string(KindType), resultCatalog)
	r.rememberType(t)
	return t, nil
}

func (r *Resolver) rememberType(t model.ItemType) {
	r.mu.Lock()
	r.types[t.TypeID] = t
	r.mu.Unlock()
}

func (r *Resolver) group(ctx context.Context, groupID int64) (model.ItemGroup, error) {
	r.mu.RLock()
	g, ok := r.groups[groupID]
	r.mu.RUnlock()
	if ok {
		return g, nil
	}

	v, err := r.share(ctx, "group:"+strconv.FormatInt(groupID, 10), func(ctx context.Context) (any, error) {
		g, err := r.store.ItemGroup(ctx, groupID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return model.ItemGroup{}, err
			}
			if g, err = r.catalog.Group(ctx, groupID); err != nil {
				if catalog.IsNotFound(err) {
					return model.ItemGroup{}, fmt.Errorf("%w: group %d", ErrNotFound, groupID)
				}
				return model.ItemGroup{}, err
			}
			if err := r.store.SaveItemGroup(ctx, g); err != nil {
				return model.ItemGroup{}, err
			}
		}
		r.mu.Lock()
		r.groups[g.GroupID] = g
		r.mu.Unlock()
		return g, nil
	})
	if err != nil {
		return model.ItemGroup{}, err
	}
	return v.(model.ItemGroup), nil
}

// ResolveSystem returns the full location of a system, resolving its
// constellation and region as needed. Newly resolved locations are handed
// to the Backfiller.
func (r *Resolver) ResolveSystem(ctx context.Context, systemID int64) (model.Location, error) {
	k := Request{Kind: KindSystem, ID: systemID}.key()

	r.mu.RLock()
	loc, ok := r.locations[systemID]
	negative := r.isNegativeLocked(k)
	r.mu.RUnlock()
	switch {
	case ok:
		metrics.RecordResolverLookup(string(KindSystem), resultMemory)
		return loc, nil
	case negative:
		metrics.RecordResolverLookup(string(KindSystem), resultNotFound)
		return model.UnresolvedLocation(systemID), fmt.Errorf("%w: system %d", ErrNotFound, systemID)
	}

	v, err := r.share(ctx, k, func(ctx context.Context) (any, error) {
		return r.fetchSystem(ctx, systemID)
	})
	if err != nil {
		return model.UnresolvedLocation(systemID), err
	}
	return v.(model.Location), nil
}

func (r *Resolver) fetchSystem(ctx context.Context, systemID int64) (model.Location, error) {
	result := resultStore
	sys, err := r.store.System(ctx, systemID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			metrics.RecordResolverLookup(string(KindSystem), resultError)
			return model.Location{}, err
		}
		result = resultCatalog
		if sys, err = r.catalog.System(ctx, systemID); err != nil {
			if catalog.IsNotFound(err) {
				metrics.RecordResolverLookup(string(KindSystem), resultNotFound)
				r.markNegative(Request{Kind: KindSystem, ID: systemID}.key())
				return model.Location{}, fmt.Errorf("%w: system %d", ErrNotFound, systemID)
			}
			metrics.RecordResolverLookup(string(KindSystem), resultError)
			return model.Location{}, err
		}
	}

	c, err := r.constellation(ctx, sys.ConstellationID)
	if err != nil {
		metrics.RecordResolverLookup(string(KindSystem), resultError)
		return model.Location{}, fmt.Errorf("system %d: %w", systemID, err)
	}
	if _, err := r.region(ctx, c.RegionID); err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordResolverLookup(string(KindSystem), resultError)
		return model.Location{}, fmt.Errorf("system %d: %w", systemID, err)
	}

	if result == resultCatalog {
		if err := r.store.SaveSystem(ctx, sys); err != nil {
			metrics.RecordResolverLookup(string(KindSystem), resultError)
			return model.Location{}, err
		}
	}
	metrics.RecordResolverLookup(string(KindSystem), result)

	loc := model.LocationOf(sys, c)
	r.rememberLocation(ctx, loc)
	return loc, nil
}

// rememberLocation caches loc and backfills rows recorded before it was known.
func (r *Resolver) rememberLocation(ctx context.Context, loc model.Location) {
	r.mu.Lock()
	r.locations[loc.SystemID] = loc
	r.mu.Unlock()
	// Rows recorded from here on may Require the system again.
	r.donePending(Request{Kind: KindSystem, ID: loc.SystemID}.key())
	r.backfill(ctx, loc)
}

func (r *Resolver) backfill(ctx context.Context, loc model.Location) {
	if r.backfiller == nil {
		return
	}
	if _, err := r.backfiller.BackfillLocation(ctx, loc); err != nil {
		r.logger.Warn(ctx, "location backfill failed",
			logger.Int64("system_id", loc.SystemID), logger.Error(err))
	}
}

func (r *Resolver) constellation(ctx context.Context, id int64) (model.Constellation, error) {
	r.mu.RLock()
	c, ok := r.constellations[id]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err := r.share(ctx, "constellation:"+strconv.FormatInt(id, 10), func(ctx context.Context) (any, error) {
		c, err := r.store.Constellation(ctx, id)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return model.Constellation{}, err
			}
			info, err := r.catalog.Constellation(ctx, id)
			if err != nil {
				if catalog.IsNotFound(err) {
					return model.Constellation{}, fmt.Errorf("%w: constellation %d", ErrNotFound, id)
				}
				return model.Constellation{}, err
			}
			c = info.Constellation
			if err := r.store.SaveConstellation(ctx, c); err != nil {
				return model.Constellation{}, err
			}
		}
		r.mu.Lock()
		r.constellations[c.ConstellationID] = c
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return model.Constellation{}, err
	}
	return v.(model.Constellation), nil
}

func (r *Resolver) region(ctx context.Context, id int64) (model.Region, error) {
	r.mu.RLock()
	reg, ok := r.regions[id]
	r.mu.RUnlock()
	if ok {
		return reg, nil
	}

	v, err := r.share(ctx, "region:"+strconv.FormatInt(id, 10), func(ctx context.Context) (any, error) {
		reg, err := r.store.Region(ctx, id)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return model.Region{}, err
			}
			info, err := r.catalog.Region(ctx, id)
			if err != nil {
				if catalog.IsNotFound(err) {
					return model.Region{}, fmt.Errorf("%w: region %d", ErrNotFound, id)
				}
				return model.Region{}, err
			}
			reg = info.Region
			if err := r.store.SaveRegion(ctx, reg); err != nil {
				return model.Region{}, err
			}
		}
		r.mu.Lock()
		r.regions[reg.RegionID] = reg
		r.mu.Unlock()
		return reg, nil
	})
	if err != nil {
		return model.Region{}, err
	}
	return v.(model.Region), nil
}
