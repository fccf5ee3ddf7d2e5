package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/lostfits/internal/adapters/repository"
	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/pkg/logger"
)

// Progress reports how far a bulk job got.
type Progress struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Resolved  int64 `json:"resolved"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
}

// ProgressFunc receives progress snapshots while a bulk job runs.
type ProgressFunc func(Progress)

func (p ProgressFunc) report(pr Progress) {
	if p != nil {
		p(pr)
	}
}

// ReseedTypes resolves every id that is not stored yet. Stored IDs are
// skipped, so an interrupted run picks up where it stopped.
func (r *Resolver) ReseedTypes(ctx context.Context, ids []int64, progress ProgressFunc) (Progress, error) {
	pr := Progress{Total: int64(len(ids))}

	stored, err := r.store.StoredIDs(ctx, repository.KindType, ids)
	if err != nil {
		return pr, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return pr, err
		}
		pr.Processed++
		if _, ok := stored[id]; ok {
			pr.Skipped++
			progress.report(pr)
			continue
		}

		switch _, err := r.Resolve(ctx, id); {
		case err == nil:
			pr.Resolved++
		case ctx.Err() != nil:
			return pr, ctx.Err()
		default:
			pr.Failed++
			if !errors.Is(err, ErrNotFound) {
				r.logger.Warn(ctx, "reseed type failed", logger.Int64("type_id", id), logger.Error(err))
			}
		}
		progress.report(pr)
	}

	r.logger.Info(ctx, "type reseed finished",
		logger.Int64("resolved", pr.Resolved), logger.Int64("skipped", pr.Skipped), logger.Int64("failed", pr.Failed))
	return pr, nil
}

// SeedUniverse walks regions, constellations and systems from the catalog
// and stores what is missing. A constellation is stored only after all of
// its systems, and a region after all of its constellations, so a stored
// parent always means a complete subtree and reruns skip it.
func (r *Resolver) SeedUniverse(ctx context.Context, progress ProgressFunc) (Progress, error) {
	var pr Progress

	regionIDs, err := r.catalog.RegionIDs(ctx)
	if err != nil {
		return pr, fmt.Errorf("seed universe: %w", err)
	}
	pr.Total = int64(len(regionIDs))

	storedRegions, err := r.store.StoredIDs(ctx, repository.KindRegion, regionIDs)
	if err != nil {
		return pr, err
	}

	for _, regionID := range regionIDs {
		if err := ctx.Err(); err != nil {
			return pr, err
		}
		pr.Processed++
		if _, ok := storedRegions[regionID]; ok {
			pr.Skipped++
			progress.report(pr)
			continue
		}

		if err := r.seedRegion(ctx, regionID); err != nil {
			if ctx.Err() != nil {
				return pr, ctx.Err()
			}
			pr.Failed++
			r.logger.Warn(ctx, "seed region failed", logger.Int64("region_id", regionID), logger.Error(err))
		} else {
			pr.Resolved++
		}
		progress.report(pr)
	}

	r.logger.Info(ctx, "universe seed finished",
		logger.Int64("regions", pr.Resolved), logger.Int64("skipped", pr.Skipped), logger.Int64("failed", pr.Failed))
	return pr, nil
}

func (r *Resolver) seedRegion(ctx context.Context, regionID int64) error {
	info, err := r.catalog.Region(ctx, regionID)
	if err != nil {
		return err
	}

	stored, err := r.store.StoredIDs(ctx, repository.KindConstellation, info.Constellations)
	if err != nil {
		return err
	}
	for _, cid := range info.Constellations {
		if _, ok := stored[cid]; ok {
			continue
		}
		if err := r.seedConstellation(ctx, cid); err != nil {
			return fmt.Errorf("constellation %d: %w", cid, err)
		}
	}

	if err := r.store.SaveRegion(ctx, info.Region); err != nil {
		return err
	}
	r.mu.Lock()
	r.regions[info.RegionID] = info.Region
	r.mu.Unlock()
	return nil
}

func (r *Resolver) seedConstellation(ctx context.Context, constellationID int64) error {
	info, err := r.catalog.Constellation(ctx, constellationID)
	if err != nil {
		return err
	}
	c := info.Constellation

	stored, err := r.store.StoredIDs(ctx, repository.KindSystem, info.Systems)
	if err != nil {
		return err
	}
	systems := make([]model.SolarSystem, 0, len(info.Systems))
	for _, sid := range info.Systems {
		if _, ok := stored[sid]; ok {
			continue
		}
		sys, err := r.catalog.System(ctx, sid)
		if err != nil {
			return fmt.Errorf("system %d: %w", sid, err)
		}
		if err := r.store.SaveSystem(ctx, sys); err != nil {
			return err
		}
		systems = append(systems, sys)
	}

	if err := r.store.SaveConstellation(ctx, c); err != nil {
		return err
	}
	r.mu.Lock()
	r.constellations[c.ConstellationID] = c
	r.mu.Unlock()

	for _, sys := range systems {
		r.rememberLocation(ctx, model.LocationOf(sys, c))
	}
	return nil
}
