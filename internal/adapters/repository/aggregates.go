package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/okian/lostfits/internal/domain/model"
)

// IDSet selects rows whose column is in (or, with Exclude, not in) IDs.
// An empty set selects everything.
type IDSet struct {
	IDs     []int64
	Exclude bool
}

// ZoneSet is IDSet for security zones.
type ZoneSet struct {
	Zones   []model.Zone
	Exclude bool
}

// Filter narrows aggregate reads. Days are inclusive YYYY-MM-DD bounds.
type Filter struct {
	From           string
	To             string
	Signature      string
	Ships          IDSet
	Regions        IDSet
	Constellations IDSet
	Systems        IDSet
	Zones          ZoneSet
}

func (f Filter) scope(db *gorm.DB) *gorm.DB {
	db = db.Where("day BETWEEN ? AND ?", f.From, f.To)
	if f.Signature != "" {
		db = db.Where("fit_signature = ?", f.Signature)
	}
	db = f.Ships.apply(db, "ship_type_id")
	db = f.Regions.apply(db, "region_id")
	db = f.Constellations.apply(db, "constellation_id")
	db = f.Systems.apply(db, "solar_system_id")
	if len(f.Zones.Zones) > 0 {
		zones := make([]string, len(f.Zones.Zones))
		for i, z := range f.Zones.Zones {
			zones[i] = string(z)
		}
		if f.Zones.Exclude {
			db = db.Where("security_zone NOT IN ?", zones)
		} else {
			db = db.Where("security_zone IN ?", zones)
		}
	}
	return db
}

func (s IDSet) apply(db *gorm.DB, column string) *gorm.DB {
	if len(s.IDs) == 0 {
		return db
	}
	if s.Exclude {
		return db.Where(column+" NOT IN ?", s.IDs)
	}
	return db.Where(column+" IN ?", s.IDs)
}

// sumLosses is portable across PostgreSQL, whose SUM(bigint) is numeric,
// and SQLite.
const sumLosses = "CAST(SUM(loss_count) AS BIGINT) AS losses"

// ShipLosses is a ship and its loss count.
type ShipLosses struct {
	ShipTypeID int64
	Losses     int64
}

// FitLosses is a fit and its loss count.
type FitLosses struct {
	ShipTypeID   int64
	FitSignature string
	Losses       int64
}

// Dimension is a location grouping.
type Dimension string

// Location dimensions.
const (
	DimensionZone          Dimension = "security_zone"
	DimensionRegion        Dimension = "region_id"
	DimensionConstellation Dimension = "constellation_id"
	DimensionSystem        Dimension = "solar_system_id"
)

// LocationLosses is one bucket of a location breakdown. Zone is set for
// DimensionZone, ID for the others.
type LocationLosses struct {
	ID     int64
	Zone   string
	Losses int64
}

func (s *Store) locations(ctx context.Context, f Filter) *gorm.DB {
	return s.db.WithContext(ctx).Model(&LocationAggregateDaily{}).Scopes(f.scope)
}

// TopShips ranks ships by losses.
func (s *Store) TopShips(ctx context.Context, f Filter, limit int) ([]ShipLosses, error) {
	defer observe(time.Now())
	var out []ShipLosses
	err := s.locations(ctx, f).
		Select("ship_type_id, " + sumLosses).
		Group("ship_type_id").
		Order("losses DESC").Order("ship_type_id ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("top ships: %w", err)
	}
	return out, nil
}

// TopFits ranks fits by losses.
func (s *Store) TopFits(ctx context.Context, f Filter, limit int) ([]FitLosses, error) {
	defer observe(time.Now())
	var out []FitLosses
	err := s.locations(ctx, f).
		Select("ship_type_id, fit_signature, " + sumLosses).
		Group("ship_type_id, fit_signature").
		Order("losses DESC").Order("fit_signature ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("top fits: %w", err)
	}
	return out, nil
}

// TotalLosses sums losses under f.
func (s *Store) TotalLosses(ctx context.Context, f Filter) (int64, error) {
	defer observe(time.Now())
	var total int64
	err := s.locations(ctx, f).
		Select("COALESCE(CAST(SUM(loss_count) AS BIGINT), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("total losses: %w", err)
	}
	return total, nil
}

// LossesBy breaks losses under f down by dim. limit <= 0 returns every bucket.
func (s *Store) LossesBy(ctx context.Context, f Filter, dim Dimension, limit int) ([]LocationLosses, error) {
	defer observe(time.Now())
	col := string(dim)
	sel := col + " AS id, " + sumLosses
	if dim == DimensionZone {
		sel = col + " AS zone, " + sumLosses
	}
	q := s.locations(ctx, f).
		Select(sel).
		Group(col).
		Order("losses DESC").Order(col + " ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []LocationLosses
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("losses by %s: %w", col, err)
	}
	return out, nil
}

// ShipTypeIDs returns every ship present in the fit aggregates.
func (s *Store) ShipTypeIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&FitAggregateDaily{}).
		Distinct("ship_type_id").
		Order("ship_type_id").
		Pluck("ship_type_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("ship type ids: %w", err)
	}
	return ids, nil
}

// SumFitLossesOfDay sums fit aggregate losses on day.
func (s *Store) SumFitLossesOfDay(ctx context.Context, day string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&FitAggregateDaily{}).
		Where("day = ?", day).
		Select("COALESCE(CAST(SUM(loss_count) AS BIGINT), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum fit losses of %s: %w", day, err)
	}
	return total, nil
}

// ReplaceDay swaps every aggregate row of day for the given rows in one
// transaction. killmails is the raw count the rows were built from; when the
// day holds a different count by the time the rows are written, nothing
// changes and ErrDayChanged is returned.
func (s *Store) ReplaceDay(ctx context.Context, day string, killmails int64, fits []FitAggregateDaily, locs []LocationAggregateDaily) error {
	defer observe(time.Now())
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("day = ?", day).Delete(&FitAggregateDaily{}).Error; err != nil {
			return fmt.Errorf("clear fit aggregates of %s: %w", day, err)
		}
		if err := tx.Where("day = ?", day).Delete(&LocationAggregateDaily{}).Error; err != nil {
			return fmt.Errorf("clear location aggregates of %s: %w", day, err)
		}
		if len(fits) > 0 {
			if err := tx.CreateInBatches(fits, s.batchSize).Error; err != nil {
				return fmt.Errorf("write fit aggregates of %s: %w", day, err)
			}
		}
		if len(locs) > 0 {
			if err := tx.CreateInBatches(locs, s.batchSize).Error; err != nil {
				return fmt.Errorf("write location aggregates of %s: %w", day, err)
			}
		}
		// A killmail committed after the caller's scan had its increments
		// deleted above.
		var n int64
		if err := tx.Model(&KillmailRaw{}).Where("day = ?", day).Count(&n).Error; err != nil {
			return fmt.Errorf("count day %s: %w", day, err)
		}
		if n != killmails {
			return fmt.Errorf("%w: %s has %d, rows built from %d", ErrDayChanged, day, n, killmails)
		}
		return nil
	})
}

// BackfillLocation fills in unresolved location rows of loc's system.
func (s *Store) BackfillLocation(ctx context.Context, loc model.Location) (int64, error) {
	if !loc.Resolved() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&LocationAggregateDaily{}).
		Where("solar_system_id = ? AND region_id = 0", loc.SystemID).
		Updates(map[string]any{
			"constellation_id": loc.ConstellationID,
			"region_id":        loc.RegionID,
			"security_zone":    string(loc.Zone),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("backfill system %d: %w", loc.SystemID, res.Error)
	}
	return res.RowsAffected, nil
}

// UnresolvedSystemIDs returns systems that still have unresolved location rows.
func (s *Store) UnresolvedSystemIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&LocationAggregateDaily{}).
		Distinct("solar_system_id").
		Where("region_id = 0").
		Pluck("solar_system_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("unresolved systems: %w", err)
	}
	return ids, nil
}
