package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/okian/lostfits/internal/domain/model"
)

// inChunk bounds IN lists; SQLite caps bound parameters per statement.
const inChunk = 500

func chunks(ids []int64, fn func([]int64) error) error {
	for start := 0; start < len(ids); start += inChunk {
		end := min(start+inChunk, len(ids))
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func upsertAll(tx *gorm.DB, key string, row any) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: key}},
		UpdateAll: true,
	}).Create(row).Error
}

// SaveItemType stores or refreshes a type.
func (s *Store) SaveItemType(ctx context.Context, t model.ItemType) error {
	row := ItemTypeRow{TypeID: t.TypeID, Name: t.Name, GroupID: t.GroupID, CategoryID: t.CategoryID, FetchedAt: time.Now().UTC()}
	if err := upsertAll(s.db.WithContext(ctx), "type_id", &row); err != nil {
		return fmt.Errorf("save type %d: %w", t.TypeID, err)
	}
	return nil
}

// ItemType returns a stored type.
func (s *Store) ItemType(ctx context.Context, id int64) (model.ItemType, error) {
	var row ItemTypeRow
	if err := s.db.WithContext(ctx).First(&row, "type_id = ?", id).Error; err != nil {
		return model.ItemType{}, notFound(err, "type", id)
	}
	return row.model(), nil
}

// ItemTypes returns the stored subset of ids.
func (s *Store) ItemTypes(ctx context.Context, ids []int64) (map[int64]model.ItemType, error) {
	out := make(map[int64]model.ItemType, len(ids))
	err := chunks(ids, func(part []int64) error {
		var rows []ItemTypeRow
		if err := s.db.WithContext(ctx).Where("type_id IN ?", part).Find(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			out[r.TypeID] = r.model()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load types: %w", err)
	}
	return out, nil
}

// SearchItemTypes pages through types whose name contains search, ordered by name.
func (s *Store) SearchItemTypes(ctx context.Context, search string, limit, offset int) ([]model.ItemType, int64, error) {
	defer observe(time.Now())
	q := s.db.WithContext(ctx).Model(&ItemTypeRow{})
	if search = strings.TrimSpace(search); search != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count types: %w", err)
	}
	var rows []ItemTypeRow
	if err := q.Order("name").Order("type_id").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("search types: %w", err)
	}
	out := make([]model.ItemType, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, total, nil
}

// CountItemTypes returns the number of cached types.
func (s *Store) CountItemTypes(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ItemTypeRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count types: %w", err)
	}
	return n, nil
}

func (r ItemTypeRow) model() model.ItemType {
	return model.ItemType{TypeID: r.TypeID, Name: r.Name, GroupID: r.GroupID, CategoryID: r.CategoryID}
}

// SaveItemGroup stores or refreshes a group.
func (s *Store) SaveItemGroup(ctx context.Context, g model.ItemGroup) error {
	row := ItemGroupRow{GroupID: g.GroupID, Name: g.Name, CategoryID: g.CategoryID, FetchedAt: time.Now().UTC()}
	if err := upsertAll(s.db.WithContext(ctx), "group_id", &row); err != nil {
		return fmt.Errorf("save group %d: %w", g.GroupID, err)
	}
	return nil
}

// ItemGroup returns a stored group.
func (s *Store) ItemGroup(ctx context.Context, id int64) (model.ItemGroup, error) {
	var row ItemGroupRow
	if err := s.db.WithContext(ctx).First(&row, "group_id = ?", id).Error; err != nil {
		return model.ItemGroup{}, notFound(err, "group", id)
	}
	return model.ItemGroup{GroupID: row.GroupID, Name: row.Name, CategoryID: row.CategoryID}, nil
}

// SaveRegion stores or refreshes a region.
func (s *Store) SaveRegion(ctx context.Context, r model.Region) error {
	if err := upsertAll(s.db.WithContext(ctx), "region_id", &RegionRow{RegionID: r.RegionID, Name: r.Name}); err != nil {
		return fmt.Errorf("save region %d: %w", r.RegionID, err)
	}
	return nil
}

// SaveConstellation stores or refreshes a constellation.
func (s *Store) SaveConstellation(ctx context.Context, c model.Constellation) error {
	row := ConstellationRow{ConstellationID: c.ConstellationID, Name: c.Name, RegionID: c.RegionID}
	if err := upsertAll(s.db.WithContext(ctx), "constellation_id", &row); err != nil {
		return fmt.Errorf("save constellation %d: %w", c.ConstellationID, err)
	}
	return nil
}

// SaveSystem stores or refreshes a solar system.
func (s *Store) SaveSystem(ctx context.Context, sys model.SolarSystem) error {
	row := SolarSystemRow{SystemID: sys.SystemID, Name: sys.Name, ConstellationID: sys.ConstellationID, SecurityStatus: sys.SecurityStatus}
	if err := upsertAll(s.db.WithContext(ctx), "system_id", &row); err != nil {
		return fmt.Errorf("save system %d: %w", sys.SystemID, err)
	}
	return nil
}

// Region returns a stored region.
func (s *Store) Region(ctx context.Context, id int64) (model.Region, error) {
	var row RegionRow
	if err := s.db.WithContext(ctx).First(&row, "region_id = ?", id).Error; err != nil {
		return model.Region{}, notFound(err, "region", id)
	}
	return model.Region{RegionID: row.RegionID, Name: row.Name}, nil
}

// Constellation returns a stored constellation.
func (s *Store) Constellation(ctx context.Context, id int64) (model.Constellation, error) {
	var row ConstellationRow
	if err := s.db.WithContext(ctx).First(&row, "constellation_id = ?", id).Error; err != nil {
		return model.Constellation{}, notFound(err, "constellation", id)
	}
	return row.model(), nil
}

// System returns a stored solar system.
func (s *Store) System(ctx context.Context, id int64) (model.SolarSystem, error) {
	var row SolarSystemRow
	if err := s.db.WithContext(ctx).First(&row, "system_id = ?", id).Error; err != nil {
		return model.SolarSystem{}, notFound(err, "system", id)
	}
	return row.model(), nil
}

func (r ConstellationRow) model() model.Constellation {
	return model.Constellation{ConstellationID: r.ConstellationID, Name: r.Name, RegionID: r.RegionID}
}

func (r SolarSystemRow) model() model.SolarSystem {
	return model.SolarSystem{SystemID: r.SystemID, Name: r.Name, ConstellationID: r.ConstellationID, SecurityStatus: r.SecurityStatus}
}

// Regions lists stored regions by name. A non-empty ids restricts the result.
func (s *Store) Regions(ctx context.Context, ids []int64) ([]model.Region, error) {
	q := s.db.WithContext(ctx).Order("name").Order("region_id")
	if len(ids) > 0 {
		q = q.Where("region_id IN ?", ids)
	}
	var rows []RegionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	out := make([]model.Region, len(rows))
	for i, r := range rows {
		out[i] = model.Region{RegionID: r.RegionID, Name: r.Name}
	}
	return out, nil
}

// ConstellationQuery restricts a constellation listing.
type ConstellationQuery struct {
	IDs       []int64
	RegionIDs []int64
}

// Constellations lists stored constellations by name.
func (s *Store) Constellations(ctx context.Context, cq ConstellationQuery) ([]model.Constellation, error) {
	q := s.db.WithContext(ctx).Order("name").Order("constellation_id")
	if len(cq.IDs) > 0 {
		q = q.Where("constellation_id IN ?", cq.IDs)
	}
	if len(cq.RegionIDs) > 0 {
		q = q.Where("region_id IN ?", cq.RegionIDs)
	}
	var rows []ConstellationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list constellations: %w", err)
	}
	out := make([]model.Constellation, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// SystemQuery restricts a system listing.
type SystemQuery struct {
	IDs              []int64
	ConstellationIDs []int64
	RegionIDs        []int64
}

// Systems lists stored systems by name.
func (s *Store) Systems(ctx context.Context, sq SystemQuery) ([]model.SolarSystem, error) {
	q := s.db.WithContext(ctx).Model(&SolarSystemRow{}).
		Select("solar_system.*").
		Order("solar_system.name").Order("solar_system.system_id")
	if len(sq.IDs) > 0 {
		q = q.Where("solar_system.system_id IN ?", sq.IDs)
	}
	if len(sq.ConstellationIDs) > 0 {
		q = q.Where("solar_system.constellation_id IN ?", sq.ConstellationIDs)
	}
	if len(sq.RegionIDs) > 0 {
		q = q.Joins("JOIN constellation ON constellation.constellation_id = solar_system.constellation_id").
			Where("constellation.region_id IN ?", sq.RegionIDs)
	}
	var rows []SolarSystemRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list systems: %w", err)
	}
	out := make([]model.SolarSystem, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// Locations joins stored systems with their constellations. Systems that
// are missing, or whose constellation is missing, are absent from the result.
func (s *Store) Locations(ctx context.Context, systemIDs []int64) (map[int64]model.Location, error) {
	out := make(map[int64]model.Location, len(systemIDs))
	err := chunks(systemIDs, func(part []int64) error {
		systems, err := s.Systems(ctx, SystemQuery{IDs: part})
		if err != nil {
			return err
		}
		conIDs := make([]int64, 0, len(systems))
		for _, sys := range systems {
			conIDs = append(conIDs, sys.ConstellationID)
		}
		cons, err := s.Constellations(ctx, ConstellationQuery{IDs: conIDs})
		if err != nil {
			return err
		}
		byID := make(map[int64]model.Constellation, len(cons))
		for _, c := range cons {
			byID[c.ConstellationID] = c
		}
		for _, sys := range systems {
			if c, ok := byID[sys.ConstellationID]; ok {
				out[sys.SystemID] = model.LocationOf(sys, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reference kinds accepted by StoredIDs.
const (
	KindType          = "type"
	KindRegion        = "region"
	KindConstellation = "constellation"
	KindSystem        = "system"
)

// StoredIDs reports which of ids already exist for a reference kind.
func (s *Store) StoredIDs(ctx context.Context, kind string, ids []int64) (map[int64]struct{}, error) {
	var table, key string
	switch kind {
	case KindType:
		table, key = "item_type", "type_id"
	case KindRegion:
		table, key = "region", "region_id"
	case KindConstellation:
		table, key = "constellation", "constellation_id"
	case KindSystem:
		table, key = "solar_system", "system_id"
	default:
		return nil, fmt.Errorf("stored ids: unknown kind %q", kind)
	}
	out := make(map[int64]struct{}, len(ids))
	err := chunks(ids, func(part []int64) error {
		var found []int64
		if err := s.db.WithContext(ctx).Table(table).Where(key+" IN ?", part).Pluck(key, &found).Error; err != nil {
			return err
		}
		for _, id := range found {
			out[id] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stored %s ids: %w", kind, err)
	}
	return out, nil
}
