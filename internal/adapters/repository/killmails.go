package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/pkg/logger"
)

// KillmailRecord is everything written for one ingested killmail.
type KillmailRecord struct {
	Event      model.RawEvent
	Signature  string
	SlotCounts map[string]int64
	Location   model.Location
	IngestedAt time.Time
}

// RecordKillmail inserts the raw row and increments both aggregates in one
// transaction. It reports false, with no aggregate change, when the
// killmail was already stored.
func (s *Store) RecordKillmail(ctx context.Context, rec KillmailRecord) (bool, error) {
	defer observe(time.Now())

	row, err := rawRow(rec)
	if err != nil {
		return false, err
	}
	now := rec.IngestedAt.UTC()

	inserted := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("insert killmail %d: %w", row.KillmailID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		inserted = true

		if err := upsertFit(tx, FitAggregateDaily{
			Day:          row.Day,
			ShipTypeID:   row.VictimShipTypeID,
			FitSignature: row.FitSignature,
			LossCount:    1,
			LastUpdated:  now,
		}); err != nil {
			return err
		}
		return upsertLocation(tx, LocationAggregateDaily{
			Day:             row.Day,
			ShipTypeID:      row.VictimShipTypeID,
			FitSignature:    row.FitSignature,
			SolarSystemID:   row.SolarSystemID,
			ConstellationID: rec.Location.ConstellationID,
			RegionID:        rec.Location.RegionID,
			SecurityZone:    string(rec.Location.Zone),
			LossCount:       1,
			LastUpdated:     now,
		})
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func upsertFit(tx *gorm.DB, agg FitAggregateDaily) error {
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "day"}, {Name: "ship_type_id"}, {Name: "fit_signature"}},
		DoUpdates: clause.Assignments(map[string]any{
			"loss_count":   gorm.Expr("fit_aggregate_daily.loss_count + ?", agg.LossCount),
			"last_updated": agg.LastUpdated,
		}),
	}).Create(&agg).Error
	if err != nil {
		return fmt.Errorf("increment fit aggregate: %w", err)
	}
	return nil
}

// upsertLocation increments a location row. An unresolved row (region 0)
// takes the location carried by the incoming row.
func upsertLocation(tx *gorm.DB, agg LocationAggregateDaily) error {
	const unresolved = "location_aggregate_daily.region_id = 0"
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "day"}, {Name: "ship_type_id"}, {Name: "fit_signature"}, {Name: "solar_system_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"loss_count":       gorm.Expr("location_aggregate_daily.loss_count + ?", agg.LossCount),
			"last_updated":     agg.LastUpdated,
			"constellation_id": gorm.Expr("CASE WHEN " + unresolved + " THEN excluded.constellation_id ELSE location_aggregate_daily.constellation_id END"),
			"region_id":        gorm.Expr("CASE WHEN " + unresolved + " THEN excluded.region_id ELSE location_aggregate_daily.region_id END"),
			"security_zone":    gorm.Expr("CASE WHEN " + unresolved + " THEN excluded.security_zone ELSE location_aggregate_daily.security_zone END"),
		}),
	}).Create(&agg).Error
	if err != nil {
		return fmt.Errorf("increment location aggregate: %w", err)
	}
	return nil
}

func rawRow(rec KillmailRecord) (KillmailRaw, error) {
	ev := rec.Event
	items, err := json.Marshal(ev.Items)
	if err != nil {
		return KillmailRaw{}, fmt.Errorf("encode items of killmail %d: %w", ev.KillmailID, err)
	}
	if ev.Items == nil {
		items = []byte("[]")
	}
	slots, err := json.Marshal(rec.SlotCounts)
	if err != nil {
		return KillmailRaw{}, fmt.Errorf("encode slot counts of killmail %d: %w", ev.KillmailID, err)
	}
	if rec.SlotCounts == nil {
		slots = []byte("{}")
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return KillmailRaw{
		KillmailID:       ev.KillmailID,
		KillmailHash:     ev.Hash,
		KillTime:         ev.KillTime.UTC(),
		Day:              ev.Day(),
		SolarSystemID:    ev.SolarSystemID,
		VictimShipTypeID: ev.ShipTypeID,
		FitSignature:     rec.Signature,
		Items:            datatypes.JSON(items),
		SlotCounts:       datatypes.JSON(slots),
		Payload:          datatypes.JSON(payload),
		IngestedAt:       rec.IngestedAt.UTC(),
	}, nil
}

// FittedItems decodes the stored item list.
func (k *KillmailRaw) FittedItems() ([]model.FittedItem, error) {
	var out []model.FittedItem
	if len(k.Items) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(k.Items, &out); err != nil {
		return nil, fmt.Errorf("decode items of killmail %d: %w", k.KillmailID, err)
	}
	return out, nil
}

// SlotCountMap decodes the stored slot counts.
func (k *KillmailRaw) SlotCountMap() (map[string]int64, error) {
	out := map[string]int64{}
	if len(k.SlotCounts) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(k.SlotCounts, &out); err != nil {
		return nil, fmt.Errorf("decode slot counts of killmail %d: %w", k.KillmailID, err)
	}
	return out, nil
}

// Killmail returns one stored killmail including its payload.
func (s *Store) Killmail(ctx context.Context, id int64) (KillmailRaw, error) {
	defer observe(time.Now())
	var row KillmailRaw
	if err := s.db.WithContext(ctx).First(&row, "killmail_id = ?", id).Error; err != nil {
		return KillmailRaw{}, notFound(err, "killmail", id)
	}
	return row, nil
}

// listColumns leaves out the payload, which list views never need.
var listColumns = []string{
	"killmail_id", "killmail_hash", "kill_time", "day", "solar_system_id",
	"victim_ship_type_id", "fit_signature", "items", "slot_counts", "ingested_at",
}

// Killmails pages through killmails, most recently ingested first.
func (s *Store) Killmails(ctx context.Context, limit, offset int) ([]KillmailRaw, int64, error) {
	defer observe(time.Now())
	var total int64
	if err := s.db.WithContext(ctx).Model(&KillmailRaw{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count killmails: %w", err)
	}
	var rows []KillmailRaw
	err := s.db.WithContext(ctx).
		Select(listColumns).
		Order("ingested_at DESC").Order("killmail_id DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list killmails: %w", err)
	}
	return rows, total, nil
}

// KillmailStats summarizes the raw table.
type KillmailStats struct {
	Total         int64
	FirstIngested *time.Time
	LastIngested  *time.Time
}

// Stats returns totals and the ingestion time range.
func (s *Store) Stats(ctx context.Context) (KillmailStats, error) {
	defer observe(time.Now())
	var out KillmailStats
	db := s.db.WithContext(ctx)
	if err := db.Model(&KillmailRaw{}).Count(&out.Total).Error; err != nil {
		return out, fmt.Errorf("count killmails: %w", err)
	}
	if out.Total == 0 {
		return out, nil
	}
	var first, last KillmailRaw
	if err := db.Select("ingested_at").Order("ingested_at ASC").Take(&first).Error; err != nil {
		return out, fmt.Errorf("first ingested: %w", err)
	}
	if err := db.Select("ingested_at").Order("ingested_at DESC").Take(&last).Error; err != nil {
		return out, fmt.Errorf("last ingested: %w", err)
	}
	f, l := first.IngestedAt.UTC(), last.IngestedAt.UTC()
	out.FirstIngested, out.LastIngested = &f, &l
	return out, nil
}

// CountKillmails returns the number of stored killmails.
func (s *Store) CountKillmails(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&KillmailRaw{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count killmails: %w", err)
	}
	return n, nil
}

// ExampleKillmails returns the most recent killmails with the signature.
func (s *Store) ExampleKillmails(ctx context.Context, signature string, limit int) ([]KillmailRaw, error) {
	defer observe(time.Now())
	var rows []KillmailRaw
	err := s.db.WithContext(ctx).
		Select(listColumns).
		Where("fit_signature = ?", signature).
		Order("kill_time DESC").Order("killmail_id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("example killmails for %s: %w", signature, err)
	}
	return rows, nil
}

// CountBySignature returns how many killmails carry the signature.
func (s *Store) CountBySignature(ctx context.Context, signature string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&KillmailRaw{}).Where("fit_signature = ?", signature).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count signature %s: %w", signature, err)
	}
	return n, nil
}

// RecentKillmailIDs returns up to n IDs, most recently ingested first.
func (s *Store) RecentKillmailIDs(ctx context.Context, n int) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&KillmailRaw{}).
		Order("ingested_at DESC").Order("killmail_id DESC").
		Limit(n).
		Pluck("killmail_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("recent killmail ids: %w", err)
	}
	return ids, nil
}

// EachKillmailOfDay streams the killmails of day in batches.
func (s *Store) EachKillmailOfDay(ctx context.Context, day string, fn func([]KillmailRaw) error) error {
	var batch []KillmailRaw
	res := s.db.WithContext(ctx).
		Select("killmail_id", "day", "solar_system_id", "victim_ship_type_id", "fit_signature").
		Where("day = ?", day).
		FindInBatches(&batch, s.batchSize, func(_ *gorm.DB, _ int) error {
			return fn(batch)
		})
	if res.Error != nil {
		return fmt.Errorf("scan day %s: %w", day, res.Error)
	}
	return nil
}

// ReferencedTypeIDs returns every distinct ship and item type ID found in
// stored killmails.
func (s *Store) ReferencedTypeIDs(ctx context.Context) ([]int64, error) {
	seen := make(map[int64]struct{})
	var out []int64
	add := func(id int64) {
		if id <= 0 {
			return
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	var batch []KillmailRaw
	res := s.db.WithContext(ctx).
		Select("killmail_id", "victim_ship_type_id", "items").
		FindInBatches(&batch, s.batchSize, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				add(batch[i].VictimShipTypeID)
				items, err := batch[i].FittedItems()
				if err != nil {
					s.logger.Warn(ctx, "skipping undecodable items", logger.Int64("killmail_id", batch[i].KillmailID), logger.Error(err))
					continue
				}
				for _, it := range items {
					add(it.TypeID)
				}
			}
			return nil
		})
	if res.Error != nil {
		return nil, fmt.Errorf("referenced type ids: %w", res.Error)
	}
	return out, nil
}

// DaysWithKillmails returns the distinct days between from and to
// (inclusive) that have at least one killmail.
func (s *Store) DaysWithKillmails(ctx context.Context, from, to string) ([]string, error) {
	var days []string
	err := s.db.WithContext(ctx).Model(&KillmailRaw{}).
		Distinct("day").
		Where("day BETWEEN ? AND ?", from, to).
		Order("day").
		Pluck("day", &days).Error
	if err != nil {
		return nil, fmt.Errorf("days with killmails: %w", err)
	}
	return days, nil
}

// CountKillmailsOfDay returns the number of killmails on day.
func (s *Store) CountKillmailsOfDay(ctx context.Context, day string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&KillmailRaw{}).Where("day = ?", day).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count day %s: %w", day, err)
	}
	return n, nil
}

// ToEvent converts a stored row back into a RawEvent.
func (k *KillmailRaw) ToEvent() (model.RawEvent, error) {
	items, err := k.FittedItems()
	if err != nil {
		return model.RawEvent{}, err
	}
	return model.RawEvent{
		KillmailID:    k.KillmailID,
		Hash:          k.KillmailHash,
		KillTime:      k.KillTime.UTC(),
		SolarSystemID: k.SolarSystemID,
		ShipTypeID:    k.VictimShipTypeID,
		Items:         items,
		Payload:       json.RawMessage(k.Payload),
	}, nil
}
