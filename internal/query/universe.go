package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/lostfits/internal/adapters/cache"
	"github.com/okian/lostfits/internal/adapters/repository"
	"github.com/okian/lostfits/internal/domain/model"
)

// Stats is the response of Stats.
type Stats struct {
	TotalKillmails int64      `json:"total_killmails"`
	TotalItemTypes int64      `json:"total_item_types"`
	FirstIngested  *time.Time `json:"first_ingested"`
	LastIngested   *time.Time `json:"last_ingested"`
}

// Stats summarizes what has been ingested.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return cache.Remember(ctx, s.cache, queryPrefix+"stats", s.cacheTTL, func(ctx context.Context) (Stats, error) {
		ks, err := s.store.Stats(ctx)
		if err != nil {
			return Stats{}, err
		}
		types, err := s.store.CountItemTypes(ctx)
		if err != nil {
			return Stats{}, err
		}
		return Stats{
			TotalKillmails: ks.Total,
			TotalItemTypes: types,
			FirstIngested:  ks.FirstIngested,
			LastIngested:   ks.LastIngested,
		}, nil
	})
}

// RegionList is the response of Regions.
type RegionList struct {
	Total   int            `json:"total"`
	Regions []model.Region `json:"regions"`
}

// Regions lists every stored region. Cached until the next universe seed.
func (s *Service) Regions(ctx context.Context) (RegionList, error) {
	return cache.Remember(ctx, s.cache, universePrefix+"regions", 0, func(ctx context.Context) (RegionList, error) {
		rows, err := s.store.Regions(ctx, nil)
		if err != nil {
			return RegionList{}, err
		}
		return RegionList{Total: len(rows), Regions: nonNil(rows)}, nil
	})
}

// ConstellationList is the response of Constellations.
type ConstellationList struct {
	Total          int                   `json:"total"`
	Constellations []model.Constellation `json:"constellations"`
}

// Constellations lists stored constellations, optionally of some regions.
func (s *Service) Constellations(ctx context.Context, regionIDs []int64) (ConstellationList, error) {
	key := universePrefix + "constellations:" + joinIDs(regionIDs)
	return cache.Remember(ctx, s.cache, key, 0, func(ctx context.Context) (ConstellationList, error) {
		rows, err := s.store.Constellations(ctx, repository.ConstellationQuery{RegionIDs: regionIDs})
		if err != nil {
			return ConstellationList{}, err
		}
		return ConstellationList{Total: len(rows), Constellations: nonNil(rows)}, nil
	})
}

// SystemList is the response of Systems.
type SystemList struct {
	Total   int                 `json:"total"`
	Systems []model.SolarSystem `json:"systems"`
}

// Systems lists stored systems, optionally of some constellations or regions.
func (s *Service) Systems(ctx context.Context, constellationIDs, regionIDs []int64) (SystemList, error) {
	key := universePrefix + "systems:" + joinIDs(constellationIDs) + ":" + joinIDs(regionIDs)
	return cache.Remember(ctx, s.cache, key, 0, func(ctx context.Context) (SystemList, error) {
		rows, err := s.store.Systems(ctx, repository.SystemQuery{ConstellationIDs: constellationIDs, RegionIDs: regionIDs})
		if err != nil {
			return SystemList{}, err
		}
		return SystemList{Total: len(rows), Systems: nonNil(rows)}, nil
	})
}

// ItemTypeList is one page of an item type search.
type ItemTypeList struct {
	Total     int64            `json:"total"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
	ItemTypes []model.ItemType `json:"item_types"`
}

// ItemTypes searches stored item types by name.
func (s *Service) ItemTypes(ctx context.Context, search string, limit, offset int) (ItemTypeList, error) {
	rows, total, err := s.store.SearchItemTypes(ctx, strings.TrimSpace(search), limit, offset)
	if err != nil {
		return ItemTypeList{}, err
	}
	return ItemTypeList{Total: total, Limit: limit, Offset: offset, ItemTypes: nonNil(rows)}, nil
}

// KillmailSummary is one row of the killmail list.
type KillmailSummary struct {
	KillmailID       int64     `json:"killmail_id"`
	KillmailHash     string    `json:"killmail_hash"`
	KillTime         time.Time `json:"kill_time"`
	SolarSystemID    int64     `json:"solar_system_id"`
	VictimShipTypeID int64     `json:"victim_ship_type_id"`
	FitSignature     string    `json:"fit_signature"`
	IngestedAt       time.Time `json:"ingested_at"`
}

// KillmailList is one page of killmails.
type KillmailList struct {
	Total     int64             `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
	Killmails []KillmailSummary `json:"killmails"`
}

// Killmails pages through stored killmails, most recently ingested first.
func (s *Service) Killmails(ctx context.Context, limit, offset int) (KillmailList, error) {
	rows, total, err := s.store.Killmails(ctx, limit, offset)
	if err != nil {
		return KillmailList{}, err
	}
	out := KillmailList{Total: total, Limit: limit, Offset: offset, Killmails: make([]KillmailSummary, len(rows))}
	for i, k := range rows {
		out.Killmails[i] = summary(k)
	}
	return out, nil
}

// KillmailDetail is a stored killmail with its decoded items and payload.
type KillmailDetail struct {
	KillmailSummary
	Items      []model.FittedItem `json:"items"`
	SlotCounts map[string]int64   `json:"slot_counts"`
	Payload    json.RawMessage    `json:"payload"`
}

// Killmail returns one stored killmail, or ErrNotFound.
func (s *Service) Killmail(ctx context.Context, id int64) (KillmailDetail, error) {
	k, err := s.store.Killmail(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return KillmailDetail{}, fmt.Errorf("%w: killmail %d", ErrNotFound, id)
	}
	if err != nil {
		return KillmailDetail{}, err
	}
	items, err := k.FittedItems()
	if err != nil {
		return KillmailDetail{}, err
	}
	slots, err := k.SlotCountMap()
	if err != nil {
		return KillmailDetail{}, err
	}
	return KillmailDetail{
		KillmailSummary: summary(k),
		Items:           nonNil(items),
		SlotCounts:      slots,
		Payload:         json.RawMessage(k.Payload),
	}, nil
}

func summary(k repository.KillmailRaw) KillmailSummary {
	return KillmailSummary{
		KillmailID:       k.KillmailID,
		KillmailHash:     k.KillmailHash,
		KillTime:         k.KillTime.UTC(),
		SolarSystemID:    k.SolarSystemID,
		VictimShipTypeID: k.VictimShipTypeID,
		FitSignature:     k.FitSignature,
		IngestedAt:       k.IngestedAt.UTC(),
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
