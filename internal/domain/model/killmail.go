// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DayLayout formats aggregate days.
const DayLayout = "2006-01-02"

// FittedItem is one item on the victim ship at time of destruction.
type FittedItem struct {
	TypeID   int64 `json:"type_id"`
	Flag     int   `json:"flag"`
	Quantity int64 `json:"quantity"`
}

// RawEvent is one ingested killmail. It is never mutated after insert.
type RawEvent struct {
	KillmailID    int64
	Hash          string
	KillTime      time.Time
	SolarSystemID int64
	ShipTypeID    int64
	Items         []FittedItem
	// Payload is the feed package exactly as received.
	Payload json.RawMessage
}

// Day returns the UTC calendar day the kill happened on.
func (e *RawEvent) Day() string {
	return e.KillTime.UTC().Format(DayLayout)
}

// TypeIDs returns the distinct ship and item type IDs referenced by the event.
func (e *RawEvent) TypeIDs() []int64 {
	seen := make(map[int64]struct{}, len(e.Items)+1)
	out := make([]int64, 0, len(e.Items)+1)
	add := func(id int64) {
		if id <= 0 {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(e.ShipTypeID)
	for _, it := range e.Items {
		add(it.TypeID)
	}
	return out
}

// Wire shapes of a RedisQ package.
type feedPackage struct {
	KillID   int64         `json:"killID"`
	Killmail *feedKillmail `json:"killmail"`
	ZKB      struct {
		Hash string `json:"hash"`
	} `json:"zkb"`
}

type feedKillmail struct {
	KillmailID    int64  `json:"killmail_id"`
	KillmailTime  string `json:"killmail_time"`
	SolarSystemID int64  `json:"solar_system_id"`
	Victim        struct {
		ShipTypeID int64      `json:"ship_type_id"`
		Items      []feedItem `json:"items"`
	} `json:"victim"`
}

type feedItem struct {
	ItemTypeID        int64 `json:"item_type_id"`
	Flag              int   `json:"flag"`
	QuantityDestroyed int64 `json:"quantity_destroyed"`
	QuantityDropped   int64 `json:"quantity_dropped"`
}

// ParseKillmail decodes a feed package into a RawEvent. Any structural
// problem is reported as ErrMalformed.
func ParseKillmail(payload []byte) (RawEvent, error) {
	var pkg feedPackage
	if err := json.Unmarshal(payload, &pkg); err != nil {
		return RawEvent{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	km := pkg.Killmail
	switch {
	case pkg.KillID <= 0:
		return RawEvent{}, fmt.Errorf("%w: missing killID", ErrMalformed)
	case km == nil:
		return RawEvent{}, fmt.Errorf("%w: killmail %d has no body", ErrMalformed, pkg.KillID)
	case km.KillmailID != 0 && km.KillmailID != pkg.KillID:
		return RawEvent{}, fmt.Errorf("%w: killID %d does not match killmail_id %d", ErrMalformed, pkg.KillID, km.KillmailID)
	case strings.TrimSpace(pkg.ZKB.Hash) == "":
		return RawEvent{}, fmt.Errorf("%w: killmail %d has no hash", ErrMalformed, pkg.KillID)
	case km.Victim.ShipTypeID <= 0:
		return RawEvent{}, fmt.Errorf("%w: killmail %d has no victim ship", ErrMalformed, pkg.KillID)
	case km.SolarSystemID <= 0:
		return RawEvent{}, fmt.Errorf("%w: killmail %d has no solar system", ErrMalformed, pkg.KillID)
	}

	killTime, err := time.Parse(time.RFC3339, km.KillmailTime)
	if err != nil {
		return RawEvent{}, fmt.Errorf("%w: killmail %d time %q: %w", ErrMalformed, pkg.KillID, km.KillmailTime, err)
	}

	items := make([]FittedItem, 0, len(km.Victim.Items))
	for _, it := range km.Victim.Items {
		if it.ItemTypeID <= 0 {
			return RawEvent{}, fmt.Errorf("%w: killmail %d has an item without type", ErrMalformed, pkg.KillID)
		}
		items = append(items, FittedItem{
			TypeID:   it.ItemTypeID,
			Flag:     it.Flag,
			Quantity: it.QuantityDestroyed + it.QuantityDropped,
		})
	}

	return RawEvent{
		KillmailID:    pkg.KillID,
		Hash:          pkg.ZKB.Hash,
		KillTime:      killTime.UTC(),
		SolarSystemID: km.SolarSystemID,
		ShipTypeID:    km.Victim.ShipTypeID,
		Items:         items,
		Payload:       append(json.RawMessage(nil), payload...),
	}, nil
}
