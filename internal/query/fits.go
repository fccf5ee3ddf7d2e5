package query

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/okian/lostfits/internal/adapters/cache"
	"github.com/okian/lostfits/internal/domain/fit"
)

// ShipEntry is one ranked ship.
type ShipEntry struct {
	ShipTypeID  int64   `json:"ship_type_id"`
	ShipName    string  `json:"ship_name"`
	TotalLosses int64   `json:"total_losses"`
	Percentage  float64 `json:"percentage"`
}

// PopularShips is the response of PopularShips.
type PopularShips struct {
	Window
	Found        bool        `json:"found"`
	TotalLosses  int64       `json:"total_losses"`
	TotalResults int         `json:"total_results"`
	Ships        []ShipEntry `json:"ships"`
}

// PopularShips ranks ships by losses in the window.
func (s *Service) PopularShips(ctx context.Context, p Params) (PopularShips, error) {
	w := s.window(p.Days)
	key := queryPrefix + "ships:" + w.EndDate + ":" + p.key()
	return cache.Remember(ctx, s.cache, key, s.cacheTTL, func(ctx context.Context) (PopularShips, error) {
		f := s.filter(w, p, "")
		total, err := s.store.TotalLosses(ctx, f)
		if err != nil {
			return PopularShips{}, err
		}
		rows, err := s.store.TopShips(ctx, f, p.Limit)
		if err != nil {
			return PopularShips{}, err
		}

		ids := make([]int64, len(rows))
		counts := make([]int64, len(rows))
		for i, r := range rows {
			ids[i], counts[i] = r.ShipTypeID, r.Losses
		}
		names, err := s.names(ctx, ids)
		if err != nil {
			return PopularShips{}, err
		}
		pct := Percentages(counts, total)

		out := PopularShips{Window: w, Found: total > 0, TotalLosses: total, Ships: make([]ShipEntry, len(rows))}
		for i, r := range rows {
			out.Ships[i] = ShipEntry{ShipTypeID: r.ShipTypeID, ShipName: names[r.ShipTypeID], TotalLosses: r.Losses, Percentage: pct[i]}
		}
		out.TotalResults = len(out.Ships)
		return out, nil
	})
}

// FitEntry is one ranked fit.
type FitEntry struct {
	ShipTypeID   int64   `json:"ship_type_id"`
	ShipName     string  `json:"ship_name"`
	FitSignature string  `json:"fit_signature"`
	TotalLosses  int64   `json:"total_losses"`
	Percentage   float64 `json:"percentage"`
}

// PopularFits is the response of PopularFits.
type PopularFits struct {
	Window
	Found        bool       `json:"found"`
	ShipFilter   []int64    `json:"ship_type_filter,omitempty"`
	TotalLosses  int64      `json:"total_losses"`
	TotalResults int        `json:"total_results"`
	Fits         []FitEntry `json:"fits"`
}

// PopularFits ranks fits by losses in the window, optionally for a ship set.
func (s *Service) PopularFits(ctx context.Context, p Params) (PopularFits, error) {
	w := s.window(p.Days)
	key := queryPrefix + "fits:" + w.EndDate + ":" + p.key()
	return cache.Remember(ctx, s.cache, key, s.cacheTTL, func(ctx context.Context) (PopularFits, error) {
		f := s.filter(w, p, "")
		total, err := s.store.TotalLosses(ctx, f)
		if err != nil {
			return PopularFits{}, err
		}
		rows, err := s.store.TopFits(ctx, f, p.Limit)
		if err != nil {
			return PopularFits{}, err
		}

		ids := make([]int64, 0, len(rows))
		counts := make([]int64, len(rows))
		for i, r := range rows {
			ids = append(ids, r.ShipTypeID)
			counts[i] = r.Losses
		}
		names, err := s.names(ctx, ids)
		if err != nil {
			return PopularFits{}, err
		}
		pct := Percentages(counts, total)

		out := PopularFits{Window: w, Found: total > 0, TotalLosses: total, Fits: make([]FitEntry, len(rows))}
		if !p.Ships.Exclude {
			out.ShipFilter = p.Ships.IDs
		}
		for i, r := range rows {
			out.Fits[i] = FitEntry{
				ShipTypeID:   r.ShipTypeID,
				ShipName:     names[r.ShipTypeID],
				FitSignature: r.FitSignature,
				TotalLosses:  r.Losses,
				Percentage:   pct[i],
			}
		}
		out.TotalResults = len(out.Fits)
		return out, nil
	})
}

// FittedItem is one merged item of a fit, with its slot category.
type FittedItem struct {
	Category string `json:"category"`
	TypeID   int64  `json:"type_id"`
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
}

// ExampleKillmail cites one loss of a fit.
type ExampleKillmail struct {
	KillmailID    int64     `json:"killmail_id"`
	KillTime      time.Time `json:"kill_time"`
	SolarSystemID int64     `json:"solar_system_id"`
}

// FitDetail is the response of FitDetail.
type FitDetail struct {
	FitSignature     string            `json:"fit_signature"`
	Found            bool              `json:"found"`
	Message          string            `json:"message,omitempty"`
	ShipTypeID       int64             `json:"ship_type_id,omitempty"`
	ShipName         string            `json:"ship_name,omitempty"`
	SlotCounts       map[string]int64  `json:"slot_counts,omitempty"`
	TotalOccurrences int64             `json:"total_occurrences"`
	FittedItems      []FittedItem      `json:"fitted_items,omitempty"`
	ExampleKillmails []ExampleKillmail `json:"example_killmails,omitempty"`
}

func fitNotFound(signature string) FitDetail {
	return FitDetail{FitSignature: signature, Found: false, Message: "No fits found with this signature"}
}

// FitDetail describes one fit: its ship, items and a few example losses.
// Unknown or malformed signatures answer found=false.
func (s *Service) FitDetail(ctx context.Context, signature string) (FitDetail, error) {
	if !fit.ValidSignature(signature) {
		return fitNotFound(signature), nil
	}
	examples, err := s.store.ExampleKillmails(ctx, signature, exampleLimit)
	if err != nil {
		return FitDetail{}, err
	}
	if len(examples) == 0 {
		return fitNotFound(signature), nil
	}

	first := examples[0]
	items, err := first.FittedItems()
	if err != nil {
		return FitDetail{}, err
	}
	slots, err := first.SlotCountMap()
	if err != nil {
		return FitDetail{}, err
	}
	total, err := s.store.CountBySignature(ctx, signature)
	if err != nil {
		return FitDetail{}, err
	}

	f := fit.Normalize(first.VictimShipTypeID, items)
	ids := []int64{first.VictimShipTypeID}
	for _, c := range fit.Categories() {
		for _, e := range f.Entries(c) {
			ids = append(ids, e.TypeID)
		}
	}
	names, err := s.names(ctx, ids)
	if err != nil {
		return FitDetail{}, err
	}

	out := FitDetail{
		FitSignature:     signature,
		Found:            true,
		ShipTypeID:       first.VictimShipTypeID,
		ShipName:         names[first.VictimShipTypeID],
		SlotCounts:       slots,
		TotalOccurrences: total,
	}
	for _, c := range fit.Categories() {
		for _, e := range f.Entries(c) {
			out.FittedItems = append(out.FittedItems, FittedItem{
				Category: c.String(), TypeID: e.TypeID, Name: names[e.TypeID], Quantity: e.Quantity,
			})
		}
	}
	for _, k := range examples {
		out.ExampleKillmails = append(out.ExampleKillmails, ExampleKillmail{
			KillmailID: k.KillmailID, KillTime: k.KillTime.UTC(), SolarSystemID: k.SolarSystemID,
		})
	}
	return out, nil
}

// Ship is a ship present in the aggregates.
type Ship struct {
	ShipTypeID int64  `json:"ship_type_id"`
	Name       string `json:"name"`
}

// ShipList is the response of Ships.
type ShipList struct {
	Total int    `json:"total"`
	Ships []Ship `json:"ships"`
}

// Ships lists every ship that has at least one recorded loss.
func (s *Service) Ships(ctx context.Context) (ShipList, error) {
	return cache.Remember(ctx, s.cache, queryPrefix+"ship-list", s.cacheTTL, func(ctx context.Context) (ShipList, error) {
		ids, err := s.store.ShipTypeIDs(ctx)
		if err != nil {
			return ShipList{}, err
		}
		names, err := s.names(ctx, ids)
		if err != nil {
			return ShipList{}, err
		}
		out := ShipList{Ships: make([]Ship, len(ids))}
		for i, id := range ids {
			out.Ships[i] = Ship{ShipTypeID: id, Name: names[id]}
		}
		slices.SortFunc(out.Ships, func(a, b Ship) int {
			return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ShipTypeID, b.ShipTypeID))
		})
		out.Total = len(out.Ships)
		return out, nil
	})
}
