package query

import (
	"context"

	"github.com/okian/lostfits/internal/adapters/cache"
	"github.com/okian/lostfits/internal/adapters/repository"
	"github.com/okian/lostfits/internal/domain/fit"
)

// ZoneShare is one security zone bucket.
type ZoneShare struct {
	Zone       string  `json:"zone"`
	Losses     int64   `json:"losses"`
	Percentage float64 `json:"percentage"`
}

// PlaceShare is one region, constellation or system bucket.
type PlaceShare struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Losses     int64   `json:"losses"`
	Percentage float64 `json:"percentage"`
}

// Breakdown is where losses happened.
type Breakdown struct {
	Window
	FitSignature   string       `json:"fit_signature,omitempty"`
	Found          bool         `json:"found"`
	TotalLosses    int64        `json:"total_losses"`
	SecurityZones  []ZoneShare  `json:"security_zones"`
	Regions        []PlaceShare `json:"regions"`
	Constellations []PlaceShare `json:"constellations"`
	Systems        []PlaceShare `json:"systems"`
}

// PopularLocations breaks every loss in the window down by location.
func (s *Service) PopularLocations(ctx context.Context, p Params) (Breakdown, error) {
	w := s.window(p.Days)
	key := queryPrefix + "locations:" + w.EndDate + ":" + p.key()
	return cache.Remember(ctx, s.cache, key, s.cacheTTL, func(ctx context.Context) (Breakdown, error) {
		return s.breakdown(ctx, w, p, "")
	})
}

// FitByLocation breaks the losses of one fit down by location. Unknown or
// malformed signatures answer found=false.
func (s *Service) FitByLocation(ctx context.Context, signature string, p Params) (Breakdown, error) {
	w := s.window(p.Days)
	if !fit.ValidSignature(signature) {
		return emptyBreakdown(w, signature), nil
	}
	key := queryPrefix + "fit-locations:" + signature + ":" + w.EndDate + ":" + p.key()
	return cache.Remember(ctx, s.cache, key, s.cacheTTL, func(ctx context.Context) (Breakdown, error) {
		return s.breakdown(ctx, w, p, signature)
	})
}

func emptyBreakdown(w Window, signature string) Breakdown {
	return Breakdown{
		Window:         w,
		FitSignature:   signature,
		SecurityZones:  []ZoneShare{},
		Regions:        []PlaceShare{},
		Constellations: []PlaceShare{},
		Systems:        []PlaceShare{},
	}
}

func (s *Service) breakdown(ctx context.Context, w Window, p Params, signature string) (Breakdown, error) {
	out := emptyBreakdown(w, signature)
	f := s.filter(w, p, signature)

	total, err := s.store.TotalLosses(ctx, f)
	if err != nil {
		return out, err
	}
	if total == 0 {
		return out, nil
	}
	out.Found = true
	out.TotalLosses = total

	zones, err := s.store.LossesBy(ctx, f, repository.DimensionZone, 0)
	if err != nil {
		return out, err
	}
	counts := make([]int64, len(zones))
	for i, z := range zones {
		counts[i] = z.Losses
	}
	for i, pct := range Percentages(counts, total) {
		out.SecurityZones = append(out.SecurityZones, ZoneShare{Zone: zones[i].Zone, Losses: zones[i].Losses, Percentage: pct})
	}

	if out.Regions, err = s.places(ctx, f, total, p.Limit, repository.DimensionRegion, s.regionNames); err != nil {
		return out, err
	}
	if out.Constellations, err = s.places(ctx, f, total, p.Limit, repository.DimensionConstellation, s.constellationNames); err != nil {
		return out, err
	}
	if out.Systems, err = s.places(ctx, f, total, p.Limit, repository.DimensionSystem, s.systemNames); err != nil {
		return out, err
	}
	return out, nil
}

type namer func(ctx context.Context, ids []int64) (map[int64]string, error)

// places ranks one dimension. Percentages are taken over every bucket
// against the window total before the list is cut to limit; buckets of
// locations not resolved yet (ID 0) are left out.
func (s *Service) places(ctx context.Context, f repository.Filter, total int64, limit int, dim repository.Dimension, name namer) ([]PlaceShare, error) {
	rows, err := s.store.LossesBy(ctx, f, dim, 0)
	if err != nil {
		return nil, err
	}
	counts := make([]int64, len(rows))
	for i, r := range rows {
		counts[i] = r.Losses
	}
	pct := Percentages(counts, total)

	out := make([]PlaceShare, 0, min(limit, len(rows)))
	ids := make([]int64, 0, cap(out))
	for i, r := range rows {
		if len(out) == limit {
			break
		}
		if r.ID == 0 {
			continue
		}
		out = append(out, PlaceShare{ID: r.ID, Losses: r.Losses, Percentage: pct[i]})
		ids = append(ids, r.ID)
	}

	names, err := name(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if n, ok := names[out[i].ID]; ok {
			out[i].Name = n
		} else {
			out[i].Name = unknownName
		}
	}
	return out, nil
}

func (s *Service) regionNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.store.Regions(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(rows))
	for _, r := range rows {
		out[r.RegionID] = r.Name
	}
	return out, nil
}

func (s *Service) constellationNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.store.Constellations(ctx, repository.ConstellationQuery{IDs: ids})
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(rows))
	for _, c := range rows {
		out[c.ConstellationID] = c.Name
	}
	return out, nil
}

func (s *Service) systemNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.store.Systems(ctx, repository.SystemQuery{IDs: ids})
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(rows))
	for _, sys := range rows {
		out[sys.SystemID] = sys.Name
	}
	return out, nil
}
