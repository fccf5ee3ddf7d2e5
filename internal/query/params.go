package query

import (
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/okian/lostfits/internal/adapters/repository"
	"github.com/okian/lostfits/internal/domain/model"
)

// Parameter bounds.
const (
	DefaultDays  = 7
	MaxDays      = 90
	DefaultLimit = 20
	modeExclude  = "exclude"
)

// Params are the common query parameters. Malformed or out-of-range values
// fall back to defaults instead of failing the request.
type Params struct {
	Days           int
	Limit          int
	Ships          repository.IDSet
	Regions        repository.IDSet
	Constellations repository.IDSet
	Systems        repository.IDSet
	Zones          repository.ZoneSet
}

// ParseParams reads Params from a query string. maxLimit caps limit.
func ParseParams(v url.Values, maxLimit int) Params {
	if maxLimit < 1 {
		maxLimit = DefaultLimit
	}
	return Params{
		Days:           IntParam(v, "days", DefaultDays, 1, MaxDays),
		Limit:          IntParam(v, "limit", min(DefaultLimit, maxLimit), 1, maxLimit),
		Ships:          idSet(v, "ship_type_ids", "ship_mode"),
		Regions:        idSet(v, "region_ids", "region_mode"),
		Constellations: idSet(v, "constellation_ids", "constellation_mode"),
		Systems:        idSet(v, "system_ids", "system_mode"),
		Zones: repository.ZoneSet{
			Zones:   zoneList(v.Get("security_status")),
			Exclude: exclude(v.Get("security_mode")),
		},
	}
}

// IntParam parses key, returning def when it is missing, malformed or
// outside [lo, hi].
func IntParam(v url.Values, key string, def, lo, hi int) int {
	raw := strings.TrimSpace(v.Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return def
	}
	return n
}

// IDList parses a comma-separated ID list, dropping malformed entries.
func IDList(raw string) []int64 {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func idSet(v url.Values, idsKey, modeKey string) repository.IDSet {
	return repository.IDSet{IDs: IDList(v.Get(idsKey)), Exclude: exclude(v.Get(modeKey))}
}

func zoneList(raw string) []model.Zone {
	var out []model.Zone
	for _, part := range strings.Split(raw, ",") {
		z, ok := model.ParseZone(part)
		if ok && !slices.Contains(out, z) {
			out = append(out, z)
		}
	}
	return out
}

func exclude(mode string) bool {
	return strings.EqualFold(strings.TrimSpace(mode), modeExclude)
}

// key renders the filters in a stable form for cache keys.
func (p Params) key() string {
	var b strings.Builder
	b.WriteString("d")
	b.WriteString(strconv.Itoa(p.Days))
	b.WriteString(":l")
	b.WriteString(strconv.Itoa(p.Limit))
	for _, s := range []struct {
		tag string
		set repository.IDSet
	}{{"s", p.Ships}, {"r", p.Regions}, {"c", p.Constellations}, {"y", p.Systems}} {
		if len(s.set.IDs) == 0 {
			continue
		}
		ids := slices.Clone(s.set.IDs)
		slices.Sort(ids)
		b.WriteString(":" + s.tag)
		if s.set.Exclude {
			b.WriteString("!")
		}
		for i, id := range ids {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatInt(id, 10))
		}
	}
	if len(p.Zones.Zones) > 0 {
		zs := make([]string, len(p.Zones.Zones))
		for i, z := range p.Zones.Zones {
			zs[i] = string(z)
		}
		slices.Sort(zs)
		b.WriteString(":z")
		if p.Zones.Exclude {
			b.WriteString("!")
		}
		b.WriteString(strings.Join(zs, ","))
	}
	return b.String()
}
