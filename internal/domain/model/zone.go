package model

import "strings"

// Zone is a security classification of a location.
type Zone string

// Known zones.
const (
	ZoneHighsec  Zone = "highsec"
	ZoneLowsec   Zone = "lowsec"
	ZoneNullsec  Zone = "nullsec"
	ZoneWormhole Zone = "wormhole"
	ZoneAbyssal  Zone = "abyssal"
	ZoneUnknown  Zone = "unknown"
)

// System ID ranges that classify without a security lookup.
const (
	wormholeFirstID = 31_000_000
	wormholeLastID  = 31_999_999
	abyssalFirstID  = 32_000_000
	abyssalLastID   = 32_999_999

	highsecFloor = 0.45
)

// Zones lists every zone in display order.
func Zones() []Zone {
	return []Zone{ZoneHighsec, ZoneLowsec, ZoneNullsec, ZoneWormhole, ZoneAbyssal, ZoneUnknown}
}

// ZoneForSystemID classifies by ID range alone; anything that needs a
// security status is ZoneUnknown.
func ZoneForSystemID(systemID int64) Zone {
	switch {
	case systemID >= wormholeFirstID && systemID <= wormholeLastID:
		return ZoneWormhole
	case systemID >= abyssalFirstID && systemID <= abyssalLastID:
		return ZoneAbyssal
	default:
		return ZoneUnknown
	}
}

// ClassifyZone classifies a resolved system.
func ClassifyZone(systemID int64, security float64) Zone {
	if z := ZoneForSystemID(systemID); z != ZoneUnknown {
		return z
	}
	switch {
	case security >= highsecFloor:
		return ZoneHighsec
	case security > 0:
		return ZoneLowsec
	default:
		return ZoneNullsec
	}
}

// ParseZone accepts zone names and common short forms.
func ParseZone(s string) (Zone, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "highsec", "high", "hs":
		return ZoneHighsec, true
	case "lowsec", "low", "ls":
		return ZoneLowsec, true
	case "nullsec", "null", "ns":
		return ZoneNullsec, true
	case "wormhole", "wh", "jspace":
		return ZoneWormhole, true
	case "abyssal", "abyss":
		return ZoneAbyssal, true
	case "unknown":
		return ZoneUnknown, true
	}
	return "", false
}
