package model

// ShipCategoryID is the catalog category holding ship hulls.
const ShipCategoryID int64 = 6

// ItemType is cached reference metadata for an item or ship.
type ItemType struct {
	TypeID     int64  `json:"type_id"`
	Name       string `json:"name"`
	GroupID    int64  `json:"group_id"`
	CategoryID int64  `json:"category_id"`
}

// ItemGroup maps a group to its category.
type ItemGroup struct {
	GroupID    int64  `json:"group_id"`
	Name       string `json:"name"`
	CategoryID int64  `json:"category_id"`
}

// Region is a top-level universe area.
type Region struct {
	RegionID int64  `json:"region_id"`
	Name     string `json:"name"`
}

// Constellation groups solar systems inside a region.
type Constellation struct {
	ConstellationID int64  `json:"constellation_id"`
	Name            string `json:"name"`
	RegionID        int64  `json:"region_id"`
}

// SolarSystem is a single system with its security status.
type SolarSystem struct {
	SystemID        int64   `json:"system_id"`
	Name            string  `json:"name"`
	ConstellationID int64   `json:"constellation_id"`
	SecurityStatus  float64 `json:"security_status"`
}

// Location is a fully or partially resolved kill location. Unresolved
// constellation and region IDs are zero.
type Location struct {
	SystemID        int64
	ConstellationID int64
	RegionID        int64
	Zone            Zone
}

// Resolved reports whether the constellation and region are known.
func (l Location) Resolved() bool {
	return l.ConstellationID != 0 && l.RegionID != 0
}

// UnresolvedLocation returns what is known about a system before the
// catalog has been consulted.
func UnresolvedLocation(systemID int64) Location {
	return Location{SystemID: systemID, Zone: ZoneForSystemID(systemID)}
}

// LocationOf combines a resolved system and its constellation.
func LocationOf(sys SolarSystem, c Constellation) Location {
	return Location{
		SystemID:        sys.SystemID,
		ConstellationID: sys.ConstellationID,
		RegionID:        c.RegionID,
		Zone:            ClassifyZone(sys.SystemID, sys.SecurityStatus),
	}
}
