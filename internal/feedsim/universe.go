package feedsim

import (
	"github.com/okian/lostfits/internal/domain/model"
)

// Universe is the reference data served by the simulated catalog.
type Universe struct {
	Regions        []model.Region
	Constellations []model.Constellation
	Systems        []model.SolarSystem
	Types          []model.ItemType
	Groups         []model.ItemGroup
}

// DefaultUniverse returns a small universe covering every security zone.
func DefaultUniverse() *Universe {
	return &Universe{
		Regions: []model.Region{
			{RegionID: 10000002, Name: "The Forge"},
			{RegionID: 10000043, Name: "Domain"},
			{RegionID: 10000014, Name: "Catch"},
			{RegionID: 11000001, Name: "A-R00001"},
		},
		Constellations: []model.Constellation{
			{ConstellationID: 20000020, Name: "Kimotoro", RegionID: 10000002},
			{ConstellationID: 20000322, Name: "Throne Worlds", RegionID: 10000043},
			{ConstellationID: 20000203, Name: "9HXQ-G", RegionID: 10000014},
			{ConstellationID: 21000001, Name: "A-C00311", RegionID: 11000001},
		},
		Systems: []model.SolarSystem{
			{SystemID: 30000142, Name: "Jita", ConstellationID: 20000020, SecurityStatus: 0.946},
			{SystemID: 30000144, Name: "Perimeter", ConstellationID: 20000020, SecurityStatus: 0.957},
			{SystemID: 30002187, Name: "Amarr", ConstellationID: 20000322, SecurityStatus: 1.0},
			{SystemID: 30002188, Name: "Sarum Prime", ConstellationID: 20000322, SecurityStatus: 0.35},
			{SystemID: 30001000, Name: "GE-8JV", ConstellationID: 20000203, SecurityStatus: -0.31},
			{SystemID: 31000005, Name: "J100015", ConstellationID: 21000001, SecurityStatus: -1.0},
		},
		Types: []model.ItemType{
			{TypeID: 587, Name: "Rifter", GroupID: 25},
			{TypeID: 621, Name: "Caracal", GroupID: 26},
			{TypeID: 17740, Name: "Vindicator", GroupID: 27},
			{TypeID: 2873, Name: "125mm Gatling AutoCannon II", GroupID: 55},
			{TypeID: 3841, Name: "Medium Shield Extender II", GroupID: 38},
			{TypeID: 2048, Name: "Damage Control II", GroupID: 60},
			{TypeID: 1541, Name: "Power Diagnostic System II", GroupID: 766},
			{TypeID: 31117, Name: "Small Projectile Burst Aerator I", GroupID: 775},
			{TypeID: 2488, Name: "Warrior II", GroupID: 100},
			{TypeID: 215, Name: "EMP S", GroupID: 83},
			{TypeID: 2410, Name: "Heavy Missile Launcher II", GroupID: 510},
		},
		Groups: []model.ItemGroup{
			{GroupID: 25, Name: "Frigate", CategoryID: model.ShipCategoryID},
			{GroupID: 26, Name: "Cruiser", CategoryID: model.ShipCategoryID},
			{GroupID: 27, Name: "Battleship", CategoryID: model.ShipCategoryID},
			{GroupID: 55, Name: "Projectile Weapon", CategoryID: 7},
			{GroupID: 38, Name: "Shield Extender", CategoryID: 7},
			{GroupID: 60, Name: "Damage Control", CategoryID: 7},
			{GroupID: 766, Name: "Power Diagnostic System", CategoryID: 7},
			{GroupID: 775, Name: "Rig Projectile Weapon", CategoryID: 7},
			{GroupID: 100, Name: "Combat Drone", CategoryID: 18},
			{GroupID: 83, Name: "Projectile Ammo", CategoryID: 8},
			{GroupID: 510, Name: "Missile Launcher Heavy", CategoryID: 7},
		},
	}
}

func (u *Universe) region(id int64) (model.Region, bool) {
	for _, r := range u.Regions {
		if r.RegionID == id {
			return r, true
		}
	}
	return model.Region{}, false
}

func (u *Universe) constellation(id int64) (model.Constellation, bool) {
	for _, c := range u.Constellations {
		if c.ConstellationID == id {
			return c, true
		}
	}
	return model.Constellation{}, false
}

func (u *Universe) system(id int64) (model.SolarSystem, bool) {
	for _, s := range u.Systems {
		if s.SystemID == id {
			return s, true
		}
	}
	return model.SolarSystem{}, false
}

func (u *Universe) itemType(id int64) (model.ItemType, bool) {
	for _, t := range u.Types {
		if t.TypeID == id {
			return t, true
		}
	}
	return model.ItemType{}, false
}

func (u *Universe) group(id int64) (model.ItemGroup, bool) {
	for _, g := range u.Groups {
		if g.GroupID == id {
			return g, true
		}
	}
	return model.ItemGroup{}, false
}

func (u *Universe) systemsOf(constellationID int64) []int64 {
	var out []int64
	for _, s := range u.Systems {
		if s.ConstellationID == constellationID {
			out = append(out, s.SystemID)
		}
	}
	return out
}

func (u *Universe) constellationsOf(regionID int64) []int64 {
	var out []int64
	for _, c := range u.Constellations {
		if c.RegionID == regionID {
			out = append(out, c.ConstellationID)
		}
	}
	return out
}
