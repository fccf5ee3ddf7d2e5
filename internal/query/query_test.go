package query_test

import (
	"context"
	"errors"
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/okian/lostfits/internal/adapters/cache"
	"github.com/okian/lostfits/internal/adapters/repository"
	"github.com/okian/lostfits/internal/aggregate"
	"github.com/okian/lostfits/internal/domain/fit"
	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/internal/query"
	"github.com/okian/lostfits/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var now = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

var (
	jita = model.SolarSystem{SystemID: 30000142, Name: "Jita", ConstellationID: 20000020, SecurityStatus: 0.946}
	kimo = model.Constellation{ConstellationID: 20000020, Name: "Kimotoro", RegionID: 10000002}

	sarum  = model.SolarSystem{SystemID: 30002188, Name: "Sarum Prime", ConstellationID: 20000322, SecurityStatus: 0.3}
	throne = model.Constellation{ConstellationID: 20000322, Name: "Throne Worlds", RegionID: 10000043}

	fitA = []model.FittedItem{{TypeID: 2873, Flag: 27, Quantity: 1}}
	fitB = []model.FittedItem{{TypeID: 2873, Flag: 27, Quantity: 1}, {TypeID: 3831, Flag: 19, Quantity: 1}}
)

type loss struct {
	id    int64
	ship  int64
	items []model.FittedItem
	loc   model.Location
	at    time.Time
}

func tenths(p []float64) int64 {
	var n int64
	for _, v := range p {
		n += int64(math.Round(v * 10))
	}
	return n
}

func seed(ctx context.Context, store *repository.Store) {
	So(store.SaveItemType(ctx, model.ItemType{TypeID: 587, Name: "Rifter", GroupID: 25, CategoryID: 6}), ShouldBeNil)
	So(store.SaveItemType(ctx, model.ItemType{TypeID: 621, Name: "Caracal", GroupID: 26, CategoryID: 6}), ShouldBeNil)
	So(store.SaveItemType(ctx, model.ItemType{TypeID: 2873, Name: "125mm Gatling AutoCannon I", GroupID: 55, CategoryID: 7}), ShouldBeNil)
	for _, r := range []model.Region{{RegionID: 10000002, Name: "The Forge"}, {RegionID: 10000043, Name: "Domain"}} {
		So(store.SaveRegion(ctx, r), ShouldBeNil)
	}
	So(store.SaveConstellation(ctx, kimo), ShouldBeNil)
	So(store.SaveConstellation(ctx, throne), ShouldBeNil)
	So(store.SaveSystem(ctx, jita), ShouldBeNil)
	So(store.SaveSystem(ctx, sarum), ShouldBeNil)

	highsec := model.LocationOf(jita, kimo)
	lowsec := model.LocationOf(sarum, throne)
	wormhole := model.UnresolvedLocation(31000005)

	losses := []loss{
		{1, 587, fitA, highsec, now.Add(-time.Hour)},
		{2, 587, fitA, highsec, now.Add(-2 * time.Hour)},
		{3, 587, fitA, highsec, now.Add(-24 * time.Hour)},
		{4, 587, fitB, lowsec, now.Add(-3 * time.Hour)},
		{5, 587, fitB, lowsec, now.Add(-48 * time.Hour)},
		{6, 621, fitA, wormhole, now.Add(-5 * time.Hour)},
		// Outside a seven day window.
		{7, 587, fitA, highsec, now.AddDate(0, 0, -12)},
	}
	m := aggregate.New(store, aggregate.WithClock(func() time.Time { return now }))
	for _, l := range losses {
		ev := model.RawEvent{
			KillmailID: l.id, Hash: "h", KillTime: l.at, SolarSystemID: l.loc.SystemID, ShipTypeID: l.ship, Items: l.items,
		}
		ok, err := m.Record(ctx, ev, fit.Normalize(l.ship, l.items), l.loc)
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
	}
}

func TestPercentages(t *testing.T) {
	Convey("Given counts that cover the total", t, func() {
		Convey("Then thirds still add up to one hundred", func() {
			p := query.Percentages([]int64{1, 1, 1}, 3)
			So(p, ShouldResemble, []float64{33.4, 33.3, 33.3})
			So(tenths(p), ShouldEqual, 1000)
		})

		Convey("Then the largest remainder gets the leftover tenth", func() {
			p := query.Percentages([]int64{3, 2, 1}, 6)
			So(p, ShouldResemble, []float64{50, 33.3, 16.7})
		})
	})

	Convey("Given counts that cover part of the total", t, func() {
		p := query.Percentages([]int64{1, 1}, 4)
		So(p, ShouldResemble, []float64{25, 25})
	})

	Convey("Given no losses", t, func() {
		So(query.Percentages([]int64{0, 0}, 0), ShouldResemble, []float64{0, 0})
		So(query.Percentages(nil, 10), ShouldBeEmpty)
	})
}

func TestParseParams(t *testing.T) {
	Convey("Given a query string with bad and good values", t, func() {
		v := url.Values{
			"days":            {"500"},
			"limit":           {"5"},
			"ship_type_ids":   {"587, abc,587,-1"},
			"ship_mode":       {"Exclude"},
			"region_ids":      {"10000002"},
			"security_status": {"high,bogus,lowsec"},
			"security_mode":   {"include"},
		}
		p := query.ParseParams(v, 100)

		Convey("Then bad values fall back and bad entries are dropped", func() {
			So(p.Days, ShouldEqual, query.DefaultDays)
			So(p.Limit, ShouldEqual, 5)
			So(p.Ships, ShouldResemble, repository.IDSet{IDs: []int64{587}, Exclude: true})
			So(p.Regions, ShouldResemble, repository.IDSet{IDs: []int64{10000002}})
			So(p.Zones.Zones, ShouldResemble, []model.Zone{model.ZoneHighsec, model.ZoneLowsec})
			So(p.Zones.Exclude, ShouldBeFalse)
			So(p.Constellations.IDs, ShouldBeEmpty)
		})
	})

	Convey("Given a limit above the ceiling", t, func() {
		p := query.ParseParams(url.Values{"limit": {"1000"}}, 50)
		So(p.Limit, ShouldEqual, query.DefaultLimit)
		So(p.Days, ShouldEqual, query.DefaultDays)
	})
}

func TestService(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store with a week of losses", t, func() {
		store, err := repository.Open(ctx, repository.DriverSQLite, repository.MemoryDSN())
		So(err, ShouldBeNil)
		defer store.Close()
		seed(ctx, store)

		svc := query.New(store, query.WithClock(func() time.Time { return now }))
		week := query.Params{Days: 7, Limit: 20}

		Convey("When popular ships are asked for", func() {
			out, err := svc.PopularShips(ctx, week)
			So(err, ShouldBeNil)

			Convey("Then the window is today and the six days before", func() {
				So(out.Window, ShouldResemble, query.Window{Days: 7, StartDate: "2024-04-26", EndDate: "2024-05-02"})
				So(out.TotalLosses, ShouldEqual, 6)
				So(out.Ships, ShouldHaveLength, 2)
				So(out.Ships[0], ShouldResemble, query.ShipEntry{ShipTypeID: 587, ShipName: "Rifter", TotalLosses: 5, Percentage: 83.3})
				So(out.Ships[1].ShipName, ShouldEqual, "Caracal")
			})

			Convey("And a wider window reaches older losses", func() {
				month, err := svc.PopularShips(ctx, query.Params{Days: 30, Limit: 20})
				So(err, ShouldBeNil)
				So(month.TotalLosses, ShouldEqual, 7)
			})
		})

		Convey("When popular fits are filtered by ship", func() {
			only := week
			only.Ships = repository.IDSet{IDs: []int64{587}}
			in, err := svc.PopularFits(ctx, only)
			So(err, ShouldBeNil)

			without := week
			without.Ships = repository.IDSet{IDs: []int64{587}, Exclude: true}
			out, err := svc.PopularFits(ctx, without)
			So(err, ShouldBeNil)

			Convey("Then include and exclude split the losses", func() {
				So(in.TotalLosses, ShouldEqual, 5)
				So(in.Fits, ShouldHaveLength, 2)
				So(in.Fits[0].TotalLosses, ShouldEqual, 3)
				So(in.Fits[0].FitSignature, ShouldEqual, fit.Signature(587, fitA))
				So(in.ShipFilter, ShouldResemble, []int64{587})

				So(out.TotalLosses, ShouldEqual, 1)
				So(out.Fits, ShouldHaveLength, 1)
				So(out.Fits[0].ShipTypeID, ShouldEqual, 621)
				So(out.Fits[0].Percentage, ShouldEqual, 100)
			})
		})

		Convey("When popular locations are asked for", func() {
			out, err := svc.PopularLocations(ctx, week)
			So(err, ShouldBeNil)

			Convey("Then zone percentages add up to one hundred", func() {
				So(out.Found, ShouldBeTrue)
				So(out.SecurityZones, ShouldHaveLength, 3)
				var p []float64
				for _, z := range out.SecurityZones {
					p = append(p, z.Percentage)
				}
				So(tenths(p), ShouldEqual, 1000)
				So(out.SecurityZones[0], ShouldResemble, query.ZoneShare{Zone: "highsec", Losses: 3, Percentage: 50})
			})

			Convey("And unresolved locations are left out of the named lists", func() {
				So(out.Regions, ShouldHaveLength, 2)
				So(out.Regions[0], ShouldResemble, query.PlaceShare{ID: 10000002, Name: "The Forge", Losses: 3, Percentage: 50})
				So(out.Regions[1].Percentage, ShouldEqual, 33.3)
				So(out.Systems, ShouldHaveLength, 3)
				So(out.Systems[2].Name, ShouldEqual, "Unknown")
			})

			Convey("And the limit cuts the lists after percentages are taken", func() {
				one := week
				one.Limit = 1
				cut, err := svc.PopularLocations(ctx, one)
				So(err, ShouldBeNil)
				So(cut.Regions, ShouldHaveLength, 1)
				So(cut.Regions[0].Percentage, ShouldEqual, 50)
				So(cut.SecurityZones, ShouldHaveLength, 3)
			})
		})

		Convey("When one fit is broken down by location", func() {
			sig := fit.Signature(587, fitB)
			out, err := svc.FitByLocation(ctx, sig, week)
			So(err, ShouldBeNil)
			So(out.Found, ShouldBeTrue)
			So(out.TotalLosses, ShouldEqual, 2)
			So(out.SecurityZones, ShouldResemble, []query.ZoneShare{{Zone: "lowsec", Losses: 2, Percentage: 100}})
			So(out.Regions[0].Name, ShouldEqual, "Domain")
		})

		Convey("When a fit is looked up", func() {
			sig := fit.Signature(587, fitA)
			out, err := svc.FitDetail(ctx, sig)
			So(err, ShouldBeNil)

			Convey("Then it carries names, counts and examples", func() {
				So(out.Found, ShouldBeTrue)
				So(out.ShipName, ShouldEqual, "Rifter")
				So(out.TotalOccurrences, ShouldEqual, 4)
				So(out.SlotCounts, ShouldResemble, map[string]int64{"high": 1})
				So(out.FittedItems, ShouldResemble, []query.FittedItem{
					{Category: "high", TypeID: 2873, Name: "125mm Gatling AutoCannon I", Quantity: 1},
				})
				So(out.ExampleKillmails, ShouldHaveLength, 4)
				So(out.ExampleKillmails[0].KillmailID, ShouldEqual, 1)
			})
		})

		Convey("When an unknown or malformed signature is looked up", func() {
			unknown, err := svc.FitDetail(ctx, "0123456789abcdef0123456789abcdef")
			So(err, ShouldBeNil)
			malformed, err := svc.FitDetail(ctx, "not-a-signature")
			So(err, ShouldBeNil)
			byLoc, err := svc.FitByLocation(ctx, "0123456789abcdef0123456789abcdef", week)
			So(err, ShouldBeNil)

			Convey("Then each answers not found without an error", func() {
				So(unknown.Found, ShouldBeFalse)
				So(unknown.Message, ShouldNotBeEmpty)
				So(malformed.Found, ShouldBeFalse)
				So(byLoc.Found, ShouldBeFalse)
				So(byLoc.TotalLosses, ShouldEqual, 0)
				So(byLoc.Regions, ShouldBeEmpty)
			})
		})

		Convey("When a killmail is fetched", func() {
			k, err := svc.Killmail(ctx, 4)
			So(err, ShouldBeNil)
			So(k.Items, ShouldHaveLength, 2)
			So(k.FitSignature, ShouldEqual, fit.Signature(587, fitB))

			_, err = svc.Killmail(ctx, 404)
			So(errors.Is(err, query.ErrNotFound), ShouldBeTrue)
		})

		Convey("When listings are asked for", func() {
			ships, err := svc.Ships(ctx)
			So(err, ShouldBeNil)
			So(ships.Ships, ShouldResemble, []query.Ship{{ShipTypeID: 621, Name: "Caracal"}, {ShipTypeID: 587, Name: "Rifter"}})

			regions, err := svc.Regions(ctx)
			So(err, ShouldBeNil)
			So(regions.Total, ShouldEqual, 2)

			systems, err := svc.Systems(ctx, nil, []int64{10000043})
			So(err, ShouldBeNil)
			So(systems.Systems, ShouldHaveLength, 1)
			So(systems.Systems[0].Name, ShouldEqual, "Sarum Prime")

			stats, err := svc.Stats(ctx)
			So(err, ShouldBeNil)
			So(stats.TotalKillmails, ShouldEqual, 7)
			So(stats.TotalItemTypes, ShouldEqual, 3)
			So(stats.LastIngested, ShouldNotBeNil)

			types, err := svc.ItemTypes(ctx, "rift", 10, 0)
			So(err, ShouldBeNil)
			So(types.Total, ShouldEqual, 1)
		})
	})

	Convey("Given a service with a response cache", t, func() {
		store, err := repository.Open(ctx, repository.DriverSQLite, repository.MemoryDSN())
		So(err, ShouldBeNil)
		defer store.Close()

		mem := cache.NewMemory()
		svc := query.New(store, query.WithCache(mem), query.WithClock(func() time.Time { return now }))

		Convey("When the universe is seeded after a listing was cached", func() {
			before, err := svc.Regions(ctx)
			So(err, ShouldBeNil)
			So(store.SaveRegion(ctx, model.Region{RegionID: 10000002, Name: "The Forge"}), ShouldBeNil)
			stale, err := svc.Regions(ctx)
			So(err, ShouldBeNil)

			So(svc.InvalidateUniverse(ctx), ShouldBeNil)
			fresh, err := svc.Regions(ctx)
			So(err, ShouldBeNil)

			Convey("Then the listing changes only after invalidation", func() {
				So(before.Total, ShouldEqual, 0)
				So(stale.Total, ShouldEqual, 0)
				So(fresh.Total, ShouldEqual, 1)
			})
		})

		Convey("When an empty window is queried", func() {
			out, err := svc.PopularLocations(ctx, query.Params{Days: 7, Limit: 10})
			So(err, ShouldBeNil)
			So(out.Found, ShouldBeFalse)
			So(out.TotalLosses, ShouldEqual, 0)
			So(mem.Len(), ShouldEqual, 1)
		})
	})
}
