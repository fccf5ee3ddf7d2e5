package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/lostfits/internal/adapters/repository"
	"github.com/okian/lostfits/internal/domain/fit"
	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func openStore(t *testing.T) *repository.Store {
	t.Helper()
	s, err := repository.Open(context.Background(), repository.DriverSQLite, repository.MemoryDSN())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var (
	jita   = model.Location{SystemID: 30000142, ConstellationID: 20000020, RegionID: 10000002, Zone: model.ZoneHighsec}
	amarr  = model.Location{SystemID: 30002187, ConstellationID: 20000322, RegionID: 10000043, Zone: model.ZoneHighsec}
	sarum  = model.Location{SystemID: 30002188, ConstellationID: 20000322, RegionID: 10000043, Zone: model.ZoneLowsec}
	ge8    = model.Location{SystemID: 30001000, ConstellationID: 20000203, RegionID: 10000014, Zone: model.ZoneNullsec}
	day0   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rifter = []model.FittedItem{{TypeID: 2873, Flag: 27, Quantity: 1}, {TypeID: 3841, Flag: 20, Quantity: 2}}
)

func record(id, ship int64, items []model.FittedItem, loc model.Location, at time.Time) repository.KillmailRecord {
	f := fit.Normalize(ship, items)
	return repository.KillmailRecord{
		Event: model.RawEvent{
			KillmailID:    id,
			Hash:          "h",
			KillTime:      at,
			SolarSystemID: loc.SystemID,
			ShipTypeID:    ship,
			Items:         items,
			Payload:       []byte(`{"killID":1}`),
		},
		Signature:  f.Signature(),
		SlotCounts: f.SlotCounts(),
		Location:   loc,
		IngestedAt: day0.Add(time.Duration(id) * time.Second),
	}
}

func window() repository.Filter {
	return repository.Filter{From: "2024-04-25", To: "2024-05-01"}
}

func TestRecordKillmail(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		s := openStore(t)
		rec := record(1, 587, rifter, jita, day0)

		Convey("When the same killmail is recorded twice", func() {
			first, err := s.RecordKillmail(ctx, rec)
			So(err, ShouldBeNil)
			second, err := s.RecordKillmail(ctx, rec)
			So(err, ShouldBeNil)

			Convey("Then only the first insert counts", func() {
				So(first, ShouldBeTrue)
				So(second, ShouldBeFalse)

				n, err := s.CountKillmails(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)

				fitSum, err := s.SumFitLossesOfDay(ctx, "2024-05-01")
				So(err, ShouldBeNil)
				So(fitSum, ShouldEqual, 1)

				total, err := s.TotalLosses(ctx, window())
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 1)
			})
		})

		Convey("When two killmails share a fit, day and system", func() {
			_, _ = s.RecordKillmail(ctx, rec)
			_, _ = s.RecordKillmail(ctx, record(2, 587, []model.FittedItem{rifter[1], rifter[0]}, jita, day0.Add(time.Hour)))

			Convey("Then one aggregate row is incremented to two", func() {
				fits, err := s.TopFits(ctx, window(), 10)
				So(err, ShouldBeNil)
				So(fits, ShouldHaveLength, 1)
				So(fits[0].Losses, ShouldEqual, 2)
				So(fits[0].FitSignature, ShouldEqual, rec.Signature)
			})
		})

		Convey("When a killmail is stored", func() {
			_, _ = s.RecordKillmail(ctx, rec)
			row, err := s.Killmail(ctx, 1)
			So(err, ShouldBeNil)

			Convey("Then it reads back as the same event", func() {
				ev, err := row.ToEvent()
				So(err, ShouldBeNil)
				So(ev.Items, ShouldResemble, rifter)
				So(ev.Day(), ShouldEqual, "2024-05-01")
				So(string(ev.Payload), ShouldEqual, `{"killID":1}`)

				slots, err := row.SlotCountMap()
				So(err, ShouldBeNil)
				So(slots, ShouldResemble, map[string]int64{"high": 1, "mid": 2})
			})
		})

		Convey("When a killmail does not exist", func() {
			_, err := s.Killmail(ctx, 99)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestLocationResolution(t *testing.T) {
	ctx := context.Background()

	Convey("Given a loss recorded before its system was resolved", t, func() {
		s := openStore(t)
		_, err := s.RecordKillmail(ctx, record(1, 587, rifter, model.UnresolvedLocation(jita.SystemID), day0))
		So(err, ShouldBeNil)

		zones, err := s.LossesBy(ctx, window(), repository.DimensionZone, 0)
		So(err, ShouldBeNil)
		So(zones, ShouldResemble, []repository.LocationLosses{{Zone: "unknown", Losses: 1}})

		unresolved, err := s.UnresolvedSystemIDs(ctx)
		So(err, ShouldBeNil)
		So(unresolved, ShouldResemble, []int64{jita.SystemID})

		Convey("When the location is backfilled", func() {
			n, err := s.BackfillLocation(ctx, jita)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			Convey("Then the row carries region and zone", func() {
				regions, err := s.LossesBy(ctx, window(), repository.DimensionRegion, 0)
				So(err, ShouldBeNil)
				So(regions, ShouldResemble, []repository.LocationLosses{{ID: jita.RegionID, Losses: 1}})

				unresolved, err := s.UnresolvedSystemIDs(ctx)
				So(err, ShouldBeNil)
				So(unresolved, ShouldBeEmpty)
			})
		})

		Convey("When a resolved loss lands on the same row", func() {
			_, err := s.RecordKillmail(ctx, record(2, 587, rifter, jita, day0))
			So(err, ShouldBeNil)

			Convey("Then the row adopts the resolved location", func() {
				zones, err := s.LossesBy(ctx, window(), repository.DimensionZone, 0)
				So(err, ShouldBeNil)
				So(zones, ShouldResemble, []repository.LocationLosses{{Zone: "highsec", Losses: 2}})
			})
		})

		Convey("When an unresolved location is offered for backfill", func() {
			n, err := s.BackfillLocation(ctx, model.UnresolvedLocation(jita.SystemID))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})
	})
}

func TestAggregateQueries(t *testing.T) {
	ctx := context.Background()

	Convey("Given losses across ships, fits and locations", t, func() {
		s := openStore(t)
		caracal := []model.FittedItem{{TypeID: 2410, Flag: 27, Quantity: 1}}
		recs := []repository.KillmailRecord{
			record(1, 587, rifter, jita, day0),
			record(2, 587, rifter, amarr, day0),
			record(3, 587, rifter[:1], sarum, day0),
			record(4, 621, caracal, ge8, day0),
			record(5, 621, caracal, ge8, day0.AddDate(0, 0, -1)),
			record(6, 17740, nil, jita, day0.AddDate(0, 0, -30)),
		}
		for _, r := range recs {
			ok, err := s.RecordKillmail(ctx, r)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		}

		Convey("Then ships rank by losses inside the window", func() {
			ships, err := s.TopShips(ctx, window(), 10)
			So(err, ShouldBeNil)
			So(ships, ShouldResemble, []repository.ShipLosses{{ShipTypeID: 587, Losses: 3}, {ShipTypeID: 621, Losses: 2}})
		})

		Convey("Then an include filter keeps only the chosen ships", func() {
			f := window()
			f.Ships = repository.IDSet{IDs: []int64{621}}
			fits, err := s.TopFits(ctx, f, 10)
			So(err, ShouldBeNil)
			So(fits, ShouldHaveLength, 1)
			So(fits[0].ShipTypeID, ShouldEqual, 621)
		})

		Convey("Then an exclude filter drops the chosen ships", func() {
			f := window()
			f.Ships = repository.IDSet{IDs: []int64{621}, Exclude: true}
			fits, err := s.TopFits(ctx, f, 10)
			So(err, ShouldBeNil)
			for _, ft := range fits {
				So(ft.ShipTypeID, ShouldNotEqual, 621)
			}
			So(fits[0].Losses, ShouldEqual, 2)
		})

		Convey("Then filters combine", func() {
			f := window()
			f.Regions = repository.IDSet{IDs: []int64{10000043}}
			f.Zones = repository.ZoneSet{Zones: []model.Zone{model.ZoneLowsec}, Exclude: true}
			total, err := s.TotalLosses(ctx, f)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 1)
		})

		Convey("Then zones break down the window", func() {
			zones, err := s.LossesBy(ctx, window(), repository.DimensionZone, 0)
			So(err, ShouldBeNil)
			So(zones, ShouldResemble, []repository.LocationLosses{
				{Zone: "highsec", Losses: 2},
				{Zone: "nullsec", Losses: 2},
				{Zone: "lowsec", Losses: 1},
			})
		})

		Convey("Then ships present in any aggregate are listed", func() {
			ids, err := s.ShipTypeIDs(ctx)
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []int64{587, 621, 17740})
		})

		Convey("Then referenced types include ships and items", func() {
			ids, err := s.ReferencedTypeIDs(ctx)
			So(err, ShouldBeNil)
			So(ids, ShouldHaveLength, 6)
			So(ids, ShouldContain, int64(2410))
			So(ids, ShouldContain, int64(17740))
		})

		Convey("Then days with data are listed", func() {
			days, err := s.DaysWithKillmails(ctx, "2024-04-01", "2024-05-31")
			So(err, ShouldBeNil)
			So(days, ShouldResemble, []string{"2024-04-01", "2024-04-30", "2024-05-01"})
		})

		Convey("Then examples and counts are available per signature", func() {
			sig := recs[0].Signature
			examples, err := s.ExampleKillmails(ctx, sig, 5)
			So(err, ShouldBeNil)
			So(examples, ShouldHaveLength, 2)
			n, err := s.CountBySignature(ctx, sig)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)
		})

		Convey("Then listing pages by ingestion time", func() {
			rows, total, err := s.Killmails(ctx, 2, 1)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 6)
			So(rows, ShouldHaveLength, 2)
			So(rows[0].KillmailID, ShouldEqual, 5)
			So(rows[1].KillmailID, ShouldEqual, 4)

			ids, err := s.RecentKillmailIDs(ctx, 3)
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []int64{6, 5, 4})

			stats, err := s.Stats(ctx)
			So(err, ShouldBeNil)
			So(stats.Total, ShouldEqual, 6)
			So(stats.FirstIngested, ShouldNotBeNil)
			So(stats.LastIngested.After(*stats.FirstIngested), ShouldBeTrue)
		})

		Convey("When a day is replaced", func() {
			raw, err := s.CountKillmailsOfDay(ctx, "2024-05-01")
			So(err, ShouldBeNil)
			err = s.ReplaceDay(ctx, "2024-05-01", raw, []repository.FitAggregateDaily{
				{Day: "2024-05-01", ShipTypeID: 587, FitSignature: recs[0].Signature, LossCount: 7, LastUpdated: day0},
			}, []repository.LocationAggregateDaily{
				{Day: "2024-05-01", ShipTypeID: 587, FitSignature: recs[0].Signature, SolarSystemID: jita.SystemID,
					ConstellationID: jita.ConstellationID, RegionID: jita.RegionID, SecurityZone: "highsec", LossCount: 7, LastUpdated: day0},
			})
			So(err, ShouldBeNil)

			Convey("Then only the new rows remain for that day", func() {
				sum, err := s.SumFitLossesOfDay(ctx, "2024-05-01")
				So(err, ShouldBeNil)
				So(sum, ShouldEqual, 7)
				total, err := s.TotalLosses(ctx, window())
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 8)
			})
		})

		Convey("When a day is replaced with rows built from a stale count", func() {
			raw, err := s.CountKillmailsOfDay(ctx, "2024-05-01")
			So(err, ShouldBeNil)
			before, err := s.SumFitLossesOfDay(ctx, "2024-05-01")
			So(err, ShouldBeNil)

			err = s.ReplaceDay(ctx, "2024-05-01", raw-1, []repository.FitAggregateDaily{
				{Day: "2024-05-01", ShipTypeID: 587, FitSignature: recs[0].Signature, LossCount: 7, LastUpdated: day0},
			}, nil)

			Convey("Then the swap is rolled back", func() {
				So(errors.Is(err, repository.ErrDayChanged), ShouldBeTrue)
				after, err := s.SumFitLossesOfDay(ctx, "2024-05-01")
				So(err, ShouldBeNil)
				So(after, ShouldEqual, before)
			})
		})
	})
}

func TestReferenceData(t *testing.T) {
	ctx := context.Background()

	Convey("Given stored reference data", t, func() {
		s := openStore(t)
		So(s.SaveItemType(ctx, model.ItemType{TypeID: 587, Name: "Rifter", GroupID: 25, CategoryID: 6}), ShouldBeNil)
		So(s.SaveItemType(ctx, model.ItemType{TypeID: 2873, Name: "125mm Gatling AutoCannon II", GroupID: 55, CategoryID: 7}), ShouldBeNil)
		So(s.SaveItemGroup(ctx, model.ItemGroup{GroupID: 25, Name: "Frigate", CategoryID: 6}), ShouldBeNil)
		So(s.SaveRegion(ctx, model.Region{RegionID: 10000002, Name: "The Forge"}), ShouldBeNil)
		So(s.SaveRegion(ctx, model.Region{RegionID: 10000043, Name: "Domain"}), ShouldBeNil)
		So(s.SaveConstellation(ctx, model.Constellation{ConstellationID: 20000020, Name: "Kimotoro", RegionID: 10000002}), ShouldBeNil)
		So(s.SaveConstellation(ctx, model.Constellation{ConstellationID: 20000322, Name: "Throne Worlds", RegionID: 10000043}), ShouldBeNil)
		So(s.SaveSystem(ctx, model.SolarSystem{SystemID: 30000142, Name: "Jita", ConstellationID: 20000020, SecurityStatus: 0.946}), ShouldBeNil)
		So(s.SaveSystem(ctx, model.SolarSystem{SystemID: 30002187, Name: "Amarr", ConstellationID: 20000322, SecurityStatus: 1.0}), ShouldBeNil)

		Convey("Then saving again updates in place", func() {
			So(s.SaveItemType(ctx, model.ItemType{TypeID: 587, Name: "Rifter II", GroupID: 25, CategoryID: 6}), ShouldBeNil)
			t, err := s.ItemType(ctx, 587)
			So(err, ShouldBeNil)
			So(t.Name, ShouldEqual, "Rifter II")
			n, _ := s.CountItemTypes(ctx)
			So(n, ShouldEqual, 2)
		})

		Convey("Then unknown IDs are not found", func() {
			_, err := s.ItemType(ctx, 1)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			_, err = s.System(ctx, 1)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			_, err = s.ItemGroup(ctx, 1)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Then types can be searched by name", func() {
			items, total, err := s.SearchItemTypes(ctx, "gatling", 10, 0)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 1)
			So(items[0].TypeID, ShouldEqual, 2873)
		})

		Convey("Then systems can be listed by region", func() {
			systems, err := s.Systems(ctx, repository.SystemQuery{RegionIDs: []int64{10000043}})
			So(err, ShouldBeNil)
			So(systems, ShouldHaveLength, 1)
			So(systems[0].Name, ShouldEqual, "Amarr")
		})

		Convey("Then constellations can be listed by region", func() {
			cons, err := s.Constellations(ctx, repository.ConstellationQuery{RegionIDs: []int64{10000002}})
			So(err, ShouldBeNil)
			So(cons, ShouldHaveLength, 1)
			So(cons[0].Name, ShouldEqual, "Kimotoro")
		})

		Convey("Then locations resolve for stored systems only", func() {
			locs, err := s.Locations(ctx, []int64{30000142, 30002187, 31000005})
			So(err, ShouldBeNil)
			So(locs, ShouldHaveLength, 2)
			So(locs[30000142], ShouldResemble, jita)
		})

		Convey("Then stored IDs are reported per kind", func() {
			got, err := s.StoredIDs(ctx, repository.KindSystem, []int64{30000142, 31000005})
			So(err, ShouldBeNil)
			So(got, ShouldContainKey, int64(30000142))
			So(got, ShouldNotContainKey, int64(31000005))

			_, err = s.StoredIDs(ctx, "planet", []int64{1})
			So(err, ShouldNotBeNil)
		})

		Convey("Then the database answers pings", func() {
			So(s.Ping(ctx), ShouldBeNil)
		})
	})
}
