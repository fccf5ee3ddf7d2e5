package resolver_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/okian/lostfits/internal/adapters/catalog"
	"github.com/okian/lostfits/internal/adapters/repository"
	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/internal/feedsim"
	"github.com/okian/lostfits/internal/resolver"
	"github.com/okian/lostfits/pkg/logger"
	"github.com/okian/lostfits/pkg/ratelimit"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type backfills struct {
	mu   sync.Mutex
	locs []model.Location
}

func (b *backfills) BackfillLocation(_ context.Context, loc model.Location) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locs = append(b.locs, loc)
	return 1, nil
}

func (b *backfills) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.locs)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestResolver(t *testing.T) {
	ctx := context.Background()

	Convey("Given a resolver over an empty store and the simulated catalog", t, func() {
		sim := feedsim.NewServer(feedsim.DefaultUniverse())
		ts := httptest.NewServer(sim)
		defer ts.Close()

		store, err := repository.Open(ctx, repository.DriverSQLite, repository.MemoryDSN())
		So(err, ShouldBeNil)
		defer store.Close()

		cat := catalog.New(ts.URL+"/", ratelimit.New(1000, ratelimit.WithBurst(100)),
			catalog.WithRetryInterval(time.Millisecond))
		bf := &backfills{}
		r := resolver.New(store, cat, resolver.WithBackfiller(bf), resolver.WithWorkers(2))

		Convey("When many goroutines resolve the same type at once", func() {
			sim.SetLatency(50 * time.Millisecond)
			var wg sync.WaitGroup
			names := make([]string, 10)
			for i := range names {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					typ, err := r.Resolve(ctx, 587)
					if err == nil {
						names[i] = typ.Name
					}
				}(i)
			}
			wg.Wait()

			Convey("Then the catalog is asked exactly once", func() {
				So(sim.Hits("/universe/types/587/"), ShouldEqual, 1)
				for _, n := range names {
					So(n, ShouldEqual, "Rifter")
				}
			})

			Convey("And the category comes from the group and is persisted", func() {
				typ, err := store.ItemType(ctx, 587)
				So(err, ShouldBeNil)
				So(typ.CategoryID, ShouldEqual, model.ShipCategoryID)
				So(sim.Hits("/universe/groups/25/"), ShouldEqual, 1)
			})
		})

		Convey("When the first caller of a shared lookup gives up", func() {
			sim.SetLatency(300 * time.Millisecond)
			first, cancel := context.WithCancel(ctx)
			firstErr := make(chan error, 1)
			go func() {
				_, err := r.Resolve(first, 587)
				firstErr <- err
			}()
			time.Sleep(20 * time.Millisecond)

			type result struct {
				typ model.ItemType
				err error
			}
			second := make(chan result, 1)
			go func() {
				typ, err := r.Resolve(ctx, 587)
				second <- result{typ, err}
			}()
			time.Sleep(20 * time.Millisecond)
			cancel()

			Convey("Then only that caller fails and the others get the type", func() {
				So(errors.Is(<-firstErr, context.Canceled), ShouldBeTrue)
				res := <-second
				So(res.err, ShouldBeNil)
				So(res.typ.Name, ShouldEqual, "Rifter")
				So(sim.Hits("/universe/types/587/"), ShouldEqual, 1)
			})
		})

		Convey("When a type is already stored", func() {
			So(store.SaveItemType(ctx, model.ItemType{TypeID: 621, Name: "Caracal", GroupID: 26, CategoryID: 6}), ShouldBeNil)
			typ, err := r.Resolve(ctx, 621)

			Convey("Then the catalog is not consulted", func() {
				So(err, ShouldBeNil)
				So(typ.Name, ShouldEqual, "Caracal")
				So(sim.Hits("/universe/types/621/"), ShouldEqual, 0)
			})
		})

		Convey("When an unknown type is resolved twice", func() {
			_, first := r.Resolve(ctx, 999)
			_, second := r.Resolve(ctx, 999)

			Convey("Then both report not found and the miss is remembered", func() {
				So(errors.Is(first, resolver.ErrNotFound), ShouldBeTrue)
				So(errors.Is(second, resolver.ErrNotFound), ShouldBeTrue)
				So(sim.Hits("/universe/types/999/"), ShouldEqual, 1)
			})
		})

		Convey("When the catalog is unavailable", func() {
			sim.FailNext(100)
			_, err := r.Resolve(ctx, 2873)

			Convey("Then the error is not cached as not found", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, resolver.ErrNotFound), ShouldBeFalse)
				sim.FailNext(0)
				typ, err := r.Resolve(ctx, 2873)
				So(err, ShouldBeNil)
				So(typ.GroupID, ShouldEqual, 55)
			})
		})

		Convey("When a lowsec system is resolved", func() {
			So(r.Locate(30002188).Resolved(), ShouldBeFalse)
			loc, err := r.ResolveSystem(ctx, 30002188)

			Convey("Then its constellation, region and zone are known", func() {
				So(err, ShouldBeNil)
				So(loc.ConstellationID, ShouldEqual, 20000322)
				So(loc.RegionID, ShouldEqual, 10000043)
				So(loc.Zone, ShouldEqual, model.ZoneLowsec)
				So(r.Locate(30002188), ShouldResemble, loc)
			})

			Convey("And the location is backfilled and stored", func() {
				So(bf.count(), ShouldEqual, 1)
				sys, err := store.System(ctx, 30002188)
				So(err, ShouldBeNil)
				So(sys.Name, ShouldEqual, "Sarum Prime")
				reg, err := store.Region(ctx, 10000043)
				So(err, ShouldBeNil)
				So(reg.Name, ShouldEqual, "Domain")
			})
		})

		Convey("When an unknown system is resolved", func() {
			loc, err := r.ResolveSystem(ctx, 30009999)
			So(errors.Is(err, resolver.ErrNotFound), ShouldBeTrue)
			So(loc.Resolved(), ShouldBeFalse)
			So(bf.count(), ShouldEqual, 0)
		})

		Convey("When IDs are required in the background", func() {
			r.Start(ctx)
			r.Require(ctx, resolver.KindType, 17740)
			r.Require(ctx, resolver.KindType, 17740)
			r.Require(ctx, resolver.KindSystem, 31000005)

			Convey("Then the workers resolve each once", func() {
				So(eventually(func() bool {
					return r.Locate(31000005).Resolved() && r.Stats().Types == 1
				}), ShouldBeTrue)
				So(r.Locate(31000005).Zone, ShouldEqual, model.ZoneWormhole)
				So(sim.Hits("/universe/types/17740/"), ShouldEqual, 1)
				So(r.Shutdown(ctx), ShouldBeNil)
				So(r.Stats().Pending, ShouldEqual, 0)
			})
		})

		Convey("When types are reseeded", func() {
			So(store.SaveItemType(ctx, model.ItemType{TypeID: 587, Name: "Rifter", GroupID: 25, CategoryID: 6}), ShouldBeNil)
			var last resolver.Progress
			pr, err := r.ReseedTypes(ctx, []int64{587, 621, 999}, func(p resolver.Progress) { last = p })

			Convey("Then stored IDs are skipped and misses counted", func() {
				So(err, ShouldBeNil)
				So(pr, ShouldResemble, resolver.Progress{Total: 3, Processed: 3, Resolved: 1, Skipped: 1, Failed: 1})
				So(last, ShouldResemble, pr)
				So(sim.Hits("/universe/types/587/"), ShouldEqual, 0)
			})
		})

		Convey("When a reseed is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			pr, err := r.ReseedTypes(cctx, []int64{587, 621}, nil)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(pr.Processed, ShouldEqual, 0)
		})

		Convey("When the universe is seeded", func() {
			pr, err := r.SeedUniverse(ctx, nil)
			So(err, ShouldBeNil)

			Convey("Then every region, constellation and system is stored", func() {
				So(pr.Resolved, ShouldEqual, 4)
				systems, err := store.Systems(ctx, repository.SystemQuery{})
				So(err, ShouldBeNil)
				So(systems, ShouldHaveLength, 6)
				So(r.Locate(30000142).Zone, ShouldEqual, model.ZoneHighsec)
				So(bf.count(), ShouldEqual, 6)
			})

			Convey("And a second run skips everything", func() {
				before := sim.Hits("/universe/regions/10000002/")
				again, err := r.SeedUniverse(ctx, nil)
				So(err, ShouldBeNil)
				So(again.Skipped, ShouldEqual, 4)
				So(sim.Hits("/universe/regions/10000002/"), ShouldEqual, before)
			})
		})
	})
}
