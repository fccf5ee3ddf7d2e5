package dedupe_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/okian/lostfits/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(100))

		Convey("When an ID is new", func() {
			seen := d.SeenAndRecord(ctx, 118000001)

			Convey("Then it is recorded", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When an ID repeats", func() {
			d.SeenAndRecord(ctx, 118000001)
			seen := d.SeenAndRecord(ctx, 118000001)

			Convey("Then it is reported as seen", func() {
				So(seen, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When an ID is unrecorded", func() {
			d.SeenAndRecord(ctx, 7)
			d.Unrecord(ctx, 7)
			d.Unrecord(ctx, 8)

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, 7), ShouldBeFalse)
			})
		})
	})

	Convey("Given a bounded deduper at capacity", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for _, id := range []int64{1, 2, 3} {
			d.SeenAndRecord(ctx, id)
		}

		Convey("When a fourth ID arrives", func() {
			d.SeenAndRecord(ctx, 4)

			Convey("Then the oldest is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, 2), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, 4), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, 1), ShouldBeFalse)
			})
		})

		Convey("When an unrecorded ID is recorded again", func() {
			d.Unrecord(ctx, 2)
			d.SeenAndRecord(ctx, 2) // evicts 1
			d.SeenAndRecord(ctx, 5) // reaches the stale slot of the first 2

			Convey("Then the stale slot does not evict the fresh entry", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, 2), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, 3), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, 5), ShouldBeTrue)
			})
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(-1))
		for i := int64(0); i < 5000; i++ {
			d.SeenAndRecord(ctx, i)
		}

		Convey("Then nothing is evicted", func() {
			So(d.Size(), ShouldEqual, 5000)
			So(d.SeenAndRecord(ctx, 0), ShouldBeTrue)
		})
	})

	Convey("Given concurrent writers racing on the same IDs", t, func() {
		d := dedupe.NewInMemoryDeduper()
		var fresh atomic.Int64
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for id := int64(0); id < 1000; id++ {
					if !d.SeenAndRecord(ctx, id) {
						fresh.Add(1)
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each ID is new exactly once", func() {
			So(fresh.Load(), ShouldEqual, 1000)
			So(d.Size(), ShouldEqual, 1000)
		})
	})
}
