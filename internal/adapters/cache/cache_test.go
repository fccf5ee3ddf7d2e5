package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/lostfits/internal/adapters/cache"
	. "github.com/smartystreets/goconvey/convey"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemory(t *testing.T) {
	ctx := context.Background()

	Convey("Given an in-memory cache with a controllable clock", t, func() {
		now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		c := cache.NewMemory(cache.WithClock(func() time.Time { return now }))

		Convey("When a value is stored with a TTL", func() {
			So(c.Set(ctx, "stats:7", payload{Name: "x", Count: 3}, time.Minute), ShouldBeNil)

			Convey("Then it is returned before expiry", func() {
				var got payload
				ok, err := c.Get(ctx, "stats:7", &got)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(got, ShouldResemble, payload{Name: "x", Count: 3})
			})

			Convey("And it is gone after expiry", func() {
				now = now.Add(time.Minute)
				var got payload
				ok, err := c.Get(ctx, "stats:7", &got)
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				So(c.Len(), ShouldEqual, 0)
			})
		})

		Convey("When keys are invalidated by prefix", func() {
			So(c.Set(ctx, "universe:regions", []int{1}, 0), ShouldBeNil)
			So(c.Set(ctx, "universe:systems:1", []int{2}, 0), ShouldBeNil)
			So(c.Set(ctx, "stats:7", 1, 0), ShouldBeNil)
			So(c.DeletePrefix(ctx, "universe:"), ShouldBeNil)

			Convey("Then only matching keys are removed", func() {
				So(c.Len(), ShouldEqual, 1)
				var n int
				ok, _ := c.Get(ctx, "stats:7", &n)
				So(ok, ShouldBeTrue)
			})
		})
	})
}

func TestRemember(t *testing.T) {
	ctx := context.Background()

	Convey("Given a cache and a counting loader", t, func() {
		c := cache.NewMemory()
		calls := 0
		load := func(context.Context) ([]payload, error) {
			calls++
			return []payload{{Name: "Rifter", Count: calls}}, nil
		}

		Convey("When the same key is remembered twice", func() {
			first, err1 := cache.Remember(ctx, c, "fits", time.Minute, load)
			second, err2 := cache.Remember(ctx, c, "fits", time.Minute, load)

			Convey("Then the loader runs once", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(calls, ShouldEqual, 1)
				So(second, ShouldResemble, first)
			})
		})

		Convey("When the loader fails", func() {
			_, err := cache.Remember(ctx, c, "fits", time.Minute, func(context.Context) (int, error) {
				return 0, errors.New("db down")
			})

			Convey("Then nothing is cached", func() {
				So(err, ShouldNotBeNil)
				So(c.Len(), ShouldEqual, 0)
			})
		})

		Convey("When no cache is configured", func() {
			v, err := cache.Remember(ctx, nil, "fits", time.Minute, load)
			So(err, ShouldBeNil)
			So(v, ShouldHaveLength, 1)
			So(calls, ShouldEqual, 1)
		})
	})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	Convey("Given no redis URL", t, func() {
		c, err := cache.Open(ctx, "")
		So(err, ShouldBeNil)
		So(c.Backend(), ShouldEqual, cache.BackendMemory)
	})

	Convey("Given a malformed redis URL", t, func() {
		_, err := cache.Open(ctx, "not-a-url")
		So(errors.Is(err, cache.ErrConnect), ShouldBeTrue)
	})
}
