package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/lostfits/pkg/ratelimit"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeClock advances only when a waiter asks to sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	block  bool
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	ch := make(chan time.Time, 1)
	if c.block {
		return ch
	}
	c.now = c.now.Add(d)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiter(t *testing.T) {
	Convey("Given a 3 QPS limiter on a fake clock", t, func() {
		clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
		lim := ratelimit.New(3, ratelimit.WithClock(clock))
		ctx := context.Background()

		Convey("When four requests arrive at once", func() {
			var waits []time.Duration
			for i := 0; i < 4; i++ {
				d, err := lim.Wait(ctx)
				So(err, ShouldBeNil)
				waits = append(waits, d)
			}

			Convey("Then the first passes and the rest queue a third of a second apart", func() {
				So(waits[0], ShouldEqual, 0)
				for _, w := range waits[1:] {
					So(w.Seconds(), ShouldAlmostEqual, 1.0/3, 0.001)
				}
				elapsed := clock.Now().Sub(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
				So(elapsed.Seconds(), ShouldAlmostEqual, 1.0, 0.001)
			})
		})

		Convey("When Allow is polled without time passing", func() {
			So(lim.Allow(), ShouldBeTrue)
			So(lim.Allow(), ShouldBeFalse)

			Convey("Then a token returns after 1/3 s", func() {
				clock.Advance(334 * time.Millisecond)
				So(lim.Allow(), ShouldBeTrue)
			})
		})

		Convey("When a waiter is cancelled", func() {
			So(lim.Allow(), ShouldBeTrue)
			clock.block = true
			cctx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() {
				_, err := lim.Wait(cctx)
				done <- err
			}()
			cancel()
			err := <-done

			Convey("Then it returns the context error and frees its reservation", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				clock.block = false
				clock.Advance(334 * time.Millisecond)
				So(lim.Allow(), ShouldBeTrue)
			})
		})

		Convey("When the context is already done", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := lim.Wait(cctx)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(lim.Allow(), ShouldBeTrue)
		})
	})

	Convey("Given a limiter with a larger burst", t, func() {
		clock := &fakeClock{now: time.Unix(0, 0)}
		lim := ratelimit.New(1, ratelimit.WithBurst(3), ratelimit.WithClock(clock), ratelimit.WithBurst(0))

		Convey("Then the burst passes without waiting", func() {
			for i := 0; i < 3; i++ {
				d, err := lim.Wait(context.Background())
				So(err, ShouldBeNil)
				So(d, ShouldEqual, 0)
			}
			So(lim.QPS(), ShouldEqual, 1)
			So(clock.sleeps, ShouldBeEmpty)
		})
	})
}
