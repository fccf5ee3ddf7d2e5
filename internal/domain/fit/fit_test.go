package fit_test

import (
	"math/rand/v2"
	"testing"

	"github.com/okian/lostfits/internal/domain/fit"
	"github.com/okian/lostfits/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCategoryOf(t *testing.T) {
	Convey("Given slot flags", t, func() {
		expect := map[int]fit.Category{
			11: fit.Low, 18: fit.Low,
			19: fit.Mid, 26: fit.Mid,
			27: fit.High, 34: fit.High,
			92: fit.Rig, 94: fit.Rig,
			125: fit.Subsystem, 132: fit.Subsystem,
			87: fit.Drone,
			5:  fit.Cargo,
			0:  fit.Other, 10: fit.Other, 35: fit.Other, 90: fit.Other, 95: fit.Other, 133: fit.Other, -1: fit.Other,
		}
		for flag, want := range expect {
			So(fit.CategoryOf(flag), ShouldEqual, want)
		}
		So(fit.Categories(), ShouldHaveLength, 8)
		So(fit.Rig.String(), ShouldEqual, "rig")
	})
}

func TestNormalize(t *testing.T) {
	Convey("Given one ship with a high and a mid item", t, func() {
		const ship, a, b = int64(587), int64(2873), int64(3841)
		forward := []model.FittedItem{{TypeID: a, Flag: 27, Quantity: 1}, {TypeID: b, Flag: 20, Quantity: 2}}
		reversed := []model.FittedItem{{TypeID: b, Flag: 20, Quantity: 2}, {TypeID: a, Flag: 27, Quantity: 1}}

		f := fit.Normalize(ship, forward)

		Convey("Then A is grouped under high and B under mid", func() {
			So(f.Entries(fit.High), ShouldResemble, []fit.Entry{{TypeID: a, Quantity: 1}})
			So(f.Entries(fit.Mid), ShouldResemble, []fit.Entry{{TypeID: b, Quantity: 2}})
			So(f.Entries(fit.Low), ShouldBeEmpty)
			So(f.Canonical(), ShouldEqual, "v1|587|high:2873x1|mid:3841x2|low:|rig:|subsystem:|drone:|cargo:|other:")
		})

		Convey("And listing the items in reverse yields the same signature", func() {
			So(fit.Signature(ship, reversed), ShouldEqual, f.Signature())
		})

		Convey("And the signature is 32 lowercase hex characters", func() {
			So(fit.ValidSignature(f.Signature()), ShouldBeTrue)
			So(fit.ValidSignature("XYZ"), ShouldBeFalse)
			So(fit.ValidSignature("0123456789ABCDEF0123456789abcdef"), ShouldBeFalse)
		})
	})

	Convey("Given every permutation of an item list", t, func() {
		items := []model.FittedItem{
			{TypeID: 2048, Flag: 11, Quantity: 1},
			{TypeID: 1541, Flag: 12, Quantity: 1},
			{TypeID: 3841, Flag: 19, Quantity: 1},
			{TypeID: 2873, Flag: 27, Quantity: 1},
			{TypeID: 2873, Flag: 28, Quantity: 1},
			{TypeID: 31117, Flag: 92, Quantity: 1},
			{TypeID: 2488, Flag: 87, Quantity: 5},
		}
		want := fit.Signature(621, items)

		same := true
		permute(items, 0, func(p []model.FittedItem) {
			if fit.Signature(621, p) != want {
				same = false
			}
		})

		Convey("Then the signature never changes", func() {
			So(same, ShouldBeTrue)
		})
	})

	Convey("Given random shuffles of a large fit", t, func() {
		r := rand.New(rand.NewPCG(1, 2))
		items := make([]model.FittedItem, 0, 40)
		for i := 0; i < 40; i++ {
			items = append(items, model.FittedItem{TypeID: int64(1000 + r.IntN(8)), Flag: r.IntN(140), Quantity: int64(1 + r.IntN(3))})
		}
		want := fit.Signature(17740, items)

		for i := 0; i < 200; i++ {
			r.Shuffle(len(items), func(a, b int) { items[a], items[b] = items[b], items[a] })
			So(fit.Signature(17740, items), ShouldEqual, want)
		}
	})

	Convey("Given duplicate item IDs within one category", t, func() {
		items := []model.FittedItem{
			{TypeID: 2873, Flag: 27, Quantity: 1},
			{TypeID: 2873, Flag: 29, Quantity: 1},
			{TypeID: 2873, Flag: 30, Quantity: 2},
			{TypeID: 215, Flag: 5, Quantity: 100},
			{TypeID: 215, Flag: 5, Quantity: 50},
		}
		f := fit.Normalize(587, items)

		Convey("Then they merge into one entry with summed quantity", func() {
			So(f.Entries(fit.High), ShouldResemble, []fit.Entry{{TypeID: 2873, Quantity: 4}})
			So(f.Entries(fit.Cargo), ShouldResemble, []fit.Entry{{TypeID: 215, Quantity: 150}})
			So(f.SlotCounts(), ShouldResemble, map[string]int64{"high": 4, "cargo": 150})
		})

		Convey("And the merged form signs the same as the pre-merged list", func() {
			merged := []model.FittedItem{{TypeID: 2873, Flag: 27, Quantity: 4}, {TypeID: 215, Flag: 5, Quantity: 150}}
			So(fit.Signature(587, merged), ShouldEqual, f.Signature())
		})
	})

	Convey("Given the same item in different categories", t, func() {
		inHigh := fit.Signature(587, []model.FittedItem{{TypeID: 2873, Flag: 27, Quantity: 1}})
		inCargo := fit.Signature(587, []model.FittedItem{{TypeID: 2873, Flag: 5, Quantity: 1}})

		Convey("Then the signatures differ", func() {
			So(inHigh, ShouldNotEqual, inCargo)
		})
	})

	Convey("Given the same items on different ships", t, func() {
		items := []model.FittedItem{{TypeID: 2873, Flag: 27, Quantity: 1}}
		So(fit.Signature(587, items), ShouldNotEqual, fit.Signature(588, items))
	})

	Convey("Given different quantities of the same item", t, func() {
		one := fit.Signature(587, []model.FittedItem{{TypeID: 2488, Flag: 87, Quantity: 1}})
		five := fit.Signature(587, []model.FittedItem{{TypeID: 2488, Flag: 87, Quantity: 5}})
		So(one, ShouldNotEqual, five)
	})

	Convey("Given a ship with no items", t, func() {
		f := fit.Normalize(670, nil)

		Convey("Then a ship-only signature is produced", func() {
			So(fit.ValidSignature(f.Signature()), ShouldBeTrue)
			So(f.Signature(), ShouldEqual, fit.Signature(670, []model.FittedItem{}))
			So(f.SlotCounts(), ShouldBeEmpty)
		})
	})

	Convey("Given items with unknown flags", t, func() {
		items := []model.FittedItem{{TypeID: 1, Flag: 999, Quantity: 1}, {TypeID: 2, Flag: -4, Quantity: 1}}
		f := fit.Normalize(587, items)

		Convey("Then none are dropped and all land in other", func() {
			So(f.Entries(fit.Other), ShouldResemble, []fit.Entry{{TypeID: 1, Quantity: 1}, {TypeID: 2, Quantity: 1}})
		})
	})
}

func permute(items []model.FittedItem, k int, visit func([]model.FittedItem)) {
	if k == len(items) {
		visit(items)
		return
	}
	for i := k; i < len(items); i++ {
		items[k], items[i] = items[i], items[k]
		permute(items, k+1, visit)
		items[k], items[i] = items[i], items[k]
	}
}
