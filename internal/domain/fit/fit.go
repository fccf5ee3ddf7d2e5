// Package fit turns a victim's item list into a canonical fit and its signature.
//
// Normalize is pure and total: every item lands in exactly one category,
// unknown flags included, and the result does not depend on input order.
package fit

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"

	"github.com/okian/lostfits/internal/domain/model"
)

const (
	canonicalVersion = "v1"
	signatureHexLen  = 32
)

// Category is a slot grouping.
type Category int

// Categories in canonical order.
const (
	High Category = iota
	Mid
	Low
	Rig
	Subsystem
	Drone
	Cargo
	Other
	numCategories
)

var categoryNames = [numCategories]string{"high", "mid", "low", "rig", "subsystem", "drone", "cargo", "other"}

func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return "other"
	}
	return categoryNames[c]
}

// Categories returns every category in canonical order.
func Categories() []Category {
	out := make([]Category, numCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

// Slot flag ranges.
const (
	lowFirst, lowLast             = 11, 18
	midFirst, midLast             = 19, 26
	highFirst, highLast           = 27, 34
	rigFirst, rigLast             = 92, 94
	subsystemFirst, subsystemLast = 125, 132
	droneBayFlag                  = 87
	cargoFlag                     = 5
)

// CategoryOf maps a slot flag to its category.
func CategoryOf(flag int) Category {
	switch {
	case flag >= highFirst && flag <= highLast:
		return High
	case flag >= midFirst && flag <= midLast:
		return Mid
	case flag >= lowFirst && flag <= lowLast:
		return Low
	case flag >= rigFirst && flag <= rigLast:
		return Rig
	case flag >= subsystemFirst && flag <= subsystemLast:
		return Subsystem
	case flag == droneBayFlag:
		return Drone
	case flag == cargoFlag:
		return Cargo
	default:
		return Other
	}
}

// Entry is one merged item within a category.
type Entry struct {
	TypeID   int64 `json:"type_id"`
	Quantity int64 `json:"quantity"`
}

// Fit is the canonical form of a ship and its item multiset.
type Fit struct {
	ShipTypeID int64
	slots      [numCategories][]Entry
}

// Normalize groups items by category, merges duplicates and sorts by type ID.
func Normalize(shipTypeID int64, items []model.FittedItem) Fit {
	var merged [numCategories]map[int64]int64
	for _, it := range items {
		c := CategoryOf(it.Flag)
		if merged[c] == nil {
			merged[c] = make(map[int64]int64)
		}
		merged[c][it.TypeID] += it.Quantity
	}

	f := Fit{ShipTypeID: shipTypeID}
	for c, m := range merged {
		if len(m) == 0 {
			continue
		}
		entries := make([]Entry, 0, len(m))
		for id, q := range m {
			entries = append(entries, Entry{TypeID: id, Quantity: q})
		}
		slices.SortFunc(entries, func(a, b Entry) int {
			switch {
			case a.TypeID < b.TypeID:
				return -1
			case a.TypeID > b.TypeID:
				return 1
			}
			return 0
		})
		f.slots[c] = entries
	}
	return f
}

// Entries returns the merged entries of a category.
func (f Fit) Entries(c Category) []Entry {
	if c < 0 || c >= numCategories {
		return nil
	}
	return slices.Clone(f.slots[c])
}

// Canonical returns the stable textual form the signature is derived from.
// Every category is always present so that empty slots cannot shift items
// between categories.
func (f Fit) Canonical() string {
	var b strings.Builder
	b.WriteString(canonicalVersion)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(f.ShipTypeID, 10))
	for c := Category(0); c < numCategories; c++ {
		b.WriteByte('|')
		b.WriteString(c.String())
		b.WriteByte(':')
		for i, e := range f.slots[c] {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatInt(e.TypeID, 10))
			b.WriteByte('x')
			b.WriteString(strconv.FormatInt(e.Quantity, 10))
		}
	}
	return b.String()
}

// Signature returns the opaque 32 hex character fit signature.
func (f Fit) Signature() string {
	sum := sha256.Sum256([]byte(f.Canonical()))
	return hex.EncodeToString(sum[:])[:signatureHexLen]
}

// SlotCounts returns the summed quantity per non-empty category.
func (f Fit) SlotCounts() map[string]int64 {
	out := make(map[string]int64)
	for c := Category(0); c < numCategories; c++ {
		var n int64
		for _, e := range f.slots[c] {
			n += e.Quantity
		}
		if len(f.slots[c]) > 0 {
			out[c.String()] = n
		}
	}
	return out
}

// Signature is shorthand for Normalize(...).Signature().
func Signature(shipTypeID int64, items []model.FittedItem) string {
	return Normalize(shipTypeID, items).Signature()
}

// ValidSignature reports whether s has the shape of a signature.
func ValidSignature(s string) bool {
	if len(s) != signatureHexLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}
