package feedsim

import (
	"encoding/json"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/lostfits/internal/domain/model"
)

const (
	defaultFirstKillID = 120_000_000
	// Share of kills that deviate from their doctrine by dropping cargo.
	variantRate = 0.2
)

type doctrine struct {
	ship   int64
	weight int
	items  []model.FittedItem
}

// Doctrines are weighted so a few fits dominate, as they do on the live feed.
var doctrines = []doctrine{
	{ship: 587, weight: 6, items: []model.FittedItem{
		{TypeID: 2873, Flag: 27, Quantity: 1}, {TypeID: 2873, Flag: 28, Quantity: 1}, {TypeID: 2873, Flag: 29, Quantity: 1},
		{TypeID: 3841, Flag: 19, Quantity: 1},
		{TypeID: 2048, Flag: 11, Quantity: 1}, {TypeID: 1541, Flag: 12, Quantity: 1},
		{TypeID: 31117, Flag: 92, Quantity: 1},
		{TypeID: 215, Flag: 5, Quantity: 400},
	}},
	{ship: 587, weight: 2, items: []model.FittedItem{
		{TypeID: 2873, Flag: 27, Quantity: 1}, {TypeID: 2873, Flag: 28, Quantity: 1},
		{TypeID: 2048, Flag: 11, Quantity: 1},
	}},
	{ship: 621, weight: 3, items: []model.FittedItem{
		{TypeID: 2410, Flag: 27, Quantity: 1}, {TypeID: 2410, Flag: 28, Quantity: 1}, {TypeID: 2410, Flag: 29, Quantity: 1},
		{TypeID: 3841, Flag: 19, Quantity: 1}, {TypeID: 3841, Flag: 20, Quantity: 1},
		{TypeID: 2048, Flag: 11, Quantity: 1},
		{TypeID: 2488, Flag: 87, Quantity: 2},
	}},
	{ship: 17740, weight: 1, items: []model.FittedItem{
		{TypeID: 2048, Flag: 11, Quantity: 1},
		{TypeID: 2488, Flag: 87, Quantity: 5},
	}},
}

// Generator produces RedisQ packages.
type Generator struct {
	rng      *rand.Rand
	universe *Universe
	nextID   int64
	total    int
}

// NewGenerator creates a deterministic generator for seed.
func NewGenerator(seed uint64, u *Universe) *Generator {
	total := 0
	for _, d := range doctrines {
		total += d.weight
	}
	return &Generator{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		universe: u,
		nextID:   defaultFirstKillID,
		total:    total,
	}
}

// Kill is a generated killmail before encoding.
type Kill struct {
	KillmailID    int64
	Hash          string
	Time          time.Time
	SolarSystemID int64
	ShipTypeID    int64
	Items         []model.FittedItem
}

// NextKill draws the next kill, happening at t.
func (g *Generator) NextKill(t time.Time) Kill {
	d := g.pick()
	items := append([]model.FittedItem(nil), d.items...)
	if g.rng.Float64() < variantRate {
		kept := items[:0]
		for _, it := range items {
			if it.Flag != 5 {
				kept = append(kept, it)
			}
		}
		items = kept
	}
	g.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })

	sys := g.universe.Systems[g.rng.IntN(len(g.universe.Systems))]
	k := Kill{
		KillmailID:    g.nextID,
		Hash:          strings.ReplaceAll(uuid.NewString(), "-", ""),
		Time:          t.UTC().Truncate(time.Second),
		SolarSystemID: sys.SystemID,
		ShipTypeID:    d.ship,
		Items:         items,
	}
	g.nextID++
	return k
}

// Next returns the next kill encoded as a RedisQ package.
func (g *Generator) Next(t time.Time) []byte {
	return Encode(g.NextKill(t))
}

func (g *Generator) pick() doctrine {
	n := g.rng.IntN(g.total)
	for _, d := range doctrines {
		if n < d.weight {
			return d
		}
		n -= d.weight
	}
	return doctrines[0]
}

type wireItem struct {
	ItemTypeID        int64 `json:"item_type_id"`
	Flag              int   `json:"flag"`
	QuantityDestroyed int64 `json:"quantity_destroyed,omitempty"`
	QuantityDropped   int64 `json:"quantity_dropped,omitempty"`
	Singleton         int   `json:"singleton"`
}

type wireVictim struct {
	ShipTypeID int64      `json:"ship_type_id"`
	Items      []wireItem `json:"items"`
}

type wireKillmail struct {
	KillmailID    int64      `json:"killmail_id"`
	KillmailTime  string     `json:"killmail_time"`
	SolarSystemID int64      `json:"solar_system_id"`
	Victim        wireVictim `json:"victim"`
}

type wireZKB struct {
	Hash       string  `json:"hash"`
	TotalValue float64 `json:"totalValue"`
	NPC        bool    `json:"npc"`
}

type wirePackage struct {
	KillID   int64        `json:"killID"`
	Killmail wireKillmail `json:"killmail"`
	ZKB      wireZKB      `json:"zkb"`
}

// Encode renders k the way RedisQ delivers it. Odd type IDs are reported
// as destroyed and even ones as dropped so both quantity fields are used.
func Encode(k Kill) []byte {
	items := make([]wireItem, 0, len(k.Items))
	for _, it := range k.Items {
		w := wireItem{ItemTypeID: it.TypeID, Flag: it.Flag}
		if it.TypeID%2 == 1 {
			w.QuantityDestroyed = it.Quantity
		} else {
			w.QuantityDropped = it.Quantity
		}
		items = append(items, w)
	}
	b, _ := json.Marshal(wirePackage{
		KillID: k.KillmailID,
		Killmail: wireKillmail{
			KillmailID:    k.KillmailID,
			KillmailTime:  k.Time.UTC().Format(time.RFC3339),
			SolarSystemID: k.SolarSystemID,
			Victim:        wireVictim{ShipTypeID: k.ShipTypeID, Items: items},
		},
		ZKB: wireZKB{Hash: k.Hash, TotalValue: float64(len(items)) * 1e6},
	})
	return b
}
