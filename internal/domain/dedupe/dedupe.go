// Package dedupe keeps a bounded in-memory window of recently seen killmail IDs.
//
// The window is a fast path in front of the database primary key, which
// stays authoritative: an ID that fell out of the window is still rejected
// by the store.
package dedupe

import (
	"context"
	"sync"
)

const defaultMaxSize = 100_000

// Deduper records seen killmail IDs.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id int64) bool

	// Unrecord forgets id so that a failed ingestion can be retried.
	Unrecord(ctx context.Context, id int64)

	Size() int64
}

type slot struct {
	id  int64
	seq uint64
}

// inMemoryDeduper evicts the oldest entry first once maxSize is reached.
// Unbounded when maxSize <= 0.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[int64]uint64 // id -> insertion sequence
	ring    []slot
	next    int
	seq     uint64
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[int64]uint64)
	if d.maxSize > 0 {
		d.ring = make([]slot, 0, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seq++
	d.seen[id] = d.seq

	if d.maxSize <= 0 {
		return false
	}
	if len(d.ring) < d.maxSize {
		d.ring = append(d.ring, slot{id: id, seq: d.seq})
		return false
	}
	// Ring is full: the slot at next is the oldest.
	old := d.ring[d.next]
	if seq, ok := d.seen[old.id]; ok && seq == old.seq {
		delete(d.seen, old.id)
	}
	d.ring[d.next] = slot{id: id, seq: d.seq}
	d.next = (d.next + 1) % d.maxSize
	return false
}

// Unrecord leaves the ring slot in place; it is skipped when evicted
// because its sequence no longer matches.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
