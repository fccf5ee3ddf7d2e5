package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type request struct {
	kind string
	id   int64
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue[request](WithCapacity(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if err := q.Enqueue(ctx, request{kind: "type", id: 587}); err != nil {
		t.Fatalf("expected enqueue to succeed, got %v", err)
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.id != 587 || got.kind != "type" {
		t.Errorf("expected type 587, got %+v", got)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue[request](WithCapacity(2), WithName("resolver"))
	ctx := context.Background()

	for i := int64(1); i <= 2; i++ {
		if err := q.Enqueue(ctx, request{id: i}); err != nil {
			t.Fatalf("expected enqueue %d to succeed, got %v", i, err)
		}
	}

	start := time.Now()
	err := q.Enqueue(ctx, request{id: 3})
	if !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("enqueue on a full queue must not block")
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue[request](WithCapacity(4))
	ctx := context.Background()

	_ = q.Enqueue(ctx, request{id: 1})
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	if err := q.Enqueue(ctx, request{id: 2}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	var drained []int64
	for r := range q.Dequeue(ctx) {
		drained = append(drained, r.id)
	}
	if len(drained) != 1 || drained[0] != 1 {
		t.Errorf("expected queued item to drain after close, got %v", drained)
	}
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 50
	q := NewInMemoryQueue[request](WithCapacity(producers * perProducer))
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.Enqueue(ctx, request{id: int64(p*perProducer + i)}); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	if l := q.Len(); l != producers*perProducer {
		t.Errorf("expected %d items, got %d", producers*perProducer, l)
	}
}

func TestInMemoryQueue_DequeueStopsOnCancel(t *testing.T) {
	q := NewInMemoryQueue[request]()
	ctx, cancel := context.WithCancel(context.Background())
	ch := q.Dequeue(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected no item after cancel")
		}
	case <-time.After(time.Second):
		t.Error("dequeue channel was not closed after cancel")
	}
}
