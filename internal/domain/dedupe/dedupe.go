// Package dedupe tracks client request ids so at-least-once callers can
// replay a request and receive the original result.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// State describes what Reserve found for a key.
type State int

const (
	// Fresh means the key was unknown and is now reserved by the caller.
	Fresh State = iota
	// InFlight means another caller holds the reservation and has not finished.
	InFlight
	// Done means the key completed earlier; the stored value is returned.
	Done
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case InFlight:
		return "in_flight"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Deduper records request ids and the result each one produced.
type Deduper[V any] interface {
	// Reserve atomically claims key. Only the caller that gets Fresh may
	// run the request; it must then call Complete or Release.
	Reserve(ctx context.Context, key string) (V, State)

	// Complete stores the result for a reserved key.
	Complete(ctx context.Context, key string, value V)

	// Release drops a reservation whose request failed, allowing a retry.
	Release(ctx context.Context, key string)

	Size() int64
}

type entry[V any] struct {
	key   string
	value V
	done  bool
}

// inMemoryDeduper keeps entries in insertion order. In bounded mode the
// oldest completed entry is evicted first; reservations still in flight are
// never evicted, so the map may exceed maxSize while they run.
type inMemoryDeduper[V any] struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int // 0 or negative = unbounded
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper[V any](opts ...Option) Deduper[V] {
	cfg := config{maxSize: 50000}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &inMemoryDeduper[V]{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: cfg.maxSize,
	}
}

func (d *inMemoryDeduper[V]) Reserve(_ context.Context, key string) (V, State) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[key]; ok {
		e := el.Value.(*entry[V])
		if e.done {
			return e.value, Done
		}
		var zero V
		return zero, InFlight
	}

	d.makeRoom()
	d.seen[key] = d.order.PushBack(&entry[V]{key: key})
	d.size.Add(1)

	var zero V
	return zero, Fresh
}

func (d *inMemoryDeduper[V]) Complete(_ context.Context, key string, value V) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.done = true
		return
	}
	// Completing a key that was never reserved or was released.
	d.makeRoom()
	d.seen[key] = d.order.PushBack(&entry[V]{key: key, value: value, done: true})
	d.size.Add(1)
}

func (d *inMemoryDeduper[V]) Release(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	el, ok := d.seen[key]
	if !ok || el.Value.(*entry[V]).done {
		return
	}
	d.order.Remove(el)
	delete(d.seen, key)
	d.size.Add(-1)
}

// makeRoom evicts completed entries, oldest first, until a new entry fits.
// It must be called with d.mu held.
func (d *inMemoryDeduper[V]) makeRoom() {
	if d.maxSize <= 0 {
		return
	}
	for el := d.order.Front(); el != nil && len(d.seen) >= d.maxSize; {
		next := el.Next()
		if e := el.Value.(*entry[V]); e.done {
			d.order.Remove(el)
			delete(d.seen, e.key)
			d.size.Add(-1)
		}
		el = next
	}
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper[V]) Size() int64 {
	return d.size.Load()
}
