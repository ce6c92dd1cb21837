// Package keylock serializes work per key. Different keys never contend.
package keylock

import (
	"context"
	"sort"
	"sync"
)

// slot is a one-token semaphore shared by every holder of the same key.
type slot struct {
	ch   chan struct{}
	refs int
}

// Manager hands out per-key locks. Entries are dropped once no goroutine
// holds or waits on them, so the map only grows with live contention.
type Manager struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{slots: make(map[string]*slot)}
}

func (m *Manager) acquireSlot(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *Manager) releaseSlot(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

// Lock acquires every key in sorted order and returns a function that
// releases them. Duplicate keys are collapsed. If ctx ends first, the keys
// taken so far are released and ctx.Err() is returned.
func (m *Manager) Lock(ctx context.Context, keys ...string) (func(), error) {
	sorted := uniqueSorted(keys)
	held := make([]string, 0, len(sorted))
	heldSlots := make([]*slot, 0, len(sorted))

	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-heldSlots[i].ch
			m.releaseSlot(held[i], heldSlots[i])
		}
	}

	for _, key := range sorted {
		s := m.acquireSlot(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, key)
			heldSlots = append(heldSlots, s)
		case <-ctx.Done():
			m.releaseSlot(key, s)
			unlock()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(unlock) }, nil
}

// Len reports how many keys currently have holders or waiters.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
