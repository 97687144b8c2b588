package quota

import (
	"context"
	"sync"
	"time"
)

type guestCounter struct {
	count     int
	lastReset time.Time
}

// MemoryGuestStore keeps guest counters in process memory. Counters outlive
// individual connections but not the process. Entries idle for longer than
// two periods are dropped by Sweep.
type MemoryGuestStore struct {
	mu       sync.Mutex
	counters map[string]*guestCounter
}

// NewMemoryGuestStore returns an empty store.
func NewMemoryGuestStore() *MemoryGuestStore {
	return &MemoryGuestStore{counters: make(map[string]*guestCounter)}
}

// GetUsage returns the guest's counter or ErrNoUsage.
func (m *MemoryGuestStore) GetUsage(_ context.Context, id string) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[id]
	if !ok {
		return Usage{}, ErrNoUsage
	}
	last := c.lastReset
	return Usage{RecognizedCount: c.count, LastReset: &last}, nil
}

// ResetUsage zeroes the guest's counter.
func (m *MemoryGuestStore) ResetUsage(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[id] = &guestCounter{lastReset: at}
	return nil
}

// IncrementUsage stores newCount for the guest.
func (m *MemoryGuestStore) IncrementUsage(_ context.Context, id string, newCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[id]
	if !ok {
		return ErrNoUsage
	}
	c.count = newCount
	return nil
}

// AddUsage adds one to the guest's counter.
func (m *MemoryGuestStore) AddUsage(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[id]
	if !ok {
		return 0, ErrNoUsage
	}
	c.count++
	return c.count, nil
}

// Sweep removes counters last reset before now minus two periods and
// returns how many were removed.
func (m *MemoryGuestStore) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, c := range m.counters {
		if now.Sub(c.lastReset) >= 2*Period {
			delete(m.counters, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked guests.
func (m *MemoryGuestStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}
