// Package sensor supplies people counts for rooms.
package sensor

import (
	"context"
	"sync"
)

// Provider reports how many people are currently in a room.
type Provider interface {
	PeopleCount(ctx context.Context, roomID string) (int, error)
}

// Manual is a provider whose readings are set by hand, through the debug API
// or by tests.
type Manual struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewManual returns a provider that reports zero for every room.
func NewManual() *Manual {
	return &Manual{counts: make(map[string]int)}
}

// Set records the people count for a room. Negative counts are stored as zero.
func (m *Manual) Set(roomID string, count int) {
	if count < 0 {
		count = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[roomID] = count
}

// SetOccupied records one person for occupied and zero otherwise.
func (m *Manual) SetOccupied(roomID string, occupied bool) {
	if occupied {
		m.Set(roomID, 1)
		return
	}
	m.Set(roomID, 0)
}

func (m *Manual) PeopleCount(_ context.Context, roomID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[roomID], nil
}
