package store

import (
	"context"
	"strings"
	"sync"

	"github.com/zlp/pool-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	events    []model.Event
	snapshots []model.PoolSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, copyEvent(*e))
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.events)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]model.Event, 0, n)
	for i := len(s.events) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, copyEvent(s.events[i]))
	}
	return result, nil
}

func (s *MemoryStore) GetEventsByAccount(_ context.Context, account string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, e := range s.events {
		if strings.EqualFold(e.Account, account) || strings.EqualFold(e.Data["lender"], account) {
			result = append(result, copyEvent(e))
		}
	}
	return result, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *model.PoolSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, *snap)
	return nil
}

func (s *MemoryStore) LatestSnapshot(_ context.Context) (*model.PoolSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return nil, ErrNotFound
	}
	snap := s.snapshots[len(s.snapshots)-1]
	return &snap, nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, limit int) ([]model.PoolSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.snapshots)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]model.PoolSnapshot, 0, n)
	for i := len(s.snapshots) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.snapshots[i])
	}
	return result, nil
}

// copyEvent detaches the payload map so callers cannot mutate stored events.
func copyEvent(e model.Event) model.Event {
	if e.Data != nil {
		data := make(map[string]string, len(e.Data))
		for k, v := range e.Data {
			data[k] = v
		}
		e.Data = data
	}
	return e
}
