package flags

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory aggregate store for demo/development mode.
// It enforces the same version semantics as the PostgreSQL store so the
// recorder's retry path is exercised identically in both modes.
type MemoryStore struct {
	aggregates map[string]*Aggregate
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory flag store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		aggregates: make(map[string]*Aggregate),
	}
}

func (m *MemoryStore) Get(ctx context.Context, draftID string) (*Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg, ok := m.aggregates[draftID]
	if !ok {
		return nil, ErrNotFound
	}
	return agg.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, agg *Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.aggregates[agg.DraftID]
	if agg.Version == 0 {
		if ok {
			return ErrVersionConflict
		}
	} else {
		if !ok {
			return ErrNotFound
		}
		if existing.Version != agg.Version {
			return ErrVersionConflict
		}
	}

	agg.Version++
	agg.UpdatedAt = time.Now()
	m.aggregates[agg.DraftID] = agg.Clone()
	return nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type entry struct {
		id string
		at time.Time
	}
	var matched []entry
	for id, agg := range m.aggregates {
		if agg.Status == status {
			matched = append(matched, entry{id: id, at: agg.CreatedAt})
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].at.Equal(matched[j].at) {
			return matched[i].at.Before(matched[j].at)
		}
		return matched[i].id < matched[j].id
	})

	ids := make([]string, 0, len(matched))
	for _, e := range matched {
		ids = append(ids, e.id)
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}
