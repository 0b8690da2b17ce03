package admin

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory action store for demo/development mode.
type MemoryStore struct {
	actions []*AdminAction
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory action store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, action *AdminAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *action
	m.actions = append(m.actions, &cp)
	return nil
}

func (m *MemoryStore) ListByTarget(ctx context.Context, targetType TargetType, targetID string, before time.Time, beforeID string, limit int) ([]*AdminAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*AdminAction
	for _, a := range m.actions {
		if a.TargetType != targetType || a.TargetID != targetID {
			continue
		}
		if !before.IsZero() {
			if a.CreatedAt.After(before) {
				continue
			}
			if a.CreatedAt.Equal(before) && a.ID >= beforeID {
				continue
			}
		}
		cp := *a
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count returns the number of stored actions. Test helper.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.actions)
}
