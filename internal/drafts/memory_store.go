package drafts

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory pick ledger for demo/development mode.
type MemoryStore struct {
	picks map[string]map[int]*Pick // draftID → pickNumber → pick
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory pick store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		picks: make(map[string]map[int]*Pick),
	}
}

func (m *MemoryStore) UpsertPick(ctx context.Context, pick *Pick) error {
	if err := pick.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byNumber, ok := m.picks[pick.DraftID]
	if !ok {
		byNumber = make(map[int]*Pick)
		m.picks[pick.DraftID] = byNumber
	}

	cp := *pick
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	byNumber[pick.PickNumber] = &cp
	return nil
}

func (m *MemoryStore) ListByDraft(ctx context.Context, draftID string) ([]*Pick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byNumber, ok := m.picks[draftID]
	if !ok || len(byNumber) == 0 {
		return nil, ErrDraftNotFound
	}

	result := make([]*Pick, 0, len(byNumber))
	for _, p := range byNumber {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PickNumber < result[j].PickNumber
	})
	return result, nil
}

func (m *MemoryStore) PicksByUser(ctx context.Context, draftID string) (map[string][]*Pick, error) {
	picks, err := m.ListByDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string][]*Pick)
	for _, p := range picks {
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}
	return byUser, nil
}
