package crossdraft

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/draftguard/draftguard/internal/pairkey"
)

// MemoryStore is an in-memory pair analysis store for demo/development.
type MemoryStore struct {
	analyses map[string]*UserPairAnalysis
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory pair analysis store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		analyses: make(map[string]*UserPairAnalysis),
	}
}

func (m *MemoryStore) Put(ctx context.Context, analysis *UserPairAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[analysis.Key.String()] = cloneAnalysis(analysis)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key pairkey.PairKey) (*UserPairAnalysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.analyses[key.String()]
	if !ok {
		return nil, ErrAnalysisNotFound
	}
	return cloneAnalysis(a), nil
}

func (m *MemoryStore) ListByMinLevel(ctx context.Context, minLevel RiskLevel, before time.Time, beforeKey string, limit int) ([]*UserPairAnalysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*UserPairAnalysis
	for _, a := range m.analyses {
		if !a.OverallRiskLevel.AtLeast(minLevel) {
			continue
		}
		if !before.IsZero() {
			if a.LastDraftTogether.After(before) {
				continue
			}
			if a.LastDraftTogether.Equal(before) && a.Key.String() >= beforeKey {
				continue
			}
		}
		matched = append(matched, cloneAnalysis(a))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastDraftTogether.Equal(matched[j].LastDraftTogether) {
			return matched[i].LastDraftTogether.After(matched[j].LastDraftTogether)
		}
		return matched[i].Key.String() > matched[j].Key.String()
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func cloneAnalysis(a *UserPairAnalysis) *UserPairAnalysis {
	raw, _ := json.Marshal(a)
	var cp UserPairAnalysis
	_ = json.Unmarshal(raw, &cp)
	return &cp
}
