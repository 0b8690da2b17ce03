package analyzer

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory score store for demo/development mode.
type MemoryStore struct {
	scores map[string]*DraftRiskScores
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory score store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scores: make(map[string]*DraftRiskScores),
	}
}

func (m *MemoryStore) Put(ctx context.Context, scores *DraftRiskScores) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[scores.DraftID] = cloneScores(scores)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, draftID string) (*DraftRiskScores, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scores[draftID]
	if !ok {
		return nil, ErrScoresNotFound
	}
	return cloneScores(s), nil
}

func (m *MemoryStore) ListAnalyzedSince(ctx context.Context, since time.Time) ([]*DraftRiskScores, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*DraftRiskScores
	for _, s := range m.scores {
		if (s.Status == StatusAnalyzed || s.Status == StatusReviewed) && s.AnalyzedAt.After(since) {
			result = append(result, cloneScores(s))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AnalyzedAt.After(result[j].AnalyzedAt)
	})
	return result, nil
}

func (m *MemoryStore) ListForReview(ctx context.Context, minScore, afterScore float64, afterID string, limit int) ([]*DraftRiskScores, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*DraftRiskScores
	for _, s := range m.scores {
		if s.Status != StatusAnalyzed || s.MaxRiskScore < minScore {
			continue
		}
		if afterID != "" {
			if s.MaxRiskScore > afterScore {
				continue
			}
			if s.MaxRiskScore == afterScore && s.DraftID <= afterID {
				continue
			}
		}
		matched = append(matched, cloneScores(s))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].MaxRiskScore != matched[j].MaxRiskScore {
			return matched[i].MaxRiskScore > matched[j].MaxRiskScore
		}
		return matched[i].DraftID < matched[j].DraftID
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryStore) MarkReviewed(ctx context.Context, draftID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.scores[draftID]
	if !ok {
		return ErrScoresNotFound
	}
	s.Status = StatusReviewed
	return nil
}

// cloneScores deep-copies via JSON; score records are small and this
// keeps the copy honest as fields evolve.
func cloneScores(s *DraftRiskScores) *DraftRiskScores {
	raw, _ := json.Marshal(s)
	var cp DraftRiskScores
	_ = json.Unmarshal(raw, &cp)
	return &cp
}
