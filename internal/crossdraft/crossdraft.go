// Package crossdraft aggregates per-draft risk scores into long-term
// user pair profiles. Colluding pairs reveal themselves over many
// drafts: a high co-location rate combined with elevated scores when
// co-located is far stronger evidence than any single draft.
package crossdraft

import (
	"context"
	"errors"
	"time"

	"github.com/draftguard/draftguard/internal/pairkey"
)

var (
	ErrAnalysisNotFound = errors.New("user pair analysis not found")
)

// RiskLevel is a pair's long-term classification.
type RiskLevel string

const (
	LevelLow      RiskLevel = "low"
	LevelMedium   RiskLevel = "medium"
	LevelHigh     RiskLevel = "high"
	LevelCritical RiskLevel = "critical"
)

// rank orders risk levels for minimum-level filtering.
func (l RiskLevel) rank() int {
	switch l {
	case LevelCritical:
		return 3
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is at or above min.
func (l RiskLevel) AtLeast(min RiskLevel) bool {
	return l.rank() >= min.rank()
}

// ParseRiskLevel validates a risk level string.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return RiskLevel(s), true
	}
	return "", false
}

// HistoryEntry is one draft's contribution to a pair's score history.
type HistoryEntry struct {
	DraftID        string    `json:"draftId"`
	CompositeScore float64   `json:"compositeScore"`
	CoLocated      bool      `json:"coLocated"`
	AnalyzedAt     time.Time `json:"analyzedAt"`
}

// UserPairAnalysis is the long-lived cross-draft profile for one pair.
// Only the aggregator writes these records.
type UserPairAnalysis struct {
	Key                   pairkey.PairKey `json:"key"`
	TotalDraftsTogether   int             `json:"totalDraftsTogether"`
	DraftsCoLocated       int             `json:"draftsCoLocated"`
	CoLocationRate        float64         `json:"coLocationRate"`
	AvgScoreCoLocated     float64         `json:"avgScoreCoLocated"`
	AvgScoreNotCoLocated  float64         `json:"avgScoreNotCoLocated"`
	RiskScoreDifferential float64         `json:"riskScoreDifferential"`
	ScoreHistory          []HistoryEntry  `json:"scoreHistory"`
	OverallRiskLevel      RiskLevel       `json:"overallRiskLevel"`
	FirstDraftTogether    time.Time       `json:"firstDraftTogether"`
	LastDraftTogether     time.Time       `json:"lastDraftTogether"`
	LastAnalyzedAt        time.Time       `json:"lastAnalyzedAt"`
}

// Store persists user pair analyses.
type Store interface {
	// Put writes a pair's analysis, replacing any prior record.
	Put(ctx context.Context, analysis *UserPairAnalysis) error
	// Get returns a pair's analysis, or ErrAnalysisNotFound.
	Get(ctx context.Context, key pairkey.PairKey) (*UserPairAnalysis, error)
	// ListByMinLevel returns pairs at or above minLevel, most recent
	// draft-together first, paginated by (lastDraftTogether, pair key).
	ListByMinLevel(ctx context.Context, minLevel RiskLevel, before time.Time, beforeKey string, limit int) ([]*UserPairAnalysis, error)
}

// Classify maps a pair's aggregate stats to a risk level. Rules are
// evaluated strictest first; the first match wins.
func Classify(a *UserPairAnalysis) RiskLevel {
	switch {
	case a.CoLocationRate >= 0.8 && a.TotalDraftsTogether >= 5:
		return LevelCritical
	case a.CoLocationRate >= 0.5 && a.TotalDraftsTogether >= 3 && a.AvgScoreCoLocated >= 60:
		return LevelHigh
	case a.CoLocationRate >= 0.3 && a.TotalDraftsTogether >= 2 && a.AvgScoreCoLocated >= 40:
		return LevelMedium
	default:
		return LevelLow
	}
}
