// Package analyzer computes per-pair collusion risk scores for a draft
// after it completes. Scores combine three independent signals: how
// often the pair was co-located, how correlated their pick behavior
// was, and how asymmetrically draft value flowed between them.
package analyzer

import (
	"context"
	"errors"
	"time"

	"github.com/draftguard/draftguard/internal/pairkey"
)

var (
	ErrScoresNotFound = errors.New("draft risk scores not found")
)

// Lifecycle status of a draft's risk scores. Records are written
// directly in StatusAnalyzed and move to StatusReviewed once an admin
// records an action against the draft. Reviewed drafts leave the
// review queue but stay visible to the cross-draft aggregator.
type Status string

const (
	StatusAnalyzed Status = "analyzed"
	StatusReviewed Status = "reviewed"
)

// ReviewTier buckets a draft by its worst pair score.
type ReviewTier string

const (
	TierUrgent  ReviewTier = "urgent"  // composite >= 90
	TierReview  ReviewTier = "review"  // composite >= 70
	TierMonitor ReviewTier = "monitor" // composite >= 50
	TierNone    ReviewTier = "none"
)

// DeviationSample is one pick's ADP deviation kept as scoring evidence.
// Negative deviations are reaches, positive are value picks.
type DeviationSample struct {
	UserID     string  `json:"userId"`
	PickNumber int     `json:"pickNumber"`
	PlayerID   string  `json:"playerId"`
	Deviation  float64 `json:"deviation"`
}

// Evidence summarizes what fed a pair's score. Raw per-pick location
// payloads are never embedded; only counts and a bounded sample of
// ADP deviations.
type Evidence struct {
	FlagEvents        int               `json:"flagEvents"`
	ProximityCount    int               `json:"proximityCount"`
	SharedOriginCount int               `json:"sharedOriginCount"`
	DeviationSamples  []DeviationSample `json:"deviationSamples,omitempty"`
}

// PairRiskScore is the analyzer's verdict on one user pair in one draft.
type PairRiskScore struct {
	Key            pairkey.PairKey `json:"key"`
	CoLocated      bool            `json:"coLocated"`
	LocationScore  float64         `json:"locationScore"`
	BehaviorScore  float64         `json:"behaviorScore"`
	BenefitScore   float64         `json:"benefitScore"`
	CompositeScore float64         `json:"compositeScore"`
	Evidence       Evidence        `json:"evidence"`
}

// DraftRiskScores is the complete analysis result for one draft.
type DraftRiskScores struct {
	DraftID      string          `json:"draftId"`
	Status       Status          `json:"status"`
	ReviewTier   ReviewTier      `json:"reviewTier"`
	MaxRiskScore float64         `json:"maxRiskScore"`
	AvgRiskScore float64         `json:"avgRiskScore"`
	Pairs        []PairRiskScore `json:"pairs"`
	AnalyzedAt   time.Time       `json:"analyzedAt"`
}

// Store persists draft risk scores.
type Store interface {
	// Put writes a draft's scores, replacing any prior record.
	Put(ctx context.Context, scores *DraftRiskScores) error
	// Get returns a draft's scores, or ErrScoresNotFound.
	Get(ctx context.Context, draftID string) (*DraftRiskScores, error)
	// ListAnalyzedSince returns analyzed and reviewed records newer
	// than since, most recent first.
	ListAnalyzedSince(ctx context.Context, since time.Time) ([]*DraftRiskScores, error)
	// ListForReview returns analyzed records with MaxRiskScore >= minScore,
	// highest score first, paginated by (maxRiskScore desc, draftID asc).
	// afterID empty means the first page; otherwise afterScore/afterID
	// are the last row of the previous page.
	ListForReview(ctx context.Context, minScore, afterScore float64, afterID string, limit int) ([]*DraftRiskScores, error)
	// MarkReviewed transitions an analyzed draft's record to reviewed.
	// Unknown drafts return ErrScoresNotFound; already reviewed drafts
	// are a no-op.
	MarkReviewed(ctx context.Context, draftID string) error
}

// TierFor maps a composite score to its review tier.
func TierFor(score float64, t Thresholds) ReviewTier {
	switch {
	case score >= t.Urgent:
		return TierUrgent
	case score >= t.Review:
		return TierReview
	case score >= t.Monitor:
		return TierMonitor
	default:
		return TierNone
	}
}
