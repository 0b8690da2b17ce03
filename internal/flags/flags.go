// Package flags implements the live flag recorder for DraftGuard.
//
// While a draft is running, the draft engine reports location signals
// for each pick. The recorder folds those signals into a per-draft
// aggregate of flagged user pairs. Aggregates are written with
// optimistic concurrency so concurrent picks in the same draft never
// lose flags.
package flags

import (
	"context"
	"errors"
	"time"

	"github.com/draftguard/draftguard/internal/pairkey"
)

var (
	ErrNotFound        = errors.New("draft flag aggregate not found")
	ErrVersionConflict = errors.New("aggregate was modified concurrently")
	ErrDraftCompleted  = errors.New("draft is already completed")
)

// Kind classifies why a pair was flagged.
type Kind string

const (
	KindProximity    Kind = "proximity"     // devices co-located at pick time
	KindSharedOrigin Kind = "shared_origin" // same network origin
	KindBoth         Kind = "both"
)

// Status represents the lifecycle of a draft's flag aggregate.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// FlagEvent is one observation tying two users together at a specific
// pick. The distance is present only when the provider could range the
// pair, so proximity events may carry it and shared-origin events never
// do.
type FlagEvent struct {
	PickNumber     int       `json:"pickNumber"`
	TriggeringUser string    `json:"triggeringUser"`
	OtherUser      string    `json:"otherUser"`
	DistanceMeters *float64  `json:"distanceMeters,omitempty"`
	DetectedAt     time.Time `json:"detectedAt"`
}

// FlaggedPair accumulates flag evidence for one user pair in one draft.
// Events is ordered by arrival, which follows pick order within a draft.
type FlaggedPair struct {
	Key               pairkey.PairKey `json:"key"`
	Kind              Kind            `json:"kind"`
	Events            []FlagEvent     `json:"events"`
	ProximityCount    int             `json:"proximityCount"`
	SharedOriginCount int             `json:"sharedOriginCount"`
	MinDistanceMeters float64         `json:"minDistanceMeters,omitempty"`
	FirstDetectedAt   time.Time       `json:"firstDetectedAt"`
	LastDetectedAt    time.Time       `json:"lastDetectedAt"`
}

// EventCount returns the total observations recorded for the pair.
func (fp *FlaggedPair) EventCount() int {
	return fp.ProximityCount + fp.SharedOriginCount
}

// recordProximity folds one proximity observation into the pair.
func (fp *FlaggedPair) recordProximity(ev FlagEvent) {
	fp.Events = append(fp.Events, ev)
	fp.ProximityCount++
	if ev.DistanceMeters != nil {
		d := *ev.DistanceMeters
		if fp.MinDistanceMeters == 0 || (d > 0 && d < fp.MinDistanceMeters) {
			fp.MinDistanceMeters = d
		}
	}
	fp.touch(ev.DetectedAt)
}

// recordSharedOrigin folds one shared-origin observation into the pair.
func (fp *FlaggedPair) recordSharedOrigin(ev FlagEvent) {
	fp.Events = append(fp.Events, ev)
	fp.SharedOriginCount++
	fp.touch(ev.DetectedAt)
}

func (fp *FlaggedPair) touch(at time.Time) {
	if fp.FirstDetectedAt.IsZero() {
		fp.FirstDetectedAt = at
	}
	fp.LastDetectedAt = at

	switch {
	case fp.ProximityCount > 0 && fp.SharedOriginCount > 0:
		fp.Kind = KindBoth
	case fp.ProximityCount > 0:
		fp.Kind = KindProximity
	default:
		fp.Kind = KindSharedOrigin
	}
}

// Aggregate is the complete flag state for one draft. Version implements
// optimistic locking: writers read a version, mutate, and Put; the store
// rejects the write if the stored version moved.
type Aggregate struct {
	DraftID                 string                  `json:"draftId"`
	Status                  Status                  `json:"status"`
	Version                 int64                   `json:"version"`
	Pairs                   map[string]*FlaggedPair `json:"pairs"` // keyed by PairKey.String()
	TotalProximityEvents    int                     `json:"totalProximityEvents"`
	TotalSharedOriginEvents int                     `json:"totalSharedOriginEvents"`
	UniquePairsFlagged      int                     `json:"uniquePairsFlagged"`
	CreatedAt               time.Time               `json:"createdAt"`
	UpdatedAt               time.Time               `json:"updatedAt"`
	CompletedAt             time.Time               `json:"completedAt,omitempty"`
}

// TotalEvents returns the draft-wide observation count across both kinds.
func (a *Aggregate) TotalEvents() int {
	return a.TotalProximityEvents + a.TotalSharedOriginEvents
}

// NewAggregate creates an empty active aggregate for a draft.
func NewAggregate(draftID string) *Aggregate {
	now := time.Now()
	return &Aggregate{
		DraftID:   draftID,
		Status:    StatusActive,
		Pairs:     make(map[string]*FlaggedPair),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Pair returns the FlaggedPair for a key, creating it if absent.
func (a *Aggregate) Pair(key pairkey.PairKey) *FlaggedPair {
	if a.Pairs == nil {
		a.Pairs = make(map[string]*FlaggedPair)
	}
	fp, ok := a.Pairs[key.String()]
	if !ok {
		fp = &FlaggedPair{Key: key}
		a.Pairs[key.String()] = fp
	}
	return fp
}

// Clone returns a deep copy so callers can mutate without aliasing
// store-held state.
func (a *Aggregate) Clone() *Aggregate {
	cp := *a
	cp.Pairs = make(map[string]*FlaggedPair, len(a.Pairs))
	for k, fp := range a.Pairs {
		fpCopy := *fp
		fpCopy.Events = append([]FlagEvent(nil), fp.Events...)
		cp.Pairs[k] = &fpCopy
	}
	return &cp
}

// Store persists draft flag aggregates.
type Store interface {
	// Get returns the aggregate for a draft, or ErrNotFound.
	Get(ctx context.Context, draftID string) (*Aggregate, error)
	// Put writes an aggregate. The write succeeds only if the stored
	// version equals agg.Version; on success the stored version is
	// agg.Version+1 and agg.Version is updated to match. A version of 0
	// means the aggregate must not exist yet.
	Put(ctx context.Context, agg *Aggregate) error
	// ListByStatus returns draft ids in the given status, oldest first,
	// up to limit.
	ListByStatus(ctx context.Context, status Status, limit int) ([]string, error)
}
