// Package drafts implements the pick ledger for DraftGuard.
//
// Every pick made in a monitored draft is recorded here as it happens.
// The analyzer replays a draft's picks after completion to score
// mutual-benefit patterns between flagged user pairs.
package drafts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDraftNotFound = errors.New("draft has no recorded picks")
	ErrInvalidPick   = errors.New("pick is missing required fields")
)

// Pick is a single selection in a draft. Picks are keyed by
// (draft_id, pick_number); re-recording the same slot overwrites it,
// which absorbs duplicate deliveries from the draft engine.
type Pick struct {
	DraftID    string    `json:"draftId"`
	PickNumber int       `json:"pickNumber"`
	UserID     string    `json:"userId"`
	PlayerID   string    `json:"playerId"`
	PickedAt   time.Time `json:"pickedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate checks that a pick carries everything the analyzer needs.
func (p *Pick) Validate() error {
	if p.DraftID == "" || p.UserID == "" || p.PlayerID == "" || p.PickNumber <= 0 {
		return ErrInvalidPick
	}
	return nil
}

// Store persists draft picks.
type Store interface {
	// UpsertPick records a pick, replacing any prior pick at the same
	// (draftID, pickNumber) slot.
	UpsertPick(ctx context.Context, pick *Pick) error
	// ListByDraft returns all picks for a draft ordered by pick number.
	ListByDraft(ctx context.Context, draftID string) ([]*Pick, error)
	// PicksByUser groups a draft's picks by the user who made them.
	PicksByUser(ctx context.Context, draftID string) (map[string][]*Pick, error)
}
