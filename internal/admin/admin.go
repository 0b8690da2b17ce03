// Package admin exposes the review surface over flags, risk scores,
// and pair analyses, and records human decisions as an append-only
// audit trail.
package admin

import (
	"context"
	"errors"
	"time"

	"github.com/draftguard/draftguard/internal/validation"
)

var (
	ErrActionNotFound = errors.New("admin action not found")
)

// TargetType identifies what an admin decision applies to. The set is
// closed; anything else is rejected at the boundary.
type TargetType string

const (
	TargetDraft    TargetType = "draft"
	TargetUserPair TargetType = "userPair"
	TargetUser     TargetType = "user"
)

// ParseTargetType validates a target type string.
func ParseTargetType(s string) (TargetType, bool) {
	switch TargetType(s) {
	case TargetDraft, TargetUserPair, TargetUser:
		return TargetType(s), true
	}
	return "", false
}

// ValidTargetID checks an id against the format its target type demands.
func (t TargetType) ValidTargetID(id string) bool {
	switch t {
	case TargetDraft:
		return validation.IsValidDraftID(id)
	case TargetUserPair:
		return validation.IsValidPairKey(id)
	case TargetUser:
		return validation.IsValidUserID(id)
	}
	return false
}

// Action is the decision an admin recorded. The set is closed; anything
// else is rejected at the boundary.
type Action string

const (
	ActionCleared   Action = "cleared"
	ActionWarned    Action = "warned"
	ActionSuspended Action = "suspended"
	ActionBanned    Action = "banned"
	ActionEscalated Action = "escalated"
)

// ParseAction validates an action string.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionCleared, ActionWarned, ActionSuspended, ActionBanned, ActionEscalated:
		return Action(s), true
	}
	return "", false
}

// EvidenceSnapshot is the bounded summary frozen into an audit record.
// Full pick or location payloads are never embedded.
type EvidenceSnapshot struct {
	MaxRiskScore   float64 `json:"maxRiskScore,omitempty"`
	PairCount      int     `json:"pairCount,omitempty"`
	FlagEventCount int     `json:"flagEventCount,omitempty"`
	RiskLevel      string  `json:"riskLevel,omitempty"`
}

// AdminAction is one recorded decision. Records are append-only: never
// mutated, never deleted.
type AdminAction struct {
	ID         string           `json:"id"`
	TargetType TargetType       `json:"targetType"`
	TargetID   string           `json:"targetId"`
	AdminID    string           `json:"adminId"`
	Action     Action           `json:"action"`
	Reason     string           `json:"reason"`
	Notes      string           `json:"notes,omitempty"`
	Evidence   EvidenceSnapshot `json:"evidence"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Store persists admin actions.
type Store interface {
	// Append records an action. Existing records are never touched.
	Append(ctx context.Context, action *AdminAction) error
	// ListByTarget returns a target's audit history, newest first,
	// paginated by (createdAt, id).
	ListByTarget(ctx context.Context, targetType TargetType, targetID string, before time.Time, beforeID string, limit int) ([]*AdminAction, error)
}
