// Package pairkey provides normalized, order-independent keys for user pairs.
//
// Every subsystem that stores or looks up data about a pair of users keys it
// by PairKey, so (A,B) and (B,A) always resolve to the same records.
package pairkey

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins the two user ids in the string form of a key.
const Separator = ":"

var (
	ErrSameUser = errors.New("pair requires two distinct users")
	ErrEmptyID  = errors.New("pair requires non-empty user ids")
)

// PairKey identifies a two-user relationship. User1 < User2 always holds.
type PairKey struct {
	User1 string `json:"user1"`
	User2 string `json:"user2"`
}

// Normalize builds a PairKey from two user ids in either order.
func Normalize(a, b string) (PairKey, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return PairKey{}, ErrEmptyID
	}
	if a == b {
		return PairKey{}, ErrSameUser
	}
	if a < b {
		return PairKey{User1: a, User2: b}, nil
	}
	return PairKey{User1: b, User2: a}, nil
}

// Parse decodes the string form produced by String.
func Parse(s string) (PairKey, error) {
	parts := strings.SplitN(s, Separator, 2)
	if len(parts) != 2 {
		return PairKey{}, fmt.Errorf("invalid pair key %q", s)
	}
	k, err := Normalize(parts[0], parts[1])
	if err != nil {
		return PairKey{}, fmt.Errorf("invalid pair key %q: %w", s, err)
	}
	if k.User1 != parts[0] {
		return PairKey{}, fmt.Errorf("pair key %q is not normalized", s)
	}
	return k, nil
}

// String returns "<user1>:<user2>".
func (k PairKey) String() string {
	return k.User1 + Separator + k.User2
}

// Contains reports whether userID is one of the pair's members.
func (k PairKey) Contains(userID string) bool {
	return k.User1 == userID || k.User2 == userID
}

// Other returns the partner of userID, or "" if userID is not in the pair.
func (k PairKey) Other(userID string) string {
	switch userID {
	case k.User1:
		return k.User2
	case k.User2:
		return k.User1
	}
	return ""
}

// IsZero reports whether the key is unset.
func (k PairKey) IsZero() bool {
	return k.User1 == "" && k.User2 == ""
}
