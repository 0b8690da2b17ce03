// Package location defines the contract for the upstream location provider.
//
// The provider runs outside this service. It attaches a Signal to each
// pick-submitted event: which other participants were physically near the
// picking user and which shared a network origin with them. How those
// determinations are made (distance thresholds, origin fingerprinting) is
// the provider's business; this engine consumes the signal as-is.
package location

import (
	"fmt"
)

// Signal is the proximity payload attached to a single pick event.
type Signal struct {
	// CoLocatedUsers are participants detected physically near the picking user.
	CoLocatedUsers []string `json:"coLocatedUsers"`
	// SharedOriginUsers are participants whose traffic shares the picking
	// user's network origin.
	SharedOriginUsers []string `json:"sharedOriginUsers"`
	// Distances holds measured distances in meters, keyed by user id.
	// Present only for users the provider could range; always a subset of
	// CoLocatedUsers.
	Distances map[string]float64 `json:"distances,omitempty"`
}

// Empty reports whether the signal carries no co-location evidence.
func (s *Signal) Empty() bool {
	return len(s.CoLocatedUsers) == 0 && len(s.SharedOriginUsers) == 0
}

// Validate rejects malformed signals at the ingest boundary: the picking
// user listed as their own neighbor, or a distance for a user that is not
// in the co-located set.
func (s *Signal) Validate(triggeringUser string) error {
	for _, u := range s.CoLocatedUsers {
		if u == triggeringUser {
			return fmt.Errorf("co-located set contains the triggering user %q", u)
		}
		if u == "" {
			return fmt.Errorf("co-located set contains an empty user id")
		}
	}
	for _, u := range s.SharedOriginUsers {
		if u == triggeringUser {
			return fmt.Errorf("shared-origin set contains the triggering user %q", u)
		}
		if u == "" {
			return fmt.Errorf("shared-origin set contains an empty user id")
		}
	}
	if len(s.Distances) > 0 {
		coLocated := make(map[string]struct{}, len(s.CoLocatedUsers))
		for _, u := range s.CoLocatedUsers {
			coLocated[u] = struct{}{}
		}
		for u, d := range s.Distances {
			if _, ok := coLocated[u]; !ok {
				return fmt.Errorf("distance reported for %q who is not co-located", u)
			}
			if d < 0 {
				return fmt.Errorf("negative distance for %q", u)
			}
		}
	}
	return nil
}
