package analyzer

import (
	"math"
	"sort"

	"github.com/draftguard/draftguard/internal/adp"
	"github.com/draftguard/draftguard/internal/drafts"
	"github.com/draftguard/draftguard/internal/flags"
)

// Weights combine the three sub-scores into a composite. They must sum
// to 1 so the composite stays in [0, 100].
type Weights struct {
	Location float64
	Behavior float64
	Benefit  float64
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{Location: 0.35, Behavior: 0.30, Benefit: 0.35}
}

// Thresholds map composite scores to review tiers.
type Thresholds struct {
	Urgent  float64
	Review  float64
	Monitor float64
}

// DefaultThresholds returns the production tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Urgent: 90, Review: 70, Monitor: 50}
}

const (
	// Per-event points by flag kind. Co-location is stronger evidence
	// than a shared network origin; both together is strongest.
	pointsProximity    = 10.0
	pointsSharedOrigin = 7.0
	pointsBoth         = 12.0

	// repeatBonus rewards persistent flagging across many picks over a
	// one-off blip.
	repeatBonusThreshold = 5
	repeatBonus          = 15.0

	// clusterWindow is the pick-number window (about two rounds in a
	// 12-team draft) within which the pair's picks count as clustered.
	clusterWindow = 24

	// ADP deviation thresholds: a pick this far before consensus is a
	// reach; this far after is a value capture.
	reachThreshold     = -15.0
	egregiousThreshold = -30.0
	valueThreshold     = 10.0

	// followWindow is how many picks after a reach the partner's value
	// pick still counts as correlated.
	followWindow = 6

	maxDeviationSamples = 10
)

// clamp bounds a score to [0, 100].
func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// locationScore converts accumulated flag evidence into a 0-100 score.
// Points scale with event count and kind; five or more events earn a
// persistence bonus.
func locationScore(fp *flags.FlaggedPair) float64 {
	if fp == nil {
		return 0
	}

	perEvent := pointsProximity
	switch fp.Kind {
	case flags.KindBoth:
		perEvent = pointsBoth
	case flags.KindSharedOrigin:
		perEvent = pointsSharedOrigin
	}

	events := fp.ProximityCount + fp.SharedOriginCount
	score := float64(events) * perEvent
	if events >= repeatBonusThreshold {
		score += repeatBonus
	}
	return clamp(score)
}

// behaviorScore measures pick coordination between two users: how much
// their pick numbers cluster beyond chance, and how often one user
// lands a desirable player immediately after the other picks. A nil
// board degrades the desirability component to zero.
func behaviorScore(picksA, picksB []*drafts.Pick, totalPicks int, board *adp.Board) float64 {
	if len(picksA) == 0 || len(picksB) == 0 {
		return 0
	}

	cluster := clusterScore(picksA, picksB, totalPicks)
	follow := desirableFollowScore(picksA, picksB, board)
	return clamp(0.6*cluster + 0.4*follow)
}

// clusterScore is the excess fraction of A's picks that fall within
// clusterWindow of a B pick, over what uniform spacing would predict.
func clusterScore(picksA, picksB []*drafts.Pick, totalPicks int) float64 {
	within := 0
	for _, a := range picksA {
		if nearestGap(a.PickNumber, picksB) <= clusterWindow/2 {
			within++
		}
	}
	observed := float64(within) / float64(len(picksA))

	expected := 1.0
	if totalPicks > clusterWindow {
		expected = float64(clusterWindow) / float64(totalPicks) * float64(len(picksB))
	}
	if expected > 1 {
		expected = 1
	}

	excess := observed - expected
	if excess <= 0 {
		return 0
	}
	return clamp(excess * 200)
}

// nearestGap returns the smallest pick-number distance from n to any
// pick in picks.
func nearestGap(n int, picks []*drafts.Pick) int {
	best := math.MaxInt
	for _, p := range picks {
		gap := p.PickNumber - n
		if gap < 0 {
			gap = -gap
		}
		if gap < best {
			best = gap
		}
	}
	return best
}

// desirableFollowScore is the fraction of immediate follows (one user
// picking within two slots of the other) where the follower landed a
// player ranked inside the desirable range.
func desirableFollowScore(picksA, picksB []*drafts.Pick, board *adp.Board) float64 {
	if board == nil {
		return 0
	}

	follows, desirable := 0, 0
	countFollows := func(leaders, followers []*drafts.Pick) {
		for _, f := range followers {
			for _, l := range leaders {
				if f.PickNumber > l.PickNumber && f.PickNumber-l.PickNumber <= 2 {
					follows++
					if board.Rank(f.PlayerID) < adp.DefaultRank {
						desirable++
					}
					break
				}
			}
		}
	}
	countFollows(picksA, picksB)
	countFollows(picksB, picksA)

	if follows == 0 {
		return 0
	}
	return float64(desirable) / float64(follows) * 100
}

// benefitResult carries the benefit score plus the deviation evidence
// that produced it.
type benefitResult struct {
	score   float64
	samples []DeviationSample
}

// benefitScore detects value funneling: one user reaching well past
// consensus while the other captures value shortly after. Each
// correlated reach-then-value event scores points, egregious reaches
// score more. A nil board degrades to zero.
func benefitScore(userA, userB string, picksA, picksB []*drafts.Pick, board *adp.Board) benefitResult {
	if board == nil || (len(picksA) == 0 && len(picksB) == 0) {
		return benefitResult{}
	}

	devsA := deviations(userA, picksA, board)
	devsB := deviations(userB, picksB, board)

	score := correlatedFunneling(devsA, devsB) + correlatedFunneling(devsB, devsA)

	samples := append(append([]DeviationSample{}, devsA...), devsB...)
	sort.Slice(samples, func(i, j int) bool {
		return math.Abs(samples[i].Deviation) > math.Abs(samples[j].Deviation)
	})
	if len(samples) > maxDeviationSamples {
		samples = samples[:maxDeviationSamples]
	}

	return benefitResult{score: clamp(score), samples: samples}
}

// deviations computes pickNumber minus ADP for each pick with a known
// ADP. Negative means the player went earlier than consensus.
func deviations(userID string, picks []*drafts.Pick, board *adp.Board) []DeviationSample {
	var out []DeviationSample
	for _, p := range picks {
		consensus, ok := board.ADP(p.PlayerID)
		if !ok {
			continue
		}
		out = append(out, DeviationSample{
			UserID:     userID,
			PickNumber: p.PickNumber,
			PlayerID:   p.PlayerID,
			Deviation:  float64(p.PickNumber) - consensus,
		})
	}
	return out
}

// correlatedFunneling scores reaches by the first user that are followed
// within followWindow picks by a value capture from the second.
func correlatedFunneling(reachers, capturers []DeviationSample) float64 {
	score := 0.0
	for _, r := range reachers {
		if r.Deviation > reachThreshold {
			continue
		}
		for _, v := range capturers {
			if v.Deviation < valueThreshold {
				continue
			}
			gap := v.PickNumber - r.PickNumber
			if gap < 0 {
				gap = -gap
			}
			if gap > followWindow {
				continue
			}
			if r.Deviation <= egregiousThreshold {
				score += 40
			} else {
				score += 25
			}
			break
		}
	}
	return score
}

// composite combines the sub-scores by weight, clamped to [0, 100].
func composite(loc, beh, ben float64, w Weights) float64 {
	return clamp(w.Location*loc + w.Behavior*beh + w.Benefit*ben)
}
