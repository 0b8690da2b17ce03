package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/draftguard/draftguard/internal/adp"
	"github.com/draftguard/draftguard/internal/drafts"
	"github.com/draftguard/draftguard/internal/flags"
	"github.com/draftguard/draftguard/internal/metrics"
	"github.com/draftguard/draftguard/internal/pairkey"
	"github.com/draftguard/draftguard/internal/syncutil"
	"github.com/draftguard/draftguard/internal/traces"
	"go.opentelemetry.io/otel/codes"
)

// BoardProvider supplies the current ADP board. Implemented by
// adp.CachedProvider.
type BoardProvider interface {
	Get(ctx context.Context) (*adp.Board, error)
}

// Config bounds the analyzer's per-draft work.
type Config struct {
	Weights    Weights
	Thresholds Thresholds
	// MaxPairsPerDraft caps flagged plus sampled pairs per draft.
	MaxPairsPerDraft int
	// MinInclusionScore is the behavior or benefit sub-score an
	// unflagged sampled pair must reach to be retained.
	MinInclusionScore float64
}

// DefaultConfig returns the production analyzer configuration.
func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights(),
		Thresholds:        DefaultThresholds(),
		MaxPairsPerDraft:  20,
		MinInclusionScore: 30,
	}
}

// Analyzer scores user pairs for a completed draft.
type Analyzer struct {
	flagStore  flags.Store
	pickStore  drafts.Store
	scoreStore Store
	boards     BoardProvider
	cfg        Config

	// locks serializes analyses of the same draft so concurrent
	// completion events cannot both pass the idempotence check.
	locks *syncutil.ContextShardedMutex
}

// New creates an analyzer over the given stores.
func New(flagStore flags.Store, pickStore drafts.Store, scoreStore Store, boards BoardProvider, cfg Config) *Analyzer {
	if cfg.MaxPairsPerDraft <= 0 {
		cfg = DefaultConfig()
	}
	return &Analyzer{
		flagStore:  flagStore,
		pickStore:  pickStore,
		scoreStore: scoreStore,
		boards:     boards,
		cfg:        cfg,
		locks:      syncutil.NewContextShardedMutex(),
	}
}

// AnalyzeDraft computes and persists risk scores for a completed draft.
// Re-analyzing an already analyzed draft returns the stored result
// without recomputing, so repeated completion events stay idempotent.
// Each pair is scored in isolation; a failure on one pair is logged and
// skipped, never aborting the draft's analysis.
func (a *Analyzer) AnalyzeDraft(ctx context.Context, draftID string) (*DraftRiskScores, error) {
	ctx, span := traces.StartSpan(ctx, "analyzer.AnalyzeDraft", traces.DraftID(draftID))
	defer span.End()

	unlock, err := a.locks.LockContext(ctx, draftID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if existing, err := a.scoreStore.Get(ctx, draftID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrScoresNotFound) {
		return nil, fmt.Errorf("check existing scores: %w", err)
	}

	start := time.Now()

	agg, err := a.flagStore.Get(ctx, draftID)
	if errors.Is(err, flags.ErrNotFound) {
		// Draft completed without any flag traffic.
		agg = flags.NewAggregate(draftID)
	} else if err != nil {
		metrics.DraftsAnalyzedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load flag aggregate: %w", err)
	}

	byUser, err := a.pickStore.PicksByUser(ctx, draftID)
	if errors.Is(err, drafts.ErrDraftNotFound) {
		byUser = map[string][]*drafts.Pick{}
	} else if err != nil {
		metrics.DraftsAnalyzedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load picks: %w", err)
	}

	totalPicks := 0
	for _, picks := range byUser {
		totalPicks += len(picks)
	}

	// A feed outage degrades benefit and desirability scoring to zero
	// rather than failing the draft.
	board, boardErr := a.boards.Get(ctx)
	if boardErr != nil {
		slog.Warn("adp board unavailable, scoring without it",
			"draft_id", draftID, "error", boardErr)
		board = nil
	}

	result := &DraftRiskScores{
		DraftID:    draftID,
		Status:     StatusAnalyzed,
		AnalyzedAt: time.Now(),
	}

	for _, key := range sortedPairKeys(agg) {
		fp := agg.Pairs[key]
		score, err := a.scorePair(fp.Key, fp, byUser, totalPicks, board)
		if err != nil {
			metrics.PairAnalysisFailures.Inc()
			slog.Error("pair analysis failed, skipping pair",
				"draft_id", draftID, "pair", key, "error", err)
			continue
		}
		result.Pairs = append(result.Pairs, score)
		if len(result.Pairs) >= a.cfg.MaxPairsPerDraft {
			break
		}
	}

	// When the location signal caught anything, also probe unflagged
	// pairs: coordination without co-location is invisible to the
	// recorder but not to behavior and benefit scoring.
	if len(result.Pairs) > 0 {
		a.sampleUnflagged(result, agg, byUser, totalPicks, board, draftID)
	}

	var scoreSum float64
	for _, p := range result.Pairs {
		if p.CompositeScore > result.MaxRiskScore {
			result.MaxRiskScore = p.CompositeScore
		}
		scoreSum += p.CompositeScore
	}
	if len(result.Pairs) > 0 {
		result.AvgRiskScore = scoreSum / float64(len(result.Pairs))
	}
	result.ReviewTier = TierFor(result.MaxRiskScore, a.cfg.Thresholds)

	if err := a.scoreStore.Put(ctx, result); err != nil {
		metrics.DraftsAnalyzedTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist scores failed")
		return nil, fmt.Errorf("persist scores: %w", err)
	}

	metrics.DraftsAnalyzedTotal.WithLabelValues("ok").Inc()
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	slog.Info("draft analyzed",
		"draft_id", draftID,
		"pairs", len(result.Pairs),
		"max_risk_score", result.MaxRiskScore,
		"review_tier", string(result.ReviewTier),
	)
	return result, nil
}

// scorePair computes a PairRiskScore. Panics from malformed pair data
// are recovered and returned as errors so one bad pair cannot take
// down the batch.
func (a *Analyzer) scorePair(key pairkey.PairKey, fp *flags.FlaggedPair,
	byUser map[string][]*drafts.Pick, totalPicks int, board *adp.Board) (score PairRiskScore, err error) {

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pair scoring panicked: %v", r)
		}
	}()

	if key.IsZero() {
		return PairRiskScore{}, fmt.Errorf("pair has no key")
	}

	picksA := byUser[key.User1]
	picksB := byUser[key.User2]

	loc := locationScore(fp)
	beh := behaviorScore(picksA, picksB, totalPicks, board)
	ben := benefitScore(key.User1, key.User2, picksA, picksB, board)

	score = PairRiskScore{
		Key:            key,
		CoLocated:      fp != nil && fp.ProximityCount > 0,
		LocationScore:  loc,
		BehaviorScore:  beh,
		BenefitScore:   ben.score,
		CompositeScore: composite(loc, beh, ben.score, a.cfg.Weights),
		Evidence: Evidence{
			DeviationSamples: ben.samples,
		},
	}
	if fp != nil {
		score.Evidence.FlagEvents = fp.ProximityCount + fp.SharedOriginCount
		score.Evidence.ProximityCount = fp.ProximityCount
		score.Evidence.SharedOriginCount = fp.SharedOriginCount
	}
	return score, nil
}

// sampleUnflagged scores pairs the location signal never flagged, in
// deterministic first-pick order, keeping only those whose behavior or
// benefit evidence clears the inclusion threshold.
func (a *Analyzer) sampleUnflagged(result *DraftRiskScores, agg *flags.Aggregate,
	byUser map[string][]*drafts.Pick, totalPicks int, board *adp.Board, draftID string) {

	users := usersByFirstPick(byUser)

	for i := 0; i < len(users) && len(result.Pairs) < a.cfg.MaxPairsPerDraft; i++ {
		for j := i + 1; j < len(users) && len(result.Pairs) < a.cfg.MaxPairsPerDraft; j++ {
			key, err := pairkey.Normalize(users[i], users[j])
			if err != nil {
				continue
			}
			if _, flagged := agg.Pairs[key.String()]; flagged {
				continue
			}

			score, err := a.scorePair(key, nil, byUser, totalPicks, board)
			if err != nil {
				metrics.PairAnalysisFailures.Inc()
				slog.Error("sampled pair analysis failed, skipping",
					"draft_id", draftID, "pair", key.String(), "error", err)
				continue
			}
			if score.BehaviorScore < a.cfg.MinInclusionScore && score.BenefitScore < a.cfg.MinInclusionScore {
				continue
			}
			result.Pairs = append(result.Pairs, score)
		}
	}
}

// usersByFirstPick orders a draft's users by their earliest pick so
// sampling is deterministic for a given draft.
func usersByFirstPick(byUser map[string][]*drafts.Pick) []string {
	type first struct {
		user string
		pick int
	}
	var order []first
	for user, picks := range byUser {
		if len(picks) == 0 {
			continue
		}
		order = append(order, first{user: user, pick: picks[0].PickNumber})
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].pick != order[j].pick {
			return order[i].pick < order[j].pick
		}
		return order[i].user < order[j].user
	})

	users := make([]string, len(order))
	for i, f := range order {
		users[i] = f.user
	}
	return users
}

// sortedPairKeys returns the aggregate's pair keys in lexical order so
// analysis output is stable run to run.
func sortedPairKeys(agg *flags.Aggregate) []string {
	keys := make([]string, 0, len(agg.Pairs))
	for k := range agg.Pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
