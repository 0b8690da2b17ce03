package crossdraft

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/draftguard/draftguard/internal/analyzer"
	"github.com/draftguard/draftguard/internal/idgen"
	"github.com/draftguard/draftguard/internal/metrics"
	"github.com/draftguard/draftguard/internal/pairkey"
	"github.com/draftguard/draftguard/internal/traces"
)

const maxReportErrors = 20

// Config bounds an aggregation run.
type Config struct {
	// Lookback is how far back analyzed drafts are considered.
	Lookback time.Duration
	// Workers bounds concurrent per-pair persistence.
	Workers int
	// HistoryLimit caps the per-pair score history.
	HistoryLimit int
}

// DefaultConfig returns the production aggregation configuration.
func DefaultConfig() Config {
	return Config{
		Lookback:     90 * 24 * time.Hour,
		Workers:      4,
		HistoryLimit: 20,
	}
}

// RunReport summarizes one aggregation run. Errors are truncated so a
// widespread failure cannot produce an unbounded report.
type RunReport struct {
	RunID         string        `json:"runId"`
	PairsAnalyzed int           `json:"pairsAnalyzed"`
	CriticalCount int           `json:"criticalCount"`
	HighCount     int           `json:"highCount"`
	FailedCount   int           `json:"failedCount"`
	Errors        []string      `json:"errors,omitempty"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`
}

// Aggregator builds cross-draft pair profiles from analyzed drafts.
type Aggregator struct {
	scores analyzer.Store
	pairs  Store
	cfg    Config
}

// New creates an aggregator over the given stores.
func New(scores analyzer.Store, pairs Store, cfg Config) *Aggregator {
	if cfg.Lookback <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Aggregator{scores: scores, pairs: pairs, cfg: cfg}
}

// RunFullAnalysis recomputes every pair profile from the drafts
// analyzed within the lookback window. Pairs are persisted
// independently: one pair's failure lands in the report, never aborts
// the run. The computation is a pure fold over the input set, so the
// result is independent of draft ordering.
func (a *Aggregator) RunFullAnalysis(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunID:     idgen.WithPrefix("run_"),
		StartedAt: time.Now(),
	}

	ctx, span := traces.StartSpan(ctx, "crossdraft.RunFullAnalysis", traces.RunID(report.RunID))
	defer span.End()

	since := report.StartedAt.Add(-a.cfg.Lookback)
	scored, err := a.scores.ListAnalyzedSince(ctx, since)
	if err != nil {
		metrics.AggregationRunsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "load analyzed drafts failed")
		return nil, fmt.Errorf("load analyzed drafts: %w", err)
	}

	grouped := groupByPair(scored)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)

	for key, entries := range grouped {
		// Honor cancellation between pair iterations.
		if err := gctx.Err(); err != nil {
			break
		}
		key, entries := key, entries
		g.Go(func() error {
			pctx, pairSpan := traces.StartSpan(gctx, "crossdraft.AggregatePair", traces.PairKey(key))
			defer pairSpan.End()

			analysis, err := a.buildAnalysis(key, entries)
			if err == nil {
				err = a.pairs.Put(pctx, analysis)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.AggregationPairFailures.Inc()
				pairSpan.RecordError(err)
				pairSpan.SetStatus(codes.Error, "pair aggregation failed")
				report.FailedCount++
				if len(report.Errors) < maxReportErrors {
					report.Errors = append(report.Errors, fmt.Sprintf("pair %s: %v", key, err))
				}
				slog.Error("pair aggregation failed, continuing",
					"run_id", report.RunID, "pair", key, "error", err)
				return nil
			}
			report.PairsAnalyzed++
			switch analysis.OverallRiskLevel {
			case LevelCritical:
				report.CriticalCount++
			case LevelHigh:
				report.HighCount++
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(traces.PairCount(len(grouped)))
	report.Duration = time.Since(report.StartedAt)
	metrics.AggregationRunsTotal.WithLabelValues("ok").Inc()
	metrics.AggregationDuration.Observe(report.Duration.Seconds())
	slog.Info("cross-draft aggregation completed",
		"run_id", report.RunID,
		"pairs_analyzed", report.PairsAnalyzed,
		"critical", report.CriticalCount,
		"high", report.HighCount,
		"failed", report.FailedCount,
		"duration", report.Duration.String(),
	)
	return report, nil
}

// pairObservation is one draft's score for one pair.
type pairObservation struct {
	draftID    string
	score      float64
	coLocated  bool
	analyzedAt time.Time
}

// groupByPair flattens draft score records into per-pair observation
// lists keyed by normalized pair key.
func groupByPair(scored []*analyzer.DraftRiskScores) map[string][]pairObservation {
	grouped := make(map[string][]pairObservation)
	for _, draft := range scored {
		if draft.Status != analyzer.StatusAnalyzed {
			continue
		}
		for _, p := range draft.Pairs {
			if p.Key.IsZero() {
				continue
			}
			grouped[p.Key.String()] = append(grouped[p.Key.String()], pairObservation{
				draftID:    draft.DraftID,
				score:      p.CompositeScore,
				coLocated:  p.CoLocated,
				analyzedAt: draft.AnalyzedAt,
			})
		}
	}
	return grouped
}

// buildAnalysis folds a pair's observations into its profile. Sorting
// by (analyzedAt, draftID) first makes the result order-independent.
func (a *Aggregator) buildAnalysis(key string, obs []pairObservation) (*UserPairAnalysis, error) {
	pk, err := pairkey.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("invalid pair key: %w", err)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("no observations")
	}

	sort.Slice(obs, func(i, j int) bool {
		if !obs[i].analyzedAt.Equal(obs[j].analyzedAt) {
			return obs[i].analyzedAt.Before(obs[j].analyzedAt)
		}
		return obs[i].draftID < obs[j].draftID
	})

	analysis := &UserPairAnalysis{
		Key:                 pk,
		TotalDraftsTogether: len(obs),
		FirstDraftTogether:  obs[0].analyzedAt,
		LastDraftTogether:   obs[len(obs)-1].analyzedAt,
		LastAnalyzedAt:      time.Now(),
	}

	var sumCo, sumNot float64
	var countNot int
	for _, o := range obs {
		if o.coLocated {
			analysis.DraftsCoLocated++
			sumCo += o.score
		} else {
			countNot++
			sumNot += o.score
		}
	}

	analysis.CoLocationRate = float64(analysis.DraftsCoLocated) / float64(len(obs))
	if analysis.DraftsCoLocated > 0 {
		analysis.AvgScoreCoLocated = sumCo / float64(analysis.DraftsCoLocated)
	}
	if countNot > 0 {
		analysis.AvgScoreNotCoLocated = sumNot / float64(countNot)
	}
	analysis.RiskScoreDifferential = analysis.AvgScoreCoLocated - analysis.AvgScoreNotCoLocated

	// Most recent drafts first, bounded.
	for i := len(obs) - 1; i >= 0 && len(analysis.ScoreHistory) < a.cfg.HistoryLimit; i-- {
		analysis.ScoreHistory = append(analysis.ScoreHistory, HistoryEntry{
			DraftID:        obs[i].draftID,
			CompositeScore: obs[i].score,
			CoLocated:      obs[i].coLocated,
			AnalyzedAt:     obs[i].analyzedAt,
		})
	}

	analysis.OverallRiskLevel = Classify(analysis)
	return analysis, nil
}
