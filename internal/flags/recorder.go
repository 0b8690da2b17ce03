package flags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/draftguard/draftguard/internal/location"
	"github.com/draftguard/draftguard/internal/metrics"
	"github.com/draftguard/draftguard/internal/pairkey"
	"github.com/draftguard/draftguard/internal/retry"
	"github.com/draftguard/draftguard/internal/traces"
	"go.opentelemetry.io/otel/codes"
)

// CompletionSink receives draft ids when drafts complete. The recorder
// never blocks on the sink.
type CompletionSink interface {
	Enqueue(draftID string) bool
}

// RecorderConfig bounds the recorder's conflict-retry behavior. The
// recorder runs inline in the pick path, so attempts and delays are
// kept small.
type RecorderConfig struct {
	MaxAttempts int
	RetryBase   time.Duration
	RetryCap    time.Duration
}

// DefaultRecorderConfig returns the production retry bounds.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		MaxAttempts: 3,
		RetryBase:   50 * time.Millisecond,
		RetryCap:    200 * time.Millisecond,
	}
}

// Recorder folds location signals into per-draft flag aggregates.
type Recorder struct {
	store Store
	sink  CompletionSink
	cfg   RecorderConfig
}

// NewRecorder creates a recorder. sink may be nil when no post-draft
// analysis is wired (tests, one-shot tools).
func NewRecorder(store Store, sink CompletionSink, cfg RecorderConfig) *Recorder {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRecorderConfig()
	}
	return &Recorder{store: store, sink: sink, cfg: cfg}
}

// RecordSignal folds one pick's location signal into the draft's
// aggregate, attributing every resulting flag event to pickNumber.
// Signals with no evidence are accepted and dropped. Writes retry on
// version conflicts up to the configured bound; flags for completed
// drafts are rejected with ErrDraftCompleted.
func (r *Recorder) RecordSignal(ctx context.Context, draftID string, pickNumber int, triggeringUser string, sig *location.Signal) error {
	if err := sig.Validate(triggeringUser); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}
	if sig.Empty() {
		return nil
	}

	ctx, span := traces.StartSpan(ctx, "flags.RecordSignal",
		traces.DraftID(draftID), traces.PickNumber(pickNumber))
	defer span.End()

	start := time.Now()
	err := retry.DoCapped(ctx, r.cfg.MaxAttempts, r.cfg.RetryBase, r.cfg.RetryCap, func() error {
		agg, err := r.store.Get(ctx, draftID)
		if errors.Is(err, ErrNotFound) {
			agg = NewAggregate(draftID)
		} else if err != nil {
			return retry.Permanent(err)
		}

		if agg.Status == StatusCompleted {
			return retry.Permanent(ErrDraftCompleted)
		}

		if err := applySignal(agg, pickNumber, triggeringUser, sig); err != nil {
			return retry.Permanent(err)
		}

		putErr := r.store.Put(ctx, agg)
		if errors.Is(putErr, ErrVersionConflict) {
			metrics.FlagWriteConflicts.Inc()
			return putErr
		}
		if putErr != nil {
			return retry.Permanent(putErr)
		}
		return nil
	})
	metrics.FlagWriteDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			metrics.FlagWritesTotal.WithLabelValues("conflict_exhausted").Inc()
			slog.Warn("flag write lost all retries to conflicts",
				"draft_id", draftID,
				"attempts", r.cfg.MaxAttempts,
			)
		} else {
			metrics.FlagWritesTotal.WithLabelValues("error").Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "flag write failed")
		return err
	}

	metrics.FlagWritesTotal.WithLabelValues("ok").Inc()
	return nil
}

// applySignal mutates agg with each pair observation in the signal.
func applySignal(agg *Aggregate, pickNumber int, triggeringUser string, sig *location.Signal) error {
	now := time.Now()
	for _, u := range sig.CoLocatedUsers {
		key, err := pairkey.Normalize(triggeringUser, u)
		if err != nil {
			return fmt.Errorf("co-located pair: %w", err)
		}
		ev := FlagEvent{
			PickNumber:     pickNumber,
			TriggeringUser: triggeringUser,
			OtherUser:      u,
			DetectedAt:     now,
		}
		if d, ok := sig.Distances[u]; ok {
			dist := d
			ev.DistanceMeters = &dist
		}
		agg.Pair(key).recordProximity(ev)
		agg.TotalProximityEvents++
	}
	for _, u := range sig.SharedOriginUsers {
		key, err := pairkey.Normalize(triggeringUser, u)
		if err != nil {
			return fmt.Errorf("shared-origin pair: %w", err)
		}
		agg.Pair(key).recordSharedOrigin(FlagEvent{
			PickNumber:     pickNumber,
			TriggeringUser: triggeringUser,
			OtherUser:      u,
			DetectedAt:     now,
		})
		agg.TotalSharedOriginEvents++
	}
	agg.UniquePairsFlagged = len(agg.Pairs)
	return nil
}

// MarkCompleted transitions a draft's aggregate to completed and hands
// the draft to the completion sink for analysis. Completing an already
// completed draft is a no-op and does not re-trigger analysis. Drafts
// with no recorded flags still get an aggregate so the analyzer can
// record a clean result.
func (r *Recorder) MarkCompleted(ctx context.Context, draftID string) error {
	err := retry.DoCapped(ctx, r.cfg.MaxAttempts, r.cfg.RetryBase, r.cfg.RetryCap, func() error {
		agg, err := r.store.Get(ctx, draftID)
		if errors.Is(err, ErrNotFound) {
			agg = NewAggregate(draftID)
		} else if err != nil {
			return retry.Permanent(err)
		}

		if agg.Status == StatusCompleted {
			return retry.Permanent(ErrDraftCompleted)
		}

		agg.Status = StatusCompleted
		agg.CompletedAt = time.Now()

		putErr := r.store.Put(ctx, agg)
		if errors.Is(putErr, ErrVersionConflict) {
			metrics.FlagWriteConflicts.Inc()
			return putErr
		}
		if putErr != nil {
			return retry.Permanent(putErr)
		}
		return nil
	})
	if errors.Is(err, ErrDraftCompleted) {
		// Idempotent: the draft was already completed.
		return nil
	}
	if err != nil {
		return err
	}

	if r.sink != nil {
		if !r.sink.Enqueue(draftID) {
			slog.Warn("completion queue full, draft analysis deferred", "draft_id", draftID)
		}
	}
	return nil
}
