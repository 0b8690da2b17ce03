package crossdraft

import (
	"context"
	"log/slog"
	"time"
)

// Worker runs the full cross-draft aggregation on a fixed schedule,
// independent of any single draft.
type Worker struct {
	aggregator *Aggregator
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
}

// NewWorker creates an aggregation worker.
// interval is typically a week in production, seconds in demo mode.
func NewWorker(aggregator *Aggregator, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		aggregator: aggregator,
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Start begins the aggregation loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on start
	w.run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Worker) run(ctx context.Context) {
	report, err := w.aggregator.RunFullAnalysis(ctx)
	if err != nil {
		w.logger.Warn("scheduled aggregation failed", "error", err)
		return
	}
	if report.FailedCount > 0 {
		w.logger.Warn("scheduled aggregation had pair failures",
			"run_id", report.RunID,
			"failed", report.FailedCount,
			"analyzed", report.PairsAnalyzed,
		)
	}
}
