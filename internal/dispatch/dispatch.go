// Package dispatch decouples draft completion from post-draft analysis.
//
// Completion events are handed off through a bounded queue: the caller
// returns immediately and the analysis runs on a background worker with
// its own retry policy. Analysis failures are logged and never surface
// to the draft flow.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/draftguard/draftguard/internal/logging"
	"github.com/draftguard/draftguard/internal/metrics"
	"github.com/draftguard/draftguard/internal/retry"
)

// Handler processes one completed draft.
type Handler func(ctx context.Context, draftID string) error

// Dispatcher queues completed draft ids for asynchronous analysis.
type Dispatcher struct {
	queue   chan string
	handler Handler

	attempts  int
	retryBase time.Duration

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// New creates a dispatcher with the given queue capacity.
func New(handler Handler, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		queue:     make(chan string, queueSize),
		handler:   handler,
		attempts:  3,
		retryBase: 500 * time.Millisecond,
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Enqueue hands a completed draft to the worker. It never blocks: when
// the queue is full the event is dropped, counted, and left for a
// sweep to pick up later.
func (d *Dispatcher) Enqueue(draftID string) bool {
	select {
	case <-d.stopped:
		return false
	default:
	}

	select {
	case d.queue <- draftID:
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		return true
	default:
		metrics.DispatchDroppedTotal.Inc()
		slog.Warn("completion queue full, dropping event", "draft_id", draftID)
		return false
	}
}

// Start runs the worker loop. Call in a goroutine. The loop drains the
// queue until Stop is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopped:
			return
		case draftID := <-d.queue:
			metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
			d.process(ctx, draftID)
		}
	}
}

// Stop signals the worker to stop and waits briefly for it to exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopped) })
	select {
	case <-d.done:
	case <-time.After(5 * time.Second):
	}
}

// process runs the handler with bounded retries. A draft that fails
// every attempt is logged and dropped; the analyzer's idempotence makes
// a later manual or sweep-triggered replay safe.
func (d *Dispatcher) process(ctx context.Context, draftID string) {
	ctx = logging.WithDraftID(ctx, draftID)
	err := retry.Do(ctx, d.attempts, d.retryBase, func() error {
		return d.handler(ctx, draftID)
	})
	if err != nil {
		logging.L(ctx).Error("post-draft analysis failed after retries",
			"attempts", d.attempts,
			"error", err,
		)
	}
}
