package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int // fail this many times before succeeding
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		calls:    make(map[string]int),
		failures: make(map[string]int),
	}
}

func (h *recordingHandler) handle(_ context.Context, draftID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[draftID]++
	if h.failures[draftID] > 0 {
		h.failures[draftID]--
		return errors.New("transient")
	}
	return nil
}

func (h *recordingHandler) count(draftID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[draftID]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDispatcher_ProcessesEnqueuedDraft(t *testing.T) {
	h := newRecordingHandler()
	d := New(h.handle, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)
	defer d.Stop()

	if !d.Enqueue("dft_abc123") {
		t.Fatal("Enqueue should accept with a free queue")
	}

	waitFor(t, func() bool { return h.count("dft_abc123") == 1 })
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	h := newRecordingHandler()
	h.failures["dft_flaky01"] = 2
	d := New(h.handle, 8)
	d.retryBase = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)
	defer d.Stop()

	d.Enqueue("dft_flaky01")

	waitFor(t, func() bool { return h.count("dft_flaky01") == 3 })
}

func TestDispatcher_FullQueueDropsWithoutBlocking(t *testing.T) {
	h := newRecordingHandler()
	d := New(h.handle, 1)
	// Worker not started: the queue fills and stays full.

	if !d.Enqueue("dft_first001") {
		t.Fatal("first enqueue should land")
	}

	start := time.Now()
	accepted := d.Enqueue("dft_second01")
	if accepted {
		t.Error("second enqueue should be dropped on a full queue")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Enqueue must never block")
	}
}

func TestDispatcher_EnqueueAfterStop(t *testing.T) {
	d := New(newRecordingHandler().handle, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)
	d.Stop()

	if d.Enqueue("dft_late0001") {
		t.Error("Enqueue after Stop must refuse")
	}
}
