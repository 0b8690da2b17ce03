package flags

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/draftguard/draftguard/internal/location"
)

// testConfig allows enough retries that contention in tests never
// exhausts the budget.
func testConfig() RecorderConfig {
	return RecorderConfig{
		MaxAttempts: 100,
		RetryBase:   time.Millisecond,
		RetryCap:    5 * time.Millisecond,
	}
}

type fakeSink struct {
	mu     sync.Mutex
	drafts []string
	full   bool
}

func (f *fakeSink) Enqueue(draftID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.drafts = append(f.drafts, draftID)
	return true
}

func TestRecorder_RecordSignal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := NewRecorder(store, nil, testConfig())

	sig := &location.Signal{
		CoLocatedUsers: []string{"usr_bob1"},
		Distances:      map[string]float64{"usr_bob1": 4.2},
	}
	if err := rec.RecordSignal(ctx, "dft_abc123", 5, "usr_alice", sig); err != nil {
		t.Fatalf("RecordSignal: %v", err)
	}

	agg, err := store.Get(ctx, "dft_abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if agg.TotalProximityEvents != 1 || agg.TotalSharedOriginEvents != 0 {
		t.Errorf("unexpected counters: proximity=%d sharedOrigin=%d",
			agg.TotalProximityEvents, agg.TotalSharedOriginEvents)
	}
	if agg.UniquePairsFlagged != 1 {
		t.Errorf("expected 1 unique pair, got %d", agg.UniquePairsFlagged)
	}
	fp, ok := agg.Pairs["usr_alice:usr_bob1"]
	if !ok {
		t.Fatal("expected pair usr_alice:usr_bob1")
	}
	if fp.Kind != KindProximity || fp.ProximityCount != 1 || fp.MinDistanceMeters != 4.2 {
		t.Errorf("unexpected pair state: %+v", fp)
	}
	if len(fp.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(fp.Events))
	}
	ev := fp.Events[0]
	if ev.PickNumber != 5 || ev.TriggeringUser != "usr_alice" || ev.OtherUser != "usr_bob1" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.DistanceMeters == nil || *ev.DistanceMeters != 4.2 {
		t.Errorf("event lost its measured distance: %+v", ev)
	}
	if ev.DetectedAt.IsZero() {
		t.Error("event must carry a detection timestamp")
	}
}

func TestRecorder_EventsKeepArrivalOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := NewRecorder(store, nil, testConfig())

	rec.RecordSignal(ctx, "dft_abc123", 2, "usr_alice", &location.Signal{CoLocatedUsers: []string{"usr_bob1"}})
	rec.RecordSignal(ctx, "dft_abc123", 9, "usr_bob1", &location.Signal{SharedOriginUsers: []string{"usr_alice"}})

	agg, _ := store.Get(ctx, "dft_abc123")
	fp := agg.Pairs["usr_alice:usr_bob1"]
	if len(fp.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(fp.Events))
	}
	if fp.Events[0].PickNumber != 2 || fp.Events[1].PickNumber != 9 {
		t.Errorf("events must keep arrival order: %+v", fp.Events)
	}
	if fp.Events[1].TriggeringUser != "usr_bob1" || fp.Events[1].OtherUser != "usr_alice" {
		t.Errorf("second event attribution wrong: %+v", fp.Events[1])
	}
	if agg.TotalProximityEvents != 1 || agg.TotalSharedOriginEvents != 1 {
		t.Errorf("unexpected counters: proximity=%d sharedOrigin=%d",
			agg.TotalProximityEvents, agg.TotalSharedOriginEvents)
	}
}

func TestRecorder_PairOrderIndependence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := NewRecorder(store, nil, testConfig())

	// Alice's pick flags Bob, then Bob's pick flags Alice.
	rec.RecordSignal(ctx, "dft_abc123", 1, "usr_alice", &location.Signal{CoLocatedUsers: []string{"usr_bob1"}})
	rec.RecordSignal(ctx, "dft_abc123", 2, "usr_bob1", &location.Signal{CoLocatedUsers: []string{"usr_alice"}})

	agg, _ := store.Get(ctx, "dft_abc123")
	if len(agg.Pairs) != 1 {
		t.Fatalf("both directions must fold into one pair, got %d", len(agg.Pairs))
	}
	if agg.Pairs["usr_alice:usr_bob1"].ProximityCount != 2 {
		t.Errorf("expected 2 proximity events on the shared pair")
	}
}

func TestRecorder_EmptySignalIsDropped(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := NewRecorder(store, nil, testConfig())

	if err := rec.RecordSignal(ctx, "dft_abc123", 1, "usr_alice", &location.Signal{}); err != nil {
		t.Fatalf("empty signal should be accepted: %v", err)
	}
	if _, err := store.Get(ctx, "dft_abc123"); !errors.Is(err, ErrNotFound) {
		t.Error("empty signal must not create an aggregate")
	}
}

func TestRecorder_RejectsInvalidSignal(t *testing.T) {
	rec := NewRecorder(NewMemoryStore(), nil, testConfig())

	sig := &location.Signal{CoLocatedUsers: []string{"usr_alice"}} // self-pair
	err := rec.RecordSignal(context.Background(), "dft_abc123", 1, "usr_alice", sig)
	if err == nil {
		t.Fatal("expected validation error for self-pair")
	}
}

func TestRecorder_ConcurrentSignalsAllLand(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := NewRecorder(store, nil, testConfig())

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(pick int) {
			defer wg.Done()
			sig := &location.Signal{CoLocatedUsers: []string{"usr_bob1"}}
			errs <- rec.RecordSignal(ctx, "dft_abc123", pick, "usr_alice", sig)
		}(i + 1)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write failed: %v", err)
		}
	}

	agg, err := store.Get(ctx, "dft_abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if agg.TotalProximityEvents != writers {
		t.Errorf("expected %d events, got %d (lost updates)", writers, agg.TotalProximityEvents)
	}
	if got := len(agg.Pairs["usr_alice:usr_bob1"].Events); got != writers {
		t.Errorf("expected %d stored events, got %d", writers, got)
	}
	if agg.Pairs["usr_alice:usr_bob1"].ProximityCount != writers {
		t.Errorf("expected %d proximity events, got %d",
			writers, agg.Pairs["usr_alice:usr_bob1"].ProximityCount)
	}
}

func TestRecorder_RejectsSignalAfterCompletion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := NewRecorder(store, nil, testConfig())

	rec.RecordSignal(ctx, "dft_abc123", 1, "usr_alice", &location.Signal{CoLocatedUsers: []string{"usr_bob1"}})
	if err := rec.MarkCompleted(ctx, "dft_abc123"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	sig := &location.Signal{CoLocatedUsers: []string{"usr_bob1"}}
	err := rec.RecordSignal(ctx, "dft_abc123", 2, "usr_alice", sig)
	if !errors.Is(err, ErrDraftCompleted) {
		t.Fatalf("expected ErrDraftCompleted, got %v", err)
	}
}

func TestRecorder_MarkCompletedEnqueuesOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sink := &fakeSink{}
	rec := NewRecorder(store, sink, testConfig())

	rec.RecordSignal(ctx, "dft_abc123", 1, "usr_alice", &location.Signal{CoLocatedUsers: []string{"usr_bob1"}})

	if err := rec.MarkCompleted(ctx, "dft_abc123"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	// Second completion is a no-op and must not re-enqueue.
	if err := rec.MarkCompleted(ctx, "dft_abc123"); err != nil {
		t.Fatalf("repeat MarkCompleted: %v", err)
	}

	if len(sink.drafts) != 1 || sink.drafts[0] != "dft_abc123" {
		t.Errorf("expected exactly one enqueue, got %v", sink.drafts)
	}

	agg, _ := store.Get(ctx, "dft_abc123")
	if agg.Status != StatusCompleted || agg.CompletedAt.IsZero() {
		t.Errorf("aggregate not completed: %+v", agg)
	}
}

func TestRecorder_MarkCompletedUnflaggedDraft(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sink := &fakeSink{}
	rec := NewRecorder(store, sink, testConfig())

	// No flags were ever recorded for this draft.
	if err := rec.MarkCompleted(ctx, "dft_clean001"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	agg, err := store.Get(ctx, "dft_clean001")
	if err != nil {
		t.Fatalf("expected aggregate for clean draft: %v", err)
	}
	if agg.Status != StatusCompleted || len(agg.Pairs) != 0 {
		t.Errorf("unexpected aggregate: %+v", agg)
	}
	if len(sink.drafts) != 1 {
		t.Error("clean drafts still go to analysis")
	}
}

func TestRecorder_FullSinkDoesNotFailCompletion(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder(NewMemoryStore(), &fakeSink{full: true}, testConfig())

	if err := rec.MarkCompleted(ctx, "dft_abc123"); err != nil {
		t.Fatalf("completion must succeed even when the sink is full: %v", err)
	}
}
