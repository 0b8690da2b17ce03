package crossdraft

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/draftguard/draftguard/internal/analyzer"
)

func TestWorker_RunsOnStartAndStops(t *testing.T) {
	scores := analyzer.NewMemoryStore()
	pairs := NewMemoryStore()
	key := mustKey(t, "usr_alice", "usr_bob1")
	seedDrafts(t, scores, []*analyzer.DraftRiskScores{
		draftScore("dft_w1aaaa", key, 80, true, time.Now().Add(-time.Hour)),
	})

	w := NewWorker(New(scores, pairs, DefaultConfig()), time.Hour, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	// The immediate run should have produced the pair profile.
	deadline := time.After(2 * time.Second)
	for {
		if _, err := pairs.Get(ctx, key); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker did not run on start")
		case <-time.After(10 * time.Millisecond):
		}
	}

	w.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
