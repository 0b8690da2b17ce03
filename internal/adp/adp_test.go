package adp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBoard_RanksByAscendingADP(t *testing.T) {
	board := NewBoard([]Entry{
		{PlayerID: "ply_cccc", ADP: 30.5},
		{PlayerID: "ply_aaaa", ADP: 1.2},
		{PlayerID: "ply_bbbb", ADP: 12.0},
	}, time.Now())

	if board.Len() != 3 {
		t.Fatalf("expected 3 players, got %d", board.Len())
	}
	if r := board.Rank("ply_aaaa"); r != 1 {
		t.Errorf("lowest ADP should rank 1, got %d", r)
	}
	if r := board.Rank("ply_bbbb"); r != 2 {
		t.Errorf("expected rank 2, got %d", r)
	}
	if r := board.Rank("ply_cccc"); r != 3 {
		t.Errorf("expected rank 3, got %d", r)
	}
}

func TestBoard_UnknownPlayerGetsDefaultRank(t *testing.T) {
	board := NewBoard([]Entry{{PlayerID: "ply_aaaa", ADP: 1.0}}, time.Now())

	if r := board.Rank("ply_missing"); r != DefaultRank {
		t.Errorf("expected default rank %d, got %d", DefaultRank, r)
	}
	if _, ok := board.ADP("ply_missing"); ok {
		t.Error("unknown player should not report an ADP")
	}
}

func TestBoard_DropsInvalidEntries(t *testing.T) {
	board := NewBoard([]Entry{
		{PlayerID: "", ADP: 5.0},
		{PlayerID: "ply_aaaa", ADP: 0},
		{PlayerID: "ply_bbbb", ADP: -3},
		{PlayerID: "ply_cccc", ADP: 8.0},
	}, time.Now())

	if board.Len() != 1 {
		t.Fatalf("expected 1 valid player, got %d", board.Len())
	}
}

func TestBoard_DuplicateKeepsLowestADP(t *testing.T) {
	board := NewBoard([]Entry{
		{PlayerID: "ply_aaaa", ADP: 20.0},
		{PlayerID: "ply_aaaa", ADP: 5.0},
	}, time.Now())

	v, ok := board.ADP("ply_aaaa")
	if !ok || v != 5.0 {
		t.Errorf("expected ADP 5.0, got %v (ok=%v)", v, ok)
	}
}

func TestHTTPSource_FetchesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"player_id":"ply_aaaa","name":"A","adp":1.5},{"player_id":"ply_bbbb","adp":7.0}]`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL)
	board, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if board.Len() != 2 {
		t.Fatalf("expected 2 players, got %d", board.Len())
	}
	if r := board.Rank("ply_aaaa"); r != 1 {
		t.Errorf("expected rank 1, got %d", r)
	}
}

func TestHTTPSource_RejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL)
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestHTTPSource_BreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL)
	for i := 0; i < 5; i++ {
		src.Fetch(context.Background())
	}

	_, err := src.Fetch(context.Background())
	if err == nil || err.Error() != "adp feed circuit open" {
		t.Fatalf("expected open circuit, got %v", err)
	}
}

// fakeSource counts fetches and can be toggled to fail.
type fakeSource struct {
	fetches int
	fail    bool
	entries []Entry
}

func (f *fakeSource) Fetch(_ context.Context) (*Board, error) {
	f.fetches++
	if f.fail {
		return nil, errors.New("feed down")
	}
	return NewBoard(f.entries, time.Now()), nil
}

func TestCachedProvider_CachesWithinTTL(t *testing.T) {
	src := &fakeSource{entries: []Entry{{PlayerID: "ply_aaaa", ADP: 1.0}}}
	p := NewCachedProvider(src, time.Hour)

	for i := 0; i < 5; i++ {
		if _, err := p.Get(context.Background()); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if src.fetches != 1 {
		t.Errorf("expected 1 upstream fetch, got %d", src.fetches)
	}
}

func TestCachedProvider_ServesStaleOnRefreshFailure(t *testing.T) {
	src := &fakeSource{entries: []Entry{{PlayerID: "ply_aaaa", ADP: 1.0}}}
	p := NewCachedProvider(src, 50*time.Millisecond)

	board, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("initial Get: %v", err)
	}

	src.fail = true
	time.Sleep(60 * time.Millisecond) // past TTL, well within the 2x ceiling

	stale, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("expected stale board, got error: %v", err)
	}
	if stale.FetchedAt() != board.FetchedAt() {
		t.Error("expected the previously cached board")
	}
}

func TestCachedProvider_ErrStalePastCeiling(t *testing.T) {
	src := &fakeSource{entries: []Entry{{PlayerID: "ply_aaaa", ADP: 1.0}}}
	p := NewCachedProvider(src, 10*time.Millisecond)

	if _, err := p.Get(context.Background()); err != nil {
		t.Fatalf("initial Get: %v", err)
	}

	src.fail = true
	time.Sleep(30 * time.Millisecond) // past 2x TTL

	if _, err := p.Get(context.Background()); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestCachedProvider_NoCacheNoBoard(t *testing.T) {
	src := &fakeSource{fail: true}
	p := NewCachedProvider(src, time.Hour)

	if _, err := p.Get(context.Background()); err == nil {
		t.Fatal("expected error with no cached board")
	}
}
