package adp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/draftguard/draftguard/internal/metrics"
)

// CachedProvider serves boards from a TTL cache in front of a Source.
// When a refresh fails, the last board is served until it ages past
// twice the TTL, after which Get returns ErrStale.
type CachedProvider struct {
	mu     sync.RWMutex
	source Source
	board  *Board
	ttl    time.Duration
}

// NewCachedProvider creates a provider caching boards for ttl.
func NewCachedProvider(source Source, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedProvider{source: source, ttl: ttl}
}

// LastFetched reports when the cached board was fetched. ok is false
// before the first successful refresh.
func (p *CachedProvider) LastFetched() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.board == nil {
		return time.Time{}, false
	}
	return p.board.FetchedAt(), true
}

// Get returns the current board, refreshing it when the cache is stale.
// Concurrent callers during a refresh share the single fetch.
func (p *CachedProvider) Get(ctx context.Context) (*Board, error) {
	p.mu.RLock()
	if p.board != nil && time.Since(p.board.FetchedAt()) < p.ttl {
		board := p.board
		p.mu.RUnlock()
		return board, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if p.board != nil && time.Since(p.board.FetchedAt()) < p.ttl {
		return p.board, nil
	}

	board, err := p.source.Fetch(ctx)
	if err != nil {
		metrics.ADPRefreshTotal.WithLabelValues("error").Inc()
		if p.board != nil && time.Since(p.board.FetchedAt()) < 2*p.ttl {
			slog.Warn("adp refresh failed, serving stale board",
				"error", err,
				"board_age", time.Since(p.board.FetchedAt()).String(),
			)
			metrics.ADPRefreshTotal.WithLabelValues("stale_served").Inc()
			return p.board, nil
		}
		if p.board != nil {
			return nil, ErrStale
		}
		return nil, err
	}

	metrics.ADPRefreshTotal.WithLabelValues("ok").Inc()
	p.board = board
	return board, nil
}
