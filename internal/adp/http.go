package adp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/draftguard/draftguard/internal/circuitbreaker"
)

const feedBreakerKey = "adp_feed"

// HTTPSource fetches a draft board from a JSON feed. The feed is an
// array of entries: [{"player_id": "ply_x", "name": "...", "adp": 12.4}].
// A circuit breaker guards the upstream so a flapping feed does not
// stall every analysis run waiting on timeouts.
type HTTPSource struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewHTTPSource creates a feed source for the given URL.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// Fetch downloads and parses the feed.
func (s *HTTPSource) Fetch(ctx context.Context) (*Board, error) {
	if !s.breaker.Allow(feedBreakerKey) {
		return nil, fmt.Errorf("adp feed circuit open")
	}

	board, err := s.fetch(ctx)
	if err != nil {
		s.breaker.RecordFailure(feedBreakerKey)
		return nil, err
	}
	s.breaker.RecordSuccess(feedBreakerKey)
	return board, nil
}

func (s *HTTPSource) fetch(ctx context.Context) (*Board, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch adp feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adp feed returned status %d", resp.StatusCode)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode adp feed: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrEmptyBoard
	}

	return NewBoard(entries, time.Now()), nil
}
