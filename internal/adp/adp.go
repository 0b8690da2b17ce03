// Package adp provides average-draft-position boards used to judge
// whether a pick was a reach or a value relative to market consensus.
package adp

import (
	"context"
	"errors"
	"sort"
	"time"
)

// DefaultRank is the desirability rank assigned to players absent from
// the board. Unknown players are treated as late-round picks.
const DefaultRank = 36

// ErrStale is returned when the cached board is too old to serve and a
// refresh could not be completed.
var ErrStale = errors.New("adp: board is stale and refresh failed")

// ErrEmptyBoard is returned by sources that produce no entries.
var ErrEmptyBoard = errors.New("adp: feed returned no players")

// Entry is a single player's consensus draft position.
type Entry struct {
	PlayerID string  `json:"player_id"`
	Name     string  `json:"name,omitempty"`
	ADP      float64 `json:"adp"`
}

// Board is an immutable snapshot of a draft board. Ranks are assigned
// by ascending ADP, so rank 1 is the most desirable player.
type Board struct {
	fetchedAt time.Time
	adp       map[string]float64
	rank      map[string]int
}

// NewBoard builds a board from feed entries. Entries with non-positive
// ADP are dropped. Duplicate player ids keep the lowest ADP.
func NewBoard(entries []Entry, fetchedAt time.Time) *Board {
	b := &Board{
		fetchedAt: fetchedAt,
		adp:       make(map[string]float64, len(entries)),
		rank:      make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.PlayerID == "" || e.ADP <= 0 {
			continue
		}
		if existing, ok := b.adp[e.PlayerID]; !ok || e.ADP < existing {
			b.adp[e.PlayerID] = e.ADP
		}
	}

	ids := make([]string, 0, len(b.adp))
	for id := range b.adp {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if b.adp[ids[i]] != b.adp[ids[j]] {
			return b.adp[ids[i]] < b.adp[ids[j]]
		}
		return ids[i] < ids[j] // stable rank for tied ADP
	})
	for i, id := range ids {
		b.rank[id] = i + 1
	}
	return b
}

// ADP returns the consensus draft position for a player.
func (b *Board) ADP(playerID string) (float64, bool) {
	v, ok := b.adp[playerID]
	return v, ok
}

// Rank returns the desirability rank for a player, or DefaultRank when
// the player is not on the board.
func (b *Board) Rank(playerID string) int {
	if r, ok := b.rank[playerID]; ok {
		return r
	}
	return DefaultRank
}

// Len returns the number of players on the board.
func (b *Board) Len() int {
	return len(b.adp)
}

// FetchedAt returns when the board data was fetched.
func (b *Board) FetchedAt() time.Time {
	return b.fetchedAt
}

// Source fetches a fresh draft board.
type Source interface {
	Fetch(ctx context.Context) (*Board, error)
}

// StaticSource serves a fixed board. Used in memory mode and tests.
type StaticSource struct {
	board *Board
}

// NewStaticSource creates a source that always returns the given entries.
func NewStaticSource(entries []Entry) *StaticSource {
	return &StaticSource{board: NewBoard(entries, time.Now())}
}

// Fetch returns the fixed board.
func (s *StaticSource) Fetch(_ context.Context) (*Board, error) {
	if s.board.Len() == 0 {
		return nil, ErrEmptyBoard
	}
	return s.board, nil
}
