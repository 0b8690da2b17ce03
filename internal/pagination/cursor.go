// Package pagination provides opaque keyset cursors for the review and
// audit listing endpoints. A cursor encodes the (timestamp, id) key of the
// last item on a page so listings stay stable while new rows arrive.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor represents a position in a paginated result set.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode returns an opaque cursor string from a timestamp and ID.
func Encode(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor")
	}
	return &Cursor{
		CreatedAt: time.Unix(0, nanos).UTC(),
		ID:        parts[1],
	}, nil
}

// ComputePage trims a slice fetched with limit+1 down to the requested
// limit and, when more rows exist, encodes a cursor from the last kept
// item's (timestamp, id) key. Returns the trimmed items, the next cursor,
// and whether more rows remain.
func ComputePage[T any](items []T, limit int, extractKey func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	last := items[len(items)-1]
	createdAt, id := extractKey(last)
	return items, Encode(createdAt, id), true
}

// ScoreCursor represents a position in a result set ordered by a
// descending numeric score.
type ScoreCursor struct {
	Score float64
	ID    string
}

// EncodeScore returns an opaque cursor string from a score and ID.
func EncodeScore(score float64, id string) string {
	raw := strconv.FormatFloat(score, 'g', -1, 64) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeScore parses an opaque score cursor. Returns nil for empty input.
func DecodeScore(s string) (*ScoreCursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor")
	}
	score, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor")
	}
	return &ScoreCursor{Score: score, ID: parts[1]}, nil
}

// ComputeScorePage is ComputePage for score-ordered listings: it trims a
// limit+1 fetch and encodes the last kept item's (score, id) key.
func ComputeScorePage[T any](items []T, limit int, extractKey func(T) (float64, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	last := items[len(items)-1]
	score, id := extractKey(last)
	return items, EncodeScore(score, id), true
}
