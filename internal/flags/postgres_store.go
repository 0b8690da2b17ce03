package flags

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. Pair state is a
// JSONB document; the version column carries the optimistic lock.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed flag store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the draft_flags table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS draft_flags (
			draft_id                   VARCHAR(64) PRIMARY KEY,
			status                     VARCHAR(20) NOT NULL DEFAULT 'active',
			version                    BIGINT NOT NULL DEFAULT 1,
			pairs                      JSONB NOT NULL DEFAULT '{}',
			total_proximity_events     INTEGER NOT NULL DEFAULT 0,
			total_shared_origin_events INTEGER NOT NULL DEFAULT 0,
			unique_pairs_flagged       INTEGER NOT NULL DEFAULT 0,
			created_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at               TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_draft_flags_status ON draft_flags(status, created_at ASC);
	`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, draftID string) (*Aggregate, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT draft_id, status, version, pairs,
			total_proximity_events, total_shared_origin_events, unique_pairs_flagged,
			created_at, updated_at, completed_at
		FROM draft_flags WHERE draft_id = $1
	`, draftID)

	var agg Aggregate
	var status string
	var pairsJSON []byte
	var completedAt sql.NullTime

	err := row.Scan(&agg.DraftID, &status, &agg.Version, &pairsJSON,
		&agg.TotalProximityEvents, &agg.TotalSharedOriginEvents, &agg.UniquePairsFlagged,
		&agg.CreatedAt, &agg.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregate: %w", err)
	}

	agg.Status = Status(status)
	if completedAt.Valid {
		agg.CompletedAt = completedAt.Time
	}
	agg.Pairs = make(map[string]*FlaggedPair)
	if err := json.Unmarshal(pairsJSON, &agg.Pairs); err != nil {
		return nil, fmt.Errorf("unmarshal pairs: %w", err)
	}
	return &agg, nil
}

func (p *PostgresStore) Put(ctx context.Context, agg *Aggregate) error {
	pairsJSON, err := json.Marshal(agg.Pairs)
	if err != nil {
		return fmt.Errorf("marshal pairs: %w", err)
	}

	now := time.Now()
	if agg.Version == 0 {
		result, err := p.db.ExecContext(ctx, `
			INSERT INTO draft_flags (draft_id, status, version, pairs,
				total_proximity_events, total_shared_origin_events, unique_pairs_flagged,
				created_at, updated_at, completed_at)
			VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (draft_id) DO NOTHING
		`, agg.DraftID, string(agg.Status), pairsJSON,
			agg.TotalProximityEvents, agg.TotalSharedOriginEvents, agg.UniquePairsFlagged,
			agg.CreatedAt, now, nullTimeOrValue(agg.CompletedAt))
		if err != nil {
			return fmt.Errorf("insert aggregate: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			// Another writer created the aggregate first.
			return ErrVersionConflict
		}
		agg.Version = 1
		agg.UpdatedAt = now
		return nil
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE draft_flags SET
			status                     = $3,
			version                    = version + 1,
			pairs                      = $4,
			total_proximity_events     = $5,
			total_shared_origin_events = $6,
			unique_pairs_flagged       = $7,
			updated_at                 = $8,
			completed_at               = $9
		WHERE draft_id = $1 AND version = $2
	`, agg.DraftID, agg.Version, string(agg.Status), pairsJSON,
		agg.TotalProximityEvents, agg.TotalSharedOriginEvents, agg.UniquePairsFlagged,
		now, nullTimeOrValue(agg.CompletedAt))
	if err != nil {
		return fmt.Errorf("update aggregate: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a concurrent write from a missing row.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM draft_flags WHERE draft_id = $1)`,
			agg.DraftID).Scan(&exists); err != nil {
			return fmt.Errorf("check existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	agg.Version++
	agg.UpdatedAt = now
	return nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT draft_id FROM draft_flags
		WHERE status = $1
		ORDER BY created_at ASC, draft_id ASC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan draft id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// nullTimeOrValue returns a sql.NullTime: valid if t is non-zero, null otherwise.
func nullTimeOrValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
