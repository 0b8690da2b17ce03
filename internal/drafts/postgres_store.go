package drafts

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed pick store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the draft_picks table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS draft_picks (
			draft_id     VARCHAR(64) NOT NULL,
			pick_number  INTEGER NOT NULL,
			user_id      VARCHAR(64) NOT NULL,
			player_id    VARCHAR(64) NOT NULL,
			picked_at    TIMESTAMPTZ NOT NULL,
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (draft_id, pick_number)
		);
		CREATE INDEX IF NOT EXISTS idx_draft_picks_user ON draft_picks(draft_id, user_id);
	`)
	return err
}

// UpsertPick inserts a pick, replacing any prior pick at the same slot.
func (p *PostgresStore) UpsertPick(ctx context.Context, pick *Pick) error {
	if err := pick.Validate(); err != nil {
		return err
	}
	if pick.PickedAt.IsZero() {
		pick.PickedAt = time.Now()
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO draft_picks (draft_id, pick_number, user_id, player_id, picked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (draft_id, pick_number) DO UPDATE SET
			user_id   = EXCLUDED.user_id,
			player_id = EXCLUDED.player_id,
			picked_at = EXCLUDED.picked_at
	`, pick.DraftID, pick.PickNumber, pick.UserID, pick.PlayerID, pick.PickedAt)
	if err != nil {
		return fmt.Errorf("upsert pick: %w", err)
	}
	return nil
}

// ListByDraft returns all picks for a draft ordered by pick number.
func (p *PostgresStore) ListByDraft(ctx context.Context, draftID string) ([]*Pick, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT draft_id, pick_number, user_id, player_id, picked_at, created_at
		FROM draft_picks
		WHERE draft_id = $1
		ORDER BY pick_number ASC
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list picks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Pick
	for rows.Next() {
		var pick Pick
		var createdAt sql.NullTime
		if err := rows.Scan(&pick.DraftID, &pick.PickNumber, &pick.UserID,
			&pick.PlayerID, &pick.PickedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pick: %w", err)
		}
		if createdAt.Valid {
			pick.CreatedAt = createdAt.Time
		}
		result = append(result, &pick)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, ErrDraftNotFound
	}
	return result, nil
}

// PicksByUser groups a draft's picks by the user who made them.
func (p *PostgresStore) PicksByUser(ctx context.Context, draftID string) (map[string][]*Pick, error) {
	picks, err := p.ListByDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string][]*Pick)
	for _, pick := range picks {
		byUser[pick.UserID] = append(byUser[pick.UserID], pick)
	}
	return byUser, nil
}
