package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. The table is
// append-only: no UPDATE or DELETE statements exist against it.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed action store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the admin_actions table if it doesn't exist. The
// (target_type, target_id, created_at DESC) index serves audit history
// lookups and is required at deployment.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS admin_actions (
			id          VARCHAR(36) PRIMARY KEY,
			target_type VARCHAR(20) NOT NULL,
			target_id   VARCHAR(130) NOT NULL,
			admin_id    VARCHAR(64) NOT NULL,
			action      VARCHAR(20) NOT NULL,
			reason      TEXT NOT NULL,
			notes       TEXT,
			evidence    JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_admin_actions_target
			ON admin_actions (target_type, target_id, created_at DESC);
	`)
	return err
}

func (p *PostgresStore) Append(ctx context.Context, action *AdminAction) error {
	evidenceJSON, err := json.Marshal(action.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO admin_actions (id, target_type, target_id, admin_id, action, reason, notes, evidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, action.ID, string(action.TargetType), action.TargetID, action.AdminID,
		string(action.Action), action.Reason, action.Notes, evidenceJSON, action.CreatedAt)
	if err != nil {
		return fmt.Errorf("append admin action: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListByTarget(ctx context.Context, targetType TargetType, targetID string, before time.Time, beforeID string, limit int) ([]*AdminAction, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before.IsZero() {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, target_type, target_id, admin_id, action, reason, notes, evidence, created_at
			FROM admin_actions
			WHERE target_type = $1 AND target_id = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		`, string(targetType), targetID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, target_type, target_id, admin_id, action, reason, notes, evidence, created_at
			FROM admin_actions
			WHERE target_type = $1 AND target_id = $2
				AND (created_at, id) < ($3, $4)
			ORDER BY created_at DESC, id DESC
			LIMIT $5
		`, string(targetType), targetID, before, beforeID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list admin actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*AdminAction
	for rows.Next() {
		var a AdminAction
		var targetType, action string
		var notes sql.NullString
		var evidenceJSON []byte

		if err := rows.Scan(&a.ID, &targetType, &a.TargetID, &a.AdminID,
			&action, &a.Reason, &notes, &evidenceJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin action: %w", err)
		}
		a.TargetType = TargetType(targetType)
		a.Action = Action(action)
		if notes.Valid {
			a.Notes = notes.String
		}
		if len(evidenceJSON) > 0 {
			if err := json.Unmarshal(evidenceJSON, &a.Evidence); err != nil {
				return nil, fmt.Errorf("unmarshal evidence: %w", err)
			}
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}
