package analyzer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. Pair scores are
// stored as a JSONB document; the indexed columns serve the review and
// aggregation queries.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed score store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the draft_risk_scores table if it doesn't exist.
// The review and recency indexes are required: without them the
// listing queries degrade to full scans on a table that grows with
// every completed draft.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS draft_risk_scores (
			draft_id       VARCHAR(64) PRIMARY KEY,
			status         VARCHAR(20) NOT NULL,
			review_tier    VARCHAR(20) NOT NULL,
			max_risk_score NUMERIC(5,2) NOT NULL DEFAULT 0,
			avg_risk_score NUMERIC(5,2) NOT NULL DEFAULT 0,
			pairs          JSONB NOT NULL DEFAULT '[]',
			analyzed_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_draft_risk_scores_review
			ON draft_risk_scores (status, max_risk_score DESC);
		CREATE INDEX IF NOT EXISTS idx_draft_risk_scores_analyzed
			ON draft_risk_scores (analyzed_at DESC);
	`)
	return err
}

func (p *PostgresStore) Put(ctx context.Context, scores *DraftRiskScores) error {
	pairsJSON, err := json.Marshal(scores.Pairs)
	if err != nil {
		return fmt.Errorf("marshal pairs: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO draft_risk_scores (draft_id, status, review_tier, max_risk_score, avg_risk_score, pairs, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (draft_id) DO UPDATE SET
			status         = EXCLUDED.status,
			review_tier    = EXCLUDED.review_tier,
			max_risk_score = EXCLUDED.max_risk_score,
			avg_risk_score = EXCLUDED.avg_risk_score,
			pairs          = EXCLUDED.pairs,
			analyzed_at    = EXCLUDED.analyzed_at
	`, scores.DraftID, string(scores.Status), string(scores.ReviewTier),
		scores.MaxRiskScore, scores.AvgRiskScore, pairsJSON, scores.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("put scores: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, draftID string) (*DraftRiskScores, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT draft_id, status, review_tier, max_risk_score, avg_risk_score, pairs, analyzed_at
		FROM draft_risk_scores WHERE draft_id = $1
	`, draftID)

	s, err := scanScores(row)
	if err == sql.ErrNoRows {
		return nil, ErrScoresNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scores: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) ListAnalyzedSince(ctx context.Context, since time.Time) ([]*DraftRiskScores, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT draft_id, status, review_tier, max_risk_score, avg_risk_score, pairs, analyzed_at
		FROM draft_risk_scores
		WHERE status IN ('analyzed', 'reviewed') AND analyzed_at > $1
		ORDER BY analyzed_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list analyzed: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanScoresRows(rows)
}

func (p *PostgresStore) ListForReview(ctx context.Context, minScore, afterScore float64, afterID string, limit int) ([]*DraftRiskScores, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if afterID == "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT draft_id, status, review_tier, max_risk_score, avg_risk_score, pairs, analyzed_at
			FROM draft_risk_scores
			WHERE status = 'analyzed' AND max_risk_score >= $1
			ORDER BY max_risk_score DESC, draft_id ASC
			LIMIT $2
		`, minScore, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT draft_id, status, review_tier, max_risk_score, avg_risk_score, pairs, analyzed_at
			FROM draft_risk_scores
			WHERE status = 'analyzed' AND max_risk_score >= $1
				AND (max_risk_score < $2 OR (max_risk_score = $2 AND draft_id > $3))
			ORDER BY max_risk_score DESC, draft_id ASC
			LIMIT $4
		`, minScore, afterScore, afterID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list for review: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanScoresRows(rows)
}

// MarkReviewed flips an analyzed draft to reviewed. The guard on the
// current status makes repeated admin actions idempotent.
func (p *PostgresStore) MarkReviewed(ctx context.Context, draftID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE draft_risk_scores SET status = 'reviewed'
		WHERE draft_id = $1 AND status = 'analyzed'
	`, draftID)
	if err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM draft_risk_scores WHERE draft_id = $1)`,
			draftID).Scan(&exists); err != nil {
			return fmt.Errorf("check existence: %w", err)
		}
		if !exists {
			return ErrScoresNotFound
		}
	}
	return nil
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanScores(row scannable) (*DraftRiskScores, error) {
	var s DraftRiskScores
	var status, tier string
	var pairsJSON []byte

	err := row.Scan(&s.DraftID, &status, &tier, &s.MaxRiskScore, &s.AvgRiskScore, &pairsJSON, &s.AnalyzedAt)
	if err != nil {
		return nil, err
	}

	s.Status = Status(status)
	s.ReviewTier = ReviewTier(tier)
	if err := json.Unmarshal(pairsJSON, &s.Pairs); err != nil {
		return nil, fmt.Errorf("unmarshal pairs: %w", err)
	}
	return &s, nil
}

func scanScoresRows(rows *sql.Rows) ([]*DraftRiskScores, error) {
	var result []*DraftRiskScores
	for rows.Next() {
		s, err := scanScores(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
