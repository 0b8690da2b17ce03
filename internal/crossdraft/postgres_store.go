package crossdraft

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/draftguard/draftguard/internal/pairkey"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed pair analysis store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the user_pair_analyses table if it doesn't exist.
// The (overall_risk_level, last_draft_together DESC) index serves the
// admin review listing and is required at deployment.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_pair_analyses (
			pair_key                VARCHAR(130) PRIMARY KEY,
			user1                   VARCHAR(64) NOT NULL,
			user2                   VARCHAR(64) NOT NULL,
			total_drafts_together   INTEGER NOT NULL DEFAULT 0,
			drafts_co_located       INTEGER NOT NULL DEFAULT 0,
			co_location_rate        NUMERIC(5,4) NOT NULL DEFAULT 0,
			avg_score_co_located    NUMERIC(5,2) NOT NULL DEFAULT 0,
			avg_score_not_co_located NUMERIC(5,2) NOT NULL DEFAULT 0,
			risk_score_differential NUMERIC(6,2) NOT NULL DEFAULT 0,
			score_history           JSONB NOT NULL DEFAULT '[]',
			overall_risk_level      VARCHAR(20) NOT NULL DEFAULT 'low',
			first_draft_together    TIMESTAMPTZ,
			last_draft_together     TIMESTAMPTZ,
			last_analyzed_at        TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_user_pair_analyses_level
			ON user_pair_analyses (overall_risk_level, last_draft_together DESC);
	`)
	return err
}

func (p *PostgresStore) Put(ctx context.Context, analysis *UserPairAnalysis) error {
	historyJSON, err := json.Marshal(analysis.ScoreHistory)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO user_pair_analyses (
			pair_key, user1, user2,
			total_drafts_together, drafts_co_located, co_location_rate,
			avg_score_co_located, avg_score_not_co_located, risk_score_differential,
			score_history, overall_risk_level,
			first_draft_together, last_draft_together, last_analyzed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (pair_key) DO UPDATE SET
			total_drafts_together    = EXCLUDED.total_drafts_together,
			drafts_co_located        = EXCLUDED.drafts_co_located,
			co_location_rate         = EXCLUDED.co_location_rate,
			avg_score_co_located     = EXCLUDED.avg_score_co_located,
			avg_score_not_co_located = EXCLUDED.avg_score_not_co_located,
			risk_score_differential  = EXCLUDED.risk_score_differential,
			score_history            = EXCLUDED.score_history,
			overall_risk_level       = EXCLUDED.overall_risk_level,
			first_draft_together     = EXCLUDED.first_draft_together,
			last_draft_together      = EXCLUDED.last_draft_together,
			last_analyzed_at         = EXCLUDED.last_analyzed_at
	`,
		analysis.Key.String(), analysis.Key.User1, analysis.Key.User2,
		analysis.TotalDraftsTogether, analysis.DraftsCoLocated, analysis.CoLocationRate,
		analysis.AvgScoreCoLocated, analysis.AvgScoreNotCoLocated, analysis.RiskScoreDifferential,
		historyJSON, string(analysis.OverallRiskLevel),
		nullTimeOrValue(analysis.FirstDraftTogether), nullTimeOrValue(analysis.LastDraftTogether),
		analysis.LastAnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("put pair analysis: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key pairkey.PairKey) (*UserPairAnalysis, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT pair_key, user1, user2,
			total_drafts_together, drafts_co_located, co_location_rate,
			avg_score_co_located, avg_score_not_co_located, risk_score_differential,
			score_history, overall_risk_level,
			first_draft_together, last_draft_together, last_analyzed_at
		FROM user_pair_analyses WHERE pair_key = $1
	`, key.String())

	a, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, ErrAnalysisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pair analysis: %w", err)
	}
	return a, nil
}

func (p *PostgresStore) ListByMinLevel(ctx context.Context, minLevel RiskLevel, before time.Time, beforeKey string, limit int) ([]*UserPairAnalysis, error) {
	levels := levelsAtOrAbove(minLevel)

	var (
		rows *sql.Rows
		err  error
	)
	if before.IsZero() {
		rows, err = p.db.QueryContext(ctx, `
			SELECT pair_key, user1, user2,
				total_drafts_together, drafts_co_located, co_location_rate,
				avg_score_co_located, avg_score_not_co_located, risk_score_differential,
				score_history, overall_risk_level,
				first_draft_together, last_draft_together, last_analyzed_at
			FROM user_pair_analyses
			WHERE overall_risk_level = ANY($1)
			ORDER BY last_draft_together DESC, pair_key DESC
			LIMIT $2
		`, pq.Array(levels), limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT pair_key, user1, user2,
				total_drafts_together, drafts_co_located, co_location_rate,
				avg_score_co_located, avg_score_not_co_located, risk_score_differential,
				score_history, overall_risk_level,
				first_draft_together, last_draft_together, last_analyzed_at
			FROM user_pair_analyses
			WHERE overall_risk_level = ANY($1)
				AND (last_draft_together, pair_key) < ($2, $3)
			ORDER BY last_draft_together DESC, pair_key DESC
			LIMIT $4
		`, pq.Array(levels), before, beforeKey, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list by level: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*UserPairAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// levelsAtOrAbove expands a minimum level into the concrete level set
// for the indexed equality filter.
func levelsAtOrAbove(min RiskLevel) []string {
	all := []RiskLevel{LevelCritical, LevelHigh, LevelMedium, LevelLow}
	var out []string
	for _, l := range all {
		if l.AtLeast(min) {
			out = append(out, string(l))
		}
	}
	return out
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanAnalysis(row scannable) (*UserPairAnalysis, error) {
	var a UserPairAnalysis
	var rawKey, user1, user2, level string
	var historyJSON []byte
	var first, last sql.NullTime

	err := row.Scan(&rawKey, &user1, &user2,
		&a.TotalDraftsTogether, &a.DraftsCoLocated, &a.CoLocationRate,
		&a.AvgScoreCoLocated, &a.AvgScoreNotCoLocated, &a.RiskScoreDifferential,
		&historyJSON, &level,
		&first, &last, &a.LastAnalyzedAt)
	if err != nil {
		return nil, err
	}

	a.Key = pairkey.PairKey{User1: user1, User2: user2}
	a.OverallRiskLevel = RiskLevel(level)
	if first.Valid {
		a.FirstDraftTogether = first.Time
	}
	if last.Valid {
		a.LastDraftTogether = last.Time
	}
	if err := json.Unmarshal(historyJSON, &a.ScoreHistory); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return &a, nil
}

// nullTimeOrValue returns a sql.NullTime: valid if t is non-zero, null otherwise.
func nullTimeOrValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
