package escalation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresOutcomeStore persists terminal escalation outcomes in PostgreSQL.
type PostgresOutcomeStore struct {
	db *sql.DB
}

// NewPostgresOutcomeStore creates a PostgreSQL-backed outcome store.
func NewPostgresOutcomeStore(db *sql.DB) *PostgresOutcomeStore {
	return &PostgresOutcomeStore{db: db}
}

// Compile-time check.
var _ OutcomeStore = (*PostgresOutcomeStore)(nil)

// Migrate creates the escalation_outcomes table if it doesn't exist.
func (s *PostgresOutcomeStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS escalation_outcomes (
			session_id   VARCHAR(36) PRIMARY KEY,
			username     VARCHAR(255) NOT NULL,
			feature      VARCHAR(255) NOT NULL,
			authorized   BOOLEAN NOT NULL,
			outcome      VARCHAR(10) NOT NULL CHECK (outcome IN ('proceeded', 'denied', 'exhausted')),
			risk_score   NUMERIC(4,3) NOT NULL CHECK (risk_score >= 0 AND risk_score <= 1),
			rounds_used  INT NOT NULL,
			observations JSONB NOT NULL DEFAULT '[]',
			recorded_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_escalation_outcomes_username
			ON escalation_outcomes (username, recorded_at DESC);
	`)
	return err
}

func (s *PostgresOutcomeStore) Record(ctx context.Context, res *Result) error {
	obs := res.Observations
	if obs == nil {
		obs = []Observation{}
	}
	obsJSON, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("marshal observations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO escalation_outcomes (session_id, username, feature, authorized, outcome, risk_score, rounds_used, observations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		res.SessionID,
		res.Username,
		res.Feature,
		res.Authorized,
		string(res.Outcome),
		res.RiskScore,
		res.RoundsUsed,
		obsJSON,
	)
	if err != nil {
		return fmt.Errorf("record escalation outcome: %w", err)
	}
	return nil
}

func (s *PostgresOutcomeStore) ListByUser(ctx context.Context, username string, limit int) ([]*Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, username, feature, authorized, outcome, risk_score, rounds_used, observations
		FROM escalation_outcomes
		WHERE username = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("list escalation outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Result
	for rows.Next() {
		var r Result
		var outcome string
		var obsJSON []byte
		if err := rows.Scan(&r.SessionID, &r.Username, &r.Feature, &r.Authorized, &outcome, &r.RiskScore, &r.RoundsUsed, &obsJSON); err != nil {
			continue
		}
		r.Outcome = Outcome(outcome)
		if len(obsJSON) > 0 {
			_ = json.Unmarshal(obsJSON, &r.Observations)
		}
		result = append(result, &r)
	}
	return result, nil
}
