package decision

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresAuditStore persists decision records in PostgreSQL.
type PostgresAuditStore struct {
	db *sql.DB
}

// NewPostgresAuditStore creates a PostgreSQL-backed audit store.
func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// Compile-time check.
var _ AuditStore = (*PostgresAuditStore)(nil)

// Migrate creates the login_decisions table if it doesn't exist.
func (s *PostgresAuditStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS login_decisions (
			id          VARCHAR(36) PRIMARY KEY,
			username    VARCHAR(255) NOT NULL,
			ip_address  VARCHAR(45) NOT NULL,
			device_id   VARCHAR(255) NOT NULL,
			method      VARCHAR(10) NOT NULL,
			action      VARCHAR(10) NOT NULL CHECK (action IN ('allow', 'mfa', 'block')),
			score       INT NOT NULL CHECK (score >= 0 AND score <= 100),
			reason      TEXT NOT NULL DEFAULT '',
			decided_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_login_decisions_username
			ON login_decisions (username, decided_at DESC);

		CREATE INDEX IF NOT EXISTS idx_login_decisions_blocks
			ON login_decisions (decided_at DESC) WHERE action = 'block';
	`)
	return err
}

func (s *PostgresAuditStore) Record(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_decisions (id, username, ip_address, device_id, method, action, score, reason, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.ID,
		rec.Username,
		rec.IPAddress,
		rec.DeviceID,
		rec.Method,
		string(rec.Action),
		rec.Score,
		rec.Reason,
		rec.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (s *PostgresAuditStore) ListByUser(ctx context.Context, username string, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, ip_address, device_id, method, action, score, reason, decided_at
		FROM login_decisions
		WHERE username = $1
		ORDER BY decided_at DESC
		LIMIT $2
	`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		var r Record
		var action string
		if err := rows.Scan(&r.ID, &r.Username, &r.IPAddress, &r.DeviceID, &r.Method, &action, &r.Score, &r.Reason, &r.DecidedAt); err != nil {
			continue
		}
		r.Action = Action(action)
		result = append(result, &r)
	}
	return result, nil
}
