package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists baselines in PostgreSQL.
//
// UpsertAtomic runs the read-modify-write inside a transaction with
// SELECT ... FOR UPDATE, so concurrent commits for the same username
// serialize on the row lock. Serialization failures surface as
// ErrContention so callers can retry with backoff.
type PostgresStore struct {
	db *sql.DB
}

// ErrContention indicates a concurrent modification aborted the upsert.
var ErrContention = errors.New("history: baseline upsert contention")

// NewPostgresStore creates a PostgreSQL-backed baseline store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time check.
var _ Store = (*PostgresStore)(nil)

// Migrate creates the user_baselines table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_baselines (
			username    VARCHAR(255) PRIMARY KEY,
			ips         JSONB NOT NULL DEFAULT '[]',
			devices     JSONB NOT NULL DEFAULT '[]',
			methods     JSONB NOT NULL DEFAULT '[]',
			last_login  TIMESTAMPTZ,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, username string) (*Baseline, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT username, ips, devices, methods, last_login, created_at, updated_at
		FROM user_baselines
		WHERE username = $1
	`, username)

	b, err := scanBaseline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get baseline: %w", err)
	}
	return b, true, nil
}

func (s *PostgresStore) UpsertAtomic(ctx context.Context, username string, mutate func(*Baseline)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Insert-if-absent first so the FOR UPDATE below always finds a row to
	// lock. ON CONFLICT DO NOTHING keeps first-login races harmless.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_baselines (username) VALUES ($1)
		ON CONFLICT (username) DO NOTHING
	`, username); err != nil {
		return classifyPGError(err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT username, ips, devices, methods, last_login, created_at, updated_at
		FROM user_baselines
		WHERE username = $1
		FOR UPDATE
	`, username)

	b, err := scanBaseline(row)
	if err != nil {
		return classifyPGError(err)
	}

	mutate(b)
	b.UpdatedAt = nowUTC()

	ipsJSON, devJSON, methJSON, err := marshalSets(b)
	if err != nil {
		return err
	}

	var lastLogin any
	if !b.LastLogin.IsZero() {
		lastLogin = b.LastLogin
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_baselines
		SET ips = $2, devices = $3, methods = $4, last_login = $5, updated_at = $6
		WHERE username = $1
	`, username, ipsJSON, devJSON, methJSON, lastLogin, b.UpdatedAt); err != nil {
		return classifyPGError(err)
	}

	if err := tx.Commit(); err != nil {
		return classifyPGError(err)
	}
	return nil
}

// scanBaseline reads one user_baselines row.
func scanBaseline(row *sql.Row) (*Baseline, error) {
	var b Baseline
	var ipsJSON, devJSON, methJSON []byte
	var lastLogin sql.NullTime
	if err := row.Scan(&b.Username, &ipsJSON, &devJSON, &methJSON, &lastLogin, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}

	b.IPs = NewRecencySet(DefaultWindowSize)
	b.Devices = NewRecencySet(DefaultWindowSize)
	b.Methods = NewRecencySet(DefaultWindowSize)
	if err := json.Unmarshal(ipsJSON, b.IPs); err != nil {
		return nil, fmt.Errorf("decode ips: %w", err)
	}
	if err := json.Unmarshal(devJSON, b.Devices); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	if err := json.Unmarshal(methJSON, b.Methods); err != nil {
		return nil, fmt.Errorf("decode methods: %w", err)
	}
	if lastLogin.Valid {
		b.LastLogin = lastLogin.Time
	}
	return &b, nil
}

func marshalSets(b *Baseline) (ips, devices, methods []byte, err error) {
	if ips, err = json.Marshal(b.IPs); err != nil {
		return nil, nil, nil, fmt.Errorf("encode ips: %w", err)
	}
	if devices, err = json.Marshal(b.Devices); err != nil {
		return nil, nil, nil, fmt.Errorf("encode devices: %w", err)
	}
	if methods, err = json.Marshal(b.Methods); err != nil {
		return nil, nil, nil, fmt.Errorf("encode methods: %w", err)
	}
	return ips, devices, methods, nil
}

// classifyPGError maps serialization/deadlock failures to ErrContention so
// the engine retries them; everything else passes through wrapped.
func classifyPGError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %v", ErrContention, err)
		}
	}
	return fmt.Errorf("upsert baseline: %w", err)
}
