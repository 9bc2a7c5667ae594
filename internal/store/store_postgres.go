package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists state in a single upsert table, one row per record
// name. Suited to backends that attach workflow state to a player account.
// This store is pure I/O; all workflow logic lives in the services.
type PostgresStore struct {
	db     *sql.DB
	player string
}

// Schema creates the backing table. Callers run it once at deploy time; the
// store never issues DDL on its own.
const Schema = `
CREATE TABLE IF NOT EXISTS playgate_state (
	player_id  TEXT NOT NULL,
	record     TEXT NOT NULL,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (player_id, record)
)`

const (
	recordSession   = "session"
	recordChallenge = "challenge_id"
)

// NewPostgres constructs a PostgreSQL-backed store scoped to one player id.
func NewPostgres(db *sql.DB, playerID string) (*PostgresStore, error) {
	if playerID == "" {
		return nil, fmt.Errorf("player id is required")
	}
	return &PostgresStore{db: db, player: playerID}, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, blob []byte) error {
	return s.save(ctx, recordSession, blob)
}

func (s *PostgresStore) LoadSession(ctx context.Context) ([]byte, error) {
	return s.load(ctx, recordSession)
}

func (s *PostgresStore) DeleteSession(ctx context.Context) error {
	return s.delete(ctx, recordSession)
}

func (s *PostgresStore) SaveChallengeID(ctx context.Context, id string) error {
	return s.save(ctx, recordChallenge, []byte(id))
}

func (s *PostgresStore) LoadChallengeID(ctx context.Context) (string, error) {
	data, err := s.load(ctx, recordChallenge)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *PostgresStore) DeleteChallengeID(ctx context.Context) error {
	return s.delete(ctx, recordChallenge)
}

func (s *PostgresStore) save(ctx context.Context, record string, value []byte) error {
	query := `
		INSERT INTO playgate_state (player_id, record, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (player_id, record) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, s.player, record, value); err != nil {
		return fmt.Errorf("save %s: %w", record, err)
	}
	return nil
}

func (s *PostgresStore) load(ctx context.Context, record string) ([]byte, error) {
	var value []byte
	query := `SELECT value FROM playgate_state WHERE player_id = $1 AND record = $2`
	err := s.db.QueryRowContext(ctx, query, s.player, record).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", record, err)
	}
	return value, nil
}

func (s *PostgresStore) delete(ctx context.Context, record string) error {
	query := `DELETE FROM playgate_state WHERE player_id = $1 AND record = $2`
	if _, err := s.db.ExecContext(ctx, query, s.player, record); err != nil {
		return fmt.Errorf("delete %s: %w", record, err)
	}
	return nil
}
