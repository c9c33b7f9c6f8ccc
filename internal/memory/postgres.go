package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists companion memory documents in PostgreSQL. Each
// relationship maps to one JSONB row; writes replace the whole document.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS companion_memory (
			user_id TEXT NOT NULL,
			companion_id TEXT NOT NULL,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, companion_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_companion_memory_updated ON companion_memory (updated_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, userID, companionID string) (*Record, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM companion_memory WHERE user_id=$1 AND companion_id=$2`,
		userID, companionID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return NewRecord(userID, companionID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load memory document: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode memory document: %w", err)
	}
	return migrate(&rec), nil
}

func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode memory document: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO companion_memory (user_id, companion_id, doc, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, companion_id) DO UPDATE SET doc=$3, updated_at=$4`,
		rec.UserID,
		rec.CompanionID,
		raw,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save memory document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
