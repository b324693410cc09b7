// Package store persists parsed conversations and their classifications in
// Postgres.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the verdict tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id          UUID PRIMARY KEY,
		source_ref  TEXT NOT NULL,
		conv_index  INTEGER NOT NULL,
		start_line  INTEGER NOT NULL,
		turn_count  INTEGER NOT NULL,
		heads       TEXT[] NOT NULL,
		transcript  TEXT NOT NULL,
		gold_label  SMALLINT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (source_ref, conv_index)
	)`,
	`CREATE TABLE IF NOT EXISTS classifications (
		id              UUID PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		run_id          UUID NOT NULL,
		pooler          TEXT NOT NULL,
		encoder         TEXT NOT NULL,
		logit_negative  DOUBLE PRECISION NOT NULL,
		logit_positive  DOUBLE PRECISION NOT NULL,
		prob_positive   DOUBLE PRECISION NOT NULL,
		predicted       SMALLINT NOT NULL,
		loss            DOUBLE PRECISION,
		summary         vector,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS classifications_conversation_idx ON classifications (conversation_id)`,
}

// pgVector formats a float64 slice as a pgvector-compatible string literal, e.g. "[0.1,0.2,0.3]".
// This is suitable for passing to a parameterized query targeting a vector column.
func pgVector(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
