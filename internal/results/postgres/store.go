// Package postgres provides a PostgreSQL-backed [results.Store].
//
// Results live in a single exam_results table, created by [Migrate] on
// start-up.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Save(ctx, res)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/vivavoce/internal/evaluation"
	"github.com/MrWong99/vivavoce/internal/results"
)

var _ results.Store = (*Store)(nil)

const ddlExamResults = `
CREATE TABLE IF NOT EXISTS exam_results (
    id            BIGSERIAL    PRIMARY KEY,
    student_name  TEXT         NOT NULL,
    subject       TEXT         NOT NULL DEFAULT '',
    topic         TEXT         NOT NULL DEFAULT '',
    score         INTEGER      NOT NULL DEFAULT 0,
    cheated       BOOLEAN      NOT NULL DEFAULT FALSE,
    entry_time    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exam_results_student
    ON exam_results (lower(student_name));

CREATE INDEX IF NOT EXISTS idx_exam_results_entry_time
    ON exam_results (entry_time);
`

// Migrate creates the exam_results table if it does not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlExamResults); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store is a [results.Store] backed by a [pgxpool.Pool]. All operations are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("results store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("results store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("results store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("results store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save implements [results.Store]. A zero EntryTime is stored as now().
func (s *Store) Save(ctx context.Context, res evaluation.Result) error {
	const q = `
		INSERT INTO exam_results (student_name, subject, topic, score, cheated, entry_time)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))`

	var entry *time.Time
	if !res.EntryTime.IsZero() {
		entry = &res.EntryTime
	}
	if _, err := s.pool.Exec(ctx, q, res.StudentName, res.Subject, res.Topic, res.Score, res.Cheated, entry); err != nil {
		return fmt.Errorf("results store: save: %w", err)
	}
	return nil
}

// List implements [results.Store].
func (s *Store) List(ctx context.Context, opts results.ListOptions) ([]results.Record, error) {
	q := `
		SELECT id, student_name, subject, topic, score, cheated, entry_time
		FROM   exam_results
		WHERE  ($1::text = '' OR lower(student_name) = lower($1::text))
		ORDER  BY entry_time DESC, id DESC`
	args := []any{opts.StudentName}
	if opts.Limit > 0 {
		q += "\nLIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("results store: list: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (results.Record, error) {
		var r results.Record
		err := row.Scan(&r.ID, &r.StudentName, &r.Subject, &r.Topic, &r.Score, &r.Cheated, &r.EntryTime)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("results store: list: %w", err)
	}
	return recs, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
