// Package postgres provides the Postgres-backed run ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/wikindex/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool used for ledger rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository on Postgres. The table is expected
// to look like:
//
//	CREATE TABLE index_runs (
//	  id            UUID PRIMARY KEY,
//	  seed          TEXT NOT NULL,
//	  started_at    TIMESTAMPTZ NOT NULL,
//	  finished_at   TIMESTAMPTZ,
//	  status        TEXT NOT NULL,
//	  visited       INTEGER NOT NULL DEFAULT 0,
//	  terms         INTEGER NOT NULL DEFAULT 0,
//	  failures      INTEGER NOT NULL DEFAULT 0,
//	  postings_uri  TEXT,
//	  error_message TEXT
//	);
type RunStore struct {
	pool  pool
	table string
}

// New connects a pool described by cfg.
func New(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "index_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: p, table: table}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// StartRun implements store.RunRecorder.
func (s *RunStore) StartRun(ctx context.Context, id uuid.UUID, seed string, startedAt time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, seed, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, seed, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("insert run start: %w", err)
	}
	return nil
}

// CompleteRun implements store.RunRecorder.
func (s *RunStore) CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, sum store.RunSummary) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, visited = $3, terms = $4, failures = $5, postings_uri = $6
		WHERE id = $7;`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		finishedAt, string(store.RunSuccess), sum.Visited, sum.Terms, sum.Failures, sum.PostingsURI, id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// FailRun implements store.RunRecorder.
func (s *RunStore) FailRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, errMsg string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;`, s.table)
	tag, err := s.pool.Exec(ctx, query, finishedAt, string(store.RunError), errMsg, id)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail run %s: %w", id, store.ErrNotFound)
	}
	return nil
}

const runColumns = `id, seed, started_at, finished_at, status, visited, terms, failures,
		COALESCE(postings_uri, ''), error_message`

// GetRun implements store.RunReader.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1;`, runColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns implements store.RunReader.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC, id DESC
		LIMIT $2 OFFSET $3;`, runColumns, s.table)
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.Seed,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Visited,
		&run.Terms,
		&run.Failures,
		&run.PostingsURI,
		&run.ErrorMessage,
	)
	run.Status = store.RunStatus(status)
	return run, err
}

var _ store.RunRepository = (*RunStore)(nil)
