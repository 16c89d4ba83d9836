// Package postgres provides Postgres-backed persistence for crawl results,
// job metadata and per-batch metrics snapshots.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-crawler/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const uniqueViolation = "23505"

var (
	_ store.ResultBackend      = (*Store)(nil)
	_ store.JobRepository      = (*Store)(nil)
	_ store.MetricsRepository  = (*Store)(nil)
	_ store.FrontierRepository = (*Store)(nil)
)

// Tables names the relations used by Store. Empty fields take the defaults.
type Tables struct {
	Results  string
	Jobs     string
	Metrics  string
	Frontier string
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Tables          Tables
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxIface is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pgxIface interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements the result, job, metrics and frontier repositories on one pool.
type Store struct {
	pool     pgxIface
	results  string
	jobs     string
	metrics  string
	frontier string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	tables, err := resolveTables(cfg.Tables)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newStore(pool, tables), nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface, tables Tables) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	resolved, err := resolveTables(tables)
	if err != nil {
		return nil, err
	}
	return newStore(pool, resolved), nil
}

func newStore(pool pgxIface, t Tables) *Store {
	return &Store{pool: pool, results: t.Results, jobs: t.Jobs, metrics: t.Metrics, frontier: t.Frontier}
}

func resolveTables(t Tables) (Tables, error) {
	if t.Results == "" {
		t.Results = "crawl_results"
	}
	if t.Jobs == "" {
		t.Jobs = "crawl_jobs"
	}
	if t.Metrics == "" {
		t.Metrics = "crawl_job_metrics"
	}
	if t.Frontier == "" {
		t.Frontier = "crawl_frontier"
	}
	for _, name := range []string{t.Results, t.Jobs, t.Metrics, t.Frontier} {
		if !validTableName.MatchString(name) {
			return Tables{}, fmt.Errorf("invalid table name %q", name)
		}
	}
	return t, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	content_ref TEXT,
	error_message TEXT,
	fetched_at TIMESTAMPTZ NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	status_code INTEGER NOT NULL DEFAULT 0,
	elapsed_ms BIGINT NOT NULL DEFAULT 0,
	parent_url TEXT,
	depth INTEGER NOT NULL DEFAULT 0
)`, s.results),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_job_id_idx ON %[1]s (job_id)`, s.results),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	job_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	seed_url TEXT NOT NULL,
	settings JSONB NOT NULL,
	progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	processed INTEGER NOT NULL DEFAULT 0,
	total INTEGER NOT NULL DEFAULT 0,
	current_batch INTEGER NOT NULL DEFAULT 0,
	total_batches INTEGER NOT NULL DEFAULT 0,
	pause_cycles INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
)`, s.jobs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	job_id TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	metrics JSONB NOT NULL,
	PRIMARY KEY (job_id, ts)
)`, s.metrics),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	job_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	url TEXT NOT NULL,
	depth INTEGER NOT NULL DEFAULT 0,
	origin_domain TEXT NOT NULL,
	parent_url TEXT,
	PRIMARY KEY (job_id, url)
)`, s.frontier),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func rollback(ctx context.Context, tx pgx.Tx) {
	// Rollback after Commit returns pgx.ErrTxClosed, which is expected.
	_ = tx.Rollback(ctx)
}
