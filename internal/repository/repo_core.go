// Package repository is the Postgres-backed persistence layer for Jobs
// and Snapshots: pgx pool construction (env-tunable MaxConns/MinConns,
// MaxConnLifetime / MaxConnIdleTime recycling, statement_timeout and
// idle_in_transaction_session_timeout runtime params) plus a
// schema-ensure step run once at startup.
package repository

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository wraps a pgx connection pool and owns both the Job Store and
// the Snapshot Store, one pool shared across both concerns.
type Repository struct {
	db *pgxpool.Pool
}

// New opens a pool against dbURL, applies conservative connection
// hygiene (bounded lifetime/idle time, statement timeouts), and ensures
// the jobs/snapshots schema exists.
func New(ctx context.Context, dbURL string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db url: %w", err)
	}

	if maxConnStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			config.MaxConns = int32(maxConn)
		}
	}
	if minConnStr := os.Getenv("DB_MAX_IDLE_CONNS"); minConnStr != "" {
		if minConn, err := strconv.Atoi(minConnStr); err == nil {
			config.MinConns = int32(minConn)
		}
	}

	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	if config.ConnConfig.RuntimeParams == nil {
		config.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := config.ConnConfig.RuntimeParams["statement_timeout"]; !ok {
		config.ConnConfig.RuntimeParams["statement_timeout"] = getEnvDefault("DB_STATEMENT_TIMEOUT", "300000")
	}
	if _, ok := config.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"]; !ok {
		config.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = getEnvDefault("DB_IDLE_TX_TIMEOUT", "120000")
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	repo := &Repository{db: pool}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Close releases all pooled connections.
func (r *Repository) Close() {
	r.db.Close()
}

func (r *Repository) ensureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS jobs (
			id                TEXT PRIMARY KEY,
			action            TEXT NOT NULL,
			payload           JSONB NOT NULL DEFAULT '{}',
			network           TEXT NOT NULL,
			type              TEXT NOT NULL,
			scheduled_at      TIMESTAMPTZ,
			interval_minutes  INTEGER NOT NULL DEFAULT 0,
			status            TEXT NOT NULL,
			last_run_at       TIMESTAMPTZ,
			next_run_at       TIMESTAMPTZ,
			error_details     JSONB,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_status_type ON jobs (type, status);
		CREATE INDEX IF NOT EXISTS idx_jobs_last_run_at ON jobs (last_run_at);

		CREATE TABLE IF NOT EXISTS job_logs (
			id        BIGSERIAL PRIMARY KEY,
			job_id    TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
			source    TEXT NOT NULL, -- 'worker' or 'analyzer'
			timestamp TIMESTAMPTZ NOT NULL,
			level     TEXT NOT NULL,
			message   TEXT NOT NULL,
			function  TEXT,
			duration_ms BIGINT,
			details   JSONB
		);

		CREATE INDEX IF NOT EXISTS idx_job_logs_job_id ON job_logs (job_id, id);
		CREATE INDEX IF NOT EXISTS idx_job_logs_source ON job_logs (job_id, source, id);

		CREATE TABLE IF NOT EXISTS snapshots (
			id                 BIGSERIAL PRIMARY KEY,
			kind               TEXT NOT NULL,
			entity_address     TEXT NOT NULL,
			network            TEXT NOT NULL,
			timestamp          TIMESTAMPTZ NOT NULL,
			alerts             JSONB NOT NULL DEFAULT '[]',
			risk_score         INTEGER NOT NULL,
			analysis_metadata  JSONB NOT NULL DEFAULT '{}',
			metrics            JSONB NOT NULL DEFAULT '{}',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_latest
			ON snapshots (kind, entity_address, network, timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_snapshots_kind_network
			ON snapshots (kind, network);
	`
	_, err := r.db.Exec(ctx, ddl)
	return err
}
