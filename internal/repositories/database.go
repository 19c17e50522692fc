package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/configs"
)

// Database wraps the shared pgx connection pool.
type Database struct {
	Pool *pgxpool.Pool
}

// NewDatabase opens the pool, verifies connectivity and ensures the schema
// exists. All three process types call this on startup, so schema creation
// is idempotent.
func NewDatabase(cfg configs.DatabaseConfig) (*Database, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &Database{Pool: pool}
	if err := db.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	log.Info().Msg("Database connection established")
	return db, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS transaction_records (
		id BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		username TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		instrument TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ,
		ingested_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transaction_records_kind_recorded
		ON transaction_records (kind, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS member_records (
		username TEXT PRIMARY KEY,
		network_origin TEXT NOT NULL DEFAULT '',
		vip_tier TEXT NOT NULL DEFAULT '',
		account_status TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk_assessments (
		scan_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		username TEXT NOT NULL,
		score INTEGER NOT NULL,
		level TEXT NOT NULL,
		reasons TEXT[] NOT NULL DEFAULT '{}',
		deposit_total DOUBLE PRECISION NOT NULL,
		withdrawal_total DOUBLE PRECISION NOT NULL,
		net DOUBLE PRECISION NOT NULL,
		deposit_count INTEGER NOT NULL,
		withdrawal_count INTEGER NOT NULL,
		unique_instruments INTEGER NOT NULL,
		shared_instrument_users INTEGER NOT NULL,
		shared_origin_users INTEGER NOT NULL,
		fast_withdrawal BOOLEAN NOT NULL,
		account_status TEXT NOT NULL DEFAULT '',
		vip_tier TEXT NOT NULL DEFAULT '',
		first_deposit_at TEXT,
		first_withdrawal_at TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (rank)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_assessments_score
		ON risk_assessments (score)`,
}

func (db *Database) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts down the pool.
func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Info().Msg("Database connection closed")
	}
}

// WithTransaction runs fn inside a transaction, rolling back on error or
// panic.
func (db *Database) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}

// HealthCheck pings the database.
func (db *Database) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
