package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool used for the audit trail.
type DB struct {
	Pool *pgxpool.Pool
}

// PostgresConfig holds audit database configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates the audit database connection pool.
func NewDB(cfg PostgresConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL audit database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Audit database connection closed")
	}
}

// RunMigrations creates the audit schema if it does not exist.
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running audit database migrations...")

	migrations := []string{
		// Exit attempts: one row per submission, written before the bundle
		// goes out so attempt numbering survives restarts.
		`CREATE TABLE IF NOT EXISTS exit_attempts (
			id UUID PRIMARY KEY,
			position_mint VARCHAR(64) NOT NULL,
			attempt_number INTEGER NOT NULL,
			reason VARCHAR(40) NOT NULL,
			tip_lamports BIGINT NOT NULL,
			endpoint VARCHAR(100),
			bundle_id VARCHAR(128),
			result VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			error TEXT,
			submitted_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ,
			UNIQUE (position_mint, attempt_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exit_attempts_mint ON exit_attempts(position_mint)`,
		`CREATE INDEX IF NOT EXISTS idx_exit_attempts_submitted ON exit_attempts(submitted_at)`,

		// Terminal outcomes of managed positions.
		`CREATE TABLE IF NOT EXISTS position_outcomes (
			position_mint VARCHAR(64) PRIMARY KEY,
			wallet_address VARCHAR(64) NOT NULL,
			strategy_tag VARCHAR(60),
			status VARCHAR(20) NOT NULL,
			close_reason VARCHAR(60) NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION,
			position_size_sol DOUBLE PRECISION NOT NULL,
			pnl_sol DOUBLE PRECISION,
			pnl_percent DOUBLE PRECISION,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_position_outcomes_closed ON position_outcomes(closed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_position_outcomes_strategy ON position_outcomes(strategy_tag)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Audit database migrations completed successfully")
	return nil
}
