package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrSignalNotFound is returned when no audited signal matches a label request
var ErrSignalNotFound = errors.New("signal not found")

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DSN builds the libpq connection string
func (cfg Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.With().Str("component", "Ledger").Logger()
	logger.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")
	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// migrations are idempotent DDL statements applied in order
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS lots (
		id UUID PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		qty DECIMAL(28, 12) NOT NULL CHECK (qty > 0),
		price DECIMAL(28, 12) NOT NULL CHECK (price > 0),
		acquired_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lots_symbol_acquired ON lots(symbol, acquired_at)`,

	`CREATE TABLE IF NOT EXISTS ghost_records (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		side VARCHAR(4) NOT NULL,
		price DECIMAL(28, 12) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ghost_records_symbol ON ghost_records(symbol)`,

	`CREATE TABLE IF NOT EXISTS pending_orders (
		symbol VARCHAR(20) PRIMARY KEY,
		entry DECIMAL(28, 12) NOT NULL,
		stop_loss DECIMAL(28, 12) NOT NULL,
		take_profit DECIMAL(28, 12) NOT NULL,
		executed BOOLEAN NOT NULL DEFAULT FALSE,
		executed_qty DECIMAL(28, 12),
		entry_fill_price DECIMAL(28, 12),
		signal_time TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (executed = (executed_qty IS NOT NULL AND entry_fill_price IS NOT NULL))
	)`,

	`CREATE TABLE IF NOT EXISTS signal_log (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		direction VARCHAR(8) NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		context JSONB NOT NULL,
		profit DECIMAL(28, 12),
		labeled_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signal_log_symbol_time ON signal_log(symbol, received_at)`,

	`CREATE TABLE IF NOT EXISTS order_log (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		signal_time TIMESTAMPTZ NOT NULL,
		buy_price DECIMAL(28, 12) NOT NULL,
		qty DECIMAL(28, 12) NOT NULL,
		sell_time TIMESTAMPTZ NOT NULL,
		sell_price DECIMAL(28, 12) NOT NULL,
		profit DECIMAL(28, 12) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_log_symbol ON order_log(symbol)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Int("count", len(migrations)).Msg("Running database migrations")
	for i, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	db.logger.Info().Msg("Database migrations completed successfully")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
