package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations creates the profiles and subscriptions tables. The
// subscriptions table is owned by the payment webhook; it is created here so
// fresh environments can serve reads before the first payment arrives.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS profiles (
			id                 TEXT PRIMARY KEY,
			phone              TEXT,
			trial_started_at   TIMESTAMPTZ,
			trial_seconds_used INTEGER NOT NULL DEFAULT 0 CHECK (trial_seconds_used >= 0),
			trial_used_at      TIMESTAMPTZ,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT profiles_used_requires_start CHECK (trial_used_at IS NULL OR trial_started_at IS NOT NULL)
		);
		CREATE INDEX IF NOT EXISTS idx_profiles_phone_used
			ON profiles(phone) WHERE trial_used_at IS NOT NULL;

		CREATE TABLE IF NOT EXISTS subscriptions (
			user_id     TEXT PRIMARY KEY,
			plan_id     TEXT NOT NULL,
			status      TEXT NOT NULL,
			valid_until TIMESTAMPTZ NOT NULL,
			payment_id  TEXT,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
