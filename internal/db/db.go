// Package db is the PostgreSQL implementation of the user, contact,
// ledger and session stores.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// RunMigrations creates the schema if it does not exist yet.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			handle TEXT UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS circles (
			id BIGSERIAL PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_circles_owner_name ON circles(owner_id, lower(name));

		CREATE TABLE IF NOT EXISTS circle_members (
			id BIGSERIAL PRIMARY KEY,
			circle_id BIGINT NOT NULL REFERENCES circles(id) ON DELETE CASCADE,
			name TEXT NOT NULL CHECK (name <> ''),
			user_id BIGINT,
			handle TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_circle_members_circle ON circle_members(circle_id);
		CREATE INDEX IF NOT EXISTS idx_circle_members_handle ON circle_members(handle) WHERE handle <> '';

		CREATE TABLE IF NOT EXISTS debts (
			id BIGSERIAL PRIMARY KEY,
			creator_id BIGINT NOT NULL,
			creditor_user_id BIGINT,
			creditor_handle TEXT NOT NULL DEFAULT '',
			creditor_name TEXT NOT NULL DEFAULT '',
			debtor_user_id BIGINT,
			debtor_handle TEXT NOT NULL DEFAULT '',
			debtor_name TEXT NOT NULL DEFAULT '',
			amount NUMERIC(18,2) NOT NULL CHECK (amount > 0),
			currency TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			confirmed_by_creditor BOOLEAN NOT NULL DEFAULT FALSE,
			confirmed_by_debtor BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_debts_creditor ON debts(creditor_user_id);
		CREATE INDEX IF NOT EXISTS idx_debts_debtor ON debts(debtor_user_id);
		CREATE INDEX IF NOT EXISTS idx_debts_creator ON debts(creator_id);

		CREATE TABLE IF NOT EXISTS payments (
			id BIGSERIAL PRIMARY KEY,
			debt_id BIGINT NOT NULL REFERENCES debts(id) ON DELETE CASCADE,
			payer_id BIGINT NOT NULL,
			amount NUMERIC(18,2) NOT NULL CHECK (amount > 0),
			confirmed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_payments_debt ON payments(debt_id);

		CREATE TABLE IF NOT EXISTS notifications (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			debt_id BIGINT NOT NULL DEFAULT 0,
			message TEXT NOT NULL,
			type TEXT NOT NULL,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, read);

		CREATE TABLE IF NOT EXISTS dialogue_sessions (
			user_id BIGINT PRIMARY KEY,
			state TEXT NOT NULL,
			draft JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_dialogue_sessions_updated ON dialogue_sessions(updated_at);
	`)
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
