package db

import (
	"context"
	"fmt"

	"github.com/susu3304/qarzbot/internal/users"
)

// UpsertUser stores u and moves its handle away from any other user that
// held it before.
func (db *DB) UpsertUser(ctx context.Context, u users.User) error {
	err := db.upsertUser(ctx, u)
	if isUniqueViolation(err) {
		// another account claimed the handle between our two statements
		err = db.upsertUser(ctx, u)
	}
	return err
}

func (db *DB) upsertUser(ctx context.Context, u users.User) error {
	handle := users.NormalizeHandle(u.Handle)

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if handle != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET handle = NULL WHERE handle = $1 AND id <> $2`,
			handle, u.ID,
		); err != nil {
			return fmt.Errorf("release handle: %w", err)
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO users (id, handle, display_name)
         VALUES ($1, NULLIF($2, ''), $3)
         ON CONFLICT (id) DO UPDATE SET handle = EXCLUDED.handle, display_name = EXCLUDED.display_name`,
		u.ID, handle, u.DisplayName,
	); err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return tx.Commit(ctx)
}

func (db *DB) GetUser(ctx context.Context, id int64) (*users.User, error) {
	return db.scanUser(ctx, `SELECT id, COALESCE(handle, ''), display_name, created_at FROM users WHERE id = $1`, id)
}

func (db *DB) FindUserByHandle(ctx context.Context, handle string) (*users.User, error) {
	h := users.NormalizeHandle(handle)
	if h == "" {
		return nil, users.ErrNotFound
	}
	return db.scanUser(ctx, `SELECT id, COALESCE(handle, ''), display_name, created_at FROM users WHERE handle = $1`, h)
}

func (db *DB) scanUser(ctx context.Context, query string, arg any) (*users.User, error) {
	var u users.User
	err := db.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Handle, &u.DisplayName, &u.CreatedAt)
	if isNoRows(err) {
		return nil, users.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
