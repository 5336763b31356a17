package db

import (
	"context"
	"strings"

	"github.com/susu3304/qarzbot/internal/contacts"
	"github.com/susu3304/qarzbot/internal/users"
)

func (db *DB) GetOrCreateCircle(ctx context.Context, ownerID int64, name string) (contacts.Circle, error) {
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO circles (owner_id, name) VALUES ($1, $2)
         ON CONFLICT (owner_id, lower(name)) DO NOTHING`,
		ownerID, name,
	); err != nil {
		return contacts.Circle{}, err
	}
	var c contacts.Circle
	err := db.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, created_at FROM circles WHERE owner_id = $1 AND lower(name) = lower($2)`,
		ownerID, name,
	).Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt)
	return c, err
}

func (db *DB) ListCircles(ctx context.Context, ownerID int64) ([]contacts.Circle, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, owner_id, name, created_at FROM circles WHERE owner_id = $1 ORDER BY id`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contacts.Circle
	for rows.Next() {
		var c contacts.Circle
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) AddMember(ctx context.Context, m contacts.Member) (int64, error) {
	if strings.TrimSpace(m.Name) == "" {
		return 0, contacts.ErrEmptyName
	}
	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO circle_members (circle_id, name, user_id, handle)
         VALUES ($1, $2, $3, $4)
         RETURNING id`,
		m.CircleID, m.Name, m.UserID, users.NormalizeHandle(m.Handle),
	).Scan(&id)
	return id, err
}

func (db *DB) ListMembers(ctx context.Context, circleID int64) ([]contacts.Member, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, circle_id, name, user_id, handle FROM circle_members WHERE circle_id = $1 ORDER BY id`,
		circleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contacts.Member
	for rows.Next() {
		var m contacts.Member
		if err := rows.Scan(&m.ID, &m.CircleID, &m.Name, &m.UserID, &m.Handle); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (db *DB) SearchMembers(ctx context.Context, ownerID int64, query string) ([]contacts.Match, error) {
	q := strings.TrimPrefix(strings.TrimSpace(query), "@")
	if q == "" {
		return nil, nil
	}
	likePattern := "%" + likeEscaper.Replace(q) + "%"
	rows, err := db.pool.Query(ctx,
		`SELECT m.id, m.circle_id, m.name, m.user_id, m.handle, c.name, COALESCE(u.handle, '')
         FROM circle_members m
         JOIN circles c ON c.id = m.circle_id
         LEFT JOIN users u ON u.id = m.user_id
         WHERE c.owner_id = $1
           AND (m.name ILIKE $2 OR (m.handle <> '' AND m.handle ILIKE $2) OR u.handle ILIKE $2)
         ORDER BY m.id`,
		ownerID, likePattern,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contacts.Match
	for rows.Next() {
		var mt contacts.Match
		m := &mt.Member
		if err := rows.Scan(&m.ID, &m.CircleID, &m.Name, &m.UserID, &m.Handle, &mt.CircleName, &mt.LinkedHandle); err != nil {
			return nil, err
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}

func (db *DB) LinkMemberHandle(ctx context.Context, handle string, userID int64) (int, error) {
	h := users.NormalizeHandle(handle)
	if h == "" {
		return 0, nil
	}
	ct, err := db.pool.Exec(ctx,
		`UPDATE circle_members SET user_id = $2, handle = '' WHERE handle = $1 AND user_id IS NULL`,
		h, userID,
	)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}
