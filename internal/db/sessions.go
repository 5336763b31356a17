package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/susu3304/qarzbot/internal/dialogue"
)

// GetSession returns nil, nil when the user has no open session.
func (db *DB) GetSession(ctx context.Context, userID int64) (*dialogue.Session, error) {
	var (
		s     dialogue.Session
		state string
		draft []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT user_id, state, draft, updated_at FROM dialogue_sessions WHERE user_id = $1`, userID,
	).Scan(&s.UserID, &state, &draft, &s.UpdatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.State = dialogue.State(state)
	if err := json.Unmarshal(draft, &s.Draft); err != nil {
		return nil, fmt.Errorf("decode draft of user %d: %w", userID, err)
	}
	return &s, nil
}

func (db *DB) SaveSession(ctx context.Context, s dialogue.Session) error {
	draft, err := json.Marshal(s.Draft)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO dialogue_sessions (user_id, state, draft, updated_at)
         VALUES ($1, $2, $3, $4)
         ON CONFLICT (user_id) DO UPDATE SET state = EXCLUDED.state, draft = EXCLUDED.draft, updated_at = EXCLUDED.updated_at`,
		s.UserID, string(s.State), draft, s.UpdatedAt,
	)
	return err
}

func (db *DB) DeleteSession(ctx context.Context, userID int64) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM dialogue_sessions WHERE user_id = $1`, userID)
	return err
}

func (db *DB) ExpiredSessions(ctx context.Context, before time.Time) ([]int64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT user_id FROM dialogue_sessions WHERE updated_at < $1 ORDER BY user_id`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
