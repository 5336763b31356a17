package users

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
)

var ErrNotFound = errors.New("user not found")

// User is anyone who has written to the bot.
type User struct {
	ID          int64     `json:"id"`
	Handle      string    `json:"handle,omitempty"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Label is the name shown to other users.
func (u User) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Handle != "" {
		return "@" + u.Handle
	}
	return "user"
}

// Store persists users. UpsertUser is idempotent and moves the handle to
// the given user if another record held it before.
type Store interface {
	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	FindUserByHandle(ctx context.Context, handle string) (*User, error)
}

// NormalizeHandle trims spaces and a leading @ and lower-cases the rest.
func NormalizeHandle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return strings.ToLower(s)
}

// ValidHandle reports whether s looks like a transport username.
func ValidHandle(s string) bool {
	h := NormalizeHandle(s)
	if len(h) < 3 || len(h) > 32 {
		return false
	}
	for _, r := range h {
		if r != '_' && r != '.' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
