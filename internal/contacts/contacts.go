// Package contacts keeps the named circles each user files people into
// and resolves typed names against them.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/users"
)

// PresetCircles are offered when a user is asked to name a circle.
var PresetCircles = []string{"Colleagues", "Friends", "Classmates", "Family"}

var ErrEmptyName = errors.New("member name is required")

type Circle struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is a person inside a circle. UserID is set once the person is
// known to the bot, Handle holds a placeholder until then.
type Member struct {
	ID       int64  `json:"id"`
	CircleID int64  `json:"circle_id"`
	Name     string `json:"name"`
	UserID   *int64 `json:"user_id,omitempty"`
	Handle   string `json:"handle,omitempty"`
}

// Match is a search hit with the circle it was found in.
type Match struct {
	Member     Member `json:"member"`
	CircleName string `json:"circle_name"`
	// LinkedHandle is the handle of the linked user, if any.
	LinkedHandle string `json:"linked_handle,omitempty"`
}

// Handle returns the best known handle for the match.
func (m Match) Handle() string {
	if m.LinkedHandle != "" {
		return m.LinkedHandle
	}
	return m.Member.Handle
}

type Store interface {
	GetOrCreateCircle(ctx context.Context, ownerID int64, name string) (Circle, error)
	ListCircles(ctx context.Context, ownerID int64) ([]Circle, error)
	AddMember(ctx context.Context, m Member) (int64, error)
	ListMembers(ctx context.Context, circleID int64) ([]Member, error)
	// SearchMembers matches query as a case-insensitive substring of the
	// member name, its placeholder handle or its linked user's handle,
	// across every circle the owner has.
	SearchMembers(ctx context.Context, ownerID int64, query string) ([]Match, error)
	// LinkMemberHandle attaches userID to members holding handle and
	// clears the placeholder. It returns the number of members updated.
	LinkMemberHandle(ctx context.Context, handle string, userID int64) (int, error)
}

// Ref identifies a participant for overlap checks.
type Ref struct {
	Name   string
	UserID *int64
	Handle string
}

type Directory struct {
	store Store
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// Search returns members whose name or handle contains name.
func (d *Directory) Search(ctx context.Context, ownerID int64, name string) ([]Match, error) {
	q := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "@"))
	if q == "" {
		return nil, nil
	}
	matches, err := d.store.SearchMembers(ctx, ownerID, q)
	if err != nil {
		return nil, fmt.Errorf("search members: %w", err)
	}
	return matches, nil
}

// Circles lists the owner's circles.
func (d *Directory) Circles(ctx context.Context, ownerID int64) ([]Circle, error) {
	return d.store.ListCircles(ctx, ownerID)
}

// Members lists the members of a circle.
func (d *Directory) Members(ctx context.Context, circleID int64) ([]Member, error) {
	return d.store.ListMembers(ctx, circleID)
}

// Link attaches userID to every member filed under handle.
func (d *Directory) Link(ctx context.Context, handle string, userID int64) (int, error) {
	if users.NormalizeHandle(handle) == "" {
		return 0, nil
	}
	n, err := d.store.LinkMemberHandle(ctx, handle, userID)
	if err != nil {
		return 0, fmt.Errorf("link members @%s: %w", users.NormalizeHandle(handle), err)
	}
	return n, nil
}

// File puts members into the owner's circle called circleName, creating
// the circle on first use. Members already present by name, user or
// handle are skipped.
func (d *Directory) File(ctx context.Context, ownerID int64, circleName string, members []Member) (Circle, int, error) {
	circleName = strings.TrimSpace(circleName)
	if circleName == "" {
		return Circle{}, 0, apperr.Validation("circle", "name is required")
	}
	for _, m := range members {
		if strings.TrimSpace(m.Name) == "" {
			return Circle{}, 0, ErrEmptyName
		}
	}

	circle, err := d.store.GetOrCreateCircle(ctx, ownerID, circleName)
	if err != nil {
		return Circle{}, 0, fmt.Errorf("get circle: %w", err)
	}
	existing, err := d.store.ListMembers(ctx, circle.ID)
	if err != nil {
		return Circle{}, 0, fmt.Errorf("list members: %w", err)
	}

	added := 0
	for _, m := range members {
		ref := Ref{Name: m.Name, UserID: m.UserID, Handle: m.Handle}
		if containsRef(existing, ref) {
			continue
		}
		m.CircleID = circle.ID
		m.Name = strings.TrimSpace(m.Name)
		m.Handle = users.NormalizeHandle(m.Handle)
		id, err := d.store.AddMember(ctx, m)
		if err != nil {
			return circle, added, fmt.Errorf("add member %q: %w", m.Name, err)
		}
		m.ID = id
		existing = append(existing, m)
		added++
	}
	return circle, added, nil
}

// Covered reports whether some circle of the owner contains at least half
// of refs.
func (d *Directory) Covered(ctx context.Context, ownerID int64, refs []Ref) (bool, error) {
	if len(refs) == 0 {
		return true, nil
	}
	circles, err := d.store.ListCircles(ctx, ownerID)
	if err != nil {
		return false, fmt.Errorf("list circles: %w", err)
	}
	for _, c := range circles {
		members, err := d.store.ListMembers(ctx, c.ID)
		if err != nil {
			return false, fmt.Errorf("list members: %w", err)
		}
		if Overlap(members, refs) >= 0.5 {
			return true, nil
		}
	}
	return false, nil
}

// Overlap is the share of refs found among members.
func Overlap(members []Member, refs []Ref) float64 {
	if len(refs) == 0 {
		return 0
	}
	hits := 0
	for _, r := range refs {
		if containsRef(members, r) {
			hits++
		}
	}
	return float64(hits) / float64(len(refs))
}

func containsRef(members []Member, r Ref) bool {
	handle := users.NormalizeHandle(r.Handle)
	for _, m := range members {
		switch {
		case r.UserID != nil && m.UserID != nil && *r.UserID == *m.UserID:
			return true
		case handle != "" && m.Handle != "" && users.NormalizeHandle(m.Handle) == handle:
			return true
		case r.Name != "" && strings.EqualFold(strings.TrimSpace(m.Name), strings.TrimSpace(r.Name)):
			return true
		}
	}
	return false
}

// MatchesQuery is the substring rule SearchMembers implementations apply.
func MatchesQuery(m Member, linkedHandle, query string) bool {
	q := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(query), "@"))
	if q == "" {
		return false
	}
	for _, field := range []string{m.Name, m.Handle, linkedHandle} {
		if field != "" && strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
