// Package memstore keeps every repository in process memory. It backs the
// tests and STORAGE=memory.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/contacts"
	"github.com/susu3304/qarzbot/internal/dialogue"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/users"
)

type Store struct {
	mu sync.Mutex

	users    map[int64]users.User
	circles  map[int64]contacts.Circle
	members  map[int64]contacts.Member
	debts    map[int64]ledger.Debt
	payments map[int64]ledger.Payment
	notes    map[int64]ledger.Notification
	sessions map[int64][]byte

	nextID int64
	now    func() time.Time
}

func New() *Store {
	return &Store{
		users:    make(map[int64]users.User),
		circles:  make(map[int64]contacts.Circle),
		members:  make(map[int64]contacts.Member),
		debts:    make(map[int64]ledger.Debt),
		payments: make(map[int64]ledger.Payment),
		notes:    make(map[int64]ledger.Notification),
		sessions: make(map[int64][]byte),
		now:      time.Now,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Users

func (s *Store) UpsertUser(ctx context.Context, u users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Handle = users.NormalizeHandle(u.Handle)
	if u.Handle != "" {
		for id, other := range s.users {
			if id != u.ID && other.Handle == u.Handle {
				other.Handle = ""
				s.users[id] = other
			}
		}
	}
	if prev, ok := s.users[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	} else {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return &u, nil
}

func (s *Store) FindUserByHandle(ctx context.Context, handle string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := users.NormalizeHandle(handle)
	for _, u := range s.users {
		if h != "" && u.Handle == h {
			return &u, nil
		}
	}
	return nil, users.ErrNotFound
}

// Contacts

func (s *Store) GetOrCreateCircle(ctx context.Context, ownerID int64, name string) (contacts.Circle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.circles {
		if c.OwnerID == ownerID && strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	c := contacts.Circle{ID: s.id(), OwnerID: ownerID, Name: name, CreatedAt: s.now()}
	s.circles[c.ID] = c
	return c, nil
}

func (s *Store) ListCircles(ctx context.Context, ownerID int64) ([]contacts.Circle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contacts.Circle
	for _, c := range s.circles {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddMember(ctx context.Context, m contacts.Member) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.circles[m.CircleID]; !ok {
		return 0, apperr.NotFound("circle", m.CircleID)
	}
	if strings.TrimSpace(m.Name) == "" {
		return 0, contacts.ErrEmptyName
	}
	m.ID = s.id()
	m.Handle = users.NormalizeHandle(m.Handle)
	s.members[m.ID] = m
	return m.ID, nil
}

func (s *Store) ListMembers(ctx context.Context, circleID int64) ([]contacts.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.membersOf(circleID), nil
}

func (s *Store) membersOf(circleID int64) []contacts.Member {
	var out []contacts.Member
	for _, m := range s.members {
		if m.CircleID == circleID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) SearchMembers(ctx context.Context, ownerID int64, query string) ([]contacts.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contacts.Match
	for _, c := range s.circles {
		if c.OwnerID != ownerID {
			continue
		}
		for _, m := range s.membersOf(c.ID) {
			linked := ""
			if m.UserID != nil {
				linked = s.users[*m.UserID].Handle
			}
			if contacts.MatchesQuery(m, linked, query) {
				out = append(out, contacts.Match{Member: m, CircleName: c.Name, LinkedHandle: linked})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Member.ID < out[j].Member.ID })
	return out, nil
}

func (s *Store) LinkMemberHandle(ctx context.Context, handle string, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := users.NormalizeHandle(handle)
	n := 0
	for id, m := range s.members {
		if h != "" && m.Handle == h && m.UserID == nil {
			uid := userID
			m.UserID = &uid
			m.Handle = ""
			s.members[id] = m
			n++
		}
	}
	return n, nil
}

// Ledger

func (s *Store) CreateDebt(ctx context.Context, n ledger.NewDebt) (int64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := ledger.Debt{
		ID:        s.id(),
		CreatorID: n.CreatorID,
		Creditor:  n.Creditor,
		Debtor:    n.Debtor,
		Amount:    n.Amount,
		Currency:  n.Currency,
		Reason:    n.Reason,
		Status:    ledger.StatusPending,
		CreatedAt: s.now(),
	}
	s.debts[d.ID] = d
	return d.ID, nil
}

func (s *Store) ConfirmDebt(ctx context.Context, debtID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debts[debtID]
	if !ok {
		return false, nil
	}
	applied := d.Confirm(userID)
	s.debts[debtID] = d
	return applied, nil
}

func (s *Store) confirmedSum(debtID int64) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range s.payments {
		if p.DebtID == debtID && p.Confirmed {
			sum = sum.Add(p.Amount)
		}
	}
	return sum
}

func (s *Store) RecordPayment(ctx context.Context, debtID, payerID int64, amount decimal.Decimal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debts[debtID]
	if !ok {
		return 0, apperr.NotFound("debt", debtID)
	}
	d.Paid = s.confirmedSum(debtID)
	if err := d.CheckPayment(amount); err != nil {
		return 0, err
	}
	p := ledger.Payment{ID: s.id(), DebtID: debtID, PayerID: payerID, Amount: amount, CreatedAt: s.now()}
	s.payments[p.ID] = p
	return p.ID, nil
}

func (s *Store) ConfirmPayment(ctx context.Context, paymentID int64) (ledger.Debt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return ledger.Debt{}, apperr.NotFound("payment", paymentID)
	}
	d, ok := s.debts[p.DebtID]
	if !ok {
		return ledger.Debt{}, apperr.NotFound("debt", p.DebtID)
	}
	if p.Confirmed {
		d.Paid = s.confirmedSum(d.ID)
		return d, nil
	}
	if d.Status != ledger.StatusActive {
		return ledger.Debt{}, &apperr.StateError{State: string(d.Status), Msg: "payments need an active debt"}
	}
	if err := d.Settle(s.confirmedSum(d.ID).Add(p.Amount)); err != nil {
		return ledger.Debt{}, err
	}
	p.Confirmed = true
	s.payments[p.ID] = p
	s.debts[d.ID] = d
	return d, nil
}

func (s *Store) CancelDebt(ctx context.Context, debtID, userID int64) (bool, error) {
	return s.transition(debtID, func(d *ledger.Debt) bool { return d.Cancel(userID) })
}

func (s *Store) DisputeDebt(ctx context.Context, debtID, userID int64) (bool, error) {
	return s.transition(debtID, func(d *ledger.Debt) bool { return d.Dispute(userID) })
}

func (s *Store) transition(debtID int64, apply func(*ledger.Debt) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debts[debtID]
	if !ok {
		return false, nil
	}
	if !apply(&d) {
		return false, nil
	}
	s.debts[debtID] = d
	return true, nil
}

func (s *Store) LinkPlaceholder(ctx context.Context, handle string, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := users.NormalizeHandle(handle)
	if h == "" {
		return 0, nil
	}
	n := 0
	for id, d := range s.debts {
		changed := false
		for _, p := range []*ledger.Party{&d.Creditor, &d.Debtor} {
			if p.UserID == nil && p.Handle == h {
				uid := userID
				p.UserID = &uid
				p.Handle = ""
				changed = true
			}
		}
		if changed {
			s.debts[id] = d
			n++
		}
	}
	return n, nil
}

func (s *Store) GetDebt(ctx context.Context, id int64) (*ledger.Debt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debts[id]
	if !ok {
		return nil, apperr.NotFound("debt", id)
	}
	d.Paid = s.confirmedSum(id)
	return &d, nil
}

func (s *Store) GetPayment(ctx context.Context, id int64) (*ledger.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment", id)
	}
	return &p, nil
}

func (s *Store) ListDebts(ctx context.Context, userID int64, f ledger.Filter) ([]ledger.Debt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Debt
	for _, d := range s.debts {
		if !f.Match(d, userID) {
			continue
		}
		d.Paid = s.confirmedSum(d.ID)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) AddNotification(ctx context.Context, n ledger.Notification) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.id()
	n.CreatedAt = s.now()
	s.notes[n.ID] = n
	return n.ID, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID int64, unreadOnly bool) ([]ledger.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Notification
	for _, n := range s.notes {
		if n.UserID == userID && (!unreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	n.Read = true
	s.notes[id] = n
	return true, nil
}

// Sessions are kept as JSON so callers never share draft memory with the
// store.

func (s *Store) GetSession(ctx context.Context, userID int64) (*dialogue.Session, error) {
	s.mu.Lock()
	raw, ok := s.sessions[userID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var sess dialogue.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) SaveSession(ctx context.Context, sess dialogue.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = raw
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

func (s *Store) ExpiredSessions(ctx context.Context, before time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id, raw := range s.sessions {
		var meta struct {
			UpdatedAt time.Time `json:"updated_at"`
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, err
		}
		if meta.UpdatedAt.Before(before) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
