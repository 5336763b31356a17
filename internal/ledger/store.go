package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Role selects debts by the side the user occupies.
type Role int

const (
	RoleAny Role = iota
	RoleCreditor
	RoleDebtor
)

// Filter narrows ListDebts. A zero Filter lists every debt of the user.
type Filter struct {
	Role     Role
	Statuses []Status
	Limit    int
}

// Match reports whether d passes the filter for userID.
func (f Filter) Match(d Debt, userID int64) bool {
	switch f.Role {
	case RoleCreditor:
		if !d.Creditor.Is(userID) {
			return false
		}
	case RoleDebtor:
		if !d.Debtor.Is(userID) {
			return false
		}
	default:
		if !d.IsParty(userID) && d.CreatorID != userID {
			return false
		}
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if d.Status == s {
			return true
		}
	}
	return false
}

// Store persists debts, payments and notifications. Every mutating call is
// atomic per debt: implementations lock the debt while the rules in
// Debt.Confirm, Debt.CheckPayment, Debt.Settle, Debt.Cancel and
// Debt.Dispute run.
type Store interface {
	CreateDebt(ctx context.Context, n NewDebt) (int64, error)
	ConfirmDebt(ctx context.Context, debtID, userID int64) (bool, error)
	RecordPayment(ctx context.Context, debtID, payerID int64, amount decimal.Decimal) (int64, error)
	ConfirmPayment(ctx context.Context, paymentID int64) (Debt, error)
	CancelDebt(ctx context.Context, debtID, userID int64) (bool, error)
	DisputeDebt(ctx context.Context, debtID, userID int64) (bool, error)
	LinkPlaceholder(ctx context.Context, handle string, userID int64) (int, error)

	GetDebt(ctx context.Context, id int64) (*Debt, error)
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	// ListDebts returns matching debts, newest first.
	ListDebts(ctx context.Context, userID int64, f Filter) ([]Debt, error)

	AddNotification(ctx context.Context, n Notification) (int64, error)
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID int64) (bool, error)
}
