package ledger

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/users"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Notification type tags.
const (
	NotifyDebtCreated      = "debt_created"
	NotifyGroupDebtCreated = "group_debt_created"
	NotifyDebtConfirmed    = "debt_confirmed"
	NotifyDebtDisputed     = "debt_disputed"
	NotifyDebtCancelled    = "debt_cancelled"
	NotifyPaymentRecorded  = "payment_recorded"
	NotifyPaymentConfirmed = "payment_confirmed"
	NotifyReminder         = "reminder"
)

// Party is one side of a debt: a known user, or a placeholder handle
// and/or name for someone who has not joined yet.
type Party struct {
	UserID *int64 `json:"user_id,omitempty"`
	Handle string `json:"handle,omitempty"`
	Name   string `json:"name,omitempty"`
}

// UserParty is a resolved party.
func UserParty(id int64, name string) Party {
	return Party{UserID: &id, Name: name}
}

// PlaceholderParty is an unresolved party known by handle.
func PlaceholderParty(handle, name string) Party {
	return Party{Handle: users.NormalizeHandle(handle), Name: name}
}

func (p Party) Resolved() bool { return p.UserID != nil }

// Is reports whether p is the resolved user id.
func (p Party) Is(userID int64) bool {
	return p.UserID != nil && *p.UserID == userID
}

// Label is the display form of the party.
func (p Party) Label() string {
	switch {
	case p.Name != "":
		return p.Name
	case p.Handle != "":
		return "@" + p.Handle
	default:
		return "unknown"
	}
}

// Key groups parties that refer to the same person.
func (p Party) Key() string {
	switch {
	case p.UserID != nil:
		return "u:" + strconv.FormatInt(*p.UserID, 10)
	case p.Handle != "":
		return "h:" + p.Handle
	default:
		return "n:" + strings.ToLower(p.Name)
	}
}

type Debt struct {
	ID                  int64           `json:"id"`
	CreatorID           int64           `json:"creator_id"`
	Creditor            Party           `json:"creditor"`
	Debtor              Party           `json:"debtor"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Reason              string          `json:"reason"`
	Status              Status          `json:"status"`
	ConfirmedByCreditor bool            `json:"confirmed_by_creditor"`
	ConfirmedByDebtor   bool            `json:"confirmed_by_debtor"`
	// Paid is the sum of confirmed payments.
	Paid      decimal.Decimal `json:"paid"`
	CreatedAt time.Time       `json:"created_at"`
}

// Balance is the amount still owed.
func (d Debt) Balance() decimal.Decimal {
	return d.Amount.Sub(d.Paid)
}

func (d Debt) IsParty(userID int64) bool {
	return d.Creditor.Is(userID) || d.Debtor.Is(userID)
}

// Counterparty returns the side userID does not occupy.
func (d Debt) Counterparty(userID int64) Party {
	if d.Creditor.Is(userID) {
		return d.Debtor
	}
	return d.Creditor
}

// Confirm sets the flag of the side userID occupies and moves a pending
// debt to active once both flags hold. It reports whether anything
// applied. Stores call it while holding the debt row.
func (d *Debt) Confirm(userID int64) bool {
	if d.Status.Terminal() {
		return false
	}
	applied := false
	if d.Creditor.Is(userID) {
		d.ConfirmedByCreditor = true
		applied = true
	}
	if d.Debtor.Is(userID) {
		d.ConfirmedByDebtor = true
		applied = true
	}
	if applied && d.Status == StatusPending && d.ConfirmedByCreditor && d.ConfirmedByDebtor {
		d.Status = StatusActive
	}
	return applied
}

// CheckPayment validates a new payment against the current balance.
func (d Debt) CheckPayment(amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if d.Status != StatusActive {
		return &apperr.StateError{State: string(d.Status), Msg: "payments need an active debt"}
	}
	if amount.GreaterThan(d.Balance()) {
		return apperr.Validation("amount", "exceeds remaining balance %s", d.Balance().String())
	}
	return nil
}

// Settle applies the authoritative sum of confirmed payments. An active
// debt with nothing left to pay becomes paid.
func (d *Debt) Settle(confirmed decimal.Decimal) error {
	if confirmed.GreaterThan(d.Amount) {
		return apperr.Validation("amount", "payments would exceed the debt")
	}
	d.Paid = confirmed
	if d.Status == StatusActive && !d.Balance().IsPositive() {
		d.Status = StatusPaid
	}
	return nil
}

// Cancel lets the creator withdraw a pending or active debt.
func (d *Debt) Cancel(userID int64) bool {
	if d.CreatorID != userID || d.Status.Terminal() {
		return false
	}
	d.Status = StatusCancelled
	return true
}

// Dispute lets the party who did not create the debt reject it.
func (d *Debt) Dispute(userID int64) bool {
	if d.CreatorID == userID || !d.IsParty(userID) || d.Status.Terminal() {
		return false
	}
	d.Status = StatusCancelled
	return true
}

// NewDebt is the input to Store.CreateDebt.
type NewDebt struct {
	CreatorID int64
	Creditor  Party
	Debtor    Party
	Amount    decimal.Decimal
	Currency  string
	Reason    string
}

// Validate checks the invariants a new debt must satisfy.
func (n NewDebt) Validate() error {
	if err := ValidateAmount(n.Amount); err != nil {
		return err
	}
	if n.CreatorID == 0 {
		return apperr.Validation("creator", "must be a known user")
	}
	if n.Creditor.Label() == "unknown" || n.Debtor.Label() == "unknown" {
		return apperr.Validation("party", "both sides need a user, handle or name")
	}
	return nil
}

type Payment struct {
	ID        int64           `json:"id"`
	DebtID    int64           `json:"debt_id"`
	PayerID   int64           `json:"payer_id"`
	Amount    decimal.Decimal `json:"amount"`
	Confirmed bool            `json:"confirmed"`
	CreatedAt time.Time       `json:"created_at"`
}

type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	DebtID    int64     `json:"debt_id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateAmount accepts strictly positive amounts.
func ValidateAmount(a decimal.Decimal) error {
	if !a.IsPositive() {
		return apperr.Validation("amount", "must be greater than zero")
	}
	return nil
}
