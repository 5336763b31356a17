package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/susu3304/qarzbot/internal/apperr"
)

// HistoryLimit is how many debts the history view shows.
const HistoryLimit = 20

// Service applies access rules on top of a Store and records
// notifications for lifecycle events.
type Service struct {
	store Store
	log   *slog.Logger
}

func NewService(store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log}
}

// Create stores a new debt and confirms the creator's own side when the
// creator is one of the parties.
func (s *Service) Create(ctx context.Context, n NewDebt) (Debt, error) {
	if err := n.Validate(); err != nil {
		return Debt{}, err
	}
	id, err := s.store.CreateDebt(ctx, n)
	if err != nil {
		return Debt{}, fmt.Errorf("create debt: %w", err)
	}
	if n.Creditor.Is(n.CreatorID) || n.Debtor.Is(n.CreatorID) {
		if _, err := s.store.ConfirmDebt(ctx, id, n.CreatorID); err != nil {
			return Debt{}, fmt.Errorf("confirm own side of debt %d: %w", id, err)
		}
	}
	d, err := s.store.GetDebt(ctx, id)
	if err != nil {
		return Debt{}, err
	}
	s.log.Info("debt created", "debt_id", id, "creator_id", n.CreatorID, "amount", n.Amount.String())
	return *d, nil
}

// Get returns a debt visible to userID.
func (s *Service) Get(ctx context.Context, debtID, userID int64) (Debt, error) {
	d, err := s.store.GetDebt(ctx, debtID)
	if err != nil {
		return Debt{}, err
	}
	if !d.IsParty(userID) && d.CreatorID != userID {
		return Debt{}, apperr.NotFound("debt", debtID)
	}
	return *d, nil
}

// Accept confirms the side userID occupies.
func (s *Service) Accept(ctx context.Context, debtID, userID int64) (Debt, error) {
	d, err := s.Get(ctx, debtID, userID)
	if err != nil {
		return Debt{}, err
	}
	ok, err := s.store.ConfirmDebt(ctx, debtID, userID)
	if err != nil {
		return Debt{}, fmt.Errorf("confirm debt %d: %w", debtID, err)
	}
	if !ok {
		return Debt{}, &apperr.StateError{State: string(d.Status), Msg: "debt can no longer be confirmed"}
	}
	return s.Get(ctx, debtID, userID)
}

// Dispute cancels a debt on behalf of the party who did not create it.
func (s *Service) Dispute(ctx context.Context, debtID, userID int64) (Debt, error) {
	d, err := s.Get(ctx, debtID, userID)
	if err != nil {
		return Debt{}, err
	}
	ok, err := s.store.DisputeDebt(ctx, debtID, userID)
	if err != nil {
		return Debt{}, fmt.Errorf("dispute debt %d: %w", debtID, err)
	}
	if !ok {
		return Debt{}, &apperr.StateError{State: string(d.Status), Msg: "debt can not be disputed"}
	}
	s.log.Info("debt disputed", "debt_id", debtID, "user_id", userID)
	return s.Get(ctx, debtID, userID)
}

// Cancel withdraws a debt on behalf of its creator.
func (s *Service) Cancel(ctx context.Context, debtID, userID int64) (Debt, error) {
	d, err := s.Get(ctx, debtID, userID)
	if err != nil {
		return Debt{}, err
	}
	ok, err := s.store.CancelDebt(ctx, debtID, userID)
	if err != nil {
		return Debt{}, fmt.Errorf("cancel debt %d: %w", debtID, err)
	}
	if !ok {
		return Debt{}, &apperr.StateError{State: string(d.Status), Msg: "only the creator can cancel an open debt"}
	}
	s.log.Info("debt cancelled", "debt_id", debtID, "user_id", userID)
	return s.Get(ctx, debtID, userID)
}

// Pay records a payment. A payment entered by the creditor is confirmed
// at once since the creditor is the one who received it.
func (s *Service) Pay(ctx context.Context, debtID, payerID int64, amount decimal.Decimal) (Payment, Debt, error) {
	d, err := s.Get(ctx, debtID, payerID)
	if err != nil {
		return Payment{}, Debt{}, err
	}
	if err := d.CheckPayment(amount); err != nil {
		return Payment{}, d, err
	}
	pid, err := s.store.RecordPayment(ctx, debtID, payerID, amount)
	if err != nil {
		return Payment{}, d, err
	}
	if d.Creditor.Is(payerID) {
		if _, err := s.store.ConfirmPayment(ctx, pid); err != nil {
			pending := Payment{ID: pid, DebtID: debtID, PayerID: payerID, Amount: amount}
			return pending, d, &UnconfirmedPaymentError{PaymentID: pid, Err: err}
		}
	}
	p, err := s.store.GetPayment(ctx, pid)
	if err != nil {
		return Payment{}, d, err
	}
	d, err = s.Get(ctx, debtID, payerID)
	if err != nil {
		return *p, Debt{}, err
	}
	s.log.Info("payment recorded", "debt_id", debtID, "payment_id", pid, "amount", amount.String(), "confirmed", p.Confirmed)
	return *p, d, nil
}

// UnconfirmedPaymentError reports a payment that was stored but could not
// be confirmed right away. It stays pending until confirmed again.
type UnconfirmedPaymentError struct {
	PaymentID int64
	Err       error
}

func (e *UnconfirmedPaymentError) Error() string {
	return fmt.Sprintf("payment %d recorded but not confirmed: %v", e.PaymentID, e.Err)
}

func (e *UnconfirmedPaymentError) Unwrap() error { return e.Err }

// ConfirmPayment lets the creditor acknowledge a payment.
func (s *Service) ConfirmPayment(ctx context.Context, paymentID, userID int64) (Payment, Debt, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Payment{}, Debt{}, err
	}
	d, err := s.Get(ctx, p.DebtID, userID)
	if err != nil {
		return Payment{}, Debt{}, err
	}
	if !d.Creditor.Is(userID) {
		return Payment{}, Debt{}, apperr.NotFound("payment", paymentID)
	}
	if p.Confirmed {
		return *p, d, nil
	}
	updated, err := s.store.ConfirmPayment(ctx, paymentID)
	if err != nil {
		return Payment{}, d, err
	}
	p.Confirmed = true
	s.log.Info("payment confirmed", "debt_id", d.ID, "payment_id", paymentID, "status", updated.Status)
	return *p, updated, nil
}

// Notify stores a notification for a resolved user.
func (s *Service) Notify(ctx context.Context, userID, debtID int64, kind, msg string) error {
	_, err := s.store.AddNotification(ctx, Notification{UserID: userID, DebtID: debtID, Type: kind, Message: msg})
	if err != nil {
		return fmt.Errorf("add notification: %w", err)
	}
	return nil
}

// Notifications lists a user's notifications.
func (s *Service) Notifications(ctx context.Context, userID int64, unreadOnly bool) ([]Notification, error) {
	return s.store.ListNotifications(ctx, userID, unreadOnly)
}

// MarkRead marks one notification of userID as read.
func (s *Service) MarkRead(ctx context.Context, id, userID int64) error {
	ok, err := s.store.MarkNotificationRead(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("notification", id)
	}
	return nil
}

// Link resolves debts that were waiting for handle.
func (s *Service) Link(ctx context.Context, handle string, userID int64) (int, error) {
	if handle == "" {
		return 0, nil
	}
	n, err := s.store.LinkPlaceholder(ctx, handle, userID)
	if err != nil {
		return 0, fmt.Errorf("link placeholder %q: %w", handle, err)
	}
	if n > 0 {
		s.log.Info("placeholder debts linked", "handle", handle, "user_id", userID, "count", n)
	}
	return n, nil
}

var openStatuses = []Status{StatusPending, StatusActive}

// IOwe lists open debts where userID is the debtor.
func (s *Service) IOwe(ctx context.Context, userID int64) ([]Debt, error) {
	return s.store.ListDebts(ctx, userID, Filter{Role: RoleDebtor, Statuses: openStatuses})
}

// OwedToMe lists open debts where userID is the creditor.
func (s *Service) OwedToMe(ctx context.Context, userID int64) ([]Debt, error) {
	return s.store.ListDebts(ctx, userID, Filter{Role: RoleCreditor, Statuses: openStatuses})
}

// History lists the latest debts of userID in any status.
func (s *Service) History(ctx context.Context, userID int64) ([]Debt, error) {
	return s.store.ListDebts(ctx, userID, Filter{Limit: HistoryLimit})
}

// Debts lists debts with an arbitrary filter.
func (s *Service) Debts(ctx context.Context, userID int64, f Filter) ([]Debt, error) {
	return s.store.ListDebts(ctx, userID, f)
}

type Stats struct {
	Pending   int             `json:"pending"`
	Active    int             `json:"active"`
	Paid      int             `json:"paid"`
	Cancelled int             `json:"cancelled"`
	Owe       decimal.Decimal `json:"owe"`
	Owed      decimal.Decimal `json:"owed"`
}

// Net is what others owe userID minus what userID owes.
func (s Stats) Net() decimal.Decimal { return s.Owed.Sub(s.Owe) }

// Stats counts debts by status and sums open balances.
func (s *Service) Stats(ctx context.Context, userID int64) (Stats, error) {
	debts, err := s.store.ListDebts(ctx, userID, Filter{})
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(debts, userID), nil
}

// ComputeStats is the pure part of Stats.
func ComputeStats(debts []Debt, userID int64) Stats {
	var st Stats
	for _, d := range debts {
		switch d.Status {
		case StatusPending:
			st.Pending++
		case StatusActive:
			st.Active++
		case StatusPaid:
			st.Paid++
		case StatusCancelled:
			st.Cancelled++
		}
		if d.Status != StatusActive {
			continue
		}
		if d.Debtor.Is(userID) {
			st.Owe = st.Owe.Add(d.Balance())
		}
		if d.Creditor.Is(userID) {
			st.Owed = st.Owed.Add(d.Balance())
		}
	}
	return st
}

// PersonBalance is the open position between a user and one counter-party.
type PersonBalance struct {
	Party Party           `json:"party"`
	Owe   decimal.Decimal `json:"owe"`
	Owed  decimal.Decimal `json:"owed"`
	Debts int             `json:"debts"`
}

func (p PersonBalance) Net() decimal.Decimal { return p.Owed.Sub(p.Owe) }

// ByPerson nets open debts per counter-party.
func (s *Service) ByPerson(ctx context.Context, userID int64) ([]PersonBalance, error) {
	debts, err := s.store.ListDebts(ctx, userID, Filter{Statuses: openStatuses})
	if err != nil {
		return nil, err
	}
	return GroupByPerson(debts, userID), nil
}

// GroupByPerson is the pure part of ByPerson. Results are ordered by the
// size of the net position, largest first.
func GroupByPerson(debts []Debt, userID int64) []PersonBalance {
	idx := make(map[string]int)
	var out []PersonBalance
	for _, d := range debts {
		if !d.IsParty(userID) {
			continue
		}
		other := d.Counterparty(userID)
		k := other.Key()
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, PersonBalance{Party: other})
		}
		if d.Debtor.Is(userID) {
			out[i].Owe = out[i].Owe.Add(d.Balance())
		} else {
			out[i].Owed = out[i].Owed.Add(d.Balance())
		}
		out[i].Debts++
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Net().Abs().GreaterThan(out[b].Net().Abs())
	})
	return out
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *apperr.NotFoundError
	return errors.As(err, &nf)
}
