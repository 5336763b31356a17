package dialogue

import (
	"context"
	"fmt"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/intent"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/money"
	"github.com/susu3304/qarzbot/internal/users"
)

// BeginPayment starts asking u for a payment amount on debtID.
func (e *Engine) BeginPayment(ctx context.Context, u users.User, debtID int64) ([]Reply, error) {
	return e.begin(ctx, u, func(ctx context.Context) (Session, []Reply, error) {
		debt, err := e.ledger.Get(ctx, debtID, u.ID)
		if err != nil {
			return Session{}, nil, err
		}
		if !debt.IsParty(u.ID) {
			return Session{}, nil, apperr.NotFound("debt", debtID)
		}
		if debt.Status != ledger.StatusActive {
			return Session{State: StateIdle}, []Reply{say(u.ID, "Payments can only be added once both sides confirmed the debt.")}, nil
		}
		s := withDraft(StateEnteringPayment, Draft{DebtID: debtID})
		text := fmt.Sprintf("Debt #%d, remaining %s.\nHow much was paid?", debt.ID, money.Format(debt.Balance(), debt.Currency))
		return s, []Reply{say(u.ID, text)}, nil
	})
}

func (e *Engine) stepEnteringPayment(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	v, ok := ev.(TextReply)
	if !ok || s.Draft.DebtID == 0 {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "no payment in progress"}
	}
	amount, err := intent.ParsePositiveAmount(v.Text)
	if err != nil {
		return s, nil, err
	}
	p, debt, err := e.ledger.Pay(ctx, s.Draft.DebtID, u.ID, amount)
	if err != nil {
		return s, nil, err
	}

	text := fmt.Sprintf("Payment of %s recorded on debt #%d.", money.Format(p.Amount, debt.Currency), debt.ID)
	var replies []Reply
	switch {
	case debt.Status == ledger.StatusPaid:
		text += " The debt is fully paid."
	case p.Confirmed:
		text += fmt.Sprintf(" Remaining: %s.", money.Format(debt.Balance(), debt.Currency))
	default:
		text += " The lender was asked to confirm it."
	}
	replies = append(replies, say(u.ID, text))

	other := debt.Counterparty(u.ID)
	if other.Resolved() {
		kind := ledger.NotifyPaymentConfirmed
		notice := fmt.Sprintf("%s recorded a payment of %s on debt #%d (%s).",
			u.Label(), money.Format(p.Amount, debt.Currency), debt.ID, reasonOrDefault(debt.Reason))
		var rows [][]Choice
		if !p.Confirmed {
			kind = ledger.NotifyPaymentRecorded
			notice += "\nDid you receive it?"
			rows = append(rows, []Choice{{Label: "Confirm payment", Data: ActionData(ActionConfirmPayment, p.ID)}})
		}
		if err := e.ledger.Notify(ctx, *other.UserID, debt.ID, kind, notice); err != nil {
			e.log.Error("store notification", "debt_id", debt.ID, "err", err)
		}
		replies = append(replies, say(*other.UserID, notice, rows...))
	}
	return Session{State: StateIdle}, replies, nil
}
