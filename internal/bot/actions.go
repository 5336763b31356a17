package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/dialogue"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/money"
	"github.com/susu3304/qarzbot/internal/users"
)

const (
	msgDebtNotFound    = "I could not find that debt."
	msgPaymentNotFound = "I could not find that payment."
	msgOnlyCreditor    = "Only the lender can send reminders."
)

// action runs a debt or payment button. id is a debt id except for
// payment confirmations.
func (b *Bot) action(ctx context.Context, u users.User, action string, id int64) ([]dialogue.Reply, error) {
	var (
		replies []dialogue.Reply
		err     error
	)
	switch action {
	case dialogue.ActionAccept:
		replies, err = b.accept(ctx, u, id)
	case dialogue.ActionDispute:
		replies, err = b.dispute(ctx, u, id)
	case dialogue.ActionCancel:
		replies, err = b.cancel(ctx, u, id)
	case dialogue.ActionPay:
		return b.engine.BeginPayment(ctx, u, id)
	case dialogue.ActionRemind:
		replies, err = b.remind(ctx, u, id)
	case dialogue.ActionConfirmPayment:
		replies, err = b.confirmPayment(ctx, u, id)
	default:
		b.log.Warn("unknown action", "user_id", u.ID, "action", action)
		return []dialogue.Reply{say(u.ID, msgUnknownButton)}, nil
	}
	if err != nil {
		if text, ok := userMessage(err, action); ok {
			return []dialogue.Reply{say(u.ID, text)}, nil
		}
		return nil, err
	}
	return replies, nil
}

// userMessage turns expected ledger errors into a reply.
func userMessage(err error, action string) (string, bool) {
	var (
		nf *apperr.NotFoundError
		se *apperr.StateError
		ve *apperr.ValidationError
	)
	switch {
	case errors.As(err, &nf):
		if action == dialogue.ActionConfirmPayment {
			return msgPaymentNotFound, true
		}
		return msgDebtNotFound, true
	case errors.As(err, &se):
		return capitalize(se.Msg) + ".", true
	case errors.As(err, &ve):
		return ve.Error(), true
	}
	return "", false
}

func (b *Bot) accept(ctx context.Context, u users.User, id int64) ([]dialogue.Reply, error) {
	d, err := b.ledger.Accept(ctx, id, u.ID)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("You confirmed debt #%d.", d.ID)
	if d.Status == ledger.StatusActive {
		text += " Both sides agreed, the debt is now active."
	}
	out := []dialogue.Reply{say(u.ID, text)}
	notice := fmt.Sprintf("%s confirmed debt #%d: %s (%s).", u.Label(), d.ID, money.Format(d.Amount, d.Currency), d.Reason)
	return append(out, b.notifyCreator(ctx, u, d, ledger.NotifyDebtConfirmed, notice)...), nil
}

func (b *Bot) dispute(ctx context.Context, u users.User, id int64) ([]dialogue.Reply, error) {
	d, err := b.ledger.Dispute(ctx, id, u.ID)
	if err != nil {
		return nil, err
	}
	out := []dialogue.Reply{say(u.ID, fmt.Sprintf("You disputed debt #%d. It has been cancelled.", d.ID))}
	notice := fmt.Sprintf("%s disputed debt #%d: %s (%s). It has been cancelled.", u.Label(), d.ID, money.Format(d.Amount, d.Currency), d.Reason)
	return append(out, b.notifyCreator(ctx, u, d, ledger.NotifyDebtDisputed, notice)...), nil
}

func (b *Bot) cancel(ctx context.Context, u users.User, id int64) ([]dialogue.Reply, error) {
	d, err := b.ledger.Cancel(ctx, id, u.ID)
	if err != nil {
		return nil, err
	}
	out := []dialogue.Reply{say(u.ID, fmt.Sprintf("Debt #%d cancelled.", d.ID))}
	other := d.Counterparty(u.ID)
	if !other.Resolved() || other.Is(u.ID) {
		return out, nil
	}
	notice := fmt.Sprintf("%s cancelled debt #%d: %s (%s).", u.Label(), d.ID, money.Format(d.Amount, d.Currency), d.Reason)
	b.notify(ctx, *other.UserID, d.ID, ledger.NotifyDebtCancelled, notice)
	return append(out, say(*other.UserID, notice)), nil
}

func (b *Bot) remind(ctx context.Context, u users.User, id int64) ([]dialogue.Reply, error) {
	d, err := b.ledger.Get(ctx, id, u.ID)
	if err != nil {
		return nil, err
	}
	if !d.Creditor.Is(u.ID) {
		return []dialogue.Reply{say(u.ID, msgOnlyCreditor)}, nil
	}
	if d.Status != ledger.StatusActive {
		return []dialogue.Reply{say(u.ID, fmt.Sprintf("Debt #%d is %s, there is nothing to remind about.", d.ID, d.Status))}, nil
	}
	if !d.Debtor.Resolved() {
		return []dialogue.Reply{say(u.ID, fmt.Sprintf("%s has not started the bot yet, so I can't remind them.", d.Debtor.Label()))}, nil
	}
	debtor := *d.Debtor.UserID
	notice := fmt.Sprintf("Reminder from %s: you still owe %s for %s (debt #%d).",
		u.Label(), money.Format(d.Balance(), d.Currency), d.Reason, d.ID)
	b.notify(ctx, debtor, d.ID, ledger.NotifyReminder, notice)
	payRow := []dialogue.Choice{{Label: "Pay", Data: dialogue.ActionData(dialogue.ActionPay, d.ID)}}
	return []dialogue.Reply{
		say(u.ID, fmt.Sprintf("Reminder sent to %s.", d.Debtor.Label())),
		say(debtor, notice, payRow),
	}, nil
}

func (b *Bot) confirmPayment(ctx context.Context, u users.User, id int64) ([]dialogue.Reply, error) {
	p, d, err := b.ledger.ConfirmPayment(ctx, id, u.ID)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("Payment of %s on debt #%d confirmed.", money.Format(p.Amount, d.Currency), d.ID)
	if d.Status == ledger.StatusPaid {
		text += " The debt is fully paid."
	} else {
		text += fmt.Sprintf(" Remaining: %s.", money.Format(d.Balance(), d.Currency))
	}
	out := []dialogue.Reply{say(u.ID, text)}
	if p.PayerID == u.ID {
		return out, nil
	}
	notice := fmt.Sprintf("%s confirmed your payment of %s on debt #%d.", u.Label(), money.Format(p.Amount, d.Currency), d.ID)
	if d.Status == ledger.StatusPaid {
		notice += " The debt is fully paid."
	}
	b.notify(ctx, p.PayerID, d.ID, ledger.NotifyPaymentConfirmed, notice)
	return append(out, say(p.PayerID, notice)), nil
}

// notifyCreator tells the debt's creator about a change made by u.
func (b *Bot) notifyCreator(ctx context.Context, u users.User, d ledger.Debt, kind, notice string) []dialogue.Reply {
	if d.CreatorID == u.ID {
		return nil
	}
	b.notify(ctx, d.CreatorID, d.ID, kind, notice)
	return []dialogue.Reply{say(d.CreatorID, notice)}
}

func (b *Bot) notify(ctx context.Context, userID, debtID int64, kind, msg string) {
	if err := b.ledger.Notify(ctx, userID, debtID, kind, msg); err != nil {
		b.log.Error("store notification", "debt_id", debtID, "user_id", userID, "err", err)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
