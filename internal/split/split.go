// Package split turns a group expense into per-debtor draft debts.
package split

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/intent"
)

// Tolerance is the rounding slack allowed for unequal splits.
var Tolerance = decimal.NewFromInt(1)

var ErrNoDebtors = errors.New("no other participants to split with")

// DraftDebt is one debtor's share. The payer is always the creditor.
type DraftDebt struct {
	DebtorName   string          `json:"debtor_name"`
	CreditorName string          `json:"creditor_name"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Reason       string          `json:"reason"`
}

// Plan fixes who takes part in an expense. N counts every distinct
// participant including the payer, and every share is Total/N.
type Plan struct {
	Payer     string          `json:"payer"`
	Debtors   []string        `json:"debtors"`
	N         int             `json:"n"`
	Total     decimal.Decimal `json:"total"`
	PerPerson decimal.Decimal `json:"per_person"`
	Currency  string          `json:"currency"`
	Reason    string          `json:"reason"`
}

// NewPlan builds the plan for exp. Names are compared case-insensitively
// and all self aliases count as one person.
func NewPlan(exp intent.GroupExpense) (Plan, error) {
	if !exp.TotalAmount.IsPositive() {
		return Plan{}, apperr.Validation("total", "must be greater than zero")
	}
	payer := strings.TrimSpace(exp.PayerName)
	payerKey := key(payer)

	seen := map[string]bool{payerKey: true}
	var debtors []string
	for _, p := range exp.Participants {
		p = strings.TrimSpace(p)
		k := key(p)
		if p == "" || seen[k] {
			continue
		}
		seen[k] = true
		debtors = append(debtors, p)
	}
	if len(debtors) == 0 {
		return Plan{}, ErrNoDebtors
	}

	n := len(debtors) + 1
	reason := exp.Reason
	if reason == "" {
		reason = "Shared expense"
	}
	return Plan{
		Payer:     payer,
		Debtors:   debtors,
		N:         n,
		Total:     exp.TotalAmount,
		PerPerson: exp.TotalAmount.DivRound(decimal.NewFromInt(int64(n)), 2),
		Currency:  exp.Currency,
		Reason:    reason,
	}, nil
}

func key(name string) string {
	if intent.IsSelf(name) {
		return "\x00self"
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// PayerShare is the part of the total the payer covers themselves.
func (p Plan) PayerShare() decimal.Decimal { return p.PerPerson }

// ExpectedOwed is what the debtors together owe the payer.
func (p Plan) ExpectedOwed() decimal.Decimal { return p.Total.Sub(p.PayerShare()) }

// Equal gives every debtor the same share.
func (p Plan) Equal() []DraftDebt {
	out := make([]DraftDebt, 0, len(p.Debtors))
	for _, d := range p.Debtors {
		out = append(out, p.draft(d, p.PerPerson))
	}
	return out
}

func (p Plan) draft(debtor string, amount decimal.Decimal) DraftDebt {
	return DraftDebt{
		DebtorName:   debtor,
		CreditorName: p.Payer,
		Amount:       amount,
		Currency:     p.Currency,
		Reason:       p.Reason,
	}
}

// Outcome is the result of one Unequal.Answer.
type Outcome int

const (
	Next Outcome = iota
	Done
	Restarted
)

// Unequal collects one amount per debtor in plan order. Values are
// immutable: Answer returns the next collector.
type Unequal struct {
	Plan     Plan              `json:"plan"`
	Amounts  []decimal.Decimal `json:"amounts"`
	Index    int               `json:"index"`
	Restarts int               `json:"restarts"`
}

func NewUnequal(p Plan) Unequal {
	return Unequal{Plan: p, Amounts: make([]decimal.Decimal, len(p.Debtors))}
}

// Current is the debtor being asked.
func (u Unequal) Current() string {
	if u.Index >= len(u.Plan.Debtors) {
		return ""
	}
	return u.Plan.Debtors[u.Index]
}

// Entered is the sum of the amounts collected so far.
func (u Unequal) Entered() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range u.Amounts {
		sum = sum.Add(a)
	}
	return sum
}

// Answer records the current debtor's amount. After the last debtor the
// sum is checked against Plan.ExpectedOwed; on mismatch every amount is
// reset and collection starts over from the first debtor.
func (u Unequal) Answer(amount decimal.Decimal) (Unequal, Outcome, error) {
	if amount.IsNegative() {
		return u, Next, apperr.Validation("amount", "can not be negative")
	}
	if u.Index >= len(u.Plan.Debtors) {
		return u, Done, &apperr.StateError{Msg: "all amounts already collected"}
	}

	next := u
	next.Amounts = append([]decimal.Decimal(nil), u.Amounts...)
	next.Amounts[next.Index] = amount
	next.Index++
	if next.Index < len(next.Plan.Debtors) {
		return next, Next, nil
	}

	if next.Entered().Sub(next.Plan.ExpectedOwed()).Abs().LessThanOrEqual(Tolerance) {
		return next, Done, nil
	}
	restarted := NewUnequal(next.Plan)
	restarted.Restarts = u.Restarts + 1
	return restarted, Restarted, nil
}

// Drafts returns a debt per debtor with a positive amount.
func (u Unequal) Drafts() []DraftDebt {
	var out []DraftDebt
	for i, d := range u.Plan.Debtors {
		if i < len(u.Amounts) && u.Amounts[i].IsPositive() {
			out = append(out, u.Plan.draft(d, u.Amounts[i]))
		}
	}
	return out
}
