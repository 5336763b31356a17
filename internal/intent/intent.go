// Package intent turns extractor drafts into validated debt intents.
package intent

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/susu3304/qarzbot/internal/apperr"
)

type Direction string

const (
	// IOwe: the user is the debtor.
	IOwe Direction = "i_owe"
	// OweMe: the counter-party is the debtor and the user the creditor.
	OweMe Direction = "owe_me"
)

// DefaultReason is stored when the user skips the reason.
const DefaultReason = "No reason"

// Intent is one of Clarification, SimpleDebt or GroupExpense.
type Intent interface {
	isIntent()
}

type Clarification struct {
	Question string `json:"question"`
}

type SimpleDebt struct {
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	CreditorName string          `json:"creditor_name,omitempty"`
	DebtorName   string          `json:"debtor_name,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Direction    Direction       `json:"direction,omitempty"`
}

type GroupExpense struct {
	Participants []string        `json:"participants"`
	PayerName    string          `json:"payer_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Reason       string          `json:"reason,omitempty"`
	Currency     string          `json:"currency"`
}

func (Clarification) isIntent() {}
func (SimpleDebt) isIntent()    {}
func (GroupExpense) isIntent()  {}

// Field is a slot the user may be asked to fill.
type Field string

const (
	FieldAmount       Field = "amount"
	FieldDirection    Field = "direction"
	FieldCounterparty Field = "counterparty"
	FieldReason       Field = "reason"
)

var selfAliases = map[string]bool{
	"men": true, "man": true, "ya": true, "я": true,
	"me": true, "i": true, "myself": true,
}

// IsSelf reports whether name refers to the speaking user.
func IsSelf(name string) bool {
	return selfAliases[strings.ToLower(strings.TrimSpace(name))]
}

// Normalize validates a draft and converts it into an Intent. Any
// contract violation is returned wrapped in ErrExtraction.
func Normalize(d Draft, defaultCurrency string) (Intent, error) {
	if d.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrExtraction, d.Error)
	}
	currency := strings.TrimSpace(d.Currency)
	if currency == "" || strings.EqualFold(currency, "som") {
		currency = defaultCurrency
	}

	if d.ClarificationNeeded {
		q := strings.TrimSpace(d.ClarificationQuestion)
		if q == "" {
			return nil, fmt.Errorf("%w: clarification without a question", ErrExtraction)
		}
		return Clarification{Question: q}, nil
	}

	if d.IsGroup {
		return normalizeGroup(d, currency)
	}

	s := SimpleDebt{
		Currency:     currency,
		CreditorName: strings.TrimSpace(d.CreditorName),
		DebtorName:   strings.TrimSpace(d.DebtorName),
		Reason:       strings.TrimSpace(d.Reason),
	}
	if d.Amount.Valid {
		if d.Amount.Value.IsNegative() {
			return nil, fmt.Errorf("%w: negative amount %s", ErrExtraction, d.Amount.Value)
		}
		s.Amount = d.Amount.Value.Round(2)
	}
	switch Direction(strings.TrimSpace(d.Direction)) {
	case "":
	case IOwe:
		s.Direction = IOwe
	case OweMe:
		s.Direction = OweMe
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", ErrExtraction, d.Direction)
	}
	return s, nil
}

func normalizeGroup(d Draft, currency string) (Intent, error) {
	if !d.TotalAmount.Valid {
		return Clarification{Question: "What was the total amount?"}, nil
	}
	if !d.TotalAmount.Value.IsPositive() {
		return nil, fmt.Errorf("%w: group total must be positive", ErrExtraction)
	}
	payer := strings.TrimSpace(d.PayerName)
	if payer == "" {
		payer = "Men"
	}
	var participants []string
	for _, p := range d.Participants {
		if p = strings.TrimSpace(p); p != "" {
			participants = append(participants, p)
		}
	}
	return GroupExpense{
		Participants: participants,
		PayerName:    payer,
		TotalAmount:  d.TotalAmount.Value.Round(2),
		Reason:       strings.TrimSpace(d.Reason),
		Currency:     currency,
	}, nil
}

// Counterparty is the name of the other person. For OweMe the creditor
// slot is read first, for IOwe the debtor slot; the other slot is a
// fallback because extractors mix them up. Self aliases never count.
func (s SimpleDebt) Counterparty() string {
	first, second := s.DebtorName, s.CreditorName
	if s.Direction == OweMe {
		first, second = s.CreditorName, s.DebtorName
	}
	for _, n := range []string{first, second} {
		if n != "" && !IsSelf(n) {
			return n
		}
	}
	return ""
}

// Missing lists the required fields still absent, in asking order.
func (s SimpleDebt) Missing() []Field {
	var out []Field
	if !s.Amount.IsPositive() {
		out = append(out, FieldAmount)
	}
	if s.Direction == "" {
		out = append(out, FieldDirection)
	}
	if s.Counterparty() == "" {
		out = append(out, FieldCounterparty)
	}
	return out
}

// Fill returns a copy of s with field set from the user's text.
func (s SimpleDebt) Fill(field Field, text string) (SimpleDebt, error) {
	text = strings.TrimSpace(text)
	switch field {
	case FieldAmount:
		v, err := ParsePositiveAmount(text)
		if err != nil {
			return s, err
		}
		s.Amount = v
	case FieldDirection:
		dir, ok := ParseDirection(text)
		if !ok {
			return s, apperr.Validation("direction", "choose who owes whom")
		}
		s.Direction = dir
	case FieldCounterparty:
		if text == "" || IsSelf(text) {
			return s, apperr.Validation("name", "type the other person's name or @username")
		}
		if s.Direction == OweMe {
			s.CreditorName = text
		} else {
			s.DebtorName = text
		}
	case FieldReason:
		if text == "" || text == "-" {
			text = DefaultReason
		}
		s.Reason = text
	default:
		return s, apperr.Validation(string(field), "unknown field")
	}
	return s, nil
}

// ParseDirection understands the choice values and a few typed forms.
func ParseDirection(text string) (Direction, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case t == string(IOwe), strings.Contains(t, "i owe"), strings.Contains(t, "men qarzman"):
		return IOwe, true
	case t == string(OweMe), strings.Contains(t, "owes me"), strings.Contains(t, "owe me"), strings.Contains(t, "menga qarz"):
		return OweMe, true
	}
	return "", false
}
