package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrExtraction marks a draft that breaks the extractor contract.
var ErrExtraction = errors.New("extraction error")

// Draft is the structured output of the NLP extractor.
type Draft struct {
	ClarificationNeeded   bool     `json:"clarification_needed"`
	ClarificationQuestion string   `json:"clarification_question"`
	IsGroup               bool     `json:"is_group"`
	PayerName             string   `json:"payer_name"`
	Participants          []string `json:"participants"`
	TotalAmount           Amount   `json:"total_amount"`
	Amount                Amount   `json:"amount"`
	Currency              string   `json:"currency"`
	CreditorName          string   `json:"creditor_name"`
	DebtorName            string   `json:"debtor_name"`
	Reason                string   `json:"reason"`
	Direction             string   `json:"direction"`
	Error                 string   `json:"error"`
}

// Amount accepts a JSON number, a numeric string such as "50 ming", or
// null.
type Amount struct {
	Value decimal.Decimal
	Valid bool
}

func NewAmount(d decimal.Decimal) Amount { return Amount{Value: d, Valid: true} }

func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == `""` {
		*a = Amount{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("%w: amount: %v", ErrExtraction, err)
		}
		v, err := ParseAmount(s)
		if err != nil {
			return fmt.Errorf("%w: amount %q", ErrExtraction, s)
		}
		*a = NewAmount(v)
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("%w: amount %s", ErrExtraction, raw)
	}
	*a = NewAmount(v)
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return []byte(a.Value.String()), nil
}

// ParseDraft decodes extractor output. Decoding problems are reported as
// ErrExtraction.
func ParseDraft(content string) (Draft, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimPrefix(content, "json")
		if i := strings.LastIndex(content, "```"); i >= 0 {
			content = content[:i]
		}
	}
	var d Draft
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &d); err != nil {
		if errors.Is(err, ErrExtraction) {
			return Draft{}, err
		}
		return Draft{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return d, nil
}
