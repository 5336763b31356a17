package intent

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/susu3304/qarzbot/internal/apperr"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"50000", "50000", false},
		{"50,000", "50000", false},
		{"50 000", "50000", false},
		{"230.000", "230000", false},
		{"50 ming", "50000", false},
		{"150 min", "150000", false},
		{"20k", "20000", false},
		{"1.5 mln", "1500000", false},
		{"12.5", "12.5", false},
		{"76666.666", "76666.67", false},
		{"40000 so'm", "40000", false},
		{"0", "0", false},
		{"1,234,567", "1234567", false},
		{"1,500.50", "1500.5", false},
		{"1,5 mln", "1500000", false},
		{"2,5k", "2500", false},
		{"12,50", "12.5", false},
		{"1 500,75", "1500.75", false},
		{"1,2345", "", true},
		{"12,345,6", "", true},
		{"1,5,0", "", true},
		{"abc", "", true},
		{"", "", true},
		{"-5", "", true},
		{"5-5", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				var v *apperr.ValidationError
				if !errors.As(err, &v) {
					t.Fatalf("ParseAmount(%q) err = %v, want ValidationError", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.in, err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsePositiveAmountRejectsZero(t *testing.T) {
	if _, err := ParsePositiveAmount("0"); err == nil {
		t.Error("zero accepted")
	}
}

func TestParseDraft(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		check   func(Draft) bool
		wantErr bool
	}{
		{
			name:  "numeric amount",
			in:    `{"amount": 50000, "direction": "owe_me", "creditor_name": "Alisher"}`,
			check: func(d Draft) bool { return d.Amount.Valid && d.Amount.Value.Equal(decimal.NewFromInt(50000)) },
		},
		{
			name:  "string amount",
			in:    `{"amount": "50 ming"}`,
			check: func(d Draft) bool { return d.Amount.Value.Equal(decimal.NewFromInt(50000)) },
		},
		{
			name:  "null amount",
			in:    `{"amount": null}`,
			check: func(d Draft) bool { return !d.Amount.Valid },
		},
		{
			name:  "code fence",
			in:    "```json\n{\"is_group\": true, \"total_amount\": 230000}\n```",
			check: func(d Draft) bool { return d.IsGroup && d.TotalAmount.Valid },
		},
		{name: "garbage amount", in: `{"amount": "lots"}`, wantErr: true},
		{name: "not json", in: `I think Alisher owes you`, wantErr: true},
		{name: "wrong type", in: `{"participants": "Murod"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDraft(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrExtraction) {
					t.Fatalf("err = %v, want ErrExtraction", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.check(d) {
				t.Errorf("unexpected draft %+v", d)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	amount := func(s string) Amount { return NewAmount(decimal.RequireFromString(s)) }

	tests := []struct {
		name    string
		draft   Draft
		want    Intent
		wantErr bool
	}{
		{
			name:  "clarification",
			draft: Draft{ClarificationNeeded: true, ClarificationQuestion: " Who paid? "},
			want:  Clarification{Question: "Who paid?"},
		},
		{
			name:    "clarification without question",
			draft:   Draft{ClarificationNeeded: true},
			wantErr: true,
		},
		{
			name:  "simple debt",
			draft: Draft{Amount: amount("50000"), Direction: "owe_me", CreditorName: "Alisher"},
			want:  SimpleDebt{Amount: decimal.RequireFromString("50000"), Currency: "so'm", CreditorName: "Alisher", Direction: OweMe},
		},
		{
			name:    "unknown direction",
			draft:   Draft{Amount: amount("1"), Direction: "sideways"},
			wantErr: true,
		},
		{
			name:    "negative amount",
			draft:   Draft{Amount: amount("-1"), Direction: "i_owe"},
			wantErr: true,
		},
		{
			name:    "extractor error",
			draft:   Draft{Error: "boom"},
			wantErr: true,
		},
		{
			name:  "group",
			draft: Draft{IsGroup: true, TotalAmount: amount("230000"), Participants: []string{"Murod", " ", "Ibrohim", "Men"}, Currency: "UZS"},
			want: GroupExpense{
				Participants: []string{"Murod", "Ibrohim", "Men"},
				PayerName:    "Men",
				TotalAmount:  decimal.RequireFromString("230000"),
				Currency:     "UZS",
			},
		},
		{
			name:  "group without total asks",
			draft: Draft{IsGroup: true, Participants: []string{"Murod"}},
			want:  Clarification{Question: "What was the total amount?"},
		},
		{
			name:    "group with zero total",
			draft:   Draft{IsGroup: true, TotalAmount: amount("0")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.draft, "so'm")
			if tt.wantErr {
				if !errors.Is(err, ErrExtraction) {
					t.Fatalf("err = %v, want ErrExtraction", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(normalizeDecimals(got), normalizeDecimals(tt.want)) {
				t.Errorf("Normalize() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

// normalizeDecimals makes decimals comparable with DeepEqual.
func normalizeDecimals(i Intent) Intent {
	switch v := i.(type) {
	case SimpleDebt:
		v.Amount = decimal.RequireFromString(v.Amount.String())
		return v
	case GroupExpense:
		v.TotalAmount = decimal.RequireFromString(v.TotalAmount.String())
		return v
	}
	return i
}

func TestMissing(t *testing.T) {
	tests := []struct {
		name string
		s    SimpleDebt
		want []Field
	}{
		{"everything missing", SimpleDebt{}, []Field{FieldAmount, FieldDirection, FieldCounterparty}},
		{"owe_me without creditor", SimpleDebt{Amount: decimal.NewFromInt(5), Direction: OweMe}, []Field{FieldCounterparty}},
		{"owe_me name in other slot", SimpleDebt{Amount: decimal.NewFromInt(5), Direction: OweMe, DebtorName: "Ali"}, nil},
		{"i_owe self only", SimpleDebt{Amount: decimal.NewFromInt(5), Direction: IOwe, DebtorName: "men"}, []Field{FieldCounterparty}},
		{"complete", SimpleDebt{Amount: decimal.NewFromInt(5), Direction: IOwe, DebtorName: "Ali"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Missing(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Missing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFill(t *testing.T) {
	s := SimpleDebt{}

	if _, err := s.Fill(FieldAmount, "lots"); err == nil {
		t.Fatal("bad amount accepted")
	}
	s, err := s.Fill(FieldAmount, "50 ming")
	if err != nil {
		t.Fatal(err)
	}
	s, err = s.Fill(FieldDirection, "owe_me")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Fill(FieldCounterparty, "men"); err == nil {
		t.Fatal("self accepted as counterparty")
	}
	filled, err := s.Fill(FieldCounterparty, "Alisher")
	if err != nil {
		t.Fatal(err)
	}
	if filled.CreditorName != "Alisher" || s.CreditorName != "" {
		t.Errorf("Fill must return a copy: %+v / %+v", filled, s)
	}
	filled, _ = filled.Fill(FieldReason, "-")
	if filled.Reason != DefaultReason {
		t.Errorf("reason = %q", filled.Reason)
	}
	if len(filled.Missing()) != 0 {
		t.Errorf("still missing %v", filled.Missing())
	}
}

func TestParseDirection(t *testing.T) {
	tests := map[string]Direction{
		"i_owe":          IOwe,
		"owe_me":         OweMe,
		"He owes me":     OweMe,
		"I owe him":      IOwe,
		"Menga qarz bor": OweMe,
	}
	for in, want := range tests {
		got, ok := ParseDirection(in)
		if !ok || got != want {
			t.Errorf("ParseDirection(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseDirection("maybe"); ok {
		t.Error("nonsense accepted")
	}
}

func TestIsSelf(t *testing.T) {
	for _, n := range []string{"Men", " man ", "Me", "ya"} {
		if !IsSelf(n) {
			t.Errorf("IsSelf(%q) = false", n)
		}
	}
	if IsSelf("Murod") {
		t.Error("IsSelf(Murod) = true")
	}
}
