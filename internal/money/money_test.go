package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     string
	}{
		{"50000", "so'm", "50,000 so'm"},
		{"76666.666", "so'm", "76,666.67 so'm"},
		{"0.5", "", "0.5"},
		{"1234567", "UZS", "1,234,567 UZS"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Format(decimal.RequireFromString(tt.in), tt.currency)
			if got != tt.want {
				t.Errorf("Format(%s) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
