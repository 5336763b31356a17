// Package money formats decimal amounts for chat messages.
package money

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.English)

// Format renders an amount with thousands separators and at most two
// fraction digits, followed by the currency when one is given.
func Format(d decimal.Decimal, currency string) string {
	s := printer.Sprint(number.Decimal(d.Round(2).InexactFloat64(), number.MaxFractionDigits(2)))
	if currency == "" {
		return s
	}
	return s + " " + currency
}
