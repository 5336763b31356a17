package intent

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/susu3304/qarzbot/internal/apperr"
)

var (
	thousands = decimal.NewFromInt(1000)
	millions  = decimal.NewFromInt(1000000)

	dottedThousands = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
	commaThousands  = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
	commaDecimal    = regexp.MustCompile(`^\d+,\d{1,2}$`)
	numeric         = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

var currencyWords = []string{"so'm", "so‘m", "som", "sum", "uzs", "сум"}

var multipliers = []struct {
	suffix string
	factor decimal.Decimal
}{
	{"million", millions},
	{"mln", millions},
	{"млн", millions},
	{"thousand", thousands},
	{"ming", thousands},
	{"тыс", thousands},
	{"min", thousands},
	{"k", thousands},
}

// ParseAmount reads a typed amount such as "50000", "50,000", "230.000",
// "50 ming", "1.5 mln" or "1,5 mln". A comma groups thousands only in
// runs of three digits; "12,50" is a decimal comma. The result is
// non-negative and rounded to two decimals. Malformed text yields a
// ValidationError.
func ParseAmount(text string) (decimal.Decimal, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	for _, w := range currencyWords {
		s = strings.TrimSpace(strings.TrimSuffix(s, w))
	}

	factor := decimal.NewFromInt(1)
	for _, m := range multipliers {
		if strings.HasSuffix(s, m.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, m.suffix))
			factor = m.factor
			break
		}
	}

	s = strings.NewReplacer(" ", "", "_", "", "'", "").Replace(s)
	switch {
	case commaThousands.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case commaDecimal.MatchString(s):
		s = strings.Replace(s, ",", ".", 1)
	}
	if dottedThousands.MatchString(s) && factor.Equal(decimal.NewFromInt(1)) {
		s = strings.ReplaceAll(s, ".", "")
	}
	if !numeric.MatchString(s) {
		return decimal.Zero, apperr.Validation("amount", "%q is not a number", strings.TrimSpace(text))
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.Validation("amount", "%q is not a number", strings.TrimSpace(text))
	}
	return v.Mul(factor).Round(2), nil
}

// ParsePositiveAmount is ParseAmount that also rejects zero.
func ParsePositiveAmount(text string) (decimal.Decimal, error) {
	v, err := ParseAmount(text)
	if err != nil {
		return v, err
	}
	if !v.IsPositive() {
		return decimal.Zero, apperr.Validation("amount", "must be greater than zero")
	}
	return v, nil
}
