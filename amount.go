package saft

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizeAmountString rewrites a locale-variant numeric string into the
// plain form decimal.NewFromString accepts. Producers use period or comma as
// the decimal separator and spaces, non-breaking spaces or periods as
// grouping separators.
//
// Rules, in order: when both ',' and '.' occur the right-most one is the
// decimal separator and the other is grouping; a lone ',' is decimal; with
// multiple '.' all but the last are grouping.
func NormalizeAmountString(s string) string {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimSpace(s)
	ci := strings.LastIndex(s, ",")
	pi := strings.LastIndex(s, ".")
	switch {
	case ci >= 0 && pi >= 0:
		if ci > pi {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case ci >= 0:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	default:
		if strings.Count(s, ".") > 1 {
			s = strings.Replace(s, ".", "", strings.Count(s, ".")-1)
		}
	}
	return strings.ReplaceAll(s, " ", "")
}

// ParseAmount parses a raw numeric string into an exact decimal. It returns
// ErrAmountFormat when nothing numeric is left after separator stripping.
// Binary floats are never involved, so later sums reproduce exactly.
func ParseAmount(raw string) (decimal.Decimal, error) {
	norm := NormalizeAmountString(raw)
	if !strings.ContainsAny(norm, "0123456789") {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrAmountFormat, raw)
	}
	d, err := decimal.NewFromString(norm)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrAmountFormat, raw)
	}
	return d, nil
}

// amountString renders a decimal preserving its scale: "500.00" stays
// "500.00" through sums and sign flips instead of collapsing to "500".
// Sums inherit the smallest exponent of their operands, so voucher totals
// keep the scale of the amounts that built them.
func amountString(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// debitCreditSign interprets a debit/credit indicator value. Returns +1 for
// debit, -1 for credit, 0 for anything unrecognized.
func debitCreditSign(indicator string) int {
	switch strings.ToUpper(strings.TrimSpace(indicator)) {
	case "D", "DR", "DEBIT":
		return 1
	case "C", "CR", "K", "CREDIT", "KREDIT":
		return -1
	}
	return 0
}

// splitSigned derives the debit/credit pair from a signed amount: positive is
// the debit side, negative the credit side.
func splitSigned(amount decimal.Decimal) (debit, credit decimal.Decimal) {
	if amount.Sign() < 0 {
		return decimal.Zero, amount.Neg()
	}
	return amount, decimal.Zero
}
