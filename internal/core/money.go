// Package core provides money parsing and handling utilities.
//
// Amounts are whole yen. Inputs from forms and from receipt scans may carry
// grouping separators, a currency sign or a fractional part; they are rounded
// half-up to the nearest yen.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var yenPrinter = message.NewPrinter(language.Japanese)

// ParseAmount converts a user-entered amount to Money.
//
// Examples:
//
//	ParseAmount("5000")    -> 5000, nil
//	ParseAmount("¥5,000")  -> 5000, nil
//	ParseAmount("1234.5")  -> 1235, nil
//	ParseAmount("-1")      -> 0, ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "¥")
	s = strings.TrimPrefix(s, "￥")
	s = strings.TrimSuffix(s, "円")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal rounds d half-up to whole yen. Non-positive results and
// values that do not fit in an int64 are rejected.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	r := d.Round(0)
	if !r.IsPositive() || !r.BigInt().IsInt64() {
		return 0, ErrInvalidAmount
	}
	return Money(r.IntPart()), nil
}

// String formats the amount as "¥5,000".
func (m Money) String() string {
	return yenPrinter.Sprintf("¥%d", int64(m))
}
