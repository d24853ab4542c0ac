// Package billing derives credit-card billing cycles from dated expenses and
// per-card closing/payment rules.
//
// All calendar arithmetic happens in a single billing time zone carried by
// Calendar. Nothing in this package keeps state between calls; the caller
// supplies transactions, rules and accounts and receives derived values.
package billing

import (
	"time"

	"kakeibo/internal/core"
)

// Calendar resolves billing dates in one time zone.
type Calendar struct {
	loc *time.Location
}

// NewCalendar returns a Calendar for loc. A nil loc means UTC.
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// Location returns the billing time zone.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// LastDayOfMonth returns the number of days in the given month.
func LastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// SetDaySafe returns midnight of the given day in loc, with day clamped to
// [1, last day of month]. Month values outside 1..12 roll over into adjacent
// years the same way time.Date does.
func SetDaySafe(year int, month time.Month, day int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := LastDayOfMonth(first.Year(), first.Month())
	if day < 1 {
		day = 1
	}
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, loc)
}

// ResolveClosingDate returns the closing date of the cycle that contains
// txDate. A transaction dated after the closing day belongs to next month's
// cycle.
func (c Calendar) ResolveClosingDate(txDate time.Time, closingDay int) time.Time {
	closingDay = clampDay(closingDay)
	d := txDate.In(c.Location())
	year, month := d.Year(), d.Month()
	if d.Day() > closingDay {
		month++
	}
	return SetDaySafe(year, month, closingDay, c.Location())
}

// ResolvePaymentDate returns the date the cycle closing on closingDate is
// paid: PaymentMonthOffset months later, on PaymentDay.
func (c Calendar) ResolvePaymentDate(closingDate time.Time, rule core.CreditCardRule) time.Time {
	d := closingDate.In(c.Location())
	offset := rule.PaymentMonthOffset
	if offset < 1 {
		offset = 1
	}
	return SetDaySafe(d.Year(), d.Month()+time.Month(offset), clampDay(rule.PaymentDay), c.Location())
}

// PeriodStart returns the first day covered by the cycle closing on
// closingDate.
func (c Calendar) PeriodStart(closingDate time.Time, rule core.CreditCardRule) time.Time {
	d := closingDate.In(c.Location())
	closingDay := clampDay(rule.ClosingDay)
	if closingDay >= 31 {
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, c.Location())
	}
	prev := SetDaySafe(d.Year(), d.Month()-1, closingDay, c.Location())
	return prev.AddDate(0, 0, 1)
}

// CycleKey formats a closing date in the billing zone as YYYY-MM-DD.
func (c Calendar) CycleKey(closingDate time.Time) string {
	return closingDate.In(c.Location()).Format(core.CycleKeyLayout)
}

// ParseCycleKey parses a YYYY-MM-DD key as midnight in the billing zone.
func (c Calendar) ParseCycleKey(key string) (time.Time, error) {
	if err := core.ValidateCycleKey(key); err != nil {
		return time.Time{}, err
	}
	return time.ParseInLocation(core.CycleKeyLayout, key, c.Location())
}

func clampDay(day int) int {
	if day < 1 {
		return 1
	}
	if day > 31 {
		return 31
	}
	return day
}
