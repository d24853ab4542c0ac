package billing

import (
	"testing"
	"time"

	"kakeibo/internal/core"
)

var jst = time.FixedZone("JST", 9*60*60)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, jst)
}

func TestSetDaySafe(t *testing.T) {
	tests := []struct {
		name  string
		year  int
		month time.Month
		day   int
		want  time.Time
	}{
		{"plain day", 2024, time.March, 15, day(2024, time.March, 15)},
		{"february leap clamp", 2024, time.February, 31, day(2024, time.February, 29)},
		{"february clamp", 2023, time.February, 31, day(2023, time.February, 28)},
		{"thirty day month", 2024, time.April, 31, day(2024, time.April, 30)},
		{"day below range", 2024, time.May, 0, day(2024, time.May, 1)},
		{"month rolls into next year", 2023, 13, 31, day(2024, time.January, 31)},
		{"month rolls into previous year", 2024, 0, 15, day(2023, time.December, 15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SetDaySafe(tt.year, tt.month, tt.day, jst)
			if !got.Equal(tt.want) {
				t.Fatalf("SetDaySafe(%d, %d, %d) = %s, want %s", tt.year, tt.month, tt.day, got, tt.want)
			}
		})
	}
}

func TestSetDaySafe_StaysInMonth(t *testing.T) {
	for year := 2023; year <= 2024; year++ {
		for month := time.January; month <= time.December; month++ {
			for d := -1; d <= 35; d++ {
				got := SetDaySafe(year, month, d, jst)
				if got.Year() != year || got.Month() != month {
					t.Fatalf("SetDaySafe(%d, %d, %d) escaped its month: %s", year, month, d, got)
				}
			}
		}
	}
}

func TestResolveClosingDate(t *testing.T) {
	cal := NewCalendar(jst)

	tests := []struct {
		name       string
		tx         time.Time
		closingDay int
		want       time.Time
	}{
		{"before closing day", day(2024, time.January, 10), 15, day(2024, time.January, 15)},
		{"on closing day", day(2024, time.January, 15), 15, day(2024, time.January, 15)},
		{"after closing day", day(2024, time.January, 20), 15, day(2024, time.February, 15)},
		{"closing 31 in leap february", day(2024, time.February, 10), 31, day(2024, time.February, 29)},
		{"closing 31 in february", day(2023, time.February, 10), 31, day(2023, time.February, 28)},
		{"last day of february with closing 31", day(2024, time.February, 29), 31, day(2024, time.February, 29)},
		{"closing 30 from january 31", day(2024, time.January, 31), 30, day(2024, time.February, 29)},
		{"december rolls into january", day(2023, time.December, 20), 15, day(2024, time.January, 15)},
		{"legacy closing day above range", day(2024, time.April, 10), 40, day(2024, time.April, 30)},
		{"legacy closing day below range", day(2024, time.April, 10), 0, day(2024, time.May, 1)},
		{
			name:       "instant is resolved in the billing zone",
			tx:         time.Date(2024, time.January, 15, 20, 0, 0, 0, time.UTC), // 16th in JST
			closingDay: 15,
			want:       day(2024, time.February, 15),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cal.ResolveClosingDate(tt.tx, tt.closingDay)
			if !got.Equal(tt.want) {
				t.Fatalf("ResolveClosingDate(%s, %d) = %s, want %s", tt.tx, tt.closingDay, got, tt.want)
			}
		})
	}
}

func TestResolveClosingDate_NeverBeforeTransaction(t *testing.T) {
	cal := NewCalendar(jst)
	start := day(2023, time.January, 1)
	for closingDay := 1; closingDay <= 31; closingDay++ {
		prev := time.Time{}
		for d := start; d.Year() < 2025; d = d.AddDate(0, 0, 1) {
			got := cal.ResolveClosingDate(d, closingDay)
			if got.Before(d) {
				t.Fatalf("closing day %d: %s resolved to earlier %s", closingDay, d.Format(core.CycleKeyLayout), got.Format(core.CycleKeyLayout))
			}
			if got.Before(prev) {
				t.Fatalf("closing day %d: closing dates went backwards at %s", closingDay, d.Format(core.CycleKeyLayout))
			}
			prev = got
		}
	}
}

func TestResolvePaymentDate(t *testing.T) {
	cal := NewCalendar(jst)
	rule := core.CreditCardRule{ClosingDay: 15, PaymentDay: 10, PaymentMonthOffset: 1}

	tests := []struct {
		name    string
		closing time.Time
		rule    core.CreditCardRule
		want    time.Time
	}{
		{"next month", day(2024, time.January, 15), rule, day(2024, time.February, 10)},
		{"following cycle", day(2024, time.February, 15), rule, day(2024, time.March, 10)},
		{
			name:    "payment day clamped",
			closing: day(2024, time.January, 31),
			rule:    core.CreditCardRule{ClosingDay: 31, PaymentDay: 31, PaymentMonthOffset: 1},
			want:    day(2024, time.February, 29),
		},
		{
			name:    "offset crosses year",
			closing: day(2023, time.December, 15),
			rule:    core.CreditCardRule{ClosingDay: 15, PaymentDay: 27, PaymentMonthOffset: 2},
			want:    day(2024, time.February, 27),
		},
		{
			name:    "legacy zero offset treated as one",
			closing: day(2024, time.January, 15),
			rule:    core.CreditCardRule{ClosingDay: 15, PaymentDay: 10, PaymentMonthOffset: 0},
			want:    day(2024, time.February, 10),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cal.ResolvePaymentDate(tt.closing, tt.rule)
			if !got.Equal(tt.want) {
				t.Fatalf("ResolvePaymentDate(%s) = %s, want %s", tt.closing, got, tt.want)
			}
		})
	}
}

func TestResolvePaymentDate_AfterClosing(t *testing.T) {
	cal := NewCalendar(jst)
	for closingDay := 1; closingDay <= 31; closingDay++ {
		for paymentDay := 1; paymentDay <= 31; paymentDay++ {
			for offset := 1; offset <= 3; offset++ {
				rule := core.CreditCardRule{ClosingDay: closingDay, PaymentDay: paymentDay, PaymentMonthOffset: offset}
				for month := time.January; month <= time.December; month++ {
					closing := SetDaySafe(2024, month, closingDay, jst)
					if got := cal.ResolvePaymentDate(closing, rule); !got.After(closing) {
						t.Fatalf("rule %+v: payment %s not after closing %s", rule, got, closing)
					}
				}
			}
		}
	}
}

func TestPeriodStartFollowsPreviousClosing(t *testing.T) {
	cal := NewCalendar(jst)
	for closingDay := 1; closingDay <= 31; closingDay++ {
		rule := core.CreditCardRule{ClosingDay: closingDay}
		for month := time.January; month <= time.December; month++ {
			closing := SetDaySafe(2024, month, closingDay, jst)
			prev := SetDaySafe(2024, month-1, closingDay, jst)
			want := prev.AddDate(0, 0, 1)
			if got := cal.PeriodStart(closing, rule); !got.Equal(want) {
				t.Fatalf("closing day %d, %s: start %s, want %s", closingDay, closing.Format(core.CycleKeyLayout), got, want)
			}
		}
	}
}

func TestCycleKeyRoundTrip(t *testing.T) {
	cal := NewCalendar(jst)
	got, err := cal.ParseCycleKey("2024-02-29")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(day(2024, time.February, 29)) {
		t.Fatalf("unexpected date %s", got)
	}
	if key := cal.CycleKey(got); key != "2024-02-29" {
		t.Fatalf("unexpected key %q", key)
	}
	if _, err := cal.ParseCycleKey("2024-02-30"); err == nil {
		t.Fatalf("expected error for impossible date")
	}
}
