package billing

import (
	"fmt"
	"time"

	"kakeibo/internal/core"
)

// Bill is the display form of a BillingCycle.
type Bill struct {
	CardID                  string     `json:"cardId"`
	CardName                string     `json:"cardName"`
	Icon                    string     `json:"icon,omitempty"`
	ClosingDate             string     `json:"closingDate"`
	ClosingLabel            string     `json:"closingLabel"`
	Period                  string     `json:"period"`
	PaymentDate             string     `json:"paymentDate"`
	PaymentLabel            string     `json:"paymentLabel"`
	Amount                  core.Money `json:"amount"`
	AmountLabel             string     `json:"amountLabel"`
	DefaultPaymentAccountID string     `json:"defaultPaymentAccountId"`
}

// FormatDate renders t in the billing zone as "2024年1月15日".
func (c Calendar) FormatDate(t time.Time) string {
	d := t.In(c.Location())
	return fmt.Sprintf("%d年%d月%d日", d.Year(), int(d.Month()), d.Day())
}

// FormatBillingPeriod renders the span covered by the cycle closing on
// closingDate, e.g. "2024年1月16日 〜 2024年2月15日".
func (c Calendar) FormatBillingPeriod(closingDate time.Time, rule core.CreditCardRule) string {
	return c.FormatDate(c.PeriodStart(closingDate, rule)) + " 〜 " + c.FormatDate(closingDate)
}

// Present maps cycles to bills, preserving order.
func (c Calendar) Present(cycles []core.BillingCycle) []Bill {
	bills := make([]Bill, 0, len(cycles))
	for _, cycle := range cycles {
		payment := c.ResolvePaymentDate(cycle.ClosingDate, cycle.Rule)
		bills = append(bills, Bill{
			CardID:                  cycle.CardID,
			CardName:                cycle.CardName,
			Icon:                    cycle.Icon,
			ClosingDate:             c.CycleKey(cycle.ClosingDate),
			ClosingLabel:            c.FormatDate(cycle.ClosingDate),
			Period:                  c.FormatBillingPeriod(cycle.ClosingDate, cycle.Rule),
			PaymentDate:             c.CycleKey(payment),
			PaymentLabel:            c.FormatDate(payment),
			Amount:                  cycle.Amount,
			AmountLabel:             cycle.Amount.String(),
			DefaultPaymentAccountID: cycle.Rule.DefaultPaymentAccountID,
		})
	}
	return bills
}
