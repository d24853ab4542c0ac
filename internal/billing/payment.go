package billing

import (
	"fmt"

	"kakeibo/internal/core"
)

// AdvanceWatermark moves rule.LastPaidCycle forward to closingDateStr. It is a
// no-op, reported by the false result, when the rule already has a watermark
// at or after closingDateStr.
func AdvanceWatermark(rule core.CreditCardRule, closingDateStr string) (core.CreditCardRule, bool) {
	if rule.LastPaidCycle != "" && closingDateStr <= rule.LastPaidCycle {
		return rule, false
	}
	rule.LastPaidCycle = closingDateStr
	return rule, true
}

// PaymentTransfer builds the transfer that settles cycle: from the rule's
// default payment account to the card, dated on the payment date.
func (c Calendar) PaymentTransfer(cycle core.BillingCycle) core.Transaction {
	return core.Transaction{
		Type:          core.Transfer,
		Date:          c.ResolvePaymentDate(cycle.ClosingDate, cycle.Rule),
		Amount:        cycle.Amount,
		FromAccountID: cycle.Rule.DefaultPaymentAccountID,
		ToAccountID:   cycle.CardID,
		Description:   fmt.Sprintf("%s %s締め分 支払い", cycle.CardName, c.FormatDate(cycle.ClosingDate)),
		Source:        core.SourceBillPayment,
	}
}

// FindCycle returns the cycle of cardID closing on closingDateStr.
func FindCycle(cycles []core.BillingCycle, cardID, closingDateStr string) (core.BillingCycle, bool) {
	for _, cycle := range cycles {
		if cycle.CardID == cardID && cycle.ClosingDateStr() == closingDateStr {
			return cycle, true
		}
	}
	return core.BillingCycle{}, false
}
