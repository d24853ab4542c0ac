package billing

import (
	"sort"
	"time"

	"kakeibo/internal/core"
)

// CalculateBills returns one BillingCycle per (card, closing date) that still
// has unpaid expenses. Cards are the non-deleted liability accounts that have
// a rule; cards without a rule are skipped. Expenses whose cycle key is at or
// before the rule's LastPaidCycle are excluded. The result is ordered by the
// card's display order, then by closing date.
func (c Calendar) CalculateBills(txs []core.Transaction, rules map[string]core.CreditCardRule, accounts []core.Account) []core.BillingCycle {
	type groupKey struct {
		cardID string
		key    string
	}

	cards := make(map[string]core.Account)
	for _, a := range accounts {
		if a.Type != core.Liability || a.IsDeleted {
			continue
		}
		if _, ok := rules[a.ID]; !ok {
			continue
		}
		cards[a.ID] = a
	}

	sums := make(map[groupKey]core.Money)
	closings := make(map[groupKey]time.Time)
	for _, tx := range txs {
		if tx.Type != core.Expense {
			continue
		}
		card, ok := cards[tx.AccountID]
		if !ok {
			continue
		}
		rule := rules[card.ID]
		closing := c.ResolveClosingDate(tx.Date, rule.ClosingDay)
		key := c.CycleKey(closing)
		if rule.LastPaidCycle != "" && key <= rule.LastPaidCycle {
			continue
		}
		k := groupKey{cardID: card.ID, key: key}
		sums[k] += tx.Amount
		closings[k] = closing
	}

	cycles := make([]core.BillingCycle, 0, len(sums))
	for k, amount := range sums {
		card := cards[k.cardID]
		cycles = append(cycles, core.BillingCycle{
			CardID:      card.ID,
			CardName:    card.Name,
			Rule:        rules[card.ID],
			ClosingDate: closings[k],
			Amount:      amount,
			Icon:        card.Icon,
			Order:       card.Order,
		})
	}

	sort.Slice(cycles, func(i, j int) bool {
		a, b := cycles[i], cycles[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if !a.ClosingDate.Equal(b.ClosingDate) {
			return a.ClosingDate.Before(b.ClosingDate)
		}
		return a.CardID < b.CardID
	})
	return cycles
}
