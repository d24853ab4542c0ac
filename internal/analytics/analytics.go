// Package analytics computes dashboard figures from transactions.
package analytics

import (
	"fmt"
	"sort"
	"time"

	"kakeibo/internal/core"
)

// MonthRange returns [start of month, start of next month) in loc.
func MonthRange(year, month int, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// MonthOverview totals income and expense for one month and breaks both
// down by category. Transactions outside the month are ignored; transfers
// never count as income or expense.
func MonthOverview(year, month int, loc *time.Location, txs []core.Transaction, categories []core.Category) core.MonthOverview {
	start, end := MonthRange(year, month, loc)
	byID := make(map[string]core.Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}

	ov := core.MonthOverview{Year: year, Month: month}
	expense := make(map[string]core.Money)
	income := make(map[string]core.Money)
	for _, tx := range txs {
		if tx.Date.Before(start) || !tx.Date.Before(end) {
			continue
		}
		switch tx.Type {
		case core.Income:
			ov.Income += tx.Amount
			income[tx.CategoryID] += tx.Amount
		case core.Expense:
			ov.Expense += tx.Amount
			expense[tx.CategoryID] += tx.Amount
		}
	}
	ov.Net = ov.Income - ov.Expense
	ov.ByExpense = breakdown(expense, byID)
	ov.ByIncome = breakdown(income, byID)
	return ov
}

func breakdown(sums map[string]core.Money, byID map[string]core.Category) []core.CategoryAmount {
	out := make([]core.CategoryAmount, 0, len(sums))
	for id, amount := range sums {
		ca := core.CategoryAmount{CategoryID: id, Amount: amount, Name: "未分類"}
		if c, ok := byID[id]; ok {
			ca.Name = c.Name
			ca.Icon = c.Icon
		}
		out = append(out, ca)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out
}

// applyBalance adds tx's effect to balances. Income raises and expense lowers
// the account; a transfer moves the amount from one account to the other.
func applyBalance(balances map[string]core.Money, tx core.Transaction) {
	switch tx.Type {
	case core.Income:
		balances[tx.AccountID] += tx.Amount
	case core.Expense:
		balances[tx.AccountID] -= tx.Amount
	case core.Transfer:
		balances[tx.FromAccountID] -= tx.Amount
		balances[tx.ToAccountID] += tx.Amount
	}
}

// Balances returns the signed balance of every non-deleted account, in
// account order. Liabilities carry negative balances while debt is owed.
func Balances(accounts []core.Account, txs []core.Transaction) []core.AccountBalance {
	sums := make(map[string]core.Money)
	for _, tx := range txs {
		applyBalance(sums, tx)
	}
	out := make([]core.AccountBalance, 0, len(accounts))
	for _, a := range sortedActive(accounts) {
		out = append(out, core.AccountBalance{AccountID: a.ID, Name: a.Name, Type: a.Type, Balance: sums[a.ID]})
	}
	return out
}

// NetWorthHistory returns month-end snapshots for the given number of months
// ending with the month containing now, oldest first.
func NetWorthHistory(months int, now time.Time, loc *time.Location, accounts []core.Account, txs []core.Transaction) []core.NetWorthPoint {
	if months < 1 {
		return nil
	}
	kind := make(map[string]core.AccountType)
	for _, a := range accounts {
		if !a.IsDeleted {
			kind[a.ID] = a.Type
		}
	}

	sorted := append([]core.Transaction(nil), txs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	local := now.In(loc)
	first := time.Date(local.Year(), local.Month()-time.Month(months-1), 1, 0, 0, 0, 0, loc)

	balances := make(map[string]core.Money)
	points := make([]core.NetWorthPoint, 0, months)
	i := 0
	for m := 0; m < months; m++ {
		monthStart := first.AddDate(0, m, 0)
		monthEnd := monthStart.AddDate(0, 1, 0)
		for i < len(sorted) && sorted[i].Date.Before(monthEnd) {
			applyBalance(balances, sorted[i])
			i++
		}
		p := core.NetWorthPoint{Month: fmt.Sprintf("%04d-%02d", monthStart.Year(), int(monthStart.Month()))}
		for id, bal := range balances {
			switch kind[id] {
			case core.Asset:
				p.Assets += bal
			case core.Liability:
				p.Liabilities += bal
			}
		}
		p.NetWorth = p.Assets + p.Liabilities
		points = append(points, p)
	}
	return points
}

func sortedActive(accounts []core.Account) []core.Account {
	out := make([]core.Account, 0, len(accounts))
	for _, a := range accounts {
		if !a.IsDeleted {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type == core.Asset
		}
		return out[i].Order < out[j].Order
	})
	return out
}
