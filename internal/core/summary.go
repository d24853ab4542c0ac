package core

// CategoryAmount is an amount aggregated by category.
type CategoryAmount struct {
	CategoryID string `json:"categoryId"`
	Name       string `json:"name"`
	Icon       string `json:"icon,omitempty"`
	Amount     Money  `json:"amount"`
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year      int              `json:"year"`
	Month     int              `json:"month"` // 1-12
	Income    Money            `json:"income"`
	Expense   Money            `json:"expense"`
	Net       Money            `json:"net"`
	ByExpense []CategoryAmount `json:"byExpenseCategory"`
	ByIncome  []CategoryAmount `json:"byIncomeCategory"`
}

// AccountBalance is the signed balance of one account. Liability balances are
// negative while debt is outstanding.
type AccountBalance struct {
	AccountID string      `json:"accountId"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	Balance   Money       `json:"balance"`
}

// NetWorthPoint is a month-end snapshot.
type NetWorthPoint struct {
	Month       string `json:"month"` // YYYY-MM
	Assets      Money  `json:"assets"`
	Liabilities Money  `json:"liabilities"`
	NetWorth    Money  `json:"netWorth"`
}
