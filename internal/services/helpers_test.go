package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"kakeibo/internal/billing"
	"kakeibo/internal/core"
	"kakeibo/internal/ports/memory"
)

var jst = time.FixedZone("JST", 9*60*60)

const testUser = "user-1"

func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, jst)
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

type fixture struct {
	store   *memory.Store
	ledger  *LedgerService
	billing *BillingService
}

// newFixture seeds a bank account, a Visa card with a rule closing on the
// 15th and paid on the 10th of the next month, and a food category.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	now := func() time.Time { return at(2024, time.March, 1) }

	ledger := NewLedgerService(store)
	ledger.newID = sequentialIDs("id")
	ledger.now = now

	bs := NewBillingService(store, billing.NewCalendar(jst))
	bs.newID = sequentialIDs("pay")
	bs.now = now

	for _, a := range []core.Account{
		{ID: "bank", UserID: testUser, Name: "銀行", Type: core.Asset, Order: 1},
		{ID: "visa", UserID: testUser, Name: "Visa", Type: core.Liability, Order: 1},
	} {
		if err := store.SaveAccount(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.SaveCategory(ctx, core.Category{ID: "food", UserID: testUser, Name: "食費", Type: core.Expense}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRule(ctx, testUser, core.CreditCardRule{
		CardID:                  "visa",
		ClosingDay:              15,
		PaymentDay:              10,
		PaymentMonthOffset:      1,
		DefaultPaymentAccountID: "bank",
	}); err != nil {
		t.Fatal(err)
	}
	return &fixture{store: store, ledger: ledger, billing: bs}
}

func (f *fixture) expense(t *testing.T, accountID string, date time.Time, amount core.Money) core.Transaction {
	t.Helper()
	tx, err := f.ledger.CreateTransaction(context.Background(), testUser, core.Transaction{
		Type:       core.Expense,
		Date:       date,
		Amount:     amount,
		AccountID:  accountID,
		CategoryID: "food",
	})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	return tx
}
