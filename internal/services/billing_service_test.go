package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"kakeibo/internal/core"
	"kakeibo/internal/ports"
)

func TestBillingService_UnpaidBills(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.expense(t, "visa", at(2024, 1, 10), 5000)
	f.expense(t, "visa", at(2024, 1, 15), 1000)
	f.expense(t, "visa", at(2024, 1, 20), 3000)
	f.expense(t, "bank", at(2024, 1, 20), 9999)

	bills, err := f.billing.UnpaidBills(ctx, testUser)
	if err != nil {
		t.Fatalf("UnpaidBills: %v", err)
	}
	if len(bills) != 2 {
		t.Fatalf("expected 2 bills, got %+v", bills)
	}
	first := bills[0]
	if first.ClosingDate != "2024-01-15" || first.Amount != 6000 || first.PaymentDate != "2024-02-10" {
		t.Errorf("unexpected first bill %+v", first)
	}
	if first.Period != "2023年12月16日 〜 2024年1月15日" {
		t.Errorf("unexpected period %q", first.Period)
	}
	if first.AmountLabel != "¥6,000" {
		t.Errorf("unexpected amount label %q", first.AmountLabel)
	}
	if bills[1].ClosingDate != "2024-02-15" || bills[1].Amount != 3000 {
		t.Errorf("unexpected second bill %+v", bills[1])
	}
}

func TestBillingService_UnpaidBillsWithoutRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.expense(t, "visa", at(2024, 1, 10), 5000)
	if err := f.store.DeleteRule(ctx, testUser, "visa"); err != nil {
		t.Fatal(err)
	}
	bills, err := f.billing.UnpaidBills(ctx, testUser)
	if err != nil || len(bills) != 0 {
		t.Fatalf("expected no bills, got %+v, %v", bills, err)
	}
}

func TestBillingService_PayCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.expense(t, "visa", at(2024, 1, 10), 5000)
	f.expense(t, "visa", at(2024, 1, 20), 3000)

	var changed int
	f.billing.OnChange = func(string) { changed++ }

	draft, err := f.billing.PreparePayment(ctx, testUser, "visa", "2024-01-15")
	if err != nil {
		t.Fatalf("PreparePayment: %v", err)
	}
	tr := draft.Transfer
	if tr.Type != core.Transfer || tr.FromAccountID != "bank" || tr.ToAccountID != "visa" || tr.Amount != 5000 {
		t.Fatalf("unexpected transfer %+v", tr)
	}
	if y, m, d := tr.Date.In(jst).Date(); y != 2024 || m != 2 || d != 10 {
		t.Fatalf("transfer dated %v, want 2024-02-10", tr.Date)
	}
	if draft.Pending.ClosingDateStr != "2024-01-15" || draft.Pending.CardID != "visa" {
		t.Fatalf("unexpected pending %+v", draft.Pending)
	}

	// The user pays a different amount than the bill.
	tr.Amount = 4000
	saved, advanced, err := f.billing.RecordPayment(ctx, testUser, draft.Pending, tr)
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if !advanced {
		t.Fatal("expected watermark to advance")
	}
	if saved.ID == "" || saved.Source != core.SourceBillPayment || saved.Amount != 4000 {
		t.Fatalf("unexpected saved transfer %+v", saved)
	}
	if changed != 1 {
		t.Fatalf("OnChange called %d times", changed)
	}

	rule, _ := f.store.GetRule(ctx, testUser, "visa")
	if rule.LastPaidCycle != "2024-01-15" {
		t.Fatalf("watermark = %q", rule.LastPaidCycle)
	}
	bills, _ := f.billing.UnpaidBills(ctx, testUser)
	if len(bills) != 1 || bills[0].ClosingDate != "2024-02-15" {
		t.Fatalf("expected only the february bill, got %+v", bills)
	}

	if _, err := f.billing.PreparePayment(ctx, testUser, "visa", "2024-01-15"); !errors.Is(err, ErrCycleNotFound) {
		t.Fatalf("paid cycle should not be preparable, got %v", err)
	}
	if !errors.Is(ErrCycleNotFound, ports.ErrNotFound) {
		t.Fatal("ErrCycleNotFound should be a not-found error")
	}
}

func TestBillingService_RecordPaymentNeverRegresses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.billing.MarkCycleAsPaid(ctx, testUser, "visa", "2024-03-15"); err != nil {
		t.Fatal(err)
	}

	tr := core.Transaction{Type: core.Transfer, Date: at(2024, 2, 10), Amount: 100, FromAccountID: "bank", ToAccountID: "visa"}
	saved, advanced, err := f.billing.RecordPayment(ctx, testUser, core.PendingBillPayment{CardID: "visa", ClosingDateStr: "2024-01-15"}, tr)
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if advanced {
		t.Fatal("older cycle must not move the watermark")
	}
	if _, err := f.store.GetTransaction(ctx, testUser, saved.ID); err != nil {
		t.Fatalf("transfer should still be saved: %v", err)
	}
	rule, _ := f.store.GetRule(ctx, testUser, "visa")
	if rule.LastPaidCycle != "2024-03-15" {
		t.Fatalf("watermark regressed to %q", rule.LastPaidCycle)
	}
}

func TestBillingService_RecordPaymentValidation(t *testing.T) {
	ctx := context.Background()
	pending := core.PendingBillPayment{CardID: "visa", ClosingDateStr: "2024-01-15"}
	good := core.Transaction{Type: core.Transfer, Date: at(2024, 2, 10), Amount: 100, FromAccountID: "bank", ToAccountID: "visa"}

	tests := []struct {
		name    string
		pending core.PendingBillPayment
		mutate  func(*core.Transaction)
	}{
		{name: "bad cycle key", pending: core.PendingBillPayment{CardID: "visa", ClosingDateStr: "2024/01/15"}, mutate: func(*core.Transaction) {}},
		{name: "not a transfer", pending: pending, mutate: func(tx *core.Transaction) { tx.Type = core.Expense; tx.AccountID = "visa" }},
		{name: "paid into another account", pending: pending, mutate: func(tx *core.Transaction) { tx.ToAccountID = "bank"; tx.FromAccountID = "visa" }},
		{name: "zero amount", pending: pending, mutate: func(tx *core.Transaction) { tx.Amount = 0 }},
		{name: "unknown source account", pending: pending, mutate: func(tx *core.Transaction) { tx.FromAccountID = "ghost" }},
		{name: "card without rule", pending: core.PendingBillPayment{CardID: "bank", ClosingDateStr: "2024-01-15"}, mutate: func(tx *core.Transaction) { tx.ToAccountID = "bank"; tx.FromAccountID = "visa" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tx := good
			tt.mutate(&tx)
			_, _, err := f.billing.RecordPayment(ctx, testUser, tt.pending, tx)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			rule, _ := f.store.GetRule(ctx, testUser, "visa")
			if rule.LastPaidCycle != "" {
				t.Fatalf("watermark moved to %q", rule.LastPaidCycle)
			}
			txs, _ := f.store.ListTransactions(ctx, testUser, ports.TransactionFilter{})
			if len(txs) != 0 {
				t.Fatalf("rejected payment stored %d transactions", len(txs))
			}
		})
	}
}

func TestBillingService_MarkCycleAsPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	steps := []struct {
		key  string
		want bool
	}{
		{"2024-01-15", true},
		{"2024-01-15", false},
		{"2023-12-15", false},
		{"2024-02-15", true},
	}
	for _, s := range steps {
		got, err := f.billing.MarkCycleAsPaid(ctx, testUser, "visa", s.key)
		if err != nil {
			t.Fatalf("MarkCycleAsPaid(%s): %v", s.key, err)
		}
		if got != s.want {
			t.Fatalf("MarkCycleAsPaid(%s) = %v, want %v", s.key, got, s.want)
		}
	}

	if _, err := f.billing.MarkCycleAsPaid(ctx, testUser, "visa", "15/01/2024"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.billing.MarkCycleAsPaid(ctx, testUser, "amex", "2024-01-15"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found for card without rule, got %v", err)
	}
}

func TestBillingService_ConcurrentMarkKeepsMaximum(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	keys := []string{"2024-01-15", "2024-05-15", "2024-03-15", "2024-02-15", "2024-04-15"}

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			if _, err := f.billing.MarkCycleAsPaid(ctx, testUser, "visa", k); err != nil {
				t.Errorf("MarkCycleAsPaid(%s): %v", k, err)
			}
		}(k)
	}
	wg.Wait()

	rule, _ := f.store.GetRule(ctx, testUser, "visa")
	if rule.LastPaidCycle != "2024-05-15" {
		t.Fatalf("watermark = %q, want 2024-05-15", rule.LastPaidCycle)
	}
}

func TestBillingService_RecordPaymentRequiresAssetSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.store.SaveAccount(ctx, core.Account{ID: "amex", UserID: testUser, Name: "Amex", Type: core.Liability, Order: 2}); err != nil {
		t.Fatal(err)
	}

	tr := core.Transaction{Type: core.Transfer, Date: at(2024, 2, 10), Amount: 100, FromAccountID: "amex", ToAccountID: "visa"}
	_, _, err := f.billing.RecordPayment(ctx, testUser, core.PendingBillPayment{CardID: "visa", ClosingDateStr: "2024-01-15"}, tr)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a card paying a card, got %v", err)
	}
	rule, _ := f.store.GetRule(ctx, testUser, "visa")
	if rule.LastPaidCycle != "" {
		t.Fatalf("watermark moved to %q", rule.LastPaidCycle)
	}
	txs, _ := f.store.ListTransactions(ctx, testUser, ports.TransactionFilter{})
	if len(txs) != 0 {
		t.Fatalf("rejected payment stored %d transactions", len(txs))
	}
}
