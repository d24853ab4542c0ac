package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMoneyValidate(t *testing.T) {
	if err := Money(1).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := Money(0).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := Money(-5).Validate(); err == nil {
		t.Fatalf("expected error for negative")
	}
}

func TestTransactionValidate(t *testing.T) {
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		tx      Transaction
		wantErr error
	}{
		{
			name: "expense ok",
			tx:   Transaction{Type: Expense, Date: day, Amount: 500, AccountID: "card"},
		},
		{
			name: "transfer ok",
			tx:   Transaction{Type: Transfer, Date: day, Amount: 500, FromAccountID: "bank", ToAccountID: "card"},
		},
		{
			name:    "zero date",
			tx:      Transaction{Type: Expense, Amount: 500, AccountID: "card"},
			wantErr: ErrInvalidDate,
		},
		{
			name:    "zero amount",
			tx:      Transaction{Type: Income, Date: day, AccountID: "bank"},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "expense without account",
			tx:      Transaction{Type: Expense, Date: day, Amount: 1},
			wantErr: ErrMissingAccount,
		},
		{
			name:    "transfer missing side",
			tx:      Transaction{Type: Transfer, Date: day, Amount: 1, FromAccountID: "bank"},
			wantErr: ErrMissingAccount,
		},
		{
			name:    "transfer to itself",
			tx:      Transaction{Type: Transfer, Date: day, Amount: 1, FromAccountID: "bank", ToAccountID: "bank"},
			wantErr: ErrSameAccount,
		},
		{
			name:    "unknown type",
			tx:      Transaction{Type: "gift", Date: day, Amount: 1, AccountID: "bank"},
			wantErr: ErrInvalidType,
		},
		{
			name:    "description too long",
			tx:      Transaction{Type: Expense, Date: day, Amount: 1, AccountID: "card", Description: strings.Repeat("あ", 201)},
			wantErr: ErrDescriptionTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreditCardRuleValidate(t *testing.T) {
	valid := CreditCardRule{CardID: "card", ClosingDay: 15, PaymentDay: 10, PaymentMonthOffset: 1, DefaultPaymentAccountID: "bank"}

	tests := []struct {
		name    string
		mutate  func(*CreditCardRule)
		wantErr error
	}{
		{name: "valid", mutate: func(*CreditCardRule) {}},
		{name: "closing day 31", mutate: func(r *CreditCardRule) { r.ClosingDay = 31 }},
		{name: "closing day 0", mutate: func(r *CreditCardRule) { r.ClosingDay = 0 }, wantErr: ErrInvalidClosingDay},
		{name: "closing day 32", mutate: func(r *CreditCardRule) { r.ClosingDay = 32 }, wantErr: ErrInvalidClosingDay},
		{name: "payment day 0", mutate: func(r *CreditCardRule) { r.PaymentDay = 0 }, wantErr: ErrInvalidPaymentDay},
		{name: "offset 0", mutate: func(r *CreditCardRule) { r.PaymentMonthOffset = 0 }, wantErr: ErrInvalidPaymentOffset},
		{name: "offset 4", mutate: func(r *CreditCardRule) { r.PaymentMonthOffset = 4 }, wantErr: ErrInvalidPaymentOffset},
		{name: "no payment account", mutate: func(r *CreditCardRule) { r.DefaultPaymentAccountID = " " }, wantErr: ErrMissingPaymentSource},
		{name: "watermark set", mutate: func(r *CreditCardRule) { r.LastPaidCycle = "2024-01-15" }},
		{name: "malformed watermark", mutate: func(r *CreditCardRule) { r.LastPaidCycle = "2024/01/15" }, wantErr: ErrInvalidCycleKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("expected ok, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAccountAndCategoryValidate(t *testing.T) {
	if err := (Account{Name: "Visa", Type: Liability}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Account{Name: "Visa", Type: "equity"}).Validate(); !errors.Is(err, ErrInvalidAccountType) {
		t.Fatalf("expected ErrInvalidAccountType, got %v", err)
	}
	if err := (Account{Type: Asset}).Validate(); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if err := (Category{Name: "食費", Type: Expense}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Category{Name: "食費", Type: Transfer}).Validate(); !errors.Is(err, ErrInvalidCategoryType) {
		t.Fatalf("expected ErrInvalidCategoryType, got %v", err)
	}
}

func TestPendingBillPaymentValidate(t *testing.T) {
	if err := (PendingBillPayment{CardID: "card", ClosingDateStr: "2024-01-15"}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (PendingBillPayment{CardID: "card", ClosingDateStr: "2024-1-15"}).Validate(); !errors.Is(err, ErrInvalidCycleKey) {
		t.Fatalf("expected ErrInvalidCycleKey, got %v", err)
	}
	if err := (PendingBillPayment{ClosingDateStr: "2024-01-15"}).Validate(); err == nil {
		t.Fatalf("expected error for missing card")
	}
}

func TestReceiptDraftTransaction(t *testing.T) {
	d := ReceiptDraft{
		Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:      1280,
		Description: "ランチ",
		Merchant:    "Cafe",
		CategoryID:  "food",
	}
	tx := d.Transaction("u1", "card")
	if tx.Type != Expense || tx.AccountID != "card" || tx.Source != SourceReceipt || tx.Memo != "Cafe" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if err := tx.Validate(); err != nil {
		t.Fatalf("expected valid transaction, got %v", err)
	}
}
