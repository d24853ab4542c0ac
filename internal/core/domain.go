package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

const (
	Asset     AccountType = "asset"
	Liability AccountType = "liability"
)

const (
	SourceManual      TransactionSource = "manual"
	SourceReceipt     TransactionSource = "receipt"
	SourceBillPayment TransactionSource = "bill_payment"
)

// CycleKeyLayout is the layout of closing-date keys and LastPaidCycle values.
// Keys in this layout sort lexicographically in date order.
const CycleKeyLayout = "2006-01-02"

const maxDescriptionLen = 200

type (
	TransactionType   string
	AccountType       string
	TransactionSource string

	// Money is a whole number of yen.
	Money int64

	Transaction struct {
		ID            string            `json:"id"`
		UserID        string            `json:"-"`
		Type          TransactionType   `json:"type"`
		Date          time.Time         `json:"date"`
		Amount        Money             `json:"amount"`
		AccountID     string            `json:"accountId,omitempty"`
		FromAccountID string            `json:"fromAccountId,omitempty"`
		ToAccountID   string            `json:"toAccountId,omitempty"`
		CategoryID    string            `json:"categoryId,omitempty"`
		Description   string            `json:"description"`
		Memo          string            `json:"memo,omitempty"`
		Source        TransactionSource `json:"source,omitempty"`
		CreatedAt     time.Time         `json:"createdAt"`
		UpdatedAt     time.Time         `json:"updatedAt"`
	}

	Account struct {
		ID        string      `json:"id"`
		UserID    string      `json:"-"`
		Name      string      `json:"name"`
		Type      AccountType `json:"type"`
		Order     int         `json:"order"`
		IsDeleted bool        `json:"isDeleted"`
		Icon      string      `json:"icon,omitempty"`
	}

	Category struct {
		ID        string          `json:"id"`
		UserID    string          `json:"-"`
		Name      string          `json:"name"`
		Type      TransactionType `json:"type"`
		Order     int             `json:"order"`
		Icon      string          `json:"icon,omitempty"`
		IsDeleted bool            `json:"isDeleted"`
	}

	// CreditCardRule describes when a liability account's statement closes and
	// when the closed statement is paid. LastPaidCycle is empty until the first
	// cycle is marked paid, then holds the closing-date key of the most recent
	// paid cycle.
	CreditCardRule struct {
		CardID                  string `json:"cardId"`
		ClosingDay              int    `json:"closingDay"`
		PaymentDay              int    `json:"paymentDay"`
		PaymentMonthOffset      int    `json:"paymentMonthOffset"`
		DefaultPaymentAccountID string `json:"defaultPaymentAccountId"`
		LastPaidCycle           string `json:"lastPaidCycle,omitempty"`
	}

	// BillingCycle is one unpaid statement of one card. It is derived on every
	// read and never stored.
	BillingCycle struct {
		CardID      string
		CardName    string
		Rule        CreditCardRule
		ClosingDate time.Time
		Amount      Money
		Icon        string
		Order       int
	}

	// PendingBillPayment ties a payment transfer to the cycle it settles.
	PendingBillPayment struct {
		CardID         string `json:"cardId"`
		ClosingDateStr string `json:"closingDate"`
	}
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidDate          = errors.New("invalid date")
	ErrInvalidType          = errors.New("invalid transaction type")
	ErrMissingAccount       = errors.New("missing account")
	ErrSameAccount          = errors.New("transfer source and destination are the same account")
	ErrDescriptionTooLong   = errors.New("description too long (max 200 characters)")
	ErrEmptyName            = errors.New("empty name")
	ErrInvalidAccountType   = errors.New("invalid account type")
	ErrInvalidCategoryType  = errors.New("invalid category type")
	ErrInvalidClosingDay    = errors.New("closing day must be between 1 and 31")
	ErrInvalidPaymentDay    = errors.New("payment day must be between 1 and 31")
	ErrInvalidPaymentOffset = errors.New("payment month offset must be 1, 2 or 3")
	ErrMissingPaymentSource = errors.New("missing default payment account")
	ErrInvalidCycleKey      = errors.New("invalid closing date key")
)

func (m Money) Validate() error {
	if m <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t TransactionType) Valid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	}
	return false
}

func (t Transaction) Validate() error {
	if t.Date.IsZero() {
		return ErrInvalidDate
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if len([]rune(t.Description)) > maxDescriptionLen {
		return ErrDescriptionTooLong
	}
	switch t.Type {
	case Income, Expense:
		if strings.TrimSpace(t.AccountID) == "" {
			return ErrMissingAccount
		}
	case Transfer:
		if strings.TrimSpace(t.FromAccountID) == "" || strings.TrimSpace(t.ToAccountID) == "" {
			return ErrMissingAccount
		}
		if t.FromAccountID == t.ToAccountID {
			return ErrSameAccount
		}
	default:
		return ErrInvalidType
	}
	return nil
}

// AccountIDs returns every account the transaction touches.
func (t Transaction) AccountIDs() []string {
	if t.Type == Transfer {
		return []string{t.FromAccountID, t.ToAccountID}
	}
	return []string{t.AccountID}
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if a.Type != Asset && a.Type != Liability {
		return ErrInvalidAccountType
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if c.Type != Income && c.Type != Expense {
		return ErrInvalidCategoryType
	}
	return nil
}

// Validate checks the rule bounds a user may enter. Stored rules that predate
// these bounds are still accepted by the billing engine, which clamps them.
func (r CreditCardRule) Validate() error {
	if r.ClosingDay < 1 || r.ClosingDay > 31 {
		return ErrInvalidClosingDay
	}
	if r.PaymentDay < 1 || r.PaymentDay > 31 {
		return ErrInvalidPaymentDay
	}
	if r.PaymentMonthOffset < 1 || r.PaymentMonthOffset > 3 {
		return ErrInvalidPaymentOffset
	}
	if strings.TrimSpace(r.DefaultPaymentAccountID) == "" {
		return ErrMissingPaymentSource
	}
	if r.LastPaidCycle != "" {
		if err := ValidateCycleKey(r.LastPaidCycle); err != nil {
			return err
		}
	}
	return nil
}

// ClosingDateStr returns the cycle key of the billing cycle.
func (c BillingCycle) ClosingDateStr() string {
	return c.ClosingDate.Format(CycleKeyLayout)
}

func (p PendingBillPayment) Validate() error {
	if strings.TrimSpace(p.CardID) == "" {
		return ErrMissingAccount
	}
	return ValidateCycleKey(p.ClosingDateStr)
}

// ValidateCycleKey reports whether s is a well-formed YYYY-MM-DD key.
func ValidateCycleKey(s string) error {
	if _, err := time.Parse(CycleKeyLayout, s); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidCycleKey, s)
	}
	return nil
}
