// Package ports declares the storage interfaces the services depend on.
package ports

import (
	"context"
	"errors"
	"time"

	"kakeibo/internal/core"
)

var ErrNotFound = errors.New("not found")

// TransactionFilter narrows ListTransactions. Zero fields do not filter.
// From is inclusive and To is exclusive.
type TransactionFilter struct {
	From      time.Time
	To        time.Time
	AccountID string
	Type      core.TransactionType
}

// Match reports whether tx passes the filter.
func (f TransactionFilter) Match(tx core.Transaction) bool {
	if !f.From.IsZero() && tx.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !tx.Date.Before(f.To) {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.AccountID != "" {
		for _, id := range tx.AccountIDs() {
			if id == f.AccountID {
				return true
			}
		}
		return false
	}
	return true
}

type (
	AccountStore interface {
		ListAccounts(ctx context.Context, userID string) ([]core.Account, error)
		GetAccount(ctx context.Context, userID, id string) (core.Account, error)
		SaveAccount(ctx context.Context, a core.Account) error
		DeleteAccount(ctx context.Context, userID, id string) error
	}

	CategoryStore interface {
		ListCategories(ctx context.Context, userID string) ([]core.Category, error)
		SaveCategory(ctx context.Context, c core.Category) error
		DeleteCategory(ctx context.Context, userID, id string) error
	}

	TransactionStore interface {
		ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]core.Transaction, error)
		GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
		SaveTransaction(ctx context.Context, tx core.Transaction) error
		DeleteTransaction(ctx context.Context, userID, id string) error
	}

	// RuleStore persists credit-card rules. SaveRule never changes
	// LastPaidCycle of an existing rule; only AdvanceLastPaidCycle does.
	RuleStore interface {
		ListRules(ctx context.Context, userID string) (map[string]core.CreditCardRule, error)
		GetRule(ctx context.Context, userID, cardID string) (core.CreditCardRule, error)
		SaveRule(ctx context.Context, userID string, r core.CreditCardRule) error
		DeleteRule(ctx context.Context, userID, cardID string) error
		// AdvanceLastPaidCycle sets the watermark to closingDateStr only if it
		// is unset or earlier. It reports whether the watermark moved.
		AdvanceLastPaidCycle(ctx context.Context, userID, cardID, closingDateStr string) (bool, error)
	}

	// BillPaymentRecorder saves a payment transfer and advances the card's
	// watermark as one unit. When the transfer cannot be saved the watermark
	// is left untouched.
	BillPaymentRecorder interface {
		RecordBillPayment(ctx context.Context, userID string, p core.PendingBillPayment, transfer core.Transaction) (advanced bool, err error)
	}

	ReceiptStore interface {
		SaveReceiptScan(ctx context.Context, s core.ReceiptScan) error
		GetReceiptScan(ctx context.Context, userID, id string) (core.ReceiptScan, error)
		ListReceiptScans(ctx context.Context, userID string, limit int) ([]core.ReceiptScan, error)
		// ListStaleReceiptScans returns unfinished scans of every user last
		// touched before the given time, oldest first.
		ListStaleReceiptScans(ctx context.Context, before time.Time, limit int) ([]core.ReceiptScan, error)
	}

	UserStore interface {
		UpsertUser(ctx context.Context, u core.User) (core.User, error)
		GetUser(ctx context.Context, id string) (core.User, error)
	}

	SessionStore interface {
		SaveSession(ctx context.Context, s core.Session) error
		GetSession(ctx context.Context, token string) (core.Session, error)
		DeleteSession(ctx context.Context, token string) error
	}

	// Backend is everything a storage implementation provides.
	Backend interface {
		AccountStore
		CategoryStore
		TransactionStore
		RuleStore
		BillPaymentRecorder
		ReceiptStore
		UserStore
		SessionStore
		Ping(ctx context.Context) error
		Close() error
	}
)
