package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kakeibo/internal/billing"
	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/ports"
)

// ErrCycleNotFound is returned when no unpaid cycle matches a card and
// closing date.
var ErrCycleNotFound = fmt.Errorf("billing cycle: %w", ports.ErrNotFound)

// BillingStore is the storage a BillingService needs.
type BillingStore interface {
	ports.AccountStore
	ports.TransactionStore
	ports.RuleStore
	ports.BillPaymentRecorder
}

// BillingService derives unpaid card bills and records their payment.
type BillingService struct {
	store BillingStore
	cal   billing.Calendar

	// OnChange is called after a payment is recorded.
	OnChange func(userID string)

	newID func() string
	now   func() time.Time
}

func NewBillingService(store BillingStore, cal billing.Calendar) *BillingService {
	return &BillingService{
		store: store,
		cal:   cal,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

func (s *BillingService) Calendar() billing.Calendar { return s.cal }

// UnpaidCycles loads the user's ledger and aggregates the cycles that are
// after each card's watermark.
func (s *BillingService) UnpaidCycles(ctx context.Context, userID string) ([]core.BillingCycle, error) {
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	rules, err := s.store.ListRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	if len(rules) == 0 {
		return []core.BillingCycle{}, nil
	}
	txs, err := s.store.ListTransactions(ctx, userID, ports.TransactionFilter{Type: core.Expense})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return s.cal.CalculateBills(txs, rules, accounts), nil
}

// UnpaidBills is UnpaidCycles in display form.
func (s *BillingService) UnpaidBills(ctx context.Context, userID string) ([]billing.Bill, error) {
	cycles, err := s.UnpaidCycles(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.cal.Present(cycles), nil
}

// PaymentDraft is a prefilled transfer plus the pending payment that ties it
// to a cycle. The transfer may be edited before RecordPayment.
type PaymentDraft struct {
	Bill     billing.Bill            `json:"bill"`
	Transfer core.Transaction        `json:"transfer"`
	Pending  core.PendingBillPayment `json:"pending"`
}

// PreparePayment builds the payment draft for one unpaid cycle.
func (s *BillingService) PreparePayment(ctx context.Context, userID, cardID, closingDateStr string) (PaymentDraft, error) {
	if err := core.ValidateCycleKey(closingDateStr); err != nil {
		return PaymentDraft{}, invalid(err)
	}
	cycles, err := s.UnpaidCycles(ctx, userID)
	if err != nil {
		return PaymentDraft{}, err
	}
	cycle, ok := billing.FindCycle(cycles, cardID, closingDateStr)
	if !ok {
		return PaymentDraft{}, ErrCycleNotFound
	}
	bills := s.cal.Present([]core.BillingCycle{cycle})
	return PaymentDraft{
		Bill:     bills[0],
		Transfer: s.cal.PaymentTransfer(cycle),
		Pending:  core.PendingBillPayment{CardID: cardID, ClosingDateStr: closingDateStr},
	}, nil
}

// RecordPayment saves the transfer and advances the card's watermark to the
// pending cycle in one step. advanced is false when the watermark was
// already at or past the cycle; the transfer is still saved then.
func (s *BillingService) RecordPayment(ctx context.Context, userID string, p core.PendingBillPayment, transfer core.Transaction) (core.Transaction, bool, error) {
	if err := p.Validate(); err != nil {
		return core.Transaction{}, false, invalid(err)
	}
	if transfer.Type != core.Transfer {
		return core.Transaction{}, false, invalid(fmt.Errorf("bill payment must be a transfer, got %q", transfer.Type))
	}
	if transfer.ToAccountID != p.CardID {
		return core.Transaction{}, false, invalid(errors.New("bill payment must be paid into the card account"))
	}
	if err := transfer.Validate(); err != nil {
		return core.Transaction{}, false, invalid(err)
	}
	if _, err := s.store.GetRule(ctx, userID, p.CardID); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return core.Transaction{}, false, invalid(fmt.Errorf("card %s has no billing rule", p.CardID))
		}
		return core.Transaction{}, false, fmt.Errorf("load rule: %w", err)
	}
	for _, id := range transfer.AccountIDs() {
		a, err := s.store.GetAccount(ctx, userID, id)
		if errors.Is(err, ports.ErrNotFound) || (err == nil && a.IsDeleted) {
			return core.Transaction{}, false, invalid(fmt.Errorf("unknown account %s", id))
		}
		if err != nil {
			return core.Transaction{}, false, fmt.Errorf("load account: %w", err)
		}
		if id == transfer.FromAccountID && a.Type != core.Asset {
			return core.Transaction{}, false, invalid(fmt.Errorf("payment account %s is not an asset account", a.Name))
		}
	}

	now := s.now()
	transfer.ID = s.newID()
	transfer.UserID = userID
	transfer.Source = core.SourceBillPayment
	transfer.AccountID = ""
	transfer.CategoryID = ""
	transfer.CreatedAt = now
	transfer.UpdatedAt = now

	advanced, err := s.store.RecordBillPayment(ctx, userID, p, transfer)
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("record bill payment: %w", err)
	}
	applog.NewStructuredLogger(applog.FromContext(ctx)).
		LogCyclePaid(ctx, userID, p.CardID, p.ClosingDateStr, advanced, applog.OpPay)
	if s.OnChange != nil {
		s.OnChange(userID)
	}
	return transfer, advanced, nil
}

// MarkCycleAsPaid moves the card's watermark to closingDateStr without
// recording a transfer. It never moves the watermark backwards.
func (s *BillingService) MarkCycleAsPaid(ctx context.Context, userID, cardID, closingDateStr string) (bool, error) {
	if err := core.ValidateCycleKey(closingDateStr); err != nil {
		return false, invalid(err)
	}
	advanced, err := s.store.AdvanceLastPaidCycle(ctx, userID, cardID, closingDateStr)
	if err != nil {
		return false, fmt.Errorf("mark cycle as paid: %w", err)
	}
	applog.NewStructuredLogger(applog.FromContext(ctx)).
		LogCyclePaid(ctx, userID, cardID, closingDateStr, advanced, applog.OpMarkPaid)
	return advanced, nil
}
