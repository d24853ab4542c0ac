package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kakeibo/internal/core"
	"kakeibo/internal/export"
	applog "kakeibo/internal/log"
	"kakeibo/internal/ports"
)

// ErrInvalidInput marks errors caused by the caller's data.
var ErrInvalidInput = errors.New("invalid input")

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

// LedgerStore is the storage a LedgerService needs.
type LedgerStore interface {
	ports.AccountStore
	ports.CategoryStore
	ports.TransactionStore
	ports.RuleStore
}

// LedgerService manages accounts, categories, transactions and card rules.
type LedgerService struct {
	store LedgerStore

	// OnChange is called after any write that affects derived figures.
	OnChange func(userID string)

	newID func() string
	now   func() time.Time
}

func NewLedgerService(store LedgerStore) *LedgerService {
	return &LedgerService{
		store: store,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

func (s *LedgerService) changed(userID string) {
	if s.OnChange != nil {
		s.OnChange(userID)
	}
}

// Accounts

func (s *LedgerService) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	return s.store.ListAccounts(ctx, userID)
}

func (s *LedgerService) CreateAccount(ctx context.Context, userID string, a core.Account) (core.Account, error) {
	a.ID = s.newID()
	a.UserID = userID
	a.IsDeleted = false
	a.Name = strings.TrimSpace(a.Name)
	if err := a.Validate(); err != nil {
		return core.Account{}, invalid(err)
	}
	if err := s.store.SaveAccount(ctx, a); err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	s.changed(userID)
	return a, nil
}

// UpdateAccount changes name, order and icon. The account type is fixed
// once transactions may reference it.
func (s *LedgerService) UpdateAccount(ctx context.Context, userID string, a core.Account) (core.Account, error) {
	cur, err := s.store.GetAccount(ctx, userID, a.ID)
	if err != nil {
		return core.Account{}, err
	}
	cur.Name = strings.TrimSpace(a.Name)
	cur.Order = a.Order
	cur.Icon = a.Icon
	if err := cur.Validate(); err != nil {
		return core.Account{}, invalid(err)
	}
	if err := s.store.SaveAccount(ctx, cur); err != nil {
		return core.Account{}, fmt.Errorf("update account: %w", err)
	}
	s.changed(userID)
	return cur, nil
}

func (s *LedgerService) DeleteAccount(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteAccount(ctx, userID, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.changed(userID)
	return nil
}

// Categories

var defaultCategories = []core.Category{
	{Name: "食費", Type: core.Expense, Icon: "🍙"},
	{Name: "日用品", Type: core.Expense, Icon: "🧻"},
	{Name: "交通費", Type: core.Expense, Icon: "🚃"},
	{Name: "住居費", Type: core.Expense, Icon: "🏠"},
	{Name: "水道光熱費", Type: core.Expense, Icon: "💡"},
	{Name: "通信費", Type: core.Expense, Icon: "📱"},
	{Name: "医療費", Type: core.Expense, Icon: "🏥"},
	{Name: "娯楽", Type: core.Expense, Icon: "🎮"},
	{Name: "衣服", Type: core.Expense, Icon: "👕"},
	{Name: "その他", Type: core.Expense, Icon: "📦"},
	{Name: "給与", Type: core.Income, Icon: "💴"},
	{Name: "賞与", Type: core.Income, Icon: "🎁"},
	{Name: "副収入", Type: core.Income, Icon: "💼"},
	{Name: "その他収入", Type: core.Income, Icon: "➕"},
}

// EnsureDefaultCategories seeds the default categories for a user that has
// none yet.
func (s *LedgerService) EnsureDefaultCategories(ctx context.Context, userID string) error {
	existing, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for i, c := range defaultCategories {
		c.ID = s.newID()
		c.UserID = userID
		c.Order = i
		if err := s.store.SaveCategory(ctx, c); err != nil {
			return fmt.Errorf("seed category %s: %w", c.Name, err)
		}
	}
	return nil
}

func (s *LedgerService) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	return s.store.ListCategories(ctx, userID)
}

func (s *LedgerService) CreateCategory(ctx context.Context, userID string, c core.Category) (core.Category, error) {
	c.ID = s.newID()
	c.UserID = userID
	c.IsDeleted = false
	c.Name = strings.TrimSpace(c.Name)
	if err := c.Validate(); err != nil {
		return core.Category{}, invalid(err)
	}
	if err := s.store.SaveCategory(ctx, c); err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	return c, nil
}

func (s *LedgerService) DeleteCategory(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteCategory(ctx, userID, id); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	s.changed(userID)
	return nil
}

// Transactions

func (s *LedgerService) ListTransactions(ctx context.Context, userID string, f ports.TransactionFilter) ([]core.Transaction, error) {
	return s.store.ListTransactions(ctx, userID, f)
}

func (s *LedgerService) CreateTransaction(ctx context.Context, userID string, tx core.Transaction) (core.Transaction, error) {
	now := s.now()
	tx.ID = s.newID()
	tx.UserID = userID
	tx.CreatedAt = now
	tx.UpdatedAt = now
	if tx.Source == "" {
		tx.Source = core.SourceManual
	}
	normalizeAccounts(&tx)
	if err := s.checkTransaction(ctx, userID, tx); err != nil {
		return core.Transaction{}, err
	}
	if err := s.store.SaveTransaction(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	applog.NewStructuredLogger(applog.FromContext(ctx)).
		LogTransactionSaved(ctx, userID, tx.ID, string(tx.Type), int64(tx.Amount), applog.OpCreate)
	s.changed(userID)
	return tx, nil
}

func (s *LedgerService) UpdateTransaction(ctx context.Context, userID string, tx core.Transaction) (core.Transaction, error) {
	cur, err := s.store.GetTransaction(ctx, userID, tx.ID)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.UserID = userID
	tx.CreatedAt = cur.CreatedAt
	tx.UpdatedAt = s.now()
	tx.Source = cur.Source
	normalizeAccounts(&tx)
	if err := s.checkTransaction(ctx, userID, tx); err != nil {
		return core.Transaction{}, err
	}
	if err := s.store.SaveTransaction(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	applog.NewStructuredLogger(applog.FromContext(ctx)).
		LogTransactionSaved(ctx, userID, tx.ID, string(tx.Type), int64(tx.Amount), applog.OpUpdate)
	s.changed(userID)
	return tx, nil
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteTransaction(ctx, userID, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.changed(userID)
	return nil
}

// normalizeAccounts clears the account fields that do not apply to the
// transaction type.
func normalizeAccounts(tx *core.Transaction) {
	if tx.Type == core.Transfer {
		tx.AccountID = ""
		tx.CategoryID = ""
	} else {
		tx.FromAccountID = ""
		tx.ToAccountID = ""
	}
}

// checkTransaction validates tx and its references to the user's accounts
// and categories.
func (s *LedgerService) checkTransaction(ctx context.Context, userID string, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return invalid(err)
	}
	for _, id := range tx.AccountIDs() {
		a, err := s.store.GetAccount(ctx, userID, id)
		if errors.Is(err, ports.ErrNotFound) {
			return invalid(fmt.Errorf("unknown account %s", id))
		}
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		if a.IsDeleted {
			return invalid(fmt.Errorf("account %s is deleted", a.Name))
		}
	}
	if tx.CategoryID == "" {
		return nil
	}
	cats, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	for _, c := range cats {
		if c.ID == tx.CategoryID {
			if c.Type != tx.Type {
				return invalid(fmt.Errorf("category %s is not a %s category", c.Name, tx.Type))
			}
			return nil
		}
	}
	return invalid(fmt.Errorf("unknown category %s", tx.CategoryID))
}

// Credit-card rules

func (s *LedgerService) ListRules(ctx context.Context, userID string) (map[string]core.CreditCardRule, error) {
	return s.store.ListRules(ctx, userID)
}

// SaveRule creates or updates the rule of a liability account. The stored
// watermark is kept on update.
func (s *LedgerService) SaveRule(ctx context.Context, userID string, r core.CreditCardRule) (core.CreditCardRule, error) {
	r.LastPaidCycle = ""
	if err := r.Validate(); err != nil {
		return core.CreditCardRule{}, invalid(err)
	}
	card, err := s.store.GetAccount(ctx, userID, r.CardID)
	if errors.Is(err, ports.ErrNotFound) {
		return core.CreditCardRule{}, invalid(fmt.Errorf("unknown card %s", r.CardID))
	}
	if err != nil {
		return core.CreditCardRule{}, fmt.Errorf("load card: %w", err)
	}
	if card.Type != core.Liability {
		return core.CreditCardRule{}, invalid(fmt.Errorf("account %s is not a liability account", card.Name))
	}
	payFrom, err := s.store.GetAccount(ctx, userID, r.DefaultPaymentAccountID)
	if errors.Is(err, ports.ErrNotFound) {
		return core.CreditCardRule{}, invalid(fmt.Errorf("unknown payment account %s", r.DefaultPaymentAccountID))
	}
	if err != nil {
		return core.CreditCardRule{}, fmt.Errorf("load payment account: %w", err)
	}
	if payFrom.Type != core.Asset {
		return core.CreditCardRule{}, invalid(fmt.Errorf("payment account %s is not an asset account", payFrom.Name))
	}
	if err := s.store.SaveRule(ctx, userID, r); err != nil {
		return core.CreditCardRule{}, fmt.Errorf("save rule: %w", err)
	}
	saved, err := s.store.GetRule(ctx, userID, r.CardID)
	if err != nil {
		return core.CreditCardRule{}, fmt.Errorf("reload rule: %w", err)
	}
	s.changed(userID)
	return saved, nil
}

func (s *LedgerService) DeleteRule(ctx context.Context, userID, cardID string) error {
	if err := s.store.DeleteRule(ctx, userID, cardID); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	s.changed(userID)
	return nil
}

// ExportRows returns the transactions matching f as export rows with
// account and category names resolved.
func (s *LedgerService) ExportRows(ctx context.Context, userID string, f ports.TransactionFilter, loc *time.Location) ([]export.Row, error) {
	txs, err := s.store.ListTransactions(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	cats, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return export.BuildRows(txs, accounts, cats, loc), nil
}
