package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"kakeibo/internal/core"
	"kakeibo/internal/ports"

	_ "modernc.org/sqlite"
)

// SQLiteRepository implements ports.Backend on a SQLite file.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var _ ports.Backend = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations before the main pool touches the schema.
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ports.ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	accounts, err := r.queries.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, userID, id string) (core.Account, error) {
	a, err := r.queries.GetAccount(ctx, userID, id)
	if err != nil {
		return core.Account{}, notFound("account", id, err)
	}
	return a, nil
}

func (r *SQLiteRepository) SaveAccount(ctx context.Context, a core.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	n, err := r.queries.UpsertAccount(ctx, a)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", a.ID, ports.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAccount(ctx context.Context, userID, id string) error {
	n, err := r.queries.SoftDeleteAccount(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	categories, err := r.queries.ListCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (r *SQLiteRepository) SaveCategory(ctx context.Context, c core.Category) error {
	if err := c.Validate(); err != nil {
		return err
	}
	n, err := r.queries.UpsertCategory(ctx, c)
	if err != nil {
		return fmt.Errorf("save category: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("category %s: %w", c.ID, ports.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, userID, id string) error {
	n, err := r.queries.SoftDeleteCategory(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("category %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, f ports.TransactionFilter) ([]core.Transaction, error) {
	txs, err := r.queries.ListTransactions(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	tx, err := r.queries.GetTransaction(ctx, userID, id)
	if err != nil {
		return core.Transaction{}, notFound("transaction", id, err)
	}
	return tx, nil
}

func (r *SQLiteRepository) SaveTransaction(ctx context.Context, tx core.Transaction) error {
	return saveTransaction(ctx, r.queries, tx)
}

func saveTransaction(ctx context.Context, q *Queries, tx core.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("save transaction: missing id")
	}
	if err := tx.Validate(); err != nil {
		return err
	}
	n, err := q.UpsertTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", tx.ID, ports.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, userID, id string) error {
	n, err := r.queries.DeleteTransaction(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListRules(ctx context.Context, userID string) (map[string]core.CreditCardRule, error) {
	rules, err := r.queries.ListRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credit card rules: %w", err)
	}
	return rules, nil
}

func (r *SQLiteRepository) GetRule(ctx context.Context, userID, cardID string) (core.CreditCardRule, error) {
	rule, err := r.queries.GetRule(ctx, userID, cardID)
	if err != nil {
		return core.CreditCardRule{}, notFound("rule", cardID, err)
	}
	return rule, nil
}

func (r *SQLiteRepository) SaveRule(ctx context.Context, userID string, rule core.CreditCardRule) error {
	if err := r.queries.UpsertRule(ctx, userID, rule); err != nil {
		return fmt.Errorf("save credit card rule: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteRule(ctx context.Context, userID, cardID string) error {
	n, err := r.queries.DeleteRule(ctx, userID, cardID)
	if err != nil {
		return fmt.Errorf("delete credit card rule: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %s: %w", cardID, ports.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) AdvanceLastPaidCycle(ctx context.Context, userID, cardID, closingDateStr string) (bool, error) {
	return advance(ctx, r.queries, userID, cardID, closingDateStr)
}

func advance(ctx context.Context, q *Queries, userID, cardID, closingDateStr string) (bool, error) {
	if err := core.ValidateCycleKey(closingDateStr); err != nil {
		return false, err
	}
	n, err := q.AdvanceLastPaidCycle(ctx, userID, cardID, closingDateStr)
	if err != nil {
		return false, fmt.Errorf("advance last paid cycle: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	exists, err := q.RuleExists(ctx, userID, cardID)
	if err != nil {
		return false, fmt.Errorf("check credit card rule: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("rule %s: %w", cardID, ports.ErrNotFound)
	}
	return false, nil
}

// RecordBillPayment inserts the transfer and advances the watermark in one
// database transaction.
func (r *SQLiteRepository) RecordBillPayment(ctx context.Context, userID string, p core.PendingBillPayment, transfer core.Transaction) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	transfer.UserID = userID

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin payment transaction: %w", err)
	}
	defer dbtx.Rollback()

	q := r.queries.WithTx(dbtx)
	if err := saveTransaction(ctx, q, transfer); err != nil {
		return false, fmt.Errorf("save payment transfer: %w", err)
	}
	advanced, err := advance(ctx, q, userID, p.CardID, p.ClosingDateStr)
	if err != nil {
		return false, err
	}
	if err := dbtx.Commit(); err != nil {
		return false, fmt.Errorf("commit payment transaction: %w", err)
	}

	slog.InfoContext(ctx, "Bill payment recorded",
		"card_id", p.CardID,
		"closing_date", p.ClosingDateStr,
		"transaction_id", transfer.ID,
		"advanced", advanced)
	return advanced, nil
}

func (r *SQLiteRepository) SaveReceiptScan(ctx context.Context, s core.ReceiptScan) error {
	n, err := r.queries.UpsertReceiptScan(ctx, s)
	if err != nil {
		return fmt.Errorf("save receipt scan: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("receipt scan %s: %w", s.ID, ports.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) GetReceiptScan(ctx context.Context, userID, id string) (core.ReceiptScan, error) {
	s, err := r.queries.GetReceiptScan(ctx, userID, id)
	if err != nil {
		return core.ReceiptScan{}, notFound("receipt scan", id, err)
	}
	return s, nil
}

func (r *SQLiteRepository) ListReceiptScans(ctx context.Context, userID string, limit int) ([]core.ReceiptScan, error) {
	scans, err := r.queries.ListReceiptScans(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list receipt scans: %w", err)
	}
	return scans, nil
}

func (r *SQLiteRepository) ListStaleReceiptScans(ctx context.Context, before time.Time, limit int) ([]core.ReceiptScan, error) {
	scans, err := r.queries.ListStaleReceiptScans(ctx, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale receipt scans: %w", err)
	}
	return scans, nil
}

func (r *SQLiteRepository) UpsertUser(ctx context.Context, u core.User) (core.User, error) {
	out, err := r.queries.UpsertUser(ctx, u)
	if err != nil {
		return core.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (core.User, error) {
	u, err := r.queries.GetUser(ctx, id)
	if err != nil {
		return core.User{}, notFound("user", id, err)
	}
	return u, nil
}

func (r *SQLiteRepository) SaveSession(ctx context.Context, s core.Session) error {
	if err := r.queries.InsertSession(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSession(ctx context.Context, token string) (core.Session, error) {
	s, err := r.queries.GetSession(ctx, token)
	if err != nil {
		return core.Session{}, notFound("session", "", err)
	}
	return s, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, token string) error {
	if err := r.queries.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpiredSessions removes sessions that expired before now.
func (r *SQLiteRepository) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.queries.DeleteExpiredSessions(ctx, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return n, nil
}
