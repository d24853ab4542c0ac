package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kakeibo/internal/core"
	"kakeibo/internal/ports"
)

// Accounts

const listAccounts = `SELECT id, user_id, name, type, sort_order, is_deleted, icon
FROM accounts WHERE user_id = ? ORDER BY sort_order, id`

func (q *Queries) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := q.db.QueryContext(ctx, listAccounts, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const getAccount = `SELECT id, user_id, name, type, sort_order, is_deleted, icon
FROM accounts WHERE user_id = ? AND id = ?`

func (q *Queries) GetAccount(ctx context.Context, userID, id string) (core.Account, error) {
	return scanAccount(q.db.QueryRowContext(ctx, getAccount, userID, id))
}

const upsertAccount = `INSERT INTO accounts (id, user_id, name, type, sort_order, is_deleted, icon)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    type = excluded.type,
    sort_order = excluded.sort_order,
    is_deleted = excluded.is_deleted,
    icon = excluded.icon
WHERE accounts.user_id = excluded.user_id`

func (q *Queries) UpsertAccount(ctx context.Context, a core.Account) (int64, error) {
	res, err := q.db.ExecContext(ctx, upsertAccount, a.ID, a.UserID, a.Name, string(a.Type), a.Order, boolToInt(a.IsDeleted), a.Icon)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const softDeleteAccount = `UPDATE accounts SET is_deleted = 1 WHERE user_id = ? AND id = ?`

func (q *Queries) SoftDeleteAccount(ctx context.Context, userID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, softDeleteAccount, userID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Categories

const listCategories = `SELECT id, user_id, name, type, sort_order, icon, is_deleted
FROM categories WHERE user_id = ? ORDER BY type, sort_order, id`

func (q *Queries) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := q.db.QueryContext(ctx, listCategories, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Category
	for rows.Next() {
		var c core.Category
		var typ string
		var deleted int
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &typ, &c.Order, &c.Icon, &deleted); err != nil {
			return nil, err
		}
		c.Type = core.TransactionType(typ)
		c.IsDeleted = deleted != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

const upsertCategory = `INSERT INTO categories (id, user_id, name, type, sort_order, icon, is_deleted)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    type = excluded.type,
    sort_order = excluded.sort_order,
    icon = excluded.icon,
    is_deleted = excluded.is_deleted
WHERE categories.user_id = excluded.user_id`

func (q *Queries) UpsertCategory(ctx context.Context, c core.Category) (int64, error) {
	res, err := q.db.ExecContext(ctx, upsertCategory, c.ID, c.UserID, c.Name, string(c.Type), c.Order, c.Icon, boolToInt(c.IsDeleted))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const softDeleteCategory = `UPDATE categories SET is_deleted = 1 WHERE user_id = ? AND id = ?`

func (q *Queries) SoftDeleteCategory(ctx context.Context, userID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, softDeleteCategory, userID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Transactions

const transactionColumns = `id, user_id, type, occurred_at, amount, account_id, from_account_id,
    to_account_id, category_id, description, memo, source, created_at, updated_at`

func (q *Queries) ListTransactions(ctx context.Context, userID string, f ports.TransactionFilter) ([]core.Transaction, error) {
	var sb strings.Builder
	sb.WriteString("SELECT " + transactionColumns + " FROM transactions WHERE user_id = ?")
	args := []interface{}{userID}
	if !f.From.IsZero() {
		sb.WriteString(" AND occurred_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		sb.WriteString(" AND occurred_at < ?")
		args = append(args, formatTime(f.To))
	}
	if f.Type != "" {
		sb.WriteString(" AND type = ?")
		args = append(args, string(f.Type))
	}
	if f.AccountID != "" {
		sb.WriteString(" AND (account_id = ? OR from_account_id = ? OR to_account_id = ?)")
		args = append(args, f.AccountID, f.AccountID, f.AccountID)
	}
	sb.WriteString(" ORDER BY occurred_at, id")

	rows, err := q.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

const getTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ? AND id = ?`

func (q *Queries) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, userID, id))
}

const upsertTransaction = `INSERT INTO transactions (` + transactionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    type = excluded.type,
    occurred_at = excluded.occurred_at,
    amount = excluded.amount,
    account_id = excluded.account_id,
    from_account_id = excluded.from_account_id,
    to_account_id = excluded.to_account_id,
    category_id = excluded.category_id,
    description = excluded.description,
    memo = excluded.memo,
    source = excluded.source,
    updated_at = excluded.updated_at
WHERE transactions.user_id = excluded.user_id`

func (q *Queries) UpsertTransaction(ctx context.Context, tx core.Transaction) (int64, error) {
	source := tx.Source
	if source == "" {
		source = core.SourceManual
	}
	res, err := q.db.ExecContext(ctx, upsertTransaction,
		tx.ID, tx.UserID, string(tx.Type), formatTime(tx.Date), int64(tx.Amount),
		tx.AccountID, tx.FromAccountID, tx.ToAccountID, tx.CategoryID,
		tx.Description, tx.Memo, string(source),
		formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteTransaction = `DELETE FROM transactions WHERE user_id = ? AND id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, userID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTransaction, userID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Credit-card rules

const listRules = `SELECT card_id, closing_day, payment_day, payment_month_offset,
    default_payment_account_id, last_paid_cycle
FROM credit_card_rules WHERE user_id = ?`

func (q *Queries) ListRules(ctx context.Context, userID string) (map[string]core.CreditCardRule, error) {
	rows, err := q.db.QueryContext(ctx, listRules, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]core.CreditCardRule)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out[r.CardID] = r
	}
	return out, rows.Err()
}

const getRule = `SELECT card_id, closing_day, payment_day, payment_month_offset,
    default_payment_account_id, last_paid_cycle
FROM credit_card_rules WHERE user_id = ? AND card_id = ?`

func (q *Queries) GetRule(ctx context.Context, userID, cardID string) (core.CreditCardRule, error) {
	return scanRule(q.db.QueryRowContext(ctx, getRule, userID, cardID))
}

// upsertRule leaves last_paid_cycle alone on update.
const upsertRule = `INSERT INTO credit_card_rules (user_id, card_id, closing_day, payment_day,
    payment_month_offset, default_payment_account_id, last_paid_cycle)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, card_id) DO UPDATE SET
    closing_day = excluded.closing_day,
    payment_day = excluded.payment_day,
    payment_month_offset = excluded.payment_month_offset,
    default_payment_account_id = excluded.default_payment_account_id`

func (q *Queries) UpsertRule(ctx context.Context, userID string, r core.CreditCardRule) error {
	_, err := q.db.ExecContext(ctx, upsertRule, userID, r.CardID, r.ClosingDay, r.PaymentDay,
		r.PaymentMonthOffset, r.DefaultPaymentAccountID, nullString(r.LastPaidCycle))
	return err
}

const deleteRule = `DELETE FROM credit_card_rules WHERE user_id = ? AND card_id = ?`

func (q *Queries) DeleteRule(ctx context.Context, userID, cardID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteRule, userID, cardID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// advanceLastPaidCycle is the watermark compare-and-set. Keys are
// YYYY-MM-DD, so text comparison is date comparison.
const advanceLastPaidCycle = `UPDATE credit_card_rules SET last_paid_cycle = ?
WHERE user_id = ? AND card_id = ?
  AND (last_paid_cycle IS NULL OR last_paid_cycle < ?)`

func (q *Queries) AdvanceLastPaidCycle(ctx context.Context, userID, cardID, closingDateStr string) (int64, error) {
	res, err := q.db.ExecContext(ctx, advanceLastPaidCycle, closingDateStr, userID, cardID, closingDateStr)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const ruleExists = `SELECT COUNT(*) FROM credit_card_rules WHERE user_id = ? AND card_id = ?`

func (q *Queries) RuleExists(ctx context.Context, userID, cardID string) (bool, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, ruleExists, userID, cardID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Receipt scans

const upsertReceiptScan = `INSERT INTO receipt_scans (id, user_id, blob_uri, mime_type, status, error, drafts, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    status = excluded.status,
    error = excluded.error,
    drafts = excluded.drafts,
    updated_at = excluded.updated_at
WHERE receipt_scans.user_id = excluded.user_id`

func (q *Queries) UpsertReceiptScan(ctx context.Context, s core.ReceiptScan) (int64, error) {
	drafts := s.Drafts
	if drafts == nil {
		drafts = []core.ReceiptDraft{}
	}
	raw, err := json.Marshal(drafts)
	if err != nil {
		return 0, fmt.Errorf("encode drafts: %w", err)
	}
	res, err := q.db.ExecContext(ctx, upsertReceiptScan, s.ID, s.UserID, s.BlobURI, s.MimeType,
		string(s.Status), s.Error, string(raw), formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const receiptScanColumns = `id, user_id, blob_uri, mime_type, status, error, drafts, created_at, updated_at`

const getReceiptScan = `SELECT ` + receiptScanColumns + ` FROM receipt_scans WHERE user_id = ? AND id = ?`

func (q *Queries) GetReceiptScan(ctx context.Context, userID, id string) (core.ReceiptScan, error) {
	return scanReceipt(q.db.QueryRowContext(ctx, getReceiptScan, userID, id))
}

const listReceiptScans = `SELECT ` + receiptScanColumns + ` FROM receipt_scans
WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`

func (q *Queries) ListReceiptScans(ctx context.Context, userID string, limit int) ([]core.ReceiptScan, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx, listReceiptScans, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectReceipts(rows)
}

const listStaleReceiptScans = `SELECT ` + receiptScanColumns + ` FROM receipt_scans
WHERE status IN ('pending', 'processing') AND updated_at < ? ORDER BY created_at LIMIT ?`

func (q *Queries) ListStaleReceiptScans(ctx context.Context, before time.Time, limit int) ([]core.ReceiptScan, error) {
	rows, err := q.db.QueryContext(ctx, listStaleReceiptScans, formatTime(before), limit)
	if err != nil {
		return nil, err
	}
	return collectReceipts(rows)
}

func collectReceipts(rows *sql.Rows) ([]core.ReceiptScan, error) {
	defer rows.Close()
	var out []core.ReceiptScan
	for rows.Next() {
		s, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Users and sessions

const upsertUser = `INSERT INTO users (id, email, name, picture) VALUES (?, ?, ?, ?)
ON CONFLICT (email) DO UPDATE SET name = excluded.name, picture = excluded.picture
RETURNING id, email, name, picture`

func (q *Queries) UpsertUser(ctx context.Context, u core.User) (core.User, error) {
	var out core.User
	err := q.db.QueryRowContext(ctx, upsertUser, u.ID, u.Email, u.Name, u.Picture).
		Scan(&out.ID, &out.Email, &out.Name, &out.Picture)
	return out, err
}

const getUser = `SELECT id, email, name, picture FROM users WHERE id = ?`

func (q *Queries) GetUser(ctx context.Context, id string) (core.User, error) {
	var out core.User
	err := q.db.QueryRowContext(ctx, getUser, id).Scan(&out.ID, &out.Email, &out.Name, &out.Picture)
	return out, err
}

const insertSession = `INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)
ON CONFLICT (token) DO UPDATE SET expires_at = excluded.expires_at`

func (q *Queries) InsertSession(ctx context.Context, s core.Session) error {
	_, err := q.db.ExecContext(ctx, insertSession, s.Token, s.UserID, formatTime(s.ExpiresAt))
	return err
}

const getSession = `SELECT token, user_id, expires_at FROM sessions WHERE token = ?`

func (q *Queries) GetSession(ctx context.Context, token string) (core.Session, error) {
	var s core.Session
	var expires string
	if err := q.db.QueryRowContext(ctx, getSession, token).Scan(&s.Token, &s.UserID, &expires); err != nil {
		return core.Session{}, err
	}
	t, err := parseTime(expires)
	if err != nil {
		return core.Session{}, err
	}
	s.ExpiresAt = t
	return s, nil
}

const deleteSession = `DELETE FROM sessions WHERE token = ?`

func (q *Queries) DeleteSession(ctx context.Context, token string) error {
	_, err := q.db.ExecContext(ctx, deleteSession, token)
	return err
}

const deleteExpiredSessions = `DELETE FROM sessions WHERE expires_at <= ?`

func (q *Queries) DeleteExpiredSessions(ctx context.Context, now string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpiredSessions, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Scanning helpers

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row scanner) (core.Account, error) {
	var a core.Account
	var typ string
	var deleted int
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &typ, &a.Order, &deleted, &a.Icon); err != nil {
		return core.Account{}, err
	}
	a.Type = core.AccountType(typ)
	a.IsDeleted = deleted != 0
	return a, nil
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var tx core.Transaction
	var typ, occurred, source, created, updated string
	var amount int64
	if err := row.Scan(&tx.ID, &tx.UserID, &typ, &occurred, &amount, &tx.AccountID, &tx.FromAccountID,
		&tx.ToAccountID, &tx.CategoryID, &tx.Description, &tx.Memo, &source, &created, &updated); err != nil {
		return core.Transaction{}, err
	}
	tx.Type = core.TransactionType(typ)
	tx.Amount = core.Money(amount)
	tx.Source = core.TransactionSource(source)
	var err error
	if tx.Date, err = parseTime(occurred); err != nil {
		return core.Transaction{}, err
	}
	if tx.CreatedAt, err = parseTime(created); err != nil {
		return core.Transaction{}, err
	}
	if tx.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

func scanRule(row scanner) (core.CreditCardRule, error) {
	var r core.CreditCardRule
	var lastPaid sql.NullString
	if err := row.Scan(&r.CardID, &r.ClosingDay, &r.PaymentDay, &r.PaymentMonthOffset,
		&r.DefaultPaymentAccountID, &lastPaid); err != nil {
		return core.CreditCardRule{}, err
	}
	r.LastPaidCycle = lastPaid.String
	return r, nil
}

func scanReceipt(row scanner) (core.ReceiptScan, error) {
	var s core.ReceiptScan
	var status, drafts, created, updated string
	if err := row.Scan(&s.ID, &s.UserID, &s.BlobURI, &s.MimeType, &status, &s.Error, &drafts, &created, &updated); err != nil {
		return core.ReceiptScan{}, err
	}
	s.Status = core.ScanStatus(status)
	if err := json.Unmarshal([]byte(drafts), &s.Drafts); err != nil {
		return core.ReceiptScan{}, fmt.Errorf("decode drafts: %w", err)
	}
	var err error
	if s.CreatedAt, err = parseTime(created); err != nil {
		return core.ReceiptScan{}, err
	}
	if s.UpdatedAt, err = parseTime(updated); err != nil {
		return core.ReceiptScan{}, err
	}
	return s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
