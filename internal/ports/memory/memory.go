// Package memory is an in-process ports.Backend used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kakeibo/internal/core"
	"kakeibo/internal/ports"
)

type ruleKey struct{ userID, cardID string }

type Store struct {
	mu         sync.Mutex
	accounts   map[string]core.Account
	categories map[string]core.Category
	txs        map[string]core.Transaction
	rules      map[ruleKey]core.CreditCardRule
	scans      map[string]core.ReceiptScan
	users      map[string]core.User
	sessions   map[string]core.Session
}

func New() *Store {
	return &Store{
		accounts:   make(map[string]core.Account),
		categories: make(map[string]core.Category),
		txs:        make(map[string]core.Transaction),
		rules:      make(map[ruleKey]core.CreditCardRule),
		scans:      make(map[string]core.ReceiptScan),
		users:      make(map[string]core.User),
		sessions:   make(map[string]core.Session),
	}
}

var _ ports.Backend = (*Store)(nil)

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) ListAccounts(_ context.Context, userID string) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, userID, id string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || a.UserID != userID {
		return core.Account{}, fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
	}
	return a, nil
}

func (s *Store) SaveAccount(_ context.Context, a core.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.accounts[a.ID]; ok && cur.UserID != a.UserID {
		return fmt.Errorf("account %s: %w", a.ID, ports.ErrNotFound)
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) DeleteAccount(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || a.UserID != userID {
		return fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
	}
	a.IsDeleted = true
	s.accounts[id] = a
	return nil
}

func (s *Store) ListCategories(_ context.Context, userID string) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Category
	for _, c := range s.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveCategory(_ context.Context, c core.Category) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.categories[c.ID]; ok && cur.UserID != c.UserID {
		return fmt.Errorf("category %s: %w", c.ID, ports.ErrNotFound)
	}
	s.categories[c.ID] = c
	return nil
}

func (s *Store) DeleteCategory(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok || c.UserID != userID {
		return fmt.Errorf("category %s: %w", id, ports.ErrNotFound)
	}
	c.IsDeleted = true
	s.categories[id] = c
	return nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, f ports.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.UserID == userID && f.Match(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, userID, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.UserID != userID {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, ports.ErrNotFound)
	}
	return tx, nil
}

func (s *Store) SaveTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveTransactionLocked(tx)
}

func (s *Store) saveTransactionLocked(tx core.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("save transaction: missing id")
	}
	if err := tx.Validate(); err != nil {
		return err
	}
	if cur, ok := s.txs[tx.ID]; ok && cur.UserID != tx.UserID {
		return fmt.Errorf("transaction %s: %w", tx.ID, ports.ErrNotFound)
	}
	s.txs[tx.ID] = tx
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.UserID != userID {
		return fmt.Errorf("transaction %s: %w", id, ports.ErrNotFound)
	}
	delete(s.txs, id)
	return nil
}

func (s *Store) ListRules(_ context.Context, userID string) (map[string]core.CreditCardRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.CreditCardRule)
	for k, r := range s.rules {
		if k.userID == userID {
			out[k.cardID] = r
		}
	}
	return out, nil
}

func (s *Store) GetRule(_ context.Context, userID, cardID string) (core.CreditCardRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleKey{userID, cardID}]
	if !ok {
		return core.CreditCardRule{}, fmt.Errorf("rule %s: %w", cardID, ports.ErrNotFound)
	}
	return r, nil
}

func (s *Store) SaveRule(_ context.Context, userID string, r core.CreditCardRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ruleKey{userID, r.CardID}
	if cur, ok := s.rules[k]; ok {
		r.LastPaidCycle = cur.LastPaidCycle
	}
	s.rules[k] = r
	return nil
}

func (s *Store) DeleteRule(_ context.Context, userID, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ruleKey{userID, cardID}
	if _, ok := s.rules[k]; !ok {
		return fmt.Errorf("rule %s: %w", cardID, ports.ErrNotFound)
	}
	delete(s.rules, k)
	return nil
}

func (s *Store) AdvanceLastPaidCycle(_ context.Context, userID, cardID, closingDateStr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(userID, cardID, closingDateStr)
}

func (s *Store) advanceLocked(userID, cardID, closingDateStr string) (bool, error) {
	if err := core.ValidateCycleKey(closingDateStr); err != nil {
		return false, err
	}
	k := ruleKey{userID, cardID}
	r, ok := s.rules[k]
	if !ok {
		return false, fmt.Errorf("rule %s: %w", cardID, ports.ErrNotFound)
	}
	if r.LastPaidCycle != "" && closingDateStr <= r.LastPaidCycle {
		return false, nil
	}
	r.LastPaidCycle = closingDateStr
	s.rules[k] = r
	return true, nil
}

func (s *Store) RecordBillPayment(_ context.Context, userID string, p core.PendingBillPayment, transfer core.Transaction) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[ruleKey{userID, p.CardID}]; !ok {
		return false, fmt.Errorf("rule %s: %w", p.CardID, ports.ErrNotFound)
	}
	transfer.UserID = userID
	if err := s.saveTransactionLocked(transfer); err != nil {
		return false, fmt.Errorf("save payment transfer: %w", err)
	}
	return s.advanceLocked(userID, p.CardID, p.ClosingDateStr)
}

func (s *Store) SaveReceiptScan(_ context.Context, scan core.ReceiptScan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.scans[scan.ID]; ok && cur.UserID != scan.UserID {
		return fmt.Errorf("receipt scan %s: %w", scan.ID, ports.ErrNotFound)
	}
	scan.Drafts = append([]core.ReceiptDraft(nil), scan.Drafts...)
	s.scans[scan.ID] = scan
	return nil
}

func (s *Store) GetReceiptScan(_ context.Context, userID, id string) (core.ReceiptScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[id]
	if !ok || scan.UserID != userID {
		return core.ReceiptScan{}, fmt.Errorf("receipt scan %s: %w", id, ports.ErrNotFound)
	}
	return scan, nil
}

func (s *Store) ListReceiptScans(_ context.Context, userID string, limit int) ([]core.ReceiptScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ReceiptScan
	for _, scan := range s.scans {
		if scan.UserID == userID {
			out = append(out, scan)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListStaleReceiptScans(_ context.Context, before time.Time, limit int) ([]core.ReceiptScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ReceiptScan
	for _, scan := range s.scans {
		if (scan.Status == core.ScanPending || scan.Status == core.ScanProcessing) && scan.UpdatedAt.Before(before) {
			out = append(out, scan)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpsertUser(_ context.Context, u core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cur := range s.users {
		if cur.Email == u.Email {
			u.ID = id
			s.users[id] = u
			return u, nil
		}
	}
	if u.ID == "" {
		return core.User{}, fmt.Errorf("upsert user: missing id")
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return core.User{}, fmt.Errorf("user %s: %w", id, ports.ErrNotFound)
	}
	return u, nil
}

func (s *Store) SaveSession(_ context.Context, sess core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
	return nil
}

func (s *Store) GetSession(_ context.Context, token string) (core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return core.Session{}, fmt.Errorf("session: %w", ports.ErrNotFound)
	}
	return sess, nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}
