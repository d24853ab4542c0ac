package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"kakeibo/internal/analytics"
	"kakeibo/internal/cache"
	"kakeibo/internal/core"
	"kakeibo/internal/ports"
)

// DashboardStore is the storage a DashboardService needs.
type DashboardStore interface {
	ports.AccountStore
	ports.CategoryStore
	ports.TransactionStore
}

// DashboardService computes monthly overviews, balances and net worth.
// Month overviews are cached per user until the user's ledger changes.
type DashboardService struct {
	store     DashboardStore
	loc       *time.Location
	overviews cache.Cache[core.MonthOverview]
	now       func() time.Time
}

func NewDashboardService(store DashboardStore, loc *time.Location, overviews *cache.LRUCache[core.MonthOverview]) *DashboardService {
	s := &DashboardService{store: store, loc: loc, now: time.Now}
	if overviews != nil {
		s.overviews = overviews
	}
	return s
}

func overviewKey(userID string, year, month int) string {
	return fmt.Sprintf("%s:%04d-%02d", userID, year, month)
}

// Invalidate drops every cached figure of userID.
func (s *DashboardService) Invalidate(userID string) {
	if s.overviews != nil {
		s.overviews.DeletePrefix(userID + ":")
	}
}

// MonthOverview returns income and expense totals of one month. A zero year
// selects the current month.
func (s *DashboardService) MonthOverview(ctx context.Context, userID string, year, month int) (core.MonthOverview, error) {
	if year == 0 {
		now := s.now().In(s.loc)
		year, month = now.Year(), int(now.Month())
	}
	if month < 1 || month > 12 {
		return core.MonthOverview{}, invalid(fmt.Errorf("month %d out of range", month))
	}
	key := overviewKey(userID, year, month)
	if s.overviews != nil {
		if ov, ok := s.overviews.Get(key); ok {
			return ov, nil
		}
	}

	from, to := analytics.MonthRange(year, month, s.loc)
	var (
		txs  []core.Transaction
		cats []core.Category
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txs, err = s.store.ListTransactions(gctx, userID, ports.TransactionFilter{From: from, To: to})
		return err
	})
	g.Go(func() error {
		var err error
		cats, err = s.store.ListCategories(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.MonthOverview{}, fmt.Errorf("load month data: %w", err)
	}

	ov := analytics.MonthOverview(year, month, s.loc, txs, cats)
	if s.overviews != nil {
		s.overviews.Set(key, ov)
	}
	return ov, nil
}

func (s *DashboardService) loadLedger(ctx context.Context, userID string) ([]core.Account, []core.Transaction, error) {
	var (
		accounts []core.Account
		txs      []core.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		accounts, err = s.store.ListAccounts(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = s.store.ListTransactions(gctx, userID, ports.TransactionFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("load ledger: %w", err)
	}
	return accounts, txs, nil
}

// Balances returns the current balance of every active account.
func (s *DashboardService) Balances(ctx context.Context, userID string) ([]core.AccountBalance, error) {
	accounts, txs, err := s.loadLedger(ctx, userID)
	if err != nil {
		return nil, err
	}
	return analytics.Balances(accounts, txs), nil
}

// NetWorth returns month-end net worth for the last months months.
func (s *DashboardService) NetWorth(ctx context.Context, userID string, months int) ([]core.NetWorthPoint, error) {
	if months < 1 || months > 120 {
		return nil, invalid(fmt.Errorf("months %d out of range 1..120", months))
	}
	accounts, txs, err := s.loadLedger(ctx, userID)
	if err != nil {
		return nil, err
	}
	return analytics.NetWorthHistory(months, s.now(), s.loc, accounts, txs), nil
}
