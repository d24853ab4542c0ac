package http

import (
	"bytes"
	"net/http"
	"strings"

	"kakeibo/internal/auth"
	"kakeibo/internal/core"
	"kakeibo/internal/export"
)

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	NewResponse().JSON(u).Write(w)
}

// Accounts

type accountRequest struct {
	Name  string           `json:"name"`
	Type  core.AccountType `json:"type"`
	Order int              `json:"order"`
	Icon  string           `json:"icon"`
}

func (req accountRequest) account() core.Account {
	return core.Account{
		Name:  sanitizeInput(req.Name),
		Type:  req.Type,
		Order: req.Order,
		Icon:  strings.TrimSpace(req.Icon),
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.svc.Ledger.ListAccounts(r.Context(), userID(r))
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(nonNil(accounts)).Write(w)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	a, err := s.svc.Ledger.CreateAccount(r.Context(), userID(r), req.account())
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(a).Write(w)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	a := req.account()
	a.ID = r.PathValue("id")
	a, err := s.svc.Ledger.UpdateAccount(r.Context(), userID(r), a)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(a).Write(w)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ledger.DeleteAccount(r.Context(), userID(r), r.PathValue("id")); err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

// Categories

type categoryRequest struct {
	Name  string               `json:"name"`
	Type  core.TransactionType `json:"type"`
	Order int                  `json:"order"`
	Icon  string               `json:"icon"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.svc.Ledger.ListCategories(r.Context(), userID(r))
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(nonNil(cats)).Write(w)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	c, err := s.svc.Ledger.CreateCategory(r.Context(), userID(r), core.Category{
		Name:  sanitizeInput(req.Name),
		Type:  req.Type,
		Order: req.Order,
		Icon:  strings.TrimSpace(req.Icon),
	})
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(c).Write(w)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ledger.DeleteCategory(r.Context(), userID(r), r.PathValue("id")); err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

// Transactions

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := ParseTransactionFilter(r.URL.Query(), s.loc)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	txs, err := s.svc.Ledger.ListTransactions(r.Context(), userID(r), f)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(nonNil(txs)).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	tx, err := req.transaction(s.loc)
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	tx, err = s.svc.Ledger.CreateTransaction(r.Context(), userID(r), tx)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(tx).Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	tx, err := req.transaction(s.loc)
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	tx.ID = r.PathValue("id")
	tx, err = s.svc.Ledger.UpdateTransaction(r.Context(), userID(r), tx)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(tx).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ledger.DeleteTransaction(r.Context(), userID(r), r.PathValue("id")); err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	f, err := ParseTransactionFilter(r.URL.Query(), s.loc)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	rows, err := s.svc.Ledger.ExportRows(r.Context(), userID(r), f, s.loc)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, rows); err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().
		Header("Content-Disposition", `attachment; filename="transactions.csv"`).
		Raw("text/csv; charset=utf-8", buf.Bytes()).
		Write(w)
}

// Credit-card rules

type ruleRequest struct {
	ClosingDay              int    `json:"closingDay"`
	PaymentDay              int    `json:"paymentDay"`
	PaymentMonthOffset      int    `json:"paymentMonthOffset"`
	DefaultPaymentAccountID string `json:"defaultPaymentAccountId"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.svc.Ledger.ListRules(r.Context(), userID(r))
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	if rules == nil {
		rules = map[string]core.CreditCardRule{}
	}
	NewResponse().JSON(rules).Write(w)
}

func (s *Server) handleSaveRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	rule, err := s.svc.Ledger.SaveRule(r.Context(), userID(r), core.CreditCardRule{
		CardID:                  r.PathValue("cardID"),
		ClosingDay:              req.ClosingDay,
		PaymentDay:              req.PaymentDay,
		PaymentMonthOffset:      req.PaymentMonthOffset,
		DefaultPaymentAccountID: strings.TrimSpace(req.DefaultPaymentAccountID),
	})
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(rule).Write(w)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ledger.DeleteRule(r.Context(), userID(r), r.PathValue("cardID")); err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}
