package http

import (
	"net/http"
	"strings"
	"time"

	"kakeibo/internal/auth"
	"kakeibo/internal/core"
)

// sanitizeInput removes control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// userID returns the authenticated user. Routes under /api are wrapped in
// RequireUser, so the user is always present there.
func userID(r *http.Request) string {
	u, _ := auth.UserFromContext(r.Context())
	return u.ID
}

// transactionRequest is the JSON body for creating or updating a
// transaction.
type transactionRequest struct {
	Type          core.TransactionType `json:"type"`
	Date          string               `json:"date"`
	Amount        AmountInput          `json:"amount"`
	AccountID     string               `json:"accountId"`
	FromAccountID string               `json:"fromAccountId"`
	ToAccountID   string               `json:"toAccountId"`
	CategoryID    string               `json:"categoryId"`
	Description   string               `json:"description"`
	Memo          string               `json:"memo"`
}

func (req transactionRequest) transaction(loc *time.Location) (core.Transaction, error) {
	date, err := ParseDate(req.Date, loc)
	if err != nil {
		return core.Transaction{}, err
	}
	amount, err := req.Amount.Money()
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		Type:          req.Type,
		Date:          date,
		Amount:        amount,
		AccountID:     strings.TrimSpace(req.AccountID),
		FromAccountID: strings.TrimSpace(req.FromAccountID),
		ToAccountID:   strings.TrimSpace(req.ToAccountID),
		CategoryID:    strings.TrimSpace(req.CategoryID),
		Description:   sanitizeInput(req.Description),
		Memo:          sanitizeInput(req.Memo),
	}, nil
}
