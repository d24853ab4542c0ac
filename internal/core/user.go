package core

import (
	"errors"
	"time"
)

const (
	ScanPending    ScanStatus = "pending"
	ScanProcessing ScanStatus = "processing"
	ScanDone       ScanStatus = "done"
	ScanFailed     ScanStatus = "failed"
)

type (
	ScanStatus string

	User struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture,omitempty"`
	}

	Session struct {
		Token     string
		UserID    string
		ExpiresAt time.Time
	}

	// ReceiptScan tracks one uploaded receipt image through OCR.
	ReceiptScan struct {
		ID        string         `json:"id"`
		UserID    string         `json:"-"`
		BlobURI   string         `json:"-"`
		MimeType  string         `json:"mimeType"`
		Status    ScanStatus     `json:"status"`
		Error     string         `json:"error,omitempty"`
		Drafts    []ReceiptDraft `json:"drafts"`
		CreatedAt time.Time      `json:"createdAt"`
		UpdatedAt time.Time      `json:"updatedAt"`
	}

	// ReceiptDraft is a transaction proposed by the receipt parser and not yet
	// confirmed by the user.
	ReceiptDraft struct {
		Date        time.Time `json:"date"`
		Amount      Money     `json:"amount"`
		Description string    `json:"description"`
		Merchant    string    `json:"merchant,omitempty"`
		CategoryID  string    `json:"categoryId,omitempty"`
	}
)

var ErrSessionExpired = errors.New("session expired")

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Transaction turns the draft into an expense on accountID.
func (d ReceiptDraft) Transaction(userID, accountID string) Transaction {
	return Transaction{
		UserID:      userID,
		Type:        Expense,
		Date:        d.Date,
		Amount:      d.Amount,
		AccountID:   accountID,
		CategoryID:  d.CategoryID,
		Description: d.Description,
		Memo:        d.Merchant,
		Source:      SourceReceipt,
	}
}
