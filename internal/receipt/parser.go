// Package receipt extracts draft expenses from receipt images.
package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kakeibo/internal/core"
)

var ErrNoDrafts = errors.New("no transactions found on receipt")

// Hints give the parser the user's context.
type Hints struct {
	// Categories are the expense categories a draft may be assigned to.
	Categories []core.Category
	// Today anchors dates the receipt does not show and carries the
	// billing zone.
	Today time.Time
}

// Parser turns one receipt image into draft transactions.
type Parser interface {
	Parse(ctx context.Context, image []byte, mimeType string, hints Hints) ([]core.ReceiptDraft, error)
}

type rawDraft struct {
	Date        string          `json:"date"`
	Amount      json.RawMessage `json:"amount"`
	Description string          `json:"description"`
	Merchant    string          `json:"merchant"`
	Category    string          `json:"category"`
}

// ParseDrafts decodes the model's JSON array into drafts. Items without a
// positive amount are dropped; a missing or unreadable date becomes today.
func ParseDrafts(raw string, hints Hints) ([]core.ReceiptDraft, error) {
	var items []rawDraft
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &items); err != nil {
		return nil, fmt.Errorf("decode receipt JSON: %w", err)
	}

	byName := make(map[string]string, len(hints.Categories))
	for _, c := range hints.Categories {
		byName[strings.TrimSpace(c.Name)] = c.ID
	}
	loc := hints.Today.Location()
	today := time.Date(hints.Today.Year(), hints.Today.Month(), hints.Today.Day(), 12, 0, 0, 0, loc)

	drafts := make([]core.ReceiptDraft, 0, len(items))
	for _, it := range items {
		amount, err := parseRawAmount(it.Amount)
		if err != nil {
			continue
		}
		date := today
		if d, err := time.ParseInLocation(core.CycleKeyLayout, strings.TrimSpace(it.Date), loc); err == nil {
			date = d.Add(12 * time.Hour)
		}
		desc := strings.TrimSpace(it.Description)
		if desc == "" {
			desc = strings.TrimSpace(it.Merchant)
		}
		if r := []rune(desc); len(r) > 200 {
			desc = string(r[:200])
		}
		drafts = append(drafts, core.ReceiptDraft{
			Date:        date,
			Amount:      amount,
			Description: desc,
			Merchant:    strings.TrimSpace(it.Merchant),
			CategoryID:  byName[strings.TrimSpace(it.Category)],
		})
	}
	if len(drafts) == 0 {
		return nil, ErrNoDrafts
	}
	return drafts, nil
}

// parseRawAmount accepts a JSON number or a string such as "¥1,280".
func parseRawAmount(raw json.RawMessage) (core.Money, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return core.ParseAmount(s)
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return 0, core.ErrInvalidAmount
	}
	return core.MoneyFromDecimal(d)
}

// cleanModelJSON strips Markdown fences and any text around the JSON array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
