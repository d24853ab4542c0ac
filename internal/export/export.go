// Package export turns transactions into flat rows for CSV files and
// spreadsheets.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"kakeibo/internal/core"
)

// Header is the column order of every export.
var Header = []string{"date", "type", "amount", "amount_label", "account", "from_account", "to_account", "category", "description", "memo", "source"}

// Row is one transaction with account and category names resolved.
type Row struct {
	Date        string
	Type        string
	Amount      core.Money
	Account     string
	FromAccount string
	ToAccount   string
	Category    string
	Description string
	Memo        string
	Source      string
}

// Strings renders the row in Header order.
func (r Row) Strings() []string {
	return []string{
		r.Date,
		r.Type,
		strconv.FormatInt(int64(r.Amount), 10),
		r.Amount.String(),
		r.Account,
		r.FromAccount,
		r.ToAccount,
		r.Category,
		r.Description,
		r.Memo,
		r.Source,
	}
}

// Values renders the row for the Sheets API, keeping the amount numeric.
func (r Row) Values() []any {
	s := r.Strings()
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	out[2] = int64(r.Amount)
	return out
}

// BuildRows resolves names and sorts by date, oldest first. Dates are
// rendered in loc. Deleted accounts and categories keep their names.
func BuildRows(txs []core.Transaction, accounts []core.Account, categories []core.Category, loc *time.Location) []Row {
	accName := make(map[string]string, len(accounts))
	for _, a := range accounts {
		accName[a.ID] = a.Name
	}
	catName := make(map[string]string, len(categories))
	for _, c := range categories {
		catName[c.ID] = c.Name
	}

	sorted := make([]core.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	rows := make([]Row, 0, len(sorted))
	for _, tx := range sorted {
		rows = append(rows, Row{
			Date:        tx.Date.In(loc).Format(core.CycleKeyLayout),
			Type:        string(tx.Type),
			Amount:      tx.Amount,
			Account:     accName[tx.AccountID],
			FromAccount: accName[tx.FromAccountID],
			ToAccount:   accName[tx.ToAccountID],
			Category:    catName[tx.CategoryID],
			Description: tx.Description,
			Memo:        tx.Memo,
			Source:      string(tx.Source),
		})
	}
	return rows
}

// WriteCSV writes the header followed by rows.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.Strings()); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
