package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kakeibo/internal/core"
	"kakeibo/internal/export"
	"kakeibo/internal/ports"
	gsheet "kakeibo/internal/sheets/google"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export transactions",
}

var exportCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Write transactions as CSV",
	Example: `  kakeibo-cli export csv --user 6f1c... --from 2024-01-01 --to 2024-12-31 --out 2024.csv`,
	RunE: runExportCSV,
}

var exportSheetsCmd = &cobra.Command{
	Use:   "sheets",
	Short: "Replace a Google Sheets tab with the transactions",
	Long: `sheets clears the configured tab and writes the header and one row per
transaction. It needs GOOGLE_SPREADSHEET_ID, GOOGLE_SHEET_NAME and service
account credentials in GOOGLE_SERVICE_ACCOUNT_FILE or
GOOGLE_SERVICE_ACCOUNT_JSON. The spreadsheet must be shared with the
service account.`,
	Example: `  kakeibo-cli export sheets --user 6f1c... --from 2024-01-01`,
	RunE:    runExportSheets,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportCSVCmd, exportSheetsCmd)

	exportCmd.PersistentFlags().String("from", "", "First date to include (YYYY-MM-DD)")
	exportCmd.PersistentFlags().String("to", "", "Last date to include (YYYY-MM-DD)")
	exportCSVCmd.Flags().String("out", "", "Output file (default: stdout)")
	exportSheetsCmd.Flags().String("sheet", "", "Sheet tab name (default: GOOGLE_SHEET_NAME)")
}

// dateFilter reads --from and --to. --to is inclusive.
func dateFilter(cmd *cobra.Command, loc *time.Location) (ports.TransactionFilter, error) {
	var f ports.TransactionFilter
	if v, _ := cmd.Flags().GetString("from"); v != "" {
		t, err := time.ParseInLocation(core.CycleKeyLayout, v, loc)
		if err != nil {
			return f, fmt.Errorf("invalid --from date %q, use YYYY-MM-DD", v)
		}
		f.From = t
	}
	if v, _ := cmd.Flags().GetString("to"); v != "" {
		t, err := time.ParseInLocation(core.CycleKeyLayout, v, loc)
		if err != nil {
			return f, fmt.Errorf("invalid --to date %q, use YYYY-MM-DD", v)
		}
		f.To = t.AddDate(0, 0, 1)
	}
	return f, nil
}

func runExportCSV(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	f, err := dateFilter(cmd, a.loc)
	if err != nil {
		return err
	}
	rows, err := a.ledger.ExportRows(cmd.Context(), a.userID, f, a.loc)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("out"); path != "" {
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer file.Close()
		w = file
	}
	if err := export.WriteCSV(w, rows); err != nil {
		return err
	}
	a.logger.Info("Exported transactions", "rows", len(rows), "format", "csv")
	return nil
}

func runExportSheets(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.cfg.ValidateSheetsExport(); err != nil {
		return err
	}
	sheet, _ := cmd.Flags().GetString("sheet")
	if sheet == "" {
		sheet = a.cfg.GoogleSheetName
	}
	f, err := dateFilter(cmd, a.loc)
	if err != nil {
		return err
	}
	rows, err := a.ledger.ExportRows(cmd.Context(), a.userID, f, a.loc)
	if err != nil {
		return err
	}

	exporter, err := gsheet.New(cmd.Context(), a.cfg.GoogleSpreadsheetID, gsheet.Credentials{
		JSON: a.cfg.GoogleServiceAccountJSON,
		File: a.cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		return err
	}
	n, err := exporter.Export(cmd.Context(), sheet, rows)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d transactions to sheet %q.\n", n, sheet)
	return nil
}
