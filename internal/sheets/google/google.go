// Package google pushes exported transactions to a Google Sheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"kakeibo/internal/export"
	applog "kakeibo/internal/log"
)

// Exporter replaces the contents of one sheet with exported rows.
type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
}

// Credentials selects the service account used for the Sheets API. JSON wins
// over File; with neither, GOOGLE_APPLICATION_CREDENTIALS is tried.
type Credentials struct {
	JSON string
	File string
}

// New creates an exporter for spreadsheetID. Extra options are appended
// after the credentials, which lets tests point the client elsewhere.
func New(ctx context.Context, spreadsheetID string, creds Credentials, opts ...goption.ClientOption) (*Exporter, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	base, err := credentialOptions(ctx, creds)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Exporter{svc: svc, spreadsheetID: spreadsheetID}, nil
}

func credentialOptions(ctx context.Context, creds Credentials) ([]goption.ClientOption, error) {
	jsonCreds := strings.TrimSpace(creds.JSON)
	file := strings.TrimSpace(creds.File)
	if jsonCreds == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var data []byte
	switch {
	case jsonCreds != "":
		slog.DebugContext(ctx, "Using inline service account credentials",
			applog.FieldComponent, applog.ComponentExport)
		data = []byte(jsonCreds)
	case file != "":
		slog.DebugContext(ctx, "Reading service account credentials",
			applog.FieldComponent, applog.ComponentExport,
			"path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		data = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	return []goption.ClientOption{
		goption.WithCredentialsJSON(data),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}, nil
}

// quoteSheet renders a sheet name for A1 notation.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// Export clears sheetName and writes the header and rows from A1. The sheet
// is created when missing. It returns the number of data rows written.
func (e *Exporter) Export(ctx context.Context, sheetName string, rows []export.Row) (int, error) {
	if strings.TrimSpace(sheetName) == "" {
		return 0, errors.New("missing sheet name")
	}
	if err := e.ensureSheet(ctx, sheetName); err != nil {
		return 0, err
	}

	sheet := quoteSheet(sheetName)
	if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, sheet, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return 0, fmt.Errorf("clear sheet %s: %w", sheetName, err)
	}

	values := make([][]any, 0, len(rows)+1)
	header := make([]any, len(export.Header))
	for i, h := range export.Header {
		header[i] = h
	}
	values = append(values, header)
	for _, r := range rows {
		values = append(values, r.Values())
	}

	if _, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, sheet+"!A1", &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).Do(); err != nil {
		return 0, fmt.Errorf("write sheet %s: %w", sheetName, err)
	}

	slog.InfoContext(ctx, "Exported transactions to sheet",
		applog.FieldComponent, applog.ComponentExport,
		applog.FieldOperation, applog.OpExport,
		"sheet", sheetName,
		"rows", len(rows))
	return len(rows), nil
}

func (e *Exporter) ensureSheet(ctx context.Context, sheetName string) error {
	ss, err := e.svc.Spreadsheets.Get(e.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == sheetName {
			return nil
		}
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: sheetName}},
		}},
	}
	if _, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", sheetName, err)
	}
	return nil
}
