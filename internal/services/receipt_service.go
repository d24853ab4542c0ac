package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"kakeibo/internal/blob"
	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/ports"
	"kakeibo/internal/receipt"
)

// MaxReceiptSize bounds uploaded receipt images.
const MaxReceiptSize = 10 << 20

// ErrScanFailed wraps parse failures that were recorded on the scan.
// Retrying them without a new image does not help.
var ErrScanFailed = errors.New("receipt scan failed")

var receiptExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/heic":      ".heic",
	"application/pdf": ".pdf",
}

// ScanPublisher hands a stored receipt scan to a background worker.
type ScanPublisher interface {
	PublishReceiptScan(ctx context.Context, scanID, userID string) error
}

// ReceiptStore is the storage a ReceiptService needs.
type ReceiptStore interface {
	ports.ReceiptStore
	ports.CategoryStore
}

// ReceiptService stores receipt images, extracts draft transactions from
// them and turns confirmed drafts into ledger entries.
type ReceiptService struct {
	store     ReceiptStore
	blobs     blob.Store
	parser    receipt.Parser
	publisher ScanPublisher
	ledger    *LedgerService
	loc       *time.Location

	newID func() string
	now   func() time.Time
}

// NewReceiptService wires the receipt flow. With a nil publisher uploads are
// processed inline.
func NewReceiptService(store ReceiptStore, blobs blob.Store, parser receipt.Parser, publisher ScanPublisher, ledger *LedgerService, loc *time.Location) *ReceiptService {
	return &ReceiptService{
		store:     store,
		blobs:     blobs,
		parser:    parser,
		publisher: publisher,
		ledger:    ledger,
		loc:       loc,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Upload stores the image and queues it for parsing. The returned scan is
// pending when queued, or already done or failed when processed inline.
func (s *ReceiptService) Upload(ctx context.Context, userID string, data []byte, mimeType string) (core.ReceiptScan, error) {
	ext, ok := receiptExtensions[mimeType]
	if !ok {
		return core.ReceiptScan{}, invalid(fmt.Errorf("unsupported receipt type %q", mimeType))
	}
	if len(data) == 0 {
		return core.ReceiptScan{}, invalid(errors.New("empty receipt image"))
	}
	if len(data) > MaxReceiptSize {
		return core.ReceiptScan{}, invalid(fmt.Errorf("receipt image exceeds %d bytes", MaxReceiptSize))
	}

	id := s.newID()
	uri, err := s.blobs.Put(ctx, path.Join("receipts", userID, id+ext), data, mimeType)
	if err != nil {
		return core.ReceiptScan{}, fmt.Errorf("store receipt image: %w", err)
	}
	now := s.now()
	scan := core.ReceiptScan{
		ID:        id,
		UserID:    userID,
		BlobURI:   uri,
		MimeType:  mimeType,
		Status:    core.ScanPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveReceiptScan(ctx, scan); err != nil {
		return core.ReceiptScan{}, fmt.Errorf("save receipt scan: %w", err)
	}

	if s.publisher != nil {
		err := s.publisher.PublishReceiptScan(ctx, id, userID)
		if err == nil {
			return scan, nil
		}
		slog.WarnContext(ctx, "Failed to queue receipt scan, processing inline",
			applog.FieldComponent, applog.ComponentReceipt,
			applog.FieldScanID, id,
			applog.FieldError, err)
	}

	// Parse failures are recorded on the scan; the upload itself succeeded.
	_ = s.Process(ctx, userID, id)
	return s.store.GetReceiptScan(ctx, userID, id)
}

// Process parses a stored scan and records the drafts or the failure.
// Processing a scan that is already done is a no-op.
func (s *ReceiptService) Process(ctx context.Context, userID, scanID string) error {
	scan, err := s.store.GetReceiptScan(ctx, userID, scanID)
	if err != nil {
		return err
	}
	if scan.Status == core.ScanDone {
		return nil
	}
	scan.Status = core.ScanProcessing
	scan.UpdatedAt = s.now()
	if err := s.store.SaveReceiptScan(ctx, scan); err != nil {
		return fmt.Errorf("mark scan processing: %w", err)
	}

	drafts, perr := s.parse(ctx, scan)
	scan.UpdatedAt = s.now()
	if perr != nil {
		scan.Status = core.ScanFailed
		scan.Error = perr.Error()
		scan.Drafts = nil
	} else {
		scan.Status = core.ScanDone
		scan.Error = ""
		scan.Drafts = drafts
	}
	if err := s.store.SaveReceiptScan(ctx, scan); err != nil {
		return fmt.Errorf("save scan result: %w", err)
	}
	if perr != nil {
		slog.ErrorContext(ctx, "Receipt scan failed",
			applog.FieldComponent, applog.ComponentReceipt,
			applog.FieldOperation, applog.OpScan,
			applog.FieldScanID, scanID,
			applog.FieldError, perr)
		return fmt.Errorf("%w: %w", ErrScanFailed, perr)
	}
	slog.InfoContext(ctx, "Receipt scanned",
		applog.FieldComponent, applog.ComponentReceipt,
		applog.FieldOperation, applog.OpScan,
		applog.FieldScanID, scanID,
		"drafts", len(drafts))
	return nil
}

func (s *ReceiptService) parse(ctx context.Context, scan core.ReceiptScan) ([]core.ReceiptDraft, error) {
	if s.parser == nil {
		return nil, errors.New("receipt parsing is not configured")
	}
	data, err := s.blobs.Get(ctx, scan.BlobURI)
	if err != nil {
		return nil, fmt.Errorf("load receipt image: %w", err)
	}
	cats, err := s.store.ListCategories(ctx, scan.UserID)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	var expense []core.Category
	for _, c := range cats {
		if c.Type == core.Expense && !c.IsDeleted {
			expense = append(expense, c)
		}
	}
	return s.parser.Parse(ctx, data, scan.MimeType, receipt.Hints{
		Categories: expense,
		Today:      s.now().In(s.loc),
	})
}

// Stale returns unfinished scans last touched before cutoff.
func (s *ReceiptService) Stale(ctx context.Context, cutoff time.Time, limit int) ([]core.ReceiptScan, error) {
	return s.store.ListStaleReceiptScans(ctx, cutoff, limit)
}

func (s *ReceiptService) Get(ctx context.Context, userID, scanID string) (core.ReceiptScan, error) {
	return s.store.GetReceiptScan(ctx, userID, scanID)
}

func (s *ReceiptService) List(ctx context.Context, userID string, limit int) ([]core.ReceiptScan, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListReceiptScans(ctx, userID, limit)
}

// Confirm records the selected drafts of a finished scan as expenses paid
// from accountID. An empty selection confirms every draft.
func (s *ReceiptService) Confirm(ctx context.Context, userID, scanID, accountID string, selected []int) ([]core.Transaction, error) {
	scan, err := s.store.GetReceiptScan(ctx, userID, scanID)
	if err != nil {
		return nil, err
	}
	if scan.Status != core.ScanDone {
		return nil, invalid(fmt.Errorf("receipt scan is %s", scan.Status))
	}
	if len(selected) == 0 {
		selected = make([]int, len(scan.Drafts))
		for i := range selected {
			selected[i] = i
		}
	}
	for _, i := range selected {
		if i < 0 || i >= len(scan.Drafts) {
			return nil, invalid(fmt.Errorf("draft %d out of range", i))
		}
	}

	created := make([]core.Transaction, 0, len(selected))
	for _, i := range selected {
		tx, err := s.ledger.CreateTransaction(ctx, userID, scan.Drafts[i].Transaction(userID, accountID))
		if err != nil {
			return created, fmt.Errorf("draft %d: %w", i, err)
		}
		created = append(created, tx)
	}
	return created, nil
}
