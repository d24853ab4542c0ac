package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kakeibo/internal/amqp"
	applog "kakeibo/internal/log"
	"kakeibo/internal/ports"
	"kakeibo/internal/services"
)

// ReceiptWorker parses queued receipt scans.
type ReceiptWorker struct {
	receipts  *services.ReceiptService
	batchSize int
	staleAge  time.Duration
	now       func() time.Time
}

func NewReceiptWorker(receipts *services.ReceiptService, batchSize int, staleAge time.Duration) *ReceiptWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ReceiptWorker{
		receipts:  receipts,
		batchSize: batchSize,
		staleAge:  staleAge,
		now:       time.Now,
	}
}

// HandleScanMessage processes one scan message. Only errors worth a retry
// are returned; parse failures and vanished scans are acknowledged.
func (w *ReceiptWorker) HandleScanMessage(ctx context.Context, msg *amqp.ReceiptScanMessage) error {
	slog.InfoContext(ctx, "Processing receipt scan message",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldScanID, msg.ScanID,
		applog.FieldUserID, msg.UserID)

	err := w.receipts.Process(ctx, msg.UserID, msg.ScanID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrScanFailed):
		return nil
	case errors.Is(err, ports.ErrNotFound):
		slog.WarnContext(ctx, "Receipt scan no longer exists, dropping message",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldScanID, msg.ScanID)
		return nil
	default:
		return fmt.Errorf("process receipt scan %s: %w", msg.ScanID, err)
	}
}

// ProcessStaleScans retries scans whose messages were lost or whose worker
// died mid-scan. It returns how many scans were processed successfully.
func (w *ReceiptWorker) ProcessStaleScans(ctx context.Context) (int, error) {
	stale, err := w.receipts.Stale(ctx, w.now().Add(-w.staleAge), w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale scans: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing stale receipt scans",
		applog.FieldComponent, applog.ComponentWorker,
		"count", len(stale))

	done := 0
	for _, scan := range stale {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := w.receipts.Process(ctx, scan.UserID, scan.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to process stale scan",
				applog.FieldComponent, applog.ComponentWorker,
				applog.FieldScanID, scan.ID,
				applog.FieldError, err)
			continue
		}
		done++
	}
	return done, nil
}
