package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"kakeibo/internal/cli"
	applog "kakeibo/internal/log"
	"kakeibo/internal/services"
	"kakeibo/internal/worker"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentWorker)
	logger.Info("Starting kakeibo-worker")

	if cfg.DataBackend != "sqlite" {
		logger.Error("The receipt worker needs a shared database, set DATA_BACKEND=sqlite", "backend", cfg.DataBackend)
		os.Exit(1)
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid time zone", applog.FieldError, err)
		os.Exit(1)
	}

	ctx := context.Background()
	res := cli.InitBackend(ctx, logger, cfg)
	defer res.Cleanup()

	parser, err := cli.InitReceiptParser(ctx, logger, cfg)
	if err != nil || parser == nil {
		logger.Error("Receipt worker needs GEMINI_API_KEY", applog.FieldError, err)
		os.Exit(1)
	}
	blobs, closeBlobs, err := cli.InitBlobStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize receipt storage", applog.FieldError, err)
		os.Exit(1)
	}
	defer closeBlobs()

	// The worker only parses; confirmed drafts are written by the server.
	ledger := services.NewLedgerService(res.Backend)
	receipts := services.NewReceiptService(res.Backend, blobs, parser, nil, ledger, loc)
	w := worker.NewReceiptWorker(receipts, cfg.ReceiptBatchSize, cfg.ReceiptStaleAge)

	client := cli.InitAMQP(logger, cfg)
	if client != nil {
		defer client.Close()
	} else {
		logger.Warn("AMQP disabled, only stale scans will be retried")
	}

	sigCtx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	g, gctx := errgroup.WithContext(sigCtx)
	if client != nil {
		g.Go(func() error {
			return client.ConsumeReceiptScans(gctx, w.HandleScanMessage)
		})
	}
	g.Go(func() error {
		// Catch up on scans left behind by a previous run before waiting.
		ticker := time.NewTicker(cfg.ReceiptRetryInterval)
		defer ticker.Stop()
		for {
			n, err := w.ProcessStaleScans(gctx)
			if err != nil && gctx.Err() == nil {
				logger.Error("Stale scan retry failed", applog.FieldError, err)
			} else if n > 0 {
				logger.Info("Retried stale receipt scans", "processed", n)
			}
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	cli.WaitForShutdown(sigCtx, done)
	logger.Info("Worker stopped gracefully")
}
