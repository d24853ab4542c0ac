// Package cli provides common initialization shared by cmd/kakeibo,
// cmd/kakeibo-worker and cmd/kakeibo-cli.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kakeibo/internal/amqp"
	"kakeibo/internal/backend"
	"kakeibo/internal/blob"
	"kakeibo/internal/config"
	applog "kakeibo/internal/log"
	"kakeibo/internal/receipt"
)

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(cfg *config.Config, component string) *applog.Logger {
	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: component,
		Output:    os.Stdout,
	})
	slog.SetDefault(logger.Logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads .env and the environment, sets up logging and
// validates the result. It exits the process on validation failure.
func LoadAndValidateConfig(component string) (*config.Config, *applog.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg, component)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// InitBackend opens the configured storage backend or exits the process.
func InitBackend(ctx context.Context, logger *applog.Logger, cfg *config.Config) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", bcfg.Type)
		os.Exit(1)
	}
	return res
}

// InitBlobStore opens the receipt image store selected by RECEIPT_STORAGE.
// The returned close function is never nil.
func InitBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, func() error, error) {
	switch cfg.ReceiptStorage {
	case "gcs":
		s, err := blob.NewGCSStore(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, nil, fmt.Errorf("open gcs bucket %s: %w", cfg.GCSBucket, err)
		}
		return s, s.Close, nil
	default:
		s, err := blob.NewLocalStore(cfg.ReceiptDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open receipt dir %s: %w", cfg.ReceiptDir, err)
		}
		return s, func() error { return nil }, nil
	}
}

// InitReceiptParser returns the Gemini parser, or nil when GEMINI_API_KEY is
// not set.
func InitReceiptParser(ctx context.Context, logger *applog.Logger, cfg *config.Config) (receipt.Parser, error) {
	if !cfg.ReceiptsEnabled() {
		logger.Info("Receipt scanning disabled, GEMINI_API_KEY not set")
		return nil, nil
	}
	p, err := receipt.NewGeminiParser(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, err
	}
	logger.Info("Receipt scanning enabled", "model", cfg.GeminiModel, "storage", cfg.ReceiptStorage)
	return p, nil
}

// InitAMQP connects to the broker when AMQP_URL is set. A nil client means
// receipts are processed inline.
func InitAMQP(logger *applog.Logger, cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, processing receipts inline", applog.FieldError, err)
		return nil
	}
	logger.Info("Initialized AMQP client",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue)
	return client
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that is closed once cleanup has finished.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
