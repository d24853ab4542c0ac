package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"kakeibo/internal/auth"
	"kakeibo/internal/billing"
	"kakeibo/internal/cache"
	"kakeibo/internal/cli"
	"kakeibo/internal/core"
	apphttp "kakeibo/internal/http"
	applog "kakeibo/internal/log"
	"kakeibo/internal/services"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentApp)
	ctx := context.Background()

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid time zone", applog.FieldError, err)
		os.Exit(1)
	}

	res := cli.InitBackend(ctx, logger, cfg)
	store := res.Backend

	// Month overviews are rebuilt from the ledger; keep a few hundred per
	// process and drop them after a while even without writes.
	overviews := cache.NewLRUCache[core.MonthOverview](500, 15*time.Minute)
	caches := cache.NewManager()
	caches.Register(overviews)
	caches.StartCleanup(5 * time.Minute)

	ledger := services.NewLedgerService(store)
	dashboard := services.NewDashboardService(store, loc, overviews)
	bills := services.NewBillingService(store, billing.NewCalendar(loc))
	ledger.OnChange = dashboard.Invalidate
	bills.OnChange = dashboard.Invalidate

	svc := apphttp.Services{
		Ledger:    ledger,
		Billing:   bills,
		Dashboard: dashboard,
	}

	closeBlobs := func() error { return nil }
	publisher := cli.InitAMQP(logger, cfg)
	parser, err := cli.InitReceiptParser(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize receipt parser", applog.FieldError, err)
		os.Exit(1)
	}
	if parser != nil {
		blobs, closeFn, err := cli.InitBlobStore(ctx, cfg)
		if err != nil {
			logger.Error("Failed to initialize receipt storage", applog.FieldError, err)
			os.Exit(1)
		}
		closeBlobs = closeFn
		var pub services.ScanPublisher
		if publisher != nil {
			pub = publisher
		}
		svc.Receipts = services.NewReceiptService(store, blobs, parser, pub, ledger, loc)
	}

	authSvc := auth.NewService(store, auth.Config{
		Mode:          cfg.AuthMode,
		DevUserEmail:  cfg.DevUserEmail,
		ClientID:      cfg.GoogleOAuthClientID,
		ClientSecret:  cfg.GoogleOAuthClientSecret,
		RedirectURL:   cfg.GoogleOAuthRedirectURL,
		SessionTTL:    cfg.SessionTTL,
		SecureCookies: strings.HasPrefix(cfg.BaseURL, "https://"),
	}, logger.WithComponent(applog.ComponentAuth))
	authSvc.OnSignIn = ledger.EnsureDefaultCategories
	svc.Auth = authSvc

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		Logger:             logger,
		Location:           loc,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Ready:              store.Ping,
	})

	sigCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		caches.Stop()
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				logger.Warn("Failed to close AMQP client", applog.FieldError, err)
			}
		}
		if err := closeBlobs(); err != nil {
			logger.Warn("Failed to close receipt storage", applog.FieldError, err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Failed to close backend", applog.FieldError, err)
		}
	})

	logger.Info("Starting kakeibo server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"auth_mode", cfg.AuthMode,
		"timezone", loc.String(),
		"receipts", svc.Receipts != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(sigCtx, done)
	logger.Info("Server stopped gracefully")
}
