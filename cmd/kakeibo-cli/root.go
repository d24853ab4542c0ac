package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kakeibo/internal/backend"
	"kakeibo/internal/billing"
	"kakeibo/internal/cli"
	"kakeibo/internal/config"
	applog "kakeibo/internal/log"
	"kakeibo/internal/services"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "kakeibo-cli",
	Short: "Maintenance commands for the kakeibo household ledger",
	Long: `kakeibo-cli works directly on the kakeibo database configured by the
same environment variables as the server (DATA_BACKEND, SQLITE_DB_PATH,
TIMEZONE, ...). A .env file in the working directory is loaded first.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("user", "", "ID of the user to act on")
}

// app holds what a command needs to act on the ledger.
type app struct {
	cfg     *config.Config
	logger  *applog.Logger
	loc     *time.Location
	ledger  *services.LedgerService
	billing *services.BillingService
	userID  string
	close   func() error
}

// openApp loads configuration and opens the backend. The sqlite backend is
// required since the memory backend would start empty.
func openApp(cmd *cobra.Command) (*app, error) {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg, applog.ComponentApp)

	if cfg.DataBackend != string(backend.SQLiteBackend) {
		return nil, fmt.Errorf("kakeibo-cli needs DATA_BACKEND=sqlite, got %q", cfg.DataBackend)
	}
	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		return nil, fmt.Errorf("--user is required")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(cmd.Context(), bcfg)
	if err != nil {
		return nil, err
	}
	if _, err := res.Backend.GetUser(cmd.Context(), userID); err != nil {
		_ = res.Cleanup()
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		loc:     loc,
		ledger:  services.NewLedgerService(res.Backend),
		billing: services.NewBillingService(res.Backend, billing.NewCalendar(loc)),
		userID:  userID,
		close:   res.Cleanup,
	}, nil
}
