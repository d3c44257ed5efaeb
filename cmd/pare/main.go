package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/mmynk/pare/internal/config"
	"github.com/mmynk/pare/internal/identity"
	"github.com/mmynk/pare/internal/metrics"
	"github.com/mmynk/pare/internal/models"
	"github.com/mmynk/pare/internal/service"
	"github.com/mmynk/pare/internal/storage/file"
	"github.com/mmynk/pare/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("pare failed", "error", err)
		os.Exit(1)
	}
}

// registryKey holds the command's metrics registry in App.Metadata.
const registryKey = "registry"

func newApp() *cli.App {
	return &cli.App{
		Name:  "pare",
		Usage: "track shared expenses and settle up",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "ledger",
				Aliases: []string{"l"},
				Usage:   "ledger file (overrides PARE_LEDGER_PATH)",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "write the command's counters to this file in Prometheus text format",
			},
		},
		Metadata: map[string]interface{}{},
		After:    writeMetrics,
		Commands: []*cli.Command{
			balancesCommand(),
			settleCommand(),
			addBillCommand(),
			deleteBillCommand(),
			addUserCommand(),
			usersCommand(),
			searchUsersCommand(),
			convertCommand(),
			exportSQLiteCommand(),
			exportXLSXCommand(),
		},
	}
}

// session is one opened ledger with the services built on top of it.
type session struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *file.Store
	bills    *service.BillService
	settle   *service.SettlementService
	resolver *identity.Resolver

	// user is the ledger row of the current user.
	user models.User
}

func openSession(c *cli.Context) (*session, error) {
	// A missing .env is fine; the environment alone is enough.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if path := c.String("ledger"); path != "" {
		cfg.LedgerPath = path
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	var dir identity.Directory
	if cfg.DirectoryBaseURL != "" {
		dir = identity.NewHTTPDirectory(cfg.DirectoryBaseURL, cfg.DirectoryToken, nil)
	}
	resolver, err := identity.NewResolver(dir, identity.Options{
		DefaultName:     cfg.DefaultUserName,
		DefaultID:       cfg.DefaultUserID,
		BaseURL:         cfg.DirectoryBaseURL,
		SearchCacheSize: cfg.SearchCacheSize,
	}, logger)
	if err != nil {
		return nil, err
	}

	store := file.New(cfg.LedgerPath, logger)
	l, err := store.Load(c.Context)
	if err != nil {
		return nil, err
	}

	me := resolver.CurrentUser(c.Context)
	user := l.EnsureDefaults(me.Name, me.ExternalID)
	logger.Debug("ledger opened", "path", cfg.LedgerPath, "current_user", me.Name)

	reg := prometheus.NewRegistry()
	c.App.Metadata[registryKey] = reg
	m := metrics.New(reg)
	bills := service.NewBillService(l, nil, logger, m)
	return &session{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		bills:    bills,
		settle:   service.NewSettlementService(bills, logger, m),
		resolver: resolver,
		user:     user,
	}, nil
}

// writeMetrics dumps the counters of the command that just ran, for a
// node_exporter textfile collector or a wrapper script to pick up.
func writeMetrics(c *cli.Context) error {
	path := c.String("metrics-file")
	if path == "" {
		return nil
	}
	reg, ok := c.App.Metadata[registryKey].(*prometheus.Registry)
	if !ok {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

func (s *session) save(ctx context.Context) error {
	if err := s.store.Save(ctx, s.bills.Ledger()); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}
