package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/remind-lab/remindd/internal/config"
	"github.com/remind-lab/remindd/internal/core/storage"
	mongostore "github.com/remind-lab/remindd/internal/core/storage/mongo"
	"github.com/remind-lab/remindd/internal/core/storage/postgres"
	"github.com/remind-lab/remindd/internal/dispatch"
	"github.com/remind-lab/remindd/internal/migrations"
	"github.com/remind-lab/remindd/internal/notify"
	"github.com/remind-lab/remindd/internal/registration"
	"github.com/remind-lab/remindd/internal/server"
)

func main() {
	configPath := flag.String("config", "remindd.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	durations, err := cfg.ParseDurations()
	if err != nil {
		slog.Error("Invalid duration setting", "error", err)
		os.Exit(1)
	}

	slog.Info("Loaded config",
		"backend", cfg.Database.Backend,
		"lead_interval", durations.LeadInterval,
		"scan_interval", durations.ScanInterval,
		"claim_lease", durations.ClaimLeaseDuration)

	// 2. Initialize Storage (selected backend)
	store, err := openStore(cfg, durations)
	if err != nil {
		slog.Error("Failed to initialize storage backend", "backend", cfg.Database.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// 3. Initialize Notifier
	var notifier notify.Notifier
	if cfg.Notifier.Type == "webhook" {
		notifier = notify.NewWebhookNotifier(cfg.Notifier.WebhookURL, durations.NotifierTimeout)
	} else {
		notifier = notify.LogNotifier{}
	}

	// 4. Initialize Dispatch (periodic scan -> claim -> notify -> mark)
	dispatcher := dispatch.New(store, notifier, dispatch.Options{
		BatchLimit:  cfg.Dispatch.BatchLimit,
		Concurrency: cfg.Dispatch.Concurrency,
		MaxAttempts: cfg.Dispatch.MaxRetryAttempts,
		BackoffBase: durations.RetryBackoffBase,
		BackoffCap:  durations.RetryBackoffCap,
	})
	scheduler := dispatch.NewScheduler(durations.ScanInterval, dispatcher)

	// 5. Initialize Registration (event intake + reporting API)
	registrationSvc := registration.NewService(store, durations.LeadInterval, cfg.Server.MaxBodySizeMB)

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), store, cfg.Server.Mode)
	registrationSvc.RegisterRoutes(srv.Engine)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Dispatch.Enabled {
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Dispatch scheduler disabled by config")
	}

	// Signal handler -> triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// openStore builds the configured backend. Both satisfy the same contract;
// everything downstream is backend-agnostic.
func openStore(cfg *config.Config, durations config.Durations) (storage.EventStore, error) {
	switch cfg.Database.Backend {
	case "postgres":
		// Migrations run on a short-lived connection first: the adapter
		// validates the schema and prepares statements at construction.
		mdb, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database for migrations: %w", err)
		}
		if err := migrations.RunMigrations(mdb, cfg.Database.AutoMigrate); err != nil {
			mdb.Close()
			return nil, err
		}
		mdb.Close()

		return postgres.NewAdapter(
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			durations.ClaimLeaseDuration,
		)
	case "mongo":
		return mongostore.NewAdapter(cfg.Database.URI, cfg.Database.Name, durations.ClaimLeaseDuration)
	default:
		return nil, fmt.Errorf("unsupported database backend %q", cfg.Database.Backend)
	}
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
