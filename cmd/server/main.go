package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prorroga-chain-server/internal/api"
	"github.com/prorroga-chain-server/internal/chain"
	"github.com/prorroga-chain-server/internal/config"
	"github.com/prorroga-chain-server/internal/database"
	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/feedback"
	"github.com/prorroga-chain-server/internal/monitoring"
	"github.com/prorroga-chain-server/internal/notify"
	"github.com/prorroga-chain-server/internal/reference"
	"github.com/prorroga-chain-server/internal/repository"
	"github.com/prorroga-chain-server/internal/scoring"
	"github.com/prorroga-chain-server/internal/service"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	logger := configManager.Logger()
	logger.WithFields(logrus.Fields{
		"version":    api.Version,
		"production": configManager.IsProduction(),
	}).Info("Starting prórroga chain server")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down server...")
		cancel()
	}()

	if err := run(ctx, configManager, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Prórroga chain server stopped")
}

func run(ctx context.Context, configManager *config.Manager, logger *logrus.Logger) error {
	cfg := configManager.GetConfig()

	repo, err := reference.NewRepository(cfg.Reference.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to load reference data: %w", err)
	}
	if cfg.Reference.Watch && cfg.Reference.Path != "" {
		go func() {
			if err := repo.Watch(ctx); err != nil {
				logger.WithError(err).Error("Reference watcher stopped")
			}
		}()
	}

	metrics, err := monitoring.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	ledger, err := openLedger(ctx, configManager, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	scorer, err := scoring.NewScorer(repo, ledger, scoring.ConfigFrom(cfg.Scoring), logger)
	if err != nil {
		return fmt.Errorf("failed to create scorer: %w", err)
	}
	builder := chain.NewBuilder(scorer, chain.ConfigFrom(cfg.Chain), logger)

	svcOpts := []service.Option{
		service.WithMetrics(metrics),
		service.WithAnalysisConfig(cfg.Analysis),
	}
	if cfg.Thresholds.Critical > 0 {
		svcOpts = append(svcOpts, service.WithThresholds(cfg.Thresholds))
	}

	var serverOpts []api.Option

	if cfg.Database.Enabled {
		if cfg.Database.RunMigrations {
			if err := database.Migrate(configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger); err != nil {
				return err
			}
		}
		db, err := database.NewConnection(ctx, database.ConfigFrom(cfg.Database), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		svcOpts = append(svcOpts, service.WithCaseSource(repository.NewLeaveCaseRepository(db.Pool, logger)))
		serverOpts = append(serverOpts, api.WithHealthCheck("database", db.Health))
	}

	svc := service.NewProrrogaService(logger, repo, scorer, builder, ledger, svcOpts...)

	feed := notify.NewBroadcaster(64)
	serverOpts = append(serverOpts, api.WithAlertFeed(feed))

	publisher, err := newPublisher(cfg.Alerts, feed, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	deduper, err := newDeduper(cfg.Alerts)
	if err != nil {
		return err
	}
	if rd, ok := deduper.(*notify.RedisDeduper); ok {
		defer rd.Close()
		serverOpts = append(serverOpts, api.WithHealthCheck("redis", rd.Ping))
	}

	if cfg.Alerts.Schedule != "" {
		if !cfg.Database.Enabled {
			logger.Warn("Alert review schedule ignored: no leave-case database configured")
		} else {
			scheduler := service.NewReviewScheduler(svc, publisher, deduper, metrics, logger)
			if err := scheduler.Start(cfg.Alerts.Schedule); err != nil {
				return err
			}
			defer func() {
				stopCtx, stop := context.WithTimeout(context.Background(), time.Minute)
				defer stop()
				scheduler.Stop(stopCtx)
			}()
		}
	}

	server := api.NewServer(configManager, svc, logger, serverOpts...)
	return server.Start(ctx)
}

// openLedger opens the configured store and warms the in-memory view.
func openLedger(ctx context.Context, configManager *config.Manager, logger *logrus.Logger) (*feedback.Ledger, error) {
	cfg := configManager.GetConfig().Ledger

	var (
		store feedback.Store
		err   error
	)
	switch cfg.Backend {
	case "memory":
		store = feedback.NewMemoryStore()
	case "postgres":
		store, err = feedback.NewPostgresStoreFromURL(configManager.LedgerURL())
	default:
		if err = os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err == nil {
			store, err = feedback.NewSQLiteStore(cfg.SQLitePath)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s ledger: %w", cfg.Backend, err)
	}

	ledger := feedback.NewLedger(store, cfg.MinSamples, logger)
	if err := ledger.Load(ctx); err != nil {
		ledger.Close()
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return ledger, nil
}

func newPublisher(cfg domain.AlertsConfig, feed *notify.Broadcaster, logger *logrus.Logger) (notify.MultiPublisher, error) {
	publishers := notify.MultiPublisher{feed}
	if len(cfg.KafkaBrokers) == 0 {
		return append(publishers, notify.NewLogPublisher(logger)), nil
	}

	kafka, err := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	if err != nil {
		return nil, err
	}
	breaker := notify.NewBreakerPublisher(kafka, notify.DefaultBreakerConfig("kafka"), logger)
	return append(publishers, breaker), nil
}

func newDeduper(cfg domain.AlertsConfig) (domain.AlertDeduper, error) {
	if cfg.RedisURL == "" {
		return notify.NewMemoryDeduper(cfg.DedupWindow), nil
	}
	return notify.NewRedisDeduper(cfg.RedisURL, cfg.DedupWindow)
}
