// Package main provides the entry point for the paper sync worker, which
// runs sync batches requested over Kafka.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixir/paper-sync-service/internal/app"
	"github.com/helixir/paper-sync-service/internal/config"
	"github.com/helixir/paper-sync-service/internal/database"
	"github.com/helixir/paper-sync-service/internal/events"
	"github.com/helixir/paper-sync-service/internal/librarysync"
	"github.com/helixir/paper-sync-service/internal/observability"
	"github.com/helixir/paper-sync-service/internal/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("paper-sync-service worker starting")

	if !cfg.Kafka.Enabled || cfg.Kafka.RequestTopic == "" {
		return errors.New("worker requires kafka.enabled and kafka.request_topic")
	}

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Create repositories.
	paperRepo := repository.NewPgPaperRepository(db)
	runRepo := repository.NewPgSyncRunRepository(db)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	components, err := app.Build(cfg, logger, metrics)
	if err != nil {
		return err
	}

	publisher := app.NewPublisher(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	synchronizer := components.Synchronizer(cfg, paperRepo, logger, metrics)
	runner, err := librarysync.NewRunner(synchronizer, runRepo, publisher, cfg.Sync.RunHistory, logger)
	if err != nil {
		return fmt.Errorf("create sync runner: %w", err)
	}

	listener := events.NewSyncRequestListener(events.ListenerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.RequestTopic,
		GroupID: cfg.Kafka.GroupID,
	}, newSyncRequestHandler(paperRepo, runner, logger), logger)
	defer func() {
		if err := listener.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close sync request listener")
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:        cfg.Server.MetricsAddress(),
			Handler:     metricsMux,
			ReadTimeout: cfg.Server.ReadTimeout,
		}
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	logger.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.RequestTopic).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("paper-sync-service worker is ready")

	// Blocks until the signal context is cancelled.
	if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync request listener: %w", err)
	}

	logger.Info().Msg("shutting down paper-sync-service worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("sync runs did not stop before the shutdown deadline")
	}

	logger.Info().Msg("paper-sync-service worker shutdown complete")
	return nil
}
