package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/storm-watch/internal/adapter/httpadmin"
	"github.com/couchcryptid/storm-watch/internal/config"
	"github.com/couchcryptid/storm-watch/internal/dispatch"
	"github.com/couchcryptid/storm-watch/internal/feed/alerts"
	"github.com/couchcryptid/storm-watch/internal/feed/reports"
	"github.com/couchcryptid/storm-watch/internal/matching"
	"github.com/couchcryptid/storm-watch/internal/observability"
	"github.com/couchcryptid/storm-watch/internal/scheduler"
	"github.com/couchcryptid/storm-watch/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	queue := dispatch.NewQueue(cfg.KafkaBrokers, cfg.KafkaTriggerTopic, logger, metrics)
	source := dispatch.NewSource(cfg.KafkaBrokers, cfg.KafkaTriggerTopic, cfg.KafkaGroupID, logger)

	engine := matching.NewEngine(st, queue, cfg.MatchTolerance, cfg.VerifyThreshold, logger, metrics)

	alertClient := alerts.NewClient(cfg.AlertFeedURL, cfg.AlertFeedTimeout, logger)
	alertCache := alerts.NewLiveCache(cfg.AlertCacheSize, cfg.AlertCacheTTL, nil)
	alertAdapter := alerts.NewAdapter(alertClient, st, alertCache, queue, engine, logger, metrics)

	reportClient := reports.NewClient(cfg.ReportFeedURL, cfg.ReportFeedTimeout, logger)
	reportAdapter := reports.NewAdapter(reportClient, st, queue, engine, logger, metrics)

	sched := scheduler.New(alertAdapter, reportAdapter, cfg.ReportLookbackDays, nil, logger, metrics)

	sender := dispatch.NewSender(cfg.DeliveryTimeout, cfg.WebhookSecret)
	pool := dispatch.NewPool(source, st, sender, cfg.DispatchWorkers, cfg.DeliveryMaxAttempts, logger, metrics)

	srv := httpadmin.NewServer(cfg.HTTPAddr, sched, st, alertCache, sched, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", "error", err)
		}
	}()

	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	sched.Start(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	<-poolDone

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", "error", err)
	}
	if err := queue.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := source.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}

	logger.Info("shutdown complete")
}
