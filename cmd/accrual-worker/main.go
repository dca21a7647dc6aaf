package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"paghetta/internal/amqp"
	"paghetta/internal/backend"
	"paghetta/internal/config"
	"paghetta/internal/log"
	"paghetta/internal/services"
	"paghetta/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.Config{
		Level:     slog.LevelInfo,
		Component: log.ComponentWorker,
	})
	log.SetDefault(logger)

	logger.Info("Starting accrual-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	store, err := backend.Open(cfg, logger)
	if err != nil {
		logger.Error("Failed to open storage backend", log.FieldError, err)
		os.Exit(1)
	}
	defer store.Close()

	// AMQP is optional: without it the worker still accrues, it just
	// stops publishing state-changed notifications.
	var notifier services.Notifier = services.NopNotifier{}
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without notifications", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			notifier = amqpClient
			logger.Info("AMQP client initialized",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled, state-changed notifications will not be published")
	}

	ledgerService := services.NewLedgerService(store, notifier, logger)
	ledgerService.SetMaxRetries(cfg.LedgerMaxRetries)
	childService := services.NewChildService(store, ledgerService, notifier, logger)
	tenantService := services.NewTenantService(store, childService, cfg.TenantCacheSize, cfg.TenantCacheTTL, logger)
	processor := services.NewAccrualProcessor(tenantService, childService, ledgerService, notifier, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accrualWorker := worker.NewAccrualWorker(processor, cfg.AccrualSchedule, cfg.AccrualCatchUpOnStart, logger)
	if err := accrualWorker.Start(ctx); err != nil {
		logger.Error("Failed to start accrual worker", log.FieldError, err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	cancel()
	accrualWorker.Stop()
	logger.Info("Accrual-worker shutdown complete")
}
