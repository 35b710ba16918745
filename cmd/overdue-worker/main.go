package main

import (
	"context"
	"os"
	"time"

	appcli "cobranca/internal/cli"
	"cobranca/internal/config"
	"cobranca/internal/log"
	"cobranca/internal/services"
)

func main() {
	appcli.LoadEnvFile()

	cfg := config.Load()
	logger := appcli.SetupLogger(cfg, log.ComponentSweeper)
	logger.Info("Starting overdue-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	store, err := appcli.OpenSQLite(cfg.SQLiteDBPath, logger)
	if err != nil {
		logger.Error("Failed to initialize SQLite store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	registry := services.NewRegistry(store)
	sweeper := services.NewSweeper(registry, nil, services.SweeperConfig{Interval: cfg.SweepInterval})

	ctx, cancel := appcli.SignalContext(context.Background(), logger)
	defer cancel()

	logger.Info("Overdue sweeper configured",
		"interval", cfg.SweepInterval,
		"sqlite_db", cfg.SQLiteDBPath)
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("Failed to start sweeper", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	logger.Info("Shutting down overdue-worker...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := sweeper.Stop(shutdownCtx); err != nil {
		logger.Warn("Shutdown timeout reached", "error", err)
	}
	logger.Info("Overdue-worker shutdown complete")
}
