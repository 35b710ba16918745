package main

import (
	"context"
	"errors"
	"os"

	appcli "cobranca/internal/cli"
	"cobranca/internal/config"
	"cobranca/internal/log"
	gsheet "cobranca/internal/sheets/google"
	"cobranca/internal/worker"

	"golang.org/x/sync/errgroup"
)

func main() {
	appcli.LoadEnvFile()

	cfg := config.Load()
	logger := appcli.SetupLogger(cfg, log.ComponentWorker)
	logger.Info("Starting ledger-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if !cfg.SheetsEnabled() {
		logger.Error("GOOGLE_SPREADSHEET_ID is required by the ledger worker")
		os.Exit(1)
	}

	// The worker shares the SQLite file with the API process.
	store, err := appcli.OpenSQLite(cfg.SQLiteDBPath, logger)
	if err != nil {
		logger.Error("Failed to initialize SQLite store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := appcli.SignalContext(context.Background(), logger)
	defer cancel()

	sheetsClient, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		SheetName:          cfg.GoogleSheetName,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}

	exporter := worker.NewExportWorker(store, sheetsClient, cfg.ExportBatchSize)

	// Entries committed while the worker was down are picked up here.
	logger.Info("Performing startup export check...")
	if err := exporter.StartupExportCheck(ctx); err != nil {
		logger.Error("Failed startup export check", "error", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	if consumer := appcli.ConnectAMQP(cfg, logger.WithComponent(log.ComponentAMQP)); consumer != nil {
		defer consumer.Close()
		g.Go(func() error {
			if err := consumer.ConsumeEntries(gCtx, exporter.HandleEntryMessage); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logger.Info("Skipping AMQP consumption - relying on periodic export only")
	}

	g.Go(func() error {
		exporter.RunPeriodic(gCtx, cfg.ExportInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Ledger worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Ledger worker shutdown complete")
}
