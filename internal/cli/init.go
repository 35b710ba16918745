// Package cli holds the start-up steps shared by cmd/cobranca,
// cmd/ledger-worker and cmd/overdue-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cobranca/internal/amqp"
	"cobranca/internal/config"
	"cobranca/internal/core"
	"cobranca/internal/log"
	"cobranca/internal/services"
	"cobranca/internal/storage"
	"cobranca/internal/storage/memory"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads .env (or the given files) for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile(paths ...string) {
	_ = godotenv.Load(paths...)
}

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	level, err := log.ParseLevel(cfg.LogLevel)
	logger := log.New(log.Config{
		Level:     level,
		Component: component,
		Format:    strings.ToLower(cfg.LogFormat),
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Falling back to info level", "error", err)
	}
	return logger
}

// OpenStore opens the backend selected by DATA_BACKEND.
func OpenStore(cfg *config.Config, logger *log.Logger) (storage.Store, error) {
	switch cfg.DataBackend {
	case "sqlite":
		return OpenSQLite(cfg.SQLiteDBPath, logger)
	case "memory":
		if cfg.MemorySeedFile == "" {
			logger.Info("Initialized memory backend")
			return memory.New(), nil
		}
		// Seeded statuses may be blank or stale; rederive them against today.
		today := core.DateOf(time.Now().UTC())
		store, err := memory.NewFromFile(cfg.MemorySeedFile, func(d core.Debtor) core.Status {
			return services.DeriveStatus(d.Debts, today, d.Status)
		})
		if err != nil {
			return nil, fmt.Errorf("seed memory store: %w", err)
		}
		logger.Info("Initialized memory backend", "seed_file", cfg.MemorySeedFile)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
	}
}

// OpenSQLite opens the SQLite store at dbPath, applying migrations.
func OpenSQLite(dbPath string, logger *log.Logger) (*storage.SQLiteStore, error) {
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %s: %w", dbPath, err)
	}
	logger.Info("Initialized SQLite backend", "path", dbPath)
	return store, nil
}

// ConnectAMQP returns nil when no AMQP_URL is configured or the broker
// cannot be reached. Callers then run without event publishing.
func ConnectAMQP(cfg *config.Config, logger *log.Logger) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - ledger entries will not be published")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing without it", "error", err)
		return nil
	}
	logger.Info("AMQP client initialized",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue)
	return client
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
