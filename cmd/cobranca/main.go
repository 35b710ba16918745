package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cobranca/internal/cache"
	appcli "cobranca/internal/cli"
	"cobranca/internal/config"
	apphttp "cobranca/internal/http"
	"cobranca/internal/log"
	"cobranca/internal/services"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	cmd := &cli.Command{
		Name:   "cobranca",
		Usage:  "Debt-tracking API: debtors, ledger history and reports",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "Path to a .env file loaded before reading the environment",
				Value:   ".env",
				Sources: cli.EnvVars("COBRANCA_ENV_FILE"),
			},
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "HTTP port (overrides PORT)",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Data backend: memory or sqlite (overrides DATA_BACKEND)",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "SQLite database path (overrides SQLITE_DB_PATH)",
			},
			&cli.StringFlag{
				Name:  "seed",
				Usage: "JSON seed file for the memory backend (overrides MEMORY_SEED_FILE)",
			},
			&cli.BoolFlag{
				Name:  "sweep",
				Usage: "Run the overdue sweeper in-process; disable when overdue-worker runs",
				Value: true,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	appcli.LoadEnvFile(cmd.String("env-file"))
	cfg := config.Load()
	if cmd.IsSet("port") {
		cfg.Port = cmd.String("port")
	}
	if cmd.IsSet("backend") {
		cfg.DataBackend = cmd.String("backend")
	}
	if cmd.IsSet("db") {
		cfg.SQLiteDBPath = cmd.String("db")
	}
	if cmd.IsSet("seed") {
		cfg.MemorySeedFile = cmd.String("seed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := appcli.SetupLogger(cfg, log.ComponentApp)

	store, err := appcli.OpenStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	caches := cache.NewManager()
	opts := []services.Option{services.OnChange(caches.PurgeAll)}
	if publisher := appcli.ConnectAMQP(cfg, logger.WithComponent(log.ComponentAMQP)); publisher != nil {
		defer publisher.Close()
		opts = append(opts, services.WithPublisher(publisher))
	}
	registry := services.NewRegistry(store, opts...)

	srv := apphttp.NewServer(":"+cfg.Port, registry, apphttp.Options{
		Logger:         logger.WithComponent(log.ComponentHTTP),
		Caches:         caches,
		ReportCacheTTL: cfg.ReportCacheTTL,
		RateLimit:      cfg.RateLimitPerMinute,
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, cancel := appcli.SignalContext(ctx, logger)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting cobranca server",
			"port", cfg.Port,
			"backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if cmd.Bool("sweep") {
		sweeper := services.NewSweeper(registry, nil, services.SweeperConfig{Interval: cfg.SweepInterval})
		g.Go(func() error {
			return sweeper.Run(gCtx)
		})
	} else {
		logger.Info("In-process sweeper disabled")
	}

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
