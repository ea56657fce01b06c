/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing and settlement engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, optional YAML file)
  2. Build the zap logger
  3. Open the store (SQLite or PostgreSQL)
  4. Register Prometheus metrics, create API handler
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    Overrides PORT
  -db      Overrides DATABASE_DSN (":memory:" for an in-memory SQLite)

ENVIRONMENT:
  See config/config.go. SETTLEMENT_CONFIG points at a YAML file whose
  values win over the environment.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Persistence
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/metrics"
	"github.com/warp/settlement-engine/store/postgres"
	"github.com/warp/settlement-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides PORT)")
	dsn := flag.String("db", "", "database DSN (overrides DATABASE_DSN)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ratio, err := cfg.HeatingConsumptionRatio()
	if err != nil {
		return err
	}

	// Initialize store
	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeStore()

	handler := api.NewHandler(store, api.Options{
		Logger:       logger,
		Metrics:      metrics.New(prometheus.DefaultRegisterer),
		HeatingRatio: ratio,
		Creditor:     cfg.Creditor(),
		Originator:   cfg.Originator(),
	})
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:       cfg.CORSOrigins,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("database", cfg.Database.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, db config.Database) (generic.TxStore, func(), error) {
	switch db.Driver {
	case config.DriverPostgres:
		s, err := postgres.New(ctx, db.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := sqlite.New(db.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}
