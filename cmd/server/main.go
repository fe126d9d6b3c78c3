/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags over BILLING_* environment)
  2. Build the zerolog logger
  3. Initialize SQLite store
  4. Wire metrics, reconciler and client cache into the API handler
  5. Optionally load a demo scenario
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  See package config. The most common ones:
  -port         HTTP server port (default: 8080)
  -db           SQLite database path (default: billing.db)
                Use ":memory:" for in-memory database
  -overpayment  reject, cap or allow (default: reject)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # In-memory database with demo data and console logs
  ./server -db=":memory:" -scenario=mixed-portfolio -log-format=text

  # Cap overpayments instead of rejecting them
  BILLING_OVERPAYMENT=cap ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Flags and environment
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/cache"
	"github.com/warp/billing-engine/config"
	"github.com/warp/billing-engine/logging"
	"github.com/warp/billing-engine/metrics"
	"github.com/warp/billing-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "billing-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	collector := metrics.New()
	reconciler := billing.NewReconciler(store,
		billing.WithOverpaymentPolicy(cfg.Overpayment),
		billing.WithLogger(logger.With().Str("component", "reconciler").Logger()),
		billing.WithObserver(collector),
	)
	clients := cache.NewClients(store, cfg.CacheTTL)
	handler := api.NewHandler(store, reconciler, clients, billing.SystemClock)

	ctx := logging.WithContext(context.Background(), logger)
	if cfg.Scenario != "" {
		if err := handler.LoadScenarioByID(ctx, cfg.Scenario); err != nil {
			return fmt.Errorf("failed to load scenario %q: %w", cfg.Scenario, err)
		}
		logger.Info().Str("scenario", cfg.Scenario).Msg("demo scenario loaded")
	}

	router := api.NewRouter(handler, api.RouterOptions{
		Logger:  logger,
		Metrics: collector.Handler(),
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr()).
			Str("db", cfg.DBPath).
			Str("overpayment", string(cfg.Overpayment)).
			Dur("cache_ttl", cfg.CacheTTL).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}
