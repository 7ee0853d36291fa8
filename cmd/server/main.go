/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the debt ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and environment configuration
  2. Apply command-line flag overrides
  3. Initialize logger, SQLite store and member seed
  4. Wire ledger service, metrics and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DATABASE_PATH)
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  See config/config.go. JWT_SECRET is required when APP_ENV=production.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run with in-memory database
  ./server -db=":memory:"
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/warp/debt-ledger/api"
	"github.com/warp/debt-ledger/config"
	"github.com/warp/debt-ledger/ledger"
	"github.com/warp/debt-ledger/logging"
	"github.com/warp/debt-ledger/members"
	"github.com/warp/debt-ledger/store/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DatabasePath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.DatabasePath = *dbPath

	logger, syncLogger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer syncLogger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.UsesDevSecret() {
		logger.Warn("JWT_SECRET not set, signing sessions with the development secret")
	}

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Seed members
	seed, err := members.LoadSeed(cfg.SeedFile)
	if err != nil {
		return fmt.Errorf("failed to load member seed: %w", err)
	}
	directory := members.NewDirectory(store)
	if err := directory.Seed(context.Background(), seed); err != nil {
		return fmt.Errorf("failed to seed members: %w", err)
	}

	// Initialize ledger and handler
	metrics := api.NewMetrics()
	service := ledger.New(store,
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithScale(cfg.CurrencyScale),
		ledger.WithMaxRetries(cfg.SettleRetries),
		ledger.WithConflictHook(metrics.ObserveConflict),
	)
	tokens := api.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	handler := api.NewHandler(service, directory, tokens, metrics, logger.Named("http"))

	// Create router
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	// WriteTimeout stays unset: /api/stream holds its response open. Stream
	// contexts derive from baseCtx, which Shutdown cancels.
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelStreams)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			zap.Int("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("db", cfg.DatabasePath),
			zap.Int32("currency_scale", cfg.CurrencyScale))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
