/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the terminal storage cost engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and config file
  2. Build the structured logger
  3. Initialize SQLite store (and optionally seed tariffs)
  4. Create API handler with dependencies
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  JSON configuration file (optional)
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: tariff-engine.db)
           Use ":memory:" for in-memory database
  -seed    JSON tariff seed file loaded on startup (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/yard.db"

  # Run with in-memory database and seeded tariffs
  ./server -db=":memory:" -seed="./seed/tariffs.json"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yardops/tariff-engine/api"
	"github.com/yardops/tariff-engine/billing"
	"github.com/yardops/tariff-engine/factory"
	"github.com/yardops/tariff-engine/internal/config"
	"github.com/yardops/tariff-engine/internal/logging"
	"github.com/yardops/tariff-engine/store/sqlite"
)

func main() {
	// Flags; explicit flags win over the config file.
	configPath := flag.String("config", "", "JSON configuration file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	seedPath := flag.String("seed", "", "JSON tariff seed file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *seedPath != "" {
		cfg.SeedFile = *seedPath
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	if cfg.SeedFile != "" {
		if err := seedTariffs(store, cfg.SeedFile, logger); err != nil {
			logger.Fatal("failed to seed tariffs", zap.Error(err))
		}
	}

	// Initialize handler
	handler, err := api.NewHandler(store, billing.ServiceConfig{
		StrictSizes: cfg.StrictSizes,
		BulkWorkers: cfg.BulkWorkers,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to initialize handler", zap.Error(err))
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DatabasePath),
			zap.Bool("strict_sizes", cfg.StrictSizes),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// seedTariffs loads a JSON tariff file into an empty database. A
// database that already holds tariffs is left untouched, so restarting
// with -seed is safe.
func seedTariffs(store *sqlite.Store, path string, logger *zap.Logger) error {
	ctx := context.Background()

	existing, err := store.ListTariffs(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Info("database already holds tariffs, skipping seed",
			zap.Int("tariffs", len(existing)))
		return nil
	}

	tariffs, err := factory.NewTariffFactory().LoadSeedFile(path)
	if err != nil {
		return err
	}
	if _, err := billing.NewRegistry(tariffs); err != nil {
		return err
	}
	for _, t := range tariffs {
		if err := store.SaveTariff(ctx, t); err != nil {
			return err
		}
	}
	logger.Info("seeded tariffs", zap.Int("tariffs", len(tariffs)), zap.String("file", path))
	return nil
}
