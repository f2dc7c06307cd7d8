/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the settlement engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Configure structured logging
  3. Initialize SQLite store
  4. Build the provider registry from webhook secrets
  5. Create the settlement engine and HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: settlement.db)
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  LOG_LEVEL               debug|info|warn|error
  CARDNET_WEBHOOK_SECRET  HMAC secret for card-network webhooks
  PEERPAY_WEBHOOK_SECRET  HMAC secret for peer-transfer webhooks

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/providers"
	"github.com/warp/settlement-engine/settlement"
	"github.com/warp/settlement-engine/store/sqlite"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "settlement.db", "SQLite database path")
	flag.Parse()

	logging.Setup()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("storage initialized", "database", *dbPath)

	// Provider registry. Dev secrets default so the full flow runs
	// locally; production overrides via environment.
	registry := providers.NewRegistry(providers.Config{
		CardNetWebhookSecret: getEnv("CARDNET_WEBHOOK_SECRET", "dev-cardnet-secret"),
		PeerPayWebhookSecret: getEnv("PEERPAY_WEBHOOK_SECRET", "dev-peerpay-secret"),
	})
	slog.Info("providers registered", "ids", registry.IDs())

	engine := settlement.NewEngine(store, registry)
	router := api.NewRouter(api.NewHandler(engine))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	done := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		slog.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	slog.Info("settlement server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-done
}
