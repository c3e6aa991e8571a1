/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the credit engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Initialize structured logging (zap)
  3. Open SQLite store
  4. Construct domain services (ledger, resolver, approvals, payouts)
  5. Configure HTTP router and payout scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: credits.db, env DB_PATH)
           Use ":memory:" for in-memory database
  -config  Tool cost / settings JSON (optional, env CONFIG_PATH)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the payout scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/credits.db"

  # Run with in-memory database and custom tool costs
  ./server -db=":memory:" -config="./configs/tools.json"

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Payout windows
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/warp/credit-engine/api"
	"github.com/warp/credit-engine/approval"
	"github.com/warp/credit-engine/commission"
	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/ledger"
	"github.com/warp/credit-engine/payout"
	"github.com/warp/credit-engine/quota"
	"github.com/warp/credit-engine/resolver"
	"github.com/warp/credit-engine/store/sqlite"
)

func main() {
	// .env is optional; flags override environment.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "credits.db"), "SQLite database path")
	configPath := flag.String("config", envStr("CONFIG_PATH", ""), "tool cost / settings JSON")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg, err := factory.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", *configPath), zap.Error(err))
	}
	registry := factory.NewRegistry(cfg)

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Domain services, constructed once and passed by reference.
	ledgerSvc := ledger.NewService(store, logger)
	tenants := quota.NewTenantTracker(store, registry)
	engine := commission.NewEngine(store, store, registry, logger)
	res := resolver.New(ledgerSvc, tenants, registry, engine, store, logger)
	approvals := approval.NewService(store, ledgerSvc, logger)
	payouts := payout.NewService(store, ledgerSvc, &devGateway{logger: logger}, registry, logger)

	handler := &api.Handler{
		Ledger:        ledgerSvc,
		Resolver:      res,
		Approvals:     approvals,
		Payouts:       payouts,
		Commission:    engine,
		Registry:      registry,
		Discrepancies: store,
		Tickets:       store,
		Aggregates:    store,
		Logger:        logger,
	}
	router := api.NewRouter(handler)

	scheduler := api.NewPayoutScheduler(payouts, logger)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

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

// devGateway stands in for a real payment provider. It accepts every
// payout and logs it. Swap for the provider client in production.
type devGateway struct {
	logger *zap.Logger
}

func (g *devGateway) Pay(ctx context.Context, payoutRef string, accountID ledger.AccountID, amount int64) (string, error) {
	id := "gw-" + uuid.NewString()
	g.logger.Info("dev gateway payout",
		zap.String("payout_ref", payoutRef),
		zap.String("account_id", string(accountID)),
		zap.Int64("amount", amount),
		zap.String("gateway_id", id))
	return id, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
