package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nexusai/credit-engine/internal/adapter/api"
	"github.com/nexusai/credit-engine/internal/adapter/api/handler"
	"github.com/nexusai/credit-engine/internal/adapter/metrics"
	"github.com/nexusai/credit-engine/internal/adapter/payment"
	"github.com/nexusai/credit-engine/internal/adapter/repository/postgres"
	redisrepo "github.com/nexusai/credit-engine/internal/adapter/repository/redis"
	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/pkg/config"
	"github.com/nexusai/credit-engine/internal/pkg/logger"
	"github.com/nexusai/credit-engine/internal/pricing"
	"github.com/nexusai/credit-engine/internal/usecase"

	_ "github.com/lib/pq" // Keep for postgres driver
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	m := metrics.NewEngineMetrics()

	// --- Start Admin and Metrics Server ---
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())

	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: adminMux,
	}

	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database and Redis Connections ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	var balanceCache domain.BalanceCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("could not connect to redis, proceeding without balance cache", "error", err)
		} else {
			balanceCache = redisrepo.NewBalanceCache(redisClient, logger, cfg.BalanceCacheTTL, m)
		}
	}

	// --- Initialize Repositories ---
	accountRepo := postgres.NewAccountRepository(db, logger)
	ledgerRepo := postgres.NewLedgerRepository(db, logger)
	workflowRepo := postgres.NewWorkflowRepository(db, logger)
	keyRepo := postgres.NewKeyRepository(db, logger, cfg.KeyCacheTTL, m)

	// --- Initialize Use Cases ---
	catalog := pricing.Default()
	creditUseCase := usecase.NewCreditAccountUseCase(accountRepo, keyRepo, balanceCache, m, logger, cfg.FirstKeyThreshold)
	workflowUseCase := usecase.NewWorkflowUseCase(workflowRepo, catalog, balanceCache, m, logger)
	keyUseCase := usecase.NewAccessKeyUseCase(keyRepo, accountRepo, creditUseCase, logger)
	analyticsUseCase := usecase.NewAnalyticsUseCase(ledgerRepo, accountRepo)
	reaperUseCase := usecase.NewReaperUseCase(workflowRepo, cfg.WorkflowTTL, m, logger)

	// In-process reaper keeps stale workflows from accumulating even
	// without the dedicated worker deployed.
	go reaperUseCase.Run(ctx, cfg.ReapInterval)

	// --- Initialize Admin API ---
	adminRouter := api.NewAdminRouter(logger, accountRepo, creditUseCase, keyUseCase, analyticsUseCase)
	adminMux.Handle("/", adminRouter) // Mount admin router at the root of the admin server

	// --- Initialize Payment Gateway ---
	var gateway handler.PaymentGateway
	if cfg.MTNSubscriptionKey != "" {
		gateway = payment.NewMTNClient(cfg.MTNBaseURL, cfg.MTNSubscriptionKey, cfg.MTNTargetEnvironment, logger)
	} else {
		logger.Warn("no MTN subscription key configured, payment endpoints disabled")
	}

	// --- Initialize Metering Server ---
	router := api.NewRouter(cfg, logger, keyUseCase, creditUseCase, workflowUseCase, gateway)
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		logger.Info("starting metering server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metering server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metering server shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}
