package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/nexusai/credit-engine/internal/adapter/metrics"
	"github.com/nexusai/credit-engine/internal/adapter/repository/postgres"
	"github.com/nexusai/credit-engine/internal/pkg/config"
	"github.com/nexusai/credit-engine/internal/pkg/logger"
	"github.com/nexusai/credit-engine/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("starting workflow reaper worker")

	// Create a context that we can cancel on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stopChan
		log.Info("shutdown signal received, stopping reaper...")
		cancel()
	}()

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres")

	m := metrics.NewEngineMetrics()
	workflowRepo := postgres.NewWorkflowRepository(db, log)
	reaper := usecase.NewReaperUseCase(workflowRepo, cfg.WorkflowTTL, m, log)

	ticker := time.NewTicker(cfg.ReapInterval)
	defer ticker.Stop()

	log.Info("reaper worker started", "ttl", cfg.WorkflowTTL, "interval", cfg.ReapInterval)

Loop:
	for {
		select {
		case <-ticker.C:
			reaped, err := reaper.ReapOnce(ctx)
			if err != nil {
				log.Error("error reaping stale workflows", "error", err)
			} else if reaped > 0 {
				log.Info("voided stale workflows", "count", reaped)
			}
		case <-ctx.Done():
			log.Info("context cancelled, shutting down reaper loop")
			break Loop
		}
	}

	log.Info("reaper worker shut down gracefully")
}
