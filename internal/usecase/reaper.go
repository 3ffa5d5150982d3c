package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/nexusai/credit-engine/internal/adapter/metrics"
	"github.com/nexusai/credit-engine/internal/domain"
)

// ReaperUseCase voids workflows left open past their TTL. A workflow
// that was never settled is never billed, whether or not it
// accumulated entries: work that was never confirmed complete carries
// no charge.
type ReaperUseCase struct {
	workflows domain.WorkflowRepository
	ttl       time.Duration
	metrics   *metrics.EngineMetrics
	logger    *slog.Logger
}

// NewReaperUseCase creates a new ReaperUseCase.
func NewReaperUseCase(workflows domain.WorkflowRepository, ttl time.Duration, m *metrics.EngineMetrics, logger *slog.Logger) *ReaperUseCase {
	return &ReaperUseCase{
		workflows: workflows,
		ttl:       ttl,
		metrics:   m,
		logger:    logger,
	}
}

// ReapOnce voids every workflow still open past the TTL and returns
// how many were voided. Safe to run concurrently with live settlement;
// the store guards the open->terminal transition.
func (uc *ReaperUseCase) ReapOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-uc.ttl)
	reaped, err := uc.workflows.ReapStale(ctx, cutoff)
	if err != nil {
		uc.logger.Error("failed to reap stale workflows", "error", err)
		return 0, err
	}
	if reaped > 0 {
		if uc.metrics != nil {
			uc.metrics.WorkflowsReaped.Add(float64(reaped))
		}
		uc.logger.Info("reaped stale workflows", "count", reaped, "cutoff", cutoff)
	}
	return reaped, nil
}

// Run reaps on a fixed cadence until the context is cancelled.
func (uc *ReaperUseCase) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	uc.logger.Info("starting workflow reaper", "interval", interval, "ttl", uc.ttl)

	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("stopping workflow reaper")
			return
		case <-ticker.C:
			if _, err := uc.ReapOnce(ctx); err != nil {
				// Transient store failures are retried on the next tick.
				continue
			}
		}
	}
}
