package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexusai/credit-engine/internal/adapter/metrics"
	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/pricing"
)

// WorkflowUseCase aggregates the usage of one logical client request
// into a workflow that settles as a single ledger posting.
type WorkflowUseCase struct {
	workflows domain.WorkflowRepository
	catalog   *pricing.Catalog
	cache     domain.BalanceCache
	metrics   *metrics.EngineMetrics
	logger    *slog.Logger
}

// NewWorkflowUseCase creates a new WorkflowUseCase.
func NewWorkflowUseCase(
	workflows domain.WorkflowRepository,
	catalog *pricing.Catalog,
	cache domain.BalanceCache,
	m *metrics.EngineMetrics,
	logger *slog.Logger,
) *WorkflowUseCase {
	return &WorkflowUseCase{
		workflows: workflows,
		catalog:   catalog,
		cache:     cache,
		metrics:   m,
		logger:    logger,
	}
}

// Open starts tracking a new workflow and returns its opaque id.
func (uc *WorkflowUseCase) Open(ctx context.Context, accountID, accessKey, name, adapter string) (string, error) {
	wf := &domain.Workflow{
		ID:        uuid.NewString(),
		AccountID: accountID,
		AccessKey: accessKey,
		Name:      name,
		Adapter:   adapter,
		Status:    domain.WorkflowOpen,
		OpenedAt:  time.Now().UTC(),
	}
	if err := uc.workflows.Create(ctx, wf); err != nil {
		return "", err
	}
	if uc.metrics != nil {
		uc.metrics.WorkflowsOpened.Inc()
	}
	uc.logger.Debug("workflow opened", "workflow_id", wf.ID, "account_id", accountID, "name", name)
	return wf.ID, nil
}

// Record prices one sub-service call and appends it to the workflow,
// returning the cumulative credit total so far.
func (uc *WorkflowUseCase) Record(
	ctx context.Context,
	workflowID string,
	kind domain.ServiceKind,
	provider string,
	units int64,
	unitKind domain.UnitKind,
	metadata map[string]string,
) (int64, error) {
	quote := uc.catalog.Price(kind, provider, units, unitKind)
	usage := domain.ServiceUsage{
		ServiceKind:     kind,
		Provider:        provider,
		UnitsConsumed:   units,
		UnitKind:        unitKind,
		CreditsCharged:  quote.Credits,
		CostEstimateUSD: quote.CostUSD,
		Metadata:        metadata,
		RecordedAt:      time.Now().UTC(),
	}

	total, err := uc.workflows.AppendUsage(ctx, workflowID, usage)
	if err != nil {
		uc.logger.Error("failed to record service usage",
			"workflow_id", workflowID,
			"service", kind,
			"provider", provider,
			"error", err,
		)
		return 0, err
	}

	uc.logger.Info("service usage recorded",
		"workflow_id", workflowID,
		"service", kind,
		"provider", provider,
		"units", units,
		"unit_kind", unitKind,
		"credits", quote.Credits,
		"running_total", total,
	)
	return total, nil
}

// Settle closes the workflow and posts one atomic debit for its
// accumulated credits, using the workflow id as the idempotency
// reference. Settling an already settled workflow returns the stored
// settlement rather than erroring.
func (uc *WorkflowUseCase) Settle(ctx context.Context, workflowID string, statusCode int, errorMessage string) (*domain.Settlement, error) {
	settlement, err := uc.workflows.Settle(ctx, workflowID, statusCode, errorMessage)
	if err != nil {
		uc.countSettlement(err)
		return nil, err
	}

	switch {
	case settlement.Duplicate:
		uc.countOutcome("duplicate")
	case settlement.Charged:
		uc.countOutcome("applied")
		if uc.metrics != nil {
			uc.metrics.CreditsChargedTotal.Add(float64(settlement.TotalCredits))
		}
	default:
		uc.countOutcome("applied")
	}

	if settlement.Charged && !settlement.Duplicate && uc.cache != nil {
		wf, getErr := uc.workflows.Get(ctx, workflowID)
		if getErr == nil {
			uc.cache.Invalidate(ctx, wf.AccountID)
			uc.cache.Set(ctx, wf.AccountID, settlement.Balance)
		}
	}

	uc.logger.Info("workflow settled",
		"workflow_id", workflowID,
		"total_credits", settlement.TotalCredits,
		"entries", len(settlement.Entries),
		"charged", settlement.Charged,
		"duplicate", settlement.Duplicate,
	)
	return settlement, nil
}

// Abandon voids an open workflow without charging anything.
func (uc *WorkflowUseCase) Abandon(ctx context.Context, workflowID string) error {
	if err := uc.workflows.Void(ctx, workflowID); err != nil {
		return err
	}
	uc.logger.Info("workflow abandoned", "workflow_id", workflowID)
	return nil
}

// Get returns the current workflow state.
func (uc *WorkflowUseCase) Get(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	return uc.workflows.Get(ctx, workflowID)
}

func (uc *WorkflowUseCase) countSettlement(err error) {
	if uc.metrics == nil {
		return
	}
	var insufficient *domain.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		uc.metrics.PostingsTotal.WithLabelValues("settlement", "declined").Inc()
		return
	}
	uc.metrics.PostingsTotal.WithLabelValues("settlement", "error").Inc()
}

func (uc *WorkflowUseCase) countOutcome(outcome string) {
	if uc.metrics != nil {
		uc.metrics.PostingsTotal.WithLabelValues("settlement", outcome).Inc()
	}
}
