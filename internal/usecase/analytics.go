package usecase

import (
	"context"
	"time"

	"github.com/nexusai/credit-engine/internal/domain"
)

// AnalyticsUseCase exposes read-only aggregations over the ledger and
// the balance audit. None of these methods mutate state.
type AnalyticsUseCase struct {
	ledger   domain.LedgerRepository
	accounts domain.AccountRepository
}

// NewAnalyticsUseCase creates a new AnalyticsUseCase.
func NewAnalyticsUseCase(ledger domain.LedgerRepository, accounts domain.AccountRepository) *AnalyticsUseCase {
	return &AnalyticsUseCase{ledger: ledger, accounts: accounts}
}

func (uc *AnalyticsUseCase) Usage(ctx context.Context, f domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	return uc.ledger.Query(ctx, f)
}

func (uc *AnalyticsUseCase) ProviderBreakdown(ctx context.Context, accountID string, since time.Time) ([]domain.ProviderUsage, error) {
	return uc.ledger.ProviderBreakdown(ctx, accountID, since)
}

func (uc *AnalyticsUseCase) KeyBreakdown(ctx context.Context, accountID string, since time.Time) ([]domain.KeyUsage, error) {
	return uc.ledger.KeyBreakdown(ctx, accountID, since)
}

func (uc *AnalyticsUseCase) TopAccounts(ctx context.Context, since time.Time, limit int) ([]domain.AccountUsage, error) {
	if limit <= 0 {
		limit = 10
	}
	return uc.ledger.TopAccounts(ctx, since, limit)
}

// Audit replays the full ledger for an account and compares the result
// against the live balance. The two must always agree; a mismatch
// indicates corruption that needs operator attention.
func (uc *AnalyticsUseCase) Audit(ctx context.Context, accountID string) (domain.AuditReport, error) {
	acct, err := uc.accounts.Get(ctx, accountID)
	if err != nil {
		return domain.AuditReport{}, err
	}
	replayed, err := uc.ledger.Replay(ctx, accountID)
	if err != nil {
		return domain.AuditReport{}, err
	}
	return domain.AuditReport{
		AccountID:       accountID,
		LiveBalance:     acct.Balance,
		ReplayedBalance: replayed,
		Consistent:      acct.Balance == replayed,
	}, nil
}
