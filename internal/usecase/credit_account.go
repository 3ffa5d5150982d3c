package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nexusai/credit-engine/internal/adapter/metrics"
	"github.com/nexusai/credit-engine/internal/domain"
)

// CreditAccountUseCase owns balance reads, grant/debit postings, and
// the access-key issuance gate.
type CreditAccountUseCase struct {
	accounts          domain.AccountRepository
	keys              domain.KeyRepository
	cache             domain.BalanceCache
	metrics           *metrics.EngineMetrics
	logger            *slog.Logger
	firstKeyThreshold int64
}

// NewCreditAccountUseCase creates a new CreditAccountUseCase. The cache
// and metrics are optional; pass nil to disable them.
func NewCreditAccountUseCase(
	accounts domain.AccountRepository,
	keys domain.KeyRepository,
	cache domain.BalanceCache,
	m *metrics.EngineMetrics,
	logger *slog.Logger,
	firstKeyThreshold int64,
) *CreditAccountUseCase {
	return &CreditAccountUseCase{
		accounts:          accounts,
		keys:              keys,
		cache:             cache,
		metrics:           m,
		logger:            logger,
		firstKeyThreshold: firstKeyThreshold,
	}
}

// Balance returns the live balance, read through the cache when one is
// configured.
func (uc *CreditAccountUseCase) Balance(ctx context.Context, accountID string) (int64, error) {
	if uc.cache != nil {
		if balance, ok := uc.cache.Get(ctx, accountID); ok {
			return balance, nil
		}
	}

	acct, err := uc.accounts.Get(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if uc.cache != nil {
		uc.cache.Set(ctx, accountID, acct.Balance)
	}
	return acct.Balance, nil
}

// Grant idempotently applies a confirmed payment. A repeated external
// reference returns Applied=false with the balance unchanged; the
// caller treats it as success.
func (uc *CreditAccountUseCase) Grant(ctx context.Context, p domain.GrantParams) (domain.PostResult, error) {
	if p.Credits <= 0 {
		return domain.PostResult{}, fmt.Errorf("grant credits must be positive, got %d", p.Credits)
	}
	if p.ExternalReference == "" {
		return domain.PostResult{}, errors.New("grant requires an external reference")
	}

	res, err := uc.accounts.Grant(ctx, p)
	if err != nil {
		uc.countPosting("grant", "error")
		return domain.PostResult{}, err
	}

	switch {
	case res.Applied:
		uc.countPosting("grant", "applied")
		if uc.metrics != nil {
			uc.metrics.CreditsGrantedTotal.Add(float64(p.Credits))
		}
		uc.logger.Info("credits granted",
			"account_id", p.AccountID,
			"credits", p.Credits,
			"reference", p.ExternalReference,
			"balance", res.Balance,
		)
	case res.Duplicate:
		uc.countPosting("grant", "duplicate")
		uc.logger.Info("duplicate grant reference absorbed",
			"account_id", p.AccountID,
			"reference", p.ExternalReference,
		)
	}

	if uc.cache != nil {
		uc.cache.Invalidate(ctx, p.AccountID)
		uc.cache.Set(ctx, p.AccountID, res.Balance)
	}
	return res, nil
}

// Debit atomically charges an account. A declined debit returns a
// *domain.InsufficientCreditsError alongside the result; nothing is
// written on decline. A duplicate reference is a successful no-op.
func (uc *CreditAccountUseCase) Debit(ctx context.Context, p domain.DebitParams) (domain.PostResult, error) {
	if p.Credits <= 0 {
		return domain.PostResult{}, fmt.Errorf("debit credits must be positive, got %d", p.Credits)
	}
	if p.ExternalReference == "" {
		return domain.PostResult{}, errors.New("debit requires an external reference")
	}

	res, err := uc.accounts.Debit(ctx, p)
	if err != nil {
		uc.countPosting("debit", "error")
		return domain.PostResult{}, err
	}

	if !res.Applied && !res.Duplicate {
		uc.countPosting("debit", "declined")
		uc.logger.Warn("debit declined for insufficient credits",
			"account_id", p.AccountID,
			"required", p.Credits,
			"current", res.Balance,
		)
		return res, &domain.InsufficientCreditsError{
			Current:  res.Balance,
			Required: p.Credits,
			Deficit:  res.Deficit,
		}
	}

	if res.Applied {
		uc.countPosting("debit", "applied")
		if uc.metrics != nil {
			uc.metrics.CreditsChargedTotal.Add(float64(p.Credits))
		}
	} else {
		uc.countPosting("debit", "duplicate")
	}

	if uc.cache != nil {
		uc.cache.Invalidate(ctx, p.AccountID)
		uc.cache.Set(ctx, p.AccountID, res.Balance)
	}
	return res, nil
}

// CanIssueKey reports whether the account may be issued an access key.
// The first key requires the full payment-verification threshold;
// additional keys only require a positive balance.
func (uc *CreditAccountUseCase) CanIssueKey(ctx context.Context, accountID string) (domain.KeyEligibility, error) {
	acct, err := uc.accounts.Get(ctx, accountID)
	if err != nil {
		return domain.KeyEligibility{}, err
	}
	if !acct.IsActive {
		return domain.KeyEligibility{}, domain.ErrAccountInactive
	}

	activeKeys, err := uc.keys.CountActive(ctx, accountID)
	if err != nil {
		return domain.KeyEligibility{}, err
	}

	if activeKeys == 0 {
		return domain.KeyEligibility{
			Allowed:    acct.Balance >= uc.firstKeyThreshold,
			Current:    acct.Balance,
			Required:   uc.firstKeyThreshold,
			Deficit:    max64(0, uc.firstKeyThreshold-acct.Balance),
			IsFirstKey: true,
			Reason:     "first_key_requires_payment_verification",
		}, nil
	}

	return domain.KeyEligibility{
		Allowed:    acct.Balance > 0,
		Current:    acct.Balance,
		Required:   1,
		Deficit:    max64(0, 1-acct.Balance),
		IsFirstKey: false,
		Reason:     "additional_key_requires_positive_balance",
	}, nil
}

func (uc *CreditAccountUseCase) countPosting(postType, outcome string) {
	if uc.metrics != nil {
		uc.metrics.PostingsTotal.WithLabelValues(postType, outcome).Inc()
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
