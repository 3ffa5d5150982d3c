package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexusai/credit-engine/internal/domain"
)

const keyPrefix = "nxs_"

// AccessKeyUseCase issues, revokes, and authenticates access keys.
// Issuance is gated by the credit account's balance check.
type AccessKeyUseCase struct {
	keys     domain.KeyRepository
	accounts domain.AccountRepository
	credits  *CreditAccountUseCase
	logger   *slog.Logger
}

// NewAccessKeyUseCase creates a new AccessKeyUseCase.
func NewAccessKeyUseCase(
	keys domain.KeyRepository,
	accounts domain.AccountRepository,
	credits *CreditAccountUseCase,
	logger *slog.Logger,
) *AccessKeyUseCase {
	return &AccessKeyUseCase{
		keys:     keys,
		accounts: accounts,
		credits:  credits,
		logger:   logger,
	}
}

// Issue creates a new access key for the account if the balance gate
// allows it. A denied issuance returns *domain.InsufficientCreditsError.
func (uc *AccessKeyUseCase) Issue(ctx context.Context, accountID string) (*domain.AccessKey, error) {
	eligibility, err := uc.credits.CanIssueKey(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !eligibility.Allowed {
		return nil, &domain.InsufficientCreditsError{
			Current:  eligibility.Current,
			Required: eligibility.Required,
			Deficit:  eligibility.Deficit,
		}
	}

	key := &domain.AccessKey{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Key:       keyPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedAt: time.Now().UTC(),
	}
	if err := uc.keys.Insert(ctx, key); err != nil {
		return nil, err
	}

	uc.logger.Info("access key issued",
		"account_id", accountID,
		"key_id", key.ID,
		"first_key", eligibility.IsFirstKey,
	)
	return key, nil
}

// Revoke permanently disables a key. Revocation is terminal.
func (uc *AccessKeyUseCase) Revoke(ctx context.Context, key string) error {
	if err := uc.keys.Revoke(ctx, key); err != nil {
		return err
	}
	uc.logger.Info("access key revoked")
	return nil
}

// Authenticate resolves a presented key to its account, rejecting
// unknown or revoked keys and keys of deactivated accounts.
func (uc *AccessKeyUseCase) Authenticate(ctx context.Context, key string) (*domain.AccessKey, error) {
	if key == "" {
		return nil, domain.ErrInvalidKey
	}

	found, err := uc.keys.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if found == nil || found.Revoked {
		return nil, domain.ErrInvalidKey
	}

	acct, err := uc.accounts.Get(ctx, found.AccountID)
	if err != nil {
		return nil, err
	}
	if !acct.IsActive {
		return nil, domain.ErrInvalidKey
	}
	return found, nil
}
