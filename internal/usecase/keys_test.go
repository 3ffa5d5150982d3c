package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/domain/mocks"
)

func newKeyFixture(t *testing.T, balance int64) (*AccessKeyUseCase, *mocks.MockAccountRepository, *mocks.MockKeyRepository) {
	t.Helper()
	accounts := mocks.NewMockAccountRepository()
	accounts.AddAccount("acct-1", balance)
	keys := mocks.NewMockKeyRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	credits := NewCreditAccountUseCase(accounts, keys, nil, nil, logger, 5000)
	uc := NewAccessKeyUseCase(keys, accounts, credits, logger)
	return uc, accounts, keys
}

func TestIssueFirstKeyRequiresThreshold(t *testing.T) {
	uc, _, _ := newKeyFixture(t, 4999)

	_, err := uc.Issue(context.Background(), "acct-1")
	var insufficient *domain.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Required != 5000 || insufficient.Deficit != 1 {
		t.Errorf("expected required 5000 deficit 1, got %+v", insufficient)
	}
}

func TestIssueAndAuthenticate(t *testing.T) {
	uc, _, _ := newKeyFixture(t, 5000)
	ctx := context.Background()

	key, err := uc.Issue(ctx, "acct-1")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if !strings.HasPrefix(key.Key, "nxs_") {
		t.Errorf("expected nxs_ prefix, got %q", key.Key)
	}

	resolved, err := uc.Authenticate(ctx, key.Key)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if resolved.AccountID != "acct-1" {
		t.Errorf("expected account acct-1, got %q", resolved.AccountID)
	}
}

func TestIssueAdditionalKeyNeedsPositiveBalance(t *testing.T) {
	uc, accounts, _ := newKeyFixture(t, 5000)
	ctx := context.Background()

	if _, err := uc.Issue(ctx, "acct-1"); err != nil {
		t.Fatalf("first issue failed: %v", err)
	}

	// Drain the balance to zero; a second key is now denied.
	accounts.Debit(ctx, domain.DebitParams{AccountID: "acct-1", Credits: 5000, ExternalReference: "drain"})
	_, err := uc.Issue(ctx, "acct-1")
	var insufficient *domain.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}

	// Any positive balance unlocks additional keys, well below the
	// first-key threshold.
	accounts.Grant(ctx, domain.GrantParams{AccountID: "acct-1", Credits: 1, ExternalReference: "topup"})
	if _, err := uc.Issue(ctx, "acct-1"); err != nil {
		t.Errorf("second key with balance 1 should issue, got %v", err)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	uc, accounts, keys := newKeyFixture(t, 5000)
	ctx := context.Background()

	issued, err := uc.Issue(ctx, "acct-1")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	t.Run("empty key", func(t *testing.T) {
		if _, err := uc.Authenticate(ctx, ""); !errors.Is(err, domain.ErrInvalidKey) {
			t.Errorf("expected ErrInvalidKey, got %v", err)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		if _, err := uc.Authenticate(ctx, "nxs_unknown"); !errors.Is(err, domain.ErrInvalidKey) {
			t.Errorf("expected ErrInvalidKey, got %v", err)
		}
	})

	t.Run("revoked key", func(t *testing.T) {
		if err := uc.Revoke(ctx, issued.Key); err != nil {
			t.Fatalf("revoke failed: %v", err)
		}
		if _, err := uc.Authenticate(ctx, issued.Key); !errors.Is(err, domain.ErrInvalidKey) {
			t.Errorf("expected ErrInvalidKey after revocation, got %v", err)
		}
	})

	t.Run("deactivated account", func(t *testing.T) {
		fresh, err := uc.Issue(ctx, "acct-1")
		if err != nil {
			t.Fatalf("issue failed: %v", err)
		}
		accounts.Deactivate(ctx, "acct-1")
		if _, err := uc.Authenticate(ctx, fresh.Key); !errors.Is(err, domain.ErrInvalidKey) {
			t.Errorf("expected ErrInvalidKey for deactivated account, got %v", err)
		}
	})

	t.Run("revoke unknown key", func(t *testing.T) {
		if err := keys.Revoke(ctx, "nxs_missing"); !errors.Is(err, domain.ErrInvalidKey) {
			t.Errorf("expected ErrInvalidKey, got %v", err)
		}
	})
}
