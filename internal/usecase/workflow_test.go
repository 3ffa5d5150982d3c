package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/domain/mocks"
	"github.com/nexusai/credit-engine/internal/pricing"
)

func newWorkflowFixture(t *testing.T, balance int64) (*WorkflowUseCase, *mocks.MockAccountRepository, *mocks.MockWorkflowRepository) {
	t.Helper()
	accounts := mocks.NewMockAccountRepository()
	accounts.AddAccount("acct-1", balance)
	workflows := mocks.NewMockWorkflowRepository(accounts)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	uc := NewWorkflowUseCase(workflows, pricing.Default(), nil, nil, logger)
	return uc, accounts, workflows
}

func TestWorkflowAccumulatesIntoSingleEntry(t *testing.T) {
	uc, accounts, _ := newWorkflowFixture(t, 100)
	ctx := context.Background()

	id, err := uc.Open(ctx, "acct-1", "nxs_key", "lesson-generation", "education")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// 10000 gpt-4o-mini tokens at 1.0/1000 = 10 credits.
	total, err := uc.Record(ctx, id, domain.ServiceGPT, "gpt-4o-mini", 10000, domain.UnitTokens, nil)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if total != 10 {
		t.Errorf("expected running total 10, got %d", total)
	}

	// 5000 cartesia characters at 0.0008/char = 4 credits.
	total, err = uc.Record(ctx, id, domain.ServiceVoiceTTS, "cartesia", 5000, domain.UnitCharacters, nil)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if total != 14 {
		t.Errorf("expected running total 14, got %d", total)
	}

	settlement, err := uc.Settle(ctx, id, 200, "")
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if settlement.TotalCredits != 14 {
		t.Errorf("expected 14 credits charged, got %d", settlement.TotalCredits)
	}
	if !settlement.Charged {
		t.Error("settlement with entries must charge")
	}
	if settlement.Balance != 86 {
		t.Errorf("expected balance 86, got %d", settlement.Balance)
	}

	// The whole workflow is one ledger entry, not one per service.
	if len(accounts.Entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(accounts.Entries))
	}
	entry := accounts.Entries[0]
	if entry.Credits != -14 {
		t.Errorf("expected entry credits -14, got %d", entry.Credits)
	}
	if entry.ExternalReference != id {
		t.Errorf("expected entry reference %q, got %q", id, entry.ExternalReference)
	}
	if len(entry.Usage) != 2 {
		t.Errorf("expected 2 usage details, got %d", len(entry.Usage))
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	uc, _, _ := newWorkflowFixture(t, 100)
	ctx := context.Background()

	id, _ := uc.Open(ctx, "acct-1", "nxs_key", "chat", "")
	uc.Record(ctx, id, domain.ServiceGPT, "gpt-4o-mini", 2000, domain.UnitTokens, nil)

	first, err := uc.Settle(ctx, id, 200, "")
	if err != nil {
		t.Fatalf("first settle failed: %v", err)
	}

	second, err := uc.Settle(ctx, id, 200, "")
	if err != nil {
		t.Fatalf("second settle failed: %v", err)
	}
	if !second.Duplicate {
		t.Error("re-settle must be reported as duplicate")
	}
	if second.TotalCredits != first.TotalCredits {
		t.Errorf("re-settle credits %d differ from original %d", second.TotalCredits, first.TotalCredits)
	}
	if second.Balance != first.Balance {
		t.Errorf("re-settle must not move the balance: %d vs %d", second.Balance, first.Balance)
	}
}

func TestSettleEmptyWorkflowChargesNothing(t *testing.T) {
	uc, accounts, _ := newWorkflowFixture(t, 50)
	ctx := context.Background()

	id, _ := uc.Open(ctx, "acct-1", "nxs_key", "idle", "")
	settlement, err := uc.Settle(ctx, id, 200, "")
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if settlement.Charged {
		t.Error("empty workflow must not charge")
	}
	if settlement.TotalCredits != 0 {
		t.Errorf("expected 0 credits, got %d", settlement.TotalCredits)
	}
	if settlement.Balance != 50 {
		t.Errorf("expected balance 50, got %d", settlement.Balance)
	}
	if len(accounts.Entries) != 0 {
		t.Errorf("empty settlement wrote %d ledger entries", len(accounts.Entries))
	}
}

func TestSettleZeroPricedUsageChargesMinimumOneCredit(t *testing.T) {
	uc, accounts, _ := newWorkflowFixture(t, 50)
	ctx := context.Background()

	// Zero units price to zero credits, but a settled workflow with any
	// recorded usage still costs at least one.
	id, _ := uc.Open(ctx, "acct-1", "nxs_key", "empty-prompt", "")
	total, err := uc.Record(ctx, id, domain.ServiceGPT, "gpt-4o-mini", 0, domain.UnitTokens, nil)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected running total 0, got %d", total)
	}

	settlement, err := uc.Settle(ctx, id, 200, "")
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if !settlement.Charged {
		t.Error("settlement with entries must charge")
	}
	if settlement.TotalCredits != 1 {
		t.Errorf("expected minimum charge 1, got %d", settlement.TotalCredits)
	}
	if settlement.Balance != 49 {
		t.Errorf("expected balance 49, got %d", settlement.Balance)
	}
	if len(accounts.Entries) != 1 || accounts.Entries[0].Credits != -1 {
		t.Fatalf("expected one -1 ledger entry, got %+v", accounts.Entries)
	}

	// A replayed settle reports the floored amount, not the raw total.
	replay, err := uc.Settle(ctx, id, 200, "")
	if err != nil {
		t.Fatalf("re-settle failed: %v", err)
	}
	if !replay.Duplicate || replay.TotalCredits != 1 {
		t.Errorf("expected duplicate with 1 credit, got %+v", replay)
	}
}

func TestSettleEmptyWorkflowsConcurrentWithGrants(t *testing.T) {
	uc, accounts, _ := newWorkflowFixture(t, 0)
	ctx := context.Background()

	ids := make([]string, 8)
	for i := range ids {
		ids[i], _ = uc.Open(ctx, "acct-1", "nxs_key", "idle", "")
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := uc.Settle(ctx, id, 200, ""); err != nil {
				t.Errorf("settle failed: %v", err)
			}
		}(id)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := accounts.Grant(ctx, domain.GrantParams{
				AccountID:         "acct-1",
				Credits:           10,
				ExternalReference: fmt.Sprintf("grant-%d", n),
			}); err != nil {
				t.Errorf("grant failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	acct, _ := accounts.Get(ctx, "acct-1")
	if acct.Balance != 80 {
		t.Errorf("expected balance 80, got %d", acct.Balance)
	}
	if len(accounts.Entries) != 8 {
		t.Errorf("empty settlements must not write entries, got %d", len(accounts.Entries))
	}
}

func TestSettleInsufficientCreditsLeavesWorkflowOpen(t *testing.T) {
	uc, accounts, workflows := newWorkflowFixture(t, 3)
	ctx := context.Background()

	id, _ := uc.Open(ctx, "acct-1", "nxs_key", "expensive", "")
	uc.Record(ctx, id, domain.ServiceGPT, "gpt-4o-mini", 10000, domain.UnitTokens, nil)

	_, err := uc.Settle(ctx, id, 200, "")
	var insufficient *domain.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Deficit != 7 {
		t.Errorf("expected deficit 7, got %d", insufficient.Deficit)
	}

	// Workflow stays open for a retry after a top-up.
	wf, err := workflows.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if wf.Status != domain.WorkflowOpen {
		t.Errorf("expected workflow to stay open, got %s", wf.Status)
	}
	if len(accounts.Entries) != 0 {
		t.Error("declined settlement must not write ledger entries")
	}

	// Top up and retry.
	accounts.Grant(ctx, domain.GrantParams{AccountID: "acct-1", Credits: 100, ExternalReference: "topup-1"})
	settlement, err := uc.Settle(ctx, id, 200, "")
	if err != nil {
		t.Fatalf("retried settle failed: %v", err)
	}
	if !settlement.Charged || settlement.TotalCredits != 10 {
		t.Errorf("expected charged settlement of 10 credits, got %+v", settlement)
	}
}

func TestRecordOnClosedWorkflow(t *testing.T) {
	uc, _, _ := newWorkflowFixture(t, 100)
	ctx := context.Background()

	id, _ := uc.Open(ctx, "acct-1", "nxs_key", "short", "")
	if _, err := uc.Settle(ctx, id, 200, ""); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	if _, err := uc.Record(ctx, id, domain.ServiceGPT, "gpt-4o-mini", 100, domain.UnitTokens, nil); !errors.Is(err, domain.ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound on settled workflow, got %v", err)
	}
}

func TestAbandon(t *testing.T) {
	uc, accounts, workflows := newWorkflowFixture(t, 100)
	ctx := context.Background()

	id, _ := uc.Open(ctx, "acct-1", "nxs_key", "aborted", "")
	uc.Record(ctx, id, domain.ServiceGPT, "gpt-4o-mini", 5000, domain.UnitTokens, nil)

	if err := uc.Abandon(ctx, id); err != nil {
		t.Fatalf("abandon failed: %v", err)
	}

	wf, _ := workflows.Get(ctx, id)
	if wf.Status != domain.WorkflowVoid {
		t.Errorf("expected void status, got %s", wf.Status)
	}
	if len(accounts.Entries) != 0 {
		t.Error("abandoned workflow must not charge")
	}

	// Abandoning again is a no-op; settling a void workflow fails.
	if err := uc.Abandon(ctx, id); err != nil {
		t.Errorf("repeated abandon should be a no-op, got %v", err)
	}
	if _, err := uc.Settle(ctx, id, 200, ""); !errors.Is(err, domain.ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound settling void workflow, got %v", err)
	}
}

func TestSettleUnknownWorkflow(t *testing.T) {
	uc, _, _ := newWorkflowFixture(t, 100)

	if _, err := uc.Settle(context.Background(), "missing", 200, ""); !errors.Is(err, domain.ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound, got %v", err)
	}
}
