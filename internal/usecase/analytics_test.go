package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/domain/mocks"
)

func seedAnalyticsFixture(t *testing.T) (*AnalyticsUseCase, *mocks.MockAccountRepository) {
	t.Helper()
	accounts := mocks.NewMockAccountRepository()
	accounts.AddAccount("acct-1", 0)
	accounts.AddAccount("acct-2", 0)
	ctx := context.Background()

	accounts.Grant(ctx, domain.GrantParams{AccountID: "acct-1", Credits: 1000, ExternalReference: "g-1"})
	accounts.Grant(ctx, domain.GrantParams{AccountID: "acct-2", Credits: 1000, ExternalReference: "g-2"})

	accounts.Debit(ctx, domain.DebitParams{
		AccountID: "acct-1", AccessKey: "nxs_a", Credits: 30, ExternalReference: "d-1",
		Usage: []domain.ServiceUsage{
			{ServiceKind: domain.ServiceGPT, Provider: "gpt-4o-mini", CreditsCharged: 10, CostEstimateUSD: 0.0015},
			{ServiceKind: domain.ServiceVoiceSTT, Provider: "deepgram", CreditsCharged: 20, CostEstimateUSD: 0.01},
		},
	})
	accounts.Debit(ctx, domain.DebitParams{
		AccountID: "acct-1", AccessKey: "nxs_b", Credits: 10, ExternalReference: "d-2",
		Usage: []domain.ServiceUsage{
			{ServiceKind: domain.ServiceGPT, Provider: "gpt-4o-mini", CreditsCharged: 10, CostEstimateUSD: 0.0015},
		},
	})
	accounts.Debit(ctx, domain.DebitParams{AccountID: "acct-2", AccessKey: "nxs_c", Credits: 5, ExternalReference: "d-3"})

	ledger := &mocks.MockLedgerRepository{Store: accounts}
	return NewAnalyticsUseCase(ledger, accounts), accounts
}

func TestUsageQueryNewestFirst(t *testing.T) {
	uc, _ := seedAnalyticsFixture(t)

	entries, err := uc.Usage(context.Background(), domain.LedgerFilter{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("usage query failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries for acct-1, got %d", len(entries))
	}
	if entries[0].ExternalReference != "d-2" {
		t.Errorf("expected newest entry first, got %q", entries[0].ExternalReference)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Error("entries not ordered newest first")
		}
	}
}

func TestProviderBreakdown(t *testing.T) {
	uc, _ := seedAnalyticsFixture(t)

	breakdown, err := uc.ProviderBreakdown(context.Background(), "acct-1", time.Time{})
	if err != nil {
		t.Fatalf("provider breakdown failed: %v", err)
	}
	if len(breakdown) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(breakdown))
	}
	for _, pu := range breakdown {
		switch pu.Provider {
		case "gpt-4o-mini":
			if pu.TotalCredits != 20 || pu.UsageCount != 2 {
				t.Errorf("gpt-4o-mini: got %+v", pu)
			}
		case "deepgram":
			if pu.TotalCredits != 20 || pu.UsageCount != 1 {
				t.Errorf("deepgram: got %+v", pu)
			}
		default:
			t.Errorf("unexpected provider %q", pu.Provider)
		}
	}
}

func TestKeyBreakdown(t *testing.T) {
	uc, _ := seedAnalyticsFixture(t)

	breakdown, err := uc.KeyBreakdown(context.Background(), "acct-1", time.Time{})
	if err != nil {
		t.Fatalf("key breakdown failed: %v", err)
	}
	if len(breakdown) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(breakdown))
	}
	if breakdown[0].AccessKey != "nxs_a" || breakdown[0].TotalCredits != 30 {
		t.Errorf("nxs_a: got %+v", breakdown[0])
	}
	if breakdown[1].AccessKey != "nxs_b" || breakdown[1].TotalCredits != 10 {
		t.Errorf("nxs_b: got %+v", breakdown[1])
	}
}

func TestTopAccounts(t *testing.T) {
	uc, _ := seedAnalyticsFixture(t)

	top, err := uc.TopAccounts(context.Background(), time.Time{}, 0)
	if err != nil {
		t.Fatalf("top accounts failed: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(top))
	}
	if top[0].AccountID != "acct-1" || top[0].TotalCredits != 40 {
		t.Errorf("expected acct-1 with 40 credits first, got %+v", top[0])
	}
	if top[1].AccountID != "acct-2" || top[1].TotalCredits != 5 {
		t.Errorf("expected acct-2 with 5 credits second, got %+v", top[1])
	}
}

func TestAuditReportsConsistency(t *testing.T) {
	uc, accounts := seedAnalyticsFixture(t)
	ctx := context.Background()

	report, err := uc.Audit(ctx, "acct-1")
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if !report.Consistent {
		t.Errorf("expected consistent report, got %+v", report)
	}
	if report.LiveBalance != 960 || report.ReplayedBalance != 960 {
		t.Errorf("expected both balances 960, got %+v", report)
	}

	// A balance mutated outside a posting is exactly what the audit is
	// for.
	accounts.Accounts["acct-1"].Balance = 999
	report, err = uc.Audit(ctx, "acct-1")
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if report.Consistent {
		t.Error("audit must flag a balance that diverged from the ledger")
	}
}
