package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexusai/credit-engine/internal/adapter/api"
	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/domain/mocks"
	"github.com/nexusai/credit-engine/internal/pkg/config"
	"github.com/nexusai/credit-engine/internal/pricing"
	"github.com/nexusai/credit-engine/internal/usecase"
)

// env wires the full HTTP surface over the in-memory repositories, so
// the flow below exercises routing, auth, and the use cases end to end
// without external services.
type env struct {
	public *httptest.Server
	admin  *httptest.Server
	store  *mocks.MockAccountRepository
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		FirstKeyThreshold: 5000,
		RateLimitRPS:      1000,
		RateLimitBurst:    1000,
	}

	accounts := mocks.NewMockAccountRepository()
	ledger := &mocks.MockLedgerRepository{Store: accounts}
	workflows := mocks.NewMockWorkflowRepository(accounts)
	keyRepo := mocks.NewMockKeyRepository()

	credits := usecase.NewCreditAccountUseCase(accounts, keyRepo, nil, nil, logger, cfg.FirstKeyThreshold)
	workflowUC := usecase.NewWorkflowUseCase(workflows, pricing.Default(), nil, nil, logger)
	keys := usecase.NewAccessKeyUseCase(keyRepo, accounts, credits, logger)
	analytics := usecase.NewAnalyticsUseCase(ledger, accounts)

	public := httptest.NewServer(api.NewRouter(cfg, logger, keys, credits, workflowUC, nil))
	admin := httptest.NewServer(api.NewAdminRouter(logger, accounts, credits, keys, analytics))
	t.Cleanup(public.Close)
	t.Cleanup(admin.Close)

	return &env{public: public, admin: admin, store: accounts}
}

func (e *env) do(t *testing.T, method, url, apiKey string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode %s %s response: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestAccountLifecycle(t *testing.T) {
	e := newEnv(t)

	// Create an account and verify a payment worth 5000 credits.
	var acct domain.Account
	if code := e.do(t, http.MethodPost, e.admin.URL+"/admin/accounts", "", map[string]string{"email": "founder@example.com"}, &acct); code != http.StatusCreated {
		t.Fatalf("create account returned %d", code)
	}

	grantBody := map[string]any{"credits": 5000, "reference": "tx-pay-1"}
	var grant domain.PostResult
	if code := e.do(t, http.MethodPost, fmt.Sprintf("%s/admin/accounts/%s/grants", e.admin.URL, acct.ID), "", grantBody, &grant); code != http.StatusOK {
		t.Fatalf("grant returned %d", code)
	}
	if !grant.Applied || grant.Balance != 5000 {
		t.Fatalf("expected applied grant of 5000, got %+v", grant)
	}

	// The verified balance unlocks the first access key.
	var key domain.AccessKey
	if code := e.do(t, http.MethodPost, fmt.Sprintf("%s/admin/accounts/%s/keys", e.admin.URL, acct.ID), "", nil, &key); code != http.StatusCreated {
		t.Fatalf("issue key returned %d", code)
	}

	// Meter a chat request: 2000 gpt-4o-mini tokens = 2 credits.
	var opened struct {
		WorkflowID string `json:"workflow_id"`
	}
	if code := e.do(t, http.MethodPost, e.public.URL+"/v1/workflows", key.Key, map[string]string{"name": "chat"}, &opened); code != http.StatusCreated {
		t.Fatalf("open workflow returned %d", code)
	}

	usageBody := map[string]any{
		"service_kind": "gpt",
		"provider":     "gpt-4o-mini",
		"units":        2000,
		"unit_kind":    "tokens",
	}
	var running struct {
		CreditsTotal int64 `json:"credits_total"`
	}
	if code := e.do(t, http.MethodPost, fmt.Sprintf("%s/v1/workflows/%s/usage", e.public.URL, opened.WorkflowID), key.Key, usageBody, &running); code != http.StatusOK {
		t.Fatalf("record usage returned %d", code)
	}
	if running.CreditsTotal != 2 {
		t.Fatalf("expected running total 2, got %d", running.CreditsTotal)
	}

	var settlement domain.Settlement
	if code := e.do(t, http.MethodPost, fmt.Sprintf("%s/v1/workflows/%s/settle", e.public.URL, opened.WorkflowID), key.Key, map[string]int{"status_code": 200}, &settlement); code != http.StatusOK {
		t.Fatalf("settle returned %d", code)
	}
	if settlement.TotalCredits != 2 || settlement.Balance != 4998 {
		t.Fatalf("expected 2 credits charged leaving 4998, got %+v", settlement)
	}

	// The payment provider replays its callback; the grant is absorbed.
	var replay domain.PostResult
	if code := e.do(t, http.MethodPost, fmt.Sprintf("%s/admin/accounts/%s/grants", e.admin.URL, acct.ID), "", grantBody, &replay); code != http.StatusOK {
		t.Fatalf("replayed grant returned %d", code)
	}
	if replay.Applied || !replay.Duplicate {
		t.Fatalf("replayed grant must be a duplicate no-op, got %+v", replay)
	}

	var balance struct {
		Balance int64 `json:"balance"`
	}
	if code := e.do(t, http.MethodGet, e.public.URL+"/v1/balance", key.Key, nil, &balance); code != http.StatusOK {
		t.Fatalf("balance returned %d", code)
	}
	if balance.Balance != 4998 {
		t.Fatalf("expected balance 4998 after replay, got %d", balance.Balance)
	}

	// The ledger replay agrees with the live balance.
	var report domain.AuditReport
	if code := e.do(t, http.MethodGet, fmt.Sprintf("%s/admin/accounts/%s/audit", e.admin.URL, acct.ID), "", nil, &report); code != http.StatusOK {
		t.Fatalf("audit returned %d", code)
	}
	if !report.Consistent || report.LiveBalance != 4998 {
		t.Fatalf("expected consistent audit at 4998, got %+v", report)
	}
}

func TestWorkflowIsolationBetweenAccounts(t *testing.T) {
	e := newEnv(t)

	keyFor := func(email string) string {
		var acct domain.Account
		e.do(t, http.MethodPost, e.admin.URL+"/admin/accounts", "", map[string]string{"email": email}, &acct)
		e.do(t, http.MethodPost, fmt.Sprintf("%s/admin/accounts/%s/grants", e.admin.URL, acct.ID), "",
			map[string]any{"credits": 5000, "reference": "tx-" + email}, nil)
		var key domain.AccessKey
		e.do(t, http.MethodPost, fmt.Sprintf("%s/admin/accounts/%s/keys", e.admin.URL, acct.ID), "", nil, &key)
		return key.Key
	}

	keyA := keyFor("a@example.com")
	keyB := keyFor("b@example.com")

	var opened struct {
		WorkflowID string `json:"workflow_id"`
	}
	if code := e.do(t, http.MethodPost, e.public.URL+"/v1/workflows", keyA, map[string]string{"name": "private"}, &opened); code != http.StatusCreated {
		t.Fatalf("open workflow returned %d", code)
	}

	// Another tenant's key cannot see or settle the workflow.
	if code := e.do(t, http.MethodGet, fmt.Sprintf("%s/v1/workflows/%s", e.public.URL, opened.WorkflowID), keyB, nil, nil); code != http.StatusNotFound {
		t.Errorf("cross-tenant get returned %d, want 404", code)
	}
	if code := e.do(t, http.MethodPost, fmt.Sprintf("%s/v1/workflows/%s/settle", e.public.URL, opened.WorkflowID), keyB, nil, nil); code != http.StatusNotFound {
		t.Errorf("cross-tenant settle returned %d, want 404", code)
	}

	// The owner still can.
	if code := e.do(t, http.MethodGet, fmt.Sprintf("%s/v1/workflows/%s", e.public.URL, opened.WorkflowID), keyA, nil, nil); code != http.StatusOK {
		t.Errorf("owner get returned %d, want 200", code)
	}
}

func TestDebitDeclineOverHTTP(t *testing.T) {
	e := newEnv(t)

	var acct domain.Account
	e.do(t, http.MethodPost, e.admin.URL+"/admin/accounts", "", map[string]string{"email": "tiny@example.com"}, &acct)
	e.do(t, http.MethodPost, fmt.Sprintf("%s/admin/accounts/%s/grants", e.admin.URL, acct.ID), "",
		map[string]any{"credits": 5003, "reference": "tx-tiny"}, nil)
	var key domain.AccessKey
	e.do(t, http.MethodPost, fmt.Sprintf("%s/admin/accounts/%s/keys", e.admin.URL, acct.ID), "", nil, &key)

	// Drain most of the balance, then overdraw.
	if code := e.do(t, http.MethodPost, e.public.URL+"/v1/debit", key.Key,
		map[string]any{"credits": 5000, "reference": "spend-1"}, nil); code != http.StatusOK {
		t.Fatalf("drain debit returned %d", code)
	}

	var declined struct {
		Deficit int64 `json:"deficit"`
	}
	if code := e.do(t, http.MethodPost, e.public.URL+"/v1/debit", key.Key,
		map[string]any{"credits": 10, "reference": "spend-2"}, &declined); code != http.StatusPaymentRequired {
		t.Fatalf("overdraw returned %d, want 402", code)
	}
	if declined.Deficit != 7 {
		t.Errorf("expected deficit 7, got %d", declined.Deficit)
	}

	var balance struct {
		Balance int64 `json:"balance"`
	}
	e.do(t, http.MethodGet, e.public.URL+"/v1/balance", key.Key, nil, &balance)
	if balance.Balance != 3 {
		t.Errorf("expected balance 3 after decline, got %d", balance.Balance)
	}
}
