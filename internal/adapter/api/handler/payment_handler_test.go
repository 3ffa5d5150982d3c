package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nexusai/credit-engine/internal/adapter/api/middleware"
	"github.com/nexusai/credit-engine/internal/adapter/payment"
	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/domain/mocks"
	"github.com/nexusai/credit-engine/internal/usecase"
)

// fakeGateway is a canned PaymentGateway for handler tests.
type fakeGateway struct {
	status    payment.Status
	amountUSD float64
	err       error
}

func (g *fakeGateway) RequestToPay(ctx context.Context, accountID, phoneNumber, packageName string) (*payment.Receipt, error) {
	if g.err != nil {
		return nil, g.err
	}
	pkg, _ := payment.PackageByName(packageName)
	return &payment.Receipt{ReferenceID: "nexusai_" + accountID + "_deadbeef", Status: payment.StatusPending, Package: pkg}, nil
}

func (g *fakeGateway) CheckStatus(ctx context.Context, referenceID string) (*payment.Confirmation, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Confirmation{Status: g.status, AmountUSD: g.amountUSD}, nil
}

func newPaymentServer(t *testing.T, gateway PaymentGateway) (*httptest.Server, string, *mocks.MockAccountRepository) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	accounts := mocks.NewMockAccountRepository()
	accounts.AddAccount("acct-1", 0)
	keyRepo := mocks.NewMockKeyRepository()
	key := &domain.AccessKey{ID: "key-1", AccountID: "acct-1", Key: "nxs_testkey"}
	keyRepo.Insert(context.Background(), key)

	credits := usecase.NewCreditAccountUseCase(accounts, keyRepo, nil, nil, logger, 5000)
	keys := usecase.NewAccessKeyUseCase(keyRepo, accounts, credits, logger)

	h := NewPaymentHandler(gateway, credits, logger)
	auth := middleware.Auth(keys, logger)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/payments", auth(http.HandlerFunc(h.Initiate)))
	mux.Handle("POST /v1/payments/{referenceID}/confirm", auth(http.HandlerFunc(h.Confirm)))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, key.Key, accounts
}

func postJSON(t *testing.T, url, apiKey, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestConfirmGrantsOnceForRepeatedCallbacks(t *testing.T) {
	server, apiKey, accounts := newPaymentServer(t, &fakeGateway{status: payment.StatusSuccessful, amountUSD: 1.00})
	url := server.URL + "/v1/payments/mtn-ref-1/confirm"
	body := `{"package": "starter"}`

	resp := postJSON(t, url, apiKey, body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var first struct {
		Granted   bool  `json:"granted"`
		Duplicate bool  `json:"duplicate"`
		Balance   int64 `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&first); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !first.Granted || first.Balance != 1000 {
		t.Fatalf("expected granted balance 1000, got %+v", first)
	}

	// The provider retries the callback; the grant must not repeat.
	resp2 := postJSON(t, url, apiKey, body)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", resp2.StatusCode)
	}
	var second struct {
		Granted   bool  `json:"granted"`
		Duplicate bool  `json:"duplicate"`
		Balance   int64 `json:"balance"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&second); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if second.Granted {
		t.Error("replayed confirmation must not grant again")
	}
	if !second.Duplicate {
		t.Error("replayed confirmation must be reported as duplicate")
	}

	acct, _ := accounts.Get(context.Background(), "acct-1")
	if acct.Balance != 1000 {
		t.Errorf("expected balance 1000 after replay, got %d", acct.Balance)
	}
}

func TestConfirmPendingPaymentDoesNotGrant(t *testing.T) {
	server, apiKey, accounts := newPaymentServer(t, &fakeGateway{status: payment.StatusPending})

	resp := postJSON(t, server.URL+"/v1/payments/mtn-ref-2/confirm", apiKey, `{"package": "starter"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for pending payment, got %d", resp.StatusCode)
	}

	acct, _ := accounts.Get(context.Background(), "acct-1")
	if acct.Balance != 0 {
		t.Errorf("pending payment must not credit, balance %d", acct.Balance)
	}
}

func TestConfirmRejectsPackageAmountMismatch(t *testing.T) {
	// The gateway confirms a $1.00 (starter) payment; claiming a bigger
	// package against that reference must not credit anything.
	server, apiKey, accounts := newPaymentServer(t, &fakeGateway{status: payment.StatusSuccessful, amountUSD: 1.00})

	resp := postJSON(t, server.URL+"/v1/payments/starter-ref-1/confirm", apiKey, `{"package": "premium"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for amount mismatch, got %d", resp.StatusCode)
	}

	var result struct {
		Granted bool `json:"granted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Granted {
		t.Error("mismatched package claim must not grant")
	}

	acct, _ := accounts.Get(context.Background(), "acct-1")
	if acct.Balance != 0 {
		t.Errorf("mismatched claim must not credit, balance %d", acct.Balance)
	}

	// The matching claim for the same reference still goes through.
	resp2 := postJSON(t, server.URL+"/v1/payments/starter-ref-1/confirm", apiKey, `{"package": "starter"}`)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for matching package, got %d", resp2.StatusCode)
	}
	acct, _ = accounts.Get(context.Background(), "acct-1")
	if acct.Balance != 1000 {
		t.Errorf("expected balance 1000 after honest confirmation, got %d", acct.Balance)
	}
}

func TestConfirmRejectsUnknownPackage(t *testing.T) {
	server, apiKey, _ := newPaymentServer(t, &fakeGateway{status: payment.StatusSuccessful})

	resp := postJSON(t, server.URL+"/v1/payments/mtn-ref-3/confirm", apiKey, `{"package": "mega"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown package, got %d", resp.StatusCode)
	}
}

func TestPaymentEndpointsRequireKey(t *testing.T) {
	server, _, _ := newPaymentServer(t, &fakeGateway{status: payment.StatusSuccessful})

	resp := postJSON(t, server.URL+"/v1/payments", "", `{"phone_number": "+231555000111", "package": "starter"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", resp.StatusCode)
	}
}

func TestInitiateReturnsPendingReceipt(t *testing.T) {
	server, apiKey, _ := newPaymentServer(t, &fakeGateway{})

	resp := postJSON(t, server.URL+"/v1/payments", apiKey, `{"phone_number": "+231555000111", "package": "standard"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var receipt payment.Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Status != payment.StatusPending {
		t.Errorf("expected pending status, got %s", receipt.Status)
	}
	if receipt.Package.Credits != 10000 {
		t.Errorf("expected standard package credits 10000, got %d", receipt.Package.Credits)
	}
}
