package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/nexusai/credit-engine/internal/adapter/api/middleware"
	"github.com/nexusai/credit-engine/internal/adapter/payment"
	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/usecase"
)

// PaymentGateway is the slice of the mobile-money client the handler
// needs. Confirming a payment is what turns provider money into ledger
// credits.
type PaymentGateway interface {
	RequestToPay(ctx context.Context, accountID, phoneNumber, packageName string) (*payment.Receipt, error)
	CheckStatus(ctx context.Context, referenceID string) (*payment.Confirmation, error)
}

// PaymentHandler handles credit purchases for the authenticated account.
type PaymentHandler struct {
	gateway PaymentGateway
	credits *usecase.CreditAccountUseCase
	logger  *slog.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(gateway PaymentGateway, credits *usecase.CreditAccountUseCase, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{gateway: gateway, credits: credits, logger: logger}
}

// ListPackages handles requests for the purchasable credit bundles.
// GET /v1/payments/packages
func (h *PaymentHandler) ListPackages(w http.ResponseWriter, r *http.Request) {
	respondJSON(h.logger, w, http.StatusOK, payment.Packages)
}

// Initiate handles requests to start a mobile-money collection.
// POST /v1/payments
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	key := middleware.AccessKeyFromContext(r.Context())

	var payload struct {
		PhoneNumber string `json:"phone_number"`
		Package     string `json:"package"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.PhoneNumber == "" {
		http.Error(w, "phone_number is required", http.StatusBadRequest)
		return
	}
	if _, ok := payment.PackageByName(payload.Package); !ok {
		http.Error(w, fmt.Sprintf("unknown credit package %q", payload.Package), http.StatusBadRequest)
		return
	}

	receipt, err := h.gateway.RequestToPay(r.Context(), key.AccountID, payload.PhoneNumber, payload.Package)
	if err != nil {
		h.logger.Error("failed to initiate payment", "account_id", key.AccountID, "error", err)
		http.Error(w, "payment provider unavailable", http.StatusBadGateway)
		return
	}

	respondJSON(h.logger, w, http.StatusAccepted, receipt)
}

// Confirm handles requests to verify a payment and credit the account.
// The payment reference doubles as the ledger's external reference, so
// repeating a confirmation never grants twice.
// POST /v1/payments/{referenceID}/confirm
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	key := middleware.AccessKeyFromContext(r.Context())
	referenceID := r.PathValue("referenceID")

	var payload struct {
		Package string `json:"package"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	pkg, ok := payment.PackageByName(payload.Package)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown credit package %q", payload.Package), http.StatusBadRequest)
		return
	}

	conf, err := h.gateway.CheckStatus(r.Context(), referenceID)
	if err != nil {
		h.logger.Error("failed to check payment status", "reference_id", referenceID, "error", err)
		http.Error(w, "payment provider unavailable", http.StatusBadGateway)
		return
	}
	if conf.Status != payment.StatusSuccessful {
		respondJSON(h.logger, w, http.StatusConflict, map[string]any{
			"reference_id": referenceID,
			"status":       conf.Status,
			"granted":      false,
		})
		return
	}

	// The grant is sized by the provider-reported amount, not by the
	// claimed package. A claim that does not match what was paid is
	// rejected without touching the ledger.
	if math.Abs(conf.AmountUSD-pkg.PriceUSD) > 0.005 {
		h.logger.Warn("payment amount does not match claimed package",
			"account_id", key.AccountID,
			"reference_id", referenceID,
			"package", pkg.Name,
			"expected_usd", pkg.PriceUSD,
			"paid_usd", conf.AmountUSD,
		)
		respondJSON(h.logger, w, http.StatusConflict, map[string]any{
			"reference_id": referenceID,
			"status":       conf.Status,
			"granted":      false,
			"error":        fmt.Sprintf("paid amount does not match package %q", pkg.Name),
		})
		return
	}

	result, err := h.credits.Grant(r.Context(), domain.GrantParams{
		AccountID:         key.AccountID,
		Credits:           pkg.Credits,
		ExternalReference: referenceID,
		CostPaidUSD:       pkg.PriceUSD,
		Description:       "credit purchase: " + pkg.Description,
	})
	if err != nil {
		h.logger.Error("failed to grant purchased credits",
			"account_id", key.AccountID,
			"reference_id", referenceID,
			"error", err,
		)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, map[string]any{
		"reference_id": referenceID,
		"status":       conf.Status,
		"granted":      result.Applied,
		"duplicate":    result.Duplicate,
		"balance":      result.Balance,
	})
}
