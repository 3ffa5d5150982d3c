package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/usecase"
)

// AccountHandler handles the admin surface for accounts, grants, and
// access keys.
type AccountHandler struct {
	accounts domain.AccountRepository
	credits  *usecase.CreditAccountUseCase
	keys     *usecase.AccessKeyUseCase
	logger   *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(
	accounts domain.AccountRepository,
	credits *usecase.CreditAccountUseCase,
	keys *usecase.AccessKeyUseCase,
	logger *slog.Logger,
) *AccountHandler {
	return &AccountHandler{accounts: accounts, credits: credits, keys: keys, logger: logger}
}

// Create handles requests to open a new account.
// POST /admin/accounts
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	acct, err := h.accounts.Create(r.Context(), payload.Email)
	if err != nil {
		h.logger.Error("failed to create account", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(h.logger, w, http.StatusCreated, acct)
}

// Get handles requests to inspect an account.
// GET /admin/accounts/{accountID}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	acct, err := h.accounts.Get(r.Context(), r.PathValue("accountID"))
	if err != nil {
		h.respondAccountError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, acct)
}

// Deactivate handles requests to deactivate an account. Keys of a
// deactivated account stop authenticating, but the ledger is retained.
// DELETE /admin/accounts/{accountID}
func (h *AccountHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountID")
	if err := h.accounts.Deactivate(r.Context(), accountID); err != nil {
		h.respondAccountError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]string{"account_id": accountID, "status": "deactivated"})
}

// Grant handles requests to credit an account from a confirmed payment.
// POST /admin/accounts/{accountID}/grants
func (h *AccountHandler) Grant(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountID")

	var payload struct {
		Credits     int64   `json:"credits"`
		Reference   string  `json:"reference"`
		CostPaidUSD float64 `json:"cost_paid_usd"`
		Description string  `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.Credits <= 0 {
		http.Error(w, "credits must be a positive integer", http.StatusBadRequest)
		return
	}
	if payload.Reference == "" {
		http.Error(w, "reference is required", http.StatusBadRequest)
		return
	}

	result, err := h.credits.Grant(r.Context(), domain.GrantParams{
		AccountID:         accountID,
		Credits:           payload.Credits,
		ExternalReference: payload.Reference,
		CostPaidUSD:       payload.CostPaidUSD,
		Description:       payload.Description,
	})
	if err != nil {
		h.respondAccountError(w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, result)
}

// KeyEligibility handles requests to preview the key issuance gate.
// GET /admin/accounts/{accountID}/key-eligibility
func (h *AccountHandler) KeyEligibility(w http.ResponseWriter, r *http.Request) {
	eligibility, err := h.credits.CanIssueKey(r.Context(), r.PathValue("accountID"))
	if err != nil {
		h.respondAccountError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, eligibility)
}

// IssueKey handles requests to issue a new access key.
// POST /admin/accounts/{accountID}/keys
func (h *AccountHandler) IssueKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Issue(r.Context(), r.PathValue("accountID"))
	if err != nil {
		var insufficient *domain.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			respondInsufficient(h.logger, w, insufficient)
			return
		}
		h.respondAccountError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusCreated, key)
}

// RevokeKey handles requests to revoke an access key.
// DELETE /admin/keys/{key}
func (h *AccountHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Revoke(r.Context(), r.PathValue("key")); err != nil {
		if errors.Is(err, domain.ErrInvalidKey) {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to revoke key", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *AccountHandler) respondAccountError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		http.Error(w, "account not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrAccountInactive):
		http.Error(w, "account is deactivated", http.StatusConflict)
	default:
		h.logger.Error("account operation failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
