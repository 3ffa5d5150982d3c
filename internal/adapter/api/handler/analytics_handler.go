package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/usecase"
)

// AnalyticsHandler exposes read-only ledger aggregations on the admin
// surface.
type AnalyticsHandler struct {
	uc     *usecase.AnalyticsUseCase
	logger *slog.Logger
}

// NewAnalyticsHandler creates a new AnalyticsHandler.
func NewAnalyticsHandler(uc *usecase.AnalyticsUseCase, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{uc: uc, logger: logger}
}

// Ledger handles requests for an account's raw ledger entries.
// GET /admin/accounts/{accountID}/ledger
func (h *AnalyticsHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	filter := domain.LedgerFilter{
		AccountID: r.PathValue("accountID"),
		AccessKey: r.URL.Query().Get("access_key"),
		Since:     parseTimeParam(r, "since"),
		Until:     parseTimeParam(r, "until"),
		Limit:     parseIntParam(r, "limit"),
	}

	entries, err := h.uc.Usage(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, entries)
}

// ProviderBreakdown handles requests for per-provider usage totals.
// GET /admin/accounts/{accountID}/usage/providers
func (h *AnalyticsHandler) ProviderBreakdown(w http.ResponseWriter, r *http.Request) {
	breakdown, err := h.uc.ProviderBreakdown(r.Context(), r.PathValue("accountID"), parseTimeParam(r, "since"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, breakdown)
}

// KeyBreakdown handles requests for per-key consumption totals.
// GET /admin/accounts/{accountID}/usage/keys
func (h *AnalyticsHandler) KeyBreakdown(w http.ResponseWriter, r *http.Request) {
	breakdown, err := h.uc.KeyBreakdown(r.Context(), r.PathValue("accountID"), parseTimeParam(r, "since"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, breakdown)
}

// TopAccounts handles requests for the highest-consuming accounts.
// GET /admin/usage/top
func (h *AnalyticsHandler) TopAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.uc.TopAccounts(r.Context(), parseTimeParam(r, "since"), parseIntParam(r, "limit"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, accounts)
}

// Audit handles requests to verify an account's balance against a full
// ledger replay.
// GET /admin/accounts/{accountID}/audit
func (h *AnalyticsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	report, err := h.uc.Audit(r.Context(), r.PathValue("accountID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, report)
}

func (h *AnalyticsHandler) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrAccountNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	h.logger.Error("analytics query failed", "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func parseTimeParam(r *http.Request, name string) time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseIntParam(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
