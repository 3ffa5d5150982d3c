package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nexusai/credit-engine/internal/adapter/api/middleware"
	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/usecase"
)

// WorkflowHandler handles the key-authenticated metering surface:
// opening workflows, recording usage, settling, and direct debits.
type WorkflowHandler struct {
	workflows *usecase.WorkflowUseCase
	credits   *usecase.CreditAccountUseCase
	logger    *slog.Logger
}

// NewWorkflowHandler creates a new WorkflowHandler.
func NewWorkflowHandler(workflows *usecase.WorkflowUseCase, credits *usecase.CreditAccountUseCase, logger *slog.Logger) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows, credits: credits, logger: logger}
}

// Open handles requests to start a new workflow.
// POST /v1/workflows
func (h *WorkflowHandler) Open(w http.ResponseWriter, r *http.Request) {
	key := middleware.AccessKeyFromContext(r.Context())

	var payload struct {
		Name    string `json:"name"`
		Adapter string `json:"adapter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	workflowID, err := h.workflows.Open(r.Context(), key.AccountID, key.Key, payload.Name, payload.Adapter)
	if err != nil {
		h.logger.Error("failed to open workflow", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(h.logger, w, http.StatusCreated, map[string]string{"workflow_id": workflowID})
}

// Record handles requests to append priced usage to a workflow.
// POST /v1/workflows/{workflowID}/usage
func (h *WorkflowHandler) Record(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflowID")
	if !h.authorize(w, r, workflowID) {
		return
	}

	var payload struct {
		ServiceKind domain.ServiceKind `json:"service_kind"`
		Provider    string             `json:"provider"`
		Units       int64              `json:"units"`
		UnitKind    domain.UnitKind    `json:"unit_kind"`
		Metadata    map[string]string  `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.Provider == "" {
		http.Error(w, "provider is required", http.StatusBadRequest)
		return
	}
	if payload.Units < 0 {
		http.Error(w, "units must not be negative", http.StatusBadRequest)
		return
	}

	total, err := h.workflows.Record(r.Context(), workflowID,
		payload.ServiceKind, payload.Provider, payload.Units, payload.UnitKind, payload.Metadata)
	if err != nil {
		h.respondWorkflowError(w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, map[string]int64{"credits_total": total})
}

// Settle handles requests to close a workflow and charge its total.
// POST /v1/workflows/{workflowID}/settle
func (h *WorkflowHandler) Settle(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflowID")
	if !h.authorize(w, r, workflowID) {
		return
	}

	var payload struct {
		StatusCode   int    `json:"status_code"`
		ErrorMessage string `json:"error_message"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	settlement, err := h.workflows.Settle(r.Context(), workflowID, payload.StatusCode, payload.ErrorMessage)
	if err != nil {
		h.respondWorkflowError(w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, settlement)
}

// Abandon handles requests to void a workflow without charging.
// DELETE /v1/workflows/{workflowID}
func (h *WorkflowHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflowID")
	if !h.authorize(w, r, workflowID) {
		return
	}

	if err := h.workflows.Abandon(r.Context(), workflowID); err != nil {
		h.respondWorkflowError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]string{"status": string(domain.WorkflowVoid)})
}

// Get handles requests to inspect a workflow.
// GET /v1/workflows/{workflowID}
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflowID")
	key := middleware.AccessKeyFromContext(r.Context())

	wf, err := h.workflows.Get(r.Context(), workflowID)
	if err != nil {
		h.respondWorkflowError(w, err)
		return
	}
	if wf.AccountID != key.AccountID {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, wf)
}

// Balance handles requests for the authenticated account's balance.
// GET /v1/balance
func (h *WorkflowHandler) Balance(w http.ResponseWriter, r *http.Request) {
	key := middleware.AccessKeyFromContext(r.Context())

	balance, err := h.credits.Balance(r.Context(), key.AccountID)
	if err != nil {
		h.logger.Error("failed to read balance", "account_id", key.AccountID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, map[string]int64{"balance": balance})
}

// Debit handles single-step debits that bypass workflow accumulation.
// POST /v1/debit
func (h *WorkflowHandler) Debit(w http.ResponseWriter, r *http.Request) {
	key := middleware.AccessKeyFromContext(r.Context())

	var payload struct {
		Credits     int64  `json:"credits"`
		Reference   string `json:"reference"`
		Description string `json:"description"`
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

	result, err := h.credits.Debit(r.Context(), domain.DebitParams{
		AccountID:         key.AccountID,
		AccessKey:         key.Key,
		Credits:           payload.Credits,
		ExternalReference: payload.Reference,
		Description:       payload.Description,
	})
	if err != nil {
		var insufficient *domain.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			respondInsufficient(h.logger, w, insufficient)
			return
		}
		h.logger.Error("failed to debit account", "account_id", key.AccountID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, result)
}

// authorize resolves the workflow and verifies it belongs to the
// authenticated account, writing the error response on failure.
func (h *WorkflowHandler) authorize(w http.ResponseWriter, r *http.Request, workflowID string) bool {
	key := middleware.AccessKeyFromContext(r.Context())

	wf, err := h.workflows.Get(r.Context(), workflowID)
	if err != nil {
		h.respondWorkflowError(w, err)
		return false
	}
	if wf.AccountID != key.AccountID {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return false
	}
	return true
}

func (h *WorkflowHandler) respondWorkflowError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientCreditsError
	switch {
	case errors.Is(err, domain.ErrWorkflowNotFound):
		http.Error(w, "workflow not found", http.StatusNotFound)
	case errors.As(err, &insufficient):
		respondInsufficient(h.logger, w, insufficient)
	default:
		h.logger.Error("workflow operation failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
