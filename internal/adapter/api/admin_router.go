package api

import (
	"log/slog"
	"net/http"

	"github.com/nexusai/credit-engine/internal/adapter/api/handler"
	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/usecase"
)

// NewAdminRouter creates and configures the HTTP router for admin
// operations: account lifecycle, grants, key management, and analytics.
// Note: This router uses path patterns (e.g., "/{accountID}/") available in Go 1.22+.
func NewAdminRouter(
	logger *slog.Logger,
	accounts domain.AccountRepository,
	credits *usecase.CreditAccountUseCase,
	keys *usecase.AccessKeyUseCase,
	analytics *usecase.AnalyticsUseCase,
) http.Handler {
	mux := http.NewServeMux()

	accountHandler := handler.NewAccountHandler(accounts, credits, keys, logger)
	analyticsHandler := handler.NewAnalyticsHandler(analytics, logger)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Accounts and grants
	mux.HandleFunc("POST /admin/accounts", accountHandler.Create)
	mux.HandleFunc("GET /admin/accounts/{accountID}", accountHandler.Get)
	mux.HandleFunc("DELETE /admin/accounts/{accountID}", accountHandler.Deactivate)
	mux.HandleFunc("POST /admin/accounts/{accountID}/grants", accountHandler.Grant)

	// Access keys
	mux.HandleFunc("GET /admin/accounts/{accountID}/key-eligibility", accountHandler.KeyEligibility)
	mux.HandleFunc("POST /admin/accounts/{accountID}/keys", accountHandler.IssueKey)
	mux.HandleFunc("DELETE /admin/keys/{key}", accountHandler.RevokeKey)

	// Ledger analytics
	mux.HandleFunc("GET /admin/accounts/{accountID}/ledger", analyticsHandler.Ledger)
	mux.HandleFunc("GET /admin/accounts/{accountID}/usage/providers", analyticsHandler.ProviderBreakdown)
	mux.HandleFunc("GET /admin/accounts/{accountID}/usage/keys", analyticsHandler.KeyBreakdown)
	mux.HandleFunc("GET /admin/accounts/{accountID}/audit", analyticsHandler.Audit)
	mux.HandleFunc("GET /admin/usage/top", analyticsHandler.TopAccounts)

	return mux
}
