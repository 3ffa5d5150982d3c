package api

import (
	"log/slog"
	"net/http"

	"github.com/nexusai/credit-engine/internal/adapter/api/handler"
	"github.com/nexusai/credit-engine/internal/adapter/api/middleware"
	"github.com/nexusai/credit-engine/internal/pkg/config"
	"github.com/nexusai/credit-engine/internal/usecase"
)

// NewRouter creates and configures the key-authenticated metering
// router: workflows, direct debits, balance reads, and payments.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	keys *usecase.AccessKeyUseCase,
	credits *usecase.CreditAccountUseCase,
	workflows *usecase.WorkflowUseCase,
	gateway handler.PaymentGateway,
) http.Handler {
	mux := http.NewServeMux()

	workflowHandler := handler.NewWorkflowHandler(workflows, credits, logger)

	// Middleware
	authMiddleware := middleware.Auth(keys, logger)
	rateLimitMiddleware := middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(rateLimitMiddleware(h))
	}

	// Workflow accumulation
	mux.Handle("POST /v1/workflows", protect(workflowHandler.Open))
	mux.Handle("GET /v1/workflows/{workflowID}", protect(workflowHandler.Get))
	mux.Handle("POST /v1/workflows/{workflowID}/usage", protect(workflowHandler.Record))
	mux.Handle("POST /v1/workflows/{workflowID}/settle", protect(workflowHandler.Settle))
	mux.Handle("DELETE /v1/workflows/{workflowID}", protect(workflowHandler.Abandon))

	// Direct postings and balance
	mux.Handle("POST /v1/debit", protect(workflowHandler.Debit))
	mux.Handle("GET /v1/balance", protect(workflowHandler.Balance))

	// Payments
	if gateway != nil {
		paymentHandler := handler.NewPaymentHandler(gateway, credits, logger)
		mux.Handle("GET /v1/payments/packages", protect(paymentHandler.ListPackages))
		mux.Handle("POST /v1/payments", protect(paymentHandler.Initiate))
		mux.Handle("POST /v1/payments/{referenceID}/confirm", protect(paymentHandler.Confirm))
	}

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return middleware.Logging(logger)(mux)
}
