package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nexusai/credit-engine/internal/domain"
)

func respondJSON(logger *slog.Logger, w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondInsufficient renders a declined posting as 402 with the
// deficit details the client needs to top up.
func respondInsufficient(logger *slog.Logger, w http.ResponseWriter, e *domain.InsufficientCreditsError) {
	respondJSON(logger, w, http.StatusPaymentRequired, map[string]any{
		"error":            "insufficient credits",
		"current_credits":  e.Current,
		"required_credits": e.Required,
		"deficit":          e.Deficit,
	})
}
