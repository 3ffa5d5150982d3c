package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nexusai/credit-engine/internal/domain"
	"github.com/nexusai/credit-engine/internal/usecase"
)

const APIKeyHeader = "X-API-Key"

type contextKey string

const accessKeyContextKey contextKey = "access_key"

// Auth is a middleware factory that returns a new authentication
// middleware. It resolves the X-API-Key header to an access key and
// stores the key on the request context for handlers downstream.
func Auth(keys *usecase.AccessKeyUseCase, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				logger.Warn("API key missing from request", "remote_addr", r.RemoteAddr)
				http.Error(w, "Unauthorized: API key required", http.StatusUnauthorized)
				return
			}

			key, err := keys.Authenticate(r.Context(), apiKey)
			if err != nil {
				if errors.Is(err, domain.ErrInvalidKey) {
					logger.Warn("invalid API key provided", "remote_addr", r.RemoteAddr)
					http.Error(w, "Unauthorized: Invalid API key", http.StatusUnauthorized)
					return
				}
				logger.Error("failed to authenticate API key", "error", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), accessKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessKeyFromContext returns the authenticated access key stored by
// the Auth middleware, or nil when the request was not authenticated.
func AccessKeyFromContext(ctx context.Context) *domain.AccessKey {
	key, _ := ctx.Value(accessKeyContextKey).(*domain.AccessKey)
	return key
}
