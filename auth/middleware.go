package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"log/slog"
)

type contextKey string

const claimsKey contextKey = "authClaims"

// Middleware returns a mux middleware that resolves the calling actor
// from the Authorization header and stores the claims on the request
// context. Requests without a valid bearer token are rejected before
// they reach a handler.
func Middleware(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				logger.Warn("Missing bearer token", "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			claims, err := ValidateToken(strings.TrimPrefix(header, "Bearer "), secret)
			if err != nil {
				logger.Warn("Invalid token", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusForbidden, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by Middleware, if any
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
