package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vaultpass/identity-go/internal/repository"
)

type contextKey string

const userIDKey contextKey = "userID"

// TokenResolver maps an opaque bearer token to the id of the user holding it.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// TokenAuth returns middleware that authenticates the Bearer token from the
// Authorization header against the live token records.
func TokenAuth(tokens TokenResolver, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			token, found := strings.CutPrefix(authHeader, "Bearer ")
			if !found || token == "" {
				writeJSONError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			userID, err := tokens.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, repository.ErrTokenNotFound) {
					writeJSONError(w, http.StatusUnauthorized, "invalid token")
					return
				}
				logger.Error().Err(err).Str("op", "resolve token").Msg("request failed")
				writeJSONError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"errors": msg})
}
