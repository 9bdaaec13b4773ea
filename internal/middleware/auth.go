// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/handauncle/hubot-relay/internal/identity"
	"github.com/handauncle/hubot-relay/pkg/logger"
)

// Identity resolves an optional bearer credential and stores the verified
// identity in the request context. A missing credential continues as
// anonymous. Any credential that cannot be verified is rejected with 401.
func Identity(resolver identity.Resolver, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			id, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if !errors.Is(err, identity.ErrInvalidCredential) {
					log.Warn("identity lookup failed", zap.Error(err))
				}
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if id == nil {
				next.ServeHTTP(w, r)
				return
			}

			recordIdentity(r, id)
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireIdentity rejects requests that carry no verified identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity.FromContext(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the credential. ok is false when no Authorization
// header is present; an empty token with ok set means a malformed header.
func bearerToken(r *http.Request) (token string, ok bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", true
	}
	return strings.TrimSpace(parts[1]), true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
