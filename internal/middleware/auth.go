// Package middleware provides HTTP middleware for the DarkAuth server.
package middleware

import (
	"context"
	"net/http"

	"github.com/darkauth/darkauth/internal/session"
)

// ctxKey is a custom type for context keys to avoid collisions.
type ctxKey string

// SessionKey is the context key for the resolved session.Data.
const SessionKey ctxKey = "darkauth_session"

// RequireSession resolves cohort's session cookie and rejects the
// request with 401 if absent or expired. On success, session.Data is
// attached to the request context under SessionKey.
func RequireSession(store *session.Store, cohort session.Cohort) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := session.TokenFromRequest(r, cohort)
			if err != nil {
				respondErrorJSON(w, "authentication required", http.StatusUnauthorized)
				return
			}
			data, err := store.Resolve(cohort, token)
			if err != nil {
				respondErrorJSON(w, "session expired or invalid", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), SessionKey, data)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireMFAVerified rejects requests whose session has not completed
// an MFA challenge, for routes gating sensitive operations
// (authorize/finalize and the admin client-secret rotation, JWKS
// rotation and OTP unlock routes). Must run after RequireSession.
func RequireMFAVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := GetSession(r.Context())
		if !ok || !data.MFAVerified {
			respondErrorJSON(w, "step-up authentication required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetSession retrieves the session.Data attached by RequireSession.
func GetSession(ctx context.Context) (session.Data, bool) {
	data, ok := ctx.Value(SessionKey).(session.Data)
	return data, ok
}
