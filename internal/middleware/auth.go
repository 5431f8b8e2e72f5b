package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/auth"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// socketToken also accepts a token query parameter, since browsers cannot
// set headers on a websocket handshake.
func socketToken(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

// RequireAuth resolves the bearer token to a principal and stores it in the
// request context.
func RequireAuth(a Authenticator) func(http.Handler) http.Handler {
	return requireAuth(a, bearerToken)
}

// RequireAuthWS is RequireAuth for websocket upgrades.
func RequireAuthWS(a Authenticator) func(http.Handler) http.Handler {
	return requireAuth(a, socketToken)
}

func requireAuth(a Authenticator, tokenFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFn(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			p, err := a.Authenticate(r.Context(), token)
			if err != nil {
				switch apperr.KindOf(err) {
				case apperr.Forbidden:
					writeError(w, http.StatusForbidden, "Your account has been restricted")
				case apperr.Unauthorized:
					writeError(w, http.StatusUnauthorized, "Invalid or expired token")
				default:
					writeError(w, http.StatusInternalServerError, "Internal server error")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}
