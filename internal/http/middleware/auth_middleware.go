package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/streamvault/playback-license-service/internal/http/response"
	"github.com/streamvault/playback-license-service/internal/security"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

func AuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(strings.TrimSpace(auth[7:]))
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

// RequireScope gates operator endpoints (revocation, audit listing) on a
// scope claim carried in the access token.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || !claims.HasScope(scope) {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "missing required scope", map[string]string{"scope": scope})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
