package handler

import (
	"errors"
	"net"
	"net/http"

	"github.com/streamvault/playback-license-service/internal/http/middleware"
	"github.com/streamvault/playback-license-service/internal/http/response"
	"github.com/streamvault/playback-license-service/internal/security"
	"github.com/streamvault/playback-license-service/internal/service"
)

func requestMeta(r *http.Request) service.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return service.RequestMeta{IPAddress: ip, UserAgent: r.UserAgent()}
}

// viewerFromRequest resolves the authenticated principal set by the auth
// middleware into a user id plus claims.
func viewerFromRequest(w http.ResponseWriter, r *http.Request) (uint, *security.Claims, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return 0, nil, false
	}
	userID, err := claims.UserID()
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject", nil)
		return 0, nil, false
	}
	return userID, claims, true
}

// onlyAuditWarnings reports whether every error in the (possibly joined)
// tree is an audit-write failure. Audit failures downgrade to warnings; any
// other error keeps its weight.
func onlyAuditWarnings(err error) bool {
	if err == nil {
		return false
	}
	leaves := flatten(err)
	for _, leaf := range leaves {
		if !errors.Is(leaf, service.ErrAuditWriteFailed) {
			return false
		}
	}
	return true
}

func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}

var auditWarning = []string{"audit trail write failed; decision was applied"}
