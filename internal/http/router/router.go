package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/streamvault/playback-license-service/internal/health"
	"github.com/streamvault/playback-license-service/internal/http/handler"
	"github.com/streamvault/playback-license-service/internal/http/middleware"
	"github.com/streamvault/playback-license-service/internal/http/response"
	"github.com/streamvault/playback-license-service/internal/security"
)

type Dependencies struct {
	LicenseHandler  *handler.LicenseHandler
	PlaybackHandler *handler.PlaybackHandler
	AuditHandler    *handler.AuditHandler
	JWTManager      *security.JWTManager
	Readiness       *health.ProbeRunner
	EnableOTelHTTP  bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(dep.JWTManager))

		r.Route("/licenses", func(r chi.Router) {
			r.Post("/issue", dep.LicenseHandler.Issue)
			r.Get("/validate", dep.LicenseHandler.Validate)
			r.With(middleware.RequireScope("licenses:revoke")).Post("/revoke", dep.LicenseHandler.Revoke)
		})
		r.Route("/downloads", func(r chi.Router) {
			r.Post("/authorize", dep.LicenseHandler.AuthorizeDownload)
			r.Post("/complete", dep.LicenseHandler.CompleteDownload)
		})
		r.Route("/playback", func(r chi.Router) {
			r.Post("/start", dep.PlaybackHandler.Start)
			r.Post("/heartbeat", dep.PlaybackHandler.Heartbeat)
			r.Post("/stop", dep.PlaybackHandler.Stop)
		})
		r.With(middleware.RequireScope("audit:read")).Get("/audit/events", dep.AuditHandler.List)
	})

	if dep.EnableOTelHTTP {
		return otelhttp.NewHandler(r, "http.server")
	}
	return r
}
