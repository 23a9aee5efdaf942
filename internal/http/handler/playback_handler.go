package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/streamvault/playback-license-service/internal/http/response"
	"github.com/streamvault/playback-license-service/internal/observability"
	"github.com/streamvault/playback-license-service/internal/service"
)

// PlanLimitFunc resolves a plan name to its concurrent-stream limit. Limits
// come from configuration, never from code at the call site.
type PlanLimitFunc func(plan string) int

type PlaybackHandler struct {
	admission *service.AdmissionService
	planLimit PlanLimitFunc
}

func NewPlaybackHandler(admission *service.AdmissionService, planLimit PlanLimitFunc) *PlaybackHandler {
	return &PlaybackHandler{admission: admission, planLimit: planLimit}
}

type startRequest struct {
	EpisodeID uint `json:"episode_id"`
}

func (h *PlaybackHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, claims, ok := viewerFromRequest(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EpisodeID == 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "episode_id is required", nil)
		return
	}
	if claims.DeviceID == "" {
		response.Error(w, r, http.StatusBadRequest, "DEVICE_REQUIRED", "access token carries no device identity", nil)
		return
	}

	admission, err := h.admission.Admit(r.Context(), service.AdmitRequest{
		UserID:               userID,
		EpisodeID:            req.EpisodeID,
		DeviceID:             claims.DeviceID,
		DeviceName:           claims.DeviceName,
		DevicePlatform:       claims.DevicePlatform,
		MaxConcurrentStreams: h.planLimit(claims.Plan),
		Meta:                 requestMeta(r),
	})
	if err != nil && !onlyAuditWarnings(err) {
		switch {
		case errors.Is(err, service.ErrLicenseNotFound),
			errors.Is(err, service.ErrLicenseExpired),
			errors.Is(err, service.ErrLicenseRevoked):
			observability.Audit(r, "playback_rejected", "user_id", userID, "episode_id", req.EpisodeID, "reason", "license_invalid")
			response.Error(w, r, http.StatusForbidden, "LICENSE_INVALID", "no valid license for this episode", map[string]string{"cause": err.Error()})
		case errors.Is(err, service.ErrConcurrencyLimitExceeded):
			observability.Audit(r, "concurrent_stream_blocked", "user_id", userID, "episode_id", req.EpisodeID)
			response.Error(w, r, http.StatusConflict, "CONCURRENT_STREAM_LIMIT", "too many active streams; stop one to continue", nil)
		default:
			response.Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "could not start playback", nil)
		}
		return
	}
	observability.Audit(r, "playback_started", "user_id", userID, "episode_id", req.EpisodeID, "device_id", claims.DeviceID)
	if err != nil {
		response.JSONWithWarnings(w, r, http.StatusCreated, admission, auditWarning)
		return
	}
	response.JSON(w, r, http.StatusCreated, admission)
}

type sessionRequest struct {
	SessionToken string `json:"session_token"`
	Reason       string `json:"reason,omitempty"`
}

func (h *PlaybackHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := viewerFromRequest(w, r); !ok {
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionToken == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "session_token is required", nil)
		return
	}

	if err := h.admission.Heartbeat(r.Context(), req.SessionToken); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "session expired or unknown; start playback again", nil)
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "could not record heartbeat", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *PlaybackHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := viewerFromRequest(w, r); !ok {
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionToken == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "session_token is required", nil)
		return
	}

	err := h.admission.End(r.Context(), req.SessionToken, req.Reason, requestMeta(r))
	if err != nil && !onlyAuditWarnings(err) {
		response.Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "could not stop playback", nil)
		return
	}
	payload := map[string]string{"status": "ended"}
	if err != nil {
		response.JSONWithWarnings(w, r, http.StatusOK, payload, auditWarning)
		return
	}
	response.JSON(w, r, http.StatusOK, payload)
}
