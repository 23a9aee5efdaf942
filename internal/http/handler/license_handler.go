package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/streamvault/playback-license-service/internal/domain"
	"github.com/streamvault/playback-license-service/internal/http/response"
	"github.com/streamvault/playback-license-service/internal/observability"
	"github.com/streamvault/playback-license-service/internal/service"
)

type LicenseHandler struct {
	licenses *service.LicenseService
}

func NewLicenseHandler(licenses *service.LicenseService) *LicenseHandler {
	return &LicenseHandler{licenses: licenses}
}

type issueRequest struct {
	EpisodeID   uint    `json:"episode_id"`
	LicenseType string  `json:"license_type"`
	DeviceID    *string `json:"device_id,omitempty"`
	TTLSeconds  int64   `json:"ttl_seconds,omitempty"`
}

func (h *LicenseHandler) Issue(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := viewerFromRequest(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EpisodeID == 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "episode_id is required", nil)
		return
	}

	lic, err := h.licenses.Issue(r.Context(), service.IssueRequest{
		UserID:      userID,
		EpisodeID:   req.EpisodeID,
		LicenseType: domain.LicenseType(req.LicenseType),
		DeviceID:    req.DeviceID,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
		Meta:        requestMeta(r),
	})
	if err != nil && !onlyAuditWarnings(err) {
		if errors.Is(err, service.ErrLicenseDenied) {
			observability.Audit(r, "license_denied", "user_id", userID, "episode_id", req.EpisodeID)
			response.Error(w, r, http.StatusForbidden, "LICENSE_DENIED", "user is not entitled to this episode", nil)
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "could not issue license", nil)
		return
	}
	observability.Audit(r, "license_granted", "user_id", userID, "episode_id", req.EpisodeID)
	if err != nil {
		response.JSONWithWarnings(w, r, http.StatusCreated, lic, auditWarning)
		return
	}
	response.JSON(w, r, http.StatusCreated, lic)
}

func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := viewerFromRequest(w, r)
	if !ok {
		return
	}
	episodeID, err := strconv.ParseUint(r.URL.Query().Get("episode_id"), 10, 64)
	if err != nil || episodeID == 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "episode_id is required", nil)
		return
	}

	st, verr := h.licenses.ValidatePlayback(r.Context(), userID, uint(episodeID), requestMeta(r))
	if verr != nil && !onlyAuditWarnings(verr) {
		response.Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "could not validate license", nil)
		return
	}
	payload := map[string]any{"status": st}
	if verr != nil {
		response.JSONWithWarnings(w, r, http.StatusOK, payload, auditWarning)
		return
	}
	response.JSON(w, r, http.StatusOK, payload)
}

type revokeRequest struct {
	UserID    uint   `json:"user_id"`
	EpisodeID uint   `json:"episode_id"`
	Reason    string `json:"reason"`
}

// Revoke is an operator endpoint: it targets any user's license and cascades
// into eviction of that pair's active streams.
func (h *LicenseHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.EpisodeID == 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "user_id and episode_id are required", nil)
		return
	}
	if req.Reason == "" {
		req.Reason = "revoked by operator"
	}

	err := h.licenses.Revoke(r.Context(), req.UserID, req.EpisodeID, req.Reason, requestMeta(r))
	if err != nil && !onlyAuditWarnings(err) {
		response.Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "could not revoke license", nil)
		return
	}
	observability.Audit(r, "license_revoked", "user_id", req.UserID, "episode_id", req.EpisodeID)
	payload := map[string]string{"status": "revoked"}
	if err != nil {
		response.JSONWithWarnings(w, r, http.StatusOK, payload, auditWarning)
		return
	}
	response.JSON(w, r, http.StatusOK, payload)
}

type downloadRequest struct {
	EpisodeID uint `json:"episode_id"`
}

func (h *LicenseHandler) AuthorizeDownload(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := viewerFromRequest(w, r)
	if !ok {
		return
	}
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EpisodeID == 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "episode_id is required", nil)
		return
	}

	err := h.licenses.AuthorizeDownload(r.Context(), userID, req.EpisodeID, requestMeta(r))
	if err != nil && !onlyAuditWarnings(err) {
		switch {
		case errors.Is(err, service.ErrLicenseNotFound):
			response.Error(w, r, http.StatusNotFound, "LICENSE_NOT_FOUND", "no license for this episode", nil)
		case errors.Is(err, service.ErrLicenseExpired),
			errors.Is(err, service.ErrLicenseRevoked),
			errors.Is(err, service.ErrLicenseDenied):
			response.Error(w, r, http.StatusForbidden, "DOWNLOAD_DENIED", "license does not permit download", nil)
		default:
			response.Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "could not authorize download", nil)
		}
		return
	}
	payload := map[string]string{"status": "authorized"}
	if err != nil {
		response.JSONWithWarnings(w, r, http.StatusOK, payload, auditWarning)
		return
	}
	response.JSON(w, r, http.StatusOK, payload)
}

func (h *LicenseHandler) CompleteDownload(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := viewerFromRequest(w, r)
	if !ok {
		return
	}
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EpisodeID == 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "episode_id is required", nil)
		return
	}

	err := h.licenses.CompleteDownload(r.Context(), userID, req.EpisodeID, requestMeta(r))
	if err != nil && !onlyAuditWarnings(err) {
		if errors.Is(err, service.ErrLicenseNotFound) {
			response.Error(w, r, http.StatusNotFound, "LICENSE_NOT_FOUND", "no license for this episode", nil)
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "could not record download completion", nil)
		return
	}
	payload := map[string]string{"status": "completed"}
	if err != nil {
		response.JSONWithWarnings(w, r, http.StatusOK, payload, auditWarning)
		return
	}
	response.JSON(w, r, http.StatusOK, payload)
}
