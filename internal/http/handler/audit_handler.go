package handler

import (
	"net/http"
	"strconv"

	"github.com/streamvault/playback-license-service/internal/http/response"
	"github.com/streamvault/playback-license-service/internal/service"
)

type AuditHandler struct {
	audit    *service.StoreAuditLogger
	maxLimit int
}

func NewAuditHandler(audit *service.StoreAuditLogger, maxLimit int) *AuditHandler {
	if maxLimit <= 0 {
		maxLimit = 100
	}
	return &AuditHandler{audit: audit, maxLimit: maxLimit}
}

// List returns the newest audit entries, bounded by the configured limit.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := h.maxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "limit must be a positive integer", nil)
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}
	entries, err := h.audit.Recent(limit)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "could not list audit events", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"events": entries, "count": len(entries)})
}
