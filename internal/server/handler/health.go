package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	mode    string
	venues  []string
	started time.Time
}

// NewHealthHandler reports mode and venues alongside the uptime.
func NewHealthHandler(mode string, venues []string) *HealthHandler {
	return &HealthHandler{mode: mode, venues: venues, started: time.Now()}
}

// HealthCheck responds with the process status.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"venues":         h.venues,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
