package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/common"
)

// StatusHandler serves health and version endpoints
type StatusHandler struct {
	logger    arbor.ILogger
	startTime time.Time
	active    func() int
}

// NewStatusHandler creates a status handler. active reports the number of
// in-flight pipeline jobs.
func NewStatusHandler(logger arbor.ILogger, active func() int) *StatusHandler {
	return &StatusHandler{
		logger:    logger,
		startTime: time.Now(),
		active:    active,
	}
}

// HealthHandler handles GET /api/health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.active != nil {
		status["active_jobs"] = h.active()
	}
	writeJSON(w, http.StatusOK, status)
}

// VersionHandler handles GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
	})
}
