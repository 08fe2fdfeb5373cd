package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/internal/services/render"
)

// StatusHandler reports service readiness and resource statistics
type StatusHandler struct {
	renderService *render.Service
	logger        arbor.ILogger
	startTime     time.Time
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(renderService *render.Service) *StatusHandler {
	return &StatusHandler{
		renderService: renderService,
		logger:        common.GetLogger(),
		startTime:     time.Now(),
	}
}

// StatusHandler returns readiness plus pool, session and admission stats.
// GET /api/status
func (h *StatusHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ready":          h.renderService.IsReady(),
		"version":        common.GetVersion(),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"pool":           h.renderService.PoolStats(),
		"sessions":       h.renderService.SessionStats(),
		"admission":      h.renderService.AdmissionStats(),
	})
}
