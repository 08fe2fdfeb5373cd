package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/internal/services/render"
)

// SessionHandler manages named browser sessions
type SessionHandler struct {
	renderService *render.Service
	logger        arbor.ILogger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(renderService *render.Service) *SessionHandler {
	return &SessionHandler{
		renderService: renderService,
		logger:        common.GetLogger(),
	}
}

// CreateSessionHandler creates a named session eagerly. The key is
// generated when the request omits one.
// POST /api/sessions
func (h *SessionHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req struct {
		Key string `json:"key"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	key, err := h.renderService.CreateSession(r.Context(), req.Key)
	if err != nil {
		h.logger.Warn().Err(err).Str("key", req.Key).Msg("Failed to create session")
		WriteRenderError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{
		"status": "created",
		"key":    key,
	})
}

// ListSessionsHandler returns all live sessions.
// GET /api/sessions
func (h *SessionHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	sessions := h.renderService.ListSessions()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// DeleteSessionHandler removes a session and destroys its browser context.
// DELETE /api/sessions/{key}
func (h *SessionHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if key == "" || strings.Contains(key, "/") {
		WriteError(w, http.StatusBadRequest, "Session key is required")
		return
	}

	if !h.renderService.RemoveSession(key) {
		WriteError(w, http.StatusNotFound, "Session not found: "+key)
		return
	}

	WriteSuccess(w, "Session removed: "+key)
}
