package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/internal/services/render"
	"github.com/ternarybob/revelo/pkg/models"
)

// RenderHandler serves render requests
type RenderHandler struct {
	renderService *render.Service
	logger        arbor.ILogger
}

// NewRenderHandler creates a new render handler
func NewRenderHandler(renderService *render.Service) *RenderHandler {
	return &RenderHandler{
		renderService: renderService,
		logger:        common.GetLogger(),
	}
}

// RenderHandler renders a URL and returns the final page content.
// POST /api/render
func (h *RenderHandler) RenderHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req models.RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.renderService.Render(r.Context(), &req)
	if err != nil {
		h.logger.Warn().Err(err).Str("url", req.URL).Msg("Render request failed")
		WriteRenderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
