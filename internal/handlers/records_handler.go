package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/internal/interfaces"
)

// RecordsHandler serves the render audit trail and stored clearances
type RecordsHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

// NewRecordsHandler creates a new records handler
func NewRecordsHandler(storage interfaces.StorageManager) *RecordsHandler {
	return &RecordsHandler{
		storage: storage,
		logger:  common.GetLogger(),
	}
}

// ListRendersHandler returns recent render records, newest first.
// GET /api/renders?limit=50&offset=0
func (h *RecordsHandler) ListRendersHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit, offset := GetPaginationParams(r)
	records, err := h.storage.RenderStorage().ListRecent(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list render records")
		WriteError(w, http.StatusInternalServerError, "Failed to list render records")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"renders": records,
		"count":   len(records),
		"limit":   limit,
		"offset":  offset,
	})
}

// GetRenderHandler returns one render record by ID.
// GET /api/renders/{id}
func (h *RecordsHandler) GetRenderHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/renders/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusBadRequest, "Render ID is required")
		return
	}

	record, err := h.storage.RenderStorage().GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get render record")
		WriteError(w, http.StatusInternalServerError, "Failed to get render record")
		return
	}
	if record == nil {
		WriteError(w, http.StatusNotFound, "Render record not found: "+id)
		return
	}

	WriteJSON(w, http.StatusOK, record)
}

// ListClearancesHandler returns all stored challenge clearances. Cookie
// values are redacted; only names and metadata are exposed.
// GET /api/clearances
func (h *RecordsHandler) ListClearancesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	clearances, err := h.storage.ClearanceStorage().List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list clearances")
		WriteError(w, http.StatusInternalServerError, "Failed to list clearances")
		return
	}

	summaries := make([]map[string]interface{}, 0, len(clearances))
	for _, clearance := range clearances {
		names := make([]string, 0, len(clearance.Cookies))
		for _, cookie := range clearance.Cookies {
			names = append(names, cookie.Name)
		}
		summaries = append(summaries, map[string]interface{}{
			"origin":       clearance.Origin,
			"cookie_names": names,
			"user_agent":   clearance.UserAgent,
			"issued_at":    clearance.IssuedAt,
			"last_seen_at": clearance.LastSeenAt,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"clearances": summaries,
		"count":      len(summaries),
	})
}

// DeleteClearanceHandler removes the stored clearance for an origin.
// DELETE /api/clearances/{origin}
func (h *RecordsHandler) DeleteClearanceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	origin := strings.TrimPrefix(r.URL.Path, "/api/clearances/")
	if origin == "" || strings.Contains(origin, "/") {
		WriteError(w, http.StatusBadRequest, "Origin is required")
		return
	}

	if err := h.storage.ClearanceStorage().Delete(r.Context(), origin); err != nil {
		h.logger.Error().Err(err).Str("origin", origin).Msg("Failed to delete clearance")
		WriteError(w, http.StatusInternalServerError, "Failed to delete clearance")
		return
	}

	WriteSuccess(w, "Clearance removed: "+origin)
}
