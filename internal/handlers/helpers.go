package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/revelo/pkg/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteRenderError maps a render error onto the HTTP surface, including
// its kind and a retry hint when retrying could help.
func WriteRenderError(w http.ResponseWriter, err error) error {
	var renderErr *models.RenderError
	if !errors.As(err, &renderErr) {
		return WriteError(w, http.StatusInternalServerError, err.Error())
	}

	payload := map[string]interface{}{
		"status": "error",
		"error":  renderErr.Message,
		"kind":   string(renderErr.Kind),
	}
	if renderErr.Kind.Retryable() {
		payload["hint"] = renderErr.Kind.RetryHint()
	}
	return WriteJSON(w, renderErr.Kind.HTTPStatus(), payload)
}

// GetPaginationParams extracts limit/offset parameters from the query
// string. Returns limit (default 50, max 200) and offset.
func GetPaginationParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}
