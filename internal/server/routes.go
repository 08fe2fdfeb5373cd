package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Rendering
	mux.HandleFunc("/api/render", s.app.RenderHandler.RenderHandler) // POST - render a URL

	// API routes - Sessions
	mux.HandleFunc("/api/sessions", s.handleSessionsRoute) // GET (list), POST (create)
	mux.HandleFunc("/api/sessions/", s.app.SessionHandler.DeleteSessionHandler)

	// API routes - Render history and clearances
	mux.HandleFunc("/api/renders", s.app.RecordsHandler.ListRendersHandler)
	mux.HandleFunc("/api/renders/", s.app.RecordsHandler.GetRenderHandler)
	mux.HandleFunc("/api/clearances", s.app.RecordsHandler.ListClearancesHandler)
	mux.HandleFunc("/api/clearances/", s.app.RecordsHandler.DeleteClearanceHandler)

	// API routes - Status and logs
	mux.HandleFunc("/api/status", s.app.StatusHandler.StatusHandler)
	mux.HandleFunc("/api/logs/recent", s.app.WSHandler.GetRecentLogsHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler) // Graceful shutdown endpoint

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleSessionsRoute routes /api/sessions requests (list and create)
func (s *Server) handleSessionsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r,
		s.app.SessionHandler.ListSessionsHandler,
		s.app.SessionHandler.CreateSessionHandler)
}
