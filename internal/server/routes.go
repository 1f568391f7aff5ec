package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Public file hosting
	mux.HandleFunc("/files/", s.app.FileHandler.ServeFileHandler)
	mux.HandleFunc("/images/", s.app.FileHandler.ServeImageHandler)

	// System
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)

	// Admin API (basic auth)
	mux.HandleFunc("/admin/files", s.basicAuthMiddleware(s.app.AdminHandler.ListFilesHandler))
	mux.HandleFunc("/admin/files/", s.basicAuthMiddleware(s.app.AdminHandler.FileRoutesHandler)) // GET/DELETE /{id}, POST /{id}/cancel
	mux.HandleFunc("/admin/logs", s.basicAuthMiddleware(s.app.AdminHandler.ListLogsHandler))
	mux.HandleFunc("/admin/users/", s.basicAuthMiddleware(s.app.AdminHandler.GetUserHandler))

	// Admin event stream (websocket, basic auth before upgrade)
	mux.HandleFunc("/admin/events", s.basicAuthMiddleware(s.app.WSHandler.EventsHandler))

	return mux
}
