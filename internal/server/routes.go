package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Tasks: admission, reads, cancellation, worker callbacks
	mux.HandleFunc("/api/tasks", s.app.TaskHandler.ListTasksHandler)
	mux.HandleFunc("/api/tasks/", s.app.TaskHandler.TaskRoutes) // POST/GET/DELETE /{id}, /{id}/status|result|checkin

	// Queue control
	mux.HandleFunc("/api/queue/start", s.app.QueueHandler.StartHandler)
	mux.HandleFunc("/api/queue/clear", s.app.QueueHandler.ClearHandler)
	mux.HandleFunc("/api/queue/pending", s.app.QueueHandler.PendingHandler)
	mux.HandleFunc("/api/queue/", s.app.QueueHandler.SiteStartRoutes) // POST /{site_id}/start

	// Site registry
	mux.HandleFunc("/api/site-configs", s.app.SiteHandler.ListHandler)
	mux.HandleFunc("/api/site-configs/", s.app.SiteHandler.SiteRoutes) // GET/PUT/DELETE /{site_id}, /{site_id}/state, /reload

	// Settings
	mux.HandleFunc("/api/settings", s.app.SettingsHandler.SettingsRootHandler)
	mux.HandleFunc("/api/settings/", s.app.SettingsHandler.SettingsRoutes) // GET/PUT /{key}, /reset, /browser

	// System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
