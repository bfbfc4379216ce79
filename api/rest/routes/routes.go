package routes

import (
	"stem-splitter/api/rest/handlers"

	"github.com/gorilla/mux"
)

// Handlers groups everything the router dispatches to
type Handlers struct {
	Separation *handlers.SeparationHandler
	Jobs       *handlers.JobHandler
	Dashboard  *handlers.DashboardHandler
	Docs       *handlers.DocsHandler
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, h Handlers) {
	r.HandleFunc("/", h.Docs.Root).Methods("GET")
	r.HandleFunc("/docs", h.Docs.Page).Methods("GET")
	r.HandleFunc("/docs/openapi.json", h.Docs.Document).Methods("GET")

	// Separation endpoints
	r.HandleFunc("/separate", h.Separation.Separate).Methods("POST")
	r.HandleFunc("/separate/email", h.Separation.SeparateEmail).Methods("POST")

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/jobs/{id}", h.Jobs.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/events", h.Jobs.GetJobEvents).Methods("GET")

	r.HandleFunc("/health", h.Dashboard.Health).Methods("GET")
	r.HandleFunc("/metrics", h.Dashboard.Metrics).Methods("GET")
}
