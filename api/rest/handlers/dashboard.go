package handlers

import (
	"net/http"

	"stem-splitter/core/models"
	"stem-splitter/core/monitoring"
	"stem-splitter/core/workspace"
)

// DashboardHandler serves health and metrics
type DashboardHandler struct {
	tracker    *monitoring.JobTracker
	exporter   *monitoring.MetricsExporter
	workspaces monitoring.WorkspaceStats
	mail       func() error
}

// NewDashboardHandler creates a new dashboard handler. mail reports whether
// email delivery is available.
func NewDashboardHandler(
	tracker *monitoring.JobTracker,
	exporter *monitoring.MetricsExporter,
	workspaces monitoring.WorkspaceStats,
	mail func() error,
) *DashboardHandler {
	return &DashboardHandler{
		tracker:    tracker,
		exporter:   exporter,
		workspaces: workspaces,
		mail:       mail,
	}
}

// HealthResponse reports liveness and a few counters
type HealthResponse struct {
	Status     string          `json:"status"`
	Workspaces workspace.Stats `json:"workspaces"`
	Jobs       map[string]int  `json:"jobs"`
	Mail       string          `json:"mail"`
}

// Health handles GET /health
func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	jobs := map[string]int{
		"in_flight": 0,
		string(models.JobStatusDelivered): 0,
		string(models.JobStatusFailed):    0,
	}
	for _, job := range h.tracker.Snapshot() {
		if job.Status.IsTerminal() {
			jobs[string(job.Status)]++
		} else {
			jobs["in_flight"]++
		}
	}

	mailStatus := "configured"
	if h.mail != nil {
		if err := h.mail(); err != nil {
			mailStatus = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "OK",
		Workspaces: h.workspaces.Stats(),
		Jobs:       jobs,
		Mail:       mailStatus,
	})
}

// Metrics handles GET /metrics
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(h.exporter.GetPrometheusMetrics()))
}
