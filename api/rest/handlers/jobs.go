package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"stem-splitter/core/models"
	"stem-splitter/core/monitoring"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// eventHistoryLimit caps events returned from the persistent log
const eventHistoryLimit = 100

// EventReader reads persisted job events
type EventReader interface {
	GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error)
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	tracker *monitoring.JobTracker
	events  EventReader
	logger  *zap.Logger
}

// NewJobHandler creates a new job handler; events may be nil
func NewJobHandler(tracker *monitoring.JobTracker, events EventReader, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		tracker: tracker,
		events:  events,
		logger:  logger,
	}
}

// JobResponse is the public view of a job
type JobResponse struct {
	ID          string     `json:"id"`
	Filename    string     `json:"filename"`
	Mode        string     `json:"mode"`
	Variant     string     `json:"variant"`
	Status      string     `json:"status"`
	FailedStage string     `json:"failed_stage,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EventResponse is one job transition
type EventResponse struct {
	At         time.Time              `json:"at"`
	FromStatus string                 `json:"from_status,omitempty"`
	ToStatus   string                 `json:"to_status"`
	Reason     string                 `json:"reason"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// GetJob handles GET /v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.tracker.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	// Recipient is deliberately not exposed.
	writeJSON(w, http.StatusOK, JobResponse{
		ID:          job.ID,
		Filename:    job.Filename,
		Mode:        string(job.Mode),
		Variant:     string(job.Variant),
		Status:      string(job.Status),
		FailedStage: string(job.FailedStage),
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	})
}

// GetJobEvents handles GET /v1/jobs/{id}/events. Jobs evicted from memory
// are looked up in the persistent event log when one is configured. Only
// well-formed job IDs reach the log.
func (h *JobHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	events, err := h.tracker.Events(jobID)
	if errors.Is(err, monitoring.ErrJobNotFound) && h.events != nil {
		if _, parseErr := uuid.Parse(jobID); parseErr != nil {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		events, err = h.events.GetJobEvents(r.Context(), jobID, eventHistoryLimit)
		if err != nil {
			h.logger.Error("failed to fetch job events", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to fetch events")
			return
		}
	}
	if err != nil || len(events) == 0 {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	items := make([]EventResponse, len(events))
	for i, event := range events {
		item := EventResponse{
			At:       event.At,
			ToStatus: string(event.ToStatus),
			Reason:   event.Reason,
			Meta:     event.MetaJSON,
		}
		if event.FromStatus != nil {
			item.FromStatus = string(*event.FromStatus)
		}
		items[i] = item
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
	})
}
