package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stem-splitter/core/models"

	"go.uber.org/zap"
)

// ErrJobNotFound is returned for unknown job IDs
var ErrJobNotFound = errors.New("job not found")

// DefaultRetention is how many jobs are kept in memory
const DefaultRetention = 1000

// EventSink receives every recorded transition, e.g. for an audit log
type EventSink interface {
	RecordEvent(ctx context.Context, event models.JobEvent) error
}

// JobTracker keeps the in-memory state and transition history of jobs
type JobTracker struct {
	mu        sync.RWMutex
	jobs      map[string]*models.Job
	events    map[string][]models.JobEvent
	order     []string
	retention int
	nextID    int64

	sink   EventSink
	logger *zap.Logger
}

// NewJobTracker creates a tracker; sink may be nil
func NewJobTracker(sink EventSink, retention int, logger *zap.Logger) *JobTracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &JobTracker{
		jobs:      make(map[string]*models.Job),
		events:    make(map[string][]models.JobEvent),
		retention: retention,
		sink:      sink,
		logger:    logger,
	}
}

// Register starts tracking a job in its current (initial) state
func (t *JobTracker) Register(ctx context.Context, job *models.Job) {
	t.mu.Lock()
	stored := *job
	t.jobs[job.ID] = &stored
	t.order = append(t.order, job.ID)
	event := t.appendEventLocked(job.ID, nil, job.Status, "job_created", map[string]interface{}{
		"mode":     string(job.Mode),
		"variant":  string(job.Variant),
		"filename": job.Filename,
	})
	t.evictLocked()
	t.mu.Unlock()

	t.forward(ctx, event)
}

// Transition moves a job to a new status and returns the updated snapshot.
// Optional mutators run under the tracker lock before the snapshot is taken.
func (t *JobTracker) Transition(
	ctx context.Context,
	jobID string,
	to models.JobStatus,
	reason string,
	mutators ...func(job *models.Job),
) (models.Job, error) {
	return t.apply(ctx, jobID, to, reason, nil, func(job *models.Job) {
		for _, m := range mutators {
			m(job)
		}
	})
}

// Fail moves a job to failed, recording the stage and cause
func (t *JobTracker) Fail(ctx context.Context, jobID string, stage models.Stage, cause error) (models.Job, error) {
	meta := map[string]interface{}{"stage": string(stage)}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	return t.apply(ctx, jobID, models.JobStatusFailed, string(stage)+"_failed", meta, func(job *models.Job) {
		job.FailedStage = stage
		if cause != nil {
			job.Error = cause.Error()
		}
	})
}

func (t *JobTracker) apply(
	ctx context.Context,
	jobID string,
	to models.JobStatus,
	reason string,
	meta map[string]interface{},
	mutate func(job *models.Job),
) (models.Job, error) {
	t.mu.Lock()
	job, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	from := job.Status
	if !models.IsValidTransition(from, to) {
		t.mu.Unlock()
		return *job, fmt.Errorf("invalid transition for job %s: %s -> %s", jobID, from, to)
	}

	now := time.Now()
	job.Status = to
	job.UpdatedAt = now
	if job.StartedAt == nil && to == models.JobStatusStaged {
		job.StartedAt = &now
	}
	if to.IsTerminal() {
		job.CompletedAt = &now
	}
	mutate(job)

	event := t.appendEventLocked(jobID, &from, to, reason, meta)
	snapshot := *job
	t.mu.Unlock()

	t.forward(ctx, event)
	return snapshot, nil
}

// Get returns a snapshot of a job
func (t *JobTracker) Get(jobID string) (models.Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return *job, nil
}

// Events returns a job's transitions, oldest first
func (t *JobTracker) Events(jobID string) ([]models.JobEvent, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	events, ok := t.events[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	out := make([]models.JobEvent, len(events))
	copy(out, events)
	return out, nil
}

// Snapshot returns copies of all tracked jobs, oldest first
func (t *JobTracker) Snapshot() []models.Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	jobs := make([]models.Job, 0, len(t.order))
	for _, id := range t.order {
		if job, ok := t.jobs[id]; ok {
			jobs = append(jobs, *job)
		}
	}
	return jobs
}

func (t *JobTracker) appendEventLocked(
	jobID string,
	from *models.JobStatus,
	to models.JobStatus,
	reason string,
	meta map[string]interface{},
) models.JobEvent {
	t.nextID++
	event := models.JobEvent{
		ID:         t.nextID,
		JobID:      jobID,
		At:         time.Now(),
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		MetaJSON:   meta,
	}
	t.events[jobID] = append(t.events[jobID], event)
	return event
}

// evictLocked drops the oldest finished jobs beyond the retention limit.
// Jobs still in flight are never evicted.
func (t *JobTracker) evictLocked() {
	excess := len(t.order) - t.retention
	if excess <= 0 {
		return
	}

	kept := t.order[:0]
	for _, id := range t.order {
		job := t.jobs[id]
		if excess > 0 && job != nil && job.Status.IsTerminal() {
			delete(t.jobs, id)
			delete(t.events, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}

func (t *JobTracker) forward(ctx context.Context, event models.JobEvent) {
	if t.sink == nil {
		return
	}
	if err := t.sink.RecordEvent(ctx, event); err != nil {
		t.logger.Warn("failed to record job event",
			zap.String("job_id", event.JobID),
			zap.String("to_status", string(event.ToStatus)),
			zap.Error(err),
		)
	}
}
