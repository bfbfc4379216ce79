// Package orchestrator drives a job through staging, separation, packaging
// and delivery, and guarantees the workspace is released on every path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stem-splitter/core/delivery"
	"stem-splitter/core/executor"
	"stem-splitter/core/models"
	"stem-splitter/core/monitoring"
	"stem-splitter/core/scheduler"
	"stem-splitter/core/workspace"
	"stem-splitter/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fallbackFilename replaces upload names that sanitize to nothing
const fallbackFilename = "upload"

// Separator runs the separation tool
type Separator interface {
	Invoke(ctx context.Context, req executor.SeparationRequest) (executor.SeparationResult, error)
}

// Packager archives a stem tree into a workspace
type Packager interface {
	Pack(outputRoot string, variant models.ModelVariant, model, audioPath, workspaceDir string) (*storage.Archive, error)
}

// Workspaces hands out per-job directories
type Workspaces interface {
	Acquire() (*workspace.Workspace, error)
}

// Upload is the received audio, read fully before the pipeline starts
type Upload struct {
	Filename string
	Content  []byte
}

// Outcome is the terminal result of one pipeline run
type Outcome struct {
	Job     models.Job
	Archive *storage.Archive
	Err     *models.StageError
	// NotifyErr is set when the failure notification itself failed
	NotifyErr error
}

// Succeeded reports whether the job reached delivered
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Options tune pipeline policy
type Options struct {
	DefaultVariant models.ModelVariant
	// NotifyOnDeliveryFailure sends a failure mail when the success mail
	// itself could not be delivered
	NotifyOnDeliveryFailure bool
}

// Orchestrator wires the pipeline components together
type Orchestrator struct {
	workspaces Workspaces
	separator  Separator
	packager   Packager
	tracker    *monitoring.JobTracker
	scheduler  *scheduler.Scheduler

	// email is nil when mail delivery is not configured
	email    delivery.Strategy
	emailErr error

	opts   Options
	logger *zap.Logger
}

// New creates an orchestrator. email may be nil, in which case emailErr
// explains why asynchronous submissions are refused.
func New(
	workspaces Workspaces,
	separator Separator,
	packager Packager,
	tracker *monitoring.JobTracker,
	sched *scheduler.Scheduler,
	email delivery.Strategy,
	emailErr error,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if opts.DefaultVariant == "" {
		opts.DefaultVariant = models.VariantGeneral
	}
	if email == nil && emailErr == nil {
		emailErr = models.ErrMailNotConfigured
	}
	return &Orchestrator{
		workspaces: workspaces,
		separator:  separator,
		packager:   packager,
		tracker:    tracker,
		scheduler:  sched,
		email:      email,
		emailErr:   emailErr,
		opts:       opts,
		logger:     logger,
	}
}

// DefaultVariant is the variant used when a request names none
func (o *Orchestrator) DefaultVariant() models.ModelVariant {
	return o.opts.DefaultVariant
}

// MailAvailable reports whether asynchronous submissions are accepted,
// returning the configuration problem otherwise
func (o *Orchestrator) MailAvailable() error {
	if o.email != nil {
		return nil
	}
	return o.emailErr
}

// RunSync processes an upload inline and delivers the archive through strategy.
// It returns once the job is terminal and its workspace released.
func (o *Orchestrator) RunSync(ctx context.Context, upload Upload, variant models.ModelVariant, strategy *delivery.Synchronous) Outcome {
	job := o.newJob(upload, variant, models.DeliverySynchronous, "")
	o.tracker.Register(ctx, job)
	return o.Run(ctx, job, upload, strategy)
}

// Submit acknowledges an upload and queues it for background processing.
// The returned job is a snapshot taken at acknowledgement.
func (o *Orchestrator) Submit(ctx context.Context, upload Upload, variant models.ModelVariant, recipient string) (models.Job, error) {
	if err := o.MailAvailable(); err != nil {
		return models.Job{}, err
	}

	job := o.newJob(upload, variant, models.DeliveryAsynchronous, recipient)
	o.tracker.Register(ctx, job)
	snapshot, err := o.tracker.Transition(ctx, job.ID, models.JobStatusAcknowledged, "accepted_for_email_delivery")
	if err != nil {
		return models.Job{}, err
	}
	*job = snapshot

	err = o.scheduler.Enqueue(job, func(runCtx context.Context) {
		o.Run(runCtx, job, upload, o.email)
	})
	if err != nil {
		// No workspace was acquired yet; nothing to release.
		if _, ferr := o.tracker.Fail(ctx, job.ID, models.StageStaging, err); ferr != nil {
			o.logger.Warn("failed to record rejected job", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		return models.Job{}, fmt.Errorf("queue job: %w", err)
	}

	o.logger.Info("job acknowledged",
		zap.String("job_id", snapshot.ID),
		zap.String("variant", string(snapshot.Variant)),
		zap.Int("pending", o.scheduler.Pending()),
	)
	return snapshot, nil
}

// Run executes the pipeline for a registered job. The workspace is released
// after the job reaches a terminal state, including when a stage panics.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job, upload Upload, strategy delivery.Strategy) (outcome Outcome) {
	logger := o.logger.With(
		zap.String("job_id", job.ID),
		zap.String("mode", string(job.Mode)),
		zap.String("variant", string(job.Variant)),
	)
	start := time.Now()
	stage := models.StageStaging

	ws, err := o.workspaces.Acquire()
	if err != nil {
		return o.handleFailure(ctx, logger, job, stage, err, strategy)
	}
	defer ws.Release()

	defer func() {
		if r := recover(); r != nil {
			outcome = o.handleFailure(ctx, logger, job, stage, fmt.Errorf("panic: %v", r), strategy)
		}
	}()

	audioPath, err := stageUpload(ws, upload)
	if err != nil {
		return o.handleFailure(ctx, logger, job, stage, err, strategy)
	}
	if err := o.advance(ctx, job, models.JobStatusStaged, "upload_staged", func(j *models.Job) {
		j.Workspace = ws.Path()
	}); err != nil {
		return o.handleFailure(ctx, logger, job, stage, err, strategy)
	}

	stage = models.StageSeparation
	result, err := o.separator.Invoke(ctx, executor.SeparationRequest{
		AudioPath: audioPath,
		OutputDir: ws.Join("separated"),
		Variant:   job.Variant,
	})
	if err != nil {
		return o.handleFailure(ctx, logger, job, stage, err, strategy)
	}
	if err := o.advance(ctx, job, models.JobStatusSeparated, "stems_produced", nil); err != nil {
		return o.handleFailure(ctx, logger, job, stage, err, strategy)
	}

	stage = models.StagePackaging
	archive, err := o.packager.Pack(result.OutputRoot, job.Variant, result.Model, audioPath, ws.Path())
	if err != nil {
		return o.handleFailure(ctx, logger, job, stage, err, strategy)
	}
	if err := o.advance(ctx, job, models.JobStatusPackaged, "archive_built", nil); err != nil {
		return o.handleFailure(ctx, logger, job, stage, err, strategy)
	}

	stage = models.StageDelivery
	if err := strategy.Deliver(ctx, job, archive); err != nil {
		outcome = o.handleFailure(ctx, logger, job, stage, err, strategy)
		outcome.Archive = archive
		return outcome
	}
	if err := o.advance(ctx, job, models.JobStatusDelivered, "archive_delivered", nil); err != nil {
		return o.handleFailure(ctx, logger, job, stage, err, strategy)
	}

	logger.Info("job delivered",
		zap.Int("entries", len(archive.Entries)),
		zap.Int64("archive_bytes", archive.Size),
		zap.Duration("duration", time.Since(start)),
	)
	return Outcome{Job: *job, Archive: archive}
}

func (o *Orchestrator) newJob(upload Upload, variant models.ModelVariant, mode models.DeliveryMode, recipient string) *models.Job {
	if variant == "" {
		variant = o.opts.DefaultVariant
	}
	now := time.Now()
	return &models.Job{
		ID:        uuid.NewString(),
		Filename:  SanitizeFilename(upload.Filename),
		Mode:      mode,
		Recipient: recipient,
		Variant:   variant,
		Status:    models.JobStatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (o *Orchestrator) advance(ctx context.Context, job *models.Job, to models.JobStatus, reason string, mutate func(*models.Job)) error {
	var mutators []func(*models.Job)
	if mutate != nil {
		mutators = append(mutators, mutate)
	}
	snapshot, err := o.tracker.Transition(ctx, job.ID, to, reason, mutators...)
	if err != nil {
		return err
	}
	*job = snapshot
	return nil
}

// handleFailure moves the job to failed and, for email delivery, tells the
// recipient. A failing notification is logged and never propagated.
func (o *Orchestrator) handleFailure(
	ctx context.Context,
	logger *zap.Logger,
	job *models.Job,
	stage models.Stage,
	cause error,
	strategy delivery.Strategy,
) Outcome {
	stageErr := models.NewStageError(stage, cause)

	snapshot, err := o.tracker.Fail(ctx, job.ID, stage, cause)
	if err != nil {
		logger.Warn("failed to record job failure", zap.Error(err))
	} else {
		*job = snapshot
	}

	logger.Error("job failed",
		zap.String("stage", string(stage)),
		zap.Error(cause),
	)

	outcome := Outcome{Job: *job, Err: stageErr}
	if strategy == nil || strategy.Mode() != models.DeliveryAsynchronous {
		return outcome
	}
	if stage == models.StageDelivery && !o.opts.NotifyOnDeliveryFailure {
		return outcome
	}

	outcome.NotifyErr = bestEffort(logger, "failure notification", func() error {
		return strategy.ReportFailure(ctx, job, stageErr)
	})
	return outcome
}

// bestEffort runs fn, converting an error or panic into a logged
// ErrNotificationFailed instead of propagating it
func bestEffort(logger *zap.Logger, action string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", models.ErrNotificationFailed, r)
		}
		if err != nil {
			logger.Error(action+" failed", zap.Error(err))
		}
	}()

	if ferr := fn(); ferr != nil {
		return fmt.Errorf("%w: %w", models.ErrNotificationFailed, ferr)
	}
	return nil
}

// stageUpload writes the upload into the workspace and returns its path
func stageUpload(ws *workspace.Workspace, upload Upload) (string, error) {
	if len(upload.Content) == 0 {
		return "", errors.New("upload is empty")
	}
	dir := ws.Join("input")
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", fmt.Errorf("create input directory: %w", err)
	}
	path := filepath.Join(dir, SanitizeFilename(upload.Filename))
	if err := os.WriteFile(path, upload.Content, 0o600); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}

// SanitizeFilename strips any directory components from a client-supplied name
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	switch name {
	case "", ".", "..", "/":
		return fallbackFilename
	}
	return name
}
