package models

import (
	"fmt"
	"time"
)

// Job represents one separation request from upload to terminal state
type Job struct {
	ID          string
	Filename    string // Original upload name, sanitized
	Workspace   string // Owned exclusively by this job until release
	Mode        DeliveryMode
	Recipient   string // Only set for asynchronous delivery
	Variant     ModelVariant
	Status      JobStatus
	FailedStage Stage
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// DeliveryMode selects how the archive reaches the requester
type DeliveryMode string

const (
	DeliverySynchronous  DeliveryMode = "synchronous"
	DeliveryAsynchronous DeliveryMode = "asynchronous"
)

// ModelVariant is a named separation model configuration
type ModelVariant string

const (
	// VariantGeneral is the faster general-purpose six-stem model
	VariantGeneral ModelVariant = "general"
	// VariantFineTuned is the slower, higher-quality fine-tuned model
	VariantFineTuned ModelVariant = "fine_tuned"
)

// ParseModelVariant maps a form value to a variant; empty selects fallback
func ParseModelVariant(value string, fallback ModelVariant) (ModelVariant, error) {
	switch ModelVariant(value) {
	case "":
		return fallback, nil
	case VariantGeneral, VariantFineTuned:
		return ModelVariant(value), nil
	default:
		return "", fmt.Errorf("unknown model variant %q", value)
	}
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusReceived     JobStatus = "received"
	JobStatusAcknowledged JobStatus = "acknowledged"
	JobStatusStaged       JobStatus = "staged"
	JobStatusSeparated    JobStatus = "separated"
	JobStatusPackaged     JobStatus = "packaged"
	JobStatusDelivered    JobStatus = "delivered"
	JobStatusFailed       JobStatus = "failed"
)

// Stage names the pipeline step a failure happened in
type Stage string

const (
	StageStaging    Stage = "staging"
	StageSeparation Stage = "separation"
	StagePackaging  Stage = "packaging"
	StageDelivery   Stage = "delivery"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDelivered || s == JobStatusFailed
}

// IsValidTransition enforces the job state machine edges
func IsValidTransition(from, to JobStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == JobStatusFailed {
		return true
	}

	switch from {
	case JobStatusReceived:
		return to == JobStatusAcknowledged || to == JobStatusStaged
	case JobStatusAcknowledged:
		return to == JobStatusStaged
	case JobStatusStaged:
		return to == JobStatusSeparated
	case JobStatusSeparated:
		return to == JobStatusPackaged
	case JobStatusPackaged:
		return to == JobStatusDelivered
	default:
		return false
	}
}
