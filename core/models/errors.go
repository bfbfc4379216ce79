package models

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by every pipeline stage
var (
	ErrStagingFailed      = errors.New("staging failed")
	ErrSeparationFailed   = errors.New("separation failed")
	ErrPackagingFailed    = errors.New("packaging failed")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrNotificationFailed = errors.New("failure notification failed")
	ErrMailNotConfigured  = errors.New("mail delivery is not configured")
)

var stageSentinels = map[Stage]error{
	StageStaging:    ErrStagingFailed,
	StageSeparation: ErrSeparationFailed,
	StagePackaging:  ErrPackagingFailed,
	StageDelivery:   ErrDeliveryFailed,
}

// StageError attaches the failing stage to the underlying cause
type StageError struct {
	Stage Stage
	Err   error
}

// NewStageError wraps err for the given stage; nil stays nil
func NewStageError(stage Stage, err error) *StageError {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap exposes both the cause and the stage sentinel to errors.Is
func (e *StageError) Unwrap() []error {
	errs := []error{e.Err}
	if sentinel, ok := stageSentinels[e.Stage]; ok {
		errs = append(errs, sentinel)
	}
	return errs
}
