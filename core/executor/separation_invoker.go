package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stem-splitter/core/models"

	"go.uber.org/zap"
)

// maxDiagnosticBytes caps how much tool output is kept on the error
const maxDiagnosticBytes = 8 << 10

// SeparationRequest is consumed once by Invoke
type SeparationRequest struct {
	AudioPath string
	OutputDir string
	Variant   models.ModelVariant
}

// SeparationResult points at the root of the produced stem tree
type SeparationResult struct {
	OutputRoot  string
	Model       string
	Diagnostics string
	Duration    time.Duration
}

// SeparationError is returned when the tool exits unsuccessfully
type SeparationError struct {
	Model       string
	ExitCode    int
	Diagnostics string
	Err         error
}

func (e *SeparationError) Error() string {
	msg := fmt.Sprintf("separator exited with status %d (model %s)", e.ExitCode, e.Model)
	if d := lastLine(e.Diagnostics); d != "" {
		msg += ": " + d
	}
	return msg
}

// Unwrap lets callers match models.ErrSeparationFailed
func (e *SeparationError) Unwrap() []error {
	if e.Err == nil {
		return []error{models.ErrSeparationFailed}
	}
	return []error{models.ErrSeparationFailed, e.Err}
}

// SeparationInvoker wraps the external demucs command
type SeparationInvoker struct {
	binary        string
	variantModels map[models.ModelVariant]string
	runner        CommandRunner
	logger        *zap.Logger
}

// NewSeparationInvoker creates an invoker; variantModels maps each variant to a model name
func NewSeparationInvoker(
	binary string,
	variantModels map[models.ModelVariant]string,
	runner CommandRunner,
	logger *zap.Logger,
) *SeparationInvoker {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &SeparationInvoker{
		binary:        binary,
		variantModels: variantModels,
		runner:        runner,
		logger:        logger,
	}
}

// ModelFor returns the model name used for a variant
func (s *SeparationInvoker) ModelFor(variant models.ModelVariant) (string, error) {
	model, ok := s.variantModels[variant]
	if !ok || model == "" {
		return "", fmt.Errorf("no model configured for variant %q", variant)
	}
	return model, nil
}

// Invoke runs the separator to completion. It blocks for as long as the tool runs.
func (s *SeparationInvoker) Invoke(ctx context.Context, req SeparationRequest) (SeparationResult, error) {
	model, err := s.ModelFor(req.Variant)
	if err != nil {
		return SeparationResult{}, &SeparationError{ExitCode: -1, Err: err}
	}

	args := BuildArgs(model, req.OutputDir, req.AudioPath)
	s.logger.Info("starting separation",
		zap.String("binary", s.binary),
		zap.String("model", model),
		zap.String("input", req.AudioPath),
	)

	start := time.Now()
	output, exitCode, runErr := s.runner.Run(ctx, s.binary, args...)
	duration := time.Since(start)

	if runErr != nil {
		return SeparationResult{}, &SeparationError{
			Model:       model,
			ExitCode:    exitCode,
			Diagnostics: truncate(string(output), maxDiagnosticBytes),
			Err:         runErr,
		}
	}

	s.logger.Info("separation finished",
		zap.String("model", model),
		zap.Duration("duration", duration),
	)
	return SeparationResult{
		OutputRoot:  req.OutputDir,
		Model:       model,
		Diagnostics: truncate(string(output), maxDiagnosticBytes),
		Duration:    duration,
	}, nil
}

// BuildArgs returns the demucs command line for one input file
func BuildArgs(model, outputDir, audioPath string) []string {
	return []string{
		"-n", model,
		"-o", outputDir,
		audioPath,
	}
}

// truncate keeps the tail of s, where tools usually print the actual error
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
