package executor

import (
	"context"
	"errors"
	"os/exec"
)

// CommandRunner runs external processes. Implementations return the combined
// stdout/stderr output and the exit code, even on failure.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (output []byte, exitCode int, err error)
}

// ExecRunner implements CommandRunner using os/exec
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes one command to completion
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, exitErr.ExitCode(), err
		}
		return output, -1, err
	}
	return output, 0, nil
}

var _ CommandRunner = (*ExecRunner)(nil)
