package executor

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"stem-splitter/core/models"

	"go.uber.org/zap/zaptest"
)

// fakeRunner records invocations and returns canned results
type fakeRunner struct {
	name     string
	args     []string
	output   string
	exitCode int
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	f.name = name
	f.args = append([]string{}, args...)
	return []byte(f.output), f.exitCode, f.err
}

var testModels = map[models.ModelVariant]string{
	models.VariantGeneral:   "htdemucs_6s",
	models.VariantFineTuned: "htdemucs_ft",
}

func TestInvokeBuildsCommandPerVariant(t *testing.T) {
	tests := []struct {
		variant   models.ModelVariant
		wantModel string
	}{
		{models.VariantGeneral, "htdemucs_6s"},
		{models.VariantFineTuned, "htdemucs_ft"},
	}

	for _, tt := range tests {
		t.Run(string(tt.variant), func(t *testing.T) {
			runner := &fakeRunner{output: "done"}
			inv := NewSeparationInvoker("demucs-custom", testModels, runner, zaptest.NewLogger(t))

			result, err := inv.Invoke(context.Background(), SeparationRequest{
				AudioPath: "/ws/song.mp3",
				OutputDir: "/ws/stems",
				Variant:   tt.variant,
			})
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			if runner.name != "demucs-custom" {
				t.Fatalf("binary = %q, want demucs-custom", runner.name)
			}
			want := []string{"-n", tt.wantModel, "-o", "/ws/stems", "/ws/song.mp3"}
			if !reflect.DeepEqual(runner.args, want) {
				t.Fatalf("args = %v, want %v", runner.args, want)
			}
			if result.OutputRoot != "/ws/stems" || result.Model != tt.wantModel {
				t.Fatalf("result = %+v", result)
			}
		})
	}
}

func TestInvokeMapsNonZeroExitToSeparationError(t *testing.T) {
	runner := &fakeRunner{
		output:   "loading model\nRuntimeError: could not decode audio",
		exitCode: 1,
		err:      errors.New("exit status 1"),
	}
	inv := NewSeparationInvoker("demucs", testModels, runner, zaptest.NewLogger(t))

	_, err := inv.Invoke(context.Background(), SeparationRequest{
		AudioPath: "/ws/song.mp3",
		OutputDir: "/ws/stems",
		Variant:   models.VariantGeneral,
	})
	if !errors.Is(err, models.ErrSeparationFailed) {
		t.Fatalf("error = %v, want ErrSeparationFailed", err)
	}
	var sepErr *SeparationError
	if !errors.As(err, &sepErr) {
		t.Fatalf("error %T is not *SeparationError", err)
	}
	if sepErr.ExitCode != 1 {
		t.Fatalf("exit code = %d, want 1", sepErr.ExitCode)
	}
	if !strings.Contains(sepErr.Diagnostics, "could not decode audio") {
		t.Fatalf("diagnostics = %q", sepErr.Diagnostics)
	}
	if !strings.HasSuffix(err.Error(), "RuntimeError: could not decode audio") {
		t.Fatalf("Error() = %q, want last diagnostic line", err.Error())
	}
}

func TestInvokeUnknownVariant(t *testing.T) {
	runner := &fakeRunner{}
	inv := NewSeparationInvoker("demucs", testModels, runner, zaptest.NewLogger(t))

	_, err := inv.Invoke(context.Background(), SeparationRequest{Variant: "karaoke"})
	if !errors.Is(err, models.ErrSeparationFailed) {
		t.Fatalf("error = %v, want ErrSeparationFailed", err)
	}
	if runner.name != "" {
		t.Fatal("runner should not be called for unknown variant")
	}
}

func TestTruncateKeepsTail(t *testing.T) {
	if got := truncate("abcdef", 3); got != "def" {
		t.Fatalf("truncate = %q, want def", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Fatalf("truncate = %q, want abc", got)
	}
}
