package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestAcquireCreatesPrivateDirectory(t *testing.T) {
	m := newTestManager(t)

	ws, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	info, err := os.Stat(ws.Path())
	if err != nil {
		t.Fatalf("stat workspace: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("workspace %s is not a directory", ws.Path())
	}
	if filepath.Dir(ws.Path()) != m.Root() {
		t.Fatalf("workspace %s not under root %s", ws.Path(), m.Root())
	}
	if !strings.HasPrefix(filepath.Base(ws.Path()), dirPrefix) {
		t.Fatalf("workspace name %q missing prefix", filepath.Base(ws.Path()))
	}
}

func TestReleaseIsIdempotentAndCountedOnce(t *testing.T) {
	m := newTestManager(t)
	ws, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := os.MkdirAll(ws.Join("stems", "htdemucs_ft"), 0o755); err != nil {
		t.Fatalf("populate: %v", err)
	}
	if err := os.WriteFile(ws.Join("stems", "htdemucs_ft", "vocals.wav"), []byte("v"), 0o644); err != nil {
		t.Fatalf("populate: %v", err)
	}

	ws.Release()
	ws.Release()

	if _, err := os.Stat(ws.Path()); !os.IsNotExist(err) {
		t.Fatalf("workspace still present after release: %v", err)
	}
	if got := m.Stats(); got.Acquired != 1 || got.Released != 1 {
		t.Fatalf("stats = %+v, want 1 acquired and 1 released", got)
	}
}

func TestReleaseToleratesMissingDirectory(t *testing.T) {
	m := newTestManager(t)
	ws, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := os.RemoveAll(ws.Path()); err != nil {
		t.Fatalf("pre-remove: %v", err)
	}

	ws.Release()

	if got := m.Stats().Released; got != 1 {
		t.Fatalf("released = %d, want 1", got)
	}
}

func TestConcurrentAcquirePathsAreDistinct(t *testing.T) {
	m := newTestManager(t)
	const n = 64

	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, err := m.Acquire()
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			paths[i] = ws.Path()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, p := range paths {
		if p == "" {
			continue
		}
		if seen[p] {
			t.Fatalf("duplicate workspace path %s", p)
		}
		seen[p] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct paths, want %d", len(seen), n)
	}
}
