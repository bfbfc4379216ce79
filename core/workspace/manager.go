package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const dirPrefix = "stems_"

// maxAttempts bounds retries when a generated name already exists
const maxAttempts = 3

// Manager allocates per-job transient directories under a root
type Manager struct {
	root   string
	logger *zap.Logger

	acquired atomic.Int64
	released atomic.Int64
}

// Stats is a snapshot of workspace counters
type Stats struct {
	Acquired int64 `json:"acquired"`
	Released int64 `json:"released"`
}

// NewManager creates a workspace manager; an empty root means os.TempDir()
func NewManager(root string, logger *zap.Logger) (*Manager, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root %s: %w", root, err)
	}
	return &Manager{root: root, logger: logger}, nil
}

// Acquire creates a fresh, exclusively owned directory
func (m *Manager) Acquire() (*Workspace, error) {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		path := filepath.Join(m.root, dirPrefix+uuid.NewString())
		err := os.Mkdir(path, 0o700)
		if err == nil {
			m.acquired.Add(1)
			return &Workspace{path: path, manager: m}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("create workspace after %d attempts: %w", maxAttempts, lastErr)
}

// Stats returns acquisition and release counters
func (m *Manager) Stats() Stats {
	return Stats{
		Acquired: m.acquired.Load(),
		Released: m.released.Load(),
	}
}

// Root returns the directory workspaces are created in
func (m *Manager) Root() string {
	return m.root
}

// Workspace is one job's private directory
type Workspace struct {
	path    string
	manager *Manager
	once    sync.Once
}

// Path returns the workspace directory
func (w *Workspace) Path() string {
	return w.path
}

// Join builds a path inside the workspace
func (w *Workspace) Join(elem ...string) string {
	return filepath.Join(append([]string{w.path}, elem...)...)
}

// Release removes the workspace recursively. Only the first call has an effect;
// errors are logged, never returned.
func (w *Workspace) Release() {
	w.once.Do(func() {
		if err := os.RemoveAll(w.path); err != nil {
			w.manager.logger.Warn("workspace removal failed",
				zap.String("path", w.path),
				zap.Error(err),
			)
		}
		w.manager.released.Add(1)
	})
}
