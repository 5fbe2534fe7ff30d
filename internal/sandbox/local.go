package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// workspacePrefix is the directory name prefix for all workspaces. The
// stale sweeper only touches directories carrying this prefix.
const workspacePrefix = "backspace-"

// LocalManager provisions workspaces as temporary directories on the host.
// Commands execute directly with no resource limits beyond the caller's
// context deadline.
type LocalManager struct {
	root   string
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*Workspace
}

// NewLocalManager creates a local workspace manager rooted at root. The root
// directory is created if it does not exist.
func NewLocalManager(root string, logger *slog.Logger) (*LocalManager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "backspace")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating sandbox root: %w", err)
	}
	return &LocalManager{
		root:   root,
		logger: logger,
		active: make(map[string]*Workspace),
	}, nil
}

// Name returns "local".
func (m *LocalManager) Name() string { return "local" }

// Acquire creates a unique workspace directory under the manager's root.
func (m *LocalManager) Acquire(ctx context.Context) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(m.root, workspacePrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: creating workspace directory: %v", ErrUnavailable, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: resolving workspace path: %v", ErrUnavailable, err)
	}

	ws := &Workspace{
		ID:       uuid.New().String(),
		Path:     abs,
		Provider: m.Name(),
		Created:  time.Now(),
	}

	m.mu.Lock()
	m.active[ws.ID] = ws
	m.mu.Unlock()

	m.logger.Debug("workspace acquired", "id", ws.ID, "path", ws.Path)
	return ws, nil
}

// Release removes the workspace directory. Calling it again for the same
// workspace is a no-op. Removal failures are logged and swallowed.
func (m *LocalManager) Release(ctx context.Context, ws *Workspace) {
	if ws == nil {
		return
	}

	m.mu.Lock()
	_, live := m.active[ws.ID]
	delete(m.active, ws.ID)
	m.mu.Unlock()
	if !live {
		return
	}

	if err := os.RemoveAll(ws.Path); err != nil {
		m.logger.Warn("failed to remove workspace", "id", ws.ID, "path", ws.Path, "error", err)
		return
	}
	m.logger.Debug("workspace released", "id", ws.ID, "path", ws.Path)
}

// Exec runs the command directly on the host with dir as working directory.
func (m *LocalManager) Exec(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Limits returns zero limits: the local provider does not constrain
// resource usage.
func (m *LocalManager) Limits() Limits { return Limits{} }

// Active returns the number of live workspaces. Used by health reporting.
func (m *LocalManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CleanupStale removes workspace directories under the root that are older
// than the cutoff and are not tracked as active. Runs that crashed without
// releasing leave such directories behind.
func (m *LocalManager) CleanupStale(ctx context.Context, olderThan time.Duration) error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading sandbox root: %w", err)
	}

	m.mu.Lock()
	activePaths := make(map[string]bool, len(m.active))
	for _, ws := range m.active {
		activePaths[ws.Path] = true
	}
	m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var lastErr error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.IsDir() || !hasWorkspacePrefix(entry.Name()) {
			continue
		}
		path := filepath.Join(m.root, entry.Name())
		if activePaths[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			m.logger.Warn("failed to stat stale workspace candidate", "path", path, "error", err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		m.logger.Info("removing stale workspace", "path", path, "modified", info.ModTime())
		if err := os.RemoveAll(path); err != nil {
			lastErr = fmt.Errorf("removing stale workspace %s: %w", path, err)
			m.logger.Warn("stale workspace removal failed", "path", path, "error", err)
		}
	}
	return lastErr
}

func hasWorkspacePrefix(name string) bool {
	return len(name) > len(workspacePrefix) && name[:len(workspacePrefix)] == workspacePrefix
}
