package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

// dockerProbeTimeout bounds the daemon reachability check at construction.
const dockerProbeTimeout = 5 * time.Second

// DockerManager provisions workspaces on the host and executes commands
// inside throwaway containers with the workspace bind-mounted at /workspace.
// Memory, CPU, and wall-clock limits are enforced by the container runtime.
type DockerManager struct {
	local  *LocalManager
	image  string
	limits Limits
	logger *slog.Logger
}

// NewDockerManager creates a docker-backed workspace manager. Returns
// ErrUnavailable (wrapped) if the docker CLI is missing or the daemon is
// unreachable.
func NewDockerManager(root, image string, limits Limits, logger *slog.Logger) (*DockerManager, error) {
	if image == "" {
		image = "alpine/git:latest"
	}

	dockerPath, err := exec.LookPath("docker")
	if err != nil {
		return nil, fmt.Errorf("%w: docker not found in PATH: %v", ErrUnavailable, err)
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), dockerProbeTimeout)
	defer cancel()
	if err := exec.CommandContext(probeCtx, dockerPath, "info").Run(); err != nil {
		return nil, fmt.Errorf("%w: docker daemon unreachable: %v", ErrUnavailable, err)
	}

	local, err := NewLocalManager(root, logger)
	if err != nil {
		return nil, err
	}

	return &DockerManager{
		local:  local,
		image:  image,
		limits: limits,
		logger: logger,
	}, nil
}

// Name returns "docker".
func (m *DockerManager) Name() string { return "docker" }

// Acquire provisions a host directory that containers bind-mount.
func (m *DockerManager) Acquire(ctx context.Context) (*Workspace, error) {
	ws, err := m.local.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	ws.Provider = m.Name()
	return ws, nil
}

// Release removes the workspace directory. Containers are run with --rm and
// need no cleanup of their own.
func (m *DockerManager) Release(ctx context.Context, ws *Workspace) {
	m.local.Release(ctx, ws)
}

// Exec runs the command in a fresh container with the workspace mounted
// read-write. A command that outlives the wall-clock limit or breaches the
// memory cap surfaces as ErrResourceExceeded.
func (m *DockerManager) Exec(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	if m.limits.WallClock > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.limits.WallClock)
		defer cancel()
	}

	runArgs := []string{"run", "--rm", "--network", "host",
		"-v", dir + ":/workspace", "-w", "/workspace"}
	if m.limits.MemoryMB > 0 {
		runArgs = append(runArgs, "--memory", fmt.Sprintf("%dm", m.limits.MemoryMB))
	}
	if m.limits.CPUs > 0 {
		runArgs = append(runArgs, "--cpus", strconv.FormatFloat(m.limits.CPUs, 'f', -1, 64))
	}
	runArgs = append(runArgs, "--entrypoint", name, m.image)
	runArgs = append(runArgs, args...)

	cmd := exec.CommandContext(ctx, "docker", runArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return output, fmt.Errorf("%w: command exceeded %v wall clock", ErrResourceExceeded, m.limits.WallClock)
		}
		// 137 = SIGKILL, the OOM killer's signature under --memory.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 137 {
			return output, fmt.Errorf("%w: command killed (memory cap %dMB)", ErrResourceExceeded, m.limits.MemoryMB)
		}
		return output, err
	}
	return output, nil
}

// Limits returns the configured container resource limits.
func (m *DockerManager) Limits() Limits { return m.limits }
