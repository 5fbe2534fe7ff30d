// Package sandbox manages isolated workspaces for pipeline runs.
//
// A workspace is an exclusively-owned temporary directory that holds one
// repository clone for one run. Providers differ in how commands execute
// inside the workspace: the local provider runs them directly, the docker
// provider runs them in a resource-limited container with the workspace
// bind-mounted.
package sandbox

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned when a workspace cannot be provisioned
	// (provider misconfigured, daemon unreachable, disk full).
	ErrUnavailable = errors.New("sandbox unavailable")

	// ErrResourceExceeded is returned when a command in the workspace
	// exceeds a provider resource limit (memory, CPU, wall clock).
	ErrResourceExceeded = errors.New("sandbox resource limit exceeded")
)

// Workspace is one run's isolated working directory. It is created by
// Manager.Acquire and destroyed exactly once by Manager.Release.
type Workspace struct {
	// ID is a unique identifier for this workspace
	ID string

	// Path is the absolute path to the workspace directory
	Path string

	// Provider is the name of the provider that created this workspace
	Provider string

	// Created is when this workspace was provisioned
	Created time.Time
}

// Limits bounds resource usage for commands executed in a workspace.
// Zero values mean unlimited.
type Limits struct {
	// MemoryMB caps container memory, in megabytes
	MemoryMB int

	// CPUs caps container CPU allocation
	CPUs float64

	// WallClock caps the duration of a single command
	WallClock time.Duration
}

// Manager provisions and destroys workspaces. Implementations must be safe
// for concurrent use: each pipeline run acquires its own workspace and the
// directories never collide.
type Manager interface {
	// Name returns the provider name ("local", "docker").
	Name() string

	// Acquire provisions a fresh workspace. Returns ErrUnavailable
	// (possibly wrapped) if the provider cannot serve one.
	Acquire(ctx context.Context) (*Workspace, error)

	// Release destroys the workspace. Idempotent and best-effort: cleanup
	// failures are logged and swallowed so they never mask the error that
	// ended the run.
	Release(ctx context.Context, ws *Workspace)

	// Exec runs a command with the workspace as its working directory,
	// subject to the provider's resource limits. Returns combined output.
	Exec(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

	// Limits returns the resource limits this provider enforces.
	Limits() Limits
}
