// Package vcs wraps version control operations as capability calls with
// typed failures. The pipeline orchestrator depends only on the Gateway
// interface; the concrete implementation shells out to git and talks to the
// GitHub API for pull requests.
package vcs

import "context"

// BranchRef names a branch derived deterministically from the prompt.
type BranchRef struct {
	Name string
}

// PullRequestResult is the terminal artifact of a successful run.
type PullRequestResult struct {
	URL    string
	Branch BranchRef
}

// Runner executes an external command with the given working directory and
// returns its combined output. Sandbox providers satisfy this so git runs
// inside whatever isolation the provider enforces.
type Runner interface {
	Exec(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// Gateway exposes the version control operations the pipeline needs. Every
// failure is an *Error carrying a FailureKind.
type Gateway interface {
	// Clone clones the repository into dir. Transient network failures are
	// retried a bounded number of times with backoff.
	Clone(ctx context.Context, repoURL, dir string) error

	// CreateBranch creates and checks out ref in dir. On a name collision
	// it retries once with a disambiguating suffix and returns the ref
	// actually created.
	CreateBranch(ctx context.Context, dir string, ref BranchRef) (BranchRef, error)

	// Commit stages everything and commits. Returns the commit hash, or
	// an Error of kind KindNothingToCommit when the working tree is clean;
	// callers treat that outcome as success-with-no-changes, not a failure.
	Commit(ctx context.Context, dir, message string) (string, error)

	// Push uploads ref to origin. Transient network failures are retried;
	// rejections and auth failures are not.
	Push(ctx context.Context, dir string, ref BranchRef) error

	// OpenPullRequest opens a PR for ref against the repository's default
	// branch and returns its URL.
	OpenPullRequest(ctx context.Context, repoURL string, ref BranchRef, title, body string) (*PullRequestResult, error)
}
