package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Git is the Gateway implementation backed by the git CLI. All commands run
// through a Runner so the sandbox provider controls where they execute.
type Git struct {
	runner Runner
	prs    PRCreator
	retry  RetryConfig
	logger *slog.Logger
}

// Options configures a Git gateway.
type Options struct {
	// PRs creates pull requests. Required for OpenPullRequest.
	PRs PRCreator

	// Retry bounds transient-failure retries on clone and push.
	// Zero value means DefaultRetryConfig.
	Retry RetryConfig

	Logger *slog.Logger
}

// NewGit creates a git-CLI gateway executing through runner.
func NewGit(runner Runner, opts Options) *Git {
	retry := opts.Retry
	if retry.MaxRetries == 0 && retry.InitialBackoff == 0 {
		retry = DefaultRetryConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{
		runner: runner,
		prs:    opts.PRs,
		retry:  retry,
		logger: logger,
	}
}

// Clone clones repoURL into dir. Network hiccups are retried per the retry
// policy; auth and not-found failures propagate immediately.
func (g *Git) Clone(ctx context.Context, repoURL, dir string) error {
	return retryWithBackoff(ctx, g.logger, "clone", g.retry, func(ctx context.Context) error {
		out, err := g.runner.Exec(ctx, dir, "git", "clone", repoURL, ".")
		if err != nil {
			return classifyCloneError(err, string(out))
		}
		return nil
	})
}

func classifyCloneError(err error, output string) error {
	msg := strings.TrimSpace(output)
	lower := strings.ToLower(msg + " " + err.Error())
	switch {
	case containsAny(lower, "authentication failed", "could not read username",
		"invalid username or password", "401", "403"):
		return newError(KindAuthFailure, "clone", firstLine(msg), err)
	default:
		return newError(KindCloneFailed, "clone", firstLine(msg), err)
	}
}

// CreateBranch creates and checks out ref. If the name already exists
// locally or on the remote, it retries once with a disambiguating suffix.
func (g *Git) CreateBranch(ctx context.Context, dir string, ref BranchRef) (BranchRef, error) {
	if g.branchExists(ctx, dir, ref.Name) {
		disambiguated := Disambiguate(ref)
		g.logger.Info("branch name collision, disambiguating",
			"wanted", ref.Name, "using", disambiguated.Name)
		if g.branchExists(ctx, dir, disambiguated.Name) {
			return BranchRef{}, newError(KindBranchConflict, "branch",
				fmt.Sprintf("branch %s exists even after disambiguation", disambiguated.Name), nil)
		}
		ref = disambiguated
	}

	out, err := g.runner.Exec(ctx, dir, "git", "checkout", "-b", ref.Name)
	if err != nil {
		return BranchRef{}, newError(KindVCSFailure, "branch", firstLine(string(out)), err)
	}
	return ref, nil
}

// branchExists checks the local refs and, best-effort, the remote. A remote
// lookup failure is treated as "does not exist": the push will surface any
// real conflict.
func (g *Git) branchExists(ctx context.Context, dir, name string) bool {
	if _, err := g.runner.Exec(ctx, dir, "git", "rev-parse", "--verify", "--quiet", "refs/heads/"+name); err == nil {
		return true
	}
	if _, err := g.runner.Exec(ctx, dir, "git", "ls-remote", "--exit-code", "--heads", "origin", name); err == nil {
		return true
	}
	return false
}

// Commit stages all changes and commits them, returning the commit hash.
// A clean working tree yields KindNothingToCommit.
func (g *Git) Commit(ctx context.Context, dir, message string) (string, error) {
	if out, err := g.runner.Exec(ctx, dir, "git", "add", "-A"); err != nil {
		return "", newError(KindVCSFailure, "commit", firstLine(string(out)), err)
	}

	status, err := g.runner.Exec(ctx, dir, "git", "status", "--porcelain")
	if err != nil {
		return "", newError(KindVCSFailure, "commit", firstLine(string(status)), err)
	}
	if strings.TrimSpace(string(status)) == "" {
		return "", newError(KindNothingToCommit, "commit", "working tree clean", nil)
	}

	// Identity is set per-invocation: the clone has no local git config.
	out, err := g.runner.Exec(ctx, dir, "git",
		"-c", "user.name=Tiny Backspace",
		"-c", "user.email=agent@tinybackspace.dev",
		"commit", "-m", message)
	if err != nil {
		return "", newError(KindVCSFailure, "commit", firstLine(string(out)), err)
	}

	hash, err := g.runner.Exec(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", newError(KindVCSFailure, "commit", "reading commit hash", err)
	}
	return strings.TrimSpace(string(hash)), nil
}

// Push uploads ref to origin, retrying transient network failures.
func (g *Git) Push(ctx context.Context, dir string, ref BranchRef) error {
	return retryWithBackoff(ctx, g.logger, "push", g.retry, func(ctx context.Context) error {
		out, err := g.runner.Exec(ctx, dir, "git", "push", "--set-upstream", "origin", ref.Name)
		if err != nil {
			return classifyPushError(err, string(out))
		}
		return nil
	})
}

func classifyPushError(err error, output string) error {
	msg := strings.TrimSpace(output)
	lower := strings.ToLower(msg + " " + err.Error())
	switch {
	case containsAny(lower, "authentication failed", "could not read username",
		"permission denied", "401", "403"):
		return newError(KindAuthFailure, "push", firstLine(msg), err)
	case containsAny(lower, "rejected", "non-fast-forward", "fetch first"):
		return newError(KindPushRejected, "push", firstLine(msg), err)
	default:
		return newError(KindVCSFailure, "push", firstLine(msg), err)
	}
}

// OpenPullRequest opens a pull request for ref against the repository's
// default branch.
func (g *Git) OpenPullRequest(ctx context.Context, repoURL string, ref BranchRef, title, body string) (*PullRequestResult, error) {
	if g.prs == nil {
		return nil, newError(KindPRCreationFailed, "pull-request", "no pull request creator configured (missing token?)", nil)
	}

	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, newError(KindPRCreationFailed, "pull-request", "unparseable repository URL", err)
	}

	url, err := g.prs.Create(ctx, owner, repo, ref.Name, title, body)
	if err != nil {
		lower := strings.ToLower(err.Error())
		if containsAny(lower, "401", "bad credentials", "403") {
			return nil, newError(KindAuthFailure, "pull-request", "rejected credentials", err)
		}
		return nil, newError(KindPRCreationFailed, "pull-request", "creating pull request", err)
	}

	return &PullRequestResult{URL: url, Branch: ref}, nil
}

// ParseRepoURL extracts owner and repository name from an HTTPS or SSH
// remote URL.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	s := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")

	// SSH form: git@host:owner/repo
	if at := strings.Index(s, "@"); at != -1 && strings.Contains(s[at:], ":") && !strings.Contains(s, "://") {
		s = s[strings.Index(s, ":")+1:]
		parts := strings.Split(s, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("unrecognized repository URL: %s", repoURL)
		}
		return parts[0], parts[1], nil
	}

	// HTTPS form: scheme://host/owner/repo
	if idx := strings.Index(s, "://"); idx != -1 {
		s = s[idx+3:]
	}
	parts := strings.Split(s, "/")
	if len(parts) < 3 {
		return "", "", fmt.Errorf("unrecognized repository URL: %s", repoURL)
	}
	owner, repo = parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("unrecognized repository URL: %s", repoURL)
	}
	return owner, repo, nil
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i != -1 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		s = "command failed"
	}
	return s
}
