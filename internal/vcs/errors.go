package vcs

import (
	"errors"
	"fmt"
)

// FailureKind classifies a gateway failure. Kinds surface verbatim in the
// terminal error event of a failed run.
type FailureKind string

const (
	// KindCloneFailed covers network, auth-agnostic, and not-found clone failures
	KindCloneFailed FailureKind = "clone_failed"
	// KindBranchConflict means the branch name existed even after disambiguation
	KindBranchConflict FailureKind = "branch_conflict"
	// KindNothingToCommit is the non-fatal clean-working-tree outcome
	KindNothingToCommit FailureKind = "nothing_to_commit"
	// KindPushRejected means the remote refused the push (non-fast-forward, hooks)
	KindPushRejected FailureKind = "push_rejected"
	// KindAuthFailure means the remote rejected our credentials; never retried
	KindAuthFailure FailureKind = "auth_failure"
	// KindPRCreationFailed means the pull request API call failed
	KindPRCreationFailed FailureKind = "pr_creation_failed"
	// KindVCSFailure is the catch-all for unexpected version control errors
	KindVCSFailure FailureKind = "vcs_failure"
)

// Error is a typed gateway failure.
type Error struct {
	Kind FailureKind
	Op   string // operation that failed: "clone", "push", ...
	Msg  string // human-readable description
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds a typed failure.
func newError(kind FailureKind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf extracts the FailureKind from err, defaulting to KindVCSFailure
// for untyped errors.
func KindOf(err error) FailureKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindVCSFailure
}

// IsNothingToCommit reports whether err is the clean-working-tree outcome.
func IsNothingToCommit(err error) bool {
	return KindOf(err) == KindNothingToCommit
}
