// Package generator produces code changes from a repository snapshot and a
// natural-language prompt. Two implementations exist: a deterministic
// rule-based engine and an LLM-backed agent. The pipeline depends only on
// the Generator interface and falls back from the LLM to the rules when the
// LLM fails.
package generator

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// EditKind distinguishes file creation from modification.
type EditKind string

const (
	// KindCreate adds a file that does not exist in the snapshot
	KindCreate EditKind = "create"
	// KindModify replaces the content of an existing file
	KindModify EditKind = "modify"
)

// FileEdit is one file change. Content is the complete new file content.
type FileEdit struct {
	Path        string   `json:"path"`
	Kind        EditKind `json:"kind"`
	Content     string   `json:"content"`
	Description string   `json:"description"`
}

// ChangeSet is an ordered sequence of edits. Order is application order;
// paths within a set are unique.
type ChangeSet []FileEdit

// Validate checks the ChangeSet invariants: unique, relative, traversal-free
// paths and known edit kinds.
func (cs ChangeSet) Validate() error {
	seen := make(map[string]bool, len(cs))
	for i, edit := range cs {
		if edit.Path == "" {
			return fmt.Errorf("edit %d: empty path", i)
		}
		clean := path.Clean(edit.Path)
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return fmt.Errorf("edit %d: path escapes workspace: %s", i, edit.Path)
		}
		if seen[clean] {
			return fmt.Errorf("edit %d: duplicate path: %s", i, edit.Path)
		}
		seen[clean] = true
		if edit.Kind != KindCreate && edit.Kind != KindModify {
			return fmt.Errorf("edit %d: unknown kind: %q", i, edit.Kind)
		}
	}
	return nil
}

// Descriptions returns the one-line summary for each edit, used for PR
// bodies and change events.
func (cs ChangeSet) Descriptions() []string {
	out := make([]string, len(cs))
	for i, edit := range cs {
		out[i] = edit.Description
	}
	return out
}

// GenerationError reports that a generator could not produce a ChangeSet.
type GenerationError struct {
	Generator string // "rule-based", "llm/anthropic", ...
	Msg       string
	Err       error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s generation failed: %s: %v", e.Generator, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s generation failed: %s", e.Generator, e.Msg)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Generator produces a ChangeSet from a snapshot and prompt. The rule-based
// implementation is pure: identical inputs yield identical output. LLM
// implementations are explicitly non-deterministic and must not be assumed
// idempotent.
type Generator interface {
	// Name identifies the generator in events and logs.
	Name() string

	// Generate produces the edits implementing the prompt.
	Generate(ctx context.Context, snap *Snapshot, prompt string) (ChangeSet, error)
}
