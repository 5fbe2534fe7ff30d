package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tinybackspace/backspace/internal/generator"
)

// applyChangeSet writes the edits into the workspace. All checks run before
// any byte is written, so a rejected change set leaves the clone untouched.
func applyChangeSet(root string, cs generator.ChangeSet) error {
	if err := cs.Validate(); err != nil {
		return fmt.Errorf("rejecting change set: %w", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving workspace root: %w", err)
	}

	targets := make([]string, len(cs))
	for i, edit := range cs {
		full := filepath.Join(absRoot, filepath.FromSlash(edit.Path))
		if !strings.HasPrefix(full, absRoot+string(filepath.Separator)) {
			return fmt.Errorf("edit %s resolves outside the workspace", edit.Path)
		}
		targets[i] = full
	}

	for i, edit := range cs {
		if err := os.MkdirAll(filepath.Dir(targets[i]), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", edit.Path, err)
		}
		if err := os.WriteFile(targets[i], []byte(edit.Content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", edit.Path, err)
		}
	}
	return nil
}
