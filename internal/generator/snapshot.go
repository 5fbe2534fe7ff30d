package generator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// snapshotContentCap is the per-file size bound for captured content.
// Larger files appear in the listing but carry no content; generators only
// rewrite files they can see in full.
const snapshotContentCap = 10 * 1024

// Snapshot is a read-only view of the workspace at generation time: the
// sorted list of relative file paths, with contents captured for files
// small enough to reason about.
type Snapshot struct {
	files    []string
	contents map[string]string
}

// Take walks root and captures a snapshot. Dot-directories (.git and
// friends) and dot-files are skipped.
func Take(root string) (*Snapshot, error) {
	snap := &Snapshot{contents: make(map[string]string)}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		snap.files = append(snap.files, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() <= snapshotContentCap {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			snap.contents[rel] = string(data)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshotting %s: %w", root, err)
	}

	sort.Strings(snap.files)
	return snap, nil
}

// NewSnapshot builds a snapshot directly from path→content pairs. Test
// fixtures and the LLM prompt builder use this.
func NewSnapshot(contents map[string]string) *Snapshot {
	snap := &Snapshot{contents: make(map[string]string, len(contents))}
	for p, c := range contents {
		snap.files = append(snap.files, p)
		snap.contents[p] = c
	}
	sort.Strings(snap.files)
	return snap
}

// Files returns all relative paths in sorted order.
func (s *Snapshot) Files() []string {
	return s.files
}

// Len returns the number of files in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.files)
}

// Content returns the captured content for path, if any.
func (s *Snapshot) Content(path string) (string, bool) {
	c, ok := s.contents[path]
	return c, ok
}

// Has reports whether path exists in the snapshot.
func (s *Snapshot) Has(path string) bool {
	_, ok := s.contents[path]
	if ok {
		return true
	}
	for _, f := range s.files {
		if f == path {
			return true
		}
	}
	return false
}

// FilesWithExt returns the sorted paths carrying the given extension
// (including the dot).
func (s *Snapshot) FilesWithExt(ext string) []string {
	var out []string
	for _, f := range s.files {
		if filepath.Ext(f) == ext {
			out = append(out, f)
		}
	}
	return out
}
