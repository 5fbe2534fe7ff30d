package generator

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestTakeCapturesFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py", "print('hi')\n")
	writeFile(t, root, "pkg/util.py", "def f():\n    pass\n")
	writeFile(t, root, "README.md", "# readme\n")

	snap, err := Take(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"README.md", "app.py", "pkg/util.py"}, snap.Files())
	content, ok := snap.Content("app.py")
	require.True(t, ok)
	assert.Equal(t, "print('hi')\n", content)
	assert.True(t, snap.Has("pkg/util.py"))
	assert.False(t, snap.Has("missing.py"))
}

func TestTakeSkipsDotEntries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py", "x")
	writeFile(t, root, ".git/config", "[core]\n")
	writeFile(t, root, ".env", "SECRET=1\n")

	snap, err := Take(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"app.py"}, snap.Files())
}

func TestTakeCapsLargeFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.bin", strings.Repeat("a", snapshotContentCap+1))
	writeFile(t, root, "small.txt", "ok")

	snap, err := Take(root)
	require.NoError(t, err)

	assert.True(t, snap.Has("big.bin"), "large files stay in the listing")
	_, ok := snap.Content("big.bin")
	assert.False(t, ok, "but carry no content")
	_, ok = snap.Content("small.txt")
	assert.True(t, ok)
}

func TestFilesWithExt(t *testing.T) {
	snap := NewSnapshot(map[string]string{
		"b.py":   "",
		"a.py":   "",
		"x.go":   "",
		"doc.md": "",
	})
	assert.Equal(t, []string{"a.py", "b.py"}, snap.FilesWithExt(".py"))
	assert.Equal(t, 4, snap.Len())
}
