// Package testutil builds file trees for tests, in memory or on disk.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/afero"
)

// Tree maps slash-separated file paths to their contents.
type Tree map[string]string

// WriteTree writes every file of tree into fsys, creating parent
// directories. Relative paths are placed under root.
func WriteTree(t testing.TB, fsys afero.Fs, root string, tree Tree) {
	t.Helper()
	for p, content := range tree {
		full := filepath.FromSlash(p)
		if !filepath.IsAbs(full) {
			full = filepath.Join(root, full)
		}
		if err := fsys.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", full, err)
		}
		if err := afero.WriteFile(fsys, full, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", full, err)
		}
	}
}

// MemTree returns an in-memory filesystem holding tree.
func MemTree(t testing.TB, tree Tree) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	WriteTree(t, fsys, "/", tree)
	return fsys
}

// RealFSTestHelper provides a file tree on the host filesystem, rooted at a
// per-test temporary directory. Tests using it are skipped on Windows, where
// archive paths and file URLs differ.
type RealFSTestHelper struct {
	t       testing.TB
	tempDir string
	fs      afero.Fs
}

// NewRealFSTestHelper creates a new real filesystem test helper.
func NewRealFSTestHelper(t testing.TB) *RealFSTestHelper {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("host filesystem tests run on Unix only")
	}
	return &RealFSTestHelper{
		t:       t,
		tempDir: t.TempDir(),
		fs:      afero.NewOsFs(),
	}
}

// FileSystem returns the host filesystem.
func (h *RealFSTestHelper) FileSystem() afero.Fs {
	return h.fs
}

// TempDir returns the temporary directory path.
func (h *RealFSTestHelper) TempDir() string {
	return h.tempDir
}

// Path returns the absolute path of a slash-separated relative path.
func (h *RealFSTestHelper) Path(rel string) string {
	return filepath.Join(h.tempDir, filepath.FromSlash(rel))
}

// Write writes tree under the temporary directory.
func (h *RealFSTestHelper) Write(tree Tree) {
	h.t.Helper()
	WriteTree(h.t, h.fs, h.tempDir, tree)
}

// Remove deletes a file or directory tree below the temporary directory.
func (h *RealFSTestHelper) Remove(rel string) {
	h.t.Helper()
	if err := os.RemoveAll(h.Path(rel)); err != nil {
		h.t.Fatalf("Failed to remove %s: %v", rel, err)
	}
}
