package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/mirrorware/canvas-mirror/internal/port"
)

// Manager derives safe local paths under an output root and performs
// the writes the download engine needs. All filesystem access goes
// through an afero.Fs so tests can run against an in-memory tree.
type Manager struct {
	fs   afero.Fs
	root string
}

// Ensure Manager implements port.Workspace
var _ port.Workspace = (*Manager)(nil)

// NewManager creates a workspace rooted at rootDir on the host
// filesystem.
func NewManager(rootDir string) (*Manager, error) {
	return NewManagerWithFs(afero.NewOsFs(), rootDir)
}

// NewManagerWithFs creates a workspace over an explicit filesystem.
func NewManagerWithFs(fs afero.Fs, rootDir string) (*Manager, error) {
	if err := fs.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output root: %w", err)
	}
	return &Manager{fs: fs, root: rootDir}, nil
}

// Root returns the output root directory
func (m *Manager) Root() string {
	return m.root
}

// DerivePath sanitizes each segment independently and joins them under
// the root.
func (m *Manager) DerivePath(segments ...string) string {
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, m.root)
	for _, s := range segments {
		parts = append(parts, sanitizeSegment(s))
	}
	return filepath.Join(parts...)
}

// Exists reports whether path is already present. Presence is the only
// change-detection signal; content is never compared.
func (m *Manager) Exists(path string) bool {
	_, err := m.fs.Stat(path)
	return err == nil
}

// EnsureParentDirs creates all missing ancestor directories of path.
func (m *Manager) EnsureParentDirs(path string) error {
	if err := m.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create parent dirs: %w", err)
	}
	return nil
}

// Create opens a destination file for writing, truncating previous
// content.
func (m *Manager) Create(path string) (io.WriteCloser, error) {
	f, err := m.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return f, nil
}

// Remove deletes a destination file; a missing file is not an error.
func (m *Manager) Remove(path string) error {
	if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}
