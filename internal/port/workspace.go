package port

import "io"

// Workspace derives safe local paths for remote entities and performs
// the only filesystem writes the engine makes.
type Workspace interface {
	// Root returns the output root directory
	Root() string

	// DerivePath sanitizes each segment independently and joins them
	// under the root. Sanitization never crosses a path separator.
	DerivePath(segments ...string) string

	// Exists reports whether a derived path is already present.
	// Existence is the sole change-detection signal: a remote file
	// updated under an unchanged name is never re-fetched.
	Exists(path string) bool

	// EnsureParentDirs creates all missing ancestor directories of
	// path. Idempotent; only directory creation, never file creation.
	EnsureParentDirs(path string) error

	// Create opens a destination file for writing, truncating any
	// partial previous content
	Create(path string) (io.WriteCloser, error)

	// Remove deletes a destination file; missing files are not an error
	Remove(path string) error
}
