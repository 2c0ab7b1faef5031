package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is an isolated scratch directory for one sandboxed run. Callers
// must defer Cleanup immediately after creation so the directory is removed
// on every exit path, including timeouts and panics.
type Workspace struct {
	Root string
}

// NewWorkspace creates a fresh sandbox directory.
func NewWorkspace(prefix string) (*Workspace, error) {
	root, err := os.MkdirTemp("", prefix)
	if err != nil {
		return nil, fmt.Errorf("sandbox: create workspace: %w", err)
	}

	return &Workspace{Root: root}, nil
}

// WriteFile places a file inside the workspace and returns its full path.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	path := filepath.Join(w.Root, name)

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("sandbox: write %s: %w", name, err)
	}

	return path, nil
}

// Cleanup removes the workspace and everything in it.
func (w *Workspace) Cleanup() {
	if w.Root != "" {
		_ = os.RemoveAll(w.Root)
	}
}
