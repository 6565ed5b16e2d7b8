// Package workspace holds the process-wide workspace state: the project
// root and the active permission mode.
//
// A single *Workspace is created at startup and passed by reference to the
// dispatcher, the permission policy and the command session. Only the
// dispatcher's Initialize mutates it; every other reader takes a Snapshot.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Snapshot is an immutable copy of the workspace state.
type Snapshot struct {
	Root        string `json:"root"`
	Mode        Mode   `json:"mode"`
	Initialized bool   `json:"initialized"`
}

// Workspace is the shared, lock-protected workspace state.
type Workspace struct {
	mu          sync.RWMutex
	root        string
	mode        Mode
	initialized bool
}

// New returns an uninitialized workspace in FullAccess mode.
func New() *Workspace {
	return &Workspace{mode: Mode{Name: FullAccess}}
}

// Snapshot returns the current state under a read lock.
func (w *Workspace) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Snapshot{Root: w.root, Mode: w.mode, Initialized: w.initialized}
}

// Root returns the workspace root.
func (w *Workspace) Root() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.root
}

// Mode returns the active mode.
func (w *Workspace) Mode() Mode {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.mode
}

// Configure replaces root and mode atomically and marks the workspace
// initialized. It returns the previous snapshot.
func (w *Workspace) Configure(root string, mode Mode) (Snapshot, error) {
	abs, err := ResolveRoot(root)
	if err != nil {
		return Snapshot{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	prev := Snapshot{Root: w.root, Mode: w.mode, Initialized: w.initialized}
	w.root = abs
	w.mode = mode
	w.initialized = true
	return prev, nil
}

// SetMode replaces only the mode. It returns the previous mode.
func (w *Workspace) SetMode(mode Mode) Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.mode
	w.mode = mode
	return prev
}

// ResolveRoot makes root absolute and checks that it is a directory. An
// empty root resolves to the process working directory. A path to a file
// resolves to its parent directory.
func ResolveRoot(root string) (string, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve workspace: %w", err)
		}
		root = wd
	}
	if len(root) > 1 && root[0] == '~' && (root[1] == '/' || root[1] == filepath.Separator) {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, root[2:])
		}
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace %q: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("workspace %q: %w", abs, err)
	}
	if !info.IsDir() {
		abs = filepath.Dir(abs)
	}
	return filepath.Clean(abs), nil
}
