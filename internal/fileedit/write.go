package fileedit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// WriteResult describes a file created by WriteIfEmpty.
type WriteResult struct {
	Path           string          `json:"path"`
	Bytes          int             `json:"bytes"`
	Created        bool            `json:"created"`
	SyntaxWarnings []SyntaxProblem `json:"syntaxWarnings,omitempty"`
}

// WriteIfEmpty writes content to path when the file is missing or empty,
// creating parent directories. A file with content is left untouched and
// ErrTargetNotEmpty is returned.
func (e *Editor) WriteIfEmpty(path, content string) (*WriteResult, error) {
	unlock := e.locks.lock(path)
	defer unlock()

	created := true
	mode := fs.FileMode(0o644)
	info, err := e.fs.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("%s is a directory", path)
	case err == nil && info.Size() > 0:
		return nil, fmt.Errorf("%s: %w", path, ErrTargetNotEmpty)
	case err == nil:
		created = false
		mode = info.Mode().Perm()
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if err := e.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directories: %w", err)
	}
	if err := writeAtomic(e.fs, path, []byte(content), mode); err != nil {
		return nil, err
	}
	e.reads.recordContent(path, []byte(content))

	return &WriteResult{
		Path:           path,
		Bytes:          len(content),
		Created:        created,
		SyntaxWarnings: CheckSyntax(path, []byte(content)),
	}, nil
}

// writeAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a partial file. A symlink is written
// through: the rename replaces the file it points to, not the link.
func writeAtomic(fsys afero.Fs, path string, data []byte, mode fs.FileMode) error {
	path, err := resolveLink(fsys, path)
	if err != nil {
		return err
	}
	tmp, err := afero.TempFile(fsys, filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = fsys.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fsys.Chmod(tmpName, mode); err != nil && !errors.Is(err, os.ErrPermission) {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

const maxLinkHops = 40

// resolveLink follows path while it names a symlink. Filesystems without
// link support return path unchanged.
func resolveLink(fsys afero.Fs, path string) (string, error) {
	ls, ok := fsys.(afero.Lstater)
	if !ok {
		return path, nil
	}
	lr, ok := fsys.(afero.LinkReader)
	if !ok {
		return path, nil
	}
	for range maxLinkHops {
		info, lstat, err := ls.LstatIfPossible(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return path, nil
		case err != nil:
			return "", fmt.Errorf("lstat %s: %w", path, err)
		case !lstat || info.Mode()&fs.ModeSymlink == 0:
			return path, nil
		}
		target, err := lr.ReadlinkIfPossible(path)
		if err != nil {
			return "", fmt.Errorf("readlink %s: %w", path, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		path = target
	}
	return "", fmt.Errorf("%s: too many levels of symbolic links", path)
}
