package fileedit

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/afero"
)

// EditOptions controls ApplyEdits.
type EditOptions struct {
	// RequireValidSyntax rejects edits that introduce syntax problems.
	RequireValidSyntax bool
	// BaseDir shortens paths in the diff header.
	BaseDir string
}

// EditResult describes a committed edit.
type EditResult struct {
	Path   string `json:"path"`
	Blocks int    `json:"blocks"`
	// Tolerant counts blocks that needed whitespace tolerance to match.
	Tolerant int `json:"tolerant"`
	Diff
	SyntaxWarnings []SyntaxProblem `json:"syntaxWarnings,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
}

// Changed reports whether the edit modified the file.
func (r *EditResult) Changed() bool {
	return r.Additions > 0 || r.Deletions > 0
}

// ApplyEdits applies blocks in order to the file at path. Every block must
// resolve to a unique location in the content produced by the blocks before
// it; otherwise the error of the first failing block is returned and the
// file is not touched. Edits to the same path are serialized.
func (e *Editor) ApplyEdits(path string, blocks []Block, opts EditOptions) (*EditResult, error) {
	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}

	unlock := e.locks.lock(path)
	defer unlock()

	info, err := e.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s does not exist; create it with a write first: %w", path, err)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not a file", path)
	}

	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if isBinary(data[:min(len(data), 8000)]) {
		return nil, fmt.Errorf("%s: %w", path, ErrBinaryFile)
	}

	res := &EditResult{Path: path, Blocks: len(blocks)}
	if e.reads.changed(path, data) {
		res.Warnings = append(res.Warnings, "file changed on disk since it was last read; verify the result")
	}

	before := string(data)
	working := before
	for i, b := range blocks {
		loc, err := Locate(working, b.Search)
		if err != nil {
			return nil, annotate(err, path, i)
		}
		if loc.Tolerant {
			res.Tolerant++
		}
		working = loc.Apply(working, b.Replace)
	}

	added := newProblems(CheckSyntax(path, data), CheckSyntax(path, []byte(working)))
	if opts.RequireValidSyntax && len(added) > 0 {
		return nil, &SyntaxRejectedError{Path: path, Problems: added}
	}
	res.SyntaxWarnings = added

	if working != before {
		if err := writeAtomic(e.fs, path, []byte(working), info.Mode().Perm()); err != nil {
			return nil, err
		}
	}
	e.reads.recordContent(path, []byte(working))

	res.Diff = buildDiff(path, before, working, opts.BaseDir)
	return res, nil
}

// EditText parses edit blocks from text and applies them.
func (e *Editor) EditText(path, text string, opts EditOptions) (*EditResult, error) {
	blocks, err := ParseBlocks(text)
	if err != nil {
		return nil, err
	}
	return e.ApplyEdits(path, blocks, opts)
}

func annotate(err error, path string, block int) error {
	var nm *NoMatchError
	if errors.As(err, &nm) {
		nm.Path, nm.Block = path, block
		return nm
	}
	var am *AmbiguousMatchError
	if errors.As(err, &am) {
		am.Path, am.Block = path, block
		return am
	}
	return err
}
