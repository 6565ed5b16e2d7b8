package fileedit

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff summarizes a change to one file.
type Diff struct {
	Text      string `json:"diff,omitempty"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// buildDiff computes a line diff of before and after. The patch text is
// prefixed with file headers naming path relative to baseDir.
func buildDiff(path, before, after, baseDir string) Diff {
	if before == after {
		return Diff{}
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var d Diff
	for _, op := range diffs {
		switch op.Type {
		case diffmatchpatch.DiffInsert:
			d.Additions += countLines(op.Text)
		case diffmatchpatch.DiffDelete:
			d.Deletions += countLines(op.Text)
		}
	}

	patch := dmp.PatchToText(dmp.PatchMake(before, diffs))
	if patch == "" {
		return d
	}

	rel := relativePath(path, baseDir)
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", rel, rel)
	sb.WriteString(patch)
	d.Text = sb.String()
	return d
}

func relativePath(path, baseDir string) string {
	if baseDir == "" {
		return path
	}
	if rel, err := filepath.Rel(baseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
