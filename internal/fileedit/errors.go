package fileedit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTargetNotEmpty is returned by WriteIfEmpty when the file already
	// has content. Existing files are changed with edit blocks.
	ErrTargetNotEmpty = errors.New("file already exists and is not empty; use edit blocks to change it")

	// ErrBinaryFile is returned when a text read hits a binary file.
	ErrBinaryFile = errors.New("file appears to be binary")

	// ErrNoBlocks is returned for edit text without any SEARCH/REPLACE block.
	ErrNoBlocks = errors.New("no SEARCH/REPLACE blocks found")
)

// BlockParseError reports malformed edit block syntax.
type BlockParseError struct {
	Line    int
	Message string
}

func (e *BlockParseError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "edit block syntax error at line %d: %s", e.Line, e.Message)
	sb.WriteString("\n\nUse this format:\n<<<<<<< SEARCH\nexisting lines\n=======\nnew lines\n>>>>>>> REPLACE")
	return sb.String()
}

// Region is a span of lines in a file, with its similarity to a search
// block when it is a closest-match candidate.
type Region struct {
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Text      string  `json:"text"`
	Score     float64 `json:"score,omitempty"`
}

// NoMatchError reports a search block that matches nowhere. Candidates are
// the closest regions of the file, best first.
type NoMatchError struct {
	Path       string
	Block      int
	Search     string
	Candidates []Region
}

func (e *NoMatchError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "search block %d not found in %s", e.Block+1, e.Path)
	if len(e.Candidates) == 0 {
		sb.WriteString("; no similar lines exist in the file")
		return sb.String()
	}
	sb.WriteString(". Closest matches:")
	for _, c := range e.Candidates {
		fmt.Fprintf(&sb, "\n\nlines %d-%d (%.0f%% similar):\n%s", c.StartLine, c.EndLine, c.Score*100, c.Text)
	}
	sb.WriteString("\n\nCopy the search lines exactly from the file and retry.")
	return sb.String()
}

// AmbiguousMatchError reports a search block that matches more than once.
type AmbiguousMatchError struct {
	Path  string
	Block int
	// Lines holds the first line of every match.
	Lines []int
}

func (e *AmbiguousMatchError) Error() string {
	lines := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		lines[i] = fmt.Sprint(l)
	}
	return fmt.Sprintf("search block %d matches %d locations in %s (lines %s); add surrounding lines to make it unique",
		e.Block+1, len(e.Lines), e.Path, strings.Join(lines, ", "))
}

// SyntaxRejectedError is returned when syntax validation is required and
// the edited content introduces new problems. Nothing is written.
type SyntaxRejectedError struct {
	Path     string
	Problems []SyntaxProblem
}

func (e *SyntaxRejectedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "edit rejected: it introduces syntax errors in %s", e.Path)
	for _, p := range e.Problems {
		sb.WriteString("\n- ")
		sb.WriteString(p.String())
	}
	return sb.String()
}
