package fileedit

import (
	"bufio"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Range selects 1-based inclusive lines. Zero means open on that side.
type Range struct {
	Start int
	End   int
}

// IsZero reports whether the range selects the whole file.
func (r Range) IsZero() bool {
	return r.Start == 0 && r.End == 0
}

func (r Range) String() string {
	if r.IsZero() {
		return ""
	}
	var sb strings.Builder
	if r.Start > 0 {
		sb.WriteString(strconv.Itoa(r.Start))
	}
	sb.WriteByte('-')
	if r.End > 0 {
		sb.WriteString(strconv.Itoa(r.End))
	}
	return sb.String()
}

var pathRange = regexp.MustCompile(`^(.+?):(\d*)-(\d*)$`)

// ParsePathRange splits "path:10-20", "path:10-" and "path:-20" into the
// path and its line range. Paths without a range return a zero Range.
func ParsePathRange(s string) (string, Range) {
	m := pathRange.FindStringSubmatch(s)
	if m == nil {
		return s, Range{}
	}
	var r Range
	r.Start, _ = strconv.Atoi(m[2])
	r.End, _ = strconv.Atoi(m[3])
	return m[1], r
}

// RangeError reports a line range that does not fit the file.
type RangeError struct {
	Path       string
	Range      Range
	TotalLines int
}

func (e *RangeError) Error() string {
	if e.Range.Start > 0 && e.Range.End > 0 && e.Range.Start > e.Range.End {
		return fmt.Sprintf("invalid line range %s for %s: start is after end", e.Range, e.Path)
	}
	return fmt.Sprintf("line range %s is beyond the end of %s (%d lines)", e.Range, e.Path, e.TotalLines)
}

// ReadResult is a slice of a text file.
type ReadResult struct {
	Path string `json:"path"`
	// Content holds the selected lines, numbered when requested.
	Content    string `json:"content"`
	StartLine  int    `json:"startLine"`
	EndLine    int    `json:"endLine"`
	TotalLines int    `json:"totalLines"`
	// More is set when the slice stops before the end of the file.
	More bool `json:"more"`
	// Truncated is set when the slice was cut by the line or byte limit
	// rather than by the requested range.
	Truncated bool `json:"truncated"`
}

// String renders the slice with its continuation marker.
func (r *ReadResult) String() string {
	var sb strings.Builder
	sb.WriteString(r.Path)
	if r.StartLine > 0 {
		fmt.Fprintf(&sb, ":%d-%d", r.StartLine, r.EndLine)
	}
	sb.WriteString("\n```\n")
	sb.WriteString(r.Content)
	if r.Content != "" && !strings.HasSuffix(r.Content, "\n") {
		sb.WriteByte('\n')
	}
	sb.WriteString("```\n")
	switch {
	case r.More:
		fmt.Fprintf(&sb, "(File has more lines. Read %s:%d- to continue; total %d lines)\n", r.Path, r.EndLine+1, r.TotalLines)
	default:
		fmt.Fprintf(&sb, "(End of file - total %d lines)\n", r.TotalLines)
	}
	return sb.String()
}

// Read returns the selected lines of a text file. Without a range at most
// MaxReadLines lines are returned; any slice is also cut at MaxReadBytes.
func (e *Editor) Read(path string, r Range, lineNumbers bool) (*ReadResult, error) {
	if r.Start > 0 && r.End > 0 && r.Start > r.End {
		return nil, &RangeError{Path: path, Range: r}
	}

	f, err := e.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not a file", path)
	}

	hash := sha256.New()
	br := bufio.NewReader(io.TeeReader(f, hash))
	if head, _ := br.Peek(8000); isBinary(head) {
		return nil, fmt.Errorf("%s: %w", path, ErrBinaryFile)
	}

	start := max(r.Start, 1)
	end := start + e.opts.MaxReadLines - 1
	if r.End > 0 && r.End < end {
		end = r.End
	}

	res := &ReadResult{Path: path}
	var (
		sb    strings.Builder
		bytes int64
		cut   bool
	)
	for n := 1; ; n++ {
		text, err := br.ReadString('\n')
		if text == "" && errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		res.TotalLines = n

		if n < start || n > end || cut {
			continue
		}
		if bytes > 0 && bytes+int64(len(text)) > e.opts.MaxReadBytes {
			cut = true
			continue
		}
		if res.StartLine == 0 {
			res.StartLine = n
		}
		res.EndLine = n
		bytes += int64(len(text))
		if lineNumbers {
			fmt.Fprintf(&sb, "%05d| ", n)
		}
		sb.WriteString(text)
	}
	e.reads.record(path, [sha256.Size]byte(hash.Sum(nil)))

	if res.TotalLines > 0 && start > res.TotalLines {
		return nil, &RangeError{Path: path, Range: r, TotalLines: res.TotalLines}
	}

	res.Content = sb.String()
	res.More = res.EndLine < res.TotalLines
	res.Truncated = res.More && (cut || r.End == 0 || r.End > res.EndLine)
	return res, nil
}

// isBinary treats content with NUL bytes or mostly control characters as
// binary.
func isBinary(head []byte) bool {
	if len(head) == 0 {
		return false
	}
	control := 0
	for _, b := range head {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\n' && b != '\r' && b != '\t' && b != '\f' && b != '\b' && b != 0x1b {
			control++
		}
	}
	return float64(control)/float64(len(head)) > 0.3
}
