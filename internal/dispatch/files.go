package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/rokytory/winx-code-agent/internal/event"
	"github.com/rokytory/winx-code-agent/internal/fileedit"
	"github.com/rokytory/winx-code-agent/internal/permission"
	"github.com/rokytory/winx-code-agent/internal/taskctx"
)

// ReadFilesRequest is the input of ReadFiles. Paths may carry a line range
// suffix such as "main.go:10-20".
type ReadFilesRequest struct {
	Paths           []string `json:"file_paths"`
	ShowLineNumbers bool     `json:"show_line_numbers,omitempty"`
}

// ReadFiles returns the content of each path. A failing path is reported
// inline and does not stop the others; the call fails only when every path
// fails.
func (d *Dispatcher) ReadFiles(ctx context.Context, req ReadFilesRequest) (*Response, error) {
	snap, err := d.requireInit()
	if err != nil {
		return nil, err
	}
	if len(req.Paths) == 0 {
		return nil, invalidInput("file_paths is empty")
	}

	var (
		sb       strings.Builder
		results  []*fileedit.ReadResult
		firstErr error
	)
	for _, raw := range req.Paths {
		res, err := d.readOne(snap.Root, raw, req.ShowLineNumbers)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			fmt.Fprintf(&sb, "%s\nError: %v\n\n", raw, err)
			continue
		}
		results = append(results, res)
		sb.WriteString(res.String())
		sb.WriteString("\n")
	}
	if len(results) == 0 {
		return nil, firstErr
	}

	warnings := d.loopWarning("read_files", req)
	return &Response{Text: sb.String(), Warnings: warnings, Data: results}, nil
}

func (d *Dispatcher) readOne(root, raw string, lineNumbers bool) (*fileedit.ReadResult, error) {
	p, rng := fileedit.ParsePathRange(raw)
	path := resolvePath(root, p)
	if err := d.authorize(permission.Read(path)); err != nil {
		return nil, err
	}
	return d.editor.Read(path, rng, lineNumbers)
}

// readFiles renders files for Initialize, turning failures into warnings.
func (d *Dispatcher) readFiles(root string, paths []string, lineNumbers bool) (string, []string) {
	var (
		sb       strings.Builder
		warnings []string
	)
	for _, raw := range paths {
		res, err := d.readOne(root, raw, lineNumbers)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("could not read %s: %v", raw, err))
			continue
		}
		sb.WriteString(res.String())
		sb.WriteString("\n")
	}
	return sb.String(), warnings
}

// WriteRequest is the input of WriteIfEmpty.
type WriteRequest struct {
	Path    string `json:"file_path"`
	Content string `json:"content"`
}

// WriteIfEmpty creates a file, or fills an empty one.
func (d *Dispatcher) WriteIfEmpty(ctx context.Context, req WriteRequest) (*Response, error) {
	snap, err := d.requireInit()
	if err != nil {
		return nil, err
	}
	if req.Path == "" {
		return nil, invalidInput("file_path is required")
	}

	path := resolvePath(snap.Root, req.Path)
	if err := d.authorize(permission.Write(path)); err != nil {
		return nil, err
	}

	res, err := d.editor.WriteIfEmpty(path, req.Content)
	if err != nil {
		return nil, err
	}
	d.publish(event.FileWritten, event.FileEditedData{File: path, Additions: strings.Count(req.Content, "\n")})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Wrote %d bytes to %s", res.Bytes, path)
	for _, p := range res.SyntaxWarnings {
		fmt.Fprintf(&sb, "\nSyntax problem: %s", p)
	}
	return &Response{Text: sb.String(), Warnings: d.loopWarning("write_if_empty", req), Data: res}, nil
}

// EditRequest is the input of EditFile. Blocks holds one or more
// SEARCH/REPLACE blocks.
type EditRequest struct {
	Path   string `json:"file_path"`
	Blocks string `json:"blocks"`
}

// EditFile applies SEARCH/REPLACE blocks to an existing file.
func (d *Dispatcher) EditFile(ctx context.Context, req EditRequest) (*Response, error) {
	snap, err := d.requireInit()
	if err != nil {
		return nil, err
	}
	if req.Path == "" {
		return nil, invalidInput("file_path is required")
	}

	path := resolvePath(snap.Root, req.Path)
	if err := d.authorize(permission.Edit(path)); err != nil {
		return nil, err
	}
	warnings := d.loopWarning("edit_file", req)

	blocks, err := fileedit.ParseBlocks(req.Blocks)
	if err != nil {
		return nil, err
	}
	res, err := d.editor.ApplyEdits(path, blocks, fileedit.EditOptions{
		RequireValidSyntax: d.policy.RequireValidSyntax(),
		BaseDir:            snap.Root,
	})
	if err != nil {
		return nil, err
	}
	d.publish(event.FileEdited, event.FileEditedData{File: path, Additions: res.Additions, Deletions: res.Deletions})

	var sb strings.Builder
	switch {
	case res.Changed():
		fmt.Fprintf(&sb, "Applied %d block(s) to %s (+%d -%d)", res.Blocks, path, res.Additions, res.Deletions)
	default:
		fmt.Fprintf(&sb, "Applied %d block(s) to %s; the content did not change", res.Blocks, path)
	}
	if res.Tolerant > 0 {
		fmt.Fprintf(&sb, "\n%d block(s) matched after ignoring indentation or trailing whitespace", res.Tolerant)
	}
	for _, p := range res.SyntaxWarnings {
		fmt.Fprintf(&sb, "\nSyntax problem: %s", p)
	}
	if res.Text != "" {
		sb.WriteString("\n\n")
		sb.WriteString(res.Text)
	}
	return &Response{Text: sb.String(), Warnings: append(warnings, res.Warnings...), Data: res}, nil
}

// ReadImageRequest is the input of ReadImage.
type ReadImageRequest struct {
	Path string `json:"file_path"`
}

// ReadImage loads an image file.
func (d *Dispatcher) ReadImage(ctx context.Context, req ReadImageRequest) (*Response, error) {
	snap, err := d.requireInit()
	if err != nil {
		return nil, err
	}
	path := resolvePath(snap.Root, req.Path)
	if err := d.authorize(permission.Read(path)); err != nil {
		return nil, err
	}
	img, err := d.editor.ReadImage(path)
	if err != nil {
		return nil, err
	}
	return &Response{
		Text:  fmt.Sprintf("%s (%s, %d bytes)", path, img.MediaType, img.Size),
		Image: img,
	}, nil
}

// SaveContextRequest is the input of SaveContext.
type SaveContextRequest struct {
	ID          string   `json:"id"`
	ProjectRoot string   `json:"project_root_path,omitempty"`
	Description string   `json:"description"`
	Globs       []string `json:"relevant_file_globs"`
}

// SaveContext stores a task checkpoint. It is allowed in every mode.
func (d *Dispatcher) SaveContext(ctx context.Context, req SaveContextRequest) (*Response, error) {
	if _, err := d.requireInit(); err != nil {
		return nil, err
	}
	cp, err := d.tasks.Save(ctx, taskctx.SaveRequest{
		ID:          req.ID,
		Description: req.Description,
		ProjectRoot: req.ProjectRoot,
		Globs:       req.Globs,
	})
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("Saved task %s with %d file(s).\nTo resume it later, initialize with resume_task_id = %q.", cp.ID, len(cp.Files), cp.ID)
	return &Response{Text: text, Warnings: cp.Warnings, Data: cp}, nil
}
