package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rokytory/winx-code-agent/internal/dispatch"
	"github.com/rokytory/winx-code-agent/internal/fileedit"
	"github.com/rokytory/winx-code-agent/internal/output"
	"github.com/rokytory/winx-code-agent/internal/shell"
	"github.com/rokytory/winx-code-agent/internal/storage"
	"github.com/rokytory/winx-code-agent/internal/taskctx"
	"github.com/rokytory/winx-code-agent/internal/workspace"
)

// fakeShell records commands and answers with a completed result.
type fakeShell struct {
	commands []string
	resets   int
}

func (f *fakeShell) result(text string) *shell.Result {
	code := 0
	return &shell.Result{Output: output.Chunk{Text: text}, State: shell.StateCompleted, Cwd: "/", ExitCode: &code}
}

func (f *fakeShell) Command(ctx context.Context, command string, background bool, wait time.Duration) (*shell.Result, error) {
	f.commands = append(f.commands, command)
	return f.result("ran " + command + "\n"), nil
}

func (f *fakeShell) StatusCheck(ctx context.Context, jobID string, wait time.Duration) (*shell.Result, error) {
	return f.result(""), nil
}

func (f *fakeShell) SendText(ctx context.Context, jobID, text string, wait time.Duration) (*shell.Result, error) {
	return nil, shell.ErrNotRunning
}

func (f *fakeShell) SendSpecials(ctx context.Context, jobID string, keys []shell.Special, wait time.Duration) (*shell.Result, error) {
	return nil, shell.ErrNotRunning
}

func (f *fakeShell) Kill(ctx context.Context, jobID string) (*shell.Result, error) {
	return nil, shell.ErrNotRunning
}

func (f *fakeShell) Reset()                              { f.resets++ }
func (f *fakeShell) Wait(seconds *float64) time.Duration { return time.Second }
func (f *fakeShell) Cwd() string                         { return "/" }

func newTestRegistry(t *testing.T) (*Registry, *fakeShell, string) {
	t.Helper()
	root := t.TempDir()
	sh := &fakeShell{}
	d := dispatch.New(dispatch.Deps{
		Workspace: workspace.New(),
		Shell:     sh,
		Editor:    fileedit.New(afero.NewOsFs(), fileedit.Options{}),
		Tasks:     taskctx.NewManager(storage.New(t.TempDir()), afero.NewOsFs(), nil, taskctx.Options{}),
	})
	return DefaultRegistry(d), sh, root
}

func run(t *testing.T, r *Registry, id string, input any) *Result {
	t.Helper()
	data, err := json.Marshal(input)
	require.NoError(t, err)
	return r.Run(context.Background(), id, data)
}

func initialize(t *testing.T, r *Registry, root, mode string) {
	t.Helper()
	res := run(t, r, "initialize", map[string]any{"type": "first_call", "workspace_path": root, "mode": mode})
	require.False(t, res.IsError, res.Output)
}

func TestDefaultRegistry(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	assert.Equal(t, []string{
		"edit_file", "initialize", "read_files", "read_image", "run_command", "save_context", "write_if_empty",
	}, r.IDs())

	for _, tool := range r.List() {
		var schemaDoc map[string]any
		require.NoError(t, json.Unmarshal(tool.Parameters(), &schemaDoc), tool.ID())
		assert.Equal(t, "object", schemaDoc["type"], tool.ID())
		assert.NotEmpty(t, tool.Description(), tool.ID())
	}
}

func TestToolInfos(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	infos, err := r.ToolInfos()
	require.NoError(t, err)
	require.Len(t, infos, 7)

	byName := map[string]*schema.ToolInfo{}
	for _, info := range infos {
		byName[info.Name] = info
	}

	params := parseJSONSchemaToParams(mustTool(t, r, "initialize").Parameters())
	require.Contains(t, params, "type")
	assert.True(t, params["type"].Required)
	assert.Contains(t, params["type"].Enum, "reset_shell")
	assert.Equal(t, schema.Array, params["initial_files"].Type)
	assert.Equal(t, schema.String, params["initial_files"].ElemInfo.Type)
	assert.Equal(t, schema.Boolean, params["mode_config"].SubParams["require_valid_syntax"].Type)

	params = parseJSONSchemaToParams(mustTool(t, r, "run_command").Parameters())
	assert.Equal(t, schema.Object, params["action"].Type)
	assert.Contains(t, params["action"].SubParams, "bg_command_id")
	assert.Equal(t, schema.Number, params["wait_for_seconds"].Type)
	assert.NotNil(t, byName["run_command"].ParamsOneOf)
}

func mustTool(t *testing.T, r *Registry, id string) Tool {
	t.Helper()
	tool, ok := r.Get(id)
	require.True(t, ok, id)
	return tool
}

func TestRunErrors(t *testing.T) {
	r, _, root := newTestRegistry(t)

	tests := []struct {
		name  string
		id    string
		input string
		kind  string
	}{
		{"unknown tool", "format_disk", `{}`, dispatch.KindInvalidInput},
		{"not initialized", "read_files", `{"file_paths":["a.txt"]}`, dispatch.KindNotInitialized},
		{"unknown field", "read_files", `{"paths":["a.txt"]}`, dispatch.KindInvalidInput},
		{"wrong type", "write_if_empty", `{"file_path":1,"content":"x"}`, dispatch.KindInvalidInput},
		{"bad initialize type", "initialize", `{"type":"bogus","workspace_path":"` + root + `"}`, dispatch.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Run(context.Background(), tt.id, json.RawMessage(tt.input))
			assert.True(t, res.IsError)
			assert.Equal(t, tt.kind, res.Kind, res.Output)
		})
	}
}

func TestFileTools(t *testing.T) {
	r, _, root := newTestRegistry(t)
	initialize(t, r, root, "full_access")

	res := run(t, r, "write_if_empty", map[string]any{"file_path": "pkg/a.go", "content": "package a\n\nvar x = 1\n"})
	require.False(t, res.IsError, res.Output)

	res = run(t, r, "write_if_empty", map[string]any{"file_path": "pkg/a.go", "content": "other"})
	assert.True(t, res.IsError)
	assert.Equal(t, dispatch.KindTargetNotEmpty, res.Kind)

	res = run(t, r, "edit_file", map[string]any{
		"file_path": "pkg/a.go",
		"blocks":    "<<<<<<< SEARCH\nvar x = 1\n=======\nvar x = 2\n>>>>>>> REPLACE",
	})
	require.False(t, res.IsError, res.Output)
	assert.Contains(t, res.Output, "+1 -1")
	require.Contains(t, res.Metadata, "data")

	res = run(t, r, "edit_file", map[string]any{
		"file_path": "pkg/a.go",
		"blocks":    "<<<<<<< SEARCH\nvar y = 1\n=======\nvar y = 2\n>>>>>>> REPLACE",
	})
	assert.True(t, res.IsError)
	assert.Equal(t, dispatch.KindNoMatch, res.Kind)
	assert.Contains(t, res.Output, "var x = 2")

	res = run(t, r, "read_files", map[string]any{"file_paths": []string{"pkg/a.go:3-3"}})
	require.False(t, res.IsError, res.Output)
	assert.Contains(t, res.Output, "var x = 2")
	assert.NotContains(t, res.Output, "package a")
}

func TestReadOnlyModeDenies(t *testing.T) {
	r, sh, root := newTestRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a\n"), 0o644))
	initialize(t, r, root, "architect")

	res := run(t, r, "edit_file", map[string]any{
		"file_path": "a.txt",
		"blocks":    "<<<<<<< SEARCH\na\n=======\nb\n>>>>>>> REPLACE",
	})
	assert.True(t, res.IsError)
	assert.Equal(t, dispatch.KindPermissionDenied, res.Kind)

	res = run(t, r, "run_command", map[string]any{"action": map[string]any{"command": "rm a.txt"}})
	assert.Equal(t, dispatch.KindPermissionDenied, res.Kind)

	res = run(t, r, "run_command", map[string]any{"action": map[string]any{"command": "ls"}})
	require.False(t, res.IsError, res.Output)
	assert.Equal(t, []string{"ls"}, sh.commands)
	assert.Contains(t, res.Output, "ran ls")
}

func TestReadImageAttachment(t *testing.T) {
	r, _, root := newTestRegistry(t)
	png, err := base64.StdEncoding.DecodeString("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8/5+hHgAHggJ/PchI7wAAAABJRU5ErkJggg==")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "dot.png"), png, 0o644))
	initialize(t, r, root, "")

	res := run(t, r, "read_image", map[string]any{"file_path": "dot.png"})
	require.False(t, res.IsError, res.Output)
	require.Len(t, res.Attachments, 1)
	assert.Equal(t, "image/png", res.Attachments[0].MediaType)
	assert.Equal(t, "dot.png", res.Attachments[0].Filename)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), res.Attachments[0].Data)
}

func TestEinoTool(t *testing.T) {
	r, _, root := newTestRegistry(t)
	ctx := context.Background()

	readTool := mustTool(t, r, "read_files").EinoTool()
	info, err := readTool.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "read_files", info.Name)

	out, err := readTool.InvokableRun(ctx, `{"file_paths":["x"]}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Error (not_initialized)")

	initialize(t, r, root, "")
	require.NoError(t, os.WriteFile(filepath.Join(root, "x"), []byte("hello\n"), 0o644))
	out, err = readTool.InvokableRun(ctx, `{"file_paths":["x"]}`)
	require.NoError(t, err)
	assert.Contains(t, out, "hello")

	assert.Len(t, r.EinoTools(), 7)
}

func TestSaveContextTool(t *testing.T) {
	r, sh, root := newTestRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	initialize(t, r, root, "read_only")
	assert.Equal(t, 1, sh.resets)

	res := run(t, r, "save_context", map[string]any{
		"id":                  "t1",
		"project_root_path":   root,
		"description":         "demo",
		"relevant_file_globs": []string{"*.go"},
	})
	require.False(t, res.IsError, res.Output)

	res = run(t, r, "initialize", map[string]any{"type": "first_call", "workspace_path": root, "resume_task_id": "t1"})
	require.False(t, res.IsError, res.Output)
	assert.Contains(t, res.Output, "package main")
	assert.Equal(t, 2, sh.resets)
}
