package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/rokytory/winx-code-agent/internal/config"
	"github.com/rokytory/winx-code-agent/internal/event"
	"github.com/rokytory/winx-code-agent/internal/logging"
	"github.com/rokytory/winx-code-agent/internal/taskctx"
	"github.com/rokytory/winx-code-agent/internal/vcs"
	"github.com/rokytory/winx-code-agent/internal/workspace"
)

// InitType selects what Initialize does to the existing state.
type InitType string

const (
	// FirstCall starts fresh: workspace, mode and a new shell.
	FirstCall InitType = "first_call"
	// ModeChange only swaps the permission mode.
	ModeChange InitType = "user_asked_mode_change"
	// ResetShell replaces the shell and keeps workspace and mode.
	ResetShell InitType = "reset_shell"
	// ChangeWorkspace moves to another root with a fresh shell.
	ChangeWorkspace InitType = "user_asked_change_workspace"
)

// InitializeRequest is the input of Initialize.
type InitializeRequest struct {
	Type          InitType                    `json:"type"`
	WorkspacePath string                      `json:"workspace_path,omitempty"`
	InitialFiles  []string                    `json:"initial_files,omitempty"`
	ResumeTaskID  string                      `json:"resume_task_id,omitempty"`
	Mode          string                      `json:"mode,omitempty"`
	ModeConfig    *workspace.RestrictedConfig `json:"mode_config,omitempty"`
}

// InitializeResult is the structured part of the Initialize response.
type InitializeResult struct {
	Type      InitType          `json:"type"`
	Workspace string            `json:"workspace"`
	Mode      workspace.Mode    `json:"mode"`
	Repo      *vcs.Repo         `json:"repo,omitempty"`
	Resumed   string            `json:"resumed,omitempty"`
	Tasks     []taskctx.Summary `json:"tasks,omitempty"`
}

// ModeFromConfig builds the default mode from the configuration file.
func ModeFromConfig(cfg config.ModeConfig) (workspace.Mode, error) {
	name, err := workspace.ParseModeName(cfg.Name)
	if err != nil {
		return workspace.Mode{}, err
	}
	mode := workspace.Mode{Name: name}
	if name == workspace.Restricted {
		mode.Restricted = workspace.RestrictedConfig{
			AllowedCommands:    workspace.FromList(cfg.AllowedCommands),
			AllowedGlobs:       workspace.FromList(cfg.AllowedGlobs),
			RequireValidSyntax: cfg.RequireValidSyntax,
		}
	}
	return mode, nil
}

// resolveMode turns the request's mode fields into a Mode. An empty name
// keeps fallback.
func (d *Dispatcher) resolveMode(name string, cfg *workspace.RestrictedConfig, fallback workspace.Mode) (workspace.Mode, error) {
	if name == "" {
		return fallback, nil
	}
	parsed, err := workspace.ParseModeName(name)
	if err != nil {
		return workspace.Mode{}, invalidInput(err.Error())
	}
	mode := workspace.Mode{Name: parsed}
	if parsed == workspace.Restricted {
		switch {
		case cfg != nil:
			mode.Restricted = *cfg
		case d.defaultMode.Name == workspace.Restricted:
			mode.Restricted = d.defaultMode.Restricted
		}
	}
	return mode, nil
}

// Initialize sets up or changes the workspace. It must precede every other
// operation. Calls before the first successful initialization are treated
// as FirstCall whatever their type.
func (d *Dispatcher) Initialize(ctx context.Context, req InitializeRequest) (*Response, error) {
	d.initMu.Lock()
	defer d.initMu.Unlock()

	typ := req.Type
	if typ == "" {
		typ = FirstCall
	}
	switch typ {
	case FirstCall, ModeChange, ResetShell, ChangeWorkspace:
	default:
		return nil, invalidInput(fmt.Sprintf("unknown initialize type %q", req.Type))
	}

	prev := d.ws.Snapshot()
	if !prev.Initialized {
		typ = FirstCall
	}

	var warnings []string
	switch typ {
	case FirstCall:
		mode, err := d.resolveMode(req.Mode, req.ModeConfig, d.defaultMode)
		if err != nil {
			return nil, err
		}
		if _, err := d.ws.Configure(req.WorkspacePath, mode); err != nil {
			return nil, invalidInput(err.Error())
		}
		d.shell.Reset()
		d.loops.Reset()

	case ModeChange:
		if req.Mode == "" {
			return nil, invalidInput("mode is required for a mode change")
		}
		mode, err := d.resolveMode(req.Mode, req.ModeConfig, prev.Mode)
		if err != nil {
			return nil, err
		}
		d.ws.SetMode(mode)
		d.publish(event.ModeChanged, event.ModeChangedData{From: string(prev.Mode.Name), To: string(mode.Name)})

	case ResetShell:
		d.shell.Reset()

	case ChangeWorkspace:
		mode, err := d.resolveMode(req.Mode, req.ModeConfig, prev.Mode)
		if err != nil {
			return nil, err
		}
		if _, err := d.ws.Configure(req.WorkspacePath, mode); err != nil {
			return nil, invalidInput(err.Error())
		}
		d.shell.Reset()
	}

	snap := d.ws.Snapshot()
	logging.Info().
		Str("type", string(typ)).
		Str("workspace", snap.Root).
		Str("mode", string(snap.Mode.Name)).
		Msg("Workspace initialized")
	d.publish(event.WorkspaceInitialized, event.WorkspaceInitializedData{
		Type:      string(typ),
		Workspace: snap.Root,
		Mode:      string(snap.Mode.Name),
	})

	result := &InitializeResult{Type: typ, Workspace: snap.Root, Mode: snap.Mode}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Environment\nSystem: %s/%s\nWorkspace: %s\nShell cwd: %s\n", runtime.GOOS, runtime.GOARCH, snap.Root, d.shell.Cwd())
	if repo := vcs.Lookup(ctx, snap.Root); repo != nil {
		result.Repo = repo
		sb.WriteString(repo.Describe())
	}
	sb.WriteString("\n")
	sb.WriteString(snap.Mode.Describe())
	sb.WriteString("\n")

	if req.ResumeTaskID != "" {
		cp, err := d.tasks.Resume(ctx, req.ResumeTaskID)
		switch {
		case errors.Is(err, taskctx.ErrNotFound):
			warnings = append(warnings, fmt.Sprintf("task %q was not found and could not be resumed", req.ResumeTaskID))
		case err != nil:
			return nil, err
		default:
			result.Resumed = cp.ID
			fmt.Fprintf(&sb, "\n---\n# Resumed task %s\n%s\n", cp.ID, cp.Render())
		}
	} else if typ == FirstCall {
		if tasks, err := d.tasks.List(ctx); err == nil && len(tasks) > 0 {
			result.Tasks = tasks[:min(len(tasks), 5)]
			sb.WriteString("\n---\n# Saved tasks (pass resume_task_id to continue one)\n")
			for _, t := range result.Tasks {
				fmt.Fprintf(&sb, "- %s: %s\n", t.ID, t.Description)
			}
		}
	}

	if len(req.InitialFiles) > 0 {
		files, fileWarnings := d.readFiles(snap.Root, req.InitialFiles, false)
		warnings = append(warnings, fileWarnings...)
		sb.WriteString("\n---\n# Requested files\n")
		sb.WriteString(files)
	}

	return &Response{Text: sb.String(), Warnings: warnings, Data: result}, nil
}
