package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/rokytory/winx-code-agent/internal/dispatch"
)

// operationTool binds a dispatcher operation to a tool. The input is decoded
// strictly into Req so that misspelled fields are reported.
func operationTool[Req any](id, description, params string, call func(context.Context, Req) (*dispatch.Response, error)) *BaseTool {
	return NewBaseTool(id, description, json.RawMessage(params), func(ctx context.Context, input json.RawMessage) (*Result, error) {
		var req Req
		dec := json.NewDecoder(bytes.NewReader(input))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return &Result{
				Title:   id,
				Output:  fmt.Sprintf("invalid input: %v", err),
				IsError: true,
				Kind:    dispatch.KindInvalidInput,
			}, nil
		}

		resp, err := call(ctx, req)
		if err != nil {
			return ErrorResult(id, err), nil
		}
		return responseResult(id, resp), nil
	})
}

func responseResult(title string, resp *dispatch.Response) *Result {
	result := &Result{
		Title:  title,
		Output: resp.String(),
	}
	if resp.Data != nil || len(resp.Warnings) > 0 {
		result.Metadata = map[string]any{}
		if resp.Data != nil {
			result.Metadata["data"] = resp.Data
		}
		if len(resp.Warnings) > 0 {
			result.Metadata["warnings"] = resp.Warnings
		}
	}
	if img := resp.Image; img != nil {
		result.Attachments = []Attachment{{
			Filename:  filepath.Base(img.Path),
			MediaType: img.MediaType,
			URL:       img.DataURL(),
			Data:      img.Data,
		}}
	}
	return result
}

const initializeDescription = `Initializes the workspace. Call this before any other tool.

Usage:
- type "first_call" sets the workspace root and mode and starts a fresh shell
- type "user_asked_mode_change" switches the mode, only when the user asked for it
- type "reset_shell" restarts a stuck shell and keeps workspace and mode
- type "user_asked_change_workspace" moves to another workspace root
- mode is one of full_access (wcgw), read_only (architect) or restricted (code_writer)
- restricted mode takes mode_config with allowed_commands and allowed_globs, each "all" or a list
- resume_task_id loads a task saved with save_context
- initial_files are read and returned with the response`

const initializeParams = `{
	"type": "object",
	"properties": {
		"type": {
			"type": "string",
			"enum": ["first_call", "user_asked_mode_change", "reset_shell", "user_asked_change_workspace"],
			"description": "What the call should do"
		},
		"workspace_path": {
			"type": "string",
			"description": "Absolute path of the workspace root"
		},
		"initial_files": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Files to read right away"
		},
		"resume_task_id": {
			"type": "string",
			"description": "Id of a saved task to resume"
		},
		"mode": {
			"type": "string",
			"enum": ["full_access", "read_only", "restricted", "wcgw", "architect", "code_writer"],
			"description": "Permission mode"
		},
		"mode_config": {
			"type": "object",
			"description": "Configuration of the restricted mode",
			"properties": {
				"allowed_commands": {
					"description": "\"all\" or a list of command names"
				},
				"allowed_globs": {
					"description": "\"all\" or a list of globs relative to the workspace root"
				},
				"require_valid_syntax": {
					"type": "boolean",
					"description": "Reject edits that introduce syntax errors"
				}
			}
		}
	},
	"required": ["type"]
}`

// NewInitializeTool creates the initialize tool.
func NewInitializeTool(d *dispatch.Dispatcher) *BaseTool {
	return operationTool("initialize", initializeDescription, initializeParams, d.Initialize)
}

const runCommandDescription = `Runs a command in the workspace's persistent bash session, or interacts with the running one.

Usage:
- Set exactly one of command, status_check, send_text, send_specials or kill in action
- Only one foreground command runs at a time; check its status, send input or interrupt it before starting another
- A command that outlives wait_for_seconds keeps running; use status_check to get new output
- is_background runs the command in a detached session and returns its bg_command_id
- Pass bg_command_id with status_check, send_text, send_specials or kill to address a background command
- send_specials accepts Enter, Key-up, Key-down, Key-left, Key-right, Ctrl-c and Ctrl-d
- Long output is shortened to its head and tail`

const runCommandParams = `{
	"type": "object",
	"properties": {
		"action": {
			"type": "object",
			"description": "The action to perform",
			"properties": {
				"command": {
					"type": "string",
					"description": "Command line to run"
				},
				"is_background": {
					"type": "boolean",
					"description": "Run the command in the background"
				},
				"status_check": {
					"type": "boolean",
					"description": "Return new output of the running command"
				},
				"send_text": {
					"type": "string",
					"description": "Text to type into the running command"
				},
				"send_specials": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Special keys to send"
				},
				"kill": {
					"type": "boolean",
					"description": "Terminate the command"
				},
				"bg_command_id": {
					"type": "string",
					"description": "Background command to address"
				}
			}
		},
		"wait_for_seconds": {
			"type": "number",
			"description": "How long to wait for output before returning"
		}
	},
	"required": ["action"]
}`

// NewRunCommandTool creates the run_command tool.
func NewRunCommandTool(d *dispatch.Dispatcher) *BaseTool {
	return operationTool("run_command", runCommandDescription, runCommandParams, d.RunCommand)
}

const readFilesDescription = `Reads one or more files.

Usage:
- Paths are absolute or relative to the workspace root
- Append :start-end to read a line range, e.g. main.go:10-40, main.go:100- or main.go:-20
- Long files are cut off with a note telling where to continue
- A failing path is reported inline and does not stop the others`

const readFilesParams = `{
	"type": "object",
	"properties": {
		"file_paths": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Files to read, optionally with a line range"
		},
		"show_line_numbers": {
			"type": "boolean",
			"description": "Prefix every line with its number"
		}
	},
	"required": ["file_paths"]
}`

// NewReadFilesTool creates the read_files tool.
func NewReadFilesTool(d *dispatch.Dispatcher) *BaseTool {
	return operationTool("read_files", readFilesDescription, readFilesParams, d.ReadFiles)
}

const writeIfEmptyDescription = `Creates a new file, or fills an existing empty one.

Usage:
- Fails when the file already has content; change existing files with edit_file
- Missing parent directories are created`

const writeIfEmptyParams = `{
	"type": "object",
	"properties": {
		"file_path": {
			"type": "string",
			"description": "File to create"
		},
		"content": {
			"type": "string",
			"description": "Full file content"
		}
	},
	"required": ["file_path", "content"]
}`

// NewWriteIfEmptyTool creates the write_if_empty tool.
func NewWriteIfEmptyTool(d *dispatch.Dispatcher) *BaseTool {
	return operationTool("write_if_empty", writeIfEmptyDescription, writeIfEmptyParams, d.WriteIfEmpty)
}

const editFileDescription = `Edits an existing file with SEARCH/REPLACE blocks:

<<<<<<< SEARCH
existing lines, copied exactly
=======
new lines
>>>>>>> REPLACE

Usage:
- Several blocks may be given; they are applied in order and all succeed or none is written
- Each search section must match exactly one place in the file; add surrounding lines when it is not unique
- Differences in indentation and trailing whitespace are tolerated
- When a block does not match, the closest regions of the file are returned`

const editFileParams = `{
	"type": "object",
	"properties": {
		"file_path": {
			"type": "string",
			"description": "File to edit"
		},
		"blocks": {
			"type": "string",
			"description": "One or more SEARCH/REPLACE blocks"
		}
	},
	"required": ["file_path", "blocks"]
}`

// NewEditFileTool creates the edit_file tool.
func NewEditFileTool(d *dispatch.Dispatcher) *BaseTool {
	return operationTool("edit_file", editFileDescription, editFileParams, d.EditFile)
}

const readImageDescription = `Reads an image file and returns it as an image attachment.`

const readImageParams = `{
	"type": "object",
	"properties": {
		"file_path": {
			"type": "string",
			"description": "Image to read"
		}
	},
	"required": ["file_path"]
}`

// NewReadImageTool creates the read_image tool.
func NewReadImageTool(d *dispatch.Dispatcher) *BaseTool {
	return operationTool("read_image", readImageDescription, readImageParams, d.ReadImage)
}

const saveContextDescription = `Saves the current task so that it can be resumed later, possibly in another conversation.

Usage:
- description should say what the task is, what was done and what is left
- The files matching relevant_file_globs under project_root_path are stored with the task
- Resume with initialize and resume_task_id`

const saveContextParams = `{
	"type": "object",
	"properties": {
		"id": {
			"type": "string",
			"description": "Task id; generated when empty"
		},
		"project_root_path": {
			"type": "string",
			"description": "Root the globs are relative to"
		},
		"description": {
			"type": "string",
			"description": "Task description and progress"
		},
		"relevant_file_globs": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Globs of files to store"
		}
	},
	"required": ["description", "relevant_file_globs"]
}`

// NewSaveContextTool creates the save_context tool.
func NewSaveContextTool(d *dispatch.Dispatcher) *BaseTool {
	return operationTool("save_context", saveContextDescription, saveContextParams, d.SaveContext)
}
