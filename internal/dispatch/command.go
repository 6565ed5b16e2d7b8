package dispatch

import (
	"context"
	"fmt"

	"github.com/rokytory/winx-code-agent/internal/permission"
	"github.com/rokytory/winx-code-agent/internal/shell"
	"github.com/rokytory/winx-code-agent/internal/workspace"
)

// ActionKind names a shell action.
type ActionKind string

const (
	ActionCommand      ActionKind = "command"
	ActionStatusCheck  ActionKind = "status_check"
	ActionSendText     ActionKind = "send_text"
	ActionSendSpecials ActionKind = "send_specials"
	ActionKill         ActionKind = "kill"
)

// ShellAction is one shell action. Exactly one of Command, StatusCheck,
// SendText, SendSpecials and Kill must be set.
type ShellAction struct {
	Command      *string  `json:"command,omitempty"`
	IsBackground bool     `json:"is_background,omitempty"`
	StatusCheck  bool     `json:"status_check,omitempty"`
	SendText     *string  `json:"send_text,omitempty"`
	SendSpecials []string `json:"send_specials,omitempty"`
	Kill         bool     `json:"kill,omitempty"`
	// JobID targets a background job instead of the foreground shell.
	JobID string `json:"bg_command_id,omitempty"`
}

// Kind returns the action's kind, or an error when zero or several actions
// are set.
func (a ShellAction) Kind() (ActionKind, error) {
	var kinds []ActionKind
	if a.Command != nil {
		kinds = append(kinds, ActionCommand)
	}
	if a.StatusCheck {
		kinds = append(kinds, ActionStatusCheck)
	}
	if a.SendText != nil {
		kinds = append(kinds, ActionSendText)
	}
	if a.SendSpecials != nil {
		kinds = append(kinds, ActionSendSpecials)
	}
	if a.Kill {
		kinds = append(kinds, ActionKill)
	}
	switch len(kinds) {
	case 0:
		return "", invalidInput("no action given; set one of command, status_check, send_text, send_specials or kill")
	case 1:
		return kinds[0], nil
	default:
		return "", invalidInput(fmt.Sprintf("only one action may be set, got %v", kinds))
	}
}

// RunCommandRequest is the input of RunCommand.
type RunCommandRequest struct {
	Action ShellAction `json:"action"`
	// WaitForSeconds bounds how long the call waits for output. Nil uses
	// the default.
	WaitForSeconds *float64 `json:"wait_for_seconds,omitempty"`
}

// RunCommand performs a shell action.
func (d *Dispatcher) RunCommand(ctx context.Context, req RunCommandRequest) (*Response, error) {
	snap, err := d.requireInit()
	if err != nil {
		return nil, err
	}
	kind, err := req.Action.Kind()
	if err != nil {
		return nil, err
	}

	warnings := d.loopWarning("run_command", req)
	wait := d.shell.Wait(req.WaitForSeconds)
	a := req.Action

	var res *shell.Result
	switch kind {
	case ActionCommand:
		if err := d.authorize(permission.Command(*a.Command)); err != nil {
			return nil, err
		}
		if as := permission.AssessCommand(*a.Command); as.Level != permission.Safe {
			warnings = append(warnings, fmt.Sprintf("%s command: %s", as.Level, as.Reason))
		}
		res, err = d.shell.Command(ctx, *a.Command, a.IsBackground, wait)

	case ActionStatusCheck:
		res, err = d.shell.StatusCheck(ctx, a.JobID, wait)

	case ActionSendText:
		// Typed text reaches the program's input like a command line would.
		if snap.Mode.Name != workspace.FullAccess {
			if err := d.authorize(permission.Command(*a.SendText)); err != nil {
				return nil, err
			}
		}
		res, err = d.shell.SendText(ctx, a.JobID, *a.SendText, wait)

	case ActionSendSpecials:
		keys, perr := shell.ParseSpecials(a.SendSpecials)
		if perr != nil {
			return nil, perr
		}
		if len(keys) == 0 {
			return nil, invalidInput("send_specials needs at least one key")
		}
		res, err = d.shell.SendSpecials(ctx, a.JobID, keys, wait)

	case ActionKill:
		res, err = d.shell.Kill(ctx, a.JobID)
	}
	if err != nil {
		return nil, err
	}

	return &Response{Text: res.Text(), Warnings: warnings, Data: res}, nil
}
