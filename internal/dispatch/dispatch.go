// Package dispatch is the single entry point for tool invocations.
//
// Every operation is checked against the workspace's permission mode before
// it reaches the command session, the file editor or the task store. The
// transports (MCP, HTTP) only ever talk to a Dispatcher.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rokytory/winx-code-agent/internal/event"
	"github.com/rokytory/winx-code-agent/internal/fileedit"
	"github.com/rokytory/winx-code-agent/internal/logging"
	"github.com/rokytory/winx-code-agent/internal/permission"
	"github.com/rokytory/winx-code-agent/internal/shell"
	"github.com/rokytory/winx-code-agent/internal/taskctx"
	"github.com/rokytory/winx-code-agent/internal/workspace"
)

// ErrNotInitialized is returned for any operation before Initialize.
var ErrNotInitialized = errors.New("workspace is not initialized; call initialize first")

// Shell is the command session the dispatcher drives.
type Shell interface {
	Command(ctx context.Context, command string, background bool, wait time.Duration) (*shell.Result, error)
	StatusCheck(ctx context.Context, jobID string, wait time.Duration) (*shell.Result, error)
	SendText(ctx context.Context, jobID, text string, wait time.Duration) (*shell.Result, error)
	SendSpecials(ctx context.Context, jobID string, keys []shell.Special, wait time.Duration) (*shell.Result, error)
	Kill(ctx context.Context, jobID string) (*shell.Result, error)
	Reset()
	Wait(seconds *float64) time.Duration
	Cwd() string
}

var _ Shell = (*shell.Manager)(nil)

// Deps are the components a Dispatcher routes to.
type Deps struct {
	Workspace *workspace.Workspace
	Shell     Shell
	Editor    *fileedit.Editor
	Tasks     *taskctx.Manager
	// Bus receives workspace, file and permission events. May be nil.
	Bus *event.Bus
	// DefaultMode is used when Initialize names no mode, and supplies the
	// restricted configuration when a restricted mode comes without one.
	DefaultMode workspace.Mode
}

// Response is the result of one operation.
type Response struct {
	Text     string   `json:"text"`
	Warnings []string `json:"warnings,omitempty"`
	// Data is the structured result, when the operation has one.
	Data any `json:"data,omitempty"`
	// Image is set by ReadImage.
	Image *fileedit.Image `json:"image,omitempty"`
}

// String renders the text with its warnings.
func (r *Response) String() string {
	if len(r.Warnings) == 0 {
		return r.Text
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(r.Text, "\n"))
	sb.WriteString("\n")
	for _, w := range r.Warnings {
		sb.WriteString("\nWarning: ")
		sb.WriteString(w)
	}
	return sb.String()
}

// Dispatcher authorizes and routes operations.
type Dispatcher struct {
	ws          *workspace.Workspace
	policy      *permission.Policy
	shell       Shell
	editor      *fileedit.Editor
	tasks       *taskctx.Manager
	bus         *event.Bus
	loops       *permission.DoomLoopDetector
	defaultMode workspace.Mode

	// initMu serializes Initialize calls.
	initMu sync.Mutex
}

// New creates a dispatcher.
func New(deps Deps) *Dispatcher {
	if deps.DefaultMode.Name == "" {
		deps.DefaultMode.Name = workspace.FullAccess
	}
	return &Dispatcher{
		ws:          deps.Workspace,
		policy:      permission.NewPolicy(deps.Workspace),
		shell:       deps.Shell,
		editor:      deps.Editor,
		tasks:       deps.Tasks,
		bus:         deps.Bus,
		loops:       permission.NewDoomLoopDetector(),
		defaultMode: deps.DefaultMode,
	}
}

// Workspace returns the current workspace state.
func (d *Dispatcher) Workspace() workspace.Snapshot {
	return d.ws.Snapshot()
}

func (d *Dispatcher) requireInit() (workspace.Snapshot, error) {
	snap := d.ws.Snapshot()
	if !snap.Initialized {
		return snap, ErrNotInitialized
	}
	return snap, nil
}

// authorize checks an action and reports denials on the bus.
func (d *Dispatcher) authorize(action permission.Action) error {
	err := d.policy.Authorize(action)
	var denied *permission.DeniedError
	if errors.As(err, &denied) {
		logging.Warn().
			Str("action", string(action.Kind)).
			Str("target", action.Target).
			Str("mode", string(denied.Mode)).
			Str("reason", denied.Reason).
			Msg("Permission denied")
		d.publish(event.PermissionDenied, event.PermissionDeniedData{
			Action: string(action.Kind),
			Target: action.Target,
			Mode:   string(denied.Mode),
			Reason: denied.Reason,
		})
	}
	return err
}

// loopWarning records the call and returns a warning when the same call was
// made several times in a row.
func (d *Dispatcher) loopWarning(op string, req any) []string {
	data, err := json.Marshal(req)
	if err != nil {
		return nil
	}
	if d.loops.Check(op, data) {
		return []string{fmt.Sprintf("%s was called %d times in a row with the same input; change the approach instead of repeating it", op, permission.DoomLoopThreshold)}
	}
	return nil
}

// resolvePath makes p absolute against the workspace root.
func resolvePath(root, p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return permission.ResolvePath(root, p)
}

func (d *Dispatcher) publish(t event.EventType, data any) {
	if d.bus != nil {
		d.bus.Publish(event.Event{Type: t, Data: data})
	}
}
