package permission

import (
	"errors"
	"fmt"

	"github.com/rokytory/winx-code-agent/internal/workspace"
)

// ActionKind is the kind of operation being authorized.
type ActionKind string

const (
	RunCommand ActionKind = "run_command"
	ReadPath   ActionKind = "read_path"
	WritePath  ActionKind = "write_path"
	EditPath   ActionKind = "edit_path"
)

// Action is one request to authorize. Target is the command text for
// RunCommand and a path for the others.
type Action struct {
	Kind   ActionKind
	Target string
}

// Command builds a RunCommand action.
func Command(text string) Action { return Action{Kind: RunCommand, Target: text} }

// Read builds a ReadPath action.
func Read(path string) Action { return Action{Kind: ReadPath, Target: path} }

// Write builds a WritePath action.
func Write(path string) Action { return Action{Kind: WritePath, Target: path} }

// Edit builds an EditPath action.
func Edit(path string) Action { return Action{Kind: EditPath, Target: path} }

// Decision is the outcome of evaluating an action against a mode.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// DeniedError is returned when the active mode refuses an action.
// Nothing has been touched when it is returned.
type DeniedError struct {
	Action Action
	Mode   workspace.ModeName
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied in %s mode: %s", e.Mode, e.Reason)
}

// IsDenied reports whether err is or wraps a *DeniedError.
func IsDenied(err error) bool {
	var denied *DeniedError
	return errors.As(err, &denied)
}
