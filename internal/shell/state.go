// Package shell runs the workspace's interactive command session.
//
// A Manager owns one bash process on a pty. Foreground commands run one at
// a time; a second command while one is running fails with ErrSessionBusy.
// Every call waits a bounded time for the command and returns the output
// produced since the previous call, so long-running commands are followed
// with status checks. Background commands run in detached tmux sessions and
// are tracked through snapshots in the document store.
package shell

import "errors"

// State is the lifecycle state of the interactive shell session.
type State string

const (
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateWaitingInput State = "waiting_input"
	StateCompleted    State = "completed"
	StateTerminated   State = "terminated"
)

// Busy reports whether a foreground command occupies the session.
func (s State) Busy() bool {
	return s == StateRunning || s == StateWaitingInput
}

var (
	// ErrSessionBusy is returned when a foreground command is requested
	// while another one is still running. Check its status, send input or
	// interrupt it, then retry.
	ErrSessionBusy = errors.New("a command is already running in the shell")

	// ErrSpawnFailed is returned when the shell or a background job could
	// not be started. The session stays idle.
	ErrSpawnFailed = errors.New("failed to start process")

	// ErrProcessVanished is returned when the shell process disappeared or
	// was killed. The session must be reset before it can be used again.
	ErrProcessVanished = errors.New("shell process is gone, reset the shell to continue")

	// ErrNotRunning is returned when input is sent while no command runs.
	ErrNotRunning = errors.New("no command is running")

	// ErrUnknownSpecial is returned for key names outside the supported set.
	ErrUnknownSpecial = errors.New("unknown special key")

	// ErrJobNotFound is returned for an unknown background job id.
	ErrJobNotFound = errors.New("background job not found")
)
