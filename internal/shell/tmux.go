package shell

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// tmux drives the terminal multiplexer that hosts background jobs. Jobs live
// in their own tmux sessions, so they survive a restart of this process.
type tmux struct {
	bin string
}

func (t tmux) available() bool {
	_, err := exec.LookPath(t.bin)
	return err == nil
}

func (t tmux) run(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, t.bin, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("tmux %s: %s", args[0], msg)
	}
	return nil
}

// newSession starts a detached session running shellCmd in cwd.
func (t tmux) newSession(ctx context.Context, name, cwd, shellCmd string) error {
	args := []string{"new-session", "-d", "-s", name, "-x", "200", "-y", "50"}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	args = append(args, shellCmd)
	return t.run(ctx, args...)
}

func (t tmux) hasSession(ctx context.Context, name string) (bool, error) {
	err := exec.CommandContext(ctx, t.bin, "has-session", "-t", name).Run()
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// tmux exits 1 when the session doesn't exist.
		return false, nil
	}
	return false, err
}

// pipePane appends everything the pane prints to logPath.
func (t tmux) pipePane(ctx context.Context, name, logPath string) error {
	quoted, err := syntax.Quote(logPath, syntax.LangPOSIX)
	if err != nil {
		return err
	}
	return t.run(ctx, "pipe-pane", "-t", name, "cat >> "+quoted)
}

// sendLiteral types text into the pane without key name lookup.
func (t tmux) sendLiteral(ctx context.Context, name, text string) error {
	return t.run(ctx, "send-keys", "-t", name, "-l", "--", text)
}

func (t tmux) sendKeys(ctx context.Context, name string, keys ...string) error {
	args := append([]string{"send-keys", "-t", name}, keys...)
	return t.run(ctx, args...)
}

func (t tmux) killSession(ctx context.Context, name string) error {
	return t.run(ctx, "kill-session", "-t", name)
}
