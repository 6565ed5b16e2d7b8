package shell

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/creack/pty"
	"github.com/oklog/ulid/v2"
	"github.com/rokytory/winx-code-agent/internal/logging"
	"github.com/rokytory/winx-code-agent/internal/output"
	"golang.org/x/sys/unix"
)

const (
	startupTimeout = 10 * time.Second
	killGrace      = 200 * time.Millisecond
	// handoffWait bounds how long an interrupt waits for bash to give the
	// terminal to a job it just started.
	handoffWait = 500 * time.Millisecond
)

// session is one interactive shell running on a pty.
//
// The shell's PROMPT_COMMAND prints a marker line "__WINX_<id>__:<status>:<cwd>"
// each time it is ready for input. The reader strips that line from the
// output, records the exit status and the working directory, and moves the
// session from running to completed. Echo is disabled so the output holds
// only what commands print.
type session struct {
	cmd    *exec.Cmd
	pty    *os.File
	marker []byte
	buf    *output.Buffer

	// onChange is called with the lock held; it must not block.
	onChange func(from, to State)

	// lineStart is owned by the read loop: whether the last forwarded
	// byte ended a line.
	lineStart bool

	mu       sync.Mutex
	state    State
	cwd      string
	command  string
	exitCode *int
	lastUsed time.Time
	ready    chan struct{}
	done     chan struct{} // closed when the current command finishes
	exited   chan struct{} // closed when the shell process is gone
}

// detectShell picks the bash binary used for the interactive session.
func detectShell(configured string) string {
	if configured != "" {
		return configured
	}
	if s := os.Getenv("SHELL"); strings.HasSuffix(s, "/bash") {
		return s
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/bash"
}

// startSession spawns the shell in cwd and waits until it reports its
// first prompt.
func startSession(shellPath, cwd string, buf *output.Buffer, onChange func(from, to State)) (*session, error) {
	if runtime.GOOS == "windows" {
		return nil, fmt.Errorf("%w: interactive shells need a pty", ErrSpawnFailed)
	}

	id := ulid.Make().String()
	cmd := exec.Command(shellPath, "--noprofile", "--norc", "--noediting", "-i")
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(),
		"TERM=dumb",
		"PS1=",
		"PS2=",
		"PAGER=cat",
		"GIT_PAGER=cat",
		"HISTFILE=/dev/null",
	)

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 50, Cols: 200})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	s := &session{
		cmd:      cmd,
		pty:      f,
		marker:   []byte("__WINX_" + id + "__:"),
		buf:      buf,
		onChange: onChange,
		state:    StateStarting,
		cwd:      cwd,

		lineStart: true,
		lastUsed:  time.Now(),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	go s.readLoop()

	// The marker is split in two words so the echo of this line, printed
	// before stty takes effect, never contains it.
	init := fmt.Sprintf(
		"stty -echo -onlcr; PS1=''; PS2=''; unset PROMPT_COMMAND; PROMPT_COMMAND='printf \"%%s%%s:%%d:%%s\\n\" __WINX_ %s__ \"$?\" \"$PWD\"'\n",
		id)
	if _, err := f.WriteString(init); err != nil {
		s.kill()
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	select {
	case <-s.ready:
		logging.Debug().Str("shell", shellPath).Int("pid", cmd.Process.Pid).Str("cwd", cwd).Msg("Shell started")
		return s, nil
	case <-s.exited:
		return nil, fmt.Errorf("%w: shell exited during startup", ErrSpawnFailed)
	case <-time.After(startupTimeout):
		s.kill()
		return nil, fmt.Errorf("%w: shell did not become ready within %v", ErrSpawnFailed, startupTimeout)
	}
}

func (s *session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if s.onChange != nil {
		s.onChange(from, to)
	}
}

func (s *session) readLoop() {
	defer close(s.exited)

	chunk := make([]byte, 32*1024)
	var pending []byte
	for {
		n, err := s.pty.Read(chunk)
		if n > 0 {
			pending = s.consume(append(pending, chunk[:n]...))
		}
		if err != nil {
			s.emit(pending)
			s.vanish()
			return
		}
	}
}

// consume extracts prompt markers from data and forwards the rest to the
// buffer. It returns the bytes that must wait for more input: an incomplete
// marker line, or a suffix at the start of a line that may begin one.
func (s *session) consume(data []byte) []byte {
	for {
		i := bytes.Index(data, s.marker)
		if i < 0 {
			keep := partialPrefix(data, s.marker, s.lineStart)
			s.forward(data[:len(data)-keep])
			return data[len(data)-keep:]
		}
		nl := bytes.IndexByte(data[i:], '\n')
		if nl < 0 {
			s.forward(data[:i])
			return data[i:]
		}
		s.forward(data[:i])
		s.prompt(string(data[i+len(s.marker) : i+nl]))
		data = data[i+nl+1:]
		s.lineStart = true
	}
}

// partialPrefix returns the length of the longest suffix of data that is a
// proper prefix of marker and starts a line. lineStart tells whether data
// itself begins at the start of a line.
func partialPrefix(data, marker []byte, lineStart bool) int {
	for k := min(len(marker)-1, len(data)); k > 0; k-- {
		if !bytes.HasSuffix(data, marker[:k]) {
			continue
		}
		at := len(data) - k
		if (at == 0 && lineStart) || (at > 0 && data[at-1] == '\n') {
			return k
		}
	}
	return 0
}

func (s *session) forward(p []byte) {
	if len(p) == 0 {
		return
	}
	s.lineStart = p[len(p)-1] == '\n'
	s.emit(p)
}

func (s *session) emit(p []byte) {
	if len(p) == 0 {
		return
	}
	s.mu.Lock()
	starting := s.state == StateStarting
	s.mu.Unlock()
	if !starting {
		s.buf.Write(p)
	}
}

// prompt handles one "<status>:<cwd>" marker payload.
func (s *session) prompt(payload string) {
	status, cwd, _ := strings.Cut(payload, ":")
	code, err := strconv.Atoi(status)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cwd != "" {
		s.cwd = cwd
	}
	switch s.state {
	case StateStarting:
		s.setState(StateIdle)
		close(s.ready)
	case StateRunning, StateWaitingInput:
		if err == nil {
			s.exitCode = &code
		}
		s.setState(StateCompleted)
		close(s.done)
	}
}

func (s *session) vanish() {
	// Reap the process; the pty is already at EOF.
	_ = s.cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Busy() {
		close(s.done)
	}
	s.setState(StateTerminated)
}

// run writes a command line to the shell.
func (s *session) run(command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateTerminated:
		return ErrProcessVanished
	case s.state.Busy():
		return ErrSessionBusy
	}

	// Every line of a multi-line command would otherwise get its own
	// prompt. A group is read in full before it runs.
	line := command
	if strings.Contains(line, "\n") {
		line = "{\n" + strings.TrimRight(line, "\n") + "\n}"
	}

	s.buf.Reset()
	s.command = command
	s.exitCode = nil
	s.done = make(chan struct{})
	s.lastUsed = time.Now()
	s.setState(StateRunning)

	if _, err := s.pty.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("%w: %v", ErrProcessVanished, err)
	}
	return nil
}

// send writes raw input to the running command.
func (s *session) send(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return ErrProcessVanished
	}
	if !s.state.Busy() {
		return ErrNotRunning
	}
	s.lastUsed = time.Now()
	if _, err := s.pty.WriteString(data); err != nil {
		return fmt.Errorf("%w: %v", ErrProcessVanished, err)
	}
	return nil
}

// interrupt delivers SIGINT to the foreground job of the pty. A ^C byte
// only reaches the process group that owns the terminal when it is written,
// and bash hands the terminal to a new job some time after reading its
// command line. Builtins run in the shell itself; when no job takes the
// terminal within handoffWait the byte goes to bash.
func (s *session) interrupt() error {
	s.mu.Lock()
	switch {
	case s.state == StateTerminated:
		s.mu.Unlock()
		return ErrProcessVanished
	case !s.state.Busy():
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.lastUsed = time.Now()
	s.mu.Unlock()

	shellPgid := s.cmd.Process.Pid
	job := func() error {
		pgid, err := s.foregroundGroup()
		if err != nil {
			return backoff.Permanent(err)
		}
		if pgid <= 0 || pgid == shellPgid {
			return errors.New("shell owns the terminal")
		}
		return syscall.Kill(-pgid, syscall.SIGINT)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = handoffWait
	if err := backoff.Retry(job, bo); err == nil {
		return nil
	}
	if st := s.status(); !st.State.Busy() {
		// Finished while we waited.
		return nil
	}
	return s.send("\x03")
}

// foregroundGroup returns the process group that owns the pty.
func (s *session) foregroundGroup() (int, error) {
	rc, err := s.pty.SyscallConn()
	if err != nil {
		return 0, err
	}
	var pgid int
	var ioErr error
	if err := rc.Control(func(fd uintptr) {
		pgid, ioErr = unix.IoctlGetInt(int(fd), unix.TIOCGPGRP)
	}); err != nil {
		return 0, err
	}
	return pgid, ioErr
}

// refresh applies the waiting-for-input heuristic: a running command whose
// output stopped mid-line for longer than idle, with no input sent in that
// time, is assumed to show a prompt.
func (s *session) refresh(idle time.Duration) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	quiet := !s.buf.EndsWithNewline() &&
		time.Since(s.buf.LastWrite()) >= idle &&
		time.Since(s.lastUsed) >= idle
	switch {
	case s.state == StateRunning && quiet:
		s.setState(StateWaitingInput)
	case s.state == StateWaitingInput && !quiet:
		s.setState(StateRunning)
	}
	return s.state
}

type sessionStatus struct {
	State    State
	Cwd      string
	Command  string
	ExitCode *int
	LastUsed time.Time
	done     <-chan struct{}
}

func (s *session) status() sessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionStatus{
		State:    s.state,
		Cwd:      s.cwd,
		Command:  s.command,
		ExitCode: s.exitCode,
		LastUsed: s.lastUsed,
		done:     s.done,
	}
}

// kill terminates the shell and its whole process group.
func (s *session) kill() {
	if s.cmd.Process == nil {
		return
	}
	pid := s.cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	_ = s.pty.Close()

	select {
	case <-s.exited:
	case <-time.After(killGrace):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}
