package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rokytory/winx-code-agent/internal/config"
	"github.com/rokytory/winx-code-agent/internal/event"
	"github.com/rokytory/winx-code-agent/internal/logging"
	"github.com/rokytory/winx-code-agent/internal/output"
	"github.com/rokytory/winx-code-agent/internal/storage"
	"github.com/rokytory/winx-code-agent/internal/workspace"
)

// DefaultInputIdle is how long a running command must stay quiet after a
// partial line before the session reports that it waits for input.
const DefaultInputIdle = 500 * time.Millisecond

// Options configures a Manager.
type Options struct {
	ShellPath string
	TmuxPath  string
	JobLogDir string

	HeadBytes int
	TailBytes int

	DefaultWait time.Duration
	MaxWait     time.Duration
	InputIdle   time.Duration
}

// OptionsFromConfig derives manager options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config, paths *config.Paths) Options {
	return Options{
		ShellPath:   cfg.Shell.Path,
		TmuxPath:    cfg.Shell.Tmux,
		JobLogDir:   paths.JobLogPath(),
		HeadBytes:   cfg.Shell.OutputHeadBytes,
		TailBytes:   cfg.Shell.OutputTailBytes,
		DefaultWait: time.Duration(cfg.Shell.DefaultWaitSeconds * float64(time.Second)),
		MaxWait:     time.Duration(cfg.Shell.MaxWaitSeconds * float64(time.Second)),
	}
}

func (o *Options) applyDefaults() {
	o.ShellPath = detectShell(o.ShellPath)
	if o.TmuxPath == "" {
		o.TmuxPath = "tmux"
	}
	if o.DefaultWait <= 0 {
		o.DefaultWait = time.Duration(config.DefaultWaitSeconds * float64(time.Second))
	}
	if o.MaxWait <= 0 {
		o.MaxWait = time.Duration(config.DefaultMaxWaitSeconds * float64(time.Second))
	}
	if o.InputIdle <= 0 {
		o.InputIdle = DefaultInputIdle
	}
}

// Result is what every session operation returns.
type Result struct {
	Output   output.Chunk `json:"output"`
	State    State        `json:"state"`
	Cwd      string       `json:"cwd"`
	Command  string       `json:"command,omitempty"`
	ExitCode *int         `json:"exitCode,omitempty"`
	// JobID is set when the result describes a background job.
	JobID string `json:"jobId,omitempty"`
	// RunningJobs lists background jobs that have not finished.
	RunningJobs []string `json:"runningJobs,omitempty"`
}

// Text renders the result for a tool response.
func (r *Result) Text() string {
	var sb strings.Builder
	sb.WriteString(r.Output.String())
	if !strings.HasSuffix(sb.String(), "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("\n---\n\n")

	if r.JobID != "" {
		fmt.Fprintf(&sb, "background job = %s\n", r.JobID)
	}
	switch r.State {
	case StateRunning:
		sb.WriteString("status = still running\n")
	case StateWaitingInput:
		sb.WriteString("status = waiting for input\n")
	case StateCompleted:
		if r.ExitCode != nil {
			fmt.Fprintf(&sb, "status = process exited with code %d\n", *r.ExitCode)
		} else {
			sb.WriteString("status = process exited\n")
		}
	case StateTerminated:
		sb.WriteString("status = terminated\n")
	default:
		sb.WriteString("status = no command running\n")
	}
	fmt.Fprintf(&sb, "cwd = %s\n", r.Cwd)
	if len(r.RunningJobs) > 0 {
		fmt.Fprintf(&sb, "running background jobs = %s\n", strings.Join(r.RunningJobs, ", "))
	}
	return sb.String()
}

// Manager owns the single interactive shell of the workspace and the
// background jobs started from it.
type Manager struct {
	opts Options
	ws   *workspace.Workspace
	bus  *event.Bus
	jobs *jobRunner

	mu   sync.Mutex
	sess *session
	buf  *output.Buffer
}

// NewManager creates a session manager. The shell starts lazily with the
// first foreground command.
func NewManager(ws *workspace.Workspace, store storage.Store, bus *event.Bus, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		opts: opts,
		ws:   ws,
		bus:  bus,
		buf:  output.New(opts.HeadBytes, opts.TailBytes),
		jobs: &jobRunner{
			tmux:      tmux{bin: opts.TmuxPath},
			shellPath: opts.ShellPath,
			store:     store,
			logDir:    opts.JobLogDir,
			headBytes: opts.HeadBytes,
			tailBytes: opts.TailBytes,
			locks:     make(map[string]*sync.Mutex),
		},
	}
}

// Wait converts an optional wait in seconds into a poll duration, applying
// the default and the configured cap.
func (m *Manager) Wait(seconds *float64) time.Duration {
	if seconds == nil {
		return m.opts.DefaultWait
	}
	d := time.Duration(*seconds * float64(time.Second))
	if d < 0 {
		return 0
	}
	return min(d, m.opts.MaxWait)
}

func (m *Manager) publishState(from, to State) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(event.Event{
		Type: event.SessionStateChanged,
		Data: event.SessionStateData{From: string(from), To: string(to)},
	})
}

// State returns the foreground session state.
func (m *Manager) State() State {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return StateIdle
	}
	return sess.refresh(m.opts.InputIdle)
}

// Cwd returns the shell's working directory, or the workspace root before
// the shell has started.
func (m *Manager) Cwd() string {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return m.ws.Root()
	}
	return sess.status().Cwd
}

// ensure returns the live session, starting one if needed.
func (m *Manager) ensure() (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil {
		return m.sess, nil
	}

	m.publishState(StateIdle, StateStarting)
	sess, err := startSession(m.opts.ShellPath, m.ws.Root(), m.buf, m.publishState)
	if err != nil {
		m.publishState(StateStarting, StateIdle)
		logging.Error().Err(err).Str("shell", m.opts.ShellPath).Msg("Failed to start shell")
		return nil, err
	}
	m.sess = sess
	return sess, nil
}

// current returns the live session or nil.
func (m *Manager) current() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Command runs command in the foreground shell and waits up to wait for it
// to finish. A command that outlives the wait keeps running; later status
// checks return its further output. With background set the command runs
// detached, the call returns at once and the result carries the job id.
func (m *Manager) Command(ctx context.Context, command string, background bool, wait time.Duration) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("command is empty")
	}

	if background {
		job, err := m.jobs.start(ctx, command, m.Cwd())
		if err != nil {
			return nil, err
		}
		m.publish(event.JobStarted, event.JobData{ID: job.ID, Command: command})
		// The launch returns at once; status checks wait for output.
		return m.jobStatus(ctx, job.ID, 0)
	}

	sess, err := m.ensure()
	if err != nil {
		return nil, err
	}
	if err := sess.run(command); err != nil {
		return nil, err
	}

	cwd := sess.status().Cwd
	logging.Debug().Str("command", command).Str("cwd", cwd).Msg("Command started")
	m.publish(event.CommandStarted, event.CommandData{Command: command, Cwd: cwd})

	return m.waitForeground(ctx, sess, wait), nil
}

// StatusCheck returns output produced since the previous call. It waits up
// to wait for a running command to finish first. A non-empty jobID targets
// that background job.
func (m *Manager) StatusCheck(ctx context.Context, jobID string, wait time.Duration) (*Result, error) {
	if jobID != "" {
		return m.jobStatus(ctx, jobID, wait)
	}
	sess := m.current()
	if sess == nil {
		return m.idleResult(ctx), nil
	}
	return m.waitForeground(ctx, sess, wait), nil
}

// SendText writes text verbatim to the running command.
func (m *Manager) SendText(ctx context.Context, jobID, text string, wait time.Duration) (*Result, error) {
	if jobID != "" {
		if _, err := m.jobs.sendText(ctx, jobID, text); err != nil {
			return nil, err
		}
		return m.jobStatus(ctx, jobID, wait)
	}
	sess := m.current()
	if sess == nil {
		return nil, ErrNotRunning
	}
	if err := sess.send(text); err != nil {
		return nil, err
	}
	return m.waitForeground(ctx, sess, wait), nil
}

// SendSpecials sends named keys to the running command.
func (m *Manager) SendSpecials(ctx context.Context, jobID string, keys []Special, wait time.Duration) (*Result, error) {
	for _, k := range keys {
		if _, ok := specialKeys[k]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSpecial, k)
		}
	}

	if jobID != "" {
		if _, err := m.jobs.sendSpecials(ctx, jobID, keys); err != nil {
			return nil, err
		}
		return m.jobStatus(ctx, jobID, wait)
	}
	sess := m.current()
	if sess == nil {
		return nil, ErrNotRunning
	}
	// Ctrl-c is a signal to the job, not a byte; keys around it keep
	// their order.
	var seq strings.Builder
	flush := func() error {
		if seq.Len() == 0 {
			return nil
		}
		defer seq.Reset()
		return sess.send(seq.String())
	}
	for _, k := range keys {
		if k != CtrlC {
			seq.WriteString(specialKeys[k].pty)
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		if err := sess.interrupt(); err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return m.waitForeground(ctx, sess, wait), nil
}

// Kill terminates the foreground shell, or the background job when jobID is
// set. A killed shell stays terminated until Reset.
func (m *Manager) Kill(ctx context.Context, jobID string) (*Result, error) {
	if jobID != "" {
		job, err := m.jobs.kill(ctx, jobID)
		if err != nil {
			return nil, err
		}
		m.publish(event.JobFinished, event.JobData{ID: job.ID, Command: job.Command})
		return &Result{
			Output:  output.Chunk{Empty: true},
			State:   job.State(),
			Cwd:     job.Cwd,
			Command: job.Command,
			JobID:   job.ID,
		}, nil
	}

	sess := m.current()
	if sess == nil {
		return nil, ErrNotRunning
	}
	sess.kill()
	<-sess.exited
	logging.Info().Msg("Shell killed")

	res := m.snapshot(ctx, sess)
	res.Output = m.buf.Delta()
	return res, nil
}

// Reset discards the shell so the next command starts a fresh one in the
// current workspace root. Background jobs are not affected.
func (m *Manager) Reset() {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.mu.Unlock()

	if sess != nil {
		sess.kill()
		<-sess.exited
		m.publishState(StateTerminated, StateIdle)
	}
	m.buf.Reset()
	logging.Debug().Msg("Shell reset")
}

// Close stops the foreground shell.
func (m *Manager) Close() error {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.mu.Unlock()
	if sess != nil {
		sess.kill()
	}
	return nil
}

// waitForeground blocks until the current command finishes, starts waiting
// for input, the wait elapses or ctx is done, and then returns the new
// output. It never stops the command.
func (m *Manager) waitForeground(ctx context.Context, sess *session, wait time.Duration) *Result {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(m.opts.InputIdle / 5)
	defer ticker.Stop()

	st := sess.status()
	wasBusy := st.State.Busy()
	for st.State.Busy() {
		if sess.refresh(m.opts.InputIdle) == StateWaitingInput {
			break
		}
		select {
		case <-st.done:
		case <-sess.exited:
		case <-timer.C:
		case <-ctx.Done():
		case <-ticker.C:
			st = sess.status()
			continue
		}
		break
	}

	res := m.snapshot(ctx, sess)
	res.Output = m.buf.Delta()
	if res.State == StateCompleted && wasBusy {
		m.publish(event.CommandCompleted, event.CommandData{Command: res.Command, Cwd: res.Cwd, ExitCode: res.ExitCode})
	}
	return res
}

func (m *Manager) snapshot(ctx context.Context, sess *session) *Result {
	state := sess.refresh(m.opts.InputIdle)
	st := sess.status()
	return &Result{
		State:       state,
		Cwd:         st.Cwd,
		Command:     st.Command,
		ExitCode:    st.ExitCode,
		RunningJobs: m.runningJobs(ctx),
	}
}

func (m *Manager) idleResult(ctx context.Context) *Result {
	return &Result{
		Output:      output.Chunk{Empty: true},
		State:       StateIdle,
		Cwd:         m.ws.Root(),
		RunningJobs: m.runningJobs(ctx),
	}
}

func (m *Manager) jobStatus(ctx context.Context, id string, wait time.Duration) (*Result, error) {
	job, chunk, finished, err := m.jobs.status(ctx, id, wait)
	if err != nil {
		return nil, err
	}
	if finished {
		logging.Info().Str("job", id).Msg("Background job finished")
		m.publish(event.JobFinished, event.JobData{ID: job.ID, Command: job.Command, ExitCode: job.ExitCode})
	}
	return &Result{
		Output:   chunk,
		State:    job.State(),
		Cwd:      job.Cwd,
		Command:  job.Command,
		ExitCode: job.ExitCode,
		JobID:    job.ID,
	}, nil
}

// runningJobs lists unfinished background jobs. Errors only cost the hint.
func (m *Manager) runningJobs(ctx context.Context) []string {
	jobs, err := m.jobs.list(ctx)
	if err != nil {
		logging.Debug().Err(err).Msg("Cannot list background jobs")
		return nil
	}
	var ids []string
	for _, job := range jobs {
		if !job.Finished {
			ids = append(ids, job.ID)
		}
	}
	return ids
}

// Jobs returns every known background job.
func (m *Manager) Jobs(ctx context.Context) ([]*BackgroundJob, error) {
	return m.jobs.list(ctx)
}

func (m *Manager) publish(t event.EventType, data any) {
	if m.bus != nil {
		m.bus.Publish(event.Event{Type: t, Data: data})
	}
}
