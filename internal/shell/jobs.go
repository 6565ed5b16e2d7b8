package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
	"mvdan.cc/sh/v3/syntax"

	"github.com/rokytory/winx-code-agent/internal/logging"
	"github.com/rokytory/winx-code-agent/internal/output"
	"github.com/rokytory/winx-code-agent/internal/storage"
)

// exitMarker is printed by the job wrapper after the command returns,
// followed by the exit status and a newline.
const exitMarker = "__WINX_BG_EXIT__:"

const (
	jobPollInterval = 250 * time.Millisecond
	jobTailWindow   = 256
)

// BackgroundJob is the persisted snapshot of a detached command. It holds
// everything a new process needs to find the job again.
type BackgroundJob struct {
	ID          string    `json:"id"`
	TmuxSession string    `json:"tmuxSession"`
	Command     string    `json:"command"`
	Cwd         string    `json:"cwd"`
	LogPath     string    `json:"logPath"`
	StartedAt   time.Time `json:"startedAt"`
	// Delivered is the log offset up to which output was returned.
	Delivered int64 `json:"delivered"`
	Finished  bool  `json:"finished"`
	Killed    bool  `json:"killed,omitempty"`
	ExitCode  *int  `json:"exitCode,omitempty"`
}

// State maps the job onto the session lifecycle.
func (j *BackgroundJob) State() State {
	switch {
	case j.Killed:
		return StateTerminated
	case j.Finished:
		return StateCompleted
	default:
		return StateRunning
	}
}

func jobKey(id string) []string {
	return []string{"background", id}
}

type jobRunner struct {
	tmux      tmux
	shellPath string
	store     storage.Store
	logDir    string
	headBytes int
	tailBytes int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (r *jobRunner) lock(id string) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// jobScript wraps command so its exit status ends up in the log. The first
// read holds the command back until the log pipe is attached.
func jobScript(command string) string {
	return "stty -echo -onlcr 2>/dev/null\n" +
		"IFS= read -r _\n" +
		"{\n" + strings.TrimRight(command, "\n") + "\n}\n" +
		"__winx_status=$?\n" +
		"printf '\\n%s%d\\n' '" + exitMarker + "' \"$__winx_status\"\n"
}

// start launches command in a detached tmux session.
func (r *jobRunner) start(ctx context.Context, command, cwd string) (*BackgroundJob, error) {
	if !r.tmux.available() {
		return nil, fmt.Errorf("%w: %s not found, background jobs need tmux", ErrSpawnFailed, r.tmux.bin)
	}

	id := strings.ToLower(ulid.Make().String())
	job := &BackgroundJob{
		ID:          id,
		TmuxSession: "winx-" + id,
		Command:     command,
		Cwd:         cwd,
		LogPath:     filepath.Join(r.logDir, id+".log"),
		StartedAt:   time.Now(),
	}

	if err := os.MkdirAll(r.logDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	if err := os.WriteFile(job.LogPath, nil, 0644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	scriptPath := strings.TrimSuffix(job.LogPath, ".log") + ".sh"
	if err := os.WriteFile(scriptPath, []byte(jobScript(command)), 0600); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	quoted, err := syntax.Quote(scriptPath, syntax.LangPOSIX)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	shellCmd := r.shellPath + " --noprofile --norc " + quoted
	if err := r.tmux.newSession(ctx, job.TmuxSession, cwd, shellCmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	// The tmux server may still be coming up on the first job.
	ready := func() error {
		ok, err := r.tmux.hasSession(ctx, job.TmuxSession)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errors.New("session not ready")
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = 3 * time.Second
	if err := backoff.Retry(ready, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("%w: tmux session %s: %v", ErrSpawnFailed, job.TmuxSession, err)
	}

	if err := r.tmux.pipePane(ctx, job.TmuxSession, job.LogPath); err != nil {
		_ = r.tmux.killSession(ctx, job.TmuxSession)
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	if err := r.tmux.sendKeys(ctx, job.TmuxSession, "Enter"); err != nil {
		_ = r.tmux.killSession(ctx, job.TmuxSession)
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	if err := r.store.Put(ctx, jobKey(id), job); err != nil {
		return nil, err
	}

	logging.Info().Str("job", id).Str("cwd", cwd).Str("command", command).Msg("Background job started")
	return job, nil
}

func (r *jobRunner) load(ctx context.Context, id string) (*BackgroundJob, error) {
	var job BackgroundJob
	if err := r.store.Get(ctx, jobKey(id), &job); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, err
	}
	return &job, nil
}

// list returns every persisted job, oldest first.
func (r *jobRunner) list(ctx context.Context) ([]*BackgroundJob, error) {
	var jobs []*BackgroundJob
	err := r.store.Scan(ctx, []string{"background"}, func(key string, data json.RawMessage) error {
		var job BackgroundJob
		if err := json.Unmarshal(data, &job); err != nil {
			logging.Warn().Err(err).Str("job", key).Msg("Skipping unreadable job snapshot")
			return nil
		}
		jobs = append(jobs, &job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.Before(jobs[j].StartedAt) })
	return jobs, nil
}

// status waits up to wait for the job to finish, then returns the output
// produced since the previous call. finished reports whether this call
// observed the job's completion.
func (r *jobRunner) status(ctx context.Context, id string, wait time.Duration) (job *BackgroundJob, chunk output.Chunk, finished bool, err error) {
	unlock := r.lock(id)
	defer unlock()

	job, err = r.load(ctx, id)
	if err != nil {
		return nil, output.Chunk{}, false, err
	}
	wasFinished := job.Finished

	if !job.Finished && wait > 0 {
		r.wait(ctx, job, wait)
	}

	delta, err := readJobLog(job.LogPath, job.Delivered, r.headBytes, r.tailBytes)
	if err != nil {
		return nil, output.Chunk{}, false, err
	}
	job.Delivered = delta.next
	if delta.exited && !job.Finished {
		job.Finished = true
		job.ExitCode = delta.exitCode
	}

	if !job.Finished {
		alive, err := r.tmux.hasSession(ctx, job.TmuxSession)
		if err == nil && !alive {
			// The marker may have landed between the read and the check.
			again, err := readJobLog(job.LogPath, job.Delivered, r.headBytes, r.tailBytes)
			if err == nil {
				job.Delivered = again.next
				job.ExitCode = again.exitCode
				delta.chunk = joinChunks(delta.chunk, again.chunk)
			}
			job.Finished = true
		}
	}

	if err := r.store.Put(ctx, jobKey(id), job); err != nil {
		return nil, output.Chunk{}, false, err
	}
	return job, delta.chunk, job.Finished && !wasFinished, nil
}

// wait blocks until the job's log shows the exit marker, the tmux session
// disappears, the timeout elapses or ctx is done. Log writes wake it up
// early; polling covers filesystems without change notification.
func (r *jobRunner) wait(ctx context.Context, job *BackgroundJob, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(jobPollInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	if w, err := fsnotify.NewWatcher(); err != nil {
		logging.Warn().Err(err).Msg("Cannot watch job log, polling instead")
	} else {
		defer w.Close()
		if err := w.Add(job.LogPath); err != nil {
			logging.Warn().Err(err).Str("path", job.LogPath).Msg("Cannot watch job log, polling instead")
		} else {
			events = w.Events
		}
	}

	check := func() bool {
		if logHasExit(job.LogPath) {
			return true
		}
		alive, err := r.tmux.hasSession(ctx, job.TmuxSession)
		return err == nil && !alive
	}

	for {
		if check() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
			} else if !ev.Has(fsnotify.Write) {
				continue
			}
		case <-ticker.C:
		}
	}
}

func (r *jobRunner) sendText(ctx context.Context, id, text string) (*BackgroundJob, error) {
	job, err := r.running(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.tmux.sendLiteral(ctx, job.TmuxSession, text); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRunner) sendSpecials(ctx context.Context, id string, keys []Special) (*BackgroundJob, error) {
	job, err := r.running(ctx, id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, specialKeys[k].tmux)
	}
	if err := r.tmux.sendKeys(ctx, job.TmuxSession, names...); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRunner) running(ctx context.Context, id string) (*BackgroundJob, error) {
	job, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Finished {
		return nil, fmt.Errorf("%w: background job %s has finished", ErrNotRunning, id)
	}
	return job, nil
}

// kill stops the job's tmux session and marks it terminated.
func (r *jobRunner) kill(ctx context.Context, id string) (*BackgroundJob, error) {
	unlock := r.lock(id)
	defer unlock()

	job, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Finished {
		return job, nil
	}
	if alive, _ := r.tmux.hasSession(ctx, job.TmuxSession); alive {
		if err := r.tmux.killSession(ctx, job.TmuxSession); err != nil {
			return nil, err
		}
	}
	job.Finished = true
	job.Killed = true
	if err := r.store.Put(ctx, jobKey(id), job); err != nil {
		return nil, err
	}
	logging.Info().Str("job", id).Msg("Background job killed")
	return job, nil
}

type logDelta struct {
	chunk    output.Chunk
	next     int64
	exited   bool
	exitCode *int
}

// readJobLog returns the log output after offset through the head/tail
// policy. The exit marker line is removed; a marker that is still being
// written stays unread until the next call.
func readJobLog(path string, offset int64, headBytes, tailBytes int) (logDelta, error) {
	f, err := os.Open(path)
	if err != nil {
		return logDelta{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return logDelta{}, err
	}
	size := info.Size()
	if size <= offset {
		return logDelta{chunk: output.Chunk{Empty: true}, next: offset}, nil
	}

	winStart := max(offset, size-jobTailWindow)
	window := make([]byte, size-winStart)
	if _, err := f.ReadAt(window, winStart); err != nil && err != io.EOF {
		return logDelta{}, err
	}

	d := logDelta{next: size}
	end := size
	if i := bytes.Index(window, []byte(exitMarker)); i >= 0 {
		end = winStart + int64(i)
		rest := window[i+len(exitMarker):]
		if nl := bytes.IndexByte(rest, '\n'); nl >= 0 {
			d.exited = true
			if code, err := strconv.Atoi(strings.TrimSpace(string(rest[:nl]))); err == nil {
				d.exitCode = &code
			}
		} else {
			d.next = end
		}
		// Drop the newline the wrapper prints before the marker.
		if i > 0 && window[i-1] == '\n' {
			end--
			if !d.exited {
				d.next = end
			}
		}
	} else if keep := partialPrefix(window, []byte(exitMarker)); keep > 0 {
		end = size - int64(keep)
		d.next = end
	}

	if end <= offset {
		d.chunk = output.Chunk{Empty: true}
		return d, nil
	}
	buf := output.New(headBytes, tailBytes)
	if _, err := io.Copy(buf, io.NewSectionReader(f, offset, end-offset)); err != nil {
		return logDelta{}, err
	}
	d.chunk = buf.Delta()
	return d, nil
}

// logHasExit reports whether the log already ends with a complete exit
// marker line.
func logHasExit(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return false
	}
	start := max(0, info.Size()-jobTailWindow)
	window := make([]byte, info.Size()-start)
	if _, err := f.ReadAt(window, start); err != nil && err != io.EOF {
		return false
	}
	i := bytes.Index(window, []byte(exitMarker))
	return i >= 0 && bytes.IndexByte(window[i:], '\n') >= 0
}

func joinChunks(a, b output.Chunk) output.Chunk {
	switch {
	case b.Empty:
		return a
	case a.Empty:
		return b
	}
	return output.Chunk{
		Text:         a.Text + b.Text,
		OmittedBytes: a.OmittedBytes + b.OmittedBytes,
		TotalBytes:   a.TotalBytes + b.TotalBytes,
	}
}
