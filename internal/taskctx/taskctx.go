// Package taskctx saves and restores task checkpoints: a description plus
// snapshots of the files a task touches, so a later session can pick the
// task up again. Checkpoints only carry declarative memory; no process or
// shell state is restored.
package taskctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rokytory/winx-code-agent/internal/config"
	"github.com/rokytory/winx-code-agent/internal/event"
	"github.com/rokytory/winx-code-agent/internal/logging"
	"github.com/rokytory/winx-code-agent/internal/storage"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned by Resume for an unknown checkpoint id.
var ErrNotFound = errors.New("task checkpoint not found")

const snapshotWorkers = 8

// FileSnapshot is the saved content of one file.
type FileSnapshot struct {
	Path      string `json:"path"`
	Content   string `json:"content,omitempty"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated,omitempty"`
	Binary    bool   `json:"binary,omitempty"`
}

// Checkpoint is a saved task.
type Checkpoint struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	ProjectRoot string         `json:"projectRoot"`
	Globs       []string       `json:"globs"`
	Files       []FileSnapshot `json:"files"`
	Warnings    []string       `json:"warnings,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Summary is the index entry of a checkpoint.
type Summary struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	ProjectRoot string    `json:"projectRoot"`
	Files       int       `json:"files"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SaveRequest describes a checkpoint to save.
type SaveRequest struct {
	// ID names the checkpoint. Empty generates one.
	ID          string
	Description string
	// ProjectRoot anchors relative globs. Empty uses the working directory.
	ProjectRoot string
	Globs       []string
}

// Options bounds snapshots.
type Options struct {
	MaxFiles     int
	MaxFileBytes int64
}

// OptionsFromConfig derives snapshot bounds from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxFiles:     cfg.Checkpoint.MaxFiles,
		MaxFileBytes: cfg.Checkpoint.MaxFileBytes,
	}
}

// Manager saves and loads checkpoints.
type Manager struct {
	store storage.Store
	fs    afero.Fs
	bus   *event.Bus
	opts  Options
	// getwd resolves an empty project root.
	getwd func() (string, error)
}

// NewManager creates a checkpoint manager. bus may be nil.
func NewManager(store storage.Store, fsys afero.Fs, bus *event.Bus, opts Options) *Manager {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = config.DefaultCheckpointFiles
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = config.DefaultCheckpointBytes
	}
	return &Manager{
		store: store,
		fs:    fsys,
		bus:   bus,
		opts:  opts,
		getwd: os.Getwd,
	}
}

func key(id string) []string {
	return []string{"checkpoints", id}
}

// Save resolves the request's globs, snapshots the matching files and
// stores the checkpoint, replacing any checkpoint with the same id.
func (m *Manager) Save(ctx context.Context, req SaveRequest) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:          req.ID,
		Description: req.Description,
		ProjectRoot: req.ProjectRoot,
		Globs:       req.Globs,
		CreatedAt:   time.Now().UTC(),
	}
	if cp.ID == "" {
		cp.ID = strings.ToLower(ulid.Make().String())
	}
	if cp.ProjectRoot == "" {
		wd, err := m.getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve project root: %w", err)
		}
		cp.ProjectRoot = wd
	}
	if cp.Globs == nil {
		cp.Globs = []string{}
	}

	paths, warnings := m.resolve(cp.ProjectRoot, cp.Globs)
	cp.Warnings = warnings
	if len(paths) > m.opts.MaxFiles {
		cp.Warnings = append(cp.Warnings, fmt.Sprintf("%d files matched, only the first %d were saved", len(paths), m.opts.MaxFiles))
		paths = paths[:m.opts.MaxFiles]
	}

	files, err := m.snapshot(ctx, paths)
	if err != nil {
		return nil, err
	}
	cp.Files = files

	if err := m.store.Put(ctx, key(cp.ID), cp); err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			return nil, fmt.Errorf("invalid task id %q: %w", cp.ID, err)
		}
		return nil, fmt.Errorf("store checkpoint: %w", err)
	}

	logging.Info().Str("id", cp.ID).Int("files", len(cp.Files)).Msg("Saved task checkpoint")
	if m.bus != nil {
		m.bus.Publish(event.Event{
			Type: event.CheckpointSaved,
			Data: event.CheckpointSavedData{ID: cp.ID, Files: len(cp.Files)},
		})
	}
	return cp, nil
}

// Resume returns the checkpoint saved under id.
func (m *Manager) Resume(ctx context.Context, id string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := m.store.Get(ctx, key(id), &cp); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// List returns summaries of all checkpoints, newest first.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := m.store.Scan(ctx, []string{"checkpoints"}, func(_ string, data json.RawMessage) error {
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			logging.Warn().Err(err).Msg("Skipping unreadable checkpoint")
			return nil
		}
		desc, _, _ := strings.Cut(cp.Description, "\n")
		out = append(out, Summary{
			ID:          cp.ID,
			Description: desc,
			ProjectRoot: cp.ProjectRoot,
			Files:       len(cp.Files),
			CreatedAt:   cp.CreatedAt,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// resolve expands globs into a sorted, de-duplicated list of regular files.
// Relative globs are anchored at root.
func (m *Manager) resolve(root string, globs []string) ([]string, []string) {
	seen := make(map[string]bool)
	var paths, warnings []string

	for _, g := range globs {
		pattern := g
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(root, pattern)
		}
		pattern = filepath.ToSlash(filepath.Clean(pattern))

		base, rel := doublestar.SplitPattern(pattern)
		fsys := afero.NewIOFS(afero.NewBasePathFs(m.fs, base))
		matches, err := doublestar.Glob(fsys, rel, doublestar.WithFilesOnly())
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("glob %q: %v", g, err))
			continue
		}
		if len(matches) == 0 {
			warnings = append(warnings, fmt.Sprintf("glob %q matched no files", g))
		}
		for _, match := range matches {
			p := filepath.Join(filepath.FromSlash(base), filepath.FromSlash(match))
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}

	sort.Strings(paths)
	return paths, warnings
}

// snapshot reads files concurrently, keeping the input order.
func (m *Manager) snapshot(ctx context.Context, paths []string) ([]FileSnapshot, error) {
	files := make([]FileSnapshot, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotWorkers)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			snap, err := m.snapshotFile(p)
			if err != nil {
				return err
			}
			files[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (m *Manager) snapshotFile(path string) (FileSnapshot, error) {
	snap := FileSnapshot{Path: path}

	f, err := m.fs.Open(path)
	if err != nil {
		return snap, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return snap, fmt.Errorf("stat %s: %w", path, err)
	}
	snap.Size = info.Size()

	limit := min(snap.Size, m.opts.MaxFileBytes)
	buf := make([]byte, limit)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return snap, fmt.Errorf("read %s: %w", path, err)
	}
	buf = buf[:n]

	if isBinary(buf) {
		snap.Binary = true
		return snap, nil
	}
	snap.Content = string(buf)
	snap.Truncated = snap.Size > int64(n)
	return snap, nil
}

func isBinary(data []byte) bool {
	head := data[:min(len(data), 8000)]
	for _, b := range head {
		if b == 0 {
			return true
		}
	}
	return false
}

// Render formats a checkpoint as the text handed back to the agent.
func (cp *Checkpoint) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# PROJECT ROOT = %s\n", cp.ProjectRoot)
	sb.WriteString(cp.Description)
	sb.WriteString("\n\n# Relevant file paths\n")
	sb.WriteString(strings.Join(cp.Globs, ", "))
	sb.WriteString("\n\n# Relevant Files:\n")
	for _, f := range cp.Files {
		switch {
		case f.Binary:
			fmt.Fprintf(&sb, "\n# File: %s (binary, %d bytes, content not saved)\n", f.Path, f.Size)
		default:
			fmt.Fprintf(&sb, "\n# File: %s\n```\n%s", f.Path, f.Content)
			if !strings.HasSuffix(f.Content, "\n") {
				sb.WriteByte('\n')
			}
			sb.WriteString("```\n")
			if f.Truncated {
				fmt.Fprintf(&sb, "(truncated, %d of %d bytes saved)\n", len(f.Content), f.Size)
			}
		}
	}
	for _, w := range cp.Warnings {
		fmt.Fprintf(&sb, "\nWarning: %s", w)
	}
	return sb.String()
}
