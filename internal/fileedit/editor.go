// Package fileedit reads and changes files on behalf of the agent.
//
// Writes only create new or empty files. Existing files are changed with
// SEARCH/REPLACE blocks: every block of an instruction must resolve to a
// unique location before anything is written, and the result is committed
// with a single atomic rename. Blocks that do not match exactly are retried
// with indentation and trailing whitespace tolerance; failures carry the
// closest regions of the file so the caller can correct the block.
package fileedit

import (
	"github.com/rokytory/winx-code-agent/internal/config"
	"github.com/spf13/afero"
)

// DefaultMaxImageBytes bounds ReadImage.
const DefaultMaxImageBytes = 10 << 20

// Options bounds reads.
type Options struct {
	// MaxReadLines is the most lines returned by one read.
	MaxReadLines int
	// MaxReadBytes is the most bytes returned by one read.
	MaxReadBytes int64
	// MaxImageBytes is the largest image ReadImage accepts.
	MaxImageBytes int64
}

// OptionsFromConfig derives editor options from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxReadLines:  cfg.Read.MaxLines,
		MaxReadBytes:  cfg.Read.MaxBytes,
		MaxImageBytes: DefaultMaxImageBytes,
	}
}

func (o *Options) applyDefaults() {
	if o.MaxReadLines <= 0 {
		o.MaxReadLines = config.DefaultReadMaxLines
	}
	if o.MaxReadBytes <= 0 {
		o.MaxReadBytes = config.DefaultReadMaxBytes
	}
	if o.MaxImageBytes <= 0 {
		o.MaxImageBytes = DefaultMaxImageBytes
	}
}

// Editor performs file operations on a filesystem. Paths are expected to be
// absolute and already authorized.
type Editor struct {
	fs    afero.Fs
	opts  Options
	locks pathLocks
	reads *readTracker
}

// New creates an editor over fs.
func New(fs afero.Fs, opts Options) *Editor {
	opts.applyDefaults()
	return &Editor{
		fs:    fs,
		opts:  opts,
		reads: newReadTracker(),
	}
}

// Fs returns the filesystem the editor works on.
func (e *Editor) Fs() afero.Fs {
	return e.fs
}
