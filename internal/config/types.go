package config

// Config is the merged winx configuration.
type Config struct {
	// StateDir overrides the XDG state location for checkpoints, background
	// job snapshots and logs.
	StateDir string `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`

	Log        LogConfig        `json:"log,omitempty" yaml:"log,omitempty"`
	Shell      ShellConfig      `json:"shell,omitempty" yaml:"shell,omitempty"`
	Read       ReadConfig       `json:"read,omitempty" yaml:"read,omitempty"`
	Checkpoint CheckpointConfig `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
	Mode       ModeConfig       `json:"mode,omitempty" yaml:"mode,omitempty"`
	HTTP       HTTPConfig       `json:"http,omitempty" yaml:"http,omitempty"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
	// CORSOrigins lists allowed origins; empty disables CORS.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	File   bool   `json:"file,omitempty" yaml:"file,omitempty"`
	Pretty bool   `json:"pretty,omitempty" yaml:"pretty,omitempty"`
}

// ShellConfig configures the command session.
type ShellConfig struct {
	// Path is the interactive shell binary. Defaults to $SHELL when it is
	// bash, otherwise /bin/bash.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Tmux is the tmux binary used for background jobs.
	Tmux string `json:"tmux,omitempty" yaml:"tmux,omitempty"`

	DefaultWaitSeconds float64 `json:"default_wait_seconds,omitempty" yaml:"default_wait_seconds,omitempty"`
	MaxWaitSeconds     float64 `json:"max_wait_seconds,omitempty" yaml:"max_wait_seconds,omitempty"`

	// OutputHeadBytes and OutputTailBytes bound a single output delta.
	OutputHeadBytes int `json:"output_head_bytes,omitempty" yaml:"output_head_bytes,omitempty"`
	OutputTailBytes int `json:"output_tail_bytes,omitempty" yaml:"output_tail_bytes,omitempty"`
}

// ReadConfig bounds whole-file reads.
type ReadConfig struct {
	MaxLines int   `json:"max_lines,omitempty" yaml:"max_lines,omitempty"`
	MaxBytes int64 `json:"max_bytes,omitempty" yaml:"max_bytes,omitempty"`
}

// CheckpointConfig bounds task context snapshots.
type CheckpointConfig struct {
	MaxFiles     int   `json:"max_files,omitempty" yaml:"max_files,omitempty"`
	MaxFileBytes int64 `json:"max_file_bytes,omitempty" yaml:"max_file_bytes,omitempty"`
}

// ModeConfig selects the permission mode used when a client initializes
// without naming one.
type ModeConfig struct {
	Name               string   `json:"name,omitempty" yaml:"name,omitempty"`
	AllowedCommands    []string `json:"allowed_commands,omitempty" yaml:"allowed_commands,omitempty"`
	AllowedGlobs       []string `json:"allowed_globs,omitempty" yaml:"allowed_globs,omitempty"`
	RequireValidSyntax bool     `json:"require_valid_syntax,omitempty" yaml:"require_valid_syntax,omitempty"`
}

// Default values.
const (
	DefaultWaitSeconds     = 5.0
	DefaultMaxWaitSeconds  = 300.0
	DefaultOutputHeadBytes = 10000
	DefaultOutputTailBytes = 20000
	DefaultReadMaxLines    = 2000
	DefaultReadMaxBytes    = 1 << 20
	DefaultCheckpointFiles = 200
	DefaultCheckpointBytes = 256 << 10
	DefaultModeName        = "full_access"
	DefaultHTTPAddr        = "127.0.0.1:7878"
)

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Shell.Tmux == "" {
		c.Shell.Tmux = "tmux"
	}
	if c.Shell.DefaultWaitSeconds <= 0 {
		c.Shell.DefaultWaitSeconds = DefaultWaitSeconds
	}
	if c.Shell.MaxWaitSeconds <= 0 {
		c.Shell.MaxWaitSeconds = DefaultMaxWaitSeconds
	}
	if c.Shell.OutputHeadBytes <= 0 {
		c.Shell.OutputHeadBytes = DefaultOutputHeadBytes
	}
	if c.Shell.OutputTailBytes <= 0 {
		c.Shell.OutputTailBytes = DefaultOutputTailBytes
	}
	if c.Read.MaxLines <= 0 {
		c.Read.MaxLines = DefaultReadMaxLines
	}
	if c.Read.MaxBytes <= 0 {
		c.Read.MaxBytes = DefaultReadMaxBytes
	}
	if c.Checkpoint.MaxFiles <= 0 {
		c.Checkpoint.MaxFiles = DefaultCheckpointFiles
	}
	if c.Checkpoint.MaxFileBytes <= 0 {
		c.Checkpoint.MaxFileBytes = DefaultCheckpointBytes
	}
	if c.Mode.Name == "" {
		c.Mode.Name = DefaultModeName
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
}
