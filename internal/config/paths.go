package config

import (
	"os"
	"path/filepath"
)

// Paths contains the standard paths for winx data.
type Paths struct {
	Config string // ~/.config/winx
	State  string // ~/.local/state/winx
}

// GetPaths returns the standard paths for winx data.
func GetPaths() *Paths {
	return &Paths{
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", filepath.Join(os.Getenv("HOME"), ".config")), "winx"),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", filepath.Join(os.Getenv("HOME"), ".local", "state")), "winx"),
	}
}

// PathsFor returns the standard paths with State replaced by the configured
// state directory, if any.
func PathsFor(cfg *Config) *Paths {
	p := GetPaths()
	if cfg != nil && cfg.StateDir != "" {
		p.State = cfg.StateDir
	}
	return p
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Config, p.State, p.StoragePath(), p.JobLogPath(), p.LogPath()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath returns the directory of the JSON document store.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.State, "storage")
}

// JobLogPath returns the directory that receives background job output.
func (p *Paths) JobLogPath() string {
	return filepath.Join(p.State, "jobs")
}

// LogPath returns the directory for winx's own log files.
func (p *Paths) LogPath() string {
	return filepath.Join(p.State, "logs")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
