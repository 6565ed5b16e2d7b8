package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the XDG variables at a temp dir and clears the
// WINX_* overrides so the developer's own config never leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, ".local", "state"))
	for _, key := range []string{"WINX_CONFIG", "WINX_CONFIG_CONTENT", "WINX_LOG_LEVEL", "WINX_MODE", "WINX_STATE_DIR", "WINX_SHELL", "WINX_DEFAULT_WAIT"} {
		t.Setenv(key, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "tmux", cfg.Shell.Tmux)
	assert.Equal(t, DefaultWaitSeconds, cfg.Shell.DefaultWaitSeconds)
	assert.Equal(t, DefaultReadMaxLines, cfg.Read.MaxLines)
	assert.Equal(t, DefaultModeName, cfg.Mode.Name)
}

func TestJSONCComments(t *testing.T) {
	dir := isolate(t)

	writeFile(t, filepath.Join(dir, ".winx", "winx.jsonc"), `{
		// trailing comments and commas are fine
		"log": {"level": "debug"},
		"shell": {"default_wait_seconds": 2.5,},
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2.5, cfg.Shell.DefaultWaitSeconds)
}

func TestYAMLConfig(t *testing.T) {
	dir := isolate(t)

	writeFile(t, filepath.Join(dir, ".winx", "winx.yaml"), `
mode:
  name: restricted
  allowed_commands: [ls, cat, go]
  allowed_globs: ["src/**/*.go"]
  require_valid_syntax: true
read:
  max_lines: 500
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "restricted", cfg.Mode.Name)
	assert.Equal(t, []string{"ls", "cat", "go"}, cfg.Mode.AllowedCommands)
	assert.Equal(t, []string{"src/**/*.go"}, cfg.Mode.AllowedGlobs)
	assert.True(t, cfg.Mode.RequireValidSyntax)
	assert.Equal(t, 500, cfg.Read.MaxLines)
}

func TestProjectOverridesGlobal(t *testing.T) {
	dir := isolate(t)

	writeFile(t, filepath.Join(dir, ".config", "winx", "winx.json"), `{"log": {"level": "warn"}, "read": {"max_lines": 100}}`)
	writeFile(t, filepath.Join(dir, "project", ".winx", "winx.json"), `{"log": {"level": "error"}}`)

	cfg, err := Load(filepath.Join(dir, "project"))
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 100, cfg.Read.MaxLines)
}

func TestInvalidFileIsAnError(t *testing.T) {
	dir := isolate(t)

	writeFile(t, filepath.Join(dir, ".winx", "winx.json"), `{"log": `)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestEnvInterpolation(t *testing.T) {
	dir := isolate(t)
	t.Setenv("TEST_WINX_SHELL", "/usr/local/bin/bash")

	writeFile(t, filepath.Join(dir, ".winx", "winx.json"), `{"shell": {"path": "{env:TEST_WINX_SHELL}"}}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/bash", cfg.Shell.Path)
}

func TestFileInterpolation(t *testing.T) {
	dir := isolate(t)

	writeFile(t, filepath.Join(dir, ".winx", "state-dir.txt"), "/var/lib/winx\n")
	writeFile(t, filepath.Join(dir, ".winx", "winx.json"), `{"state_dir": "{file:state-dir.txt}"}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/winx", cfg.StateDir)
}

func TestEnvOverrides(t *testing.T) {
	dir := isolate(t)

	writeFile(t, filepath.Join(dir, ".winx", "winx.json"), `{"mode": {"name": "restricted", "allowed_commands": ["ls"]}}`)
	t.Setenv("WINX_MODE", "read_only")
	t.Setenv("WINX_LOG_LEVEL", "debug")
	t.Setenv("WINX_DEFAULT_WAIT", "1.5")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "read_only", cfg.Mode.Name)
	assert.Empty(t, cfg.Mode.AllowedCommands)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 1.5, cfg.Shell.DefaultWaitSeconds)
}

func TestInlineContent(t *testing.T) {
	dir := isolate(t)
	t.Setenv("WINX_CONFIG_CONTENT", `{"checkpoint": {"max_files": 7}}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Checkpoint.MaxFiles)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "out", "winx.json")

	cfg := &Config{Log: LogConfig{Level: "warn"}}
	require.NoError(t, Save(cfg, path))
	t.Setenv("WINX_CONFIG", path)

	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", loaded.Log.Level)
}

func TestPathsFor(t *testing.T) {
	isolate(t)

	p := PathsFor(&Config{StateDir: "/srv/winx"})
	assert.Equal(t, "/srv/winx", p.State)
	assert.Equal(t, filepath.Join("/srv/winx", "storage"), p.StoragePath())
	assert.Equal(t, filepath.Join("/srv/winx", "jobs"), p.JobLogPath())

	p = PathsFor(nil)
	assert.Equal(t, "winx", filepath.Base(p.State))
}
