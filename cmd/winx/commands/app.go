package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/rokytory/winx-code-agent/internal/config"
	"github.com/rokytory/winx-code-agent/internal/dispatch"
	"github.com/rokytory/winx-code-agent/internal/event"
	"github.com/rokytory/winx-code-agent/internal/fileedit"
	"github.com/rokytory/winx-code-agent/internal/logging"
	"github.com/rokytory/winx-code-agent/internal/shell"
	"github.com/rokytory/winx-code-agent/internal/storage"
	"github.com/rokytory/winx-code-agent/internal/taskctx"
	"github.com/rokytory/winx-code-agent/internal/tool"
	"github.com/rokytory/winx-code-agent/internal/workspace"
)

// app holds the wired components shared by the serving commands.
type app struct {
	config     *config.Config
	paths      *config.Paths
	bus        *event.Bus
	store      *storage.Storage
	shell      *shell.Manager
	tasks      *taskctx.Manager
	dispatcher *dispatch.Dispatcher
	tools      *tool.Registry
}

// loadConfig reads .env and the layered configuration, then sets up logging.
func loadConfig() (*config.Config, *config.Paths, error) {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return nil, nil, err
	}

	// A missing .env is normal.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	paths := config.PathsFor(cfg)
	if err := paths.EnsurePaths(); err != nil {
		return nil, nil, fmt.Errorf("create state directories: %w", err)
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	var out io.Writer = io.Discard
	if printLogs {
		out = os.Stderr
	}
	if err := logging.Init(logging.Config{
		Level:     logging.ParseLevel(level),
		Output:    out,
		Pretty:    cfg.Log.Pretty,
		LogToFile: cfg.Log.File || !printLogs,
		LogDir:    paths.LogPath(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "winx: log file unavailable: %v\n", err)
	}
	return cfg, paths, nil
}

// newApp wires every component from the loaded configuration.
func newApp() (*app, error) {
	cfg, paths, err := loadConfig()
	if err != nil {
		return nil, err
	}

	defaultMode, err := dispatch.ModeFromConfig(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("config mode: %w", err)
	}

	osFs := afero.NewOsFs()
	bus := event.NewBus()
	store := storage.New(paths.StoragePath())
	ws := workspace.New()
	sh := shell.NewManager(ws, store, bus, shell.OptionsFromConfig(cfg, paths))
	tasks := taskctx.NewManager(store, osFs, bus, taskctx.OptionsFromConfig(cfg))

	d := dispatch.New(dispatch.Deps{
		Workspace:   ws,
		Shell:       sh,
		Editor:      fileedit.New(osFs, fileedit.OptionsFromConfig(cfg)),
		Tasks:       tasks,
		Bus:         bus,
		DefaultMode: defaultMode,
	})

	logging.Info().
		Str("version", Version).
		Str("state", paths.State).
		Str("mode", string(defaultMode.Name)).
		Msg("winx starting")

	return &app{
		config:     cfg,
		paths:      paths,
		bus:        bus,
		store:      store,
		shell:      sh,
		tasks:      tasks,
		dispatcher: d,
		tools:      tool.DefaultRegistry(d),
	}, nil
}

// Close stops the shell and the event bus and flushes the log file.
func (a *app) Close() {
	a.shell.Close()
	a.bus.Close()
	logging.Info().Msg("winx stopped")
	logging.Close()
}
