package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// configNames are tried in this order inside every config directory.
var configNames = []string{"winx.json", "winx.jsonc", "winx.yaml", "winx.yml"}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/winx/)
// 2. Project config (<directory>/.winx/)
// 3. WINX_CONFIG file
// 4. WINX_CONFIG_CONTENT inline JSON
// 5. Environment variables
//
// Missing files are skipped. A file that exists but fails to parse is an
// error, so a typo never silently falls back to defaults.
func Load(directory string) (*Config, error) {
	config := &Config{}
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) error {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil
		}
		if loaded[absPath] {
			return nil
		}
		if err := loadConfigFile(path, config, baseDir); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
		loaded[absPath] = true
		return nil
	}

	// 1. XDG global config
	globalPath := GetPaths().Config
	for _, name := range configNames {
		if err := loadOnce(filepath.Join(globalPath, name), globalPath); err != nil {
			return nil, err
		}
	}

	// 2. Project config
	if directory != "" {
		projectDir := filepath.Join(directory, ".winx")
		for _, name := range configNames {
			if err := loadOnce(filepath.Join(projectDir, name), projectDir); err != nil {
				return nil, err
			}
		}
	}

	// 3. WINX_CONFIG file override
	if configPath := os.Getenv("WINX_CONFIG"); configPath != "" {
		if err := loadOnce(configPath, filepath.Dir(configPath)); err != nil {
			return nil, err
		}
	}

	// 4. WINX_CONFIG_CONTENT inline JSON
	if content := os.Getenv("WINX_CONFIG_CONTENT"); content != "" {
		var inline Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(content)), &inline); err != nil {
			return nil, fmt.Errorf("parse WINX_CONFIG_CONTENT: %w", err)
		}
		mergeConfig(config, &inline)
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	config.ApplyDefaults()
	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
// JSON and JSONC are decoded with encoding/json after comment stripping,
// .yaml/.yml with yaml.v3.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fileConfig Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data = interpolate(data, baseDir, false)
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	default:
		data = jsonc.ToJSON(data)
		data = interpolate(data, baseDir, true)
		if err := json.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders. File
// contents are escaped for embedding in a JSON string when jsonEscape is set.
func interpolate(data []byte, baseDir string, jsonEscape bool) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}

		value := strings.TrimRight(string(content), "\n")
		if !jsonEscape {
			return value
		}
		quoted, _ := json.Marshal(value)
		return string(quoted[1 : len(quoted)-1])
	})

	return []byte(str)
}

// mergeConfig merges non-zero source fields into target.
func mergeConfig(target, source *Config) {
	if source.StateDir != "" {
		target.StateDir = source.StateDir
	}

	if source.Log.Level != "" {
		target.Log.Level = source.Log.Level
	}
	if source.Log.File {
		target.Log.File = true
	}
	if source.Log.Pretty {
		target.Log.Pretty = true
	}

	if source.Shell.Path != "" {
		target.Shell.Path = source.Shell.Path
	}
	if source.Shell.Tmux != "" {
		target.Shell.Tmux = source.Shell.Tmux
	}
	if source.Shell.DefaultWaitSeconds > 0 {
		target.Shell.DefaultWaitSeconds = source.Shell.DefaultWaitSeconds
	}
	if source.Shell.MaxWaitSeconds > 0 {
		target.Shell.MaxWaitSeconds = source.Shell.MaxWaitSeconds
	}
	if source.Shell.OutputHeadBytes > 0 {
		target.Shell.OutputHeadBytes = source.Shell.OutputHeadBytes
	}
	if source.Shell.OutputTailBytes > 0 {
		target.Shell.OutputTailBytes = source.Shell.OutputTailBytes
	}

	if source.Read.MaxLines > 0 {
		target.Read.MaxLines = source.Read.MaxLines
	}
	if source.Read.MaxBytes > 0 {
		target.Read.MaxBytes = source.Read.MaxBytes
	}

	if source.Checkpoint.MaxFiles > 0 {
		target.Checkpoint.MaxFiles = source.Checkpoint.MaxFiles
	}
	if source.Checkpoint.MaxFileBytes > 0 {
		target.Checkpoint.MaxFileBytes = source.Checkpoint.MaxFileBytes
	}

	// Mode is replaced as a unit: mixing allow-lists from different files
	// would produce a policy nobody wrote.
	if source.Mode.Name != "" {
		target.Mode = source.Mode
	}

	if source.HTTP.Addr != "" {
		target.HTTP.Addr = source.HTTP.Addr
	}
	if len(source.HTTP.CORSOrigins) > 0 {
		target.HTTP.CORSOrigins = source.HTTP.CORSOrigins
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *Config) {
	if level := os.Getenv("WINX_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if mode := os.Getenv("WINX_MODE"); mode != "" {
		config.Mode = ModeConfig{Name: mode}
	}
	if dir := os.Getenv("WINX_STATE_DIR"); dir != "" {
		config.StateDir = dir
	}
	if shell := os.Getenv("WINX_SHELL"); shell != "" {
		config.Shell.Path = shell
	}
	if addr := os.Getenv("WINX_HTTP_ADDR"); addr != "" {
		config.HTTP.Addr = addr
	}
	if wait := os.Getenv("WINX_DEFAULT_WAIT"); wait != "" {
		if v, err := strconv.ParseFloat(wait, 64); err == nil && v > 0 {
			config.Shell.DefaultWaitSeconds = v
		}
	}
}

// Save writes the configuration as indented JSON.
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
