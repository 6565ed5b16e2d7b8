// Package config provides configuration loading, merging, and path management for winx.
//
// # Configuration Loading
//
// Load searches for and merges configuration from multiple sources in
// priority order, later sources overriding earlier ones:
//
//  1. Global config ($XDG_CONFIG_HOME/winx/winx.{json,jsonc,yaml,yml})
//  2. Project config (<dir>/.winx/winx.{json,jsonc,yaml,yml})
//  3. WINX_CONFIG file
//  4. WINX_CONFIG_CONTENT inline JSON
//  5. Environment variables (WINX_LOG_LEVEL, WINX_MODE, WINX_STATE_DIR,
//     WINX_SHELL, WINX_DEFAULT_WAIT)
//
// # Supported Formats
//
//   - winx.json / winx.jsonc - JSON, comments stripped with tidwall/jsonc
//   - winx.yaml / winx.yml - YAML decoded with gopkg.in/yaml.v3
//
// # Variable Interpolation
//
// Values may reference {env:NAME} and {file:path}. File paths are resolved
// relative to the directory containing the config file; ~/ expands to $HOME.
//
// # Paths
//
// GetPaths follows the XDG base directory layout. The state directory holds
// the document store (checkpoints and background job snapshots), background
// job output, and log files.
package config
