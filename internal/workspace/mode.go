package workspace

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ModeName identifies a permission mode.
type ModeName string

const (
	// FullAccess allows every action.
	FullAccess ModeName = "full_access"
	// ReadOnly allows reads and a fixed set of non-mutating commands.
	ReadOnly ModeName = "read_only"
	// Restricted allows configured commands and writes under configured globs.
	Restricted ModeName = "restricted"
)

// ParseModeName accepts the canonical names plus the legacy aliases
// wcgw, architect and code_writer.
func ParseModeName(s string) (ModeName, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))) {
	case "", "full_access", "fullaccess", "wcgw":
		return FullAccess, nil
	case "read_only", "readonly", "architect":
		return ReadOnly, nil
	case "restricted", "code_writer", "codewriter":
		return Restricted, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// AllowedItems is either the wildcard "all" or an explicit list.
// The zero value allows nothing.
type AllowedItems struct {
	All   bool
	Items []string
}

// AllowAll returns the wildcard.
func AllowAll() AllowedItems {
	return AllowedItems{All: true}
}

// AllowList returns an explicit list.
func AllowList(items ...string) AllowedItems {
	return AllowedItems{Items: items}
}

// MarshalJSON encodes the wildcard as "all" and lists as arrays.
func (a AllowedItems) MarshalJSON() ([]byte, error) {
	if a.All {
		return json.Marshal("all")
	}
	if a.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.Items)
}

// UnmarshalJSON accepts "all", a single string, or an array of strings.
// An array containing "all" is the wildcard.
func (a *AllowedItems) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.EqualFold(s, "all") {
			*a = AllowAll()
		} else {
			*a = AllowList(s)
		}
		return nil
	}

	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("allowed items must be \"all\" or a list of strings: %w", err)
	}
	for _, item := range items {
		if strings.EqualFold(item, "all") {
			*a = AllowAll()
			return nil
		}
	}
	*a = AllowList(items...)
	return nil
}

// FromList converts a config list, where a sole "all" entry is the wildcard.
func FromList(items []string) AllowedItems {
	for _, item := range items {
		if strings.EqualFold(item, "all") {
			return AllowAll()
		}
	}
	return AllowList(items...)
}

func (a AllowedItems) String() string {
	if a.All {
		return "all"
	}
	if len(a.Items) == 0 {
		return "none"
	}
	return strings.Join(a.Items, ", ")
}

// RestrictedConfig configures the Restricted mode.
type RestrictedConfig struct {
	AllowedCommands AllowedItems `json:"allowed_commands"`
	AllowedGlobs    AllowedItems `json:"allowed_globs"`
	// RequireValidSyntax rejects edits that introduce syntax problems
	// before anything is written.
	RequireValidSyntax bool `json:"require_valid_syntax,omitempty"`
}

// Mode is the active permission mode.
type Mode struct {
	Name       ModeName         `json:"name"`
	Restricted RestrictedConfig `json:"restricted,omitempty"`
}

// String returns the mode name.
func (m Mode) String() string {
	return string(m.Name)
}

// Describe returns the text shown to a client after initialization.
func (m Mode) Describe() string {
	switch m.Name {
	case ReadOnly:
		return "# Mode: read_only\nFiles can be read. Only non-mutating shell commands run; writes and edits are refused. Use this mode for planning and understanding code."
	case Restricted:
		return fmt.Sprintf("# Mode: restricted\nAllowed commands: %s\nWritable paths: %s\nEverything else is refused.",
			m.Restricted.AllowedCommands, m.Restricted.AllowedGlobs)
	default:
		return "# Mode: full_access\nAll operations are allowed."
	}
}
