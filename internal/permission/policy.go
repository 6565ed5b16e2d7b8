package permission

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rokytory/winx-code-agent/internal/workspace"
)

// Policy authorizes actions against the workspace's active mode.
type Policy struct {
	ws *workspace.Workspace
}

// NewPolicy creates a policy bound to a workspace.
func NewPolicy(ws *workspace.Workspace) *Policy {
	return &Policy{ws: ws}
}

// Authorize returns nil when the active mode allows the action and a
// *DeniedError otherwise. The mode is read under the workspace read lock,
// so concurrent calls never observe a half-applied reinitialization.
func (p *Policy) Authorize(action Action) error {
	snap := p.ws.Snapshot()
	d := Evaluate(snap.Mode, snap.Root, action)
	if d.Allowed {
		return nil
	}
	return &DeniedError{Action: action, Mode: snap.Mode.Name, Reason: d.Reason}
}

// RequireValidSyntax reports whether edits must pass a syntax check before
// they are written.
func (p *Policy) RequireValidSyntax() bool {
	mode := p.ws.Mode()
	return mode.Name == workspace.Restricted && mode.Restricted.RequireValidSyntax
}

// Evaluate decides an action for a mode. It has no side effects. Relative
// paths and relative globs are resolved against root.
func Evaluate(mode workspace.Mode, root string, action Action) Decision {
	switch mode.Name {
	case workspace.FullAccess:
		return allow()

	case workspace.ReadOnly:
		switch action.Kind {
		case ReadPath:
			return allow()
		case RunCommand:
			return evaluateReadOnlyCommand(action.Target)
		default:
			return deny("%s is not allowed; files cannot be changed", action.Kind)
		}

	case workspace.Restricted:
		switch action.Kind {
		case ReadPath:
			return allow()
		case RunCommand:
			return evaluateRestrictedCommand(mode.Restricted, root, action.Target)
		case WritePath, EditPath:
			return evaluatePath(mode.Restricted.AllowedGlobs, root, action.Target)
		}
	}

	return deny("unknown mode %q", mode.Name)
}

func evaluateReadOnlyCommand(command string) Decision {
	parsed, err := Parse(command)
	if err != nil {
		return deny("command could not be parsed: %v", err)
	}
	for _, cmd := range parsed.Commands {
		if reason, ok := readOnlyCommand(cmd); !ok {
			return deny("%s", reason)
		}
	}
	if parsed.SetsVariables() {
		return deny("setting shell variables is not allowed")
	}
	if parsed.WritesFiles() {
		return deny("output redirection to a file is not allowed")
	}
	return allow()
}

// evaluateRestrictedCommand checks every simple command against the
// allowed commands and every file redirect against the allowed globs.
func evaluateRestrictedCommand(cfg workspace.RestrictedConfig, root, command string) Decision {
	allowed := cfg.AllowedCommands
	if allowed.All && cfg.AllowedGlobs.All {
		return allow()
	}
	if !allowed.All && len(allowed.Items) == 0 {
		return deny("no commands are allowed")
	}

	parsed, err := Parse(command)
	if err != nil {
		return deny("command could not be parsed: %v", err)
	}

	if !allowed.All {
		for _, cmd := range parsed.Commands {
			if !commandAllowed(allowed.Items, cmd) {
				return deny("command %q is not in the allowed list (%s)", cmd.Name, allowed)
			}
		}
		if len(parsed.Assigns) > 0 {
			return deny("setting shell variables (%s) is not allowed", strings.Join(parsed.Assigns, ", "))
		}
		for _, decl := range parsed.Decls {
			if !commandAllowed(allowed.Items, BashCommand{Name: decl}) {
				return deny("%q is not in the allowed list (%s)", decl, allowed)
			}
		}
	}

	for _, r := range parsed.Redirects {
		if r.Target == "/dev/null" {
			continue
		}
		if strings.ContainsAny(r.Target, "$`") || strings.HasPrefix(r.Target, "~") {
			return deny("redirect target %q cannot be checked against the allowed globs", r.Target)
		}
		if d := evaluatePath(cfg.AllowedGlobs, root, r.Target); !d.Allowed {
			return d
		}
	}
	return allow()
}

// commandAllowed matches the command's leading tokens against each entry.
// A single-word entry matches the command name; a multi-word entry such as
// "git status" also requires the following arguments to match in order.
// A command named by a path only matches an entry that is the same path.
func commandAllowed(entries []string, cmd BashCommand) bool {
	words := append([]string{cmd.Name}, cmd.Args...)
	for _, entry := range entries {
		fields := strings.Fields(entry)
		if len(fields) == 0 || len(fields) > len(words) {
			continue
		}
		if fields[0] != cmd.Name {
			continue
		}
		match := true
		for i := 1; i < len(fields); i++ {
			if fields[i] != words[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func evaluatePath(allowed workspace.AllowedItems, root, target string) Decision {
	if allowed.All {
		return allow()
	}
	if len(allowed.Items) == 0 {
		return deny("no paths are writable")
	}

	path := ResolvePath(root, target)
	if MatchAnyGlob(allowed.Items, root, path) {
		return allow()
	}
	return deny("path %q does not match the allowed globs (%s)", path, allowed)
}

// ResolvePath makes target absolute against root and cleans it.
func ResolvePath(root, target string) string {
	if strings.HasPrefix(target, "~/") {
		return target
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	return filepath.Clean(target)
}

// MatchAnyGlob reports whether path matches any pattern. Relative patterns
// are anchored at root. Invalid patterns never match.
func MatchAnyGlob(patterns []string, root, path string) bool {
	for _, pattern := range patterns {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(root, pattern)
		}
		if ok, err := doublestar.PathMatch(filepath.Clean(pattern), path); err == nil && ok {
			return true
		}
	}
	return false
}
