// Package permission decides whether an action may run under the active
// workspace mode.
//
// # Overview
//
// Every operation that reaches the dispatcher is described as an Action:
// RunCommand, ReadPath, WritePath or EditPath. Evaluate maps a mode and an
// action to a Decision without side effects; Policy.Authorize applies it to
// the shared workspace and returns a *DeniedError on refusal.
//
// # Modes
//
//   - full_access: everything is allowed.
//   - read_only: reads are allowed; commands must consist only of
//     non-mutating programs (ls, cat, grep, git status, ...) with no output
//     redirected to a file; writes and edits are refused.
//   - restricted: each simple command's leading tokens must match an entry
//     of the allowed command list, and written or edited paths must match
//     one of the allowed doublestar globs. Either list may be "all".
//
// # Bash Command Parsing
//
// Commands are parsed with mvdan.cc/sh, so pipelines, lists, subshells and
// command substitutions are checked command by command:
//
//	commands, err := ParseBashCommand("git commit -m 'fix bug'")
//	// Returns: BashCommand{Name: "git", Subcommand: "commit", Args: ["commit", "-m", "fix bug"]}
//
// Input that does not parse is refused in every mode except full_access.
//
// # Safety Assessment
//
// AssessCommand classifies a command line as safe, warning or dangerous
// (recursive deletes of /, writes to block devices, piping downloads into a
// shell). The level is attached to command results; it does not block.
//
// # Doom Loop Detection
//
// DoomLoopDetector reports when the same tool is called with byte-identical
// input DoomLoopThreshold times in a row.
package permission
