package permission

import (
	"fmt"
	"strings"
)

// readOnlyCommands never modify files regardless of arguments.
var readOnlyCommands = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true,
	"grep": true, "egrep": true, "fgrep": true, "rg": true, "ag": true,
	"pwd": true, "echo": true, "printf": true, "wc": true,
	"stat": true, "file": true, "du": true, "df": true, "which": true,
	"whereis": true, "type": true, "printenv": true, "date": true,
	"whoami": true, "id": true, "uname": true,
	"basename": true, "dirname": true, "realpath": true, "readlink": true,
	"diff": true, "cmp": true, "md5sum": true, "sha1sum": true, "sha256sum": true,
	"cut": true, "tr": true, "nl": true, "od": true, "jq": true, "ps": true,
	"true": true, "false": true, "test": true, "[": true, "cd": true,
}

// gitReadOnly lists git subcommands that only inspect the repository.
var gitReadOnly = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true, "blame": true,
	"rev-parse": true, "ls-files": true, "ls-tree": true, "describe": true,
	"shortlog": true, "grep": true, "cat-file": true,
}

// findWriteFlags make find run commands or write files.
var findWriteFlags = map[string]bool{
	"-delete": true, "-exec": true, "-execdir": true, "-ok": true, "-okdir": true,
	"-fprint": true, "-fprint0": true, "-fprintf": true, "-fls": true,
}

// gitWriteFlags make an inspecting git command write a file or run a
// program.
var gitWriteFlags = []string{"--output", "-O", "--open-files-in-pager"}

// pagerFlags make a search tool run an arbitrary program.
var pagerFlags = map[string][]string{
	"rg": {"--pre", "--pre-glob"},
	"ag": {"--pager"},
}

// hasAnyFlag reports whether args contain any of flags, alone, in --flag=value
// form, or for short flags with the value attached.
func hasAnyFlag(args, flags []string) (string, bool) {
	for _, arg := range args {
		if arg == "--" {
			return "", false
		}
		for _, f := range flags {
			if arg == f || strings.HasPrefix(arg, f+"=") ||
				(!strings.HasPrefix(f, "--") && strings.HasPrefix(arg, f)) {
				return f, true
			}
		}
	}
	return "", false
}

// readOnlyCommand reports whether cmd is on the fixed read-only list.
// Commands named by a path are never on it, since the file may be anything.
func readOnlyCommand(cmd BashCommand) (string, bool) {
	if cmd.Qualified() {
		return fmt.Sprintf("command %q is named by a path; only commands found in PATH are read-only", cmd.Name), false
	}
	name := cmd.Name

	if flags, ok := pagerFlags[name]; ok {
		if f, found := hasAnyFlag(cmd.Args, flags); found {
			return fmt.Sprintf("%s %s runs another program", name, f), false
		}
	}

	switch name {
	case "git":
		if !gitReadOnly[cmd.Subcommand] {
			return fmt.Sprintf("git %s is not a read-only git command", cmd.Subcommand), false
		}
		if f, found := hasAnyFlag(cmd.Args, gitWriteFlags); found {
			return fmt.Sprintf("git %s %s writes a file or runs a program", cmd.Subcommand, f), false
		}
		return "", true
	case "printf":
		if _, found := hasAnyFlag(cmd.Args, []string{"-v"}); found {
			return "printf -v assigns a shell variable", false
		}
		return "", true
	case "find":
		for _, arg := range cmd.Args {
			if findWriteFlags[arg] {
				return fmt.Sprintf("find %s can modify files", arg), false
			}
		}
		return "", true
	case "sort", "tree":
		for _, arg := range cmd.Args {
			if arg == "-o" || strings.HasPrefix(arg, "--output") {
				return name + " -o writes a file", false
			}
			if strings.HasPrefix(arg, "--compress-program") {
				return name + " --compress-program runs another program", false
			}
		}
		return "", true
	}

	if readOnlyCommands[name] {
		return "", true
	}
	return fmt.Sprintf("command %q is not a read-only command", cmd.Name), false
}
