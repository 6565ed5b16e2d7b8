package permission

import (
	"regexp"
	"strings"
)

// DangerLevel classifies a command line. It is advisory: the mode decides
// whether a command runs, the level only annotates the result.
type DangerLevel int

const (
	Safe DangerLevel = iota
	Warning
	Dangerous
)

func (l DangerLevel) String() string {
	switch l {
	case Warning:
		return "warning"
	case Dangerous:
		return "dangerous"
	default:
		return "safe"
	}
}

// Assessment is the safety classification of a command line.
type Assessment struct {
	Level  DangerLevel
	Reason string
}

var (
	sensitiveFile = regexp.MustCompile(`^/etc/(passwd|shadow|hosts|fstab|sudoers)$`)
	blockDevice   = regexp.MustCompile(`^/dev/(sd|hd|nvme|xvd|vd|mmcblk)`)
	forkBomb      = regexp.MustCompile(`:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)
)

var shellInterpreters = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true}

// AssessCommand classifies a command line. Unparseable input is reported as
// a warning rather than an error.
func AssessCommand(command string) Assessment {
	if forkBomb.MatchString(command) {
		return Assessment{Dangerous, "command is a fork bomb"}
	}

	parsed, err := Parse(command)
	if err != nil {
		return Assessment{Warning, "command could not be parsed"}
	}

	for _, r := range parsed.Redirects {
		if sensitiveFile.MatchString(r.Target) {
			return Assessment{Dangerous, "command overwrites " + r.Target}
		}
	}

	worst := Assessment{Level: Safe}
	raise := func(a Assessment) {
		if a.Level > worst.Level {
			worst = a
		}
	}

	downloads := false
	for i, cmd := range parsed.Commands {
		cmd = unwrapCommand(cmd)
		name := cmd.BaseName()
		switch {
		case name == "rm" && recursiveForce(cmd.Args) && targetsRoot(cmd.Args):
			raise(Assessment{Dangerous, "command could delete the entire filesystem"})
		case name == "chmod" || name == "chown":
			if hasFlag(cmd.Args, "R") && targetsRoot(cmd.Args) {
				raise(Assessment{Dangerous, "command changes ownership or permissions of the entire filesystem"})
			}
		case name == "dd":
			for _, arg := range cmd.Args {
				if strings.HasPrefix(arg, "of=") && blockDevice.MatchString(strings.TrimPrefix(arg, "of=")) {
					raise(Assessment{Dangerous, "command could destroy disk data"})
				}
			}
		case strings.HasPrefix(name, "mkfs"):
			raise(Assessment{Dangerous, "command formats a filesystem"})
		case name == "curl" || name == "wget":
			downloads = true
			raise(Assessment{Warning, "command downloads content from the internet"})
		case shellInterpreters[name] && downloads && i > 0:
			raise(Assessment{Dangerous, "command pipes downloaded content into a shell"})
		case name == "eval":
			raise(Assessment{Warning, "command uses eval"})
		}

		for _, arg := range cmd.Args {
			if strings.HasPrefix(arg, "/etc/") {
				raise(Assessment{Warning, "command accesses system configuration files"})
			}
		}
	}

	return worst
}

// commandWrappers run their first non-flag argument as a command.
var commandWrappers = map[string]bool{
	"sudo": true, "doas": true, "nohup": true, "nice": true, "time": true,
	"command": true, "exec": true,
}

// unwrapCommand strips wrappers such as "sudo -E" so the wrapped command
// is assessed.
func unwrapCommand(cmd BashCommand) BashCommand {
	for commandWrappers[cmd.BaseName()] {
		i := 0
		for i < len(cmd.Args) && strings.HasPrefix(cmd.Args[i], "-") {
			i++
		}
		if i >= len(cmd.Args) {
			return cmd
		}
		cmd = BashCommand{Name: cmd.Args[i], Args: cmd.Args[i+1:]}
	}
	return cmd
}

func hasFlag(args []string, letter string) bool {
	for _, arg := range args {
		if strings.HasPrefix(arg, "--") {
			continue
		}
		if strings.HasPrefix(arg, "-") && strings.Contains(arg, letter) {
			return true
		}
	}
	return false
}

func recursiveForce(args []string) bool {
	recursive := hasFlag(args, "r") || hasFlag(args, "R")
	force := hasFlag(args, "f")
	for _, arg := range args {
		switch arg {
		case "--recursive":
			recursive = true
		case "--force":
			force = true
		}
	}
	return recursive && force
}

func targetsRoot(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "/", "/*", "~", "~/", "$HOME":
			return true
		}
	}
	return false
}
