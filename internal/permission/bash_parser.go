package permission

import (
	"fmt"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BashCommand represents one simple command found in a command line.
type BashCommand struct {
	Name       string   // Command name (e.g., "rm", "git")
	Args       []string // Command arguments
	Subcommand string   // First non-flag argument (e.g., "commit" in "git commit")
}

// Qualified reports whether the command is named by a path, as in
// "./bin/ls" or "/usr/bin/ls", rather than looked up in PATH.
func (c BashCommand) Qualified() bool {
	return strings.Contains(c.Name, "/")
}

// BaseName returns the command name without any directory prefix, so
// "/usr/bin/ls" and "ls" compare equal.
func (c BashCommand) BaseName() string {
	if strings.Contains(c.Name, "/") {
		return filepath.Base(c.Name)
	}
	return c.Name
}

// Redirect is an output redirection found in a command line.
type Redirect struct {
	Op     string // ">", ">>", "&>", ...
	Target string
}

// ParsedCommand is the result of parsing a full command line.
type ParsedCommand struct {
	Commands  []BashCommand
	Redirects []Redirect
	// Assigns lists variables set by the line, either as a prefix of a
	// command ("GIT_PAGER=x git log") or on their own ("X=1").
	Assigns []string
	// Decls lists declaration builtins used, such as "export" or "declare".
	Decls []string
}

// SetsVariables reports whether the line changes the shell environment.
func (p ParsedCommand) SetsVariables() bool {
	return len(p.Assigns) > 0 || len(p.Decls) > 0
}

// WritesFiles reports whether any redirect writes to a real file.
func (p ParsedCommand) WritesFiles() bool {
	for _, r := range p.Redirects {
		if r.Target != "/dev/null" {
			return true
		}
	}
	return false
}

// ParseBashCommand parses a bash command string into its simple commands.
// Commands nested in pipelines, lists, subshells and command substitutions
// are all included.
func ParseBashCommand(command string) ([]BashCommand, error) {
	parsed, err := Parse(command)
	if err != nil {
		return nil, err
	}
	return parsed.Commands, nil
}

// Parse parses a command line into simple commands and output redirects.
func Parse(command string) (ParsedCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return ParsedCommand{}, fmt.Errorf("failed to parse command: %w", err)
	}

	var parsed ParsedCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			for _, as := range n.Assigns {
				if as.Name != nil {
					parsed.Assigns = append(parsed.Assigns, as.Name.Value)
				}
			}
			if cmd := extractCommand(n); cmd != nil {
				parsed.Commands = append(parsed.Commands, *cmd)
			}
		case *syntax.DeclClause:
			variant := "declare"
			if n.Variant != nil {
				variant = n.Variant.Value
			}
			parsed.Decls = append(parsed.Decls, variant)
		case *syntax.Redirect:
			if n.Word == nil {
				break
			}
			target := wordToString(n.Word)
			if isWriteRedirect(n.Op) || (n.Op == syntax.DplOut && !isFdWord(target)) {
				parsed.Redirects = append(parsed.Redirects, Redirect{
					Op:     n.Op.String(),
					Target: target,
				})
			}
		}
		return true
	})

	return parsed, nil
}

func isWriteRedirect(op syntax.RedirOperator) bool {
	switch op {
	case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll, syntax.ClbOut, syntax.RdrInOut:
		return true
	}
	return false
}

// isFdWord reports whether a ">&" target names a descriptor ("2", "-")
// rather than a file.
func isFdWord(word string) bool {
	if word == "-" {
		return true
	}
	word = strings.TrimSuffix(word, "-")
	if word == "" {
		return false
	}
	for _, r := range word {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// extractCommand extracts command name and arguments from a CallExpr.
// Assignment-only statements such as "FOO=1" yield nil.
func extractCommand(call *syntax.CallExpr) *BashCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &BashCommand{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		argStr := wordToString(arg)
		cmd.Args = append(cmd.Args, argStr)

		if cmd.Subcommand == "" && !strings.HasPrefix(argStr, "-") {
			cmd.Subcommand = argStr
		}
	}

	return cmd
}

// wordToString converts a syntax.Word to a string. Expansions are kept as
// placeholders so a dynamic command name never equals a literal allow-list
// entry.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				switch q := qp.(type) {
				case *syntax.Lit:
					sb.WriteString(q.Value)
				case *syntax.ParamExp:
					sb.WriteString(paramString(q))
				case *syntax.CmdSubst:
					sb.WriteString("$()")
				}
			}
		case *syntax.ParamExp:
			sb.WriteString(paramString(p))
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		case *syntax.ArithmExp:
			sb.WriteString("$(())")
		case *syntax.ProcSubst:
			sb.WriteString("<()")
		}
	}
	return sb.String()
}

func paramString(p *syntax.ParamExp) string {
	if p.Param == nil {
		return "$"
	}
	return "$" + p.Param.Value
}
