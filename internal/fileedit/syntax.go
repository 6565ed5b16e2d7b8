package fileedit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/syntax"
)

// SyntaxProblem is one issue found by CheckSyntax. Line is 1-based, or 0
// when the checker could not attribute the problem to a line.
type SyntaxProblem struct {
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

func (p SyntaxProblem) String() string {
	if p.Line == 0 {
		return p.Message
	}
	return fmt.Sprintf("line %d: %s", p.Line, p.Message)
}

type language int

const (
	langNone language = iota
	langJSON
	langJSONC
	langYAML
	langShell
	langBrace
	langPython
)

var braceExtensions = map[string]bool{
	".go": true, ".js": true, ".mjs": true, ".cjs": true, ".jsx": true,
	".ts": true, ".tsx": true, ".c": true, ".h": true, ".cc": true,
	".cpp": true, ".hpp": true, ".cxx": true, ".java": true, ".rs": true,
	".cs": true, ".kt": true, ".kts": true, ".swift": true, ".scala": true,
	".php": true, ".css": true, ".scss": true, ".less": true, ".dart": true,
}

func languageFor(path string) language {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".json":
		return langJSON
	case ext == ".jsonc" || ext == ".json5":
		return langJSONC
	case ext == ".yaml" || ext == ".yml":
		return langYAML
	case ext == ".sh" || ext == ".bash":
		return langShell
	case ext == ".py" || ext == ".pyi":
		return langPython
	case braceExtensions[ext]:
		return langBrace
	}
	return langNone
}

// CheckSyntax runs the text-level checker registered for the file's
// extension. Unknown extensions are never reported.
func CheckSyntax(path string, content []byte) []SyntaxProblem {
	switch languageFor(path) {
	case langJSON:
		return checkJSON(content)
	case langJSONC:
		return checkJSON(jsonc.ToJSON(content))
	case langYAML:
		return checkYAML(content)
	case langShell:
		return checkShell(path, content)
	case langBrace:
		return checkBrackets(content, braceScanner(filepath.Ext(path)))
	case langPython:
		problems := checkBrackets(content, pythonScanner)
		return append(problems, checkPythonIndent(content)...)
	}
	return nil
}

// newProblems returns the problems in after that were not already present
// in before. Problems are compared by message so that edits which only
// shift lines do not count as new.
func newProblems(before, after []SyntaxProblem) []SyntaxProblem {
	seen := make(map[string]int, len(before))
	for _, p := range before {
		seen[p.Message]++
	}
	var added []SyntaxProblem
	for _, p := range after {
		if seen[p.Message] > 0 {
			seen[p.Message]--
			continue
		}
		added = append(added, p)
	}
	return added
}

func checkJSON(content []byte) []SyntaxProblem {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}
	var v any
	err := json.Unmarshal(content, &v)
	if err == nil {
		return nil
	}
	var se *json.SyntaxError
	if errors.As(err, &se) {
		return []SyntaxProblem{{Line: lineOfOffset(content, int(se.Offset)), Message: "invalid JSON: " + se.Error()}}
	}
	return []SyntaxProblem{{Message: "invalid JSON: " + err.Error()}}
}

var yamlLine = regexp.MustCompile(`line (\d+)`)

func checkYAML(content []byte) []SyntaxProblem {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		p := SyntaxProblem{Message: "invalid YAML: " + err.Error()}
		if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
			p.Line, _ = strconv.Atoi(m[1])
			p.Message = "invalid YAML: " + strings.TrimSpace(yamlLine.ReplaceAllString(strings.TrimPrefix(err.Error(), "yaml: "), ""))
		}
		return []SyntaxProblem{p}
	}
}

func checkShell(path string, content []byte) []SyntaxProblem {
	_, err := syntax.NewParser().Parse(bytes.NewReader(content), filepath.Base(path))
	if err == nil {
		return nil
	}
	var pe syntax.ParseError
	if errors.As(err, &pe) {
		return []SyntaxProblem{{Line: int(pe.Pos.Line()), Message: pe.Text}}
	}
	return []SyntaxProblem{{Message: err.Error()}}
}

func lineOfOffset(content []byte, off int) int {
	if off > len(content) {
		off = len(content)
	}
	return bytes.Count(content[:off], []byte("\n")) + 1
}

// scanner describes the comment and string syntax the bracket checker must
// skip for a language family.
type scanner struct {
	lineComments []string
	blockOpen    string
	blockClose   string
	quotes       string
	tripleQuotes bool
	// charLiterals treats ' as a character literal only when it closes
	// within a few bytes, leaving Rust lifetimes alone.
	charLiterals bool
}

var pythonScanner = scanner{
	lineComments: []string{"#"},
	quotes:       `"'`,
	tripleQuotes: true,
}

func braceScanner(ext string) scanner {
	s := scanner{
		lineComments: []string{"//"},
		blockOpen:    "/*",
		blockClose:   "*/",
		quotes:       `"`,
	}
	switch strings.ToLower(ext) {
	case ".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx", ".php", ".dart":
		s.quotes = "\"'`"
	case ".go":
		s.quotes = "\"`"
		s.charLiterals = true
	case ".css", ".scss", ".less":
		s.quotes = `"'`
		if ext == ".css" {
			s.lineComments = nil
		}
	default:
		s.charLiterals = true
	}
	if ext == ".php" {
		s.lineComments = append(s.lineComments, "#")
	}
	return s
}

var closing = map[byte]byte{')': '(', ']': '[', '}': '{'}

type bracket struct {
	ch   byte
	line int
}

// checkBrackets reports unbalanced brackets, unterminated strings and
// unterminated block comments.
func checkBrackets(content []byte, sc scanner) []SyntaxProblem {
	var (
		problems []SyntaxProblem
		stack    []bracket
		line     = 1
	)
	src := string(content)

	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '\n' {
			line++
			continue
		}

		if prefixAny(src[i:], sc.lineComments) {
			nl := strings.IndexByte(src[i:], '\n')
			if nl < 0 {
				break
			}
			i += nl - 1
			continue
		}

		if sc.blockOpen != "" && strings.HasPrefix(src[i:], sc.blockOpen) {
			end := strings.Index(src[i+len(sc.blockOpen):], sc.blockClose)
			if end < 0 {
				problems = append(problems, SyntaxProblem{Line: line, Message: "unterminated block comment"})
				return problems
			}
			body := src[i : i+len(sc.blockOpen)+end+len(sc.blockClose)]
			line += strings.Count(body, "\n")
			i += len(body) - 1
			continue
		}

		if c == '\'' && sc.charLiterals {
			if n := charLiteralLen(src[i:]); n > 0 {
				i += n - 1
			}
			continue
		}

		if strings.IndexByte(sc.quotes, c) >= 0 {
			n, lines, ok := stringLen(src[i:], c, sc.tripleQuotes)
			if !ok {
				problems = append(problems, SyntaxProblem{Line: line, Message: fmt.Sprintf("unterminated string starting with %c", c)})
			}
			line += lines
			i += n - 1
			continue
		}

		switch c {
		case '(', '[', '{':
			stack = append(stack, bracket{c, line})
		case ')', ']', '}':
			want := closing[c]
			if len(stack) == 0 {
				problems = append(problems, SyntaxProblem{Line: line, Message: fmt.Sprintf("unexpected closing %q", c)})
				continue
			}
			top := stack[len(stack)-1]
			if top.ch != want {
				problems = append(problems, SyntaxProblem{Line: line, Message: fmt.Sprintf("closing %q does not match opening %q", c, top.ch)})
			}
			stack = stack[:len(stack)-1]
		}
	}

	for _, b := range stack {
		problems = append(problems, SyntaxProblem{Line: b.line, Message: fmt.Sprintf("unclosed %q", b.ch)})
	}
	return problems
}

func prefixAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// charLiteralLen returns the length of a character literal at the start of
// s, or 0 when the quote does not start one.
func charLiteralLen(s string) int {
	if len(s) >= 3 && s[1] != '\\' && s[1] != '\n' {
		// Multi-byte runes.
		for n := 2; n <= 5 && n < len(s); n++ {
			if s[n] == '\'' {
				return n + 1
			}
			if s[n] == '\n' {
				return 0
			}
		}
		return 0
	}
	if len(s) >= 4 && s[1] == '\\' {
		end := strings.IndexByte(s[3:], '\'')
		if end >= 0 && end < 10 {
			return end + 4
		}
	}
	return 0
}

// stringLen scans a string literal starting at s[0] == quote. It returns the
// number of bytes consumed, the newlines inside it and whether it was
// terminated. Ordinary strings end at an unescaped newline, except
// backtick strings, which may span lines.
func stringLen(s string, quote byte, triple bool) (int, int, bool) {
	if triple && len(s) >= 3 && s[1] == quote && s[2] == quote {
		delim := s[:3]
		end := strings.Index(s[3:], delim)
		if end < 0 {
			return len(s), strings.Count(s, "\n"), false
		}
		n := 3 + end + 3
		return n, strings.Count(s[:n], "\n"), true
	}

	lines := 0
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quote != '`' {
				if i+1 < len(s) && s[i+1] == '\n' {
					lines++
				}
				i++
			}
		case '\n':
			if quote != '`' {
				return i, lines, false
			}
			lines++
		case quote:
			return i + 1, lines, true
		}
	}
	return len(s), lines, false
}

// checkPythonIndent reports indentation mixing tabs and spaces and block
// openers with no indented body.
func checkPythonIndent(content []byte) []SyntaxProblem {
	var problems []SyntaxProblem
	lines := strings.Split(string(content), "\n")

	pendingBlock := 0
	pendingIndent := 0
	depth := 0
	for i, raw := range lines {
		text := strings.TrimRight(raw, " \t\r")
		code := stripPythonComment(text)
		if strings.TrimSpace(code) == "" {
			continue
		}

		indent := leadingSpace(text)
		if depth == 0 {
			if strings.Contains(indent, " ") && strings.Contains(indent, "\t") {
				problems = append(problems, SyntaxProblem{Line: i + 1, Message: "inconsistent use of tabs and spaces in indentation"})
			}
			if pendingBlock > 0 {
				if indentWidth(text) <= pendingIndent {
					problems = append(problems, SyntaxProblem{Line: pendingBlock, Message: "expected an indented block"})
				}
				pendingBlock = 0
			}
		}

		depth += bracketDelta(code)
		if depth < 0 {
			depth = 0
		}
		if depth == 0 && strings.HasSuffix(strings.TrimSpace(code), ":") {
			pendingBlock = i + 1
			pendingIndent = indentWidth(text)
		}
	}
	if pendingBlock > 0 {
		problems = append(problems, SyntaxProblem{Line: pendingBlock, Message: "expected an indented block"})
	}
	return problems
}

func stripPythonComment(s string) string {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#':
			return s[:i]
		}
	}
	return s
}

func bracketDelta(code string) int {
	d := 0
	var quote byte
	for i := 0; i < len(code); i++ {
		c := code[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '[', '{':
			d++
		case ')', ']', '}':
			d--
		}
	}
	return d
}
