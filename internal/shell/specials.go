package shell

import (
	"fmt"
	"strings"
)

// Special is a named key that can be sent to a running command. Raw escape
// sequences are never accepted from callers; every key goes through this
// table.
type Special string

const (
	KeyEnter Special = "Enter"
	KeyUp    Special = "Key-up"
	KeyDown  Special = "Key-down"
	KeyLeft  Special = "Key-left"
	KeyRight Special = "Key-right"
	CtrlC    Special = "Ctrl-c"
	CtrlD    Special = "Ctrl-d"
)

type keySequence struct {
	pty  string // bytes written to the pty
	tmux string // tmux send-keys key name
}

var specialKeys = map[Special]keySequence{
	KeyEnter: {pty: "\r", tmux: "Enter"},
	KeyUp:    {pty: "\x1b[A", tmux: "Up"},
	KeyDown:  {pty: "\x1b[B", tmux: "Down"},
	KeyRight: {pty: "\x1b[C", tmux: "Right"},
	KeyLeft:  {pty: "\x1b[D", tmux: "Left"},
	CtrlC:    {pty: "\x03", tmux: "C-c"},
	CtrlD:    {pty: "\x04", tmux: "C-d"},
}

// Specials lists the supported key names.
func Specials() []Special {
	return []Special{KeyEnter, KeyUp, KeyDown, KeyLeft, KeyRight, CtrlC, CtrlD}
}

// ParseSpecial resolves a key name. Matching ignores case and accepts "_"
// or a space in place of "-".
func ParseSpecial(name string) (Special, error) {
	norm := strings.ToLower(strings.TrimSpace(name))
	norm = strings.NewReplacer("_", "-", " ", "-").Replace(norm)
	for key := range specialKeys {
		if strings.ToLower(string(key)) == norm {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnknownSpecial, name, joinSpecials())
}

// ParseSpecials resolves every name, failing on the first unknown one.
func ParseSpecials(names []string) ([]Special, error) {
	keys := make([]Special, 0, len(names))
	for _, name := range names {
		key, err := ParseSpecial(name)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func joinSpecials() string {
	names := make([]string, 0, len(specialKeys))
	for _, key := range Specials() {
		names = append(names, string(key))
	}
	return strings.Join(names, ", ")
}
