package fileedit

import (
	"regexp"
	"strings"
)

// Block is one search/replace pair.
type Block struct {
	Search  string
	Replace string
}

var (
	searchMarker   = regexp.MustCompile(`^<{7,}\s*SEARCH\s*$`)
	dividerMarker  = regexp.MustCompile(`^={7,}\s*$`)
	replaceMarker  = regexp.MustCompile(`^>{7,}\s*REPLACE\s*$`)
	originalMarker = regexp.MustCompile(`^<{7,}\s*ORIGINAL\s*$`)
	updatedMarker  = regexp.MustCompile(`^>{7,}\s*UPDATED\s*$`)
)

// ParseBlocks parses edit text made of
//
//	<<<<<<< SEARCH
//	old lines
//	=======
//	new lines
//	>>>>>>> REPLACE
//
// blocks. Text between blocks is ignored.
func ParseBlocks(text string) ([]Block, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var blocks []Block
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case originalMarker.MatchString(line):
			return nil, &BlockParseError{Line: i + 1, Message: "found '<<<<<<< ORIGINAL', use '<<<<<<< SEARCH' instead"}
		case updatedMarker.MatchString(line):
			return nil, &BlockParseError{Line: i + 1, Message: "found '>>>>>>> UPDATED', use '>>>>>>> REPLACE' instead"}
		case dividerMarker.MatchString(line), replaceMarker.MatchString(line):
			return nil, &BlockParseError{Line: i + 1, Message: "marker outside of a SEARCH block"}
		case !searchMarker.MatchString(line):
			continue
		}

		start := i
		var search, replace []string
		for i++; ; i++ {
			if i >= len(lines) {
				return nil, &BlockParseError{Line: start + 1, Message: "SEARCH block is missing its '=======' divider"}
			}
			if dividerMarker.MatchString(lines[i]) {
				break
			}
			if searchMarker.MatchString(lines[i]) || replaceMarker.MatchString(lines[i]) {
				return nil, &BlockParseError{Line: i + 1, Message: "unexpected marker inside SEARCH section"}
			}
			search = append(search, lines[i])
		}
		for i++; ; i++ {
			if i >= len(lines) {
				return nil, &BlockParseError{Line: start + 1, Message: "block is missing its '>>>>>>> REPLACE' marker"}
			}
			if replaceMarker.MatchString(lines[i]) {
				break
			}
			if updatedMarker.MatchString(lines[i]) {
				return nil, &BlockParseError{Line: i + 1, Message: "found '>>>>>>> UPDATED', use '>>>>>>> REPLACE' instead"}
			}
			if searchMarker.MatchString(lines[i]) || dividerMarker.MatchString(lines[i]) {
				return nil, &BlockParseError{Line: i + 1, Message: "unexpected marker inside REPLACE section"}
			}
			replace = append(replace, lines[i])
		}

		if strings.TrimSpace(strings.Join(search, "")) == "" {
			return nil, &BlockParseError{Line: start + 1, Message: "SEARCH section is empty"}
		}
		blocks = append(blocks, Block{
			Search:  strings.Join(search, "\n"),
			Replace: strings.Join(replace, "\n"),
		})
	}

	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}
	return blocks, nil
}

// LooksLikeBlocks reports whether text contains a SEARCH marker line, so a
// caller can tell edit blocks from full file content.
func LooksLikeBlocks(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if searchMarker.MatchString(strings.TrimRight(line, "\r")) {
			return true
		}
	}
	return false
}
