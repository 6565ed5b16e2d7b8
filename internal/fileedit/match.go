package fileedit

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

const (
	maxCandidates = 3
	// Files longer than this only rank windows that share a line with the
	// search block.
	fullScanLines = 2000
)

// Location is a search block resolved to a unique place in the content.
type Location struct {
	// Start and End are byte offsets of the matched text.
	Start, End int
	// StartLine and EndLine are 1-based and inclusive.
	StartLine, EndLine int
	// Tolerant is set when the match needed indentation or trailing
	// whitespace tolerance.
	Tolerant bool

	eol        string
	deleteEOL  int
	indents    map[string]string
	searchBase string
	fileBase   string
	fileUnit   string
}

type line struct {
	start, end int    // byte range without the line ending
	eol        string // "\n", "\r\n" or "" for the last line
	text       string
}

func splitLines(content string) []line {
	var lines []line
	pos := 0
	for pos < len(content) {
		nl := strings.IndexByte(content[pos:], '\n')
		if nl < 0 {
			lines = append(lines, line{start: pos, end: len(content), text: content[pos:]})
			break
		}
		end := pos + nl
		eol := "\n"
		if end > pos && content[end-1] == '\r' {
			end--
			eol = "\r\n"
		}
		lines = append(lines, line{start: pos, end: end, eol: eol, text: content[pos:end]})
		pos += nl + 1
	}
	return lines
}

// lineKey is the part of a line that must match exactly: indentation and
// trailing whitespace are ignored, everything in between is not.
func lineKey(s string) string {
	return strings.TrimRight(strings.TrimLeft(s, " \t"), " \t\r")
}

func leadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

func indentWidth(s string) int {
	w := 0
	for _, r := range leadingSpace(s) {
		if r == '\t' {
			w += 4
		} else {
			w++
		}
	}
	return w
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}

// Locate finds the unique place of search in content. Matches always cover
// whole lines. It tries an exact match of the raw lines first, then a line
// match that ignores indentation width, tabs versus spaces and trailing
// whitespace while requiring the same relative indentation structure.
// Ambiguity yields *AmbiguousMatchError; no match yields *NoMatchError with
// the closest regions.
func Locate(content, search string) (Location, error) {
	lines := splitLines(content)

	// A trailing newline in the search block takes the line ending with it.
	body, withEOL := search, false
	if len(body) > 1 && strings.HasSuffix(body, "\n") {
		body, withEOL = body[:len(body)-1], true
	}
	exact := strings.Split(body, "\n")
	var starts []int
	for i := 0; strings.TrimSpace(body) != "" && i+len(exact) <= len(lines); i++ {
		if lines[i].text != exact[0] {
			continue
		}
		last := lines[i+len(exact)-1]
		if content[lines[i].start:last.end] == body && (!withEOL || last.eol == "\n") {
			starts = append(starts, i)
		}
	}
	switch len(starts) {
	case 1:
		first, last := lines[starts[0]], lines[starts[0]+len(exact)-1]
		loc := Location{
			Start:     first.start,
			End:       last.end,
			StartLine: starts[0] + 1,
			EndLine:   starts[0] + len(exact),
			deleteEOL: len(last.eol),
		}
		if withEOL {
			loc.End, loc.deleteEOL = last.end+len(last.eol), 0
		}
		return loc, nil
	case 0:
	default:
		return Location{}, &AmbiguousMatchError{Lines: lineNumbers(starts)}
	}

	want := trimBlankEdges(exact)
	if len(want) == 0 || len(want) > len(lines) {
		return Location{}, &NoMatchError{Search: search, Candidates: closestRegions(lines, want)}
	}

	starts = starts[:0]
	for i := 0; i+len(want) <= len(lines); i++ {
		if windowMatches(lines[i:i+len(want)], want) {
			starts = append(starts, i)
		}
	}
	switch len(starts) {
	case 0:
		return Location{}, &NoMatchError{Search: search, Candidates: closestRegions(lines, want)}
	case 1:
		return tolerantLocation(lines, starts[0], want), nil
	default:
		return Location{}, &AmbiguousMatchError{Lines: lineNumbers(starts)}
	}
}

// lineNumbers converts 0-based line indexes to 1-based line numbers.
func lineNumbers(starts []int) []int {
	at := make([]int, len(starts))
	for i, s := range starts {
		at[i] = s + 1
	}
	return at
}

func trimBlankEdges(ls []string) []string {
	for len(ls) > 0 && strings.TrimSpace(ls[0]) == "" {
		ls = ls[1:]
	}
	for len(ls) > 0 && strings.TrimSpace(ls[len(ls)-1]) == "" {
		ls = ls[:len(ls)-1]
	}
	return ls
}

func windowMatches(window []line, want []string) bool {
	prevFile, prevWant := -1, -1
	for j := range want {
		if lineKey(window[j].text) != lineKey(want[j]) {
			return false
		}
		if lineKey(want[j]) == "" {
			continue
		}
		fw, ww := indentWidth(window[j].text), indentWidth(want[j])
		if prevFile >= 0 && sign(fw-prevFile) != sign(ww-prevWant) {
			return false
		}
		prevFile, prevWant = fw, ww
	}
	return true
}

func tolerantLocation(lines []line, start int, want []string) Location {
	first, last := lines[start], lines[start+len(want)-1]
	loc := Location{
		Start:     first.start,
		End:       last.end,
		StartLine: start + 1,
		EndLine:   start + len(want),
		Tolerant:  true,
		eol:       "\n",
		indents:   make(map[string]string),
	}
	if first.eol == "\r\n" {
		loc.eol = "\r\n"
	}
	loc.deleteEOL = len(last.eol)

	widths := map[int]bool{}
	for j, w := range want {
		if lineKey(w) == "" {
			continue
		}
		fileIndent := leadingSpace(lines[start+j].text)
		searchIndent := leadingSpace(w)
		if len(loc.indents) == 0 {
			loc.searchBase, loc.fileBase = searchIndent, fileIndent
		}
		if _, ok := loc.indents[searchIndent]; !ok {
			loc.indents[searchIndent] = fileIndent
		}
		widths[indentWidth(fileIndent)] = true
	}

	// The file's indentation step, used for levels the search block never
	// showed.
	loc.fileUnit = "\t"
	if !strings.Contains(loc.fileBase, "\t") {
		step := 0
		var ws []int
		for w := range widths {
			ws = append(ws, w)
		}
		sort.Ints(ws)
		for i := 1; i < len(ws); i++ {
			if d := ws[i] - ws[i-1]; step == 0 || d < step {
				step = d
			}
		}
		if step == 0 {
			step = 4
		}
		loc.fileUnit = strings.Repeat(" ", step)
	}
	return loc
}

// Apply returns content with the located text replaced. Tolerant matches
// re-indent the replacement from the search block's indentation to the
// file's.
func (l Location) Apply(content, replace string) string {
	if strings.TrimSpace(replace) == "" {
		// Drop the lines entirely, including the last line ending.
		return content[:l.Start] + content[l.End+l.deleteEOL:]
	}
	if !l.Tolerant {
		return content[:l.Start] + replace + content[l.End:]
	}

	out := strings.Split(replace, "\n")
	for i, s := range out {
		out[i] = l.reindent(strings.TrimRight(s, "\r"))
	}
	return content[:l.Start] + strings.Join(out, l.eol) + content[l.End:]
}

func (l Location) reindent(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	indent := leadingSpace(s)
	body := s[len(indent):]
	if mapped, ok := l.indents[indent]; ok {
		return mapped + body
	}
	if strings.HasPrefix(indent, l.searchBase) {
		extra := indent[len(l.searchBase):]
		if l.fileUnit != "\t" {
			extra = strings.ReplaceAll(extra, "\t", l.fileUnit)
		}
		return l.fileBase + extra + body
	}
	return s
}

// closestRegions ranks windows of len(want) lines by their mean per-line
// similarity to want, returning the best non-overlapping ones.
func closestRegions(lines []line, want []string) []Region {
	n := len(want)
	if n == 0 || len(lines) == 0 {
		return nil
	}
	if n > len(lines) {
		n = len(lines)
		want = want[:n]
	}

	wantKeys := make([]string, n)
	keySet := make(map[string]bool, n)
	for j, w := range want {
		wantKeys[j] = lineKey(w)
		if wantKeys[j] != "" {
			keySet[wantKeys[j]] = true
		}
	}

	type scored struct {
		start int
		score float64
	}
	var windows []scored
	for i := 0; i+n <= len(lines); i++ {
		if len(lines) > fullScanLines && !sharesLine(lines[i:i+n], keySet) {
			continue
		}
		total := 0.0
		for j := 0; j < n; j++ {
			total += similarity(lineKey(lines[i+j].text), wantKeys[j])
		}
		if score := total / float64(n); score > 0 {
			windows = append(windows, scored{i, score})
		}
	}
	sort.SliceStable(windows, func(a, b int) bool { return windows[a].score > windows[b].score })

	var regions []Region
	var taken []int
	for _, w := range windows {
		if len(regions) == maxCandidates {
			break
		}
		overlaps := false
		for _, t := range taken {
			if w.start < t+n && t < w.start+n {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		taken = append(taken, w.start)
		texts := make([]string, n)
		for j := 0; j < n; j++ {
			texts[j] = lines[w.start+j].text
		}
		regions = append(regions, Region{
			StartLine: w.start + 1,
			EndLine:   w.start + n,
			Text:      strings.Join(texts, "\n"),
			Score:     w.score,
		})
	}
	return regions
}

func sharesLine(window []line, keys map[string]bool) bool {
	for _, l := range window {
		if keys[lineKey(l.text)] {
			return true
		}
	}
	return false
}

// similarity is the normalized Levenshtein similarity of a and b.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// Very long lines are compared by length only.
	if len(a) > 10000 || len(b) > 10000 {
		return float64(min(len(a), len(b))) / float64(max(len(a), len(b)))
	}

	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(max(len(a), len(b)))
}
