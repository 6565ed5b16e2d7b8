package fileedit

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEditor(t *testing.T, files map[string]string) (*Editor, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
	return New(fs, Options{}), fs
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestWriteIfEmpty(t *testing.T) {
	ed, fs := newTestEditor(t, map[string]string{
		"/ws/existing.txt": "keep me\n",
		"/ws/empty.txt":    "",
	})

	t.Run("creates missing file and parents", func(t *testing.T) {
		res, err := ed.WriteIfEmpty("/ws/a/b/new.go", "package b\n")
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, 10, res.Bytes)
		assert.Empty(t, res.SyntaxWarnings)
		assert.Equal(t, "package b\n", readFile(t, fs, "/ws/a/b/new.go"))
	})

	t.Run("fills empty file", func(t *testing.T) {
		res, err := ed.WriteIfEmpty("/ws/empty.txt", "hello\n")
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, "hello\n", readFile(t, fs, "/ws/empty.txt"))
	})

	t.Run("refuses non-empty file", func(t *testing.T) {
		_, err := ed.WriteIfEmpty("/ws/existing.txt", "overwrite\n")
		assert.ErrorIs(t, err, ErrTargetNotEmpty)
		assert.Equal(t, "keep me\n", readFile(t, fs, "/ws/existing.txt"))
	})

	t.Run("reports syntax warnings", func(t *testing.T) {
		res, err := ed.WriteIfEmpty("/ws/broken.json", `{"a": }`)
		require.NoError(t, err)
		assert.NotEmpty(t, res.SyntaxWarnings)
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		entries, err := afero.ReadDir(fs, "/ws/a/b")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "new.go", entries[0].Name())
	})
}

func TestApplyEdits(t *testing.T) {
	const src = "package main\n\nfunc main() {\n\tprintln(\"a\")\n\tprintln(\"b\")\n}\n"

	t.Run("applies blocks in order", func(t *testing.T) {
		ed, fs := newTestEditor(t, map[string]string{"/ws/main.go": src})
		res, err := ed.ApplyEdits("/ws/main.go", []Block{
			{Search: "\tprintln(\"a\")", Replace: "\tprintln(\"A\")"},
			{Search: "println(\"A\")\n\tprintln(\"b\")", Replace: "println(\"A\")\n\tprintln(\"B\")\n\tprintln(\"C\")"},
		}, EditOptions{BaseDir: "/ws"})
		require.NoError(t, err)

		assert.Equal(t, "package main\n\nfunc main() {\n\tprintln(\"A\")\n\tprintln(\"B\")\n\tprintln(\"C\")\n}\n", readFile(t, fs, "/ws/main.go"))
		assert.True(t, res.Changed())
		assert.Equal(t, 2, res.Blocks)
		assert.Equal(t, 3, res.Additions)
		assert.Equal(t, 2, res.Deletions)
		assert.True(t, strings.HasPrefix(res.Text, "--- main.go\n+++ main.go\n"))
		assert.Empty(t, res.SyntaxWarnings)
	})

	t.Run("tolerant match keeps file indentation", func(t *testing.T) {
		ed, fs := newTestEditor(t, map[string]string{"/ws/main.go": src})
		res, err := ed.ApplyEdits("/ws/main.go", []Block{
			{Search: "    println(\"b\")\n}", Replace: "    println(\"b\")\n    return\n}"},
		}, EditOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Tolerant)
		assert.Contains(t, readFile(t, fs, "/ws/main.go"), "\tprintln(\"b\")\n\treturn\n}\n")
	})

	t.Run("failing block leaves file untouched", func(t *testing.T) {
		ed, fs := newTestEditor(t, map[string]string{"/ws/main.go": src})
		_, err := ed.ApplyEdits("/ws/main.go", []Block{
			{Search: "\tprintln(\"a\")", Replace: "\tprintln(\"A\")"},
			{Search: "\tprintln(\"zzz\")", Replace: ""},
		}, EditOptions{})

		var nm *NoMatchError
		require.True(t, errors.As(err, &nm), "got %v", err)
		assert.Equal(t, 1, nm.Block)
		assert.Equal(t, "/ws/main.go", nm.Path)
		assert.NotEmpty(t, nm.Candidates)
		assert.Equal(t, src, readFile(t, fs, "/ws/main.go"))
	})

	t.Run("ambiguous block leaves file untouched", func(t *testing.T) {
		content := "x := 1\ny := 2\nx := 1\n"
		ed, fs := newTestEditor(t, map[string]string{"/ws/dup.go": content})
		_, err := ed.ApplyEdits("/ws/dup.go", []Block{{Search: "x := 1", Replace: "x := 3"}}, EditOptions{})

		var am *AmbiguousMatchError
		require.True(t, errors.As(err, &am), "got %v", err)
		assert.Equal(t, []int{1, 3}, am.Lines)
		assert.Contains(t, am.Error(), "/ws/dup.go")
		assert.Equal(t, content, readFile(t, fs, "/ws/dup.go"))
	})

	t.Run("missing file", func(t *testing.T) {
		ed, _ := newTestEditor(t, nil)
		_, err := ed.ApplyEdits("/ws/none.go", []Block{{Search: "a", Replace: "b"}}, EditOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	})

	t.Run("binary file", func(t *testing.T) {
		ed, _ := newTestEditor(t, map[string]string{"/ws/bin.dat": "a\x00b"})
		_, err := ed.ApplyEdits("/ws/bin.dat", []Block{{Search: "a", Replace: "b"}}, EditOptions{})
		assert.ErrorIs(t, err, ErrBinaryFile)
	})

	t.Run("no blocks", func(t *testing.T) {
		ed, _ := newTestEditor(t, nil)
		_, err := ed.ApplyEdits("/ws/x.go", nil, EditOptions{})
		assert.ErrorIs(t, err, ErrNoBlocks)
	})
}

func TestApplyEditsSyntax(t *testing.T) {
	const cfg = "{\n  \"a\": 1,\n  \"b\": 2\n}\n"
	broken := []Block{{Search: "  \"b\": 2", Replace: "  \"b\": 2,,"}}

	t.Run("warns by default", func(t *testing.T) {
		ed, fs := newTestEditor(t, map[string]string{"/ws/c.json": cfg})
		res, err := ed.ApplyEdits("/ws/c.json", broken, EditOptions{})
		require.NoError(t, err)
		require.NotEmpty(t, res.SyntaxWarnings)
		assert.Contains(t, readFile(t, fs, "/ws/c.json"), ",,")
	})

	t.Run("rejects when required", func(t *testing.T) {
		ed, fs := newTestEditor(t, map[string]string{"/ws/c.json": cfg})
		_, err := ed.ApplyEdits("/ws/c.json", broken, EditOptions{RequireValidSyntax: true})

		var se *SyntaxRejectedError
		require.True(t, errors.As(err, &se), "got %v", err)
		assert.NotEmpty(t, se.Problems)
		assert.Equal(t, cfg, readFile(t, fs, "/ws/c.json"))
	})

	t.Run("existing problems are not new", func(t *testing.T) {
		const bad = "func f() {\n\tx := 1\n"
		ed, _ := newTestEditor(t, map[string]string{"/ws/f.go": bad})
		res, err := ed.ApplyEdits("/ws/f.go", []Block{{Search: "x := 1", Replace: "x := 2"}}, EditOptions{RequireValidSyntax: true})
		require.NoError(t, err)
		assert.Empty(t, res.SyntaxWarnings)
	})
}

func TestEditsWriteThroughSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.WriteFile(target, []byte("one\ntwo\n"), 0o600))
	require.NoError(t, os.Symlink("real.txt", link))

	ed := New(afero.NewOsFs(), Options{})
	_, err := ed.ApplyEdits(link, []Block{{Search: "two", Replace: "2"}}, EditOptions{})
	require.NoError(t, err)

	info, err := os.Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "link replaced by a regular file")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "one\n2\n", string(data))

	info, err = os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	require.NoError(t, os.Symlink(empty, filepath.Join(dir, "abs-link.txt")))
	_, err = ed.WriteIfEmpty(filepath.Join(dir, "abs-link.txt"), "hello\n")
	require.NoError(t, err)
	data, err = os.ReadFile(empty)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestApplyEditsWarnsOnExternalChange(t *testing.T) {
	ed, fs := newTestEditor(t, map[string]string{"/ws/a.txt": "one\ntwo\n"})

	_, err := ed.Read("/ws/a.txt", Range{}, false)
	require.NoError(t, err)

	res, err := ed.ApplyEdits("/ws/a.txt", []Block{{Search: "one", Replace: "1"}}, EditOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	require.NoError(t, afero.WriteFile(fs, "/ws/a.txt", []byte("1\ntwo\nthree\n"), 0o644))
	res, err = ed.ApplyEdits("/ws/a.txt", []Block{{Search: "two", Replace: "2"}}, EditOptions{})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "changed on disk")
}

func TestApplyEditsConcurrent(t *testing.T) {
	var lines []string
	for i := range 20 {
		lines = append(lines, fmt.Sprintf("line%02d", i))
	}
	ed, fs := newTestEditor(t, map[string]string{"/ws/c.txt": strings.Join(lines, "\n") + "\n"})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ed.ApplyEdits("/ws/c.txt", []Block{{
				Search:  fmt.Sprintf("line%02d\n", i),
				Replace: fmt.Sprintf("LINE%02d\n", i),
			}}, EditOptions{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got := readFile(t, fs, "/ws/c.txt")
	for i := range 20 {
		assert.Contains(t, got, fmt.Sprintf("LINE%02d\n", i))
	}
}

func TestEditText(t *testing.T) {
	ed, fs := newTestEditor(t, map[string]string{"/ws/a.py": "def f():\n    return 1\n"})
	_, err := ed.EditText("/ws/a.py", "<<<<<<< SEARCH\n    return 1\n=======\n    return 2\n>>>>>>> REPLACE\n", EditOptions{})
	require.NoError(t, err)
	assert.Equal(t, "def f():\n    return 2\n", readFile(t, fs, "/ws/a.py"))

	_, err = ed.EditText("/ws/a.py", "<<<<<<< ORIGINAL\n", EditOptions{})
	var perr *BlockParseError
	assert.True(t, errors.As(err, &perr))
}

func TestReadImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")
	ed, _ := newTestEditor(t, map[string]string{
		"/ws/pic.png":   string(png),
		"/ws/notes.txt": "hello",
	})

	img, err := ed.ReadImage("/ws/pic.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MediaType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), img.Data)
	assert.True(t, strings.HasPrefix(img.DataURL(), "data:image/png;base64,"))

	_, err = ed.ReadImage("/ws/notes.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an image")

	small := New(afero.NewReadOnlyFs(ed.Fs()), Options{MaxImageBytes: 4})
	_, err = small.ReadImage("/ws/pic.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image limit")
}
