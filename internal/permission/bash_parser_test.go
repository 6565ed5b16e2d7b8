package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBashCommand_Simple(t *testing.T) {
	commands, err := ParseBashCommand("ls -la")
	require.NoError(t, err)
	require.Len(t, commands, 1)

	assert.Equal(t, "ls", commands[0].Name)
	assert.Equal(t, []string{"-la"}, commands[0].Args)
}

func TestParseBashCommand_Pipeline(t *testing.T) {
	commands, err := ParseBashCommand("cat file.txt | grep pattern")
	require.NoError(t, err)
	require.Len(t, commands, 2)

	assert.Equal(t, "cat", commands[0].Name)
	assert.Equal(t, "grep", commands[1].Name)
	assert.Equal(t, []string{"pattern"}, commands[1].Args)
}

func TestParseBashCommand_Lists(t *testing.T) {
	tests := []struct {
		command string
		names   []string
	}{
		{"git add . && git commit -m 'message'", []string{"git", "git"}},
		{"test -f file.txt || touch file.txt", []string{"test", "touch"}},
		{"echo hello; echo world", []string{"echo", "echo"}},
		{"(cd src && make)", []string{"cd", "make"}},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			commands, err := ParseBashCommand(tt.command)
			require.NoError(t, err)
			var names []string
			for _, c := range commands {
				names = append(names, c.Name)
			}
			assert.Equal(t, tt.names, names)
		})
	}
}

func TestParseBashCommand_CommandSubstitution(t *testing.T) {
	commands, err := ParseBashCommand("echo $(rm -rf build)")
	require.NoError(t, err)

	var names []string
	for _, c := range commands {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "echo")
	assert.Contains(t, names, "rm")
}

func TestParseBashCommand_Git(t *testing.T) {
	tests := []struct {
		command    string
		subcommand string
	}{
		{"git commit -m 'msg'", "commit"},
		{"git push origin main", "push"},
		{"git pull --rebase", "pull"},
		{"git status", "status"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			commands, err := ParseBashCommand(tt.command)
			require.NoError(t, err)
			require.NotEmpty(t, commands)
			assert.Equal(t, "git", commands[0].Name)
			assert.Equal(t, tt.subcommand, commands[0].Subcommand)
		})
	}
}

func TestParseBashCommand_QuotedStrings(t *testing.T) {
	commands, err := ParseBashCommand(`echo "hello world" 'single quoted'`)
	require.NoError(t, err)
	require.Len(t, commands, 1)

	assert.Contains(t, commands[0].Args, "hello world")
	assert.Contains(t, commands[0].Args, "single quoted")
}

func TestParseBashCommand_AssignmentOnly(t *testing.T) {
	commands, err := ParseBashCommand("FOO=bar")
	require.NoError(t, err)
	assert.Empty(t, commands)

	commands, err = ParseBashCommand("FOO=bar ./script.sh")
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, "./script.sh", commands[0].Name)
}

func TestParseBashCommand_DynamicName(t *testing.T) {
	commands, err := ParseBashCommand("$TOOL --version")
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, "$TOOL", commands[0].Name)
}

func TestParseBashCommand_Invalid(t *testing.T) {
	_, err := ParseBashCommand(`echo "unclosed`)
	assert.Error(t, err)
}

func TestParseRedirects(t *testing.T) {
	tests := []struct {
		command string
		writes  bool
	}{
		{"echo test > output.txt", true},
		{"echo test >> log.txt", true},
		{"make &> build.log", true},
		{"ls 2>/dev/null", false},
		{"ls 2>&1 | head", false},
		{"cat < input.txt", false},
		{"echo hi >& out.txt", true},
		{"echo hi >&2", false},
		{"exec 3>&-", false},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			parsed, err := Parse(tt.command)
			require.NoError(t, err)
			assert.Equal(t, tt.writes, parsed.WritesFiles())
		})
	}
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		command string
		assigns []string
		decls   []string
	}{
		{"ls -la", nil, nil},
		{"GIT_PAGER=less git log", []string{"GIT_PAGER"}, nil},
		{"A=1 B=2", []string{"A", "B"}, nil},
		{"export PAGER=cat", nil, []string{"export"}},
		{"ls && declare -x X=1", nil, []string{"declare"}},
		{"local v=1; readonly v", nil, []string{"local", "readonly"}},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			parsed, err := Parse(tt.command)
			require.NoError(t, err)
			assert.Equal(t, tt.assigns, parsed.Assigns)
			assert.Equal(t, tt.decls, parsed.Decls)
			assert.Equal(t, tt.assigns != nil || tt.decls != nil, parsed.SetsVariables())
		})
	}
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "ls", BashCommand{Name: "/usr/bin/ls"}.BaseName())
	assert.Equal(t, "ls", BashCommand{Name: "ls"}.BaseName())
	assert.True(t, BashCommand{Name: "./src/ls"}.Qualified())
	assert.False(t, BashCommand{Name: "ls"}.Qualified())
}
