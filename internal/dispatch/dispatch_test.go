package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rokytory/winx-code-agent/internal/dispatch"
	"github.com/rokytory/winx-code-agent/internal/event"
	"github.com/rokytory/winx-code-agent/internal/fileedit"
	"github.com/rokytory/winx-code-agent/internal/permission"
	"github.com/rokytory/winx-code-agent/internal/shell"
	"github.com/rokytory/winx-code-agent/internal/storage"
	"github.com/rokytory/winx-code-agent/internal/taskctx"
	"github.com/rokytory/winx-code-agent/internal/workspace"
	"github.com/spf13/afero"
)

func strPtr(s string) *string { return &s }

func seconds(f float64) *float64 { return &f }

func requireBinary(name string) {
	if _, err := exec.LookPath(name); err != nil {
		Skip(name + " is not installed")
	}
}

func writeFile(path, content string) {
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
}

func readFile(path string) string {
	data, err := os.ReadFile(path)
	Expect(err).NotTo(HaveOccurred())
	return string(data)
}

var _ = Describe("Dispatcher", func() {
	var (
		ctx    context.Context
		root   string
		bus    *event.Bus
		mgr    *shell.Manager
		d      *dispatch.Dispatcher
		denied chan event.PermissionDeniedData
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		root, err = filepath.EvalSymlinks(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		state := GinkgoT().TempDir()

		bus = event.NewBus()
		denied = make(chan event.PermissionDeniedData, 16)
		bus.Subscribe(event.PermissionDenied, func(e event.Event) {
			denied <- e.Data.(event.PermissionDeniedData)
		})

		ws := workspace.New()
		store := storage.New(filepath.Join(state, "storage"))
		mgr = shell.NewManager(ws, store, bus, shell.Options{
			JobLogDir: filepath.Join(state, "jobs"),
			HeadBytes: 8192,
			TailBytes: 8192,
		})
		d = dispatch.New(dispatch.Deps{
			Workspace: ws,
			Shell:     mgr,
			Editor:    fileedit.New(afero.NewOsFs(), fileedit.Options{}),
			Tasks:     taskctx.NewManager(store, afero.NewOsFs(), bus, taskctx.Options{}),
			Bus:       bus,
		})
	})

	AfterEach(func() {
		mgr.Close()
		bus.Close()
	})

	initialize := func(mode string, cfg *workspace.RestrictedConfig) *dispatch.Response {
		res, err := d.Initialize(ctx, dispatch.InitializeRequest{
			Type:          dispatch.FirstCall,
			WorkspacePath: root,
			Mode:          mode,
			ModeConfig:    cfg,
		})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	Describe("before initialization", func() {
		It("rejects every operation", func() {
			_, err := d.RunCommand(ctx, dispatch.RunCommandRequest{Action: dispatch.ShellAction{Command: strPtr("ls")}})
			Expect(err).To(MatchError(dispatch.ErrNotInitialized))
			Expect(dispatch.ErrorKind(err)).To(Equal(dispatch.KindNotInitialized))

			_, err = d.ReadFiles(ctx, dispatch.ReadFilesRequest{Paths: []string{"/etc/hostname"}})
			Expect(err).To(MatchError(dispatch.ErrNotInitialized))

			_, err = d.SaveContext(ctx, dispatch.SaveContextRequest{ID: "t"})
			Expect(err).To(MatchError(dispatch.ErrNotInitialized))
		})

		It("treats any initialize type as a first call", func() {
			res, err := d.Initialize(ctx, dispatch.InitializeRequest{
				Type:          dispatch.ModeChange,
				WorkspacePath: root,
				Mode:          "architect",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data.(*dispatch.InitializeResult).Type).To(Equal(dispatch.FirstCall))
			Expect(d.Workspace().Mode.Name).To(Equal(workspace.ReadOnly))
		})

		It("rejects unknown types and modes", func() {
			_, err := d.Initialize(ctx, dispatch.InitializeRequest{Type: "bogus", WorkspacePath: root})
			Expect(dispatch.ErrorKind(err)).To(Equal(dispatch.KindInvalidInput))

			_, err = d.Initialize(ctx, dispatch.InitializeRequest{WorkspacePath: root, Mode: "superuser"})
			Expect(dispatch.ErrorKind(err)).To(Equal(dispatch.KindInvalidInput))
			Expect(d.Workspace().Initialized).To(BeFalse())
		})
	})

	Describe("environment summary", func() {
		It("reports the git repository of the workspace", func() {
			requireBinary("git")
			git := exec.Command("git", "init", "-q", "-b", "trunk")
			git.Dir = root
			out, err := git.CombinedOutput()
			Expect(err).NotTo(HaveOccurred(), string(out))

			res := initialize("", nil)
			Expect(res.Text).To(ContainSubstring("Git root: " + root))
			Expect(res.Text).To(ContainSubstring("Git branch: trunk"))
			repo := res.Data.(*dispatch.InitializeResult).Repo
			Expect(repo).NotTo(BeNil())
			Expect(repo.Branch).To(Equal("trunk"))
		})

		It("omits git details outside a repository", func() {
			res := initialize("", nil)
			Expect(res.Text).NotTo(ContainSubstring("Git root"))
			Expect(res.Data.(*dispatch.InitializeResult).Repo).To(BeNil())
		})
	})

	Describe("restricted mode", func() {
		BeforeEach(func() {
			writeFile(filepath.Join(root, "notes.txt"), "keep\n")
			writeFile(filepath.Join(root, "src", "app.py"), "print('hi')\n")
			res := initialize("code_writer", &workspace.RestrictedConfig{
				AllowedCommands: workspace.AllowList("ls", "cat"),
				AllowedGlobs:    workspace.AllowList("src/**"),
			})
			Expect(res.Text).To(ContainSubstring("# Mode: restricted"))
		})

		It("denies commands outside the allow-list and reports it", func() {
			_, err := d.RunCommand(ctx, dispatch.RunCommandRequest{Action: dispatch.ShellAction{Command: strPtr("rm -rf /")}})
			Expect(permission.IsDenied(err)).To(BeTrue())
			Expect(dispatch.ErrorKind(err)).To(Equal(dispatch.KindPermissionDenied))
			Eventually(denied).Should(Receive(HaveField("Target", "rm -rf /")))
			Expect(mgr.State()).To(Equal(shell.StateIdle))
		})

		It("runs allowed commands", func() {
			requireBinary("bash")
			res, err := d.RunCommand(ctx, dispatch.RunCommandRequest{
				Action:         dispatch.ShellAction{Command: strPtr("ls -la")},
				WaitForSeconds: seconds(10),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Text).To(ContainSubstring("notes.txt"))
			Expect(res.Text).To(ContainSubstring("cwd = " + root))
			Expect(res.Data.(*shell.Result).State).To(Equal(shell.StateCompleted))
		})

		It("denies writes and edits outside the allowed globs without touching files", func() {
			_, err := d.WriteIfEmpty(ctx, dispatch.WriteRequest{Path: "other/new.txt", Content: "x"})
			Expect(permission.IsDenied(err)).To(BeTrue())
			Expect(filepath.Join(root, "other")).NotTo(BeADirectory())

			_, err = d.EditFile(ctx, dispatch.EditRequest{
				Path:   "notes.txt",
				Blocks: "<<<<<<< SEARCH\nkeep\n=======\nchanged\n>>>>>>> REPLACE\n",
			})
			Expect(permission.IsDenied(err)).To(BeTrue())
			Expect(readFile(filepath.Join(root, "notes.txt"))).To(Equal("keep\n"))
		})

		It("allows writes and edits inside the allowed globs", func() {
			_, err := d.WriteIfEmpty(ctx, dispatch.WriteRequest{Path: "src/pkg/new.py", Content: "x = 1\n"})
			Expect(err).NotTo(HaveOccurred())
			Expect(readFile(filepath.Join(root, "src", "pkg", "new.py"))).To(Equal("x = 1\n"))

			res, err := d.EditFile(ctx, dispatch.EditRequest{
				Path:   filepath.Join(root, "src", "app.py"),
				Blocks: "<<<<<<< SEARCH\nprint('hi')\n=======\nprint('hello')\n>>>>>>> REPLACE\n",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Text).To(ContainSubstring("+1 -1"))
			Expect(readFile(filepath.Join(root, "src", "app.py"))).To(Equal("print('hello')\n"))
		})

		It("rejects edits that break syntax when required", func() {
			_, err := d.Initialize(ctx, dispatch.InitializeRequest{
				Type: dispatch.ModeChange,
				Mode: "restricted",
				ModeConfig: &workspace.RestrictedConfig{
					AllowedCommands:    workspace.AllowAll(),
					AllowedGlobs:       workspace.AllowAll(),
					RequireValidSyntax: true,
				},
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = d.EditFile(ctx, dispatch.EditRequest{
				Path:   "src/app.py",
				Blocks: "<<<<<<< SEARCH\nprint('hi')\n=======\nprint('hi'\n>>>>>>> REPLACE\n",
			})
			Expect(dispatch.ErrorKind(err)).To(Equal(dispatch.KindSyntaxRejected))
			Expect(readFile(filepath.Join(root, "src", "app.py"))).To(Equal("print('hi')\n"))
		})
	})

	Describe("read-only mode", func() {
		BeforeEach(func() {
			writeFile(filepath.Join(root, "a.txt"), "alpha\n")
			initialize("architect", nil)
		})

		It("allows reads and refuses writes", func() {
			res, err := d.ReadFiles(ctx, dispatch.ReadFilesRequest{Paths: []string{"a.txt"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Text).To(ContainSubstring("alpha"))

			_, err = d.WriteIfEmpty(ctx, dispatch.WriteRequest{Path: "b.txt", Content: "x"})
			Expect(permission.IsDenied(err)).To(BeTrue())
			Expect(filepath.Join(root, "b.txt")).NotTo(BeAnExistingFile())
		})

		It("runs only non-mutating commands", func() {
			requireBinary("bash")
			res, err := d.RunCommand(ctx, dispatch.RunCommandRequest{
				Action:         dispatch.ShellAction{Command: strPtr("cat a.txt")},
				WaitForSeconds: seconds(10),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Text).To(ContainSubstring("alpha"))

			_, err = d.RunCommand(ctx, dispatch.RunCommandRequest{Action: dispatch.ShellAction{Command: strPtr("touch b.txt")}})
			Expect(permission.IsDenied(err)).To(BeTrue())

			_, err = d.RunCommand(ctx, dispatch.RunCommandRequest{Action: dispatch.ShellAction{Command: strPtr("echo hi > b.txt")}})
			Expect(permission.IsDenied(err)).To(BeTrue())
			Expect(filepath.Join(root, "b.txt")).NotTo(BeAnExistingFile())
		})

		It("refuses commands that write or execute through side channels", func() {
			for _, command := range []string{
				"echo pwned >& b.txt",
				"GIT_PAGER='touch b.txt' git log",
				"export GIT_PAGER='touch b.txt'",
				"rg --pre 'touch b.txt' alpha .",
				"git diff --output=b.txt",
			} {
				_, err := d.RunCommand(ctx, dispatch.RunCommandRequest{Action: dispatch.ShellAction{Command: strPtr(command)}})
				Expect(permission.IsDenied(err)).To(BeTrue(), command)
			}
			Expect(filepath.Join(root, "b.txt")).NotTo(BeAnExistingFile())
		})
	})

	Describe("file operations", func() {
		BeforeEach(func() {
			initialize("", nil)
		})

		It("reads a range of a large file with a continuation marker", func() {
			var sb strings.Builder
			for i := 1; i <= 50000; i++ {
				fmt.Fprintf(&sb, "row %d\n", i)
			}
			big := filepath.Join(root, "f")
			writeFile(big, sb.String())

			res, err := d.ReadFiles(ctx, dispatch.ReadFilesRequest{Paths: []string{big + ":1-10"}})
			Expect(err).NotTo(HaveOccurred())
			results := res.Data.([]*fileedit.ReadResult)
			Expect(results).To(HaveLen(1))
			Expect(results[0].StartLine).To(Equal(1))
			Expect(results[0].EndLine).To(Equal(10))
			Expect(strings.Count(results[0].Content, "\n")).To(Equal(10))
			Expect(results[0].Content).To(HavePrefix("row 1\n"))
			Expect(results[0].Content).To(HaveSuffix("row 10\n"))
			Expect(res.Text).To(ContainSubstring("File has more lines"))
		})

		It("reports failing paths inline", func() {
			writeFile(filepath.Join(root, "ok.txt"), "fine\n")
			res, err := d.ReadFiles(ctx, dispatch.ReadFilesRequest{Paths: []string{"ok.txt", "missing.txt"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Text).To(ContainSubstring("fine"))
			Expect(res.Text).To(ContainSubstring("missing.txt\nError:"))

			_, err = d.ReadFiles(ctx, dispatch.ReadFilesRequest{Paths: []string{"missing.txt"}})
			Expect(err).To(HaveOccurred())
		})

		It("leaves the file unchanged on an ambiguous block", func() {
			target := filepath.Join(root, "dup.go")
			content := "a := 1\nb := 2\na := 1\n"
			writeFile(target, content)

			_, err := d.EditFile(ctx, dispatch.EditRequest{
				Path:   "dup.go",
				Blocks: "<<<<<<< SEARCH\nb := 2\n=======\nb := 3\n>>>>>>> REPLACE\n<<<<<<< SEARCH\na := 1\n=======\na := 9\n>>>>>>> REPLACE\n",
			})
			var am *fileedit.AmbiguousMatchError
			Expect(errors.As(err, &am)).To(BeTrue())
			Expect(am.Block).To(Equal(1))
			Expect(dispatch.ErrorKind(err)).To(Equal(dispatch.KindAmbiguousMatch))
			Expect(readFile(target)).To(Equal(content))
		})

		It("refuses to overwrite a non-empty file", func() {
			target := filepath.Join(root, "full.txt")
			writeFile(target, "data\n")
			_, err := d.WriteIfEmpty(ctx, dispatch.WriteRequest{Path: "full.txt", Content: "other"})
			Expect(err).To(MatchError(fileedit.ErrTargetNotEmpty))
			Expect(dispatch.ErrorKind(err)).To(Equal(dispatch.KindTargetNotEmpty))
			Expect(readFile(target)).To(Equal("data\n"))
		})

		It("warns when the same call repeats", func() {
			writeFile(filepath.Join(root, "loop.txt"), "x\n")
			req := dispatch.ReadFilesRequest{Paths: []string{"loop.txt"}}
			for range 2 {
				res, err := d.ReadFiles(ctx, req)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Warnings).To(BeEmpty())
			}
			res, err := d.ReadFiles(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Warnings).To(ContainElement(ContainSubstring("3 times in a row")))
		})
	})

	Describe("task context", func() {
		BeforeEach(func() {
			initialize("", nil)
		})

		It("resumes a saved task with the contents captured at save time", func() {
			writeFile(filepath.Join(root, "main.go"), "package main\n")
			res, err := d.SaveContext(ctx, dispatch.SaveContextRequest{
				ID:          "refactor",
				ProjectRoot: root,
				Description: "Split the loader",
				Globs:       []string{"*.go"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Text).To(ContainSubstring("Saved task refactor with 1 file(s)"))

			writeFile(filepath.Join(root, "main.go"), "package changed\n")

			res, err = d.Initialize(ctx, dispatch.InitializeRequest{
				Type:          dispatch.FirstCall,
				WorkspacePath: root,
				ResumeTaskID:  "refactor",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Text).To(ContainSubstring("Split the loader"))
			Expect(res.Text).To(ContainSubstring("package main\n"))
			Expect(res.Data.(*dispatch.InitializeResult).Resumed).To(Equal("refactor"))
		})

		It("warns about unknown tasks", func() {
			res, err := d.Initialize(ctx, dispatch.InitializeRequest{
				Type:          dispatch.FirstCall,
				WorkspacePath: root,
				ResumeTaskID:  "nope",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Warnings).To(ContainElement(ContainSubstring(`"nope"`)))
		})
	})

	Describe("initialize types", func() {
		It("changes mode, resets the shell and changes workspace", func() {
			initialize("", nil)

			_, err := d.Initialize(ctx, dispatch.InitializeRequest{Type: dispatch.ModeChange})
			Expect(dispatch.ErrorKind(err)).To(Equal(dispatch.KindInvalidInput))

			_, err = d.Initialize(ctx, dispatch.InitializeRequest{Type: dispatch.ModeChange, Mode: "read_only"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Workspace().Mode.Name).To(Equal(workspace.ReadOnly))
			Expect(d.Workspace().Root).To(Equal(root))

			_, err = d.Initialize(ctx, dispatch.InitializeRequest{Type: dispatch.ResetShell})
			Expect(err).NotTo(HaveOccurred())
			Expect(mgr.State()).To(Equal(shell.StateIdle))
			Expect(d.Workspace().Mode.Name).To(Equal(workspace.ReadOnly))

			other, err := filepath.EvalSymlinks(GinkgoT().TempDir())
			Expect(err).NotTo(HaveOccurred())
			res, err := d.Initialize(ctx, dispatch.InitializeRequest{Type: dispatch.ChangeWorkspace, WorkspacePath: other})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Workspace().Root).To(Equal(other))
			Expect(d.Workspace().Mode.Name).To(Equal(workspace.ReadOnly))
			Expect(res.Text).To(ContainSubstring("Workspace: " + other))
		})

		It("reads initial files", func() {
			writeFile(filepath.Join(root, "README.md"), "# hello\n")
			res, err := d.Initialize(ctx, dispatch.InitializeRequest{
				Type:          dispatch.FirstCall,
				WorkspacePath: root,
				InitialFiles:  []string{"README.md", "absent.md"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Text).To(ContainSubstring("# hello"))
			Expect(res.Warnings).To(ContainElement(ContainSubstring("absent.md")))
		})
	})

	Describe("shell actions", func() {
		BeforeEach(func() {
			initialize("", nil)
		})

		It("validates the action shape", func() {
			_, err := d.RunCommand(ctx, dispatch.RunCommandRequest{})
			Expect(dispatch.ErrorKind(err)).To(Equal(dispatch.KindInvalidInput))

			_, err = d.RunCommand(ctx, dispatch.RunCommandRequest{Action: dispatch.ShellAction{Command: strPtr("ls"), StatusCheck: true}})
			Expect(dispatch.ErrorKind(err)).To(Equal(dispatch.KindInvalidInput))

			_, err = d.RunCommand(ctx, dispatch.RunCommandRequest{Action: dispatch.ShellAction{SendSpecials: []string{"Escape"}}})
			Expect(dispatch.ErrorKind(err)).To(Equal(dispatch.KindUnknownSpecial))
		})

		It("rejects a second foreground command while one runs", func() {
			requireBinary("bash")
			res, err := d.RunCommand(ctx, dispatch.RunCommandRequest{
				Action:         dispatch.ShellAction{Command: strPtr("sleep 30")},
				WaitForSeconds: seconds(0.3),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Text).To(ContainSubstring("status = still running"))

			_, err = d.RunCommand(ctx, dispatch.RunCommandRequest{Action: dispatch.ShellAction{Command: strPtr("echo second")}})
			Expect(err).To(MatchError(shell.ErrSessionBusy))
			Expect(dispatch.ErrorKind(err)).To(Equal(dispatch.KindSessionBusy))

			res, err = d.RunCommand(ctx, dispatch.RunCommandRequest{
				Action:         dispatch.ShellAction{SendSpecials: []string{"ctrl_c"}},
				WaitForSeconds: seconds(5),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data.(*shell.Result).State).To(Equal(shell.StateCompleted))
			Expect(res.Text).NotTo(ContainSubstring("second"))
		})

		It("attaches a safety warning to risky commands", func() {
			requireBinary("bash")
			res, err := d.RunCommand(ctx, dispatch.RunCommandRequest{
				Action:         dispatch.ShellAction{Command: strPtr("eval echo hi")},
				WaitForSeconds: seconds(10),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Warnings).To(ContainElement(ContainSubstring("eval")))
		})

		It("returns partial output of a background command while it keeps running", func() {
			requireBinary("bash")
			requireBinary("tmux")

			res, err := d.RunCommand(ctx, dispatch.RunCommandRequest{
				Action: dispatch.ShellAction{
					Command:      strPtr("for i in 1 2 3 4; do echo tick$i; sleep 1; done"),
					IsBackground: true,
				},
			})
			Expect(err).NotTo(HaveOccurred())
			job := res.Data.(*shell.Result).JobID
			Expect(job).NotTo(BeEmpty())
			DeferCleanup(func() {
				_, _ = mgr.Kill(context.Background(), job)
			})

			res, err = d.RunCommand(ctx, dispatch.RunCommandRequest{
				Action:         dispatch.ShellAction{StatusCheck: true, JobID: job},
				WaitForSeconds: seconds(0),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Text).NotTo(ContainSubstring("tick4"))
			Expect(res.Data.(*shell.Result).State).To(Equal(shell.StateRunning))

			var seen strings.Builder
			Eventually(func() shell.State {
				res, err := d.RunCommand(ctx, dispatch.RunCommandRequest{
					Action:         dispatch.ShellAction{StatusCheck: true, JobID: job},
					WaitForSeconds: seconds(2),
				})
				Expect(err).NotTo(HaveOccurred())
				seen.WriteString(res.Data.(*shell.Result).Output.Text)
				return res.Data.(*shell.Result).State
			}, 20*time.Second, 100*time.Millisecond).Should(Equal(shell.StateCompleted))
			Expect(seen.String()).To(ContainSubstring("tick4"))
		})
	})
})
