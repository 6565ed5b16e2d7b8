// Package vcs reports the git repository a workspace belongs to.
package vcs

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rokytory/winx-code-agent/internal/logging"
)

const gitTimeout = 5 * time.Second

// Repo describes the repository around a directory.
type Repo struct {
	Root   string `json:"root"`
	Branch string `json:"branch,omitempty"`
	// Dirty counts modified and untracked paths.
	Dirty int `json:"dirty"`
}

// Lookup returns the repository containing dir, or nil when dir is not
// inside a git work tree or git is not installed.
func Lookup(ctx context.Context, dir string) *Repo {
	root, err := git(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil || root == "" {
		logging.Debug().Str("dir", dir).Msg("Not a git repository")
		return nil
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}

	repo := &Repo{Root: filepath.Clean(root)}
	// An unborn branch has no HEAD yet.
	if branch, err := git(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		repo.Branch = branch
	} else if branch, err := git(ctx, dir, "symbolic-ref", "--short", "HEAD"); err == nil {
		repo.Branch = branch
	}
	if status, err := git(ctx, dir, "status", "--porcelain"); err == nil && status != "" {
		repo.Dirty = len(strings.Split(status, "\n"))
	}
	return repo
}

// GetBranch returns the current branch of dir, or "" outside a repository.
func GetBranch(dir string) string {
	if repo := Lookup(context.Background(), dir); repo != nil {
		return repo.Branch
	}
	return ""
}

// Describe renders the repository for an environment summary.
func (r *Repo) Describe() string {
	var sb strings.Builder
	sb.WriteString("Git root: " + r.Root + "\n")
	if r.Branch != "" {
		sb.WriteString("Git branch: " + r.Branch + "\n")
	}
	if r.Dirty > 0 {
		sb.WriteString("Uncommitted changes: yes\n")
	}
	return sb.String()
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
