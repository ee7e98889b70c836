package worktree

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.Command.
type ExecGit struct{}

func (g *ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Manager handles git worktree and branch operations for one repository.
type Manager struct {
	git     GitRunner
	repoDir string // git repo root (mainline checkout)
	baseDir string // where worktrees are created
}

// NewManager creates a worktree manager.
func NewManager(git GitRunner, repoDir string, baseDir string) *Manager {
	return &Manager{git: git, repoDir: repoDir, baseDir: baseDir}
}

// RepoDir returns the repository root.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

// BaseDir returns the directory worktrees are created under.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// IsRepo reports whether repoDir is inside a git repository.
func (m *Manager) IsRepo() bool {
	_, err := m.git.Run(m.repoDir, "rev-parse", "--git-dir")
	return err == nil
}

// HasRemote reports whether the repository has an origin remote configured.
func (m *Manager) HasRemote() bool {
	out, err := m.git.Run(m.repoDir, "remote", "get-url", "origin")
	return err == nil && out != ""
}

// Worktree describes one entry from `git worktree list --porcelain`.
type Worktree struct {
	Path        string
	Head        string
	Branch      string
	Bare        bool
	Detached    bool
	Locked      bool
	LockReason  string
	Prunable    bool
	PruneReason string
}

// List enumerates the worktrees git knows about, including locked and
// prunable flags.
func (m *Manager) List() ([]Worktree, error) {
	out, err := m.git.Run(m.repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(out), nil
}

// parseWorktreeList parses porcelain output: one attribute per line, entries
// separated by blank lines.
func parseWorktreeList(out string) []Worktree {
	var worktrees []Worktree
	var cur *Worktree

	flush := func() {
		if cur != nil && cur.Path != "" {
			worktrees = append(worktrees, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			flush()
			continue
		}
		if cur == nil {
			cur = &Worktree{}
		}
		switch {
		case strings.HasPrefix(line, "worktree "):
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			cur.Bare = true
		case line == "detached":
			cur.Detached = true
		case line == "locked":
			cur.Locked = true
		case strings.HasPrefix(line, "locked "):
			cur.Locked = true
			cur.LockReason = strings.TrimPrefix(line, "locked ")
		case line == "prunable":
			cur.Prunable = true
		case strings.HasPrefix(line, "prunable "):
			cur.Prunable = true
			cur.PruneReason = strings.TrimPrefix(line, "prunable ")
		}
	}
	flush()
	return worktrees
}

// Add creates a worktree at path on a new branch cut from startPoint. If the
// branch already exists it is checked out instead of recreated.
func (m *Manager) Add(path string, branch string, startPoint string) error {
	branch = sanitizeBranch(branch)
	_, err := m.git.Run(m.repoDir, "worktree", "add", path, "-b", branch, startPoint)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			if _, err := m.git.Run(m.repoDir, "worktree", "add", path, branch); err != nil {
				return fmt.Errorf("add worktree: %w", err)
			}
			return nil
		}
		return fmt.Errorf("add worktree: %w", err)
	}
	return nil
}

// Prune removes stale worktree metadata.
func (m *Manager) Prune() error {
	if _, err := m.git.Run(m.repoDir, "worktree", "prune"); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}
	return nil
}

// Unlock clears the lock on a worktree.
func (m *Manager) Unlock(path string) error {
	if _, err := m.git.Run(m.repoDir, "worktree", "unlock", path); err != nil {
		return fmt.Errorf("unlock worktree %s: %w", path, err)
	}
	return nil
}

// RemoveForce removes a worktree even if it has uncommitted changes.
func (m *Manager) RemoveForce(path string) error {
	if _, err := m.git.Run(m.repoDir, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("remove worktree %s: %w", path, err)
	}
	return nil
}

// Checkout switches the repository root to the given branch.
func (m *Manager) Checkout(branch string) error {
	if _, err := m.git.Run(m.repoDir, "checkout", branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

// ConflictError is a merge failure with unresolved conflicting files. The
// conflicted state is left in the repository for the operator to resolve.
type ConflictError struct {
	Branch string
	Files  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge %s: conflicts in %s", e.Branch, strings.Join(e.Files, ", "))
}

// Merge merges a branch into the currently checked-out branch. A conflicted
// merge returns *ConflictError carrying the conflicting file list.
func (m *Manager) Merge(branch string) error {
	_, err := m.git.Run(m.repoDir, "merge", "--no-ff", branch, "-m", fmt.Sprintf("Merge %s", branch))
	if err == nil {
		return nil
	}

	files := m.conflictFiles()
	if len(files) > 0 {
		return &ConflictError{Branch: branch, Files: files}
	}
	return fmt.Errorf("merge %s: %w", branch, err)
}

// conflictFiles returns the files currently in an unmerged state.
func (m *Manager) conflictFiles() []string {
	out, err := m.git.Run(m.repoDir, "diff", "--name-only", "--diff-filter=U")
	if err != nil || out == "" {
		return nil
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if f := strings.TrimSpace(line); f != "" {
			files = append(files, f)
		}
	}
	return files
}

// DeleteBranch force-deletes a local branch.
func (m *Manager) DeleteBranch(name string) error {
	if _, err := m.git.Run(m.repoDir, "branch", "-D", name); err != nil {
		return fmt.Errorf("delete branch %q: %w", name, err)
	}
	return nil
}

// ListBranches returns local branch names matching a pattern.
func (m *Manager) ListBranches(pattern string) ([]string, error) {
	out, err := m.git.Run(m.repoDir, "branch", "--list", pattern)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "* "))
		if name != "" {
			branches = append(branches, name)
		}
	}
	return branches, nil
}

var nonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9/_-]+`)

// sanitizeBranch cleans up a branch name.
func sanitizeBranch(name string) string {
	s := nonAlphaNum.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
