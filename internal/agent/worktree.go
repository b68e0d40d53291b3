// Package agent spawns and retires worker agents. A live agent stands
// on three legs: an isolated git worktree on its own branch, a durable
// session row, and a multiplexer pane running the worker command with
// the agent's identity injected through the environment. The spawner
// plants the legs in that order and pulls them back out when a later
// step fails, so a half-spawned agent never outlives the call that
// created it.
package agent

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/git"
	"github.com/overstoryai/overstory/internal/logging"
)

// BranchPrefix namespaces every branch the spawner creates. The merge
// pipeline and orphan scans key off it.
const BranchPrefix = "overstory/"

// PanePrefix namespaces every multiplexer pane the spawner creates.
const PanePrefix = "overstory-"

// validName matches acceptable agent names. A name ends up as a branch
// segment, a pane target, a directory name, and a mail address; the
// charset is the intersection of what those accept.
var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateName rejects agent names that cannot serve everywhere a name
// has to go.
func ValidateName(name string) error {
	if name == "" {
		return errs.Validation("agent name is required")
	}
	if !validName.MatchString(name) {
		return errs.Validation("agent name %q must be alphanumeric with - or _", name)
	}
	return nil
}

// BranchName derives the agent's work branch. The task segment is
// sanitized for git and omitted when empty.
func BranchName(agent, task string) string {
	seg := sanitizeRef(task)
	if seg == "" {
		return BranchPrefix + agent
	}
	return BranchPrefix + agent + "/" + seg
}

// PaneName derives the agent's pane name.
func PaneName(agent string) string {
	return PanePrefix + agent
}

// sanitizeRef folds characters git refuses in ref names to '-'.
func sanitizeRef(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}

// DefaultWorktreeDir returns the worktree base directory under a state
// directory.
func DefaultWorktreeDir(stateDir string) string {
	return filepath.Join(stateDir, "worktrees")
}

// Worktree is one created worktree.
type Worktree struct {
	// Path is the worktree's directory.
	Path string
	// Branch is the branch checked out in it.
	Branch string
}

// WorktreeManager creates and reaps the per-agent worktrees under a
// single base directory. Concurrent spawns serialize on the manager's
// mutex rather than racing inside git.
type WorktreeManager struct {
	baseDir  string
	repoPath string
	git      git.Runner
	mu       sync.Mutex
}

// NewWorktreeManager creates a manager rooted at baseDir for the
// repository at repoPath.
func NewWorktreeManager(baseDir, repoPath string) *WorktreeManager {
	return NewWorktreeManagerWith(baseDir, repoPath, git.NewRunner(repoPath))
}

// NewWorktreeManagerWith creates a manager with an injected git runner.
func NewWorktreeManagerWith(baseDir, repoPath string, runner git.Runner) *WorktreeManager {
	// Worktree paths come back from git absolute; keep the base
	// comparable.
	if abs, err := filepath.Abs(baseDir); err == nil {
		baseDir = abs
	}
	return &WorktreeManager{baseDir: baseDir, repoPath: repoPath, git: runner}
}

// BaseDir returns the directory worktrees are created under.
func (m *WorktreeManager) BaseDir() string { return m.baseDir }

// Create makes a worktree for the agent on a fresh branch off HEAD.
// The directory is baseDir/<agent>; the branch is BranchName(agent, task).
func (m *WorktreeManager) Create(ctx context.Context, agent, task string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.baseDir, agent)
	if _, err := os.Stat(path); err == nil {
		return nil, errs.Worktree("worktree for agent %q already exists", agent).With("path", path)
	}
	branch := BranchName(agent, task)
	exists, err := m.git.BranchExists(ctx, branch)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.Worktree("branch %q already exists; merge or delete it first", branch)
	}

	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return nil, errs.Worktree("create worktree base directory").With("path", m.baseDir).Wrap(err)
	}
	if err := m.git.WorktreeAdd(ctx, path, branch, ""); err != nil {
		return nil, err
	}
	logging.Info(logging.CatGit, "worktree created",
		"agent", agent, "path", path, "branch", branch)
	return &Worktree{Path: path, Branch: branch}, nil
}

// Remove deletes a managed worktree. Paths outside the base directory
// are refused so a corrupted session row can never point the removal
// at the main checkout.
func (m *WorktreeManager) Remove(ctx context.Context, path string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.owns(path) {
		return errs.Worktree("path %q is not a managed worktree", path)
	}
	return m.git.WorktreeRemove(ctx, path, force)
}

// List returns the paths of all worktrees the repository knows about,
// including the main checkout.
func (m *WorktreeManager) List(ctx context.Context) ([]string, error) {
	return m.git.WorktreeList(ctx)
}

// Prune drops git's bookkeeping for worktrees whose directories are
// already gone.
func (m *WorktreeManager) Prune(ctx context.Context) error {
	return m.git.WorktreePrune(ctx)
}

// ListOrphans returns managed worktrees no active session claims,
// sorted. The git-registered set is unioned with leftover directories
// under the base, so trees git has already forgotten still surface.
func (m *WorktreeManager) ListOrphans(ctx context.Context, activePaths []string) ([]string, error) {
	active := make(map[string]bool, len(activePaths))
	for _, p := range activePaths {
		active[filepath.Clean(p)] = true
	}

	seen := make(map[string]bool)
	var orphans []string
	consider := func(p string) {
		p = filepath.Clean(p)
		if seen[p] {
			return
		}
		seen[p] = true
		if !m.owns(p) || active[p] {
			return
		}
		orphans = append(orphans, p)
	}

	paths, err := m.git.WorktreeList(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		consider(p)
	}

	entries, err := os.ReadDir(m.baseDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, errs.Worktree("scan worktree base directory").With("path", m.baseDir).Wrap(err)
	}
	for _, e := range entries {
		if e.IsDir() {
			consider(filepath.Join(m.baseDir, e.Name()))
		}
	}

	sort.Strings(orphans)
	return orphans, nil
}

// CleanupOrphans removes every orphaned worktree, falling back to a
// plain directory delete when git refuses, then prunes. Returns the
// number removed. Branches are left alone; unmerged work stays
// recoverable.
func (m *WorktreeManager) CleanupOrphans(ctx context.Context, activePaths []string) (int, error) {
	orphans, err := m.ListOrphans(ctx, activePaths)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, p := range orphans {
		if err := m.git.WorktreeRemove(ctx, p, true); err != nil {
			logging.Warn(logging.CatGit, "worktree remove failed, deleting directory",
				"path", p, "error", err)
			if err := os.RemoveAll(p); err != nil {
				logging.Warn(logging.CatGit, "delete worktree directory failed",
					"path", p, "error", err)
				continue
			}
		}
		removed++
		logging.Info(logging.CatGit, "removed orphan worktree", "path", p)
	}
	if removed > 0 {
		if err := m.git.WorktreePrune(ctx); err != nil {
			logging.Warn(logging.CatGit, "worktree prune failed", "error", err)
		}
	}
	return removed, nil
}

// StartupCleanup reconciles worktrees against the active session set
// at process start: prune first so directories deleted out of band do
// not read as registered, then remove orphans.
func (m *WorktreeManager) StartupCleanup(ctx context.Context, activePaths []string) (int, error) {
	if err := m.Prune(ctx); err != nil {
		logging.Warn(logging.CatGit, "startup worktree prune failed", "error", err)
	}
	return m.CleanupOrphans(ctx, activePaths)
}

// owns reports whether path sits strictly under the base directory.
func (m *WorktreeManager) owns(path string) bool {
	rel, err := filepath.Rel(m.baseDir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
