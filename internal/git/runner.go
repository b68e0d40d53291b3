package git

import (
	"context"
	"strings"
	"time"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/exec"
)

// ExecRunner implements Runner by shelling out to git in a fixed
// repository directory.
type ExecRunner struct {
	repoPath string
	runner   exec.CommandRunner
	timeout  time.Duration
}

// NewRunner creates a git runner for the repository at repoPath.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath, runner: exec.NewRunner(), timeout: OpTimeout}
}

// NewRunnerWith creates a git runner with an injected command runner.
func NewRunnerWith(repoPath string, runner exec.CommandRunner) *ExecRunner {
	return &ExecRunner{repoPath: repoPath, runner: runner, timeout: OpTimeout}
}

// run executes git with a deadline and returns trimmed stdout. Non-zero
// exits become WorktreeError with stderr attached.
func (r *ExecRunner) run(ctx context.Context, args ...string) (string, error) {
	res, err := r.capture(ctx, args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", errs.Worktree("git %s failed", strings.Join(args, " ")).
			With("exit_code", res.ExitCode).
			With("stderr", strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// capture executes git with a deadline, folding only spawn failures and
// context expiry into the error.
func (r *ExecRunner) capture(ctx context.Context, args ...string) (exec.Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	res, err := r.runner.Capture(ctx, r.repoPath, "git", args...)
	if err != nil {
		return res, errs.Worktree("git %s", strings.Join(args, " ")).Wrap(err)
	}
	return res, nil
}

// RepoRoot returns the absolute path of the repository toplevel.
func (r *ExecRunner) RepoRoot(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--show-toplevel")
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists returns true if the local branch exists.
func (r *ExecRunner) BranchExists(ctx context.Context, name string) (bool, error) {
	res, err := r.capture(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		return false, err
	}
	// Exit code 1 means the branch does not exist.
	return res.ExitCode == 0, nil
}

// DeleteBranch deletes the specified branch.
func (r *ExecRunner) DeleteBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "branch", "-D", name)
	return err
}

// HasChanges returns true if there are uncommitted changes.
func (r *ExecRunner) HasChanges(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(out) > 0, nil
}

// Merge merges branch into the current branch with --no-ff --no-edit.
// Conflicts surface through the exit code; callers inspect the Result.
func (r *ExecRunner) Merge(ctx context.Context, branch, message string) (exec.Result, error) {
	args := []string{"merge", "--no-ff", "--no-edit"}
	if message != "" {
		args = append(args, "-m", message)
	}
	args = append(args, branch)
	return r.capture(ctx, args...)
}

// AbortMerge aborts an in-progress merge.
func (r *ExecRunner) AbortMerge(ctx context.Context) error {
	_, err := r.run(ctx, "merge", "--abort")
	return err
}

// ConflictedFiles returns the paths with unmerged changes.
func (r *ExecRunner) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// MergeBase returns the common ancestor of two revisions.
func (r *ExecRunner) MergeBase(ctx context.Context, a, b string) (string, error) {
	return r.run(ctx, "merge-base", a, b)
}

// Add stages the specified paths for commit.
func (r *ExecRunner) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add"}, paths...)
	_, err := r.run(ctx, args...)
	return err
}

// Commit records staged changes with the given message.
func (r *ExecRunner) Commit(ctx context.Context, message string) error {
	_, err := r.run(ctx, "commit", "-m", message)
	return err
}

// CommitNoEdit concludes an in-progress merge with its prepared message.
func (r *ExecRunner) CommitNoEdit(ctx context.Context) error {
	_, err := r.run(ctx, "commit", "--no-edit")
	return err
}

// CommitWithParents snapshots the working tree into a commit with the
// given parents and advances HEAD to it. The resulting commit is a true
// merge commit even though its content was produced outside git merge.
func (r *ExecRunner) CommitWithParents(ctx context.Context, message string, parents ...string) (string, error) {
	if err := r.Add(ctx, "-A"); err != nil {
		return "", err
	}
	tree, err := r.run(ctx, "write-tree")
	if err != nil {
		return "", err
	}

	args := []string{"commit-tree", tree, "-m", message}
	for _, p := range parents {
		sha, err := r.RevParse(ctx, p)
		if err != nil {
			return "", err
		}
		args = append(args, "-p", sha)
	}
	sha, err := r.run(ctx, args...)
	if err != nil {
		return "", err
	}

	if _, err := r.run(ctx, "update-ref", "HEAD", sha); err != nil {
		return "", err
	}
	return sha, nil
}

// RevParse resolves rev to a commit sha.
func (r *ExecRunner) RevParse(ctx context.Context, rev string) (string, error) {
	return r.run(ctx, "rev-parse", rev)
}

// Diff returns the unified diff between two revisions.
func (r *ExecRunner) Diff(ctx context.Context, a, b string) (string, error) {
	res, err := r.capture(ctx, "diff", a, b)
	if err != nil {
		return "", err
	}
	// git diff exits 1 when the revisions differ only under --exit-code;
	// plain diff exits 0, so any non-zero here is a real failure.
	if res.ExitCode != 0 {
		return "", errs.Worktree("git diff %s %s failed", a, b).With("stderr", strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// ChangedFiles returns files changed on head relative to base.
func (r *ExecRunner) ChangedFiles(ctx context.Context, base, head string) ([]string, error) {
	out, err := r.run(ctx, "diff", "--name-only", base+"..."+head)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ShowFile returns the contents of a file at a specific rev.
func (r *ExecRunner) ShowFile(ctx context.Context, rev, path string) (string, error) {
	res, err := r.capture(ctx, "show", rev+":"+path)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", errs.Worktree("show %s:%s failed", rev, path).
			With("stderr", strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// WorktreeAdd creates a worktree at path on a new branch off base.
func (r *ExecRunner) WorktreeAdd(ctx context.Context, path, branch, base string) error {
	args := []string{"worktree", "add", path, "-b", branch}
	if base != "" {
		args = append(args, base)
	}
	_, err := r.run(ctx, args...)
	return err
}

// WorktreeRemove removes the worktree at the given path.
func (r *ExecRunner) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := r.run(ctx, args...)
	return err
}

// WorktreeList returns the paths of all worktrees.
func (r *ExecRunner) WorktreeList(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			paths = append(paths, strings.TrimPrefix(line, "worktree "))
		}
	}
	return paths, nil
}

// WorktreePrune removes stale worktree entries.
func (r *ExecRunner) WorktreePrune(ctx context.Context) error {
	_, err := r.run(ctx, "worktree", "prune")
	return err
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
