// Package git wraps the git operations overstory needs: branch and
// worktree lifecycle, merges with conflict inspection, and synthetic
// merge commits for rebuilt content. Every operation takes a context
// and is bounded by OpTimeout unless the caller sets a tighter deadline.
package git

import (
	"context"
	"time"

	"github.com/overstoryai/overstory/internal/exec"
)

// OpTimeout bounds a single git operation.
const OpTimeout = 30 * time.Second

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// RepoRoot returns the absolute path of the repository toplevel.
	RepoRoot(ctx context.Context) (string, error)
	// CurrentBranch returns the name of the current branch.
	CurrentBranch(ctx context.Context) (string, error)
	// BranchExists returns true if the local branch exists.
	BranchExists(ctx context.Context, name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(ctx context.Context, name string) error
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// Merge runs a no-fast-forward, no-edit merge of branch with the
	// given commit message. A conflicted merge surfaces through the
	// Result exit code, not the error return.
	Merge(ctx context.Context, branch, message string) (exec.Result, error)
	// AbortMerge aborts an in-progress merge.
	AbortMerge(ctx context.Context) error
	// ConflictedFiles returns the paths with unmerged changes.
	ConflictedFiles(ctx context.Context) ([]string, error)
	// MergeBase returns the common ancestor of two revisions.
	MergeBase(ctx context.Context, a, b string) (string, error)
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// Add stages the specified paths ("-A" stages everything).
	Add(ctx context.Context, paths ...string) error
	// Commit records staged changes with the given message.
	Commit(ctx context.Context, message string) error
	// CommitNoEdit concludes an in-progress merge with its prepared message.
	CommitNoEdit(ctx context.Context) error
	// CommitWithParents records the working tree as a commit with the
	// given parent revisions and advances HEAD to it. Returns the new
	// commit sha.
	CommitWithParents(ctx context.Context, message string, parents ...string) (string, error)
}

// DiffOperations defines the interface for git inspection operations.
type DiffOperations interface {
	// HasChanges returns true if there are uncommitted changes.
	HasChanges(ctx context.Context) (bool, error)
	// Diff returns the unified diff between two revisions.
	Diff(ctx context.Context, a, b string) (string, error)
	// ChangedFiles returns files changed on head relative to base.
	ChangedFiles(ctx context.Context, base, head string) ([]string, error)
	// RevParse resolves rev to a commit sha.
	RevParse(ctx context.Context, rev string) (string, error)
	// ShowFile returns the contents of a file at a specific rev.
	ShowFile(ctx context.Context, rev, path string) (string, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a worktree at path on a new branch off base.
	WorktreeAdd(ctx context.Context, path, branch, base string) error
	// WorktreeRemove removes the worktree at the given path.
	WorktreeRemove(ctx context.Context, path string, force bool) error
	// WorktreeList returns the paths of all worktrees.
	WorktreeList(ctx context.Context) ([]string, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune(ctx context.Context) error
}

// Runner defines the complete interface for git operations.
// Consumers should prefer the focused interfaces when possible.
type Runner interface {
	BranchOperations
	MergeOperations
	CommitOperations
	DiffOperations
	WorktreeOperations
}
