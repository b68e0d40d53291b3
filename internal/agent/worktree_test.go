package agent

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/exec"
	"github.com/overstoryai/overstory/internal/git"
)

// fakeGit is an in-memory git.Runner tracking the calls the worktree
// manager makes.
type fakeGit struct {
	branches   map[string]bool
	worktrees  []string
	adds       []addCall
	removed    []string
	prunes     int
	failRemove map[string]error
}

type addCall struct {
	path, branch, base string
}

func newFakeGit() *fakeGit {
	return &fakeGit{branches: map[string]bool{}, failRemove: map[string]error{}}
}

var _ git.Runner = (*fakeGit)(nil)

func (g *fakeGit) RepoRoot(ctx context.Context) (string, error)      { return "", nil }
func (g *fakeGit) CurrentBranch(ctx context.Context) (string, error) { return "main", nil }
func (g *fakeGit) BranchExists(ctx context.Context, name string) (bool, error) {
	return g.branches[name], nil
}
func (g *fakeGit) DeleteBranch(ctx context.Context, name string) error {
	delete(g.branches, name)
	return nil
}

func (g *fakeGit) Merge(ctx context.Context, branch, message string) (exec.Result, error) {
	return exec.Result{}, nil
}
func (g *fakeGit) AbortMerge(ctx context.Context) error                  { return nil }
func (g *fakeGit) ConflictedFiles(ctx context.Context) ([]string, error) { return nil, nil }
func (g *fakeGit) MergeBase(ctx context.Context, a, b string) (string, error) {
	return "", nil
}

func (g *fakeGit) Add(ctx context.Context, paths ...string) error   { return nil }
func (g *fakeGit) Commit(ctx context.Context, message string) error { return nil }
func (g *fakeGit) CommitNoEdit(ctx context.Context) error           { return nil }
func (g *fakeGit) CommitWithParents(ctx context.Context, message string, parents ...string) (string, error) {
	return "", nil
}

func (g *fakeGit) HasChanges(ctx context.Context) (bool, error)          { return false, nil }
func (g *fakeGit) Diff(ctx context.Context, a, b string) (string, error) { return "", nil }
func (g *fakeGit) ChangedFiles(ctx context.Context, base, head string) ([]string, error) {
	return nil, nil
}
func (g *fakeGit) RevParse(ctx context.Context, rev string) (string, error)       { return rev, nil }
func (g *fakeGit) ShowFile(ctx context.Context, rev, path string) (string, error) { return "", nil }

func (g *fakeGit) WorktreeAdd(ctx context.Context, path, branch, base string) error {
	g.adds = append(g.adds, addCall{path, branch, base})
	g.branches[branch] = true
	g.worktrees = append(g.worktrees, path)
	return nil
}

func (g *fakeGit) WorktreeRemove(ctx context.Context, path string, force bool) error {
	if err, ok := g.failRemove[path]; ok {
		return err
	}
	g.removed = append(g.removed, path)
	for i, p := range g.worktrees {
		if p == path {
			g.worktrees = append(g.worktrees[:i], g.worktrees[i+1:]...)
			break
		}
	}
	return nil
}

func (g *fakeGit) WorktreeList(ctx context.Context) ([]string, error) {
	return append([]string(nil), g.worktrees...), nil
}

func (g *fakeGit) WorktreePrune(ctx context.Context) error {
	g.prunes++
	return nil
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		agent   string
		wantErr bool
	}{
		{"simple", "birch", false},
		{"digits and dash", "builder-1", false},
		{"underscore", "qa_lead", false},
		{"empty", "", true},
		{"space", "two words", true},
		{"slash", "a/b", true},
		{"dot", "v1.2", true},
		{"leading dash", "-birch", true},
		{"colon", "a:b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.agent)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateName(%q) error = %v, wantErr %v", tt.agent, err, tt.wantErr)
			}
			if err != nil && !errs.HasKind(err, errs.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		name  string
		agent string
		task  string
		want  string
	}{
		{"agent and task", "birch", "task-042", "overstory/birch/task-042"},
		{"no task", "birch", "", "overstory/birch"},
		{"task with spaces", "birch", "fix auth flow", "overstory/birch/fix-auth-flow"},
		{"task with punctuation", "birch", "(wat)", "overstory/birch/wat"},
		{"task folds to nothing", "birch", "///", "overstory/birch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BranchName(tt.agent, tt.task); got != tt.want {
				t.Errorf("BranchName(%q, %q) = %q, want %q", tt.agent, tt.task, got, tt.want)
			}
		})
	}
}

func TestPaneName(t *testing.T) {
	if got := PaneName("birch"); got != "overstory-birch" {
		t.Errorf("PaneName = %q, want overstory-birch", got)
	}
}

func TestWorktreeManagerCreate(t *testing.T) {
	base := t.TempDir()
	g := newFakeGit()
	m := NewWorktreeManagerWith(base, "/repo", g)

	wt, err := m.Create(context.Background(), "birch", "task-042")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	wantPath := filepath.Join(base, "birch")
	if wt.Path != wantPath {
		t.Errorf("path = %q, want %q", wt.Path, wantPath)
	}
	if wt.Branch != "overstory/birch/task-042" {
		t.Errorf("branch = %q, want overstory/birch/task-042", wt.Branch)
	}
	want := []addCall{{wantPath, "overstory/birch/task-042", ""}}
	if !reflect.DeepEqual(g.adds, want) {
		t.Errorf("worktree add calls = %v, want %v", g.adds, want)
	}
}

func TestWorktreeManagerCreate_ExistingDirectory(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "birch"), 0755); err != nil {
		t.Fatal(err)
	}
	g := newFakeGit()
	m := NewWorktreeManagerWith(base, "/repo", g)

	_, err := m.Create(context.Background(), "birch", "task-042")
	if !errs.HasKind(err, errs.KindWorktree) {
		t.Fatalf("expected worktree error, got %v", err)
	}
	if len(g.adds) != 0 {
		t.Errorf("worktree add was called: %v", g.adds)
	}
}

func TestWorktreeManagerCreate_ExistingBranch(t *testing.T) {
	base := t.TempDir()
	g := newFakeGit()
	g.branches["overstory/birch/task-042"] = true
	m := NewWorktreeManagerWith(base, "/repo", g)

	_, err := m.Create(context.Background(), "birch", "task-042")
	if !errs.HasKind(err, errs.KindWorktree) {
		t.Fatalf("expected worktree error, got %v", err)
	}
	if len(g.adds) != 0 {
		t.Errorf("worktree add was called: %v", g.adds)
	}
}

func TestWorktreeManagerRemove(t *testing.T) {
	base := t.TempDir()
	g := newFakeGit()
	m := NewWorktreeManagerWith(base, "/repo", g)

	wt, err := m.Create(context.Background(), "birch", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Remove(context.Background(), wt.Path, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !reflect.DeepEqual(g.removed, []string{wt.Path}) {
		t.Errorf("removed = %v, want [%s]", g.removed, wt.Path)
	}
}

func TestWorktreeManagerRemove_RefusesOutsidePaths(t *testing.T) {
	base := t.TempDir()
	g := newFakeGit()
	m := NewWorktreeManagerWith(base, "/repo", g)

	for _, path := range []string{"/repo", "/somewhere/else", base, filepath.Dir(base)} {
		if err := m.Remove(context.Background(), path, true); !errs.HasKind(err, errs.KindWorktree) {
			t.Errorf("Remove(%q): expected worktree error, got %v", path, err)
		}
	}
	if len(g.removed) != 0 {
		t.Errorf("git remove was called: %v", g.removed)
	}
}

func TestWorktreeManagerListOrphans(t *testing.T) {
	base := t.TempDir()
	g := newFakeGit()
	birch := filepath.Join(base, "birch")
	cedar := filepath.Join(base, "cedar")
	g.worktrees = []string{"/repo", birch, cedar, "/elsewhere/oak"}
	m := NewWorktreeManagerWith(base, "/repo", g)

	// A directory git has already forgotten about.
	dangling := filepath.Join(base, "dangling")
	if err := os.MkdirAll(dangling, 0755); err != nil {
		t.Fatal(err)
	}

	orphans, err := m.ListOrphans(context.Background(), []string{birch})
	if err != nil {
		t.Fatalf("ListOrphans: %v", err)
	}
	want := []string{cedar, dangling}
	if !reflect.DeepEqual(orphans, want) {
		t.Errorf("orphans = %v, want %v", orphans, want)
	}
}

func TestWorktreeManagerCleanupOrphans(t *testing.T) {
	base := t.TempDir()
	g := newFakeGit()
	cedar := filepath.Join(base, "cedar")
	dangling := filepath.Join(base, "dangling")
	g.worktrees = []string{"/repo", cedar}
	// git refuses the dangling directory; cleanup falls back to rm.
	g.failRemove[dangling] = errs.Worktree("not a working tree")
	if err := os.MkdirAll(dangling, 0755); err != nil {
		t.Fatal(err)
	}
	m := NewWorktreeManagerWith(base, "/repo", g)

	n, err := m.CleanupOrphans(context.Background(), nil)
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	if !reflect.DeepEqual(g.removed, []string{cedar}) {
		t.Errorf("git removed = %v, want [%s]", g.removed, cedar)
	}
	if _, err := os.Stat(dangling); !os.IsNotExist(err) {
		t.Errorf("dangling directory still exists")
	}
	if g.prunes != 1 {
		t.Errorf("prunes = %d, want 1", g.prunes)
	}
}

func TestWorktreeManagerCleanupOrphans_NothingToDo(t *testing.T) {
	base := t.TempDir()
	g := newFakeGit()
	g.worktrees = []string{"/repo"}
	m := NewWorktreeManagerWith(base, "/repo", g)

	n, err := m.CleanupOrphans(context.Background(), nil)
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if n != 0 {
		t.Errorf("removed = %d, want 0", n)
	}
	if g.prunes != 0 {
		t.Errorf("prune ran with nothing removed")
	}
}

func TestWorktreeManagerStartupCleanup(t *testing.T) {
	base := t.TempDir()
	g := newFakeGit()
	cedar := filepath.Join(base, "cedar")
	g.worktrees = []string{"/repo", cedar}
	m := NewWorktreeManagerWith(base, "/repo", g)

	n, err := m.StartupCleanup(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartupCleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	// One upfront prune plus one after the removals.
	if g.prunes != 2 {
		t.Errorf("prunes = %d, want 2", g.prunes)
	}
}
