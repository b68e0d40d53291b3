package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/manifest"
	"github.com/overstoryai/overstory/internal/mux"
	"github.com/overstoryai/overstory/internal/policy"
	"github.com/overstoryai/overstory/pkg/models"
)

// fakeSessions is an in-memory Store matching the real store's
// semantics: missing rows read as nil, transitions are checked.
type fakeSessions struct {
	sessions map[string]*models.AgentSession
	runCount map[string]int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: map[string]*models.AgentSession{},
		runCount: map[string]int{},
	}
}

var _ Store = (*fakeSessions)(nil)

func (f *fakeSessions) GetByName(name string) (*models.AgentSession, error) {
	s, ok := f.sessions[name]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) Upsert(sess *models.AgentSession) error {
	cp := *sess
	f.sessions[sess.AgentName] = &cp
	return nil
}

func (f *fakeSessions) UpdateState(name string, next models.AgentState) error {
	s, ok := f.sessions[name]
	if !ok {
		return errs.Agent("no session for agent %q", name)
	}
	if !s.State.CanTransitionTo(next) {
		return errs.Lifecycle("cannot transition %s -> %s", s.State, next)
	}
	s.State = next
	return nil
}

func (f *fakeSessions) Remove(name string) error {
	delete(f.sessions, name)
	return nil
}

func (f *fakeSessions) IncrementAgentCount(id string) error {
	f.runCount[id]++
	return nil
}

func (f *fakeSessions) add(name string, cap models.Capability, state models.AgentState, depth int) {
	f.sessions[name] = &models.AgentSession{
		AgentName:  name,
		Capability: cap,
		State:      state,
		Depth:      depth,
	}
}

// fakeTrees implements WorktreeProvider on plain directories so the
// overlay write has somewhere real to land.
type fakeTrees struct {
	base      string
	createErr error
	created   []string
	removed   []string
}

var _ WorktreeProvider = (*fakeTrees)(nil)

func (f *fakeTrees) Create(ctx context.Context, agent, task string) (*Worktree, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	path := filepath.Join(f.base, agent)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	f.created = append(f.created, agent)
	return &Worktree{Path: path, Branch: BranchName(agent, task)}, nil
}

func (f *fakeTrees) Remove(ctx context.Context, path string, force bool) error {
	f.removed = append(f.removed, path)
	return os.RemoveAll(path)
}

// fakeMux is an in-memory mux.Driver.
type fakeMux struct {
	createErr error
	killErr   error
	created   []paneCall
	killed    []string
	panes     []mux.Pane
}

type paneCall struct {
	name, cwd, command string
	env                map[string]string
}

var _ mux.Driver = (*fakeMux)(nil)

func (d *fakeMux) CreatePane(ctx context.Context, name, cwd, command string, env map[string]string) error {
	if d.createErr != nil {
		return d.createErr
	}
	d.created = append(d.created, paneCall{name, cwd, command, env})
	return nil
}

func (d *fakeMux) KillPane(ctx context.Context, name string) error {
	if d.killErr != nil {
		return d.killErr
	}
	d.killed = append(d.killed, name)
	return nil
}

func (d *fakeMux) IsPaneAlive(ctx context.Context, name string) bool     { return false }
func (d *fakeMux) SendKeys(ctx context.Context, name, text string) error { return nil }
func (d *fakeMux) Capture(ctx context.Context, name string, lines int) (string, error) {
	return "", nil
}
func (d *fakeMux) ListPanes(ctx context.Context) ([]mux.Pane, error) { return d.panes, nil }

// newTestSpawner wires a spawner to fakes rooted in temp directories.
func newTestSpawner(t *testing.T) (*Spawner, *fakeSessions, *fakeTrees, *fakeMux) {
	t.Helper()
	st := newFakeSessions()
	trees := &fakeTrees{base: t.TempDir()}
	driver := &fakeMux{}
	sp := NewSpawner(st, driver, trees, policy.Default(), Config{
		StateDir: t.TempDir(),
		ExtraEnv: map[string]string{"API_BASE_URL": "https://gateway.example"},
	})
	return sp, st, trees, driver
}

func TestSpawn(t *testing.T) {
	sp, st, _, driver := newTestSpawner(t)
	st.add("coordinator", models.CapCoordinator, models.StateWorking, 0)
	driver.panes = []mux.Pane{{Name: "overstory-birch", PID: 4242}}

	sess, err := sp.Spawn(context.Background(), Request{
		Name:       "birch",
		Capability: models.CapBuilder,
		Parent:     "coordinator",
		BeadID:     "task-042",
		RunID:      "run-1",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if sess.State != models.StateBooting {
		t.Errorf("state = %s, want %s", sess.State, models.StateBooting)
	}
	if sess.Depth != 1 {
		t.Errorf("depth = %d, want 1", sess.Depth)
	}
	if sess.BranchName != "overstory/birch/task-042" {
		t.Errorf("branch = %q, want overstory/birch/task-042", sess.BranchName)
	}
	if sess.Pane != "overstory-birch" {
		t.Errorf("pane = %q, want overstory-birch", sess.Pane)
	}
	if sess.PID != 4242 {
		t.Errorf("pid = %d, want 4242", sess.PID)
	}

	stored, _ := st.GetByName("birch")
	if stored == nil {
		t.Fatal("session row not written")
	}
	if stored.PID != 4242 || stored.State != models.StateBooting {
		t.Errorf("stored session = %+v", stored)
	}
	if st.runCount["run-1"] != 1 {
		t.Errorf("run agent count = %d, want 1", st.runCount["run-1"])
	}

	if len(driver.created) != 1 {
		t.Fatalf("expected 1 pane, got %d", len(driver.created))
	}
	pane := driver.created[0]
	if pane.cwd != sess.WorktreePath {
		t.Errorf("pane cwd = %q, want %q", pane.cwd, sess.WorktreePath)
	}
	if pane.command != DefaultWorkerCommand {
		t.Errorf("pane command = %q, want %q", pane.command, DefaultWorkerCommand)
	}
	if pane.env[EnvAgentName] != "birch" {
		t.Errorf("env %s = %q, want birch", EnvAgentName, pane.env[EnvAgentName])
	}
	if pane.env[EnvWorktree] != sess.WorktreePath {
		t.Errorf("env %s = %q, want %q", EnvWorktree, pane.env[EnvWorktree], sess.WorktreePath)
	}
	if pane.env[EnvStateDir] == "" {
		t.Errorf("env %s not set", EnvStateDir)
	}
	if pane.env["API_BASE_URL"] != "https://gateway.example" {
		t.Errorf("extra env not injected: %v", pane.env)
	}

	// Briefing artifacts: identity under the state dir, overlay in the
	// worktree.
	if _, err := manifest.LoadIdentity(pane.env[EnvStateDir], "birch"); err != nil {
		t.Errorf("identity not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sess.WorktreePath, manifest.OverlayFileName)); err != nil {
		t.Errorf("overlay not written: %v", err)
	}
}

func TestSpawn_RootCoordinator(t *testing.T) {
	sp, st, _, _ := newTestSpawner(t)

	sess, err := sp.Spawn(context.Background(), Request{
		Name:       "coordinator",
		Capability: models.CapCoordinator,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if sess.Depth != 0 {
		t.Errorf("depth = %d, want 0", sess.Depth)
	}
	if sess.Parent != "" {
		t.Errorf("parent = %q, want empty", sess.Parent)
	}
	if stored, _ := st.GetByName("coordinator"); stored == nil {
		t.Error("session row not written")
	}
}

func TestSpawn_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		setup    func(st *fakeSessions)
		wantKind errs.Kind
	}{
		{
			name:     "builder without parent",
			req:      Request{Name: "birch", Capability: models.CapBuilder},
			wantKind: errs.KindValidation,
		},
		{
			name:     "unknown capability",
			req:      Request{Name: "birch", Capability: "wizard"},
			wantKind: errs.KindValidation,
		},
		{
			name: "bad name",
			req:  Request{Name: "two words", Capability: models.CapBuilder, Parent: "coordinator"},
			setup: func(st *fakeSessions) {
				st.add("coordinator", models.CapCoordinator, models.StateWorking, 0)
			},
			wantKind: errs.KindValidation,
		},
		{
			name:     "parent has no session",
			req:      Request{Name: "birch", Capability: models.CapBuilder, Parent: "ghost"},
			wantKind: errs.KindAgent,
		},
		{
			name: "parent already terminal",
			req:  Request{Name: "birch", Capability: models.CapBuilder, Parent: "coordinator"},
			setup: func(st *fakeSessions) {
				st.add("coordinator", models.CapCoordinator, models.StateCompleted, 0)
			},
			wantKind: errs.KindLifecycle,
		},
		{
			name: "policy denies spawn",
			req:  Request{Name: "birch", Capability: models.CapBuilder, Parent: "scout-1"},
			setup: func(st *fakeSessions) {
				st.add("scout-1", models.CapScout, models.StateWorking, 2)
			},
			wantKind: errs.KindValidation,
		},
		{
			name: "coordinator cannot be spawned",
			req:  Request{Name: "second", Capability: models.CapCoordinator, Parent: "coordinator"},
			setup: func(st *fakeSessions) {
				st.add("coordinator", models.CapCoordinator, models.StateWorking, 0)
			},
			wantKind: errs.KindValidation,
		},
		{
			name: "name already live",
			req:  Request{Name: "birch", Capability: models.CapBuilder, Parent: "coordinator"},
			setup: func(st *fakeSessions) {
				st.add("coordinator", models.CapCoordinator, models.StateWorking, 0)
				st.add("birch", models.CapBuilder, models.StateWorking, 1)
			},
			wantKind: errs.KindAgent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp, st, trees, driver := newTestSpawner(t)
			if tt.setup != nil {
				tt.setup(st)
			}

			_, err := sp.Spawn(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errs.HasKind(err, tt.wantKind) {
				t.Errorf("error kind = %v, want %s", err, tt.wantKind)
			}
			// Rejection happens before anything is planted.
			if len(trees.created) != 0 {
				t.Errorf("worktree was created: %v", trees.created)
			}
			if len(driver.created) != 0 {
				t.Errorf("pane was created: %v", driver.created)
			}
		})
	}
}

func TestSpawn_RespawnAfterTerminal(t *testing.T) {
	sp, st, _, _ := newTestSpawner(t)
	st.add("coordinator", models.CapCoordinator, models.StateWorking, 0)
	st.add("birch", models.CapBuilder, models.StateZombie, 1)

	sess, err := sp.Spawn(context.Background(), Request{
		Name:       "birch",
		Capability: models.CapBuilder,
		Parent:     "coordinator",
		BeadID:     "task-042",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if sess.State != models.StateBooting {
		t.Errorf("state = %s, want %s", sess.State, models.StateBooting)
	}
	stored, _ := st.GetByName("birch")
	if stored.State != models.StateBooting {
		t.Errorf("stored state = %s, want %s", stored.State, models.StateBooting)
	}
}

func TestSpawn_PaneFailureUnwinds(t *testing.T) {
	sp, st, trees, driver := newTestSpawner(t)
	st.add("coordinator", models.CapCoordinator, models.StateWorking, 0)
	driver.createErr = errs.Agent("tmux new-session failed")

	_, err := sp.Spawn(context.Background(), Request{
		Name:       "birch",
		Capability: models.CapBuilder,
		Parent:     "coordinator",
		BeadID:     "task-042",
	})
	if !errs.HasKind(err, errs.KindAgent) {
		t.Fatalf("expected agent error, got %v", err)
	}

	if stored, _ := st.GetByName("birch"); stored != nil {
		t.Errorf("session row survived the unwind: %+v", stored)
	}
	wantPath := filepath.Join(trees.base, "birch")
	if len(trees.removed) != 1 || trees.removed[0] != wantPath {
		t.Errorf("worktree removals = %v, want [%s]", trees.removed, wantPath)
	}
	if _, err := os.Stat(wantPath); !os.IsNotExist(err) {
		t.Errorf("worktree directory survived the unwind")
	}
}

func TestSpawn_ResumeBriefing(t *testing.T) {
	tests := []struct {
		name            string
		checkpointBead  string
		spawnBead       string
		wantInterrupted bool
	}{
		{"same task resumes", "task-042", "task-042", true},
		{"different task starts clean", "task-007", "task-042", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeSessions()
			st.add("coordinator", models.CapCoordinator, models.StateWorking, 0)
			trees := &fakeTrees{base: t.TempDir()}
			stateDir := t.TempDir()
			sp := NewSpawner(st, &fakeMux{}, trees, policy.Default(), Config{StateDir: stateDir})

			cp := manifest.NewCheckpoint("birch", tt.checkpointBead)
			cp.ProgressSummary = "wired the parser"
			if err := cp.Save(stateDir); err != nil {
				t.Fatal(err)
			}

			sess, err := sp.Spawn(context.Background(), Request{
				Name:       "birch",
				Capability: models.CapBuilder,
				Parent:     "coordinator",
				BeadID:     tt.spawnBead,
			})
			if err != nil {
				t.Fatalf("Spawn: %v", err)
			}

			data, err := os.ReadFile(filepath.Join(sess.WorktreePath, manifest.OverlayFileName))
			if err != nil {
				t.Fatalf("read overlay: %v", err)
			}
			got := strings.Contains(string(data), "Interrupted Session")
			if got != tt.wantInterrupted {
				t.Errorf("interrupted section present = %v, want %v", got, tt.wantInterrupted)
			}
		})
	}
}

func TestSpawn_WorkerCommand(t *testing.T) {
	tests := []struct {
		name       string
		cfgCommand string
		reqCommand string
		want       string
	}{
		{"default", "", "", DefaultWorkerCommand},
		{"configured command", "claude --verbose", "", "claude --verbose"},
		{"request override", "claude --verbose", "claude --model haiku", "claude --model haiku"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeSessions()
			trees := &fakeTrees{base: t.TempDir()}
			driver := &fakeMux{}
			sp := NewSpawner(st, driver, trees, policy.Default(), Config{
				StateDir: t.TempDir(),
				Command:  tt.cfgCommand,
			})

			_, err := sp.Spawn(context.Background(), Request{
				Name:       "coordinator",
				Capability: models.CapCoordinator,
				Command:    tt.reqCommand,
			})
			if err != nil {
				t.Fatalf("Spawn: %v", err)
			}
			if len(driver.created) != 1 {
				t.Fatalf("expected 1 pane, got %d", len(driver.created))
			}
			if got := driver.created[0].command; got != tt.want {
				t.Errorf("pane command = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKill(t *testing.T) {
	sp, st, trees, driver := newTestSpawner(t)
	st.sessions["birch"] = &models.AgentSession{
		AgentName:    "birch",
		Capability:   models.CapBuilder,
		State:        models.StateWorking,
		Depth:        1,
		Pane:         "overstory-birch",
		WorktreePath: filepath.Join(trees.base, "birch"),
	}

	if err := sp.Kill(context.Background(), "birch"); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	if len(driver.killed) != 1 || driver.killed[0] != "overstory-birch" {
		t.Errorf("killed panes = %v, want [overstory-birch]", driver.killed)
	}
	got := st.sessions["birch"]
	if got == nil {
		t.Fatal("session row was deleted")
	}
	if got.State != models.StateZombie {
		t.Errorf("state = %s, want %s", got.State, models.StateZombie)
	}
	if len(trees.removed) != 0 {
		t.Errorf("worktree was removed: %v", trees.removed)
	}
}

func TestKill_NoSession(t *testing.T) {
	sp, _, _, _ := newTestSpawner(t)
	err := sp.Kill(context.Background(), "ghost")
	if !errs.HasKind(err, errs.KindAgent) {
		t.Fatalf("expected agent error, got %v", err)
	}
}

func TestKill_PaneFailureLeavesState(t *testing.T) {
	sp, st, _, driver := newTestSpawner(t)
	st.add("birch", models.CapBuilder, models.StateWorking, 1)
	driver.killErr = errs.Agent("tmux kill-session failed")

	if err := sp.Kill(context.Background(), "birch"); err == nil {
		t.Fatal("expected error")
	}
	if got := st.sessions["birch"].State; got != models.StateWorking {
		t.Errorf("state = %s, want %s", got, models.StateWorking)
	}
}

func TestKill_TerminalAgent(t *testing.T) {
	sp, st, _, driver := newTestSpawner(t)
	st.sessions["birch"] = &models.AgentSession{
		AgentName:  "birch",
		Capability: models.CapBuilder,
		State:      models.StateZombie,
		Depth:      1,
		Pane:       "overstory-birch",
	}

	// Killing an already-terminal agent still closes the pane but does
	// not attempt a state transition.
	if err := sp.Kill(context.Background(), "birch"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if len(driver.killed) != 1 {
		t.Errorf("killed panes = %v", driver.killed)
	}
	if got := st.sessions["birch"].State; got != models.StateZombie {
		t.Errorf("state = %s, want %s", got, models.StateZombie)
	}
}
