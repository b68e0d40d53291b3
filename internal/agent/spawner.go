package agent

import (
	"context"
	"path/filepath"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/logging"
	"github.com/overstoryai/overstory/internal/manifest"
	"github.com/overstoryai/overstory/internal/mux"
	"github.com/overstoryai/overstory/internal/policy"
	"github.com/overstoryai/overstory/pkg/models"
)

// DefaultWorkerCommand launches the worker when nothing else is
// configured.
const DefaultWorkerCommand = "claude"

// Environment variables injected into every agent pane. The worker's
// launcher reads these; the core only guarantees they are present.
const (
	EnvAgentName = "AGENT_NAME"
	EnvWorktree  = "WORKTREE_PATH"
	EnvStateDir  = "OVERSTORY_STATE_DIR"
)

// Store is the slice of the session store the spawner drives.
type Store interface {
	GetByName(name string) (*models.AgentSession, error)
	Upsert(sess *models.AgentSession) error
	UpdateState(name string, next models.AgentState) error
	Remove(name string) error
	IncrementAgentCount(id string) error
}

// WorktreeProvider is the slice of the worktree manager the spawner
// uses.
type WorktreeProvider interface {
	Create(ctx context.Context, agent, task string) (*Worktree, error)
	Remove(ctx context.Context, path string, force bool) error
}

// Verify WorktreeManager satisfies the provider at compile time.
var _ WorktreeProvider = (*WorktreeManager)(nil)

// Config carries the spawner's fixed surroundings.
type Config struct {
	// StateDir is the orchestrator state directory, injected into every
	// pane as OVERSTORY_STATE_DIR. Relative paths are made absolute so
	// they survive the pane's cwd being the worktree.
	StateDir string
	// Command launches the worker inside the pane. Empty means
	// DefaultWorkerCommand.
	Command string
	// ExtraEnv entries are added to every pane's environment. The API
	// gateway variables ride here.
	ExtraEnv map[string]string
}

// Spawner boots and retires agents.
type Spawner struct {
	store  Store
	driver mux.Driver
	trees  WorktreeProvider
	table  *policy.Table
	cfg    Config
}

// NewSpawner creates a spawner. All four collaborators are required.
func NewSpawner(st Store, driver mux.Driver, trees WorktreeProvider, table *policy.Table, cfg Config) *Spawner {
	if abs, err := filepath.Abs(cfg.StateDir); err == nil {
		cfg.StateDir = abs
	}
	if cfg.Command == "" {
		cfg.Command = DefaultWorkerCommand
	}
	return &Spawner{store: st, driver: driver, trees: trees, table: table, cfg: cfg}
}

// Request describes one agent to spawn.
type Request struct {
	// Name is the process-wide unique agent name.
	Name string
	// Capability is the role the agent runs as.
	Capability models.Capability
	// Parent names the spawning agent. Empty spawns at depth 0, which
	// only root-only capabilities may do.
	Parent string
	// BeadID is the task the agent works on. It lands in the branch
	// name and scopes checkpoint resumption.
	BeadID string
	// RunID groups the session under a run.
	RunID string
	// Command overrides the configured worker command for this agent.
	Command string
}

// Spawn boots an agent: worktree first, then the session row in
// booting state, then the pane. A failure after a piece is planted
// tears the earlier pieces back down.
func (s *Spawner) Spawn(ctx context.Context, req Request) (*models.AgentSession, error) {
	depth, err := s.admit(req)
	if err != nil {
		return nil, err
	}

	wt, err := s.trees.Create(ctx, req.Name, req.BeadID)
	if err != nil {
		return nil, err
	}

	sess := &models.AgentSession{
		AgentName:    req.Name,
		Capability:   req.Capability,
		State:        models.StateBooting,
		Parent:       req.Parent,
		Depth:        depth,
		WorktreePath: wt.Path,
		BranchName:   wt.Branch,
		BeadID:       req.BeadID,
		Pane:         PaneName(req.Name),
		RunID:        req.RunID,
	}
	if err := s.store.Upsert(sess); err != nil {
		s.unwind(ctx, wt, "")
		return nil, err
	}

	s.brief(wt.Path, req)

	command := req.Command
	if command == "" {
		command = s.cfg.Command
	}
	if err := s.driver.CreatePane(ctx, sess.Pane, wt.Path, command, s.paneEnv(sess)); err != nil {
		s.unwind(ctx, wt, req.Name)
		return nil, errs.Agent("create pane for agent %q", req.Name).Wrap(err)
	}

	if pid := s.panePID(ctx, sess.Pane); pid > 0 {
		sess.PID = pid
		if err := s.store.Upsert(sess); err != nil {
			logging.Warn(logging.CatAgent, "record pane pid failed",
				"agent", req.Name, "error", err)
		}
	}
	if req.RunID != "" {
		if err := s.store.IncrementAgentCount(req.RunID); err != nil {
			logging.Warn(logging.CatAgent, "increment run agent count failed",
				"run", req.RunID, "error", err)
		}
	}

	logging.Info(logging.CatAgent, "agent spawned",
		"agent", req.Name, "capability", string(req.Capability), "depth", depth,
		"branch", wt.Branch, "pane", sess.Pane, "pid", sess.PID)
	return sess, nil
}

// Kill tears down a live agent: the pane dies with its process tree
// and the session row turns zombie. The row and the worktree survive
// so the death stays visible and the branch stays mergeable.
func (s *Spawner) Kill(ctx context.Context, name string) error {
	sess, err := s.store.GetByName(name)
	if err != nil {
		return err
	}
	if sess == nil {
		return errs.Agent("no session for agent %q", name)
	}

	pane := sess.Pane
	if pane == "" {
		pane = PaneName(name)
	}
	if err := s.driver.KillPane(ctx, pane); err != nil {
		// Leave the row alone: marking a possibly-live process zombie
		// would hide it from the watchdog.
		return errs.Agent("kill pane for agent %q", name).Wrap(err)
	}

	if sess.State.Terminal() {
		return nil
	}
	if err := s.store.UpdateState(name, models.StateZombie); err != nil {
		return err
	}
	logging.Info(logging.CatAgent, "agent killed", "agent", name, "pane", pane)
	return nil
}

// admit validates the request against the policy table and the live
// session set, returning the new agent's depth.
func (s *Spawner) admit(req Request) (int, error) {
	if err := ValidateName(req.Name); err != nil {
		return 0, err
	}

	depth := 0
	if req.Parent == "" {
		if !req.Capability.Valid() {
			return 0, errs.Validation("unknown capability %q", req.Capability)
		}
		if !req.Capability.RootOnly() {
			return 0, errs.Validation("capability %s needs a parent agent", req.Capability)
		}
	} else {
		parent, err := s.store.GetByName(req.Parent)
		if err != nil {
			return 0, err
		}
		if parent == nil {
			return 0, errs.Agent("parent agent %q has no session", req.Parent)
		}
		if !parent.State.Active() {
			return 0, errs.Lifecycle("parent agent %q is %s", req.Parent, parent.State)
		}
		depth = parent.Depth + 1
		if err := s.table.CheckSpawn(parent.Capability, req.Capability, depth); err != nil {
			return 0, err
		}
	}

	existing, err := s.store.GetByName(req.Name)
	if err != nil {
		return 0, err
	}
	if existing != nil && !existing.State.Terminal() {
		return 0, errs.Agent("agent %q is already %s", req.Name, existing.State)
	}
	return depth, nil
}

// brief refreshes the agent's identity record and drops the briefing
// overlay into the worktree. A failure here degrades the agent's
// context, not the spawn.
func (s *Spawner) brief(worktree string, req Request) {
	id, err := manifest.EnsureIdentity(s.cfg.StateDir, req.Name, req.Capability)
	if err != nil {
		logging.Warn(logging.CatAgent, "ensure identity failed",
			"agent", req.Name, "error", err)
		return
	}
	cp, err := manifest.LoadCheckpoint(s.cfg.StateDir, req.Name)
	if err != nil {
		cp = nil
	}
	// A checkpoint from some other task is history, not an interruption.
	if cp != nil && req.BeadID != "" && cp.BeadID != req.BeadID {
		cp = nil
	}
	if err := manifest.WriteOverlay(worktree, id, cp); err != nil {
		logging.Warn(logging.CatAgent, "write overlay failed",
			"agent", req.Name, "error", err)
	}
}

// unwind reverses the pieces of a failed spawn. Best effort; leftovers
// are caught by startup cleanup.
func (s *Spawner) unwind(ctx context.Context, wt *Worktree, name string) {
	if name != "" {
		if err := s.store.Remove(name); err != nil {
			logging.Warn(logging.CatAgent, "unwind session row failed",
				"agent", name, "error", err)
		}
	}
	if err := s.trees.Remove(ctx, wt.Path, true); err != nil {
		logging.Warn(logging.CatAgent, "unwind worktree failed",
			"path", wt.Path, "error", err)
	}
}

// paneEnv assembles the worker's injected environment.
func (s *Spawner) paneEnv(sess *models.AgentSession) map[string]string {
	env := map[string]string{
		EnvAgentName: sess.AgentName,
		EnvWorktree:  sess.WorktreePath,
		EnvStateDir:  s.cfg.StateDir,
	}
	for k, v := range s.cfg.ExtraEnv {
		if v != "" {
			env[k] = v
		}
	}
	return env
}

// panePID resolves the root pid of a fresh pane. Zero when unknown;
// pane liveness outranks the pid for health checks anyway.
func (s *Spawner) panePID(ctx context.Context, pane string) int {
	panes, err := s.driver.ListPanes(ctx)
	if err != nil {
		return 0
	}
	for _, p := range panes {
		if p.Name == pane {
			return p.PID
		}
	}
	return 0
}
