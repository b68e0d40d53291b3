package models

import "time"

// AgentState represents the lifecycle state of an agent session.
type AgentState string

const (
	// StateBooting indicates the agent's pane exists but the worker has not
	// reported activity yet.
	StateBooting AgentState = "booting"
	// StateWorking indicates the agent is actively producing events.
	StateWorking AgentState = "working"
	// StateCompleted indicates the agent finished its task. Terminal.
	StateCompleted AgentState = "completed"
	// StateStalled indicates no activity beyond the stall threshold.
	StateStalled AgentState = "stalled"
	// StateZombie indicates the agent was reconciled or killed. Terminal.
	StateZombie AgentState = "zombie"
)

// Valid returns true if the state is a known value.
func (s AgentState) Valid() bool {
	switch s {
	case StateBooting, StateWorking, StateCompleted, StateStalled, StateZombie:
		return true
	default:
		return false
	}
}

// Terminal returns true for states that admit no further transitions.
func (s AgentState) Terminal() bool {
	return s == StateCompleted || s == StateZombie
}

// Active returns true for states that count toward the live agent set.
func (s AgentState) Active() bool {
	return s == StateBooting || s == StateWorking || s == StateStalled
}

// CanTransitionTo reports whether s -> next is an allowed forward transition.
// Any non-terminal state may move to zombie; observable death always wins.
func (s AgentState) CanTransitionTo(next AgentState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateZombie {
		return true
	}
	switch s {
	case StateBooting:
		return next == StateWorking
	case StateWorking:
		return next == StateCompleted || next == StateStalled
	case StateStalled:
		return next == StateWorking
	default:
		return false
	}
}

// Capability is the role tag controlling spawn rights and tool policy.
type Capability string

const (
	// CapCoordinator runs the top-level session that owns a run. Depth 0 only.
	CapCoordinator Capability = "coordinator"
	// CapSupervisor manages a group of workers on behalf of the coordinator.
	CapSupervisor Capability = "supervisor"
	// CapLead owns a multi-task work stream and may spawn builders.
	CapLead Capability = "lead"
	// CapBuilder implements a single task in its own worktree.
	CapBuilder Capability = "builder"
	// CapScout explores and writes specs without modifying code.
	CapScout Capability = "scout"
	// CapReviewer reads diffs and reports findings.
	CapReviewer Capability = "reviewer"
	// CapMerger drives the merge queue.
	CapMerger Capability = "merger"
	// CapMonitor is the watchdog's own session. Depth 0 only.
	CapMonitor Capability = "monitor"
)

// Valid returns true if the capability is a known value.
func (c Capability) Valid() bool {
	switch c {
	case CapCoordinator, CapSupervisor, CapLead, CapBuilder,
		CapScout, CapReviewer, CapMerger, CapMonitor:
		return true
	default:
		return false
	}
}

// Persistent returns true for capabilities that outlive a single run.
// Persistent agents are excluded from run-completion checks but still
// liveness-checked by the watchdog.
func (c Capability) Persistent() bool {
	return c == CapCoordinator || c == CapMonitor
}

// RootOnly returns true for capabilities that must sit at depth 0.
func (c Capability) RootOnly() bool {
	return c == CapCoordinator || c == CapMonitor
}

// AgentSession is the durable record of one spawned agent.
type AgentSession struct {
	// ID is the store-assigned row id.
	ID int64 `json:"id"`
	// AgentName is the unique process-wide identity.
	AgentName string `json:"agent_name"`
	// Capability is the agent's role tag.
	Capability Capability `json:"capability"`
	// State is the current lifecycle state.
	State AgentState `json:"state"`
	// Parent is the agent name that spawned this one, empty at depth 0.
	Parent string `json:"parent,omitempty"`
	// Depth is the spawn-tree depth; 0 for coordinator and monitor.
	Depth int `json:"depth"`
	// WorktreePath is the agent's isolated git worktree.
	WorktreePath string `json:"worktree_path,omitempty"`
	// BranchName is the agent's work branch.
	BranchName string `json:"branch_name,omitempty"`
	// BeadID is the task identifier the agent is working on.
	BeadID string `json:"bead_id,omitempty"`
	// Pane is the multiplexer pane name hosting the agent.
	Pane string `json:"pane,omitempty"`
	// PID is the worker process id, if known.
	PID int `json:"pid,omitempty"`
	// RunID groups this session under a run, if any.
	RunID string `json:"run_id,omitempty"`
	// EscalationLevel is the monotonic 0..3 watchdog counter.
	EscalationLevel int `json:"escalation_level"`
	// StalledSince is set exactly while State is stalled.
	StalledSince *time.Time `json:"stalled_since,omitempty"`
	// CreatedAt is when the session row was first written.
	CreatedAt time.Time `json:"created_at"`
	// LastActivity is the most recent observed activity.
	LastActivity time.Time `json:"last_activity"`
	// CompletedAt is when the session reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunStatus represents the state of a run.
type RunStatus string

const (
	// RunActive indicates the run still has agents working.
	RunActive RunStatus = "active"
	// RunCompleted indicates the run was finished.
	RunCompleted RunStatus = "completed"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	return s == RunActive || s == RunCompleted
}

// Run groups agent sessions under one coordinator activity.
type Run struct {
	// ID is the opaque run identifier.
	ID string `json:"id"`
	// Description is the human summary of the run's goal.
	Description string `json:"description,omitempty"`
	// Status is active or completed.
	Status RunStatus `json:"status"`
	// AgentCount is the number of agents spawned under this run.
	AgentCount int `json:"agent_count"`
	// CreatedAt is when the run was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the run was completed, if it has been.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
