package models

import "time"

// MergeStatus represents the state of a merge queue entry.
type MergeStatus string

const (
	// MergePending indicates the entry is waiting in the queue.
	MergePending MergeStatus = "pending"
	// MergeMerging indicates the resolver is working the entry.
	MergeMerging MergeStatus = "merging"
	// MergeMerged indicates the branch was integrated.
	MergeMerged MergeStatus = "merged"
	// MergeConflict indicates all tiers failed on conflicts.
	MergeConflict MergeStatus = "conflict"
	// MergeFailed indicates a non-conflict failure (git error, timeout).
	MergeFailed MergeStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s MergeStatus) Valid() bool {
	switch s {
	case MergePending, MergeMerging, MergeMerged, MergeConflict, MergeFailed:
		return true
	default:
		return false
	}
}

// Tier identifies a step of the merge escalation.
type Tier string

const (
	// TierCleanMerge is a plain no-edit, no-fast-forward merge.
	TierCleanMerge Tier = "clean-merge"
	// TierAutoResolve keeps the incoming side of well-formed conflict markers.
	TierAutoResolve Tier = "auto-resolve"
	// TierAIResolve asks the AI tool to produce each conflicted file.
	TierAIResolve Tier = "ai-resolve"
	// TierReimagine aborts the merge and re-implements the union of intents.
	TierReimagine Tier = "reimagine"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierCleanMerge, TierAutoResolve, TierAIResolve, TierReimagine:
		return true
	default:
		return false
	}
}

// AllTiers returns the escalation order.
func AllTiers() []Tier {
	return []Tier{TierCleanMerge, TierAutoResolve, TierAIResolve, TierReimagine}
}

// MergeEntry is one branch waiting for integration.
type MergeEntry struct {
	// ID is the monotonic insert id; FIFO order is by this field.
	ID int64 `json:"id"`
	// BranchName is the agent branch to integrate. Unique while queued.
	BranchName string `json:"branch_name"`
	// BeadID is the task the branch implements.
	BeadID string `json:"bead_id,omitempty"`
	// AgentName is the agent that produced the branch.
	AgentName string `json:"agent_name"`
	// Files lists the paths the branch modified.
	Files []string `json:"files,omitempty"`
	// Status is the queue state of the entry.
	Status MergeStatus `json:"status"`
	// ResolvedTier is set once a tier succeeds or the entry fails out.
	ResolvedTier *Tier `json:"resolved_tier,omitempty"`
	// EnqueuedAt is server-set at enqueue.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// MergeResult is the resolver's outcome for one entry.
type MergeResult struct {
	// Entry is the queue entry that was worked.
	Entry MergeEntry `json:"entry"`
	// Success reports whether the branch was integrated.
	Success bool `json:"success"`
	// Tier is the tier that succeeded, or the last tier attempted.
	Tier Tier `json:"tier"`
	// ConflictFiles lists the paths that conflicted during the merge.
	// Empty when the clean-merge tier succeeded.
	ConflictFiles []string `json:"conflict_files,omitempty"`
	// ErrorMessage describes the failure, if any.
	ErrorMessage string `json:"error_message,omitempty"`
}
