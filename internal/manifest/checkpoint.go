package manifest

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"

	"github.com/overstoryai/overstory/internal/errs"
)

// Checkpoint is the crash-recovery snapshot an agent writes as it works.
// A respawned agent loads it to resume where the previous session
// stopped. Field order is fixed so that saving an unmodified checkpoint
// reproduces the file byte for byte.
type Checkpoint struct {
	AgentName       string   `json:"agent_name"`
	BeadID          string   `json:"bead_id"`
	SessionID       string   `json:"session_id"`
	ProgressSummary string   `json:"progress_summary"`
	FilesModified   []string `json:"files_modified"`
	CurrentBranch   string   `json:"current_branch"`
	PendingWork     string   `json:"pending_work"`
}

// NewCheckpoint returns a checkpoint for a fresh session with a
// generated session id.
func NewCheckpoint(agent, beadID string) *Checkpoint {
	return &Checkpoint{
		AgentName: agent,
		BeadID:    beadID,
		SessionID: uuid.NewString(),
	}
}

// Save writes the checkpoint to agents/<name>/checkpoint.json under
// stateDir, atomically.
func (c *Checkpoint) Save(stateDir string) error {
	if c.AgentName == "" {
		return errs.Validation("agent name is required")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errs.Agent("encode checkpoint").With("agent", c.AgentName).Wrap(err)
	}
	data = append(data, '\n')
	if err := writeAtomic(CheckpointPath(stateDir, c.AgentName), data); err != nil {
		return errs.Agent("write checkpoint").With("agent", c.AgentName).Wrap(err)
	}
	return nil
}

// LoadCheckpoint reads an agent's checkpoint from stateDir.
func LoadCheckpoint(stateDir, agent string) (*Checkpoint, error) {
	path := CheckpointPath(stateDir, agent)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errs.Agent("no checkpoint for agent %q", agent).Wrap(err)
	}
	if err != nil {
		return nil, errs.Agent("read checkpoint").With("agent", agent).Wrap(err)
	}
	cp := &Checkpoint{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, errs.Agent("checkpoint for agent %q is invalid", agent).Wrap(err)
	}
	return cp, nil
}
