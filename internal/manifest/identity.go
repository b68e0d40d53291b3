package manifest

import (
	"bytes"
	"errors"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/pkg/models"
)

// MaxRecentTasks caps the task history kept in an identity file. When
// the cap is reached the oldest entry is evicted first.
const MaxRecentTasks = 20

// TaskRecord is one completed task in an agent's history.
type TaskRecord struct {
	TaskID  string    `yaml:"task_id"`
	Summary string    `yaml:"summary"`
	TS      time.Time `yaml:"ts"`
}

// Identity is the persistent CV an agent carries across sessions. It
// survives the session row and the checkpoint, so a respawned agent can
// be briefed on what it has done before.
type Identity struct {
	Name              string            `yaml:"name"`
	Capability        models.Capability `yaml:"capability"`
	SessionsCompleted int               `yaml:"sessions_completed"`
	ExpertiseDomains  []string          `yaml:"expertise_domains"`
	RecentTasks       []TaskRecord      `yaml:"recent_tasks"`
}

// AddTask appends a task to the history, evicting the oldest entries
// beyond MaxRecentTasks.
func (id *Identity) AddTask(rec TaskRecord) {
	id.RecentTasks = append(id.RecentTasks, rec)
	if n := len(id.RecentTasks); n > MaxRecentTasks {
		id.RecentTasks = id.RecentTasks[n-MaxRecentTasks:]
	}
}

// AddExpertise merges domains into the expertise list, deduplicated and
// sorted. Empty strings are ignored.
func (id *Identity) AddExpertise(domains ...string) {
	seen := make(map[string]bool, len(id.ExpertiseDomains))
	for _, d := range id.ExpertiseDomains {
		seen[d] = true
	}
	for _, d := range domains {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		id.ExpertiseDomains = append(id.ExpertiseDomains, d)
	}
	sort.Strings(id.ExpertiseDomains)
}

// Save writes the identity to agents/<name>/identity.yaml under
// stateDir, atomically.
func (id *Identity) Save(stateDir string) error {
	if id.Name == "" {
		return errs.Validation("agent name is required")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(id); err != nil {
		return errs.Agent("encode identity").With("agent", id.Name).Wrap(err)
	}
	if err := enc.Close(); err != nil {
		return errs.Agent("encode identity").With("agent", id.Name).Wrap(err)
	}
	if err := writeAtomic(IdentityPath(stateDir, id.Name), buf.Bytes()); err != nil {
		return errs.Agent("write identity").With("agent", id.Name).Wrap(err)
	}
	return nil
}

// LoadIdentity reads an agent's identity from stateDir.
func LoadIdentity(stateDir, agent string) (*Identity, error) {
	path := IdentityPath(stateDir, agent)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errs.Agent("no identity for agent %q", agent).Wrap(err)
	}
	if err != nil {
		return nil, errs.Agent("read identity").With("agent", agent).Wrap(err)
	}
	id := &Identity{}
	if err := yaml.Unmarshal(data, id); err != nil {
		return nil, errs.Agent("identity for agent %q is invalid", agent).Wrap(err)
	}
	return id, nil
}

// EnsureIdentity loads an agent's identity, creating a fresh in-memory
// record when none exists on disk yet. The capability is only applied
// when the stored record does not already carry one.
func EnsureIdentity(stateDir, agent string, cap models.Capability) (*Identity, error) {
	id, err := LoadIdentity(stateDir, agent)
	if errors.Is(err, os.ErrNotExist) {
		return &Identity{Name: agent, Capability: cap}, nil
	}
	if err != nil {
		return nil, err
	}
	if id.Capability == "" {
		id.Capability = cap
	}
	return id, nil
}

// RecordTask finalizes a completed work session: the checkpoint is saved
// and the agent's identity gains one completed session plus a task entry
// derived from the checkpoint.
func RecordTask(stateDir string, cp *Checkpoint, cap models.Capability, at time.Time) error {
	if err := cp.Save(stateDir); err != nil {
		return err
	}
	id, err := EnsureIdentity(stateDir, cp.AgentName, cap)
	if err != nil {
		return err
	}
	id.SessionsCompleted++
	id.AddTask(TaskRecord{TaskID: cp.BeadID, Summary: cp.ProgressSummary, TS: at})
	return id.Save(stateDir)
}
