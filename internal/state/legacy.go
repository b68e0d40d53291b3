package state

import (
	"encoding/json"
	"os"
	"time"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/pkg/models"
)

// legacySession mirrors the flat-file schema that predates the SQLite
// store. Timestamps were written as RFC3339 strings.
type legacySession struct {
	AgentName    string `json:"agent_name"`
	Capability   string `json:"capability"`
	State        string `json:"state"`
	Parent       string `json:"parent,omitempty"`
	Depth        int    `json:"depth"`
	WorktreePath string `json:"worktree_path,omitempty"`
	BranchName   string `json:"branch_name,omitempty"`
	BeadID       string `json:"bead_id,omitempty"`
	Pane         string `json:"pane,omitempty"`
	PID          int    `json:"pid,omitempty"`
	RunID        string `json:"run_id,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	LastActivity string `json:"last_activity,omitempty"`
}

// importLegacy reads a legacy sessions.json file and upserts every valid
// row. A missing file is not an error. Rows with unknown capabilities or
// states are skipped rather than failing the whole import.
func (s *Store) importLegacy(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.Store("read legacy sessions file").With("path", path).Wrap(err)
	}

	sessions, err := decodeLegacy(data)
	if err != nil {
		return 0, errs.Store("parse legacy sessions file").With("path", path).Wrap(err)
	}

	imported := 0
	for _, ls := range sessions {
		sess := ls.toSession()
		if err := validateSession(sess); err != nil {
			continue
		}
		if err := s.Upsert(sess); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

// decodeLegacy accepts either a bare array or a {"sessions": [...]}
// wrapper; both shapes existed in the wild.
func decodeLegacy(data []byte) ([]legacySession, error) {
	var list []legacySession
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var wrapper struct {
		Sessions []legacySession `json:"sessions"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Sessions, nil
}

func (ls legacySession) toSession() *models.AgentSession {
	sess := &models.AgentSession{
		AgentName:    ls.AgentName,
		Capability:   models.Capability(ls.Capability),
		State:        models.AgentState(ls.State),
		Parent:       ls.Parent,
		Depth:        ls.Depth,
		WorktreePath: ls.WorktreePath,
		BranchName:   ls.BranchName,
		BeadID:       ls.BeadID,
		Pane:         ls.Pane,
		PID:          ls.PID,
		RunID:        ls.RunID,
	}
	if t, err := time.Parse(time.RFC3339, ls.CreatedAt); err == nil {
		sess.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, ls.LastActivity); err == nil {
		sess.LastActivity = t
	}
	return sess
}
