package state

import (
	"database/sql"
	"time"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/store"
	"github.com/overstoryai/overstory/pkg/models"
)

const sessionColumns = `id, agent_name, capability, state, parent, depth,
	worktree_path, branch_name, bead_id, pane, pid, run_id,
	escalation_level, stalled_since, created_at, last_activity, completed_at`

// Upsert inserts or replaces the session row keyed by agent name.
// CreatedAt and LastActivity are server-set when zero. The escalation
// level is written as given; monotonicity is the watchdog's contract.
func (s *Store) Upsert(sess *models.AgentSession) error {
	if err := validateSession(sess); err != nil {
		return err
	}

	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastActivity.IsZero() {
		sess.LastActivity = sess.CreatedAt
	}
	if sess.State == "" {
		sess.State = models.StateBooting
	}

	_, err := s.db.Exec(`
		INSERT INTO sessions (agent_name, capability, state, parent, depth,
			worktree_path, branch_name, bead_id, pane, pid, run_id,
			escalation_level, stalled_since, created_at, last_activity, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_name) DO UPDATE SET
			capability = excluded.capability,
			state = excluded.state,
			parent = excluded.parent,
			depth = excluded.depth,
			worktree_path = excluded.worktree_path,
			branch_name = excluded.branch_name,
			bead_id = excluded.bead_id,
			pane = excluded.pane,
			pid = excluded.pid,
			run_id = excluded.run_id,
			escalation_level = excluded.escalation_level,
			stalled_since = excluded.stalled_since,
			last_activity = excluded.last_activity,
			completed_at = excluded.completed_at
	`, sess.AgentName, string(sess.Capability), string(sess.State), nullIfEmpty(sess.Parent),
		sess.Depth, nullIfEmpty(sess.WorktreePath), nullIfEmpty(sess.BranchName),
		nullIfEmpty(sess.BeadID), nullIfEmpty(sess.Pane), nullIfZero(sess.PID),
		nullIfEmpty(sess.RunID), sess.EscalationLevel,
		store.NullableTimeString(sess.StalledSince), store.FormatTime(sess.CreatedAt),
		store.FormatTime(sess.LastActivity), store.NullableTimeString(sess.CompletedAt))
	if err != nil {
		return errs.Store("upsert session").With("agent", sess.AgentName).Wrap(err)
	}

	row := s.db.QueryRow("SELECT id FROM sessions WHERE agent_name = ?", sess.AgentName)
	if err := row.Scan(&sess.ID); err != nil {
		return errs.Store("read session id").With("agent", sess.AgentName).Wrap(err)
	}
	return nil
}

func validateSession(sess *models.AgentSession) error {
	if sess.AgentName == "" {
		return errs.Validation("agent name is required")
	}
	if !sess.Capability.Valid() {
		return errs.Validation("unknown capability %q", sess.Capability).With("agent", sess.AgentName)
	}
	if sess.State != "" && !sess.State.Valid() {
		return errs.Validation("unknown state %q", sess.State).With("agent", sess.AgentName)
	}
	if sess.Depth < 0 {
		return errs.Validation("depth must be >= 0, got %d", sess.Depth).With("agent", sess.AgentName)
	}
	if sess.Capability.RootOnly() != (sess.Depth == 0) {
		return errs.Validation("capability %s requires depth 0, got %d", sess.Capability, sess.Depth).
			With("agent", sess.AgentName)
	}
	if sess.EscalationLevel < 0 || sess.EscalationLevel > 3 {
		return errs.Validation("escalation level must be 0..3, got %d", sess.EscalationLevel).
			With("agent", sess.AgentName)
	}
	return nil
}

// GetByName returns the session for an agent, or nil if none exists.
func (s *Store) GetByName(name string) (*models.AgentSession, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE agent_name = ?`, name)
	sess, err := scanSessionRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Store("get session").With("agent", name).Wrap(err)
	}
	return sess, nil
}

// GetActive returns sessions in booting, working, or stalled state.
func (s *Store) GetActive() ([]models.AgentSession, error) {
	return s.querySessions(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE state IN (?, ?, ?) ORDER BY created_at, id
	`, string(models.StateBooting), string(models.StateWorking), string(models.StateStalled))
}

// GetAll returns every session row.
func (s *Store) GetAll() ([]models.AgentSession, error) {
	return s.querySessions(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at, id`)
}

// GetByRun returns the sessions grouped under a run.
func (s *Store) GetByRun(runID string) ([]models.AgentSession, error) {
	return s.querySessions(`
		SELECT `+sessionColumns+` FROM sessions WHERE run_id = ? ORDER BY created_at, id
	`, runID)
}

// UpdateState applies a forward-only state transition. Illegal
// transitions are rejected with a lifecycle error. Entering stalled sets
// stalled_since; leaving it clears the field; terminal states set
// completed_at.
func (s *Store) UpdateState(name string, next models.AgentState) error {
	if !next.Valid() {
		return errs.Validation("unknown state %q", next).With("agent", name)
	}

	return s.db.Transaction(func(tx *sql.Tx) error {
		var cur string
		var stalledSince sql.NullString
		err := tx.QueryRow("SELECT state, stalled_since FROM sessions WHERE agent_name = ?", name).
			Scan(&cur, &stalledSince)
		if err == sql.ErrNoRows {
			return errs.Agent("no session for agent %q", name)
		}
		if err != nil {
			return errs.Store("read session state").With("agent", name).Wrap(err)
		}

		current := models.AgentState(cur)
		if !current.CanTransitionTo(next) {
			return errs.Lifecycle("cannot transition %s -> %s", current, next).With("agent", name)
		}

		now := time.Now()
		var stalled *string
		if next == models.StateStalled {
			if stalledSince.Valid {
				stalled = &stalledSince.String
			} else {
				v := store.FormatTime(now)
				stalled = &v
			}
		}
		var completed *string
		if next.Terminal() {
			v := store.FormatTime(now)
			completed = &v
		}

		_, err = tx.Exec(`
			UPDATE sessions SET state = ?, stalled_since = ?, completed_at = ?
			WHERE agent_name = ?
		`, string(next), stalled, completed, name)
		if err != nil {
			return errs.Store("update session state").With("agent", name).Wrap(err)
		}
		return nil
	})
}

// UpdateLastActivity touches the session's last_activity timestamp.
func (s *Store) UpdateLastActivity(name string) error {
	res, err := s.db.Exec(`UPDATE sessions SET last_activity = ? WHERE agent_name = ?`,
		store.FormatTime(time.Now()), name)
	if err != nil {
		return errs.Store("update last activity").With("agent", name).Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Agent("no session for agent %q", name)
	}
	return nil
}

// UpdateEscalation sets the escalation level and stalled_since marker.
// Level decreases are rejected.
func (s *Store) UpdateEscalation(name string, level int, stalledSince *time.Time) error {
	if level < 0 || level > 3 {
		return errs.Validation("escalation level must be 0..3, got %d", level).With("agent", name)
	}

	return s.db.Transaction(func(tx *sql.Tx) error {
		var current int
		err := tx.QueryRow("SELECT escalation_level FROM sessions WHERE agent_name = ?", name).
			Scan(&current)
		if err == sql.ErrNoRows {
			return errs.Agent("no session for agent %q", name)
		}
		if err != nil {
			return errs.Store("read escalation level").With("agent", name).Wrap(err)
		}

		if level < current {
			return errs.Validation("escalation level cannot decrease: %d -> %d", current, level).
				With("agent", name)
		}

		_, err = tx.Exec(`UPDATE sessions SET escalation_level = ?, stalled_since = ? WHERE agent_name = ?`,
			level, store.NullableTimeString(stalledSince), name)
		if err != nil {
			return errs.Store("update escalation").With("agent", name).Wrap(err)
		}
		return nil
	})
}

// Remove deletes a session row.
func (s *Store) Remove(name string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE agent_name = ?", name)
	if err != nil {
		return errs.Store("remove session").With("agent", name).Wrap(err)
	}
	return nil
}

// PurgeByState deletes all sessions in the given state, returning the count.
func (s *Store) PurgeByState(st models.AgentState) (int64, error) {
	if !st.Valid() {
		return 0, errs.Validation("unknown state %q", st)
	}
	res, err := s.db.Exec("DELETE FROM sessions WHERE state = ?", string(st))
	if err != nil {
		return 0, errs.Store("purge sessions by state").Wrap(err)
	}
	return res.RowsAffected()
}

// PurgeByAgent deletes one agent's session, returning the count.
func (s *Store) PurgeByAgent(name string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM sessions WHERE agent_name = ?", name)
	if err != nil {
		return 0, errs.Store("purge session").With("agent", name).Wrap(err)
	}
	return res.RowsAffected()
}

// PurgeAll deletes every session row, returning the count.
func (s *Store) PurgeAll() (int64, error) {
	res, err := s.db.Exec("DELETE FROM sessions")
	if err != nil {
		return 0, errs.Store("purge all sessions").Wrap(err)
	}
	return res.RowsAffected()
}

func (s *Store) querySessions(query string, args ...any) ([]models.AgentSession, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Store("query sessions").Wrap(err)
	}
	defer rows.Close()

	var sessions []models.AgentSession
	for rows.Next() {
		sess, err := scanSessionRow(rows.Scan)
		if err != nil {
			return nil, errs.Store("scan session").Wrap(err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func scanSessionRow(scan func(...any) error) (*models.AgentSession, error) {
	var sess models.AgentSession
	var parent, worktree, branch, bead, pane, runID sql.NullString
	var pid sql.NullInt64
	var stalledSince, completedAt sql.NullString
	var createdAt, lastActivity string

	err := scan(&sess.ID, &sess.AgentName, &sess.Capability, &sess.State,
		&parent, &sess.Depth, &worktree, &branch, &bead, &pane, &pid, &runID,
		&sess.EscalationLevel, &stalledSince, &createdAt, &lastActivity, &completedAt)
	if err != nil {
		return nil, err
	}

	sess.Parent = parent.String
	sess.WorktreePath = worktree.String
	sess.BranchName = branch.String
	sess.BeadID = bead.String
	sess.Pane = pane.String
	sess.RunID = runID.String
	if pid.Valid {
		sess.PID = int(pid.Int64)
	}
	sess.StalledSince = store.ParseNullableTime(stalledSince)
	sess.CreatedAt, _ = store.ParseTime(createdAt)
	sess.LastActivity, _ = store.ParseTime(lastActivity)
	sess.CompletedAt = store.ParseNullableTime(completedAt)
	return &sess, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
