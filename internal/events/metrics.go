package events

import (
	"database/sql"
	"time"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/store"
	"github.com/overstoryai/overstory/pkg/models"
)

// UpsertMetrics inserts or replaces the metrics row keyed by
// (agent_name, bead_id). UpdatedAt is server-set.
func (s *Store) UpsertMetrics(m *models.SessionMetrics) error {
	if m.AgentName == "" || m.BeadID == "" {
		return errs.Validation("metrics require agent name and bead id")
	}
	m.UpdatedAt = time.Now()

	_, err := s.db.Exec(`
		INSERT INTO session_metrics (agent_name, bead_id, tool_calls, errors, duration_ms, outcome, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_name, bead_id) DO UPDATE SET
			tool_calls = excluded.tool_calls,
			errors = excluded.errors,
			duration_ms = excluded.duration_ms,
			outcome = excluded.outcome,
			updated_at = excluded.updated_at
	`, m.AgentName, m.BeadID, m.ToolCalls, m.Errors, m.DurationMS,
		nullable(m.Outcome), store.FormatTimeMilli(m.UpdatedAt))
	if err != nil {
		return errs.Store("upsert session metrics").With("agent", m.AgentName).Wrap(err)
	}
	return nil
}

// GetMetrics returns the metrics row for (agentName, beadID), or nil if
// none exists.
func (s *Store) GetMetrics(agentName, beadID string) (*models.SessionMetrics, error) {
	row := s.db.QueryRow(`
		SELECT agent_name, bead_id, tool_calls, errors, duration_ms, outcome, updated_at
		FROM session_metrics WHERE agent_name = ? AND bead_id = ?
	`, agentName, beadID)

	m, err := scanMetrics(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Store("get session metrics").With("agent", agentName).Wrap(err)
	}
	return m, nil
}

// ListMetrics returns metrics rows, newest first. An empty agentName
// lists all agents.
func (s *Store) ListMetrics(agentName string) ([]models.SessionMetrics, error) {
	query := `
		SELECT agent_name, bead_id, tool_calls, errors, duration_ms, outcome, updated_at
		FROM session_metrics`
	var args []any
	if agentName != "" {
		query += " WHERE agent_name = ?"
		args = append(args, agentName)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Store("list session metrics").Wrap(err)
	}
	defer rows.Close()

	var out []models.SessionMetrics
	for rows.Next() {
		m, err := scanMetrics(rows.Scan)
		if err != nil {
			return nil, errs.Store("scan session metrics").Wrap(err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// InsertTokenSnapshot appends one token-usage sample. CreatedAt is
// server-set when zero.
func (s *Store) InsertTokenSnapshot(t *models.TokenSnapshot) error {
	if t.AgentName == "" {
		return errs.Validation("token snapshot requires agent name")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO token_snapshots (agent_name, input_tokens, output_tokens, model, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.AgentName, t.InputTokens, t.OutputTokens, nullable(t.Model), store.FormatTimeMilli(t.CreatedAt))
	if err != nil {
		return errs.Store("insert token snapshot").With("agent", t.AgentName).Wrap(err)
	}
	return nil
}

// TokenTotals sums input and output tokens. An empty agentName sums
// across all agents.
func (s *Store) TokenTotals(agentName string) (inputTokens, outputTokens int64, err error) {
	query := "SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0) FROM token_snapshots"
	var args []any
	if agentName != "" {
		query += " WHERE agent_name = ?"
		args = append(args, agentName)
	}

	row := s.db.QueryRow(query, args...)
	if err := row.Scan(&inputTokens, &outputTokens); err != nil {
		return 0, 0, errs.Store("sum token snapshots").Wrap(err)
	}
	return inputTokens, outputTokens, nil
}

func scanMetrics(scan func(...any) error) (*models.SessionMetrics, error) {
	var m models.SessionMetrics
	var outcome sql.NullString
	var updatedAt string
	if err := scan(&m.AgentName, &m.BeadID, &m.ToolCalls, &m.Errors, &m.DurationMS, &outcome, &updatedAt); err != nil {
		return nil, err
	}
	m.Outcome = outcome.String
	m.UpdatedAt, _ = store.ParseTime(updatedAt)
	return &m, nil
}
