// Package events provides the append-only event store. Agents and the
// watchdog insert structured events; tool_start rows are back-filled
// with durations when the matching tool_end arrives.
package events

import (
	"database/sql"
	"path/filepath"
	"time"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/store"
	"github.com/overstoryai/overstory/pkg/models"
)

// DBFileName is the event store's file name under the state directory.
const DBFileName = "events.db"

// DBPath returns the event store path for a state directory.
func DBPath(stateDir string) string {
	return filepath.Join(stateDir, DBFileName)
}

// Store is the durable event log plus session metrics and token tables.
type Store struct {
	db *store.DB
	// Hot-path statements, prepared once at open.
	insertStmt    *sql.Stmt
	correlateStmt *sql.Stmt
}

var migrations = []store.Migration{
	{Version: 1, SQL: migrationV1Events},
	{Version: 2, SQL: migrationV2Metrics},
}

const migrationV1Events = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT,
	agent_name TEXT NOT NULL,
	session_id TEXT,
	kind TEXT NOT NULL,
	tool_name TEXT,
	tool_args TEXT,
	tool_duration_ms INTEGER,
	level TEXT NOT NULL DEFAULT 'info',
	payload TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_agent_created ON events(agent_name, created_at);
CREATE INDEX IF NOT EXISTS idx_events_run_created ON events(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_kind_created ON events(kind, created_at);
CREATE INDEX IF NOT EXISTS idx_events_tool_agent ON events(tool_name, agent_name);
CREATE INDEX IF NOT EXISTS idx_events_errors ON events(created_at) WHERE level = 'error';
`

const migrationV2Metrics = `
CREATE TABLE IF NOT EXISTS session_metrics (
	agent_name TEXT NOT NULL,
	bead_id TEXT NOT NULL,
	tool_calls INTEGER NOT NULL DEFAULT 0,
	errors INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	outcome TEXT,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (agent_name, bead_id)
);

CREATE TABLE IF NOT EXISTS token_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_name TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	model TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_token_snapshots_agent ON token_snapshots(agent_name, created_at);
`

// Open opens the event store under stateDir.
func Open(stateDir string) (*Store, error) {
	db, err := store.Open(DBPath(stateDir))
	if err != nil {
		return nil, errs.Store("open event store").Wrap(err)
	}
	if err := db.Migrate(migrations); err != nil {
		db.Close()
		return nil, errs.Store("migrate event store").Wrap(err)
	}

	s := &Store{db: db}

	s.insertStmt, err = db.Prepare(`
		INSERT INTO events (run_id, agent_name, session_id, kind, tool_name,
			tool_args, tool_duration_ms, level, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, errs.Store("prepare event insert").Wrap(err)
	}
	s.correlateStmt, err = db.Prepare(`
		SELECT id, created_at FROM events
		WHERE agent_name = ? AND tool_name = ? AND kind = ? AND tool_duration_ms IS NULL
		ORDER BY id DESC LIMIT 1
	`)
	if err != nil {
		db.Close()
		return nil, errs.Store("prepare correlation select").Wrap(err)
	}

	return s, nil
}

// Close checkpoints and closes the store.
func (s *Store) Close() error {
	if s.insertStmt != nil {
		s.insertStmt.Close()
	}
	if s.correlateStmt != nil {
		s.correlateStmt.Close()
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// Insert appends one event. CreatedAt is server-set when zero, level
// defaults to info. The assigned row id is written back to e.
func (s *Store) Insert(e *models.StoredEvent) error {
	if e.AgentName == "" {
		return errs.Validation("event agent name is required")
	}
	if !e.Kind.Valid() {
		return errs.Validation("unknown event kind %q", e.Kind).With("agent", e.AgentName)
	}
	if e.Level == "" {
		e.Level = models.LevelInfo
	}
	if !e.Level.Valid() {
		return errs.Validation("unknown event level %q", e.Level).With("agent", e.AgentName)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	res, err := s.insertStmt.Exec(nullable(e.RunID), e.AgentName, nullable(e.SessionID),
		string(e.Kind), nullable(e.ToolName), nullable(e.ToolArgs), e.ToolDurationMS,
		string(e.Level), nullable(e.Payload), store.FormatTimeMilli(e.CreatedAt))
	if err != nil {
		return errs.Store("insert event").With("agent", e.AgentName).Wrap(err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// CorrelateToolEnd finds the most recent uncorrelated tool_start for
// (agentName, toolName), back-fills its duration, and returns the start
// row id and the duration in milliseconds. A missing candidate is not an
// error; the ok result is false.
func (s *Store) CorrelateToolEnd(agentName, toolName string) (startID int64, durationMS int64, ok bool, err error) {
	err = s.db.Transaction(func(tx *sql.Tx) error {
		var createdAt string
		row := tx.Stmt(s.correlateStmt).QueryRow(agentName, toolName, string(models.EventToolStart))
		scanErr := row.Scan(&startID, &createdAt)
		if scanErr == sql.ErrNoRows {
			return nil
		}
		if scanErr != nil {
			return errs.Store("find tool_start candidate").With("agent", agentName).Wrap(scanErr)
		}

		started, parseErr := store.ParseTime(createdAt)
		if parseErr != nil {
			return errs.Store("parse tool_start timestamp").With("agent", agentName).Wrap(parseErr)
		}

		durationMS = time.Since(started).Milliseconds()
		if durationMS < 0 {
			durationMS = 0
		}

		if _, execErr := tx.Exec("UPDATE events SET tool_duration_ms = ? WHERE id = ?", durationMS, startID); execErr != nil {
			return errs.Store("backfill tool duration").With("agent", agentName).Wrap(execErr)
		}
		ok = true
		return nil
	})
	if err != nil {
		return 0, 0, false, err
	}
	return startID, durationMS, ok, nil
}

const eventColumns = `id, run_id, agent_name, session_id, kind, tool_name,
	tool_args, tool_duration_ms, level, payload, created_at`

// ByAgent returns one agent's events in chronological order. A positive
// limit keeps only the most recent events.
func (s *Store) ByAgent(agentName string, limit int) ([]models.StoredEvent, error) {
	if limit > 0 {
		evs, err := s.queryEvents(`
			SELECT `+eventColumns+` FROM events WHERE agent_name = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		`, agentName, limit)
		if err != nil {
			return nil, err
		}
		reverse(evs)
		return evs, nil
	}
	return s.queryEvents(`
		SELECT `+eventColumns+` FROM events WHERE agent_name = ?
		ORDER BY created_at, id
	`, agentName)
}

// Recent returns the most recent events across all agents, newest
// last. A non-positive limit returns nothing.
func (s *Store) Recent(limit int) ([]models.StoredEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	evs, err := s.queryEvents(`
		SELECT `+eventColumns+` FROM events
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	reverse(evs)
	return evs, nil
}

// ByRun returns a run's events in chronological order.
func (s *Store) ByRun(runID string) ([]models.StoredEvent, error) {
	return s.queryEvents(`
		SELECT `+eventColumns+` FROM events WHERE run_id = ?
		ORDER BY created_at, id
	`, runID)
}

// Errors returns error-level events across all agents, newest last. A
// positive limit keeps only the most recent events.
func (s *Store) Errors(limit int) ([]models.StoredEvent, error) {
	if limit <= 0 {
		return s.queryEvents(`
			SELECT `+eventColumns+` FROM events WHERE level = ?
			ORDER BY created_at, id
		`, string(models.LevelError))
	}
	evs, err := s.queryEvents(`
		SELECT `+eventColumns+` FROM events WHERE level = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, string(models.LevelError), limit)
	if err != nil {
		return nil, err
	}
	reverse(evs)
	return evs, nil
}

// Timeline returns all events at or after since, createdAt-ascending
// with id as tiebreak.
func (s *Store) Timeline(since time.Time) ([]models.StoredEvent, error) {
	return s.queryEvents(`
		SELECT `+eventColumns+` FROM events WHERE created_at >= ?
		ORDER BY created_at, id
	`, store.FormatTimeMilli(since))
}

// ToolStats aggregates per-tool counts and durations. Durations average
// only correlated rows. An empty agentName aggregates across all agents.
func (s *Store) ToolStats(agentName string) ([]models.ToolStat, error) {
	query := `
		SELECT tool_name, COUNT(*),
			COALESCE(AVG(tool_duration_ms), 0),
			COALESCE(MAX(tool_duration_ms), 0)
		FROM events
		WHERE kind = ? AND tool_name IS NOT NULL`
	args := []any{string(models.EventToolStart)}
	if agentName != "" {
		query += " AND agent_name = ?"
		args = append(args, agentName)
	}
	query += " GROUP BY tool_name ORDER BY COUNT(*) DESC, tool_name"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Store("query tool stats").Wrap(err)
	}
	defer rows.Close()

	var stats []models.ToolStat
	for rows.Next() {
		var st models.ToolStat
		if err := rows.Scan(&st.ToolName, &st.Count, &st.AvgDurationMS, &st.MaxDurationMS); err != nil {
			return nil, errs.Store("scan tool stat").Wrap(err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// PurgeOlderThan deletes events created before now-age, returning the count.
func (s *Store) PurgeOlderThan(age time.Duration) (int64, error) {
	cutoff := store.FormatTimeMilli(time.Now().Add(-age))
	res, err := s.db.Exec("DELETE FROM events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, errs.Store("purge events by age").Wrap(err)
	}
	return res.RowsAffected()
}

// PurgeByAgent deletes one agent's events, returning the count.
func (s *Store) PurgeByAgent(agentName string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM events WHERE agent_name = ?", agentName)
	if err != nil {
		return 0, errs.Store("purge events by agent").With("agent", agentName).Wrap(err)
	}
	return res.RowsAffected()
}

// PurgeAll deletes every event, returning the count.
func (s *Store) PurgeAll() (int64, error) {
	res, err := s.db.Exec("DELETE FROM events")
	if err != nil {
		return 0, errs.Store("purge all events").Wrap(err)
	}
	return res.RowsAffected()
}

func (s *Store) queryEvents(query string, args ...any) ([]models.StoredEvent, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Store("query events").Wrap(err)
	}
	defer rows.Close()

	var events []models.StoredEvent
	for rows.Next() {
		var e models.StoredEvent
		var runID, sessionID, toolName, toolArgs, payload sql.NullString
		var duration sql.NullInt64
		var createdAt string
		if err := rows.Scan(&e.ID, &runID, &e.AgentName, &sessionID, &e.Kind,
			&toolName, &toolArgs, &duration, &e.Level, &payload, &createdAt); err != nil {
			return nil, errs.Store("scan event").Wrap(err)
		}
		e.RunID = runID.String
		e.SessionID = sessionID.String
		e.ToolName = toolName.String
		e.ToolArgs = toolArgs.String
		e.Payload = payload.String
		if duration.Valid {
			d := duration.Int64
			e.ToolDurationMS = &d
		}
		e.CreatedAt, _ = store.ParseTime(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

func reverse(evs []models.StoredEvent) {
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
