// Package mergeq provides the durable FIFO merge queue. Entries are
// ordered by insert id; the resolver dequeues the oldest pending entry,
// works it, and finalizes it with exactly one status update.
package mergeq

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/store"
	"github.com/overstoryai/overstory/pkg/models"
)

// DBFileName is the queue's file name under the state directory.
const DBFileName = "merge.db"

// DBPath returns the queue path for a state directory.
func DBPath(stateDir string) string {
	return filepath.Join(stateDir, DBFileName)
}

// Queue is the durable merge queue.
type Queue struct {
	db *store.DB
}

var migrations = []store.Migration{
	{Version: 1, SQL: migrationV1Queue},
}

// AUTOINCREMENT keeps ids monotonic across deletes, so FIFO order
// survives purges. The partial unique index enforces one live entry per
// branch.
const migrationV1Queue = `
CREATE TABLE IF NOT EXISTS merge_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	branch_name TEXT NOT NULL,
	bead_id TEXT,
	agent_name TEXT NOT NULL,
	files TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	resolved_tier TEXT,
	enqueued_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_merge_queue_status ON merge_queue(status, id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_merge_queue_live_branch
	ON merge_queue(branch_name) WHERE status IN ('pending', 'merging');
`

const entryColumns = `id, branch_name, bead_id, agent_name, files, status, resolved_tier, enqueued_at`

// Open opens the merge queue under stateDir.
func Open(stateDir string) (*Queue, error) {
	db, err := store.Open(DBPath(stateDir))
	if err != nil {
		return nil, errs.Store("open merge queue").Wrap(err)
	}
	if err := db.Migrate(migrations); err != nil {
		db.Close()
		return nil, errs.Store("migrate merge queue").Wrap(err)
	}
	return &Queue{db: db}, nil
}

// Close checkpoints and closes the queue.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Path returns the database file path.
func (q *Queue) Path() string {
	return q.db.Path()
}

// Enqueue appends a pending entry. A branch may only be queued once
// while pending or merging; re-enqueueing after the entry finalizes is
// allowed. The assigned id is written back to e.
func (q *Queue) Enqueue(e *models.MergeEntry) error {
	if e.BranchName == "" || e.AgentName == "" {
		return errs.Validation("merge entry requires branch and agent")
	}

	var filesJSON any
	if len(e.Files) > 0 {
		data, err := json.Marshal(e.Files)
		if err != nil {
			return errs.Merge("encode files for %s", e.BranchName).Wrap(err)
		}
		filesJSON = string(data)
	}

	e.Status = models.MergePending
	e.ResolvedTier = nil
	e.EnqueuedAt = time.Now()

	err := q.db.Transaction(func(tx *sql.Tx) error {
		var n int
		row := tx.QueryRow(`
			SELECT COUNT(*) FROM merge_queue
			WHERE branch_name = ? AND status IN ('pending', 'merging')
		`, e.BranchName)
		if err := row.Scan(&n); err != nil {
			return errs.Store("check queued branch").Wrap(err)
		}
		if n > 0 {
			return errs.Merge("branch %s is already queued", e.BranchName).With("branch", e.BranchName)
		}

		res, err := tx.Exec(`
			INSERT INTO merge_queue (branch_name, bead_id, agent_name, files, status, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.BranchName, nullIfEmpty(e.BeadID), e.AgentName, filesJSON,
			string(models.MergePending), store.FormatTimeMilli(e.EnqueuedAt))
		if err != nil {
			return errs.Store("enqueue %s", e.BranchName).Wrap(err)
		}
		e.ID, _ = res.LastInsertId()
		return nil
	})
	return err
}

// Dequeue atomically claims the oldest pending entry, marking it
// merging. Returns nil when the queue has no pending entries.
func (q *Queue) Dequeue() (*models.MergeEntry, error) {
	var entry *models.MergeEntry
	err := q.db.Transaction(func(tx *sql.Tx) error {
		row := tx.QueryRow(`
			SELECT ` + entryColumns + ` FROM merge_queue
			WHERE status = 'pending' ORDER BY id LIMIT 1
		`)
		e, err := scanEntry(row.Scan)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return errs.Store("read queue head").Wrap(err)
		}

		if _, err := tx.Exec("UPDATE merge_queue SET status = 'merging' WHERE id = ?", e.ID); err != nil {
			return errs.Store("claim entry %d", e.ID).Wrap(err)
		}
		e.Status = models.MergeMerging
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Peek returns the oldest pending entry without claiming it, or nil.
func (q *Queue) Peek() (*models.MergeEntry, error) {
	row := q.db.QueryRow(`
		SELECT ` + entryColumns + ` FROM merge_queue
		WHERE status = 'pending' ORDER BY id LIMIT 1
	`)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Store("peek queue").Wrap(err)
	}
	return e, nil
}

// Get returns one entry by id, or nil if it does not exist.
func (q *Queue) Get(id int64) (*models.MergeEntry, error) {
	row := q.db.QueryRow("SELECT "+entryColumns+" FROM merge_queue WHERE id = ?", id)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Store("get entry %d", id).Wrap(err)
	}
	return e, nil
}

// List returns entries in FIFO order. With no statuses given, all
// entries are returned.
func (q *Queue) List(statuses ...models.MergeStatus) ([]models.MergeEntry, error) {
	query := "SELECT " + entryColumns + " FROM merge_queue"
	var args []any
	if len(statuses) > 0 {
		query += " WHERE status IN ("
		for i, st := range statuses {
			if i > 0 {
				query += ", "
			}
			query += "?"
			args = append(args, string(st))
		}
		query += ")"
	}
	query += " ORDER BY id"

	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, errs.Store("list queue").Wrap(err)
	}
	defer rows.Close()

	var entries []models.MergeEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, errs.Store("scan entry").Wrap(err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// UpdateStatus finalizes or advances one entry. Terminal entries are
// immutable; a second finalization attempt is an error.
func (q *Queue) UpdateStatus(id int64, status models.MergeStatus, tier *models.Tier) error {
	if !status.Valid() {
		return errs.Validation("unknown merge status %q", status)
	}
	if tier != nil && !tier.Valid() {
		return errs.Validation("unknown tier %q", *tier)
	}

	return q.db.Transaction(func(tx *sql.Tx) error {
		var current string
		row := tx.QueryRow("SELECT status FROM merge_queue WHERE id = ?", id)
		if err := row.Scan(&current); err == sql.ErrNoRows {
			return errs.Merge("no queue entry %d", id)
		} else if err != nil {
			return errs.Store("read entry %d", id).Wrap(err)
		}

		cur := models.MergeStatus(current)
		if cur == models.MergeMerged || cur == models.MergeConflict || cur == models.MergeFailed {
			return errs.Merge("entry %d already finalized as %s", id, cur)
		}

		var tierValue any
		if tier != nil {
			tierValue = string(*tier)
		}
		if _, err := tx.Exec(
			"UPDATE merge_queue SET status = ?, resolved_tier = ? WHERE id = ?",
			string(status), tierValue, id,
		); err != nil {
			return errs.Store("update entry %d", id).Wrap(err)
		}
		return nil
	})
}

// Position returns how many pending entries sit ahead of id.
func (q *Queue) Position(id int64) (int, error) {
	var n int
	row := q.db.QueryRow("SELECT COUNT(*) FROM merge_queue WHERE status = 'pending' AND id < ?", id)
	if err := row.Scan(&n); err != nil {
		return 0, errs.Store("queue position for %d", id).Wrap(err)
	}
	return n, nil
}

// Counts returns the number of entries per status.
func (q *Queue) Counts() (map[models.MergeStatus]int, error) {
	rows, err := q.db.Query("SELECT status, COUNT(*) FROM merge_queue GROUP BY status")
	if err != nil {
		return nil, errs.Store("count queue").Wrap(err)
	}
	defer rows.Close()

	counts := make(map[models.MergeStatus]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, errs.Store("scan count").Wrap(err)
		}
		counts[models.MergeStatus(st)] = n
	}
	return counts, rows.Err()
}

// ResetStuck reverts merging entries to pending, keeping their queue
// position. Called at resolver start to recover entries orphaned by a
// crash mid-merge.
func (q *Queue) ResetStuck() (int64, error) {
	res, err := q.db.Exec("UPDATE merge_queue SET status = 'pending' WHERE status = 'merging'")
	if err != nil {
		return 0, errs.Store("reset stuck entries").Wrap(err)
	}
	return res.RowsAffected()
}

// PurgeFinished deletes merged, conflict, and failed entries, returning
// the count.
func (q *Queue) PurgeFinished() (int64, error) {
	res, err := q.db.Exec("DELETE FROM merge_queue WHERE status IN ('merged', 'conflict', 'failed')")
	if err != nil {
		return 0, errs.Store("purge finished entries").Wrap(err)
	}
	return res.RowsAffected()
}

// PurgeByAgent deletes an agent's entries, returning the count.
func (q *Queue) PurgeByAgent(agentName string) (int64, error) {
	res, err := q.db.Exec("DELETE FROM merge_queue WHERE agent_name = ?", agentName)
	if err != nil {
		return 0, errs.Store("purge entries by agent").With("agent", agentName).Wrap(err)
	}
	return res.RowsAffected()
}

// PurgeAll deletes every entry, returning the count.
func (q *Queue) PurgeAll() (int64, error) {
	res, err := q.db.Exec("DELETE FROM merge_queue")
	if err != nil {
		return 0, errs.Store("purge all entries").Wrap(err)
	}
	return res.RowsAffected()
}

func scanEntry(scan func(...any) error) (*models.MergeEntry, error) {
	var e models.MergeEntry
	var beadID, files, tier sql.NullString
	var enqueuedAt string
	if err := scan(&e.ID, &e.BranchName, &beadID, &e.AgentName, &files,
		&e.Status, &tier, &enqueuedAt); err != nil {
		return nil, err
	}
	e.BeadID = beadID.String
	if files.Valid && files.String != "" {
		if err := json.Unmarshal([]byte(files.String), &e.Files); err != nil {
			return nil, err
		}
	}
	if tier.Valid {
		tv := models.Tier(tier.String)
		e.ResolvedTier = &tv
	}
	e.EnqueuedAt, _ = store.ParseTime(enqueuedAt)
	return &e, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
