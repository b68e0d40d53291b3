package state

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/store"
	"github.com/overstoryai/overstory/pkg/models"
)

const runColumns = "id, description, status, agent_count, created_at, completed_at"

// CreateRun creates a new run. The ID is generated when empty. At most
// one run may be active at a time.
func (s *Store) CreateRun(run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunActive
	}
	if !run.Status.Valid() {
		return errs.Validation("unknown run status %q", run.Status).With("run", run.ID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	return s.db.Transaction(func(tx *sql.Tx) error {
		if run.Status == models.RunActive {
			var existing string
			err := tx.QueryRow("SELECT id FROM runs WHERE status = ? LIMIT 1",
				string(models.RunActive)).Scan(&existing)
			if err == nil {
				return errs.Validation("an active run already exists: %s", existing)
			}
			if err != sql.ErrNoRows {
				return errs.Store("check active run").Wrap(err)
			}
		}

		_, err := tx.Exec(`
			INSERT INTO runs (id, description, status, agent_count, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, nullIfEmpty(run.Description), string(run.Status), run.AgentCount,
			store.FormatTime(run.CreatedAt), store.NullableTimeString(run.CompletedAt))
		if err != nil {
			return errs.Store("create run").With("run", run.ID).Wrap(err)
		}
		return nil
	})
}

// GetRun returns a run by id, or nil if none exists.
func (s *Store) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRunRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Store("get run").With("run", id).Wrap(err)
	}
	return run, nil
}

// GetActiveRun returns the active run, or nil if none is active.
func (s *Store) GetActiveRun() (*models.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY created_at DESC LIMIT 1`,
		string(models.RunActive))
	run, err := scanRunRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Store("get active run").Wrap(err)
	}
	return run, nil
}

// ListRuns returns runs newest-first, capped at limit when positive.
func (s *Store) ListRuns(limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errs.Store("list runs").Wrap(err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRunRow(rows.Scan)
		if err != nil {
			return nil, errs.Store("scan run").Wrap(err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// IncrementAgentCount bumps the run's agent counter by one.
func (s *Store) IncrementAgentCount(id string) error {
	res, err := s.db.Exec("UPDATE runs SET agent_count = agent_count + 1 WHERE id = ?", id)
	if err != nil {
		return errs.Store("increment agent count").With("run", id).Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Validation("run not found: %s", id)
	}
	return nil
}

// CompleteRun marks the run completed, setting status and completed_at
// atomically. Completing an already-completed run is a no-op.
func (s *Store) CompleteRun(id string) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ? WHERE id = ? AND status = ?
	`, string(models.RunCompleted), store.FormatTime(time.Now()), id, string(models.RunActive))
	if err != nil {
		return errs.Store("complete run").With("run", id).Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		run, err := s.GetRun(id)
		if err != nil {
			return err
		}
		if run == nil {
			return errs.Validation("run not found: %s", id)
		}
	}
	return nil
}

func scanRunRow(scan func(...any) error) (*models.Run, error) {
	var run models.Run
	var description sql.NullString
	var createdAt string
	var completedAt sql.NullString

	err := scan(&run.ID, &description, &run.Status, &run.AgentCount, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	run.Description = description.String
	run.CreatedAt, _ = store.ParseTime(createdAt)
	run.CompletedAt = store.ParseNullableTime(completedAt)
	return &run, nil
}
