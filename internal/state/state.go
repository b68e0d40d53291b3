// Package state provides the durable session and run store.
// Sessions live in .overstory/sessions.db; every agent the system spawns
// has exactly one row here, keyed by agent name.
package state

import (
	"fmt"
	"path/filepath"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/store"
)

// DBFileName is the session store's file name under the state directory.
const DBFileName = "sessions.db"

// DBPath returns the session store path for a state directory.
func DBPath(stateDir string) string {
	return filepath.Join(stateDir, DBFileName)
}

// Store is the sessions + runs store.
type Store struct {
	db *store.DB
}

var migrations = []store.Migration{
	{Version: 1, SQL: migrationV1Sessions},
	{Version: 2, SQL: migrationV2Runs},
}

const migrationV1Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_name TEXT NOT NULL UNIQUE,
	capability TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'booting',
	parent TEXT,
	depth INTEGER NOT NULL DEFAULT 0,
	worktree_path TEXT,
	branch_name TEXT,
	bead_id TEXT,
	pane TEXT,
	pid INTEGER,
	created_at DATETIME NOT NULL,
	last_activity DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
CREATE INDEX IF NOT EXISTS idx_sessions_capability ON sessions(capability);
`

const migrationV2Runs = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	agent_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Column adds applied on every open. Older deployments created the
// sessions table before these fields existed.
var sessionColumnAdds = []struct {
	column string
	ddl    string
}{
	{"escalation_level", "ALTER TABLE sessions ADD COLUMN escalation_level INTEGER NOT NULL DEFAULT 0"},
	{"stalled_since", "ALTER TABLE sessions ADD COLUMN stalled_since DATETIME"},
	{"run_id", "ALTER TABLE sessions ADD COLUMN run_id TEXT"},
}

// Open opens the session store under stateDir, applying migrations and
// idempotent column adds. When the schema is fresh and a legacy
// sessions.json flat file exists, its rows are imported; the boolean
// reports whether that import happened so callers can log it once.
func Open(stateDir string) (*Store, bool, error) {
	db, err := store.Open(DBPath(stateDir))
	if err != nil {
		return nil, false, errs.Store("open session store").Wrap(err)
	}

	fresh, err := isFreshSchema(db)
	if err != nil {
		db.Close()
		return nil, false, err
	}

	if err := db.Migrate(migrations); err != nil {
		db.Close()
		return nil, false, errs.Store("migrate session store").Wrap(err)
	}
	if err := ensureSessionColumns(db); err != nil {
		db.Close()
		return nil, false, err
	}

	s := &Store{db: db}

	migrated := false
	if fresh {
		n, err := s.importLegacy(filepath.Join(stateDir, "sessions.json"))
		if err != nil {
			db.Close()
			return nil, false, err
		}
		migrated = n > 0
	}

	return s, migrated, nil
}

// Close checkpoints and closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

func isFreshSchema(db *store.DB) (bool, error) {
	var count int
	row := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sessions'")
	if err := row.Scan(&count); err != nil {
		return false, errs.Store("inspect schema").Wrap(err)
	}
	return count == 0, nil
}

func ensureSessionColumns(db *store.DB) error {
	existing, err := tableColumns(db, "sessions")
	if err != nil {
		return err
	}
	for _, add := range sessionColumnAdds {
		if existing[add.column] {
			continue
		}
		if _, err := db.Exec(add.ddl); err != nil {
			return errs.Store("add column %s", add.column).Wrap(err)
		}
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_run_id ON sessions(run_id)"); err != nil {
		return errs.Store("create run_id index").Wrap(err)
	}
	return nil
}

func tableColumns(db *store.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, errs.Store("read table info for %s", table).Wrap(err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, errs.Store("scan table info").Wrap(err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
