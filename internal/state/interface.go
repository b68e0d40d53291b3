// Package state provides the durable session and run store.
package state

import (
	"io"
	"time"

	"github.com/overstoryai/overstory/pkg/models"
)

// SessionReader handles session queries.
type SessionReader interface {
	GetByName(name string) (*models.AgentSession, error)
	GetActive() ([]models.AgentSession, error)
	GetAll() ([]models.AgentSession, error)
	GetByRun(runID string) ([]models.AgentSession, error)
}

// SessionWriter handles session mutation.
type SessionWriter interface {
	Upsert(sess *models.AgentSession) error
	UpdateState(name string, next models.AgentState) error
	UpdateLastActivity(name string) error
	UpdateEscalation(name string, level int, stalledSince *time.Time) error
	Remove(name string) error
}

// SessionPurger handles bulk deletion.
type SessionPurger interface {
	PurgeByState(st models.AgentState) (int64, error)
	PurgeByAgent(name string) (int64, error)
	PurgeAll() (int64, error)
}

// RunStore handles run grouping.
type RunStore interface {
	CreateRun(run *models.Run) error
	GetRun(id string) (*models.Run, error)
	GetActiveRun() (*models.Run, error)
	ListRuns(limit int) ([]models.Run, error)
	IncrementAgentCount(id string) error
	CompleteRun(id string) error
}

// SessionStore composes the full session store surface. The watchdog and
// the front end depend on this interface, not the SQLite implementation.
type SessionStore interface {
	io.Closer
	SessionReader
	SessionWriter
	SessionPurger
	RunStore
}

// Compile-time verification that Store implements all interfaces.
var (
	_ SessionStore  = (*Store)(nil)
	_ SessionReader = (*Store)(nil)
	_ SessionWriter = (*Store)(nil)
	_ SessionPurger = (*Store)(nil)
	_ RunStore      = (*Store)(nil)
)
