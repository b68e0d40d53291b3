// Package mux drives the terminal multiplexer that hosts agent panes.
// Each pane is an isolated shell view running one agent process; the
// driver abstracts the concrete multiplexer so the watchdog and spawner
// stay multiplexer-agnostic.
package mux

import (
	"context"
	"time"
)

// OpTimeout bounds a single multiplexer command.
const OpTimeout = 5 * time.Second

// Pane describes one live pane on the multiplexer server.
type Pane struct {
	// Name is the pane's unique name.
	Name string
	// PID is the OS pid of the pane's root process.
	PID int
}

// Driver defines the multiplexer operations the orchestrator needs.
type Driver interface {
	// CreatePane starts a detached pane running command in cwd. The env
	// entries are injected into the command's environment.
	CreatePane(ctx context.Context, name, cwd, command string, env map[string]string) error

	// KillPane destroys the named pane and the process running inside
	// it. Killing a pane that no longer exists is not an error.
	KillPane(ctx context.Context, name string) error

	// IsPaneAlive reports whether the pane exists and its command is
	// still running. Probe failures read as not alive.
	IsPaneAlive(ctx context.Context, name string) bool

	// SendKeys types text into the pane followed by Enter.
	SendKeys(ctx context.Context, name, text string) error

	// Capture returns the tail of the pane's terminal output. lines
	// extends the capture that far into scrollback; lines <= 0 captures
	// the visible screen only.
	Capture(ctx context.Context, name string, lines int) (string, error)

	// ListPanes returns every pane on the server with its root pid.
	// A server that is not running yields an empty list.
	ListPanes(ctx context.Context) ([]Pane, error)
}
