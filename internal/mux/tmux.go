package mux

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/exec"
)

// TmuxDriver implements Driver on tmux, one detached session per pane.
// A session dies with its command, so session existence doubles as
// command liveness.
type TmuxDriver struct {
	runner  exec.CommandRunner
	timeout time.Duration
}

// NewTmuxDriver creates a tmux driver using the real command runner.
func NewTmuxDriver() *TmuxDriver {
	return &TmuxDriver{runner: exec.NewRunner(), timeout: OpTimeout}
}

// NewTmuxDriverWith creates a tmux driver with an injected command runner.
func NewTmuxDriverWith(runner exec.CommandRunner) *TmuxDriver {
	return &TmuxDriver{runner: runner, timeout: OpTimeout}
}

// target returns the tmux target for a pane name. The = prefix forces
// an exact session-name match; bare names match by prefix.
func target(name string) string {
	return "=" + name
}

// capture executes tmux with a deadline, folding only spawn failures
// and context expiry into the error.
func (d *TmuxDriver) capture(ctx context.Context, args ...string) (exec.Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	res, err := d.runner.Capture(ctx, "", "tmux", args...)
	if err != nil {
		return res, errs.Agent("tmux %s", args[0]).Wrap(err)
	}
	return res, nil
}

// run executes tmux with a deadline and returns stdout. Non-zero exits
// become AgentError with stderr attached.
func (d *TmuxDriver) run(ctx context.Context, args ...string) (string, error) {
	res, err := d.capture(ctx, args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", errs.Agent("tmux %s failed", args[0]).
			With("exit_code", res.ExitCode).
			With("stderr", strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// CreatePane starts a detached session named name running command in
// cwd. The command rides on session creation rather than a follow-up
// send-keys, which would race against shell startup. Env entries ride
// on -e flags so the command process itself inherits them; the session
// environment alone only reaches panes created later.
func (d *TmuxDriver) CreatePane(ctx context.Context, name, cwd, command string, env map[string]string) error {
	args := []string{"new-session", "-d", "-s", name}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+env[k])
	}
	if command != "" {
		args = append(args, command)
	}
	_, err := d.run(ctx, args...)
	return err
}

// KillPane destroys the named session. An already-gone session is
// treated as success so cleanup stays idempotent.
func (d *TmuxDriver) KillPane(ctx context.Context, name string) error {
	res, err := d.capture(ctx, "kill-session", "-t", target(name))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		if sessionMissing(res.Stderr) {
			return nil
		}
		return errs.Agent("tmux kill-session failed").
			With("pane", name).
			With("stderr", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// IsPaneAlive reports whether the session exists. Sessions are created
// with their command attached, so a dead command takes the session with
// it and this probe covers both.
func (d *TmuxDriver) IsPaneAlive(ctx context.Context, name string) bool {
	res, err := d.capture(ctx, "has-session", "-t", target(name))
	if err != nil {
		return false
	}
	return res.ExitCode == 0
}

// SendKeys types text into the pane followed by Enter.
func (d *TmuxDriver) SendKeys(ctx context.Context, name, text string) error {
	_, err := d.run(ctx, "send-keys", "-t", target(name), text, "Enter")
	return err
}

// Capture returns the tail of the pane's terminal output. lines > 0
// extends the capture that far into scrollback.
func (d *TmuxDriver) Capture(ctx context.Context, name string, lines int) (string, error) {
	args := []string{"capture-pane", "-t", target(name), "-p"}
	if lines > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lines))
	}
	return d.run(ctx, args...)
}

// ListPanes returns every pane on the server with its root pid. The
// tab separator keeps names containing spaces parseable.
func (d *TmuxDriver) ListPanes(ctx context.Context) ([]Pane, error) {
	res, err := d.capture(ctx, "list-panes", "-a", "-F", "#{session_name}\t#{pane_pid}")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		if serverDown(res.Stderr) {
			return nil, nil
		}
		return nil, errs.Agent("tmux list-panes failed").
			With("stderr", strings.TrimSpace(res.Stderr))
	}

	var panes []Pane
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		name, pidStr, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(pidStr))
		if err != nil || pid <= 0 {
			continue
		}
		panes = append(panes, Pane{Name: name, PID: pid})
	}
	return panes, nil
}

// sessionMissing matches the error tmux prints for an unknown session
// target. The wording varies across tmux versions.
func sessionMissing(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "find session") || strings.Contains(s, "session not found")
}

// serverDown matches the error tmux prints when no server is running.
func serverDown(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no server running") || strings.Contains(s, "error connecting to")
}

// Verify TmuxDriver implements Driver at compile time.
var _ Driver = (*TmuxDriver)(nil)
