package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/overstoryai/overstory/internal/ai"
	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/events"
	"github.com/overstoryai/overstory/internal/logging"
	"github.com/overstoryai/overstory/internal/mux"
	"github.com/overstoryai/overstory/internal/state"
	"github.com/overstoryai/overstory/pkg/models"
)

// DefaultPollInterval is the gap between reconciliation passes.
const DefaultPollInterval = 30 * time.Second

// DefaultNudgeText is what a stalled agent's pane receives.
const DefaultNudgeText = "You appear to be idle. If you are stuck, say what is blocking you; otherwise continue your current task."

// mailFrom is the sender name on watchdog escalation mail.
const mailFrom = "watchdog"

// Store is the slice of the session store the watchdog drives.
type Store interface {
	state.SessionReader
	state.SessionWriter
	state.RunStore
}

// Notifier sends protocol mail about terminations to parent agents.
type Notifier interface {
	SendProtocol(from, to, subject string, mt models.MessageType, payload any) ([]string, error)
}

// Config carries the watchdog's knobs and optional collaborators.
type Config struct {
	// StateDir is the orchestrator state directory; the singleton lock
	// and the agent logs live under it.
	StateDir string
	// PollInterval is the tick period. Zero means DefaultPollInterval.
	PollInterval time.Duration
	// Thresholds are the stall and hard-kill windows. A zero value
	// means DefaultThresholds.
	Thresholds Thresholds
	// Grace is the SIGTERM grace before SIGKILL. Zero means
	// DefaultGracePeriod.
	Grace time.Duration
	// NudgeText overrides DefaultNudgeText when non-empty.
	NudgeText string
	// TriageEnabled turns on AI triage at escalation level 2.
	TriageEnabled bool
	// Invoker backs triage. Required when TriageEnabled.
	Invoker ai.Invoker
	// Sink receives watchdog events. Optional.
	Sink *events.Sink
	// Notifier receives escalation mail for terminated agents. Optional.
	Notifier Notifier
}

// Watchdog reconciles recorded sessions against observable liveness
// and walks stalled agents up the escalation ladder. One instance per
// state directory; Run enforces that with a file lock.
type Watchdog struct {
	cfg     Config
	store   Store
	driver  mux.Driver
	killer  *TreeKiller
	triager *Triager

	pidAlive func(pid int) bool
	now      func() time.Time
}

// New creates a Watchdog. The store and driver are required.
func New(st Store, driver mux.Driver, cfg Config) *Watchdog {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.NudgeText == "" {
		cfg.NudgeText = DefaultNudgeText
	}

	w := &Watchdog{
		cfg:      cfg,
		store:    st,
		driver:   driver,
		killer:   NewTreeKiller(cfg.Grace),
		pidAlive: processAlive,
		now:      time.Now,
	}
	if cfg.TriageEnabled && cfg.Invoker != nil {
		w.triager = NewTriager(cfg.Invoker, filepath.Join(cfg.StateDir, "logs"))
	}
	return w
}

// Run acquires the singleton lock and polls until ctx is canceled.
// A second instance against the same state directory fails fast.
func (w *Watchdog) Run(ctx context.Context) error {
	lockPath := filepath.Join(w.cfg.StateDir, "watchdog.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return errs.Lifecycle("acquire watchdog lock").With("path", lockPath).Wrap(err)
	}
	if !locked {
		return errs.Lifecycle("another watchdog already holds %s", lockPath)
	}
	defer func() { _ = lock.Unlock() }()

	logging.Info(logging.CatWatchdog, "watchdog started",
		"poll", w.cfg.PollInterval.String(),
		"stall", w.cfg.Thresholds.Stall.String(),
		"hard_kill", w.cfg.Thresholds.HardKill.String(),
		"triage", w.triager != nil)

	w.Tick(ctx)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info(logging.CatWatchdog, "watchdog stopped")
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass over the active sessions. Errors
// on individual sessions are logged and skipped; monitoring must never
// crash the monitor.
func (w *Watchdog) Tick(ctx context.Context) {
	sessions, err := w.store.GetActive()
	if err != nil {
		logging.ErrorErr(logging.CatWatchdog, "enumerate active sessions", err)
		return
	}
	for i := range sessions {
		w.reconcile(ctx, &sessions[i])
	}
	w.maybeCompleteRun()
}

// reconcile evaluates one session and applies the suggested action.
func (w *Watchdog) reconcile(ctx context.Context, sess *models.AgentSession) {
	now := w.now()
	hc := Evaluate(*sess, w.probe(ctx, sess), w.cfg.Thresholds, now)
	logging.Debug(logging.CatWatchdog, "evaluated",
		"agent", sess.AgentName, "status", string(hc.Status),
		"action", string(hc.SuggestedAction), "reason", hc.Reason)

	switch hc.SuggestedAction {
	case models.ActionNudge:
		w.enterLadder(ctx, sess, now)
	case models.ActionEscalate:
		w.escalate(ctx, sess, now)
	case models.ActionTerminate:
		w.terminate(ctx, sess, hc.Reason)
	default:
		w.recoverStalled(sess)
	}
}

// probe checks liveness in precedence order: the pane if the session
// has one, the recorded pid otherwise. With neither signal available
// the recorded state stands.
func (w *Watchdog) probe(ctx context.Context, sess *models.AgentSession) bool {
	if sess.Pane != "" {
		return w.driver.IsPaneAlive(ctx, sess.Pane)
	}
	if sess.PID > 0 {
		return w.pidAlive(sess.PID)
	}
	return true
}

// enterLadder handles the first stale tick: mark the session stalled,
// move to level 1, and send the first nudge.
func (w *Watchdog) enterLadder(ctx context.Context, sess *models.AgentSession, now time.Time) {
	logging.Warn(logging.CatWatchdog, "session stalled",
		"agent", sess.AgentName, "last_activity", sess.LastActivity.Format(time.RFC3339))

	stalledAt := sess.StalledSince
	switch sess.State {
	case models.StateWorking:
		if err := w.store.UpdateState(sess.AgentName, models.StateStalled); err != nil {
			logging.Warn(logging.CatWatchdog, "mark stalled failed", "agent", sess.AgentName, "error", err.Error())
		} else if stalledAt == nil {
			stalledAt = &now
		}
	case models.StateBooting:
		// Booting sessions cannot legally stall; the ladder still advances.
		stalledAt = nil
	}

	if err := w.store.UpdateEscalation(sess.AgentName, 1, stalledAt); err != nil {
		logging.Warn(logging.CatWatchdog, "escalation update failed", "agent", sess.AgentName, "error", err.Error())
		return
	}
	sess.EscalationLevel = 1
	w.sendNudge(ctx, sess)
}

// escalate advances a session already on the ladder. Level 1 nudges
// again and moves to 2; level 2 consults triage when enabled, else
// moves straight to 3.
func (w *Watchdog) escalate(ctx context.Context, sess *models.AgentSession, now time.Time) {
	switch sess.EscalationLevel {
	case 1:
		w.sendNudge(ctx, sess)
		w.bump(sess, 2, now)
	case 2:
		if w.triager == nil {
			w.bump(sess, 3, now)
			return
		}
		switch v := w.triager.Triage(ctx, sess.AgentName); v {
		case VerdictRetry:
			// Recoverable: nudge again without advancing.
			w.sendNudge(ctx, sess)
		case VerdictTerminate:
			w.bump(sess, 3, now)
			w.terminate(ctx, sess, "triage verdict: terminate")
		default:
			// extend: one free tick.
			logging.Info(logging.CatWatchdog, "triage extended", "agent", sess.AgentName)
		}
	}
}

// bump raises the escalation level, carrying the stall marker forward.
func (w *Watchdog) bump(sess *models.AgentSession, level int, now time.Time) {
	since := sess.StalledSince
	if since == nil && sess.State == models.StateStalled {
		since = &now
	}
	if err := w.store.UpdateEscalation(sess.AgentName, level, since); err != nil {
		logging.Warn(logging.CatWatchdog, "escalation update failed", "agent", sess.AgentName, "error", err.Error())
		return
	}
	sess.EscalationLevel = level
}

// sendNudge types the nudge text into the session's pane and records
// a mail_sent event.
func (w *Watchdog) sendNudge(ctx context.Context, sess *models.AgentSession) {
	if sess.Pane == "" {
		return
	}
	if err := w.driver.SendKeys(ctx, sess.Pane, w.cfg.NudgeText); err != nil {
		logging.Warn(logging.CatWatchdog, "nudge failed", "agent", sess.AgentName, "error", err.Error())
		return
	}
	logging.Info(logging.CatWatchdog, "nudged", "agent", sess.AgentName, "level", sess.EscalationLevel)
	w.record(sess, models.EventMailSent, models.LevelWarn, map[string]any{
		"action":           "nudge",
		"escalation_level": sess.EscalationLevel,
	})
}

// terminate kills the session's process tree deepest-first, closes the
// pane, and marks the row zombie. The row is never removed; observers
// need to see the terminal state.
func (w *Watchdog) terminate(ctx context.Context, sess *models.AgentSession, reason string) {
	pid := sess.PID
	if pid <= 0 && sess.Pane != "" {
		pid = w.panePID(ctx, sess.Pane)
	}
	var signaled []int
	if pid > 0 {
		signaled = w.killer.Kill(pid)
	}

	if sess.Pane != "" {
		if err := w.driver.KillPane(ctx, sess.Pane); err != nil {
			logging.Warn(logging.CatWatchdog, "kill pane failed", "agent", sess.AgentName, "error", err.Error())
		}
	}

	if err := w.store.UpdateState(sess.AgentName, models.StateZombie); err != nil {
		logging.Warn(logging.CatWatchdog, "mark zombie failed", "agent", sess.AgentName, "error", err.Error())
	}

	logging.Error(logging.CatWatchdog, "terminated session",
		"agent", sess.AgentName, "reason", reason, "pid", pid, "signaled", len(signaled))
	w.record(sess, models.EventError, models.LevelError, map[string]any{
		"action":           "terminate",
		"reason":           reason,
		"escalation_level": sess.EscalationLevel,
		"pid":              pid,
		"signaled":         len(signaled),
	})

	if w.cfg.Notifier != nil && sess.Parent != "" {
		payload := map[string]any{
			"agent":            sess.AgentName,
			"reason":           reason,
			"escalation_level": sess.EscalationLevel,
		}
		subject := fmt.Sprintf("agent %s terminated", sess.AgentName)
		if _, err := w.cfg.Notifier.SendProtocol(mailFrom, sess.Parent, subject, models.MessageEscalation, payload); err != nil {
			logging.Warn(logging.CatWatchdog, "escalation mail failed", "agent", sess.AgentName, "error", err.Error())
		}
	}
}

// recoverStalled returns a stalled session to working once activity
// resumes. The escalation level keeps its value; it only resets on a
// terminal transition or purge.
func (w *Watchdog) recoverStalled(sess *models.AgentSession) {
	if sess.State != models.StateStalled {
		return
	}
	if err := w.store.UpdateState(sess.AgentName, models.StateWorking); err != nil {
		logging.Warn(logging.CatWatchdog, "recover failed", "agent", sess.AgentName, "error", err.Error())
		return
	}
	logging.Info(logging.CatWatchdog, "session recovered", "agent", sess.AgentName)
}

// panePID looks up the pane's process id from the multiplexer.
func (w *Watchdog) panePID(ctx context.Context, pane string) int {
	panes, err := w.driver.ListPanes(ctx)
	if err != nil {
		logging.Warn(logging.CatWatchdog, "list panes failed", "error", err.Error())
		return 0
	}
	for _, p := range panes {
		if p.Name == pane {
			return p.PID
		}
	}
	return 0
}

// maybeCompleteRun closes the active run once every non-persistent
// session under it has reached a terminal state. The coordinator and
// monitor are liveness-checked but never hold a run open.
func (w *Watchdog) maybeCompleteRun() {
	run, err := w.store.GetActiveRun()
	if err != nil {
		logging.Warn(logging.CatWatchdog, "get active run failed", "error", err.Error())
		return
	}
	if run == nil {
		return
	}

	sessions, err := w.store.GetByRun(run.ID)
	if err != nil {
		logging.Warn(logging.CatWatchdog, "list run sessions failed", "run", run.ID, "error", err.Error())
		return
	}

	var workers, live int
	for _, s := range sessions {
		if s.Capability.Persistent() {
			continue
		}
		workers++
		if s.State.Active() {
			live++
		}
	}
	if workers == 0 || live > 0 {
		return
	}

	if err := w.store.CompleteRun(run.ID); err != nil {
		logging.Warn(logging.CatWatchdog, "complete run failed", "run", run.ID, "error", err.Error())
		return
	}
	logging.Info(logging.CatWatchdog, "run completed", "run", run.ID, "agents", workers)
}

// record queues one event through the sink. Recording never blocks or
// fails the caller.
func (w *Watchdog) record(sess *models.AgentSession, kind models.EventKind, level models.EventLevel, body map[string]any) {
	if w.cfg.Sink == nil {
		return
	}
	payload, _ := json.Marshal(body)
	w.cfg.Sink.Record(models.StoredEvent{
		RunID:     sess.RunID,
		AgentName: sess.AgentName,
		Kind:      kind,
		Level:     level,
		Payload:   string(payload),
	})
}
