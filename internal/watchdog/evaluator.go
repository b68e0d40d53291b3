// Package watchdog monitors agent sessions and reconciles recorded
// state with observable reality. Pane liveness outranks process
// liveness, which outranks whatever the session store says. A pure
// evaluator judges each session; the daemon applies a progressive
// escalation ladder to anything unhealthy.
package watchdog

import (
	"fmt"
	"time"

	"github.com/overstoryai/overstory/pkg/models"
)

const (
	// DefaultStallThreshold is how long a session may go without
	// activity before the ladder starts.
	DefaultStallThreshold = 10 * time.Minute
	// DefaultHardKillThreshold is how long a session may sit stalled,
	// in total, before it is terminated regardless of ladder position.
	DefaultHardKillThreshold = 30 * time.Minute
)

// Thresholds carries the evaluator's configurable numbers. The rule
// set itself is fixed.
type Thresholds struct {
	// Stall is the inactivity window that marks a session stale.
	Stall time.Duration
	// HardKill bounds the total time a session may remain stalled.
	HardKill time.Duration
}

// DefaultThresholds returns the standard stall and hard-kill windows.
func DefaultThresholds() Thresholds {
	return Thresholds{Stall: DefaultStallThreshold, HardKill: DefaultHardKillThreshold}
}

// Evaluate judges one session against the fixed rules, first match
// wins:
//
//  1. not observably alive: zombie, terminate
//  2. completed: healthy, none
//  3. stalled longer than the hard-kill window: zombie, terminate
//  4. inactive beyond the stall window at level 0: stale, nudge
//  5. inactive beyond the stall window at level 1 or 2: stale, escalate
//  6. escalation level 3 or higher: zombie, terminate
//  7. otherwise: healthy, none
//
// isAlive is the observable-liveness probe result; it overrides every
// recorded field.
func Evaluate(sess models.AgentSession, isAlive bool, th Thresholds, now time.Time) models.HealthCheck {
	hc := models.HealthCheck{AgentName: sess.AgentName, CheckedAt: now}

	if !isAlive {
		hc.Status = models.HealthZombie
		hc.SuggestedAction = models.ActionTerminate
		hc.Reason = "no live pane or process backs this session"
		return hc
	}

	if sess.State == models.StateCompleted {
		hc.Status = models.HealthHealthy
		hc.SuggestedAction = models.ActionNone
		hc.Reason = "session completed"
		return hc
	}

	if sess.StalledSince != nil && th.HardKill > 0 && now.Sub(*sess.StalledSince) > th.HardKill {
		hc.Status = models.HealthZombie
		hc.SuggestedAction = models.ActionTerminate
		hc.Reason = fmt.Sprintf("stalled for %s, past the hard-kill window", roundAge(now.Sub(*sess.StalledSince)))
		return hc
	}

	stale := th.Stall > 0 && now.Sub(sess.LastActivity) > th.Stall

	if stale && sess.EscalationLevel == 0 {
		hc.Status = models.HealthStale
		hc.SuggestedAction = models.ActionNudge
		hc.Reason = fmt.Sprintf("no activity for %s", roundAge(now.Sub(sess.LastActivity)))
		return hc
	}

	if stale && (sess.EscalationLevel == 1 || sess.EscalationLevel == 2) {
		hc.Status = models.HealthStale
		hc.SuggestedAction = models.ActionEscalate
		hc.Reason = fmt.Sprintf("no activity for %s at escalation level %d", roundAge(now.Sub(sess.LastActivity)), sess.EscalationLevel)
		return hc
	}

	if sess.EscalationLevel >= 3 {
		hc.Status = models.HealthZombie
		hc.SuggestedAction = models.ActionTerminate
		hc.Reason = "escalation ladder exhausted"
		return hc
	}

	hc.Status = models.HealthHealthy
	hc.SuggestedAction = models.ActionNone
	hc.Reason = "recent activity"
	return hc
}

func roundAge(d time.Duration) time.Duration {
	return d.Round(time.Second)
}
