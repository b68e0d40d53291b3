package models

import "time"

// HealthStatus is the evaluator's judgment of one session.
type HealthStatus string

const (
	// HealthHealthy means no action is needed.
	HealthHealthy HealthStatus = "healthy"
	// HealthStale means the session has been inactive beyond threshold.
	HealthStale HealthStatus = "stale"
	// HealthZombie means the session is observably dead or exhausted.
	HealthZombie HealthStatus = "zombie"
)

// SuggestedAction is what the watchdog should do about a session.
type SuggestedAction string

const (
	ActionNone      SuggestedAction = "none"
	ActionNudge     SuggestedAction = "nudge"
	ActionEscalate  SuggestedAction = "escalate"
	ActionTerminate SuggestedAction = "terminate"
)

// HealthCheck is the evaluator's output for one session.
type HealthCheck struct {
	// AgentName is the session that was evaluated.
	AgentName string `json:"agent_name"`
	// Status is the health judgment.
	Status HealthStatus `json:"status"`
	// Reason explains the judgment in one line.
	Reason string `json:"reason"`
	// SuggestedAction is the ladder action to take.
	SuggestedAction SuggestedAction `json:"suggested_action"`
	// CheckedAt is when the evaluation ran.
	CheckedAt time.Time `json:"checked_at"`
}
