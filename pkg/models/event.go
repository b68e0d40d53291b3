package models

import "time"

// EventKind classifies a stored event.
type EventKind string

const (
	EventToolStart    EventKind = "tool_start"
	EventToolEnd      EventKind = "tool_end"
	EventSessionStart EventKind = "session_start"
	EventSessionEnd   EventKind = "session_end"
	EventMailSent     EventKind = "mail_sent"
	EventMailReceived EventKind = "mail_received"
	EventError        EventKind = "error"
	EventCustom       EventKind = "custom"
)

// Valid returns true if the kind is a known value.
func (k EventKind) Valid() bool {
	switch k {
	case EventToolStart, EventToolEnd, EventSessionStart, EventSessionEnd,
		EventMailSent, EventMailReceived, EventError, EventCustom:
		return true
	default:
		return false
	}
}

// EventLevel is the severity of a stored event.
type EventLevel string

const (
	LevelDebug EventLevel = "debug"
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// Valid returns true if the level is a known value.
func (l EventLevel) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	default:
		return false
	}
}

// StoredEvent is one row of the append-only event log.
type StoredEvent struct {
	// ID is the auto-increment row id.
	ID int64 `json:"id"`
	// RunID groups the event under a run, if any.
	RunID string `json:"run_id,omitempty"`
	// AgentName is the producing agent.
	AgentName string `json:"agent_name"`
	// SessionID is the launcher session, if known.
	SessionID string `json:"session_id,omitempty"`
	// Kind classifies the event.
	Kind EventKind `json:"kind"`
	// ToolName is set on tool_start and tool_end events.
	ToolName string `json:"tool_name,omitempty"`
	// ToolArgs is the filtered JSON argument summary for tool events.
	ToolArgs string `json:"tool_args,omitempty"`
	// ToolDurationMS is back-filled on tool_start rows by correlation.
	ToolDurationMS *int64 `json:"tool_duration_ms,omitempty"`
	// Level is the event severity.
	Level EventLevel `json:"level"`
	// Payload is an optional free-form JSON body.
	Payload string `json:"payload,omitempty"`
	// CreatedAt is server-set at insertion.
	CreatedAt time.Time `json:"created_at"`
}

// ToolStat is one row of the per-tool aggregate.
type ToolStat struct {
	// ToolName is the tool being aggregated.
	ToolName string `json:"tool_name"`
	// Count is the number of tool_start rows observed.
	Count int64 `json:"count"`
	// AvgDurationMS averages correlated durations; nulls are skipped.
	AvgDurationMS float64 `json:"avg_duration_ms"`
	// MaxDurationMS is the largest correlated duration.
	MaxDurationMS int64 `json:"max_duration_ms"`
}

// SessionMetrics summarizes one agent session over one bead.
type SessionMetrics struct {
	// AgentName and BeadID form the upsert identity.
	AgentName string `json:"agent_name"`
	BeadID    string `json:"bead_id"`
	// ToolCalls is the total number of tool invocations.
	ToolCalls int `json:"tool_calls"`
	// Errors is the number of error events.
	Errors int `json:"errors"`
	// DurationMS is the wall time of the session.
	DurationMS int64 `json:"duration_ms"`
	// Outcome is the launcher-reported result string.
	Outcome string `json:"outcome,omitempty"`
	// UpdatedAt is the last upsert time.
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenSnapshot is a periodic token-usage sample.
type TokenSnapshot struct {
	AgentName    string    `json:"agent_name"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
