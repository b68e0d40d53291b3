package models

import (
	"strings"
	"time"
)

// MessageType classifies the structured payload of a mail message.
type MessageType string

const (
	MessageStatus      MessageType = "status"
	MessageQuestion    MessageType = "question"
	MessageResult      MessageType = "result"
	MessageError       MessageType = "error"
	MessageWorkerDone  MessageType = "worker_done"
	MessageMergeReady  MessageType = "merge_ready"
	MessageMerged      MessageType = "merged"
	MessageMergeFailed MessageType = "merge_failed"
	MessageEscalation  MessageType = "escalation"
	MessageHealthCheck MessageType = "health_check"
	MessageDispatch    MessageType = "dispatch"
	MessageAssign      MessageType = "assign"
)

// Valid returns true if the type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case MessageStatus, MessageQuestion, MessageResult, MessageError,
		MessageWorkerDone, MessageMergeReady, MessageMerged, MessageMergeFailed,
		MessageEscalation, MessageHealthCheck, MessageDispatch, MessageAssign:
		return true
	default:
		return false
	}
}

// Priority orders messages for presentation; delivery order is createdAt.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// MailMessage is one durable inter-agent message. Group addresses are
// resolved before insertion, so To is always a single concrete recipient.
type MailMessage struct {
	// ID is the generated message identifier.
	ID string `json:"id"`
	// From is the sending agent name.
	From string `json:"from"`
	// To is the single recipient agent name.
	To string `json:"to"`
	// Subject is the short message summary.
	Subject string `json:"subject"`
	// Body is the message text.
	Body string `json:"body"`
	// Type classifies the payload.
	Type MessageType `json:"type"`
	// Priority is the presentation priority.
	Priority Priority `json:"priority"`
	// ThreadID links the message to its conversation root, if any.
	ThreadID string `json:"thread_id,omitempty"`
	// Payload holds the JSON-encoded structured body typed by Type.
	Payload string `json:"payload,omitempty"`
	// Read reports whether the recipient has consumed the message.
	Read bool `json:"read"`
	// CreatedAt is server-set at insertion.
	CreatedAt time.Time `json:"created_at"`
}

// Group addresses accepted by the mail client. Each resolves to the live
// agent set at send time, sender excluded.
const (
	GroupAll       = "@all"
	GroupBuilders  = "@builders"
	GroupScouts    = "@scouts"
	GroupReviewers = "@reviewers"
	GroupMergers   = "@mergers"
	GroupLeads     = "@leads"
)

// IsGroupAddress reports whether to names a group rather than an agent.
func IsGroupAddress(to string) bool {
	return strings.HasPrefix(to, "@")
}

// GroupCapability maps a group address to the capability it selects.
// The second return is false for @all and for unknown groups.
func GroupCapability(addr string) (Capability, bool) {
	switch addr {
	case GroupBuilders:
		return CapBuilder, true
	case GroupScouts:
		return CapScout, true
	case GroupReviewers:
		return CapReviewer, true
	case GroupMergers:
		return CapMerger, true
	case GroupLeads:
		return CapLead, true
	default:
		return "", false
	}
}
