package mail

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/logging"
	"github.com/overstoryai/overstory/pkg/models"
)

// AgentLister supplies the live agent set used to resolve group
// addresses at send time.
type AgentLister interface {
	GetActive() ([]models.AgentSession, error)
}

// Client layers addressing and threading over the mailbox store.
type Client struct {
	store  *Store
	agents AgentLister
}

// NewClient creates a mail client backed by store, resolving group
// addresses against agents.
func NewClient(store *Store, agents AgentLister) *Client {
	return &Client{store: store, agents: agents}
}

// Send stores the message for each resolved recipient and returns the
// inserted ids. To may name a single agent or a group address; groups
// fan out to one copy per live member, sender excluded. A group that
// resolves to nobody sends nothing and returns an empty list.
func (c *Client) Send(m models.MailMessage) ([]string, error) {
	recipients, err := c.resolveRecipients(m.From, m.To)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(recipients))
	for _, to := range recipients {
		msg := m
		msg.ID = ""
		msg.To = to
		if err := c.store.Insert(&msg); err != nil {
			return ids, err
		}
		ids = append(ids, msg.ID)
	}

	logging.Debug(logging.CatMail, "sent", "from", m.From, "to", m.To, "copies", len(ids))
	return ids, nil
}

// SendProtocol sends a typed protocol message. The payload is JSON
// encoded and the priority defaults by type.
func (c *Client) SendProtocol(from, to, subject string, mt models.MessageType, payload any) ([]string, error) {
	var encoded string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errs.Mail("encode %s payload", mt).Wrap(err)
		}
		encoded = string(data)
	}

	return c.Send(models.MailMessage{
		From:     from,
		To:       to,
		Subject:  subject,
		Body:     subject,
		Type:     mt,
		Priority: DefaultPriority(mt),
		Payload:  encoded,
	})
}

// Check returns and consumes the agent's unread messages in one atomic
// step, oldest first.
func (c *Client) Check(agentName string) ([]models.MailMessage, error) {
	return c.store.CheckAndMark(agentName)
}

// CheckInject drains the agent's unread mail and renders it as the
// block a launcher pastes into the agent's pane. An empty inbox
// renders as "".
func (c *Client) CheckInject(agentName string) (string, error) {
	msgs, err := c.Check(agentName)
	if err != nil {
		return "", err
	}
	return RenderInbox(msgs), nil
}

// Reply sends body back to the sender of message id. The reply joins
// the original's thread: thread_id is inherited when set, otherwise the
// original message becomes the thread root. Inserts keep thread_id
// pointing at the root, so a single hop suffices.
func (c *Client) Reply(id, from, body string) (string, error) {
	orig, err := c.store.GetByID(id)
	if err != nil {
		return "", err
	}
	if orig == nil {
		return "", errs.Mail("no message %s to reply to", id)
	}

	threadID := orig.ThreadID
	if threadID == "" {
		threadID = orig.ID
	}
	subject := orig.Subject
	if !strings.HasPrefix(subject, "Re: ") {
		subject = "Re: " + subject
	}

	reply := models.MailMessage{
		From:     from,
		To:       orig.From,
		Subject:  subject,
		Body:     body,
		Type:     orig.Type,
		Priority: orig.Priority,
		ThreadID: threadID,
	}
	if err := c.store.Insert(&reply); err != nil {
		return "", err
	}
	return reply.ID, nil
}

// DefaultPriority maps a message type to its default priority.
func DefaultPriority(mt models.MessageType) models.Priority {
	switch mt {
	case models.MessageEscalation:
		return models.PriorityUrgent
	case models.MessageError, models.MessageMergeFailed:
		return models.PriorityHigh
	default:
		return models.PriorityNormal
	}
}

// resolveRecipients expands to into concrete agent names. Non-group
// addresses pass through untouched.
func (c *Client) resolveRecipients(from, to string) ([]string, error) {
	if !models.IsGroupAddress(to) {
		return []string{to}, nil
	}

	capability, scoped := models.GroupCapability(to)
	if !scoped && to != models.GroupAll {
		return nil, errs.Mail("unknown group address %s", to)
	}

	sessions, err := c.agents.GetActive()
	if err != nil {
		return nil, errs.Mail("resolve group %s", to).Wrap(err)
	}

	var names []string
	for _, s := range sessions {
		if s.AgentName == from {
			continue
		}
		if scoped && s.Capability != capability {
			continue
		}
		names = append(names, s.AgentName)
	}
	sort.Strings(names)
	return names, nil
}

// RenderInbox formats messages as the plain-text block injected into an
// agent's pane. Empty input renders nothing.
func RenderInbox(msgs []models.MailMessage) string {
	if len(msgs) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== MAIL: %d new message(s) ===\n", len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] from %s: %s\n", m.Priority, m.From, m.Subject)
		if m.Body != "" && m.Body != m.Subject {
			fmt.Fprintf(&b, "  %s\n", strings.ReplaceAll(m.Body, "\n", "\n  "))
		}
	}
	b.WriteString("=== END MAIL ===")
	return b.String()
}
