package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/overstoryai/overstory/pkg/models"
)

// EventsPanel displays the recent-event feed, newest at the bottom.
// The feed follows new events until the user scrolls up.
type EventsPanel struct {
	events []models.StoredEvent
	vp     viewport.Model
	width  int
	height int
	follow bool

	// Styles
	titleStyle lipgloss.Style
	timeStyle  lipgloss.Style
	agentStyle lipgloss.Style
	infoStyle  lipgloss.Style
	warnStyle  lipgloss.Style
	errorStyle lipgloss.Style
	debugStyle lipgloss.Style
	emptyStyle lipgloss.Style
}

// NewEventsPanel creates a new EventsPanel instance.
func NewEventsPanel() *EventsPanel {
	return &EventsPanel{
		vp:     viewport.New(0, 0),
		follow: true,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		timeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")),

		agentStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("117")), // Light blue

		infoStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		warnStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")), // Orange

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red

		debugStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")), // Dim gray

		emptyStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true),
	}
}

// SetEvents replaces the feed, oldest first. In follow mode the window
// stays pinned to the newest events; a paused window keeps its place.
func (p *EventsPanel) SetEvents(events []models.StoredEvent) {
	p.events = events
	p.vp.SetContent(p.renderLines())
	if p.follow {
		p.vp.GotoBottom()
	}
}

// SetSize updates the panel dimensions.
func (p *EventsPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
	p.vp.Width = width - 4
	// Borders and the title eat three lines.
	p.vp.Height = height - 3
	if p.vp.Height < 1 {
		p.vp.Height = 1
	}
	p.vp.SetContent(p.renderLines())
	if p.follow {
		p.vp.GotoBottom()
	}
}

// Update handles input messages.
func (p *EventsPanel) Update(msg tea.Msg) (*EventsPanel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			p.vp.ScrollUp(1)
			p.follow = p.vp.AtBottom()
		case "down", "j":
			p.vp.ScrollDown(1)
			if p.vp.AtBottom() {
				p.follow = true
			}
		case "a":
			p.follow = true
			p.vp.GotoBottom()
		}
	}

	return p, nil
}

// Following reports whether the feed is pinned to new events.
func (p *EventsPanel) Following() bool {
	return p.follow
}

// View renders the events panel.
func (p *EventsPanel) View() string {
	var b strings.Builder

	title := "Activity"
	if !p.follow {
		title = "Activity (paused)"
	}
	b.WriteString(p.titleStyle.Render(title))
	b.WriteString("\n")

	if len(p.events) == 0 {
		b.WriteString(p.emptyStyle.Render("  no events yet"))
	} else {
		b.WriteString(p.vp.View())
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(p.width - 2).
		Height(p.height - 2).
		Render(b.String())
}

// renderLines renders the whole feed for the viewport.
func (p *EventsPanel) renderLines() string {
	lines := make([]string, len(p.events))
	for i, ev := range p.events {
		lines[i] = p.renderLine(ev)
	}
	return strings.Join(lines, "\n")
}

// renderLine renders one feed line.
func (p *EventsPanel) renderLine(ev models.StoredEvent) string {
	detail := ev.ToolName
	if ev.ToolDurationMS != nil {
		detail += fmt.Sprintf(" (%dms)", *ev.ToolDurationMS)
	}
	if detail == "" && ev.Payload != "" {
		detail = ev.Payload
	}

	body := string(ev.Kind)
	if detail != "" {
		body += " " + detail
	}
	// Keep the line inside the border.
	maxBody := p.width - 28
	if maxBody < 10 {
		maxBody = 10
	}

	return " " + p.timeStyle.Render(formatClock(ev.CreatedAt)) +
		" " + p.agentStyle.Render(fmt.Sprintf("%-12s", truncate(ev.AgentName, 12))) +
		" " + p.levelStyle(ev.Level).Render(truncate(body, maxBody))
}

// levelStyle returns the style for an event level.
func (p *EventsPanel) levelStyle(l models.EventLevel) lipgloss.Style {
	switch l {
	case models.LevelError:
		return p.errorStyle
	case models.LevelDebug:
		return p.debugStyle
	case models.LevelWarn:
		return p.warnStyle
	default:
		return p.infoStyle
	}
}
