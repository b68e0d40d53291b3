package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/overstoryai/overstory/pkg/models"
)

// Status icons for session states.
const (
	iconWorking   = "[●]"
	iconStalled   = "[◐]"
	iconCompleted = "[✓]"
	iconZombie    = "[✗]"
	iconBooting   = "[○]"
)

// completedLinger is how long completed sessions remain visible.
const completedLinger = 30 * time.Second

// AgentsPanel displays the session table: one row per agent with its
// state, escalation level, unread mail, and timing.
type AgentsPanel struct {
	sessions []models.AgentSession
	unread   map[string]int
	width    int
	height   int
	focused  bool
	selected int
	offset   int

	// now is the clock used for ages; overridable in tests.
	now func() time.Time

	// Styles
	titleStyle     lipgloss.Style
	headerStyle    lipgloss.Style
	rowStyle       lipgloss.Style
	selectedStyle  lipgloss.Style
	emptyStyle     lipgloss.Style
	stateWorking   lipgloss.Style
	stateStalled   lipgloss.Style
	stateCompleted lipgloss.Style
	stateZombie    lipgloss.Style
	stateBooting   lipgloss.Style
}

// NewAgentsPanel creates a new AgentsPanel instance.
func NewAgentsPanel() *AgentsPanel {
	return &AgentsPanel{
		now: time.Now,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("245")),

		rowStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		selectedStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("15")).
			Bold(true),

		emptyStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true),

		stateWorking: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")), // Green

		stateStalled: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")), // Orange

		stateCompleted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")), // Dark green

		stateZombie: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red

		stateBooting: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")), // Gray
	}
}

// SetSessions replaces the session rows. Completed sessions drop out
// after a grace period; zombies stay visible so users can investigate.
func (p *AgentsPanel) SetSessions(sessions []models.AgentSession, unread map[string]int) {
	cutoff := p.now().Add(-completedLinger)
	p.sessions = p.sessions[:0]
	for _, s := range sessions {
		if s.State == models.StateCompleted && s.CompletedAt != nil && s.CompletedAt.Before(cutoff) {
			continue
		}
		p.sessions = append(p.sessions, s)
	}
	p.unread = unread

	if p.selected >= len(p.sessions) {
		p.selected = len(p.sessions) - 1
	}
	if p.selected < 0 {
		p.selected = 0
	}
	p.ensureVisible()
}

// SetSize updates the panel dimensions.
func (p *AgentsPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
	p.ensureVisible()
}

// SetFocused sets whether this panel has keyboard focus.
func (p *AgentsPanel) SetFocused(focused bool) {
	p.focused = focused
}

// Update handles input messages.
func (p *AgentsPanel) Update(msg tea.Msg) (*AgentsPanel, tea.Cmd) {
	if !p.focused {
		return p, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if p.selected > 0 {
				p.selected--
				p.ensureVisible()
			}
		case "down", "j":
			if p.selected < len(p.sessions)-1 {
				p.selected++
				p.ensureVisible()
			}
		}
	}

	return p, nil
}

// visibleRows returns how many session rows fit in the panel.
func (p *AgentsPanel) visibleRows() int {
	// Borders, title, and the column header eat five lines.
	rows := p.height - 5
	if rows < 1 {
		rows = 1
	}
	return rows
}

// ensureVisible adjusts the scroll offset to keep the selection on
// screen.
func (p *AgentsPanel) ensureVisible() {
	rows := p.visibleRows()
	if p.selected < p.offset {
		p.offset = p.selected
	} else if p.selected >= p.offset+rows {
		p.offset = p.selected - rows + 1
	}
	if p.offset < 0 {
		p.offset = 0
	}
}

// View renders the agents panel.
func (p *AgentsPanel) View() string {
	var b strings.Builder

	title := fmt.Sprintf("Agents (%d)", len(p.sessions))
	if p.focused {
		title = "[" + title + "]"
	}
	b.WriteString(p.titleStyle.Render(title))
	b.WriteString("\n")

	if len(p.sessions) == 0 {
		b.WriteString(p.emptyStyle.Render("  no agents"))
	} else {
		header := fmt.Sprintf(" %-13s %-16s %-12s %-4s %-5s %-8s %-8s",
			"STATE", "AGENT", "CAP", "ESC", "MAIL", "AGE", "IDLE")
		b.WriteString(p.headerStyle.Render(header))
		b.WriteString("\n")

		rows := p.visibleRows()
		end := p.offset + rows
		if end > len(p.sessions) {
			end = len(p.sessions)
		}

		for i := p.offset; i < end; i++ {
			b.WriteString(p.renderRow(i))
			b.WriteString("\n")
		}

		if p.offset > 0 || end < len(p.sessions) {
			more := fmt.Sprintf("  %d-%d of %d", p.offset+1, end, len(p.sessions))
			b.WriteString(p.emptyStyle.Render(more))
		}
	}

	borderColor := lipgloss.Color("240")
	if p.focused {
		borderColor = lipgloss.Color("63") // Blue when focused
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Width(p.width - 2).
		Height(p.height - 2).
		Render(b.String())
}

// renderRow renders one session row.
func (p *AgentsPanel) renderRow(i int) string {
	s := p.sessions[i]
	now := p.now()

	esc := "-"
	if s.EscalationLevel > 0 {
		esc = fmt.Sprintf("▲%d", s.EscalationLevel)
	}
	mail := "-"
	if n := p.unread[s.AgentName]; n > 0 {
		mail = fmt.Sprintf("%d", n)
	}
	age := formatDuration(now.Sub(s.CreatedAt))
	idle := formatDuration(now.Sub(s.LastActivity))

	state := fmt.Sprintf("%-13s", stateIcon(s.State)+" "+string(s.State))
	rest := fmt.Sprintf("%-16s %-12s %-4s %-5s %-8s %-8s",
		truncate(s.AgentName, 16), truncate(string(s.Capability), 12), esc, mail, age, idle)

	if i == p.selected && p.focused {
		return " " + p.selectedStyle.Render(state+" "+rest)
	}
	return " " + p.stateStyle(s.State).Render(state) + " " + p.rowStyle.Render(rest)
}

// SelectedSession returns the currently selected session, or nil.
func (p *AgentsPanel) SelectedSession() *models.AgentSession {
	if len(p.sessions) == 0 || p.selected >= len(p.sessions) {
		return nil
	}
	return &p.sessions[p.selected]
}

// stateIcon returns the icon for a session state.
func stateIcon(st models.AgentState) string {
	switch st {
	case models.StateWorking:
		return iconWorking
	case models.StateStalled:
		return iconStalled
	case models.StateCompleted:
		return iconCompleted
	case models.StateZombie:
		return iconZombie
	default:
		return iconBooting
	}
}

// stateStyle returns the style for a session state.
func (p *AgentsPanel) stateStyle(st models.AgentState) lipgloss.Style {
	switch st {
	case models.StateWorking:
		return p.stateWorking
	case models.StateStalled:
		return p.stateStalled
	case models.StateCompleted:
		return p.stateCompleted
	case models.StateZombie:
		return p.stateZombie
	default:
		return p.stateBooting
	}
}
