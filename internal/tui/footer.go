package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// SessionCounts holds the session totals shown in the status bar.
type SessionCounts struct {
	Working int
	Stalled int
	Zombie  int
	Queued  int
}

// Footer renders the status bar and keyboard hints.
type Footer struct {
	counts      SessionCounts
	refreshedAt time.Time
	refreshErr  error
	activeTab   int
	width       int

	// Styles
	okStyle        lipgloss.Style
	warnStyle      lipgloss.Style
	errorStyle     lipgloss.Style
	hintStyle      lipgloss.Style
	separatorStyle lipgloss.Style
}

// NewFooter creates a new Footer instance.
func NewFooter() *Footer {
	return &Footer{
		okStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")),

		warnStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		separatorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),
	}
}

// SetCounts updates the session totals.
func (f *Footer) SetCounts(counts SessionCounts) {
	f.counts = counts
}

// SetRefreshed records the last successful poll.
func (f *Footer) SetRefreshed(t time.Time) {
	f.refreshedAt = t
	f.refreshErr = nil
}

// SetError records a failed poll. The panels keep their stale data, so
// the footer is the only place the failure shows.
func (f *Footer) SetError(err error) {
	f.refreshErr = err
}

// SetActiveTab sets which tab's hints are shown.
func (f *Footer) SetActiveTab(tab int) {
	f.activeTab = tab
}

// SetWidth sets the footer width.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// View renders the footer.
func (f *Footer) View() string {
	sep := f.separatorStyle.Render(" │ ")

	left := f.okStyle.Render(fmt.Sprintf("●%d", f.counts.Working))
	if f.counts.Stalled > 0 {
		left += " " + f.warnStyle.Render(fmt.Sprintf("◐%d", f.counts.Stalled))
	}
	if f.counts.Zombie > 0 {
		left += " " + f.errorStyle.Render(fmt.Sprintf("✗%d", f.counts.Zombie))
	}
	left += sep + f.hintStyle.Render(fmt.Sprintf("queue %d", f.counts.Queued))

	if f.refreshErr != nil {
		left += sep + f.errorStyle.Render("refresh failed: "+truncate(f.refreshErr.Error(), 40))
	} else if !f.refreshedAt.IsZero() {
		left += sep + f.hintStyle.Render("updated "+formatClock(f.refreshedAt))
	}

	return left + sep + f.keyboardHints()
}

// keyboardHints returns context-sensitive keyboard hints.
func (f *Footer) keyboardHints() string {
	hints := "1/2 tabs"
	switch f.activeTab {
	case TabIndexAgents:
		hints += " │ ↑/↓ select │ h/l panels"
	case TabIndexActivity:
		hints += " │ ↑/↓ scroll │ a follow"
	}
	hints += " │ r refresh │ q quit"
	return f.hintStyle.Render(hints)
}
