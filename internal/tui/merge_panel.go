package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/overstoryai/overstory/pkg/models"
)

// Status icons for merge queue entries.
const (
	iconQueued   = "[○]"
	iconMerging  = "[◐]"
	iconMerged   = "[✓]"
	iconConflict = "[✗]"
)

// MergePanel displays the merge queue: waiting and in-flight entries
// plus anything that failed out and needs a human.
type MergePanel struct {
	entries []models.MergeEntry
	counts  map[models.MergeStatus]int
	width   int
	height  int
	focused bool
	offset  int

	// now is the clock used for wait times; overridable in tests.
	now func() time.Time

	// Styles
	titleStyle     lipgloss.Style
	countsStyle    lipgloss.Style
	headerStyle    lipgloss.Style
	rowStyle       lipgloss.Style
	emptyStyle     lipgloss.Style
	statusPending  lipgloss.Style
	statusMerging  lipgloss.Style
	statusMerged   lipgloss.Style
	statusConflict lipgloss.Style
}

// NewMergePanel creates a new MergePanel instance.
func NewMergePanel() *MergePanel {
	return &MergePanel{
		now: time.Now,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		countsStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("245")),

		rowStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		emptyStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true),

		statusPending: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")), // Gray

		statusMerging: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")), // Orange

		statusMerged: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")), // Dark green

		statusConflict: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red
	}
}

// SetQueue replaces the displayed entries and status counts. Entries
// are expected in FIFO order; merged ones only show up in the counts.
func (p *MergePanel) SetQueue(entries []models.MergeEntry, counts map[models.MergeStatus]int) {
	p.entries = p.entries[:0]
	for _, e := range entries {
		if e.Status == models.MergeMerged {
			continue
		}
		p.entries = append(p.entries, e)
	}
	p.counts = counts

	if p.offset >= len(p.entries) {
		p.offset = len(p.entries) - 1
	}
	if p.offset < 0 {
		p.offset = 0
	}
}

// SetSize updates the panel dimensions.
func (p *MergePanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// SetFocused sets whether this panel has keyboard focus.
func (p *MergePanel) SetFocused(focused bool) {
	p.focused = focused
}

// Update handles input messages.
func (p *MergePanel) Update(msg tea.Msg) (*MergePanel, tea.Cmd) {
	if !p.focused {
		return p, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if p.offset > 0 {
				p.offset--
			}
		case "down", "j":
			if p.offset < len(p.entries)-p.visibleRows() {
				p.offset++
			}
		}
	}

	return p, nil
}

// visibleRows returns how many queue rows fit in the panel.
func (p *MergePanel) visibleRows() int {
	// Borders, title, counts line, and the column header eat six lines.
	rows := p.height - 6
	if rows < 1 {
		rows = 1
	}
	return rows
}

// View renders the merge panel.
func (p *MergePanel) View() string {
	var b strings.Builder

	title := fmt.Sprintf("Merge queue (%d)", len(p.entries))
	if p.focused {
		title = "[" + title + "]"
	}
	b.WriteString(p.titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(" " + p.renderCounts())
	b.WriteString("\n")

	if len(p.entries) == 0 {
		b.WriteString(p.emptyStyle.Render("  queue empty"))
	} else {
		branchWidth := p.branchWidth()
		header := fmt.Sprintf(" %-3s %-12s %-*s %-7s", "#", "STATUS", branchWidth, "BRANCH", "WAIT")
		b.WriteString(p.headerStyle.Render(header))
		b.WriteString("\n")

		rows := p.visibleRows()
		end := p.offset + rows
		if end > len(p.entries) {
			end = len(p.entries)
		}

		pos := 0
		for i := 0; i < end; i++ {
			e := p.entries[i]
			if e.Status == models.MergePending {
				pos++
			}
			if i < p.offset {
				continue
			}
			b.WriteString(p.renderRow(e, pos, branchWidth))
			b.WriteString("\n")
		}

		if p.offset > 0 || end < len(p.entries) {
			more := fmt.Sprintf("  %d-%d of %d", p.offset+1, end, len(p.entries))
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

// renderCounts renders the status summary line.
func (p *MergePanel) renderCounts() string {
	var parts []string
	for _, st := range []models.MergeStatus{
		models.MergePending, models.MergeMerging, models.MergeMerged,
		models.MergeConflict, models.MergeFailed,
	} {
		n := p.counts[st]
		if n == 0 && st != models.MergePending {
			continue
		}
		part := fmt.Sprintf("%d %s", n, st)
		if st == models.MergeConflict || st == models.MergeFailed {
			part = p.statusConflict.Render(part)
		}
		parts = append(parts, part)
	}
	return p.countsStyle.Render(strings.Join(parts, " · "))
}

// renderRow renders one queue entry. pos is the FIFO position among
// pending entries; other statuses show a placeholder.
func (p *MergePanel) renderRow(e models.MergeEntry, pos int, branchWidth int) string {
	num := "-"
	switch e.Status {
	case models.MergePending:
		num = fmt.Sprintf("%d", pos)
	case models.MergeMerging:
		num = "»"
	}

	wait := formatDuration(p.now().Sub(e.EnqueuedAt))
	status := fmt.Sprintf("%-12s", mergeIcon(e.Status)+" "+string(e.Status))
	rest := fmt.Sprintf("%-*s %-7s", branchWidth, truncate(e.BranchName, branchWidth), wait)

	return fmt.Sprintf(" %-3s ", num) + p.statusStyle(e.Status).Render(status) + " " + p.rowStyle.Render(rest)
}

// branchWidth returns how much room the branch column gets.
func (p *MergePanel) branchWidth() int {
	// Fixed columns and padding take about 28 cells.
	w := p.width - 28
	if w < 12 {
		w = 12
	}
	return w
}

// mergeIcon returns the icon for a merge status.
func mergeIcon(st models.MergeStatus) string {
	switch st {
	case models.MergeMerging:
		return iconMerging
	case models.MergeMerged:
		return iconMerged
	case models.MergeConflict, models.MergeFailed:
		return iconConflict
	default:
		return iconQueued
	}
}

// statusStyle returns the style for a merge status.
func (p *MergePanel) statusStyle(st models.MergeStatus) lipgloss.Style {
	switch st {
	case models.MergeMerging:
		return p.statusMerging
	case models.MergeMerged:
		return p.statusMerged
	case models.MergeConflict, models.MergeFailed:
		return p.statusConflict
	default:
		return p.statusPending
	}
}
