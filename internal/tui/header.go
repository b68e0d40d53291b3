package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/overstoryai/overstory/pkg/models"
)

// headerHeight is the fixed header height in lines: title plus blank.
const headerHeight = 2

// Header renders the title bar: program name, state directory, and the
// active run, when there is one.
type Header struct {
	stateDir string
	run      *models.Run
	width    int

	// Styles
	titleStyle lipgloss.Style
	dimStyle   lipgloss.Style
	runStyle   lipgloss.Style
}

// NewHeader creates a new Header.
func NewHeader(stateDir string) *Header {
	return &Header{
		stateDir: stateDir,
		width:    80,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("114")), // Green

		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")),

		runStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
	}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// SetRun sets the active run shown in the title bar. A nil run clears
// it.
func (h *Header) SetRun(run *models.Run) {
	h.run = run
}

// View renders the header.
func (h *Header) View() string {
	title := h.titleStyle.Render("OVERSTORY")
	sep := h.dimStyle.Render(" │ ")

	line := title + sep + h.dimStyle.Render(h.stateDir)
	if h.run != nil {
		run := fmt.Sprintf("run %s (%d agents)", truncate(h.run.ID, 20), h.run.AgentCount)
		line += sep + h.runStyle.Render(run)
	}

	return lipgloss.NewStyle().
		Width(h.width).
		Render(line) + "\n"
}

// Height returns the header height in lines.
func (h *Header) Height() int {
	return headerHeight
}
