package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/overstoryai/overstory/pkg/models"
)

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestAgentsPanelRows(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	p := NewAgentsPanel()
	p.now = func() time.Time { return base }
	p.SetSize(90, 20)
	p.SetSessions([]models.AgentSession{
		{AgentName: "oak", Capability: models.CapCoordinator, State: models.StateWorking,
			CreatedAt: base.Add(-time.Hour), LastActivity: base.Add(-3 * time.Second)},
		{AgentName: "birch", Capability: models.CapBuilder, State: models.StateStalled,
			EscalationLevel: 2,
			CreatedAt:       base.Add(-10 * time.Minute), LastActivity: base.Add(-4 * time.Minute)},
	}, map[string]int{"birch": 5})

	rendered := p.View()
	for _, want := range []string{
		"Agents (2)",
		"AGENT", "CAP", "ESC", "MAIL", "IDLE",
		"oak", "coordinator", "working",
		"birch", "builder", "stalled", "▲2", "5",
		"1h0m", "4m0s",
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestAgentsPanelEmpty(t *testing.T) {
	p := NewAgentsPanel()
	p.SetSize(60, 12)
	p.SetSessions(nil, nil)

	if !strings.Contains(p.View(), "no agents") {
		t.Error("empty panel should say so")
	}
}

func TestAgentsPanelCompletedLinger(t *testing.T) {
	base := time.Now()
	oldDone := base.Add(-2 * completedLinger)
	justDone := base.Add(-time.Second)

	p := NewAgentsPanel()
	p.now = func() time.Time { return base }
	p.SetSize(90, 20)
	p.SetSessions([]models.AgentSession{
		{AgentName: "ash", State: models.StateCompleted, CompletedAt: &oldDone,
			CreatedAt: base.Add(-time.Hour), LastActivity: oldDone},
		{AgentName: "elm", State: models.StateCompleted, CompletedAt: &justDone,
			CreatedAt: base.Add(-time.Hour), LastActivity: justDone},
		{AgentName: "fir", State: models.StateZombie, CompletedAt: &oldDone,
			CreatedAt: base.Add(-time.Hour), LastActivity: oldDone},
	}, nil)

	rendered := p.View()
	if strings.Contains(rendered, "ash") {
		t.Error("stale completed session should be hidden")
	}
	if !strings.Contains(rendered, "elm") {
		t.Error("fresh completed session should stay visible")
	}
	if !strings.Contains(rendered, "fir") {
		t.Error("zombies never auto-hide")
	}
}

func TestAgentsPanelSelection(t *testing.T) {
	p := NewAgentsPanel()
	p.SetSize(90, 20)
	p.SetFocused(true)
	p.SetSessions([]models.AgentSession{
		session("oak", models.CapCoordinator, models.StateWorking),
		session("birch", models.CapBuilder, models.StateWorking),
		session("cedar", models.CapScout, models.StateWorking),
	}, nil)

	// Up at the top is a no-op.
	p.Update(keyRune('k'))
	if got := p.SelectedSession().AgentName; got != "oak" {
		t.Fatalf("expected oak, got %s", got)
	}

	p.Update(keyRune('j'))
	p.Update(keyRune('j'))
	if got := p.SelectedSession().AgentName; got != "cedar" {
		t.Fatalf("expected cedar, got %s", got)
	}

	// Down at the bottom is a no-op.
	p.Update(keyRune('j'))
	if got := p.SelectedSession().AgentName; got != "cedar" {
		t.Errorf("expected cedar, got %s", got)
	}
}

func TestAgentsPanelUnfocusedIgnoresKeys(t *testing.T) {
	p := NewAgentsPanel()
	p.SetSize(90, 20)
	p.SetFocused(false)
	p.SetSessions([]models.AgentSession{
		session("oak", models.CapCoordinator, models.StateWorking),
		session("birch", models.CapBuilder, models.StateWorking),
	}, nil)

	p.Update(keyRune('j'))
	if got := p.SelectedSession().AgentName; got != "oak" {
		t.Errorf("unfocused panel moved selection to %s", got)
	}
}

func TestAgentsPanelScroll(t *testing.T) {
	p := NewAgentsPanel()
	// Room for three rows.
	p.SetSize(90, 8)
	p.SetFocused(true)

	var sessions []models.AgentSession
	for _, name := range []string{"a1", "a2", "a3", "a4", "a5", "a6"} {
		sessions = append(sessions, session(name, models.CapBuilder, models.StateWorking))
	}
	p.SetSessions(sessions, nil)

	for i := 0; i < 4; i++ {
		p.Update(keyRune('j'))
	}

	rendered := p.View()
	if !strings.Contains(rendered, "a5") {
		t.Error("selection should scroll into view")
	}
	if !strings.Contains(rendered, "of 6") {
		t.Error("scrolled panel should show its window")
	}
}

func TestAgentsPanelSelectionClamped(t *testing.T) {
	p := NewAgentsPanel()
	p.SetSize(90, 20)
	p.SetFocused(true)
	p.SetSessions([]models.AgentSession{
		session("oak", models.CapCoordinator, models.StateWorking),
		session("birch", models.CapBuilder, models.StateWorking),
	}, nil)

	p.Update(keyRune('j'))

	// The selected row disappeared from the next poll.
	p.SetSessions([]models.AgentSession{
		session("oak", models.CapCoordinator, models.StateWorking),
	}, nil)

	if got := p.SelectedSession().AgentName; got != "oak" {
		t.Errorf("selection should clamp to the remaining rows, got %s", got)
	}
}

func TestStateIcon(t *testing.T) {
	tests := []struct {
		state models.AgentState
		want  string
	}{
		{models.StateBooting, iconBooting},
		{models.StateWorking, iconWorking},
		{models.StateCompleted, iconCompleted},
		{models.StateStalled, iconStalled},
		{models.StateZombie, iconZombie},
	}
	for _, tt := range tests {
		if got := stateIcon(tt.state); got != tt.want {
			t.Errorf("stateIcon(%s) = %s, want %s", tt.state, got, tt.want)
		}
	}
}
