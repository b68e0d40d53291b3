package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/overstoryai/overstory/pkg/models"
)

type fakeSessionSource struct {
	sessions []models.AgentSession
	run      *models.Run
	err      error
}

func (f *fakeSessionSource) GetAll() ([]models.AgentSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions, nil
}

func (f *fakeSessionSource) GetActiveRun() (*models.Run, error) {
	return f.run, nil
}

type fakeQueueSource struct {
	entries []models.MergeEntry
	counts  map[models.MergeStatus]int
}

func (f *fakeQueueSource) List(statuses ...models.MergeStatus) ([]models.MergeEntry, error) {
	want := make(map[models.MergeStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []models.MergeEntry
	for _, e := range f.entries {
		if len(statuses) == 0 || want[e.Status] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeQueueSource) Counts() (map[models.MergeStatus]int, error) {
	return f.counts, nil
}

type fakeMailSource struct {
	unread map[string]int
}

func (f *fakeMailSource) UnreadCounts() (map[string]int, error) {
	return f.unread, nil
}

type fakeEventSource struct {
	events []models.StoredEvent
}

func (f *fakeEventSource) Recent(limit int) ([]models.StoredEvent, error) {
	if len(f.events) > limit {
		return f.events[len(f.events)-limit:], nil
	}
	return f.events, nil
}

func session(name string, cap models.Capability, st models.AgentState) models.AgentSession {
	return models.AgentSession{
		AgentName:    name,
		Capability:   cap,
		State:        st,
		CreatedAt:    time.Now().Add(-5 * time.Minute),
		LastActivity: time.Now().Add(-10 * time.Second),
	}
}

func newTestDashboard() (*Dashboard, *fakeSessionSource, *fakeQueueSource) {
	sessions := &fakeSessionSource{
		sessions: []models.AgentSession{
			session("oak", models.CapCoordinator, models.StateWorking),
			session("birch", models.CapBuilder, models.StateWorking),
		},
		run: &models.Run{ID: "run-1", Status: models.RunActive, AgentCount: 2},
	}
	queue := &fakeQueueSource{
		entries: []models.MergeEntry{
			{ID: 1, BranchName: "overstory/birch/task-042", AgentName: "birch",
				Status: models.MergePending, EnqueuedAt: time.Now().Add(-30 * time.Second)},
		},
		counts: map[models.MergeStatus]int{models.MergePending: 1, models.MergeMerged: 3},
	}
	mail := &fakeMailSource{unread: map[string]int{"birch": 2}}
	events := &fakeEventSource{
		events: []models.StoredEvent{
			{AgentName: "birch", Kind: models.EventToolStart, ToolName: "Read",
				Level: models.LevelInfo, CreatedAt: time.Now()},
		},
	}

	d := New(sessions, queue, mail, events, Config{StateDir: "/repo/.overstory"})
	d.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return d, sessions, queue
}

// refresh runs one poll cycle synchronously.
func refresh(t *testing.T, d *Dashboard) {
	t.Helper()
	msg := d.collect()
	snap, ok := msg.(snapshotMsg)
	if !ok {
		t.Fatalf("collect returned %T, want snapshotMsg", msg)
	}
	d.Update(snap)
}

func TestDashboardView(t *testing.T) {
	d, _, _ := newTestDashboard()
	refresh(t, d)

	rendered := d.View()
	for _, want := range []string{
		"OVERSTORY",
		"/repo/.overstory",
		"run run-1",
		"Agents (2)",
		"oak",
		"birch",
		"Merge queue (1)",
		"overstory/birch/task-042",
		"3 merged",
		"updated",
		"q quit",
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDashboardViewBeforeSize(t *testing.T) {
	d := New(&fakeSessionSource{}, &fakeQueueSource{}, &fakeMailSource{}, &fakeEventSource{}, Config{})
	if got := d.View(); got != "" {
		t.Errorf("expected empty view before first WindowSizeMsg, got %q", got)
	}
}

func TestDashboardTabSwitch(t *testing.T) {
	d, _, _ := newTestDashboard()
	refresh(t, d)

	d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'2'}})
	if d.tabs.Active() != TabIndexActivity {
		t.Fatalf("expected activity tab, got %d", d.tabs.Active())
	}
	rendered := d.View()
	if !strings.Contains(rendered, "Activity") {
		t.Error("activity tab should render the feed")
	}
	if strings.Contains(rendered, "Merge queue") {
		t.Error("activity tab should not render the merge panel")
	}

	d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'1'}})
	if d.tabs.Active() != TabIndexAgents {
		t.Fatalf("expected agents tab, got %d", d.tabs.Active())
	}

	d.Update(tea.KeyMsg{Type: tea.KeyTab})
	if d.tabs.Active() != TabIndexActivity {
		t.Error("tab key should cycle forward")
	}
	d.Update(tea.KeyMsg{Type: tea.KeyTab})
	if d.tabs.Active() != TabIndexAgents {
		t.Error("tab key should wrap around")
	}
}

func TestDashboardQuit(t *testing.T) {
	d, _, _ := newTestDashboard()

	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := d.Update(key)
		if cmd == nil {
			t.Fatalf("key %s: expected quit command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("key %s: expected QuitMsg, got %T", key, cmd())
		}
	}
}

func TestDashboardManualRefresh(t *testing.T) {
	d, sessions, _ := newTestDashboard()
	refresh(t, d)

	sessions.sessions = append(sessions.sessions,
		session("cedar", models.CapScout, models.StateBooting))

	_, cmd := d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if cmd == nil {
		t.Fatal("expected a poll command from r")
	}
	d.Update(cmd())

	if !strings.Contains(d.View(), "cedar") {
		t.Error("manual refresh should pick up the new session")
	}
}

func TestDashboardPollCycle(t *testing.T) {
	d, _, _ := newTestDashboard()

	// A snapshot schedules the next tick; a tick triggers the next poll.
	msg := d.collect()
	_, cmd := d.Update(msg)
	if cmd == nil {
		t.Fatal("snapshot should schedule a tick")
	}

	_, cmd = d.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("tick should trigger a poll")
	}
	if _, ok := cmd().(snapshotMsg); !ok {
		t.Errorf("poll should produce a snapshot, got %T", cmd())
	}
}

func TestDashboardPollFailureKeepsData(t *testing.T) {
	d, sessions, _ := newTestDashboard()
	refresh(t, d)

	sessions.err = errors.New("database is locked")
	msg := d.collect()
	snap, ok := msg.(snapshotMsg)
	if !ok || snap.err == nil {
		t.Fatalf("expected failed snapshot, got %#v", msg)
	}
	d.Update(snap)

	rendered := d.View()
	if !strings.Contains(rendered, "birch") {
		t.Error("failed poll should keep stale session rows")
	}
	if !strings.Contains(rendered, "refresh failed") {
		t.Error("failed poll should surface in the footer")
	}

	// The next good poll clears the error.
	sessions.err = nil
	refresh(t, d)
	if strings.Contains(d.View(), "refresh failed") {
		t.Error("recovered poll should clear the footer error")
	}
}

func TestDashboardFocusSwitch(t *testing.T) {
	d, _, _ := newTestDashboard()
	refresh(t, d)

	if !strings.Contains(d.View(), "[Agents (2)]") {
		t.Error("agents panel should start focused")
	}

	d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'l'}})
	rendered := d.View()
	if !strings.Contains(rendered, "[Merge queue (1)]") {
		t.Error("l should focus the merge panel")
	}
	if strings.Contains(rendered, "[Agents (2)]") {
		t.Error("agents panel should lose focus")
	}

	d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'h'}})
	if !strings.Contains(d.View(), "[Agents (2)]") {
		t.Error("h should focus the agents panel again")
	}
}

func TestDashboardSelectionKeys(t *testing.T) {
	d, _, _ := newTestDashboard()
	refresh(t, d)

	if got := d.agents.SelectedSession().AgentName; got != "oak" {
		t.Fatalf("expected oak selected first, got %s", got)
	}
	d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	if got := d.agents.SelectedSession().AgentName; got != "birch" {
		t.Errorf("expected birch selected after j, got %s", got)
	}
	d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})
	if got := d.agents.SelectedSession().AgentName; got != "oak" {
		t.Errorf("expected oak selected after k, got %s", got)
	}
}

func TestSessionCounts(t *testing.T) {
	sessions := []models.AgentSession{
		session("a", models.CapCoordinator, models.StateWorking),
		session("b", models.CapBuilder, models.StateBooting),
		session("c", models.CapBuilder, models.StateStalled),
		session("d", models.CapBuilder, models.StateZombie),
		session("e", models.CapBuilder, models.StateCompleted),
	}
	counts := map[models.MergeStatus]int{
		models.MergePending: 2,
		models.MergeMerging: 1,
		models.MergeMerged:  7,
	}

	got := sessionCounts(sessions, counts)
	want := SessionCounts{Working: 2, Stalled: 1, Zombie: 1, Queued: 3}
	if got != want {
		t.Errorf("sessionCounts = %+v, want %+v", got, want)
	}
}
