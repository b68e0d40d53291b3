package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/overstoryai/overstory/pkg/models"
)

// SessionSource is the slice of the session store the dashboard reads.
type SessionSource interface {
	GetAll() ([]models.AgentSession, error)
	GetActiveRun() (*models.Run, error)
}

// QueueSource is the slice of the merge queue the dashboard reads.
type QueueSource interface {
	List(statuses ...models.MergeStatus) ([]models.MergeEntry, error)
	Counts() (map[models.MergeStatus]int, error)
}

// MailSource is the slice of the mailbox the dashboard reads.
type MailSource interface {
	UnreadCounts() (map[string]int, error)
}

// EventSource is the slice of the event store the dashboard reads.
type EventSource interface {
	Recent(limit int) ([]models.StoredEvent, error)
}

// Config holds dashboard settings.
type Config struct {
	// RefreshRate is the poll interval. Defaults to one second.
	RefreshRate time.Duration
	// StateDir is shown in the title bar.
	StateDir string
	// EventLimit caps the activity feed. Defaults to 200.
	EventLimit int
}

// Snapshot is one consistent-enough read of all four stores.
type Snapshot struct {
	Run      *models.Run
	Sessions []models.AgentSession
	Queue    []models.MergeEntry
	Counts   map[models.MergeStatus]int
	Unread   map[string]int
	Events   []models.StoredEvent
	Taken    time.Time
}

// tickMsg fires when the next poll is due.
type tickMsg time.Time

// snapshotMsg carries a completed poll, or its failure.
type snapshotMsg struct {
	snap Snapshot
	err  error
}

// Focus targets on the agents tab.
const (
	focusAgents = iota
	focusMerge
)

// tabBarHeight is the rendered height of the tab bar, including its
// bottom border.
const tabBarHeight = 2

// Dashboard is the root bubbletea model.
type Dashboard struct {
	sessions SessionSource
	queue    QueueSource
	mail     MailSource
	events   EventSource
	cfg      Config

	header *Header
	tabs   TabBar
	agents *AgentsPanel
	merge  *MergePanel
	feed   *EventsPanel
	footer *Footer
	layout *LayoutManager

	focus  int
	width  int
	height int
}

// New creates a dashboard over the given stores.
func New(sessions SessionSource, queue QueueSource, mail MailSource, events EventSource, cfg Config) *Dashboard {
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = time.Second
	}
	if cfg.EventLimit <= 0 {
		cfg.EventLimit = 200
	}

	d := &Dashboard{
		sessions: sessions,
		queue:    queue,
		mail:     mail,
		events:   events,
		cfg:      cfg,

		header: NewHeader(cfg.StateDir),
		tabs:   NewTabBar(),
		agents: NewAgentsPanel(),
		merge:  NewMergePanel(),
		feed:   NewEventsPanel(),
		footer: NewFooter(),
		layout: NewLayoutManager(80, 24),
	}
	d.syncFocus()
	return d
}

// NewProgram wraps the dashboard in a full-screen bubbletea program.
func NewProgram(d *Dashboard) *tea.Program {
	return tea.NewProgram(d, tea.WithAltScreen())
}

// Init polls immediately so the first frame has data.
func (d *Dashboard) Init() tea.Cmd {
	return d.collect
}

// Update handles messages.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.resize()
		return d, nil

	case tickMsg:
		return d, d.collect

	case snapshotMsg:
		d.apply(msg)
		return d, d.tick()

	case tea.KeyMsg:
		return d.handleKey(msg)
	}

	return d, nil
}

// handleKey routes keyboard input.
func (d *Dashboard) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return d, tea.Quit

	case "r":
		return d, d.collect

	case "1", "2", "tab", "shift+tab":
		d.tabs, _ = d.tabs.Update(msg)
		d.footer.SetActiveTab(d.tabs.Active())
		d.syncFocus()
		return d, nil

	case "h", "left":
		if d.tabs.Active() == TabIndexAgents {
			d.focus = focusAgents
			d.syncFocus()
			return d, nil
		}

	case "l", "right":
		if d.tabs.Active() == TabIndexAgents {
			d.focus = focusMerge
			d.syncFocus()
			return d, nil
		}
	}

	// Remaining keys go to the panel that has focus.
	switch d.tabs.Active() {
	case TabIndexActivity:
		d.feed, _ = d.feed.Update(msg)
	default:
		if d.focus == focusMerge {
			d.merge, _ = d.merge.Update(msg)
		} else {
			d.agents, _ = d.agents.Update(msg)
		}
	}
	return d, nil
}

// View renders the dashboard.
func (d *Dashboard) View() string {
	if d.width == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(d.header.View())
	b.WriteString(d.tabs.View())
	b.WriteString("\n")

	switch d.tabs.Active() {
	case TabIndexActivity:
		b.WriteString(d.feed.View())
	default:
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, d.agents.View(), d.merge.View()))
	}

	b.WriteString("\n")
	b.WriteString(d.footer.View())
	return b.String()
}

// collect reads all four stores. It runs as a command so a slow store
// never blocks input handling.
func (d *Dashboard) collect() tea.Msg {
	snap := Snapshot{Taken: time.Now()}

	var err error
	if snap.Sessions, err = d.sessions.GetAll(); err != nil {
		return snapshotMsg{err: err}
	}
	if snap.Run, err = d.sessions.GetActiveRun(); err != nil {
		return snapshotMsg{err: err}
	}
	if snap.Queue, err = d.queue.List(models.MergePending, models.MergeMerging,
		models.MergeConflict, models.MergeFailed); err != nil {
		return snapshotMsg{err: err}
	}
	if snap.Counts, err = d.queue.Counts(); err != nil {
		return snapshotMsg{err: err}
	}
	if snap.Unread, err = d.mail.UnreadCounts(); err != nil {
		return snapshotMsg{err: err}
	}
	if snap.Events, err = d.events.Recent(d.cfg.EventLimit); err != nil {
		return snapshotMsg{err: err}
	}

	return snapshotMsg{snap: snap}
}

// apply distributes a poll result to the panels. A failed poll keeps
// the previous data and only surfaces in the footer.
func (d *Dashboard) apply(msg snapshotMsg) {
	if msg.err != nil {
		d.footer.SetError(msg.err)
		return
	}

	snap := msg.snap
	d.header.SetRun(snap.Run)
	d.agents.SetSessions(snap.Sessions, snap.Unread)
	d.merge.SetQueue(snap.Queue, snap.Counts)
	d.feed.SetEvents(snap.Events)
	d.footer.SetRefreshed(snap.Taken)
	d.footer.SetCounts(sessionCounts(snap.Sessions, snap.Counts))
}

// tick schedules the next poll.
func (d *Dashboard) tick() tea.Cmd {
	return tea.Tick(d.cfg.RefreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// resize recalculates every panel's dimensions.
func (d *Dashboard) resize() {
	d.layout.SetSize(d.width, d.height)
	d.header.SetWidth(d.width)
	d.footer.SetWidth(d.width)

	main := d.layout.CalculateAgentsTab(tabBarHeight)
	d.agents.SetSize(main.AgentsWidth, main.ContentHeight)
	d.merge.SetSize(main.MergeWidth, main.ContentHeight)

	feed := d.layout.CalculateActivityTab(tabBarHeight)
	d.feed.SetSize(feed.FeedWidth, feed.ContentHeight)
}

// syncFocus pushes the focus state down to the panels.
func (d *Dashboard) syncFocus() {
	onAgentsTab := d.tabs.Active() == TabIndexAgents
	d.agents.SetFocused(onAgentsTab && d.focus == focusAgents)
	d.merge.SetFocused(onAgentsTab && d.focus == focusMerge)
}

// sessionCounts folds sessions and queue counts into the footer totals.
func sessionCounts(sessions []models.AgentSession, counts map[models.MergeStatus]int) SessionCounts {
	var c SessionCounts
	for _, s := range sessions {
		switch {
		case s.State == models.StateStalled:
			c.Stalled++
		case s.State == models.StateZombie:
			c.Zombie++
		case s.State.Active():
			c.Working++
		}
	}
	c.Queued = counts[models.MergePending] + counts[models.MergeMerging]
	return c
}
