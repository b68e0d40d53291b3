package tui

// PanelDimensions holds calculated dimensions for the panels of a tab.
type PanelDimensions struct {
	// AgentsWidth is the width of the agents panel (left).
	AgentsWidth int
	// MergeWidth is the width of the merge queue panel (right).
	MergeWidth int
	// FeedWidth is the width of the activity feed panel.
	FeedWidth int
	// ContentHeight is the height available for panel content.
	ContentHeight int
}

// LayoutManager calculates panel dimensions based on terminal size.
type LayoutManager struct {
	totalWidth  int
	totalHeight int
	// headerHeight is the height reserved for the header.
	headerHeight int
	// footerHeight is the height reserved for the footer.
	footerHeight int
}

// NewLayoutManager creates a new LayoutManager with the given terminal
// dimensions.
func NewLayoutManager(width, height int) *LayoutManager {
	return &LayoutManager{
		totalWidth:   width,
		totalHeight:  height,
		headerHeight: headerHeight,
		footerHeight: 1,
	}
}

// SetSize updates the terminal dimensions.
func (l *LayoutManager) SetSize(width, height int) {
	l.totalWidth = width
	l.totalHeight = height
}

// CalculateAgentsTab returns dimensions for the agents tab.
// Layout ratios: Agents 60%, Merge 40%.
func (l *LayoutManager) CalculateAgentsTab(tabBarHeight int) PanelDimensions {
	const (
		minAgentsWidth = 40
		minMergeWidth  = 24
	)

	agentsWidth := l.totalWidth * 60 / 100
	if agentsWidth < minAgentsWidth {
		agentsWidth = minAgentsWidth
	}
	mergeWidth := l.totalWidth - agentsWidth
	if mergeWidth < minMergeWidth {
		mergeWidth = minMergeWidth
	}

	// If the minimums exceed the terminal, scale down proportionally.
	total := agentsWidth + mergeWidth
	if total > l.totalWidth {
		scale := float64(l.totalWidth) / float64(total)
		agentsWidth = int(float64(agentsWidth) * scale)
		mergeWidth = l.totalWidth - agentsWidth
	}

	return PanelDimensions{
		AgentsWidth:   agentsWidth,
		MergeWidth:    mergeWidth,
		ContentHeight: l.contentHeight(tabBarHeight),
	}
}

// CalculateActivityTab returns dimensions for the full-screen activity
// feed.
func (l *LayoutManager) CalculateActivityTab(tabBarHeight int) PanelDimensions {
	return PanelDimensions{
		FeedWidth:     l.totalWidth,
		ContentHeight: l.contentHeight(tabBarHeight),
	}
}

// contentHeight returns the height left over after header, footer, and
// tab bar.
func (l *LayoutManager) contentHeight(tabBarHeight int) int {
	h := l.totalHeight - l.headerHeight - l.footerHeight - tabBarHeight
	if h < 1 {
		h = 1
	}
	return h
}

// TotalWidth returns the current terminal width.
func (l *LayoutManager) TotalWidth() int {
	return l.totalWidth
}

// TotalHeight returns the current terminal height.
func (l *LayoutManager) TotalHeight() int {
	return l.totalHeight
}
