package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/events"
	"github.com/overstoryai/overstory/pkg/models"
)

var (
	eventsTailAgent string
	eventsTailLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the event store",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent events",
	Long: `Show recent events, oldest first. Without --agent the feed spans all
agents.`,
	RunE: runEventsTail,
}

var eventsStatsCmd = &cobra.Command{
	Use:   "stats <agent>",
	Short: "Per-tool aggregates for one agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventsStats,
}

func init() {
	eventsTailCmd.Flags().StringVar(&eventsTailAgent, "agent", "", "Restrict to one agent")
	eventsTailCmd.Flags().IntVar(&eventsTailLimit, "limit", 50, "Maximum events to show")

	eventsCmd.AddCommand(eventsTailCmd)
	eventsCmd.AddCommand(eventsStatsCmd)
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	if eventsTailLimit <= 0 {
		return errs.Validation("--limit must be positive")
	}

	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	es, err := events.Open(stateDir)
	if err != nil {
		return err
	}
	defer es.Close()

	var evs []models.StoredEvent
	if eventsTailAgent != "" {
		evs, err = es.ByAgent(eventsTailAgent, eventsTailLimit)
	} else {
		evs, err = es.Recent(eventsTailLimit)
	}
	if err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(evs)
	}
	if len(evs) == 0 {
		fmt.Println("no events")
		return nil
	}
	for _, ev := range evs {
		fmt.Println(formatEvent(ev))
	}
	return nil
}

func runEventsStats(cmd *cobra.Command, args []string) error {
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	es, err := events.Open(stateDir)
	if err != nil {
		return err
	}
	defer es.Close()

	stats, err := es.ToolStats(args[0])
	if err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(stats)
	}
	if len(stats) == 0 {
		fmt.Printf("no tool events for %s\n", args[0])
		return nil
	}
	fmt.Printf("%-18s %-7s %-10s %s\n", "TOOL", "CALLS", "AVG(ms)", "MAX(ms)")
	for _, s := range stats {
		fmt.Printf("%-18s %-7d %-10.0f %d\n", s.ToolName, s.Count, s.AvgDurationMS, s.MaxDurationMS)
	}
	return nil
}

// formatEvent renders one event line: clock, agent, kind, and the tool
// or payload detail.
func formatEvent(ev models.StoredEvent) string {
	detail := ev.ToolName
	if ev.ToolDurationMS != nil {
		detail += fmt.Sprintf(" (%dms)", *ev.ToolDurationMS)
	}
	if detail == "" && ev.Payload != "" {
		detail = ev.Payload
	}

	line := fmt.Sprintf("%s %-12s %s",
		ev.CreatedAt.Local().Format("15:04:05"), ev.AgentName, ev.Kind)
	if detail != "" {
		line += " " + detail
	}
	return line
}
