package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/events"
	"github.com/overstoryai/overstory/internal/insight"
)

var insightLimit int

var insightCmd = &cobra.Command{
	Use:   "insight <agent>",
	Short: "Distill an agent's events into a work summary",
	Long: `Analyze an agent's recorded events: workflow shape, the tools it
leaned on, the files it kept coming back to, errors, and the domains
it touched.`,
	Args: cobra.ExactArgs(1),
	RunE: runInsight,
}

func init() {
	insightCmd.Flags().IntVar(&insightLimit, "limit", 500, "Events to analyze, most recent first")
}

func runInsight(cmd *cobra.Command, args []string) error {
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	es, err := events.Open(stateDir)
	if err != nil {
		return err
	}
	defer es.Close()

	evs, err := es.ByAgent(args[0], insightLimit)
	if err != nil {
		return err
	}
	stats, err := es.ToolStats(args[0])
	if err != nil {
		return err
	}

	analysis := insight.Analyze(evs, stats)

	if jsonOut {
		return emitJSON(analysis)
	}

	if analysis.ToolCalls == 0 && len(analysis.Insights) == 0 {
		fmt.Printf("nothing recorded for %s yet\n", args[0])
		return nil
	}

	fmt.Printf("%s: %d tool call(s) analyzed\n", args[0], analysis.ToolCalls)
	for _, in := range analysis.Insights {
		line := "  " + in.Message
		if len(in.Tools) > 0 {
			line += " (" + strings.Join(in.Tools, ", ") + ")"
		}
		fmt.Println(line)
	}

	if len(analysis.ToolProfile) > 0 {
		fmt.Println("\ntools:")
		for _, t := range analysis.ToolProfile {
			if t.AvgDurationMS > 0 {
				fmt.Printf("  %-18s %4d call(s)  avg %.0fms\n", t.ToolName, t.Count, t.AvgDurationMS)
			} else {
				fmt.Printf("  %-18s %4d call(s)\n", t.ToolName, t.Count)
			}
		}
	}

	if len(analysis.FileProfile) > 0 {
		fmt.Println("\nhot files:")
		for _, f := range analysis.FileProfile {
			fmt.Printf("  %s (%d edits)\n", f.Path, f.Edits)
		}
	}

	return nil
}
