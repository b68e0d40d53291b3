package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/config"
	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/logging"
)

var (
	jsonOut   bool
	debugMode bool

	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "overstory",
	Short: "Multi-agent orchestration over git worktrees and tmux",
	Long: `Overstory coordinates parallel coding agents. Each agent runs in its
own git worktree inside a tmux pane, communicates through a durable
mailbox, and has its branch reintegrated through a tiered merge queue.

Core capabilities:
- Spawns isolated agents in git worktrees under capability policies
- Routes messages through a durable SQLite mailbox
- Merges agent branches via a four-tier conflict pipeline
- Watches agent health and escalates stalls
- Records tool events and distills them into insight reports`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupDebugLogging()
	},
}

// Execute runs the root command and renders any failure by kind.
func Execute() {
	err := rootCmd.Execute()
	if logCleanup != nil {
		logCleanup()
	}
	if err != nil {
		renderError(err)
		os.Exit(1)
	}
}

// renderError writes err to the user. Kinded errors show their taxonomy
// class; --json serializes kind, message, and context to stdout.
func renderError(err error) {
	if jsonOut {
		body := map[string]any{"message": err.Error()}
		if e, ok := errs.AsError(err); ok {
			body["kind"] = string(e.Kind)
			if len(e.Context) > 0 {
				body["context"] = e.Context
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"error": body})
		return
	}

	if kind := errs.KindOf(err); kind != "" {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", color.RedString("error:"), kind, err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("error:"), err)
}

// setupDebugLogging turns on the structured file log when asked for.
// Failures are non-fatal; the CLI works without a log file.
func setupDebugLogging() {
	if !debugMode && os.Getenv("OVERSTORY_DEBUG") == "" {
		return
	}
	cleanup, err := logging.Init(filepath.Join(config.FindStateDir(), "logs", "overstory.log"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s debug log unavailable: %v\n", color.YellowString("warning:"), err)
		return
	}
	logCleanup = cleanup
	logging.SetEnabled(true)
}

// CheckTmux verifies that tmux is available in PATH.
func CheckTmux() error {
	if _, err := exec.LookPath("tmux"); err != nil {
		return errs.Config("tmux not found in PATH\n\n" +
			"Overstory hosts each agent in a tmux pane.\n\n" +
			"Install it with:\n" +
			"  - macOS: brew install tmux\n" +
			"  - Ubuntu/Debian: sudo apt-get install tmux")
	}
	return nil
}

// CheckWorkerCommand verifies that the configured AI worker command is
// available in PATH.
func CheckWorkerCommand(command string) error {
	if _, err := exec.LookPath(command); err != nil {
		return errs.Config("worker command %q not found in PATH\n\n"+
			"Overstory launches this command inside each agent pane.\n"+
			"Install it, or point ai.command at a different binary:\n"+
			"  overstory config ai.command <command>", command)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Emit structured JSON instead of text")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Write a debug log under .overstory/logs")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(mailCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(watchdogCmd)
	rootCmd.AddCommand(insightCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
