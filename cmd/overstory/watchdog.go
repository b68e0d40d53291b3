package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/ai"
	"github.com/overstoryai/overstory/internal/config"
	"github.com/overstoryai/overstory/internal/events"
	"github.com/overstoryai/overstory/internal/logging"
	"github.com/overstoryai/overstory/internal/mux"
	"github.com/overstoryai/overstory/internal/state"
	"github.com/overstoryai/overstory/internal/watchdog"
)

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Supervise agent liveness",
	Long: `Watch active agents and walk stalled ones up the escalation ladder:
nudge the pane, nudge again, triage, then terminate. Terminated agents
keep their worktree and branch so work is recoverable.

'run' holds a singleton lock under .overstory/ so at most one watchdog
supervises a project.`,
}

var watchdogRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the watchdog daemon until interrupted",
	RunE:  runWatchdogDaemon,
}

var watchdogOnceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single reconciliation pass",
	RunE:  runWatchdogOnce,
}

func init() {
	watchdogCmd.AddCommand(watchdogRunCmd)
	watchdogCmd.AddCommand(watchdogOnceCmd)
}

func runWatchdogOnce(cmd *cobra.Command, args []string) error {
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	w, _, cleanup, err := newWatchdog(stateDir, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	w.Tick(cmd.Context())
	if jsonOut {
		return emitJSON(map[string]any{"completed": true})
	}
	fmt.Println("watchdog pass complete")
	return nil
}

func runWatchdogDaemon(cmd *cobra.Command, args []string) error {
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// The daemon always logs, independent of --debug.
	logClose, logErr := logging.Init(filepath.Join(stateDir, "logs", "daemon.log"))
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "%s daemon log unavailable: %v\n", color.YellowString("warning:"), logErr)
	} else {
		defer logClose()
		logging.SetEnabled(true)
	}

	w, st, cleanup, err := newWatchdog(stateDir, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	aw, err := watchdog.NewActivityWatcher(st, filepath.Join(stateDir, "logs"), 0)
	if err != nil {
		return err
	}
	if err := aw.Start(); err != nil {
		return err
	}
	defer aw.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poll := cfg.Watchdog.PollInterval
	if poll <= 0 {
		poll = watchdog.DefaultPollInterval
	}
	fmt.Printf("watchdog running (poll every %s); Ctrl-C to stop\n", formatDuration(poll))
	return w.Run(ctx)
}

// newWatchdog wires the watchdog against the session store, mailbox,
// and event sink. The returned store backs the activity watcher.
func newWatchdog(stateDir string, cfg *config.Config) (*watchdog.Watchdog, *state.Store, func(), error) {
	st, err := openSessionStore(stateDir)
	if err != nil {
		return nil, nil, nil, err
	}
	client, _, mailCleanup, err := openMailClient(stateDir)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	es, err := events.Open(stateDir)
	if err != nil {
		mailCleanup()
		st.Close()
		return nil, nil, nil, err
	}
	sink := events.NewSink(es, 64)

	wcfg := watchdog.Config{
		StateDir:     stateDir,
		PollInterval: cfg.Watchdog.PollInterval,
		Thresholds: watchdog.Thresholds{
			Stall:    cfg.Watchdog.StallThreshold,
			HardKill: cfg.Watchdog.HardKillThreshold,
		},
		Grace:         cfg.Watchdog.GracePeriod,
		TriageEnabled: cfg.Watchdog.TriageEnabled,
		Sink:          sink,
		Notifier:      client,
	}
	if cfg.Watchdog.TriageEnabled {
		invoker, aiErr := ai.New(cfg.AIOptions())
		if aiErr != nil {
			printStatus("⚠", "AI triage unavailable: "+aiErr.Error(), color.FgYellow)
			wcfg.TriageEnabled = false
		} else {
			wcfg.Invoker = invoker
		}
	}

	cleanup := func() {
		sink.Close()
		es.Close()
		mailCleanup()
		st.Close()
	}
	return watchdog.New(st, mux.NewTmuxDriver(), wcfg), st, cleanup, nil
}
