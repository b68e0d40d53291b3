package main

import (
	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/config"
	"github.com/overstoryai/overstory/internal/events"
	"github.com/overstoryai/overstory/internal/mail"
	"github.com/overstoryai/overstory/internal/mergeq"
	"github.com/overstoryai/overstory/internal/tui"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"dash"},
	Short:   "Live terminal dashboard",
	Long: `Full-screen view of agents, the merge queue, unread mail, and the
event feed, refreshed on a timer. Tab switches panes, q quits.`,
	RunE: runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, err := openSessionStore(stateDir)
	if err != nil {
		return err
	}
	defer st.Close()
	q, err := mergeq.Open(stateDir)
	if err != nil {
		return err
	}
	defer q.Close()
	ms, err := mail.Open(stateDir)
	if err != nil {
		return err
	}
	defer ms.Close()
	es, err := events.Open(stateDir)
	if err != nil {
		return err
	}
	defer es.Close()

	d := tui.New(st, q, ms, es, tui.Config{
		RefreshRate: cfg.TUI.RefreshRate,
		StateDir:    stateDir,
	})
	_, err = tui.NewProgram(d).Run()
	return err
}
