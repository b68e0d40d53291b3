package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/config"
	"github.com/overstoryai/overstory/pkg/models"
)

var agentsAll bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agent sessions",
	Long: `List recorded agent sessions with their state, depth, and activity.

By default only live sessions are shown; --all includes completed and
zombie sessions.`,
	RunE: runAgents,
}

var agentsKillCmd = &cobra.Command{
	Use:   "kill <name>",
	Short: "Kill an agent's pane and mark the session zombie",
	Long: `Close an agent's tmux pane, terminate its process tree, and mark the
session zombie. The session row, worktree, and branch are preserved so
the work can be inspected or re-queued.`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentsKill,
}

func init() {
	agentsCmd.Flags().BoolVarP(&agentsAll, "all", "a", false, "Include completed and zombie sessions")
	agentsCmd.AddCommand(agentsKillCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	st, err := openSessionStore(stateDir)
	if err != nil {
		return err
	}
	defer st.Close()

	var sessions []models.AgentSession
	if agentsAll {
		sessions, err = st.GetAll()
	} else {
		sessions, err = st.GetActive()
	}
	if err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(sessions)
	}

	if len(sessions) == 0 {
		fmt.Println("No agents. Run 'overstory spawn <name>' to start one.")
		return nil
	}

	now := time.Now()
	fmt.Printf("%-14s %-12s %-10s %-6s %-8s %-4s %-8s %s\n",
		"NAME", "CAP", "STATE", "DEPTH", "PID", "ESC", "AGE", "IDLE")
	for _, s := range sessions {
		pid := "-"
		if s.PID > 0 {
			pid = fmt.Sprintf("%d", s.PID)
		}
		esc := "-"
		if s.EscalationLevel > 0 {
			esc = fmt.Sprintf("%d", s.EscalationLevel)
		}
		fmt.Printf("%-14s %-12s %-10s %-6d %-8s %-4s %-8s %s\n",
			s.AgentName, s.Capability, s.State, s.Depth, pid, esc,
			formatDuration(now.Sub(s.CreatedAt)),
			formatDuration(now.Sub(s.LastActivity)))
	}
	return nil
}

func runAgentsKill(cmd *cobra.Command, args []string) error {
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

	sp, err := newSpawner(stateDir, cfg, st)
	if err != nil {
		return err
	}
	if err := sp.Kill(cmd.Context(), args[0]); err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(map[string]string{"killed": args[0]})
	}
	fmt.Printf("killed %s (session marked zombie; worktree and branch preserved)\n", args[0])
	return nil
}
