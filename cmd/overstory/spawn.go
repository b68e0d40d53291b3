package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/agent"
	"github.com/overstoryai/overstory/internal/config"
	"github.com/overstoryai/overstory/pkg/models"
)

var (
	spawnCap     string
	spawnParent  string
	spawnBead    string
	spawnRun     string
	spawnCommand string
)

var spawnCmd = &cobra.Command{
	Use:   "spawn <name>",
	Short: "Boot an agent in its own worktree and pane",
	Long: `Boot an agent: a git worktree is created for it, a session row is
recorded, and the worker command is launched in a detached tmux pane
with the agent's identity in the environment.

The capability controls what the agent may do and who may spawn it;
spawning above depth 0 requires --parent and is checked against the
capability policy table.

Examples:
  overstory spawn oak --cap coordinator
  overstory spawn birch --parent oak --bead task-042
  overstory spawn hazel --cap scout --parent oak --bead survey-api`,
	Args: cobra.ExactArgs(1),
	RunE: runSpawn,
}

func init() {
	spawnCmd.Flags().StringVar(&spawnCap, "cap", string(models.CapBuilder), "Capability to run as")
	spawnCmd.Flags().StringVar(&spawnParent, "parent", "", "Spawning agent (required above depth 0)")
	spawnCmd.Flags().StringVar(&spawnBead, "bead", "", "Task identifier the agent works on")
	spawnCmd.Flags().StringVar(&spawnRun, "run", "", "Run id grouping this agent")
	spawnCmd.Flags().StringVar(&spawnCommand, "command", "", "Worker command override for this agent")
}

func runSpawn(cmd *cobra.Command, args []string) error {
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

	sess, err := sp.Spawn(cmd.Context(), agent.Request{
		Name:       args[0],
		Capability: models.Capability(spawnCap),
		Parent:     spawnParent,
		BeadID:     spawnBead,
		RunID:      spawnRun,
		Command:    spawnCommand,
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(sess)
	}
	fmt.Printf("spawned %s (%s, depth %d)\n", sess.AgentName, sess.Capability, sess.Depth)
	fmt.Printf("  worktree: %s\n", sess.WorktreePath)
	fmt.Printf("  branch:   %s\n", sess.BranchName)
	fmt.Printf("  pane:     %s\n", sess.Pane)
	if sess.PID > 0 {
		fmt.Printf("  pid:      %d\n", sess.PID)
	}
	return nil
}
