package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/manifest"
	"github.com/overstoryai/overstory/pkg/models"
)

var (
	checkpointBead    string
	checkpointSummary string
	checkpointBranch  string
	checkpointPending string
	checkpointFiles   []string
	checkpointRecord  bool
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Save and load agent checkpoints",
	Long: `Crash-recovery checkpoints under .overstory/agents/<name>/.

A checkpoint captures where an agent's work stands: progress summary,
files touched, branch, and what remains. A respawned agent with the
same task resumes from it.`,
}

var checkpointSaveCmd = &cobra.Command{
	Use:   "save <agent>",
	Short: "Write an agent's checkpoint",
	Long: `Write an agent's checkpoint, updating the existing one when the task
matches and starting fresh when it does not.

With --record the checkpoint additionally lands in the agent's identity
as a completed task.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckpointSave,
}

var checkpointLoadCmd = &cobra.Command{
	Use:   "load <agent>",
	Short: "Show an agent's checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointLoad,
}

func init() {
	checkpointSaveCmd.Flags().StringVar(&checkpointBead, "bead", "", "Task identifier")
	checkpointSaveCmd.Flags().StringVar(&checkpointSummary, "summary", "", "Progress summary")
	checkpointSaveCmd.Flags().StringVar(&checkpointBranch, "branch", "", "Current branch")
	checkpointSaveCmd.Flags().StringVar(&checkpointPending, "pending", "", "Remaining work")
	checkpointSaveCmd.Flags().StringSliceVar(&checkpointFiles, "files", nil, "Files modified so far")
	checkpointSaveCmd.Flags().BoolVar(&checkpointRecord, "record", false, "Also record the task in the agent's identity")

	checkpointCmd.AddCommand(checkpointSaveCmd)
	checkpointCmd.AddCommand(checkpointLoadCmd)
}

func runCheckpointSave(cmd *cobra.Command, args []string) error {
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	agentName := args[0]

	cp, err := manifest.LoadCheckpoint(stateDir, agentName)
	if err != nil || (checkpointBead != "" && cp.BeadID != checkpointBead) {
		cp = manifest.NewCheckpoint(agentName, checkpointBead)
	}
	if checkpointSummary != "" {
		cp.ProgressSummary = checkpointSummary
	}
	if checkpointBranch != "" {
		cp.CurrentBranch = checkpointBranch
	}
	if checkpointPending != "" {
		cp.PendingWork = checkpointPending
	}
	if len(checkpointFiles) > 0 {
		cp.FilesModified = checkpointFiles
	}

	if checkpointRecord {
		cap := sessionCapability(stateDir, agentName)
		if err := manifest.RecordTask(stateDir, cp, cap, time.Now()); err != nil {
			return err
		}
		if jsonOut {
			return emitJSON(cp)
		}
		fmt.Printf("checkpoint saved and task recorded for %s\n", agentName)
		return nil
	}

	if err := cp.Save(stateDir); err != nil {
		return err
	}
	if jsonOut {
		return emitJSON(cp)
	}
	fmt.Printf("checkpoint saved for %s\n", agentName)
	return nil
}

func runCheckpointLoad(cmd *cobra.Command, args []string) error {
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	cp, err := manifest.LoadCheckpoint(stateDir, args[0])
	if err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(cp)
	}
	fmt.Printf("agent:    %s\n", cp.AgentName)
	fmt.Printf("bead:     %s\n", cp.BeadID)
	fmt.Printf("session:  %s\n", cp.SessionID)
	if cp.CurrentBranch != "" {
		fmt.Printf("branch:   %s\n", cp.CurrentBranch)
	}
	if cp.ProgressSummary != "" {
		fmt.Printf("progress: %s\n", cp.ProgressSummary)
	}
	if len(cp.FilesModified) > 0 {
		fmt.Printf("files:    %s\n", strings.Join(cp.FilesModified, ", "))
	}
	if cp.PendingWork != "" {
		fmt.Printf("pending:  %s\n", cp.PendingWork)
	}
	return nil
}

// sessionCapability looks up the agent's recorded capability. When the
// session row is gone the identity file's own capability wins anyway,
// so the fallback only seeds brand-new identities.
func sessionCapability(stateDir, agentName string) models.Capability {
	st, err := openSessionStore(stateDir)
	if err != nil {
		return models.CapBuilder
	}
	defer st.Close()
	sess, err := st.GetByName(agentName)
	if err != nil || sess == nil {
		return models.CapBuilder
	}
	return sess.Capability
}
