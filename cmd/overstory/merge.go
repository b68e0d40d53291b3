package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/ai"
	"github.com/overstoryai/overstory/internal/config"
	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/events"
	"github.com/overstoryai/overstory/internal/git"
	"github.com/overstoryai/overstory/internal/mergeq"
	"github.com/overstoryai/overstory/internal/resolver"
	"github.com/overstoryai/overstory/pkg/models"
)

var (
	mergeEnqueueBranch string
	mergeEnqueueAgent  string
	mergeEnqueueBead   string
	mergeEnqueueFiles  []string

	mergeListAll bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Work the merge queue",
	Long: `FIFO queue of agent branches waiting to land on the canonical branch.

Entries are resolved through four tiers: clean merge, automatic
conflict resolution, AI per-file resolution, and whole-file reimagine.
Entries that survive all tiers finalize as conflicts for a human.`,
}

var mergeEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a branch for integration",
	RunE:  runMergeEnqueue,
}

var mergeListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show queue entries and counts",
	RunE:  runMergeList,
}

var mergeNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Resolve the queue head",
	RunE:  runMergeNext,
}

var mergeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Drain the queue",
	RunE:  runMergeRun,
}

func init() {
	mergeEnqueueCmd.Flags().StringVar(&mergeEnqueueBranch, "branch", "", "Branch to integrate")
	mergeEnqueueCmd.Flags().StringVar(&mergeEnqueueAgent, "agent", "", "Agent that produced the branch")
	mergeEnqueueCmd.Flags().StringVar(&mergeEnqueueBead, "bead", "", "Task the branch implements")
	mergeEnqueueCmd.Flags().StringSliceVar(&mergeEnqueueFiles, "files", nil, "Paths the branch modified")

	mergeListCmd.Flags().BoolVarP(&mergeListAll, "all", "a", false, "Include merged entries")

	mergeCmd.AddCommand(mergeEnqueueCmd)
	mergeCmd.AddCommand(mergeListCmd)
	mergeCmd.AddCommand(mergeNextCmd)
	mergeCmd.AddCommand(mergeRunCmd)
}

func runMergeEnqueue(cmd *cobra.Command, args []string) error {
	if mergeEnqueueBranch == "" || mergeEnqueueAgent == "" {
		return errs.Validation("--branch and --agent are required")
	}

	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	q, err := mergeq.Open(stateDir)
	if err != nil {
		return err
	}
	defer q.Close()

	entry := &models.MergeEntry{
		BranchName: mergeEnqueueBranch,
		AgentName:  mergeEnqueueAgent,
		BeadID:     mergeEnqueueBead,
		Files:      mergeEnqueueFiles,
	}
	if err := q.Enqueue(entry); err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(entry)
	}
	pos, err := q.Position(entry.ID)
	if err != nil {
		pos = -1
	}
	if pos > 0 {
		fmt.Printf("queued %s at position %d\n", entry.BranchName, pos)
	} else {
		fmt.Printf("queued %s\n", entry.BranchName)
	}
	return nil
}

func runMergeList(cmd *cobra.Command, args []string) error {
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	q, err := mergeq.Open(stateDir)
	if err != nil {
		return err
	}
	defer q.Close()

	statuses := []models.MergeStatus{
		models.MergePending, models.MergeMerging,
		models.MergeConflict, models.MergeFailed,
	}
	if mergeListAll {
		statuses = nil
	}
	entries, err := q.List(statuses...)
	if err != nil {
		return err
	}
	counts, err := q.Counts()
	if err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(map[string]any{"entries": entries, "counts": counts})
	}

	fmt.Printf("%d pending, %d merging, %d merged, %d conflict, %d failed\n",
		counts[models.MergePending], counts[models.MergeMerging],
		counts[models.MergeMerged], counts[models.MergeConflict],
		counts[models.MergeFailed])
	if len(entries) == 0 {
		return nil
	}

	now := time.Now()
	fmt.Printf("\n%-5s %-9s %-34s %-14s %s\n", "ID", "STATUS", "BRANCH", "AGENT", "WAIT")
	for _, e := range entries {
		fmt.Printf("%-5d %-9s %-34s %-14s %s\n",
			e.ID, e.Status, e.BranchName, e.AgentName,
			formatDuration(now.Sub(e.EnqueuedAt)))
	}
	return nil
}

func runMergeNext(cmd *cobra.Command, args []string) error {
	return workQueue(cmd, false)
}

func runMergeRun(cmd *cobra.Command, args []string) error {
	return workQueue(cmd, true)
}

// workQueue resolves one entry or drains the queue.
func workQueue(cmd *cobra.Command, drain bool) error {
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	q, err := mergeq.Open(stateDir)
	if err != nil {
		return err
	}
	defer q.Close()

	runner, cleanup, err := newMergeRunner(stateDir, cfg, q)
	if err != nil {
		return err
	}
	defer cleanup()

	if drain {
		results, err := runner.Drain(cmd.Context())
		for _, r := range results {
			printMergeResult(&r)
		}
		if err != nil {
			return err
		}
		if jsonOut {
			return emitJSON(results)
		}
		if len(results) == 0 {
			fmt.Println("queue empty")
		} else {
			fmt.Printf("%d entr%s worked\n", len(results), plural(len(results), "y", "ies"))
		}
		return nil
	}

	result, err := runner.RunNext(cmd.Context())
	if err != nil {
		return err
	}
	if result == nil {
		if jsonOut {
			return emitJSON(nil)
		}
		fmt.Println("queue empty")
		return nil
	}
	if jsonOut {
		return emitJSON(result)
	}
	printMergeResult(result)
	return nil
}

// newMergeRunner wires the resolver stack: git driver, AI invoker,
// event sink, and mail notifications back to the owning agents.
func newMergeRunner(stateDir string, cfg *config.Config, q *mergeq.Queue) (*resolver.Runner, func(), error) {
	invoker, err := ai.New(cfg.AIOptions())
	if err != nil {
		return nil, nil, err
	}
	es, err := events.Open(stateDir)
	if err != nil {
		return nil, nil, err
	}
	sink := events.NewSink(es, 64)

	client, _, mailCleanup, err := openMailClient(stateDir)
	if err != nil {
		sink.Close()
		es.Close()
		return nil, nil, err
	}

	repo := repoRootFor(stateDir)
	res := resolver.New(git.NewRunner(repo), invoker, resolver.Config{
		RepoPath:  repo,
		Canonical: cfg.Git.CanonicalBranch,
		AITimeout: cfg.Timeouts.AI,
		Sink:      sink,
	})
	cleanup := func() {
		mailCleanup()
		sink.Close()
		es.Close()
	}
	return resolver.NewRunner(q, res, client), cleanup, nil
}

// printMergeResult renders one resolution outcome for humans.
func printMergeResult(r *models.MergeResult) {
	if jsonOut {
		return
	}
	switch {
	case r.Success:
		fmt.Printf("merged %s (%s)\n", r.Entry.BranchName, r.Tier)
	case len(r.ConflictFiles) > 0:
		fmt.Printf("conflict %s: %s\n", r.Entry.BranchName, strings.Join(r.ConflictFiles, ", "))
	default:
		fmt.Printf("failed %s: %s\n", r.Entry.BranchName, r.ErrorMessage)
	}
}

// plural picks the singular or plural suffix for n.
func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
