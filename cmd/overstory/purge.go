package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/config"
	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/events"
	"github.com/overstoryai/overstory/internal/mail"
	"github.com/overstoryai/overstory/internal/mergeq"
	"github.com/overstoryai/overstory/pkg/models"
)

var (
	purgeAgent string
	purgeAll   bool
	purgeForce bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished sessions and aged records",
	Long: `Delete finished session rows, mail and events past their retention
ages, and finished merge entries. Worktrees and branches are never
touched.

--agent removes every record for one agent; --all empties the stores.`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().StringVar(&purgeAgent, "agent", "", "Purge records for a single agent")
	purgeCmd.Flags().BoolVar(&purgeAll, "all", false, "Purge every record in every store")
	purgeCmd.Flags().BoolVarP(&purgeForce, "force", "f", false, "Skip confirmation")
}

type purgeCounts struct {
	Sessions     int64 `json:"sessions"`
	Mail         int64 `json:"mail"`
	Events       int64 `json:"events"`
	MergeEntries int64 `json:"merge_entries"`
}

func runPurge(cmd *cobra.Command, args []string) error {
	if purgeAll && purgeAgent != "" {
		return errs.Validation("--all and --agent are mutually exclusive")
	}
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if !purgeForce {
		ok, err := confirm(purgeScope(cfg))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("aborted")
			return nil
		}
	}

	st, err := openSessionStore(stateDir)
	if err != nil {
		return err
	}
	defer st.Close()
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
	q, err := mergeq.Open(stateDir)
	if err != nil {
		return err
	}
	defer q.Close()

	var counts purgeCounts
	switch {
	case purgeAll:
		if counts.Sessions, err = st.PurgeAll(); err != nil {
			return err
		}
		if counts.Mail, err = ms.PurgeAll(); err != nil {
			return err
		}
		if counts.Events, err = es.PurgeAll(); err != nil {
			return err
		}
		if counts.MergeEntries, err = q.PurgeAll(); err != nil {
			return err
		}
	case purgeAgent != "":
		if counts.Sessions, err = st.PurgeByAgent(purgeAgent); err != nil {
			return err
		}
		if counts.Mail, err = ms.PurgeByAgent(purgeAgent); err != nil {
			return err
		}
		if counts.Events, err = es.PurgeByAgent(purgeAgent); err != nil {
			return err
		}
		if counts.MergeEntries, err = q.PurgeByAgent(purgeAgent); err != nil {
			return err
		}
	default:
		completed, err := st.PurgeByState(models.StateCompleted)
		if err != nil {
			return err
		}
		zombies, err := st.PurgeByState(models.StateZombie)
		if err != nil {
			return err
		}
		counts.Sessions = completed + zombies
		if counts.Mail, err = ms.PurgeOlderThan(cfg.Purge.MailAge); err != nil {
			return err
		}
		if counts.Events, err = es.PurgeOlderThan(cfg.Purge.EventAge); err != nil {
			return err
		}
		if counts.MergeEntries, err = q.PurgeFinished(); err != nil {
			return err
		}
	}

	if jsonOut {
		return emitJSON(counts)
	}
	fmt.Printf("purged %d sessions, %d mail messages, %d events, %d merge entries\n",
		counts.Sessions, counts.Mail, counts.Events, counts.MergeEntries)
	return nil
}

// purgeScope describes what the current flag set will delete.
func purgeScope(cfg *config.Config) string {
	switch {
	case purgeAll:
		return "Delete ALL sessions, mail, events, and merge entries?"
	case purgeAgent != "":
		return fmt.Sprintf("Delete every record for agent %q?", purgeAgent)
	default:
		return fmt.Sprintf("Delete finished sessions, mail older than %s, and events older than %s?",
			formatDuration(cfg.Purge.MailAge), formatDuration(cfg.Purge.EventAge))
	}
}
