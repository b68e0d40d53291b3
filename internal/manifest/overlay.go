package manifest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/overstoryai/overstory/internal/errs"
)

// OverlayFileName is the briefing file dropped into an agent's worktree.
const OverlayFileName = "OVERSTORY.md"

// overlayRecentTasks limits how much task history the briefing shows.
const overlayRecentTasks = 5

// RenderOverlay builds the markdown briefing an agent reads when it
// boots: who it is, what it has done before, and where an interrupted
// session left off. cp may be nil when there is nothing to resume.
func RenderOverlay(id *Identity, cp *Checkpoint) string {
	var sb strings.Builder

	sb.WriteString("# Agent Briefing\n\n")
	sb.WriteString(fmt.Sprintf("**Agent**: %s\n", id.Name))
	if id.Capability != "" {
		sb.WriteString(fmt.Sprintf("**Capability**: %s\n", id.Capability))
	}
	sb.WriteString(fmt.Sprintf("**Sessions completed**: %d\n\n", id.SessionsCompleted))

	if len(id.ExpertiseDomains) > 0 {
		sb.WriteString(fmt.Sprintf("**Expertise**: %s\n\n", strings.Join(id.ExpertiseDomains, ", ")))
	}

	if len(id.RecentTasks) > 0 {
		sb.WriteString("## Recent Tasks\n\n")
		recs := id.RecentTasks
		if len(recs) > overlayRecentTasks {
			recs = recs[len(recs)-overlayRecentTasks:]
		}
		// Newest first.
		for i := len(recs) - 1; i >= 0; i-- {
			rec := recs[i]
			sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", rec.TaskID, rec.TS.Format("2006-01-02"), rec.Summary))
		}
		sb.WriteString("\n")
	}

	if cp != nil {
		sb.WriteString("## Interrupted Session\n\n")
		sb.WriteString("A previous session on this task was interrupted. Pick up where it left off.\n\n")
		if cp.BeadID != "" {
			sb.WriteString(fmt.Sprintf("**Task**: %s\n", cp.BeadID))
		}
		if cp.CurrentBranch != "" {
			sb.WriteString(fmt.Sprintf("**Branch**: %s\n", cp.CurrentBranch))
		}
		if cp.ProgressSummary != "" {
			sb.WriteString(fmt.Sprintf("**Progress**: %s\n", cp.ProgressSummary))
		}
		sb.WriteString("\n")
		if len(cp.FilesModified) > 0 {
			sb.WriteString("**Files already modified**:\n")
			for _, f := range cp.FilesModified {
				sb.WriteString(fmt.Sprintf("- %s\n", f))
			}
			sb.WriteString("\n")
		}
		if cp.PendingWork != "" {
			sb.WriteString(fmt.Sprintf("**Pending work**:\n%s\n", cp.PendingWork))
		}
	}

	return sb.String()
}

// WriteOverlay renders the briefing and writes it into the worktree
// root, atomically.
func WriteOverlay(worktree string, id *Identity, cp *Checkpoint) error {
	if id == nil || id.Name == "" {
		return errs.Validation("agent identity is required")
	}
	path := filepath.Join(worktree, OverlayFileName)
	if err := writeAtomic(path, []byte(RenderOverlay(id, cp))); err != nil {
		return errs.Agent("write overlay").With("agent", id.Name).Wrap(err)
	}
	return nil
}
