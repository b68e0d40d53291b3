package resolver

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	// maxSectionBytes caps each file version embedded in a prompt.
	maxSectionBytes = 32 * 1024
	// maxDiffLines caps the rendered line diff.
	maxDiffLines = 200
	// collapseThreshold is the equal-run length above which context
	// lines collapse to an ellipsis.
	collapseThreshold = 4
)

const resolveSystem = `You are resolving a git merge conflict between a canonical branch and an agent's work branch. Output only the complete resolved file content, nothing else: no explanations, no markdown fences, no commentary.`

const reimagineSystem = `You are re-implementing a file so that it satisfies the union of two divergent versions' intents. Output only the complete file content, nothing else: no explanations, no markdown fences, no commentary.`

// buildResolvePrompt assembles the tier-3 prompt: both versions, the
// conflicted file with markers, a line diff, and any past resolutions
// as few-shot context.
func buildResolvePrompt(path, ours, theirs, conflicted string, past []PastResolution) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Resolve the merge conflict in `%s`.\n\n", path)

	sb.WriteString("**Canonical Branch Version**:\n```\n")
	sb.WriteString(truncateSection(ours))
	sb.WriteString("\n```\n\n")

	sb.WriteString("**Agent Branch Version (incoming)**:\n```\n")
	sb.WriteString(truncateSection(theirs))
	sb.WriteString("\n```\n\n")

	sb.WriteString("**Conflicted File (with markers)**:\n```\n")
	sb.WriteString(truncateSection(conflicted))
	sb.WriteString("\n```\n\n")

	if diff := diffSummary(ours, theirs); diff != "" {
		sb.WriteString("**Line Diff (canonical to agent)**:\n```diff\n")
		sb.WriteString(diff)
		sb.WriteString("\n```\n\n")
	}

	if len(past) > 0 {
		sb.WriteString("**Past Resolutions of Similar Conflicts**:\n")
		for _, p := range past {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", p.Tier, strings.Join(p.Files, ", "), truncateLine(p.Resolution))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Produce the complete resolved file. Preserve the intent of both sides; where the changes genuinely clash, prefer the incoming agent change, since it implements the task being integrated.\n")
	return sb.String()
}

// buildReimaginePrompt assembles the tier-4 prompt: both full versions
// and an instruction to rebuild the file satisfying both intents.
func buildReimaginePrompt(path, ours, theirs string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Two branches diverged on `%s` beyond what a textual merge can reconcile.\n\n", path)

	sb.WriteString("**Canonical Branch Version**:\n```\n")
	sb.WriteString(truncateSection(ours))
	sb.WriteString("\n```\n\n")

	sb.WriteString("**Agent Branch Version**:\n```\n")
	sb.WriteString(truncateSection(theirs))
	sb.WriteString("\n```\n\n")

	sb.WriteString("Write the complete file from scratch so that it satisfies the union of both versions' intents.\n")
	return sb.String()
}

// diffSummary renders a line-mode diff between ours and theirs with
// unified-diff prefixes. Long equal runs collapse to an ellipsis and
// the whole diff is capped at maxDiffLines.
func diffSummary(ours, theirs string) string {
	dmp := diffmatchpatch.New()
	oursChars, theirsChars, lineIndex := dmp.DiffLinesToChars(ours, theirs)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oursChars, theirsChars, false), lineIndex)

	var out []string
	for _, d := range diffs {
		lines := splitDiffLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			for _, line := range lines {
				out = append(out, "- "+line)
			}
		case diffmatchpatch.DiffInsert:
			for _, line := range lines {
				out = append(out, "+ "+line)
			}
		case diffmatchpatch.DiffEqual:
			if len(lines) > collapseThreshold {
				out = append(out, "  "+lines[0], "  ...", "  "+lines[len(lines)-1])
				continue
			}
			for _, line := range lines {
				out = append(out, "  "+line)
			}
		}
		if len(out) > maxDiffLines {
			break
		}
	}

	if len(out) > maxDiffLines {
		out = append(out[:maxDiffLines], "... (diff truncated)")
	}
	return strings.Join(out, "\n")
}

func splitDiffLines(text string) []string {
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func truncateSection(s string) string {
	if len(s) <= maxSectionBytes {
		return s
	}
	return s[:maxSectionBytes] + "\n... (truncated)"
}

func truncateLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= 160 {
		return s
	}
	return s[:160] + "..."
}

// extractContent strips a wrapping markdown code fence when the model
// returns one despite instructions. Inner fences are left alone.
func extractContent(response string) string {
	trimmed := strings.TrimSpace(response)
	if !strings.HasPrefix(trimmed, "```") {
		return response
	}
	// Drop the opening fence line (possibly carrying a language tag).
	idx := strings.IndexByte(trimmed, '\n')
	if idx < 0 {
		return response
	}
	body := trimmed[idx+1:]
	end := strings.LastIndex(body, "```")
	if end < 0 {
		return response
	}
	return body[:end]
}
