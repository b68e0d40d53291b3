package resolver

import "strings"

// Conflict-marker parse states.
const (
	sectOutside = iota
	sectOurs
	sectBase
	sectTheirs
)

// resolveKeepIncoming strips three-way conflict markers from content,
// keeping the incoming (theirs) side of every block. The canonical
// branch is the merge baseline, so the agent's work is what survives.
// Returns false when the content has no conflict blocks or the markers
// are not well formed (unterminated, nested, or out of order).
func resolveKeepIncoming(content string) (string, bool) {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	state := sectOutside
	blocks := 0

	for _, line := range lines {
		switch {
		case isMarker(line, "<<<<<<<"):
			if state != sectOutside {
				return "", false
			}
			state = sectOurs
			blocks++
		case isMarker(line, "|||||||"):
			if state != sectOurs {
				return "", false
			}
			state = sectBase
		case isMarker(line, "======="):
			if state != sectOurs && state != sectBase {
				return "", false
			}
			state = sectTheirs
		case isMarker(line, ">>>>>>>"):
			if state != sectTheirs {
				return "", false
			}
			state = sectOutside
		default:
			if state == sectOutside || state == sectTheirs {
				out = append(out, line)
			}
		}
	}

	if state != sectOutside || blocks == 0 {
		return "", false
	}
	return strings.Join(out, "\n"), true
}

// hasConflictMarkers reports whether content still contains any
// conflict marker line.
func hasConflictMarkers(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if isMarker(line, "<<<<<<<") || isMarker(line, ">>>>>>>") {
			return true
		}
	}
	return false
}

// isMarker matches a git conflict marker line: exactly seven marker
// characters followed by end of line or a space and label. Longer runs
// (markdown rules, comment dividers) are content, not markers.
func isMarker(line, marker string) bool {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, marker) {
		return false
	}
	rest := line[len(marker):]
	return rest == "" || strings.HasPrefix(rest, " ")
}
