package resolver

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Validator decides whether AI output is acceptable content for the
// given path. Implementations should be conservative: a rejection only
// escalates to the next tier, while accepted prose corrupts a file.
type Validator func(path, content string) bool

// prosePhrases flag conversational output regardless of file kind.
var prosePhrases = []string{
	"i'm sorry",
	"i am sorry",
	"i apologize",
	"as an ai",
	"i cannot assist",
	"i can't assist",
	"i am unable to",
	"i'm unable to",
	"here is the resolved",
	"here's the resolved",
}

// proseExtensions are formats where prose content is legitimate, so
// only the conversational checks apply.
var proseExtensions = map[string]bool{
	".md":  true,
	".txt": true,
	".rst": true,
}

var identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]+`)

// codeMarks are characters that essentially never appear in
// conversational English but are routine in source text.
const codeMarks = "{}()[];=<>"

// LooksLikeCode is the default Validator. It rejects empty output,
// output containing apology or framing phrases, output that still
// carries conflict markers, and, for code formats, output whose lines
// read like sentences rather than source.
func LooksLikeCode(path, content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	if hasConflictMarkers(content) {
		return false
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range prosePhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}

	if proseExtensions[strings.ToLower(filepath.Ext(path))] {
		return true
	}

	var total, sentences int
	for _, line := range strings.Split(trimmed, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if strings.Trim(t, codeMarks+",.:\"'`|&") == "" {
			// Pure punctuation lines (closing braces, brackets) carry
			// no signal either way.
			continue
		}
		total++
		if isSentenceLine(t) {
			sentences++
		}
	}
	if total == 0 {
		return false
	}
	// Sentence-shaped lines dominating the output means prose.
	if sentences*2 > total {
		return false
	}
	// On average at least one identifier per non-blank line.
	return len(identPattern.FindAllString(trimmed, -1)) >= total
}

// isSentenceLine reports whether a line reads like English prose:
// sentence-final punctuation, interior spaces, and none of the
// characters that mark source text.
func isSentenceLine(line string) bool {
	if !strings.HasSuffix(line, ".") && !strings.HasSuffix(line, "!") && !strings.HasSuffix(line, "?") {
		return false
	}
	if !strings.Contains(line, " ") {
		return false
	}
	if strings.ContainsAny(line, codeMarks) {
		return false
	}
	return !strings.HasPrefix(line, "//") && !strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "*")
}
