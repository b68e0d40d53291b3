// Package insight derives workflow observations from an agent's event
// stream. Analyze is a pure function over stored events and tool
// aggregates; it performs no I/O and holds no state, so the front end
// can run it over any slice of the event log.
package insight

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/overstoryai/overstory/pkg/models"
)

const (
	// minCallsForWorkflow gates classification; below this the sample
	// says nothing.
	minCallsForWorkflow = 10
	// dominantShare is the minimum fraction a category needs to name
	// the workflow, in tenths.
	dominantShareTenths = 4
	// hotFileMinEdits is how many edits make a file hot.
	hotFileMinEdits = 3
	// hotFileCap bounds the file profile.
	hotFileCap = 3
	// topToolCap bounds the tool profile.
	topToolCap = 5
)

// Workflow labels.
const (
	WorkflowReadHeavy  = "read-heavy"
	WorkflowWriteHeavy = "write-heavy"
	WorkflowBashHeavy  = "bash-heavy"
	WorkflowBalanced   = "balanced"
)

// Kind classifies an insight.
type Kind string

const (
	KindWorkflow Kind = "workflow"
	KindErrors   Kind = "errors"
	KindDomain   Kind = "domain"
)

// Insight is one observation about the event stream.
type Insight struct {
	Kind Kind `json:"kind"`
	// Label is the machine-readable tag: a workflow name, a domain
	// tag, or "errors".
	Label string `json:"label"`
	// Message is the one-line human rendering.
	Message string `json:"message"`
	// Tools names the tools involved, on error insights.
	Tools []string `json:"tools,omitempty"`
}

// ToolUsage is one row of the tool profile.
type ToolUsage struct {
	ToolName      string  `json:"tool_name"`
	Count         int64   `json:"count"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// FileTouch is one row of the file profile.
type FileTouch struct {
	Path  string `json:"path"`
	Edits int    `json:"edits"`
}

// Analysis is the analyzer's full output.
type Analysis struct {
	// ToolCalls is the number of tool invocations observed.
	ToolCalls int `json:"tool_calls"`
	// Insights carries workflow, error, and domain observations.
	Insights []Insight `json:"insights"`
	// ToolProfile lists the most used tools with mean duration.
	ToolProfile []ToolUsage `json:"tool_profile"`
	// FileProfile lists hot files, most edited first.
	FileProfile []FileTouch `json:"file_profile"`
}

type category int

const (
	catOther category = iota
	catRead
	catWrite
	catBash
)

// toolCategories maps tool names onto workflow categories. Unlisted
// tools count toward the total but toward no category.
var toolCategories = map[string]category{
	"Read": catRead, "Glob": catRead, "Grep": catRead,
	"Edit": catWrite, "Write": catWrite, "MultiEdit": catWrite, "NotebookEdit": catWrite,
	"Bash": catBash,
}

// domainTags is the fixed path-prefix mapping for domain insights.
var domainTags = []struct{ prefix, tag string }{
	{"cmd/", "cli"},
	{"internal/", "core"},
	{"pkg/", "api"},
	{"api/", "api"},
	{"web/", "frontend"},
	{"ui/", "frontend"},
	{"docs/", "docs"},
	{"test/", "tests"},
	{"tests/", "tests"},
	{"scripts/", "tooling"},
	{"migrations/", "storage"},
	{"db/", "storage"},
}

// Analyze classifies the workflow behind a slice of events and tool
// aggregates. All outputs are deterministic: ties break by name.
func Analyze(events []models.StoredEvent, stats []models.ToolStat) Analysis {
	var a Analysis

	counts := map[category]int{}
	fileEdits := map[string]int{}
	errTools := map[string]bool{}
	var errCount int

	for _, e := range events {
		switch e.Kind {
		case models.EventToolStart:
			a.ToolCalls++
			cat := toolCategories[e.ToolName]
			counts[cat]++
			if cat == catWrite {
				if path := editedPath(e.ToolArgs); path != "" {
					fileEdits[path]++
				}
			}
		case models.EventError:
			errCount++
			if e.ToolName != "" {
				errTools[e.ToolName] = true
			}
		}
	}

	if a.ToolCalls >= minCallsForWorkflow {
		a.Insights = append(a.Insights, workflowInsight(counts, a.ToolCalls))
	}
	if errCount > 0 {
		a.Insights = append(a.Insights, errorInsight(errCount, errTools))
	}
	a.Insights = append(a.Insights, domainInsights(fileEdits)...)

	a.ToolProfile = toolProfile(stats)
	a.FileProfile = fileProfile(fileEdits)
	return a
}

// workflowInsight names the dominant category, or balanced when no
// category clearly leads.
func workflowInsight(counts map[category]int, total int) Insight {
	type share struct {
		label string
		n     int
	}
	shares := []share{
		{WorkflowReadHeavy, counts[catRead]},
		{WorkflowWriteHeavy, counts[catWrite]},
		{WorkflowBashHeavy, counts[catBash]},
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].n != shares[j].n {
			return shares[i].n > shares[j].n
		}
		return shares[i].label < shares[j].label
	})

	top := shares[0]
	dominant := top.n*10 >= total*dominantShareTenths && top.n > shares[1].n
	if !dominant {
		return Insight{
			Kind:    KindWorkflow,
			Label:   WorkflowBalanced,
			Message: fmt.Sprintf("balanced workflow across %d tool calls", total),
		}
	}
	return Insight{
		Kind:    KindWorkflow,
		Label:   top.label,
		Message: fmt.Sprintf("%s workflow: %d of %d tool calls", top.label, top.n, total),
	}
}

// errorInsight summarizes the error events and the tools involved.
func errorInsight(count int, tools map[string]bool) Insight {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	msg := fmt.Sprintf("%d errors", count)
	if len(names) > 0 {
		msg = fmt.Sprintf("%d errors involving %s", count, strings.Join(names, ", "))
	}
	return Insight{Kind: KindErrors, Label: "errors", Message: msg, Tools: names}
}

// domainInsights tags the edited files by path prefix, one insight per
// tag touched, sorted by tag.
func domainInsights(fileEdits map[string]int) []Insight {
	tagFiles := map[string]int{}
	for path := range fileEdits {
		if tag, ok := domainTag(path); ok {
			tagFiles[tag]++
		}
	}

	tags := make([]string, 0, len(tagFiles))
	for tag := range tagFiles {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	out := make([]Insight, 0, len(tags))
	for _, tag := range tags {
		out = append(out, Insight{
			Kind:    KindDomain,
			Label:   tag,
			Message: fmt.Sprintf("%d edited files in the %s area", tagFiles[tag], tag),
		})
	}
	return out
}

// domainTag matches a path against the fixed prefix table. Absolute
// paths match a prefix at any segment boundary.
func domainTag(path string) (string, bool) {
	for _, dt := range domainTags {
		if strings.HasPrefix(path, dt.prefix) || strings.Contains(path, "/"+dt.prefix) {
			return dt.tag, true
		}
	}
	return "", false
}

// toolProfile picks the most used tools from the aggregates.
func toolProfile(stats []models.ToolStat) []ToolUsage {
	sorted := make([]models.ToolStat, len(stats))
	copy(sorted, stats)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		return sorted[i].ToolName < sorted[j].ToolName
	})
	if len(sorted) > topToolCap {
		sorted = sorted[:topToolCap]
	}

	out := make([]ToolUsage, 0, len(sorted))
	for _, s := range sorted {
		out = append(out, ToolUsage{ToolName: s.ToolName, Count: s.Count, AvgDurationMS: s.AvgDurationMS})
	}
	return out
}

// fileProfile keeps files edited at least hotFileMinEdits times,
// most edited first, capped.
func fileProfile(fileEdits map[string]int) []FileTouch {
	var out []FileTouch
	for path, n := range fileEdits {
		if n >= hotFileMinEdits {
			out = append(out, FileTouch{Path: path, Edits: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Edits != out[j].Edits {
			return out[i].Edits > out[j].Edits
		}
		return out[i].Path < out[j].Path
	})
	if len(out) > hotFileCap {
		out = out[:hotFileCap]
	}
	return out
}

// editedPath pulls the touched file out of the stored argument
// projection. Unparseable or pathless args yield "".
func editedPath(toolArgs string) string {
	if toolArgs == "" {
		return ""
	}
	var payload struct {
		Args map[string]string `json:"args"`
	}
	if err := json.Unmarshal([]byte(toolArgs), &payload); err != nil {
		return ""
	}
	if p := payload.Args["file_path"]; p != "" {
		return p
	}
	return payload.Args["notebook_path"]
}
