package events

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// maxArgValueLen bounds each stored argument value. Raw tool arguments
// can carry whole file bodies; the event log keeps only enough to tell
// what the call touched.
const maxArgValueLen = 200

// maxSummaryLen bounds the one-line summary.
const maxSummaryLen = 160

// FilteredArgs is the stored projection of one tool invocation's
// arguments.
type FilteredArgs struct {
	Args    map[string]string `json:"args"`
	Summary string            `json:"summary"`
}

// toolArgKeys is the closed allow-list of argument keys kept per tool.
// Tools not listed here pass through with empty args.
var toolArgKeys = map[string][]string{
	"Bash":         {"command", "description"},
	"Read":         {"file_path", "offset", "limit"},
	"Write":        {"file_path"},
	"Edit":         {"file_path"},
	"MultiEdit":    {"file_path"},
	"NotebookEdit": {"notebook_path"},
	"Glob":         {"pattern", "path"},
	"Grep":         {"pattern", "path", "glob"},
	"WebFetch":     {"url"},
	"WebSearch":    {"query"},
	"Task":         {"description", "subagent_type"},
	"TodoWrite":    {},
}

// FilterToolArgs projects raw tool arguments down to the keys worth
// keeping. Known tools keep their allow-listed keys with truncated
// values and get a tool-specific summary; unknown tools keep no values
// and summarize only which keys were present.
func FilterToolArgs(toolName string, raw map[string]any) FilteredArgs {
	keys, known := toolArgKeys[toolName]
	if !known {
		return FilteredArgs{
			Args:    map[string]string{},
			Summary: truncate(unknownToolSummary(toolName, raw), maxSummaryLen),
		}
	}

	args := make(map[string]string, len(keys))
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		args[key] = truncate(stringify(v), maxArgValueLen)
	}

	return FilteredArgs{
		Args:    args,
		Summary: truncate(summarize(toolName, args), maxSummaryLen),
	}
}

// FilterToolArgsJSON returns the filtered projection as the JSON string
// stored in the tool_args column.
func FilterToolArgsJSON(toolName string, raw map[string]any) (string, error) {
	data, err := json.Marshal(FilterToolArgs(toolName, raw))
	if err != nil {
		return "", fmt.Errorf("marshal filtered args for %s: %w", toolName, err)
	}
	return string(data), nil
}

// summarize builds the one-line human summary per tool.
func summarize(toolName string, args map[string]string) string {
	switch toolName {
	case "Bash":
		if cmd := args["command"]; cmd != "" {
			return "$ " + firstLine(cmd)
		}
		return "shell command"
	case "Read":
		return "read " + orUnknown(args["file_path"])
	case "Write":
		return "write " + orUnknown(args["file_path"])
	case "Edit", "MultiEdit":
		return "edit " + orUnknown(args["file_path"])
	case "NotebookEdit":
		return "edit " + orUnknown(args["notebook_path"])
	case "Glob":
		return "glob " + orUnknown(args["pattern"])
	case "Grep":
		return "grep " + orUnknown(args["pattern"])
	case "WebFetch":
		return "fetch " + orUnknown(args["url"])
	case "WebSearch":
		return "search " + orUnknown(args["query"])
	case "Task":
		return "subtask " + orUnknown(args["description"])
	case "TodoWrite":
		return "update todo list"
	default:
		return toolName
	}
}

func unknownToolSummary(toolName string, raw map[string]any) string {
	if len(raw) == 0 {
		return toolName
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return toolName + " (" + strings.Join(keys, ", ") + ")"
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; render integers without the
		// trailing fraction.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
