package events

import (
	"strings"
	"testing"
)

func TestFilterToolArgs_Bash(t *testing.T) {
	got := FilterToolArgs("Bash", map[string]any{
		"command":     "git status\ngit log",
		"description": "Check repo state",
		"timeout":     120000,
	})

	if got.Args["command"] != "git status\ngit log" {
		t.Errorf("command = %q, want original value", got.Args["command"])
	}
	if got.Args["description"] != "Check repo state" {
		t.Errorf("description = %q", got.Args["description"])
	}
	if _, ok := got.Args["timeout"]; ok {
		t.Error("timeout should have been dropped")
	}
	if got.Summary != "$ git status" {
		t.Errorf("summary = %q, want %q", got.Summary, "$ git status")
	}
}

func TestFilterToolArgs_DropsBulkContent(t *testing.T) {
	got := FilterToolArgs("Write", map[string]any{
		"file_path": "/tmp/big.go",
		"content":   strings.Repeat("x", 100000),
	})

	if _, ok := got.Args["content"]; ok {
		t.Error("content should have been dropped")
	}
	if got.Args["file_path"] != "/tmp/big.go" {
		t.Errorf("file_path = %q", got.Args["file_path"])
	}
	if got.Summary != "write /tmp/big.go" {
		t.Errorf("summary = %q", got.Summary)
	}
}

func TestFilterToolArgs_TruncatesLongValues(t *testing.T) {
	long := strings.Repeat("a", 500)
	got := FilterToolArgs("Bash", map[string]any{"command": long})

	if len(got.Args["command"]) != maxArgValueLen {
		t.Errorf("command length = %d, want %d", len(got.Args["command"]), maxArgValueLen)
	}
	if !strings.HasSuffix(got.Args["command"], "...") {
		t.Error("truncated value should end with ellipsis")
	}
	if len(got.Summary) > maxSummaryLen {
		t.Errorf("summary length = %d, want <= %d", len(got.Summary), maxSummaryLen)
	}
}

func TestFilterToolArgs_NumericValues(t *testing.T) {
	// JSON-decoded numbers arrive as float64.
	got := FilterToolArgs("Read", map[string]any{
		"file_path": "/tmp/a.go",
		"offset":    float64(120),
		"limit":     float64(50),
	})

	if got.Args["offset"] != "120" {
		t.Errorf("offset = %q, want %q", got.Args["offset"], "120")
	}
	if got.Args["limit"] != "50" {
		t.Errorf("limit = %q, want %q", got.Args["limit"], "50")
	}
}

func TestFilterToolArgs_UnknownToolKeepsNoValues(t *testing.T) {
	got := FilterToolArgs("mcp__custom__deploy", map[string]any{
		"target":  "prod",
		"apiKey":  "secret",
		"approve": true,
	})

	if len(got.Args) != 0 {
		t.Errorf("args = %v, want empty for unknown tool", got.Args)
	}
	want := "mcp__custom__deploy (apiKey, approve, target)"
	if got.Summary != want {
		t.Errorf("summary = %q, want %q", got.Summary, want)
	}
}

func TestFilterToolArgs_UnknownToolNoArgs(t *testing.T) {
	got := FilterToolArgs("ExitPlanMode", nil)
	if got.Summary != "ExitPlanMode" {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.Args == nil || len(got.Args) != 0 {
		t.Errorf("args = %v, want empty non-nil map", got.Args)
	}
}

func TestFilterToolArgs_TodoWrite(t *testing.T) {
	got := FilterToolArgs("TodoWrite", map[string]any{"todos": []any{"a", "b"}})
	if len(got.Args) != 0 {
		t.Errorf("args = %v, want empty", got.Args)
	}
	if got.Summary != "update todo list" {
		t.Errorf("summary = %q", got.Summary)
	}
}

func TestFilterToolArgsJSON_Deterministic(t *testing.T) {
	raw := map[string]any{"pattern": "*.go", "path": "internal"}

	first, err := FilterToolArgsJSON("Glob", raw)
	if err != nil {
		t.Fatalf("FilterToolArgsJSON() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := FilterToolArgsJSON("Glob", raw)
		if err != nil {
			t.Fatalf("FilterToolArgsJSON() error = %v", err)
		}
		if again != first {
			t.Fatalf("output varies across calls: %q vs %q", first, again)
		}
	}

	want := `{"args":{"path":"internal","pattern":"*.go"},"summary":"glob *.go"}`
	if first != want {
		t.Errorf("json = %s, want %s", first, want)
	}
}
