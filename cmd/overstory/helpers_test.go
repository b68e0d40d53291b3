package main

import (
	"testing"
	"time"

	"github.com/overstoryai/overstory/internal/config"
	"github.com/overstoryai/overstory/internal/errs"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		d        time.Duration
		expected string
	}{
		{"zero", 0, "0s"},
		{"negative clamps to zero", -5 * time.Second, "0s"},
		{"seconds", 45 * time.Second, "45s"},
		{"exact minute", time.Minute, "1m"},
		{"minutes round down", 90 * time.Second, "1m"},
		{"just under an hour", 59 * time.Minute, "59m"},
		{"exact hour", time.Hour, "1h"},
		{"hours and minutes", 90 * time.Minute, "1h30m"},
		{"whole hours", 2 * time.Hour, "2h"},
		{"days", 25 * time.Hour, "1d"},
		{"multiple days", 72 * time.Hour, "3d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.d)
			if result != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, result, tt.expected)
			}
		})
	}
}

func TestPlural(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		expected string
	}{
		{"one", 1, "entry"},
		{"zero", 0, "entries"},
		{"many", 7, "entries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := plural(tt.n, "entry", "entries")
			if result != tt.expected {
				t.Errorf("plural(%d) = %q, want %q", tt.n, result, tt.expected)
			}
		})
	}
}

func TestContainsLine(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		line     string
		expected bool
	}{
		{"exact line", ".overstory/\nnode_modules/\n", ".overstory/", true},
		{"surrounding whitespace", "  .overstory/  \n", ".overstory/", true},
		{"substring does not count", ".overstory/logs\n", ".overstory/", false},
		{"empty content", "", ".overstory/", false},
		{"no trailing newline", "bin\n.overstory/", ".overstory/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := containsLine(tt.content, tt.line)
			if result != tt.expected {
				t.Errorf("containsLine(%q, %q) = %v, want %v", tt.content, tt.line, result, tt.expected)
			}
		})
	}
}

func TestGetConfigValue(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := config.Default()

	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{"duration key", "watchdog.stall_threshold", "10m0s"},
		{"bool key", "watchdog.triage_enabled", "true"},
		{"string key", "git.canonical_branch", "main"},
		{"case insensitive", "TIMEOUTS.GIT", "30s"},
		{"unset credential", "ai.api_key", "(not set)"},
		{"purge age", "purge.event_age", "168h0m0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := getConfigValue(cfg, tt.key)
			if err != nil {
				t.Fatalf("getConfigValue(%q) error = %v", tt.key, err)
			}
			if result != tt.expected {
				t.Errorf("getConfigValue(%q) = %q, want %q", tt.key, result, tt.expected)
			}
		})
	}
}

func TestGetConfigValue_UnknownKey(t *testing.T) {
	_, err := getConfigValue(config.Default(), "quality.gates")
	if errs.KindOf(err) != errs.KindValidation {
		t.Errorf("KindOf(err) = %q, want %q", errs.KindOf(err), errs.KindValidation)
	}
}

func TestSetConfigValue(t *testing.T) {
	cfg := config.Default()

	if err := setConfigValue(cfg, "watchdog.stall_threshold", "15m"); err != nil {
		t.Fatalf("setConfigValue() error = %v", err)
	}
	if cfg.Watchdog.StallThreshold != 15*time.Minute {
		t.Errorf("StallThreshold = %v, want 15m", cfg.Watchdog.StallThreshold)
	}

	if err := setConfigValue(cfg, "watchdog.triage_enabled", "false"); err != nil {
		t.Fatalf("setConfigValue() error = %v", err)
	}
	if cfg.Watchdog.TriageEnabled {
		t.Error("TriageEnabled = true, want false")
	}

	if err := setConfigValue(cfg, "git.canonical_branch", "trunk"); err != nil {
		t.Fatalf("setConfigValue() error = %v", err)
	}
	if cfg.Git.CanonicalBranch != "trunk" {
		t.Errorf("CanonicalBranch = %q, want %q", cfg.Git.CanonicalBranch, "trunk")
	}
}

func TestSetConfigValue_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "timeouts.git", "fast"},
		{"bad boolean", "ai.use_bedrock", "kinda"},
		{"bad mode", "ai.mode", "telepathy"},
		{"unknown key", "quality.gates", "on"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := setConfigValue(config.Default(), tt.key, tt.value)
			if errs.KindOf(err) != errs.KindValidation {
				t.Errorf("KindOf(err) = %q, want %q", errs.KindOf(err), errs.KindValidation)
			}
		})
	}
}
