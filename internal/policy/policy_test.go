package policy

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/pkg/models"
)

var allCapabilities = []models.Capability{
	models.CapCoordinator,
	models.CapSupervisor,
	models.CapLead,
	models.CapBuilder,
	models.CapScout,
	models.CapReviewer,
	models.CapMerger,
	models.CapMonitor,
}

func TestDefault_CoversAllCapabilities(t *testing.T) {
	table := Default()

	for _, c := range allCapabilities {
		pol, err := table.For(c)
		if err != nil {
			t.Errorf("no default policy for %s: %v", c, err)
			continue
		}
		if pol.Capability != c {
			t.Errorf("policy for %s carries capability %s", c, pol.Capability)
		}
		if len(pol.Tools) == 0 {
			t.Errorf("default policy for %s has no tools", c)
		}
	}

	if got := table.Capabilities(); len(got) != len(allCapabilities) {
		t.Errorf("Capabilities() returned %d entries, want %d", len(got), len(allCapabilities))
	}
}

func TestDefault_SpawnTree(t *testing.T) {
	table := Default()

	tests := []struct {
		parent models.Capability
		child  models.Capability
		want   bool
	}{
		{models.CapCoordinator, models.CapBuilder, true},
		{models.CapCoordinator, models.CapSupervisor, true},
		{models.CapCoordinator, models.CapMerger, true},
		{models.CapCoordinator, models.CapCoordinator, false},
		{models.CapCoordinator, models.CapMonitor, false},
		{models.CapSupervisor, models.CapBuilder, true},
		{models.CapSupervisor, models.CapMerger, false},
		{models.CapLead, models.CapBuilder, true},
		{models.CapLead, models.CapScout, true},
		{models.CapLead, models.CapReviewer, false},
		{models.CapBuilder, models.CapBuilder, false},
		{models.CapScout, models.CapBuilder, false},
		{models.CapMonitor, models.CapBuilder, false},
	}
	for _, tt := range tests {
		pol, err := table.For(tt.parent)
		if err != nil {
			t.Fatalf("For(%s) failed: %v", tt.parent, err)
		}
		if got := pol.CanSpawn(tt.child); got != tt.want {
			t.Errorf("%s CanSpawn %s = %v, want %v", tt.parent, tt.child, got, tt.want)
		}
	}
}

func TestCheckSpawn(t *testing.T) {
	table := Default()

	tests := []struct {
		name    string
		parent  models.Capability
		child   models.Capability
		depth   int
		wantErr bool
	}{
		{"coordinator spawns builder", models.CapCoordinator, models.CapBuilder, 1, false},
		{"lead spawns scout deeper", models.CapLead, models.CapScout, 2, false},
		{"root capability cannot be spawned", models.CapCoordinator, models.CapMonitor, 1, true},
		{"second coordinator rejected", models.CapCoordinator, models.CapCoordinator, 1, true},
		{"spawn at depth zero rejected", models.CapCoordinator, models.CapBuilder, 0, true},
		{"builder cannot spawn", models.CapBuilder, models.CapBuilder, 2, true},
		{"unknown child", models.CapCoordinator, models.Capability("wizard"), 1, true},
		{"unknown parent", models.Capability("wizard"), models.CapBuilder, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := table.CheckSpawn(tt.parent, tt.child, tt.depth)
			if tt.wantErr {
				if !errs.HasKind(err, errs.KindValidation) {
					t.Errorf("CheckSpawn = %v, want validation error", err)
				}
			} else if err != nil {
				t.Errorf("CheckSpawn failed: %v", err)
			}
		})
	}
}

func TestPolicy_AllowsTool(t *testing.T) {
	table := Default()

	tests := []struct {
		cap  models.Capability
		tool string
		want bool
	}{
		{models.CapBuilder, "Edit", true},
		{models.CapBuilder, "WebSearch", true},
		{models.CapScout, "Write", true},
		{models.CapScout, "Edit", false},
		{models.CapReviewer, "Bash", true},
		{models.CapReviewer, "Write", false},
		{models.CapMonitor, "Write", false},
		{models.CapCoordinator, "Task", true},
	}
	for _, tt := range tests {
		pol, err := table.For(tt.cap)
		if err != nil {
			t.Fatalf("For(%s) failed: %v", tt.cap, err)
		}
		if got := pol.AllowsTool(tt.tool); got != tt.want {
			t.Errorf("%s AllowsTool(%s) = %v, want %v", tt.cap, tt.tool, got, tt.want)
		}
	}

	wildcard := &Policy{Tools: []string{"*"}}
	if !wildcard.AllowsTool("Anything") {
		t.Error("wildcard tool list should allow any tool")
	}
}

func TestPolicy_AllowsPath(t *testing.T) {
	table := Default()

	tests := []struct {
		cap  models.Capability
		path string
		want bool
	}{
		{models.CapBuilder, "internal/parse/parse.go", true},
		{models.CapScout, "specs/task-042.md", true},
		{models.CapScout, "./specs/task-042.md", true},
		{models.CapScout, "docs/plan.md", true},
		{models.CapScout, "internal/parse/parse.go", false},
		{models.CapReviewer, "specs/task-042.md", false},
		{models.CapMonitor, "README.md", false},
	}
	for _, tt := range tests {
		pol, err := table.For(tt.cap)
		if err != nil {
			t.Fatalf("For(%s) failed: %v", tt.cap, err)
		}
		if got := pol.AllowsPath(tt.path); got != tt.want {
			t.Errorf("%s AllowsPath(%s) = %v, want %v", tt.cap, tt.path, got, tt.want)
		}
	}
}

func TestLoad_NoOverride(t *testing.T) {
	table, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want, _ := Default().For(models.CapBuilder)
	got, err := table.For(models.CapBuilder)
	if err != nil {
		t.Fatalf("For failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("loaded builder policy = %+v, want defaults %+v", got, want)
	}
}

func TestLoad_Override(t *testing.T) {
	stateDir := t.TempDir()
	override := `
[builder]
tools = ["Read", "Edit"]

[scout]
paths = []
`
	if err := os.WriteFile(filepath.Join(stateDir, OverrideFileName), []byte(override), 0644); err != nil {
		t.Fatalf("writing override: %v", err)
	}

	table, err := Load(stateDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	builder, _ := table.For(models.CapBuilder)
	if want := []string{"Read", "Edit"}; !reflect.DeepEqual(builder.Tools, want) {
		t.Errorf("builder tools = %v, want %v", builder.Tools, want)
	}
	// Fields absent from the override keep their defaults.
	if !builder.AllowsPath("internal/parse/parse.go") {
		t.Error("builder path policy should be untouched by a tools-only override")
	}

	// An explicit empty array clears the field.
	scout, _ := table.For(models.CapScout)
	if scout.AllowsPath("specs/task-042.md") {
		t.Error("scout paths should be cleared by the override")
	}
	if !scout.AllowsTool("Grep") {
		t.Error("scout tools should be untouched by a paths-only override")
	}

	// Other capabilities are untouched.
	reviewer, _ := table.For(models.CapReviewer)
	if !reviewer.AllowsTool("Bash") {
		t.Error("reviewer policy should be untouched by the override")
	}
}

func TestLoad_OverrideErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"unknown capability section", "[wizard]\ntools = [\"Read\"]\n"},
		{"unknown spawn target", "[lead]\nspawns = [\"wizard\"]\n"},
		{"malformed file", "= not toml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stateDir := t.TempDir()
			if err := os.WriteFile(filepath.Join(stateDir, OverrideFileName), []byte(tt.toml), 0644); err != nil {
				t.Fatalf("writing override: %v", err)
			}
			if _, err := Load(stateDir); !errs.HasKind(err, errs.KindConfig) {
				t.Errorf("Load = %v, want config error", err)
			}
		})
	}
}
