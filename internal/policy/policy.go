// Package policy maps agent capabilities to what they may do: which
// child capabilities they can spawn, which tools they may call, and
// which paths they may write. Defaults are compiled into the binary; a
// project overrides individual fields in .overstory/policies.toml.
package policy

import (
	_ "embed"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/pkg/models"
)

// OverrideFileName is the optional per-project policy file under the
// state directory.
const OverrideFileName = "policies.toml"

//go:embed defaults.toml
var defaultsTOML []byte

// Policy is what one capability is allowed to do.
type Policy struct {
	Capability models.Capability

	// Spawns lists the child capabilities this one may spawn.
	Spawns []models.Capability

	// Tools is the tool whitelist. A "*" entry admits any tool.
	Tools []string

	// Paths lists writable path prefixes relative to the worktree. A
	// "*" entry admits any path; an empty list denies all writes.
	Paths []string
}

// CanSpawn reports whether this capability may spawn a child of the
// given capability.
func (p *Policy) CanSpawn(child models.Capability) bool {
	for _, c := range p.Spawns {
		if c == child {
			return true
		}
	}
	return false
}

// AllowsTool reports whether the tool is on the whitelist.
func (p *Policy) AllowsTool(tool string) bool {
	for _, t := range p.Tools {
		if t == "*" || t == tool {
			return true
		}
	}
	return false
}

// AllowsPath reports whether the capability may write the given
// worktree-relative path.
func (p *Policy) AllowsPath(path string) bool {
	rel := strings.TrimPrefix(filepath.ToSlash(path), "./")
	for _, prefix := range p.Paths {
		if prefix == "*" || strings.HasPrefix(rel, prefix) {
			return true
		}
	}
	return false
}

// Table resolves capabilities to policies.
type Table struct {
	policies map[models.Capability]*Policy
}

// Default returns the compiled-in policy table.
func Default() *Table {
	t, err := parseTable(defaultsTOML)
	if err != nil {
		// The defaults ship inside the binary; failing to parse them
		// is a build defect, not a runtime condition.
		panic("policy: bad embedded defaults: " + err.Error())
	}
	return t
}

// Load returns the default table with the project's policies.toml
// override applied, when one exists under stateDir.
func Load(stateDir string) (*Table, error) {
	t := Default()
	path := filepath.Join(stateDir, OverrideFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, errs.Config("read policy override").With("path", path).Wrap(err)
	}
	if err := t.applyOverride(data); err != nil {
		return nil, err
	}
	return t, nil
}

// For returns the policy for a capability.
func (t *Table) For(cap models.Capability) (*Policy, error) {
	p, ok := t.policies[cap]
	if !ok {
		return nil, errs.Validation("no policy for capability %q", cap)
	}
	return p, nil
}

// Capabilities returns the capabilities in the table, sorted by name.
func (t *Table) Capabilities() []models.Capability {
	caps := make([]models.Capability, 0, len(t.policies))
	for c := range t.policies {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// CheckSpawn validates that a parent capability may spawn a child at
// the given depth. Depth 0 is reserved for root sessions, which are
// launched directly rather than spawned by a parent.
func (t *Table) CheckSpawn(parent, child models.Capability, childDepth int) error {
	if !child.Valid() {
		return errs.Validation("unknown capability %q", child)
	}
	if childDepth < 1 {
		return errs.Validation("spawned agents start at depth >= 1, got %d", childDepth)
	}
	if child.RootOnly() {
		return errs.Validation("capability %s runs only at depth 0 and cannot be spawned", child)
	}
	pol, err := t.For(parent)
	if err != nil {
		return err
	}
	if !pol.CanSpawn(child) {
		return errs.Validation("capability %s may not spawn %s", parent, child)
	}
	return nil
}

// filePolicy is the TOML shape of one capability's policy. Absent keys
// decode to nil, which distinguishes "not overridden" from an explicit
// empty list.
type filePolicy struct {
	Spawns []string `toml:"spawns"`
	Tools  []string `toml:"tools"`
	Paths  []string `toml:"paths"`
}

func parseTable(data []byte) (*Table, error) {
	var raw map[string]filePolicy
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errs.Config("parse policy table").Wrap(err)
	}

	t := &Table{policies: make(map[models.Capability]*Policy, len(raw))}
	for name, fp := range raw {
		cap := models.Capability(name)
		if !cap.Valid() {
			return nil, errs.Config("unknown capability %q in policy table", name)
		}
		spawns, err := toCapabilities(fp.Spawns)
		if err != nil {
			return nil, err
		}
		t.policies[cap] = &Policy{
			Capability: cap,
			Spawns:     spawns,
			Tools:      append([]string(nil), fp.Tools...),
			Paths:      append([]string(nil), fp.Paths...),
		}
	}
	return t, nil
}

// applyOverride merges a partial policy file over the table. Only the
// fields present in the override change; listing a field as an empty
// array clears it.
func (t *Table) applyOverride(data []byte) error {
	var raw map[string]filePolicy
	if err := toml.Unmarshal(data, &raw); err != nil {
		return errs.Config("parse policy override").Wrap(err)
	}

	for name, fp := range raw {
		base, ok := t.policies[models.Capability(name)]
		if !ok {
			return errs.Config("unknown capability %q in policy override", name)
		}
		if fp.Spawns != nil {
			spawns, err := toCapabilities(fp.Spawns)
			if err != nil {
				return err
			}
			base.Spawns = spawns
		}
		if fp.Tools != nil {
			base.Tools = append([]string(nil), fp.Tools...)
		}
		if fp.Paths != nil {
			base.Paths = append([]string(nil), fp.Paths...)
		}
	}
	return nil
}

func toCapabilities(names []string) ([]models.Capability, error) {
	caps := make([]models.Capability, 0, len(names))
	for _, n := range names {
		c := models.Capability(n)
		if !c.Valid() {
			return nil, errs.Config("unknown capability %q in spawns list", n)
		}
		caps = append(caps, c)
	}
	return caps, nil
}
