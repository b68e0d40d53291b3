// Package manifest persists the per-agent files under the state
// directory's agents/ tree: a JSON checkpoint for crash recovery and a
// YAML identity record that accumulates an agent's history across
// sessions. Both files are written atomically (temp file + rename) so a
// crash mid-write never leaves a torn manifest behind.
package manifest

import (
	"os"
	"path/filepath"
)

// File names inside an agent's manifest directory.
const (
	CheckpointFileName = "checkpoint.json"
	IdentityFileName   = "identity.yaml"
)

// Dir returns the manifest directory for an agent.
func Dir(stateDir, agent string) string {
	return filepath.Join(stateDir, "agents", agent)
}

// CheckpointPath returns the checkpoint file path for an agent.
func CheckpointPath(stateDir, agent string) string {
	return filepath.Join(Dir(stateDir, agent), CheckpointFileName)
}

// IdentityPath returns the identity file path for an agent.
func IdentityPath(stateDir, agent string) string {
	return filepath.Join(Dir(stateDir, agent), IdentityFileName)
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by a rename, creating parent directories as needed. Rename is
// atomic on POSIX filesystems, so a concurrent reader observes either
// the old contents or the new, never a partial write.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
