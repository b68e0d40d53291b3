package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/overstoryai/overstory/internal/agent"
	"github.com/overstoryai/overstory/internal/config"
	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/logging"
	"github.com/overstoryai/overstory/internal/mux"
	"github.com/overstoryai/overstory/internal/policy"
	"github.com/overstoryai/overstory/internal/state"
)

// requireStateDir resolves the state directory and fails when the
// project has not been initialized.
func requireStateDir() (string, error) {
	dir := config.FindStateDir()
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", errs.Config("no %s directory found; run 'overstory init' first", config.StateDirName)
	}
	return dir, nil
}

// repoRootFor returns the repository that owns a state directory.
func repoRootFor(stateDir string) string {
	return filepath.Dir(stateDir)
}

// openSessionStore opens the session store, logging a legacy import
// once if one happened.
func openSessionStore(stateDir string) (*state.Store, error) {
	st, imported, err := state.Open(stateDir)
	if err != nil {
		return nil, err
	}
	if imported {
		logging.Info(logging.CatStore, "imported legacy sessions.json", "state_dir", stateDir)
	}
	return st, nil
}

// newSpawner wires the full spawn stack for one command invocation.
func newSpawner(stateDir string, cfg *config.Config, st *state.Store) (*agent.Spawner, error) {
	table, err := policy.Load(stateDir)
	if err != nil {
		return nil, err
	}
	trees := agent.NewWorktreeManager(agent.DefaultWorktreeDir(stateDir), repoRootFor(stateDir))
	return agent.NewSpawner(st, mux.NewTmuxDriver(), trees, table, agent.Config{
		StateDir: stateDir,
		Command:  cfg.AI.Command,
		ExtraEnv: cfg.AIOptions().GatewayEnv(),
	}), nil
}

// emitJSON writes v to stdout as indented JSON.
func emitJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// confirm prompts on stdout and reads a y/N answer from stdin.
func confirm(prompt string) (bool, error) {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false, errs.Validation("read confirmation").Wrap(err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
