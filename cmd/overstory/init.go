package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/agent"
	"github.com/overstoryai/overstory/internal/config"
	"github.com/overstoryai/overstory/internal/errs"
)

var (
	initForce      bool
	initNoGit      bool
	initWithConfig bool
	initSkipChecks bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize an Overstory project",
	Long: `Initialize a directory for use with Overstory.

This command sets up everything needed to run agents:
  - Verifies prerequisites (git, tmux, the worker command)
  - Initializes a git repository if needed
  - Creates the .overstory state directory
  - Optionally writes a project config template

The directory argument is optional and defaults to the current directory.

Examples:
  overstory init                # Initialize current directory
  overstory init ./myproject    # Initialize a specific directory
  overstory init --force        # Reinitialize even if already set up
  overstory init --with-config  # Also write .overstory/config.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initNoGit, "no-git", false, "Skip git initialization")
	initCmd.Flags().BoolVar(&initWithConfig, "with-config", false, "Write a commented config template")
	initCmd.Flags().BoolVar(&initSkipChecks, "skip-checks", false, "Skip tmux and worker command checks")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return errs.Config("resolve target directory").Wrap(err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return errs.Config("create directory %s", absPath).Wrap(err)
	}
	if err := os.Chdir(absPath); err != nil {
		return errs.Config("change to directory %s", absPath).Wrap(err)
	}

	fmt.Printf("Initializing Overstory in %s...\n\n", absPath)

	stateDir := filepath.Join(absPath, config.StateDirName)
	if _, err := os.Stat(stateDir); err == nil && !initForce {
		fmt.Println("Directory already initialized. Use --force to reinitialize.")
		return nil
	}

	if err := checkGitInstalled(); err != nil {
		printStatus("✗", "Git not found", color.FgRed)
		return err
	}
	printStatus("✓", "Git found", color.FgGreen)

	cfg := config.Default()
	if !initSkipChecks {
		if err := CheckTmux(); err != nil {
			printStatus("✗", "tmux not found", color.FgRed)
			return err
		}
		printStatus("✓", "tmux found", color.FgGreen)

		workerCmd := cfg.AI.Command
		if workerCmd == "" {
			workerCmd = agent.DefaultWorkerCommand
		}
		if err := CheckWorkerCommand(workerCmd); err != nil {
			printStatus("⚠", fmt.Sprintf("worker command %q not found (agents will not boot until it is installed)", workerCmd), color.FgYellow)
		} else {
			printStatus("✓", fmt.Sprintf("worker command %q found", workerCmd), color.FgGreen)
		}
	}

	if key, _ := config.GetAPIKey(cfg); key == "" {
		printStatus("⚠", "no API key configured (set ANTHROPIC_API_KEY or a gateway token later)", color.FgYellow)
	} else {
		printStatus("✓", "API key is configured", color.FgGreen)
	}

	if !initNoGit {
		if err := initGitRepo(absPath); err != nil {
			return err
		}
	} else {
		fmt.Println("Skipping git initialization (--no-git flag)")
	}

	for _, sub := range []string{"", "logs", "agents"} {
		if err := os.MkdirAll(filepath.Join(stateDir, sub), 0755); err != nil {
			return errs.Config("create state directory").With("path", stateDir).Wrap(err)
		}
	}
	printStatus("✓", "Created .overstory directory structure", color.FgGreen)

	if !initNoGit {
		if err := updateGitignore(absPath); err != nil {
			return errs.Config("update .gitignore").Wrap(err)
		}
		printStatus("✓", "Updated .gitignore with Overstory entries", color.FgGreen)
	}

	if initWithConfig {
		if err := writeConfigTemplate(stateDir); err != nil {
			return err
		}
		printStatus("✓", "Created .overstory/config.yaml template", color.FgGreen)
	}

	fmt.Printf("\n%s Overstory initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Spawn a coordinator:")
	fmt.Println("     overstory spawn oak --cap coordinator")
	fmt.Println()
	fmt.Println("  2. Watch the swarm:")
	fmt.Println("     overstory dashboard")
	fmt.Println()
	fmt.Println("  3. Learn more:")
	fmt.Println("     overstory --help")

	return nil
}

// checkGitInstalled checks if git is installed.
func checkGitInstalled() error {
	if _, err := exec.LookPath("git"); err != nil {
		return errs.Config("git not found in PATH\n\n" +
			"Overstory requires git to manage agent worktrees.\n\n" +
			"Install git with:\n" +
			"  - macOS: brew install git\n" +
			"  - Ubuntu/Debian: sudo apt-get install git\n" +
			"  - Other: https://git-scm.com/downloads")
	}
	return nil
}

// initGitRepo initializes a git repository and ensures the canonical
// branch has at least one commit. Worktrees cannot be created from an
// unborn branch.
func initGitRepo(repoPath string) error {
	gitDir := filepath.Join(repoPath, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		cmd := exec.Command("git", "init")
		cmd.Dir = repoPath
		if output, err := cmd.CombinedOutput(); err != nil {
			return errs.Worktree("git init failed: %s", strings.TrimSpace(string(output))).Wrap(err)
		}
		printStatus("✓", "Initialized git repository", color.FgGreen)
	} else {
		printStatus("✓", "Git repository exists", color.FgGreen)
	}

	hasCommits, err := hasAnyCommits(repoPath)
	if err != nil {
		return err
	}
	if !hasCommits {
		if err := ensureInitialCommit(repoPath); err != nil {
			return err
		}
		printStatus("✓", "Created initial commit", color.FgGreen)
	} else {
		printStatus("✓", "Git repository has commits", color.FgGreen)
	}

	canonical := config.Default().Git.CanonicalBranch
	if err := ensureCanonicalBranch(repoPath, canonical); err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Canonical branch %q exists", canonical), color.FgGreen)

	return nil
}

// hasAnyCommits checks if the repository has any commits.
func hasAnyCommits(repoPath string) (bool, error) {
	cmd := exec.Command("git", "rev-list", "-n", "1", "--all")
	cmd.Dir = repoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Exit code 128 typically means no commits.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 128 {
			return false, nil
		}
		return false, errs.Worktree("git rev-list failed: %s", strings.TrimSpace(string(output))).Wrap(err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// ensureInitialCommit creates an initial commit if needed.
func ensureInitialCommit(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		content := "# Overstory\n.overstory/\noverstory\n"
		if err := os.WriteFile(gitignorePath, []byte(content), 0644); err != nil {
			return errs.Config("create .gitignore").Wrap(err)
		}
	}

	addCmd := exec.Command("git", "add", ".")
	addCmd.Dir = repoPath
	if output, err := addCmd.CombinedOutput(); err != nil {
		return errs.Worktree("git add failed: %s", strings.TrimSpace(string(output))).Wrap(err)
	}

	commitCmd := exec.Command("git", "commit", "--allow-empty", "-m", "Initial commit")
	commitCmd.Dir = repoPath
	if output, err := commitCmd.CombinedOutput(); err != nil {
		return errs.Worktree("git commit failed: %s", strings.TrimSpace(string(output))).Wrap(err)
	}

	return nil
}

// ensureCanonicalBranch makes sure the branch agent work lands on
// exists, renaming the current branch when it does not.
func ensureCanonicalBranch(repoPath, canonical string) error {
	check := exec.Command("git", "rev-parse", "--verify", canonical)
	check.Dir = repoPath
	if err := check.Run(); err == nil {
		return nil
	}

	rename := exec.Command("git", "branch", "-M", canonical)
	rename.Dir = repoPath
	if output, err := rename.CombinedOutput(); err != nil {
		return errs.Worktree("create %s branch: %s", canonical, strings.TrimSpace(string(output))).Wrap(err)
	}
	return nil
}

// updateGitignore adds Overstory entries to .gitignore if not present.
func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existing string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existing = string(data)
	}

	entries := []string{".overstory/", "overstory"}

	needsUpdate := false
	for _, entry := range entries {
		if !containsLine(existing, entry) {
			needsUpdate = true
			break
		}
	}
	if !needsUpdate {
		return nil
	}

	var b strings.Builder
	b.WriteString(existing)
	if len(existing) > 0 && !strings.HasSuffix(existing, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# Overstory\n")
	for _, entry := range entries {
		if !containsLine(existing, entry) {
			b.WriteString(entry + "\n")
		}
	}

	return os.WriteFile(gitignorePath, []byte(b.String()), 0644)
}

// containsLine reports whether content has line as a full line.
func containsLine(content, line string) bool {
	for _, l := range strings.Split(content, "\n") {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}

// writeConfigTemplate writes a commented project config. An existing
// file is left alone.
func writeConfigTemplate(stateDir string) error {
	configPath := filepath.Join(stateDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	template := `# Overstory project configuration.
# Overrides defaults and ~/.config/overstory/config.yaml.

# watchdog:
#   stall_threshold: 10m
#   hard_kill_threshold: 30m
#   poll_interval: 30s
#   grace_period: 2s
#   triage_enabled: false

# timeouts:
#   git: 30s
#   ai: 120s
#   mux: 5s

# git:
#   canonical_branch: main

# purge:
#   mail_age: 168h
#   event_age: 720h

# ai:
#   mode: cli
#   command: claude
#   api_base_url: ""
#   default_model: ""

# tui:
#   refresh_rate: 1s
`
	if err := os.WriteFile(configPath, []byte(template), 0644); err != nil {
		return errs.Config("write config template").With("path", configPath).Wrap(err)
	}
	return nil
}

// printStatus prints a status line with color.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
