// Package config loads the orchestrator's layered configuration.
// Precedence, lowest to highest: built-in defaults, the user config
// under $XDG_CONFIG_HOME/overstory, the project's .overstory/config.yaml,
// then OVERSTORY_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/overstoryai/overstory/internal/ai"
	"github.com/overstoryai/overstory/internal/errs"
)

// StateDirName is the per-project state directory.
const StateDirName = ".overstory"

// Config holds every tunable the orchestrator reads.
type Config struct {
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Git      GitConfig      `mapstructure:"git"`
	Purge    PurgeConfig    `mapstructure:"purge"`
	AI       AIConfig       `mapstructure:"ai"`
	TUI      TUIConfig      `mapstructure:"tui"`
}

// WatchdogConfig holds liveness monitoring thresholds.
type WatchdogConfig struct {
	// StallThreshold is how long without activity counts as stalled.
	// Zero disables staleness checks.
	StallThreshold time.Duration `mapstructure:"stall_threshold"`
	// HardKillThreshold is how long a continuous stall may last before
	// the session is terminated regardless of escalation state.
	HardKillThreshold time.Duration `mapstructure:"hard_kill_threshold"`
	// PollInterval is the watchdog tick period.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// GracePeriod is the SIGTERM-to-SIGKILL window when killing a tree.
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// TriageEnabled turns on the AI triage step of the escalation ladder.
	TriageEnabled bool `mapstructure:"triage_enabled"`
}

// TimeoutsConfig holds per-subprocess deadlines.
type TimeoutsConfig struct {
	// Busy is the SQLite busy timeout shared by all stores.
	Busy time.Duration `mapstructure:"busy"`
	// Git bounds every git subprocess call.
	Git time.Duration `mapstructure:"git"`
	// AI bounds a single model invocation.
	AI time.Duration `mapstructure:"ai"`
	// Mux bounds every multiplexer call.
	Mux time.Duration `mapstructure:"mux"`
}

// GitConfig holds repository settings.
type GitConfig struct {
	// CanonicalBranch is the branch the merge queue lands work on.
	CanonicalBranch string `mapstructure:"canonical_branch"`
}

// PurgeConfig holds retention ages for the by-age purges.
type PurgeConfig struct {
	MailAge  time.Duration `mapstructure:"mail_age"`
	EventAge time.Duration `mapstructure:"event_age"`
}

// AIConfig selects and configures the model backend.
type AIConfig struct {
	// Mode is "cli" or "api"; empty lets the factory decide.
	Mode string `mapstructure:"mode"`
	// Command is the CLI backend's command name.
	Command string `mapstructure:"command"`
	// APIKey authenticates directly against the Anthropic API.
	APIKey string `mapstructure:"api_key"`
	// APIBaseURL routes requests through a gateway.
	APIBaseURL string `mapstructure:"api_base_url"`
	// APIAuthToken is the gateway bearer token.
	APIAuthToken string `mapstructure:"api_auth_token"`
	// DefaultModel is used when a request does not name a model.
	DefaultModel string `mapstructure:"default_model"`
	// UseBedrock routes requests through AWS Bedrock.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is an optional shared-config profile.
	AWSProfile string `mapstructure:"aws_profile"`
}

// TUIConfig holds dashboard settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, the project override, and
// environment variables, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// User config from the XDG path.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errs.Config("reading user config").Wrap(err)
		}
	}

	// Project config overrides the user config.
	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err != nil {
			return nil, errs.Config("reading project config").With("path", projectConfig).Wrap(err)
		}
		if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
			return nil, errs.Config("merging project config").Wrap(err)
		}
	}

	// OVERSTORY_WATCHDOG_STALL_THRESHOLD and friends win over files.
	v.SetEnvPrefix("OVERSTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The launcher-injected gateway variables keep their bare names.
	v.BindEnv("ai.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("ai.api_base_url", "API_BASE_URL")
	v.BindEnv("ai.api_auth_token", "API_AUTH_TOKEN")
	v.BindEnv("ai.default_model", "DEFAULT_MODEL")

	return unmarshal(v)
}

// LoadFromPath loads configuration from one explicit file over the
// defaults, skipping the layered search. Used by tests and --config.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errs.Config("reading config").With("path", path).Wrap(err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.Config("unmarshaling config").Wrap(err)
	}
	cfg.AI.APIKey = os.ExpandEnv(cfg.AI.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the semantic constraints the loaders enforce.
func (c *Config) Validate() error {
	if c.Watchdog.StallThreshold < 0 || c.Watchdog.HardKillThreshold < 0 || c.Watchdog.GracePeriod < 0 {
		return errs.Config("watchdog durations must not be negative")
	}
	if c.Watchdog.PollInterval <= 0 {
		return errs.Config("watchdog poll interval must be positive, got %s", c.Watchdog.PollInterval)
	}
	if s, h := c.Watchdog.StallThreshold, c.Watchdog.HardKillThreshold; s > 0 && h > 0 && h <= s {
		return errs.Config("hard-kill threshold %s must exceed stall threshold %s", h, s)
	}
	if c.Timeouts.Busy <= 0 || c.Timeouts.Git <= 0 || c.Timeouts.AI <= 0 || c.Timeouts.Mux <= 0 {
		return errs.Config("timeouts must be positive")
	}
	if c.Git.CanonicalBranch == "" {
		return errs.Config("canonical branch must not be empty")
	}
	if c.Purge.MailAge < 0 || c.Purge.EventAge < 0 {
		return errs.Config("purge ages must not be negative")
	}
	switch c.AI.Mode {
	case "", ai.ModeCLI, ai.ModeAPI:
	default:
		return errs.Config("unknown ai mode %q", c.AI.Mode)
	}
	if c.TUI.RefreshRate <= 0 {
		return errs.Config("tui refresh rate must be positive, got %s", c.TUI.RefreshRate)
	}
	return nil
}

// AIOptions returns the invoker options this config describes.
func (c *Config) AIOptions() ai.Options {
	return ai.Options{
		Mode:    c.AI.Mode,
		Command: c.AI.Command,
		API: ai.APIConfig{
			Model:      c.AI.DefaultModel,
			APIKey:     c.AI.APIKey,
			BaseURL:    c.AI.APIBaseURL,
			AuthToken:  c.AI.APIAuthToken,
			UseBedrock: c.AI.UseBedrock,
			AWSRegion:  c.AI.AWSRegion,
			AWSProfile: c.AI.AWSProfile,
		},
	}
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return errs.Config("creating config directory").With("path", userConfigDir).Wrap(err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("watchdog.stall_threshold", cfg.Watchdog.StallThreshold.String())
	v.Set("watchdog.hard_kill_threshold", cfg.Watchdog.HardKillThreshold.String())
	v.Set("watchdog.poll_interval", cfg.Watchdog.PollInterval.String())
	v.Set("watchdog.grace_period", cfg.Watchdog.GracePeriod.String())
	v.Set("watchdog.triage_enabled", cfg.Watchdog.TriageEnabled)
	v.Set("timeouts.busy", cfg.Timeouts.Busy.String())
	v.Set("timeouts.git", cfg.Timeouts.Git.String())
	v.Set("timeouts.ai", cfg.Timeouts.AI.String())
	v.Set("timeouts.mux", cfg.Timeouts.Mux.String())
	v.Set("git.canonical_branch", cfg.Git.CanonicalBranch)
	v.Set("purge.mail_age", cfg.Purge.MailAge.String())
	v.Set("purge.event_age", cfg.Purge.EventAge.String())
	v.Set("ai.mode", cfg.AI.Mode)
	v.Set("ai.command", cfg.AI.Command)
	v.Set("ai.api_key", cfg.AI.APIKey)
	v.Set("ai.api_base_url", cfg.AI.APIBaseURL)
	v.Set("ai.api_auth_token", cfg.AI.APIAuthToken)
	v.Set("ai.default_model", cfg.AI.DefaultModel)
	v.Set("ai.use_bedrock", cfg.AI.UseBedrock)
	v.Set("ai.aws_region", cfg.AI.AWSRegion)
	v.Set("ai.aws_profile", cfg.AI.AWSProfile)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	if err := v.WriteConfig(); err != nil {
		return errs.Config("writing config").Wrap(err)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if
// one exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// FindStateDir resolves the state directory: OVERSTORY_STATE_DIR if
// set, else the nearest .overstory directory walking up from the
// working directory, else .overstory under the working directory.
func FindStateDir() string {
	if dir := os.Getenv("OVERSTORY_STATE_DIR"); dir != "" {
		return dir
	}
	cwd, err := os.Getwd()
	if err != nil {
		return StateDirName
	}
	for dir := cwd; ; {
		candidate := filepath.Join(dir, StateDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return filepath.Join(cwd, StateDirName)
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("watchdog.stall_threshold", "10m")
	v.SetDefault("watchdog.hard_kill_threshold", "30m")
	v.SetDefault("watchdog.poll_interval", "30s")
	v.SetDefault("watchdog.grace_period", "2s")
	v.SetDefault("watchdog.triage_enabled", true)

	v.SetDefault("timeouts.busy", "5s")
	v.SetDefault("timeouts.git", "30s")
	v.SetDefault("timeouts.ai", "120s")
	v.SetDefault("timeouts.mux", "5s")

	v.SetDefault("git.canonical_branch", "main")

	v.SetDefault("purge.mail_age", "72h")
	v.SetDefault("purge.event_age", "168h")

	v.SetDefault("ai.mode", "")
	v.SetDefault("ai.command", "claude")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.api_base_url", "")
	v.SetDefault("ai.api_auth_token", "")
	v.SetDefault("ai.default_model", "")
	v.SetDefault("ai.use_bedrock", false)
	v.SetDefault("ai.aws_region", "")
	v.SetDefault("ai.aws_profile", "")

	v.SetDefault("tui.refresh_rate", "1s")
}

// getUserConfigDir returns the XDG config directory for overstory.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "overstory")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "overstory")
	}
	return filepath.Join(home, ".config", "overstory")
}

// findProjectConfig searches for .overstory/config.yaml in the current
// directory and its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, StateDirName, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Watchdog: WatchdogConfig{
			StallThreshold:    10 * time.Minute,
			HardKillThreshold: 30 * time.Minute,
			PollInterval:      30 * time.Second,
			GracePeriod:       2 * time.Second,
			TriageEnabled:     true,
		},
		Timeouts: TimeoutsConfig{
			Busy: 5 * time.Second,
			Git:  30 * time.Second,
			AI:   120 * time.Second,
			Mux:  5 * time.Second,
		},
		Git: GitConfig{
			CanonicalBranch: "main",
		},
		Purge: PurgeConfig{
			MailAge:  72 * time.Hour,
			EventAge: 168 * time.Hour,
		},
		AI: AIConfig{
			Command: "claude",
		},
		TUI: TUIConfig{
			RefreshRate: time.Second,
		},
	}
}
