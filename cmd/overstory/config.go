package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/ai"
	"github.com/overstoryai/overstory/internal/config"
	"github.com/overstoryai/overstory/internal/errs"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config.

Layers, lowest to highest: built-in defaults, the user config under
$XDG_CONFIG_HOME/overstory, the project's .overstory/config.yaml, then
OVERSTORY_* environment variables. 'config set' writes the user config;
project overrides are edited by hand.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch len(args) {
	case 0:
		return displayAllConfig(cfg)
	case 1:
		value, err := getConfigValue(cfg, args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return emitJSON(map[string]string{args[0]: value})
		}
		fmt.Println(value)
		return nil
	default:
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := config.Save(cfg); err != nil {
			return err
		}
		if jsonOut {
			return emitJSON(map[string]string{args[0]: args[1]})
		}
		fmt.Printf("set %s = %s\n", args[0], args[1])
		return nil
	}
}

// configKeys lists every key config get/set understands, in display order.
var configKeys = []string{
	"watchdog.stall_threshold",
	"watchdog.hard_kill_threshold",
	"watchdog.poll_interval",
	"watchdog.grace_period",
	"watchdog.triage_enabled",
	"timeouts.busy",
	"timeouts.git",
	"timeouts.ai",
	"timeouts.mux",
	"git.canonical_branch",
	"purge.mail_age",
	"purge.event_age",
	"ai.mode",
	"ai.command",
	"ai.api_key",
	"ai.api_base_url",
	"ai.api_auth_token",
	"ai.default_model",
	"ai.use_bedrock",
	"ai.aws_region",
	"ai.aws_profile",
	"tui.refresh_rate",
}

func displayAllConfig(cfg *config.Config) error {
	if jsonOut {
		out := make(map[string]string, len(configKeys))
		for _, key := range configKeys {
			value, err := getConfigValue(cfg, key)
			if err != nil {
				return err
			}
			out[key] = value
		}
		return emitJSON(out)
	}
	for _, key := range configKeys {
		value, err := getConfigValue(cfg, key)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", key, value)
	}
	return nil
}

// getConfigValue retrieves a configuration value by dot-notation key.
// Credentials come back masked.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "watchdog.stall_threshold":
		return cfg.Watchdog.StallThreshold.String(), nil
	case "watchdog.hard_kill_threshold":
		return cfg.Watchdog.HardKillThreshold.String(), nil
	case "watchdog.poll_interval":
		return cfg.Watchdog.PollInterval.String(), nil
	case "watchdog.grace_period":
		return cfg.Watchdog.GracePeriod.String(), nil
	case "watchdog.triage_enabled":
		return strconv.FormatBool(cfg.Watchdog.TriageEnabled), nil
	case "timeouts.busy":
		return cfg.Timeouts.Busy.String(), nil
	case "timeouts.git":
		return cfg.Timeouts.Git.String(), nil
	case "timeouts.ai":
		return cfg.Timeouts.AI.String(), nil
	case "timeouts.mux":
		return cfg.Timeouts.Mux.String(), nil
	case "git.canonical_branch":
		return cfg.Git.CanonicalBranch, nil
	case "purge.mail_age":
		return cfg.Purge.MailAge.String(), nil
	case "purge.event_age":
		return cfg.Purge.EventAge.String(), nil
	case "ai.mode":
		return cfg.AI.Mode, nil
	case "ai.command":
		return cfg.AI.Command, nil
	case "ai.api_key":
		apiKey, err := config.GetAPIKey(cfg)
		if err != nil {
			return "(not set)", nil
		}
		return fmt.Sprintf("%s (from %s)", config.MaskAPIKey(apiKey), config.GetAPIKeySource(cfg)), nil
	case "ai.api_base_url":
		return cfg.AI.APIBaseURL, nil
	case "ai.api_auth_token":
		return config.MaskAPIKey(cfg.AI.APIAuthToken), nil
	case "ai.default_model":
		return cfg.AI.DefaultModel, nil
	case "ai.use_bedrock":
		return strconv.FormatBool(cfg.AI.UseBedrock), nil
	case "ai.aws_region":
		return cfg.AI.AWSRegion, nil
	case "ai.aws_profile":
		return cfg.AI.AWSProfile, nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", errs.Validation("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "watchdog.stall_threshold":
		return setDuration(&cfg.Watchdog.StallThreshold, key, value)
	case "watchdog.hard_kill_threshold":
		return setDuration(&cfg.Watchdog.HardKillThreshold, key, value)
	case "watchdog.poll_interval":
		return setDuration(&cfg.Watchdog.PollInterval, key, value)
	case "watchdog.grace_period":
		return setDuration(&cfg.Watchdog.GracePeriod, key, value)
	case "watchdog.triage_enabled":
		return setBool(&cfg.Watchdog.TriageEnabled, key, value)
	case "timeouts.busy":
		return setDuration(&cfg.Timeouts.Busy, key, value)
	case "timeouts.git":
		return setDuration(&cfg.Timeouts.Git, key, value)
	case "timeouts.ai":
		return setDuration(&cfg.Timeouts.AI, key, value)
	case "timeouts.mux":
		return setDuration(&cfg.Timeouts.Mux, key, value)
	case "git.canonical_branch":
		cfg.Git.CanonicalBranch = value
	case "purge.mail_age":
		return setDuration(&cfg.Purge.MailAge, key, value)
	case "purge.event_age":
		return setDuration(&cfg.Purge.EventAge, key, value)
	case "ai.mode":
		if value != "" && value != ai.ModeCLI && value != ai.ModeAPI {
			return errs.Validation("ai.mode must be %q or %q", ai.ModeCLI, ai.ModeAPI)
		}
		cfg.AI.Mode = value
	case "ai.command":
		cfg.AI.Command = value
	case "ai.api_key":
		cfg.AI.APIKey = value
	case "ai.api_base_url":
		cfg.AI.APIBaseURL = value
	case "ai.api_auth_token":
		cfg.AI.APIAuthToken = value
	case "ai.default_model":
		cfg.AI.DefaultModel = value
	case "ai.use_bedrock":
		return setBool(&cfg.AI.UseBedrock, key, value)
	case "ai.aws_region":
		cfg.AI.AWSRegion = value
	case "ai.aws_profile":
		cfg.AI.AWSProfile = value
	case "tui.refresh_rate":
		return setDuration(&cfg.TUI.RefreshRate, key, value)
	default:
		return errs.Validation("unknown configuration key: %s", key)
	}
	return nil
}

func setDuration(dst *time.Duration, key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return errs.Validation("invalid duration for %s: %s", key, value)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return errs.Validation("invalid boolean for %s: %s", key, value)
	}
	*dst = b
	return nil
}
