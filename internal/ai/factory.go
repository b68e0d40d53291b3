package ai

import (
	"os"

	"github.com/overstoryai/overstory/internal/errs"
)

// Backend mode names accepted by New.
const (
	ModeCLI = "cli"
	ModeAPI = "api"
)

// Options selects and configures a backend.
type Options struct {
	// Mode is "cli" or "api". Empty defaults to cli unless
	// OVERSTORY_USE_API=1 is set.
	Mode string
	// Command is the CLI command name for the subprocess backend.
	Command string
	// API configures the direct-API backend.
	API APIConfig
}

// Gateway environment variables the worker launcher understands.
const (
	EnvBaseURL      = "API_BASE_URL"
	EnvAuthToken    = "API_AUTH_TOKEN"
	EnvDefaultModel = "DEFAULT_MODEL"
)

// GatewayEnv returns the launcher environment entries describing the
// configured gateway. Unset values are omitted so the worker's own
// defaults stay in effect.
func (o Options) GatewayEnv() map[string]string {
	env := make(map[string]string)
	if o.API.BaseURL != "" {
		env[EnvBaseURL] = o.API.BaseURL
	}
	if o.API.AuthToken != "" {
		env[EnvAuthToken] = o.API.AuthToken
	}
	if o.API.Model != "" {
		env[EnvDefaultModel] = o.API.Model
	}
	return env
}

// New builds the invoker for the selected backend.
func New(opts Options) (Invoker, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeCLI
		if os.Getenv("OVERSTORY_USE_API") == "1" {
			mode = ModeAPI
		}
	}
	switch mode {
	case ModeCLI:
		return NewCLIInvoker(opts.Command), nil
	case ModeAPI:
		return NewAPIInvoker(opts.API)
	default:
		return nil, errs.Config("unknown ai mode %q", mode)
	}
}
