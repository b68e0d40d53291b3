package ai

import (
	"context"
	"strings"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/exec"
	"github.com/overstoryai/overstory/internal/logging"
)

// DefaultCommand is the coding-agent CLI the subprocess backend runs.
const DefaultCommand = "claude"

// CLIInvoker shells out to the coding-agent CLI in print mode and
// captures its plain-text output. The CLI resolves its own credentials,
// so this backend needs no key material.
type CLIInvoker struct {
	command string
	runner  exec.CommandRunner
}

// NewCLIInvoker creates a subprocess-backed invoker. An empty command
// selects DefaultCommand.
func NewCLIInvoker(command string) *CLIInvoker {
	return NewCLIInvokerWith(command, exec.NewRunner())
}

// NewCLIInvokerWith creates a CLIInvoker with an explicit runner.
func NewCLIInvokerWith(command string, runner exec.CommandRunner) *CLIInvoker {
	if command == "" {
		command = DefaultCommand
	}
	return &CLIInvoker{command: command, runner: runner}
}

// Invoke runs one print-mode completion and returns stdout verbatim.
// Trailing whitespace is preserved so full-file outputs survive intact.
func (c *CLIInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	res, err := c.runner.Capture(ctx, "", c.command, buildArgs(req)...)
	if err != nil {
		return Response{}, errs.Agent("run %s", c.command).Wrap(err)
	}
	if res.ExitCode != 0 {
		return Response{}, errs.Agent("%s exited with code %d", c.command, res.ExitCode).
			With("stderr", firstLine(res.Stderr))
	}
	logging.Debug(logging.CatAI, "cli completion", "command", c.command, "bytes", len(res.Stdout))
	return Response{Text: res.Stdout}, nil
}

// buildArgs assembles the print-mode flag set. The system prompt is
// folded into the prompt text; the CLI has no separate system channel
// in print mode.
func buildArgs(req Request) []string {
	args := []string{"--print", "--output-format", "text"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}
	return append(args, "-p", prompt)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Verify CLIInvoker implements Invoker at compile time.
var _ Invoker = (*CLIInvoker)(nil)
