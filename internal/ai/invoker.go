// Package ai produces single-shot language-model completions for the
// merge resolver and watchdog triage. Two backends exist: a subprocess
// wrapper around the coding-agent CLI and a direct Anthropic API client.
package ai

import "context"

// DefaultMaxTokens bounds a single completion.
const DefaultMaxTokens = 8192

// Request is a single-shot completion request.
type Request struct {
	// System is an optional system prompt.
	System string
	// Prompt is the user prompt.
	Prompt string
	// Model overrides the invoker's default model when non-empty.
	Model string
	// MaxTokens caps the completion length; zero means DefaultMaxTokens.
	MaxTokens int64
}

// Response carries the completion text plus token usage when the
// backend reports it.
type Response struct {
	Text string
	// InputTokens and OutputTokens are zero for backends that do not
	// report usage.
	InputTokens  int64
	OutputTokens int64
}

// Invoker produces one completion per call. Implementations honor the
// context deadline; expiry surfaces as the context's error.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}
