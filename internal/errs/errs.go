// Package errs defines the error taxonomy shared by every subsystem.
// Each error carries a machine-readable kind, a human message, and a
// structured context map for the JSON output mode.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind tags an error with its taxonomy class.
type Kind string

const (
	// KindConfig is malformed or missing configuration.
	KindConfig Kind = "ConfigError"
	// KindValidation is a caller-supplied argument violating a contract.
	KindValidation Kind = "ValidationError"
	// KindAgent is an agent-lifecycle problem (spawn, pane, manifest).
	KindAgent Kind = "AgentError"
	// KindMail is a mail store or client failure.
	KindMail Kind = "MailError"
	// KindMerge is a merge queue or resolver failure.
	KindMerge Kind = "MergeError"
	// KindLifecycle is a checkpoint/resume or state-transition violation.
	KindLifecycle Kind = "LifecycleError"
	// KindWorktree is a git or worktree operation failure.
	KindWorktree Kind = "WorktreeError"
	// KindStore is a low-level database failure.
	KindStore Kind = "StoreError"
)

// Error is a kinded error with optional context and cause.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	cause   error
}

// Error returns the message, with the cause appended when present.
func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// With adds one context key and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap records err as the cause and returns the error for chaining.
func (e *Error) Wrap(err error) *Error {
	e.cause = err
	return e
}

// ContextString renders the context map as "k=v" pairs in key order.
func (e *Error) ContextString() string {
	if len(e.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
	}
	return strings.Join(parts, " ")
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Config creates a ConfigError.
func Config(format string, args ...any) *Error {
	return newError(KindConfig, format, args...)
}

// Validation creates a ValidationError.
func Validation(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

// Agent creates an AgentError.
func Agent(format string, args ...any) *Error {
	return newError(KindAgent, format, args...)
}

// Mail creates a MailError.
func Mail(format string, args ...any) *Error {
	return newError(KindMail, format, args...)
}

// Merge creates a MergeError.
func Merge(format string, args ...any) *Error {
	return newError(KindMerge, format, args...)
}

// Lifecycle creates a LifecycleError.
func Lifecycle(format string, args ...any) *Error {
	return newError(KindLifecycle, format, args...)
}

// Worktree creates a WorktreeError.
func Worktree(format string, args ...any) *Error {
	return newError(KindWorktree, format, args...)
}

// Store creates a StoreError.
func Store(format string, args ...any) *Error {
	return newError(KindStore, format, args...)
}

// KindOf returns the kind carried by err, or the empty string.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HasKind reports whether err or any wrapped error carries kind k.
func HasKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// AsError extracts the kinded error from err's chain, if present.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
