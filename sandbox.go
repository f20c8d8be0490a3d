package rlm

import (
	"context"
	"time"
)

// Sandbox is a live, stateful code-execution session. Bindings created by one
// Execute call are visible to every later call on the same Sandbox.
//
// Implementations report code failures (exceptions, timeouts, blocked calls)
// in ExecutionResult.Stderr. A non-nil error from Execute means the session
// itself is unusable, typically wrapping ErrSandboxClosed.
type Sandbox interface {
	// Execute runs code in the session namespace.
	Execute(ctx context.Context, code string) (ExecutionResult, error)
	// Lookup returns the string form of the value bound to name.
	// ok is false when name is not bound.
	Lookup(ctx context.Context, name string) (value string, ok bool, err error)
	// Close releases the session. Safe to call more than once.
	Close() error
}

// QueryFunc answers a recursive llm_query call issued by sandboxed code.
// It never fails: errors are reported to the caller as text.
type QueryFunc func(ctx context.Context, prompt string) string

// Runtime starts sandbox sessions. The returned Sandbox has `context` bound to
// the session context and `llm_query` bound to query.
type Runtime interface {
	Start(ctx context.Context, c Context, query QueryFunc) (Sandbox, error)
}

// ExecutionResult is the outcome of one Execute call.
type ExecutionResult struct {
	Stdout   string             `json:"stdout"`
	Stderr   string             `json:"stderr"`
	Bindings map[string]Binding `json:"bindings"`
	Elapsed  time.Duration      `json:"elapsed"`
}

// Format renders r with FormatExecutionResult.
func (r ExecutionResult) Format() string {
	return FormatExecutionResult(r.Stdout, r.Stderr, r.Bindings)
}
