// Package executor defines the port interface for agent executor
// collaborators (shell wrappers around specific AI SDKs). The supervisor core
// only ever touches executors through this interface.
package executor

import (
	"context"
	"time"
)

// EventKind is a lifecycle signal from the executor's event stream.
type EventKind string

const (
	EventSessionIdle EventKind = "session.idle"
	EventError       EventKind = "error"
	EventHeartbeat   EventKind = "heartbeat"
)

// Event is a signal emitted by the executor while a turn is in flight.
type Event struct {
	Kind    EventKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// Item is one transcript entry produced during a turn.
type Item struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Tool     string `json:"tool,omitempty"`
	ToolArgs string `json:"tool_args,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`
}

// Usage reports token consumption for a turn.
type Usage struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// Result is the outcome of a completed turn.
type Result struct {
	FinalResponse string `json:"final_response"`
	Items         []Item `json:"items,omitempty"`
	Usage         Usage  `json:"usage"`
}

// Options controls a single turn.
type Options struct {
	// Timeout bounds the whole turn. Agentic tasks run long; the default is
	// on the order of an hour.
	Timeout time.Duration
	// Resume continues an existing session instead of starting fresh.
	Resume bool
}

// Executor is a single agent executor collaborator. Cancelling the context
// passed to ExecPrompt must abort the underlying subprocess.
type Executor interface {
	// ID returns the executor's stable identity (used as task owner ID).
	ID() string

	// ExecPrompt runs one turn with the given prompt.
	ExecPrompt(ctx context.Context, message string, opts Options) (*Result, error)

	// Events returns the executor's lifecycle signal stream.
	Events() <-chan Event

	// Abort cancels the turn in progress, if any.
	Abort(ctx context.Context) error
}
