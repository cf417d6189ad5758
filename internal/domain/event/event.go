// Package event defines the agent lifecycle event entity recorded by the bus.
package event

import (
	"encoding/json"
	"time"
)

// Kind identifies the kind of agent lifecycle event.
type Kind string

const (
	KindTaskStarted     Kind = "task.started"
	KindTaskCompleted   Kind = "task.completed"
	KindTaskFailed      Kind = "task.failed"
	KindAgentHeartbeat  Kind = "agent.heartbeat"
	KindAgentError      Kind = "agent.error"
	KindAgentComplete   Kind = "agent.complete"
	KindAgentStale      Kind = "agent.stale"
	KindStatusChange    Kind = "task.status_change"
	KindHookPassed      Kind = "hook.passed"
	KindHookFailed      Kind = "hook.failed"
	KindExecutorPaused  Kind = "executor.paused"
	KindExecutorResumed Kind = "executor.resumed"
	KindAutoRetry       Kind = "auto.retry"
	KindAutoCooldown    Kind = "auto.cooldown"
	KindAutoBlock       Kind = "auto.block"
	KindPatternDetected Kind = "error.pattern_detected"
)

// Event is a single immutable lifecycle event. Once recorded it is never
// mutated or reordered.
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	TaskID    string          `json:"task_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Filter selects events from the log. Zero values match everything.
type Filter struct {
	TaskID string `json:"task_id,omitempty"`
	Kind   Kind   `json:"kind,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Match reports whether ev passes the filter's task and kind constraints.
func (f Filter) Match(ev *Event) bool {
	if f.TaskID != "" && ev.TaskID != f.TaskID {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	return true
}
