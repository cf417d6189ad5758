// Package recovery turns error classifications into bounded retry, cooldown,
// escalation, or hard-block decisions. It owns the per-task recovery state;
// nothing else mutates it.
package recovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/pattern"
)

// Action is the recovery verdict for a failed task attempt.
type Action string

const (
	ActionRetryWithPrompt Action = "retry_with_prompt"
	ActionCooldown        Action = "cooldown"
	ActionManual          Action = "manual"
	ActionBlock           Action = "block"
)

// Decision is the tracker's verdict plus supporting context for the caller.
type Decision struct {
	Action     Action        `json:"action"`
	Reason     string        `json:"reason,omitempty"`
	Prompt     string        `json:"prompt,omitempty"`
	ErrorCount int           `json:"error_count"`
	Cooldown   time.Duration `json:"cooldown,omitempty"`
}

// Config holds the retry ceilings and cooldown windows.
type Config struct {
	// WorkflowRetries is how many retry_with_prompt attempts push/test/lint
	// failures get before escalating to manual.
	WorkflowRetries int
	// SandboxRetries is how many retries sandbox failures get before block.
	SandboxRetries int
	// GenericCeiling is the unrecognized-error count that forces manual.
	GenericCeiling int
	// RateLimitCooldown is the wait applied on rate_limited classifications.
	RateLimitCooldown time.Duration
	// TransientCooldown is the wait applied on transient api_error classifications.
	TransientCooldown time.Duration
}

// DefaultConfig returns the stock ceilings.
func DefaultConfig() Config {
	return Config{
		WorkflowRetries:   2,
		SandboxRetries:    1,
		GenericCeiling:    3,
		RateLimitCooldown: 5 * time.Minute,
		TransientCooldown: time.Minute,
	}
}

// taskState is the per-task recovery record.
type taskState struct {
	counts        map[pattern.Name]int
	lastPattern   pattern.Name
	cooldownUntil time.Time
}

// Tracker is the error classification consumer and recovery state machine.
// One tracker per supervisor instance; safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	cfg   Config
	tasks map[string]*taskState
	now   func() time.Time // for testing
}

// NewTracker creates a Tracker with the given config.
func NewTracker(cfg Config) *Tracker {
	if cfg.WorkflowRetries <= 0 {
		cfg.WorkflowRetries = 2
	}
	if cfg.SandboxRetries <= 0 {
		cfg.SandboxRetries = 1
	}
	if cfg.GenericCeiling <= 0 {
		cfg.GenericCeiling = 3
	}
	if cfg.RateLimitCooldown <= 0 {
		cfg.RateLimitCooldown = 5 * time.Minute
	}
	if cfg.TransientCooldown <= 0 {
		cfg.TransientCooldown = time.Minute
	}
	return &Tracker{
		cfg:   cfg,
		tasks: make(map[string]*taskState),
		now:   time.Now,
	}
}

// RecordError consumes a classification for a task and returns the verdict.
// Counters are per (task, pattern); cooldowns never consume retry budget
// because a throttled task is not a failing task.
func (t *Tracker) RecordError(taskID string, c pattern.Classification, taskTitle string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.tasks[taskID]
	if st == nil {
		st = &taskState{counts: make(map[pattern.Name]int)}
		t.tasks[taskID] = st
	}
	st.lastPattern = c.Name

	switch c.Name {
	case pattern.NameAuthError, pattern.NameModelError, pattern.NameContentPolicy:
		// Cannot be fixed by retrying. No retry budget is spent.
		return Decision{
			Action:     ActionBlock,
			Reason:     fmt.Sprintf("%s cannot be resolved by retrying: %s", c.Name, c.Details),
			ErrorCount: st.counts[c.Name],
		}

	case pattern.NameRateLimited:
		st.cooldownUntil = t.now().Add(t.cfg.RateLimitCooldown)
		return Decision{
			Action:   ActionCooldown,
			Reason:   "rate limited by upstream",
			Cooldown: t.cfg.RateLimitCooldown,
		}

	case pattern.NameAPIError:
		st.cooldownUntil = t.now().Add(t.cfg.TransientCooldown)
		return Decision{
			Action:   ActionCooldown,
			Reason:   "transient API error",
			Cooldown: t.cfg.TransientCooldown,
		}

	case pattern.NameCodexSandbox:
		st.counts[c.Name]++
		n := st.counts[c.Name]
		if n > t.cfg.SandboxRetries {
			return Decision{
				Action:     ActionBlock,
				Reason:     fmt.Sprintf("sandbox failure recurred %d times, assuming environmental", n),
				ErrorCount: n,
			}
		}
		return Decision{
			Action:     ActionRetryWithPrompt,
			Prompt:     pattern.WorkflowPrompt(c.Name, taskTitle, c.Details),
			ErrorCount: n,
		}

	case pattern.NamePushFailure, pattern.NameTestFailure, pattern.NameLintFailure:
		st.counts[c.Name]++
		n := st.counts[c.Name]
		if n > t.cfg.WorkflowRetries {
			return Decision{
				Action:     ActionManual,
				Reason:     fmt.Sprintf("%s persisted after %d attempts", c.Name, n),
				ErrorCount: n,
			}
		}
		return Decision{
			Action:     ActionRetryWithPrompt,
			Prompt:     pattern.WorkflowPrompt(c.Name, taskTitle, c.Details),
			ErrorCount: n,
		}

	default:
		st.counts[c.Name]++
		n := st.counts[c.Name]
		if n >= t.cfg.GenericCeiling {
			return Decision{
				Action:     ActionManual,
				Reason:     fmt.Sprintf("unrecognized error recurred %d times: %s", n, c.Details),
				Prompt:     pattern.WorkflowPrompt(c.Name, taskTitle, c.Details),
				ErrorCount: n,
			}
		}
		return Decision{
			Action:     ActionRetryWithPrompt,
			Prompt:     pattern.WorkflowPrompt(c.Name, taskTitle, c.Details),
			ErrorCount: n,
		}
	}
}

// CooldownRemaining returns how long the task must still wait, zero if none.
func (t *Tracker) CooldownRemaining(taskID string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.tasks[taskID]
	if st == nil {
		return 0
	}
	remaining := st.cooldownUntil.Sub(t.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// LastPattern returns the most recent classification recorded for the task.
func (t *Tracker) LastPattern(taskID string) pattern.Name {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st := t.tasks[taskID]; st != nil {
		return st.lastPattern
	}
	return ""
}

// ErrorCount returns the accumulated count for a (task, pattern) pair.
func (t *Tracker) ErrorCount(taskID string, name pattern.Name) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st := t.tasks[taskID]; st != nil {
		return st.counts[name]
	}
	return 0
}

// Reset clears the recovery state for a task. Called when a task starts or
// completes successfully.
func (t *Tracker) Reset(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, taskID)
}
