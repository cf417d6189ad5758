package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/adapter/otel"
	"github.com/overseer-dev/overseer/internal/bus"
	"github.com/overseer-dev/overseer/internal/logger"
	"github.com/overseer-dev/overseer/internal/port/database"
	"github.com/overseer-dev/overseer/internal/port/executor"
	"github.com/overseer-dev/overseer/internal/recovery"
)

// TurnState is the lifecycle state of one task's executor turn.
type TurnState string

const (
	TurnIdle         TurnState = "idle"
	TurnActive       TurnState = "active"
	TurnRetryPending TurnState = "retry_pending"
)

// turn tracks a single task's in-flight executor work. All transitions happen
// under the supervisor mutex; cleanup (claim release, record removal) is bound
// to the transition back to idle and nowhere else.
type turn struct {
	state      TurnState
	executorID string
	attempt    int
	cancel     context.CancelFunc
	retryTimer *time.Timer
}

// SupervisorOptions tunes the supervisor.
type SupervisorOptions struct {
	// RetryDelay is the pause before an automatic re-dispatch.
	RetryDelay time.Duration
	// TurnTimeout bounds a single executor turn.
	TurnTimeout time.Duration
}

func (o *SupervisorOptions) fillDefaults() {
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.TurnTimeout <= 0 {
		o.TurnTimeout = time.Hour
	}
}

// Supervisor owns the fleet: it dispatches prompts to executors, feeds their
// lifecycle signals into the event bus, and acts on recovery verdicts by
// re-dispatching, cooling down, or leaving the task for an operator.
type Supervisor struct {
	bus   *bus.Bus
	store database.Store
	opts  SupervisorOptions

	mu        sync.Mutex
	executors map[string]executor.Executor
	turns     map[string]*turn

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewSupervisor creates a Supervisor. Executors are registered separately so
// the fleet can grow while the supervisor runs.
func NewSupervisor(b *bus.Bus, store database.Store, opts SupervisorOptions) *Supervisor {
	opts.fillDefaults()
	return &Supervisor{
		bus:       b,
		store:     store,
		opts:      opts,
		executors: make(map[string]executor.Executor),
		turns:     make(map[string]*turn),
	}
}

// RegisterExecutor adds an executor to the fleet, keyed by its ID.
func (s *Supervisor) RegisterExecutor(e executor.Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[e.ID()] = e
}

// Start arms the supervisor. Idempotent.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.started = true
	slog.Info("supervisor started")
}

// Stop cancels all in-flight turns and pending retries, then waits for the
// turn goroutines to drain. Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	for _, t := range s.turns {
		if t.retryTimer != nil {
			t.retryTimer.Stop()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("supervisor stopped")
}

// TurnState returns the current turn state for a task.
func (s *Supervisor) TurnState(taskID string) TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.turns[taskID]; ok {
		return t.state
	}
	return TurnIdle
}

// ActiveTurns returns the number of tasks with a non-idle turn.
func (s *Supervisor) ActiveTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Dispatch claims the task for the named executor and starts a turn with the
// given prompt. Fails when the task already has a turn in flight or the claim
// is contended.
func (s *Supervisor) Dispatch(ctx context.Context, taskID, executorID, prompt string) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("dispatch task %s: supervisor not started", taskID)
	}
	exec, ok := s.executors[executorID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("dispatch task %s: unknown executor %q", taskID, executorID)
	}
	if t, ok := s.turns[taskID]; ok && t.state != TurnIdle {
		s.mu.Unlock()
		return fmt.Errorf("dispatch task %s: turn already %s", taskID, t.state)
	}
	s.turns[taskID] = &turn{state: TurnActive, executorID: executorID, attempt: 1}
	s.mu.Unlock()

	if err := s.store.ClaimTask(ctx, taskID, exec.ID()); err != nil {
		s.toIdle(ctx, taskID, false)
		return fmt.Errorf("dispatch task %s: %w", taskID, err)
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		s.toIdle(ctx, taskID, true)
		return fmt.Errorf("dispatch task %s: %w", taskID, err)
	}
	s.bus.OnTaskStarted(ctx, t)

	s.startTurn(taskID, exec, prompt, false)
	return nil
}

// Abort cancels the in-flight turn for a task, if any.
func (s *Supervisor) Abort(ctx context.Context, taskID string) error {
	s.mu.Lock()
	t, ok := s.turns[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("abort task %s: no turn in flight", taskID)
	}
	if t.retryTimer != nil {
		t.retryTimer.Stop()
	}
	cancel := t.cancel
	exec := s.executors[t.executorID]
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if exec != nil {
		_ = exec.Abort(ctx)
	}
	s.toIdle(ctx, taskID, true)
	return nil
}

// startTurn launches the turn goroutine. resume continues the executor's
// existing session (used on retries).
func (s *Supervisor) startTurn(taskID string, exec executor.Executor, prompt string, resume bool) {
	turnCtx, cancel := context.WithCancel(logger.WithTaskID(s.baseCtx, taskID))

	s.mu.Lock()
	if t, ok := s.turns[taskID]; ok {
		t.cancel = cancel
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runTurn(turnCtx, taskID, exec, prompt, resume)
	}()
}

func (s *Supervisor) runTurn(ctx context.Context, taskID string, exec executor.Executor, prompt string, resume bool) {
	// Forward executor lifecycle signals into the bus for the duration of
	// the turn.
	signalsDone := make(chan struct{})
	go func() {
		defer close(signalsDone)
		for {
			select {
			case ev, ok := <-exec.Events():
				if !ok {
					return
				}
				s.forwardSignal(ctx, taskID, ev)
			case <-ctx.Done():
				return
			}
		}
	}()

	res, err := exec.ExecPrompt(ctx, prompt, executor.Options{
		Timeout: s.opts.TurnTimeout,
		Resume:  resume,
	})

	if err != nil {
		s.handleTurnFailure(ctx, taskID, exec, prompt, err)
		return
	}

	s.bus.OnAgentComplete(ctx, taskID, res.FinalResponse)
	t, gerr := s.store.GetTask(context.WithoutCancel(ctx), taskID)
	if gerr != nil {
		slog.Warn("completed turn for unknown task", "task_id", logger.TaskID(ctx), "error", gerr)
	} else {
		s.bus.OnTaskCompleted(ctx, t, commitsFromResult(res))
	}
	s.toIdle(ctx, taskID, true)
}

func (s *Supervisor) forwardSignal(ctx context.Context, taskID string, ev executor.Event) {
	switch ev.Kind {
	case executor.EventHeartbeat:
		s.bus.OnAgentHeartbeat(ctx, taskID)
	case executor.EventError:
		s.bus.OnAgentError(ctx, taskID, ev.Message)
	case executor.EventSessionIdle:
		s.bus.OnExecutorPaused(ctx, taskID, ev.Message)
	}
}

// handleTurnFailure routes the error through the bus (classifier + recovery
// state machine) and acts on the verdict.
func (s *Supervisor) handleTurnFailure(ctx context.Context, taskID string, exec executor.Executor, prompt string, turnErr error) {
	// The turn context may already be dead; status updates and event
	// emission still need to land.
	ctx = context.WithoutCancel(ctx)

	ctx, span := otel.StartRecoverySpan(ctx, taskID, turnErr.Error())
	defer span.End()

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		slog.Warn("failed turn for unknown task", "task_id", logger.TaskID(ctx), "error", err)
		s.toIdle(ctx, taskID, true)
		return
	}

	d := s.bus.OnTaskFailed(ctx, t, turnErr.Error())
	switch d.Action {
	case recovery.ActionRetryWithPrompt:
		s.scheduleRetry(taskID, exec, d.Prompt, s.opts.RetryDelay)
	case recovery.ActionCooldown:
		delay := d.Cooldown
		if delay <= 0 {
			delay = s.opts.RetryDelay
		}
		s.scheduleRetry(taskID, exec, prompt, delay)
	default:
		// Block and manual both end the turn; the bus has already
		// updated status and notified.
		s.toIdle(ctx, taskID, true)
	}
}

// scheduleRetry parks the turn in retry_pending and arms the re-dispatch
// timer. A Stop or Abort between now and the timer firing cancels the retry.
func (s *Supervisor) scheduleRetry(taskID string, exec executor.Executor, prompt string, delay time.Duration) {
	s.mu.Lock()
	t, ok := s.turns[taskID]
	if !ok || !s.started {
		s.mu.Unlock()
		return
	}
	t.state = TurnRetryPending
	attempt := t.attempt + 1
	t.attempt = attempt
	t.retryTimer = time.AfterFunc(delay, func() {
		s.redispatch(taskID, exec, prompt)
	})
	s.mu.Unlock()

	slog.Info("retry scheduled",
		"task_id", taskID,
		"attempt", attempt,
		"delay", delay,
	)
}

func (s *Supervisor) redispatch(taskID string, exec executor.Executor, prompt string) {
	s.mu.Lock()
	t, ok := s.turns[taskID]
	if !ok || t.state != TurnRetryPending || !s.started {
		s.mu.Unlock()
		return
	}
	t.state = TurnActive
	t.retryTimer = nil
	attempt := t.attempt
	s.mu.Unlock()

	_, span := otel.StartRetrySpan(context.Background(), taskID, attempt)
	defer span.End()
	s.startTurn(taskID, exec, prompt, true)
}

// toIdle is the single exit path for a turn: the claim is released and the
// turn record removed together, so a task can never be left half-cleaned.
func (s *Supervisor) toIdle(ctx context.Context, taskID string, releaseClaim bool) {
	s.mu.Lock()
	t, ok := s.turns[taskID]
	if ok {
		if t.retryTimer != nil {
			t.retryTimer.Stop()
		}
		delete(s.turns, taskID)
	}
	s.mu.Unlock()

	if !ok || !releaseClaim {
		return
	}
	exec := s.executorFor(t.executorID)
	if exec == nil {
		return
	}
	if err := s.store.ReleaseTask(context.WithoutCancel(ctx), taskID, exec.ID()); err != nil {
		slog.Warn("failed to release task claim", "task_id", taskID, "error", err)
	}
}

func (s *Supervisor) executorFor(id string) executor.Executor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executors[id]
}

// commitsFromResult extracts commit hashes recorded by the executor during
// the turn. Executors report commits as tool items with the "git_commit" tool.
func commitsFromResult(res *executor.Result) []string {
	var commits []string
	for _, item := range res.Items {
		if item.Tool == "git_commit" && !item.IsError && item.Content != "" {
			commits = append(commits, item.Content)
		}
	}
	return commits
}
