package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/overseer-dev/overseer/internal/domain/event"
	"github.com/overseer-dev/overseer/internal/domain/task"
	"github.com/overseer-dev/overseer/internal/pattern"
	"github.com/overseer-dev/overseer/internal/port/notifier"
	"github.com/overseer-dev/overseer/internal/recovery"
)

// Typed emit wrappers. These shape payloads consistently so every producer of
// a given signal looks the same in the log.

// OnTaskStarted records the start of a task and resets its recovery state.
func (b *Bus) OnTaskStarted(ctx context.Context, t *task.Task) {
	if b.tracker != nil {
		b.tracker.Reset(t.ID)
	}
	b.Emit(ctx, event.KindTaskStarted, t.ID, map[string]any{
		"title": t.Title,
		"owner": t.LocalOwner(),
	}, Opts{})
}

// OnTaskCompleted records completion, resets recovery state, and hands the
// task to the review collaborator when the completion produced commits.
func (b *Bus) OnTaskCompleted(ctx context.Context, t *task.Task, commits []string) {
	if b.tracker != nil {
		b.tracker.Reset(t.ID)
	}
	b.Emit(ctx, event.KindTaskCompleted, t.ID, map[string]any{
		"title":   t.Title,
		"commits": commits,
	}, Opts{})

	b.mu.Lock()
	reviewer := b.reviewer
	b.mu.Unlock()
	if reviewer != nil && len(commits) > 0 {
		reviewer.RequestReview(ctx, t, commits)
		slog.Info("review hand-off requested", "task_id", t.ID, "commits", len(commits))
	}
}

// OnTaskFailed routes the failure through the classifier and recovery state
// machine, then emits the matching auto-action event. Classification never
// throws; only the verdict drives behavior.
func (b *Bus) OnTaskFailed(ctx context.Context, t *task.Task, errText string) recovery.Decision {
	b.Emit(ctx, event.KindTaskFailed, t.ID, map[string]any{
		"title": t.Title,
		"error": errText,
	}, Opts{})

	c := pattern.Classify(errText)

	b.mu.Lock()
	b.patternCounts[c.Name]++
	b.mu.Unlock()

	b.Emit(ctx, event.KindPatternDetected, t.ID, c, Opts{})

	if b.tracker == nil {
		return recovery.Decision{Action: recovery.ActionManual, Reason: "no recovery tracker configured"}
	}
	d := b.tracker.RecordError(t.ID, c, t.Title)

	switch d.Action {
	case recovery.ActionRetryWithPrompt:
		b.Emit(ctx, event.KindAutoRetry, t.ID, d, Opts{})
	case recovery.ActionCooldown:
		b.Emit(ctx, event.KindAutoCooldown, t.ID, d, Opts{})
	case recovery.ActionBlock:
		b.Emit(ctx, event.KindAutoBlock, t.ID, d, Opts{})
		b.markBlocked(ctx, t, d.Reason)
	case recovery.ActionManual:
		b.sendNotification(ctx, notifier.Notification{
			Title:   fmt.Sprintf("Task needs attention: %s", t.Title),
			Message: fmt.Sprintf("%s (after %d errors)", d.Reason, d.ErrorCount),
			Level:   "warning",
			Source:  "task.manual",
		})
	}

	slog.Info("task failure routed",
		"task_id", t.ID,
		"pattern", c.Name,
		"action", d.Action,
		"error_count", d.ErrorCount,
	)
	return d
}

// markBlocked transitions the task to blocked in the store and notifies.
// Both sides are best-effort: a broken store or channel must not abort the
// orchestration path.
func (b *Bus) markBlocked(ctx context.Context, t *task.Task, reason string) {
	if b.store != nil {
		if err := b.store.UpdateTaskStatus(ctx, t.ID, task.StatusBlocked); err != nil {
			slog.Warn("failed to mark task blocked", "task_id", t.ID, "error", err)
		}
	}
	b.sendNotification(ctx, notifier.Notification{
		Title:   fmt.Sprintf("Task blocked: %s", t.Title),
		Message: reason,
		Level:   "error",
		Source:  "task.blocked",
	})
}

func (b *Bus) sendNotification(ctx context.Context, n notifier.Notification) {
	if b.notify == nil {
		return
	}
	b.notify.Notify(ctx, n)
}

// OnAgentComplete records the executor finishing its turn.
func (b *Bus) OnAgentComplete(ctx context.Context, taskID, finalResponse string) {
	b.Emit(ctx, event.KindAgentComplete, taskID, map[string]any{
		"final_response": finalResponse,
	}, Opts{})
}

// OnAgentError records a non-terminal executor error.
func (b *Bus) OnAgentError(ctx context.Context, taskID, errText string) {
	b.Emit(ctx, event.KindAgentError, taskID, map[string]any{
		"error": errText,
	}, Opts{})
}

// OnAgentHeartbeat records a heartbeat and refreshes the liveness record.
func (b *Bus) OnAgentHeartbeat(ctx context.Context, taskID string) {
	b.Emit(ctx, event.KindAgentHeartbeat, taskID, nil, Opts{})
}

// OnStatusChange records a task status transition and notifies when the task
// became blocked.
func (b *Bus) OnStatusChange(ctx context.Context, t *task.Task, from, to task.Status) {
	b.Emit(ctx, event.KindStatusChange, t.ID, map[string]any{
		"from": from,
		"to":   to,
	}, Opts{})

	if to == task.StatusBlocked {
		b.sendNotification(ctx, notifier.Notification{
			Title:   fmt.Sprintf("Task blocked: %s", t.Title),
			Message: fmt.Sprintf("status changed %s -> %s", from, to),
			Level:   "warning",
			Source:  "task.blocked",
		})
	}
}

// OnExecutorPaused records an executor pause.
func (b *Bus) OnExecutorPaused(ctx context.Context, taskID, reason string) {
	b.Emit(ctx, event.KindExecutorPaused, taskID, map[string]any{"reason": reason}, Opts{})
}

// OnExecutorResumed records an executor resume.
func (b *Bus) OnExecutorResumed(ctx context.Context, taskID string) {
	b.Emit(ctx, event.KindExecutorResumed, taskID, nil, Opts{})
}

// OnHookResult records the outcome of a named lifecycle hook (quality gate,
// pre-push check, and similar).
func (b *Bus) OnHookResult(ctx context.Context, taskID, hookName string, passed bool, detail string) {
	kind := event.KindHookPassed
	if !passed {
		kind = event.KindHookFailed
	}
	b.Emit(ctx, kind, taskID, map[string]any{
		"hook":   hookName,
		"detail": detail,
	}, Opts{})
}
