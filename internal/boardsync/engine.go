// Package boardsync keeps the local task store and the external project board
// eventually consistent. It coerces heterogeneous board payload shapes into a
// canonical item list, resolves ownership conflicts, and applies rate-limit
// and transient-failure backoff to outbound calls.
package boardsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/domain/task"
	"github.com/overseer-dev/overseer/internal/port/boardprovider"
	"github.com/overseer-dev/overseer/internal/port/cache"
	"github.com/overseer-dev/overseer/internal/port/database"
)

// itemCacheTTL bounds how long a board item read stays warm in the L1 cache.
const itemCacheTTL = 30 * time.Second

// ResolveMode resolves the board mode with precedence: explicit option, then
// environment value, then the issues default. Unrecognized values fall
// through.
func ResolveMode(option, envValue string) boardprovider.Mode {
	for _, candidate := range []string{option, envValue} {
		switch boardprovider.Mode(strings.ToLower(strings.TrimSpace(candidate))) {
		case boardprovider.ModeIssues:
			return boardprovider.ModeIssues
		case boardprovider.ModeKanban:
			return boardprovider.ModeKanban
		}
	}
	return boardprovider.ModeIssues
}

// ResolveBoardID resolves the board identifier with the same precedence. An
// explicit empty value is "unset" and falls through to the next source.
func ResolveBoardID(option, envValue string) string {
	if v := strings.TrimSpace(option); v != "" {
		return v
	}
	return strings.TrimSpace(envValue)
}

// SyncStats summarizes one sync cycle.
type SyncStats struct {
	Pulled    int  `json:"pulled"`
	Created   int  `json:"created"`
	Updated   int  `json:"updated"`
	Pushed    int  `json:"pushed"`
	Dropped   int  `json:"dropped"`
	Conflicts int  `json:"conflicts"`
	Skipped   bool `json:"skipped"`
}

// Options configures an Engine.
type Options struct {
	// Mode and BoardID are the already-resolved board coordinates (see
	// ResolveMode / ResolveBoardID).
	Mode    boardprovider.Mode
	BoardID string

	// Owners are the candidate board owners tried in rotation when the
	// provider cannot resolve the configured one (user vs organization).
	Owners []string

	// Stale reports whether a task's local claim is known-stale. A stale
	// claim never contends for ownership. Nil means never stale.
	Stale func(taskID string) bool

	// OnConflict is invoked for every detected ownership conflict after the
	// engine has resolved it. Optional.
	OnConflict func(t *task.Task, remoteOwner string)
}

// Engine is the reconciliation engine. One instance per orchestrator; all
// mutable sync state lives here, not in package globals, so multiple engines
// can coexist in tests.
type Engine struct {
	store    database.Store
	provider boardprovider.Provider
	backoff  *Backoff
	cache    cache.Cache
	opts     Options

	ownerIdx int
}

// New creates an Engine. cache may be nil to disable the item fast path.
func New(store database.Store, provider boardprovider.Provider, backoff *Backoff, itemCache cache.Cache, opts Options) *Engine {
	if opts.Mode == "" {
		opts.Mode = boardprovider.ModeIssues
	}
	return &Engine{
		store:    store,
		provider: provider,
		backoff:  backoff,
		cache:    itemCache,
		opts:     opts,
	}
}

// Mode returns the board surface the engine reconciles against.
func (e *Engine) Mode() boardprovider.Mode { return e.opts.Mode }

// CurrentOwner returns the active candidate owner, or "" when none are
// configured.
func (e *Engine) CurrentOwner() string {
	if len(e.opts.Owners) == 0 {
		return ""
	}
	return e.opts.Owners[e.ownerIdx%len(e.opts.Owners)]
}

// rotateOwner advances to the next candidate owner.
func (e *Engine) rotateOwner(reason string) {
	if len(e.opts.Owners) < 2 {
		return
	}
	previous := e.CurrentOwner()
	e.ownerIdx = (e.ownerIdx + 1) % len(e.opts.Owners)
	slog.Warn("rotating board owner",
		"from", previous,
		"to", e.CurrentOwner(),
		"reason", reason,
	)
}

// SyncCycle runs one pull-then-push reconciliation pass. Rate-limited and
// transient provider failures are absorbed into backoff state and reported as
// a skipped cycle, never as a hard error.
func (e *Engine) SyncCycle(ctx context.Context) (SyncStats, error) {
	var stats SyncStats

	if e.backoff != nil {
		if remaining := e.backoff.RateLimitRemaining(); remaining > 0 {
			slog.Debug("sync cycle skipped, rate limit backoff active", "remaining", remaining)
			stats.Skipped = true
			return stats, nil
		}
		if e.backoff.CommandHeldBack("list_items") {
			stats.Skipped = true
			return stats, nil
		}
	}

	remote, ok, err := e.pullRemote(ctx, &stats)
	if err != nil {
		return stats, err
	}
	if !ok {
		stats.Skipped = true
		return stats, nil
	}

	local, err := e.store.ListTasks(ctx)
	if err != nil {
		return stats, fmt.Errorf("list local tasks: %w", err)
	}

	byExternal := make(map[string]*task.Task, len(local))
	for i := range local {
		if local[i].ExternalID != "" {
			byExternal[local[i].ExternalID] = &local[i]
		}
	}

	for _, item := range remote {
		e.reconcileItem(ctx, item, byExternal, &stats)
	}

	e.pushLocal(ctx, local, remote, &stats)

	slog.Info("sync cycle complete",
		"mode", e.opts.Mode,
		"pulled", stats.Pulled,
		"created", stats.Created,
		"updated", stats.Updated,
		"pushed", stats.Pushed,
		"conflicts", stats.Conflicts,
	)
	return stats, nil
}

// pullRemote lists the board and coerces the payload. ok is false when the
// cycle should be skipped (backoff armed, shape invalid); err is reserved for
// failures that must surface.
func (e *Engine) pullRemote(ctx context.Context, stats *SyncStats) ([]boardprovider.Item, bool, error) {
	raw, err := e.provider.ListItems(ctx)
	if err != nil {
		if e.absorbCallError("list_items", err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("list board items: %w", err)
	}
	if e.backoff != nil {
		e.backoff.NoteCommandSuccess("list_items")
	}

	co := CoerceItems(raw)
	if !co.ValidShape {
		if e.backoff == nil || e.backoff.ShouldWarnShape(e.provider.Name(), string(e.opts.Mode), "invalid_listing_shape") {
			slog.Warn("board listing payload has unrecognized shape",
				"provider", e.provider.Name(),
				"mode", e.opts.Mode,
			)
		}
		return nil, false, nil
	}
	stats.Pulled = len(co.Items)
	return co.Items, true, nil
}

// absorbCallError routes an outbound-call failure into backoff/rotation
// state. Returns true when the failure was absorbed and the cycle should
// simply skip; false means the error is a real failure for the caller.
func (e *Engine) absorbCallError(command string, err error) bool {
	switch {
	case IsRateLimited(err):
		if e.backoff != nil {
			e.backoff.NoteRateLimit(0)
		}
		return true
	case IsTransient(err):
		if e.backoff != nil {
			failures := e.backoff.NoteCommandFailure(command)
			slog.Warn("transient board failure", "command", command, "failures", failures, "error", err)
		}
		return true
	case IsOwnerTypeError(err):
		e.rotateOwner(err.Error())
		return true
	}
	return false
}

// reconcileItem folds one remote item into the local store.
func (e *Engine) reconcileItem(ctx context.Context, item boardprovider.Item, byExternal map[string]*task.Task, stats *SyncStats) {
	local, exists := byExternal[item.ExternalID]
	if !exists {
		created, err := e.adoptRemoteItem(ctx, item)
		if err != nil {
			slog.Warn("failed to adopt board item", "external_id", item.ExternalID, "error", err)
			return
		}
		byExternal[item.ExternalID] = created
		stats.Created++
		return
	}

	stale := false
	if e.opts.Stale != nil {
		stale = e.opts.Stale(local.ID)
	}
	if task.OwnerConflict(local.LocalOwner(), item.OwnerID, stale) {
		e.resolveConflict(ctx, local, item.OwnerID)
		stats.Conflicts++
		return
	}

	if e.applyRemoteChanges(ctx, local, item) {
		stats.Updated++
	}
}

// adoptRemoteItem creates a local task for a board item seen for the first
// time.
func (e *Engine) adoptRemoteItem(ctx context.Context, item boardprovider.Item) (*task.Task, error) {
	created, err := e.store.CreateTask(ctx, task.CreateRequest{
		Title:  item.Title,
		Prompt: item.Body,
		Labels: item.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	created.ExternalID = item.ExternalID
	if st := mapBoardStatus(item.Status); st != "" {
		created.Status = st
	}
	if item.OwnerID != "" {
		created.SharedStateOwnerID = item.OwnerID
	}
	if err := e.store.UpdateTask(ctx, created); err != nil {
		return nil, fmt.Errorf("bind external id: %w", err)
	}
	slog.Info("adopted board item", "task_id", created.ID, "external_id", item.ExternalID)
	return created, nil
}

// resolveConflict hands the task to the remote owner. The board is the shared
// source of truth for ownership across orchestrator instances; the local
// claim is released rather than contested.
func (e *Engine) resolveConflict(ctx context.Context, local *task.Task, remoteOwner string) {
	slog.Warn("ownership conflict, remote owner wins",
		"task_id", local.ID,
		"local_owner", local.LocalOwner(),
		"remote_owner", remoteOwner,
	)
	_ = e.store.ReleaseTask(ctx, local.ID, local.LocalOwner())
	local.SharedStateOwnerID = remoteOwner
	local.ClaimedBy = ""
	if local.Meta != nil {
		delete(local.Meta, task.MetaOwnerKey)
	}
	if err := e.store.UpdateTask(ctx, local); err != nil {
		slog.Warn("failed to record conflict resolution", "task_id", local.ID, "error", err)
	}
	if e.opts.OnConflict != nil {
		e.opts.OnConflict(local, remoteOwner)
	}
}

// applyRemoteChanges folds remote field changes into the local task. An owned
// task keeps its local status; the push phase propagates it back to the
// board. Unowned tasks treat the board as authoritative.
func (e *Engine) applyRemoteChanges(ctx context.Context, local *task.Task, item boardprovider.Item) bool {
	owned := local.LocalOwner() != ""

	changed := false
	if st := mapBoardStatus(item.Status); st != "" && st != local.Status && !owned {
		local.Status = st
		changed = true
	}
	if item.Title != "" && item.Title != local.Title {
		local.Title = item.Title
		changed = true
	}
	if item.OwnerID != "" && local.SharedStateOwnerID == "" {
		local.SharedStateOwnerID = item.OwnerID
		changed = true
	}
	if !changed {
		return false
	}
	if err := e.store.UpdateTask(ctx, local); err != nil {
		slog.Warn("failed to apply remote changes", "task_id", local.ID, "error", err)
		return false
	}
	return true
}

// pushLocal pushes unexported tasks and locally-owned status changes to the
// board.
func (e *Engine) pushLocal(ctx context.Context, local []task.Task, remote []boardprovider.Item, stats *SyncStats) {
	caps := e.provider.Capabilities()
	remoteStatus := make(map[string]string, len(remote))
	for _, item := range remote {
		remoteStatus[item.ExternalID] = item.Status
	}

	for i := range local {
		t := &local[i]

		if t.ExternalID == "" {
			if !caps.CreateItem || t.Status.Terminal() {
				continue
			}
			e.exportTask(ctx, t, stats)
			continue
		}

		// Only the local owner pushes status; everyone else treats the
		// board as authoritative.
		if t.LocalOwner() == "" || !caps.UpdateStatus {
			continue
		}
		want := boardStatusFor(t.Status)
		if got, seen := remoteStatus[t.ExternalID]; seen && strings.EqualFold(got, want) {
			continue
		}
		if err := e.provider.UpdateStatus(ctx, t.ExternalID, want); err != nil {
			e.handlePushError(ctx, t, "update_status", err, stats)
			continue
		}
		if e.backoff != nil {
			e.backoff.NoteCommandSuccess("update_status")
		}
		stats.Pushed++
	}
}

// exportTask creates a board item for a local-only task and binds the
// returned external id.
func (e *Engine) exportTask(ctx context.Context, t *task.Task, stats *SyncStats) {
	externalID, err := e.provider.CreateItem(ctx, &boardprovider.Item{
		Title:   t.Title,
		Body:    t.Prompt,
		Status:  boardStatusFor(t.Status),
		Labels:  t.Labels,
		OwnerID: t.LocalOwner(),
	})
	if err != nil {
		e.handlePushError(ctx, t, "create_item", err, stats)
		return
	}
	if e.backoff != nil {
		e.backoff.NoteCommandSuccess("create_item")
	}
	t.ExternalID = externalID
	if err := e.store.UpdateTask(ctx, t); err != nil {
		slog.Warn("failed to bind external id", "task_id", t.ID, "error", err)
		return
	}
	stats.Pushed++
}

// handlePushError absorbs operational failures; a not-found response means
// the remote object was deleted, so the binding is dropped and the task will
// be re-exported on a later cycle.
func (e *Engine) handlePushError(ctx context.Context, t *task.Task, command string, err error, stats *SyncStats) {
	if IsNotFound(err) {
		slog.Info("remote board item gone, dropping binding", "task_id", t.ID, "external_id", t.ExternalID)
		t.ExternalID = ""
		if uerr := e.store.UpdateTask(ctx, t); uerr != nil {
			slog.Warn("failed to drop external binding", "task_id", t.ID, "error", uerr)
			return
		}
		stats.Dropped++
		return
	}
	if e.absorbCallError(command, err) {
		return
	}
	slog.Warn("board push failed", "task_id", t.ID, "command", command, "error", err)
}

// Item fetches a single board item, serving repeat reads from the L1 cache.
func (e *Engine) Item(ctx context.Context, externalID string) (boardprovider.Item, error) {
	cacheKey := itemCacheKey(externalID)
	if e.cache != nil {
		if item, ok := cache.GetJSON[boardprovider.Item](ctx, e.cache, cacheKey); ok {
			return item, nil
		}
	}

	raw, err := e.provider.GetItem(ctx, externalID)
	if err != nil {
		if IsNotFound(err) {
			return boardprovider.Item{}, domain.ErrNotFound
		}
		return boardprovider.Item{}, fmt.Errorf("get board item %s: %w", externalID, err)
	}
	item, ok := CoerceItem(raw)
	if !ok {
		return boardprovider.Item{}, errors.New("board item payload has unrecognized shape")
	}

	if e.cache != nil {
		_ = cache.SetJSON(ctx, e.cache, cacheKey, item, itemCacheTTL)
	}
	return item, nil
}

func itemCacheKey(externalID string) string {
	return "board_item:" + externalID
}

// boardStatusMap pairs local statuses with board column names.
var boardStatusMap = []struct {
	local task.Status
	board string
}{
	{task.StatusDraft, "Draft"},
	{task.StatusTodo, "Todo"},
	{task.StatusInProgress, "In Progress"},
	{task.StatusInReview, "In Review"},
	{task.StatusDone, "Done"},
	{task.StatusCancelled, "Cancelled"},
	{task.StatusBlocked, "Blocked"},
}

// mapBoardStatus maps a board column/state to a local status. Unknown values
// map to "" and leave the local status untouched.
func mapBoardStatus(s string) task.Status {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch normalized {
	case "open":
		return task.StatusTodo
	case "closed":
		return task.StatusDone
	}
	for _, m := range boardStatusMap {
		if strings.EqualFold(m.board, normalized) || string(m.local) == normalized {
			return m.local
		}
	}
	return ""
}

// boardStatusFor maps a local status to its board column name.
func boardStatusFor(s task.Status) string {
	for _, m := range boardStatusMap {
		if m.local == s {
			return m.board
		}
	}
	return "Todo"
}
