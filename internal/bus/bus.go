// Package bus implements the agent event bus: the single ingestion point for
// executor lifecycle signals. It records events into a fixed-capacity ring,
// deduplicates bursty duplicates, tracks per-task liveness, and routes
// failures through the recovery tracker to drive auto-actions.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overseer-dev/overseer/internal/domain/event"
	"github.com/overseer-dev/overseer/internal/domain/task"
	"github.com/overseer-dev/overseer/internal/pattern"
	"github.com/overseer-dev/overseer/internal/port/broadcast"
	"github.com/overseer-dev/overseer/internal/port/database"
	"github.com/overseer-dev/overseer/internal/port/notifier"
	"github.com/overseer-dev/overseer/internal/recovery"
)

// Config holds the bus tuning knobs.
type Config struct {
	RingCapacity   int           // event log capacity (default 500)
	DedupWindow    time.Duration // duplicate (kind, task) suppression window (default 500ms)
	StaleThreshold time.Duration // heartbeat age before a task is stale (default 90s)
	SweepInterval  time.Duration // stale sweep period (default 5s)
}

func (c *Config) fillDefaults() {
	if c.RingCapacity <= 0 {
		c.RingCapacity = 500
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 500 * time.Millisecond
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 90 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
}

// Opts modifies a single Emit call.
type Opts struct {
	// SkipBroadcast suppresses the UI side effect while still recording the
	// event and triggering hooks. Used for internal replay.
	SkipBroadcast bool
}

// Liveness is the per-task heartbeat record exposed by queries.
type Liveness struct {
	TaskID        string        `json:"task_id"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	Alive         bool          `json:"alive"`
	StaleSince    time.Duration `json:"stale_since_ms,omitempty"`
}

// livenessRecord is the internal mutable form.
type livenessRecord struct {
	lastHeartbeat time.Time
	alive         bool
	staleAt       time.Time
	flagged       bool // AGENT_STALE emitted for the current episode
}

// Listener receives every recorded event. A panicking listener is isolated
// and never aborts delivery to the remaining listeners.
type Listener func(ev event.Event)

// Notifier is the injected notification collaborator. Failures are swallowed
// by the implementation; the bus treats it as fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification)
}

// Reviewer is the optional auto-review hand-off collaborator invoked when a
// completed task carries commits.
type Reviewer interface {
	RequestReview(ctx context.Context, t *task.Task, commits []string)
}

// Status is a snapshot of the bus's internal state.
type Status struct {
	Running      bool `json:"running"`
	Events       int  `json:"events"`
	Deduped      int  `json:"deduped"`
	Listeners    int  `json:"listeners"`
	TasksTracked int  `json:"tasks_tracked"`
}

// Bus is the agent event bus. All state is owned by the bus and mutated only
// through its methods.
type Bus struct {
	mu  sync.Mutex
	cfg Config

	ring  []event.Event // circular buffer
	start int
	count int

	lastKind   event.Kind
	lastTaskID string
	lastAt     time.Time
	deduped    int

	liveness  map[string]*livenessRecord
	listeners map[int]Listener
	nextID    int

	patternCounts map[pattern.Name]int

	tracker     *recovery.Tracker
	store       database.Store
	broadcaster broadcast.Broadcaster
	notify      Notifier
	reviewer    Reviewer

	running  bool
	stopCh   chan struct{}
	stopDone chan struct{}

	now func() time.Time // for testing
}

// New creates a Bus. store, broadcaster, and notify may be nil in tests; the
// reviewer is optional and set separately.
func New(cfg Config, tracker *recovery.Tracker, store database.Store, broadcaster broadcast.Broadcaster, notify Notifier) *Bus {
	cfg.fillDefaults()
	return &Bus{
		cfg:           cfg,
		ring:          make([]event.Event, cfg.RingCapacity),
		liveness:      make(map[string]*livenessRecord),
		listeners:     make(map[int]Listener),
		patternCounts: make(map[pattern.Name]int),
		tracker:       tracker,
		store:         store,
		broadcaster:   broadcaster,
		notify:        notify,
		now:           time.Now,
	}
}

// NewWithClock is New with an injected clock, for tests.
func NewWithClock(cfg Config, tracker *recovery.Tracker, store database.Store, broadcaster broadcast.Broadcaster, notify Notifier, now func() time.Time) *Bus {
	b := New(cfg, tracker, store, broadcaster, notify)
	b.now = now
	return b
}

// SetReviewer registers the auto-review hand-off collaborator.
func (b *Bus) SetReviewer(r Reviewer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reviewer = r
}

// Start arms the stale-sweep timer. Idempotent.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.stopDone = make(chan struct{})
	go b.sweepLoop(b.stopCh, b.stopDone)
	slog.Info("event bus started",
		"ring_capacity", b.cfg.RingCapacity,
		"stale_threshold", b.cfg.StaleThreshold,
	)
}

// Stop disarms the stale-sweep timer. Safe to call repeatedly.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	done := b.stopDone
	b.mu.Unlock()

	<-done
	slog.Info("event bus stopped")
}

func (b *Bus) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.SweepStale(context.Background())
		}
	}
}

// SweepStale scans liveness records and emits AGENT_STALE exactly once per
// staleness episode. Exported so tests and the supervisor can force a sweep.
func (b *Bus) SweepStale(ctx context.Context) {
	b.mu.Lock()
	now := b.now()
	var stale []string
	for taskID, rec := range b.liveness {
		if rec.flagged {
			continue
		}
		if now.Sub(rec.lastHeartbeat) >= b.cfg.StaleThreshold {
			rec.alive = false
			rec.staleAt = rec.lastHeartbeat.Add(b.cfg.StaleThreshold)
			rec.flagged = true
			stale = append(stale, taskID)
		}
	}
	b.mu.Unlock()

	for _, taskID := range stale {
		b.Emit(ctx, event.KindAgentStale, taskID, map[string]any{
			"stale_threshold_ms": b.cfg.StaleThreshold.Milliseconds(),
		}, Opts{})
		slog.Warn("agent went stale", "task_id", taskID)
	}
}

// Emit records an event (subject to dedup), broadcasts it, and notifies
// listeners. The payload is marshaled once; a payload that fails to marshal
// is recorded with empty payload rather than dropped.
func (b *Bus) Emit(ctx context.Context, kind event.Kind, taskID string, payload any, opts Opts) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.Error("event payload marshal failed", "kind", kind, "task_id", taskID, "error", err)
		} else {
			raw = data
		}
	}

	b.mu.Lock()
	now := b.now()

	// Dedup: drop an event identical in (kind, task) to the immediately
	// preceding one inside the window. Absorbs bursty duplicate signals
	// without losing state-changing events.
	if kind == b.lastKind && taskID == b.lastTaskID && now.Sub(b.lastAt) < b.cfg.DedupWindow {
		b.deduped++
		b.mu.Unlock()
		return
	}
	b.lastKind, b.lastTaskID, b.lastAt = kind, taskID, now

	ev := event.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		TaskID:    taskID,
		Payload:   raw,
		Timestamp: now,
	}
	b.push(ev)

	if kind == event.KindAgentHeartbeat {
		b.touchLiveness(taskID, now)
	}

	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	broadcaster := b.broadcaster
	b.mu.Unlock()

	if broadcaster != nil && !opts.SkipBroadcast {
		broadcaster.BroadcastEvent(ctx, string(kind), ev)
	}

	for _, fn := range listeners {
		b.invokeListener(fn, ev)
	}
}

// invokeListener isolates listener panics so one bad subscriber never blocks
// delivery to the rest.
func (b *Bus) invokeListener(fn Listener, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event listener panicked", "kind", ev.Kind, "task_id", ev.TaskID, "panic", fmt.Sprint(r))
		}
	}()
	fn(ev)
}

// push appends to the ring, evicting the oldest entry when full.
// Caller holds b.mu.
func (b *Bus) push(ev event.Event) {
	if b.count < len(b.ring) {
		b.ring[(b.start+b.count)%len(b.ring)] = ev
		b.count++
		return
	}
	b.ring[b.start] = ev
	b.start = (b.start + 1) % len(b.ring)
}

// touchLiveness records a fresh heartbeat. Caller holds b.mu.
func (b *Bus) touchLiveness(taskID string, now time.Time) {
	rec := b.liveness[taskID]
	if rec == nil {
		rec = &livenessRecord{}
		b.liveness[taskID] = rec
	}
	rec.lastHeartbeat = now
	rec.alive = true
	rec.flagged = false // re-arm stale detection
	rec.staleAt = time.Time{}
}

// AddListener registers a listener and returns its unsubscribe func.
func (b *Bus) AddListener(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// EventLog returns a read-only copy of recorded events in stored order,
// filtered by the given filter. Limit keeps the newest entries.
func (b *Bus) EventLog(f event.Filter) []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]event.Event, 0, b.count)
	for i := range b.count {
		ev := b.ring[(b.start+i)%len(b.ring)]
		if f.Match(&ev) {
			out = append(out, ev)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// ErrorHistory returns the recorded error-ish events for a task.
func (b *Bus) ErrorHistory(taskID string) []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []event.Event
	for i := range b.count {
		ev := b.ring[(b.start+i)%len(b.ring)]
		if ev.TaskID != taskID {
			continue
		}
		switch ev.Kind {
		case event.KindTaskFailed, event.KindAgentError, event.KindPatternDetected, event.KindHookFailed:
			out = append(out, ev)
		}
	}
	return out
}

// ErrorPatternSummary returns counts of classified error patterns seen since
// the bus was created.
func (b *Bus) ErrorPatternSummary() map[pattern.Name]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[pattern.Name]int, len(b.patternCounts))
	for k, v := range b.patternCounts {
		out[k] = v
	}
	return out
}

// AgentLiveness returns the liveness snapshot for all tracked tasks.
func (b *Bus) AgentLiveness() []Liveness {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	out := make([]Liveness, 0, len(b.liveness))
	for taskID, rec := range b.liveness {
		l := Liveness{
			TaskID:        taskID,
			LastHeartbeat: rec.lastHeartbeat,
			Alive:         rec.alive,
		}
		if !rec.alive && !rec.staleAt.IsZero() {
			l.StaleSince = now.Sub(rec.staleAt)
		}
		out = append(out, l)
	}
	return out
}

// Status returns a snapshot of the bus state.
func (b *Bus) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Running:      b.running,
		Events:       b.count,
		Deduped:      b.deduped,
		Listeners:    len(b.listeners),
		TasksTracked: len(b.liveness),
	}
}
