package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/overseer-dev/overseer/internal/boardsync"
	"github.com/overseer-dev/overseer/internal/bus"
	"github.com/overseer-dev/overseer/internal/port/boardprovider"
	"github.com/overseer-dev/overseer/internal/recovery"
	"github.com/overseer-dev/overseer/internal/resilience"
	"github.com/overseer-dev/overseer/internal/service"
)

// stubProvider serves a fixed listing payload and counts list calls.
type stubProvider struct {
	mu      sync.Mutex
	payload string
	listErr error
	lists   int
}

func (p *stubProvider) Name() string             { return "stub" }
func (p *stubProvider) Mode() boardprovider.Mode { return boardprovider.ModeIssues }
func (p *stubProvider) Capabilities() boardprovider.Capabilities {
	return boardprovider.Capabilities{ListItems: true, GetItem: true, CreateItem: true, UpdateItem: true, UpdateStatus: true}
}

func (p *stubProvider) ListItems(context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lists++
	if p.listErr != nil {
		return nil, p.listErr
	}
	return json.RawMessage(p.payload), nil
}

func (p *stubProvider) listCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lists
}

func (p *stubProvider) GetItem(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (p *stubProvider) CreateItem(context.Context, *boardprovider.Item) (string, error) {
	return "I_1", nil
}
func (p *stubProvider) UpdateItem(context.Context, *boardprovider.Item) error { return nil }
func (p *stubProvider) UpdateStatus(context.Context, string, string) error    { return nil }

func newTestScheduler(store *memStore, provider boardprovider.Provider, stale func(string) bool) *service.Scheduler {
	engine := boardsync.New(store, provider, boardsync.NewBackoff(nil), nil, boardsync.Options{
		Mode:  boardprovider.ModeIssues,
		Stale: stale,
	})
	return service.NewScheduler(engine, 10*time.Millisecond, "issues", "", nil)
}

func TestSchedulerRunOnce(t *testing.T) {
	store := newMemStore()
	provider := &stubProvider{payload: `[{"number": 7, "title": "imported", "state": "open"}]`}
	sched := newTestScheduler(store, provider, nil)

	stats, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.Pulled != 1 || stats.Created != 1 {
		t.Fatalf("expected 1 pulled and 1 created, got %+v", stats)
	}

	tasks, _ := store.ListTasks(context.Background())
	if len(tasks) != 1 || tasks[0].Title != "imported" {
		t.Fatalf("expected imported task, got %+v", tasks)
	}
}

func TestSchedulerLoopTicks(t *testing.T) {
	store := newMemStore()
	provider := &stubProvider{payload: `[]`}
	sched := newTestScheduler(store, provider, nil)

	sched.Start()
	sched.Start() // idempotent
	defer sched.Stop()

	waitFor(t, func() bool { return provider.listCount() >= 2 }, "scheduler never ticked twice")

	sched.Stop()
	sched.Stop() // idempotent
	n := provider.listCount()
	time.Sleep(30 * time.Millisecond)
	if provider.listCount() != n {
		t.Fatal("scheduler kept ticking after Stop")
	}
}

func TestSchedulerBreakerOpensAfterFailures(t *testing.T) {
	store := newMemStore()
	provider := &stubProvider{listErr: errors.New("api unreachable")}
	sched := newTestScheduler(store, provider, nil)
	sched.SetBreaker(resilience.NewBreaker(2, time.Hour))

	for i := 0; i < 2; i++ {
		if _, err := sched.RunOnce(context.Background()); err == nil {
			t.Fatal("expected provider error")
		}
	}
	if n := provider.listCount(); n != 2 {
		t.Fatalf("expected 2 provider calls, got %d", n)
	}

	// Circuit is open now: cycles are rejected before reaching the provider.
	_, err := sched.RunOnce(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if n := provider.listCount(); n != 2 {
		t.Fatalf("open circuit must not call the provider, got %d calls", n)
	}
}

func TestStaleCheckerReflectsLiveness(t *testing.T) {
	store := newMemStore()
	b := bus.NewWithClock(bus.Config{StaleThreshold: 50 * time.Millisecond},
		recovery.NewTracker(recovery.DefaultConfig()), store, nil, nil, time.Now)

	stale := service.StaleChecker(b)

	// Unknown tasks are not stale.
	if stale("t1") {
		t.Fatal("untracked task must not be stale")
	}

	b.OnAgentHeartbeat(context.Background(), "t1")
	if stale("t1") {
		t.Fatal("fresh heartbeat must not be stale")
	}

	time.Sleep(60 * time.Millisecond)
	b.SweepStale(context.Background())
	if !stale("t1") {
		t.Fatal("expired heartbeat must be stale")
	}

	// A fresh heartbeat re-arms the record.
	b.OnAgentHeartbeat(context.Background(), "t1")
	if stale("t1") {
		t.Fatal("re-armed heartbeat must not be stale")
	}
}
