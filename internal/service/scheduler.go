package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/adapter/otel"
	"github.com/overseer-dev/overseer/internal/boardsync"
	"github.com/overseer-dev/overseer/internal/bus"
	"github.com/overseer-dev/overseer/internal/resilience"
)

// Scheduler drives the board sync engine on a fixed interval. One cycle at a
// time; a slow cycle delays the next tick rather than overlapping it.
type Scheduler struct {
	engine   *boardsync.Engine
	interval time.Duration
	metrics  *otel.Metrics       // optional
	breaker  *resilience.Breaker // optional
	mode     string
	boardID  string

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewScheduler creates a Scheduler. metrics may be nil.
func NewScheduler(engine *boardsync.Engine, interval time.Duration, mode, boardID string, metrics *otel.Metrics) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		metrics:  metrics,
		mode:     mode,
		boardID:  boardID,
	}
}

// SetBreaker installs a circuit breaker around sync cycles. Repeated provider
// failures open the circuit and pause cycles until the timeout elapses.
func (s *Scheduler) SetBreaker(b *resilience.Breaker) {
	s.breaker = b
}

// StaleChecker builds the engine's stale predicate from the bus liveness map.
// A task whose agent was flagged stale never contends for board ownership.
func StaleChecker(b *bus.Bus) func(taskID string) bool {
	return func(taskID string) bool {
		for _, l := range b.AgentLiveness() {
			if l.TaskID == taskID {
				return !l.Alive
			}
		}
		return false
	}
}

// Start arms the sync loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	slog.Info("sync scheduler started", "interval", s.interval)
}

// Stop disarms the loop and waits for an in-flight cycle to finish. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	slog.Info("sync scheduler stopped")
}

// RunOnce executes a single sync cycle immediately.
func (s *Scheduler) RunOnce(ctx context.Context) (boardsync.SyncStats, error) {
	return s.cycle(ctx)
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.cycle(context.Background()); err != nil {
				if errors.Is(err, resilience.ErrCircuitOpen) {
					slog.Warn("sync cycle skipped: circuit open")
				} else {
					slog.Error("sync cycle failed", "error", err)
				}
			}
		case <-stop:
			return
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) (boardsync.SyncStats, error) {
	ctx, span := otel.StartSyncSpan(ctx, s.mode, s.boardID)
	defer span.End()

	start := time.Now()
	var stats boardsync.SyncStats
	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(func() error {
			var cycleErr error
			stats, cycleErr = s.engine.SyncCycle(ctx)
			return cycleErr
		})
	} else {
		stats, err = s.engine.SyncCycle(ctx)
	}

	if s.metrics != nil {
		s.metrics.SyncCycles.Add(ctx, 1)
		s.metrics.SyncConflicts.Add(ctx, int64(stats.Conflicts))
		s.metrics.SyncDuration.Record(ctx, time.Since(start).Seconds())
	}

	if err == nil {
		slog.Debug("sync cycle complete",
			"pulled", stats.Pulled,
			"created", stats.Created,
			"updated", stats.Updated,
			"pushed", stats.Pushed,
			"conflicts", stats.Conflicts,
			"skipped", stats.Skipped,
		)
	}
	return stats, err
}
