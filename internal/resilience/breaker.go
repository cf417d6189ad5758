// Package resilience provides reliability patterns for external service calls.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/statefile"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// BreakerState is the persisted snapshot of a breaker. A restart resumes an
// already-open circuit instead of hammering a failing dependency from zero.
type BreakerState struct {
	FailureCount      int       `json:"failureCount"`
	LastFailureReason string    `json:"lastFailureReason,omitempty"`
	DisabledUntil     time.Time `json:"disabledUntil,omitempty"`
	LastNotifiedAt    time.Time `json:"lastNotifiedAt,omitempty"`
}

// Breaker implements a circuit breaker pattern for protecting external calls.
// It tracks consecutive failures and opens the circuit when a threshold is reached,
// preventing further calls until a timeout elapses.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	lastReason  string
	notifiedAt  time.Time
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	file        *statefile.File
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before transitioning to half-open.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

// NewPersistedBreaker is NewBreaker with on-disk state. An open window
// recorded before a crash is honored on restart; load failures start closed.
func NewPersistedBreaker(maxFailures int, timeout time.Duration, file *statefile.File) *Breaker {
	b := NewBreaker(maxFailures, timeout)
	b.file = file

	var snap BreakerState
	if ok, err := file.Load(&snap); err != nil {
		slog.Warn("breaker state load failed", "error", err)
	} else if ok {
		b.failures = snap.FailureCount
		b.lastReason = snap.LastFailureReason
		b.notifiedAt = snap.LastNotifiedAt
		if snap.DisabledUntil.After(b.now()) {
			b.state = stateOpen
			b.openedAt = snap.DisabledUntil.Add(-timeout)
		}
	}
	return b
}

// Execute runs fn if the circuit is closed or half-open.
// Returns ErrCircuitOpen if the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure(err.Error())
		return err
	}

	b.onSuccess()
	return nil
}

// Snapshot returns the breaker's current persisted view.
func (b *Breaker) Snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// ShouldNotify reports whether enough time has passed since the last operator
// notification about this breaker, and records the notification when so.
func (b *Breaker) ShouldNotify(interval time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if !b.notifiedAt.IsZero() && now.Sub(b.notifiedAt) < interval {
		return false
	}
	b.notifiedAt = now
	b.persistLocked()
	return true
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(reason string) {
	b.failures++
	b.lastReason = reason
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = b.now()
	}
	b.persistLocked()
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.lastReason = ""
	b.state = stateClosed
	b.persistLocked()
}

// snapshotLocked builds the persisted view. Caller holds b.mu.
func (b *Breaker) snapshotLocked() BreakerState {
	snap := BreakerState{
		FailureCount:      b.failures,
		LastFailureReason: b.lastReason,
		LastNotifiedAt:    b.notifiedAt,
	}
	if b.state == stateOpen {
		snap.DisabledUntil = b.openedAt.Add(b.timeout)
	}
	return snap
}

// persistLocked saves the snapshot best-effort. Caller holds b.mu.
func (b *Breaker) persistLocked() {
	if b.file == nil {
		return
	}
	if err := b.file.Save(b.snapshotLocked()); err != nil {
		slog.Warn("breaker state save failed", "error", err)
	}
}
