package boardsync

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/statefile"
)

// Outbound-call error taxonomy. Rate-limited and transient failures are
// operational conditions, not task failures; not-found means the remote object
// was deleted and the local record may be dropped or recreated.
var (
	rateLimitRe = regexp.MustCompile(`(?i)rate limit|secondary rate|abuse detection|too many requests|retry.?after`)
	transientRe = regexp.MustCompile(`(?i)bad gateway|service unavailable|gateway timeout|connection (reset|refused|timed out)|socket hang.?up|\b50[234]\b`)
	notFoundRe  = regexp.MustCompile(`(?i)\b404\b|\bhttp 404\b|not found`)
	// The GraphQL form must stay scoped to the issue/PR field: every other
	// GraphQL error is a real failure and must surface.
	graphqlGoneRe = regexp.MustCompile(`(?i)could not resolve to an? (issue|pull ?request)`)
	ownerTypeRe   = regexp.MustCompile(`(?i)unknown owner type|could not resolve owner|project not found`)
)

// IsRateLimited reports whether the error text is a rate-limit response.
func IsRateLimited(err error) bool {
	return err != nil && rateLimitRe.MatchString(err.Error())
}

// IsTransient reports whether the error text is a retryable infrastructure
// failure.
func IsTransient(err error) bool {
	return err != nil && transientRe.MatchString(err.Error())
}

// IsNotFound reports whether the error indicates the remote object no longer
// exists: an HTTP-404-shaped message, or the GraphQL resolution error for an
// issue/PR node.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	text := err.Error()
	return notFoundRe.MatchString(text) || graphqlGoneRe.MatchString(text)
}

// IsOwnerTypeError reports whether the error indicates the configured board
// owner is the wrong kind (user vs organization) or cannot be resolved.
// Callers rotate to the next candidate owner rather than aborting the cycle.
func IsOwnerTypeError(err error) bool {
	return err != nil && ownerTypeRe.MatchString(err.Error())
}

// transientDelays is the retry schedule for transient failures. Attempts
// beyond the schedule reuse the last entry.
var transientDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
}

// TransientDelay returns the wait before retry attempt n (1-based).
func TransientDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(transientDelays) {
		attempt = len(transientDelays)
	}
	return transientDelays[attempt-1]
}

// commandRecord tracks consecutive failures of one project-scoped command.
type commandRecord struct {
	Failures int       `json:"failures"`
	Until    time.Time `json:"until"`
}

// backoffState is the persisted document. Surviving restarts matters: a crash
// must not reset an already-established backoff window.
type backoffState struct {
	RateLimitUntil time.Time                `json:"rate_limit_until,omitempty"`
	Commands       map[string]commandRecord `json:"commands,omitempty"`
	ShapeWarnings  map[string]time.Time     `json:"shape_warnings,omitempty"`
}

// Backoff is the process-wide backoff ledger for the sync engine's external
// calls. Safe for concurrent use; every mutation is persisted best-effort.
type Backoff struct {
	mu    sync.Mutex
	state backoffState
	file  *statefile.File

	rateLimitWindow time.Duration
	warnInterval    time.Duration
	now             func() time.Time
}

// NewBackoff loads the persisted ledger (missing or corrupt files start
// fresh). file may be nil for an in-memory-only ledger in tests.
func NewBackoff(file *statefile.File) *Backoff {
	b := &Backoff{
		file:            file,
		rateLimitWindow: 60 * time.Second,
		warnInterval:    10 * time.Minute,
		now:             time.Now,
	}
	b.state.Commands = make(map[string]commandRecord)
	b.state.ShapeWarnings = make(map[string]time.Time)
	if file != nil {
		var loaded backoffState
		if ok, err := file.Load(&loaded); err != nil {
			slog.Warn("backoff state load failed", "error", err)
		} else if ok {
			if loaded.Commands == nil {
				loaded.Commands = make(map[string]commandRecord)
			}
			if loaded.ShapeWarnings == nil {
				loaded.ShapeWarnings = make(map[string]time.Time)
			}
			b.state = loaded
		}
	}
	return b
}

// NewBackoffWithClock is NewBackoff with an injected clock, for tests.
func NewBackoffWithClock(file *statefile.File, now func() time.Time) *Backoff {
	b := NewBackoff(file)
	b.now = now
	return b
}

// NoteRateLimit records a rate-limit response and arms the process-wide
// deadline. retryAfter <= 0 uses the default window.
func (b *Backoff) NoteRateLimit(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = b.rateLimitWindow
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	until := b.now().Add(retryAfter)
	if until.After(b.state.RateLimitUntil) {
		b.state.RateLimitUntil = until
	}
	b.persistLocked()
	slog.Warn("rate limit backoff armed", "until", b.state.RateLimitUntil)
}

// RateLimitRemaining returns how long outbound calls should still be held
// back; zero means the path is clear.
func (b *Backoff) RateLimitRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining := b.state.RateLimitUntil.Sub(b.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// NoteCommandFailure records a consecutive failure of a project-scoped
// command and extends its backoff window along the transient schedule.
// Returns the new consecutive-failure count.
func (b *Backoff) NoteCommandFailure(command string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.state.Commands[command]
	rec.Failures++
	rec.Until = b.now().Add(TransientDelay(rec.Failures))
	b.state.Commands[command] = rec
	b.persistLocked()
	return rec.Failures
}

// NoteCommandSuccess clears the failure record for a command.
func (b *Backoff) NoteCommandSuccess(command string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.state.Commands[command]; !ok {
		return
	}
	delete(b.state.Commands, command)
	b.persistLocked()
}

// CommandHeldBack reports whether a command is inside its backoff window.
func (b *Backoff) CommandHeldBack(command string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.state.Commands[command]
	return ok && rec.Until.After(b.now())
}

// CommandFailures returns the consecutive-failure count for a command.
func (b *Backoff) CommandFailures(command string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Commands[command].Failures
}

// ShouldWarnShape throttles payload-shape warnings to once per interval for
// each (role, name, reason) triple, so a persistently malformed listing does
// not flood the log on every poll.
func (b *Backoff) ShouldWarnShape(role, name, reason string) bool {
	key := fmt.Sprintf("%s|%s|%s", role, name, reason)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if last, ok := b.state.ShapeWarnings[key]; ok && now.Sub(last) < b.warnInterval {
		return false
	}
	b.state.ShapeWarnings[key] = now
	b.persistLocked()
	return true
}

// Reset clears all backoff state. Operator/test hook.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = backoffState{
		Commands:      make(map[string]commandRecord),
		ShapeWarnings: make(map[string]time.Time),
	}
	b.persistLocked()
}

// persistLocked saves the ledger best-effort. Caller holds b.mu.
func (b *Backoff) persistLocked() {
	if b.file == nil {
		return
	}
	if err := b.file.Save(b.state); err != nil {
		slog.Warn("backoff state save failed", "error", err)
	}
}
