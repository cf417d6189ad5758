package recovery

import (
	"strings"
	"testing"
	"time"

	"github.com/overseer-dev/overseer/internal/pattern"
)

func newTestTracker() *Tracker {
	tr := NewTracker(DefaultConfig())
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }
	return tr
}

func classification(name pattern.Name, details string) pattern.Classification {
	return pattern.Classification{Name: name, Confidence: 0.9, Details: details}
}

func TestRecordError_AuthBlocksImmediately(t *testing.T) {
	tr := newTestTracker()

	d := tr.RecordError("t1", classification(pattern.NameAuthError, "401 unauthorized"), "fix bug")
	if d.Action != ActionBlock {
		t.Fatalf("expected block on first auth_error, got %s", d.Action)
	}
	if d.ErrorCount != 0 {
		t.Fatalf("auth_error must not spend retry budget, count = %d", d.ErrorCount)
	}
}

func TestRecordError_PushFailureEscalation(t *testing.T) {
	tr := newTestTracker()
	c := classification(pattern.NamePushFailure, "remote rejected")

	for attempt := 1; attempt <= 2; attempt++ {
		d := tr.RecordError("t1", c, "fix bug")
		if d.Action != ActionRetryWithPrompt {
			t.Fatalf("attempt %d: expected retry_with_prompt, got %s", attempt, d.Action)
		}
		if !strings.Contains(d.Prompt, "git push failed") {
			t.Fatalf("attempt %d: expected push remediation prompt, got %q", attempt, d.Prompt)
		}
		if d.ErrorCount != attempt {
			t.Fatalf("attempt %d: count = %d", attempt, d.ErrorCount)
		}
	}

	d := tr.RecordError("t1", c, "fix bug")
	if d.Action != ActionManual {
		t.Fatalf("third attempt: expected manual, got %s", d.Action)
	}
	if d.ErrorCount != 3 {
		t.Fatalf("third attempt: count = %d", d.ErrorCount)
	}
}

func TestRecordError_CountersArePerTaskPerPattern(t *testing.T) {
	tr := newTestTracker()

	tr.RecordError("t1", classification(pattern.NamePushFailure, "x"), "a")
	tr.RecordError("t1", classification(pattern.NamePushFailure, "x"), "a")
	// Different pattern on the same task keeps its own budget.
	d := tr.RecordError("t1", classification(pattern.NameTestFailure, "x"), "a")
	if d.Action != ActionRetryWithPrompt || d.ErrorCount != 1 {
		t.Fatalf("test_failure should have a fresh counter, got %s count %d", d.Action, d.ErrorCount)
	}
	// Same pattern on a different task keeps its own budget.
	d = tr.RecordError("t2", classification(pattern.NamePushFailure, "x"), "b")
	if d.Action != ActionRetryWithPrompt || d.ErrorCount != 1 {
		t.Fatalf("t2 push_failure should have a fresh counter, got %s count %d", d.Action, d.ErrorCount)
	}
}

func TestRecordError_SandboxRetryThenBlock(t *testing.T) {
	tr := newTestTracker()
	c := classification(pattern.NameCodexSandbox, "sandbox denied")

	d := tr.RecordError("t1", c, "fix bug")
	if d.Action != ActionRetryWithPrompt {
		t.Fatalf("first sandbox failure: expected retry, got %s", d.Action)
	}
	d = tr.RecordError("t1", c, "fix bug")
	if d.Action != ActionBlock {
		t.Fatalf("second sandbox failure: expected block, got %s", d.Action)
	}
}

func TestRecordError_RateLimitCooldown(t *testing.T) {
	tr := newTestTracker()

	d := tr.RecordError("t1", classification(pattern.NameRateLimited, "429"), "fix bug")
	if d.Action != ActionCooldown {
		t.Fatalf("expected cooldown, got %s", d.Action)
	}
	if d.Cooldown != 5*time.Minute {
		t.Fatalf("expected 5m cooldown, got %v", d.Cooldown)
	}
	if got := tr.CooldownRemaining("t1"); got != 5*time.Minute {
		t.Fatalf("CooldownRemaining = %v", got)
	}

	// Cooldowns never touch retry counters.
	if n := tr.ErrorCount("t1", pattern.NameRateLimited); n != 0 {
		t.Fatalf("rate_limited must not increment counters, got %d", n)
	}
}

func TestRecordError_TransientAPIErrorCooldown(t *testing.T) {
	tr := newTestTracker()

	d := tr.RecordError("t1", classification(pattern.NameAPIError, "502 bad gateway"), "fix bug")
	if d.Action != ActionCooldown {
		t.Fatalf("expected cooldown, got %s", d.Action)
	}
	if d.Cooldown != time.Minute {
		t.Fatalf("expected 1m cooldown, got %v", d.Cooldown)
	}
}

func TestRecordError_GenericCeiling(t *testing.T) {
	tr := newTestTracker()
	c := classification(pattern.NameUnknown, "go build failed: undefined reference to main")

	d := tr.RecordError("t1", c, "fix bug")
	if d.Action != ActionRetryWithPrompt {
		t.Fatalf("first unknown: expected retry, got %s", d.Action)
	}
	d = tr.RecordError("t1", c, "fix bug")
	if d.Action != ActionRetryWithPrompt {
		t.Fatalf("second unknown: expected retry, got %s", d.Action)
	}
	d = tr.RecordError("t1", c, "fix bug")
	if d.Action != ActionManual {
		t.Fatalf("third unknown: expected manual, got %s", d.Action)
	}
	if !strings.Contains(d.Prompt, "undefined reference to main") {
		t.Fatalf("prompt should contain the literal failing text, got %q", d.Prompt)
	}
}

func TestReset_ClearsState(t *testing.T) {
	tr := newTestTracker()
	c := classification(pattern.NamePushFailure, "x")

	tr.RecordError("t1", c, "a")
	tr.RecordError("t1", c, "a")
	tr.Reset("t1")

	d := tr.RecordError("t1", c, "a")
	if d.Action != ActionRetryWithPrompt || d.ErrorCount != 1 {
		t.Fatalf("expected fresh budget after reset, got %s count %d", d.Action, d.ErrorCount)
	}
}

func TestCooldownRemaining_Expires(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	current := base
	tr.now = func() time.Time { return current }

	tr.RecordError("t1", classification(pattern.NameRateLimited, "429"), "fix bug")
	current = base.Add(6 * time.Minute)
	if got := tr.CooldownRemaining("t1"); got != 0 {
		t.Fatalf("expected expired cooldown, got %v", got)
	}
}
