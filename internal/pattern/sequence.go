package pattern

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Message is one entry in an agent's recent transcript window.
type Message struct {
	Role      string    `json:"role"` // "assistant", "tool", "system"
	Content   string    `json:"content"`
	Tool      string    `json:"tool,omitempty"`      // set when the message is a tool invocation
	ToolArgs  string    `json:"tool_args,omitempty"` // serialized invocation arguments
	IsError   bool      `json:"is_error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Analysis is the result of scanning a message window for behavioral stalls.
type Analysis struct {
	Patterns []Name `json:"patterns"`
	Primary  Name   `json:"primary,omitempty"`
	Details  string `json:"details,omitempty"`
}

// Detection thresholds. Relative ordering matters more than exact values.
const (
	toolLoopThreshold   = 5 // identical tool+args invocations
	paralysisThreshold  = 8 // read-only calls with zero writes
	errorLoopThreshold  = 3 // identical consecutive error messages
	rateLimitThreshold  = 2 // rate-limit-shaped errors in the window
	noProgressThreshold = 6 // non-tool filler messages with no tool activity
)

// writeTools are tool names that indicate durable work was attempted.
var writeTools = map[string]bool{
	"Edit":      true,
	"Write":     true,
	"MultiEdit": true,
	"Bash":      true,
}

var (
	planAnnounceRe    = regexp.MustCompile(`(?i)(here'?s (my|the) plan|I (will|'ll) (proceed|start) (by|with)|^#+ ?plan\b|my plan is)`)
	proceedAskRe      = regexp.MustCompile(`(?i)((may|shall|should) I (proceed|continue|go ahead)|would you like me to (proceed|continue|start)|before I (proceed|begin))`)
	completionClaimRe = regexp.MustCompile(`(?i)(task (is )?(complete|done|finished)|I (have|'ve) (completed|finished)|all (changes|work) (are|is) (done|complete)|implementation is complete)`)
	commitRe          = regexp.MustCompile(`(?i)(\bgit commit\b|\[\w[\w./-]* [0-9a-f]{7,}\]|committed (the )?changes|created commit)`)
	pushRe            = regexp.MustCompile(`(?i)(\bgit push\b|pushed to (origin|remote)|branch .{0,40}pushed)`)
	rateLimitMsgRe    = regexp.MustCompile(`(?i)(rate[ _-]?limit|too many requests|status(?: code)? 429|retry[- ]after|overloaded_error)`)
	clarificationRe   = regexp.MustCompile(`(?i)(could you (please )?clarify|which (option|approach|one)|please (specify|confirm)|need more (detail|information|context))`)
	permissionRe      = regexp.MustCompile(`(?i)(waiting for (your )?(permission|approval)|(may|shall|should) I (proceed|continue)|need (your )?(approval|permission))`)
	fillerRe          = regexp.MustCompile(`(?i)^(still working|processing|thinking|one moment|heartbeat|\.{3,}|ok(ay)?\.?|sure\.?)$`)
)

// primaryOrder is the fixed priority used to select Analysis.Primary when
// several patterns co-occur. The most actionable signal wins.
var primaryOrder = []Name{
	NameRateLimited,
	NamePlanStuck,
	NameFalseCompletion,
	NameCommitsNoPush,
	NamePermissionWait,
	NameErrorLoop,
	NameNeedsClarification,
	NameToolLoop,
	NameAnalysisParalysis,
	NameNoProgress,
}

// AnalyzeMessages scans a window of recent messages for behavioral stall
// patterns. Each detector is computed independently; Primary is chosen by
// primaryOrder so the most actionable signal surfaces even when several
// patterns co-occur.
func AnalyzeMessages(messages []Message) Analysis {
	if len(messages) == 0 {
		return Analysis{}
	}

	found := map[Name]string{}

	detectToolLoop(messages, found)
	detectAnalysisParalysis(messages, found)
	detectErrorLoop(messages, found)
	detectRateLimited(messages, found)
	detectTextual(messages, found)
	detectCompletionShape(messages, found)
	detectNoProgress(messages, found)

	var analysis Analysis
	for _, name := range primaryOrder {
		if _, ok := found[name]; ok {
			analysis.Patterns = append(analysis.Patterns, name)
		}
	}
	if len(analysis.Patterns) > 0 {
		analysis.Primary = analysis.Patterns[0]
		analysis.Details = found[analysis.Primary]
	}
	return analysis
}

// detectToolLoop flags the same tool invoked repeatedly with identical
// arguments and no variation in between.
func detectToolLoop(messages []Message, found map[Name]string) {
	counts := map[string]int{}
	for i := range messages {
		m := &messages[i]
		if m.Tool == "" {
			continue
		}
		key := m.Tool + "\x00" + m.ToolArgs
		counts[key]++
		if counts[key] >= toolLoopThreshold {
			found[NameToolLoop] = fmt.Sprintf("tool %s invoked %d times with identical arguments", m.Tool, counts[key])
		}
	}
}

// detectAnalysisParalysis flags a long run of read-only tool calls with zero
// write or edit calls in the window.
func detectAnalysisParalysis(messages []Message, found map[Name]string) {
	reads, writes := 0, 0
	for i := range messages {
		m := &messages[i]
		if m.Tool == "" {
			continue
		}
		if writeTools[m.Tool] {
			writes++
		} else {
			reads++
		}
	}
	if writes == 0 && reads >= paralysisThreshold {
		found[NameAnalysisParalysis] = fmt.Sprintf("%d read-only tool calls with no writes", reads)
	}
}

// detectErrorLoop flags the identical error message recurring consecutively.
func detectErrorLoop(messages []Message, found map[Name]string) {
	run, prev := 0, ""
	for i := range messages {
		m := &messages[i]
		if !m.IsError {
			run, prev = 0, ""
			continue
		}
		if m.Content == prev {
			run++
		} else {
			run, prev = 1, m.Content
		}
		if run >= errorLoopThreshold {
			found[NameErrorLoop] = fmt.Sprintf("identical error repeated %d times: %s", run, truncate(m.Content, 120))
		}
	}
}

func detectRateLimited(messages []Message, found map[Name]string) {
	hits := 0
	for i := range messages {
		m := &messages[i]
		if m.IsError && rateLimitMsgRe.MatchString(m.Content) {
			hits++
		}
	}
	if hits >= rateLimitThreshold {
		found[NameRateLimited] = fmt.Sprintf("%d rate-limit errors in window", hits)
	}
}

// detectTextual covers plan_stuck, needs_clarification, and permission_wait,
// which are visible in assistant text rather than tool traffic.
func detectTextual(messages []Message, found map[Name]string) {
	planned, asked := false, false
	executed := false
	for i := range messages {
		m := &messages[i]
		if m.Tool != "" && writeTools[m.Tool] {
			executed = true
		}
		if m.Role != "assistant" {
			continue
		}
		if planAnnounceRe.MatchString(m.Content) {
			planned = true
		}
		if proceedAskRe.MatchString(m.Content) {
			asked = true
		}
		if clarificationRe.MatchString(m.Content) {
			found[NameNeedsClarification] = truncate(m.Content, 120)
		}
		if permissionRe.MatchString(m.Content) {
			found[NamePermissionWait] = truncate(m.Content, 120)
		}
	}
	if planned && asked && !executed {
		found[NamePlanStuck] = "plan announced and awaiting go-ahead without execution"
	}
}

// detectCompletionShape covers false_completion (claims done, no commit) and
// commits_no_push (committed, claims done, never pushed).
func detectCompletionShape(messages []Message, found map[Name]string) {
	claimed, committed, pushed := false, false, false
	for i := range messages {
		m := &messages[i]
		text := m.Content
		if m.Tool != "" {
			text = m.ToolArgs + "\n" + m.Content
		}
		if m.Role == "assistant" && completionClaimRe.MatchString(m.Content) {
			claimed = true
		}
		if commitRe.MatchString(text) {
			committed = true
		}
		if pushRe.MatchString(text) {
			pushed = true
		}
	}
	if claimed && !committed {
		found[NameFalseCompletion] = "completion claimed but no commit observed in window"
	}
	if claimed && committed && !pushed {
		found[NameCommitsNoPush] = "commit made and completion claimed but no push observed"
	}
}

// detectNoProgress flags a run of non-tool filler messages (heartbeats, system
// notices) with no tool activity at all.
func detectNoProgress(messages []Message, found map[Name]string) {
	filler := 0
	for i := range messages {
		m := &messages[i]
		if m.Tool != "" {
			return
		}
		if m.Role == "system" || fillerRe.MatchString(strings.TrimSpace(m.Content)) {
			filler++
		}
	}
	if filler >= noProgressThreshold {
		found[NameNoProgress] = fmt.Sprintf("%d filler messages with no tool activity", filler)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
