// Package pattern classifies raw agent output into named error categories and
// detects behavioral stall patterns across message sequences. It is a pure
// library: no state, no side effects.
package pattern

import "regexp"

// Name identifies a classified error or behavioral pattern.
type Name string

const (
	NamePushFailure        Name = "push_failure"
	NameTestFailure        Name = "test_failure"
	NameLintFailure        Name = "lint_failure"
	NamePermissionWait     Name = "permission_wait"
	NameRateLimited        Name = "rate_limited"
	NameAuthError          Name = "auth_error"
	NameModelError         Name = "model_error"
	NameContentPolicy      Name = "content_policy"
	NameCodexSandbox       Name = "codex_sandbox"
	NameToolLoop           Name = "tool_loop"
	NameAnalysisParalysis  Name = "analysis_paralysis"
	NamePlanStuck          Name = "plan_stuck"
	NameNeedsClarification Name = "needs_clarification"
	NameFalseCompletion    Name = "false_completion"
	NameCommitsNoPush      Name = "commits_no_push"
	NameErrorLoop          Name = "error_loop"
	NameNoProgress         Name = "no_progress"
	NameAPIError           Name = "api_error"
	NameUnknown            Name = "unknown"
)

// Classification is the result of matching raw text against the pattern table.
type Classification struct {
	Name       Name    `json:"name"`
	Confidence float64 `json:"confidence"`
	Details    string  `json:"details"`
}

// entry pairs a pattern name with its matcher and fixed confidence.
// The table is evaluated top to bottom; first match wins, so ordering is the
// priority contract: unrecoverable errors first (they must short-circuit any
// retry), then transient infrastructure, then workflow failures, then generic.
type entry struct {
	name       Name
	confidence float64
	re         *regexp.Regexp
}

var classifiers = []entry{
	// Unrecoverable by retry.
	{NameAuthError, 0.95, regexp.MustCompile(`(?i)(invalid (api[ _-]?key|credentials)|authentication (failed|error)|401 unauthorized|unauthorized: |token (expired|revoked)|not logged in|credit balance is too low)`)},
	{NameModelError, 0.95, regexp.MustCompile(`(?i)(model[ _](not[ _]found|unavailable|error)|no such model|unknown model|model is (overloaded|deprecated))`)},
	{NameContentPolicy, 0.95, regexp.MustCompile(`(?i)(content[ _]policy|policy violation|usage policy|safety (filter|system)|refus\w+ (to|this) (comply|request))`)},

	// Transient infrastructure.
	{NameRateLimited, 0.9, regexp.MustCompile(`(?i)(rate[ _-]?limit|too many requests|status(?: code)? 429|quota exceeded|retry[- ]after|overloaded_error)`)},
	{NameCodexSandbox, 0.85, regexp.MustCompile(`(?i)(sandbox (denied|error|violation|restriction)|seatbelt profile|landlock|operation not permitted.*sandbox)`)},
	{NameAPIError, 0.7, regexp.MustCompile(`(?i)(api error|internal server error|bad gateway|service unavailable|gateway time-?out|status(?: code)? 5\d\d|connection (reset|refused)|ECONNRESET|socket hang ?up)`)},

	// Workflow/process failures.
	{NamePushFailure, 0.9, regexp.MustCompile(`(?i)(git push.{0,40}(fail|reject|denied)|failed to push|push (was )?(declined|rejected)|non-fast-forward|remote rejected)`)},
	{NameTestFailure, 0.85, regexp.MustCompile(`(?i)(\btests? (are )?fail|^--- FAIL|\bFAIL\b.*\(|assertion (failed|error)|\d+ (test[s]?|spec[s]?) fail)`)},
	{NameLintFailure, 0.85, regexp.MustCompile(`(?i)(lint(er)?\b.{0,20}(fail|error)|golangci-lint|eslint.{0,20}(error|problem)|\bgofmt\b.{0,20}diff)`)},

	// Behavioral, visible in single messages.
	{NamePermissionWait, 0.75, regexp.MustCompile(`(?i)(waiting for (your )?(permission|approval|confirmation)|(may|shall|should) I (proceed|continue)|need (your )?(approval|permission)|let me know (if|when) I should)`)},
	{NameNeedsClarification, 0.7, regexp.MustCompile(`(?i)(could you (please )?clarify|which (option|approach|one) (do|would) you|please (specify|confirm)|need more (detail|information|context)|the request is ambiguous)`)},
}

// Classify evaluates text against the classifier table in priority order.
// Confidence values are fixed calibration constants per pattern; higher means
// a more specific match, nothing more.
func Classify(text string) Classification {
	for _, e := range classifiers {
		if loc := e.re.FindStringIndex(text); loc != nil {
			return Classification{
				Name:       e.name,
				Confidence: e.confidence,
				Details:    snippet(text, loc[0]),
			}
		}
	}
	return Classification{Name: NameUnknown, Confidence: 0.3, Details: snippet(text, 0)}
}

// snippet returns a bounded window of text around the match offset for
// human-readable details.
func snippet(text string, offset int) string {
	const window = 200
	start := offset - 40
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}
