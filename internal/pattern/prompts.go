package pattern

import "fmt"

// RecoveryPrompt maps a sequence analysis to a directive prompt re-injected
// into the agent's context. The prompts are second-person and concrete; an
// absent or unrecognized primary yields a generic continue instruction.
func RecoveryPrompt(taskTitle string, analysis Analysis) string {
	switch analysis.Primary {
	case NameRateLimited:
		return fmt.Sprintf("You are being rate limited while working on %q. Stop issuing requests, wait for the limit to clear, then resume from where you left off.", taskTitle)
	case NamePlanStuck:
		return fmt.Sprintf("You announced a plan for %q but have not executed it. Do not ask for confirmation. Execute the plan now, starting with the first step.", taskTitle)
	case NameFalseCompletion:
		return fmt.Sprintf("You claimed %q is complete, but no commit was produced. The task is not done until the changes are committed. Make the changes and commit them now.", taskTitle)
	case NameCommitsNoPush:
		return fmt.Sprintf("You committed changes for %q but never pushed them. Push the branch to the remote now with git push.", taskTitle)
	case NamePermissionWait:
		return fmt.Sprintf("You are waiting for permission on %q. You already have approval to proceed. Continue working without asking again.", taskTitle)
	case NameErrorLoop:
		return fmt.Sprintf("The same error keeps recurring on %q: %s. Stop repeating the failing step. Diagnose the root cause and try a different approach.", taskTitle, analysis.Details)
	case NameNeedsClarification:
		return fmt.Sprintf("No further clarification is coming for %q. Make a reasonable decision yourself, note the assumption, and proceed.", taskTitle)
	case NameToolLoop:
		return fmt.Sprintf("You are invoking the same tool repeatedly with identical arguments on %q. The result will not change. Step back, reconsider, and take a different action.", taskTitle)
	case NameAnalysisParalysis:
		return fmt.Sprintf("You have only been reading files for %q without making changes. You have enough context. Start editing the code now.", taskTitle)
	case NameNoProgress:
		return fmt.Sprintf("You have made no visible progress on %q. Pick the next concrete step and execute it with a tool call.", taskTitle)
	default:
		return fmt.Sprintf("Continue working on %q. Pick up from your last completed step.", taskTitle)
	}
}

// WorkflowPrompt returns the category-specific remediation prompt for
// single-error workflow failures. details is the matched error text and is
// embedded verbatim so the agent sees what actually failed.
func WorkflowPrompt(name Name, taskTitle, details string) string {
	switch name {
	case NamePushFailure:
		return fmt.Sprintf("git push failed for %q: %s. Inspect the remote rejection, reconcile the branch (fetch/rebase if needed), resolve and retry the push.", taskTitle, details)
	case NameTestFailure:
		return fmt.Sprintf("Tests failed for %q: %s. Read the failing assertions, fix the code (not the tests, unless they are wrong), and re-run the test suite.", taskTitle, details)
	case NameLintFailure:
		return fmt.Sprintf("Lint failed for %q: %s. Fix every reported issue and re-run the linter before continuing.", taskTitle, details)
	case NameCodexSandbox:
		return fmt.Sprintf("The sandbox rejected an operation for %q: %s. Retry using only workspace-local paths and allowed commands.", taskTitle, details)
	default:
		return fmt.Sprintf("The previous attempt at %q failed: %s. Diagnose the failure and try again.", taskTitle, details)
	}
}
