package orchestrator

import (
	"fmt"
	"strings"

	"github.com/KafClaw/butler/internal/agent"
)

// Synthesize combines branch results, kept in the order given, into one
// response. Mixed outcomes name each sub-task that could not complete;
// when everything failed the text explains why and offers one alternative.
func Synthesize(results []agent.DelegationResult) SynthesizedResponse {
	resp := SynthesizedResponse{ContributingResults: results}
	if len(results) == 0 {
		resp.Status = agent.Failure
		resp.Text = "I couldn't work out which of my assistants should handle that. " +
			"Try rephrasing the request as a single task."
		return resp
	}

	var parts, problems []string
	failed := 0
	for _, r := range results {
		switch r.Status {
		case agent.Failure:
			failed++
			problems = append(problems, describeFailure(r))
		case agent.PartialFailure:
			resp.HadPartialFailure = true
			problems = append(problems, describeFailure(r))
			fallthrough
		default:
			if p := strings.TrimSpace(r.Payload); p != "" {
				parts = append(parts, p)
			}
		}
	}

	switch {
	case failed == len(results):
		resp.Status = agent.Failure
		resp.Text = fmt.Sprintf("I couldn't complete your request. %s\n\n%s",
			strings.Join(problems, " "), alternative(results[0]))
	case failed > 0 || resp.HadPartialFailure:
		resp.Status = agent.PartialFailure
		resp.HadPartialFailure = true
		resp.Text = strings.Join(parts, "\n\n") +
			"\n\nI couldn't complete everything: " + strings.Join(problems, " ")
	default:
		resp.Status = agent.Success
		resp.Text = strings.Join(parts, "\n\n")
	}
	return resp
}

func describeFailure(r agent.DelegationResult) string {
	label := taskLabel(r.Kind)
	summary := strings.TrimSpace(r.ErrorSummary)
	if summary == "" {
		summary = "no details were reported"
	}
	if r.Reason != "" {
		return fmt.Sprintf("The %s step failed (%s): %s.", label, r.Reason, strings.TrimSuffix(summary, "."))
	}
	return fmt.Sprintf("The %s step failed: %s.", label, strings.TrimSuffix(summary, "."))
}

// alternative suggests one next action for a failed result.
func alternative(r agent.DelegationResult) string {
	switch r.Reason {
	case agent.ReasonConfirmationRequired:
		return fmt.Sprintf("Reply approve:%s to let it go ahead, or deny:%s to cancel.", r.ApprovalID, r.ApprovalID)
	case agent.ReasonTimeout:
		return "You could try again in a moment, or ask for a smaller piece of it."
	case agent.ReasonDepthExceeded:
		return "You could ask for one thing at a time instead."
	case agent.ReasonDenied:
		return "You could follow the suggested next step above and ask again."
	default:
		return "You could rephrase the request, or ask me to search for it instead."
	}
}

func taskLabel(kind agent.Kind) string {
	switch kind {
	case agent.KindTriage:
		return "search"
	case agent.KindScheduler:
		return "reminder"
	case agent.KindCommunicator:
		return "messaging"
	case agent.KindNavigator:
		return "file lookup"
	case agent.KindPreferenceLearner:
		return "preference"
	default:
		return string(kind)
	}
}
