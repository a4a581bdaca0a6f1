package gateway

import (
	"fmt"
	"time"

	"github.com/KafClaw/butler/internal/policy"
)

// Denial kinds.
const (
	KindDenied             = "denied"
	KindRateLimited        = "rate_limited"
	KindConnectionRequired = "connection_required"
)

// DeniedError is returned when the merged PreToolUse decision blocks a call.
// The tool was not executed.
type DeniedError struct {
	Kind                 string
	Tool                 string
	Reason               string
	Code                 string
	SuggestedAlternative string
	RetryAfter           time.Duration
}

func (e *DeniedError) Error() string {
	msg := fmt.Sprintf("%s blocked (%s)", e.Tool, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.SuggestedAlternative != "" {
		msg += "; " + e.SuggestedAlternative
	}
	return msg
}

// NextStep tells the caller what to do about the denial.
func (e *DeniedError) NextStep() string {
	switch {
	case e.SuggestedAlternative != "":
		return e.SuggestedAlternative
	case e.RetryAfter > 0:
		return fmt.Sprintf("retry in %s", e.RetryAfter.Round(time.Second))
	default:
		return "rephrase the request or choose a different action"
	}
}

func deniedFrom(tool string, d policy.Decision) *DeniedError {
	kind := KindDenied
	switch d.Code {
	case policy.CodeRateLimited:
		kind = KindRateLimited
	case policy.CodeConnectionRequired:
		kind = KindConnectionRequired
	}
	return &DeniedError{
		Kind:                 kind,
		Tool:                 tool,
		Reason:               d.Reason,
		Code:                 d.Code,
		SuggestedAlternative: d.SuggestedAlternative,
		RetryAfter:           d.RetryAfter,
	}
}

// ConfirmationRequiredError is returned when a call needs the user's
// approval. Re-invoke with Call.ApprovalID once it has been approved.
type ConfirmationRequiredError struct {
	ApprovalID string
	Tool       string
	Reason     string
}

func (e *ConfirmationRequiredError) Error() string {
	msg := fmt.Sprintf("%s needs approval", e.Tool)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg + fmt.Sprintf("; reply approve:%s or deny:%s", e.ApprovalID, e.ApprovalID)
}
