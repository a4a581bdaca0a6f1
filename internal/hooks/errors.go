package hooks

import (
	"errors"
	"fmt"

	"github.com/KafClaw/butler/internal/timeline"
)

// ErrPolicyTimeout marks a module that did not answer within its timeout.
var ErrPolicyTimeout = errors.New("policy module timed out")

// PolicyError wraps a module failure. The runner treats it as Allow.
type PolicyError struct {
	Event    Event
	ModuleID string
	Err      error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s module %s: %v", e.Event, e.ModuleID, e.Err)
}

func (e *PolicyError) Unwrap() error { return e.Err }

// Kind is "timeout" or "exception".
func (e *PolicyError) Kind() string {
	if errors.Is(e.Err, ErrPolicyTimeout) {
		return "timeout"
	}
	return "exception"
}

// FailureRecorder persists module failures for later inspection.
type FailureRecorder interface {
	RecordHookFailure(rec *timeline.HookFailureRecord) error
}
