package hooks

import "fmt"

// Event identifies a lifecycle point at which policy modules fire.
type Event string

const (
	SessionStart     Event = "SessionStart"
	UserPromptSubmit Event = "UserPromptSubmit"
	PreToolUse       Event = "PreToolUse"
	PostToolUse      Event = "PostToolUse"
	Stop             Event = "Stop"
	SessionEnd       Event = "SessionEnd"
)

// Events lists every lifecycle event in firing order of a session.
var Events = []Event{SessionStart, UserPromptSubmit, PreToolUse, PostToolUse, Stop, SessionEnd}

// ParseEvent converts a registration name into an Event.
func ParseEvent(s string) (Event, error) {
	for _, e := range Events {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown lifecycle event %q", s)
}
