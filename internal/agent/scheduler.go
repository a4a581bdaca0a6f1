package agent

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var (
	reReminderLead = regexp.MustCompile(`(?i)^(?:please\s+)?(?:remind me(?:\s+to|\s+about)?|set a reminder(?:\s+to|\s+for)?|schedule)\s+`)
	reReminderWhen = regexp.MustCompile(`(?i)\s+(in \d+ (?:minutes?|hours?|days?|weeks?)|(?:tomorrow|today)(?: at \d{1,2}(?::\d{2})?\s*(?:am|pm)?)?|at \d{1,2}(?::\d{2})?\s*(?:am|pm)?)\s*[.!]?$`)
)

// Scheduler turns "remind me ..." requests into stored reminders.
type Scheduler struct{ deps Deps }

func NewScheduler(d Deps) *Scheduler { return &Scheduler{deps: d} }

func (s *Scheduler) Kind() Kind { return KindScheduler }

func (s *Scheduler) Run(ctx context.Context, ac Context, task Task) DelegationResult {
	r := newRun(s.deps, ac, KindScheduler)
	title, when := param(task, "title"), param(task, "when")
	if title == "" {
		title, when = SplitReminder(task.Instruction)
	}
	if title == "" {
		return r.fail(errors.New("nothing to schedule: no reminder text found"))
	}

	res, err := r.invoke(ctx, "reminder_create", map[string]any{
		"title":      title,
		"when":       when,
		"session_id": ac.SessionID,
	})
	if err != nil {
		return r.fail(err)
	}
	return r.success(r.phrase(ctx, "Confirm this reminder to the user in one sentence.", res.Output))
}

// SplitReminder separates "remind me to call mom tomorrow at 5pm" into the
// reminder title and its due text.
func SplitReminder(text string) (title, when string) {
	text = strings.TrimSpace(text)
	text = reReminderLead.ReplaceAllString(text, "")
	if m := reReminderWhen.FindStringSubmatchIndex(text); m != nil {
		when = strings.ToLower(text[m[2]:m[3]])
		text = text[:m[0]]
	}
	title = strings.TrimRight(strings.TrimSpace(text), ".!")
	return title, when
}
