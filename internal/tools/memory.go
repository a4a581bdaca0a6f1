package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/KafClaw/butler/internal/timeline"
)

// ReminderCreateTool stores a reminder for the user.
type ReminderCreateTool struct {
	timeline *timeline.TimelineService
	now      func() time.Time
}

func NewReminderCreateTool(tl *timeline.TimelineService) *ReminderCreateTool {
	return &ReminderCreateTool{timeline: tl, now: time.Now}
}

func (t *ReminderCreateTool) Name() string { return "reminder_create" }
func (t *ReminderCreateTool) Tier() int    { return TierWrite }

func (t *ReminderCreateTool) Description() string {
	return "Create a reminder. Use when the user asks to be reminded of something or to schedule a follow-up."
}

func (t *ReminderCreateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "What to remind the user about",
			},
			"when": map[string]any{
				"type":        "string",
				"description": "When, in the user's words (e.g. 'tomorrow', 'in 2 hours') or RFC3339",
			},
			"session_id": map[string]any{
				"type":        "string",
				"description": "Session the reminder was created from",
			},
		},
		"required": []string{"title"},
	}
}

func (t *ReminderCreateTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	title := strings.TrimSpace(GetString(params, "title", ""))
	if title == "" {
		return "Error: title is required", nil
	}
	when := strings.TrimSpace(GetString(params, "when", ""))
	rec := &timeline.ReminderRecord{
		SessionID: GetString(params, "session_id", ""),
		Title:     title,
		DueText:   when,
		DueAt:     ParseDue(when, t.now()),
	}
	id, err := t.timeline.CreateReminder(rec)
	if err != nil {
		return "", fmt.Errorf("create reminder: %w", err)
	}
	if rec.DueAt != nil {
		return fmt.Sprintf("Reminder #%d set: %q at %s", id, title, rec.DueAt.Format("Mon Jan 2 15:04")), nil
	}
	if when != "" {
		return fmt.Sprintf("Reminder #%d set: %q (%s)", id, title, when), nil
	}
	return fmt.Sprintf("Reminder #%d set: %q", id, title), nil
}

var (
	reInDuration = regexp.MustCompile(`^in (\d+) (minute|minutes|hour|hours|day|days|week|weeks)$`)
	reAtClock    = regexp.MustCompile(`(?:^|\s)at (\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

// ParseDue turns common phrasings into a due time. Unrecognised text yields nil
// and is kept verbatim on the reminder.
func ParseDue(when string, now time.Time) *time.Time {
	w := strings.ToLower(strings.TrimSpace(when))
	if w == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, when); err == nil {
		return &t
	}
	if m := reInDuration.FindStringSubmatch(w); m != nil {
		n, _ := strconv.Atoi(m[1])
		unit := map[string]time.Duration{
			"minute": time.Minute, "hour": time.Hour, "day": 24 * time.Hour, "week": 7 * 24 * time.Hour,
		}[strings.TrimSuffix(m[2], "s")]
		due := now.Add(time.Duration(n) * unit)
		return &due
	}

	day := now
	base := w
	switch {
	case strings.HasPrefix(w, "tomorrow"):
		day = now.AddDate(0, 0, 1)
		base = strings.TrimSpace(strings.TrimPrefix(w, "tomorrow"))
	case strings.HasPrefix(w, "today"):
		base = strings.TrimSpace(strings.TrimPrefix(w, "today"))
	case strings.HasPrefix(w, "at "):
	default:
		return nil
	}

	hour, minute := 9, 0
	if m := reAtClock.FindStringSubmatch(base); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		switch {
		case m[3] == "pm" && hour < 12:
			hour += 12
		case m[3] == "am" && hour == 12:
			hour = 0
		}
		if hour > 23 || minute > 59 {
			return nil
		}
	} else if base != "" {
		return nil
	}
	due := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
	return &due
}

// PreferenceSaveTool stores a learned user preference.
type PreferenceSaveTool struct {
	timeline *timeline.TimelineService
}

func NewPreferenceSaveTool(tl *timeline.TimelineService) *PreferenceSaveTool {
	return &PreferenceSaveTool{timeline: tl}
}

func (t *PreferenceSaveTool) Name() string { return "preference_save" }
func (t *PreferenceSaveTool) Tier() int    { return TierWrite }

func (t *PreferenceSaveTool) Description() string {
	return "Save a user preference (key and value) so later requests can honour it."
}

func (t *PreferenceSaveTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{
				"type":        "string",
				"description": "Short preference name, e.g. meeting_time",
			},
			"value": map[string]any{
				"type":        "string",
				"description": "The preferred value",
			},
			"confidence": map[string]any{
				"type":        "number",
				"description": "How sure we are, 0..1 (default 0.7)",
			},
		},
		"required": []string{"key", "value"},
	}
}

func (t *PreferenceSaveTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	key := strings.TrimSpace(GetString(params, "key", ""))
	value := strings.TrimSpace(GetString(params, "value", ""))
	if key == "" || value == "" {
		return "Error: key and value are required", nil
	}
	conf := 0.7
	if v, ok := params["confidence"].(float64); ok && v > 0 && v <= 1 {
		conf = v
	}
	if err := t.timeline.SavePreference(&timeline.PreferenceRecord{
		Key: key, Value: value, Source: GetString(params, "source", "conversation"), Confidence: conf,
	}); err != nil {
		return "", fmt.Errorf("save preference: %w", err)
	}
	return fmt.Sprintf("Noted: %s = %s", key, value), nil
}

// ReminderSource exposes open reminders to the search tool.
type ReminderSource struct {
	Timeline *timeline.TimelineService
}

func (s ReminderSource) Name() string { return "reminders" }

func (s ReminderSource) Search(ctx context.Context, query string, limit int) ([]string, error) {
	var out []string
	for _, term := range searchTerms(query) {
		recs, err := s.Timeline.SearchReminders(term, limit)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			line := r.Title
			if r.DueText != "" {
				line += " (" + r.DueText + ")"
			}
			out = appendUnique(out, line)
		}
	}
	return capList(out, limit), nil
}

// PreferenceSource exposes saved preferences to the search tool.
type PreferenceSource struct {
	Timeline *timeline.TimelineService
}

func (s PreferenceSource) Name() string { return "preferences" }

func (s PreferenceSource) Search(ctx context.Context, query string, limit int) ([]string, error) {
	var out []string
	for _, term := range searchTerms(query) {
		recs, err := s.Timeline.SearchPreferences(term, limit)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			out = appendUnique(out, r.Key+": "+r.Value)
		}
	}
	return capList(out, limit), nil
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "for": true, "and": true, "of": true, "to": true,
	"in": true, "on": true, "is": true, "what": true, "find": true, "me": true, "about": true,
}

// searchTerms splits query into the words worth a LIKE lookup.
func searchTerms(query string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'")
		if len(w) < 3 || stopWords[w] {
			continue
		}
		out = appendUnique(out, w)
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func capList(list []string, limit int) []string {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
