package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KafClaw/butler/internal/timeline"
)

func newTestTimeline(t *testing.T) *timeline.TimelineService {
	t.Helper()
	svc, err := timeline.NewTimelineService(filepath.Join(t.TempDir(), "timeline.db"))
	if err != nil {
		t.Fatalf("open timeline: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestParseDue(t *testing.T) {
	now := time.Date(2026, 6, 10, 14, 30, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Time
	}{
		{"in 2 hours", now.Add(2 * time.Hour)},
		{"in 1 day", now.Add(24 * time.Hour)},
		{"tomorrow", time.Date(2026, 6, 11, 9, 0, 0, 0, time.UTC)},
		{"tomorrow at 3pm", time.Date(2026, 6, 11, 15, 0, 0, 0, time.UTC)},
		{"today at 17:45", time.Date(2026, 6, 10, 17, 45, 0, 0, time.UTC)},
		{"at 12am", time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)},
		{"2026-07-01T08:00:00Z", time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got := ParseDue(tc.in, now)
		if got == nil || !got.Equal(tc.want) {
			t.Errorf("ParseDue(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	for _, in := range []string{"", "someday", "next quarter", "tomorrow at 25pm"} {
		if got := ParseDue(in, now); got != nil {
			t.Errorf("ParseDue(%q) = %v, want nil", in, got)
		}
	}
}

func TestReminderCreateTool(t *testing.T) {
	tl := newTestTimeline(t)
	tool := NewReminderCreateTool(tl)
	tool.now = func() time.Time { return time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC) }

	out, err := tool.Execute(context.Background(), map[string]any{"title": "Call mom", "when": "tomorrow at 6pm", "session_id": "s1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "Call mom") || !strings.Contains(out, "18:00") {
		t.Fatalf("unexpected output: %s", out)
	}
	recs, _ := tl.ListReminders("open", 10)
	if len(recs) != 1 || recs[0].SessionID != "s1" || recs[0].DueAt == nil {
		t.Fatalf("reminder not stored: %+v", recs)
	}

	out, _ = tool.Execute(context.Background(), map[string]any{"title": "Renew passport", "when": "before summer"})
	if !strings.Contains(out, "(before summer)") {
		t.Fatalf("unparsed due text should be echoed: %s", out)
	}

	out, _ = tool.Execute(context.Background(), map[string]any{})
	if !strings.Contains(out, "Error") {
		t.Fatal("expected error without title")
	}
}

func TestPreferenceSaveToolAndSources(t *testing.T) {
	tl := newTestTimeline(t)
	ctx := context.Background()

	out, err := NewPreferenceSaveTool(tl).Execute(ctx, map[string]any{"key": "meeting_time", "value": "mornings", "confidence": 0.9})
	if err != nil || !strings.Contains(out, "meeting_time = mornings") {
		t.Fatalf("unexpected: %q %v", out, err)
	}
	p, _ := tl.GetPreference("meeting_time")
	if p == nil || p.Confidence != 0.9 {
		t.Fatalf("preference not stored: %+v", p)
	}

	_, _ = tl.CreateReminder(&timeline.ReminderRecord{Title: "Dentist appointment"})

	prefs, err := PreferenceSource{Timeline: tl}.Search(ctx, "what meeting mornings", 5)
	if err != nil || len(prefs) != 1 || prefs[0] != "meeting_time: mornings" {
		t.Fatalf("preference search: %v %v", prefs, err)
	}
	rems, err := ReminderSource{Timeline: tl}.Search(ctx, "the dentist", 5)
	if err != nil || len(rems) != 1 {
		t.Fatalf("reminder search: %v %v", rems, err)
	}

	out, _ = NewPreferenceSaveTool(tl).Execute(ctx, map[string]any{"key": "x"})
	if !strings.Contains(out, "Error") {
		t.Fatal("expected error without value")
	}
}
