package policy

import (
	"context"
	"strings"
	"testing"
)

func TestRouteQuery(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"Find John Smith email address", TargetContacts},
		{"what's the phone number for the plumber", TargetContacts},
		{"status of the website project", TargetProjects},
		{"meetings tomorrow", TargetCalendar},
		{"what did I tell you about my preference for tea", TargetMemory},
		{"sourdough recipe", TargetDocuments},
	}
	for _, tc := range cases {
		targets, _ := RouteQuery(tc.query)
		if len(targets) == 0 || targets[0] != tc.want {
			t.Errorf("RouteQuery(%q) = %v, want first target %s", tc.query, targets, tc.want)
		}
	}
}

func TestSearchRouterInjectsContext(t *testing.T) {
	r := NewSearchRouter()
	d, err := r.Evaluate(context.Background(), ActionRequest{Tool: "search", Input: map[string]any{"query": "Find John Smith email address"}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Permission != Allow {
		t.Fatalf("router must never block, got %v", d.Permission)
	}
	if !strings.Contains(d.AdditionalContext, "contacts") {
		t.Fatalf("expected contacts in context, got %q", d.AdditionalContext)
	}

	d, _ = r.Evaluate(context.Background(), ActionRequest{Tool: "search", Input: map[string]any{}})
	if d.Permission != Allow || d.AdditionalContext != "" {
		t.Fatalf("no query should pass through silently, got %+v", d)
	}
}

func TestSearchRouterIsDeterministic(t *testing.T) {
	r := NewSearchRouter()
	req := ActionRequest{Tool: "search", Input: map[string]any{"q": "project deadline next week"}}
	a, _ := r.Evaluate(context.Background(), req)
	b, _ := r.Evaluate(context.Background(), req)
	if a != b {
		t.Fatalf("expected identical decisions, got %+v and %+v", a, b)
	}
}
