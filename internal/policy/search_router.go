package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/KafClaw/butler/internal/tools"
)

// Search targets.
const (
	TargetContacts  = "contacts"
	TargetProjects  = "projects"
	TargetCalendar  = "calendar"
	TargetMemory    = "memory"
	TargetDocuments = "documents"
)

type signal struct {
	name    string
	pattern *regexp.Regexp
	// caseSensitive patterns run on the original query text.
	caseSensitive bool
}

type routeRule struct {
	target  string
	signals []signal
}

var searchRoutes = []routeRule{
	{TargetContacts, []signal{
		{name: "email", pattern: regexp.MustCompile(`(?i)\b[\w.+-]+@[\w-]+\.[\w.]+\b|\be-?mail( address)?\b`)},
		{name: "phone", pattern: regexp.MustCompile(`(?i)\+?\d[\d\s().-]{7,}\d|\bphone( number)?\b`)},
		{name: "contact_words", pattern: regexp.MustCompile(`(?i)\b(contact|address book|who is|reach|colleague|number for)\b`)},
		{name: "person_name", pattern: regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`), caseSensitive: true},
	}},
	{TargetProjects, []signal{
		{name: "project_words", pattern: regexp.MustCompile(`(?i)\b(projects?|tasks?|milestones?|deadlines?|roadmap|sprint|deliverables?|status of)\b`)},
	}},
	{TargetCalendar, []signal{
		{name: "calendar_words", pattern: regexp.MustCompile(`(?i)\b(meetings?|calendar|schedule|appointments?|events?|agenda|availability|free slot)\b`)},
		{name: "date_words", pattern: regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday|tonight|next week|this week|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b|\b\d{1,2}[/.-]\d{1,2}\b`)},
	}},
	{TargetMemory, []signal{
		{name: "recall_words", pattern: regexp.MustCompile(`(?i)\b(remember|recall|last time|previously|earlier|did i|told you|my preference|i prefer|i like)\b`)},
	}},
}

// SearchRouter classifies search queries and tells the caller which
// sources to consult. It never blocks.
type SearchRouter struct{}

func NewSearchRouter() *SearchRouter { return &SearchRouter{} }

func (r *SearchRouter) ID() string { return SearchRoutingID }

func (r *SearchRouter) Evaluate(ctx context.Context, req ActionRequest) (Decision, error) {
	query := tools.FirstString(req.Input, "query", "q", "pattern", "text")
	if query == "" {
		return Decision{Permission: Allow}, nil
	}
	targets, signals := RouteQuery(query)
	msg := fmt.Sprintf("Search routing: query targets %s", strings.Join(targets, ", "))
	if len(signals) > 0 {
		msg += fmt.Sprintf(" (signals: %s)", strings.Join(signals, ", "))
	}
	return AllowWith(msg), nil
}

// RouteQuery returns the search targets for query in fixed priority order and
// the signals that selected them. Queries that match nothing go to documents.
func RouteQuery(query string) (targets, signals []string) {
	lower := strings.ToLower(query)
	for _, rule := range searchRoutes {
		matched := false
		for _, s := range rule.signals {
			text := lower
			if s.caseSensitive {
				text = query
			}
			if s.pattern.MatchString(text) {
				matched = true
				signals = append(signals, s.name)
			}
		}
		if matched {
			targets = append(targets, rule.target)
		}
	}
	if len(targets) == 0 {
		targets = []string{TargetDocuments}
	}
	return targets, signals
}
