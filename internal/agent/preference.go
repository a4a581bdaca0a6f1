package agent

import (
	"context"
	"regexp"
	"strings"
)

type preferencePattern struct {
	re  *regexp.Regexp
	key func(m []string) (key, value string)
}

var preferencePatterns = []preferencePattern{
	{regexp.MustCompile(`(?i)\bmy favou?rite ([a-z ]+?) is ([^.!]+)`), func(m []string) (string, string) {
		return "favorite_" + snake(m[1]), m[2]
	}},
	{regexp.MustCompile(`(?i)\bcall me ([^.!,]+)`), func(m []string) (string, string) {
		return "preferred_name", m[1]
	}},
	{regexp.MustCompile(`(?i)\bi (?:don't|do not) (?:like|want) ([^.!]+)`), func(m []string) (string, string) {
		return "dislikes", m[1]
	}},
	{regexp.MustCompile(`(?i)\bi (?:always |usually )?(?:prefer|like) ([^.!]+?)(?: (?:for|in|when) ([^.!]+))?[.!]?$`), func(m []string) (string, string) {
		if m[2] != "" {
			return "prefers_" + snake(m[2]), m[1]
		}
		return "prefers", m[1]
	}},
}

// ExtractPreference finds a stated preference in text.
func ExtractPreference(text string) (key, value string, confidence float64, ok bool) {
	text = strings.TrimSpace(text)
	for _, p := range preferencePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		key, value = p.key(m)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		confidence = 0.7
		lower := strings.ToLower(text)
		if strings.Contains(lower, "always") || strings.Contains(lower, "never") {
			confidence = 0.9
		}
		return key, value, confidence, true
	}
	return "", "", 0, false
}

func snake(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "_")
}

// PreferenceLearner stores preferences the user states in passing.
type PreferenceLearner struct{ deps Deps }

func NewPreferenceLearner(d Deps) *PreferenceLearner { return &PreferenceLearner{deps: d} }

func (p *PreferenceLearner) Kind() Kind { return KindPreferenceLearner }

func (p *PreferenceLearner) Run(ctx context.Context, ac Context, task Task) DelegationResult {
	r := newRun(p.deps, ac, KindPreferenceLearner)
	key, value := param(task, "key"), param(task, "value")
	confidence := 0.8
	if key == "" || value == "" {
		var ok bool
		key, value, confidence, ok = ExtractPreference(task.Instruction)
		if !ok {
			return r.success("No new preference to save.")
		}
	}
	res, err := r.invoke(ctx, "preference_save", map[string]any{
		"key":        key,
		"value":      value,
		"confidence": confidence,
	})
	if err != nil {
		return r.fail(err)
	}
	return r.success(res.Output)
}
