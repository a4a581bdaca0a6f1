package hooks

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KafClaw/butler/internal/policy"
)

// DefaultTimeout bounds a module whose registration leaves Timeout at zero.
const DefaultTimeout = 10 * time.Second

// Matcher selects the requests a hook fires for. Tool is a regular
// expression matched against the tool name; InputHas lists input keys that
// must all be present. An empty matcher matches everything.
type Matcher struct {
	Tool     string   `json:"tool,omitempty" yaml:"tool,omitempty"`
	InputHas []string `json:"inputHas,omitempty" yaml:"inputHas,omitempty"`
}

// HookConfig binds one policy module to one event.
type HookConfig struct {
	Event    Event
	ModuleID string
	Timeout  time.Duration
	Matcher  Matcher
}

// Registration is the file form of a HookConfig.
type Registration struct {
	Event     string  `json:"event" yaml:"event"`
	ModuleID  string  `json:"moduleId" yaml:"moduleId"`
	TimeoutMs int     `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	Matcher   Matcher `json:"matcher,omitempty" yaml:"matcher,omitempty"`
}

// Config converts the registration, validating the event name.
func (r Registration) Config() (HookConfig, error) {
	ev, err := ParseEvent(r.Event)
	if err != nil {
		return HookConfig{}, err
	}
	if r.ModuleID == "" {
		return HookConfig{}, fmt.Errorf("hook for %s has no moduleId", r.Event)
	}
	if r.TimeoutMs < 0 {
		return HookConfig{}, fmt.Errorf("hook %s/%s: negative timeout", r.Event, r.ModuleID)
	}
	return HookConfig{
		Event:    ev,
		ModuleID: r.ModuleID,
		Timeout:  time.Duration(r.TimeoutMs) * time.Millisecond,
		Matcher:  r.Matcher,
	}, nil
}

type registrationFile struct {
	Hooks []Registration `yaml:"hooks"`
}

// ParseRegistrations decodes a registration document. Both a bare list and a
// {hooks: [...]} object are accepted; JSON is valid YAML so either format works.
func ParseRegistrations(data []byte) ([]HookConfig, error) {
	var regs []Registration
	if err := yaml.Unmarshal(data, &regs); err != nil {
		var f registrationFile
		if err2 := yaml.Unmarshal(data, &f); err2 != nil {
			return nil, fmt.Errorf("parse hook registrations: %w", err)
		}
		regs = f.Hooks
	}
	out := make([]HookConfig, 0, len(regs))
	for i, r := range regs {
		hc, err := r.Config()
		if err != nil {
			return nil, fmt.Errorf("hook %d: %w", i, err)
		}
		out = append(out, hc)
	}
	return out, nil
}

// LoadRegistrations reads a registration file.
func LoadRegistrations(path string) ([]HookConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hook registrations: %w", err)
	}
	return ParseRegistrations(data)
}

// DefaultRegistrations is the chain used when no registration file is
// configured. The toolkit gate records usage, so it stays last.
func DefaultRegistrations() []HookConfig {
	return []HookConfig{
		{Event: UserPromptSubmit, ModuleID: policy.SearchRoutingID},
		{Event: PreToolUse, ModuleID: policy.AgentScopeID},
		{Event: PreToolUse, ModuleID: policy.SearchRoutingID, Matcher: Matcher{Tool: `^search`}},
		{Event: PreToolUse, ModuleID: policy.PathClassificationID},
		{Event: PreToolUse, ModuleID: policy.PathConventionID},
		{Event: PreToolUse, ModuleID: policy.ToolTierID},
		{Event: PreToolUse, ModuleID: policy.ConnectionRateLimitID, Timeout: 5 * time.Second},
	}
}

// compiledHook is a registration ready to run. HookConfig is kept as
// registered; timeout is the bound actually applied.
type compiledHook struct {
	HookConfig
	regex   *regexp.Regexp // nil matches all tools
	timeout time.Duration
}

func compile(hc HookConfig) (compiledHook, error) {
	ch := compiledHook{HookConfig: hc, timeout: hc.Timeout}
	if hc.Matcher.Tool != "" {
		re, err := regexp.Compile(hc.Matcher.Tool)
		if err != nil {
			return ch, fmt.Errorf("invalid hook matcher %q for %s/%s: %w", hc.Matcher.Tool, hc.Event, hc.ModuleID, err)
		}
		ch.regex = re
	}
	if ch.timeout <= 0 {
		ch.timeout = DefaultTimeout
	}
	return ch, nil
}

func (h compiledHook) matches(req policy.ActionRequest) bool {
	if h.regex != nil && !h.regex.MatchString(req.Tool) {
		return false
	}
	for _, key := range h.Matcher.InputHas {
		if _, ok := req.Input[key]; !ok {
			return false
		}
	}
	return true
}
