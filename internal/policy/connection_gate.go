package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KafClaw/butler/internal/ratelimit"
)

// ConnectionLookup reports the cached connection state of a toolkit.
// A zero expiresAt means the connection does not expire.
type ConnectionLookup interface {
	ConnectionStatus(ctx context.Context, toolkit string) (connected bool, expiresAt time.Time, err error)
}

// UsageAcquirer checks and records one toolkit call.
type UsageAcquirer interface {
	Acquire(ctx context.Context, toolkit, sessionID string, now time.Time) (ratelimit.Verdict, error)
}

// ConnectionState of an external toolkit.
type ConnectionState int

const (
	NotConnected ConnectionState = iota
	Connected
	Expired
)

func (s ConnectionState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Expired:
		return "expired"
	default:
		return "not_connected"
	}
}

const (
	defaultMinuteWarn = 0.7
	defaultHourWarn   = 0.8
	usageRetryAfter   = 5 * time.Second
)

// ConnectionGate blocks calls to external toolkits that are not connected
// and enforces their rate limits.
type ConnectionGate struct {
	toolkits    map[string]bool
	connections ConnectionLookup
	limiter     UsageAcquirer
	minuteWarn  float64
	hourWarn    float64
	now         func() time.Time
	logger      *slog.Logger
}

// NewConnectionGate creates the gate for the given external toolkits.
func NewConnectionGate(toolkits []string, connections ConnectionLookup, limiter UsageAcquirer, logger *slog.Logger) *ConnectionGate {
	g := &ConnectionGate{
		toolkits:    make(map[string]bool, len(toolkits)),
		connections: connections,
		limiter:     limiter,
		minuteWarn:  defaultMinuteWarn,
		hourWarn:    defaultHourWarn,
		now:         time.Now,
		logger:      logger,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	for _, tk := range toolkits {
		g.toolkits[strings.ToLower(strings.TrimSpace(tk))] = true
	}
	return g
}

// SetWarnThresholds overrides the usage ratios above which a warning is injected.
func (g *ConnectionGate) SetWarnThresholds(minute, hour float64) {
	if minute > 0 {
		g.minuteWarn = minute
	}
	if hour > 0 {
		g.hourWarn = hour
	}
}

func (g *ConnectionGate) ID() string { return ConnectionRateLimitID }

// ToolkitCandidate extracts the toolkit prefix from a tool name:
// GMAIL_SEND_EMAIL -> gmail, slack_send_message -> slack,
// mcp__gmail__send -> gmail.
func ToolkitCandidate(tool string) string {
	tool = strings.TrimSpace(tool)
	if rest, ok := strings.CutPrefix(tool, "mcp__"); ok {
		server, _, _ := strings.Cut(rest, "__")
		return strings.ToLower(server)
	}
	head, _, _ := strings.Cut(tool, "_")
	return strings.ToLower(head)
}

// Toolkit returns the external toolkit a tool belongs to.
func (g *ConnectionGate) Toolkit(tool string) (string, bool) {
	tk := ToolkitCandidate(tool)
	return tk, tk != "" && g.toolkits[tk]
}

// State returns the connection state of toolkit at now.
func (g *ConnectionGate) State(ctx context.Context, toolkit string, now time.Time) (ConnectionState, error) {
	connected, expiresAt, err := g.connections.ConnectionStatus(ctx, toolkit)
	if err != nil {
		return NotConnected, fmt.Errorf("connection status for %s: %w", toolkit, err)
	}
	switch {
	case !connected:
		return NotConnected, nil
	case !expiresAt.IsZero() && !now.Before(expiresAt):
		return Expired, nil
	default:
		return Connected, nil
	}
}

func (g *ConnectionGate) Evaluate(ctx context.Context, req ActionRequest) (Decision, error) {
	toolkit, ok := g.Toolkit(req.Tool)
	if !ok {
		return Decision{Permission: Allow}, nil
	}
	now := g.now()

	state, err := g.State(ctx, toolkit, now)
	if err != nil {
		return Decision{}, err
	}
	switch state {
	case NotConnected:
		return Decision{
			Permission:           Deny,
			Reason:               fmt.Sprintf("%s is not connected", toolkit),
			SuggestedAlternative: fmt.Sprintf("run `butler connect %s` to authorize access, then retry", toolkit),
			Code:                 CodeConnectionRequired,
		}, nil
	case Expired:
		return Decision{
			Permission:           Deny,
			Reason:               fmt.Sprintf("the %s connection has expired", toolkit),
			SuggestedAlternative: fmt.Sprintf("run `butler connect %s` to re-authorize, then retry", toolkit),
			Code:                 CodeConnectionRequired,
		}, nil
	}

	if g.limiter == nil {
		return Decision{Permission: Allow}, nil
	}
	v, err := g.limiter.Acquire(ctx, toolkit, req.SessionID, now)
	if err != nil {
		// The call cannot be counted, so it cannot be allowed.
		g.logger.Warn("Usage log unavailable", "toolkit", toolkit, "error", err)
		return Decision{
			Permission: Deny,
			Reason:     fmt.Sprintf("usage for %s could not be recorded", toolkit),
			RetryAfter: usageRetryAfter,
			Code:       CodeUsageUnavailable,
		}, nil
	}
	if !v.Allowed {
		limit := v.Limits.PerMinute
		if v.Window == "hour" {
			limit = v.Limits.PerHour
		}
		return Decision{
			Permission: Deny,
			Reason:     fmt.Sprintf("%s rate limit reached: %d calls per %s", toolkit, limit, v.Window),
			RetryAfter: v.RetryAfter,
			SuggestedAlternative: fmt.Sprintf("wait %s before calling %s again",
				v.RetryAfter.Round(time.Second), toolkit),
			Code: CodeRateLimited,
		}, nil
	}
	return AllowWith(g.usageWarning(v)), nil
}

func (g *ConnectionGate) usageWarning(v ratelimit.Verdict) string {
	var parts []string
	if r := v.MinuteRatio(); r > g.minuteWarn {
		parts = append(parts, fmt.Sprintf("%d/%d calls this minute (%.0f%%)", v.Counts.LastMinute, v.Limits.PerMinute, r*100))
	}
	if r := v.HourRatio(); r > g.hourWarn {
		parts = append(parts, fmt.Sprintf("%d/%d calls this hour (%.0f%%)", v.Counts.LastHour, v.Limits.PerHour, r*100))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("Rate limit warning for %s: %s", v.Toolkit, strings.Join(parts, ", "))
}
