// Package app assembles Butler's components from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/KafClaw/butler/internal/agent"
	"github.com/KafClaw/butler/internal/approval"
	"github.com/KafClaw/butler/internal/audit"
	"github.com/KafClaw/butler/internal/config"
	"github.com/KafClaw/butler/internal/gateway"
	"github.com/KafClaw/butler/internal/hooks"
	"github.com/KafClaw/butler/internal/orchestrator"
	"github.com/KafClaw/butler/internal/policy"
	"github.com/KafClaw/butler/internal/provider"
	"github.com/KafClaw/butler/internal/ratelimit"
	"github.com/KafClaw/butler/internal/secrets"
	"github.com/KafClaw/butler/internal/session"
	"github.com/KafClaw/butler/internal/timeline"
	"github.com/KafClaw/butler/internal/tools"
)

// sessionHistory bounds the persisted turns per session.
const sessionHistory = 40

// usageRetention is how long usage rows are kept; the hour window is the
// longest one the limiter reads.
const usageRetention = 24 * time.Hour

// App holds the wired components of one Butler process.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Timeline     *timeline.TimelineService
	Tokens       *secrets.TokenStore
	Sessions     *session.Manager
	Tools        *tools.Registry
	Limiter      *ratelimit.Limiter
	Hooks        *hooks.Runner
	Approvals    *approval.Manager
	Gateway      *gateway.Gateway
	Orchestrator *orchestrator.Orchestrator

	// Checks fires the same chain as Hooks but never records usage,
	// timeline file access or hook failures.
	Checks *hooks.Runner

	publisher *audit.Publisher
}

// New opens the timeline and wires every component from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := config.EnsureWorkspace(cfg.Paths.Workspace); err != nil {
		return nil, err
	}
	tl, err := timeline.NewTimelineService(cfg.Paths.TimelinePath())
	if err != nil {
		return nil, fmt.Errorf("open timeline: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, Timeline: tl}
	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	if n, err := tl.PruneUsage(time.Now().Add(-usageRetention)); err != nil {
		logger.Warn("Usage prune failed", "error", err)
	} else if n > 0 {
		logger.Debug("Pruned usage rows", "count", n)
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config
	tokens, err := secrets.NewTokenStore(cfg.Paths.TokensDir())
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	a.Tokens = tokens
	if a.Sessions, err = session.NewManager(cfg.Paths.SessionsDir(), sessionHistory); err != nil {
		return err
	}
	a.Tools = a.registry()
	a.Limiter = ratelimit.New(a.Timeline, cfg.RateLimits)

	tieBreak, err := cfg.TieBreak()
	if err != nil {
		return err
	}
	regs := hooks.DefaultRegistrations()
	if cfg.Hooks.File != "" {
		if regs, err = hooks.LoadRegistrations(cfg.Hooks.File); err != nil {
			return err
		}
	}

	a.Hooks, err = hooks.NewRunner(a.modules(a.Limiter, a.Timeline), hooks.Options{
		Logger:   a.Logger,
		Recorder: a.Timeline,
		TieBreak: tieBreak,
	})
	if err != nil {
		return err
	}
	if err := a.Hooks.RegisterAll(regs); err != nil {
		return err
	}
	a.Checks, err = hooks.NewRunner(a.modules(ratelimit.Preview{Limiter: a.Limiter}, nil), hooks.Options{
		Logger:   a.Logger,
		TieBreak: tieBreak,
	})
	if err != nil {
		return err
	}
	if err := a.Checks.RegisterAll(regs); err != nil {
		return err
	}

	sinks := []gateway.AuditSink{a.Timeline}
	if cfg.Audit.Enabled {
		pub, err := audit.NewPublisher(cfg.Audit.Brokers, cfg.Audit.Topic, cfg.Audit.SenderID)
		if err != nil {
			return fmt.Errorf("audit publisher: %w", err)
		}
		a.publisher = pub
		sinks = append(sinks, pub)
	}
	a.Approvals = approval.NewManager(a.Timeline, a.Logger)
	a.Gateway = gateway.New(a.Hooks, a.Tools, gateway.Options{
		Approvals: a.Approvals,
		Sinks:     sinks,
		Logger:    a.Logger,
	})

	opts := orchestrator.Options{
		MaxDepth:      cfg.Orchestrator.MaxDepth,
		BranchTimeout: cfg.Orchestrator.BranchTimeout,
		MaxConcurrent: cfg.Orchestrator.MaxConcurrent,
		Threshold:     cfg.Orchestrator.Threshold,
		Tools:         a.Gateway,
		Approvals:     a.Approvals,
		Recorder:      a.Timeline,
		Sessions:      a.Sessions,
		Logger:        a.Logger,
	}
	// Interfaces stay nil unless a model is configured.
	var responder agent.Responder
	if cfg.Model.Enabled() {
		llm := provider.NewOpenAIProvider(cfg.Model.APIKey, cfg.Model.APIBase, cfg.Model.Name)
		r := provider.NewResponder(llm, cfg.Model.SystemPrompt, cfg.Model.MaxTokens, cfg.Model.Temperature)
		responder = r
		opts.Responder = r
		if cfg.Model.ClassifyFallback {
			opts.Model = r
		}
	}
	a.Orchestrator = orchestrator.New(a.Hooks, opts)
	for _, sub := range agent.NewRoster(agent.Deps{
		Tools:     a.Gateway,
		Responder: responder,
		Delegator: a.Orchestrator,
		Logger:    a.Logger,
	}) {
		a.Orchestrator.Register(sub)
	}
	return nil
}

func (a *App) registry() *tools.Registry {
	cfg := a.Config
	ws := cfg.Paths.Workspace
	reg := tools.NewRegistry()
	reg.Register(tools.NewReadFileTool(ws))
	reg.Register(tools.NewWriteFileTool(ws))
	reg.Register(tools.NewListDirTool(ws))
	reg.Register(tools.NewSearchFilesTool(ws))
	reg.Register(tools.NewSearchTool(
		tools.FileSource{Root: ws},
		tools.ReminderSource{Timeline: a.Timeline},
		tools.PreferenceSource{Timeline: a.Timeline},
	))
	reg.Register(tools.NewReminderCreateTool(a.Timeline))
	reg.Register(tools.NewPreferenceSaveTool(a.Timeline))
	reg.Register(tools.NewSlackSendTool(a.Tokens, cfg.Slack.DefaultChannel, cfg.Slack.APIURL))
	return reg
}

// modules builds the policy module set. A nil recorder leaves file access
// unrecorded.
func (a *App) modules(limiter policy.UsageAcquirer, files policy.FileAccessRecorder) []policy.Module {
	cfg := a.Config
	layout := policy.DefaultLayout(cfg.Paths.Workspace)
	tier := policy.NewTierGate(a.Tools.Tier)
	tier.MaxAutoTier = cfg.Policy.MaxAutoTier
	scopes := cfg.Policy.Scopes
	if len(scopes) == 0 {
		scopes = agent.DefaultScopes()
	}
	gate := policy.NewConnectionGate(cfg.Policy.Toolkits, a.Timeline, limiter, a.Logger)
	return []policy.Module{
		policy.NewSearchRouter(),
		policy.NewAgentScope(scopes),
		policy.NewPathClassifier(layout, a.Tools.Access, files, a.Logger),
		policy.NewPathConvention(layout, a.Tools.Access),
		tier,
		gate,
	}
}

// Handle runs one user message.
func (a *App) Handle(ctx context.Context, message, sessionID string) orchestrator.SynthesizedResponse {
	return a.Orchestrator.Handle(ctx, message, sessionID)
}

// Close releases the audit publisher and the timeline.
func (a *App) Close() error {
	var first error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			first = err
		}
	}
	if a.Timeline != nil {
		if err := a.Timeline.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
