package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/KafClaw/butler/internal/policy"
	"github.com/KafClaw/butler/internal/timeline"
)

// Evaluation is one module's contribution to a Fire.
type Evaluation struct {
	ModuleID string
	Decision policy.Decision
	Err      error
	TimedOut bool
	Duration time.Duration
}

// Outcome is the merged result of firing an event.
type Outcome struct {
	Decision    policy.Decision
	Evaluations []Evaluation
}

// Failures returns the evaluations that failed open.
func (o Outcome) Failures() []Evaluation {
	var out []Evaluation
	for _, ev := range o.Evaluations {
		if ev.Err != nil {
			out = append(out, ev)
		}
	}
	return out
}

// Options configure a Runner.
type Options struct {
	Logger   *slog.Logger
	Recorder FailureRecorder
	TieBreak policy.TieBreak
}

// Runner holds the registered hooks and fires them on lifecycle events.
// Registration may happen concurrently with Fire; each Fire sees a
// consistent snapshot.
type Runner struct {
	modules  map[string]policy.Module
	merger   policy.Merger
	logger   *slog.Logger
	recorder FailureRecorder

	mu    sync.RWMutex
	hooks map[Event][]compiledHook
}

// NewRunner creates a runner over the given modules. Module IDs must be unique.
func NewRunner(modules []policy.Module, opts Options) (*Runner, error) {
	r := &Runner{
		modules:  make(map[string]policy.Module, len(modules)),
		merger:   policy.Merger{TieBreak: opts.TieBreak},
		logger:   opts.Logger,
		recorder: opts.Recorder,
		hooks:    make(map[Event][]compiledHook),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	for _, m := range modules {
		if _, dup := r.modules[m.ID()]; dup {
			return nil, fmt.Errorf("duplicate policy module %q", m.ID())
		}
		r.modules[m.ID()] = m
	}
	return r, nil
}

// Register appends a hook. Registration order is execution order.
func (r *Runner) Register(hc HookConfig) error {
	if _, err := ParseEvent(string(hc.Event)); err != nil {
		return err
	}
	if _, ok := r.modules[hc.ModuleID]; !ok {
		return fmt.Errorf("unknown policy module %q", hc.ModuleID)
	}
	ch, err := compile(hc)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.hooks[hc.Event] = append(r.hooks[hc.Event], ch)
	r.mu.Unlock()
	return nil
}

// RegisterAll registers hooks in order, stopping at the first invalid one.
func (r *Runner) RegisterAll(hcs []HookConfig) error {
	for _, hc := range hcs {
		if err := r.Register(hc); err != nil {
			return err
		}
	}
	return nil
}

// Hooks returns the registrations for event in execution order.
func (r *Runner) Hooks(event Event) []HookConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HookConfig, 0, len(r.hooks[event]))
	for _, h := range r.hooks[event] {
		out = append(out, h.HookConfig)
	}
	return out
}

// ModuleIDs lists the known modules, sorted.
func (r *Runner) ModuleIDs() []string {
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Fire runs every hook registered for event whose matcher accepts req,
// sequentially and in registration order, and merges their decisions.
// A module that errors, panics or times out contributes Allow and the
// remaining modules still run.
func (r *Runner) Fire(ctx context.Context, event Event, req policy.ActionRequest) Outcome {
	r.mu.RLock()
	hooks := r.hooks[event]
	r.mu.RUnlock()

	var out Outcome
	decisions := make([]policy.Decision, 0, len(hooks))
	for _, h := range hooks {
		if !h.matches(req) {
			continue
		}
		ev := r.evaluate(ctx, event, h, req)
		out.Evaluations = append(out.Evaluations, ev)
		decisions = append(decisions, ev.Decision)
	}
	out.Decision = r.merger.Merge(decisions)
	return out
}

type moduleResult struct {
	decision policy.Decision
	err      error
}

func (r *Runner) evaluate(ctx context.Context, event Event, h compiledHook, req policy.ActionRequest) Evaluation {
	module := r.modules[h.ModuleID]
	start := time.Now()

	mctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	// Buffered so an abandoned module never blocks on send.
	ch := make(chan moduleResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- moduleResult{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		d, err := module.Evaluate(mctx, req)
		ch <- moduleResult{decision: d, err: err}
	}()

	ev := Evaluation{ModuleID: h.ModuleID}
	select {
	case res := <-ch:
		ev.Decision, ev.Err = res.decision, res.err
	case <-mctx.Done():
		if ctx.Err() != nil {
			ev.Err = ctx.Err()
		} else {
			ev.Err = ErrPolicyTimeout
			ev.TimedOut = true
		}
	}
	ev.Duration = time.Since(start)

	if ev.Err != nil {
		perr := &PolicyError{Event: event, ModuleID: h.ModuleID, Err: ev.Err}
		ev.Err = perr
		ev.Decision = policy.Decision{Permission: policy.Allow}
		r.reportFailure(perr, req)
	}
	return ev
}

func (r *Runner) reportFailure(perr *PolicyError, req policy.ActionRequest) {
	r.logger.Warn("Policy module failed open",
		"event", perr.Event, "module", perr.ModuleID, "tool", req.Tool, "kind", perr.Kind(), "error", perr.Err)
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordHookFailure(&timeline.HookFailureRecord{
		Event:     string(perr.Event),
		ModuleID:  perr.ModuleID,
		Tool:      req.Tool,
		SessionID: req.SessionID,
		Kind:      perr.Kind(),
		Detail:    perr.Err.Error(),
	}); err != nil {
		r.logger.Debug("Hook failure not recorded", "module", perr.ModuleID, "error", err)
	}
}
