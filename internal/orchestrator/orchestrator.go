package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KafClaw/butler/internal/agent"
	"github.com/KafClaw/butler/internal/gateway"
	"github.com/KafClaw/butler/internal/hooks"
	"github.com/KafClaw/butler/internal/policy"
)

// maxHistory bounds the turns kept per session.
const maxHistory = 40

var reApprovalReply = regexp.MustCompile(`(?i)^(approve|deny):\s*(\S+)$`)

type session struct {
	conversationID string
	history        []agent.Turn
}

// Orchestrator is Butler. It is safe for concurrent use; each Handle call
// runs its own hook chain and delegation tree.
type Orchestrator struct {
	hooks      Firer
	classifier *Classifier
	opts       Options
	logger     *slog.Logger

	mu       sync.RWMutex
	roster   map[agent.Kind]agent.SubAgent
	sessions map[string]*session
	trees    map[string]*Hierarchy
}

// New creates an orchestrator. Sub-agents are added with Register so they
// can be given the orchestrator as their Delegator.
func New(h Firer, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		hooks:      h,
		classifier: NewClassifier(opts.Threshold, opts.Model),
		opts:       opts,
		logger:     opts.Logger,
		roster:     make(map[agent.Kind]agent.SubAgent),
		sessions:   make(map[string]*session),
		trees:      make(map[string]*Hierarchy),
	}
}

// Register adds sub-agents, replacing any of the same kind.
func (o *Orchestrator) Register(subs ...agent.SubAgent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range subs {
		o.roster[s.Kind()] = s
	}
}

func (o *Orchestrator) subAgent(kind agent.Kind) agent.SubAgent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.roster[kind]
}

// Handle answers one user message. It never returns an error: failures of
// any kind come back as a response with Failure status.
func (o *Orchestrator) Handle(ctx context.Context, message, sessionID string) SynthesizedResponse {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if m := reApprovalReply.FindStringSubmatch(strings.TrimSpace(message)); m != nil && o.opts.Approvals != nil {
		resp := o.Resolve(ctx, sessionID, m[2], strings.EqualFold(m[1], "approve"))
		o.remember(sessionID, message, resp.Text)
		return resp
	}

	ac, first := o.begin(sessionID)
	if first {
		start := o.fire(ctx, hooks.SessionStart, ac, nil, "")
		ac = ac.WithInjected(start.Decision.AdditionalContext)
	}

	var resp SynthesizedResponse
	prompt := o.fire(ctx, hooks.UserPromptSubmit, ac, map[string]any{"prompt": message, "query": message}, "")
	if prompt.Decision.Permission == policy.Deny {
		resp = refusal(ac, prompt.Decision)
	} else {
		ac = ac.WithInjected(prompt.Decision.AdditionalContext)
		resp = o.process(ctx, ac, message)
	}

	o.fire(ctx, hooks.Stop, ac, nil, resp.Text)
	o.remember(sessionID, message, resp.Text)
	return resp
}

// process drives the state machine for one message.
func (o *Orchestrator) process(ctx context.Context, ac agent.Context, message string) (resp SynthesizedResponse) {
	tree := NewHierarchy()
	tree.AddNode(Node{AgentID: ac.AgentID, Kind: KindButler, Depth: ac.CallDepth, Status: "running", Started: time.Now()})
	o.mu.Lock()
	o.trees[ac.TraceID] = tree
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.trees, ac.TraceID)
		o.mu.Unlock()
	}()

	cls := Classification{Intent: IntentNeedsClarification}
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("Orchestrator panicked", "trace_id", ac.TraceID, "panic", p)
			resp = defect(ac, cls, fmt.Errorf("panic: %v", p))
		}
		resp.TraceID = ac.TraceID
		resp.Tree = tree.AllNodes()
	}()

	m := newMachine()
	cls = o.classifier.Classify(ctx, message)
	o.logger.Debug("Message classified", "trace_id", ac.TraceID, "intent", cls.Intent,
		"confidence", cls.Confidence, "domains", cls.Domains, "source", cls.Source)

	var results []agent.DelegationResult
	if cls.Intent == IntentDelegate {
		if err := m.advance(StateDelegating); err != nil {
			return o.internalDefect(ac, cls, err)
		}
		results = o.Delegate(ctx, ac, Plan(message, cls.Domains))
	} else {
		if err := m.advance(StateAnswering); err != nil {
			return o.internalDefect(ac, cls, err)
		}
		results = []agent.DelegationResult{o.answer(ctx, ac, message, cls)}
	}

	if err := m.advance(StateSynthesizing); err != nil {
		return o.internalDefect(ac, cls, err)
	}
	resp = Synthesize(results)
	resp.Intent = cls.Intent
	resp.Confidence = cls.Confidence
	tree.Finish(ac.AgentID, agent.DelegationResult{Status: resp.Status})

	if err := m.advance(StateDone); err != nil {
		return o.internalDefect(ac, cls, err)
	}
	return resp
}

// answer handles every intent that does not delegate, as a single trivial
// result attributed to Butler.
func (o *Orchestrator) answer(ctx context.Context, ac agent.Context, message string, cls Classification) agent.DelegationResult {
	start := time.Now()
	res := agent.DelegationResult{SubAgentID: ac.AgentID, Kind: KindButler, Status: agent.Success}
	switch cls.Intent {
	case IntentOutOfScope:
		res.Payload = "That's outside what I can help with. I can look things up, keep reminders, " +
			"send Slack messages, find your files and remember your preferences."
	case IntentDirectAnswer:
		res.Payload = "Hello! I'm Butler. Ask me to find something, set a reminder, send a message or open a file."
		if o.opts.Responder != nil {
			out, err := o.opts.Responder.Respond(ctx, message, ac)
			if err != nil {
				res.Status = agent.Failure
				res.Reason = agent.ReasonException
				res.ErrorSummary = fmt.Sprintf("could not compose an answer: %v", err)
				res.Payload = ""
			} else if text := strings.TrimSpace(out.Text); text != "" {
				res.Payload = text
			}
		}
	default:
		res.Payload = "I'm not sure what you'd like me to do. Do you want me to search for something, " +
			"set a reminder, send a message, find a file or remember a preference?"
	}
	res.Duration = time.Since(start)
	return res
}

// Resolve records the user's answer to a pending approval and, when
// approved, runs the held tool call again with the approval attached. Only
// the session that owns the approval may answer it.
func (o *Orchestrator) Resolve(ctx context.Context, sessionID, approvalID string, approved bool) SynthesizedResponse {
	traceID := uuid.NewString()
	fail := func(summary string) SynthesizedResponse {
		resp := Synthesize([]agent.DelegationResult{{
			SubAgentID: "butler", Kind: KindButler, Status: agent.Failure,
			Reason: agent.ReasonException, ErrorSummary: summary,
		}})
		resp.Intent, resp.TraceID = IntentDirectAnswer, traceID
		return resp
	}
	if o.opts.Approvals == nil {
		return fail("approvals are not enabled")
	}
	req, err := o.opts.Approvals.Get(approvalID)
	if err != nil {
		return fail(fmt.Sprintf("approval %s was not found", approvalID))
	}
	if req.SessionID != "" && req.SessionID != sessionID {
		o.logger.Warn("Approval answered from another session", "approval_id", approvalID, "session", sessionID)
		return fail(fmt.Sprintf("approval %s belongs to another conversation", approvalID))
	}
	if err := o.opts.Approvals.Respond(approvalID, approved); err != nil {
		return fail(err.Error())
	}
	o.logger.Info("Approval resolved", "approval_id", approvalID, "tool", req.Tool, "approved", approved)

	kind, _, _ := strings.Cut(req.AgentID, ":")
	res := agent.DelegationResult{SubAgentID: req.AgentID, Kind: agent.Kind(kind), Status: agent.Success, ApprovalID: approvalID}
	if !approved {
		res.Payload = fmt.Sprintf("Okay, I won't run %s.", req.Tool)
	} else if o.opts.Tools == nil {
		res.Status, res.Reason, res.ErrorSummary = agent.Failure, agent.ReasonException, "no tool gateway configured"
	} else {
		if req.SessionID == "" {
			req.SessionID = sessionID
		}
		start := time.Now()
		out, err := o.opts.Tools.Invoke(ctx, gateway.Call{
			Tool:       req.Tool,
			Arguments:  req.Arguments,
			SessionID:  req.SessionID,
			AgentID:    req.AgentID,
			TraceID:    req.TraceID,
			ApprovalID: approvalID,
		})
		res.Duration = time.Since(start)
		switch {
		case err != nil:
			res = failedCall(res, err)
		case strings.HasPrefix(out.Output, "Error"):
			res.Status, res.Reason, res.ErrorSummary = agent.Failure, agent.ReasonException, out.Output
		default:
			res.Payload = fmt.Sprintf("Done: %s", strings.TrimSpace(out.Output))
		}
	}
	resp := Synthesize([]agent.DelegationResult{res})
	resp.Intent, resp.Confidence, resp.TraceID = IntentDirectAnswer, 1, traceID
	return resp
}

func failedCall(res agent.DelegationResult, err error) agent.DelegationResult {
	res.Status = agent.Failure
	res.ErrorSummary = err.Error()
	var confirm *gateway.ConfirmationRequiredError
	var denied *gateway.DeniedError
	switch {
	case errors.As(err, &confirm):
		res.Reason, res.ApprovalID = agent.ReasonConfirmationRequired, confirm.ApprovalID
	case errors.As(err, &denied):
		res.Reason = agent.ReasonDenied
		if next := denied.NextStep(); next != "" {
			res.ErrorSummary = denied.Reason + "; " + next
		}
	default:
		res.Reason = agent.ReasonException
	}
	return res
}

// EndSession fires SessionEnd and forgets the session's history, including
// any persisted copy.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	delete(o.sessions, sessionID)
	o.mu.Unlock()
	if o.opts.Sessions != nil {
		if err := o.opts.Sessions.End(sessionID); err != nil {
			o.logger.Warn("Session not removed", "session", sessionID, "error", err)
		}
	}
	if !ok {
		return
	}
	ac := agent.Context{
		SessionID:      sessionID,
		ConversationID: s.conversationID,
		AgentID:        agent.NewAgentID(string(KindButler)),
		TraceID:        uuid.NewString(),
	}
	o.fire(ctx, hooks.SessionEnd, ac, map[string]any{"turns": len(s.history)}, "")
}

// History returns a copy of the session's recorded turns.
func (o *Orchestrator) History(sessionID string) []agent.Turn {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if s, ok := o.sessions[sessionID]; ok {
		return slices.Clone(s.history)
	}
	return nil
}

// begin returns the root context for a new message and whether it is the
// first message of the session. A session persisted by an earlier process
// is resumed rather than started.
func (o *Orchestrator) begin(sessionID string) (agent.Context, bool) {
	o.mu.RLock()
	_, known := o.sessions[sessionID]
	o.mu.RUnlock()

	var stored *session
	if !known && o.opts.Sessions != nil {
		if convID, turns, found := o.opts.Sessions.History(sessionID); found {
			stored = &session{conversationID: convID, history: turns}
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	first := false
	if !ok {
		s = stored
		if s == nil {
			s = &session{conversationID: uuid.NewString()}
			first = true
		}
		o.sessions[sessionID] = s
	}
	return agent.Context{
		SessionID:      sessionID,
		ConversationID: s.conversationID,
		History:        slices.Clone(s.history),
		AgentID:        agent.NewAgentID(string(KindButler)),
		TraceID:        uuid.NewString(),
	}, first
}

func (o *Orchestrator) remember(sessionID, message, reply string) {
	turns := []agent.Turn{{Role: "user", Content: message}, {Role: "assistant", Content: reply}}
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if !ok {
		s = &session{conversationID: uuid.NewString()}
		o.sessions[sessionID] = s
	}
	s.history = append(s.history, turns...)
	if len(s.history) > maxHistory {
		s.history = slices.Clone(s.history[len(s.history)-maxHistory:])
	}
	convID := s.conversationID
	o.mu.Unlock()

	if o.opts.Sessions == nil {
		return
	}
	if err := o.opts.Sessions.Append(sessionID, convID, turns...); err != nil {
		o.logger.Warn("Session history not saved", "session", sessionID, "error", err)
	}
}

func (o *Orchestrator) treeFor(traceID string) *Hierarchy {
	o.mu.RLock()
	tree, ok := o.trees[traceID]
	o.mu.RUnlock()
	if !ok {
		return NewHierarchy()
	}
	return tree
}

func (o *Orchestrator) fire(ctx context.Context, event hooks.Event, ac agent.Context, input map[string]any, output string) hooks.Outcome {
	if o.hooks == nil {
		return hooks.Outcome{Decision: policy.Decision{Permission: policy.Allow}}
	}
	return o.hooks.Fire(ctx, event, policy.ActionRequest{
		Input:     input,
		SessionID: ac.SessionID,
		CallDepth: ac.CallDepth,
		AgentID:   ac.AgentID,
		TraceID:   ac.TraceID,
		Output:    output,
	})
}

func (o *Orchestrator) internalDefect(ac agent.Context, cls Classification, err error) SynthesizedResponse {
	o.logger.Error("Orchestrator state machine defect", "trace_id", ac.TraceID, "error", err)
	return defect(ac, cls, err)
}

func defect(ac agent.Context, cls Classification, err error) SynthesizedResponse {
	resp := Synthesize([]agent.DelegationResult{{
		SubAgentID:   ac.AgentID,
		Kind:         KindButler,
		Status:       agent.Failure,
		Reason:       agent.ReasonException,
		ErrorSummary: fmt.Sprintf("internal error: %v", err),
	}})
	resp.Intent, resp.Confidence = cls.Intent, cls.Confidence
	return resp
}

func refusal(ac agent.Context, d policy.Decision) SynthesizedResponse {
	reason := d.Reason
	if reason == "" {
		reason = "this request is blocked by policy"
	}
	res := agent.DelegationResult{
		SubAgentID:   ac.AgentID,
		Kind:         KindButler,
		Status:       agent.Failure,
		Reason:       agent.ReasonDenied,
		ErrorSummary: reason,
	}
	resp := Synthesize([]agent.DelegationResult{res})
	resp.Text = "I can't help with that: " + reason + "."
	if d.SuggestedAlternative != "" {
		resp.Text += " " + d.SuggestedAlternative
	}
	resp.Intent = IntentOutOfScope
	resp.Confidence = 1
	resp.TraceID = ac.TraceID
	return resp
}
