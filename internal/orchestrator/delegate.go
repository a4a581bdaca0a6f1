package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/butler/internal/agent"
	"github.com/KafClaw/butler/internal/timeline"
)

// Plan builds one branch per domain. The communicator waits for the
// branches whose output it may need to send.
func Plan(message string, domains []agent.Kind) []agent.Branch {
	branches := make([]agent.Branch, 0, len(domains))
	for _, kind := range domains {
		b := agent.Branch{Kind: kind, Task: agent.Task{Instruction: message}}
		if kind == agent.KindCommunicator {
			b.After = []agent.Kind{agent.KindTriage, agent.KindScheduler, agent.KindNavigator}
		}
		branches = append(branches, b)
	}
	return branches
}

// Delegate runs branches on behalf of parent and returns one result per
// branch, in branch order. Branches run in waves: a branch starts once
// every branch of a kind named in its After has finished, and receives
// those results as Task.Upstream. Within a wave branches run concurrently,
// at most MaxConcurrent at a time. Delegate never panics and never blocks
// longer than the branch timeout per wave.
func (o *Orchestrator) Delegate(ctx context.Context, parent agent.Context, branches []agent.Branch) []agent.DelegationResult {
	results := make([]agent.DelegationResult, len(branches))
	done := make([]bool, len(branches))
	tree := o.treeFor(parent.TraceID)

	for remaining := len(branches); remaining > 0; {
		wave := readyBranches(branches, done)
		if len(wave) == 0 {
			for i := range branches {
				if !done[i] {
					results[i] = o.skip(parent, branches[i].Kind, tree, agent.ReasonException,
						"dependency cycle between delegation branches")
				}
			}
			break
		}

		g := new(errgroup.Group)
		g.SetLimit(o.opts.MaxConcurrent)
		for _, i := range wave {
			task := branches[i].Task
			task.Upstream = upstream(branches, results, done, branches[i].After)
			kind := branches[i].Kind
			g.Go(func() error {
				results[i] = o.runBranch(ctx, parent, kind, task, tree)
				return nil
			})
		}
		_ = g.Wait()

		for _, i := range wave {
			done[i] = true
		}
		remaining -= len(wave)
	}
	return results
}

// readyBranches returns the unfinished branches whose dependencies have
// all finished. Kinds named in After but absent from the plan are ignored.
func readyBranches(branches []agent.Branch, done []bool) []int {
	var ready []int
	for i, b := range branches {
		if done[i] {
			continue
		}
		blocked := false
		for j, other := range branches {
			if j != i && !done[j] && slices.Contains(b.After, other.Kind) {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, i)
		}
	}
	return ready
}

func upstream(branches []agent.Branch, results []agent.DelegationResult, done []bool, after []agent.Kind) []agent.DelegationResult {
	var out []agent.DelegationResult
	for j, b := range branches {
		if done[j] && slices.Contains(after, b.Kind) {
			out = append(out, results[j])
		}
	}
	return out
}

// runBranch spawns one sub-agent with a child context. It returns when the
// sub-agent finishes or the branch timeout fires, whichever comes first; a
// timed-out sub-agent is cancelled and its late result discarded.
func (o *Orchestrator) runBranch(ctx context.Context, parent agent.Context, kind agent.Kind, task agent.Task, tree *Hierarchy) agent.DelegationResult {
	child := parent.Child(kind)
	if child.CallDepth > o.opts.MaxDepth {
		return o.skipChild(child, kind, tree, agent.ReasonDepthExceeded,
			fmt.Sprintf("delegation depth %d exceeds the limit of %d", child.CallDepth, o.opts.MaxDepth))
	}
	sub := o.subAgent(kind)
	if sub == nil {
		return o.skipChild(child, kind, tree, agent.ReasonException,
			fmt.Sprintf("no %s sub-agent is available", kind))
	}

	start := time.Now()
	tree.AddNode(Node{
		AgentID:  child.AgentID,
		Kind:     kind,
		ParentID: parent.AgentID,
		Depth:    child.CallDepth,
		Status:   "running",
		Started:  start,
	})

	bctx, cancel := context.WithTimeout(ctx, o.opts.BranchTimeout)
	defer cancel()

	ch := make(chan agent.DelegationResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				o.logger.Error("Sub-agent panicked", "kind", kind, "agent_id", child.AgentID, "panic", p)
				ch <- agent.DelegationResult{
					Status:       agent.Failure,
					Reason:       agent.ReasonException,
					ErrorSummary: fmt.Sprintf("%s sub-agent crashed: %v", kind, p),
				}
			}
		}()
		ch <- sub.Run(bctx, child, task)
	}()

	var res agent.DelegationResult
	select {
	case res = <-ch:
	case <-bctx.Done():
		res = agent.DelegationResult{Status: agent.Failure, Reason: agent.ReasonTimeout,
			ErrorSummary: fmt.Sprintf("%s did not finish within %s", kind, o.opts.BranchTimeout)}
		if !errors.Is(bctx.Err(), context.DeadlineExceeded) {
			res.Reason = agent.ReasonException
			res.ErrorSummary = fmt.Sprintf("%s was cancelled", kind)
		}
	}
	res.SubAgentID = child.AgentID
	res.Kind = kind
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}

	tree.Finish(child.AgentID, res)
	o.record(child, res)
	o.logger.Info("Delegation branch finished",
		"kind", kind, "agent_id", child.AgentID, "depth", child.CallDepth,
		"status", res.Status, "reason", res.Reason, "duration", res.Duration)
	return res
}

// skip records a branch that never ran.
func (o *Orchestrator) skip(parent agent.Context, kind agent.Kind, tree *Hierarchy, reason, summary string) agent.DelegationResult {
	return o.skipChild(parent.Child(kind), kind, tree, reason, summary)
}

func (o *Orchestrator) skipChild(child agent.Context, kind agent.Kind, tree *Hierarchy, reason, summary string) agent.DelegationResult {
	res := agent.DelegationResult{
		SubAgentID:   child.AgentID,
		Kind:         kind,
		Status:       agent.Failure,
		Reason:       reason,
		ErrorSummary: summary,
	}
	tree.AddNode(Node{
		AgentID:  child.AgentID,
		Kind:     kind,
		ParentID: child.ParentAgentID,
		Depth:    child.CallDepth,
		Status:   "skipped",
		Reason:   reason,
		Started:  time.Now(),
	})
	o.record(child, res)
	o.logger.Warn("Delegation branch skipped", "kind", kind, "depth", child.CallDepth, "reason", reason)
	return res
}

func (o *Orchestrator) record(child agent.Context, res agent.DelegationResult) {
	if o.opts.Recorder == nil {
		return
	}
	if err := o.opts.Recorder.RecordDelegationRun(&timeline.DelegationRunRecord{
		TraceID:       child.TraceID,
		SessionID:     child.SessionID,
		AgentID:       child.AgentID,
		ParentAgentID: child.ParentAgentID,
		Kind:          string(res.Kind),
		Depth:         child.CallDepth,
		Status:        res.Status.String(),
		Reason:        res.Reason,
		DurationMs:    res.Duration.Milliseconds(),
	}); err != nil {
		o.logger.Warn("Delegation run not recorded", "agent_id", child.AgentID, "error", err)
	}
}
