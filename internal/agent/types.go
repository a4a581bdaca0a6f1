// Package agent defines Butler's specialist sub-agents and the contract the
// orchestrator uses to run them.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/KafClaw/butler/internal/gateway"
)

// Kind names a sub-agent variant.
type Kind string

const (
	KindTriage            Kind = "triage"
	KindScheduler         Kind = "scheduler"
	KindCommunicator      Kind = "communicator"
	KindNavigator         Kind = "navigator"
	KindPreferenceLearner Kind = "preference_learner"
)

// Kinds lists every sub-agent variant.
var Kinds = []Kind{KindTriage, KindScheduler, KindCommunicator, KindNavigator, KindPreferenceLearner}

// ParseKind converts a name into a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown sub-agent kind %q", s)
}

// Status of a delegation.
type Status int

const (
	Success Status = iota
	PartialFailure
	Failure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case PartialFailure:
		return "partial_failure"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Failure reasons.
const (
	ReasonDepthExceeded        = "depth_exceeded"
	ReasonTimeout              = "timeout"
	ReasonException            = "exception"
	ReasonConfirmationRequired = "confirmation_required"
	ReasonDenied               = "denied"
)

// DelegationResult is what one sub-agent branch produced.
type DelegationResult struct {
	SubAgentID   string        `json:"sub_agent_id"`
	Kind         Kind          `json:"kind"`
	Status       Status        `json:"status"`
	Payload      string        `json:"payload,omitempty"`
	ErrorSummary string        `json:"error_summary,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	ApprovalID   string        `json:"approval_id,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Succeeded reports whether the branch produced a usable payload.
func (r DelegationResult) Succeeded() bool { return r.Status != Failure }

// Task is the work handed to a sub-agent.
type Task struct {
	Instruction string
	Params      map[string]any
	// Upstream holds the results of branches this one depended on.
	Upstream []DelegationResult
}

// Branch is one entry of a delegation plan. After names the kinds in the
// same plan that must finish first.
type Branch struct {
	Kind  Kind
	Task  Task
	After []Kind
}

// Response is a model's answer to a prompt.
type Response struct {
	Text   string
	Fields map[string]string
}

// Responder turns a prompt into text. Sub-agents use it to phrase payloads.
type Responder interface {
	Respond(ctx context.Context, prompt string, ac Context) (Response, error)
}

// ToolInvoker is the path from a sub-agent to its tools.
type ToolInvoker interface {
	Invoke(ctx context.Context, call gateway.Call) (gateway.Result, error)
}

// Delegator runs a plan of branches on behalf of a parent agent.
type Delegator interface {
	Delegate(ctx context.Context, parent Context, branches []Branch) []DelegationResult
}

// SubAgent is one specialist. Run never panics on bad input; failures are
// reported in the result.
type SubAgent interface {
	Kind() Kind
	Run(ctx context.Context, ac Context, task Task) DelegationResult
}
