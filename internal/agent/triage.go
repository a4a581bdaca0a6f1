package agent

import (
	"context"
	"fmt"
	"strings"
)

// Triage answers look-up requests with the routed search tool and hands
// document questions to a Navigator child.
type Triage struct{ deps Deps }

func NewTriage(d Deps) *Triage { return &Triage{deps: d} }

func (t *Triage) Kind() Kind { return KindTriage }

func (t *Triage) Run(ctx context.Context, ac Context, task Task) DelegationResult {
	r := newRun(t.deps, ac, KindTriage)
	query := param(task, "query")
	if query == "" {
		query = task.Instruction
	}

	res, err := r.invoke(ctx, "search", map[string]any{"query": query})
	if err != nil {
		return r.fail(err)
	}
	payload := strings.TrimSpace(res.Output)

	if t.deps.Delegator != nil && wantsDocuments(res.AdditionalContext, payload) {
		children := t.deps.Delegator.Delegate(ctx, ac, []Branch{{Kind: KindNavigator, Task: Task{Instruction: query}}})
		for _, c := range children {
			if !c.Succeeded() {
				summary := fmt.Sprintf("%s: %s", c.Kind, c.ErrorSummary)
				if c.Reason != "" {
					summary = fmt.Sprintf("%s (%s): %s", c.Kind, c.Reason, c.ErrorSummary)
				}
				return r.partial(r.phrase(ctx, "Summarize these search results for the user.", payload), summary)
			}
			payload += "\n\n" + c.Payload
		}
	}
	return r.success(r.phrase(ctx, "Summarize these search results for the user.", payload))
}

// wantsDocuments reports whether the routing context points at the file
// store or the general search came back empty.
func wantsDocuments(routing, output string) bool {
	return strings.Contains(routing, "documents") || strings.HasPrefix(output, "No results")
}
