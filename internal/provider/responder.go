package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/KafClaw/butler/internal/agent"
)

const defaultSystemPrompt = "You are Butler, a concise personal assistant. " +
	"Answer in plain text using only the information you are given."

// maxHistoryTurns bounds how much conversation history is replayed.
const maxHistoryTurns = 10

// Responder adapts an LLMProvider to agent.Responder.
type Responder struct {
	llm          LLMProvider
	systemPrompt string
	maxTokens    int
	temperature  float64
}

// NewResponder wraps llm. An empty systemPrompt uses the built-in one.
func NewResponder(llm LLMProvider, systemPrompt string, maxTokens int, temperature float64) *Responder {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Responder{llm: llm, systemPrompt: systemPrompt, maxTokens: maxTokens, temperature: temperature}
}

// Respond sends prompt with the agent's recent history and injected context.
func (r *Responder) Respond(ctx context.Context, prompt string, ac agent.Context) (agent.Response, error) {
	resp, err := r.llm.Chat(ctx, &ChatRequest{
		Messages:    r.messages(prompt, ac),
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	})
	if err != nil {
		return agent.Response{}, err
	}
	return agent.Response{
		Text:   strings.TrimSpace(resp.Content),
		Fields: map[string]string{"finish_reason": resp.FinishReason},
	}, nil
}

func (r *Responder) messages(prompt string, ac agent.Context) []Message {
	msgs := []Message{{Role: "system", Content: r.systemPrompt}}
	if injected := ac.Injected(); injected != "" {
		msgs = append(msgs, Message{Role: "system", Content: "Context:\n" + injected})
	}
	history := ac.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	for _, t := range history {
		msgs = append(msgs, Message{Role: t.Role, Content: t.Content})
	}
	return append(msgs, Message{Role: "user", Content: prompt})
}

// ClassifyIntent asks the model to pick one of intents for message. It
// satisfies the orchestrator's model classifier contract.
func (r *Responder) ClassifyIntent(ctx context.Context, message string, intents []string) (string, float64, error) {
	prompt := fmt.Sprintf("Classify the user's message into exactly one of: %s.\n"+
		`Reply with JSON {"intent": "<one of the list>", "confidence": <0..1>}.`+"\n\nMessage: %s",
		strings.Join(intents, ", "), message)
	resp, err := r.llm.Chat(ctx, &ChatRequest{
		Messages:  []Message{{Role: "user", Content: prompt}},
		MaxTokens: 64,
		JSONMode:  true,
	})
	if err != nil {
		return "", 0, err
	}
	var out struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil {
		return "", 0, fmt.Errorf("parse classification: %w", err)
	}
	if !slices.Contains(intents, out.Intent) {
		return "", 0, fmt.Errorf("model chose unknown intent %q", out.Intent)
	}
	return out.Intent, min(max(out.Confidence, 0), 1), nil
}

// extractJSON trims prose or code fences around a JSON object.
func extractJSON(s string) string {
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
