package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KafClaw/butler/internal/secrets"
	"github.com/slack-go/slack"
)

// TokenSource returns the stored OAuth token of a toolkit.
type TokenSource interface {
	Load(toolkit string) (*secrets.Token, error)
}

// SlackSendTool posts a message to a Slack channel with the user's token.
type SlackSendTool struct {
	tokens         TokenSource
	defaultChannel string
	apiURL         string
}

// NewSlackSendTool creates the tool. apiURL overrides the Slack endpoint and
// may be empty.
func NewSlackSendTool(tokens TokenSource, defaultChannel, apiURL string) *SlackSendTool {
	return &SlackSendTool{tokens: tokens, defaultChannel: defaultChannel, apiURL: apiURL}
}

func (t *SlackSendTool) Name() string { return "slack_send_message" }
func (t *SlackSendTool) Tier() int    { return TierHighRisk }

func (t *SlackSendTool) Description() string {
	return "Send a message to a Slack channel or user on the user's behalf."
}

func (t *SlackSendTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{
				"type":        "string",
				"description": "Channel name (#general), channel ID or user ID",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Message text",
			},
		},
		"required": []string{"text"},
	}
}

func (t *SlackSendTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	text := strings.TrimSpace(GetString(params, "text", ""))
	if text == "" {
		return "Error: text is required", nil
	}
	channel := strings.TrimPrefix(FirstString(params, "channel"), "#")
	if channel == "" {
		channel = strings.TrimPrefix(t.defaultChannel, "#")
	}
	if channel == "" {
		return "Error: channel is required (no default Slack channel configured)", nil
	}

	tok, err := t.tokens.Load("slack")
	if errors.Is(err, secrets.ErrNoToken) {
		return "", fmt.Errorf("slack is not connected: run `butler connect slack`")
	}
	if err != nil {
		return "", err
	}
	if secrets.IsExpired(tok, time.Now()) {
		return "", fmt.Errorf("slack token expired: run `butler connect slack`")
	}

	var opts []slack.Option
	if t.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(t.apiURL))
	}
	client := slack.New(tok.AccessToken, opts...)
	chID, ts, err := client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack post to %s: %w", channel, err)
	}
	return fmt.Sprintf("Message sent to %s (ts %s)", chID, ts), nil
}
