// Package config provides configuration types and loading for butler.
package config

import (
	"path/filepath"
	"time"

	"github.com/KafClaw/butler/internal/policy"
	"github.com/KafClaw/butler/internal/ratelimit"
)

// Config is the root configuration struct.
type Config struct {
	Paths        PathsConfig                 `json:"paths"`
	Model        ModelConfig                 `json:"model"`
	Hooks        HooksConfig                 `json:"hooks"`
	RateLimits   map[string]ratelimit.Limits `json:"rateLimits"`
	Orchestrator OrchestratorConfig          `json:"orchestrator"`
	Policy       PolicyConfig                `json:"policy"`
	Audit        AuditConfig                 `json:"audit"`
	Slack        SlackConfig                 `json:"slack"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	// Workspace is the root of the user's PARA document store.
	Workspace string `json:"workspace" envconfig:"WORKSPACE"`
	// DataDir holds the timeline database and the token store.
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// TimelinePath is the SQLite database file.
func (p PathsConfig) TimelinePath() string { return filepath.Join(p.DataDir, "timeline.db") }

// SessionsDir holds persisted conversation history.
func (p PathsConfig) SessionsDir() string { return filepath.Join(p.DataDir, "sessions") }

// TokensDir is where toolkit OAuth tokens are kept.
func (p PathsConfig) TokensDir() string { return filepath.Join(p.DataDir, "tokens") }

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig configures the OpenAI-compatible model behind the Responder.
type ModelConfig struct {
	Name         string  `json:"name" envconfig:"NAME"`
	APIKey       string  `json:"apiKey" envconfig:"API_KEY"`
	APIBase      string  `json:"apiBase" envconfig:"API_BASE"`
	MaxTokens    int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature  float64 `json:"temperature" envconfig:"TEMPERATURE"`
	SystemPrompt string  `json:"systemPrompt,omitempty" envconfig:"SYSTEM_PROMPT"`
	// ClassifyFallback lets the model classify messages the keyword
	// heuristic is unsure about.
	ClassifyFallback bool `json:"classifyFallback" envconfig:"CLASSIFY_FALLBACK"`
}

// Enabled reports whether a model endpoint is usable.
func (m ModelConfig) Enabled() bool { return m.APIKey != "" || m.APIBase != "" }

// ---------------------------------------------------------------------------
// Hooks – policy module registration
// ---------------------------------------------------------------------------

// HooksConfig points at the hook registration file.
type HooksConfig struct {
	// File is a YAML or JSON registration list. Empty uses the built-in
	// defaults.
	File string `json:"file" envconfig:"FILE"`
	// TieBreak picks the reason among equally restrictive decisions:
	// "first" (default) or "last".
	TieBreak string `json:"tieBreak" envconfig:"TIE_BREAK"`
}

// ---------------------------------------------------------------------------
// Orchestrator – delegation
// ---------------------------------------------------------------------------

// OrchestratorConfig bounds delegation.
type OrchestratorConfig struct {
	MaxDepth      int           `json:"maxDepth" envconfig:"MAX_DEPTH"`
	BranchTimeout time.Duration `json:"branchTimeout" envconfig:"BRANCH_TIMEOUT"`
	MaxConcurrent int           `json:"maxConcurrent" envconfig:"MAX_CONCURRENT"`
	Threshold     float64       `json:"threshold" envconfig:"THRESHOLD"`
}

// ---------------------------------------------------------------------------
// Policy – access control
// ---------------------------------------------------------------------------

// PolicyConfig configures the policy modules.
type PolicyConfig struct {
	// MaxAutoTier is the highest tool tier that runs without approval.
	MaxAutoTier int `json:"maxAutoTier" envconfig:"MAX_AUTO_TIER"`
	// Toolkits are the external services behind the connection gate.
	Toolkits []string `json:"toolkits" envconfig:"TOOLKITS"`
	// Scopes overrides the per sub-agent tool scopes.
	Scopes map[string]policy.Scope `json:"scopes,omitempty" ignored:"true"`
}

// ---------------------------------------------------------------------------
// Audit – decision trail
// ---------------------------------------------------------------------------

// AuditConfig configures publishing of policy decisions to Kafka.
type AuditConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers  string `json:"brokers" envconfig:"BROKERS"` // comma-separated
	Topic    string `json:"topic" envconfig:"TOPIC"`
	SenderID string `json:"senderId" envconfig:"SENDER_ID"`
}

// ---------------------------------------------------------------------------
// Slack – communicator tool
// ---------------------------------------------------------------------------

// SlackConfig configures the slack_send_message tool.
type SlackConfig struct {
	DefaultChannel string `json:"defaultChannel" envconfig:"DEFAULT_CHANNEL"`
	APIURL         string `json:"apiUrl,omitempty" envconfig:"API_URL"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Workspace: "~/Butler",
			DataDir:   "~/" + ConfigDir,
		},
		Model: ModelConfig{
			Name:        "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.3,
		},
		Hooks: HooksConfig{
			TieBreak: "first",
		},
		RateLimits: map[string]ratelimit.Limits{
			"gmail":          {PerMinute: 10, PerHour: 100},
			"slack":          {PerMinute: 20, PerHour: 300},
			"googlecalendar": {PerMinute: 10, PerHour: 200},
		},
		Orchestrator: OrchestratorConfig{
			MaxDepth:      3,
			BranchTimeout: 30 * time.Second,
			MaxConcurrent: 4,
			Threshold:     0.45,
		},
		Policy: PolicyConfig{
			MaxAutoTier: 1,
			Toolkits:    []string{"gmail", "slack", "googlecalendar"},
		},
		Audit: AuditConfig{
			Topic:    "butler.audit.policy-decisions",
			SenderID: "butler",
		},
		Slack: SlackConfig{
			DefaultChannel: "#general",
		},
	}
}

// TieBreak converts Hooks.TieBreak into the policy setting.
func (c *Config) TieBreak() (policy.TieBreak, error) {
	return policy.ParseTieBreak(c.Hooks.TieBreak)
}
