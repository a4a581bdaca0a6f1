package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KafClaw/butler/internal/policy"
)

// isolate points HOME and the butler variables at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("BUTLER_HOME", "")
	t.Setenv("BUTLER_CONFIG", "")
	t.Setenv("BUTLER_ENV_FILE", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	return tmp
}

func writeConfig(t *testing.T, home, body string) string {
	t.Helper()
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	path := filepath.Join(dir, ConfigFile)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Orchestrator.MaxDepth != 3 || cfg.Orchestrator.MaxConcurrent != 4 {
		t.Errorf("unexpected orchestrator defaults: %+v", cfg.Orchestrator)
	}
	if cfg.Orchestrator.BranchTimeout != 30*time.Second {
		t.Errorf("expected 30s branch timeout, got %v", cfg.Orchestrator.BranchTimeout)
	}
	if cfg.Orchestrator.Threshold != 0.45 {
		t.Errorf("expected threshold 0.45, got %v", cfg.Orchestrator.Threshold)
	}
	if l := cfg.RateLimits["gmail"]; l.PerMinute != 10 || l.PerHour != 100 {
		t.Errorf("unexpected gmail limits %+v", l)
	}
	if l := cfg.RateLimits["slack"]; l.PerMinute != 20 || l.PerHour != 300 {
		t.Errorf("unexpected slack limits %+v", l)
	}
	if cfg.Paths.TimelinePath() != filepath.Join("~/.butler", "timeline.db") {
		t.Errorf("unexpected timeline path %s", cfg.Paths.TimelinePath())
	}
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Paths.DataDir != filepath.Join(home, ".butler") {
		t.Errorf("expected ~ expanded data dir, got %s", cfg.Paths.DataDir)
	}
	if cfg.Model.Enabled() {
		t.Error("model should be disabled without an API key")
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, `{
		"model": {"name": "openai/gpt-4", "maxTokens": 4096},
		"rateLimits": {"slack": {"perMinute": 2, "perHour": 5}},
		"orchestrator": {"maxDepth": 2},
		"policy": {"scopes": {"navigator": {"allow": ["read_file"]}}}
	}`)
	t.Setenv("BUTLER_ORCHESTRATOR_MAX_CONCURRENT", "7")
	t.Setenv("BUTLER_ORCHESTRATOR_BRANCH_TIMEOUT", "5s")
	t.Setenv("BUTLER_POLICY_TOOLKITS", "gmail,notion")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Model.Name != "openai/gpt-4" || cfg.Model.MaxTokens != 4096 {
		t.Errorf("file values not applied: %+v", cfg.Model)
	}
	if cfg.Model.APIKey != "sk-test" {
		t.Errorf("expected API key fallback, got %q", cfg.Model.APIKey)
	}
	if cfg.RateLimits["slack"].PerMinute != 2 {
		t.Errorf("rate limits not loaded: %+v", cfg.RateLimits)
	}
	if cfg.Orchestrator.MaxDepth != 2 || cfg.Orchestrator.MaxConcurrent != 7 || cfg.Orchestrator.BranchTimeout != 5*time.Second {
		t.Errorf("unexpected orchestrator config: %+v", cfg.Orchestrator)
	}
	if len(cfg.Policy.Toolkits) != 2 || cfg.Policy.Toolkits[1] != "notion" {
		t.Errorf("toolkits env not applied: %v", cfg.Policy.Toolkits)
	}
	if got := cfg.Policy.Scopes["navigator"].Allow; len(got) != 1 || got[0] != "read_file" {
		t.Errorf("scopes not loaded: %+v", cfg.Policy.Scopes)
	}
}

func TestConfigPathRespectsButlerConfigAndHome(t *testing.T) {
	isolate(t)
	t.Setenv("BUTLER_HOME", "/srv/butlerhome")
	t.Setenv("BUTLER_CONFIG", "~/.butler/custom.json")

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if path != filepath.Join("/srv/butlerhome", ".butler", "custom.json") {
		t.Fatalf("unexpected config path: %q", path)
	}
}

func TestLoadInvalidJSONReturnsError(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, `{"model":`)
	if _, err := Load(); err == nil {
		t.Fatal("expected JSON error, got nil")
	}
}

func TestLoadRejectsUnknownTieBreak(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, `{"hooks": {"tieBreak": "random"}}`)
	if _, err := Load(); err == nil {
		t.Fatal("expected tie-break error")
	}
}

func TestTieBreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hooks.TieBreak = "last"
	if tb, err := cfg.TieBreak(); err != nil || tb != policy.LastWins {
		t.Fatalf("got %v, %v", tb, err)
	}
}

func TestLoadWithIncludeAndEnvSubstitution(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "base.json"),
		[]byte(`{"model": {"name": "base-model", "maxTokens": 1024}, "slack": {"defaultChannel": "#ops"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, home, `{"$include": "base.json", "model": {"name": "${TEST_MODEL}"}}`)
	t.Setenv("TEST_MODEL", "env-model")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Model.Name != "env-model" || cfg.Model.MaxTokens != 1024 {
		t.Fatalf("include/substitution not applied: %+v", cfg.Model)
	}
	if cfg.Slack.DefaultChannel != "#ops" {
		t.Fatalf("included section lost: %+v", cfg.Slack)
	}
}

func TestIncludeCycleReturnsError(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"$include": "config.json"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, home, `{"$include": "a.json"}`)
	if _, err := Load(); err == nil {
		t.Fatal("expected include cycle error")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	isolate(t)
	cfg := DefaultConfig()
	cfg.Slack.DefaultChannel = "#butler"
	if err := Save(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	loaded, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Slack.DefaultChannel != "#butler" {
		t.Fatalf("saved value lost: %+v", loaded.Slack)
	}
}

func TestLoadEnvFileRespectsExistingValues(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "env")
	body := "# comment\n" +
		"export BUTLER_SLACK_DEFAULT_CHANNEL=\"#ops\"\n" +
		"BUTLER_MODEL_NAME=process-loses # trailing comment\n" +
		"OPENAI_API_KEY='sk-file'\n" +
		"UNRELATED_KEY=ignored\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BUTLER_MODEL_NAME", "from-process")
	t.Setenv("BUTLER_SLACK_DEFAULT_CHANNEL", "")
	os.Unsetenv("BUTLER_SLACK_DEFAULT_CHANNEL")
	t.Setenv("OPENAI_API_KEY", "")
	os.Unsetenv("OPENAI_API_KEY")
	t.Setenv("UNRELATED_KEY", "")
	os.Unsetenv("UNRELATED_KEY")
	t.Setenv("BUTLER_ENV_FILE", path)

	keys, err := LoadEnvFile()
	if err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys set, got %v", keys)
	}
	if _, ok := os.LookupEnv("UNRELATED_KEY"); ok {
		t.Fatal("keys Butler does not read must be skipped")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Slack.DefaultChannel != "#ops" || cfg.Model.APIKey != "sk-file" {
		t.Fatalf("env file values not applied: %+v %+v", cfg.Slack, cfg.Model)
	}
	if cfg.Model.Name != "from-process" {
		t.Fatalf("existing value overridden: %q", cfg.Model.Name)
	}
}

func TestLoadEnvFileReportsMalformedLines(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := "BUTLER_HOOKS_FILE=hooks.yaml\nnot a pair\nBAD KEY=x\n"
	if err := os.WriteFile(filepath.Join(dir, "env"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BUTLER_HOOKS_FILE", "")
	os.Unsetenv("BUTLER_HOOKS_FILE")

	keys, err := LoadEnvFile()
	if err == nil || !strings.Contains(err.Error(), "malformed lines 2, 3") {
		t.Fatalf("expected malformed line report, got %v", err)
	}
	if len(keys) != 1 || os.Getenv("BUTLER_HOOKS_FILE") != "hooks.yaml" {
		t.Fatalf("valid lines should still apply, got %v", keys)
	}
}

func TestLoadEnvFileMissingIsFine(t *testing.T) {
	isolate(t)
	if keys, err := LoadEnvFile(); err != nil || keys != nil {
		t.Fatalf("missing env file: %v %v", keys, err)
	}
}

func TestEnsureWorkspace(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	if err := EnsureWorkspace(root); err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}
	for _, d := range []string{"projects", "areas", "resources", "archive", "inbox"} {
		if info, err := os.Stat(filepath.Join(root, d)); err != nil || !info.IsDir() {
			t.Fatalf("%s not created: %v", d, err)
		}
	}
	if err := EnsureWorkspace(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
