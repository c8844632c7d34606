package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
log_level: debug
fallbacks: [openai]
defaults:
  max_retries: 2
  timeout: 30s
providers:
  - name: qwen
    api_key_env: TEST_DASHSCOPE_KEY
    max_concurrent: 3
  - name: openai
    api_key: sk-test
    retry_backoff: 1s
  - name: claude
    type: anthropic
models:
  qwen-max: qwen
model_limits:
  qwen-max:
    max_concurrent: 1
    timeout: 2m
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug log level, got %s", cfg.LogLevel)
	}
	qwen := cfg.Providers[0]
	if qwen.Type != TypeQwen {
		t.Errorf("expected type to default to name, got %q", qwen.Type)
	}
	if qwen.MaxRetries != 2 || qwen.Timeout != 30*time.Second {
		t.Errorf("expected defaults merged, got %+v", qwen.Limits)
	}
	if qwen.RetryBackoff != 5*time.Second {
		t.Errorf("expected builtin backoff, got %s", qwen.RetryBackoff)
	}
	if qwen.MaxConcurrent != 3 {
		t.Errorf("expected provider value kept, got %d", qwen.MaxConcurrent)
	}
	if cfg.Providers[1].RetryBackoff != time.Second {
		t.Errorf("expected override kept, got %s", cfg.Providers[1].RetryBackoff)
	}
	if !cfg.Thinking.Enabled() || *cfg.Thinking.Delay != 2*time.Second {
		t.Errorf("expected builtin thinking delay, got %v", cfg.Thinking.Delay)
	}
	if cfg.Thinking.Message != "Thinking..." || cfg.Breaker.MaxFailures != 5 {
		t.Errorf("expected builtin thinking and breaker, got %+v %+v", cfg.Thinking, cfg.Breaker)
	}
}

func TestLimitsFor(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}

	l, err := cfg.LimitsFor("qwen", "qwen-max")
	if err != nil {
		t.Fatal(err)
	}
	if l.MaxConcurrent != 1 || l.Timeout != 2*time.Minute {
		t.Errorf("expected model override, got %+v", l)
	}
	if l.MaxRetries != 2 {
		t.Errorf("expected provider retries inherited, got %d", l.MaxRetries)
	}

	plain, err := cfg.LimitsFor("qwen", "qwen-turbo")
	if err != nil {
		t.Fatal(err)
	}
	if plain.MaxConcurrent != 3 {
		t.Errorf("expected provider limits, got %+v", plain)
	}
}

func TestThinkingDelayZeroDisables(t *testing.T) {
	cfg, err := Parse([]byte(`
thinking:
  delay: 0s
providers:
  - name: qwen
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Thinking.Delay == nil || *cfg.Thinking.Delay != 0 {
		t.Fatalf("expected explicit zero delay kept, got %v", cfg.Thinking.Delay)
	}
	if cfg.Thinking.Enabled() {
		t.Error("a zero delay should disable the placeholder")
	}
	if cfg.Thinking.Message != "Thinking..." {
		t.Errorf("expected builtin message, got %q", cfg.Thinking.Message)
	}
	if *Builtin.Thinking.Delay != 2*time.Second {
		t.Error("builtin delay must not change")
	}

	cfg, err = Parse([]byte(`
thinking:
  delay: -1s
providers:
  - name: qwen
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Thinking.Enabled() {
		t.Error("a negative delay should disable the placeholder")
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("TEST_DASHSCOPE_KEY", "from-env")
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Providers[0].ProviderConfig().APIKey; got != "from-env" {
		t.Errorf("expected key from env, got %q", got)
	}
	if got := cfg.Providers[1].ResolveAPIKey(); got != "sk-test" {
		t.Errorf("expected literal key, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "providers: [{type: openai}]", "name is required"},
		{"duplicate", "providers: [{name: qwen}, {name: qwen}]", "duplicate name"},
		{"unknown type", "providers: [{name: x, type: bogus}]", "unknown type"},
		{"bad fallback", "fallbacks: [nope]\nproviders: [{name: qwen}]", "fallback \"nope\""},
		{"bad mapping", "models: {m: nope}\nproviders: [{name: qwen}]", "unknown provider"},
		{"negative retries", "providers: [{name: qwen, max_retries: -1}]", "must not be negative"},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.yaml))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: expected error containing %q, got %v", tt.name, tt.want, err)
		}
	}
}

func TestPresetTypesAccepted(t *testing.T) {
	if _, err := Parse([]byte("providers: [{name: local, type: ollama}]")); err != nil {
		t.Errorf("expected preset type to be valid, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Providers) != 3 {
		t.Errorf("expected 3 providers, got %d", len(cfg.Providers))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefaultPathEnv(t *testing.T) {
	t.Setenv("LLMRELAY_CONFIG", "/tmp/relay.yaml")
	if got := DefaultPath(); got != "/tmp/relay.yaml" {
		t.Errorf("expected env override, got %s", got)
	}
}
