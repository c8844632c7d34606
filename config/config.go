// Package config loads the relay's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	llmrelay "github.com/bluefunda/llm-relay"
	"github.com/bluefunda/llm-relay/providers/openai"
)

// Provider types understood by the CLI
const (
	TypeOpenAI    = "openai" // any OpenAI-compatible endpoint
	TypeQwen      = "qwen"
	TypeAnthropic = "anthropic"
	TypeGemini    = "gemini"
)

// Limits bound a guarded call. Zero fields inherit from Config.Defaults.
type Limits struct {
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`        // per attempt, e.g. "60s"
	RetryBackoff  time.Duration `yaml:"retry_backoff,omitempty"`  // wait between attempts
	MaxConcurrent int           `yaml:"max_concurrent,omitempty"` // admitted calls per model
}

// Provider configures one adapter instance
type Provider struct {
	Name           string   `yaml:"name"`
	Type           string   `yaml:"type,omitempty"` // defaults to Name
	APIKey         string   `yaml:"api_key,omitempty"`
	APIKeyEnv      string   `yaml:"api_key_env,omitempty"`
	BaseURL        string   `yaml:"base_url,omitempty"`
	Model          string   `yaml:"model,omitempty"`
	Models         []string `yaml:"models,omitempty"`
	EmbeddingModel string   `yaml:"embedding_model,omitempty"`
	Limits         `yaml:",inline"`
}

// Thinking configures the placeholder emitted on slow streams. A Delay of
// zero or less ("0s") turns the placeholder off; unset means the builtin.
type Thinking struct {
	Delay   *time.Duration `yaml:"delay,omitempty"`
	Message string         `yaml:"message,omitempty"`
}

// Enabled reports whether slow streams get a placeholder
func (t Thinking) Enabled() bool {
	return t.Delay != nil && *t.Delay > 0
}

// Breaker configures the per-provider circuit breaker
type Breaker struct {
	MaxFailures uint32        `yaml:"max_failures,omitempty"`
	OpenFor     time.Duration `yaml:"open_for,omitempty"`
}

// Config is the root of the YAML document
type Config struct {
	LogLevel    string            `yaml:"log_level,omitempty"`
	Fallbacks   []string          `yaml:"fallbacks,omitempty"`
	Defaults    Limits            `yaml:"defaults,omitempty"`
	Providers   []Provider        `yaml:"providers"`
	Models      map[string]string `yaml:"models,omitempty"`       // model -> provider name
	ModelLimits map[string]Limits `yaml:"model_limits,omitempty"` // overrides keyed by model
	Embedder    string            `yaml:"embedder,omitempty"`     // provider used by `embed`
	Thinking    Thinking          `yaml:"thinking,omitempty"`
	Breaker     Breaker           `yaml:"circuit_breaker,omitempty"`
}

// Builtin holds the values used when neither a provider nor defaults set them
var Builtin = Config{
	LogLevel: "info",
	Defaults: Limits{
		Timeout:       60 * time.Second,
		RetryBackoff:  5 * time.Second,
		MaxConcurrent: 1,
	},
	Thinking: Thinking{Delay: duration(2 * time.Second), Message: "Thinking..."},
	Breaker:  Breaker{MaxFailures: 5, OpenFor: 30 * time.Second},
}

func duration(d time.Duration) *time.Duration { return &d }

// DefaultPath returns the config location, overridable with LLMRELAY_CONFIG
func DefaultPath() string {
	if p := os.Getenv("LLMRELAY_CONFIG"); p != "" {
		return expandPath(p)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./llmrelay.yaml"
	}
	return filepath.Join(home, ".config", "llmrelay", "config.yaml")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Load reads, defaults and validates the file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	// an explicit zero pointer, such as thinking.delay: 0s, must survive
	if err := mergo.Merge(c, Builtin, mergo.WithoutDereference); err != nil {
		return fmt.Errorf("failed to merge builtin defaults: %w", err)
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Type == "" {
			p.Type = p.Name
		}
		if err := mergo.Merge(&p.Limits, c.Defaults); err != nil {
			return fmt.Errorf("failed to merge defaults into %s: %w", p.Name, err)
		}
	}
	return nil
}

// Validate reports every problem found, joined
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Providers))

	for i, p := range c.Providers {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("providers[%d]: name is required", i))
			continue
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true

		switch p.Type {
		case TypeOpenAI, TypeQwen, TypeAnthropic, TypeGemini:
		default:
			// every OpenAI-compatible preset name is accepted as a type
			if !isPreset(p.Type) {
				errs = append(errs, fmt.Errorf("provider %s: unknown type %q", p.Name, p.Type))
			}
		}
		if p.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("provider %s: max_retries must not be negative", p.Name))
		}
		if p.Timeout < 0 || p.RetryBackoff < 0 {
			errs = append(errs, fmt.Errorf("provider %s: durations must not be negative", p.Name))
		}
	}

	for _, name := range c.Fallbacks {
		if !seen[name] {
			errs = append(errs, fmt.Errorf("fallback %q is not a configured provider", name))
		}
	}
	for model, provider := range c.Models {
		if !seen[provider] {
			errs = append(errs, fmt.Errorf("model %q maps to unknown provider %q", model, provider))
		}
	}
	if c.Embedder != "" && !seen[c.Embedder] {
		errs = append(errs, fmt.Errorf("embedder %q is not a configured provider", c.Embedder))
	}

	return errors.Join(errs...)
}

// LimitsFor resolves the limits of a model served by provider: per-model
// overrides first, then the provider's own limits.
func (c *Config) LimitsFor(provider, model string) (Limits, error) {
	var base Limits
	for _, p := range c.Providers {
		if p.Name == provider {
			base = p.Limits
			break
		}
	}
	override, ok := c.ModelLimits[model]
	if !ok {
		return base, nil
	}
	if err := mergo.Merge(&override, base); err != nil {
		return Limits{}, fmt.Errorf("failed to merge limits for %s: %w", model, err)
	}
	return override, nil
}

func isPreset(name string) bool {
	_, ok := openai.Presets[name]
	return ok
}

// ResolveAPIKey returns the literal key or the value of APIKeyEnv
func (p Provider) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// ProviderConfig converts the entry into the adapter configuration
func (p Provider) ProviderConfig() llmrelay.ProviderConfig {
	return llmrelay.ProviderConfig{
		Name:           p.Name,
		APIKey:         p.ResolveAPIKey(),
		BaseURL:        p.BaseURL,
		Model:          p.Model,
		Models:         p.Models,
		EmbeddingModel: p.EmbeddingModel,
		MaxRetries:     p.MaxRetries,
		Timeout:        p.Timeout,
		RetryBackoff:   p.RetryBackoff,
		MaxConcurrent:  p.MaxConcurrent,
	}
}
