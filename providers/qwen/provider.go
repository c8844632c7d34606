// Package qwen configures the OpenAI-compatible adapter for Alibaba DashScope.
package qwen

import (
	"os"

	llmrelay "github.com/bluefunda/llm-relay"
	"github.com/bluefunda/llm-relay/providers/openai"
)

const (
	ProviderName   = "qwen"
	DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/"
	// IntlBaseURL serves accounts registered outside mainland China
	IntlBaseURL           = "https://dashscope-intl.aliyuncs.com/compatible-mode/v1/"
	DefaultModel          = "qwen-plus"
	DefaultEmbeddingModel = "text-embedding-v3"
)

// DefaultModels is the list advertised when DashScope is not asked live
var DefaultModels = openai.Presets[ProviderName].Models

// New creates a Qwen provider. Name, BaseURL, Model and EmbeddingModel
// fall back to the DashScope defaults.
func New(cfg llmrelay.ProviderConfig) *openai.Provider {
	if cfg.Name == "" {
		cfg.Name = ProviderName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	return openai.New(cfg)
}

// NewFromEnv reads the key from DASHSCOPE_API_KEY
func NewFromEnv() *openai.Provider {
	return New(llmrelay.ProviderConfig{APIKey: os.Getenv("DASHSCOPE_API_KEY")})
}
