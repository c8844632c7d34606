package openai

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	llmrelay "github.com/bluefunda/llm-relay"
)

// Preset is the default configuration of an OpenAI-compatible vendor
type Preset struct {
	BaseURL        string
	DefaultModel   string
	Models         []string
	EmbeddingModel string
}

// Presets contains default configurations for OpenAI-compatible providers
var Presets = map[string]Preset{
	"openai": {
		BaseURL:        "https://api.openai.com/v1/",
		DefaultModel:   "gpt-4.1-mini",
		Models:         []string{"gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano", "gpt-4o", "gpt-4o-mini", "o4-mini"},
		EmbeddingModel: "text-embedding-3-small",
	},
	"qwen": {
		BaseURL:        "https://dashscope.aliyuncs.com/compatible-mode/v1/",
		DefaultModel:   "qwen-plus",
		Models:         []string{"qwen-turbo", "qwen-plus", "qwen-max", "qwen-max-longcontext", "qwen2.5-72b-instruct", "qwen2.5-coder-32b-instruct"},
		EmbeddingModel: "text-embedding-v3",
	},
	"deepseek": {
		BaseURL:      "https://api.deepseek.com/",
		DefaultModel: "deepseek-chat",
		Models:       []string{"deepseek-chat", "deepseek-reasoner"},
	},
	"groq": {
		BaseURL:      "https://api.groq.com/openai/v1/",
		DefaultModel: "llama-3.3-70b-versatile",
		Models:       []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant"},
	},
	"together": {
		BaseURL:      "https://api.together.xyz/v1/",
		DefaultModel: "meta-llama/Llama-3.3-70B-Instruct-Turbo",
		Models:       []string{"meta-llama/Llama-3.3-70B-Instruct-Turbo", "mistralai/Mixtral-8x7B-Instruct-v0.1"},
	},
	"ollama": {
		BaseURL:      "http://localhost:11434/v1/",
		DefaultModel: "llama3.2",
		Models:       []string{}, // listed live from the server
	},
}

// Provider talks to OpenAI and any OpenAI-compatible chat completion API
type Provider struct {
	client         *openai.Client
	name           string
	model          string
	models         []string
	embeddingModel string
}

// New creates a new OpenAI-compatible provider. Unset fields are taken from
// the preset named cfg.Name, if any.
func New(cfg llmrelay.ProviderConfig) *Provider {
	preset, hasPreset := Presets[cfg.Name]

	baseURL := cfg.BaseURL
	if baseURL == "" && hasPreset {
		baseURL = preset.BaseURL
	}
	// Ensure trailing slash so url.Parse resolves paths correctly
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	model := cfg.Model
	if model == "" && hasPreset {
		model = preset.DefaultModel
	}
	models := cfg.Models
	if len(models) == 0 && hasPreset {
		models = preset.Models
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" && hasPreset {
		embeddingModel = preset.EmbeddingModel
	}

	// retries belong to the relay's guarded calls, not the SDK
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Provider{
		client:         openai.NewClient(opts...),
		name:           cfg.Name,
		model:          model,
		models:         models,
		embeddingModel: embeddingModel,
	}
}

// NewFromEnv creates a provider using environment variable for API key
func NewFromEnv(name string, envKey string) *Provider {
	return New(llmrelay.ProviderConfig{
		Name:   name,
		APIKey: os.Getenv(envKey),
	})
}

// NewOllama creates an Ollama provider
func NewOllama(baseURL string) *Provider {
	return New(llmrelay.ProviderConfig{
		Name:    "ollama",
		BaseURL: baseURL,
		APIKey:  "ollama", // Ollama doesn't require a real key but needs something
	})
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Models() []string {
	return p.models
}

func (p *Provider) SupportsTools() bool {
	return true
}

// DefaultModel is the model used when a request names none
func (p *Provider) DefaultModel() string {
	return p.model
}

func (p *Provider) modelFor(req *llmrelay.Request) string {
	if req.Model == "" || req.Model == p.name {
		return p.model
	}
	return req.Model
}

func (p *Provider) params(req *llmrelay.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.F(p.modelFor(req)),
		Messages: openai.F(toMessageParams(req.Messages)),
	}

	if req.Temperature != nil {
		params.Temperature = openai.F(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.F(int64(*req.MaxTokens))
	}
	if req.TopP != nil {
		params.TopP = openai.F(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.F[openai.ChatCompletionNewParamsStopUnion](openai.ChatCompletionNewParamsStopArray(req.Stop))
	}
	if len(req.Tools) > 0 {
		params.Tools = openai.F(toToolParams(req.Tools))
	}
	if req.ToolChoice != nil {
		params.ToolChoice = openai.F(toToolChoiceParam(req.ToolChoice))
	}
	return params
}

func (p *Provider) Complete(ctx context.Context, req *llmrelay.Request) (*llmrelay.Response, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return nil, wrapError(p.name, err)
	}
	return fromCompletion(resp, p.name), nil
}

// Stream returns once the first chunk arrived, so a failed request surfaces
// as an error here rather than as an EventError.
func (p *Provider) Stream(ctx context.Context, req *llmrelay.Request) (<-chan llmrelay.Event, error) {
	params := p.params(req)
	model := p.modelFor(req)

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	first := stream.Next()
	if !first {
		if err := stream.Err(); err != nil {
			stream.Close()
			return nil, wrapError(p.name, err)
		}
	}

	ch := make(chan llmrelay.Event)
	send := func(e llmrelay.Event) bool {
		select {
		case ch <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		var last *openai.ChatCompletionChunk
		for ok := first; ok; ok = stream.Next() {
			chunk := stream.Current()
			last = &chunk
			if len(chunk.Choices) == 0 {
				continue
			}

			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				if !send(llmrelay.Event{Type: llmrelay.EventContentDelta, Content: delta.Content}) {
					return
				}
			}
			if len(delta.ToolCalls) > 0 {
				ev := llmrelay.Event{
					Type:  llmrelay.EventToolCallDelta,
					Delta: &llmrelay.Delta{ToolCalls: fromChunkToolCalls(delta.ToolCalls)},
				}
				if !send(ev) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(llmrelay.Event{Type: llmrelay.EventError, Error: wrapError(p.name, err)})
			return
		}

		final := &llmrelay.Response{
			Provider: p.name,
			Model:    model,
			Object:   "chat.completion",
			Created:  time.Now().Unix(),
		}
		if last != nil {
			final = fromChunk(last, p.name)
		}
		send(llmrelay.Event{Type: llmrelay.EventDone, Response: final})
	}()

	return ch, nil
}

// ListModels asks the vendor's /models endpoint
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, wrapError(p.name, err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
