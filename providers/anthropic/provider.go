package anthropic

import (
	"context"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	llmrelay "github.com/bluefunda/llm-relay"
)

const (
	ProviderName     = "anthropic"
	DefaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 16384
)

// DefaultModels is the list of available Claude models
var DefaultModels = []string{
	"claude-opus-4-20250514",
	"claude-sonnet-4-20250514",
	"claude-3-7-sonnet-20250219",
	"claude-3-5-haiku-20241022",
	"claude-3-5-sonnet-20241022",
	"claude-3-haiku-20240307",
}

// Provider handles the Anthropic Messages API
type Provider struct {
	client *anthropic.Client
	name   string
	model  string
	models []string
}

// New creates a new Anthropic provider
func New(cfg llmrelay.ProviderConfig) *Provider {
	name := cfg.Name
	if name == "" {
		name = ProviderName
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	models := cfg.Models
	if len(models) == 0 {
		models = DefaultModels
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Provider{
		client: anthropic.NewClient(opts...),
		name:   name,
		model:  model,
		models: models,
	}
}

// NewFromEnv creates a provider using the ANTHROPIC_API_KEY environment variable
func NewFromEnv() *Provider {
	return New(llmrelay.ProviderConfig{APIKey: os.Getenv("ANTHROPIC_API_KEY")})
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

func (p *Provider) params(req *llmrelay.Request) anthropic.MessageNewParams {
	messages, system := toMessageParams(req.Messages)

	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(p.modelFor(req)),
		MaxTokens: anthropic.F(maxTokens),
		Messages:  anthropic.F(messages),
	}
	if system != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{
			{Type: anthropic.F(anthropic.TextBlockParamTypeText), Text: anthropic.F(system)},
		})
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.F(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.F(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = anthropic.F(req.Stop)
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropic.F(toToolParams(req.Tools))
	}
	if choice := toToolChoiceParam(req.ToolChoice); choice != nil {
		params.ToolChoice = anthropic.F(choice)
	}
	return params
}

func (p *Provider) Complete(ctx context.Context, req *llmrelay.Request) (*llmrelay.Response, error) {
	msg, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return nil, wrapError(p.name, err)
	}
	return fromMessage(msg, p.name), nil
}

// Stream waits for the first event before returning, so request failures
// are returned as errors.
func (p *Provider) Stream(ctx context.Context, req *llmrelay.Request) (<-chan llmrelay.Event, error) {
	params := p.params(req)
	acc := newAccumulator(p.name, p.modelFor(req))

	stream := p.client.Messages.NewStreaming(ctx, params)
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

		for ok := first; ok; ok = stream.Next() {
			if ev, ok := acc.apply(stream.Current()); ok && !send(ev) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(llmrelay.Event{Type: llmrelay.EventError, Error: wrapError(p.name, err)})
			return
		}
		send(llmrelay.Event{Type: llmrelay.EventDone, Response: acc.response()})
	}()

	return ch, nil
}
