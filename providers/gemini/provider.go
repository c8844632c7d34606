package gemini

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	llmrelay "github.com/bluefunda/llm-relay"
)

const (
	ProviderName          = "gemini"
	DefaultModel          = "gemini-2.0-flash"
	DefaultEmbeddingModel = "text-embedding-004"
	defaultMaxTokens      = 16384
)

// DefaultModels is the list of available Gemini models
var DefaultModels = []string{
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-1.5-pro",
	"gemini-1.5-flash",
}

// Provider handles the Google Gemini API
type Provider struct {
	client         *genai.Client
	name           string
	model          string
	models         []string
	embeddingModel string
}

// New creates a new Gemini provider
func New(ctx context.Context, cfg llmrelay.ProviderConfig) (*Provider, error) {
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
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	opts := []option.ClientOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, wrapError(name, err)
	}

	return &Provider{
		client:         client,
		name:           name,
		model:          model,
		models:         models,
		embeddingModel: embeddingModel,
	}, nil
}

// NewFromEnv creates a provider using the GEMINI_API_KEY environment variable
func NewFromEnv(ctx context.Context) (*Provider, error) {
	return New(ctx, llmrelay.ProviderConfig{APIKey: os.Getenv("GEMINI_API_KEY")})
}

// Close closes the Gemini client
func (p *Provider) Close() error {
	return p.client.Close()
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

// session prepares a chat whose history is everything but the final turn,
// and returns the parts of that turn to send.
func (p *Provider) session(req *llmrelay.Request) (*genai.ChatSession, []genai.Part, error) {
	history := toHistory(req.Messages)
	if len(history) == 0 {
		return nil, nil, llmrelay.ErrInvalidRequest
	}

	model := p.client.GenerativeModel(p.modelFor(req))
	configureModel(model, req)
	if len(req.Tools) > 0 {
		model.Tools = toTools(req.Tools)
	}

	chat := model.StartChat()
	last := history[len(history)-1]
	chat.History = history[:len(history)-1]
	return chat, last.Parts, nil
}

func (p *Provider) Complete(ctx context.Context, req *llmrelay.Request) (*llmrelay.Response, error) {
	chat, parts, err := p.session(req)
	if err != nil {
		return nil, err
	}

	resp, err := chat.SendMessage(ctx, parts...)
	if err != nil {
		return nil, wrapError(p.name, err)
	}
	return fromResponse(resp, p.modelFor(req), p.name), nil
}

func (p *Provider) Stream(ctx context.Context, req *llmrelay.Request) (<-chan llmrelay.Event, error) {
	chat, parts, err := p.session(req)
	if err != nil {
		return nil, err
	}
	model := p.modelFor(req)

	iter := chat.SendMessageStream(ctx, parts...)
	resp, err := iter.Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return nil, wrapError(p.name, err)
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

		var content strings.Builder
		var toolCalls []llmrelay.ToolCall
		var usage *genai.UsageMetadata

		for ; !errors.Is(err, iterator.Done); resp, err = iter.Next() {
			if err != nil {
				send(llmrelay.Event{Type: llmrelay.EventError, Error: wrapError(p.name, err)})
				return
			}
			if resp.UsageMetadata != nil {
				usage = resp.UsageMetadata
			}

			text, calls := fromParts(resp, len(toolCalls))
			if text != "" {
				content.WriteString(text)
				if !send(llmrelay.Event{Type: llmrelay.EventContentDelta, Content: text}) {
					return
				}
			}
			if len(calls) > 0 {
				toolCalls = append(toolCalls, calls...)
				if !send(llmrelay.Event{Type: llmrelay.EventToolCallDelta, Delta: &llmrelay.Delta{ToolCalls: calls}}) {
					return
				}
			}
		}

		final := newResponse(model, p.name, content.String(), toolCalls, "")
		final.Usage = fromUsage(usage)
		send(llmrelay.Event{Type: llmrelay.EventDone, Response: final})
	}()

	return ch, nil
}

// ListModels pages through the generative models visible to the key
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	var ids []string
	it := p.client.ListModels(ctx)
	for {
		m, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapError(p.name, err)
		}
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	return ids, nil
}

func configureModel(model *genai.GenerativeModel, req *llmrelay.Request) {
	tokens := int32(defaultMaxTokens)
	if req.MaxTokens != nil {
		tokens = int32(*req.MaxTokens)
	}
	model.MaxOutputTokens = &tokens

	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		model.Temperature = &temp
	}
	if req.TopP != nil {
		topP := float32(*req.TopP)
		model.TopP = &topP
	}
	if len(req.Stop) > 0 {
		model.StopSequences = req.Stop
	}
	if system := systemPrompt(req.Messages); system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
}
