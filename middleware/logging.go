package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	llmrelay "github.com/bluefunda/llm-relay"
)

// LoggingMiddleware logs every call with its outcome and duration
type LoggingMiddleware struct {
	logger zerolog.Logger
}

func NewLoggingMiddleware(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Wrap(next llmrelay.Provider) llmrelay.Provider {
	return &loggingProvider{
		Provider: next,
		logger:   m.logger.With().Str("provider", next.Name()).Logger(),
	}
}

type loggingProvider struct {
	llmrelay.Provider
	logger zerolog.Logger
}

func (p *loggingProvider) Complete(ctx context.Context, req *llmrelay.Request) (*llmrelay.Response, error) {
	start := time.Now()
	resp, err := p.Provider.Complete(ctx, req)

	if err != nil {
		p.logger.Error().
			Err(err).
			Str("model", req.Model).
			Dur("duration", time.Since(start)).
			Msg("completion failed")
		return nil, err
	}

	ev := p.logger.Info().
		Str("model", resp.Model).
		Dur("duration", time.Since(start))
	if resp.Usage != nil {
		ev = ev.Int("prompt_tokens", resp.Usage.PromptTokens).
			Int("completion_tokens", resp.Usage.CompletionTokens)
	}
	ev.Msg("completion done")
	return resp, nil
}

func (p *loggingProvider) Stream(ctx context.Context, req *llmrelay.Request) (<-chan llmrelay.Event, error) {
	start := time.Now()
	ch, err := p.Provider.Stream(ctx, req)
	if err != nil {
		p.logger.Error().Err(err).Str("model", req.Model).Msg("stream setup failed")
		return nil, err
	}

	out := make(chan llmrelay.Event)
	go func() {
		defer close(out)
		chunks := 0
		for event := range ch {
			switch event.Type {
			case llmrelay.EventContentDelta:
				chunks++
			case llmrelay.EventError:
				p.logger.Error().Err(event.Error).Str("model", req.Model).Msg("stream failed")
			case llmrelay.EventDone:
				p.logger.Info().
					Str("model", req.Model).
					Int("chunks", chunks).
					Dur("duration", time.Since(start)).
					Msg("stream done")
			}
			if !send(ctx, out, event) {
				drain(ch)
				return
			}
		}
	}()
	return out, nil
}
