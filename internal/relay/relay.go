// Package relay assembles a Router from a loaded configuration.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	llmrelay "github.com/bluefunda/llm-relay"
	"github.com/bluefunda/llm-relay/admission"
	"github.com/bluefunda/llm-relay/config"
	"github.com/bluefunda/llm-relay/guard"
	"github.com/bluefunda/llm-relay/middleware"
	"github.com/bluefunda/llm-relay/providers/anthropic"
	"github.com/bluefunda/llm-relay/providers/gemini"
	"github.com/bluefunda/llm-relay/providers/openai"
	"github.com/bluefunda/llm-relay/providers/qwen"
)

// Relay is a configured router plus the resources it owns
type Relay struct {
	Router    *llmrelay.Router
	Admission *middleware.AdmissionMiddleware
	Breaker   *middleware.CircuitBreakerMiddleware
	thinking  *middleware.ThinkingMiddleware
	closers   []io.Closer
}

// Stream routes req like Router.Stream. With the thinking placeholder enabled
// it returns at once and emits the placeholder while the call waits for
// admission, stream setup or a fallback; a failure then arrives as an
// EventError instead of an error.
func (r *Relay) Stream(ctx context.Context, req *llmrelay.Request) (<-chan llmrelay.Event, error) {
	if r.thinking == nil {
		return r.Router.Stream(ctx, req)
	}
	return r.thinking.Around(ctx, func(ctx context.Context) (<-chan llmrelay.Event, error) {
		return r.Router.Stream(ctx, req)
	}), nil
}

// Close releases provider clients
func (r *Relay) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// DefaultModel is the model asked for when the caller names none: the first
// fallback, or else the first configured provider.
func DefaultModel(cfg *config.Config) string {
	if len(cfg.Fallbacks) > 0 {
		return cfg.Fallbacks[0]
	}
	if len(cfg.Providers) > 0 {
		return cfg.Providers[0].Name
	}
	return ""
}

// Build creates every configured provider, registers the embedding-capable
// ones as embedders and installs the middleware chain:
// logging, circuit breaker, admission (outermost first).
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Relay, error) {
	r := &Relay{}

	opts := []llmrelay.Option{
		llmrelay.WithLogger(logger),
		llmrelay.WithFallback(cfg.Fallbacks...),
	}
	for model, provider := range cfg.Models {
		opts = append(opts, llmrelay.WithModelMapping(model, provider))
	}

	admit := middleware.NewAdmissionMiddleware(
		admission.NewQueue(),
		cfg.Defaults.MaxConcurrent,
		policyFor(cfg.Defaults, logger),
	).WithLogger(logger)

	for _, pc := range cfg.Providers {
		p, err := newProvider(ctx, pc)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		if c, ok := p.(io.Closer); ok {
			r.closers = append(r.closers, c)
		}

		opts = append(opts, llmrelay.WithProvider(pc.Name, p))
		if e, ok := p.(llmrelay.Embedder); ok {
			opts = append(opts, llmrelay.WithEmbedder(pc.Name, e))
		}

		admit.WithKeyLimits(pc.Name, toLimits(pc.Limits, logger))
		for _, model := range modelKeys(cfg, pc, p) {
			l, err := cfg.LimitsFor(pc.Name, model)
			if err != nil {
				_ = r.Close()
				return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
			}
			admit.WithKeyLimits(model, toLimits(l, logger))
		}

		logger.Debug().
			Str("provider", pc.Name).
			Str("type", pc.Type).
			Int("max_concurrent", pc.MaxConcurrent).
			Msg("provider configured")
	}

	r.Admission = admit
	r.Breaker = middleware.NewCircuitBreakerMiddlewareWithLogger("llmrelay", cfg.Breaker.MaxFailures, cfg.Breaker.OpenFor, logger)

	opts = append(opts, llmrelay.WithMiddleware(
		middleware.NewLoggingMiddleware(logger),
		r.Breaker,
		admit,
	))

	// outside the router: a provider-level placeholder would have to hide
	// setup errors from the fallback loop
	if cfg.Thinking.Enabled() {
		r.thinking = middleware.NewThinkingMiddleware(*cfg.Thinking.Delay, cfg.Thinking.Message)
	}

	r.Router = llmrelay.New(opts...)
	return r, nil
}

func newProvider(ctx context.Context, pc config.Provider) (llmrelay.Provider, error) {
	switch pc.Type {
	case config.TypeQwen:
		return qwen.New(pc.ProviderConfig()), nil
	case config.TypeAnthropic:
		return anthropic.New(pc.ProviderConfig()), nil
	case config.TypeGemini:
		return gemini.New(ctx, pc.ProviderConfig())
	case config.TypeOpenAI:
		return openai.New(pc.ProviderConfig()), nil
	}
	if _, ok := openai.Presets[pc.Type]; ok {
		cfg := pc.ProviderConfig()
		preset := openai.Presets[pc.Type]
		if cfg.BaseURL == "" {
			cfg.BaseURL = preset.BaseURL
		}
		if cfg.Model == "" {
			cfg.Model = preset.DefaultModel
		}
		if len(cfg.Models) == 0 {
			cfg.Models = preset.Models
		}
		if cfg.EmbeddingModel == "" {
			cfg.EmbeddingModel = preset.EmbeddingModel
		}
		return openai.New(cfg), nil
	}
	return nil, fmt.Errorf("unknown provider type %q", pc.Type)
}

// modelKeys lists the models whose admission limits are resolved up front
func modelKeys(cfg *config.Config, pc config.Provider, p llmrelay.Provider) []string {
	keys := append([]string{}, p.Models()...)
	for model, provider := range cfg.Models {
		if provider == pc.Name {
			keys = append(keys, model)
		}
	}
	for model := range cfg.ModelLimits {
		if lo.Contains(p.Models(), model) {
			keys = append(keys, model)
		}
	}
	return lo.Uniq(keys)
}

func toLimits(l config.Limits, logger zerolog.Logger) middleware.Limits {
	return middleware.Limits{
		MaxConcurrent: l.MaxConcurrent,
		Policy:        policyFor(l, logger),
	}
}

func policyFor(l config.Limits, logger zerolog.Logger) guard.Policy {
	p := guard.DefaultPolicy()
	if l.Timeout > 0 {
		p.Timeout = l.Timeout
	}
	if l.RetryBackoff > 0 {
		p.Backoff = l.RetryBackoff
	}
	p.MaxRetries = l.MaxRetries
	p.Retryable = llmrelay.IsRetryable
	p.Notify = func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("wait", wait).Msg("retrying admitted call")
	}
	return p
}
