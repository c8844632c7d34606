package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	llmrelay "github.com/bluefunda/llm-relay"
	"github.com/bluefunda/llm-relay/guard"
)

// RetryMiddleware re-invokes failed calls after a backoff. Only the call
// itself (and, for streams, the stream setup) is retried.
type RetryMiddleware struct {
	policy guard.Policy
	logger zerolog.Logger
}

// NewRetryMiddleware creates a retry middleware that retries up to maxRetries
// times with a fixed delay between attempts.
func NewRetryMiddleware(maxRetries int, delay time.Duration) *RetryMiddleware {
	return &RetryMiddleware{
		policy: guard.Policy{
			MaxRetries: maxRetries,
			Backoff:    delay,
			Retryable:  llmrelay.IsRetryable,
		},
		logger: zerolog.Nop(),
	}
}

// WithExponential doubles the delay after each attempt, capped at maxDelay
func (m *RetryMiddleware) WithExponential(maxDelay time.Duration) *RetryMiddleware {
	m.policy.Exponential = true
	m.policy.MaxBackoff = maxDelay
	return m
}

// WithRetryFunc sets a custom retry decision function
func (m *RetryMiddleware) WithRetryFunc(f func(error) bool) *RetryMiddleware {
	m.policy.Retryable = f
	return m
}

// WithLogger logs every retry at warn level
func (m *RetryMiddleware) WithLogger(l zerolog.Logger) *RetryMiddleware {
	m.logger = l
	return m
}

// Wrap wraps a provider with retry logic
func (m *RetryMiddleware) Wrap(next llmrelay.Provider) llmrelay.Provider {
	p := m.policy
	name := next.Name()
	logger := m.logger
	p.Notify = func(err error, wait time.Duration) {
		logger.Warn().Err(err).Str("provider", name).Dur("backoff", wait).Msg("retrying request")
	}
	return &retryProvider{Provider: next, policy: p}
}

type retryProvider struct {
	llmrelay.Provider
	policy guard.Policy
}

func (p *retryProvider) Complete(ctx context.Context, req *llmrelay.Request) (*llmrelay.Response, error) {
	return guard.Call(ctx, p.policy, func(ctx context.Context) (*llmrelay.Response, error) {
		return p.Provider.Complete(ctx, req)
	})
}

func (p *retryProvider) Stream(ctx context.Context, req *llmrelay.Request) (<-chan llmrelay.Event, error) {
	return openStream(ctx, p.policy, func(ctx context.Context) (<-chan llmrelay.Event, error) {
		return p.Provider.Stream(ctx, req)
	})
}
