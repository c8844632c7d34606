package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	llmrelay "github.com/bluefunda/llm-relay"
)

// CircuitBreakerMiddleware stops calling a provider after consecutive
// failures. Each wrapped provider gets its own breaker, named
// "<prefix>/<provider>", so an open circuit never blocks fallbacks.
type CircuitBreakerMiddleware struct {
	prefix      string
	maxFailures uint32
	timeout     time.Duration
	logger      zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerMiddleware creates breakers that open after more than
// maxFailures consecutive failures and half-open again after timeout.
func NewCircuitBreakerMiddleware(prefix string, maxFailures uint32, timeout time.Duration) *CircuitBreakerMiddleware {
	return NewCircuitBreakerMiddlewareWithLogger(prefix, maxFailures, timeout, zerolog.Nop())
}

// NewCircuitBreakerMiddlewareWithLogger is NewCircuitBreakerMiddleware with state changes logged
func NewCircuitBreakerMiddlewareWithLogger(prefix string, maxFailures uint32, timeout time.Duration, logger zerolog.Logger) *CircuitBreakerMiddleware {
	return &CircuitBreakerMiddleware{
		prefix:      prefix,
		maxFailures: maxFailures,
		timeout:     timeout,
		logger:      logger,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (m *CircuitBreakerMiddleware) breaker(provider string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[provider]; ok {
		return cb
	}
	maxFailures := m.maxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        m.prefix + "/" + provider,
		MaxRequests: maxFailures,
		Interval:    60 * time.Second,
		Timeout:     m.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > maxFailures
		},
		// caller mistakes say nothing about provider health
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, llmrelay.ErrInvalidRequest) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	m.breakers[provider] = cb
	return cb
}

// Wrap wraps a provider with the breaker kept for its name
func (m *CircuitBreakerMiddleware) Wrap(next llmrelay.Provider) llmrelay.Provider {
	return &circuitBreakerProvider{
		Provider: next,
		cb:       m.breaker(next.Name()),
	}
}

// State returns the state of the breaker guarding provider. Providers that
// were never wrapped report closed.
func (m *CircuitBreakerMiddleware) State(provider string) gobreaker.State {
	m.mu.Lock()
	cb, ok := m.breakers[provider]
	m.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

type circuitBreakerProvider struct {
	llmrelay.Provider
	cb *gobreaker.CircuitBreaker
}

func (p *circuitBreakerProvider) Complete(ctx context.Context, req *llmrelay.Request) (*llmrelay.Response, error) {
	result, err := p.cb.Execute(func() (interface{}, error) {
		return p.Provider.Complete(ctx, req)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return result.(*llmrelay.Response), nil
}

func (p *circuitBreakerProvider) Stream(ctx context.Context, req *llmrelay.Request) (<-chan llmrelay.Event, error) {
	result, err := p.cb.Execute(func() (interface{}, error) {
		return p.Provider.Stream(ctx, req)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return result.(<-chan llmrelay.Event), nil
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return llmrelay.ErrCircuitOpen
	}
	return err
}
