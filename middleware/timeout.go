package middleware

import (
	"context"
	"errors"
	"time"

	llmrelay "github.com/bluefunda/llm-relay"
	"github.com/bluefunda/llm-relay/guard"
)

// TimeoutMiddleware fails calls that do not settle in time with ErrRequestTimeout
type TimeoutMiddleware struct {
	timeout time.Duration
}

// NewTimeoutMiddleware creates a new timeout middleware
func NewTimeoutMiddleware(timeout time.Duration) *TimeoutMiddleware {
	return &TimeoutMiddleware{
		timeout: timeout,
	}
}

// Wrap wraps a provider with timeout
func (m *TimeoutMiddleware) Wrap(next llmrelay.Provider) llmrelay.Provider {
	return &timeoutProvider{
		Provider: next,
		timeout:  m.timeout,
	}
}

type timeoutProvider struct {
	llmrelay.Provider
	timeout time.Duration
}

func (p *timeoutProvider) Complete(ctx context.Context, req *llmrelay.Request) (*llmrelay.Response, error) {
	return guard.Call(ctx, guard.Policy{Timeout: p.timeout}, func(ctx context.Context) (*llmrelay.Response, error) {
		return p.Provider.Complete(ctx, req)
	})
}

// Stream bounds the whole stream, not just its setup.
func (p *timeoutProvider) Stream(ctx context.Context, req *llmrelay.Request) (<-chan llmrelay.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)

	ch, err := p.Provider.Stream(ctx, req)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, llmrelay.ErrRequestTimeout
		}
		return nil, err
	}

	out := make(chan llmrelay.Event)
	go func() {
		defer close(out)
		defer cancel()

		fail := func() {
			err := ctx.Err()
			if errors.Is(err, context.DeadlineExceeded) {
				err = llmrelay.ErrRequestTimeout
			}
			// the consumer may already be gone
			select {
			case out <- llmrelay.Event{Type: llmrelay.EventError, Error: err}:
			case <-time.After(time.Second):
			}
		}

		for {
			select {
			case <-ctx.Done():
				fail()
				return
			case event, ok := <-ch:
				if !ok {
					// the provider may have closed because of our deadline
					if ctx.Err() != nil {
						fail()
					}
					return
				}
				select {
				case out <- event:
				case <-ctx.Done():
					fail()
					return
				}
			}
		}
	}()

	return out, nil
}
