package middleware

import (
	"context"
	"time"

	llmrelay "github.com/bluefunda/llm-relay"
)

// DefaultThinkingMessage is shown while a slow model has not answered yet.
const DefaultThinkingMessage = "Thinking..."

// ThinkingMiddleware emits a single EventThinking on streams that stay silent
// for longer than delay, so chat front-ends can show a placeholder. A delay of
// zero or less disables it.
type ThinkingMiddleware struct {
	delay   time.Duration
	message string
}

func NewThinkingMiddleware(delay time.Duration, message string) *ThinkingMiddleware {
	if message == "" {
		message = DefaultThinkingMessage
	}
	return &ThinkingMiddleware{delay: delay, message: message}
}

// Wrap watches the stream once the provider has returned it.
func (m *ThinkingMiddleware) Wrap(next llmrelay.Provider) llmrelay.Provider {
	if m.delay <= 0 {
		return next
	}
	return &thinkingProvider{Provider: next, m: m}
}

// Around returns at once and runs open in the background, so the placeholder
// also covers the admission queue, stream setup and any fallback. A failed
// open arrives as an EventError.
func (m *ThinkingMiddleware) Around(ctx context.Context, open func(context.Context) (<-chan llmrelay.Event, error)) <-chan llmrelay.Event {
	res := make(chan opened, 1)
	go func() {
		ch, err := open(ctx)
		res <- opened{ch, err}
	}()
	return m.watch(ctx, res)
}

type thinkingProvider struct {
	llmrelay.Provider
	m *ThinkingMiddleware
}

func (p *thinkingProvider) Stream(ctx context.Context, req *llmrelay.Request) (<-chan llmrelay.Event, error) {
	ch, err := p.Provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	res := make(chan opened, 1)
	res <- opened{ch: ch}
	return p.m.watch(ctx, res), nil
}

type opened struct {
	ch  <-chan llmrelay.Event
	err error
}

// watch forwards the stream from res, emitting the placeholder if neither the
// stream nor its first event showed up within the delay.
func (m *ThinkingMiddleware) watch(ctx context.Context, res <-chan opened) <-chan llmrelay.Event {
	out := make(chan llmrelay.Event)
	go func() {
		defer close(out)

		var thinking <-chan time.Time
		if m.delay > 0 {
			timer := time.NewTimer(m.delay)
			defer timer.Stop()
			thinking = timer.C
		}
		placeholder := llmrelay.Event{Type: llmrelay.EventThinking, Content: m.message}

		var ch <-chan llmrelay.Event
		for ch == nil {
			select {
			case <-thinking:
				thinking = nil
				if !send(ctx, out, placeholder) {
					go func() {
						if r := <-res; r.ch != nil {
							drain(r.ch)
						}
					}()
					return
				}
			case r := <-res:
				if r.err != nil {
					send(ctx, out, llmrelay.Event{Type: llmrelay.EventError, Error: r.err})
					return
				}
				if r.ch == nil {
					return
				}
				ch = r.ch
			}
		}

		for {
			select {
			case <-thinking:
				thinking = nil
				if !send(ctx, out, placeholder) {
					drain(ch)
					return
				}
			case event, ok := <-ch:
				if !ok {
					return
				}
				thinking = nil
				if !send(ctx, out, event) {
					drain(ch)
					return
				}
			}
		}
	}()
	return out
}

func send(ctx context.Context, out chan<- llmrelay.Event, event llmrelay.Event) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// drain lets the producer finish once nobody reads
func drain(ch <-chan llmrelay.Event) {
	for range ch {
	}
}
