package middleware

import (
	"context"

	llmrelay "github.com/bluefunda/llm-relay"
	"github.com/bluefunda/llm-relay/guard"
)

// openedStream is a stream whose setup succeeded within its attempt.
type openedStream struct {
	ch     <-chan llmrelay.Event
	cancel context.CancelFunc
}

// Discard stops a stream nobody is going to read.
func (s openedStream) Discard() {
	s.cancel()
	go drain(s.ch)
}

// openStream runs stream setup as a guarded call. The policy's timeout bounds
// setup only (a provider returns once the first chunk arrived or the request
// failed); the opened stream then lives on ctx until it is drained.
func openStream(ctx context.Context, policy guard.Policy, open func(context.Context) (<-chan llmrelay.Event, error)) (<-chan llmrelay.Event, error) {
	s, err := guard.Call(ctx, policy, func(attemptCtx context.Context) (openedStream, error) {
		streamCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(attemptCtx, cancel)

		ch, err := open(streamCtx)
		if err != nil {
			stop()
			cancel()
			return openedStream{}, err
		}

		s := openedStream{ch: ch, cancel: cancel}
		if !stop() {
			// attempt ended while setup was finishing
			s.Discard()
			return openedStream{}, attemptCtx.Err()
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan llmrelay.Event)
	go func() {
		defer close(out)
		defer s.cancel()
		for event := range s.ch {
			if !send(ctx, out, event) {
				s.cancel()
				drain(s.ch)
				return
			}
		}
	}()
	return out, nil
}
