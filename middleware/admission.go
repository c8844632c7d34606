package middleware

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	llmrelay "github.com/bluefunda/llm-relay"
	"github.com/bluefunda/llm-relay/admission"
	"github.com/bluefunda/llm-relay/guard"
)

// Limits is the per-key configuration read at call time.
type Limits struct {
	MaxConcurrent int
	Policy        guard.Policy
}

// AdmissionMiddleware queues calls per model (or per provider when the
// request names none) and runs admitted calls as guarded calls.
type AdmissionMiddleware struct {
	queue    *admission.Queue
	defaults Limits
	perKey   map[string]Limits
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// NewAdmissionMiddleware lets maxConcurrent calls per key through at a time
// and applies policy to each of them.
func NewAdmissionMiddleware(q *admission.Queue, maxConcurrent int, policy guard.Policy) *AdmissionMiddleware {
	return &AdmissionMiddleware{
		queue:    q,
		defaults: Limits{MaxConcurrent: maxConcurrent, Policy: policy},
		perKey:   make(map[string]Limits),
		logger:   zerolog.Nop(),
	}
}

// WithKeyLimits overrides the limits for one key (a model or provider name)
func (m *AdmissionMiddleware) WithKeyLimits(key string, l Limits) *AdmissionMiddleware {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perKey[key] = l
	return m
}

// WithLogger logs queueing at debug level
func (m *AdmissionMiddleware) WithLogger(l zerolog.Logger) *AdmissionMiddleware {
	m.logger = l
	return m
}

// Queue returns the underlying admission queue
func (m *AdmissionMiddleware) Queue() *admission.Queue {
	return m.queue
}

func (m *AdmissionMiddleware) limits(keys ...string) Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range keys {
		if l, ok := m.perKey[k]; ok {
			return l
		}
	}
	return m.defaults
}

// Wrap wraps a provider with admission control
func (m *AdmissionMiddleware) Wrap(next llmrelay.Provider) llmrelay.Provider {
	return &admissionProvider{Provider: next, m: m}
}

type admissionProvider struct {
	llmrelay.Provider
	m *AdmissionMiddleware
}

func (p *admissionProvider) key(req *llmrelay.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.Name()
}

func (p *admissionProvider) Complete(ctx context.Context, req *llmrelay.Request) (*llmrelay.Response, error) {
	key := p.key(req)
	l := p.m.limits(key, p.Name())
	id := uuid.NewString()

	p.m.logger.Debug().
		Str("key", key).
		Str("ticket", id).
		Int("queued", p.m.queue.Len(key)).
		Msg("waiting for admission")

	return guard.Admitted(ctx, p.m.queue, key, id, l.MaxConcurrent, l.Policy, func(ctx context.Context) (*llmrelay.Response, error) {
		return p.Provider.Complete(ctx, req)
	})
}

// Stream holds its ticket until the event channel is drained. Stream setup
// runs under the key's policy, so it is retried and bounded like Complete.
func (p *admissionProvider) Stream(ctx context.Context, req *llmrelay.Request) (<-chan llmrelay.Event, error) {
	key := p.key(req)
	l := p.m.limits(key, p.Name())

	release, err := p.m.queue.Acquire(ctx, key, uuid.NewString(), l.MaxConcurrent)
	if err != nil {
		return nil, err
	}

	ch, err := openStream(ctx, l.Policy, func(ctx context.Context) (<-chan llmrelay.Event, error) {
		return p.Provider.Stream(ctx, req)
	})
	if err != nil {
		release()
		return nil, err
	}

	out := make(chan llmrelay.Event)
	go func() {
		defer close(out)
		defer release()
		for event := range ch {
			if !send(ctx, out, event) {
				drain(ch)
				return
			}
		}
	}()
	return out, nil
}
