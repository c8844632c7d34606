package llmrelay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Router owns the provider, embedder and vector store registries and routes
// requests to the right provider, falling back along an ordered list.
type Router struct {
	providers    *Registry[Provider]
	embedders    *Registry[Embedder]
	vectorStores *Registry[VectorStoreFactory]
	modelMap     map[string]string // model -> provider mapping
	fallbacks    []string          // ordered fallback providers
	middleware   []Middleware
	logger       zerolog.Logger
	mu           sync.RWMutex
}

// New creates a new Router with the given options
func New(opts ...Option) *Router {
	r := &Router{
		providers:    NewRegistry[Provider]("provider"),
		embedders:    NewRegistry[Embedder]("embedder"),
		vectorStores: NewRegistry[VectorStoreFactory]("vector store"),
		modelMap:     make(map[string]string),
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route sends a request to the appropriate provider and streams the response
func (r *Router) Route(ctx context.Context, req *Request) (<-chan Event, error) {
	var events <-chan Event
	err := r.withFallback(ctx, req, func(p Provider, req *Request) error {
		var err error
		events, err = r.buildChain(p).Stream(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Complete performs a non-streaming completion
func (r *Router) Complete(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	err := r.withFallback(ctx, req, func(p Provider, req *Request) error {
		var err error
		resp, err = r.buildChain(p).Complete(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Stream is an alias for Route for clarity
func (r *Router) Stream(ctx context.Context, req *Request) (<-chan Event, error) {
	return r.Route(ctx, req)
}

// withFallback runs call against the resolved provider and then, while the
// error is fallback-worthy, against each fallback provider in order. Fallback
// attempts ask for the provider's default model.
func (r *Router) withFallback(ctx context.Context, req *Request, call func(Provider, *Request) error) error {
	name, primary, err := r.resolveProvider(req.Model)
	if err != nil {
		return err
	}

	err = call(primary, req)
	if !ShouldFallback(err) {
		return err
	}

	for _, fb := range r.fallbackOrder(name) {
		if ctx.Err() != nil {
			return err
		}
		p, ok := r.providers.Get(fb)
		if !ok {
			continue
		}
		r.logger.Warn().
			Err(err).
			Str("from", name).
			Str("to", fb).
			Msg("provider failed, falling back")

		name = fb
		err = call(p, req.WithModel(p.Name()))
		if !ShouldFallback(err) {
			return err
		}
	}

	return err
}

func (r *Router) fallbackOrder(primary string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Without(r.fallbacks, primary)
}

// resolveProvider finds the right provider for a model
func (r *Router) resolveProvider(model string) (string, Provider, error) {
	if r.providers.Len() == 0 {
		return "", nil, ErrNoProviders
	}

	// Check explicit model mapping first
	r.mu.RLock()
	mapped, ok := r.modelMap[model]
	r.mu.RUnlock()
	if ok {
		if p, ok := r.providers.Get(mapped); ok {
			return mapped, p, nil
		}
	}

	// Check if model name matches a provider name directly
	if p, ok := r.providers.Get(model); ok {
		return model, p, nil
	}

	// Try each provider to see if it supports this model
	for _, name := range r.providers.Names() {
		p, ok := r.providers.Get(name)
		if !ok {
			continue
		}
		if lo.Contains(p.Models(), model) {
			return name, p, nil
		}
	}

	return "", nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
}

// buildChain wraps the provider with middleware
func (r *Router) buildChain(provider Provider) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := provider
	// Apply middleware in reverse order so first middleware is outermost
	for i := len(r.middleware) - 1; i >= 0; i-- {
		result = r.middleware[i].Wrap(result)
	}
	return result
}

// ListModels lists the models of every provider concurrently. Providers that
// implement ModelLister are asked live; on failure their static list is used.
func (r *Router) ListModels(ctx context.Context) ([]ModelInfo, error) {
	names := r.providers.Names()
	results := make([][]ModelInfo, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		p, ok := r.providers.Get(name)
		if !ok {
			continue
		}
		i, name := i, name
		g.Go(func() error {
			ids := p.Models()
			if lister, ok := p.(ModelLister); ok {
				live, err := lister.ListModels(gctx)
				switch {
				case err == nil:
					ids = live
				case gctx.Err() != nil:
					return gctx.Err()
				default:
					r.logger.Warn().Err(err).Str("provider", name).Msg("live model listing failed, using static list")
				}
			}
			results[i] = lo.Map(ids, func(id string, _ int) ModelInfo {
				return ModelInfo{ID: id, Provider: name}
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	models := lo.UniqBy(lo.Flatten(results), func(m ModelInfo) string {
		return m.Provider + "/" + m.ID
	})
	sort.Slice(models, func(i, j int) bool {
		if models[i].Provider != models[j].Provider {
			return models[i].Provider < models[j].Provider
		}
		return models[i].ID < models[j].ID
	})
	return models, nil
}

// RegisterProvider adds a provider to the router. The returned func removes it.
func (r *Router) RegisterProvider(name string, p Provider) (func(), error) {
	return r.providers.Register(name, p)
}

// UnregisterProvider removes a provider by name
func (r *Router) UnregisterProvider(name string) bool {
	return r.providers.Unregister(name)
}

// MapModel maps a model name to a specific provider
func (r *Router) MapModel(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelMap[model] = provider
}

// Providers returns the sorted list of registered provider names
func (r *Router) Providers() []string {
	return r.providers.Names()
}

// GetProvider returns a provider by name
func (r *Router) GetProvider(name string) (Provider, bool) {
	return r.providers.Get(name)
}

// SetFallbacks sets the fallback provider order
func (r *Router) SetFallbacks(providers ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = providers
}

// AddMiddleware adds middleware to the router
func (r *Router) AddMiddleware(m Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, m)
}

// RegisterEmbedder adds an embedder. The returned func removes it.
func (r *Router) RegisterEmbedder(name string, e Embedder) (func(), error) {
	return r.embedders.Register(name, e)
}

// Embedders returns the sorted list of registered embedder names
func (r *Router) Embedders() []string {
	return r.embedders.Names()
}

// Embed vectorises req with the named embedder
func (r *Router) Embed(ctx context.Context, embedder string, req *EmbeddingRequest) ([]Embedding, error) {
	e, ok := r.embedders.Get(embedder)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEmbedder, embedder)
	}
	return e.Embed(ctx, req)
}

// RegisterVectorStore adds a vector store factory. The returned func removes it.
func (r *Router) RegisterVectorStore(name string, f VectorStoreFactory) (func(), error) {
	return r.vectorStores.Register(name, f)
}

// VectorStores returns the sorted list of registered vector store names
func (r *Router) VectorStores() []string {
	return r.vectorStores.Names()
}

// OpenVectorStore builds the named vector store on top of the named embedder
func (r *Router) OpenVectorStore(ctx context.Context, store, embedder string) (VectorStore, error) {
	factory, ok := r.vectorStores.Get(store)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVectorStore, store)
	}
	e, ok := r.embedders.Get(embedder)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEmbedder, embedder)
	}
	vs, err := factory(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("open vector store %s: %w", store, err)
	}
	return vs, nil
}
