package llmrelay

import "github.com/rs/zerolog"

// Option configures the Router
type Option func(*Router)

// WithProvider registers a provider with the router, replacing any provider
// already registered under name.
func WithProvider(name string, p Provider) Option {
	return func(r *Router) {
		r.providers.Set(name, p)
	}
}

// WithModelMapping maps a model to a specific provider
func WithModelMapping(model, provider string) Option {
	return func(r *Router) {
		r.modelMap[model] = provider
	}
}

// WithFallback sets fallback providers in priority order
func WithFallback(providers ...string) Option {
	return func(r *Router) {
		r.fallbacks = providers
	}
}

// WithMiddleware adds middleware to the processing chain.
// Use this with middleware from the middleware package:
//
//	import "github.com/bluefunda/llm-relay/middleware"
//
//	router := llmrelay.New(
//	    llmrelay.WithMiddleware(
//	        middleware.NewRetryMiddleware(2, 5*time.Second),
//	        middleware.NewTimeoutMiddleware(60*time.Second),
//	    ),
//	)
func WithMiddleware(m ...Middleware) Option {
	return func(r *Router) {
		r.middleware = append(r.middleware, m...)
	}
}

// WithEmbedder registers an embedder under name
func WithEmbedder(name string, e Embedder) Option {
	return func(r *Router) {
		r.embedders.Set(name, e)
	}
}

// WithVectorStore registers a vector store factory under name
func WithVectorStore(name string, f VectorStoreFactory) Option {
	return func(r *Router) {
		r.vectorStores.Set(name, f)
	}
}

// WithLogger sets the logger used for fallback and listing diagnostics
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}
