package llmrelay

import (
	"context"
)

// Provider is the interface every model adapter implements
type Provider interface {
	// Name returns the provider identifier (e.g., "qwen", "openai")
	Name() string

	// Models returns the statically known model IDs
	Models() []string

	// Complete performs a non-streaming completion
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream performs a streaming completion, returning events via channel
	Stream(ctx context.Context, req *Request) (<-chan Event, error)

	// SupportsTools returns whether the provider supports function/tool calling
	SupportsTools() bool
}

// ModelLister is implemented by providers able to list models from the vendor API.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Middleware wraps a Provider with additional functionality
type Middleware interface {
	Wrap(next Provider) Provider
}

// Embedder turns texts into vectors
type Embedder interface {
	Embed(ctx context.Context, req *EmbeddingRequest) ([]Embedding, error)
}

// Document is a unit stored in a VectorStore
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// ScoredDocument is a search hit
type ScoredDocument struct {
	Document
	Score float32
}

// VectorStore is implemented by external vector database adapters.
type VectorStore interface {
	AddDocuments(ctx context.Context, docs []Document) error
	SimilaritySearch(ctx context.Context, query string, k int) ([]ScoredDocument, error)
	Close() error
}

// VectorStoreFactory opens a VectorStore backed by the given Embedder.
type VectorStoreFactory func(ctx context.Context, embedder Embedder) (VectorStore, error)
