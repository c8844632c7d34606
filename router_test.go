package llmrelay

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
)

type stubProvider struct {
	name   string
	models []string
	live   []string
	err    error
	calls  int32
	seen   []string
}

func (s *stubProvider) Name() string        { return s.name }
func (s *stubProvider) Models() []string    { return s.models }
func (s *stubProvider) SupportsTools() bool { return true }

func (s *stubProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	atomic.AddInt32(&s.calls, 1)
	s.seen = append(s.seen, req.Model)
	if s.err != nil {
		return nil, s.err
	}
	return &Response{
		Model:    req.Model,
		Provider: s.name,
		Choices:  []Choice{{Message: &Message{Role: RoleAssistant, Content: "from " + s.name}}},
	}, nil
}

func (s *stubProvider) Stream(ctx context.Context, req *Request) (<-chan Event, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan Event, 1)
	ch <- Event{Type: EventDone, Response: &Response{Provider: s.name}}
	close(ch)
	return ch, nil
}

type listingProvider struct {
	*stubProvider
}

func (l listingProvider) ListModels(ctx context.Context) ([]string, error) {
	if l.live == nil {
		return nil, errors.New("listing unavailable")
	}
	return l.live, nil
}

type tagMiddleware struct {
	tag   string
	order *[]string
}

func (m tagMiddleware) Wrap(next Provider) Provider {
	return tagProvider{Provider: next, m: m}
}

type tagProvider struct {
	Provider
	m tagMiddleware
}

func (p tagProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	*p.m.order = append(*p.m.order, p.m.tag)
	return p.Provider.Complete(ctx, req)
}

func TestRouterResolve(t *testing.T) {
	qwen := &stubProvider{name: "qwen", models: []string{"qwen-plus", "qwen-max"}}
	openai := &stubProvider{name: "openai", models: []string{"gpt-4o"}}

	r := New(
		WithProvider("qwen", qwen),
		WithProvider("openai", openai),
		WithModelMapping("custom", "openai"),
	)

	tests := []struct {
		model string
		want  string
	}{
		{"qwen-max", "qwen"},
		{"gpt-4o", "openai"},
		{"custom", "openai"},
		{"qwen", "qwen"},
	}
	for _, tt := range tests {
		resp, err := r.Complete(context.Background(), &Request{Model: tt.model})
		if err != nil {
			t.Fatalf("%s: %v", tt.model, err)
		}
		if resp.Provider != tt.want {
			t.Errorf("%s: expected provider %s, got %s", tt.model, tt.want, resp.Provider)
		}
	}

	_, err := r.Complete(context.Background(), &Request{Model: "nope"})
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
}

func TestRouterNoProviders(t *testing.T) {
	_, err := New().Complete(context.Background(), &Request{Model: "x"})
	if !errors.Is(err, ErrNoProviders) {
		t.Errorf("expected ErrNoProviders, got %v", err)
	}
}

func TestRouterFallback(t *testing.T) {
	primary := &stubProvider{name: "qwen", models: []string{"qwen-plus"}, err: &APIError{Provider: "qwen", StatusCode: 503}}
	broken := &stubProvider{name: "deepseek", err: ErrRequestTimeout}
	backup := &stubProvider{name: "openai"}

	r := New(
		WithProvider("qwen", primary),
		WithProvider("deepseek", broken),
		WithProvider("openai", backup),
		WithFallback("qwen", "missing", "deepseek", "openai"),
	)

	resp, err := r.Complete(context.Background(), &Request{Model: "qwen-plus"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "openai" {
		t.Errorf("expected openai to answer, got %s", resp.Provider)
	}
	if primary.calls != 1 {
		t.Errorf("expected primary tried once, got %d", primary.calls)
	}
	if len(backup.seen) != 1 || backup.seen[0] != "openai" {
		t.Errorf("expected fallback to ask for its default model, got %v", backup.seen)
	}
}

func TestRouterNoFallbackOnPermanentError(t *testing.T) {
	primary := &stubProvider{name: "qwen", models: []string{"qwen-plus"}, err: &APIError{Provider: "qwen", StatusCode: 401, Err: ErrAuthFailed}}
	backup := &stubProvider{name: "openai"}

	r := New(
		WithProvider("qwen", primary),
		WithProvider("openai", backup),
		WithFallback("openai"),
	)

	_, err := r.Complete(context.Background(), &Request{Model: "qwen-plus"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if backup.calls != 0 {
		t.Errorf("expected no fallback, backup called %d times", backup.calls)
	}
}

func TestRouterStreamFallback(t *testing.T) {
	primary := &stubProvider{name: "qwen", err: ErrCircuitOpen}
	backup := &stubProvider{name: "openai"}

	r := New(
		WithProvider("qwen", primary),
		WithProvider("openai", backup),
		WithFallback("openai"),
	)

	ch, err := r.Stream(context.Background(), &Request{Model: "qwen"})
	if err != nil {
		t.Fatal(err)
	}
	ev := <-ch
	if ev.Response == nil || ev.Response.Provider != "openai" {
		t.Errorf("expected stream from openai, got %+v", ev)
	}
}

func TestRouterMiddlewareOrder(t *testing.T) {
	var order []string
	r := New(
		WithProvider("qwen", &stubProvider{name: "qwen"}),
		WithMiddleware(tagMiddleware{"outer", &order}, tagMiddleware{"inner", &order}),
	)
	r.AddMiddleware(tagMiddleware{"innermost", &order})

	if _, err := r.Complete(context.Background(), &Request{Model: "qwen"}); err != nil {
		t.Fatal(err)
	}
	want := []string{"outer", "inner", "innermost"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestRouterRegisterProviderDisposer(t *testing.T) {
	r := New()
	dispose, err := r.RegisterProvider("qwen", &stubProvider{name: "qwen"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.RegisterProvider("qwen", &stubProvider{name: "qwen"}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}

	dispose()
	if _, ok := r.GetProvider("qwen"); ok {
		t.Error("expected provider removed by disposer")
	}
	if len(r.Providers()) != 0 {
		t.Errorf("expected no providers, got %v", r.Providers())
	}
}

func TestRouterListModels(t *testing.T) {
	r := New(
		WithProvider("qwen", listingProvider{&stubProvider{name: "qwen", models: []string{"static"}, live: []string{"qwen-max", "qwen-plus", "qwen-max"}}}),
		WithProvider("offline", listingProvider{&stubProvider{name: "offline", models: []string{"fallback-model"}}}),
		WithProvider("openai", &stubProvider{name: "openai", models: []string{"gpt-4o"}}),
	)

	models, err := r.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := []ModelInfo{
		{ID: "fallback-model", Provider: "offline"},
		{ID: "gpt-4o", Provider: "openai"},
		{ID: "qwen-max", Provider: "qwen"},
		{ID: "qwen-plus", Provider: "qwen"},
	}
	if !reflect.DeepEqual(models, want) {
		t.Errorf("expected %v, got %v", want, models)
	}
}

type stubEmbedder struct{ dims int }

func (s stubEmbedder) Embed(ctx context.Context, req *EmbeddingRequest) ([]Embedding, error) {
	out := make([]Embedding, len(req.Input))
	for i := range req.Input {
		out[i] = Embedding{Index: i, Vector: make([]float32, s.dims)}
	}
	return out, nil
}

type stubStore struct{ embedder Embedder }

func (s *stubStore) AddDocuments(ctx context.Context, docs []Document) error { return nil }
func (s *stubStore) SimilaritySearch(ctx context.Context, query string, k int) ([]ScoredDocument, error) {
	return nil, nil
}
func (s *stubStore) Close() error { return nil }

func TestRouterEmbeddersAndVectorStores(t *testing.T) {
	r := New(WithEmbedder("small", stubEmbedder{dims: 4}))

	vecs, err := r.Embed(context.Background(), "small", &EmbeddingRequest{Input: []string{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || len(vecs[1].Vector) != 4 {
		t.Errorf("unexpected embeddings: %+v", vecs)
	}
	if _, err := r.Embed(context.Background(), "missing", &EmbeddingRequest{}); !errors.Is(err, ErrUnknownEmbedder) {
		t.Errorf("expected ErrUnknownEmbedder, got %v", err)
	}

	dispose, err := r.RegisterVectorStore("memory", func(ctx context.Context, e Embedder) (VectorStore, error) {
		return &stubStore{embedder: e}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	vs, err := r.OpenVectorStore(context.Background(), "memory", "small")
	if err != nil {
		t.Fatal(err)
	}
	if vs.(*stubStore).embedder == nil {
		t.Error("expected store to receive the embedder")
	}
	if _, err := r.OpenVectorStore(context.Background(), "memory", "missing"); !errors.Is(err, ErrUnknownEmbedder) {
		t.Errorf("expected ErrUnknownEmbedder, got %v", err)
	}

	dispose()
	if _, err := r.OpenVectorStore(context.Background(), "memory", "small"); !errors.Is(err, ErrUnknownVectorStore) {
		t.Errorf("expected ErrUnknownVectorStore after dispose, got %v", err)
	}
}
