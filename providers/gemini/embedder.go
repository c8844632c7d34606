package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"

	llmrelay "github.com/bluefunda/llm-relay"
)

// Embed implements llmrelay.Embedder with a single batch request
func (p *Provider) Embed(ctx context.Context, req *llmrelay.EmbeddingRequest) ([]llmrelay.Embedding, error) {
	if len(req.Input) == 0 {
		return nil, nil
	}
	model := req.Model
	if model == "" {
		model = p.embeddingModel
	}
	if model == "" {
		return nil, fmt.Errorf("%w: %s has no embedding model", llmrelay.ErrInvalidRequest, p.name)
	}

	em := p.client.EmbeddingModel(model)
	batch := em.NewBatch()
	for _, text := range req.Input {
		batch.AddContent(genai.Text(text))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, wrapError(p.name, err)
	}

	out := make([]llmrelay.Embedding, 0, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			continue
		}
		out = append(out, llmrelay.Embedding{Index: i, Vector: e.Values})
	}
	return out, nil
}
