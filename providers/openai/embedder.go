package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	llmrelay "github.com/bluefunda/llm-relay"
)

// Embed implements llmrelay.Embedder through the /embeddings endpoint.
func (p *Provider) Embed(ctx context.Context, req *llmrelay.EmbeddingRequest) ([]llmrelay.Embedding, error) {
	model := req.Model
	if model == "" {
		model = p.embeddingModel
	}
	if model == "" {
		return nil, fmt.Errorf("%w: %s has no embedding model", llmrelay.ErrInvalidRequest, p.name)
	}
	if len(req.Input) == 0 {
		return nil, nil
	}

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.F(openai.EmbeddingModel(model)),
		Input: openai.F[openai.EmbeddingNewParamsInputUnion](openai.EmbeddingNewParamsInputArrayOfStrings(req.Input)),
	})
	if err != nil {
		return nil, wrapError(p.name, err)
	}

	out := make([]llmrelay.Embedding, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = llmrelay.Embedding{Index: int(d.Index), Vector: vec}
	}
	return out, nil
}
