package embeddings

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joseph-ayodele/docflow/internal/llm"
)

var _ Embedder = (*LMStudioClient)(nil)

// LMStudioClient uses the OpenAI-compatible /v1/embeddings endpoint.
type LMStudioClient struct {
	baseURL string
	model   string
	client  *http.Client
}

type openAIEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *LMStudioClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *LMStudioClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}
	var resp openAIEmbedResponse
	if err := llm.DoJSON(ctx, c.client, llm.Call{URL: c.baseURL + "/v1/embeddings", Body: openAIEmbedRequest{Input: texts, Model: c.model}}, &resp, nil); err != nil {
		return nil, fmt.Errorf("lmstudio: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("invalid embedding index: %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *LMStudioClient) Health(ctx context.Context) error {
	var models struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := llm.DoJSON(ctx, c.client, llm.Call{URL: c.baseURL + "/v1/models"}, &models, nil); err != nil {
		return fmt.Errorf("lmstudio: %w", err)
	}
	if len(models.Data) == 0 {
		return fmt.Errorf("no models loaded in lmstudio")
	}
	return nil
}
