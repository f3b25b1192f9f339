package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/joseph-ayodele/docflow/internal/llm"
)

var _ Embedder = (*OllamaClient)(nil)

// OllamaClient talks to Ollama's /api/embed endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}
	for _, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("text cannot be empty")
		}
	}
	var resp embedResponse
	if err := llm.DoJSON(ctx, c.client, llm.Call{URL: c.baseURL + "/api/embed", Body: embedRequest{Model: c.model, Input: texts}}, &resp, nil); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}

// Health checks that Ollama is up and the model has been pulled.
func (c *OllamaClient) Health(ctx context.Context) error {
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := llm.DoJSON(ctx, c.client, llm.Call{URL: c.baseURL + "/api/tags"}, &tags, nil); err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	wanted := stripModelTag(c.model)
	for _, m := range tags.Models {
		if stripModelTag(m.Name) == wanted {
			return nil
		}
	}
	return fmt.Errorf("model %s not found (run: ollama pull %s)", c.model, c.model)
}

// stripModelTag removes the tag suffix from a model name ("model:latest" -> "model").
func stripModelTag(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}
