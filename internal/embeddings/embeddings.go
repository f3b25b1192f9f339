// Package embeddings turns document text into vectors through a local embedding server.
package embeddings

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Embedder is the interface for embedding providers (Ollama, LMStudio).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Health(ctx context.Context) error
}

// NewEmbedder creates an embedding client for provider. Supported: "ollama", "lmstudio".
func NewEmbedder(provider, baseURL, model string, timeout time.Duration) (Embedder, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	switch provider {
	case "ollama":
		return &OllamaClient{baseURL: baseURL, model: model, client: httpClient}, nil
	case "lmstudio":
		return &LMStudioClient{baseURL: baseURL, model: model, client: httpClient}, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (supported: ollama, lmstudio)", provider)
	}
}

// CosineSimilarity computes the cosine similarity between two vectors, in [-1, 1].
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// CosineDistance is 1 - CosineSimilarity, the distance pgvector's <=> operator reports.
func CosineDistance(a, b []float32) float64 {
	return 1 - float64(CosineSimilarity(a, b))
}
