package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/internal/llm"
)

const (
	DefaultCandidates = 20
	SnippetLength     = 300
)

// Reranker reorders candidates for a query and returns indices into items, best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []llm.RerankItem, topK int) []int
}

// Query is an owner-scoped semantic search.
type Query struct {
	Text           string
	OwnerID        uuid.UUID
	DocumentTypeID *uuid.UUID
	Limit          int
	Rerank         bool
}

// Result is one ranked search result.
type Result struct {
	DocumentID       uuid.UUID `json:"document_id"`
	Filename         string    `json:"filename"`
	DocumentTypeID   string    `json:"document_type_id"`
	DocumentTypeName string    `json:"document_type_name"`
	RunID            string    `json:"run_id"`
	Relevance        float64   `json:"relevance_score"`
	Snippet          string    `json:"snippet"`
	Status           string    `json:"status"`
	CreatedAt        string    `json:"created_at"`
}

type Service struct {
	index      Index
	reranker   Reranker
	candidates int
	logger     *slog.Logger
}

// NewService builds the search service. reranker may be nil.
func NewService(index Index, reranker Reranker, candidates int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if candidates <= 0 {
		candidates = DefaultCandidates
	}
	return &Service{index: index, reranker: reranker, candidates: candidates, logger: logger}
}

// Search fetches candidates by vector similarity within the owner's documents and, when
// asked and there are more candidates than the limit, lets the LLM pick the final order.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, bool, error) {
	if q.Text == "" {
		return nil, false, fmt.Errorf("search query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	filter := Metadata{"user_id": q.OwnerID.String()}
	if q.DocumentTypeID != nil {
		filter["document_type_id"] = q.DocumentTypeID.String()
	}
	k := q.Limit
	if q.Rerank {
		k = max(s.candidates, q.Limit)
	}

	hits, err := s.index.SimilaritySearch(ctx, q.Text, k, filter)
	if err != nil {
		return nil, false, fmt.Errorf("vector search failed: %w", err)
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, toResult(h))
	}

	used := false
	if q.Rerank && s.reranker != nil && len(hits) > q.Limit {
		items := make([]llm.RerankItem, len(hits))
		for i, h := range hits {
			items[i] = llm.RerankItem{Filename: h.Metadata["filename"], Content: h.Content}
		}
		order := s.reranker.Rerank(ctx, q.Text, items, q.Limit)
		reranked := make([]Result, 0, len(order))
		for _, i := range order {
			if i >= 0 && i < len(results) {
				reranked = append(reranked, results[i])
			}
		}
		results, used = reranked, true
	}
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	s.logger.Info("search.query.done", "owner_id", q.OwnerID, "candidates", len(hits), "results", len(results), "reranked", used)
	return results, used, nil
}

func toResult(h Hit) Result {
	snippet := h.Content
	if r := []rune(snippet); len(r) > SnippetLength {
		snippet = string(r[:SnippetLength]) + "..."
	}
	return Result{
		DocumentID:       h.DocumentID,
		Filename:         h.Metadata["filename"],
		DocumentTypeID:   h.Metadata["document_type_id"],
		DocumentTypeName: h.Metadata["document_type_name"],
		RunID:            h.Metadata["run_id"],
		Relevance:        math.Max(0, 1-h.Distance),
		Snippet:          snippet,
		Status:           h.Metadata["status"],
		CreatedAt:        h.Metadata["created_at"],
	}
}
