// Package search indexes processed documents for semantic retrieval and serves owner-scoped
// searches with an optional LLM rerank.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Metadata is the flat key/value payload stored next to an indexed document. Filters match
// on exact equality of every given key.
type Metadata map[string]string

// Hit is one similarity match. Distance is a cosine distance; smaller is closer.
type Hit struct {
	DocumentID uuid.UUID
	Content    string
	Metadata   Metadata
	Distance   float64
}

// Index is a vector store keyed by document id.
type Index interface {
	AddDocument(ctx context.Context, id uuid.UUID, text string, meta Metadata) error
	Update(ctx context.Context, id uuid.UUID, text string, meta Metadata) error
	Delete(ctx context.Context, id uuid.UUID) error
	SimilaritySearch(ctx context.Context, query string, k int, filter Metadata) ([]Hit, error)
}

// DocumentMetadata builds the payload indexed with a document.
func DocumentMetadata(doc *entity.ProcessedDocument, run *entity.ProcessingRun, typeName string) Metadata {
	meta := Metadata{
		"document_id":        doc.ID.String(),
		"filename":           doc.Filename,
		"document_type_name": typeName,
		"status":             string(doc.Status),
		"created_at":         "",
	}
	if !doc.CreatedAt.IsZero() {
		meta["created_at"] = doc.CreatedAt.UTC().Format(time.RFC3339)
	}
	if run != nil {
		meta["document_type_id"] = run.DocumentTypeID.String()
		meta["run_id"] = run.ID.String()
		meta["user_id"] = run.UserID.String()
	}
	return meta
}

// CorrectedText prefixes the OCR text with the manually corrected fields so that searches
// hit the corrected values.
func CorrectedText(rawText string, fields []entity.ExtractedField) string {
	var lines []string
	for _, f := range fields {
		if f.IsCorrected {
			lines = append(lines, "- "+f.Name+": "+f.Value)
		}
	}
	if len(lines) == 0 {
		return rawText
	}
	return "Corrected fields:\n" + strings.Join(lines, "\n") + "\n\nOriginal text:\n" + rawText
}
