package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/embeddings"
)

// EmbeddingsTable holds one vector per processed document.
const EmbeddingsTable = "document_embeddings"

var _ Index = (*PGVectorIndex)(nil)

// PGVectorIndex stores embeddings in Postgres with the vector extension.
type PGVectorIndex struct {
	db         *sql.DB
	embedder   embeddings.Embedder
	dimensions int
	logger     *slog.Logger
}

func NewPGVectorIndex(db *sql.DB, embedder embeddings.Embedder, dimensions int, logger *slog.Logger) *PGVectorIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGVectorIndex{db: db, embedder: embedder, dimensions: dimensions, logger: logger}
}

// EnsureSchema creates the vector extension and the embeddings table.
func (p *PGVectorIndex) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			document_id UUID PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, EmbeddingsTable, p.dimensions),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_metadata_idx ON %s USING gin (metadata jsonb_path_ops)", EmbeddingsTable, EmbeddingsTable),
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vector schema: %w", err)
		}
	}
	p.logger.Info("search.pgvector.schema_ready", "dimensions", p.dimensions)
	return nil
}

func (p *PGVectorIndex) AddDocument(ctx context.Context, id uuid.UUID, text string, meta Metadata) error {
	return p.upsert(ctx, id, text, meta)
}

// Update re-embeds the document; the upsert replaces the previous vector.
func (p *PGVectorIndex) Update(ctx context.Context, id uuid.UUID, text string, meta Metadata) error {
	return p.upsert(ctx, id, text, meta)
}

func (p *PGVectorIndex) upsert(ctx context.Context, id uuid.UUID, text string, meta Metadata) error {
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return common.NewAppError(common.CodeIndex, "embed document", fmt.Errorf("%w: %w", common.ErrIndexFailure, err))
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = p.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (document_id, content, metadata, embedding, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, now())
		ON CONFLICT (document_id) DO UPDATE
		SET content = EXCLUDED.content, metadata = EXCLUDED.metadata,
		    embedding = EXCLUDED.embedding, updated_at = now()`, EmbeddingsTable),
		id, text, string(metaJSON), pgvector.NewVector(vec))
	if err != nil {
		return common.NewAppError(common.CodeIndex, "store embedding", fmt.Errorf("%w: %w", common.ErrIndexFailure, err))
	}
	p.logger.Debug("search.pgvector.indexed", "document_id", id, "chars", len(text))
	return nil
}

func (p *PGVectorIndex) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", EmbeddingsTable), id); err != nil {
		return common.NewAppError(common.CodeIndex, "delete embedding", fmt.Errorf("%w: %w", common.ErrIndexFailure, err))
	}
	return nil
}

// SimilaritySearch orders by cosine distance (the <=> operator) within documents whose
// metadata contains filter.
func (p *PGVectorIndex) SimilaritySearch(ctx context.Context, query string, k int, filter Metadata) ([]Hit, error) {
	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if filter == nil {
		filter = Metadata{}
	}
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT document_id, content, metadata, embedding <=> $1 AS distance
		FROM %s
		WHERE metadata @> $2::jsonb
		ORDER BY distance
		LIMIT $3`, EmbeddingsTable),
		pgvector.NewVector(vec), string(filterJSON), k)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h       Hit
			rawMeta []byte
		)
		if err := rows.Scan(&h.DocumentID, &h.Content, &rawMeta, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if err := json.Unmarshal(rawMeta, &h.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
