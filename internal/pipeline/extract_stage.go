package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/fieldschema"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/reconcile"
)

type ExtractStage struct {
	Generator llm.Generator
	Documents DocumentStore
	Engine    *reconcile.Engine
	Logger    *slog.Logger
}

func NewExtractStage(gen llm.Generator, docs DocumentStore, engine *reconcile.Engine, logger *slog.Logger) *ExtractStage {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = reconcile.NewEngine(logger)
	}
	return &ExtractStage{Generator: gen, Documents: docs, Engine: engine, Logger: logger}
}

// Run asks the model for the requested fields and reconciles the answer against the schema.
// A failed generation yields extraction error placeholders; an unavailable model yields the
// OCR text fallback or not-found placeholders. Every returned field has OriginalValue set.
func (s *ExtractStage) Run(ctx context.Context, documentID uuid.UUID, tokens []string, dt *entity.DocumentType, res entity.OCRResult) []entity.ExtractedField {
	schema := fieldschema.Parse(tokens)
	if schema.Empty() {
		return nil
	}
	in := reconcile.Input{Schema: schema, Blocks: res.Blocks(), Text: res.RawText}

	var out reconcile.Result
	switch {
	case s.Generator == nil || !s.Generator.Ready():
		s.Logger.Warn("pipeline.extract.llm_unavailable", "document_id", documentID)
		out = s.Engine.Reconcile(in)
	default:
		prompt := llm.BuildExtractionPrompt(res.RawText, schema, s.ragContext(ctx, documentID, dt))
		start := time.Now()
		resp, err := s.Generator.Generate(ctx, prompt, llm.ExtractionMaxTokens(schema))
		if err != nil {
			out = s.Engine.ErrorPlaceholders(in, err)
			break
		}
		s.Logger.Info("pipeline.extract.generated",
			"document_id", documentID, "response_len", len(resp), "elapsed_ms", time.Since(start).Milliseconds())
		in.Response = resp
		out = s.Engine.Reconcile(in)
	}

	fields := out.Fields
	for i := range fields {
		fields[i].OriginalValue = fields[i].Value
		fields[i].IsCorrected = false
	}
	return fields
}

// ragContext renders the newest extracted documents of the same type as few-shot examples.
// Lookup failures only cost the examples.
func (s *ExtractStage) ragContext(ctx context.Context, documentID uuid.UUID, dt *entity.DocumentType) string {
	if s.Documents == nil || dt == nil {
		return ""
	}
	recent, err := s.Documents.RecentExtractedByType(ctx, dt.ID, llm.RAGMaxExamples+1)
	if err != nil {
		s.Logger.Warn("pipeline.extract.rag_failed", "document_type_id", dt.ID, "error", err)
		return ""
	}
	examples := make([]llm.RAGExample, 0, llm.RAGMaxExamples)
	for _, d := range recent {
		if d.ID == documentID {
			continue
		}
		examples = append(examples, llm.RAGExample{Filename: d.Filename, Fields: d.ExtractedFields})
		if len(examples) == llm.RAGMaxExamples {
			break
		}
	}
	return llm.FormatRAGContext(examples)
}
