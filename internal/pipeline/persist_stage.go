package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/repository"
	"github.com/joseph-ayodele/docflow/internal/search"
)

type PersistStage struct {
	Documents DocumentStore
	Runs      RunStore
	Index     search.Index
	Logger    *slog.Logger
}

func NewPersistStage(docs DocumentStore, runs RunStore, index search.Index, logger *slog.Logger) *PersistStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistStage{Documents: docs, Runs: runs, Index: index, Logger: logger}
}

// Persist replaces the document's results and moves it, and its run, to needs_review.
// Writes are keyed by document id and safe to repeat.
func (s *PersistStage) Persist(ctx context.Context, job Job, res entity.OCRResult, fields []entity.ExtractedField) error {
	err := s.Documents.SaveExtractionResults(ctx, job.DocumentID, repository.ExtractionResults{
		OCR:    res,
		Fields: fields,
		Status: constants.DocumentNeedsReview,
	})
	if err != nil {
		return common.StorageFailure("save extraction results", err)
	}
	if err := s.Runs.UpdateStatus(ctx, job.RunID, constants.RunNeedsReview); err != nil {
		return common.StorageFailure("update run status", err)
	}
	return nil
}

// IndexDocument adds the document's text to the search index. Failures are logged and
// swallowed.
func (s *PersistStage) IndexDocument(ctx context.Context, job Job, dt *entity.DocumentType, rawText string) {
	if s.Index == nil || strings.TrimSpace(rawText) == "" {
		return
	}
	doc, err := s.Documents.Get(ctx, job.DocumentID)
	if err != nil {
		s.Logger.Warn("pipeline.index.failed", "document_id", job.DocumentID, "error", err)
		return
	}
	run, err := s.Runs.Get(ctx, job.RunID)
	if err != nil {
		s.Logger.Warn("pipeline.index.failed", "document_id", job.DocumentID, "error", err)
		return
	}
	var typeName string
	if dt != nil {
		typeName = dt.Name
	}
	if err := s.Index.AddDocument(ctx, doc.ID, rawText, search.DocumentMetadata(doc, run, typeName)); err != nil {
		s.Logger.Warn("pipeline.index.failed",
			"document_id", job.DocumentID, "error", common.WrapError(err, common.ErrIndexFailure.Error()))
		return
	}
	s.Logger.Info("pipeline.index.ok", "document_id", job.DocumentID)
}
