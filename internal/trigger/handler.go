package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/ingest"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
)

// Analyzer recognises and classifies a file before any run exists. *pipeline.Processor
// implements it.
type Analyzer interface {
	Analyze(ctx context.Context, path string, ownerID uuid.UUID) (*pipeline.Analysis, error)
	Seed(ctx context.Context, documentID uuid.UUID, storageKey, filename string, a *pipeline.Analysis) error
}

// Ingestor creates runs and stored documents. *ingest.Service implements it.
type Ingestor interface {
	CreateRun(ctx context.Context, ownerID, typeID uuid.UUID, source constants.RunSource, triggerName *string) (*entity.ProcessingRun, error)
	Store(ctx context.Context, run *entity.ProcessingRun, f ingest.Upload) (*entity.ProcessedDocument, error)
}

type RunStatusStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.RunStatus) error
}

// Runner processes a document on the calling goroutine with a single attempt. A failed
// trigger document stays in error until it is re-extracted. *async.Orchestrator implements it.
type Runner interface {
	RunOnce(ctx context.Context, job pipeline.Job) (*pipeline.Outcome, error)
}

// Handler turns one trigger file into its own run. The type comes from classification,
// so files that cannot be recognised or classified create nothing.
type Handler struct {
	analyzer Analyzer
	ingest   Ingestor
	runs     RunStatusStore
	runner   Runner
	logger   *slog.Logger
}

func NewHandler(analyzer Analyzer, ing Ingestor, runs RunStatusStore, runner Runner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{analyzer: analyzer, ingest: ing, runs: runs, runner: runner, logger: logger}
}

func (h *Handler) Handle(ctx context.Context, t *entity.Trigger, path string) error {
	filename := filepath.Base(path)
	log := h.logger.With("trigger_id", t.ID, "file", filename)

	a, err := h.analyzer.Analyze(ctx, path, t.UserID)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", filename, err)
	}
	defer func() { _ = a.Close() }()

	name := Name(t.Folder)
	run, err := h.ingest.CreateRun(ctx, t.UserID, a.Type.ID, constants.SourceTrigger, &name)
	if err != nil {
		return err
	}
	doc, err := h.ingest.Store(ctx, run, ingest.Upload{Filename: filename, Path: path})
	if err != nil {
		if uerr := h.runs.UpdateStatus(context.WithoutCancel(ctx), run.ID, constants.RunError); uerr != nil {
			log.Error("trigger.handle.run_status_failed", "run_id", run.ID, "error", uerr)
		}
		return err
	}
	log = log.With("document_id", doc.ID, "run_id", run.ID)

	if err := h.analyzer.Seed(ctx, doc.ID, doc.FilePath, doc.Filename, a); err != nil {
		log.Warn("trigger.handle.seed_failed", "error", err)
	}

	typeID := a.Type.ID
	_, err = h.runner.RunOnce(ctx, pipeline.Job{
		DocumentID:     doc.ID,
		RunID:          run.ID,
		DocumentTypeID: &typeID,
		FilePath:       path,
		Filename:       doc.Filename,
		StorageKey:     doc.FilePath,
		OwnerID:        t.UserID,
	})
	if err != nil {
		return err
	}
	log.Info("trigger.handle.ok", "document_type_id", typeID)
	return nil
}

// Name is the run name for files of folder: its base name, or the default trigger name.
func Name(folder string) string {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return constants.DefaultTriggerName
	}
	base := filepath.Base(filepath.Clean(folder))
	if base == "." || base == string(filepath.Separator) {
		return constants.DefaultTriggerName
	}
	return base
}
