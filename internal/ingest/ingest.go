// Package ingest turns uploaded files into a processing run with one document per file.
// Storage keys are fixed here, before any retryable work starts.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/async"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
	"github.com/joseph-ayodele/docflow/internal/storage"
)

type RunStore interface {
	Create(ctx context.Context, run *entity.ProcessingRun) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.RunStatus) error
}

type DocumentStore interface {
	Create(ctx context.Context, doc *entity.ProcessedDocument) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus, errorMessage *string) error
}

// Submitter queues a document for processing. *async.Orchestrator implements it.
type Submitter interface {
	Submit(ctx context.Context, job pipeline.Job) (*async.Handle, error)
}

// Upload is one file of a submission. Data wins over Path when both are set.
type Upload struct {
	Filename string
	Path     string
	Data     []byte
}

type Request struct {
	OwnerID         uuid.UUID
	DocumentTypeID  uuid.UUID
	Files           []Upload
	RequestedFields []string // empty means the type's fields
}

// Submission is what a manual submit produced. On a partial failure it holds
// the documents that were queued before the error.
type Submission struct {
	Run       *entity.ProcessingRun
	Documents []*entity.ProcessedDocument
	Handles   []*async.Handle
}

type Service struct {
	runs   RunStore
	docs   DocumentStore
	blobs  storage.Store
	queue  Submitter
	logger *slog.Logger
}

func NewService(runs RunStore, docs DocumentStore, blobs storage.Store, queue Submitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runs: runs, docs: docs, blobs: blobs, queue: queue, logger: logger}
}

// Submit creates a manual run for req and queues every file. When a file cannot be stored or
// queued, that document and the run are set to error before the error is returned.
func (s *Service) Submit(ctx context.Context, req Request) (*Submission, error) {
	v := common.NewValidator().
		Field("owner_id", req.OwnerID, common.NotNilUUID).
		Field("document_type_id", req.DocumentTypeID, common.NotNilUUID).
		Field("files", req.Files, common.NotEmpty[Upload])
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	for _, f := range req.Files {
		if name := uploadName(f); !AllowedExt(filepath.Ext(name)) {
			return nil, common.NewAppError(common.CodeInvalidArgument,
				fmt.Sprintf("unsupported file type: %s", name), common.ErrInvalidInput)
		}
	}

	run, err := s.CreateRun(ctx, req.OwnerID, req.DocumentTypeID, constants.SourceManual, nil)
	if err != nil {
		return nil, err
	}
	sub := &Submission{Run: run}
	typeID := req.DocumentTypeID
	for _, f := range req.Files {
		doc, err := s.Store(ctx, run, f)
		if err != nil {
			s.abort(ctx, run, nil, err)
			return sub, err
		}
		sub.Documents = append(sub.Documents, doc)

		h, err := s.queue.Submit(ctx, pipeline.Job{
			DocumentID:      doc.ID,
			RunID:           run.ID,
			DocumentTypeID:  &typeID,
			FilePath:        f.Path,
			Filename:        doc.Filename,
			StorageKey:      doc.FilePath,
			RequestedFields: req.RequestedFields,
			OwnerID:         req.OwnerID,
		})
		if err != nil {
			s.abort(ctx, run, doc, err)
			return sub, err
		}
		sub.Handles = append(sub.Handles, h)
	}
	s.logger.Info("ingest.submit.ok", "run_id", run.ID, "documents", len(sub.Documents))
	return sub, nil
}

// abort records a submission failure on doc, when it exists, and on the run. Status write
// failures are logged; the caller returns cause either way.
func (s *Service) abort(ctx context.Context, run *entity.ProcessingRun, doc *entity.ProcessedDocument, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With("run_id", run.ID, "error", cause)
	if doc != nil {
		log = log.With("document_id", doc.ID)
		msg := common.UserMessage(cause)
		if err := s.docs.UpdateStatus(ctx, doc.ID, constants.DocumentError, &msg); err != nil {
			log.Error("ingest.submit.document_status_failed", "status_error", err)
		} else {
			doc.Status, doc.ErrorMessage = constants.DocumentError, &msg
		}
	}
	if err := s.runs.UpdateStatus(ctx, run.ID, constants.RunError); err != nil {
		log.Error("ingest.submit.run_status_failed", "status_error", err)
	} else {
		run.Status = constants.RunError
	}
	log.Error("ingest.submit.failed")
}

// CreateRun opens a run in the processing state.
func (s *Service) CreateRun(ctx context.Context, ownerID, typeID uuid.UUID, source constants.RunSource, triggerName *string) (*entity.ProcessingRun, error) {
	run := &entity.ProcessingRun{
		DocumentTypeID: typeID,
		UserID:         ownerID,
		Source:         source,
		TriggerName:    triggerName,
		Status:         constants.RunProcessing,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, common.StorageFailure("create run", err)
	}
	return run, nil
}

// Store uploads the original under the first free key of the run's prefix and creates its
// document row. The document's FilePath is the storage key.
func (s *Service) Store(ctx context.Context, run *entity.ProcessingRun, f Upload) (*entity.ProcessedDocument, error) {
	name := uploadName(f)
	data := f.Data
	if data == nil {
		b, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, common.StorageFailure("read "+name, err)
		}
		data = b
	}

	prefix := storage.Prefix(run.DocumentTypeID.String(), run.ID.String())
	key, err := storage.FindAvailableKey(ctx, s.blobs, prefix, name)
	if err != nil {
		return nil, common.StorageFailure("reserve key", err)
	}
	mime := constants.MimeTypeForExt(filepath.Ext(name))
	if err := s.blobs.Put(ctx, key, data, mime); err != nil {
		return nil, common.StorageFailure("upload "+name, err)
	}

	doc := &entity.ProcessedDocument{
		ProcessingRunID: run.ID,
		Filename:        name,
		FilePath:        key,
		FileSize:        int64(len(data)),
		MimeType:        mime,
		Status:          constants.DocumentProcessing,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, common.StorageFailure("create document", err)
	}
	s.logger.Debug("ingest.store.ok", "document_id", doc.ID, "key", key, "size", doc.FileSize)
	return doc, nil
}
