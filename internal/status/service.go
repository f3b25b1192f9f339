// Package status owns document and run lifecycle transitions and keeps a run's status
// consistent with the statuses of its documents.
package status

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// DocumentStore is the document persistence the state machine needs.
type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessedDocument, error)
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*entity.ProcessedDocument, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus, errorMessage *string) error
}

// RunStore is the run persistence the state machine needs.
type RunStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessingRun, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.RunStatus) error
}

type Service struct {
	docs   DocumentStore
	runs   RunStore
	logger *slog.Logger
}

func NewService(docs DocumentStore, runs RunStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, runs: runs, logger: logger}
}

// MarkReviewed confirms one document. The run becomes reviewed only when every sibling is.
func (s *Service) MarkReviewed(ctx context.Context, documentID uuid.UUID) (*entity.ProcessedDocument, error) {
	doc, err := s.transition(ctx, documentID, constants.DocumentReviewed, nil)
	if err != nil {
		return nil, err
	}
	if err := s.syncRun(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// CancelReview moves a reviewed document back to needs_review and its run with it.
func (s *Service) CancelReview(ctx context.Context, documentID uuid.UUID) (*entity.ProcessedDocument, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != constants.DocumentReviewed {
		return nil, common.NewAppError(common.CodeInvalidArgument,
			fmt.Sprintf("cannot cancel review of a %s document", doc.Status), common.ErrInvalidInput)
	}
	doc, err = s.transition(ctx, documentID, constants.DocumentNeedsReview, nil)
	if err != nil {
		return nil, err
	}
	if err := s.syncRun(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// MarkRunReviewed force-sets every document of the run to reviewed.
func (s *Service) MarkRunReviewed(ctx context.Context, runID uuid.UUID) (*entity.ProcessingRun, error) {
	return s.forceRun(ctx, runID, constants.DocumentReviewed, constants.RunReviewed)
}

// CancelRunReview force-sets every document of the run to needs_review.
func (s *Service) CancelRunReview(ctx context.Context, runID uuid.UUID) (*entity.ProcessingRun, error) {
	return s.forceRun(ctx, runID, constants.DocumentNeedsReview, constants.RunNeedsReview)
}

// UpdateStatus applies a single document transition, e.g. processing to error, records the
// user-facing message and brings the run in line. Invalid transitions are rejected with
// ErrInvalidInput.
func (s *Service) UpdateStatus(ctx context.Context, documentID uuid.UUID, next constants.DocumentStatus, message *string) (*entity.ProcessedDocument, error) {
	if !next.Valid() {
		return nil, common.NewAppError(common.CodeInvalidArgument, fmt.Sprintf("unknown status %q", next), common.ErrInvalidInput)
	}
	doc, err := s.transition(ctx, documentID, next, message)
	if err != nil {
		return nil, err
	}
	if err := s.syncRun(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateRunStatus sets a run status directly; used by automation for processing and error.
func (s *Service) UpdateRunStatus(ctx context.Context, runID uuid.UUID, next constants.RunStatus) (*entity.ProcessingRun, error) {
	if !next.Valid() {
		return nil, common.NewAppError(common.CodeInvalidArgument, fmt.Sprintf("unknown run status %q", next), common.ErrInvalidInput)
	}
	if err := s.runs.UpdateStatus(ctx, runID, next); err != nil {
		return nil, err
	}
	return s.runs.Get(ctx, runID)
}

// Fail marks a document and its run as error with a user-facing message.
func (s *Service) Fail(ctx context.Context, documentID, runID uuid.UUID, message string) error {
	if err := s.docs.UpdateStatus(ctx, documentID, constants.DocumentError, &message); err != nil {
		return err
	}
	if err := s.runs.UpdateStatus(ctx, runID, constants.RunError); err != nil {
		return err
	}
	s.logger.Warn("status.document.error", "document_id", documentID, "run_id", runID, "message", message)
	return nil
}

func (s *Service) transition(ctx context.Context, documentID uuid.UUID, next constants.DocumentStatus, message *string) (*entity.ProcessedDocument, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Status.CanTransition(next) {
		return nil, common.NewAppError(common.CodeInvalidArgument,
			fmt.Sprintf("cannot move document from %s to %s", doc.Status, next), common.ErrInvalidInput)
	}
	if next != constants.DocumentError {
		message = nil
	}
	if err := s.docs.UpdateStatus(ctx, documentID, next, message); err != nil {
		return nil, err
	}
	s.logger.Info("status.document.transition", "document_id", documentID, "from", doc.Status, "to", next)
	doc.Status = next
	doc.ErrorMessage = message
	return doc, nil
}

// syncRun derives the run status after doc changed. A document in error or processing takes
// the run with it. Otherwise the run is reviewed iff every document is, and a run that was
// reviewed drops back to needs_review.
func (s *Service) syncRun(ctx context.Context, doc *entity.ProcessedDocument) error {
	run, err := s.runs.Get(ctx, doc.ProcessingRunID)
	if err != nil {
		return err
	}
	var next constants.RunStatus
	switch doc.Status {
	case constants.DocumentError:
		next = constants.RunError
	case constants.DocumentProcessing:
		next = constants.RunProcessing
	default:
		siblings, err := s.docs.ListByRun(ctx, run.ID)
		if err != nil {
			return err
		}
		switch {
		case allReviewed(siblings):
			next = constants.RunReviewed
		case run.Status == constants.RunReviewed:
			next = constants.RunNeedsReview
		default:
			return nil
		}
	}
	if run.Status == next {
		return nil
	}
	if err := s.runs.UpdateStatus(ctx, run.ID, next); err != nil {
		return err
	}
	s.logger.Info("status.run.transition", "run_id", run.ID, "from", run.Status, "to", next)
	return nil
}

func (s *Service) forceRun(ctx context.Context, runID uuid.UUID, docStatus constants.DocumentStatus, runStatus constants.RunStatus) (*entity.ProcessingRun, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	docs, err := s.docs.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if err := s.docs.UpdateStatus(ctx, d.ID, docStatus, nil); err != nil {
			return nil, err
		}
		d.Status = docStatus
		d.ErrorMessage = nil
	}
	if err := s.runs.UpdateStatus(ctx, runID, runStatus); err != nil {
		return nil, err
	}
	s.logger.Info("status.run.forced", "run_id", runID, "status", runStatus, "documents", len(docs))
	run.Status = runStatus
	run.Documents = docs
	return run, nil
}

func allReviewed(docs []*entity.ProcessedDocument) bool {
	if len(docs) == 0 {
		return false
	}
	for _, d := range docs {
		if d.Status != constants.DocumentReviewed {
			return false
		}
	}
	return true
}
