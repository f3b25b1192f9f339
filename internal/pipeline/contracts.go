// Package pipeline runs one document through OCR, classification, field extraction,
// persistence and indexing. Each completed stage is checkpointed so a retried attempt resumes
// after it.
package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/ocr"
	"github.com/joseph-ayodele/docflow/internal/repository"
)

// Recognizer turns a local file into an OCR bundle. *ocr.Extractor implements it.
type Recognizer interface {
	Ready() bool
	Extract(ctx context.Context, path string) (*ocr.Document, error)
}

// Classifier picks a document type for OCR text. *classify.Classifier implements it.
type Classifier interface {
	Classify(ctx context.Context, text string, candidates []*entity.DocumentType) (*entity.DocumentType, error)
}

type TypeStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.DocumentType, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.DocumentType, error)
}

type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessedDocument, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus, errorMessage *string) error
	SaveExtractionResults(ctx context.Context, id uuid.UUID, res repository.ExtractionResults) error
	RecentExtractedByType(ctx context.Context, documentTypeID uuid.UUID, limit int) ([]*entity.ProcessedDocument, error)
}

type RunStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessingRun, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.RunStatus) error
}

// CheckpointStore keeps the stage marker of a document between attempts.
type CheckpointStore interface {
	Get(ctx context.Context, documentID uuid.UUID) (*entity.TaskCheckpoint, error)
	Save(ctx context.Context, cp *entity.TaskCheckpoint) error
	Delete(ctx context.Context, documentID uuid.UUID) error
}

// Blobs is the part of blob storage the pipeline touches.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Job describes one document to process.
type Job struct {
	DocumentID uuid.UUID
	RunID      uuid.UUID
	// DocumentTypeID is nil when the type must be classified from the owner's types.
	DocumentTypeID *uuid.UUID
	// FilePath is a local copy of the original. When it is gone, the original is read back
	// from StorageKey.
	FilePath   string
	Filename   string
	StorageKey string
	// RequestedFields overrides the type's field list when non-empty.
	RequestedFields []string
	OwnerID         uuid.UUID
	Attempt         int
}

// Outcome is what a successful run produces.
type Outcome struct {
	DocumentTypeID  uuid.UUID
	Fields          []entity.ExtractedField
	RawText         string
	StructuredOCR   entity.OCRContent
	PreviewImageKey *string
	FinalStatus     constants.DocumentStatus
}
