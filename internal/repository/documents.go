package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// ExtractionResults is the persisted outcome of one successful pipeline attempt.
type ExtractionResults struct {
	OCR    entity.OCRResult
	Fields []entity.ExtractedField
	Status constants.DocumentStatus
}

type DocumentRepository interface {
	// Create inserts the document; re-creating an existing id overwrites it.
	Create(ctx context.Context, doc *entity.ProcessedDocument) error
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessedDocument, error)
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*entity.ProcessedDocument, error)
	// UpdateStatus sets the status and error message; a nil message clears it.
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus, errorMessage *string) error
	// SaveExtractionResults replaces the OCR bundle and fields keyed by document id.
	SaveExtractionResults(ctx context.Context, id uuid.UUID, res ExtractionResults) error
	UpdateFields(ctx context.Context, id uuid.UUID, fields []entity.ExtractedField) error
	// RecentExtractedByType returns the newest documents of a type that have fields.
	RecentExtractedByType(ctx context.Context, documentTypeID uuid.UUID, limit int) ([]*entity.ProcessedDocument, error)
}

type documentRepository struct {
	client *Client
	logger *slog.Logger
}

func NewDocumentRepository(client *Client, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepository{client: client, logger: logger}
}

var documentColumns = []string{
	"id", "processing_run_id", "filename", "file_path", "file_size", "mime_type",
	"status", "error_message", "ocr_result", "extracted_fields", "created_at", "updated_at",
}

func (r *documentRepository) Create(ctx context.Context, doc *entity.ProcessedDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = constants.DocumentProcessing
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	ocr, err := ocrArg(doc.OCRResult)
	if err != nil {
		return err
	}
	fields, err := jsonArg(doc.ExtractedFields)
	if err != nil {
		return err
	}
	q := r.client.builder().Insert(tableDocuments).
		Columns(documentColumns...).
		Values(doc.ID, doc.ProcessingRunID, doc.Filename, doc.FilePath, doc.FileSize, doc.MimeType,
			string(doc.Status), nullString(doc.ErrorMessage), ocr, fields, doc.CreatedAt, doc.UpdatedAt).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWithNewValues(),
		)
	if _, err := execQ(ctx, r.client.db, q); err != nil {
		r.logger.Error("failed to create document", "id", doc.ID, "run_id", doc.ProcessingRunID, "error", err)
		return dbErr("create document", err)
	}
	return nil
}

func (r *documentRepository) Get(ctx context.Context, id uuid.UUID) (*entity.ProcessedDocument, error) {
	q := r.client.builder().Select(documentColumns...).
		From(entsql.Table(tableDocuments)).
		Where(entsql.EQ("id", id))
	doc, err := scanDocument(queryRowQ(ctx, r.client.db, q))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document", id)
	}
	if err != nil {
		r.logger.Error("failed to get document", "id", id, "error", err)
		return nil, dbErr("get document", err)
	}
	return doc, nil
}

func (r *documentRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]*entity.ProcessedDocument, error) {
	docs, err := listDocumentsByRun(ctx, r.client, runID)
	if err != nil {
		r.logger.Error("failed to list run documents", "run_id", runID, "error", err)
	}
	return docs, err
}

func listDocumentsByRun(ctx context.Context, c *Client, runID uuid.UUID) ([]*entity.ProcessedDocument, error) {
	q := c.builder().Select(documentColumns...).
		From(entsql.Table(tableDocuments)).
		Where(entsql.EQ("processing_run_id", runID)).
		OrderBy("created_at", "filename")
	rows, err := queryQ(ctx, c.db, q)
	if err != nil {
		return nil, dbErr("list documents", err)
	}
	defer rows.Close()

	var out []*entity.ProcessedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, dbErr("scan document", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (r *documentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus, errorMessage *string) error {
	q := r.client.builder().Update(tableDocuments).
		Set("status", string(status)).
		Set("error_message", nullString(errorMessage)).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id))
	res, err := execQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to update document status", "id", id, "status", status, "error", err)
		return dbErr("update document status", err)
	}
	return mustAffect(res, "document", id)
}

func (r *documentRepository) SaveExtractionResults(ctx context.Context, id uuid.UUID, res ExtractionResults) error {
	ocr, err := ocrArg(res.OCR)
	if err != nil {
		return err
	}
	fields, err := jsonArg(nonNilFields(res.Fields))
	if err != nil {
		return err
	}
	q := r.client.builder().Update(tableDocuments).
		Set("ocr_result", ocr).
		Set("extracted_fields", fields).
		Set("status", string(res.Status)).
		Set("error_message", nil).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id))
	out, err := execQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to save extraction results", "id", id, "error", err)
		return dbErr("save extraction results", err)
	}
	return mustAffect(out, "document", id)
}

func (r *documentRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields []entity.ExtractedField) error {
	arg, err := jsonArg(nonNilFields(fields))
	if err != nil {
		return err
	}
	q := r.client.builder().Update(tableDocuments).
		Set("extracted_fields", arg).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id))
	res, err := execQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to update document fields", "id", id, "error", err)
		return dbErr("update document fields", err)
	}
	return mustAffect(res, "document", id)
}

func (r *documentRepository) RecentExtractedByType(ctx context.Context, documentTypeID uuid.UUID, limit int) ([]*entity.ProcessedDocument, error) {
	b := r.client.builder()
	d := b.Table(tableDocuments).As("d")
	run := b.Table(tableRuns).As("r")
	cols := make([]string, len(documentColumns))
	for i, c := range documentColumns {
		cols[i] = d.C(c)
	}
	q := b.Select(cols...).
		From(d).
		Join(run).On(d.C("processing_run_id"), run.C("id")).
		Where(entsql.And(
			entsql.EQ(run.C("document_type_id"), documentTypeID),
			entsql.NotNull(d.C("extracted_fields")),
		)).
		OrderBy(entsql.Desc(d.C("created_at"))).
		Limit(limit)
	rows, err := queryQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to load recent documents", "document_type_id", documentTypeID, "error", err)
		return nil, dbErr("recent documents", err)
	}
	defer rows.Close()

	var out []*entity.ProcessedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, dbErr("scan document", err)
		}
		if len(doc.ExtractedFields) == 0 {
			continue
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func ocrArg(o entity.OCRResult) (any, error) {
	if o.IsZero() {
		return nil, nil
	}
	return jsonArg(o)
}

func nonNilFields(fields []entity.ExtractedField) []entity.ExtractedField {
	if fields == nil {
		return []entity.ExtractedField{}
	}
	return fields
}

func scanDocument(s rowScanner) (*entity.ProcessedDocument, error) {
	var (
		doc         entity.ProcessedDocument
		status      string
		errMsg      sql.NullString
		ocr, fields []byte
	)
	if err := s.Scan(&doc.ID, &doc.ProcessingRunID, &doc.Filename, &doc.FilePath, &doc.FileSize, &doc.MimeType,
		&status, &errMsg, &ocr, &fields, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Status = constants.DocumentStatus(status)
	doc.ErrorMessage = stringPtr(errMsg)
	if err := jsonScan(ocr, &doc.OCRResult); err != nil {
		return nil, err
	}
	if err := jsonScan(fields, &doc.ExtractedFields); err != nil {
		return nil, err
	}
	return &doc, nil
}
