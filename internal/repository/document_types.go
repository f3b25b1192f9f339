package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/fieldschema"
)

type DocumentTypeRepository interface {
	Create(ctx context.Context, dt *entity.DocumentType) error
	Get(ctx context.Context, id uuid.UUID) (*entity.DocumentType, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.DocumentType, error)
	Update(ctx context.Context, dt *entity.DocumentType) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type documentTypeRepository struct {
	client *Client
	logger *slog.Logger
}

func NewDocumentTypeRepository(client *Client, logger *slog.Logger) DocumentTypeRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentTypeRepository{client: client, logger: logger}
}

var documentTypeColumns = []string{"id", "user_id", "name", "description", "fields", "export_keys", "created_at", "updated_at"}

// Create validates the field tokens and inserts the type. A zero ID is assigned.
func (r *documentTypeRepository) Create(ctx context.Context, dt *entity.DocumentType) error {
	if err := fieldschema.Validate(dt.Fields); err != nil {
		return invalidArgument(err)
	}
	if dt.ID == uuid.Nil {
		dt.ID = uuid.New()
	}
	now := time.Now().UTC()
	dt.CreatedAt, dt.UpdatedAt = now, now
	if dt.Fields == nil {
		dt.Fields = []string{}
	}
	fields, err := jsonArg(dt.Fields)
	if err != nil {
		return err
	}
	keys, err := jsonArg(dt.ExportKeys)
	if err != nil {
		return err
	}
	q := r.client.builder().Insert(tableDocumentTypes).
		Columns(documentTypeColumns...).
		Values(dt.ID, dt.UserID, dt.Name, dt.Description, fields, keys, dt.CreatedAt, dt.UpdatedAt)
	if _, err := execQ(ctx, r.client.db, q); err != nil {
		r.logger.Error("failed to create document type", "name", dt.Name, "error", err)
		return dbErr("create document type", err)
	}
	return nil
}

func (r *documentTypeRepository) Get(ctx context.Context, id uuid.UUID) (*entity.DocumentType, error) {
	q := r.client.builder().Select(documentTypeColumns...).
		From(entsql.Table(tableDocumentTypes)).
		Where(entsql.EQ("id", id))
	dt, err := scanDocumentType(queryRowQ(ctx, r.client.db, q))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document type", id)
	}
	if err != nil {
		r.logger.Error("failed to get document type", "id", id, "error", err)
		return nil, dbErr("get document type", err)
	}
	return dt, nil
}

func (r *documentTypeRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.DocumentType, error) {
	q := r.client.builder().Select(documentTypeColumns...).
		From(entsql.Table(tableDocumentTypes)).
		Where(entsql.EQ("user_id", userID)).
		OrderBy("created_at", "name")
	rows, err := queryQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to list document types", "user_id", userID, "error", err)
		return nil, dbErr("list document types", err)
	}
	defer rows.Close()

	var out []*entity.DocumentType
	for rows.Next() {
		dt, err := scanDocumentType(rows)
		if err != nil {
			return nil, dbErr("scan document type", err)
		}
		out = append(out, dt)
	}
	return out, rows.Err()
}

func (r *documentTypeRepository) Update(ctx context.Context, dt *entity.DocumentType) error {
	if err := fieldschema.Validate(dt.Fields); err != nil {
		return invalidArgument(err)
	}
	dt.UpdatedAt = time.Now().UTC()
	if dt.Fields == nil {
		dt.Fields = []string{}
	}
	fields, err := jsonArg(dt.Fields)
	if err != nil {
		return err
	}
	keys, err := jsonArg(dt.ExportKeys)
	if err != nil {
		return err
	}
	q := r.client.builder().Update(tableDocumentTypes).
		Set("name", dt.Name).
		Set("description", dt.Description).
		Set("fields", fields).
		Set("export_keys", keys).
		Set("updated_at", dt.UpdatedAt).
		Where(entsql.EQ("id", dt.ID))
	res, err := execQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to update document type", "id", dt.ID, "error", err)
		return dbErr("update document type", err)
	}
	return mustAffect(res, "document type", dt.ID)
}

// Delete removes the type together with its runs and documents.
func (r *documentTypeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q := r.client.builder().Delete(tableDocumentTypes).Where(entsql.EQ("id", id))
	res, err := execQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to delete document type", "id", id, "error", err)
		return dbErr("delete document type", err)
	}
	return mustAffect(res, "document type", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocumentType(s rowScanner) (*entity.DocumentType, error) {
	var (
		dt           entity.DocumentType
		fields, keys []byte
	)
	if err := s.Scan(&dt.ID, &dt.UserID, &dt.Name, &dt.Description, &fields, &keys, &dt.CreatedAt, &dt.UpdatedAt); err != nil {
		return nil, err
	}
	if err := jsonScan(fields, &dt.Fields); err != nil {
		return nil, err
	}
	if err := jsonScan(keys, &dt.ExportKeys); err != nil {
		return nil, err
	}
	return &dt, nil
}
