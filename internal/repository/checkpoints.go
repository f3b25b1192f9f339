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

// CheckpointRepository persists the per-document stage marker used to resume retries.
type CheckpointRepository interface {
	// Get returns nil, nil when no checkpoint exists.
	Get(ctx context.Context, documentID uuid.UUID) (*entity.TaskCheckpoint, error)
	Save(ctx context.Context, cp *entity.TaskCheckpoint) error
	Delete(ctx context.Context, documentID uuid.UUID) error
}

type checkpointRepository struct {
	client *Client
	logger *slog.Logger
}

func NewCheckpointRepository(client *Client, logger *slog.Logger) CheckpointRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &checkpointRepository{client: client, logger: logger}
}

var checkpointColumns = []string{"document_id", "stage", "attempt", "document_type_id", "ocr", "fields", "last_error", "updated_at"}

func (r *checkpointRepository) Get(ctx context.Context, documentID uuid.UUID) (*entity.TaskCheckpoint, error) {
	q := r.client.builder().Select(checkpointColumns...).
		From(entsql.Table(tableCheckpoints)).
		Where(entsql.EQ("document_id", documentID))
	var (
		cp          entity.TaskCheckpoint
		stage       string
		typeID      uuid.NullUUID
		ocr, fields []byte
		lastErr     sql.NullString
	)
	err := queryRowQ(ctx, r.client.db, q).Scan(&cp.DocumentID, &stage, &cp.Attempt, &typeID, &ocr, &fields, &lastErr, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to get checkpoint", "document_id", documentID, "error", err)
		return nil, dbErr("get checkpoint", err)
	}
	cp.Stage = constants.Stage(stage)
	if typeID.Valid {
		id := typeID.UUID
		cp.DocumentTypeID = &id
	}
	if len(ocr) > 0 {
		cp.OCR = &entity.OCRResult{}
		if err := jsonScan(ocr, cp.OCR); err != nil {
			return nil, err
		}
	}
	if err := jsonScan(fields, &cp.Fields); err != nil {
		return nil, err
	}
	cp.LastError = stringPtr(lastErr)
	return &cp, nil
}

// Save upserts the checkpoint keyed by document id.
func (r *checkpointRepository) Save(ctx context.Context, cp *entity.TaskCheckpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	var ocr any
	if cp.OCR != nil {
		v, err := jsonArg(cp.OCR)
		if err != nil {
			return err
		}
		ocr = v
	}
	fields, err := jsonArg(cp.Fields)
	if err != nil {
		return err
	}
	var typeID any
	if cp.DocumentTypeID != nil {
		typeID = *cp.DocumentTypeID
	}
	q := r.client.builder().Insert(tableCheckpoints).
		Columns(checkpointColumns...).
		Values(cp.DocumentID, string(cp.Stage), cp.Attempt, typeID, ocr, fields, nullString(cp.LastError), cp.UpdatedAt).
		OnConflict(
			entsql.ConflictColumns("document_id"),
			entsql.ResolveWithNewValues(),
		)
	if _, err := execQ(ctx, r.client.db, q); err != nil {
		r.logger.Error("failed to save checkpoint", "document_id", cp.DocumentID, "stage", cp.Stage, "error", err)
		return dbErr("save checkpoint", err)
	}
	return nil
}

func (r *checkpointRepository) Delete(ctx context.Context, documentID uuid.UUID) error {
	q := r.client.builder().Delete(tableCheckpoints).Where(entsql.EQ("document_id", documentID))
	if _, err := execQ(ctx, r.client.db, q); err != nil {
		r.logger.Error("failed to delete checkpoint", "document_id", documentID, "error", err)
		return dbErr("delete checkpoint", err)
	}
	return nil
}
