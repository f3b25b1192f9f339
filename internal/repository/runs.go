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

type RunRepository interface {
	Create(ctx context.Context, run *entity.ProcessingRun) error
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessingRun, error)
	// GetWithDocuments loads the run and its documents in creation order.
	GetWithDocuments(ctx context.Context, id uuid.UUID) (*entity.ProcessingRun, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.ProcessingRun, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.RunStatus) error
	// Delete removes the run; its documents, queries and checkpoints cascade.
	Delete(ctx context.Context, id uuid.UUID) error
}

type runRepository struct {
	client *Client
	logger *slog.Logger
}

func NewRunRepository(client *Client, logger *slog.Logger) RunRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &runRepository{client: client, logger: logger}
}

var runColumns = []string{"id", "document_type_id", "user_id", "source", "trigger_name", "status", "created_at", "updated_at"}

func (r *runRepository) Create(ctx context.Context, run *entity.ProcessingRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Source == "" {
		run.Source = constants.SourceManual
	}
	if run.Status == "" {
		run.Status = constants.RunProcessing
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now
	q := r.client.builder().Insert(tableRuns).
		Columns(runColumns...).
		Values(run.ID, run.DocumentTypeID, run.UserID, string(run.Source), nullString(run.TriggerName), string(run.Status), run.CreatedAt, run.UpdatedAt)
	if _, err := execQ(ctx, r.client.db, q); err != nil {
		r.logger.Error("failed to create processing run", "document_type_id", run.DocumentTypeID, "error", err)
		return dbErr("create processing run", err)
	}
	return nil
}

func (r *runRepository) Get(ctx context.Context, id uuid.UUID) (*entity.ProcessingRun, error) {
	q := r.client.builder().Select(runColumns...).
		From(entsql.Table(tableRuns)).
		Where(entsql.EQ("id", id))
	run, err := scanRun(queryRowQ(ctx, r.client.db, q))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("processing run", id)
	}
	if err != nil {
		r.logger.Error("failed to get processing run", "id", id, "error", err)
		return nil, dbErr("get processing run", err)
	}
	return run, nil
}

func (r *runRepository) GetWithDocuments(ctx context.Context, id uuid.UUID) (*entity.ProcessingRun, error) {
	run, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := listDocumentsByRun(ctx, r.client, id)
	if err != nil {
		r.logger.Error("failed to load run documents", "id", id, "error", err)
		return nil, err
	}
	run.Documents = docs
	return run, nil
}

func (r *runRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.ProcessingRun, error) {
	q := r.client.builder().Select(runColumns...).
		From(entsql.Table(tableRuns)).
		Where(entsql.EQ("user_id", userID)).
		OrderBy(entsql.Desc("created_at"))
	rows, err := queryQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to list processing runs", "user_id", userID, "error", err)
		return nil, dbErr("list processing runs", err)
	}
	defer rows.Close()

	var out []*entity.ProcessingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, dbErr("scan processing run", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *runRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.RunStatus) error {
	q := r.client.builder().Update(tableRuns).
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id))
	res, err := execQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to update run status", "id", id, "status", status, "error", err)
		return dbErr("update run status", err)
	}
	return mustAffect(res, "processing run", id)
}

func (r *runRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q := r.client.builder().Delete(tableRuns).Where(entsql.EQ("id", id))
	res, err := execQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to delete processing run", "id", id, "error", err)
		return dbErr("delete processing run", err)
	}
	return mustAffect(res, "processing run", id)
}

func scanRun(s rowScanner) (*entity.ProcessingRun, error) {
	var (
		run            entity.ProcessingRun
		source, status string
		trigger        sql.NullString
	)
	if err := s.Scan(&run.ID, &run.DocumentTypeID, &run.UserID, &source, &trigger, &status, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Source = constants.RunSource(source)
	run.Status = constants.RunStatus(status)
	run.TriggerName = stringPtr(trigger)
	return &run, nil
}
