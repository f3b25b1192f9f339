package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// QueryRepository stores the append-only question/answer log per document.
type QueryRepository interface {
	Create(ctx context.Context, q *entity.DocumentQuery) error
	ListByDocument(ctx context.Context, documentID, userID uuid.UUID) ([]*entity.DocumentQuery, error)
	DeleteByDocument(ctx context.Context, documentID, userID uuid.UUID) (int64, error)
}

type queryRepository struct {
	client *Client
	logger *slog.Logger
}

func NewQueryRepository(client *Client, logger *slog.Logger) QueryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &queryRepository{client: client, logger: logger}
}

var queryColumns = []string{"id", "document_id", "user_id", "question", "answer", "error", "created_at", "updated_at"}

func (r *queryRepository) Create(ctx context.Context, dq *entity.DocumentQuery) error {
	if dq.ID == uuid.Nil {
		dq.ID = uuid.New()
	}
	now := time.Now().UTC()
	dq.CreatedAt, dq.UpdatedAt = now, now
	q := r.client.builder().Insert(tableDocumentQueries).
		Columns(queryColumns...).
		Values(dq.ID, dq.DocumentID, dq.UserID, dq.Question, dq.Answer, nullString(dq.Error), dq.CreatedAt, dq.UpdatedAt)
	if _, err := execQ(ctx, r.client.db, q); err != nil {
		r.logger.Error("failed to create document query", "document_id", dq.DocumentID, "error", err)
		return dbErr("create document query", err)
	}
	return nil
}

func (r *queryRepository) ListByDocument(ctx context.Context, documentID, userID uuid.UUID) ([]*entity.DocumentQuery, error) {
	q := r.client.builder().Select(queryColumns...).
		From(entsql.Table(tableDocumentQueries)).
		Where(entsql.And(
			entsql.EQ("document_id", documentID),
			entsql.EQ("user_id", userID),
		)).
		OrderBy("created_at")
	rows, err := queryQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to list document queries", "document_id", documentID, "error", err)
		return nil, dbErr("list document queries", err)
	}
	defer rows.Close()

	var out []*entity.DocumentQuery
	for rows.Next() {
		var (
			dq     entity.DocumentQuery
			errMsg sql.NullString
		)
		if err := rows.Scan(&dq.ID, &dq.DocumentID, &dq.UserID, &dq.Question, &dq.Answer, &errMsg, &dq.CreatedAt, &dq.UpdatedAt); err != nil {
			return nil, dbErr("scan document query", err)
		}
		dq.Error = stringPtr(errMsg)
		out = append(out, &dq)
	}
	return out, rows.Err()
}

func (r *queryRepository) DeleteByDocument(ctx context.Context, documentID, userID uuid.UUID) (int64, error) {
	q := r.client.builder().Delete(tableDocumentQueries).
		Where(entsql.And(
			entsql.EQ("document_id", documentID),
			entsql.EQ("user_id", userID),
		))
	res, err := execQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to delete document queries", "document_id", documentID, "error", err)
		return 0, dbErr("delete document queries", err)
	}
	return res.RowsAffected()
}
