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
)

type TriggerRepository interface {
	Create(ctx context.Context, t *entity.Trigger) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Trigger, error)
	// ListEnabled returns enabled triggers that have a folder configured.
	ListEnabled(ctx context.Context) ([]*entity.Trigger, error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	// AddProcessedFiles merges names into the processed set in one transaction. The set only grows.
	AddProcessedFiles(ctx context.Context, id uuid.UUID, names []string) ([]string, error)
}

type triggerRepository struct {
	client *Client
	logger *slog.Logger
}

func NewTriggerRepository(client *Client, logger *slog.Logger) TriggerRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &triggerRepository{client: client, logger: logger}
}

var triggerColumns = []string{"id", "user_id", "enabled", "folder", "processed_files", "created_at", "updated_at"}

func (r *triggerRepository) Create(ctx context.Context, t *entity.Trigger) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.ProcessedFiles == nil {
		t.ProcessedFiles = []string{}
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	files, err := jsonArg(t.ProcessedFiles)
	if err != nil {
		return err
	}
	q := r.client.builder().Insert(tableTriggers).
		Columns(triggerColumns...).
		Values(t.ID, t.UserID, t.Enabled, t.Folder, files, t.CreatedAt, t.UpdatedAt)
	if _, err := execQ(ctx, r.client.db, q); err != nil {
		r.logger.Error("failed to create trigger", "folder", t.Folder, "error", err)
		return dbErr("create trigger", err)
	}
	return nil
}

func (r *triggerRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Trigger, error) {
	return getTrigger(ctx, r.client.db, r.client, id)
}

func getTrigger(ctx context.Context, c conn, client *Client, id uuid.UUID) (*entity.Trigger, error) {
	q := client.builder().Select(triggerColumns...).
		From(entsql.Table(tableTriggers)).
		Where(entsql.EQ("id", id))
	t, err := scanTrigger(queryRowQ(ctx, c, q))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("trigger", id)
	}
	if err != nil {
		return nil, dbErr("get trigger", err)
	}
	return t, nil
}

func (r *triggerRepository) ListEnabled(ctx context.Context) ([]*entity.Trigger, error) {
	q := r.client.builder().Select(triggerColumns...).
		From(entsql.Table(tableTriggers)).
		Where(entsql.And(
			entsql.EQ("enabled", true),
			entsql.NEQ("folder", ""),
		)).
		OrderBy("created_at")
	rows, err := queryQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to list enabled triggers", "error", err)
		return nil, dbErr("list triggers", err)
	}
	defer rows.Close()

	var out []*entity.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, dbErr("scan trigger", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *triggerRepository) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	q := r.client.builder().Update(tableTriggers).
		Set("enabled", enabled).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id))
	res, err := execQ(ctx, r.client.db, q)
	if err != nil {
		r.logger.Error("failed to update trigger", "id", id, "error", err)
		return dbErr("update trigger", err)
	}
	return mustAffect(res, "trigger", id)
}

func (r *triggerRepository) AddProcessedFiles(ctx context.Context, id uuid.UUID, names []string) ([]string, error) {
	var merged []string
	err := r.client.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTrigger(ctx, tx, r.client, id)
		if err != nil {
			return err
		}
		merged = mergeNames(t.ProcessedFiles, names)
		files, err := jsonArg(merged)
		if err != nil {
			return err
		}
		q := r.client.builder().Update(tableTriggers).
			Set("processed_files", files).
			Set("updated_at", time.Now().UTC()).
			Where(entsql.EQ("id", id))
		res, err := execQ(ctx, tx, q)
		if err != nil {
			return dbErr("save processed files", err)
		}
		return mustAffect(res, "trigger", id)
	})
	if err != nil {
		r.logger.Error("failed to persist processed files", "id", id, "count", len(names), "error", err)
		return nil, err
	}
	return merged, nil
}

// mergeNames appends new names to existing ones, keeping first-seen order without duplicates.
func mergeNames(existing, add []string) []string {
	out := make([]string, 0, len(existing)+len(add))
	seen := make(map[string]struct{}, len(existing)+len(add))
	for _, list := range [][]string{existing, add} {
		for _, n := range list {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

func scanTrigger(s rowScanner) (*entity.Trigger, error) {
	var (
		t     entity.Trigger
		files []byte
	)
	if err := s.Scan(&t.ID, &t.UserID, &t.Enabled, &t.Folder, &files, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := jsonScan(files, &t.ProcessedFiles); err != nil {
		return nil, err
	}
	if t.ProcessedFiles == nil {
		t.ProcessedFiles = []string{}
	}
	return &t, nil
}
