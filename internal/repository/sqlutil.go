package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// querier is anything ent's builders produce.
type querier interface {
	Query() (string, []any)
}

// conn is satisfied by *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func execQ(ctx context.Context, c conn, q querier) (sql.Result, error) {
	query, args := q.Query()
	return c.ExecContext(ctx, query, args...)
}

func queryQ(ctx context.Context, c conn, q querier) (*sql.Rows, error) {
	query, args := q.Query()
	return c.QueryContext(ctx, query, args...)
}

func queryRowQ(ctx context.Context, c conn, q querier) *sql.Row {
	query, args := q.Query()
	return c.QueryRowContext(ctx, query, args...)
}

// withTx runs fn in a transaction, rolling back on error.
func (c *Client) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// notFound wraps ErrNotFound for a missing entity.
func notFound(entity string, id any) error {
	return common.NewAppError(common.CodeNotFound, fmt.Sprintf("%s %v not found", entity, id), common.ErrNotFound)
}

// dbErr is the repository-level wrap for driver errors.
func dbErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(common.ErrDatabase, err))
}

// mustAffect maps zero affected rows to not-found.
func mustAffect(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

// jsonArg encodes v for a JSON column. Nil maps and slices become SQL NULL.
func jsonArg(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	return string(b), nil
}

// jsonScan decodes a JSON column; NULL leaves dst untouched.
func jsonScan(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func invalidArgument(err error) error {
	return common.NewAppError(common.CodeInvalidArgument, err.Error(), common.ErrInvalidInput)
}
