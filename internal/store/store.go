package store

import (
	"context"
	"database/sql"
	"strings"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so store methods can run
// inside a caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// ListParams controls paging and free-text search on list queries.
type ListParams struct {
	Page   int
	Limit  int
	Search string
	All    bool
}

func (p ListParams) normalized() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	p.Search = strings.TrimSpace(p.Search)
	return p
}

func (p ListParams) offset() int {
	return (p.Page - 1) * p.Limit
}

// Page is one page of a list query.
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
