// Package duckdb runs queries against an embedded DuckDB database. It is the
// zero-infrastructure backend: a file path or nothing at all.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/askdb/askdb/internal/sqlexec"
)

// Open opens the database at path. An empty path opens an in-memory database
// that lives for the duration of the process.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return db, nil
}

type Runner struct {
	db       *sql.DB
	rowLimit int
}

func NewRunner(db *sql.DB, rowLimit int) *Runner {
	return &Runner{db: db, rowLimit: rowLimit}
}

func (r *Runner) Query(ctx context.Context, sqlText string) (sqlexec.Result, error) {
	rows, err := r.db.QueryContext(ctx, sqlexec.Normalize(sqlText))
	if err != nil {
		return sqlexec.Result{}, sqlexec.QueryFailure(ctx, err)
	}
	defer func() { _ = rows.Close() }()

	result, err := sqlexec.CollectRows(rows, r.rowLimit)
	if err != nil {
		return sqlexec.Result{}, sqlexec.QueryFailure(ctx, err)
	}
	return result, nil
}

func (r *Runner) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return &sqlexec.ConnError{Err: err}
	}
	return nil
}
