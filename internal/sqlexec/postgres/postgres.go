// Package postgres runs queries over a direct PostgreSQL connection, for
// deployments that do not sit behind an RPC indirection.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/askdb/askdb/internal/sqlexec"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, &sqlexec.ConnError{Err: err}
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
