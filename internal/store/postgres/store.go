// Package postgres persists saved analyses in a saved_analysis table, for
// deployments where analyses must survive the process.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/askdb/askdb/internal/store"
)

type DBConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store db: %w", err)
	}
	return db, nil
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Save(ctx context.Context, name, question, sqlText string) (store.Analysis, error) {
	if err := store.ValidateName(name); err != nil {
		return store.Analysis{}, err
	}

	analysis := store.Analysis{Name: name, Question: question, SQL: sqlText}
	err := s.db.QueryRowContext(ctx, `
INSERT INTO saved_analysis (name, question, sql_text)
VALUES ($1, $2, $3)
ON CONFLICT (name)
DO UPDATE SET question = EXCLUDED.question, sql_text = EXCLUDED.sql_text, updated_at = now()
RETURNING created_at, updated_at`, name, question, sqlText).
		Scan(&analysis.CreatedAt, &analysis.UpdatedAt)
	if err != nil {
		return store.Analysis{}, fmt.Errorf("save analysis %q: %w", name, err)
	}
	return analysis, nil
}

func (s *Store) List(ctx context.Context) ([]store.Analysis, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name, question, sql_text, created_at, updated_at
FROM saved_analysis
ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	analyses := []store.Analysis{}
	for rows.Next() {
		var analysis store.Analysis
		if err := rows.Scan(&analysis.Name, &analysis.Question, &analysis.SQL, &analysis.CreatedAt, &analysis.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis row: %w", err)
		}
		analyses = append(analyses, analysis)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return analyses, nil
}

func (s *Store) Load(ctx context.Context, name string) (store.Analysis, error) {
	var analysis store.Analysis
	err := s.db.QueryRowContext(ctx, `
SELECT name, question, sql_text, created_at, updated_at
FROM saved_analysis
WHERE name = $1`, name).
		Scan(&analysis.Name, &analysis.Question, &analysis.SQL, &analysis.CreatedAt, &analysis.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Analysis{}, store.ErrNotFound
	}
	if err != nil {
		return store.Analysis{}, fmt.Errorf("load analysis %q: %w", name, err)
	}
	return analysis, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM saved_analysis
WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete analysis %q: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete analysis %q: %w", name, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
