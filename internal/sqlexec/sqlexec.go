// Package sqlexec defines the execution boundary between generated SQL and
// the database backends. Every backend yields the same shape: ordered column
// names plus rows as column-to-value maps.
package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Result is the raw outcome of a query before any type inference happens.
// Columns preserves the select-list order; Rows values are backend-native
// (numbers, strings, times, nil).
type Result struct {
	Columns   []string
	Rows      []map[string]any
	Truncated bool
}

// Runner executes read queries against one backend.
type Runner interface {
	Query(ctx context.Context, sqlText string) (Result, error)
	Ping(ctx context.Context) error
}

// ConnError wraps failures to reach the backend at all: the query never ran.
type ConnError struct {
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("database connection failed: %v", e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// QueryError reports a query the backend received and rejected. Message is
// the backend's own text, passed through verbatim so the user sees what the
// database saw.
type QueryError struct {
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query execution failed: %s", e.Message)
}

// QueryFailure classifies an error from a backend query call. A hit deadline
// is an execution failure like any other and keeps the original message; a
// canceled context passes through untouched so callers can tell the client
// went away.
func QueryFailure(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return &QueryError{Message: err.Error()}
}

// Normalize trims whitespace and trailing semicolons. Backends reached
// through an RPC wrapper choke on the trailing terminator, so it is stripped
// once here rather than per backend.
func Normalize(sqlText string) string {
	sqlText = strings.TrimSpace(sqlText)
	for strings.HasSuffix(sqlText, ";") {
		sqlText = strings.TrimSpace(strings.TrimSuffix(sqlText, ";"))
	}
	return sqlText
}

// CollectRows drains a database/sql cursor into a Result, keeping at most
// limit rows. limit <= 0 means unbounded. One extra row is read to detect
// truncation without buffering the full result.
func CollectRows(rows *sql.Rows, limit int) (Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read result columns: %w", err)
	}

	result := Result{Columns: columns, Rows: []map[string]any{}}
	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if limit > 0 && len(result.Rows) == limit {
			result.Truncated = true
			break
		}
		if err := rows.Scan(pointers...); err != nil {
			return Result{}, fmt.Errorf("scan result row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return result, nil
}

// normalizeValue flattens driver-specific scan types into the small set the
// rest of the pipeline understands.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v
	default:
		return value
	}
}
