package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/askdb/askdb/internal/sqlexec"
)

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestQueryReturnsRowsInOrder(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunner(db, 100)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT country, COUNT(*) AS total FROM customers GROUP BY country`)).
		WillReturnRows(sqlmock.NewRows([]string{"country", "total"}).
			AddRow("DE", int64(42)).
			AddRow("AT", int64(7)))

	result, err := runner.Query(context.Background(), "SELECT country, COUNT(*) AS total FROM customers GROUP BY country;")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "country" || result.Columns[1] != "total" {
		t.Fatalf("columns = %v", result.Columns)
	}
	if len(result.Rows) != 2 || result.Rows[0]["total"] != int64(42) {
		t.Fatalf("rows = %+v", result.Rows)
	}
	assertSQLMock(t, mock)
}

func TestQueryWrapsBackendErrorVerbatim(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunner(db, 100)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT nope FROM orders`)).
		WillReturnError(fmt.Errorf(`ERROR: column "nope" does not exist (SQLSTATE 42703)`))

	_, err := runner.Query(context.Background(), "SELECT nope FROM orders")
	var queryErr *sqlexec.QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("error = %v, want QueryError", err)
	}
	if queryErr.Message != `ERROR: column "nope" does not exist (SQLSTATE 42703)` {
		t.Fatalf("message = %q", queryErr.Message)
	}
	assertSQLMock(t, mock)
}

func TestQueryHonorsContextCancellation(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunner(db, 100)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1`)).WillReturnError(context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.Query(ctx, "SELECT 1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestQueryTimeoutIsExecutionFailure(t *testing.T) {
	db, _ := newSQLMock(t)
	runner := NewRunner(db, 100)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := runner.Query(ctx, "SELECT pg_sleep(60)")
	var queryErr *sqlexec.QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("error = %v, want QueryError for a hit deadline", err)
	}
	if !strings.Contains(queryErr.Message, "deadline") {
		t.Fatalf("message = %q, want the deadline text preserved", queryErr.Message)
	}
}

func TestPingWrapsConnError(t *testing.T) {
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	runner := NewRunner(db, 100)

	mock.ExpectPing().WillReturnError(fmt.Errorf("connection refused"))

	err = runner.Ping(context.Background())
	var connErr *sqlexec.ConnError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want ConnError", err)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), DBConfig{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
