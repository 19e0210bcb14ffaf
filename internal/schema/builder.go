package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/askdb/askdb/internal/sqlexec"
)

type BuilderConfig struct {
	SchemaName       string
	IncludeRowCounts bool
	Workers          int
}

// Builder introspects information_schema through the same runner that
// executes user queries, so it works identically over a direct connection and
// over the RPC indirection.
type Builder struct {
	runner sqlexec.Runner
	cfg    BuilderConfig
	logger *slog.Logger
}

func NewBuilder(runner sqlexec.Runner, cfg BuilderConfig, logger *slog.Logger) (*Builder, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.SchemaName == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{runner: runner, cfg: cfg, logger: logger}, nil
}

// Build produces a fresh snapshot. Per-table metadata fetches run
// concurrently; there is no ordering dependency between tables, and results
// merge back in table order. Zero tables is a valid snapshot, logged as a
// warning.
func (b *Builder) Build(ctx context.Context) (Model, error) {
	names, err := b.listTables(ctx)
	if err != nil {
		return Model{}, err
	}

	model := Model{
		SchemaName: b.cfg.SchemaName,
		Tables:     make([]Table, len(names)),
		BuiltAt:    time.Now().UTC(),
	}
	if len(names) == 0 {
		b.logger.Warn("schema snapshot has no tables", slog.String("schema", b.cfg.SchemaName))
		model.Tables = []Table{}
		return model, nil
	}

	var (
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, b.cfg.Workers)
		mu        sync.Mutex
		firstErr  error
	)
	for i, name := range names {
		wg.Add(1)
		go func(index int, tableName string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			table, err := b.describeTable(ctx, tableName)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			model.Tables[index] = table
		}(i, name)
	}
	wg.Wait()
	if firstErr != nil {
		return Model{}, firstErr
	}

	return model, nil
}

func (b *Builder) listTables(ctx context.Context) ([]string, error) {
	sqlText := fmt.Sprintf(`
SELECT table_name
FROM information_schema.tables
WHERE table_schema = %s AND table_type = 'BASE TABLE'
ORDER BY table_name`, quoteLiteral(b.cfg.SchemaName))

	result, err := b.runner.Query(ctx, sqlText)
	if err != nil {
		return nil, wrapIntrospection("tables", err)
	}

	names := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		name, ok := stringField(row, "table_name")
		if !ok {
			return nil, &IntrospectionError{Step: "tables", Err: fmt.Errorf("row missing table_name: %v", row)}
		}
		names = append(names, name)
	}
	return names, nil
}

func (b *Builder) describeTable(ctx context.Context, tableName string) (Table, error) {
	table := Table{
		Name:        tableName,
		Columns:     []Column{},
		PrimaryKey:  []string{},
		ForeignKeys: []ForeignKey{},
	}

	columns, err := b.fetchColumns(ctx, tableName)
	if err != nil {
		return Table{}, err
	}
	table.Columns = columns

	primaryKey, err := b.fetchPrimaryKey(ctx, tableName)
	if err != nil {
		return Table{}, err
	}
	table.PrimaryKey = primaryKey

	foreignKeys, err := b.fetchForeignKeys(ctx, tableName)
	if err != nil {
		return Table{}, err
	}
	table.ForeignKeys = foreignKeys

	if b.cfg.IncludeRowCounts {
		table.RowCount = b.fetchRowCount(ctx, tableName)
	}
	return table, nil
}

func (b *Builder) fetchColumns(ctx context.Context, tableName string) ([]Column, error) {
	sqlText := fmt.Sprintf(`
SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = %s AND table_name = %s
ORDER BY ordinal_position`, quoteLiteral(b.cfg.SchemaName), quoteLiteral(tableName))

	result, err := b.runner.Query(ctx, sqlText)
	if err != nil {
		return nil, wrapIntrospection("columns", err)
	}

	columns := make([]Column, 0, len(result.Rows))
	for _, row := range result.Rows {
		name, ok := stringField(row, "column_name")
		if !ok {
			return nil, &IntrospectionError{Step: "columns", Err: fmt.Errorf("row missing column_name: %v", row)}
		}
		dataType, _ := stringField(row, "data_type")
		nullable, _ := stringField(row, "is_nullable")
		columns = append(columns, Column{
			Name:     name,
			DataType: dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	return columns, nil
}

func (b *Builder) fetchPrimaryKey(ctx context.Context, tableName string) ([]string, error) {
	sqlText := fmt.Sprintf(`
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = %s
  AND tc.table_name = %s
ORDER BY kcu.ordinal_position`, quoteLiteral(b.cfg.SchemaName), quoteLiteral(tableName))

	result, err := b.runner.Query(ctx, sqlText)
	if err != nil {
		return nil, wrapIntrospection("primary_keys", err)
	}

	columns := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		name, ok := stringField(row, "column_name")
		if !ok {
			return nil, &IntrospectionError{Step: "primary_keys", Err: fmt.Errorf("row missing column_name: %v", row)}
		}
		columns = append(columns, name)
	}
	return columns, nil
}

func (b *Builder) fetchForeignKeys(ctx context.Context, tableName string) ([]ForeignKey, error) {
	sqlText := fmt.Sprintf(`
SELECT kcu.column_name, ccu.table_name AS referenced_table, ccu.column_name AS referenced_column
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name
 AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND tc.table_schema = %s
  AND tc.table_name = %s`, quoteLiteral(b.cfg.SchemaName), quoteLiteral(tableName))

	result, err := b.runner.Query(ctx, sqlText)
	if err != nil {
		return nil, wrapIntrospection("foreign_keys", err)
	}

	keys := make([]ForeignKey, 0, len(result.Rows))
	for _, row := range result.Rows {
		column, ok := stringField(row, "column_name")
		if !ok {
			return nil, &IntrospectionError{Step: "foreign_keys", Err: fmt.Errorf("row missing column_name: %v", row)}
		}
		refTable, _ := stringField(row, "referenced_table")
		refColumn, _ := stringField(row, "referenced_column")
		keys = append(keys, ForeignKey{
			Column:           column,
			ReferencedTable:  refTable,
			ReferencedColumn: refColumn,
		})
	}
	return keys, nil
}

// fetchRowCount is best-effort: any failure yields a nil count, never a
// snapshot error.
func (b *Builder) fetchRowCount(ctx context.Context, tableName string) *int64 {
	sqlText := fmt.Sprintf(`SELECT COUNT(*) AS row_count FROM %s.%s`,
		quoteIdent(b.cfg.SchemaName), quoteIdent(tableName))

	result, err := b.runner.Query(ctx, sqlText)
	if err != nil {
		b.logger.Debug("row count failed",
			slog.String("table", tableName),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(result.Rows) == 0 {
		return nil
	}
	count, ok := int64Field(result.Rows[0], "row_count")
	if !ok {
		return nil
	}
	return &count
}

// wrapIntrospection keeps connection failures distinguishable from malformed
// metadata.
func wrapIntrospection(step string, err error) error {
	var connErr *sqlexec.ConnError
	if errors.As(err, &connErr) {
		return err
	}
	return &IntrospectionError{Step: step, Err: err}
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func stringField(row map[string]any, key string) (string, bool) {
	value, ok := row[key]
	if !ok || value == nil {
		return "", false
	}
	text, ok := value.(string)
	if !ok {
		return "", false
	}
	return text, true
}

func int64Field(row map[string]any, key string) (int64, bool) {
	value, ok := row[key]
	if !ok || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		parsed, err := v.Int64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
