// Package export serializes a RowSet into downloadable formats. CSV keeps
// every value as text; parquet keeps numeric columns as doubles and
// everything else as strings.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/rowset"
)

const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// ContentType returns the MIME type for a supported format, or an error for
// anything else.
func ContentType(format string) (string, error) {
	switch format {
	case FormatCSV:
		return "text/csv", nil
	case FormatParquet:
		return "application/vnd.apache.parquet", nil
	default:
		return "", fmt.Errorf("unsupported export format: %q", format)
	}
}

// Write serializes the RowSet in the requested format.
func Write(w io.Writer, rs rowset.RowSet, format string) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, rs)
	case FormatParquet:
		return WriteParquet(w, rs)
	default:
		return fmt.Errorf("unsupported export format: %q", format)
	}
}

func WriteCSV(w io.Writer, rs rowset.RowSet) error {
	writer := csv.NewWriter(w)

	header := make([]string, 0, len(rs.Columns))
	for _, column := range rs.Columns {
		header = append(header, column.Name)
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, len(rs.Columns))
	for _, row := range rs.Rows {
		for i, column := range rs.Columns {
			record[i] = formatValue(row[column.Name])
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteParquet writes the RowSet with a schema derived from the inferred
// column types: numeric columns become optional doubles, everything else an
// optional string.
func WriteParquet(w io.Writer, rs rowset.RowSet) error {
	if len(rs.Columns) == 0 {
		return fmt.Errorf("result has no columns to export")
	}

	group := parquet.Group{}
	for _, column := range rs.Columns {
		if column.Type == rowset.TypeNumeric {
			group[column.Name] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		} else {
			group[column.Name] = parquet.Optional(parquet.String())
		}
	}
	schema := parquet.NewSchema("rowset", group)

	writer := parquet.NewGenericWriter[map[string]any](w, schema)
	rows := make([]map[string]any, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		out := make(map[string]any, len(rs.Columns))
		for _, column := range rs.Columns {
			value, ok := row[column.Name]
			if !ok || value == nil {
				continue
			}
			if column.Type == rowset.TypeNumeric {
				if number, numOK := rowset.Number(value); numOK {
					out[column.Name] = number
					continue
				}
			}
			out[column.Name] = formatValue(value)
		}
		rows = append(rows, out)
	}
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatFloat(value float64) string {
	// Integral floats print without a trailing .000000.
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d", int64(value))
	}
	return fmt.Sprintf("%g", value)
}
