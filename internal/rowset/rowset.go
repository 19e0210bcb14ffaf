// Package rowset normalizes raw query results into a typed tabular value.
// Column types are inferred by sampling, not declared by the backend: the
// execution indirection returns untyped JSON, so types have to be earned.
package rowset

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/sqlexec"
)

type Type string

const (
	TypeNumeric     Type = "numeric"
	TypeTemporal    Type = "temporal"
	TypeCategorical Type = "categorical"
	TypeText        Type = "text"
)

type Column struct {
	Name string `json:"name"`
	Type Type   `json:"inferred_type"`
}

// RowSet is a query result with per-column inferred semantic types. It is
// built once per execution and never mutated afterwards.
type RowSet struct {
	Columns []Column         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// sampleLimit bounds how many non-null values per column feed inference.
// Beyond a couple hundred rows the verdict does not change.
const sampleLimit = 200

// categoricalFloor is the minimum distinct-count budget for a categorical
// column; wider results get a proportional budget of half the sampled rows.
const categoricalFloor = 20

// Build infers a semantic type for every column of the raw result. Ordering
// follows the result's column order.
func Build(result sqlexec.Result) RowSet {
	columns := make([]Column, 0, len(result.Columns))
	for _, name := range result.Columns {
		columns = append(columns, Column{
			Name: name,
			Type: inferType(name, result.Rows),
		})
	}
	rows := result.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	return RowSet{Columns: columns, Rows: rows}
}

// ColumnsOfType returns the columns with the given inferred type, preserving
// order.
func (rs RowSet) ColumnsOfType(t Type) []Column {
	var out []Column
	for _, column := range rs.Columns {
		if column.Type == t {
			out = append(out, column)
		}
	}
	return out
}

func inferType(name string, rows []map[string]any) Type {
	samples := make([]any, 0, sampleLimit)
	for _, row := range rows {
		if len(samples) == sampleLimit {
			break
		}
		value, ok := row[name]
		if !ok || value == nil {
			continue
		}
		samples = append(samples, value)
	}
	if len(samples) == 0 {
		return TypeText
	}

	allNumeric := true
	allTemporal := true
	for _, value := range samples {
		if allNumeric {
			if _, ok := Number(value); !ok {
				allNumeric = false
			}
		}
		if allTemporal && !isTemporal(value) {
			allTemporal = false
		}
		if !allNumeric && !allTemporal {
			break
		}
	}

	distinct := distinctCount(samples)
	if allNumeric {
		// Year columns read as labels, not quantities, when the domain is
		// small.
		if looksLikeYear(name) && distinct < categoricalFloor {
			return TypeCategorical
		}
		return TypeNumeric
	}
	if allTemporal {
		return TypeTemporal
	}

	budget := categoricalFloor
	if half := len(samples) / 2; half > budget {
		budget = half
	}
	if distinct <= budget {
		return TypeCategorical
	}
	return TypeText
}

// Number reports whether the value is numeric and returns it as float64.
// Numeric strings count: the execution indirection serializes bigints and
// decimals as strings.
func Number(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		parsed, err := v.Float64()
		return parsed, err == nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

var temporalLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func isTemporal(value any) bool {
	switch v := value.(type) {
	case time.Time:
		return true
	case string:
		trimmed := strings.TrimSpace(v)
		for _, layout := range temporalLayouts {
			if _, err := time.Parse(layout, trimmed); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func looksLikeYear(name string) bool {
	return strings.Contains(strings.ToLower(name), "year")
}

func distinctCount(samples []any) int {
	seen := map[string]struct{}{}
	for _, value := range samples {
		seen[fmt.Sprintf("%v", value)] = struct{}{}
	}
	return len(seen)
}
