// Package schema builds and holds the database schema snapshot that grounds
// SQL generation. A snapshot is an immutable value: refresh builds a new one
// and swaps the reference, it never mutates in place.
package schema

import (
	"fmt"
	"time"
)

type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`

	// RowCount is nil when counting failed or was disabled; a count failure
	// never fails the snapshot.
	RowCount *int64 `json:"row_count,omitempty"`
}

type Model struct {
	SchemaName string    `json:"schema_name"`
	Tables     []Table   `json:"tables"`
	BuiltAt    time.Time `json:"built_at"`
}

// Empty reports whether the snapshot has no tables. An empty schema is valid
// but unusable for translation.
func (m Model) Empty() bool {
	return len(m.Tables) == 0
}

func (m Model) TableNames() []string {
	names := make([]string, 0, len(m.Tables))
	for _, table := range m.Tables {
		names = append(names, table.Name)
	}
	return names
}

// IntrospectionError reports a metadata query that failed or returned rows
// missing the expected columns. Step names the introspection phase: tables,
// columns, primary_keys, foreign_keys.
type IntrospectionError struct {
	Step string
	Err  error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("schema introspection failed at %s: %v", e.Step, e.Err)
}

func (e *IntrospectionError) Unwrap() error {
	return e.Err
}
