package nl2sql

import (
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/schema"
)

// CompilePrompt renders the question plus the full schema snapshot into the
// model prompt. Every table and every column of the snapshot is included;
// the model cannot reference what it never saw.
func CompilePrompt(question string, model schema.Model) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is required")
	}
	if model.Empty() {
		return "", ErrEmptySchema
	}

	var b strings.Builder
	b.WriteString("You translate analytics questions into a single PostgreSQL SELECT statement.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use only the tables and columns listed below.\n")
	b.WriteString("- Generate exactly one read-only SELECT statement (WITH clauses are allowed).\n")
	b.WriteString("- Never generate INSERT, UPDATE, DELETE, or DDL of any kind.\n")
	b.WriteString("- Return only SQL, no markdown and no explanation.\n\n")

	b.WriteString(fmt.Sprintf("Schema %q:\n\n", model.SchemaName))
	for _, table := range model.Tables {
		b.WriteString(fmt.Sprintf("Table %s", table.Name))
		if table.RowCount != nil {
			b.WriteString(fmt.Sprintf(" (~%d rows)", *table.RowCount))
		}
		b.WriteString("\n")
		for _, column := range table.Columns {
			nullability := "not null"
			if column.Nullable {
				nullability = "nullable"
			}
			b.WriteString(fmt.Sprintf("  - %s %s %s\n", column.Name, column.DataType, nullability))
		}
		if len(table.PrimaryKey) > 0 {
			b.WriteString(fmt.Sprintf("  primary key: %s\n", strings.Join(table.PrimaryKey, ", ")))
		}
		for _, fk := range table.ForeignKeys {
			b.WriteString(fmt.Sprintf("  foreign key: %s -> %s(%s)\n", fk.Column, fk.ReferencedTable, fk.ReferencedColumn))
		}
		b.WriteString("\n")
	}

	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n")
	return b.String(), nil
}
