package viz

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/askdb/askdb/internal/rowset"
	"github.com/askdb/askdb/internal/sqlexec"
)

func buildRowSet(columns []string, rows []map[string]any) rowset.RowSet {
	return rowset.Build(sqlexec.Result{Columns: columns, Rows: rows})
}

func breakdownRows(n int) []map[string]any {
	rows := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]any{
			"category": fmt.Sprintf("cat-%d", i),
			"total":    json.Number(fmt.Sprintf("%d", (i+1)*10)),
		})
	}
	return rows
}

func TestSelectEmptyRowSetIsTable(t *testing.T) {
	selector := NewSelector(DefaultPieRowLimit)

	spec := selector.Select(buildRowSet([]string{"a", "b"}, nil))
	if spec.Kind != KindTable {
		t.Fatalf("kind = %q, want table for zero rows", spec.Kind)
	}

	spec = selector.Select(buildRowSet(nil, nil))
	if spec.Kind != KindTable {
		t.Fatalf("kind = %q, want table for zero columns", spec.Kind)
	}
}

func TestSelectSmallBreakdownIsPie(t *testing.T) {
	selector := NewSelector(DefaultPieRowLimit)

	spec := selector.Select(buildRowSet([]string{"category", "total"}, breakdownRows(3)))
	if spec.Kind != KindPie {
		t.Fatalf("kind = %q, want pie", spec.Kind)
	}
	if spec.XField != "category" || spec.YField != "total" {
		t.Fatalf("fields = %q / %q", spec.XField, spec.YField)
	}
}

func TestSelectWideBreakdownIsBar(t *testing.T) {
	selector := NewSelector(DefaultPieRowLimit)

	spec := selector.Select(buildRowSet([]string{"category", "total"}, breakdownRows(20)))
	if spec.Kind != KindBar {
		t.Fatalf("kind = %q, want bar beyond the pie row limit", spec.Kind)
	}
	if spec.XField != "category" || spec.YField != "total" {
		t.Fatalf("fields = %q / %q", spec.XField, spec.YField)
	}
}

func TestSelectSmallBreakdownWithTemporalColumnIsStillPie(t *testing.T) {
	selector := NewSelector(DefaultPieRowLimit)

	rows := []map[string]any{
		{"region": "north", "total": json.Number("120"), "day": "2025-01-01"},
		{"region": "south", "total": json.Number("80"), "day": "2025-01-02"},
		{"region": "east", "total": json.Number("40"), "day": "2025-01-03"},
	}
	spec := selector.Select(buildRowSet([]string{"region", "total", "day"}, rows))
	if spec.Kind != KindPie {
		t.Fatalf("kind = %q, want pie even with a temporal column present", spec.Kind)
	}
	if spec.XField != "region" || spec.YField != "total" {
		t.Fatalf("fields = %q / %q", spec.XField, spec.YField)
	}
}

func TestSelectPieRowLimitIsConfigurable(t *testing.T) {
	selector := NewSelector(5)

	if spec := selector.Select(buildRowSet([]string{"category", "total"}, breakdownRows(5))); spec.Kind != KindPie {
		t.Fatalf("kind = %q, want pie at the limit", spec.Kind)
	}
	if spec := selector.Select(buildRowSet([]string{"category", "total"}, breakdownRows(6))); spec.Kind != KindBar {
		t.Fatalf("kind = %q, want bar past the limit", spec.Kind)
	}
}

func TestSelectTemporalPlusNumericIsLine(t *testing.T) {
	selector := NewSelector(DefaultPieRowLimit)

	rows := []map[string]any{
		{"day": "2025-01-01", "revenue": json.Number("100"), "units": json.Number("3")},
		{"day": "2025-01-02", "revenue": json.Number("140"), "units": json.Number("5")},
	}
	spec := selector.Select(buildRowSet([]string{"day", "revenue", "units"}, rows))
	if spec.Kind != KindLine {
		t.Fatalf("kind = %q, want line", spec.Kind)
	}
	if spec.XField != "day" || spec.YField != "revenue" {
		t.Fatalf("fields = %q / %q", spec.XField, spec.YField)
	}
	if spec.ColorField != "units" {
		t.Fatalf("color = %q, want second numeric column name", spec.ColorField)
	}
}

func TestSelectSingleNumericSeriesLineHasNoColor(t *testing.T) {
	selector := NewSelector(DefaultPieRowLimit)

	rows := []map[string]any{
		{"day": "2025-01-01", "revenue": json.Number("100")},
		{"day": "2025-01-02", "revenue": json.Number("140")},
	}
	// Two columns with ≤12 rows would be a pie if the label column were
	// categorical; the temporal rule must still win over nothing here since
	// pie requires a categorical or text label.
	spec := selector.Select(buildRowSet([]string{"day", "revenue"}, rows))
	if spec.Kind != KindLine {
		t.Fatalf("kind = %q, want line", spec.Kind)
	}
	if spec.ColorField != "" {
		t.Fatalf("color = %q, want empty", spec.ColorField)
	}
}

func TestSelectTwoNumericColumnsIsScatter(t *testing.T) {
	selector := NewSelector(DefaultPieRowLimit)

	rows := make([]map[string]any, 0, 30)
	for i := 0; i < 30; i++ {
		rows = append(rows, map[string]any{
			"height": json.Number(fmt.Sprintf("%d", 150+i)),
			"weight": json.Number(fmt.Sprintf("%d", 50+i)),
		})
	}
	spec := selector.Select(buildRowSet([]string{"height", "weight"}, rows))
	if spec.Kind != KindScatter {
		t.Fatalf("kind = %q, want scatter", spec.Kind)
	}
	if spec.XField != "height" || spec.YField != "weight" {
		t.Fatalf("fields = %q / %q", spec.XField, spec.YField)
	}
}

func TestSelectFallsBackToTable(t *testing.T) {
	selector := NewSelector(DefaultPieRowLimit)

	rows := make([]map[string]any, 0, 80)
	for i := 0; i < 80; i++ {
		rows = append(rows, map[string]any{
			"email":   fmt.Sprintf("user%d@example.com", i),
			"country": []string{"DE", "AT", "CH"}[i%3],
			"note":    fmt.Sprintf("note text %d with enough variety to stay text-%d", i, i*i),
		})
	}
	spec := selector.Select(buildRowSet([]string{"email", "country", "note"}, rows))
	if spec.Kind != KindTable {
		t.Fatalf("kind = %q, want table", spec.Kind)
	}
}
