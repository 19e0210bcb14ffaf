// Package viz picks a chart for a result set. Selection is a pure rule
// cascade over column types and row count; nothing here knows how to render.
package viz

import (
	"github.com/askdb/askdb/internal/rowset"
)

type Kind string

const (
	KindBar     Kind = "bar"
	KindLine    Kind = "line"
	KindScatter Kind = "scatter"
	KindPie     Kind = "pie"
	KindTable   Kind = "table"
)

// ChartSpec names the chart kind and which columns feed its axes. It is
// derived from a RowSet and recomputable at any time; only the SQL behind the
// RowSet is ever persisted.
type ChartSpec struct {
	Kind       Kind   `json:"kind"`
	XField     string `json:"x_field,omitempty"`
	YField     string `json:"y_field,omitempty"`
	ColorField string `json:"color_field,omitempty"`
}

// DefaultPieRowLimit caps pie charts at a dozen slices; beyond that they stop
// being readable.
const DefaultPieRowLimit = 12

type Selector struct {
	pieRowLimit int
}

func NewSelector(pieRowLimit int) *Selector {
	if pieRowLimit <= 0 {
		pieRowLimit = DefaultPieRowLimit
	}
	return &Selector{pieRowLimit: pieRowLimit}
}

// Select evaluates the cascade in order; the first matching rule wins.
func (s *Selector) Select(rs rowset.RowSet) ChartSpec {
	if len(rs.Rows) == 0 || len(rs.Columns) == 0 {
		return ChartSpec{Kind: KindTable}
	}

	categorical := rs.ColumnsOfType(rowset.TypeCategorical)
	text := rs.ColumnsOfType(rowset.TypeText)
	numeric := rs.ColumnsOfType(rowset.TypeNumeric)
	temporal := rs.ColumnsOfType(rowset.TypeTemporal)

	// A small labeled breakdown reads best as a pie; text labels qualify
	// alongside categorical ones, and extra temporal columns do not disqualify
	// the shape.
	labels := append(append([]rowset.Column{}, categorical...), text...)
	if len(labels) == 1 && len(numeric) == 1 && len(rs.Rows) <= s.pieRowLimit {
		return ChartSpec{Kind: KindPie, XField: labels[0].Name, YField: numeric[0].Name}
	}

	if len(temporal) == 1 && len(numeric) >= 1 {
		spec := ChartSpec{Kind: KindLine, XField: temporal[0].Name, YField: numeric[0].Name}
		if len(numeric) >= 2 {
			spec.ColorField = numeric[1].Name
		}
		return spec
	}

	if len(categorical) == 1 && len(numeric) == 1 {
		return ChartSpec{Kind: KindBar, XField: categorical[0].Name, YField: numeric[0].Name}
	}

	if len(numeric) == 2 && len(categorical) == 0 && len(temporal) == 0 {
		return ChartSpec{Kind: KindScatter, XField: numeric[0].Name, YField: numeric[1].Name}
	}

	return ChartSpec{Kind: KindTable}
}
