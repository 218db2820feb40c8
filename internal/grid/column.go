// Package grid implements the in-memory row grids behind every dashboard
// panel: a typed column schema, an unfiltered row snapshot, and per-column
// filters composed with AND semantics. Filtering never mutates the snapshot;
// the visible set is computed on demand.
package grid

import "time"

// Kind is the filterable type of a column. Time columns sort and render but
// take no filters; windowing happens at the query layer.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindTime   Kind = "time"
)

// Column describes one grid column: identity, kind, display unit, and the
// accessor pulling the cell value out of a row. Only the accessor matching
// Kind is consulted.
type Column[T any] struct {
	Name  string
	Title string
	Kind  Kind
	// Unit labels numeric columns for rendering ("ms", "KB", "%", "rows").
	Unit string

	String func(T) string
	Number func(T) float64
	Bool   func(T) bool
	Time   func(T) time.Time
}

// ColumnSpec is the type-erased column description served to renderers and
// the API.
type ColumnSpec struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Kind  Kind   `json:"kind"`
	Unit  string `json:"unit,omitempty"`
}

// cell returns the raw value for the row under this column's kind.
func (c Column[T]) cell(row T) any {
	switch c.Kind {
	case KindString:
		if c.String != nil {
			return c.String(row)
		}
		return ""
	case KindNumber:
		if c.Number != nil {
			return c.Number(row)
		}
		return float64(0)
	case KindBool:
		if c.Bool != nil {
			return c.Bool(row)
		}
		return false
	case KindTime:
		if c.Time != nil {
			return c.Time(row)
		}
		return time.Time{}
	}
	return nil
}
