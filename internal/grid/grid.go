// grid.go - The generic grid: snapshot, filter map, computed visible set.
package grid

import (
	"fmt"
	"sort"
)

// Grid owns one panel table: the column schema, the unfiltered snapshot from
// the latest refresh, and the active per-column filters. A Grid has a single
// owner; callers synchronize access (panels hold the lock).
type Grid[T any] struct {
	name    string
	title   string
	columns []Column[T]
	index   map[string]int

	all     []T
	hasData bool
	filters map[string]Filter

	sortCol  string
	sortDesc bool
}

// New builds an empty grid over the given column schema.
func New[T any](name, title string, cols []Column[T]) *Grid[T] {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[c.Name] = i
	}
	return &Grid[T]{
		name:    name,
		title:   title,
		columns: cols,
		index:   idx,
		filters: make(map[string]Filter),
	}
}

// Name returns the grid identifier used in routes and commands.
func (g *Grid[T]) Name() string { return g.name }

// Title returns the human heading.
func (g *Grid[T]) Title() string { return g.title }

// Columns returns the type-erased column descriptions in display order.
func (g *Grid[T]) Columns() []ColumnSpec {
	specs := make([]ColumnSpec, len(g.columns))
	for i, c := range g.columns {
		specs[i] = ColumnSpec{Name: c.Name, Title: c.Title, Kind: c.Kind, Unit: c.Unit}
	}
	return specs
}

// Reset installs the snapshot from a fresh fetch and clears every filter.
// The sort preference survives refreshes; filters never do.
func (g *Grid[T]) Reset(rows []T) {
	g.all = rows
	g.hasData = true
	g.filters = make(map[string]Filter)
	if g.sortCol != "" {
		g.sortSnapshot()
	}
}

// Clear drops the snapshot entirely, returning the grid to its pre-data
// state (refresh failure presents this empty state).
func (g *Grid[T]) Clear() {
	g.all = nil
	g.hasData = false
	g.filters = make(map[string]Filter)
}

// HasData reports whether a snapshot has been installed since the last Clear.
func (g *Grid[T]) HasData() bool { return g.hasData }

// SetFilter validates and stores the filter, replacing any previous filter
// on the same column. Storing a filter before data arrives is allowed; it
// simply has nothing to act on yet.
func (g *Grid[T]) SetFilter(f Filter) error {
	i, ok := g.index[f.Column]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, f.Column)
	}
	if err := f.Validate(g.columns[i].Kind); err != nil {
		return err
	}
	g.filters[f.Column] = f
	return nil
}

// ClearFilter removes the filter on one column, reporting whether one was set.
func (g *Grid[T]) ClearFilter(column string) bool {
	_, ok := g.filters[column]
	delete(g.filters, column)
	return ok
}

// ClearFilters removes every active filter.
func (g *Grid[T]) ClearFilters() {
	g.filters = make(map[string]Filter)
}

// Filters returns the active filters sorted by column name.
func (g *Grid[T]) Filters() []Filter {
	out := make([]Filter, 0, len(g.filters))
	for _, f := range g.filters {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Column < out[j].Column })
	return out
}

// Rows returns the full unfiltered snapshot.
func (g *Grid[T]) Rows() []T { return g.all }

// Visible computes the rows passing every active filter, preserving
// snapshot order. With no active filters it returns the snapshot itself,
// not a copy. Before any snapshot exists it returns nil no matter what
// filters are set.
func (g *Grid[T]) Visible() []T {
	if !g.hasData {
		return nil
	}
	if len(g.filters) == 0 {
		return g.all
	}
	return apply(g.all, g.columns, g.index, g.Filters())
}

// apply is the pure conjunction: rows surviving every filter, in order.
func apply[T any](rows []T, cols []Column[T], index map[string]int, filters []Filter) []T {
	out := make([]T, 0, len(rows))
rows:
	for _, row := range rows {
		for _, f := range filters {
			i, ok := index[f.Column]
			if !ok {
				continue
			}
			if !matches(row, cols[i], f) {
				continue rows
			}
		}
		out = append(out, row)
	}
	return out
}

// Len returns the snapshot size.
func (g *Grid[T]) Len() int { return len(g.all) }

// VisibleLen returns the size of the visible set.
func (g *Grid[T]) VisibleLen() int { return len(g.Visible()) }

// SortBy orders the snapshot by the named column. The preference persists
// across Reset so refreshes keep the caller's ordering.
func (g *Grid[T]) SortBy(column string, desc bool) error {
	if _, ok := g.index[column]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	g.sortCol = column
	g.sortDesc = desc
	g.sortSnapshot()
	return nil
}

func (g *Grid[T]) sortSnapshot() {
	i, ok := g.index[g.sortCol]
	if !ok || len(g.all) == 0 {
		return
	}
	col := g.columns[i]
	less := func(a, b T) bool {
		switch col.Kind {
		case KindNumber:
			return col.Number(a) < col.Number(b)
		case KindTime:
			return col.Time(a).Before(col.Time(b))
		case KindBool:
			return !col.Bool(a) && col.Bool(b)
		default:
			return col.String(a) < col.String(b)
		}
	}
	sort.SliceStable(g.all, func(x, y int) bool {
		if g.sortDesc {
			return less(g.all[y], g.all[x])
		}
		return less(g.all[x], g.all[y])
	})
}

// VisibleCells renders the visible (or full) set as raw cell values in
// column order, the shape the API and renderers consume.
func (g *Grid[T]) VisibleCells(includeAll bool) [][]any {
	rows := g.Visible()
	if includeAll {
		rows = g.all
	}
	out := make([][]any, len(rows))
	for r, row := range rows {
		cells := make([]any, len(g.columns))
		for c, col := range g.columns {
			cells[c] = col.cell(row)
		}
		out[r] = cells
	}
	return out
}
