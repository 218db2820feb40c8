package grid

// View is the type-erased face of a Grid. Panels expose their typed grids
// through it so the API, CLI renderer and TUI can serve any grid without
// knowing its row type.
type View interface {
	Name() string
	Title() string
	Columns() []ColumnSpec
	VisibleCells(includeAll bool) [][]any
	Len() int
	VisibleLen() int
	HasData() bool
	Filters() []Filter
	SetFilter(Filter) error
	ClearFilter(column string) bool
	ClearFilters()
	SortBy(column string, desc bool) error
}

var _ View = (*Grid[int])(nil)

// Find returns the view with the given name from a panel's grid list.
func Find(views []View, name string) (View, bool) {
	for _, v := range views {
		if v.Name() == name {
			return v, true
		}
	}
	return nil, false
}
