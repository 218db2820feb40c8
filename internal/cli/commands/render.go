package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/sqlscope/internal/cli/output"
	"github.com/leapstack-labs/sqlscope/internal/grid"
)

// GridOutput is the JSON shape for one rendered grid. It mirrors the HTTP
// API's grid payload so scripted consumers can share parsing code.
type GridOutput struct {
	Name    string            `json:"name"`
	Title   string            `json:"title"`
	Columns []grid.ColumnSpec `json:"columns"`
	Rows    [][]any           `json:"rows"`
	Filters []grid.Filter     `json:"filters,omitempty"`
	Total   int               `json:"total"`
}

func gridOutput(v grid.View, includeAll bool) GridOutput {
	return GridOutput{
		Name:    v.Name(),
		Title:   v.Title(),
		Columns: v.Columns(),
		Rows:    v.VisibleCells(includeAll),
		Filters: v.Filters(),
		Total:   v.Len(),
	}
}

// renderGridTable writes a grid as a styled terminal table.
func renderGridTable(r *output.Renderer, v grid.View, includeAll bool) {
	styles := r.Styles()
	r.Println(styles.Header2.Render(v.Title()))

	if !v.HasData() {
		r.Println(styles.Muted.Render("no data yet"))
		r.Println("")
		return
	}

	rows := v.VisibleCells(includeAll)
	if len(rows) == 0 {
		r.Println(styles.Muted.Render(emptyGridNote(v)))
		r.Println("")
		return
	}

	cols := v.Columns()
	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)

	header := table.Row{}
	for _, col := range cols {
		header = append(header, col.Title)
	}
	t.AppendHeader(header)

	for _, cells := range rows {
		tr := table.Row{}
		for i, cell := range cells {
			tr = append(tr, output.FormatCell(cols[i], cell))
		}
		t.AppendRow(tr)
	}
	t.Render()

	r.Println(rowCount(v, len(rows)))
	r.Println("")
}

// renderGridMarkdown writes a grid as a markdown section with a pipe table.
func renderGridMarkdown(r *output.Renderer, v grid.View, includeAll bool) {
	r.Println(output.FormatHeader(3, v.Title()))
	r.Println("")

	if !v.HasData() {
		r.Println("_no data yet_")
		r.Println("")
		return
	}

	rows := v.VisibleCells(includeAll)
	if len(rows) == 0 {
		r.Println("_" + emptyGridNote(v) + "_")
		r.Println("")
		return
	}

	cols := v.Columns()
	titles := make([]string, len(cols))
	seps := make([]string, len(cols))
	for i, col := range cols {
		titles[i] = col.Title
		seps[i] = "---"
	}
	r.Println("| " + strings.Join(titles, " | ") + " |")
	r.Println("| " + strings.Join(seps, " | ") + " |")

	for _, cells := range rows {
		formatted := make([]string, len(cells))
		for i, cell := range cells {
			formatted[i] = output.FormatCell(cols[i], cell)
		}
		r.Println("| " + strings.Join(formatted, " | ") + " |")
	}

	r.Println("")
	r.Println(rowCount(v, len(rows)))
	r.Println("")
}

// rowCount labels a rendered grid, calling out filtering when it hides rows.
func rowCount(v grid.View, visible int) string {
	if total := v.Len(); visible < total {
		return fmt.Sprintf("(%d of %d rows)", visible, total)
	}
	return fmt.Sprintf("(%d rows)", visible)
}

func emptyGridNote(v grid.View) string {
	if v.Len() > 0 && len(v.Filters()) > 0 {
		return fmt.Sprintf("(0 of %d rows, filters active)", v.Len())
	}
	return "(0 rows)"
}
