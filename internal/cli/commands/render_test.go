package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlscope/internal/cli/output"
	"github.com/leapstack-labs/sqlscope/internal/grid"
)

type renderRow struct {
	db    string
	reads float64
}

func renderFixture() *grid.Grid[renderRow] {
	g := grid.New("databases", "Database Reads", []grid.Column[renderRow]{
		{Name: "database", Title: "Database", Kind: grid.KindString, String: func(r renderRow) string { return r.db }},
		{Name: "reads", Title: "Reads", Kind: grid.KindNumber, Number: func(r renderRow) float64 { return r.reads }},
	})
	g.Reset([]renderRow{
		{db: "orders", reads: 120},
		{db: "tempdb", reads: 3500},
	})
	return g
}

func textRenderer() (*output.Renderer, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	return output.NewRenderer(buf, new(bytes.Buffer), output.ModeText), buf
}

func TestGridOutput(t *testing.T) {
	g := renderFixture()

	out := gridOutput(g, false)
	assert.Equal(t, "databases", out.Name)
	assert.Equal(t, "Database Reads", out.Title)
	assert.Equal(t, 2, out.Total)
	assert.Len(t, out.Rows, 2)
	assert.Empty(t, out.Filters)

	require.NoError(t, g.SetFilter(grid.Filter{Column: "reads", Op: grid.OpGreater, Number: 1000}))

	out = gridOutput(g, false)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "tempdb", out.Rows[0][0])
	assert.Equal(t, 2, out.Total)
	assert.Len(t, out.Filters, 1)

	// includeAll bypasses the filters without dropping them.
	out = gridOutput(g, true)
	assert.Len(t, out.Rows, 2)
	assert.Len(t, out.Filters, 1)
}

func TestRenderGridTable(t *testing.T) {
	r, buf := textRenderer()

	renderGridTable(r, renderFixture(), false)

	got := buf.String()
	assert.Contains(t, got, "Database Reads")
	assert.Contains(t, got, "orders")
	assert.Contains(t, got, "tempdb")
	assert.Contains(t, got, "3,500")
	assert.Contains(t, got, "(2 rows)")
}

func TestRenderGridTableFiltered(t *testing.T) {
	g := renderFixture()
	require.NoError(t, g.SetFilter(grid.Filter{Column: "reads", Op: grid.OpGreater, Number: 1000}))

	r, buf := textRenderer()
	renderGridTable(r, g, false)

	got := buf.String()
	assert.Contains(t, got, "tempdb")
	assert.NotContains(t, got, "orders")
	assert.Contains(t, got, "(1 of 2 rows)")
}

func TestRenderGridTableNoData(t *testing.T) {
	g := grid.New("empty", "Empty", []grid.Column[renderRow]{
		{Name: "database", Title: "Database", Kind: grid.KindString, String: func(r renderRow) string { return r.db }},
	})

	r, buf := textRenderer()
	renderGridTable(r, g, false)

	assert.Contains(t, buf.String(), "no data yet")
}

func TestRenderGridMarkdown(t *testing.T) {
	r, buf := textRenderer()

	renderGridMarkdown(r, renderFixture(), false)

	got := buf.String()
	assert.Contains(t, got, "### Database Reads")
	assert.Contains(t, got, "| Database | Reads |")
	assert.Contains(t, got, "| --- | --- |")
	assert.Contains(t, got, "| orders | 120 |")
	assert.Contains(t, got, "| tempdb | 3,500 |")
	assert.Contains(t, got, "(2 rows)")
}

func TestEmptyGridNotes(t *testing.T) {
	t.Run("filters hid everything", func(t *testing.T) {
		g := renderFixture()
		require.NoError(t, g.SetFilter(grid.Filter{Column: "reads", Op: grid.OpGreater, Number: 99999}))

		r, buf := textRenderer()
		renderGridTable(r, g, false)
		assert.Contains(t, buf.String(), "(0 of 2 rows, filters active)")
	})

	t.Run("window has no rows", func(t *testing.T) {
		g := renderFixture()
		g.Reset(nil)

		r, buf := textRenderer()
		renderGridTable(r, g, false)
		assert.Contains(t, buf.String(), "(0 rows)")
	})
}
