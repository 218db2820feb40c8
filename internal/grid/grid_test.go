package grid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// session is the row fixture for grid tests.
type session struct {
	host    string
	cpuMs   float64
	blocked bool
	seen    time.Time
}

func sessionColumns() []Column[session] {
	return []Column[session]{
		{Name: "host", Title: "Host", Kind: KindString, String: func(s session) string { return s.host }},
		{Name: "cpu_ms", Title: "CPU", Kind: KindNumber, Unit: "ms", Number: func(s session) float64 { return s.cpuMs }},
		{Name: "blocked", Title: "Blocked", Kind: KindBool, Bool: func(s session) bool { return s.blocked }},
		{Name: "seen", Title: "Seen", Kind: KindTime, Time: func(s session) time.Time { return s.seen }},
	}
}

func sampleSessions() []session {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return []session{
		{host: "app-01", cpuMs: 120, blocked: false, seen: base},
		{host: "app-02", cpuMs: 4500, blocked: true, seen: base.Add(time.Minute)},
		{host: "etl-01", cpuMs: 900, blocked: false, seen: base.Add(2 * time.Minute)},
		{host: "ETL-02", cpuMs: 30, blocked: true, seen: base.Add(3 * time.Minute)},
		{host: "report", cpuMs: 2200, blocked: false, seen: base.Add(4 * time.Minute)},
	}
}

func newSessionGrid(t *testing.T) *Grid[session] {
	t.Helper()
	g := New("sessions", "Sessions", sessionColumns())
	g.Reset(sampleSessions())
	return g
}

func TestGrid_NoFiltersReturnsSnapshotIdentity(t *testing.T) {
	g := newSessionGrid(t)

	got := g.Visible()
	require.Len(t, got, 5)
	// Same backing array, not a copy.
	assert.Same(t, &g.all[0], &got[0])
}

func TestGrid_ConjunctionKeepsOnlyMatchingRows(t *testing.T) {
	tests := []struct {
		name      string
		filters   []Filter
		wantHosts []string
	}{
		{
			name:      "single contains",
			filters:   []Filter{{Column: "host", Op: OpContains, Text: "app"}},
			wantHosts: []string{"app-01", "app-02"},
		},
		{
			name:      "contains is case-insensitive",
			filters:   []Filter{{Column: "host", Op: OpContains, Text: "etl"}},
			wantHosts: []string{"etl-01", "ETL-02"},
		},
		{
			name:      "numeric range",
			filters:   []Filter{{Column: "cpu_ms", Op: OpBetween, Number: 100, Upper: 1000}},
			wantHosts: []string{"app-01", "etl-01"},
		},
		{
			name: "conjunction across columns",
			filters: []Filter{
				{Column: "cpu_ms", Op: OpGreater, Number: 100},
				{Column: "blocked", Op: OpIsFalse},
			},
			wantHosts: []string{"app-01", "etl-01", "report"},
		},
		{
			name: "conjunction can be empty",
			filters: []Filter{
				{Column: "host", Op: OpContains, Text: "report"},
				{Column: "blocked", Op: OpIsTrue},
			},
			wantHosts: []string{},
		},
		{
			name:      "empty contains operand matches everything",
			filters:   []Filter{{Column: "host", Op: OpContains, Text: ""}},
			wantHosts: []string{"app-01", "app-02", "etl-01", "ETL-02", "report"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newSessionGrid(t)
			for _, f := range tt.filters {
				require.NoError(t, g.SetFilter(f))
			}
			hosts := make([]string, 0)
			for _, s := range g.Visible() {
				hosts = append(hosts, s.host)
			}
			assert.Equal(t, tt.wantHosts, hosts)
		})
	}
}

func TestGrid_AddingFilterNeverGrowsVisibleSet(t *testing.T) {
	g := newSessionGrid(t)

	sequence := []Filter{
		{Column: "cpu_ms", Op: OpGreaterEq, Number: 30},
		{Column: "host", Op: OpContains, Text: "0"},
		{Column: "blocked", Op: OpIsTrue},
	}

	prev := g.VisibleLen()
	for _, f := range sequence {
		require.NoError(t, g.SetFilter(f))
		cur := g.VisibleLen()
		assert.LessOrEqual(t, cur, prev, "filter on %s grew the visible set", f.Column)
		prev = cur
	}
}

func TestGrid_CompositionMatchesSequentialApplication(t *testing.T) {
	f1 := Filter{Column: "cpu_ms", Op: OpGreater, Number: 100}
	f2 := Filter{Column: "blocked", Op: OpIsFalse}

	// Both filters at once.
	composed := newSessionGrid(t)
	require.NoError(t, composed.SetFilter(f1))
	require.NoError(t, composed.SetFilter(f2))

	// f1 first, then f2 over the intermediate result.
	first := newSessionGrid(t)
	require.NoError(t, first.SetFilter(f1))
	second := New("sessions", "Sessions", sessionColumns())
	second.Reset(first.Visible())
	require.NoError(t, second.SetFilter(f2))

	assert.Equal(t, second.Visible(), composed.Visible())
}

func TestGrid_FiltersAreIsolatedBetweenGrids(t *testing.T) {
	a := newSessionGrid(t)
	b := newSessionGrid(t)

	require.NoError(t, a.SetFilter(Filter{Column: "blocked", Op: OpIsTrue}))

	assert.Len(t, a.Filters(), 1)
	assert.Empty(t, b.Filters())
	assert.Equal(t, 2, a.VisibleLen())
	assert.Equal(t, 5, b.VisibleLen())
}

func TestGrid_ResetRestoresVisibilityAndClearsFilters(t *testing.T) {
	g := newSessionGrid(t)
	require.NoError(t, g.SetFilter(Filter{Column: "host", Op: OpContains, Text: "app"}))
	require.Equal(t, 2, g.VisibleLen())

	g.Reset(sampleSessions())

	assert.Empty(t, g.Filters())
	assert.Equal(t, 5, g.VisibleLen())
}

func TestGrid_FilterBeforeDataIsNoop(t *testing.T) {
	g := New("sessions", "Sessions", sessionColumns())

	require.NoError(t, g.SetFilter(Filter{Column: "host", Op: OpContains, Text: "app"}))
	assert.Nil(t, g.Visible())
	assert.False(t, g.HasData())

	// The stored filter applies once data lands... except Reset clears it,
	// matching the refresh transition.
	g.Reset(sampleSessions())
	assert.Equal(t, 5, g.VisibleLen())
}

func TestGrid_ClearPresentsEmptyState(t *testing.T) {
	g := newSessionGrid(t)
	require.NoError(t, g.SetFilter(Filter{Column: "blocked", Op: OpIsTrue}))

	g.Clear()

	assert.False(t, g.HasData())
	assert.Nil(t, g.Visible())
	assert.Empty(t, g.Filters())
}

func TestGrid_SetFilterReplacesSameColumn(t *testing.T) {
	g := newSessionGrid(t)

	require.NoError(t, g.SetFilter(Filter{Column: "cpu_ms", Op: OpGreater, Number: 100}))
	require.NoError(t, g.SetFilter(Filter{Column: "cpu_ms", Op: OpLess, Number: 100}))

	require.Len(t, g.Filters(), 1)
	assert.Equal(t, OpLess, g.Filters()[0].Op)
	assert.Equal(t, 1, g.VisibleLen()) // only ETL-02 at 30ms
}

func TestGrid_SetFilter_Validation(t *testing.T) {
	tests := []struct {
		name      string
		filter    Filter
		wantErr   bool
		errSubstr string
	}{
		{
			name:    "valid string contains",
			filter:  Filter{Column: "host", Op: OpContains, Text: "x"},
			wantErr: false,
		},
		{
			name:      "unknown column",
			filter:    Filter{Column: "nope", Op: OpContains, Text: "x"},
			wantErr:   true,
			errSubstr: "unknown column",
		},
		{
			name:      "contains on numeric column",
			filter:    Filter{Column: "cpu_ms", Op: OpContains, Text: "9"},
			wantErr:   true,
			errSubstr: "does not apply",
		},
		{
			name:      "numeric op on bool column",
			filter:    Filter{Column: "blocked", Op: OpGreater, Number: 1},
			wantErr:   true,
			errSubstr: "does not apply",
		},
		{
			name:      "between with reversed bounds",
			filter:    Filter{Column: "cpu_ms", Op: OpBetween, Number: 10, Upper: 1},
			wantErr:   true,
			errSubstr: "bounds reversed",
		},
		{
			name:      "time column takes no filters",
			filter:    Filter{Column: "seen", Op: OpEquals, Text: "2026"},
			wantErr:   true,
			errSubstr: "time column",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newSessionGrid(t)
			err := g.SetFilter(tt.filter)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
				assert.Empty(t, g.Filters())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGrid_BoolTriState(t *testing.T) {
	g := newSessionGrid(t)

	require.NoError(t, g.SetFilter(Filter{Column: "blocked", Op: OpIsTrue}))
	assert.Equal(t, 2, g.VisibleLen())

	require.NoError(t, g.SetFilter(Filter{Column: "blocked", Op: OpIsFalse}))
	assert.Equal(t, 3, g.VisibleLen())

	g.ClearFilter("blocked")
	assert.Equal(t, 5, g.VisibleLen())
}

func TestGrid_SortBy(t *testing.T) {
	g := newSessionGrid(t)

	require.NoError(t, g.SortBy("cpu_ms", true))
	rows := g.Visible()
	require.Len(t, rows, 5)
	assert.Equal(t, "app-02", rows[0].host)
	assert.Equal(t, "ETL-02", rows[4].host)

	// Preference survives a refresh.
	g.Reset(sampleSessions())
	rows = g.Visible()
	assert.Equal(t, "app-02", rows[0].host)

	assert.ErrorIs(t, g.SortBy("nope", false), ErrUnknownColumn)
}

func TestGrid_VisibleCells(t *testing.T) {
	g := newSessionGrid(t)
	require.NoError(t, g.SetFilter(Filter{Column: "host", Op: OpEquals, Text: "report"}))

	cells := g.VisibleCells(false)
	require.Len(t, cells, 1)
	require.Len(t, cells[0], 4)
	assert.Equal(t, "report", cells[0][0])
	assert.Equal(t, 2200.0, cells[0][1])
	assert.Equal(t, false, cells[0][2])

	all := g.VisibleCells(true)
	assert.Len(t, all, 5)
}

func TestParseOp(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Op
		wantErr bool
	}{
		{name: "contains", in: "contains", want: OpContains},
		{name: "symbol gt", in: ">", want: OpGreater},
		{name: "symbol ge", in: ">=", want: OpGreaterEq},
		{name: "symbol eq", in: "==", want: OpEquals},
		{name: "sql ne", in: "<>", want: OpNotEquals},
		{name: "mixed case", in: " Between ", want: OpBetween},
		{name: "bool true", in: "true", want: OpIsTrue},
		{name: "unknown", in: "like", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOp(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownOp)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
