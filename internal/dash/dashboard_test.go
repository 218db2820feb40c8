package dash

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlscope/internal/alert"
	"github.com/leapstack-labs/sqlscope/internal/grid"
	"github.com/leapstack-labs/sqlscope/internal/state"
	"github.com/leapstack-labs/sqlscope/internal/testutil"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry/telemetrytest"
)

func newTestJournal(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestDashboard(t *testing.T, src telemetry.Source, opts Options) *Dashboard {
	t.Helper()
	d, err := New("prod", src, newTestJournal(t), opts, testutil.NewTestLogger(t))
	require.NoError(t, err)
	return d
}

func panelReport(t *testing.T, rep Report, name string) PanelReport {
	t.Helper()
	for _, p := range rep.Panels {
		if p.Panel == name {
			return p
		}
	}
	t.Fatalf("no report for panel %q", name)
	return PanelReport{}
}

func TestWindowResolve(t *testing.T) {
	tests := []struct {
		name      string
		win       Window
		wantHours float64
	}{
		{name: "sliding", win: Window{Hours: 6}, wantHours: 6},
		{name: "zero defaults", win: Window{}, wantHours: 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.win.Resolve()
			assert.InDelta(t, tt.wantHours, got.Hours(), 0.01)
			assert.True(t, tt.win.Sliding())
		})
	}

	t.Run("pinned", func(t *testing.T) {
		from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		to := from.Add(4 * time.Hour)
		w := Window{From: from, To: to}
		got := w.Resolve()
		assert.Equal(t, from, got.From)
		assert.Equal(t, to, got.To)
		assert.False(t, w.Sliding())
	})
}

func TestDashboard_RefreshAll(t *testing.T) {
	src := telemetrytest.New()
	d := newTestDashboard(t, src, Options{})

	rep := d.RefreshAll(context.Background())

	assert.Equal(t, 8, rep.OKCount())
	assert.Equal(t, 0, rep.FailedCount())
	assert.Equal(t, state.RunStatusOK, rep.Status())
	assert.NotEmpty(t, rep.RunID, "run should be journaled")
	assert.Equal(t, "prod", rep.Instance)

	queries, ok := d.Panel("queries")
	require.True(t, ok)
	st := queries.Status()
	assert.Equal(t, StateOK, st.State)
	assert.Equal(t, 2, st.Rows)

	// Default sort puts the heaviest CPU consumer first.
	qg, ok := grid.Find(queries.Grids(), "queries")
	require.True(t, ok)
	cells := qg.VisibleCells(false)
	require.Len(t, cells, 2)
	assert.Equal(t, float64(11), cells[0][0])

	// Charts cover the window with gap-marked buckets.
	resources, _ := d.Panel("resources")
	series := resources.Charts()
	require.Len(t, series, 3)
	assert.Equal(t, "sql-cpu", series[0].Name)
	latest, ok := series[0].Latest()
	require.True(t, ok)
	assert.InDelta(t, 42, latest, 0.01)
}

func TestDashboard_PanelFailureIsContained(t *testing.T) {
	src := telemetrytest.New()
	src.FailWith("QuerySnapshots", errors.New("query store unavailable"))
	d := newTestDashboard(t, src, Options{})

	rep := d.RefreshAll(context.Background())

	assert.Equal(t, 7, rep.OKCount())
	assert.Equal(t, 1, rep.FailedCount())
	assert.Equal(t, state.RunStatusPartial, rep.Status())

	qrep := panelReport(t, rep, "queries")
	assert.False(t, qrep.OK)
	assert.Contains(t, qrep.Error, "query store unavailable")

	// The failed panel presents its empty state.
	queries, _ := d.Panel("queries")
	assert.Equal(t, StateFailed, queries.Status().State)
	qg, _ := grid.Find(queries.Grids(), "queries")
	assert.False(t, qg.HasData())
	assert.Empty(t, qg.VisibleCells(false))

	// Siblings are untouched.
	memory, _ := d.Panel("memory")
	assert.Equal(t, StateOK, memory.Status().State)

	// The journal records the partial run with the panel error.
	run, err := d.journal.GetRun(rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusPartial, run.Status)
	for _, pr := range run.Panels {
		if pr.Panel == "queries" {
			assert.Equal(t, state.RunStatusFailed, pr.Status)
			assert.Contains(t, pr.Error, "query store unavailable")
		}
	}
}

func TestDashboard_FailureRecoversOnNextRefresh(t *testing.T) {
	src := telemetrytest.New()
	src.FailWith("TraceEvents", errors.New("trace file rolled"))
	d := newTestDashboard(t, src, Options{})

	d.RefreshAll(context.Background())
	trace, _ := d.Panel("default-trace")
	assert.Equal(t, StateFailed, trace.Status().State)

	src.FailWith("TraceEvents", nil)
	rep := d.RefreshAll(context.Background())
	assert.Equal(t, 8, rep.OKCount())
	assert.Equal(t, StateOK, trace.Status().State)
	assert.Equal(t, 1, trace.Status().Rows)
}

func TestDashboard_FiltersResetAcrossRefresh(t *testing.T) {
	src := telemetrytest.New()
	d := newTestDashboard(t, src, Options{})
	d.RefreshAll(context.Background())

	queries, _ := d.Panel("queries")
	qg, _ := grid.Find(queries.Grids(), "queries")
	require.NoError(t, qg.SetFilter(grid.Filter{Column: "forced_plan", Op: grid.OpIsTrue}))
	assert.Equal(t, 1, qg.VisibleLen())

	d.RefreshAll(context.Background())
	assert.Empty(t, qg.Filters())
	assert.Equal(t, 2, qg.VisibleLen())
}

func TestDashboard_AlertsFireAndJournal(t *testing.T) {
	src := telemetrytest.New()
	d := newTestDashboard(t, src, Options{
		Rules: []alert.Rule{
			{Name: "blocked", Metric: "resources.blocked_sessions", Op: ">", Threshold: 1},
		},
	})

	rep := d.RefreshAll(context.Background())
	require.Len(t, rep.Alerts, 1)
	assert.Equal(t, "blocked", rep.Alerts[0].Rule)
	assert.Equal(t, 2.0, rep.Alerts[0].Value)

	// Journaled under this instance.
	events, err := d.journal.ListAlerts("prod", telemetry.TimeRange{}, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "blocked", events[0].Rule)

	// The alerts panel was re-read after the journal write, so this run's
	// event is already visible.
	alerts, _ := d.Panel("alerts")
	hg, _ := grid.Find(alerts.Grids(), "history")
	assert.Equal(t, 1, hg.VisibleLen())
	rg, _ := grid.Find(alerts.Grids(), "rules")
	require.Equal(t, 1, rg.VisibleLen())

	// Still breaching next time: no duplicate event.
	rep = d.RefreshAll(context.Background())
	assert.Empty(t, rep.Alerts)
}

func TestDashboard_MetricsAreNamespaced(t *testing.T) {
	src := telemetrytest.New()
	d := newTestDashboard(t, src, Options{})
	d.RefreshAll(context.Background())

	m := d.Metrics()
	assert.Equal(t, 2.0, m["resources.blocked_sessions"])
	assert.Equal(t, 24.0, m["overview.user_sessions"])
	assert.Equal(t, 4200.0, m["memory.page_life_expectancy"])
	assert.Equal(t, 1.0, m["system-events.critical_events"])
}

func TestDashboard_RefreshPanelPinsWindow(t *testing.T) {
	src := telemetrytest.New()
	d := newTestDashboard(t, src, Options{})

	rep, err := d.RefreshPanel(context.Background(), "memory", Window{Hours: 1})
	require.NoError(t, err)
	assert.True(t, rep.OK)

	assert.Equal(t, 1, d.PanelWindow("memory").Hours)
	memory, _ := d.Panel("memory")
	assert.InDelta(t, 1, memory.Status().Window.Hours(), 0.01)

	// Other panels keep the default.
	assert.Equal(t, DefaultHoursBack, d.PanelWindow("queries").Hours)

	_, err = d.RefreshPanel(context.Background(), "nope", Window{})
	assert.ErrorIs(t, err, ErrUnknownPanel)
}

func TestDashboard_SetAllWindows(t *testing.T) {
	src := telemetrytest.New()
	d := newTestDashboard(t, src, Options{})

	require.NoError(t, d.SetWindow("memory", Window{Hours: 1}))
	d.SetAllWindows(Window{Hours: 168})
	assert.Equal(t, 168, d.PanelWindow("memory").Hours)
	assert.Equal(t, 168, d.PanelWindow("queries").Hours)
}

func TestDashboard_CapturePlan(t *testing.T) {
	src := telemetrytest.New()
	d := newTestDashboard(t, src, Options{})

	plan, err := d.CapturePlan(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, "<ShowPlanXML/>", plan)
}

func TestDashboard_CancelPlan(t *testing.T) {
	src := telemetrytest.New()
	src.PlanGate = make(chan struct{})
	d := newTestDashboard(t, src, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := d.CapturePlan(context.Background(), 11)
		done <- err
	}()

	// Wait until the capture is in flight, then cancel it.
	require.Eventually(t, func() bool { return src.CallCount("QueryPlan") == 1 },
		time.Second, 5*time.Millisecond)
	assert.True(t, d.CancelPlan())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("capture did not cancel")
	}

	// Nothing left to cancel.
	assert.False(t, d.CancelPlan())
}

func TestDashboard_NewCaptureCancelsPrevious(t *testing.T) {
	src := telemetrytest.New()
	src.PlanGate = make(chan struct{})
	d := newTestDashboard(t, src, Options{})

	first := make(chan error, 1)
	go func() {
		_, err := d.CapturePlan(context.Background(), 11)
		first <- err
	}()
	require.Eventually(t, func() bool { return src.CallCount("QueryPlan") == 1 },
		time.Second, 5*time.Millisecond)

	// The second capture supersedes the first and completes once released.
	second := make(chan error, 1)
	go func() {
		_, err := d.CapturePlan(context.Background(), 12)
		second <- err
	}()
	require.Eventually(t, func() bool { return src.CallCount("QueryPlan") == 2 },
		time.Second, 5*time.Millisecond)

	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("first capture did not cancel")
	}

	close(src.PlanGate)
	select {
	case err := <-second:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second capture did not finish")
	}
}

func TestDashboard_InvalidRules(t *testing.T) {
	src := telemetrytest.New()
	_, err := New("prod", src, nil, Options{
		Rules: []alert.Rule{{Name: "bad", Metric: "nodot", Op: ">", Threshold: 1}},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid alert rules")
}

func TestDashboard_NilJournal(t *testing.T) {
	src := telemetrytest.New()
	d, err := New("prod", src, nil, Options{}, nil)
	require.NoError(t, err)

	rep := d.RefreshAll(context.Background())
	assert.Equal(t, 8, rep.OKCount())
	assert.Empty(t, rep.RunID)
}
