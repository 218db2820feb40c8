package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlscope/internal/alert"
	"github.com/leapstack-labs/sqlscope/internal/dash"
	"github.com/leapstack-labs/sqlscope/internal/server/notifier"
	"github.com/leapstack-labs/sqlscope/internal/state"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry/telemetrytest"
)

// testAPI bundles everything behind the handler routes: the mux, the fake
// source feeding the "prod" dashboard, the journal and the notifier.
type testAPI struct {
	mux     *chi.Mux
	src     *telemetrytest.Fake
	journal *state.Store
	notify  *notifier.Notifier
	hub     *dash.Hub
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	journal, err := state.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	src := telemetrytest.New()
	d, err := dash.New("prod", src, journal, dash.Options{
		Rules: []alert.Rule{
			{Name: "blocked", Metric: "resources.blocked_sessions", Op: ">", Threshold: 1},
		},
	}, nil)
	require.NoError(t, err)

	hub := dash.NewHub(nil)
	require.NoError(t, hub.Add(d))

	notify := notifier.New()
	mux := chi.NewMux()
	NewHandlers(hub, journal, notify, nil).Register(mux)

	return &testAPI{mux: mux, src: src, journal: journal, notify: notify, hub: hub}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

func (a *testAPI) refresh(t *testing.T) dash.Report {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/instances/prod/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rep dash.Report
	decodeJSON(t, rec, &rep)
	return rep
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/api/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	a := newTestAPI(t)

	var got struct {
		Instances []dash.InstanceHealth `json:"instances"`
	}
	rec := a.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &got)
	require.Len(t, got.Instances, 1)
	assert.Equal(t, "prod", got.Instances[0].Instance)
	assert.True(t, got.Instances[0].Reachable)
	assert.Empty(t, got.Instances[0].ServerName, "identity is captured by refresh, not ping")

	a.refresh(t)

	rec = a.do(t, http.MethodGet, "/api/status", nil)
	decodeJSON(t, rec, &got)
	assert.Equal(t, "SQLBOX", got.Instances[0].ServerName)
	assert.Equal(t, int64(24), got.Instances[0].Sessions)
	assert.Equal(t, 1, got.Instances[0].FiringAlerts)
}

func TestListInstances(t *testing.T) {
	a := newTestAPI(t)

	var got struct {
		Instances []instanceSummary `json:"instances"`
	}
	rec := a.do(t, http.MethodGet, "/api/instances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &got)
	require.Len(t, got.Instances, 1)
	assert.Equal(t, "prod", got.Instances[0].Instance)
	assert.Len(t, got.Instances[0].Panels, 8)
	assert.Empty(t, got.Instances[0].LastStatus, "no refresh has run yet")

	a.refresh(t)

	rec = a.do(t, http.MethodGet, "/api/instances", nil)
	decodeJSON(t, rec, &got)
	assert.Equal(t, "ok", got.Instances[0].LastStatus)
}

func TestRefreshInstance(t *testing.T) {
	a := newTestAPI(t)

	rep := a.refresh(t)
	assert.Equal(t, "prod", rep.Instance)
	assert.Len(t, rep.Panels, 8)
	assert.Equal(t, 8, rep.OKCount())
	assert.NotEmpty(t, rep.RunID)
	require.Len(t, rep.Alerts, 1)
	assert.Equal(t, "blocked", rep.Alerts[0].Rule)

	rec := a.do(t, http.MethodPost, "/api/instances/nope/refresh", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown instance")
}

func TestRefreshInstance_WindowParams(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/instances/prod/refresh?hours=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rep dash.Report
	decodeJSON(t, rec, &rep)
	assert.InDelta(t, 1, rep.Window.Hours(), 0.01)

	var got struct {
		Window dash.Window `json:"window"`
	}
	rec = a.do(t, http.MethodGet, "/api/instances/prod", nil)
	decodeJSON(t, rec, &got)
	assert.Equal(t, 1, got.Window.Hours)

	// A pinned range carries through to the report.
	rec = a.do(t, http.MethodPost,
		"/api/instances/prod/refresh?from=2026-05-01T00:00:00Z&to=2026-05-02T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &rep)
	assert.WithinDuration(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), rep.Window.From, 0)
	assert.InDelta(t, 24, rep.Window.Hours(), 0.01)

	for _, path := range []string{
		"/api/instances/prod/refresh?hours=zero",
		"/api/instances/prod/refresh?hours=0",
		"/api/instances/prod/refresh?from=2026-05-01T00:00:00Z",
		"/api/instances/prod/refresh?from=yesterday&to=today",
	} {
		rec := a.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestLastReport(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/instances/prod/report", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	want := a.refresh(t)
	rec = a.do(t, http.MethodGet, "/api/instances/prod/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got dash.Report
	decodeJSON(t, rec, &got)
	assert.Equal(t, want.RunID, got.RunID)
}

func TestGetPanel(t *testing.T) {
	a := newTestAPI(t)

	var got struct {
		Name   string         `json:"name"`
		Status dash.Status    `json:"status"`
		Grids  []gridSummary  `json:"grids"`
		Charts []chartSummary `json:"charts"`
	}
	rec := a.do(t, http.MethodGet, "/api/instances/prod/panels/queries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &got)
	assert.Equal(t, dash.StatePending, got.Status.State)

	a.refresh(t)

	rec = a.do(t, http.MethodGet, "/api/instances/prod/panels/queries", nil)
	decodeJSON(t, rec, &got)
	assert.Equal(t, "queries", got.Name)
	assert.Equal(t, dash.StateOK, got.Status.State)
	require.Len(t, got.Grids, 1)
	assert.Equal(t, 2, got.Grids[0].Total)
	require.Len(t, got.Charts, 3)
	assert.Equal(t, "executions", got.Charts[0].Name)

	rec = a.do(t, http.MethodGet, "/api/instances/prod/panels/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown panel")
}

func TestRefreshPanel(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/instances/prod/panels/memory/refresh?hours=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rep dash.PanelReport
	decodeJSON(t, rec, &rep)
	assert.Equal(t, "memory", rep.Panel)
	assert.True(t, rep.OK)

	// The window pinned only that panel.
	d, _ := a.hub.Get("prod")
	assert.Equal(t, 1, d.PanelWindow("memory").Hours)
	assert.Equal(t, dash.DefaultHoursBack, d.PanelWindow("queries").Hours)
}

func TestGridFilterLifecycle(t *testing.T) {
	a := newTestAPI(t)
	a.refresh(t)

	const gridPath = "/api/instances/prod/panels/queries/grids/queries"

	var p gridPayload
	rec := a.do(t, http.MethodGet, gridPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &p)
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 2, p.Visible)
	assert.Equal(t, "query_id", p.Columns[0].Name)
	// Default sort: heaviest total CPU first.
	assert.Equal(t, float64(11), p.Rows[0][0])

	// One filter narrows the visible set.
	rec = a.do(t, http.MethodPut, gridPath+"/filters",
		map[string]any{"column": "forced_plan", "op": "true"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &p)
	assert.Equal(t, 1, p.Visible)
	assert.Equal(t, 2, p.Total)

	// A second filter on another column ANDs with the first.
	rec = a.do(t, http.MethodPut, gridPath+"/filters",
		map[string]any{"column": "database", "op": "contains", "text": "orders"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &p)
	assert.Equal(t, 1, p.Visible)
	assert.Len(t, p.Filters, 2)

	// all=true serves the unfiltered snapshot without clearing anything.
	rec = a.do(t, http.MethodGet, gridPath+"?all=true", nil)
	decodeJSON(t, rec, &p)
	assert.Len(t, p.Rows, 2)
	assert.Len(t, p.Filters, 2)

	// Removing one filter leaves the other active.
	rec = a.do(t, http.MethodDelete, gridPath+"/filters/forced_plan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &p)
	assert.Equal(t, 2, p.Visible)
	assert.Len(t, p.Filters, 1)

	rec = a.do(t, http.MethodDelete, gridPath+"/filters/forced_plan", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodDelete, gridPath+"/filters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &p)
	assert.Empty(t, p.Filters)

	// Operator aliases are accepted on the wire.
	rec = a.do(t, http.MethodPut, gridPath+"/filters",
		map[string]any{"column": "executions", "op": ">=", "number": 100})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &p)
	assert.Equal(t, 1, p.Visible)

	// A refresh resets filters.
	rec = a.do(t, http.MethodPost, "/api/instances/prod/panels/queries/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, gridPath, nil)
	decodeJSON(t, rec, &p)
	assert.Empty(t, p.Filters)
	assert.Equal(t, 2, p.Visible)
}

func TestGridFilterValidation(t *testing.T) {
	a := newTestAPI(t)
	a.refresh(t)

	const gridPath = "/api/instances/prod/panels/queries/grids/queries"

	tests := []struct {
		name      string
		body      map[string]any
		errSubstr string
	}{
		{
			name:      "unknown column",
			body:      map[string]any{"column": "nope", "op": "eq", "text": "x"},
			errSubstr: "unknown column",
		},
		{
			name:      "unknown operator",
			body:      map[string]any{"column": "database", "op": "zzz"},
			errSubstr: "unknown operator",
		},
		{
			name:      "operator and kind mismatch",
			body:      map[string]any{"column": "database", "op": "gt", "number": 5},
			errSubstr: "does not apply",
		},
		{
			name:      "time columns take no filters",
			body:      map[string]any{"column": "last_executed", "op": "eq", "text": "x"},
			errSubstr: "takes no filters",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPut, gridPath+"/filters", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.errSubstr)
		})
	}

	rec := a.do(t, http.MethodGet, "/api/instances/prod/panels/queries/grids/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown grid")
}

func TestSortGrid(t *testing.T) {
	a := newTestAPI(t)
	a.refresh(t)

	const gridPath = "/api/instances/prod/panels/queries/grids/queries"

	var p gridPayload
	rec := a.do(t, http.MethodPut, gridPath+"/sort", map[string]any{"column": "executions"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &p)
	assert.Equal(t, float64(12), p.Rows[0][0], "ascending executions puts the lighter query first")

	rec = a.do(t, http.MethodPut, gridPath+"/sort", map[string]any{"column": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetChart(t *testing.T) {
	a := newTestAPI(t)
	a.refresh(t)

	var got struct {
		Name   string `json:"name"`
		Unit   string `json:"unit"`
		Points []struct {
			At    time.Time `json:"at"`
			Value *float64  `json:"value"`
		} `json:"points"`
	}
	rec := a.do(t, http.MethodGet, "/api/instances/prod/panels/resources/charts/sql-cpu", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &got)
	assert.Equal(t, "sql-cpu", got.Name)
	assert.Equal(t, "%", got.Unit)
	assert.NotEmpty(t, got.Points)

	rec = a.do(t, http.MethodGet, "/api/instances/prod/panels/resources/charts/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown chart")
}

func TestRunsAndAlerts(t *testing.T) {
	a := newTestAPI(t)
	rep := a.refresh(t)

	var runs struct {
		Runs []state.Run `json:"runs"`
	}
	rec := a.do(t, http.MethodGet, "/api/instances/prod/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &runs)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, rep.RunID, runs.Runs[0].ID)
	assert.Equal(t, state.RunStatusOK, runs.Runs[0].Status)

	var run state.Run
	rec = a.do(t, http.MethodGet, "/api/instances/prod/runs/"+rep.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &run)
	assert.Len(t, run.Panels, 8)

	rec = a.do(t, http.MethodGet, "/api/instances/prod/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var alerts struct {
		Alerts []state.AlertEvent `json:"alerts"`
	}
	rec = a.do(t, http.MethodGet, "/api/instances/prod/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &alerts)
	require.Len(t, alerts.Alerts, 1)
	assert.Equal(t, "blocked", alerts.Alerts[0].Rule)

	// A narrow recent window still contains the just-raised event.
	rec = a.do(t, http.MethodGet, "/api/instances/prod/alerts?hours=1", nil)
	decodeJSON(t, rec, &alerts)
	assert.Len(t, alerts.Alerts, 1)
}

func TestMetricsAndRules(t *testing.T) {
	a := newTestAPI(t)
	a.refresh(t)

	var metrics struct {
		Metrics map[string]float64 `json:"metrics"`
	}
	rec := a.do(t, http.MethodGet, "/api/instances/prod/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &metrics)
	assert.Equal(t, 2.0, metrics.Metrics["resources.blocked_sessions"])
	assert.Equal(t, 24.0, metrics.Metrics["overview.user_sessions"])

	var rules struct {
		Rules []alert.RuleState `json:"rules"`
	}
	rec = a.do(t, http.MethodGet, "/api/instances/prod/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &rules)
	require.Len(t, rules.Rules, 1)
	assert.Equal(t, "blocked", rules.Rules[0].Rule.Name)
	assert.True(t, rules.Rules[0].Firing)
	assert.Equal(t, 2.0, rules.Rules[0].LastValue)
}

func TestCapturePlan(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/instances/prod/plan", planRequest{QueryID: 11})
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		QueryID int64  `json:"query_id"`
		Plan    string `json:"plan"`
	}
	decodeJSON(t, rec, &got)
	assert.Equal(t, int64(11), got.QueryID)
	assert.Equal(t, "<ShowPlanXML/>", got.Plan)

	rec = a.do(t, http.MethodPost, "/api/instances/prod/plan", planRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query_id must be positive")

	req := httptest.NewRequest(http.MethodPost, "/api/instances/prod/plan", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Nothing in flight to cancel.
	rec = a.do(t, http.MethodDelete, "/api/instances/prod/plan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":false}`, rec.Body.String())
}

func TestCapturePlan_CancelInFlight(t *testing.T) {
	a := newTestAPI(t)
	a.src.PlanGate = make(chan struct{})

	captureRec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest(http.MethodPost, "/api/instances/prod/plan",
			bytes.NewBufferString(`{"query_id":11}`))
		a.mux.ServeHTTP(captureRec, req)
	}()

	require.Eventually(t, func() bool { return a.src.CallCount("QueryPlan") == 1 },
		time.Second, 5*time.Millisecond)

	rec := a.do(t, http.MethodDelete, "/api/instances/prod/plan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":true}`, rec.Body.String())

	select {
	case <-done:
		assert.Equal(t, http.StatusConflict, captureRec.Code)
		assert.Contains(t, captureRec.Body.String(), "plan capture cancelled")
	case <-time.After(time.Second):
		t.Fatal("capture request did not return")
	}
}

func TestEventsSSE(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readLine := func() string {
		t.Helper()
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		return line
	}

	// The handshake comment confirms the subscription is live.
	require.Equal(t, ": connected\n", readLine())
	require.Equal(t, "\n", readLine())

	a.notify.Broadcast(notifier.Event{Type: notifier.EventRefresh, Instance: "prod", Detail: "ok"})
	assert.Equal(t, "event: refresh\n", readLine())
	data := readLine()
	assert.Contains(t, data, `"instance":"prod"`)
	assert.Contains(t, data, `"detail":"ok"`)

	a.notify.Broadcast(notifier.Event{Type: notifier.EventAlert, Instance: "prod", Detail: "blocked"})
	require.Equal(t, "\n", readLine())
	assert.Equal(t, "event: alert\n", readLine())
}

func TestRefreshBroadcastsEvents(t *testing.T) {
	a := newTestAPI(t)
	ch := a.notify.Subscribe()
	defer a.notify.Unsubscribe(ch)

	a.refresh(t)

	want := map[string]bool{notifier.EventRefresh: false, notifier.EventAlert: false}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			want[ev.Type] = true
			assert.Equal(t, "prod", ev.Instance)
		case <-time.After(time.Second):
			t.Fatal("missing broadcast")
		}
	}
	assert.True(t, want[notifier.EventRefresh])
	assert.True(t, want[notifier.EventAlert])
}

func TestPanelFailureIsNotAnHTTPError(t *testing.T) {
	a := newTestAPI(t)
	a.src.FailWith("QuerySnapshots", fmt.Errorf("query store unavailable"))

	rep := a.refresh(t)
	assert.Equal(t, 7, rep.OKCount())
	assert.Equal(t, 1, rep.FailedCount())

	// The failed panel serves its empty state, still with a 200.
	var p gridPayload
	rec := a.do(t, http.MethodGet, "/api/instances/prod/panels/queries/grids/queries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &p)
	assert.False(t, p.HasData)
	assert.Empty(t, p.Rows)
}
