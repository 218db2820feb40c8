// resources.go - Resource panel: perf counters, wait stats, sessions, CPU history.
package dash

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/sqlscope/internal/chart"
	"github.com/leapstack-labs/sqlscope/internal/grid"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

// sessionRow is one line of the sessions grid, a name/count pair derived
// from ConnectionStats.
type sessionRow struct {
	Metric string
	Count  int64
}

type resourcesPanel struct {
	panelState
	src telemetry.Source

	counters *grid.Grid[telemetry.CounterSample]
	waits    *grid.Grid[telemetry.WaitSample]
	sessions *grid.Grid[sessionRow]
}

func newResourcesPanel(src telemetry.Source) *resourcesPanel {
	p := &resourcesPanel{
		panelState: newPanelState("resources", "Resource Metrics"),
		src:        src,
		counters:   newCountersGrid(),
		waits:      newWaitsGrid(),
		sessions:   newSessionsGrid(),
	}
	_ = p.waits.SortBy("wait_ms", true)
	p.wrap(p.counters, p.waits, p.sessions)
	return p
}

func newCountersGrid() *grid.Grid[telemetry.CounterSample] {
	return grid.New("counters", "Performance Counters", []grid.Column[telemetry.CounterSample]{
		{Name: "object", Title: "Object", Kind: grid.KindString,
			String: func(c telemetry.CounterSample) string { return c.Object }},
		{Name: "counter", Title: "Counter", Kind: grid.KindString,
			String: func(c telemetry.CounterSample) string { return c.Counter }},
		{Name: "instance", Title: "Instance", Kind: grid.KindString,
			String: func(c telemetry.CounterSample) string { return c.Instance }},
		{Name: "value", Title: "Value", Kind: grid.KindNumber,
			Number: func(c telemetry.CounterSample) float64 { return float64(c.Value) }},
	})
}

func newWaitsGrid() *grid.Grid[telemetry.WaitSample] {
	return grid.New("waits", "Wait Statistics", []grid.Column[telemetry.WaitSample]{
		{Name: "wait_type", Title: "Wait Type", Kind: grid.KindString,
			String: func(w telemetry.WaitSample) string { return w.WaitType }},
		{Name: "category", Title: "Category", Kind: grid.KindString,
			String: func(w telemetry.WaitSample) string { return w.Category }},
		{Name: "waiting_tasks", Title: "Waiting Tasks", Kind: grid.KindNumber,
			Number: func(w telemetry.WaitSample) float64 { return float64(w.WaitingTasks) }},
		{Name: "wait_ms", Title: "Wait Time", Kind: grid.KindNumber, Unit: "ms",
			Number: func(w telemetry.WaitSample) float64 { return float64(w.WaitMs) }},
		{Name: "resource_ms", Title: "Resource", Kind: grid.KindNumber, Unit: "ms",
			Number: func(w telemetry.WaitSample) float64 { return float64(w.ResourceMs) }},
		{Name: "signal_ms", Title: "Signal", Kind: grid.KindNumber, Unit: "ms",
			Number: func(w telemetry.WaitSample) float64 { return float64(w.SignalMs) }},
		{Name: "max_wait_ms", Title: "Max Wait", Kind: grid.KindNumber, Unit: "ms",
			Number: func(w telemetry.WaitSample) float64 { return float64(w.MaxWaitMs) }},
		{Name: "pct", Title: "Share", Kind: grid.KindNumber, Unit: "%",
			Number: func(w telemetry.WaitSample) float64 { return w.Pct }},
	})
}

func newSessionsGrid() *grid.Grid[sessionRow] {
	return grid.New("sessions", "Sessions", []grid.Column[sessionRow]{
		{Name: "metric", Title: "Metric", Kind: grid.KindString,
			String: func(r sessionRow) string { return r.Metric }},
		{Name: "count", Title: "Count", Kind: grid.KindNumber,
			Number: func(r sessionRow) float64 { return float64(r.Count) }},
	})
}

func (p *resourcesPanel) Refresh(ctx context.Context, win telemetry.TimeRange) error {
	started := time.Now()

	var (
		counters []telemetry.CounterSample
		waits    []telemetry.WaitSample
		conns    telemetry.ConnectionStats
		cpu      []telemetry.CPUSample
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counters, err = p.src.PerfCounters(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		waits, err = p.src.WaitStats(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		conns, err = p.src.Connections(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		cpu, err = p.src.CPUHistory(ctx, win)
		return err
	})
	if err := g.Wait(); err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.counters.Clear()
		p.waits.Clear()
		p.sessions.Clear()
		p.series = nil
		p.metrics = nil
		p.status = failedStatus(win, started, err)
		return err
	}

	sessions := []sessionRow{
		{Metric: "user sessions", Count: conns.UserSessions},
		{Metric: "system sessions", Count: conns.SystemSessions},
		{Metric: "active requests", Count: conns.ActiveRequests},
		{Metric: "blocked sessions", Count: conns.BlockedSessions},
	}

	var waitMs, signalMs int64
	for _, w := range waits {
		waitMs += w.WaitMs
		signalMs += w.SignalMs
	}
	signalPct := 0.0
	if waitMs > 0 {
		signalPct = float64(signalMs) / float64(waitMs) * 100
	}

	series := buildCPUSeries(cpu, win)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters.Reset(counters)
	p.waits.Reset(waits)
	p.sessions.Reset(sessions)
	p.series = series
	p.metrics = map[string]float64{
		"user_sessions":    float64(conns.UserSessions),
		"active_requests":  float64(conns.ActiveRequests),
		"blocked_sessions": float64(conns.BlockedSessions),
		"signal_wait_pct":  signalPct,
	}
	if v, ok := series[0].Latest(); ok {
		p.metrics["sql_cpu_pct"] = v
	}
	p.status = okStatus(win, started, len(counters)+len(waits)+len(sessions))
	return nil
}

func buildCPUSeries(cpu []telemetry.CPUSample, win telemetry.TimeRange) []chart.Series {
	step := chart.Step(win, 240)
	sql := make([]chart.Point, len(cpu))
	other := make([]chart.Point, len(cpu))
	idle := make([]chart.Point, len(cpu))
	for i, s := range cpu {
		sql[i] = chart.Point{At: s.At, Value: s.SQLPct}
		other[i] = chart.Point{At: s.At, Value: s.OtherPct}
		idle[i] = chart.Point{At: s.At, Value: s.IdlePct}
	}
	return []chart.Series{
		{Name: "sql-cpu", Unit: "%", Points: chart.Resample(sql, step, win, chart.Mean)},
		{Name: "other-cpu", Unit: "%", Points: chart.Resample(other, step, win, chart.Mean)},
		{Name: "idle-cpu", Unit: "%", Points: chart.Resample(idle, step, win, chart.Mean)},
	}
}
