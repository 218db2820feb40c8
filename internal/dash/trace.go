// trace.go - Default trace panel: recent engine events from log.trc.
package dash

import (
	"context"
	"time"

	"github.com/leapstack-labs/sqlscope/internal/chart"
	"github.com/leapstack-labs/sqlscope/internal/grid"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

type tracePanel struct {
	panelState
	src telemetry.Source

	grid *grid.Grid[telemetry.TraceEvent]
}

func newTracePanel(src telemetry.Source) *tracePanel {
	p := &tracePanel{
		panelState: newPanelState("default-trace", "Default Trace"),
		src:        src,
		grid:       newTraceGrid(),
	}
	_ = p.grid.SortBy("at", true)
	p.wrap(p.grid)
	return p
}

func newTraceGrid() *grid.Grid[telemetry.TraceEvent] {
	return grid.New("events", "Trace Events", []grid.Column[telemetry.TraceEvent]{
		{Name: "at", Title: "Time", Kind: grid.KindTime,
			Time: func(e telemetry.TraceEvent) time.Time { return e.At }},
		{Name: "event_name", Title: "Event", Kind: grid.KindString,
			String: func(e telemetry.TraceEvent) string { return e.EventName }},
		{Name: "database", Title: "Database", Kind: grid.KindString,
			String: func(e telemetry.TraceEvent) string { return e.Database }},
		{Name: "detail", Title: "Detail", Kind: grid.KindString,
			String: func(e telemetry.TraceEvent) string { return e.Detail }},
		{Name: "duration_ms", Title: "Duration", Kind: grid.KindNumber, Unit: "ms",
			Number: func(e telemetry.TraceEvent) float64 { return float64(e.DurationMs) }},
		{Name: "cpu_ms", Title: "CPU", Kind: grid.KindNumber, Unit: "ms",
			Number: func(e telemetry.TraceEvent) float64 { return float64(e.CPUMs) }},
		{Name: "reads", Title: "Reads", Kind: grid.KindNumber, Unit: "pages",
			Number: func(e telemetry.TraceEvent) float64 { return float64(e.Reads) }},
		{Name: "writes", Title: "Writes", Kind: grid.KindNumber, Unit: "pages",
			Number: func(e telemetry.TraceEvent) float64 { return float64(e.Writes) }},
		{Name: "login_name", Title: "Login", Kind: grid.KindString,
			String: func(e telemetry.TraceEvent) string { return e.LoginName }},
		{Name: "host_name", Title: "Host", Kind: grid.KindString,
			String: func(e telemetry.TraceEvent) string { return e.HostName }},
		{Name: "app_name", Title: "Application", Kind: grid.KindString,
			String: func(e telemetry.TraceEvent) string { return e.AppName }},
		{Name: "system", Title: "System", Kind: grid.KindBool,
			Bool: func(e telemetry.TraceEvent) bool { return e.System }},
	})
}

func (p *tracePanel) Refresh(ctx context.Context, win telemetry.TimeRange) error {
	started := time.Now()

	events, err := p.src.TraceEvents(ctx, win)
	if err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.grid.Clear()
		p.series = nil
		p.metrics = nil
		p.status = failedStatus(win, started, err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.grid.Reset(events)
	p.series = buildTraceSeries(events, win)
	p.metrics = map[string]float64{"events": float64(len(events))}
	p.status = okStatus(win, started, len(events))
	return nil
}

func buildTraceSeries(events []telemetry.TraceEvent, win telemetry.TimeRange) []chart.Series {
	step := chart.Step(win, 120)
	pts := make([]chart.Point, len(events))
	for i, e := range events {
		pts[i] = chart.Point{At: e.At, Value: 1}
	}
	return []chart.Series{
		{Name: "events", Points: chart.Resample(pts, step, win, chart.Sum)},
	}
}
