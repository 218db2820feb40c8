// events.go - System events panel over the system_health session.
package dash

import (
	"context"
	"time"

	"github.com/leapstack-labs/sqlscope/internal/chart"
	"github.com/leapstack-labs/sqlscope/internal/grid"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

type eventsPanel struct {
	panelState
	src telemetry.Source

	grid *grid.Grid[telemetry.SystemEvent]
}

func newEventsPanel(src telemetry.Source) *eventsPanel {
	p := &eventsPanel{
		panelState: newPanelState("system-events", "System Events"),
		src:        src,
		grid:       newEventsGrid(),
	}
	_ = p.grid.SortBy("at", true)
	p.wrap(p.grid)
	return p
}

func newEventsGrid() *grid.Grid[telemetry.SystemEvent] {
	return grid.New("events", "Health Events", []grid.Column[telemetry.SystemEvent]{
		{Name: "at", Title: "Time", Kind: grid.KindTime,
			Time: func(e telemetry.SystemEvent) time.Time { return e.At }},
		{Name: "name", Title: "Event", Kind: grid.KindString,
			String: func(e telemetry.SystemEvent) string { return e.Name }},
		{Name: "severity", Title: "Severity", Kind: grid.KindNumber,
			Number: func(e telemetry.SystemEvent) float64 { return float64(e.Severity) }},
		{Name: "critical", Title: "Critical", Kind: grid.KindBool,
			Bool: func(e telemetry.SystemEvent) bool { return e.Critical }},
		{Name: "message", Title: "Message", Kind: grid.KindString,
			String: func(e telemetry.SystemEvent) string { return e.Message }},
	})
}

func (p *eventsPanel) Refresh(ctx context.Context, win telemetry.TimeRange) error {
	started := time.Now()

	events, err := p.src.SystemEvents(ctx, win)
	if err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.grid.Clear()
		p.series = nil
		p.metrics = nil
		p.status = failedStatus(win, started, err)
		return err
	}

	critical := 0
	for _, e := range events {
		if e.Critical {
			critical++
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.grid.Reset(events)
	p.series = buildEventSeries(events, win)
	p.metrics = map[string]float64{
		"events":          float64(len(events)),
		"critical_events": float64(critical),
	}
	p.status = okStatus(win, started, len(events))
	return nil
}

func buildEventSeries(events []telemetry.SystemEvent, win telemetry.TimeRange) []chart.Series {
	step := chart.Step(win, 120)
	all := make([]chart.Point, 0, len(events))
	crit := make([]chart.Point, 0, len(events))
	for _, e := range events {
		all = append(all, chart.Point{At: e.At, Value: 1})
		if e.Critical {
			crit = append(crit, chart.Point{At: e.At, Value: 1})
		}
	}
	return []chart.Series{
		{Name: "events", Points: chart.Resample(all, step, win, chart.Sum)},
		{Name: "critical", Points: chart.Resample(crit, step, win, chart.Sum)},
	}
}
