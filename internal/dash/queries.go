// queries.go - Top queries panel: Query Store aggregates plus activity charts.
package dash

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/sqlscope/internal/chart"
	"github.com/leapstack-labs/sqlscope/internal/grid"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

type queriesPanel struct {
	panelState
	src telemetry.Source
	top int

	grid *grid.Grid[telemetry.QuerySnapshot]
}

func newQueriesPanel(src telemetry.Source, top int) *queriesPanel {
	p := &queriesPanel{
		panelState: newPanelState("queries", "Query Performance"),
		src:        src,
		top:        top,
		grid:       newQueriesGrid(),
	}
	_ = p.grid.SortBy("total_cpu_ms", true)
	p.wrap(p.grid)
	return p
}

func newQueriesGrid() *grid.Grid[telemetry.QuerySnapshot] {
	return grid.New("queries", "Top Queries", []grid.Column[telemetry.QuerySnapshot]{
		{Name: "query_id", Title: "Query ID", Kind: grid.KindNumber,
			Number: func(q telemetry.QuerySnapshot) float64 { return float64(q.QueryID) }},
		{Name: "database", Title: "Database", Kind: grid.KindString,
			String: func(q telemetry.QuerySnapshot) string { return q.Database }},
		{Name: "text", Title: "Query Text", Kind: grid.KindString,
			String: func(q telemetry.QuerySnapshot) string { return q.Text }},
		{Name: "executions", Title: "Executions", Kind: grid.KindNumber,
			Number: func(q telemetry.QuerySnapshot) float64 { return float64(q.Executions) }},
		{Name: "total_cpu_ms", Title: "Total CPU", Kind: grid.KindNumber, Unit: "ms",
			Number: func(q telemetry.QuerySnapshot) float64 { return q.TotalCPUMs }},
		{Name: "avg_cpu_ms", Title: "Avg CPU", Kind: grid.KindNumber, Unit: "ms",
			Number: func(q telemetry.QuerySnapshot) float64 { return q.AvgCPUMs }},
		{Name: "total_duration_ms", Title: "Total Duration", Kind: grid.KindNumber, Unit: "ms",
			Number: func(q telemetry.QuerySnapshot) float64 { return q.TotalDurationMs }},
		{Name: "avg_duration_ms", Title: "Avg Duration", Kind: grid.KindNumber, Unit: "ms",
			Number: func(q telemetry.QuerySnapshot) float64 { return q.AvgDurationMs }},
		{Name: "total_reads", Title: "Reads", Kind: grid.KindNumber, Unit: "pages",
			Number: func(q telemetry.QuerySnapshot) float64 { return float64(q.TotalReads) }},
		{Name: "avg_reads", Title: "Avg Reads", Kind: grid.KindNumber, Unit: "pages",
			Number: func(q telemetry.QuerySnapshot) float64 { return q.AvgReads }},
		{Name: "total_writes", Title: "Writes", Kind: grid.KindNumber, Unit: "pages",
			Number: func(q telemetry.QuerySnapshot) float64 { return float64(q.TotalWrites) }},
		{Name: "avg_grant_kb", Title: "Avg Grant", Kind: grid.KindNumber, Unit: "KB",
			Number: func(q telemetry.QuerySnapshot) float64 { return q.AvgGrantKB }},
		{Name: "forced_plan", Title: "Forced Plan", Kind: grid.KindBool,
			Bool: func(q telemetry.QuerySnapshot) bool { return q.ForcedPlan }},
		{Name: "last_executed", Title: "Last Executed", Kind: grid.KindTime,
			Time: func(q telemetry.QuerySnapshot) time.Time { return q.LastExecuted }},
	})
}

func (p *queriesPanel) Refresh(ctx context.Context, win telemetry.TimeRange) error {
	started := time.Now()

	var (
		snaps    []telemetry.QuerySnapshot
		activity []telemetry.ActivitySample
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snaps, err = p.src.QuerySnapshots(ctx, win, p.top)
		return err
	})
	g.Go(func() error {
		var err error
		activity, err = p.src.QueryActivity(ctx, win)
		return err
	})
	if err := g.Wait(); err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.grid.Clear()
		p.series = nil
		p.metrics = nil
		p.status = failedStatus(win, started, err)
		return err
	}

	var executions, cpuMs float64
	forced := 0
	for _, q := range snaps {
		executions += float64(q.Executions)
		cpuMs += q.TotalCPUMs
		if q.ForcedPlan {
			forced++
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.grid.Reset(snaps)
	p.series = buildActivitySeries(activity, win)
	p.metrics = map[string]float64{
		"rows":         float64(len(snaps)),
		"executions":   executions,
		"cpu_ms":       cpuMs,
		"forced_plans": float64(forced),
	}
	p.status = okStatus(win, started, len(snaps))
	return nil
}

func buildActivitySeries(samples []telemetry.ActivitySample, win telemetry.TimeRange) []chart.Series {
	step := chart.Step(win, 240)
	execs := make([]chart.Point, len(samples))
	cpu := make([]chart.Point, len(samples))
	dur := make([]chart.Point, len(samples))
	for i, s := range samples {
		execs[i] = chart.Point{At: s.At, Value: float64(s.Executions)}
		cpu[i] = chart.Point{At: s.At, Value: s.CPUMs}
		dur[i] = chart.Point{At: s.At, Value: s.DurationMs}
	}
	return []chart.Series{
		{Name: "executions", Points: chart.Resample(execs, step, win, chart.Sum)},
		{Name: "cpu", Unit: "ms", Points: chart.Resample(cpu, step, win, chart.Sum)},
		{Name: "duration", Unit: "ms", Points: chart.Resample(dur, step, win, chart.Sum)},
	}
}
