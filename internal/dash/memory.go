// memory.go - Memory panel: clerks grid, manager gauges, utilization history.
package dash

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/sqlscope/internal/chart"
	"github.com/leapstack-labs/sqlscope/internal/grid"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

type memoryPanel struct {
	panelState
	src telemetry.Source

	grid *grid.Grid[telemetry.MemoryClerk]
}

func newMemoryPanel(src telemetry.Source) *memoryPanel {
	p := &memoryPanel{
		panelState: newPanelState("memory", "Memory"),
		src:        src,
		grid:       newClerksGrid(),
	}
	_ = p.grid.SortBy("pages_kb", true)
	p.wrap(p.grid)
	return p
}

func newClerksGrid() *grid.Grid[telemetry.MemoryClerk] {
	return grid.New("clerks", "Memory Clerks", []grid.Column[telemetry.MemoryClerk]{
		{Name: "type", Title: "Clerk Type", Kind: grid.KindString,
			String: func(c telemetry.MemoryClerk) string { return c.Type }},
		{Name: "name", Title: "Name", Kind: grid.KindString,
			String: func(c telemetry.MemoryClerk) string { return c.Name }},
		{Name: "pages_kb", Title: "Pages", Kind: grid.KindNumber, Unit: "KB",
			Number: func(c telemetry.MemoryClerk) float64 { return float64(c.PagesKB) }},
		{Name: "virtual_kb", Title: "Virtual Committed", Kind: grid.KindNumber, Unit: "KB",
			Number: func(c telemetry.MemoryClerk) float64 { return float64(c.VirtualKB) }},
	})
}

func (p *memoryPanel) Refresh(ctx context.Context, win telemetry.TimeRange) error {
	started := time.Now()

	var (
		clerks   []telemetry.MemoryClerk
		counters telemetry.MemoryCounters
		history  []telemetry.MemorySample
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		clerks, err = p.src.MemoryClerks(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		counters, err = p.src.MemoryCounters(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		history, err = p.src.MemoryHistory(ctx, win)
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

	lowSignals := 0
	for _, s := range history {
		if s.Low {
			lowSignals++
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.grid.Reset(clerks)
	p.series = buildMemorySeries(history, win)
	p.metrics = map[string]float64{
		"total_server_mb":       float64(counters.TotalServerKB) / 1024,
		"target_server_mb":      float64(counters.TargetServerKB) / 1024,
		"database_cache_mb":     float64(counters.DatabaseCacheKB) / 1024,
		"stolen_mb":             float64(counters.StolenServerKB) / 1024,
		"page_life_expectancy":  float64(counters.PageLifeExpectancy),
		"memory_grants_pending": float64(counters.MemoryGrantsPending),
		"low_signals":           float64(lowSignals),
	}
	if v, ok := latestUtilization(history); ok {
		p.metrics["utilization_pct"] = v
	}
	p.status = okStatus(win, started, len(clerks))
	return nil
}

func buildMemorySeries(history []telemetry.MemorySample, win telemetry.TimeRange) []chart.Series {
	step := chart.Step(win, 240)
	util := make([]chart.Point, len(history))
	avail := make([]chart.Point, len(history))
	for i, s := range history {
		util[i] = chart.Point{At: s.At, Value: s.UtilizationPct}
		avail[i] = chart.Point{At: s.At, Value: float64(s.AvailableMB)}
	}
	return []chart.Series{
		{Name: "utilization", Unit: "%", Points: chart.Resample(util, step, win, chart.Mean)},
		{Name: "available", Unit: "MB", Points: chart.Resample(avail, step, win, chart.Mean)},
	}
}

func latestUtilization(history []telemetry.MemorySample) (float64, bool) {
	if len(history) == 0 {
		return 0, false
	}
	latest := history[0]
	for _, s := range history[1:] {
		if s.At.After(latest.At) {
			latest = s
		}
	}
	return latest.UtilizationPct, true
}
