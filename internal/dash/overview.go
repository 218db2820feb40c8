// overview.go - Landing panel: instance identity, session counts, recent alerts.
package dash

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/sqlscope/internal/grid"
	"github.com/leapstack-labs/sqlscope/internal/state"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

type overviewPanel struct {
	panelState
	instance string
	src      telemetry.Source
	journal  *state.Store

	grid *grid.Grid[state.AlertEvent]
	info telemetry.ServerInfo
}

func newOverviewPanel(instance string, src telemetry.Source, journal *state.Store) *overviewPanel {
	p := &overviewPanel{
		panelState: newPanelState("overview", "Overview"),
		instance:   instance,
		src:        src,
		journal:    journal,
		grid:       newRecentAlertsGrid(),
	}
	p.wrap(p.grid)
	return p
}

func newRecentAlertsGrid() *grid.Grid[state.AlertEvent] {
	return grid.New("recent-alerts", "Recent Alerts", []grid.Column[state.AlertEvent]{
		{Name: "raised_at", Title: "Raised", Kind: grid.KindTime,
			Time: func(e state.AlertEvent) time.Time { return e.RaisedAt }},
		{Name: "rule", Title: "Rule", Kind: grid.KindString,
			String: func(e state.AlertEvent) string { return e.Rule }},
		{Name: "severity", Title: "Severity", Kind: grid.KindString,
			String: func(e state.AlertEvent) string { return e.Severity }},
		{Name: "metric", Title: "Metric", Kind: grid.KindString,
			String: func(e state.AlertEvent) string { return e.Metric }},
		{Name: "value", Title: "Value", Kind: grid.KindNumber,
			Number: func(e state.AlertEvent) float64 { return e.Value }},
		{Name: "message", Title: "Message", Kind: grid.KindString,
			String: func(e state.AlertEvent) string { return e.Message }},
	})
}

func (p *overviewPanel) Refresh(ctx context.Context, win telemetry.TimeRange) error {
	started := time.Now()

	var (
		info   telemetry.ServerInfo
		conns  telemetry.ConnectionStats
		recent []state.AlertEvent
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = p.src.ServerInfo(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		conns, err = p.src.Connections(ctx)
		return err
	})
	if p.journal != nil {
		g.Go(func() error {
			var err error
			recent, err = p.journal.ListAlerts(p.instance, telemetry.TimeRange{}, 10)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.grid.Clear()
		p.metrics = nil
		p.info = telemetry.ServerInfo{}
		p.status = failedStatus(win, started, err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.grid.Reset(recent)
	p.info = info
	p.metrics = map[string]float64{
		"uptime_hours":     info.Uptime().Hours(),
		"user_sessions":    float64(conns.UserSessions),
		"blocked_sessions": float64(conns.BlockedSessions),
	}
	p.status = okStatus(win, started, len(recent))
	return nil
}

// Info returns the server identity captured by the last successful refresh.
func (p *overviewPanel) Info() telemetry.ServerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info
}
