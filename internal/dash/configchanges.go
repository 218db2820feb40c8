// configchanges.go - Configuration change audit from the default trace.
package dash

import (
	"context"
	"time"

	"github.com/leapstack-labs/sqlscope/internal/grid"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

type configChangesPanel struct {
	panelState
	src telemetry.Source

	grid *grid.Grid[telemetry.ConfigChange]
}

func newConfigChangesPanel(src telemetry.Source) *configChangesPanel {
	p := &configChangesPanel{
		panelState: newPanelState("config-changes", "Configuration Changes"),
		src:        src,
		grid:       newConfigChangesGrid(),
	}
	_ = p.grid.SortBy("at", true)
	p.wrap(p.grid)
	return p
}

func newConfigChangesGrid() *grid.Grid[telemetry.ConfigChange] {
	return grid.New("changes", "Configuration Changes", []grid.Column[telemetry.ConfigChange]{
		{Name: "at", Title: "Time", Kind: grid.KindTime,
			Time: func(c telemetry.ConfigChange) time.Time { return c.At }},
		{Name: "detail", Title: "Change", Kind: grid.KindString,
			String: func(c telemetry.ConfigChange) string { return c.Detail }},
		{Name: "login_name", Title: "Login", Kind: grid.KindString,
			String: func(c telemetry.ConfigChange) string { return c.LoginName }},
		{Name: "host_name", Title: "Host", Kind: grid.KindString,
			String: func(c telemetry.ConfigChange) string { return c.HostName }},
		{Name: "app_name", Title: "Application", Kind: grid.KindString,
			String: func(c telemetry.ConfigChange) string { return c.AppName }},
		{Name: "spid", Title: "SPID", Kind: grid.KindNumber,
			Number: func(c telemetry.ConfigChange) float64 { return float64(c.SPID) }},
	})
}

func (p *configChangesPanel) Refresh(ctx context.Context, win telemetry.TimeRange) error {
	started := time.Now()

	changes, err := p.src.ConfigChanges(ctx, win)
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
	p.grid.Reset(changes)
	p.metrics = map[string]float64{"changes": float64(len(changes))}
	p.status = okStatus(win, started, len(changes))
	return nil
}
