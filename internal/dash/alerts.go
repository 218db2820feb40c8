// alerts.go - Alerts panel: journaled events in the window plus live rule state.
package dash

import (
	"context"
	"time"

	"github.com/leapstack-labs/sqlscope/internal/alert"
	"github.com/leapstack-labs/sqlscope/internal/chart"
	"github.com/leapstack-labs/sqlscope/internal/grid"
	"github.com/leapstack-labs/sqlscope/internal/state"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

const alertHistoryLimit = 500

type alertsPanel struct {
	panelState
	instance string
	journal  *state.Store
	engine   *alert.Engine

	history *grid.Grid[state.AlertEvent]
	rules   *grid.Grid[alert.RuleState]
}

func newAlertsPanel(instance string, journal *state.Store, engine *alert.Engine) *alertsPanel {
	p := &alertsPanel{
		panelState: newPanelState("alerts", "Alerts"),
		instance:   instance,
		journal:    journal,
		engine:     engine,
		history:    newAlertHistoryGrid(),
		rules:      newRuleStateGrid(),
	}
	_ = p.history.SortBy("raised_at", true)
	p.wrap(p.history, p.rules)
	return p
}

func newAlertHistoryGrid() *grid.Grid[state.AlertEvent] {
	return grid.New("history", "Alert History", []grid.Column[state.AlertEvent]{
		{Name: "raised_at", Title: "Raised", Kind: grid.KindTime,
			Time: func(e state.AlertEvent) time.Time { return e.RaisedAt }},
		{Name: "rule", Title: "Rule", Kind: grid.KindString,
			String: func(e state.AlertEvent) string { return e.Rule }},
		{Name: "severity", Title: "Severity", Kind: grid.KindString,
			String: func(e state.AlertEvent) string { return e.Severity }},
		{Name: "metric", Title: "Metric", Kind: grid.KindString,
			String: func(e state.AlertEvent) string { return e.Metric }},
		{Name: "threshold", Title: "Threshold", Kind: grid.KindNumber,
			Number: func(e state.AlertEvent) float64 { return e.Threshold }},
		{Name: "value", Title: "Value", Kind: grid.KindNumber,
			Number: func(e state.AlertEvent) float64 { return e.Value }},
		{Name: "message", Title: "Message", Kind: grid.KindString,
			String: func(e state.AlertEvent) string { return e.Message }},
	})
}

func newRuleStateGrid() *grid.Grid[alert.RuleState] {
	return grid.New("rules", "Rules", []grid.Column[alert.RuleState]{
		{Name: "rule", Title: "Rule", Kind: grid.KindString,
			String: func(s alert.RuleState) string { return s.Rule.Name }},
		{Name: "metric", Title: "Metric", Kind: grid.KindString,
			String: func(s alert.RuleState) string { return s.Rule.Metric }},
		{Name: "op", Title: "Op", Kind: grid.KindString,
			String: func(s alert.RuleState) string { return s.Rule.Op }},
		{Name: "threshold", Title: "Threshold", Kind: grid.KindNumber,
			Number: func(s alert.RuleState) float64 { return s.Rule.Threshold }},
		{Name: "severity", Title: "Severity", Kind: grid.KindString,
			String: func(s alert.RuleState) string { return s.Rule.Severity }},
		{Name: "firing", Title: "Firing", Kind: grid.KindBool,
			Bool: func(s alert.RuleState) bool { return s.Firing }},
		{Name: "last_value", Title: "Last Value", Kind: grid.KindNumber,
			Number: func(s alert.RuleState) float64 { return s.LastValue }},
		{Name: "since", Title: "Breaching Since", Kind: grid.KindTime,
			Time: func(s alert.RuleState) time.Time { return s.Since }},
	})
}

func (p *alertsPanel) Refresh(ctx context.Context, win telemetry.TimeRange) error {
	started := time.Now()

	var events []state.AlertEvent
	if p.journal != nil {
		var err error
		events, err = p.journal.ListAlerts(p.instance, win, alertHistoryLimit)
		if err != nil {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.history.Clear()
			p.rules.Clear()
			p.series = nil
			p.metrics = nil
			p.status = failedStatus(win, started, err)
			return err
		}
	}
	states := p.engine.States()

	firing := 0
	for _, s := range states {
		if s.Firing {
			firing++
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.history.Reset(events)
	p.rules.Reset(states)
	p.series = buildAlertSeries(events, win)
	p.metrics = map[string]float64{
		"events": float64(len(events)),
		"firing": float64(firing),
	}
	p.status = okStatus(win, started, len(events)+len(states))
	return nil
}

func buildAlertSeries(events []state.AlertEvent, win telemetry.TimeRange) []chart.Series {
	step := chart.Step(win, 28)
	pts := make([]chart.Point, len(events))
	for i, e := range events {
		pts[i] = chart.Point{At: e.RaisedAt, Value: 1}
	}
	return []chart.Series{
		{Name: "alerts", Points: chart.Resample(pts, step, win, chart.Sum)},
	}
}
