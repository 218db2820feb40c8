// dashboard.go - Per-instance orchestrator: fan-out refresh, alert eval, journal.
package dash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/leapstack-labs/sqlscope/internal/alert"
	"github.com/leapstack-labs/sqlscope/internal/state"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

// ErrUnknownPanel reports a panel name no dashboard surface carries.
var ErrUnknownPanel = errors.New("unknown panel")

// PanelReport is one panel's outcome inside a refresh report.
type PanelReport struct {
	Panel      string `json:"panel"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Rows       int    `json:"rows"`
	DurationMs int64  `json:"duration_ms"`
}

// Report summarizes one full refresh: per-panel outcomes and the alerts the
// run raised. Panel failures live here as data, never as a returned error.
type Report struct {
	RunID      string              `json:"run_id,omitempty"`
	Instance   string              `json:"instance"`
	Window     telemetry.TimeRange `json:"window"`
	StartedAt  time.Time           `json:"started_at"`
	DurationMs int64               `json:"duration_ms"`
	Panels     []PanelReport       `json:"panels"`
	Alerts     []alert.Event       `json:"alerts,omitempty"`
}

// OKCount returns how many panels refreshed cleanly.
func (r Report) OKCount() int {
	n := 0
	for _, p := range r.Panels {
		if p.OK {
			n++
		}
	}
	return n
}

// FailedCount returns how many panels failed.
func (r Report) FailedCount() int { return len(r.Panels) - r.OKCount() }

// Status folds the panel outcomes into a run status.
func (r Report) Status() state.RunStatus {
	switch {
	case r.FailedCount() == 0:
		return state.RunStatusOK
	case r.OKCount() == 0:
		return state.RunStatusFailed
	default:
		return state.RunStatusPartial
	}
}

// Options tune a dashboard beyond its wiring.
type Options struct {
	// Rules is the alert rule set evaluated after every refresh.
	Rules []alert.Rule
	// TopQueries caps the queries panel row count. Default 100.
	TopQueries int
	// HoursBack seeds every panel's sliding window. Default 24.
	HoursBack int
}

// Dashboard drives the eight panels of one monitored instance.
type Dashboard struct {
	name    string
	src     telemetry.Source
	journal *state.Store
	engine  *alert.Engine
	logger  *slog.Logger

	panels   []Panel
	byName   map[string]Panel
	overview *overviewPanel
	alerts   *alertsPanel

	refreshGroup singleflight.Group

	mu         sync.RWMutex
	defaultWin Window
	windows    map[string]Window
	last       Report
	hasReport  bool

	planMu     sync.Mutex
	planSeq    uint64
	cancelPlan context.CancelFunc
}

// New wires the panels for one instance. The journal may be nil for one-shot
// use; journal-backed panels then serve empty grids and runs go unrecorded.
func New(name string, src telemetry.Source, journal *state.Store, opts Options, logger *slog.Logger) (*Dashboard, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("instance", name)

	engine, err := alert.NewEngine(opts.Rules, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid alert rules: %w", err)
	}
	top := opts.TopQueries
	if top <= 0 {
		top = 100
	}
	hours := opts.HoursBack
	if hours <= 0 {
		hours = DefaultHoursBack
	}

	d := &Dashboard{
		name:       name,
		src:        src,
		journal:    journal,
		engine:     engine,
		logger:     logger,
		defaultWin: Window{Hours: hours},
		windows:    make(map[string]Window),
	}
	d.overview = newOverviewPanel(name, src, journal)
	d.alerts = newAlertsPanel(name, journal, engine)
	d.panels = []Panel{
		d.overview,
		newQueriesPanel(src, top),
		newMemoryPanel(src),
		newResourcesPanel(src),
		newEventsPanel(src),
		newConfigChangesPanel(src),
		d.alerts,
		newTracePanel(src),
	}
	d.byName = make(map[string]Panel, len(d.panels))
	for _, p := range d.panels {
		d.byName[p.Name()] = p
	}
	return d, nil
}

// Name returns the instance name the dashboard monitors.
func (d *Dashboard) Name() string { return d.name }

// Panels returns the panels in display order.
func (d *Dashboard) Panels() []Panel {
	out := make([]Panel, len(d.panels))
	copy(out, d.panels)
	return out
}

// Panel looks a panel up by name.
func (d *Dashboard) Panel(name string) (Panel, bool) {
	p, ok := d.byName[name]
	return p, ok
}

// PanelWindow returns the panel's owned window preference.
func (d *Dashboard) PanelWindow(panel string) Window {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if w, ok := d.windows[panel]; ok {
		return w
	}
	return d.defaultWin
}

// SetWindow pins one panel's window; the next refresh uses it.
func (d *Dashboard) SetWindow(panel string, w Window) error {
	if _, ok := d.byName[panel]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPanel, panel)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows[panel] = w
	return nil
}

// SetAllWindows resets every panel to the same window preference.
func (d *Dashboard) SetAllWindows(w Window) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultWin = w
	d.windows = make(map[string]Window)
}

// DefaultWindow returns the preference panels fall back to when none of
// their own is pinned.
func (d *Dashboard) DefaultWindow() Window {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.defaultWin
}

// LastReport returns the most recent refresh report, false before the first.
func (d *Dashboard) LastReport() (Report, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last, d.hasReport
}

// Metrics merges every panel's gauges under "panel.gauge" keys, the namespace
// alert rules address.
func (d *Dashboard) Metrics() map[string]float64 {
	out := make(map[string]float64)
	for _, p := range d.panels {
		for k, v := range p.Metrics() {
			out[p.Name()+"."+k] = v
		}
	}
	return out
}

// RefreshAll refreshes every panel concurrently with its own window and
// waits for all of them. A panel failure is logged and folded into the
// report; siblings run to completion regardless. Concurrent calls coalesce
// onto one run.
func (d *Dashboard) RefreshAll(ctx context.Context) Report {
	v, _, _ := d.refreshGroup.Do("refresh-all", func() (any, error) {
		return d.refreshAll(ctx), nil
	})
	return v.(Report)
}

func (d *Dashboard) refreshAll(ctx context.Context) Report {
	started := time.Now().UTC()
	reports := make([]PanelReport, len(d.panels))

	// Deliberately not errgroup.WithContext: one panel failing must not
	// cancel its siblings mid-fetch.
	var g errgroup.Group
	for i, p := range d.panels {
		g.Go(func() error {
			reports[i] = d.refreshOne(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	events := d.engine.Eval(started, d.Metrics())
	rep := Report{
		Instance:   d.name,
		Window:     d.DefaultWindow().Resolve(),
		StartedAt:  started,
		DurationMs: time.Since(started).Milliseconds(),
		Panels:     reports,
		Alerts:     events,
	}
	d.journalReport(&rep)

	// Rule states and any events journaled above landed after the fan-out;
	// read them back so the alert surfaces reflect this run, not the last.
	d.touchUp(ctx, events)

	d.mu.Lock()
	d.last = rep
	d.hasReport = true
	d.mu.Unlock()

	d.logger.Info("refresh complete",
		"ok", rep.OKCount(), "failed", rep.FailedCount(),
		"alerts", len(events), "took", time.Since(started).Round(time.Millisecond))
	return rep
}

func (d *Dashboard) refreshOne(ctx context.Context, p Panel) PanelReport {
	win := d.PanelWindow(p.Name()).Resolve()
	t0 := time.Now()
	err := p.Refresh(ctx, win)
	rep := PanelReport{
		Panel:      p.Name(),
		OK:         err == nil,
		Rows:       p.Status().Rows,
		DurationMs: time.Since(t0).Milliseconds(),
	}
	if err != nil {
		rep.Error = err.Error()
		d.logger.Error("panel refresh failed", "panel", p.Name(), "error", err)
		return rep
	}
	d.logger.Debug("panel refreshed", "panel", p.Name(), "rows", rep.Rows,
		"took", time.Since(t0).Round(time.Millisecond))
	return rep
}

func (d *Dashboard) touchUp(ctx context.Context, events []alert.Event) {
	if err := d.alerts.Refresh(ctx, d.PanelWindow(d.alerts.Name()).Resolve()); err != nil {
		d.logger.Debug("alerts panel re-read failed", "error", err)
	}
	if len(events) == 0 {
		return
	}
	if err := d.overview.Refresh(ctx, d.PanelWindow(d.overview.Name()).Resolve()); err != nil {
		d.logger.Debug("overview panel re-read failed", "error", err)
	}
}

// RefreshPanel refreshes a single panel, optionally pinning a new window
// first. The zero Window keeps the panel's current preference.
func (d *Dashboard) RefreshPanel(ctx context.Context, panel string, w Window) (PanelReport, error) {
	p, ok := d.byName[panel]
	if !ok {
		return PanelReport{}, fmt.Errorf("%w: %q", ErrUnknownPanel, panel)
	}
	if w != (Window{}) {
		if err := d.SetWindow(panel, w); err != nil {
			return PanelReport{}, err
		}
	}
	return d.refreshOne(ctx, p), nil
}

func (d *Dashboard) journalReport(rep *Report) {
	if d.journal == nil {
		return
	}
	if len(rep.Alerts) > 0 {
		events := make([]state.AlertEvent, len(rep.Alerts))
		for i, e := range rep.Alerts {
			events[i] = state.AlertEvent{
				Instance:  d.name,
				Rule:      e.Rule,
				Metric:    e.Metric,
				Op:        e.Op,
				Threshold: e.Threshold,
				Value:     e.Value,
				Severity:  e.Severity,
				Message:   e.Message,
				RaisedAt:  e.RaisedAt,
			}
		}
		if err := d.journal.RecordAlerts(events); err != nil {
			d.logger.Error("failed to journal alert events", "error", err)
		}
	}

	run := state.Run{
		Instance:     d.name,
		Status:       rep.Status(),
		WindowFrom:   rep.Window.From,
		WindowTo:     rep.Window.To,
		StartedAt:    rep.StartedAt,
		CompletedAt:  rep.StartedAt.Add(time.Duration(rep.DurationMs) * time.Millisecond),
		PanelsOK:     rep.OKCount(),
		PanelsFailed: rep.FailedCount(),
		Panels:       make([]state.PanelRun, len(rep.Panels)),
	}
	for i, p := range rep.Panels {
		status := state.RunStatusOK
		if !p.OK {
			status = state.RunStatusFailed
		}
		run.Panels[i] = state.PanelRun{
			Panel:      p.Panel,
			Status:     status,
			Rows:       p.Rows,
			DurationMs: p.DurationMs,
			Error:      p.Error,
		}
	}
	id, err := d.journal.RecordRun(run)
	if err != nil {
		d.logger.Error("failed to journal run", "error", err)
		return
	}
	rep.RunID = id
}

// CapturePlan fetches the execution plan for a Query Store query. At most
// one capture runs per dashboard; starting another cancels the one in
// flight, as does CancelPlan or the caller's own ctx. Cancellation comes
// back as context.Canceled.
func (d *Dashboard) CapturePlan(ctx context.Context, queryID int64) (string, error) {
	ctx, cancel := context.WithCancel(ctx)

	d.planMu.Lock()
	if d.cancelPlan != nil {
		d.cancelPlan()
	}
	d.planSeq++
	seq := d.planSeq
	d.cancelPlan = cancel
	d.planMu.Unlock()

	defer func() {
		d.planMu.Lock()
		if d.planSeq == seq {
			d.cancelPlan = nil
		}
		d.planMu.Unlock()
		cancel()
	}()

	d.logger.Debug("capturing plan", "query_id", queryID)
	plan, err := d.src.QueryPlan(ctx, queryID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			d.logger.Info("plan capture cancelled", "query_id", queryID)
		} else {
			d.logger.Error("plan capture failed", "query_id", queryID, "error", err)
		}
		return "", err
	}
	return plan, nil
}

// CancelPlan cancels the in-flight plan capture, reporting whether there
// was one.
func (d *Dashboard) CancelPlan() bool {
	d.planMu.Lock()
	defer d.planMu.Unlock()
	if d.cancelPlan == nil {
		return false
	}
	d.cancelPlan()
	d.cancelPlan = nil
	return true
}

// ReloadRules swaps the alert rule set, keeping breach state for unchanged
// rules.
func (d *Dashboard) ReloadRules(rules []alert.Rule) error {
	if err := d.engine.Replace(rules); err != nil {
		return err
	}
	d.logger.Info("alert rules reloaded", "rules", len(rules))
	return nil
}

// RuleStates exposes the live alert rule states.
func (d *Dashboard) RuleStates() []alert.RuleState { return d.engine.States() }

// Close releases the telemetry source.
func (d *Dashboard) Close() error { return d.src.Close() }
