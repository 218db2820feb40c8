// Package dash owns the dashboard panels and their refresh lifecycle. Each
// panel holds filterable row grids and chart series for one monitoring
// concern; a Dashboard fans a refresh out across all panels of one instance
// and a Hub fans out across instances. A panel failure is caught, logged and
// presented as that panel's empty state; it never takes down a sibling.
package dash

import (
	"context"
	"sync"
	"time"

	"github.com/leapstack-labs/sqlscope/internal/chart"
	"github.com/leapstack-labs/sqlscope/internal/grid"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

// DefaultHoursBack is the sliding window applied when nothing narrower has
// been requested.
const DefaultHoursBack = 24

// State is the refresh outcome a panel is currently presenting.
type State string

const (
	// StatePending means the panel has never refreshed.
	StatePending State = "pending"
	// StateOK means the last refresh succeeded.
	StateOK State = "ok"
	// StateFailed means the last refresh failed and the panel is showing
	// its empty state until the next one.
	StateFailed State = "failed"
)

// Status describes a panel's last refresh.
type Status struct {
	State       State               `json:"state"`
	Error       string              `json:"error,omitempty"`
	Window      telemetry.TimeRange `json:"window"`
	RefreshedAt time.Time           `json:"refreshed_at"`
	DurationMs  int64               `json:"duration_ms"`
	Rows        int                 `json:"rows"`
}

// Window is a panel's owned time range: a sliding last-N-hours window
// re-resolved at every refresh when Hours is set, or a pinned absolute range
// otherwise. The zero Window resolves to the default sliding window.
type Window struct {
	Hours int       `json:"hours,omitempty"`
	From  time.Time `json:"from,omitempty"`
	To    time.Time `json:"to,omitempty"`
}

// Resolve turns the preference into the concrete range to fetch.
func (w Window) Resolve() telemetry.TimeRange {
	if w.Hours > 0 {
		return telemetry.LastHours(w.Hours)
	}
	if !w.From.IsZero() || !w.To.IsZero() {
		return telemetry.Between(w.From, w.To)
	}
	return telemetry.LastHours(DefaultHoursBack)
}

// Sliding reports whether the window tracks now rather than a pinned range.
func (w Window) Sliding() bool { return w.Hours > 0 || (w.From.IsZero() && w.To.IsZero()) }

// Panel is one dashboard surface: a named set of grids, chart series and
// headline gauges refreshed together from a telemetry source.
type Panel interface {
	Name() string
	Title() string
	// Refresh fetches the panel's data for the window and swaps it in,
	// resetting grid filters. On error the panel presents its empty state.
	Refresh(ctx context.Context, win telemetry.TimeRange) error
	Grids() []grid.View
	Charts() []chart.Series
	// Metrics returns the panel's headline gauges; the dashboard prefixes
	// them with the panel name to form alert metric paths.
	Metrics() map[string]float64
	Status() Status
}

// panelState is the bookkeeping every panel embeds: identity, the lock
// serializing refresh swaps against grid access, and the published series,
// gauges and status.
type panelState struct {
	name  string
	title string

	mu      sync.RWMutex
	views   []grid.View
	series  []chart.Series
	metrics map[string]float64
	status  Status
}

func newPanelState(name, title string) panelState {
	return panelState{name: name, title: title, status: Status{State: StatePending}}
}

func (p *panelState) Name() string  { return p.name }
func (p *panelState) Title() string { return p.title }

func (p *panelState) Grids() []grid.View { return p.views }

func (p *panelState) Charts() []chart.Series {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]chart.Series, len(p.series))
	copy(out, p.series)
	return out
}

func (p *panelState) Metrics() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.metrics))
	for k, v := range p.metrics {
		out[k] = v
	}
	return out
}

func (p *panelState) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// wrap exposes the panel's typed grids through the panel lock. Callers of
// the returned views never see a half-swapped refresh.
func (p *panelState) wrap(grids ...grid.View) {
	views := make([]grid.View, len(grids))
	for i, g := range grids {
		views[i] = lockedView{mu: &p.mu, g: g}
	}
	p.views = views
}

func okStatus(win telemetry.TimeRange, started time.Time, rows int) Status {
	now := time.Now().UTC()
	return Status{
		State:       StateOK,
		Window:      win,
		RefreshedAt: now,
		DurationMs:  now.Sub(started).Milliseconds(),
		Rows:        rows,
	}
}

func failedStatus(win telemetry.TimeRange, started time.Time, err error) Status {
	now := time.Now().UTC()
	return Status{
		State:       StateFailed,
		Error:       err.Error(),
		Window:      win,
		RefreshedAt: now,
		DurationMs:  now.Sub(started).Milliseconds(),
	}
}

// lockedView adapts a grid to the View interface under the owning panel's
// lock, so filter calls from the API or TUI and the refresh swap serialize.
type lockedView struct {
	mu *sync.RWMutex
	g  grid.View
}

var _ grid.View = lockedView{}

func (v lockedView) Name() string  { return v.g.Name() }
func (v lockedView) Title() string { return v.g.Title() }

// Columns is lock-free: the schema never changes after construction.
func (v lockedView) Columns() []grid.ColumnSpec { return v.g.Columns() }

func (v lockedView) VisibleCells(includeAll bool) [][]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.g.VisibleCells(includeAll)
}

func (v lockedView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.g.Len()
}

func (v lockedView) VisibleLen() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.g.VisibleLen()
}

func (v lockedView) HasData() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.g.HasData()
}

func (v lockedView) Filters() []grid.Filter {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.g.Filters()
}

func (v lockedView) SetFilter(f grid.Filter) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.g.SetFilter(f)
}

func (v lockedView) ClearFilter(column string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.g.ClearFilter(column)
}

func (v lockedView) ClearFilters() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.g.ClearFilters()
}

func (v lockedView) SortBy(column string, desc bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.g.SortBy(column, desc)
}
