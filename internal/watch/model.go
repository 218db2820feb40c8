package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/leapstack-labs/sqlscope/internal/dash"
	"github.com/leapstack-labs/sqlscope/internal/grid"
)

type viewMode int

const (
	viewPanels viewMode = iota
	viewPlan
)

const (
	spinnerInterval = 120 * time.Millisecond
	refreshTimeout  = 30 * time.Second
	planTimeout     = 30 * time.Second
	defaultInterval = time.Minute
)

// Model is the dashboard state. Panels and grids live in the dash layer;
// the model only tracks which of them the cursor is on.
type Model struct {
	dashboards []*dash.Dashboard
	logger     *slog.Logger
	interval   time.Duration

	instance int
	tab      int
	gridIdx  int
	col      int
	row      int

	width  int
	height int

	refreshing   bool
	spinnerFrame int
	lastRefresh  time.Time
	flash        string

	filtering   bool
	filterInput textinput.Model

	mode          viewMode
	planPending   bool
	planQueryID   int64
	planSeq       int
	planText      string
	planView      viewport.Model
	viewportReady bool

	showHelp bool
	quitting bool
}

type tickMsg time.Time

type spinnerTickMsg time.Time

type refreshedMsg struct {
	instance string
	report   dash.Report
}

type planMsg struct {
	seq     int
	queryID int64
	plan    string
	err     error
}

func newModel(cfg Config) Model {
	ti := textinput.New()
	ti.CharLimit = 64
	ti.Width = 32
	ti.Prompt = ""

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return Model{
		dashboards:  cfg.Hub.Dashboards(),
		logger:      logger,
		interval:    interval,
		filterInput: ti,
		refreshing:  true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.tickCmd(), m.spinnerTickCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.filtering {
			cmd := m.updateFilterPrompt(msg)
			return m, cmd
		}
		if handled, cmd := m.handleKey(msg); handled {
			return m, cmd
		}
		if m.mode == viewPlan && m.viewportReady {
			var cmd tea.Cmd
			m.planView, cmd = m.planView.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sizeViewport()
		return m, nil

	case tickMsg:
		refresh := m.startRefresh()
		return m, tea.Batch(m.tickCmd(), refresh)

	case spinnerTickMsg:
		m.spinnerFrame = (m.spinnerFrame + 1) % 10000
		return m, m.spinnerTickCmd()

	case refreshedMsg:
		m.refreshing = false
		m.lastRefresh = time.Now()
		m.clampCursor()
		if msg.instance == m.dashboard().Name() && msg.report.FailedCount() > 0 {
			m.flash = fmt.Sprintf("%d of %d panels failed", msg.report.FailedCount(), len(msg.report.Panels))
		}
		return m, nil

	case planMsg:
		// A result from a capture the user already cancelled or replaced.
		if msg.seq != m.planSeq {
			return m, nil
		}
		m.planPending = false
		switch {
		case errors.Is(msg.err, context.Canceled):
			return m, nil
		case errors.Is(msg.err, context.DeadlineExceeded):
			m.flash = fmt.Sprintf("plan capture for query %d timed out", msg.queryID)
			return m, nil
		case msg.err != nil:
			m.logger.Warn("plan capture failed", "query_id", msg.queryID, "error", msg.err)
			m.flash = fmt.Sprintf("plan capture failed: %v", msg.err)
			return m, nil
		}
		m.mode = viewPlan
		m.planQueryID = msg.queryID
		m.planText = msg.plan
		if m.viewportReady {
			m.planView.SetContent(wrapToWidth(m.planText, m.planView.Width))
			m.planView.GotoTop()
		}
		return m, nil
	}

	return m, nil
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) spinnerTickCmd() tea.Cmd {
	return tea.Tick(spinnerInterval, func(t time.Time) tea.Msg { return spinnerTickMsg(t) })
}

func (m Model) refreshCmd() tea.Cmd {
	d := m.dashboard()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		return refreshedMsg{instance: d.Name(), report: d.RefreshAll(ctx)}
	}
}

func (m Model) planCmd(queryID int64, seq int) tea.Cmd {
	d := m.dashboard()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), planTimeout)
		defer cancel()
		plan, err := d.CapturePlan(ctx, queryID)
		return planMsg{seq: seq, queryID: queryID, plan: plan, err: err}
	}
}

// startRefresh kicks off a refresh of the current instance unless one is
// already in flight.
func (m *Model) startRefresh() tea.Cmd {
	if m.refreshing {
		return nil
	}
	m.refreshing = true
	return m.refreshCmd()
}

func (m *Model) setWindow(hours int) tea.Cmd {
	w := dash.Window{Hours: hours}
	m.dashboard().SetAllWindows(w)
	m.flash = "window set to " + windowLabel(w)
	return m.startRefresh()
}

func (m *Model) openFilterPrompt() tea.Cmd {
	_, col, ok := m.focusedColumn()
	if !ok {
		m.flash = "no grid to filter here"
		return nil
	}
	if col.Kind == grid.KindTime {
		m.flash = col.Name + " is a time column, use the window keys instead"
		return nil
	}
	m.filtering = true
	m.filterInput.Reset()
	m.filterInput.Placeholder = filterPlaceholder(col)
	return m.filterInput.Focus()
}

func filterPlaceholder(col grid.ColumnSpec) string {
	switch col.Kind {
	case grid.KindNumber:
		return ">100, <=5 or 10,500"
	case grid.KindBool:
		return "yes or no"
	default:
		return "text, =exact or !=text"
	}
}

func (m *Model) updateFilterPrompt(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "enter":
		expr := m.filterInput.Value()
		m.closeFilterPrompt()
		m.applyFilterExpr(expr)
		return nil
	case "esc":
		m.closeFilterPrompt()
		return nil
	}
	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	return cmd
}

func (m *Model) closeFilterPrompt() {
	m.filtering = false
	m.filterInput.Reset()
	m.filterInput.Blur()
}

func (m *Model) applyFilterExpr(expr string) {
	v, col, ok := m.focusedColumn()
	if !ok || strings.TrimSpace(expr) == "" {
		return
	}
	f, err := grid.ParseFilterExpr(col, expr)
	if err != nil {
		m.flash = err.Error()
		return
	}
	if err := v.SetFilter(f); err != nil {
		m.flash = err.Error()
		return
	}
	m.row = 0
	m.flash = ""
}

func (m *Model) clearFocusedFilter() {
	v, col, ok := m.focusedColumn()
	if !ok {
		return
	}
	if v.ClearFilter(col.Name) {
		m.flash = ""
		m.clampCursor()
	}
}

func (m *Model) clearAllFilters() {
	v, ok := m.focusedGrid()
	if !ok {
		return
	}
	v.ClearFilters()
	m.clampCursor()
}

func (m *Model) sortFocused(desc bool) {
	v, col, ok := m.focusedColumn()
	if !ok {
		return
	}
	if err := v.SortBy(col.Name, desc); err != nil {
		m.flash = err.Error()
		return
	}
	m.row = 0
}

// capturePlanForSelection starts an execution plan capture for the query on
// the selected row. Starting a new capture supersedes any capture still in
// flight; the dash layer cancels it.
func (m *Model) capturePlanForSelection() tea.Cmd {
	v, ok := m.focusedGrid()
	if !ok {
		return nil
	}
	idx := columnIndex(v, "query_id")
	if idx < 0 {
		m.flash = "no execution plans on this panel"
		return nil
	}
	cells := v.VisibleCells(false)
	if m.row >= len(cells) {
		m.flash = "no row selected"
		return nil
	}
	id, ok := cells[m.row][idx].(float64)
	if !ok {
		m.flash = "no query id on this row"
		return nil
	}
	m.planPending = true
	m.planSeq++
	m.flash = ""
	return m.planCmd(int64(id), m.planSeq)
}

func (m *Model) selectPanel(delta int) {
	n := len(m.panels())
	if n == 0 {
		return
	}
	m.tab = ((m.tab+delta)%n + n) % n
	m.resetCursor()
}

func (m *Model) selectInstance() tea.Cmd {
	if len(m.dashboards) < 2 {
		return nil
	}
	m.instance = (m.instance + 1) % len(m.dashboards)
	m.clampCursor()
	if _, ok := m.dashboard().LastReport(); !ok {
		return m.startRefresh()
	}
	return nil
}

func (m *Model) selectGrid(delta int) {
	n := len(m.grids())
	if n == 0 {
		return
	}
	m.gridIdx = ((m.gridIdx+delta)%n + n) % n
	m.col = 0
	m.row = 0
}

func (m *Model) moveRow(delta int) {
	v, ok := m.focusedGrid()
	if !ok {
		return
	}
	last := v.VisibleLen() - 1
	if last < 0 {
		m.row = 0
		return
	}
	m.row = clamp(m.row+delta, 0, last)
}

func (m *Model) moveColumn(delta int) {
	v, ok := m.focusedGrid()
	if !ok {
		return
	}
	last := len(v.Columns()) - 1
	if last < 0 {
		m.col = 0
		return
	}
	m.col = clamp(m.col+delta, 0, last)
}

func (m *Model) resetCursor() {
	m.gridIdx, m.col, m.row = 0, 0, 0
}

func (m *Model) clampCursor() {
	gs := m.grids()
	if len(gs) == 0 {
		m.resetCursor()
		return
	}
	m.gridIdx = clamp(m.gridIdx, 0, len(gs)-1)
	v := gs[m.gridIdx]
	if n := len(v.Columns()); n == 0 {
		m.col = 0
	} else {
		m.col = clamp(m.col, 0, n-1)
	}
	if n := v.VisibleLen(); n == 0 {
		m.row = 0
	} else {
		m.row = clamp(m.row, 0, n-1)
	}
}

func (m Model) dashboard() *dash.Dashboard {
	return m.dashboards[m.instance]
}

func (m Model) panels() []dash.Panel {
	return m.dashboard().Panels()
}

func (m Model) panel() (dash.Panel, bool) {
	ps := m.panels()
	if m.tab >= len(ps) {
		return nil, false
	}
	return ps[m.tab], true
}

func (m Model) grids() []grid.View {
	p, ok := m.panel()
	if !ok {
		return nil
	}
	return p.Grids()
}

func (m Model) focusedGrid() (grid.View, bool) {
	gs := m.grids()
	if len(gs) == 0 || m.gridIdx >= len(gs) {
		return nil, false
	}
	return gs[m.gridIdx], true
}

func (m Model) focusedColumn() (grid.View, grid.ColumnSpec, bool) {
	v, ok := m.focusedGrid()
	if !ok {
		return nil, grid.ColumnSpec{}, false
	}
	cols := v.Columns()
	if m.col >= len(cols) {
		return nil, grid.ColumnSpec{}, false
	}
	return v, cols[m.col], true
}

func columnIndex(v grid.View, name string) int {
	for i, c := range v.Columns() {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (m *Model) sizeViewport() {
	headerHeight := 3
	footerHeight := 2
	h := m.height - headerHeight - footerHeight
	if h < 1 {
		h = 1
	}
	if !m.viewportReady {
		m.planView = viewport.New(m.width, h)
		m.planView.YPosition = headerHeight
		m.viewportReady = true
	} else {
		m.planView.Width = m.width
		m.planView.Height = h
	}
	if m.planText != "" {
		m.planView.SetContent(wrapToWidth(m.planText, m.width))
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
