package watch

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/leapstack-labs/sqlscope/internal/chart"
	"github.com/leapstack-labs/sqlscope/internal/cli/output"
	"github.com/leapstack-labs/sqlscope/internal/dash"
	"github.com/leapstack-labs/sqlscope/internal/grid"
)

// chromeLines is the height the fixed chrome around a grid body consumes:
// header, tabs, spacing, grid title, column header, row count and footer.
const chromeLines = 9

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "starting up..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	if m.mode == viewPlan {
		return m.renderPlan()
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")
	b.WriteString(m.renderPanel())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	d := m.dashboard()
	parts := []string{
		titleStyle.Render("sqlscope"),
		instanceStyle.Render(d.Name()),
	}
	if len(m.dashboards) > 1 {
		parts = append(parts, mutedStyle.Render(fmt.Sprintf("(%d/%d)", m.instance+1, len(m.dashboards))))
	}
	parts = append(parts, headerMetaStyle.Render(windowLabel(d.DefaultWindow())))

	spinner := spinnerFrames[m.spinnerFrame%len(spinnerFrames)]
	switch {
	case m.refreshing:
		parts = append(parts, mutedStyle.Render(spinner+" refreshing"))
	case !m.lastRefresh.IsZero():
		parts = append(parts, mutedStyle.Render("updated "+ago(time.Since(m.lastRefresh))))
	}
	if m.planPending {
		parts = append(parts, flashStyle.Render(spinner+" capturing plan (esc cancels)"))
	}
	return strings.Join(parts, "  ")
}

func windowLabel(w dash.Window) string {
	if w.Sliding() {
		h := w.Hours
		if h <= 0 {
			h = dash.DefaultHoursBack
		}
		if h > 24 && h%24 == 0 {
			return fmt.Sprintf("last %dd", h/24)
		}
		return fmt.Sprintf("last %dh", h)
	}
	return w.From.Format("Jan 2 15:04") + " - " + w.To.Format("Jan 2 15:04")
}

func ago(d time.Duration) string {
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

func (m Model) renderTabs() string {
	tabs := make([]string, 0, len(m.panels()))
	for i, p := range m.panels() {
		label := p.Name()
		failed := p.Status().State == dash.StateFailed
		if failed {
			label = glyphFailed + " " + label
		}
		switch {
		case i == m.tab:
			tabs = append(tabs, tabActiveStyle.Render(label))
		case failed:
			tabs = append(tabs, tabFailedStyle.Render(label))
		default:
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	return strings.Join(tabs, " ")
}

func (m Model) renderPanel() string {
	p, ok := m.panel()
	if !ok {
		return mutedStyle.Render("no panels") + "\n"
	}

	st := p.Status()
	if st.State == dash.StatePending {
		return mutedStyle.Render("waiting for first refresh...") + "\n"
	}

	var b strings.Builder
	used := 0

	if st.State == dash.StateFailed {
		b.WriteString(critStyle.Render(p.Title() + " unavailable: " + st.Error))
		b.WriteString("\n\n")
		used += 2
	}

	if line := renderMetrics(p); line != "" {
		b.WriteString(line)
		b.WriteString("\n\n")
		used += 2
	}

	if charts := p.Charts(); len(charts) > 0 {
		for _, s := range charts {
			b.WriteString(m.renderSeries(s))
			b.WriteString("\n")
			used++
		}
		b.WriteString("\n")
		used++
	}

	gs := p.Grids()
	if len(gs) == 0 {
		return b.String()
	}
	if len(gs) > 1 {
		b.WriteString(m.renderGridSwitcher(gs))
		b.WriteString("\n")
		used++
	}
	b.WriteString(m.renderGrid(gs[clamp(m.gridIdx, 0, len(gs)-1)], used))
	return b.String()
}

func renderMetrics(p dash.Panel) string {
	gauges := p.Metrics()
	if len(gauges) == 0 {
		return ""
	}
	names := make([]string, 0, len(gauges))
	for name := range gauges {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, mutedStyle.Render(name+" ")+valueStyle.Render(formatGauge(gauges[name])))
	}
	return strings.Join(parts, "   ")
}

func formatGauge(v float64) string {
	if v == math.Trunc(v) {
		return humanize.Comma(int64(v))
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func (m Model) renderSeries(s chart.Series) string {
	label := s.Name
	if s.Unit != "" {
		label += " (" + s.Unit + ")"
	}
	width := m.width - 26
	if width < 10 {
		width = 10
	}
	line := sparkStyle.Render(sparkline(s.Points, width))
	latest := ""
	if v, ok := s.Latest(); ok {
		latest = " " + valueStyle.Render(trimFloat(v))
	}
	return fmt.Sprintf("%s %s%s", mutedStyle.Render(fmt.Sprintf("%-18s", label)), line, latest)
}

// sparkline renders points as one line of bar glyphs, gaps as spaces. Series
// longer than the width are downsampled keeping each bucket's maximum, so
// short spikes stay visible.
func sparkline(points []chart.Point, width int) string {
	if width <= 0 || len(points) == 0 {
		return ""
	}
	if len(points) > width {
		points = bucketMax(points, width)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		if p.IsGap() {
			continue
		}
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}
	if lo > hi {
		return strings.Repeat(" ", len(points))
	}

	var b strings.Builder
	for _, p := range points {
		if p.IsGap() {
			b.WriteRune(' ')
			continue
		}
		level := len(sparkLevels) / 2
		if hi > lo {
			level = int((p.Value - lo) / (hi - lo) * float64(len(sparkLevels)-1))
		}
		b.WriteRune(sparkLevels[clamp(level, 0, len(sparkLevels)-1)])
	}
	return b.String()
}

func bucketMax(points []chart.Point, width int) []chart.Point {
	out := make([]chart.Point, width)
	for i := 0; i < width; i++ {
		start := i * len(points) / width
		end := (i + 1) * len(points) / width
		if end <= start {
			end = start + 1
		}
		best := chart.Point{At: points[start].At, Value: math.NaN()}
		for _, p := range points[start:end] {
			if p.IsGap() {
				continue
			}
			if best.IsGap() || p.Value > best.Value {
				best = p
			}
		}
		out[i] = best
	}
	return out
}

func (m Model) renderGridSwitcher(gs []grid.View) string {
	active := clamp(m.gridIdx, 0, len(gs)-1)
	parts := make([]string, 0, len(gs))
	for i, g := range gs {
		if i == active {
			parts = append(parts, tabActiveStyle.Render(g.Title()))
		} else {
			parts = append(parts, tabStyle.Render(g.Title()))
		}
	}
	return strings.Join(parts, " ")
}

func (m Model) renderGrid(v grid.View, used int) string {
	var b strings.Builder

	title := gridTitleStyle.Render(v.Title())
	if badges := filterBadges(v); badges != "" {
		title += "  " + badges
	}
	b.WriteString(title)
	b.WriteString("\n")

	if !v.HasData() {
		b.WriteString(mutedStyle.Render("no data yet"))
		b.WriteString("\n")
		return b.String()
	}

	cells := v.VisibleCells(false)
	if len(cells) == 0 {
		if len(v.Filters()) > 0 {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("0 of %d rows, filters active (f clears one, F all)", v.Len())))
		} else {
			b.WriteString(mutedStyle.Render("no rows in this window"))
		}
		b.WriteString("\n")
		return b.String()
	}

	cols := v.Columns()
	widths := columnWidths(cols, cells)

	hdr := make([]string, 0, len(cols))
	for i, c := range cols {
		cell := pad(c.Title, widths[i])
		if i == m.col {
			cell = colHeaderFocusStyle.Render(cell)
		} else {
			cell = colHeaderStyle.Render(cell)
		}
		hdr = append(hdr, cell)
	}
	b.WriteString(strings.Join(hdr, "  "))
	b.WriteString("\n")

	maxRows := m.height - used - chromeLines
	if maxRows < 3 {
		maxRows = 3
	}
	start := 0
	if len(cells) > maxRows {
		start = clamp(m.row-maxRows/2, 0, len(cells)-maxRows)
	}
	end := start + maxRows
	if end > len(cells) {
		end = len(cells)
	}

	for r := start; r < end; r++ {
		line := make([]string, 0, len(cols))
		for i, c := range cols {
			line = append(line, pad(output.FormatCell(c, cells[r][i]), widths[i]))
		}
		row := strings.Join(line, "  ")
		if r == m.row {
			row = selectedRowStyle.Render(row)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}

	count := fmt.Sprintf("%d rows", v.Len())
	if v.VisibleLen() != v.Len() {
		count = fmt.Sprintf("%d of %d rows", v.VisibleLen(), v.Len())
	}
	if len(cells) > 1 {
		count += fmt.Sprintf(", row %d", m.row+1)
	}
	b.WriteString(mutedStyle.Render(count))
	b.WriteString("\n")
	return b.String()
}

// columnWidths sizes each column to its widest cell, capped so one long
// query text cannot push the rest of the grid off screen.
func columnWidths(cols []grid.ColumnSpec, cells [][]any) []int {
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = utf8.RuneCountInString(c.Title)
	}
	for _, row := range cells {
		for i, c := range cols {
			if i >= len(row) {
				continue
			}
			if n := utf8.RuneCountInString(output.FormatCell(c, row[i])); n > widths[i] {
				widths[i] = n
			}
		}
	}
	for i, c := range cols {
		limit := 18
		if c.Kind == grid.KindString {
			limit = 44
		}
		if widths[i] > limit {
			widths[i] = limit
		}
	}
	return widths
}

func pad(s string, width int) string {
	runes := []rune(s)
	if len(runes) > width {
		if width <= 1 {
			return string(runes[:width])
		}
		return string(runes[:width-1]) + "…"
	}
	return s + strings.Repeat(" ", width-len(runes))
}

func filterBadges(v grid.View) string {
	fs := v.Filters()
	if len(fs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fs))
	for _, f := range fs {
		parts = append(parts, filterBadgeStyle.Render("⚑ "+filterLabel(f)))
	}
	return strings.Join(parts, " ")
}

func filterLabel(f grid.Filter) string {
	switch f.Op {
	case grid.OpContains:
		return fmt.Sprintf("%s~%q", f.Column, f.Text)
	case grid.OpIsTrue:
		return f.Column + "=yes"
	case grid.OpIsFalse:
		return f.Column + "=no"
	case grid.OpBetween:
		return fmt.Sprintf("%s in [%s, %s]", f.Column, trimFloat(f.Number), trimFloat(f.Upper))
	case grid.OpEquals, grid.OpNotEquals:
		if f.Text != "" {
			return fmt.Sprintf("%s%s%q", f.Column, opGlyph(f.Op), f.Text)
		}
		return fmt.Sprintf("%s%s%s", f.Column, opGlyph(f.Op), trimFloat(f.Number))
	default:
		return fmt.Sprintf("%s%s%s", f.Column, opGlyph(f.Op), trimFloat(f.Number))
	}
}

func opGlyph(op grid.Op) string {
	switch op {
	case grid.OpEquals:
		return "="
	case grid.OpNotEquals:
		return "!="
	case grid.OpGreater:
		return ">"
	case grid.OpGreaterEq:
		return ">="
	case grid.OpLess:
		return "<"
	case grid.OpLessEq:
		return "<="
	default:
		return string(op)
	}
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (m Model) renderFooter() string {
	if m.filtering {
		label := "filter"
		if _, col, ok := m.focusedColumn(); ok {
			label = "filter " + col.Name
		}
		return promptStyle.Render(label+" ❯ ") + m.filterInput.View()
	}

	var b strings.Builder
	if m.flash != "" {
		b.WriteString(flashStyle.Render(m.flash))
		b.WriteString("\n")
	}
	hints := []string{
		"tab panel", "[ ] grid", "i instance", "/ filter", "s sort",
		"p plan", "1/2/3 window", "r refresh", "? help", "q quit",
	}
	b.WriteString(footerStyle.Render(strings.Join(hints, " | ")))
	return b.String()
}

func (m Model) renderPlan() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("sqlscope"))
	b.WriteString("  ")
	b.WriteString(instanceStyle.Render(m.dashboard().Name()))
	b.WriteString("  ")
	b.WriteString(headerMetaStyle.Render(fmt.Sprintf("execution plan, query %d", m.planQueryID)))
	b.WriteString("\n\n")
	if m.viewportReady {
		b.WriteString(m.planView.View())
	}
	b.WriteString("\n")
	b.WriteString(footerStyle.Render("↑/↓ scroll | esc back | q quit"))
	return b.String()
}

func (m Model) renderHelp() string {
	rows := []struct{ key, what string }{
		{"tab / shift+tab", "next / previous panel"},
		{"[ / ]", "previous / next grid"},
		{"i", "next instance"},
		{"↑/↓ or j/k", "move row"},
		{"←/→ or h/l", "move column"},
		{"/", "filter the focused column"},
		{"f / F", "clear column filter / all filters"},
		{"s / S", "sort descending / ascending"},
		{"1 / 2 / 3", "window: last hour / day / week"},
		{"p", "capture execution plan for the selected query"},
		{"esc", "cancel plan capture, dismiss messages"},
		{"r", "refresh now"},
		{"q", "quit"},
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("keys"))
	b.WriteString("\n\n")
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("%s  %s\n", promptStyle.Render(fmt.Sprintf("%-16s", r.key)), r.what))
	}
	box := helpBoxStyle.Render(strings.TrimRight(b.String(), "\n"))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func wrapToWidth(s string, w int) string {
	if w <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(w).Render(s)
}
