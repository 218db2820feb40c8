package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlscope/internal/alert"
	"github.com/leapstack-labs/sqlscope/internal/cli/output"
	"github.com/leapstack-labs/sqlscope/internal/dash"
	"github.com/leapstack-labs/sqlscope/internal/grid"
	"github.com/leapstack-labs/sqlscope/internal/state"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

// panelNames lists the panels in display order for completion and help.
var panelNames = []string{
	"overview", "queries", "memory", "resources",
	"system-events", "config-changes", "alerts", "default-trace",
}

// SnapshotOutput is the JSON envelope for one instance's snapshot.
type SnapshotOutput struct {
	Instance string              `json:"instance"`
	Status   state.RunStatus     `json:"status"`
	Window   telemetry.TimeRange `json:"window"`
	TookMs   int64               `json:"took_ms"`
	Panels   []SnapshotPanel     `json:"panels"`
	Alerts   []alert.Event       `json:"alerts,omitempty"`
}

// SnapshotPanel is one panel's contribution to the JSON envelope.
type SnapshotPanel struct {
	Name   string       `json:"name"`
	Title  string       `json:"title"`
	Status dash.Status  `json:"status"`
	Grids  []GridOutput `json:"grids"`
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot [panel]",
		Short: "Sample the configured instances once and print the dashboards",
		Long: fmt.Sprintf(`Refresh every panel once and print the resulting grids.

With a panel argument only that panel is refreshed. Panels:
  %s

Filters narrow the printed rows without changing what was sampled. A filter
spec is column:op[:operand] and applies to every grid of the panel that has
the column; all filters on a grid must match for a row to show.`,
			strings.Join(panelNames, ", ")),
		Example: `  # All panels of all instances over the default window
  sqlscope snapshot

  # Query Store panel for the prod instance, last 48 hours
  sqlscope snapshot queries --instance prod --hours 48

  # A pinned window
  sqlscope snapshot queries --from "2026-08-20 09:00" --to "2026-08-20 17:00"

  # Expensive queries only
  sqlscope snapshot queries --filter avg_cpu_ms:gt:500 --sort total_cpu_ms --desc

  # Machine-readable snapshot
  sqlscope snapshot -o json > snapshot.json`,
		ValidArgs: panelNames,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		RunE:      runSnapshot,
	}

	cmd.Flags().Int("hours", 0, "Sliding window in hours")
	cmd.Flags().String("from", "", "Window start (RFC 3339 or \"2006-01-02 15:04\")")
	cmd.Flags().String("to", "", "Window end, defaults to now")
	cmd.Flags().StringArray("filter", nil, "Row filter column:op[:operand], repeatable")
	cmd.Flags().String("sort", "", "Sort grids by this column")
	cmd.Flags().Bool("desc", false, "Sort descending")
	cmd.Flags().String("grid", "", "Print only the named grid")

	return cmd
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	c := NewCommandContext(cmd)
	r := c.Renderer

	var panelName string
	if len(args) == 1 {
		panelName = args[0]
	}

	win, err := windowFromFlags(cmd)
	if err != nil {
		return err
	}

	filterSpecs, _ := cmd.Flags().GetStringArray("filter")
	sortCol, _ := cmd.Flags().GetString("sort")
	sortDesc, _ := cmd.Flags().GetBool("desc")
	gridName, _ := cmd.Flags().GetString("grid")

	journal, closeJournal, err := c.OpenJournal()
	if err != nil {
		r.Warning(fmt.Sprintf("journal unavailable, run not recorded: %v", err))
		journal = nil
	} else {
		defer closeJournal()
	}

	hub, closeHub, err := c.BuildHub(journal)
	if err != nil {
		return err
	}
	defer closeHub()

	ctx := cmd.Context()
	var outs []SnapshotOutput
	gridMatched := false

	for _, d := range hub.Dashboards() {
		if win != (dash.Window{}) {
			d.SetAllWindows(win)
		}

		var spinner *output.Spinner
		if r.EffectiveMode() == output.ModeText {
			spinner = r.NewSpinner(fmt.Sprintf("Sampling %s...", d.Name()))
			spinner.Start()
		}

		rep, err := refreshDashboard(ctx, d, panelName)
		if err != nil {
			if spinner != nil {
				spinner.Fail(fmt.Sprintf("Sampling %s failed", d.Name()))
			}
			return err
		}
		if spinner != nil {
			if rep.FailedCount() > 0 {
				spinner.Fail(fmt.Sprintf("Sampled %s, %d panel(s) failed", d.Name(), rep.FailedCount()))
			} else {
				spinner.Success(fmt.Sprintf("Sampled %s", d.Name()))
			}
		}

		// Filters and sorts look across every selected panel's grids, so a
		// column that lives in one panel does not trip the others up.
		panels := selectPanels(d, panelName)
		var views []grid.View
		for _, p := range panels {
			views = append(views, p.Grids()...)
		}
		for _, spec := range filterSpecs {
			if err := applyFilter(views, spec); err != nil {
				return err
			}
		}
		if sortCol != "" {
			if err := applySort(views, sortCol, sortDesc); err != nil {
				return err
			}
		}

		switch r.EffectiveMode() {
		case output.ModeJSON:
			outs = append(outs, snapshotOutput(rep, panels, gridName, &gridMatched))
		case output.ModeMarkdown:
			renderSnapshotMarkdown(r, d.Name(), rep, panels, gridName, &gridMatched)
		default:
			renderSnapshotText(r, d.Name(), rep, panels, gridName, &gridMatched)
		}
	}

	if gridName != "" && !gridMatched {
		return fmt.Errorf("no panel has a grid named %q", gridName)
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(outs)
	}
	return nil
}

// refreshDashboard refreshes either the whole dashboard or one panel,
// normalizing both paths onto a Report.
func refreshDashboard(ctx context.Context, d *dash.Dashboard, panel string) (dash.Report, error) {
	if panel == "" {
		return d.RefreshAll(ctx), nil
	}

	started := time.Now().UTC()
	prep, err := d.RefreshPanel(ctx, panel, dash.Window{})
	if err != nil {
		return dash.Report{}, err
	}
	return dash.Report{
		Instance:   d.Name(),
		Window:     d.PanelWindow(panel).Resolve(),
		StartedAt:  started,
		DurationMs: prep.DurationMs,
		Panels:     []dash.PanelReport{prep},
	}, nil
}

func selectPanels(d *dash.Dashboard, panel string) []dash.Panel {
	if panel == "" {
		return d.Panels()
	}
	p, _ := d.Panel(panel)
	return []dash.Panel{p}
}

// selectViews narrows a panel's grids to the named one; nil means the grid
// is absent from this panel.
func selectViews(p dash.Panel, gridName string, matched *bool) []grid.View {
	views := p.Grids()
	if gridName == "" {
		return views
	}
	v, ok := grid.Find(views, gridName)
	if !ok {
		return nil
	}
	*matched = true
	return []grid.View{v}
}

func snapshotOutput(rep dash.Report, panels []dash.Panel, gridName string, matched *bool) SnapshotOutput {
	out := SnapshotOutput{
		Instance: rep.Instance,
		Status:   rep.Status(),
		Window:   rep.Window,
		TookMs:   rep.DurationMs,
		Alerts:   rep.Alerts,
	}
	for _, p := range panels {
		sp := SnapshotPanel{Name: p.Name(), Title: p.Title(), Status: p.Status()}
		for _, v := range selectViews(p, gridName, matched) {
			sp.Grids = append(sp.Grids, gridOutput(v, false))
		}
		out.Panels = append(out.Panels, sp)
	}
	return out
}

func renderSnapshotText(r *output.Renderer, instance string, rep dash.Report, panels []dash.Panel, gridName string, matched *bool) {
	styles := r.Styles()

	r.Println(styles.InstanceName.Render(instance) + "  " +
		styles.Muted.Render(output.FormatWindow(rep.Window.From, rep.Window.To)))
	r.Println(snapshotStatusLine(r, rep))
	r.Println("")

	for _, p := range panels {
		if st := p.Status(); st.State == dash.StateFailed {
			r.Println(styles.StatusFailed.String() + " " + p.Title() + ": " + st.Error)
			r.Println("")
			continue
		}
		for _, v := range selectViews(p, gridName, matched) {
			renderGridTable(r, v, false)
		}
	}

	for _, e := range rep.Alerts {
		r.Println(styles.Warning.Render("! " + e.Message))
	}
}

func renderSnapshotMarkdown(r *output.Renderer, instance string, rep dash.Report, panels []dash.Panel, gridName string, matched *bool) {
	r.Println(output.FormatHeader(1, instance))
	r.Println("")
	r.Println(output.FormatKeyValue("Window", output.FormatWindow(rep.Window.From, rep.Window.To)))
	r.Println(output.FormatKeyValue("Status", string(rep.Status())))
	r.Println("")

	for _, p := range panels {
		if st := p.Status(); st.State == dash.StateFailed {
			r.Println(output.FormatHeader(3, p.Title()))
			r.Println("")
			r.Println("_refresh failed: " + st.Error + "_")
			r.Println("")
			continue
		}
		for _, v := range selectViews(p, gridName, matched) {
			renderGridMarkdown(r, v, false)
		}
	}

	for _, e := range rep.Alerts {
		r.Println("- **" + e.Severity + "** " + e.Message)
	}
}

func snapshotStatusLine(r *output.Renderer, rep dash.Report) string {
	styles := r.Styles()
	took := (time.Duration(rep.DurationMs) * time.Millisecond).Round(time.Millisecond)
	if rep.FailedCount() == 0 {
		return fmt.Sprintf("%s %d panels refreshed in %s", styles.StatusSuccess, rep.OKCount(), took)
	}
	return fmt.Sprintf("%s %d of %d panels failed", styles.StatusFailed,
		rep.FailedCount(), rep.OKCount()+rep.FailedCount())
}

// windowFromFlags builds the window override from --hours or --from/--to.
// The zero value means the configured default stands.
func windowFromFlags(cmd *cobra.Command) (dash.Window, error) {
	hours, _ := cmd.Flags().GetInt("hours")
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")

	if hours > 0 && (fromStr != "" || toStr != "") {
		return dash.Window{}, errors.New("pass either --hours or --from/--to, not both")
	}
	if hours > 0 {
		return dash.Window{Hours: hours}, nil
	}
	if fromStr == "" && toStr == "" {
		return dash.Window{}, nil
	}
	if fromStr == "" {
		return dash.Window{}, errors.New("--to needs --from")
	}

	var w dash.Window
	var err error
	if w.From, err = parseTimeFlag(fromStr); err != nil {
		return dash.Window{}, fmt.Errorf("bad --from: %w", err)
	}
	w.To = time.Now()
	if toStr != "" {
		if w.To, err = parseTimeFlag(toStr); err != nil {
			return dash.Window{}, fmt.Errorf("bad --to: %w", err)
		}
	}
	if w.To.Before(w.From) {
		return dash.Window{}, errors.New("--to is before --from")
	}
	return w, nil
}

// parseTimeFlag accepts RFC 3339, "2006-01-02 15:04" or a bare date, read in
// local time.
func parseTimeFlag(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// applyFilter parses a column:op[:operand] spec and sets it on every grid
// that has the column. Operand typing follows the column kind; a between
// operand is "low,high".
func applyFilter(views []grid.View, spec string) error {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 {
		return fmt.Errorf("bad filter %q, want column:op[:operand]", spec)
	}
	column := parts[0]
	op, err := grid.ParseOp(parts[1])
	if err != nil {
		return fmt.Errorf("bad filter %q: %w", spec, err)
	}
	var operand string
	if len(parts) == 3 {
		operand = parts[2]
	}

	applied := 0
	for _, v := range views {
		col, ok := findColumn(v, column)
		if !ok {
			continue
		}

		f := grid.Filter{Column: column, Op: op}
		switch {
		case col.Kind == grid.KindNumber && op == grid.OpBetween:
			lo, hi, found := strings.Cut(operand, ",")
			if !found {
				return fmt.Errorf("filter %q: between takes \"low,high\"", spec)
			}
			if f.Number, err = strconv.ParseFloat(strings.TrimSpace(lo), 64); err != nil {
				return fmt.Errorf("filter %q: %q is not a number", spec, lo)
			}
			if f.Upper, err = strconv.ParseFloat(strings.TrimSpace(hi), 64); err != nil {
				return fmt.Errorf("filter %q: %q is not a number", spec, hi)
			}
		case col.Kind == grid.KindNumber:
			if f.Number, err = strconv.ParseFloat(operand, 64); err != nil {
				return fmt.Errorf("filter %q: %q is not a number", spec, operand)
			}
		default:
			f.Text = operand
		}

		if err := v.SetFilter(f); err != nil {
			return fmt.Errorf("filter %q: %w", spec, err)
		}
		applied++
	}
	if applied == 0 {
		return fmt.Errorf("filter %q: no grid has column %q", spec, column)
	}
	return nil
}

// applySort sorts every grid that has the column.
func applySort(views []grid.View, column string, desc bool) error {
	applied := 0
	for _, v := range views {
		if _, ok := findColumn(v, column); !ok {
			continue
		}
		if err := v.SortBy(column, desc); err != nil {
			return err
		}
		applied++
	}
	if applied == 0 {
		return fmt.Errorf("no grid has column %q", column)
	}
	return nil
}

func findColumn(v grid.View, name string) (grid.ColumnSpec, bool) {
	for _, c := range v.Columns() {
		if c.Name == name {
			return c, true
		}
	}
	return grid.ColumnSpec{}, false
}
