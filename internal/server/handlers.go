// handlers.go - HTTP handlers for the dashboard API.
//
// Resource errors map to status codes (unknown instance/panel/grid/chart
// to 404, bad filters and windows to 400); a panel fetch failure is not an
// HTTP error, it comes back inside the report as that panel's outcome.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/sqlscope/internal/dash"
	"github.com/leapstack-labs/sqlscope/internal/grid"
	"github.com/leapstack-labs/sqlscope/internal/server/notifier"
	"github.com/leapstack-labs/sqlscope/internal/state"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

// Handlers provides the HTTP handlers for the dashboard API.
type Handlers struct {
	hub      *dash.Hub
	journal  *state.Store
	notifier *notifier.Notifier
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(hub *dash.Hub, journal *state.Store, notify *notifier.Notifier, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{
		hub:      hub,
		journal:  journal,
		notifier: notify,
		logger:   logger,
	}
}

// Register mounts every API route.
func (h *Handlers) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", h.Healthz)
		r.Get("/status", h.Status)
		r.Get("/events", h.Events)

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", h.ListInstances)

			r.Route("/{instance}", func(r chi.Router) {
				r.Get("/", h.GetInstance)
				r.Post("/refresh", h.RefreshInstance)
				r.Get("/report", h.LastReport)
				r.Get("/metrics", h.ListMetrics)
				r.Get("/rules", h.ListRules)
				r.Get("/runs", h.ListRuns)
				r.Get("/runs/{run}", h.GetRun)
				r.Get("/alerts", h.ListAlerts)
				r.Post("/plan", h.CapturePlan)
				r.Delete("/plan", h.CancelPlan)

				r.Route("/panels", func(r chi.Router) {
					r.Get("/", h.ListPanels)

					r.Route("/{panel}", func(r chi.Router) {
						r.Get("/", h.GetPanel)
						r.Post("/refresh", h.RefreshPanel)
						r.Get("/charts/{chart}", h.GetChart)

						r.Route("/grids/{grid}", func(r chi.Router) {
							r.Get("/", h.GetGrid)
							r.Put("/sort", h.SortGrid)
							r.Put("/filters", h.SetFilter)
							r.Delete("/filters", h.ClearFilters)
							r.Delete("/filters/{column}", h.ClearFilter)
						})
					})
				})
			})
		})
	})
}

// Healthz reports process liveness.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status returns reachability and headline health for every instance.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"instances": h.hub.Overview(r.Context())})
}

// instanceSummary is the list-level view of one instance.
type instanceSummary struct {
	Instance    string    `json:"instance"`
	Panels      []string  `json:"panels"`
	LastStatus  string    `json:"last_status,omitempty"`
	LastRefresh time.Time `json:"last_refresh"`
}

// ListInstances returns every registered instance.
func (h *Handlers) ListInstances(w http.ResponseWriter, _ *http.Request) {
	dashboards := h.hub.Dashboards()
	out := make([]instanceSummary, len(dashboards))
	for i, d := range dashboards {
		panels := d.Panels()
		names := make([]string, len(panels))
		for j, p := range panels {
			names[j] = p.Name()
		}
		s := instanceSummary{Instance: d.Name(), Panels: names}
		if rep, ok := d.LastReport(); ok {
			s.LastStatus = string(rep.Status())
			s.LastRefresh = rep.StartedAt
		}
		out[i] = s
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": out})
}

// panelSummary is the list-level view of one panel.
type panelSummary struct {
	Name   string      `json:"name"`
	Title  string      `json:"title"`
	Status dash.Status `json:"status"`
}

func panelSummaries(d *dash.Dashboard) []panelSummary {
	panels := d.Panels()
	out := make([]panelSummary, len(panels))
	for i, p := range panels {
		out[i] = panelSummary{Name: p.Name(), Title: p.Title(), Status: p.Status()}
	}
	return out
}

// GetInstance returns one instance with its panel statuses.
func (h *Handlers) GetInstance(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instance": d.Name(),
		"window":   d.DefaultWindow(),
		"panels":   panelSummaries(d),
	})
}

// RefreshInstance refreshes every panel of one instance. A window in the
// query parameters repoints all panels first.
func (h *Handlers) RefreshInstance(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	win, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if win != (dash.Window{}) {
		d.SetAllWindows(win)
	}
	rep := d.RefreshAll(r.Context())
	announce(h.notifier, rep)
	writeJSON(w, http.StatusOK, rep)
}

// LastReport returns the most recent refresh report.
func (h *Handlers) LastReport(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	rep, ok := d.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no refresh has completed yet"))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListMetrics returns the instance's current gauge values, the namespace
// alert rules address.
func (h *Handlers) ListMetrics(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": d.Metrics()})
}

// ListRules returns the alert rules with their live state.
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": d.RuleStates()})
}

// ListRuns returns journaled refresh runs, newest first.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	if h.journal == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []state.Run{}})
		return
	}
	runs, err := h.journal.ListRuns(d.Name(), intParam(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun returns one journaled run with its panel outcomes.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.dashboard(w, r); !ok {
		return
	}
	if h.journal == nil {
		writeError(w, http.StatusNotFound, errors.New("journal disabled"))
		return
	}
	run, err := h.journal.GetRun(chi.URLParam(r, "run"))
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListAlerts returns journaled alert events, newest first. Window query
// parameters narrow the range.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	win, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if h.journal == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []state.AlertEvent{}})
		return
	}
	rng := telemetry.TimeRange{}
	if win != (dash.Window{}) {
		rng = win.Resolve()
	}
	alerts, err := h.journal.ListAlerts(d.Name(), rng, intParam(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// planRequest selects the Query Store query to capture a plan for.
type planRequest struct {
	QueryID int64 `json:"query_id"`
}

// CapturePlan captures the execution plan for one query. The call blocks
// until the plan arrives or the capture is cancelled; starting a new capture
// supersedes the one in flight.
func (h *Handlers) CapturePlan(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.QueryID <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("query_id must be positive"))
		return
	}

	plan, err := d.CapturePlan(r.Context(), req.QueryID)
	switch {
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusConflict, errors.New("plan capture cancelled"))
	case errors.Is(err, telemetry.ErrNoPlan):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"query_id": req.QueryID, "plan": plan})
	}
}

// CancelPlan cancels the in-flight plan capture, if any.
func (h *Handlers) CancelPlan(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": d.CancelPlan()})
}

// ListPanels returns the instance's panels with their statuses.
func (h *Handlers) ListPanels(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"panels": panelSummaries(d)})
}

// gridSummary describes a grid without its rows.
type gridSummary struct {
	Name    string        `json:"name"`
	Title   string        `json:"title"`
	Total   int           `json:"total"`
	Visible int           `json:"visible"`
	HasData bool          `json:"has_data"`
	Filters []grid.Filter `json:"filters"`
}

// chartSummary describes a chart series without its points.
type chartSummary struct {
	Name   string `json:"name"`
	Unit   string `json:"unit,omitempty"`
	Points int    `json:"points"`
}

// GetPanel returns one panel: status, window, grid and chart inventories.
func (h *Handlers) GetPanel(w http.ResponseWriter, r *http.Request) {
	d, p, ok := h.panel(w, r)
	if !ok {
		return
	}
	views := p.Grids()
	grids := make([]gridSummary, len(views))
	for i, v := range views {
		grids[i] = gridSummary{
			Name:    v.Name(),
			Title:   v.Title(),
			Total:   v.Len(),
			Visible: v.VisibleLen(),
			HasData: v.HasData(),
			Filters: v.Filters(),
		}
	}
	series := p.Charts()
	charts := make([]chartSummary, len(series))
	for i, s := range series {
		charts[i] = chartSummary{Name: s.Name, Unit: s.Unit, Points: len(s.Points)}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":   p.Name(),
		"title":  p.Title(),
		"status": p.Status(),
		"window": d.PanelWindow(p.Name()),
		"grids":  grids,
		"charts": charts,
	})
}

// RefreshPanel refreshes a single panel. A window in the query parameters
// repoints just that panel first.
func (h *Handlers) RefreshPanel(w http.ResponseWriter, r *http.Request) {
	d, p, ok := h.panel(w, r)
	if !ok {
		return
	}
	win, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := d.RefreshPanel(r.Context(), p.Name(), win)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// gridPayload is a grid with its rows rendered for transport.
type gridPayload struct {
	Name    string            `json:"name"`
	Title   string            `json:"title"`
	Columns []grid.ColumnSpec `json:"columns"`
	Rows    [][]any           `json:"rows"`
	Total   int               `json:"total"`
	Visible int               `json:"visible"`
	HasData bool              `json:"has_data"`
	Filters []grid.Filter     `json:"filters"`
}

func buildGridPayload(v grid.View, includeAll bool) gridPayload {
	return gridPayload{
		Name:    v.Name(),
		Title:   v.Title(),
		Columns: v.Columns(),
		Rows:    v.VisibleCells(includeAll),
		Total:   v.Len(),
		Visible: v.VisibleLen(),
		HasData: v.HasData(),
		Filters: v.Filters(),
	}
}

// GetGrid returns a grid's visible rows. all=true bypasses active filters
// without clearing them.
func (h *Handlers) GetGrid(w http.ResponseWriter, r *http.Request) {
	v, ok := h.gridView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, buildGridPayload(v, r.URL.Query().Get("all") == "true"))
}

// sortRequest names the column to order a grid by.
type sortRequest struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc"`
}

// SortGrid orders a grid by a column. The preference survives refreshes.
func (h *Handlers) SortGrid(w http.ResponseWriter, r *http.Request) {
	v, ok := h.gridView(w, r)
	if !ok {
		return
	}
	var req sortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := v.SortBy(req.Column, req.Desc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, buildGridPayload(v, false))
}

// SetFilter activates a filter on one grid column, replacing any previous
// filter on that column.
func (h *Handlers) SetFilter(w http.ResponseWriter, r *http.Request) {
	v, ok := h.gridView(w, r)
	if !ok {
		return
	}
	var f grid.Filter
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	op, err := grid.ParseOp(string(f.Op))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f.Op = op
	if err := v.SetFilter(f); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, buildGridPayload(v, false))
}

// ClearFilters removes every filter from a grid.
func (h *Handlers) ClearFilters(w http.ResponseWriter, r *http.Request) {
	v, ok := h.gridView(w, r)
	if !ok {
		return
	}
	v.ClearFilters()
	writeJSON(w, http.StatusOK, buildGridPayload(v, false))
}

// ClearFilter removes the filter on one column, 404 when none was set.
func (h *Handlers) ClearFilter(w http.ResponseWriter, r *http.Request) {
	v, ok := h.gridView(w, r)
	if !ok {
		return
	}
	column := chi.URLParam(r, "column")
	if !v.ClearFilter(column) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no filter on column %q", column))
		return
	}
	writeJSON(w, http.StatusOK, buildGridPayload(v, false))
}

// GetChart returns one chart series with its points.
func (h *Handlers) GetChart(w http.ResponseWriter, r *http.Request) {
	_, p, ok := h.panel(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "chart")
	for _, s := range p.Charts() {
		if s.Name == name {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("unknown chart %q in panel %q", name, p.Name()))
}

// Events streams refresh and alert notifications as server-sent events.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.notifier.Subscribe()
	defer h.notifier.Unsubscribe(ch)

	h.logger.Debug("sse client connected", "remote", r.RemoteAddr)
	defer h.logger.Debug("sse client disconnected", "remote", r.RemoteAddr)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// announce pushes refresh and alert events for a completed run.
func announce(n *notifier.Notifier, rep dash.Report) {
	n.Broadcast(notifier.Event{
		Type:     notifier.EventRefresh,
		Instance: rep.Instance,
		Detail:   string(rep.Status()),
	})
	if len(rep.Alerts) == 0 {
		return
	}
	names := make([]string, len(rep.Alerts))
	for i, ev := range rep.Alerts {
		names[i] = ev.Rule
	}
	n.Broadcast(notifier.Event{
		Type:     notifier.EventAlert,
		Instance: rep.Instance,
		Detail:   strings.Join(names, ", "),
	})
}

// dashboard resolves the {instance} route parameter, answering 404 itself
// when it misses.
func (h *Handlers) dashboard(w http.ResponseWriter, r *http.Request) (*dash.Dashboard, bool) {
	name := chi.URLParam(r, "instance")
	d, ok := h.hub.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", dash.ErrUnknownInstance, name))
		return nil, false
	}
	return d, true
}

// panel resolves {instance} and {panel}.
func (h *Handlers) panel(w http.ResponseWriter, r *http.Request) (*dash.Dashboard, dash.Panel, bool) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return nil, nil, false
	}
	name := chi.URLParam(r, "panel")
	p, ok := d.Panel(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", dash.ErrUnknownPanel, name))
		return nil, nil, false
	}
	return d, p, true
}

// gridView resolves {instance}, {panel} and {grid}.
func (h *Handlers) gridView(w http.ResponseWriter, r *http.Request) (grid.View, bool) {
	_, p, ok := h.panel(w, r)
	if !ok {
		return nil, false
	}
	name := chi.URLParam(r, "grid")
	v, ok := grid.Find(p.Grids(), name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown grid %q in panel %q", name, p.Name()))
		return nil, false
	}
	return v, true
}

// parseWindow reads an optional time range from query parameters: hours=N
// for a sliding window, or from= and to= as RFC 3339 timestamps for a
// pinned one. The zero Window means none was given.
func parseWindow(r *http.Request) (dash.Window, error) {
	var w dash.Window
	q := r.URL.Query()

	if s := q.Get("hours"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return w, fmt.Errorf("invalid hours %q", s)
		}
		w.Hours = n
		return w, nil
	}

	from, to := q.Get("from"), q.Get("to")
	if from == "" && to == "" {
		return w, nil
	}
	if from == "" || to == "" {
		return w, errors.New("from and to must be given together")
	}
	f, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return w, fmt.Errorf("invalid from %q: %w", from, err)
	}
	t, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return w, fmt.Errorf("invalid to %q: %w", to, err)
	}
	w.From, w.To = f, t
	return w, nil
}

// intParam reads a positive integer query parameter, falling back to def.
func intParam(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
