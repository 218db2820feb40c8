// hub.go - Multi-instance fan-out and the landing health summary.
package dash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/sqlscope/internal/alert"
	"github.com/leapstack-labs/sqlscope/internal/state"
)

// ErrUnknownInstance reports an instance name the hub does not hold.
var ErrUnknownInstance = errors.New("unknown instance")

// InstanceHealth is one line of the landing summary.
type InstanceHealth struct {
	Instance     string          `json:"instance"`
	Reachable    bool            `json:"reachable"`
	Error        string          `json:"error,omitempty"`
	ServerName   string          `json:"server_name,omitempty"`
	Version      string          `json:"version,omitempty"`
	Edition      string          `json:"edition,omitempty"`
	UptimeHours  float64         `json:"uptime_hours,omitempty"`
	Sessions     int64           `json:"sessions"`
	Blocked      int64           `json:"blocked"`
	SQLCPUPct    float64         `json:"sql_cpu_pct"`
	FiringAlerts int             `json:"firing_alerts"`
	LastRefresh  time.Time       `json:"last_refresh"`
	LastStatus   state.RunStatus `json:"last_status,omitempty"`
}

// Hub holds one dashboard per configured instance in declaration order.
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	order  []*Dashboard
	byName map[string]*Dashboard
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{logger: logger, byName: make(map[string]*Dashboard)}
}

// Add registers a dashboard, rejecting duplicate instance names.
func (h *Hub) Add(d *Dashboard) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.byName[d.Name()]; dup {
		return fmt.Errorf("duplicate instance %q", d.Name())
	}
	h.order = append(h.order, d)
	h.byName[d.Name()] = d
	return nil
}

// Get looks a dashboard up by instance name.
func (h *Hub) Get(instance string) (*Dashboard, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.byName[instance]
	return d, ok
}

// Dashboards returns the dashboards in registration order.
func (h *Hub) Dashboards() []*Dashboard {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Dashboard, len(h.order))
	copy(out, h.order)
	return out
}

// Names returns the instance names in registration order.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.order))
	for i, d := range h.order {
		out[i] = d.Name()
	}
	return out
}

// RefreshAll refreshes every instance concurrently and returns the reports
// in registration order. An instance's failure is its own report's problem;
// the others complete regardless.
func (h *Hub) RefreshAll(ctx context.Context) []Report {
	dashboards := h.Dashboards()
	reports := make([]Report, len(dashboards))
	var g errgroup.Group
	for i, d := range dashboards {
		g.Go(func() error {
			reports[i] = d.RefreshAll(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Overview pings every instance and assembles the landing health summary.
func (h *Hub) Overview(ctx context.Context) []InstanceHealth {
	dashboards := h.Dashboards()
	out := make([]InstanceHealth, len(dashboards))
	var g errgroup.Group
	for i, d := range dashboards {
		g.Go(func() error {
			out[i] = d.health(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Dashboard) health(ctx context.Context) InstanceHealth {
	h := InstanceHealth{Instance: d.name}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.src.Ping(pingCtx); err != nil {
		h.Error = err.Error()
	} else {
		h.Reachable = true
	}

	info := d.overview.Info()
	h.ServerName = info.ServerName
	h.Version = info.Version
	h.Edition = info.Edition
	if !info.StartedAt.IsZero() {
		h.UptimeHours = info.Uptime().Hours()
	}

	metrics := d.Metrics()
	h.Sessions = int64(metrics["overview.user_sessions"])
	h.Blocked = int64(metrics["overview.blocked_sessions"])
	h.SQLCPUPct = metrics["resources.sql_cpu_pct"]

	for _, st := range d.engine.States() {
		if st.Firing {
			h.FiringAlerts++
		}
	}
	if rep, ok := d.LastReport(); ok {
		h.LastRefresh = rep.StartedAt
		h.LastStatus = rep.Status()
	}
	return h
}

// ReloadRules swaps the rule set on every dashboard, joining any errors.
func (h *Hub) ReloadRules(rules []alert.Rule) error {
	var errs []error
	for _, d := range h.Dashboards() {
		if err := d.ReloadRules(rules); err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every dashboard's source, joining any errors.
func (h *Hub) Close() error {
	var errs []error
	for _, d := range h.Dashboards() {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}
