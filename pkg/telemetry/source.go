package telemetry

import (
	"context"
	"errors"
)

// ErrNoPlan reports that the instance holds no stored plan for the query.
// Source implementations wrap it so callers can branch on errors.Is.
var ErrNoPlan = errors.New("no stored plan for query")

// Source is the data-access seam between the dashboard and a monitored
// instance. Implementations own their connection lifecycle, honor context
// cancellation on every call, and return (rows, error) without panicking
// across the boundary. Dashboards receive exactly one Source at construction
// and never reach past it.
type Source interface {
	// Ping verifies the instance is reachable.
	Ping(ctx context.Context) error
	// ServerInfo returns instance identity and start time.
	ServerInfo(ctx context.Context) (ServerInfo, error)

	// QuerySnapshots returns the top Query Store entries by total CPU inside
	// the window.
	QuerySnapshots(ctx context.Context, win TimeRange, top int) ([]QuerySnapshot, error)
	// QueryActivity returns per-interval execution totals inside the window.
	QueryActivity(ctx context.Context, win TimeRange) ([]ActivitySample, error)
	// QueryPlan captures the stored plan XML for a Query Store query. This is
	// the one long call a caller may cancel mid-flight; cancellation surfaces
	// as ctx.Err().
	QueryPlan(ctx context.Context, queryID int64) (string, error)

	// MemoryClerks returns current clerk allocations, largest first.
	MemoryClerks(ctx context.Context) ([]MemoryClerk, error)
	// MemoryCounters returns the headline memory manager gauges.
	MemoryCounters(ctx context.Context) (MemoryCounters, error)
	// MemoryHistory returns resource-monitor notifications inside the window.
	MemoryHistory(ctx context.Context, win TimeRange) ([]MemorySample, error)

	// CPUHistory returns per-minute CPU utilization inside the window.
	CPUHistory(ctx context.Context, win TimeRange) ([]CPUSample, error)
	// PerfCounters returns the headline performance counter values.
	PerfCounters(ctx context.Context) ([]CounterSample, error)
	// WaitStats returns cumulative waits since instance start, categorized,
	// idle wait types excluded.
	WaitStats(ctx context.Context) ([]WaitSample, error)
	// Connections summarizes current sessions, requests and blocking.
	Connections(ctx context.Context) (ConnectionStats, error)

	// ConfigChanges returns sp_configure changes recorded inside the window.
	ConfigChanges(ctx context.Context, win TimeRange) ([]ConfigChange, error)
	// SystemEvents returns system_health entries recorded inside the window.
	SystemEvents(ctx context.Context, win TimeRange) ([]SystemEvent, error)
	// TraceEvents returns default trace rows recorded inside the window.
	TraceEvents(ctx context.Context, win TimeRange) ([]TraceEvent, error)

	// Close releases the underlying connections.
	Close() error
}
