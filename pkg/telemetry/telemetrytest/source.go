// Package telemetrytest provides a canned Source implementation for tests.
// The fake serves a fixed, self-consistent snapshot of one healthy instance
// and can be told to fail or block per method.
package telemetrytest

import (
	"context"
	"sync"
	"time"

	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

// Fake implements telemetry.Source from in-memory fixtures. The fixture
// fields may be replaced before use; FailWith injects an error for one
// method, PlanGate blocks QueryPlan until closed or the ctx dies.
type Fake struct {
	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int

	Info       telemetry.ServerInfo
	Snaps      []telemetry.QuerySnapshot
	Activity   []telemetry.ActivitySample
	Clerks     []telemetry.MemoryClerk
	Counters   telemetry.MemoryCounters
	MemHistory []telemetry.MemorySample
	CPU        []telemetry.CPUSample
	Perf       []telemetry.CounterSample
	Waits      []telemetry.WaitSample
	Conns      telemetry.ConnectionStats
	Changes    []telemetry.ConfigChange
	Events     []telemetry.SystemEvent
	Trace      []telemetry.TraceEvent

	Plan     string
	PlanGate chan struct{}

	closed bool
}

// New returns a fake serving the default fixture set.
func New() *Fake {
	now := time.Now().UTC()
	return &Fake{
		fail:  make(map[string]error),
		calls: make(map[string]int),
		Info: telemetry.ServerInfo{
			ServerName: "SQLBOX",
			Version:    "16.0.4105.2",
			Level:      "RTM",
			Edition:    "Developer Edition (64-bit)",
			StartedAt:  now.Add(-72 * time.Hour),
		},
		Snaps: []telemetry.QuerySnapshot{
			{QueryID: 11, Database: "orders", Text: "SELECT * FROM dbo.orders", Executions: 400,
				TotalCPUMs: 9000, AvgCPUMs: 22.5, TotalDurationMs: 12000, AvgDurationMs: 30,
				TotalReads: 80000, AvgReads: 200, LastExecuted: now.Add(-5 * time.Minute)},
			{QueryID: 12, Database: "orders", Text: "UPDATE dbo.orders SET state = @p1", Executions: 90,
				TotalCPUMs: 1500, AvgCPUMs: 16.6, TotalDurationMs: 2100, AvgDurationMs: 23.3,
				TotalReads: 4000, AvgReads: 44.4, ForcedPlan: true, LastExecuted: now.Add(-time.Minute)},
		},
		Activity: []telemetry.ActivitySample{
			{At: now.Add(-30 * time.Minute), Executions: 200, CPUMs: 4000, DurationMs: 6000},
			{At: now.Add(-10 * time.Minute), Executions: 290, CPUMs: 6500, DurationMs: 8100},
		},
		Clerks: []telemetry.MemoryClerk{
			{Type: "MEMORYCLERK_SQLBUFFERPOOL", Name: "MEMORYCLERK_SQLBUFFERPOOL", PagesKB: 4_000_000},
			{Type: "CACHESTORE_SQLCP", Name: "CACHESTORE_SQLCP", PagesKB: 250_000},
		},
		Counters: telemetry.MemoryCounters{
			TotalServerKB: 8_000_000, TargetServerKB: 8_500_000,
			PageLifeExpectancy: 4200, MemoryGrantsPending: 0,
		},
		MemHistory: []telemetry.MemorySample{
			{At: now.Add(-20 * time.Minute), UtilizationPct: 88, AvailableMB: 2000},
			{At: now.Add(-5 * time.Minute), UtilizationPct: 91, AvailableMB: 1800},
		},
		CPU: []telemetry.CPUSample{
			{At: now.Add(-5 * time.Hour), SQLPct: 35, OtherPct: 10, IdlePct: 55},
			{At: now.Add(-5 * time.Minute), SQLPct: 42, OtherPct: 8, IdlePct: 50},
		},
		Perf: []telemetry.CounterSample{
			{Object: "SQLServer:SQL Statistics", Counter: "Batch Requests/sec", Value: 91234},
		},
		Waits: []telemetry.WaitSample{
			{WaitType: "PAGEIOLATCH_SH", Category: "Buffer IO", WaitingTasks: 900, WaitMs: 52000,
				ResourceMs: 50000, SignalMs: 2000, MaxWaitMs: 410, Pct: 61.2},
			{WaitType: "SOS_SCHEDULER_YIELD", Category: "CPU", WaitingTasks: 4100, WaitMs: 33000,
				ResourceMs: 24000, SignalMs: 9000, MaxWaitMs: 55, Pct: 38.8},
		},
		Conns: telemetry.ConnectionStats{UserSessions: 24, SystemSessions: 30, ActiveRequests: 6, BlockedSessions: 2},
		Changes: []telemetry.ConfigChange{
			{At: now.Add(-2 * time.Hour), Detail: "Configuration option 'max degree of parallelism' changed from 0 to 8.",
				SPID: 55, LoginName: "sa", HostName: "ops-01", AppName: "SSMS"},
		},
		Events: []telemetry.SystemEvent{
			{At: now.Add(-40 * time.Minute), Name: "error_reported", Severity: 16, Message: "login failed"},
			{At: now.Add(-12 * time.Minute), Name: "xml_deadlock_report", Critical: true, Message: "deadlock victim spid 61"},
		},
		Trace: []telemetry.TraceEvent{
			{At: now.Add(-25 * time.Minute), EventClass: 92, EventName: "Data File Auto Grow",
				Database: "orders", DurationMs: 320, LoginName: "svc-app", HostName: "app-01", AppName: "orders-api"},
		},
		Plan: "<ShowPlanXML/>",
	}
}

func (f *Fake) called(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.fail[method]
}

// FailWith makes the named method return err until cleared with a nil err.
func (f *Fake) FailWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = err
}

// CallCount reports how many times the named method has been invoked.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) Ping(ctx context.Context) error { return f.called("Ping") }

func (f *Fake) ServerInfo(ctx context.Context) (telemetry.ServerInfo, error) {
	if err := f.called("ServerInfo"); err != nil {
		return telemetry.ServerInfo{}, err
	}
	return f.Info, nil
}

func (f *Fake) QuerySnapshots(ctx context.Context, win telemetry.TimeRange, top int) ([]telemetry.QuerySnapshot, error) {
	if err := f.called("QuerySnapshots"); err != nil {
		return nil, err
	}
	if top > 0 && len(f.Snaps) > top {
		return f.Snaps[:top], nil
	}
	return f.Snaps, nil
}

func (f *Fake) QueryActivity(ctx context.Context, win telemetry.TimeRange) ([]telemetry.ActivitySample, error) {
	if err := f.called("QueryActivity"); err != nil {
		return nil, err
	}
	return f.Activity, nil
}

func (f *Fake) QueryPlan(ctx context.Context, queryID int64) (string, error) {
	if err := f.called("QueryPlan"); err != nil {
		return "", err
	}
	if f.PlanGate != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-f.PlanGate:
		}
	}
	return f.Plan, nil
}

func (f *Fake) MemoryClerks(ctx context.Context) ([]telemetry.MemoryClerk, error) {
	if err := f.called("MemoryClerks"); err != nil {
		return nil, err
	}
	return f.Clerks, nil
}

func (f *Fake) MemoryCounters(ctx context.Context) (telemetry.MemoryCounters, error) {
	if err := f.called("MemoryCounters"); err != nil {
		return telemetry.MemoryCounters{}, err
	}
	return f.Counters, nil
}

func (f *Fake) MemoryHistory(ctx context.Context, win telemetry.TimeRange) ([]telemetry.MemorySample, error) {
	if err := f.called("MemoryHistory"); err != nil {
		return nil, err
	}
	return f.MemHistory, nil
}

func (f *Fake) CPUHistory(ctx context.Context, win telemetry.TimeRange) ([]telemetry.CPUSample, error) {
	if err := f.called("CPUHistory"); err != nil {
		return nil, err
	}
	return f.CPU, nil
}

func (f *Fake) PerfCounters(ctx context.Context) ([]telemetry.CounterSample, error) {
	if err := f.called("PerfCounters"); err != nil {
		return nil, err
	}
	return f.Perf, nil
}

func (f *Fake) WaitStats(ctx context.Context) ([]telemetry.WaitSample, error) {
	if err := f.called("WaitStats"); err != nil {
		return nil, err
	}
	return f.Waits, nil
}

func (f *Fake) Connections(ctx context.Context) (telemetry.ConnectionStats, error) {
	if err := f.called("Connections"); err != nil {
		return telemetry.ConnectionStats{}, err
	}
	return f.Conns, nil
}

func (f *Fake) ConfigChanges(ctx context.Context, win telemetry.TimeRange) ([]telemetry.ConfigChange, error) {
	if err := f.called("ConfigChanges"); err != nil {
		return nil, err
	}
	return f.Changes, nil
}

func (f *Fake) SystemEvents(ctx context.Context, win telemetry.TimeRange) ([]telemetry.SystemEvent, error) {
	if err := f.called("SystemEvents"); err != nil {
		return nil, err
	}
	return f.Events, nil
}

func (f *Fake) TraceEvents(ctx context.Context, win telemetry.TimeRange) ([]telemetry.TraceEvent, error) {
	if err := f.called("TraceEvents"); err != nil {
		return nil, err
	}
	return f.Trace, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ telemetry.Source = (*Fake)(nil)
