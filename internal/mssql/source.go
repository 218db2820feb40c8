// source.go - telemetry.Source implementation: one method per fetch, typed
// row scans, per-call timeout except plan capture.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

// criticalEventNames marks system_health events treated as critical
// regardless of severity.
var criticalEventNames = map[string]bool{
	"xml_deadlock_report": true,
	"scheduler_monitor_non_yielding_ring_buffer_recorded": true,
	"memory_broker_ring_buffer_recorded":                  true,
}

func (c *Client) ServerInfo(ctx context.Context) (telemetry.ServerInfo, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	var (
		info    telemetry.ServerInfo
		started sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, queryServerInfo).
		Scan(&info.ServerName, &info.Version, &info.Level, &info.Edition, &started)
	if err != nil {
		return telemetry.ServerInfo{}, fmt.Errorf("failed to collect server info: %w", err)
	}
	info.StartedAt = started.Time
	return info, nil
}

func (c *Client) QuerySnapshots(ctx context.Context, win telemetry.TimeRange, top int) ([]telemetry.QuerySnapshot, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	if top <= 0 {
		top = c.cfg.topQueries()
	}
	rows, err := c.db.QueryContext(ctx, queryQuerySnapshots,
		sql.Named("top", top), sql.Named("from", win.From), sql.Named("to", win.To))
	if err != nil {
		return nil, fmt.Errorf("failed to collect query snapshots: %w", err)
	}
	defer rows.Close()

	var out []telemetry.QuerySnapshot
	for rows.Next() {
		var (
			s            telemetry.QuerySnapshot
			hash, text   sql.NullString
			database     sql.NullString
			grantKB      sql.NullFloat64
			forced       sql.NullInt64
			lastExecuted sql.NullTime
		)
		if err := rows.Scan(&s.QueryID, &hash, &text, &database, &s.Executions,
			&s.TotalCPUMs, &s.TotalDurationMs, &s.TotalReads, &s.TotalWrites,
			&grantKB, &forced, &lastExecuted); err != nil {
			return nil, fmt.Errorf("failed to scan query snapshot: %w", err)
		}
		s.QueryHash = hash.String
		s.Text = text.String
		s.Database = database.String
		s.AvgGrantKB = grantKB.Float64
		s.ForcedPlan = forced.Int64 != 0
		s.LastExecuted = lastExecuted.Time
		if s.Executions > 0 {
			s.AvgCPUMs = s.TotalCPUMs / float64(s.Executions)
			s.AvgDurationMs = s.TotalDurationMs / float64(s.Executions)
			s.AvgReads = float64(s.TotalReads) / float64(s.Executions)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Client) QueryActivity(ctx context.Context, win telemetry.TimeRange) ([]telemetry.ActivitySample, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, queryQueryActivity,
		sql.Named("from", win.From), sql.Named("to", win.To))
	if err != nil {
		return nil, fmt.Errorf("failed to collect query activity: %w", err)
	}
	defer rows.Close()

	var out []telemetry.ActivitySample
	for rows.Next() {
		var (
			a  telemetry.ActivitySample
			at sql.NullTime
		)
		if err := rows.Scan(&at, &a.Executions, &a.CPUMs, &a.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan query activity: %w", err)
		}
		a.At = at.Time
		out = append(out, a)
	}
	return out, rows.Err()
}

// QueryPlan runs without the per-query timeout: plan capture is the one
// long call the caller owns end to end and may cancel mid-flight.
func (c *Client) QueryPlan(ctx context.Context, queryID int64) (string, error) {
	var plan sql.NullString
	err := c.db.QueryRowContext(ctx, queryQueryPlan, sql.Named("query_id", queryID)).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w %d", telemetry.ErrNoPlan, queryID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to capture plan for query %d: %w", queryID, err)
	}
	return plan.String, nil
}

func (c *Client) MemoryClerks(ctx context.Context) ([]telemetry.MemoryClerk, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, queryMemoryClerks)
	if err != nil {
		return nil, fmt.Errorf("failed to collect memory clerks: %w", err)
	}
	defer rows.Close()

	var out []telemetry.MemoryClerk
	for rows.Next() {
		var (
			m         telemetry.MemoryClerk
			clerkName sql.NullString
		)
		if err := rows.Scan(&m.Type, &clerkName, &m.PagesKB, &m.VirtualKB); err != nil {
			return nil, fmt.Errorf("failed to scan memory clerk: %w", err)
		}
		m.Name = clerkName.String
		if m.Name == "" {
			m.Name = m.Type
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *Client) MemoryCounters(ctx context.Context) (telemetry.MemoryCounters, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, queryMemoryCounters)
	if err != nil {
		return telemetry.MemoryCounters{}, fmt.Errorf("failed to collect memory counters: %w", err)
	}
	defer rows.Close()

	var mc telemetry.MemoryCounters
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return telemetry.MemoryCounters{}, fmt.Errorf("failed to scan memory counter: %w", err)
		}
		switch name {
		case "Total Server Memory (KB)":
			mc.TotalServerKB = value
		case "Target Server Memory (KB)":
			mc.TargetServerKB = value
		case "Database Cache Memory (KB)":
			mc.DatabaseCacheKB = value
		case "Stolen Server Memory (KB)":
			mc.StolenServerKB = value
		case "Memory Grants Pending":
			mc.MemoryGrantsPending = value
		case "Page life expectancy":
			mc.PageLifeExpectancy = value
		}
	}
	return mc, rows.Err()
}

func (c *Client) MemoryHistory(ctx context.Context, win telemetry.TimeRange) ([]telemetry.MemorySample, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, queryMemoryHistory,
		sql.Named("from", win.From), sql.Named("to", win.To))
	if err != nil {
		return nil, fmt.Errorf("failed to collect memory history: %w", err)
	}
	defer rows.Close()

	var out []telemetry.MemorySample
	for rows.Next() {
		var (
			s            telemetry.MemorySample
			at           sql.NullTime
			notification sql.NullString
			utilization  sql.NullInt64
			available    sql.NullInt64
		)
		if err := rows.Scan(&at, &notification, &utilization, &available); err != nil {
			return nil, fmt.Errorf("failed to scan memory history: %w", err)
		}
		s.At = at.Time
		s.UtilizationPct = float64(utilization.Int64)
		s.AvailableMB = available.Int64
		s.Low = notification.String == "RESOURCE_MEMPHYSICAL_LOW"
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Client) CPUHistory(ctx context.Context, win telemetry.TimeRange) ([]telemetry.CPUSample, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, queryCPUHistory,
		sql.Named("from", win.From), sql.Named("to", win.To))
	if err != nil {
		return nil, fmt.Errorf("failed to collect cpu history: %w", err)
	}
	defer rows.Close()

	var out []telemetry.CPUSample
	for rows.Next() {
		var (
			s       telemetry.CPUSample
			at      sql.NullTime
			sqlPct  sql.NullInt64
			idlePct sql.NullInt64
		)
		if err := rows.Scan(&at, &sqlPct, &idlePct); err != nil {
			return nil, fmt.Errorf("failed to scan cpu history: %w", err)
		}
		s.At = at.Time
		s.SQLPct = float64(sqlPct.Int64)
		s.IdlePct = float64(idlePct.Int64)
		if other := 100 - s.SQLPct - s.IdlePct; other > 0 {
			s.OtherPct = other
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Client) PerfCounters(ctx context.Context) ([]telemetry.CounterSample, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, queryPerfCounters)
	if err != nil {
		return nil, fmt.Errorf("failed to collect perf counters: %w", err)
	}
	defer rows.Close()

	var out []telemetry.CounterSample
	for rows.Next() {
		var (
			s        telemetry.CounterSample
			instance sql.NullString
		)
		if err := rows.Scan(&s.Object, &s.Counter, &instance, &s.Value); err != nil {
			return nil, fmt.Errorf("failed to scan perf counter: %w", err)
		}
		s.Instance = instance.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Client) WaitStats(ctx context.Context) ([]telemetry.WaitSample, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, queryWaitStats)
	if err != nil {
		return nil, fmt.Errorf("failed to collect wait stats: %w", err)
	}
	defer rows.Close()

	var (
		out     []telemetry.WaitSample
		totalMs int64
	)
	for rows.Next() {
		var w telemetry.WaitSample
		if err := rows.Scan(&w.WaitType, &w.WaitingTasks, &w.WaitMs, &w.SignalMs, &w.MaxWaitMs); err != nil {
			return nil, fmt.Errorf("failed to scan wait stat: %w", err)
		}
		w.Category = getWaitCategory(w.WaitType)
		w.ResourceMs = w.WaitMs - w.SignalMs
		totalMs += w.WaitMs
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if totalMs > 0 {
		for i := range out {
			out[i].Pct = float64(out[i].WaitMs) / float64(totalMs) * 100
		}
	}
	return out, nil
}

func (c *Client) Connections(ctx context.Context) (telemetry.ConnectionStats, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	var cs telemetry.ConnectionStats
	err := c.db.QueryRowContext(ctx, queryConnections).
		Scan(&cs.UserSessions, &cs.SystemSessions, &cs.ActiveRequests, &cs.BlockedSessions)
	if err != nil {
		return telemetry.ConnectionStats{}, fmt.Errorf("failed to collect connections: %w", err)
	}
	return cs, nil
}

func (c *Client) ConfigChanges(ctx context.Context, win telemetry.TimeRange) ([]telemetry.ConfigChange, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, queryConfigChanges,
		sql.Named("from", win.From), sql.Named("to", win.To))
	if err != nil {
		return nil, fmt.Errorf("failed to collect config changes: %w", err)
	}
	defer rows.Close()

	var out []telemetry.ConfigChange
	for rows.Next() {
		var (
			cc     telemetry.ConfigChange
			at     sql.NullTime
			detail sql.NullString
		)
		if err := rows.Scan(&at, &detail, &cc.SPID, &cc.LoginName, &cc.HostName, &cc.AppName); err != nil {
			return nil, fmt.Errorf("failed to scan config change: %w", err)
		}
		cc.At = at.Time
		cc.Detail = detail.String
		out = append(out, cc)
	}
	return out, rows.Err()
}

func (c *Client) SystemEvents(ctx context.Context, win telemetry.TimeRange) ([]telemetry.SystemEvent, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, querySystemEvents,
		sql.Named("from", win.From), sql.Named("to", win.To))
	if err != nil {
		return nil, fmt.Errorf("failed to collect system events: %w", err)
	}
	defer rows.Close()

	var out []telemetry.SystemEvent
	for rows.Next() {
		var (
			ev telemetry.SystemEvent
			at sql.NullTime
		)
		if err := rows.Scan(&at, &ev.Name, &ev.Severity, &ev.Message); err != nil {
			return nil, fmt.Errorf("failed to scan system event: %w", err)
		}
		ev.At = at.Time
		ev.Critical = ev.Severity >= 20 || criticalEventNames[ev.Name]
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (c *Client) TraceEvents(ctx context.Context, win telemetry.TimeRange) ([]telemetry.TraceEvent, error) {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, queryTraceEvents,
		sql.Named("from", win.From), sql.Named("to", win.To))
	if err != nil {
		return nil, fmt.Errorf("failed to collect trace events: %w", err)
	}
	defer rows.Close()

	var out []telemetry.TraceEvent
	for rows.Next() {
		var (
			te       telemetry.TraceEvent
			at       sql.NullTime
			isSystem int
		)
		if err := rows.Scan(&at, &te.EventClass, &te.EventName, &te.Database, &te.Detail,
			&te.DurationMs, &te.CPUMs, &te.Reads, &te.Writes,
			&te.LoginName, &te.HostName, &te.AppName, &isSystem); err != nil {
			return nil, fmt.Errorf("failed to scan trace event: %w", err)
		}
		te.At = at.Time
		te.System = isSystem != 0
		out = append(out, te)
	}
	return out, rows.Err()
}
