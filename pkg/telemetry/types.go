// types.go - Row types returned by a Source.
//
// These are plain data carriers: no behavior beyond small derived accessors,
// json tags for the API surface, and no references to how the values were
// collected.
package telemetry

import "time"

// ServerInfo identifies the monitored instance.
type ServerInfo struct {
	// ServerName is @@SERVERNAME as reported by the instance.
	ServerName string `json:"server_name"`
	// Version is the product version string (e.g. "16.0.4105.2").
	Version string `json:"version"`
	// Level is the product level (e.g. "RTM", "SP1").
	Level string `json:"level"`
	// Edition is the product edition (e.g. "Developer Edition (64-bit)").
	Edition string `json:"edition"`
	// StartedAt is sqlserver_start_time; uptime derives from it.
	StartedAt time.Time `json:"started_at"`
}

// Uptime returns how long the instance has been running as of now.
func (s ServerInfo) Uptime() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}

// QuerySnapshot is one aggregated Query Store entry over the requested window.
type QuerySnapshot struct {
	// QueryID is the Query Store query_id, the handle for plan capture.
	QueryID int64 `json:"query_id"`
	// QueryHash is the hex query_hash grouping textual variants.
	QueryHash string `json:"query_hash"`
	// Text is the (possibly truncated) query text.
	Text string `json:"text"`
	// Database is the database the snapshot was collected from.
	Database string `json:"database"`

	Executions      int64   `json:"executions"`
	TotalCPUMs      float64 `json:"total_cpu_ms"`
	AvgCPUMs        float64 `json:"avg_cpu_ms"`
	TotalDurationMs float64 `json:"total_duration_ms"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	TotalReads      int64   `json:"total_reads"`
	AvgReads        float64 `json:"avg_reads"`
	TotalWrites     int64   `json:"total_writes"`
	AvgGrantKB      float64 `json:"avg_grant_kb"`

	// ForcedPlan reports whether a plan is forced for the query.
	ForcedPlan bool `json:"forced_plan"`
	// LastExecuted is the last execution end time inside the window.
	LastExecuted time.Time `json:"last_executed"`
}

// ActivitySample is the per-interval execution total feeding the query
// activity chart.
type ActivitySample struct {
	At         time.Time `json:"at"`
	Executions int64     `json:"executions"`
	CPUMs      float64   `json:"cpu_ms"`
	DurationMs float64   `json:"duration_ms"`
}

// MemoryClerk is one row of sys.dm_os_memory_clerks, aggregated by clerk.
type MemoryClerk struct {
	// Type is the clerk type (e.g. "MEMORYCLERK_SQLBUFFERPOOL").
	Type string `json:"type"`
	// Name is the clerk name, often the same as Type.
	Name    string `json:"name"`
	PagesKB int64  `json:"pages_kb"`
	// VirtualKB is virtual_memory_committed_kb for the clerk.
	VirtualKB int64 `json:"virtual_kb"`
}

// MemoryCounters carries the headline memory manager gauges.
type MemoryCounters struct {
	TotalServerKB   int64 `json:"total_server_kb"`
	TargetServerKB  int64 `json:"target_server_kb"`
	DatabaseCacheKB int64 `json:"database_cache_kb"`
	StolenServerKB  int64 `json:"stolen_server_kb"`
	// PageLifeExpectancy is in seconds.
	PageLifeExpectancy  int64 `json:"page_life_expectancy"`
	MemoryGrantsPending int64 `json:"memory_grants_pending"`
}

// MemorySample is one resource-monitor ring buffer notification.
type MemorySample struct {
	At time.Time `json:"at"`
	// UtilizationPct is the process memory utilization percentage.
	UtilizationPct float64 `json:"utilization_pct"`
	// AvailableMB is available physical memory at notification time.
	AvailableMB int64 `json:"available_mb"`
	// Low reports whether the notification signalled memory pressure.
	Low bool `json:"low"`
}

// CPUSample is one scheduler-monitor ring buffer entry (one per minute,
// roughly four hours of history on the server side).
type CPUSample struct {
	At       time.Time `json:"at"`
	SQLPct   float64   `json:"sql_pct"`
	OtherPct float64   `json:"other_pct"`
	IdlePct  float64   `json:"idle_pct"`
}

// CounterSample is one raw performance counter value.
type CounterSample struct {
	Object   string `json:"object"`
	Counter  string `json:"counter"`
	Instance string `json:"instance"`
	Value    int64  `json:"value"`
}

// WaitSample is one cumulative wait statistic with its assigned category.
type WaitSample struct {
	WaitType string `json:"wait_type"`
	// Category buckets the wait type (CPU, Buffer IO, Lock, ...); OTHER when
	// no category matches.
	Category     string `json:"category"`
	WaitingTasks int64  `json:"waiting_tasks"`
	WaitMs       int64  `json:"wait_ms"`
	// ResourceMs is WaitMs minus SignalMs.
	ResourceMs int64   `json:"resource_ms"`
	SignalMs   int64   `json:"signal_ms"`
	MaxWaitMs  int64   `json:"max_wait_ms"`
	Pct        float64 `json:"pct"`
}

// ConnectionStats summarizes current sessions and blocking.
type ConnectionStats struct {
	UserSessions    int64 `json:"user_sessions"`
	SystemSessions  int64 `json:"system_sessions"`
	ActiveRequests  int64 `json:"active_requests"`
	BlockedSessions int64 `json:"blocked_sessions"`
}

// ConfigChange is one sp_configure change pulled from the default trace.
type ConfigChange struct {
	At time.Time `json:"at"`
	// Detail is the raw message ("Configuration option 'x' changed from 0 to 1...").
	Detail    string `json:"detail"`
	SPID      int64  `json:"spid"`
	LoginName string `json:"login_name"`
	HostName  string `json:"host_name"`
	AppName   string `json:"app_name"`
}

// SystemEvent is one system_health extended-events entry.
type SystemEvent struct {
	At   time.Time `json:"at"`
	Name string    `json:"name"`
	// Severity is the error severity when the event carries one, else 0.
	Severity int64  `json:"severity"`
	Message  string `json:"message"`
	// Critical marks severity >= 20 or component failure states.
	Critical bool `json:"critical"`
}

// TraceEvent is one default trace row.
type TraceEvent struct {
	At         time.Time `json:"at"`
	EventClass int64     `json:"event_class"`
	EventName  string    `json:"event_name"`
	Database   string    `json:"database"`
	Detail     string    `json:"detail"`
	DurationMs int64     `json:"duration_ms"`
	CPUMs      int64     `json:"cpu_ms"`
	Reads      int64     `json:"reads"`
	Writes     int64     `json:"writes"`
	LoginName  string    `json:"login_name"`
	HostName   string    `json:"host_name"`
	AppName    string    `json:"app_name"`
	// System marks sessions the server itself owns (spid <= 50).
	System bool `json:"system"`
}
