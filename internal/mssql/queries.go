// queries.go - T-SQL issued against the monitored instance.
//
// Everything here reads DMVs, the Query Store, the default trace and the
// system_health session; nothing writes. Window parameters arrive as
// @from/@to named args, result sets stay bounded with TOP.
package mssql

const queryServerInfo = `
SELECT @@SERVERNAME                                         AS server_name,
       CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128)) AS [version],
       CAST(SERVERPROPERTY('ProductLevel') AS nvarchar(128))   AS [level],
       CAST(SERVERPROPERTY('Edition') AS nvarchar(128))        AS edition,
       si.sqlserver_start_time                              AS started_at
FROM sys.dm_os_sys_info AS si;
`

// Query Store aggregates over the window, heaviest CPU first. Times in the
// store are microseconds; converted to milliseconds here.
const queryQuerySnapshots = `
SELECT TOP (@top)
       qsq.query_id,
       CONVERT(varchar(32), qsq.query_hash, 1)                            AS query_hash,
       LEFT(qsqt.query_sql_text, 2000)                                    AS query_text,
       DB_NAME()                                                          AS database_name,
       SUM(qsrs.count_executions)                                         AS executions,
       SUM(qsrs.avg_cpu_time * qsrs.count_executions) / 1000.0            AS total_cpu_ms,
       SUM(qsrs.avg_duration * qsrs.count_executions) / 1000.0            AS total_duration_ms,
       CAST(SUM(qsrs.avg_logical_io_reads * qsrs.count_executions) AS bigint)  AS total_reads,
       CAST(SUM(qsrs.avg_logical_io_writes * qsrs.count_executions) AS bigint) AS total_writes,
       AVG(qsrs.avg_query_max_used_memory) * 8.0                          AS avg_grant_kb,
       MAX(CAST(qsp.is_forced_plan AS int))                               AS forced_plan,
       MAX(qsrs.last_execution_time)                                      AS last_executed
FROM sys.query_store_query AS qsq
JOIN sys.query_store_query_text AS qsqt
    ON qsqt.query_text_id = qsq.query_text_id
JOIN sys.query_store_plan AS qsp
    ON qsp.query_id = qsq.query_id
JOIN sys.query_store_runtime_stats AS qsrs
    ON qsrs.plan_id = qsp.plan_id
JOIN sys.query_store_runtime_stats_interval AS qsrsi
    ON qsrsi.runtime_stats_interval_id = qsrs.runtime_stats_interval_id
WHERE qsrsi.start_time >= @from
  AND qsrsi.start_time < @to
GROUP BY qsq.query_id, qsq.query_hash, qsqt.query_sql_text
ORDER BY total_cpu_ms DESC;
`

const queryQueryActivity = `
SELECT qsrsi.start_time                                          AS at,
       SUM(qsrs.count_executions)                                AS executions,
       SUM(qsrs.avg_cpu_time * qsrs.count_executions) / 1000.0   AS cpu_ms,
       SUM(qsrs.avg_duration * qsrs.count_executions) / 1000.0   AS duration_ms
FROM sys.query_store_runtime_stats AS qsrs
JOIN sys.query_store_runtime_stats_interval AS qsrsi
    ON qsrsi.runtime_stats_interval_id = qsrs.runtime_stats_interval_id
WHERE qsrsi.start_time >= @from
  AND qsrsi.start_time < @to
GROUP BY qsrsi.start_time
ORDER BY qsrsi.start_time;
`

const queryQueryPlan = `
SELECT TOP (1) CAST(qsp.query_plan AS nvarchar(max)) AS query_plan
FROM sys.query_store_plan AS qsp
WHERE qsp.query_id = @query_id
ORDER BY qsp.last_execution_time DESC;
`

const queryMemoryClerks = `
SELECT TOP (32)
       mc.[type]                                AS clerk_type,
       mc.name                                  AS clerk_name,
       SUM(mc.pages_kb)                         AS pages_kb,
       SUM(mc.virtual_memory_committed_kb)      AS virtual_kb
FROM sys.dm_os_memory_clerks AS mc
GROUP BY mc.[type], mc.name
HAVING SUM(mc.pages_kb) > 0
ORDER BY pages_kb DESC;
`

const queryMemoryCounters = `
SELECT RTRIM(pc.counter_name) AS counter_name,
       pc.cntr_value          AS cntr_value
FROM sys.dm_os_performance_counters AS pc
WHERE (pc.object_name LIKE N'%Memory Manager%'
       AND pc.counter_name IN (N'Total Server Memory (KB)', N'Target Server Memory (KB)',
                               N'Database Cache Memory (KB)', N'Stolen Server Memory (KB)',
                               N'Memory Grants Pending'))
   OR (pc.object_name LIKE N'%Buffer Manager%'
       AND pc.counter_name = N'Page life expectancy');
`

// Resource-monitor ring buffer: process memory notifications with real
// timestamps, the only windowed memory history a bare instance keeps.
const queryMemoryHistory = `
SELECT DATEADD(ms, x.[timestamp] - si.ms_ticks, GETUTCDATE())                 AS at,
       x.rec.value('(//Notification)[1]', 'varchar(64)')                      AS notification,
       x.rec.value('(//MemoryRecord/MemoryUtilization)[1]', 'bigint')         AS utilization_pct,
       x.rec.value('(//MemoryRecord/AvailablePhysicalMemory)[1]', 'bigint') / 1024 AS available_mb
FROM (
    SELECT rb.[timestamp], CAST(rb.record AS xml) AS rec
    FROM sys.dm_os_ring_buffers AS rb
    WHERE rb.ring_buffer_type = N'RING_BUFFER_RESOURCE_MONITOR'
) AS x
CROSS JOIN sys.dm_os_sys_info AS si
WHERE DATEADD(ms, x.[timestamp] - si.ms_ticks, GETUTCDATE()) >= @from
  AND DATEADD(ms, x.[timestamp] - si.ms_ticks, GETUTCDATE()) < @to
ORDER BY x.[timestamp];
`

// Scheduler-monitor ring buffer: one SystemHealth record per minute, about
// four hours of CPU history on the server side.
const queryCPUHistory = `
SELECT DATEADD(ms, x.[timestamp] - si.ms_ticks, GETUTCDATE())          AS at,
       x.rec.value('(//SystemHealth/ProcessUtilization)[1]', 'int')    AS sql_pct,
       x.rec.value('(//SystemHealth/SystemIdle)[1]', 'int')            AS idle_pct
FROM (
    SELECT rb.[timestamp], CAST(rb.record AS xml) AS rec
    FROM sys.dm_os_ring_buffers AS rb
    WHERE rb.ring_buffer_type = N'RING_BUFFER_SCHEDULER_MONITOR'
      AND rb.record LIKE N'%<SystemHealth>%'
) AS x
CROSS JOIN sys.dm_os_sys_info AS si
WHERE DATEADD(ms, x.[timestamp] - si.ms_ticks, GETUTCDATE()) >= @from
  AND DATEADD(ms, x.[timestamp] - si.ms_ticks, GETUTCDATE()) < @to
ORDER BY x.[timestamp];
`

const queryPerfCounters = `
SELECT RTRIM(pc.object_name)   AS object_name,
       RTRIM(pc.counter_name)  AS counter_name,
       RTRIM(pc.instance_name) AS instance_name,
       pc.cntr_value           AS cntr_value
FROM sys.dm_os_performance_counters AS pc
WHERE pc.counter_name IN (N'Batch Requests/sec', N'SQL Compilations/sec', N'SQL Re-Compilations/sec',
                          N'User Connections', N'Logins/sec', N'Logouts/sec',
                          N'Lock Waits/sec', N'Number of Deadlocks/sec', N'Lock Timeouts/sec',
                          N'Page Splits/sec', N'Checkpoint pages/sec', N'Lazy writes/sec',
                          N'Full Scans/sec', N'Index Searches/sec',
                          N'Buffer cache hit ratio', N'Buffer cache hit ratio base',
                          N'Transactions/sec', N'Active Temp Tables')
  AND pc.instance_name IN (N'', N'_Total');
`

// Idle and broker waits excluded the same way every serious wait-stats
// query does, so the grid shows contention rather than sleep noise.
const queryWaitStats = `
SELECT ws.wait_type,
       ws.waiting_tasks_count,
       ws.wait_time_ms,
       ws.signal_wait_time_ms,
       ws.max_wait_time_ms
FROM sys.dm_os_wait_stats AS ws
WHERE ws.waiting_tasks_count > 0
  AND ws.wait_time_ms > 0
  AND ws.wait_type NOT IN (
      N'BROKER_EVENTHANDLER', N'BROKER_RECEIVE_WAITFOR', N'BROKER_TASK_STOP',
      N'BROKER_TO_FLUSH', N'BROKER_TRANSMITTER', N'CHECKPOINT_QUEUE',
      N'CHKPT', N'CLR_AUTO_EVENT', N'CLR_MANUAL_EVENT', N'CLR_SEMAPHORE',
      N'DBMIRROR_DBM_EVENT', N'DBMIRROR_EVENTS_QUEUE', N'DBMIRROR_WORKER_QUEUE',
      N'DBMIRRORING_CMD', N'DIRTY_PAGE_POLL', N'DISPATCHER_QUEUE_SEMAPHORE',
      N'EXECSYNC', N'FSAGENT', N'FT_IFTS_SCHEDULER_IDLE_WAIT', N'FT_IFTSHC_MUTEX',
      N'HADR_CLUSAPI_CALL', N'HADR_FILESTREAM_IOMGR_IOCOMPLETION', N'HADR_LOGCAPTURE_WAIT',
      N'HADR_NOTIFICATION_DEQUEUE', N'HADR_TIMER_TASK', N'HADR_WORK_QUEUE',
      N'KSOURCE_WAKEUP', N'LAZYWRITER_SLEEP', N'LOGMGR_QUEUE',
      N'MEMORY_ALLOCATION_EXT', N'ONDEMAND_TASK_QUEUE',
      N'PARALLEL_REDO_DRAIN_WORKER', N'PARALLEL_REDO_LOG_CACHE', N'PARALLEL_REDO_TRAN_LIST',
      N'PARALLEL_REDO_WORKER_SYNC', N'PARALLEL_REDO_WORKER_WAIT_WORK',
      N'PREEMPTIVE_OS_FLUSHFILEBUFFERS', N'PREEMPTIVE_XE_GETTARGETSTATE',
      N'PWAIT_ALL_COMPONENTS_INITIALIZED', N'PWAIT_DIRECTLOGCONSUMER_GETNEXT',
      N'QDS_ASYNC_QUEUE', N'QDS_CLEANUP_STALE_QUERIES_TASK_MAIN_LOOP_SLEEP',
      N'QDS_PERSIST_TASK_MAIN_LOOP_SLEEP', N'QDS_SHUTDOWN_QUEUE',
      N'REDO_THREAD_PENDING_WORK', N'REQUEST_FOR_DEADLOCK_SEARCH',
      N'RESOURCE_QUEUE', N'SERVER_IDLE_CHECK', N'SLEEP_BPOOL_FLUSH',
      N'SLEEP_DBSTARTUP', N'SLEEP_DCOMSTARTUP', N'SLEEP_MASTERDBREADY',
      N'SLEEP_MASTERMDREADY', N'SLEEP_MASTERUPGRADED', N'SLEEP_MSDBSTARTUP',
      N'SLEEP_SYSTEMTASK', N'SLEEP_TASK', N'SLEEP_TEMPDBSTARTUP',
      N'SNI_HTTP_ACCEPT', N'SOS_WORK_DISPATCHER', N'SP_SERVER_DIAGNOSTICS_SLEEP',
      N'SQLTRACE_BUFFER_FLUSH', N'SQLTRACE_INCREMENTAL_FLUSH_SLEEP',
      N'SQLTRACE_WAIT_ENTRIES', N'WAIT_FOR_RESULTS', N'WAITFOR',
      N'WAITFOR_TASKSHUTDOWN', N'WAIT_XTP_HOST_WAIT',
      N'WAIT_XTP_OFFLINE_CKPT_NEW_LOG', N'WAIT_XTP_CKPT_CLOSE',
      N'XE_DISPATCHER_JOIN', N'XE_DISPATCHER_WAIT', N'XE_TIMER_EVENT')
ORDER BY ws.wait_time_ms DESC;
`

const queryConnections = `
SELECT (SELECT COUNT(*) FROM sys.dm_exec_sessions WHERE is_user_process = 1) AS user_sessions,
       (SELECT COUNT(*) FROM sys.dm_exec_sessions WHERE is_user_process = 0) AS system_sessions,
       (SELECT COUNT(*) FROM sys.dm_exec_requests WHERE session_id > 50)     AS active_requests,
       (SELECT COUNT(*) FROM sys.dm_exec_requests WHERE blocking_session_id <> 0) AS blocked_sessions;
`

// The default trace rolls over; rebasing the current file path onto log.trc
// makes fn_trace_gettable read the whole set. EventClass 22 carries the
// "Configuration option ... changed" errorlog entries.
const queryConfigChanges = `
SELECT TOP (500)
       t.StartTime                      AS at,
       CAST(t.TextData AS nvarchar(2048)) AS detail,
       ISNULL(t.SPID, 0)                AS spid,
       ISNULL(t.LoginName, N'')         AS login_name,
       ISNULL(t.HostName, N'')          AS host_name,
       ISNULL(t.ApplicationName, N'')   AS app_name
FROM sys.traces AS st
CROSS APPLY fn_trace_gettable(
    REVERSE(SUBSTRING(REVERSE(st.[path]), CHARINDEX(N'\', REVERSE(st.[path])), 260)) + N'log.trc',
    DEFAULT) AS t
WHERE st.is_default = 1
  AND t.EventClass = 22
  AND t.TextData LIKE N'Configuration option%'
  AND t.StartTime >= @from
  AND t.StartTime < @to
ORDER BY t.StartTime DESC;
`

const querySystemEvents = `
SELECT TOP (500)
       x.ev.value('@timestamp', 'datetime2')                                        AS at,
       x.ev.value('@name', 'nvarchar(128)')                                         AS [name],
       ISNULL(x.ev.value('(data[@name="severity"]/value)[1]', 'bigint'), 0)         AS severity,
       ISNULL(x.ev.value('(data[@name="message"]/value)[1]', 'nvarchar(2048)'), N'') AS [message]
FROM (
    SELECT CAST(xet.target_data AS xml) AS target_data
    FROM sys.dm_xe_session_targets AS xet
    JOIN sys.dm_xe_sessions AS xe
        ON xe.[address] = xet.event_session_address
    WHERE xe.name = N'system_health'
      AND xet.target_name = N'ring_buffer'
) AS t
CROSS APPLY t.target_data.nodes('RingBufferTarget/event') AS x(ev)
WHERE x.ev.value('@timestamp', 'datetime2') >= @from
  AND x.ev.value('@timestamp', 'datetime2') < @to
ORDER BY at DESC;
`

const queryTraceEvents = `
SELECT TOP (1000)
       t.StartTime                                  AS at,
       t.EventClass                                 AS event_class,
       ISNULL(te.name, N'')                         AS event_name,
       ISNULL(DB_NAME(t.DatabaseID), N'')           AS database_name,
       ISNULL(CAST(t.TextData AS nvarchar(2048)), ISNULL(t.ObjectName, N'')) AS detail,
       ISNULL(t.Duration, 0) / 1000                 AS duration_ms,
       ISNULL(t.CPU, 0)                             AS cpu_ms,
       ISNULL(t.Reads, 0)                           AS reads,
       ISNULL(t.Writes, 0)                          AS writes,
       ISNULL(t.LoginName, N'')                     AS login_name,
       ISNULL(t.HostName, N'')                      AS host_name,
       ISNULL(t.ApplicationName, N'')               AS app_name,
       CASE WHEN ISNULL(t.SPID, 0) <= 50 THEN 1 ELSE 0 END AS is_system
FROM sys.traces AS st
CROSS APPLY fn_trace_gettable(
    REVERSE(SUBSTRING(REVERSE(st.[path]), CHARINDEX(N'\', REVERSE(st.[path])), 260)) + N'log.trc',
    DEFAULT) AS t
LEFT JOIN sys.trace_events AS te
    ON te.trace_event_id = t.EventClass
WHERE st.is_default = 1
  AND t.StartTime >= @from
  AND t.StartTime < @to
ORDER BY t.StartTime DESC;
`

// waitTypeCategories buckets wait types for the waits grid. Anything
// unlisted lands in OTHER.
var waitTypeCategories = map[string]string{
	"ASYNC_NETWORK_IO":           "Network IO",
	"BACKUPIO":                   "Other Disk IO",
	"BACKUPBUFFER":               "Other Disk IO",
	"CMEMTHREAD":                 "Memory",
	"CXCONSUMER":                 "Parallelism",
	"CXPACKET":                   "Parallelism",
	"CXSYNC_PORT":                "Parallelism",
	"CXSYNC_CONSUMER":            "Parallelism",
	"EXCHANGE":                   "Parallelism",
	"HADR_SYNC_COMMIT":           "Replication",
	"IO_COMPLETION":              "Other Disk IO",
	"LCK_M_BU":                   "Lock",
	"LCK_M_IS":                   "Lock",
	"LCK_M_IU":                   "Lock",
	"LCK_M_IX":                   "Lock",
	"LCK_M_S":                    "Lock",
	"LCK_M_SCH_M":                "Lock",
	"LCK_M_SCH_S":                "Lock",
	"LCK_M_SIU":                  "Lock",
	"LCK_M_SIX":                  "Lock",
	"LCK_M_U":                    "Lock",
	"LCK_M_UIX":                  "Lock",
	"LCK_M_X":                    "Lock",
	"LATCH_EX":                   "Latch",
	"LATCH_SH":                   "Latch",
	"LATCH_UP":                   "Latch",
	"LOGBUFFER":                  "Tran Log IO",
	"MEMORY_GRANT_UPDATE":        "Memory",
	"PAGEIOLATCH_EX":             "Buffer IO",
	"PAGEIOLATCH_SH":             "Buffer IO",
	"PAGEIOLATCH_UP":             "Buffer IO",
	"PAGELATCH_EX":               "Buffer Latch",
	"PAGELATCH_SH":               "Buffer Latch",
	"PAGELATCH_UP":               "Buffer Latch",
	"POOL_LOG_RATE_GOVERNOR":     "Log Rate Governor",
	"RESOURCE_SEMAPHORE":         "Memory",
	"RESOURCE_SEMAPHORE_QUERY_COMPILE": "Compilation",
	"SOS_SCHEDULER_YIELD":        "CPU",
	"THREADPOOL":                 "Worker Thread",
	"WRITELOG":                   "Tran Log IO",
	"WRITE_COMPLETION":           "Other Disk IO",
}

// getWaitCategory returns the bucket for a wait type, OTHER when unmapped.
func getWaitCategory(waitType string) string {
	if cat, ok := waitTypeCategories[waitType]; ok {
		return cat
	}
	return "OTHER"
}
