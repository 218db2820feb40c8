package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRun(instance string, started time.Time) Run {
	return Run{
		Instance:     instance,
		Status:       RunStatusPartial,
		WindowFrom:   started.Add(-24 * time.Hour),
		WindowTo:     started,
		StartedAt:    started,
		CompletedAt:  started.Add(3 * time.Second),
		PanelsOK:     7,
		PanelsFailed: 1,
		Panels: []PanelRun{
			{Panel: "queries", Status: RunStatusOK, Rows: 100, DurationMs: 420},
			{Panel: "memory", Status: RunStatusFailed, Error: "login timeout"},
		},
	}
}

func TestStore_RecordAndGetRun(t *testing.T) {
	s := newTestStore(t)
	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	id, err := s.RecordRun(sampleRun("prod", started))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "prod", got.Instance)
	assert.Equal(t, RunStatusPartial, got.Status)
	assert.Equal(t, 7, got.PanelsOK)
	assert.Equal(t, 1, got.PanelsFailed)
	require.Len(t, got.Panels, 2)
	// Panels come back sorted by name.
	assert.Equal(t, "memory", got.Panels[0].Panel)
	assert.Equal(t, "login timeout", got.Panels[0].Error)
	assert.Equal(t, "queries", got.Panels[1].Panel)
	assert.Equal(t, 100, got.Panels[1].Rows)
}

func TestStore_GetRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListRuns(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := s.RecordRun(sampleRun("prod", base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	_, err := s.RecordRun(sampleRun("staging", base))
	require.NoError(t, err)

	t.Run("newest first", func(t *testing.T) {
		runs, err := s.ListRuns("prod", 10)
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))
	})

	t.Run("limit", func(t *testing.T) {
		runs, err := s.ListRuns("prod", 2)
		require.NoError(t, err)
		assert.Len(t, runs, 2)
	})

	t.Run("all instances", func(t *testing.T) {
		runs, err := s.ListRuns("", 10)
		require.NoError(t, err)
		assert.Len(t, runs, 4)
	})
}

func TestStore_Alerts(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	events := []AlertEvent{
		{Instance: "prod", Rule: "blocked-sessions", Metric: "resources.blocked_sessions",
			Op: ">", Threshold: 10, Value: 14, Severity: "warning", Message: "14 blocked", RaisedAt: base},
		{Instance: "prod", Rule: "ple-low", Metric: "memory.page_life_expectancy",
			Op: "<", Threshold: 300, Value: 120, Severity: "critical", RaisedAt: base.Add(time.Hour)},
		{Instance: "staging", Rule: "ple-low", Metric: "memory.page_life_expectancy",
			Op: "<", Threshold: 300, Value: 90, Severity: "critical", RaisedAt: base.Add(2 * time.Hour)},
	}
	require.NoError(t, s.RecordAlerts(events))
	require.NoError(t, s.RecordAlerts(nil))

	t.Run("by instance newest first", func(t *testing.T) {
		got, err := s.ListAlerts("prod", telemetry.TimeRange{}, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "ple-low", got[0].Rule)
		assert.Equal(t, 120.0, got[0].Value)
	})

	t.Run("window filter", func(t *testing.T) {
		win := telemetry.Between(base.Add(30*time.Minute), base.Add(3*time.Hour))
		got, err := s.ListAlerts("", win, 10)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})
}

func TestStore_PruneBefore(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	oldID, err := s.RecordRun(sampleRun("prod", base.Add(-10*24*time.Hour)))
	require.NoError(t, err)
	keepID, err := s.RecordRun(sampleRun("prod", base))
	require.NoError(t, err)
	require.NoError(t, s.RecordAlerts([]AlertEvent{
		{Instance: "prod", Rule: "old", Metric: "m", Op: ">", Severity: "info", RaisedAt: base.Add(-10 * 24 * time.Hour)},
	}))

	pruned, err := s.PruneBefore(base.Add(-7 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = s.GetRun(oldID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRun(keepID)
	assert.NoError(t, err)

	alerts, err := s.ListAlerts("prod", telemetry.TimeRange{}, 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestStore_MigrationVersion(t *testing.T) {
	s := newTestStore(t)

	v, err := s.MigrationVersion()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, int64(1))
}
