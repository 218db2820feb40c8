package dash

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlscope/internal/alert"
	"github.com/leapstack-labs/sqlscope/internal/state"
	"github.com/leapstack-labs/sqlscope/internal/testutil"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry/telemetrytest"
)

func newTestHub(t *testing.T, sources map[string]*telemetrytest.Fake) *Hub {
	t.Helper()
	journal := newTestJournal(t)
	logger := testutil.NewTestLogger(t)
	h := NewHub(logger)
	for _, name := range []string{"prod", "staging"} {
		src, ok := sources[name]
		if !ok {
			continue
		}
		d, err := New(name, src, journal, Options{}, logger)
		require.NoError(t, err)
		require.NoError(t, h.Add(d))
	}
	return h
}

func TestHub_AddRejectsDuplicates(t *testing.T) {
	h := NewHub(nil)
	d, err := New("prod", telemetrytest.New(), nil, Options{}, nil)
	require.NoError(t, err)
	require.NoError(t, h.Add(d))

	dup, err := New("prod", telemetrytest.New(), nil, Options{}, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, h.Add(dup), "duplicate instance")
}

func TestHub_RefreshAll(t *testing.T) {
	sources := map[string]*telemetrytest.Fake{"prod": telemetrytest.New(), "staging": telemetrytest.New()}
	sources["staging"].FailWith("WaitStats", errors.New("timeout expired"))
	h := newTestHub(t, sources)

	reports := h.RefreshAll(context.Background())
	require.Len(t, reports, 2)
	assert.Equal(t, "prod", reports[0].Instance)
	assert.Equal(t, state.RunStatusOK, reports[0].Status())
	assert.Equal(t, "staging", reports[1].Instance)
	assert.Equal(t, state.RunStatusPartial, reports[1].Status())

	assert.Equal(t, []string{"prod", "staging"}, h.Names())
}

func TestHub_Overview(t *testing.T) {
	sources := map[string]*telemetrytest.Fake{"prod": telemetrytest.New(), "staging": telemetrytest.New()}
	sources["staging"].FailWith("Ping", errors.New("no such host"))
	h := newTestHub(t, sources)
	h.RefreshAll(context.Background())

	overview := h.Overview(context.Background())
	require.Len(t, overview, 2)

	prod := overview[0]
	assert.True(t, prod.Reachable)
	assert.Equal(t, "SQLBOX", prod.ServerName)
	assert.Equal(t, int64(24), prod.Sessions)
	assert.Equal(t, int64(2), prod.Blocked)
	assert.Equal(t, state.RunStatusOK, prod.LastStatus)
	assert.False(t, prod.LastRefresh.IsZero())

	staging := overview[1]
	assert.False(t, staging.Reachable)
	assert.Contains(t, staging.Error, "no such host")
}

func TestHub_GetAndReload(t *testing.T) {
	h := newTestHub(t, map[string]*telemetrytest.Fake{"prod": telemetrytest.New()})

	d, ok := h.Get("prod")
	require.True(t, ok)
	assert.Equal(t, "prod", d.Name())
	_, ok = h.Get("nope")
	assert.False(t, ok)

	rules := []alert.Rule{{Name: "cpu", Metric: "resources.sql_cpu_pct", Op: ">", Threshold: 90}}
	require.NoError(t, h.ReloadRules(rules))
	states := d.RuleStates()
	require.Len(t, states, 1)
	assert.Equal(t, "cpu", states[0].Rule.Name)

	err := h.ReloadRules([]alert.Rule{{Name: "bad", Metric: "nodot", Op: ">", Threshold: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instance prod")
}

func TestHub_Close(t *testing.T) {
	src := telemetrytest.New()
	h := newTestHub(t, map[string]*telemetrytest.Fake{"prod": src})
	require.NoError(t, h.Close())
	assert.True(t, src.Closed())
}
