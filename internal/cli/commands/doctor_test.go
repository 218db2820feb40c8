package commands

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlscope/internal/alert"
	"github.com/leapstack-labs/sqlscope/internal/cli/config"
	"github.com/leapstack-labs/sqlscope/internal/cli/output"
)

func TestDoctorOutputAdd(t *testing.T) {
	out := &DoctorOutput{Healthy: true}

	out.add("configuration", "config file", "pass", "using sqlscope.yaml")
	out.add("journal", "journal", "error", "disk full")

	require.Len(t, out.Checks, 2)
	assert.Equal(t, "configuration", out.Checks[0].Group)
	assert.Equal(t, "pass", out.Checks[0].Status)
	assert.Equal(t, []string{"using sqlscope.yaml"}, out.Checks[0].Details)
	assert.Equal(t, "error", out.Checks[1].Status)
}

func TestBuildDoctorOutput_NoInstances(t *testing.T) {
	config.ResetConfig()
	c := &CommandContext{
		Cfg: &config.Config{
			State: config.StateConfig{Path: ":memory:"},
		},
		Logger: slog.New(slog.DiscardHandler),
	}

	out := buildDoctorOutput(context.Background(), c)

	assert.False(t, out.Healthy, "no instances should fail the health check")

	byName := make(map[string]HealthCheck)
	for _, ch := range out.Checks {
		byName[ch.Name] = ch
	}
	assert.Equal(t, "error", byName["instances"].Status)
	assert.Equal(t, "warn", byName["config file"].Status)
	assert.Equal(t, "pass", byName["journal"].Status)
	assert.Equal(t, "pass", byName["alert rules"].Status)
}

func TestBuildDoctorOutput_RuleMetricTypo(t *testing.T) {
	config.ResetConfig()
	c := &CommandContext{
		Cfg: &config.Config{
			State: config.StateConfig{Path: ":memory:"},
			Alerts: []alert.Rule{
				{Name: "cpu-pressure", Metric: "resources.sql_cpu_pct", Op: ">", Threshold: 90},
				{Name: "typo", Metric: "resourcez.sql_cpu_pct", Op: ">", Threshold: 90},
			},
		},
		Logger: slog.New(slog.DiscardHandler),
	}

	out := buildDoctorOutput(context.Background(), c)

	var rules HealthCheck
	for _, ch := range out.Checks {
		if ch.Name == "alert rules" {
			rules = ch
		}
	}
	assert.Equal(t, "warn", rules.Status)
	require.Len(t, rules.Details, 1)
	assert.Contains(t, rules.Details[0], "typo")
	assert.Contains(t, rules.Details[0], `no panel named "resourcez"`)
}

func doctorFixture() *DoctorOutput {
	out := &DoctorOutput{Healthy: false}
	out.add("configuration", "config file", "pass", "using sqlscope.yaml")
	out.add("configuration", "instances", "pass", "2 configured")
	out.add("instances", "prod", "pass", "ping 3ms", "query store ok")
	out.add("instances", "staging", "error", "connect: connection refused")
	return out
}

func TestRenderDoctorText(t *testing.T) {
	buf := new(bytes.Buffer)
	r := output.NewRenderer(buf, new(bytes.Buffer), output.ModeText)

	err := renderDoctorText(r, doctorFixture())
	require.NoError(t, err)

	got := buf.String()
	assert.Contains(t, got, "Health Report")
	assert.Contains(t, got, "prod")
	assert.Contains(t, got, "connection refused")
	assert.Contains(t, got, "Problems found")
}

func TestRenderDoctorMarkdown(t *testing.T) {
	buf := new(bytes.Buffer)
	r := output.NewRenderer(buf, new(bytes.Buffer), output.ModeMarkdown)

	err := renderDoctorMarkdown(r, doctorFixture())
	require.NoError(t, err)

	got := buf.String()
	assert.Contains(t, got, "# sqlscope Health Report")
	assert.Contains(t, got, "- **[PASS]** prod")
	assert.Contains(t, got, "- **[ERROR]** staging")
	assert.Contains(t, got, "**Problems found, see above.**")
}
