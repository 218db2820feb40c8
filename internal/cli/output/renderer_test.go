package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlscope/internal/grid"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Mode
		wantErr bool
	}{
		{name: "empty defaults to auto", in: "", want: ModeAuto},
		{name: "auto", in: "auto", want: ModeAuto},
		{name: "text", in: "text", want: ModeText},
		{name: "table alias", in: "table", want: ModeText},
		{name: "markdown", in: "markdown", want: ModeMarkdown},
		{name: "md alias", in: "md", want: ModeMarkdown},
		{name: "json", in: "json", want: ModeJSON},
		{name: "unknown", in: "yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unknown output format")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectiveMode(t *testing.T) {
	var out, errOut bytes.Buffer

	// A plain buffer is not a terminal, so auto resolves to markdown.
	r := NewRenderer(&out, &errOut, ModeAuto)
	assert.Equal(t, ModeMarkdown, r.EffectiveMode())

	// Explicit modes pass through untouched.
	assert.Equal(t, ModeText, NewRenderer(&out, &errOut, ModeText).EffectiveMode())
	assert.Equal(t, ModeJSON, NewRenderer(&out, &errOut, ModeJSON).EffectiveMode())
}

func TestRendererMarkdownOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRenderer(&out, &errOut, ModeMarkdown)

	r.Header(1, "Instances")
	r.Header(2, "prod")
	r.Success("refreshed")
	r.Warning("stale window")
	r.Error("unreachable")

	assert.Contains(t, out.String(), "# Instances")
	assert.Contains(t, out.String(), "## prod")
	assert.Contains(t, out.String(), "✓ refreshed")
	assert.Contains(t, errOut.String(), "! stale window")
	assert.Contains(t, errOut.String(), "✗ unreachable")
}

func TestRendererJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRenderer(&out, &errOut, ModeJSON)

	require.NoError(t, r.JSON(map[string]int{"sessions": 24}))
	assert.JSONEq(t, `{"sessions": 24}`, out.String())
	assert.Contains(t, out.String(), "\n", "output is indented, not a single line")
}

func TestFormatHeaderAndKeyValue(t *testing.T) {
	assert.Equal(t, "# Queries", FormatHeader(1, "Queries"))
	assert.Equal(t, "### Waits", FormatHeader(3, "Waits"))
	assert.Equal(t, "**Server:** SQLBOX", FormatKeyValue("Server", "SQLBOX"))
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		name string
		col  grid.ColumnSpec
		in   any
		want string
	}{
		{name: "string passes through", col: grid.ColumnSpec{Kind: grid.KindString}, in: "orders", want: "orders"},
		{name: "bool yes", col: grid.ColumnSpec{Kind: grid.KindBool}, in: true, want: "yes"},
		{name: "bool no", col: grid.ColumnSpec{Kind: grid.KindBool}, in: false, want: "no"},
		{name: "zero time reads never", col: grid.ColumnSpec{Kind: grid.KindTime}, in: time.Time{}, want: "never"},
		{name: "count gets separators", col: grid.ColumnSpec{Kind: grid.KindNumber}, in: float64(1234567), want: "1,234,567"},
		{name: "sub-second millis keep unit", col: grid.ColumnSpec{Kind: grid.KindNumber, Unit: "ms"}, in: 12.5, want: "12.5 ms"},
		{name: "long millis read as duration", col: grid.ColumnSpec{Kind: grid.KindNumber, Unit: "ms"}, in: float64(90000), want: "1m30s"},
		{name: "percent", col: grid.ColumnSpec{Kind: grid.KindNumber, Unit: "%"}, in: 42.25, want: "42.2%"},
		{name: "kilobytes scale up", col: grid.ColumnSpec{Kind: grid.KindNumber, Unit: "KB"}, in: float64(2048), want: "2.0 MiB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCell(tt.col, tt.in))
		})
	}
}

func TestFormatWindow(t *testing.T) {
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	got := FormatWindow(from, from.Add(24*time.Hour))
	assert.Contains(t, got, "(24h)")

	got = FormatWindow(from, from.Add(7*24*time.Hour))
	assert.Contains(t, got, "(7d)")
}
