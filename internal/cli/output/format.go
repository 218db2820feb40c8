package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/leapstack-labs/sqlscope/internal/grid"
)

// FormatHeader returns a markdown heading.
func FormatHeader(level int, text string) string {
	return strings.Repeat("#", level) + " " + text
}

// FormatKeyValue returns a markdown bold-key line.
func FormatKeyValue(key, value string) string {
	return fmt.Sprintf("**%s:** %s", key, value)
}

// FormatCodeBlock returns a fenced markdown code block.
func FormatCodeBlock(lang, code string) string {
	return fmt.Sprintf("```%s\n%s\n```", lang, strings.TrimRight(code, "\n"))
}

// FormatCell renders one grid cell for humans, using the column's kind and
// unit. Raw cell values come positionally typed from grid.View.VisibleCells.
func FormatCell(col grid.ColumnSpec, v any) string {
	switch col.Kind {
	case grid.KindTime:
		t, ok := v.(time.Time)
		if !ok || t.IsZero() {
			return "never"
		}
		return t.Local().Format("2006-01-02 15:04:05")
	case grid.KindBool:
		if b, ok := v.(bool); ok && b {
			return "yes"
		}
		return "no"
	case grid.KindNumber:
		f, ok := v.(float64)
		if !ok {
			return fmt.Sprintf("%v", v)
		}
		return formatNumber(f, col.Unit)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatNumber(f float64, unit string) string {
	switch unit {
	case "ms":
		return formatMillis(f)
	case "KB":
		return humanize.IBytes(uint64(f * 1024))
	case "MB":
		return humanize.IBytes(uint64(f * 1024 * 1024))
	case "%":
		return fmt.Sprintf("%.1f%%", f)
	case "pages":
		return humanize.Commaf(f)
	default:
		if f == float64(int64(f)) {
			return humanize.Comma(int64(f))
		}
		return humanize.Commaf(f)
	}
}

// formatMillis renders a millisecond quantity at a readable precision:
// sub-second values keep the unit, everything longer reads as a duration.
func formatMillis(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.1f ms", ms)
	}
	d := time.Duration(ms * float64(time.Millisecond))
	return d.Round(10 * time.Millisecond).String()
}

// FormatWindow describes a time range the way the dashboards label it.
func FormatWindow(from, to time.Time) string {
	const layout = "2006-01-02 15:04"
	return fmt.Sprintf("%s → %s (%s)", from.Local().Format(layout),
		to.Local().Format(layout), humanizeSpan(to.Sub(from)))
}

func humanizeSpan(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return fmt.Sprintf("%.0fd", d.Hours()/24)
	case d >= time.Hour:
		return fmt.Sprintf("%.0fh", d.Hours())
	default:
		return d.Round(time.Minute).String()
	}
}
