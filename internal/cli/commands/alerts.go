package commands

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlscope/internal/alert"
	"github.com/leapstack-labs/sqlscope/internal/cli/output"
	"github.com/leapstack-labs/sqlscope/internal/state"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

// NewAlertsCommand creates the alerts command.
func NewAlertsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List recorded alert events",
		Long: `List alert events from the journal, newest first.

Events are recorded whenever a refresh fires an alert rule, whether the
refresh came from serve, watch or a one-shot snapshot.`,
		Example: `  # Alerts from the last 24 hours
  sqlscope alerts

  # A tight window on one instance
  sqlscope alerts --instance prod --hours 4`,
		Args: cobra.NoArgs,
		RunE: runAlerts,
	}

	cmd.Flags().Int("hours", 24, "How far back to look")
	cmd.Flags().Int("limit", 50, "Max events to list")

	return cmd
}

func runAlerts(cmd *cobra.Command, _ []string) error {
	c := NewCommandContext(cmd)

	journal, closeJournal, err := c.OpenJournal()
	if err != nil {
		return err
	}
	defer closeJournal()

	hours, _ := cmd.Flags().GetInt("hours")
	limit, _ := cmd.Flags().GetInt("limit")

	events, err := journal.ListAlerts(c.Instance, telemetry.LastHours(hours), limit)
	if err != nil {
		return err
	}
	return renderAlertEvents(c.Renderer, events)
}

func renderAlertEvents(r *output.Renderer, events []state.AlertEvent) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(events)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(2, "Alert Events"))
		r.Println("")
		if len(events) == 0 {
			r.Println("_no alerts in the window_")
			return nil
		}
		r.Println("| Raised | Instance | Severity | Rule | Fired On |")
		r.Println("| --- | --- | --- | --- | --- |")
		for _, e := range events {
			r.Printf("| %s | %s | %s | %s | %s |\n",
				e.RaisedAt.Local().Format("2006-01-02 15:04:05"),
				e.Instance, e.Severity, e.Rule, alertFiredOn(e))
		}
		return nil
	default:
		if len(events) == 0 {
			r.Println(r.Styles().Muted.Render("no alerts in the window"))
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(r.Writer())
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Raised", "Instance", "Severity", "Rule", "Fired On"})
		for _, e := range events {
			t.AppendRow(table.Row{
				e.RaisedAt.Local().Format("2006-01-02 15:04:05"),
				e.Instance,
				severityCell(r.Styles(), e.Severity),
				e.Rule,
				alertFiredOn(e),
			})
		}
		t.Render()
		fmt.Fprintf(r.Writer(), "(%d events)\n", len(events))
		return nil
	}
}

// alertFiredOn shows what fired against what, e.g.
// "queries.avg_cpu_ms 812 gt 500".
func alertFiredOn(e state.AlertEvent) string {
	return fmt.Sprintf("%s %s %s %s", e.Metric,
		strconv.FormatFloat(e.Value, 'f', -1, 64), e.Op,
		strconv.FormatFloat(e.Threshold, 'f', -1, 64))
}

func severityCell(styles output.Styles, severity string) string {
	switch severity {
	case alert.SeverityCritical:
		return styles.Error.Render(severity)
	case alert.SeverityWarning:
		return styles.Warning.Render(severity)
	default:
		return styles.Info.Render(severity)
	}
}
