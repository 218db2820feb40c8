package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlscope/internal/cli/output"
	"github.com/leapstack-labs/sqlscope/internal/state"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded refresh runs",
		Long: `List refresh runs from the journal, newest first.

With a run id the per-panel breakdown of that run prints instead.`,
		Example: `  # Recent runs across all instances
  sqlscope runs

  # Runs for one instance
  sqlscope runs --instance prod --limit 50

  # One run in detail
  sqlscope runs 01890a5d-8c2f-7bd0-93e5-6d8f21a0c9e3`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRuns,
	}

	cmd.Flags().Int("limit", 20, "Max runs to list")

	return cmd
}

func runRuns(cmd *cobra.Command, args []string) error {
	c := NewCommandContext(cmd)

	journal, closeJournal, err := c.OpenJournal()
	if err != nil {
		return err
	}
	defer closeJournal()

	if len(args) == 1 {
		run, err := journal.GetRun(args[0])
		if err != nil {
			return err
		}
		return renderRun(c.Renderer, run)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := journal.ListRuns(c.Instance, limit)
	if err != nil {
		return err
	}
	return renderRuns(c.Renderer, runs)
}

func renderRuns(r *output.Renderer, runs []state.Run) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(runs)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(2, "Refresh Runs"))
		r.Println("")
		if len(runs) == 0 {
			r.Println("_no runs recorded_")
			return nil
		}
		r.Println("| Run | Instance | Status | Started | Took | Panels |")
		r.Println("| --- | --- | --- | --- | --- | --- |")
		for _, run := range runs {
			r.Printf("| %s | %s | %s | %s | %s | %d/%d |\n",
				run.ID, run.Instance, run.Status,
				run.StartedAt.Local().Format("2006-01-02 15:04:05"),
				runTook(run), run.PanelsOK, run.PanelsOK+run.PanelsFailed)
		}
		return nil
	default:
		if len(runs) == 0 {
			r.Println(r.Styles().Muted.Render("no runs recorded"))
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(r.Writer())
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Run", "Instance", "Status", "Started", "Took", "Panels"})
		for _, run := range runs {
			t.AppendRow(table.Row{
				run.ID, run.Instance, statusCell(r.Styles(), run.Status),
				run.StartedAt.Local().Format("2006-01-02 15:04:05"),
				runTook(run),
				fmt.Sprintf("%d/%d", run.PanelsOK, run.PanelsOK+run.PanelsFailed),
			})
		}
		t.Render()
		fmt.Fprintf(r.Writer(), "(%d runs)\n", len(runs))
		return nil
	}
}

func renderRun(r *output.Renderer, run state.Run) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(run)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(2, "Run "+run.ID))
		r.Println("")
		r.Println(output.FormatKeyValue("Instance", run.Instance))
		r.Println(output.FormatKeyValue("Status", string(run.Status)))
		r.Println(output.FormatKeyValue("Window", output.FormatWindow(run.WindowFrom, run.WindowTo)))
		r.Println(output.FormatKeyValue("Started", run.StartedAt.Local().Format("2006-01-02 15:04:05")))
		r.Println(output.FormatKeyValue("Took", runTook(run)))
		r.Println("")
		r.Println("| Panel | Status | Rows | Took | Error |")
		r.Println("| --- | --- | --- | --- | --- |")
		for _, p := range run.Panels {
			r.Printf("| %s | %s | %d | %s | %s |\n",
				p.Panel, p.Status, p.Rows, panelTook(p), p.Error)
		}
		return nil
	default:
		styles := r.Styles()
		r.Println(styles.Header2.Render("Run " + run.ID))
		r.Println("  Instance: " + styles.InstanceName.Render(run.Instance))
		r.Println("  Status:   " + statusCell(styles, run.Status))
		r.Println("  Window:   " + output.FormatWindow(run.WindowFrom, run.WindowTo))
		r.Println("  Started:  " + run.StartedAt.Local().Format("2006-01-02 15:04:05"))
		r.Println("  Took:     " + runTook(run))
		r.Println("")
		t := table.NewWriter()
		t.SetOutputMirror(r.Writer())
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Panel", "Status", "Rows", "Took", "Error"})
		for _, p := range run.Panels {
			t.AppendRow(table.Row{p.Panel, string(p.Status), p.Rows, panelTook(p), p.Error})
		}
		t.Render()
		return nil
	}
}

func runTook(run state.Run) string {
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

func panelTook(p state.PanelRun) string {
	return (time.Duration(p.DurationMs) * time.Millisecond).String()
}

func statusCell(styles output.Styles, s state.RunStatus) string {
	switch s {
	case state.RunStatusOK:
		return styles.StatusSuccess.String() + " ok"
	case state.RunStatusFailed:
		return styles.StatusFailed.String() + " failed"
	default:
		return styles.Warning.Render("~") + " partial"
	}
}
