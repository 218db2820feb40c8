package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlscope/internal/cli/output"
)

// PlanOutput is the JSON shape for a captured execution plan.
type PlanOutput struct {
	Instance string `json:"instance"`
	QueryID  int64  `json:"query_id"`
	Plan     string `json:"plan"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <query-id>",
		Short: "Fetch the execution plan for a Query Store query",
		Long: `Fetch the showplan XML for one Query Store query.

Query IDs come from the queries panel (sqlscope snapshot queries). Text
mode prints the raw XML, ready to save as a .sqlplan file.`,
		Example: `  # Save a plan for a plan viewer
  sqlscope plan 4211 --instance prod -o text > 4211.sqlplan

  # JSON envelope
  sqlscope plan 4211 --instance prod -o json`,
		Args: cobra.ExactArgs(1),
		RunE: runPlan,
	}
	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	queryID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("query id %q is not a number", args[0])
	}

	c := NewCommandContext(cmd)
	r := c.Renderer

	if c.Instance == "" && len(c.Cfg.Instances) > 1 {
		return errors.New("several instances configured, pick one with --instance")
	}

	hub, closeHub, err := c.BuildHub(nil)
	if err != nil {
		return err
	}
	defer closeHub()

	d := hub.Dashboards()[0]

	var spinner *output.Spinner
	if r.EffectiveMode() == output.ModeText {
		spinner = r.NewSpinner(fmt.Sprintf("Capturing plan for query %d...", queryID))
		spinner.Start()
	}

	plan, err := d.CapturePlan(cmd.Context(), queryID)
	if err != nil {
		if spinner != nil {
			spinner.Fail("Plan capture failed")
		}
		return err
	}
	if spinner != nil {
		spinner.Success(fmt.Sprintf("Captured plan for query %d", queryID))
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(PlanOutput{Instance: d.Name(), QueryID: queryID, Plan: plan})
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, fmt.Sprintf("Execution plan: query %d", queryID)))
		r.Println("")
		r.Println(output.FormatCodeBlock("xml", plan))
	default:
		r.Println(plan)
	}
	return nil
}
