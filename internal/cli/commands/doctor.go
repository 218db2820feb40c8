package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlscope/internal/alert"
	"github.com/leapstack-labs/sqlscope/internal/cli/config"
	"github.com/leapstack-labs/sqlscope/internal/cli/output"
	"github.com/leapstack-labs/sqlscope/internal/mssql"
	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration, journal and every instance connection",
		Long: `Check that sqlscope can do its job.

The doctor command verifies the configuration, opens the journal and probes
every configured instance: connectivity, server identity and whether Query
Store answers. Nothing is written to the monitored instances.`,
		Example: `  # Full health check
  sqlscope doctor

  # Machine-readable output
  sqlscope doctor -o json`,
		Args: cobra.NoArgs,
		RunE: runDoctor,
	}
	return cmd
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	ConfigFile string        `json:"config_file,omitempty"`
	Checks     []HealthCheck `json:"checks"`
	Healthy    bool          `json:"healthy"`
}

// HealthCheck is a single health check result.
type HealthCheck struct {
	Group   string   `json:"group"`
	Name    string   `json:"name"`
	Status  string   `json:"status"` // "pass", "warn", "error"
	Details []string `json:"details,omitempty"`
}

func (o *DoctorOutput) add(group, name, status string, details ...string) {
	o.Checks = append(o.Checks, HealthCheck{Group: group, Name: name, Status: status, Details: details})
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	c := NewCommandContext(cmd)
	out := buildDoctorOutput(cmd.Context(), c)

	switch c.Renderer.EffectiveMode() {
	case output.ModeJSON:
		return c.Renderer.JSON(out)
	case output.ModeMarkdown:
		return renderDoctorMarkdown(c.Renderer, out)
	default:
		return renderDoctorText(c.Renderer, out)
	}
}

func buildDoctorOutput(ctx context.Context, c *CommandContext) *DoctorOutput {
	out := &DoctorOutput{ConfigFile: config.GetConfigFileUsed(), Healthy: true}

	if out.ConfigFile != "" {
		out.add("configuration", "config file", "pass", "using "+out.ConfigFile)
	} else {
		out.add("configuration", "config file", "warn", "no config file found, defaults in effect")
	}
	if n := len(c.Cfg.Instances); n > 0 {
		out.add("configuration", "instances", "pass", fmt.Sprintf("%d configured", n))
	} else {
		out.add("configuration", "instances", "error", "none configured, run sqlscope init")
	}
	var ruleIssues []string
	for _, rule := range c.Cfg.Alerts {
		if err := alert.CheckMetric(rule.Metric, panelNames); err != nil {
			ruleIssues = append(ruleIssues, rule.Name+": "+err.Error())
		}
	}
	if len(ruleIssues) > 0 {
		out.add("configuration", "alert rules", "warn", ruleIssues...)
	} else {
		out.add("configuration", "alert rules", "pass", fmt.Sprintf("%d rules", len(c.Cfg.Alerts)))
	}

	journal, closeJournal, err := c.OpenJournal()
	if err != nil {
		out.add("journal", "journal", "error", err.Error())
	} else {
		if ver, verr := journal.MigrationVersion(); verr != nil {
			out.add("journal", "journal", "warn", "open ok, schema version unknown: "+verr.Error())
		} else {
			out.add("journal", "journal", "pass", fmt.Sprintf("schema v%d at %s", ver, journal.Path()))
		}
		closeJournal()
	}

	for _, inst := range c.Cfg.Instances {
		out.Checks = append(out.Checks, checkInstance(ctx, inst, c.Logger))
	}

	for _, ch := range out.Checks {
		if ch.Status == "error" {
			out.Healthy = false
		}
	}
	return out
}

// checkInstance probes one instance: connect, ping, identity, Query Store.
// A Query Store failure is a warning, not an error; the other panels still
// work when it is disabled.
func checkInstance(ctx context.Context, cfg mssql.Config, logger *slog.Logger) HealthCheck {
	check := HealthCheck{Group: "instances", Name: cfg.Name, Status: "pass"}

	client, err := mssql.Open(cfg, logger)
	if err != nil {
		check.Status = "error"
		check.Details = append(check.Details, "connect: "+err.Error())
		return check
	}
	defer func() { _ = client.Close() }()

	t0 := time.Now()
	if err := client.Ping(ctx); err != nil {
		check.Status = "error"
		check.Details = append(check.Details, "ping: "+err.Error())
		return check
	}
	check.Details = append(check.Details, fmt.Sprintf("ping %s", time.Since(t0).Round(time.Millisecond)))

	if info, err := client.ServerInfo(ctx); err != nil {
		check.Status = "warn"
		check.Details = append(check.Details, "server info: "+err.Error())
	} else {
		check.Details = append(check.Details,
			fmt.Sprintf("%s %s %s, %s", info.ServerName, info.Version, info.Level, info.Edition),
			"up "+info.Uptime().Round(time.Minute).String())
	}

	if _, err := client.QuerySnapshots(ctx, telemetry.LastHours(1), 1); err != nil {
		check.Status = "warn"
		check.Details = append(check.Details, "query store: "+err.Error())
	} else {
		check.Details = append(check.Details, "query store ok")
	}

	return check
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) error {
	styles := r.Styles()

	r.Println("")
	r.Println(styles.Header1.Render("sqlscope Health Report"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.Checks {
		if check.Group != currentGroup {
			if currentGroup != "" {
				r.Println("")
			}
			currentGroup = check.Group
			r.Println(styles.Header2.Render(titleCaser.String(currentGroup)))
		}

		icon := styles.StatusSuccess.String()
		switch check.Status {
		case "warn":
			icon = styles.Warning.Render("!")
		case "error":
			icon = styles.StatusFailed.String()
		}
		r.Printf("   %s %s\n", icon, check.Name)
		for _, detail := range check.Details {
			r.Println(styles.Muted.Render("       " + detail))
		}
	}
	r.Println("")

	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	if out.Healthy {
		r.Println("   " + styles.Success.Render("All checks passed"))
	} else {
		r.Println("   " + styles.Error.Render("Problems found, see above"))
	}
	r.Println("")

	return nil
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) error {
	r.Println("# sqlscope Health Report")
	r.Println("")
	if out.ConfigFile != "" {
		r.Println(output.FormatKeyValue("Config", out.ConfigFile))
		r.Println("")
	}

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.Checks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println("## " + titleCaser.String(currentGroup))
			r.Println("")
		}

		status := strings.ToUpper(check.Status)
		r.Printf("- **[%s]** %s\n", status, check.Name)
		for _, detail := range check.Details {
			r.Printf("  - %s\n", detail)
		}
	}
	r.Println("")

	if out.Healthy {
		r.Println("**All checks passed.**")
	} else {
		r.Println("**Problems found, see above.**")
	}
	r.Println("")

	return nil
}
