package commands

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlscope/internal/cli/config"
	"github.com/leapstack-labs/sqlscope/internal/dash"
	"github.com/leapstack-labs/sqlscope/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard API server",
		Long: `Run the sqlscope API server.

The server connects to every configured instance, refreshes all dashboards
on a fixed interval, records runs in the journal and serves grids, charts
and alerts over HTTP with live update events. Edits to the config file are
picked up without a restart.`,
		Example: `  # Serve all configured instances
  sqlscope serve

  # Serve one instance on another port
  sqlscope serve --instance prod --listen :8080

  # Refresh every 30 seconds, keep three days of history
  sqlscope serve --interval 30s --retention 72h`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	// These feed the config layer; flag values beat env and file values.
	cmd.Flags().String("listen", "", "Listen address (default :7333)")
	cmd.Flags().Duration("interval", 0, "Refresh interval")
	cmd.Flags().Duration("jitter", 0, "Max random delay before the first refresh")
	cmd.Flags().String("state", "", "Journal database path")
	cmd.Flags().Duration("retention", 0, "How long journal rows are kept")
	cmd.Flags().Int("hours", 0, "Initial window in hours for every panel")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	c := NewCommandContext(cmd)

	journal, closeJournal, err := c.OpenJournal()
	if err != nil {
		return err
	}
	defer closeJournal()

	hub, closeHub, err := c.BuildHub(journal)
	if err != nil {
		return err
	}
	defer closeHub()

	srv := server.NewServer(server.Config{
		Hub:        hub,
		Journal:    journal,
		Listen:     c.Cfg.Server.Listen,
		Interval:   c.Cfg.Refresh.Interval,
		Jitter:     c.Cfg.Refresh.Jitter,
		Retention:  c.Cfg.State.Retention,
		ConfigPath: config.GetConfigFileUsed(),
		Reload:     reloadRules(cmd, hub),
		Logger:     c.Logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Renderer.Printf("Serving dashboards on %s\n", apiURL(c.Cfg.Server))
	return srv.Serve(ctx)
}

// apiURL is the address humans paste into a client, derived from the listen
// address unless base_url overrides it.
func apiURL(cfg config.ServerConfig) string {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/") + "/api"
	}
	addr := cfg.Listen
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/api"
}

// reloadRules re-reads the config file and swaps the alert rule set on every
// dashboard. Instance wiring is left alone; adding or removing instances
// still needs a restart.
func reloadRules(cmd *cobra.Command, hub *dash.Hub) func() error {
	cfgFile := config.GetConfigFileUsed()
	flags := cmd.Flags()
	return func() error {
		fresh, err := config.Load(cfgFile, flags)
		if err != nil {
			return err
		}
		if err := fresh.Validate(); err != nil {
			return err
		}
		return hub.ReloadRules(fresh.Alerts)
	}
}
