package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlscope/internal/watch"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live terminal dashboard",
		Long: `Watch every configured instance from the terminal.

Panels refresh on a fixed interval and are navigated with the keyboard:

  tab / shift+tab    next / previous panel
  [ / ]              previous / next grid
  i                  next instance
  r                  refresh now
  /                  filter the focused column
  f / F              clear the column filter / all filters
  s / S              sort descending / ascending
  1 / 2 / 3          window: last hour / day / week
  p                  capture the selected query's execution plan
  esc                cancel a plan capture
  ?                  toggle key help
  q                  quit

Column filters reset whenever fresh data arrives.`,
		Example: `  # Watch all configured instances
  sqlscope watch

  # One instance, refreshed every 15 seconds
  sqlscope watch --instance prod --interval 15s

  # Start with a one-hour window
  sqlscope watch --hours 1`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}

	// These feed the config layer; flag values beat env and file values.
	cmd.Flags().Duration("interval", 0, "Refresh interval")
	cmd.Flags().Int("hours", 0, "Initial window in hours for every panel")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	c := NewCommandContext(cmd)

	// The alternate screen owns the terminal, so dashboards get a logger
	// that goes nowhere.
	c.Logger = slog.New(slog.DiscardHandler)

	journal, closeJournal, err := c.OpenJournal()
	if err != nil {
		c.Renderer.Warning(fmt.Sprintf("journal unavailable, runs not recorded: %v", err))
		journal = nil
	} else {
		defer closeJournal()
	}

	hub, closeHub, err := c.BuildHub(journal)
	if err != nil {
		return err
	}
	defer closeHub()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watch.Run(ctx, watch.Config{
		Hub:      hub,
		Interval: c.Cfg.Refresh.Interval,
		Logger:   c.Logger,
	})
}
