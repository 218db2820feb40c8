// Package commands implements the sqlscope subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlscope/internal/cli/config"
	"github.com/leapstack-labs/sqlscope/internal/cli/output"
	"github.com/leapstack-labs/sqlscope/internal/dash"
	"github.com/leapstack-labs/sqlscope/internal/mssql"
	"github.com/leapstack-labs/sqlscope/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	Instance string
}

// NewCommandContext gathers config, logger, renderer and the --instance
// selection for a command. It opens no connections; commands that need the
// journal or live instances call OpenJournal and BuildHub themselves.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())

	mode, _ := output.ParseMode(cfg.Output)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	instance, _ := cmd.Flags().GetString("instance")

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
		Instance: instance,
	}
}

// getConfig returns the configuration loaded by the root command.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}

	// Fallback for commands invoked outside the root command, tests mostly.
	return &config.Config{
		Server:  config.ServerConfig{Listen: config.DefaultListen},
		Refresh: config.RefreshConfig{Interval: config.DefaultInterval, HoursBack: config.DefaultHoursBack},
		State:   config.StateConfig{Path: config.DefaultStateFile, Retention: config.DefaultRetention},
		Log:     config.LogConfig{Level: config.DefaultLogLevel, Format: config.DefaultLogFormat},
		Output:  config.DefaultOutput,
	}
}

// OpenJournal opens the run journal at the configured path, creating the
// parent directory when needed. The returned cleanup must be called
// (typically via defer).
func (c *CommandContext) OpenJournal() (*state.Store, func(), error) {
	path := c.Cfg.State.Path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, nil, fmt.Errorf("create journal directory: %w", err)
			}
		}
	}

	journal, err := state.Open(path, c.Logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = journal.Close()
	}
	return journal, cleanup, nil
}

// SelectInstances resolves the --instance flag against the configured
// instances. An empty flag selects all of them.
func (c *CommandContext) SelectInstances() ([]mssql.Config, error) {
	if err := c.Cfg.ValidateInstances(); err != nil {
		return nil, err
	}
	if c.Instance == "" {
		return c.Cfg.Instances, nil
	}

	inst, ok := c.Cfg.Instance(c.Instance)
	if !ok {
		names := make([]string, 0, len(c.Cfg.Instances))
		for _, i := range c.Cfg.Instances {
			names = append(names, i.Name)
		}
		return nil, fmt.Errorf("unknown instance %q (configured: %s)", c.Instance, strings.Join(names, ", "))
	}
	return []mssql.Config{inst}, nil
}

// BuildHub connects the selected instances and wires a dashboard for each.
// The journal may be nil; one-shot commands that skip run recording pass nil.
// Closing the hub closes every dashboard and its connection.
func (c *CommandContext) BuildHub(journal *state.Store) (*dash.Hub, func(), error) {
	instances, err := c.SelectInstances()
	if err != nil {
		return nil, nil, err
	}

	hub := dash.NewHub(c.Logger)
	for _, inst := range instances {
		client, err := mssql.Open(inst, c.Logger)
		if err != nil {
			_ = hub.Close()
			return nil, nil, fmt.Errorf("instance %s: %w", inst.Name, err)
		}

		d, err := dash.New(inst.Name, client, journal, dash.Options{
			Rules:      c.Cfg.Alerts,
			TopQueries: inst.TopQueries,
			HoursBack:  c.Cfg.Refresh.HoursBack,
		}, c.Logger)
		if err != nil {
			_ = client.Close()
			_ = hub.Close()
			return nil, nil, fmt.Errorf("instance %s: %w", inst.Name, err)
		}

		if err := hub.Add(d); err != nil {
			_ = d.Close()
			_ = hub.Close()
			return nil, nil, err
		}
	}

	cleanup := func() {
		_ = hub.Close()
	}
	return hub, cleanup, nil
}
