// Package watch is the live terminal dashboard: every panel of every
// configured instance, refreshed on an interval, with per-column grid
// filters, sort keys, window presets and execution plan capture. State
// changes flow through a single update loop; refreshes and plan captures
// run as commands so the UI never blocks on the database.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/leapstack-labs/sqlscope/internal/dash"
)

// Config wires the dashboard hub into the terminal UI.
type Config struct {
	Hub *dash.Hub
	// Interval between automatic refreshes. Default one minute.
	Interval time.Duration
	// Logger receives UI-side failures. The alternate screen owns the
	// terminal, so callers should hand in a discard or file logger.
	Logger *slog.Logger
}

// Run takes over the terminal until the user quits or ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Hub == nil || len(cfg.Hub.Dashboards()) == 0 {
		return errors.New("no instances to watch")
	}

	p := tea.NewProgram(newModel(cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
