// Package config loads sqlscope configuration from file, environment and
// flags using koanf. Precedence (highest to lowest): flags > env vars >
// config file > defaults.
package config

import (
	"time"

	"github.com/leapstack-labs/sqlscope/internal/alert"
	"github.com/leapstack-labs/sqlscope/internal/mssql"
)

// Defaults applied before any other layer loads.
const (
	DefaultListen    = ":7333"
	DefaultInterval  = time.Minute
	DefaultHoursBack = 24
	DefaultStateFile = ".sqlscope/state.db"
	DefaultRetention = 7 * 24 * time.Hour
	DefaultLogLevel  = "info"
	DefaultLogFormat = "auto"
	DefaultOutput    = "auto"
)

// Config is the full sqlscope configuration.
type Config struct {
	Server    ServerConfig   `koanf:"server"`
	Refresh   RefreshConfig  `koanf:"refresh"`
	State     StateConfig    `koanf:"state"`
	Instances []mssql.Config `koanf:"instances"`
	Alerts    []alert.Rule   `koanf:"alerts"`
	Log       LogConfig      `koanf:"log"`
	Output    string         `koanf:"output"`
	NoColor   bool           `koanf:"no_color"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Listen is the bind address, e.g. ":7333".
	Listen string `koanf:"listen"`
	// BaseURL is the address clients print in links; defaults to Listen.
	BaseURL string `koanf:"base_url"`
}

// RefreshConfig controls the periodic telemetry collection.
type RefreshConfig struct {
	// Interval between refresh cycles. Zero disables the loop.
	Interval time.Duration `koanf:"interval"`
	// HoursBack is the default dashboard window.
	HoursBack int `koanf:"hours_back"`
	// Jitter spreads the first cycle so multiple processes pointed at the
	// same instances do not sample in lockstep.
	Jitter time.Duration `koanf:"jitter"`
}

// StateConfig configures the run journal.
type StateConfig struct {
	// Path to the SQLite journal, or :memory:. Relative paths resolve
	// against the config file's directory.
	Path string `koanf:"path"`
	// Retention is how long journal rows are kept. Zero keeps them forever.
	Retention time.Duration `koanf:"retention"`
}

// LogConfig configures slog output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is one of auto, text, json, pretty. Auto picks pretty when
	// stderr is a terminal and text otherwise.
	Format string `koanf:"format"`
}

// Instance returns the named instance config.
func (c *Config) Instance(name string) (mssql.Config, bool) {
	for _, inst := range c.Instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return mssql.Config{}, false
}
