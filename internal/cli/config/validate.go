package config

import (
	"fmt"

	"github.com/leapstack-labs/sqlscope/internal/alert"
)

// Validate checks if the configuration is valid. It does not require any
// instances, so help and journal-only commands work with a bare config.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q (debug, info, warn, error)", c.Log.Level)
	}

	switch c.Log.Format {
	case "auto", "text", "json", "pretty":
	default:
		return fmt.Errorf("unknown log format %q (auto, text, json, pretty)", c.Log.Format)
	}

	if c.Refresh.Interval < 0 {
		return fmt.Errorf("refresh interval must not be negative")
	}
	if c.Refresh.HoursBack <= 0 {
		return fmt.Errorf("refresh hours_back must be positive")
	}
	if c.Refresh.Jitter < 0 {
		return fmt.Errorf("refresh jitter must not be negative")
	}
	if c.State.Retention < 0 {
		return fmt.Errorf("state retention must not be negative")
	}

	seen := make(map[string]struct{}, len(c.Instances))
	for _, inst := range c.Instances {
		if err := inst.Validate(); err != nil {
			return err
		}
		if _, dup := seen[inst.Name]; dup {
			return fmt.Errorf("duplicate instance name %q", inst.Name)
		}
		seen[inst.Name] = struct{}{}
	}

	if err := alert.ValidateRules(c.Alerts); err != nil {
		return fmt.Errorf("invalid alert rules: %w", err)
	}

	return nil
}

// ValidateInstances additionally requires at least one configured instance.
// serve, watch and snapshot need one; the journal commands do not.
func (c *Config) ValidateInstances() error {
	if len(c.Instances) == 0 {
		return fmt.Errorf("no instances configured\nHint: Add an instances: block to sqlscope.yaml or run sqlscope init to write a starter config")
	}
	return nil
}
