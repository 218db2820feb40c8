// Package alert evaluates threshold rules against the gauge metrics each
// dashboard refresh produces. Rules are declarative (metric, operator,
// threshold) and an optional hold duration suppresses one-sample blips.
package alert

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Severity levels, mildest first.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ErrUnknownMetric reports a rule whose metric no panel publishes.
var ErrUnknownMetric = errors.New("unknown metric")

// Rule is one declarative threshold check. Metric names a gauge as
// "panel.gauge", e.g. "resources.blocked_sessions". A zero For fires on the
// first breaching sample; otherwise the condition must hold across every
// refresh for at least that long.
type Rule struct {
	Name      string        `koanf:"name" yaml:"name" json:"name"`
	Metric    string        `koanf:"metric" yaml:"metric" json:"metric"`
	Op        string        `koanf:"op" yaml:"op" json:"op"`
	Threshold float64       `koanf:"threshold" yaml:"threshold" json:"threshold"`
	Severity  string        `koanf:"severity" yaml:"severity,omitempty" json:"severity,omitempty"`
	For       time.Duration `koanf:"for" yaml:"for,omitempty" json:"for,omitempty"`
}

func (r Rule) severity() string {
	if r.Severity == "" {
		return SeverityWarning
	}
	return r.Severity
}

// Validate rejects rules the engine could not evaluate.
func (r Rule) Validate() error {
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	panel, gauge, ok := strings.Cut(r.Metric, ".")
	if !ok || panel == "" || gauge == "" {
		return fmt.Errorf("rule %q: metric must be panel.gauge, got %q", r.Name, r.Metric)
	}
	if _, err := normalizeOp(r.Op); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	switch r.severity() {
	case SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return fmt.Errorf("rule %q: unknown severity %q", r.Name, r.Severity)
	}
	if r.For < 0 {
		return fmt.Errorf("rule %q: negative hold duration", r.Name)
	}
	return nil
}

// CheckMetric verifies a metric's panel prefix against the published panel
// names. Gauges only appear once a refresh has run, so the prefix is all that
// can be checked up front; Eval tolerates gauges that never materialize.
func CheckMetric(metric string, panels []string) error {
	panel, _, _ := strings.Cut(metric, ".")
	if slices.Contains(panels, panel) {
		return nil
	}
	return fmt.Errorf("%w: no panel named %q publishes %q", ErrUnknownMetric, panel, metric)
}

// ValidateRules checks a rule set and rejects duplicate names.
func ValidateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

func normalizeOp(op string) (string, error) {
	switch op {
	case ">", ">=", "<", "<=":
		return op, nil
	case "==", "=", "eq":
		return "==", nil
	case "!=", "<>", "ne":
		return "!=", nil
	case "gt":
		return ">", nil
	case "ge", "gte":
		return ">=", nil
	case "lt":
		return "<", nil
	case "le", "lte":
		return "<=", nil
	default:
		return "", fmt.Errorf("unknown operator %q", op)
	}
}

func compare(value float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	default:
		return false
	}
}
