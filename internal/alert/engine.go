package alert

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event is one rule transitioning into breach. The dashboard stamps the
// instance on it before journaling.
type Event struct {
	Rule      string    `json:"rule"`
	Metric    string    `json:"metric"`
	Op        string    `json:"op"`
	Threshold float64   `json:"threshold"`
	Value     float64   `json:"value"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raised_at"`
}

// RuleState is the live view of one rule for the alerts panel.
type RuleState struct {
	Rule      Rule      `json:"rule"`
	Firing    bool      `json:"firing"`
	Since     time.Time `json:"since,omitempty"`
	LastValue float64   `json:"last_value"`
	Seen      bool      `json:"seen"`
}

type ruleState struct {
	breachSince time.Time
	firing      bool
	lastValue   float64
	seen        bool
}

// Engine tracks per-rule breach state across refreshes. Events fire on the
// transition into breach, once the hold duration has been satisfied, and not
// again until the rule recovers.
type Engine struct {
	mu     sync.Mutex
	rules  []Rule
	states map[string]*ruleState
	logger *slog.Logger
}

// NewEngine validates the rules and returns an evaluator with clean state.
// Operators are normalized so Eval can match on the canonical forms.
func NewEngine(rules []Rule, logger *slog.Logger) (*Engine, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	normalized := make([]Rule, len(rules))
	states := make(map[string]*ruleState, len(rules))
	for i, r := range rules {
		op, _ := normalizeOp(r.Op)
		r.Op = op
		normalized[i] = r
		states[r.Name] = &ruleState{}
	}
	return &Engine{rules: normalized, states: states, logger: logger}, nil
}

// Rules returns the validated rule set in declaration order.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Eval feeds one refresh's gauges through every rule and returns the events
// that fired. A rule whose metric is absent from the sample resets, so a
// failed panel never leaves its rules pinned in breach.
func (e *Engine) Eval(at time.Time, metrics map[string]float64) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []Event
	for _, r := range e.rules {
		st := e.states[r.Name]
		value, ok := metrics[r.Metric]
		if !ok {
			if st.seen {
				e.logger.Debug("alert metric missing, rule reset", "rule", r.Name, "metric", r.Metric)
			}
			*st = ruleState{}
			continue
		}
		st.seen = true
		st.lastValue = value

		if !compare(value, r.Op, r.Threshold) {
			if st.firing {
				e.logger.Info("alert recovered", "rule", r.Name, "value", value)
			}
			st.breachSince = time.Time{}
			st.firing = false
			continue
		}

		if st.breachSince.IsZero() {
			st.breachSince = at
		}
		if st.firing || at.Sub(st.breachSince) < r.For {
			continue
		}
		st.firing = true
		ev := Event{
			Rule:      r.Name,
			Metric:    r.Metric,
			Op:        r.Op,
			Threshold: r.Threshold,
			Value:     value,
			Severity:  r.severity(),
			Message:   breachMessage(r, value),
			RaisedAt:  at,
		}
		e.logger.Warn("alert raised", "rule", r.Name, "severity", ev.Severity, "value", value, "threshold", r.Threshold)
		events = append(events, ev)
	}
	return events
}

// States reports the live state of every rule, in declaration order.
func (e *Engine) States() []RuleState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RuleState, 0, len(e.rules))
	for _, r := range e.rules {
		st := e.states[r.Name]
		out = append(out, RuleState{
			Rule:      r,
			Firing:    st.firing,
			Since:     st.breachSince,
			LastValue: st.lastValue,
			Seen:      st.seen,
		})
	}
	return out
}

// Replace swaps in a new rule set, keeping state for rules whose name and
// definition survived the reload.
func (e *Engine) Replace(rules []Rule) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	old := make(map[string]Rule, len(e.rules))
	for _, r := range e.rules {
		old[r.Name] = r
	}
	normalized := make([]Rule, len(rules))
	states := make(map[string]*ruleState, len(rules))
	for i, r := range rules {
		op, _ := normalizeOp(r.Op)
		r.Op = op
		normalized[i] = r
		if prev, ok := old[r.Name]; ok && prev == r {
			states[r.Name] = e.states[r.Name]
		} else {
			states[r.Name] = &ruleState{}
		}
	}
	e.rules = normalized
	e.states = states
	return nil
}

func breachMessage(r Rule, value float64) string {
	msg := fmt.Sprintf("%s is %.2f (%s %.2f)", r.Metric, value, r.Op, r.Threshold)
	if r.For > 0 {
		msg += fmt.Sprintf(" for %s", r.For)
	}
	return msg
}
