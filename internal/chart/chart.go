// Package chart assembles time-series data for rendering elsewhere. It
// builds fixed-step series from raw samples, marks collection gaps with NaN
// points so renderers break the line instead of interpolating across an
// outage, and derives per-second rates from cumulative counters. No drawing
// happens here.
package chart

import (
	"encoding/json"
	"math"
	"time"
)

// Point is one sample. A NaN value is a gap marker and marshals as null.
type Point struct {
	At    time.Time
	Value float64
}

// MarshalJSON emits {"at": ..., "value": null} for gap points; encoding/json
// rejects NaN otherwise.
func (p Point) MarshalJSON() ([]byte, error) {
	var v *float64
	if !math.IsNaN(p.Value) {
		v = &p.Value
	}
	return json.Marshal(struct {
		At    time.Time `json:"at"`
		Value *float64  `json:"value"`
	}{At: p.At, Value: v})
}

// IsGap reports whether the point marks missing data.
func (p Point) IsGap() bool { return math.IsNaN(p.Value) }

// Series is one named line of a panel chart.
type Series struct {
	Name   string  `json:"name"`
	Unit   string  `json:"unit,omitempty"`
	Points []Point `json:"points"`
}

// Span returns the covered time range, zero times when empty.
func (s Series) Span() (from, to time.Time) {
	if len(s.Points) == 0 {
		return
	}
	return s.Points[0].At, s.Points[len(s.Points)-1].At
}

// Latest returns the most recent non-gap value, false when the series has
// none.
func (s Series) Latest() (float64, bool) {
	for i := len(s.Points) - 1; i >= 0; i-- {
		if !s.Points[i].IsGap() {
			return s.Points[i].Value, true
		}
	}
	return 0, false
}
