package telemetry

import (
	"fmt"
	"time"
)

// TimeRange is the half-open window [From, To) that every time-addressable
// fetch receives. Construct one with LastHours or Between.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LastHours returns the window covering the last n hours ending now.
// n values below 1 are treated as 1.
func LastHours(n int) TimeRange {
	if n < 1 {
		n = 1
	}
	now := time.Now().UTC()
	return TimeRange{From: now.Add(-time.Duration(n) * time.Hour), To: now}
}

// Between returns the window [from, to), swapping the bounds when they
// arrive reversed so From never exceeds To.
func Between(from, to time.Time) TimeRange {
	if to.Before(from) {
		from, to = to, from
	}
	return TimeRange{From: from.UTC(), To: to.UTC()}
}

// Duration returns the window length.
func (r TimeRange) Duration() time.Duration {
	return r.To.Sub(r.From)
}

// Hours returns the window length in hours.
func (r TimeRange) Hours() float64 {
	return r.Duration().Hours()
}

// Contains reports whether t falls inside the window.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// IsZero reports whether the window is unset.
func (r TimeRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%s..%s", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
}
