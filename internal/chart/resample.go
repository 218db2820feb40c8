// resample.go - Fixed-step bucketing, gap marking, counter rates.
package chart

import (
	"math"
	"time"

	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

// Reducer folds the samples landing in one bucket into a single value.
type Reducer func([]float64) float64

// Built-in reducers.
var (
	Mean Reducer = func(vs []float64) float64 {
		var sum float64
		for _, v := range vs {
			sum += v
		}
		return sum / float64(len(vs))
	}
	Sum Reducer = func(vs []float64) float64 {
		var sum float64
		for _, v := range vs {
			sum += v
		}
		return sum
	}
	Max Reducer = func(vs []float64) float64 {
		m := vs[0]
		for _, v := range vs[1:] {
			if v > m {
				m = v
			}
		}
		return m
	}
	Last Reducer = func(vs []float64) float64 { return vs[len(vs)-1] }
)

// Resample buckets raw samples onto a fixed step across the window. Buckets
// holding no samples become NaN gap points, so a series always spans the
// whole window and outages stay visible. Samples outside the window are
// dropped; the reducer never sees an empty slice.
func Resample(points []Point, step time.Duration, win telemetry.TimeRange, reduce Reducer) []Point {
	if step <= 0 || win.Duration() <= 0 {
		return nil
	}
	n := int(win.Duration() / step)
	if n < 1 {
		n = 1
	}

	buckets := make([][]float64, n)
	for _, p := range points {
		if p.IsGap() || !win.Contains(p.At) {
			continue
		}
		i := int(p.At.Sub(win.From) / step)
		if i >= n {
			i = n - 1
		}
		buckets[i] = append(buckets[i], p.Value)
	}

	out := make([]Point, n)
	for i, vs := range buckets {
		at := win.From.Add(time.Duration(i) * step)
		if len(vs) == 0 {
			out[i] = Point{At: at, Value: math.NaN()}
			continue
		}
		out[i] = Point{At: at, Value: reduce(vs)}
	}
	return out
}

// Rate converts cumulative counter samples into per-second rates between
// consecutive points. A negative delta means the counter reset; the rate
// clamps to zero rather than spiking. Gap points pass through.
func Rate(points []Point) []Point {
	if len(points) < 2 {
		return nil
	}
	out := make([]Point, 0, len(points)-1)
	prev := points[0]
	for _, p := range points[1:] {
		if p.IsGap() || prev.IsGap() {
			out = append(out, Point{At: p.At, Value: math.NaN()})
			prev = p
			continue
		}
		secs := p.At.Sub(prev.At).Seconds()
		if secs <= 0 {
			prev = p
			continue
		}
		delta := p.Value - prev.Value
		if delta < 0 {
			delta = 0
		}
		out = append(out, Point{At: p.At, Value: delta / secs})
		prev = p
	}
	return out
}

// Downsample strides the series down to at most max points, always keeping
// the last point so the newest value survives.
func Downsample(points []Point, max int) []Point {
	if max <= 0 || len(points) <= max {
		return points
	}
	stride := (len(points) + max - 1) / max
	out := make([]Point, 0, max)
	for i := 0; i < len(points); i += stride {
		out = append(out, points[i])
	}
	if last := points[len(points)-1]; len(out) == 0 || out[len(out)-1].At != last.At {
		out = append(out, last)
	}
	return out
}

// niceSteps are the candidate bucket widths, smallest first.
var niceSteps = []time.Duration{
	time.Second, 5 * time.Second, 15 * time.Second, 30 * time.Second,
	time.Minute, 5 * time.Minute, 15 * time.Minute, 30 * time.Minute,
	time.Hour, 3 * time.Hour, 6 * time.Hour, 12 * time.Hour,
	24 * time.Hour,
}

// Step picks the smallest nice bucket width that keeps the window under the
// target point count.
func Step(win telemetry.TimeRange, target int) time.Duration {
	if target < 1 {
		target = 1
	}
	for _, s := range niceSteps {
		if win.Duration()/s <= time.Duration(target) {
			return s
		}
	}
	return niceSteps[len(niceSteps)-1]
}
