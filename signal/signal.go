// Package signal provides the time-domain input abstractions for the
// balancing routines: validated time series, piecewise-linear
// interpolation with linear extrapolation and the piecewise-constant
// parameter schedules used by the kinetic model.
package signal

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrLengthMismatch is returned when the time and value slices of a
	// series differ in length.
	ErrLengthMismatch = errors.New("signal: time and value lengths differ")
	// ErrNotIncreasing is returned when a time grid is not strictly
	// increasing.
	ErrNotIncreasing = errors.New("signal: time grid not strictly increasing")
	// ErrEmpty is returned when a series holds no samples.
	ErrEmpty = errors.New("signal: empty series")
)

// Func is a scalar function of time.
type Func func(t float64) float64

// TimeSeries is an ordered sequence of (time, value) samples with a
// strictly increasing time grid. It is immutable after construction;
// the constructor copies both slices.
type TimeSeries struct {
	t []float64
	x []float64
}

// NewTimeSeries validates and copies the given samples.
func NewTimeSeries(t, x []float64) (TimeSeries, error) {
	if len(t) != len(x) {
		return TimeSeries{}, fmt.Errorf("%w: %d times, %d values", ErrLengthMismatch, len(t), len(x))
	}
	if len(t) == 0 {
		return TimeSeries{}, ErrEmpty
	}
	for i := 1; i < len(t); i++ {
		if t[i] <= t[i-1] {
			return TimeSeries{}, fmt.Errorf("%w: t[%d]=%g followed by t[%d]=%g", ErrNotIncreasing, i-1, t[i-1], i, t[i])
		}
	}
	ts := TimeSeries{
		t: append([]float64(nil), t...),
		x: append([]float64(nil), x...),
	}
	return ts, nil
}

// Len returns the number of samples.
func (ts TimeSeries) Len() int { return len(ts.t) }

// Time returns the i-th sample time.
func (ts TimeSeries) Time(i int) float64 { return ts.t[i] }

// Value returns the i-th sample value.
func (ts TimeSeries) Value(i int) float64 { return ts.x[i] }

// Times returns a copy of the time grid.
func (ts TimeSeries) Times() []float64 { return append([]float64(nil), ts.t...) }

// Values returns a copy of the sample values.
func (ts TimeSeries) Values() []float64 { return append([]float64(nil), ts.x...) }

// Interp builds a piecewise-linear function through the samples.
// Outside the sampled range the boundary segment's slope is continued,
// so the function extrapolates linearly rather than clamping.
func Interp(t, x []float64) (Func, error) {
	ts, err := NewTimeSeries(t, x)
	if err != nil {
		return nil, err
	}
	return ts.Interp(), nil
}

// Interp builds the piecewise-linear interpolant of an already
// validated series.
func (ts TimeSeries) Interp() Func {
	t, x := ts.t, ts.x
	if len(t) == 1 {
		v := x[0]
		return func(float64) float64 { return v }
	}
	return func(tt float64) float64 {
		// Segment index such that t[i] <= tt < t[i+1]; boundary
		// segments also serve the extrapolated ranges.
		i := sort.SearchFloat64s(t, tt) - 1
		if i < 0 {
			i = 0
		}
		if i > len(t)-2 {
			i = len(t) - 2
		}
		slope := (x[i+1] - x[i]) / (t[i+1] - t[i])
		return x[i] + slope*(tt-t[i])
	}
}

// Step returns the piecewise-constant schedule that takes the value
// before up to (and excluding) the switch time at, and after from
// there on. Used for the induction switch of the maximum uptake rate.
func Step(at, before, after float64) Func {
	return func(t float64) float64 {
		if t < at {
			return before
		}
		return after
	}
}

// Constant returns the schedule that always yields v.
func Constant(v float64) Func {
	return func(float64) float64 { return v }
}
