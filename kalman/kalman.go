// Package kalman implements the recursive state estimator used to
// recover flow-rate and volume trajectories from noisy cumulative
// weight measurements.
//
// The model is a constant-velocity random walk over the two-state
// vector [position, velocity] with a position-only observation:
//
//	x_k = A x_{k-1},  A = [[1, dt], [0, 1]]
//	z_k = C x_k + v,  C = [1, 0]
package kalman

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/dfabianus/biopreprocessing/gonumext"
	"github.com/dfabianus/biopreprocessing/signal"
)

// ErrDegenerate is returned when the innovation variance collapses to
// a non-positive value, which makes the gain computation undefined.
var ErrDegenerate = errors.New("kalman: non-positive innovation variance")

// stateOrder is the dimension of the filter state [position, velocity].
const stateOrder = 2

// Config holds the noise configuration of one filter instance.
type Config struct {
	// Q is the 2x2 process-noise covariance.
	Q *mat.Dense
	// R is the measurement-noise variance of the scalar observation.
	R float64
}

// DefaultConfig returns the stock noise configuration: no position
// process noise, a small velocity random walk and a measurement
// variance tuned for balance-weight signals. A fresh Q matrix is built
// on every call so configurations never share state.
func DefaultConfig() Config {
	return Config{
		Q: mat.NewDense(stateOrder, stateOrder, []float64{0, 0, 0, 0.01}),
		R: 0.04,
	}
}

// Estimate is one filter state: the [position, velocity] vector and
// its covariance.
type Estimate struct {
	State *mat.VecDense
	Cov   *mat.Dense
}

// NewEstimate builds an initial estimate. A nil covariance yields a
// fresh identity matrix.
func NewEstimate(position, velocity float64, cov *mat.Dense) Estimate {
	if cov == nil {
		cov = gonumext.Eye(stateOrder)
	}
	return Estimate{
		State: mat.NewVecDense(stateOrder, []float64{position, velocity}),
		Cov:   cov,
	}
}

// Position returns the position component of the estimate.
func (e Estimate) Position() float64 { return e.State.AtVec(0) }

// Velocity returns the velocity component of the estimate.
func (e Estimate) Velocity() float64 { return e.State.AtVec(1) }

// Update performs one predict/correct cycle for the measurement z
// taken dt after the previous estimate. The input estimate is not
// modified.
func Update(e Estimate, z, dt float64, cfg Config) (Estimate, error) {
	a := mat.NewDense(stateOrder, stateOrder, []float64{1, dt, 0, 1})
	c := mat.NewDense(1, stateOrder, []float64{1, 0})

	// Predict: x = A x, P = A P A^T + Q.
	var x mat.VecDense
	x.MulVec(a, e.State)
	var ap, p mat.Dense
	ap.Mul(a, e.Cov)
	p.Mul(&ap, a.T())
	p.Add(&p, cfg.Q)

	// Gain: K = P C^T (C P C^T + R)^-1. The innovation variance is a
	// scalar for the position-only observation.
	var cp mat.Dense
	cp.Mul(c, &p)
	s := cp.At(0, 0) + cfg.R
	if s <= 0 {
		return Estimate{}, fmt.Errorf("%w: s=%g", ErrDegenerate, s)
	}
	var k mat.Dense
	k.Mul(&p, c.T())
	k.Scale(1/s, &k)

	// Correct: x += K (z - C x), P -= K C P.
	innovation := z - x.AtVec(0)
	x.AddScaledVec(&x, innovation, k.ColView(0))
	var kcp mat.Dense
	kcp.Mul(&k, &cp)
	p.Sub(&p, &kcp)

	return Estimate{State: &x, Cov: &p}, nil
}

// History is the accumulated output of a batch filtering run, one
// entry per processed measurement.
type History struct {
	Times     []float64
	Estimates []Estimate
}

// Positions returns the position estimates in processing order.
func (h History) Positions() []float64 {
	out := make([]float64, len(h.Estimates))
	for i, e := range h.Estimates {
		out[i] = e.Position()
	}
	return out
}

// Velocities returns the velocity estimates in processing order.
func (h History) Velocities() []float64 {
	out := make([]float64, len(h.Estimates))
	for i, e := range h.Estimates {
		out[i] = e.Velocity()
	}
	return out
}

// Batch chains single-step updates over the measurement series,
// accumulating the full state and covariance history. Each step uses
// the time difference to the preceding sample; the first sample uses
// its own timestamp as the step length, so a length-1 series reduces
// to a single update.
func Batch(ts signal.TimeSeries, init Estimate, cfg Config) (History, error) {
	n := ts.Len()
	h := History{
		Times:     ts.Times(),
		Estimates: make([]Estimate, 0, n),
	}

	e := init
	prev := 0.0
	for i := 0; i < n; i++ {
		dt := ts.Time(i) - prev
		prev = ts.Time(i)
		var err error
		e, err = Update(e, ts.Value(i), dt, cfg)
		if err != nil {
			return History{}, fmt.Errorf("sample %d (t=%g): %w", i, ts.Time(i), err)
		}
		h.Estimates = append(h.Estimates, e)
	}
	return h, nil
}
