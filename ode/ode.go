// Package ode provides the adaptive initial-value integrator used by
// the simulation driver. Explicit Runge-Kutta methods are described by
// their Butcher tableau, see
// https://en.wikipedia.org/wiki/Runge–Kutta_methods; an implicit
// trapezoidal rule takes over when step rejections indicate stiffness.
package ode

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDiverged is returned when the integrator cannot meet its error
	// tolerance: the step size underflows or too many steps are taken.
	ErrDiverged = errors.New("ode: integrator diverged")
	// ErrNonFinite is returned when the right-hand side or the state
	// becomes NaN or infinite.
	ErrNonFinite = errors.New("ode: non-finite state")
)

// System is the right-hand side of an initial-value problem. Evaluation
// may fail, in which case the error aborts the integration.
type System interface {
	Derivative(t float64, state mat.Vector) (mat.Vector, error)
}

// SystemFunc adapts a plain function to the System interface.
type SystemFunc func(t float64, state mat.Vector) (mat.Vector, error)

// Derivative calls f.
func (f SystemFunc) Derivative(t float64, state mat.Vector) (mat.Vector, error) {
	return f(t, state)
}

// butcherTableau describes an embedded explicit Runge-Kutta pair. The
// first weight row is the advancing solution, the second the embedded
// lower-order solution used for the local error estimate.
type butcherTableau struct {
	stages  int
	nodes   []float64
	rkMat   [][]float64
	weights [][]float64
	order   float64
}

// newBogackiShampine23 returns the Bogacki–Shampine 3(2) pair, a cheap
// low-order method well suited to the non-stiff stretches of
// mass-balance trajectories.
// https://en.wikipedia.org/wiki/Bogacki%E2%80%93Shampine_method
func newBogackiShampine23() butcherTableau {
	return butcherTableau{
		stages: 4,
		nodes:  []float64{0, 1. / 2., 3. / 4., 1},
		rkMat: [][]float64{
			nil,
			{1. / 2.},
			{0, 3. / 4.},
			{2. / 9., 1. / 3., 4. / 9.},
		},
		weights: [][]float64{
			{2. / 9., 1. / 3., 4. / 9., 0},
			{7. / 24., 1. / 4., 1. / 3., 1. / 8.},
		},
		order: 3,
	}
}

// step advances value by one explicit step of length h and returns the
// new state together with the embedded local error estimate.
func (bt butcherTableau) step(sys System, t, h float64, value *mat.VecDense) (*mat.VecDense, float64, error) {
	m := value.Len()
	k := make([]mat.Vector, bt.stages)

	var stage mat.VecDense
	for i := 0; i < bt.stages; i++ {
		stage.CloneFromVec(value)
		for j, a := range bt.rkMat[i] {
			if a != 0 {
				stage.AddScaledVec(&stage, h*a, k[j])
			}
		}
		d, err := sys.Derivative(t+h*bt.nodes[i], &stage)
		if err != nil {
			return nil, 0, err
		}
		k[i] = d
	}

	next := mat.NewVecDense(m, nil)
	next.CloneFromVec(value)
	errVec := mat.NewVecDense(m, nil)
	for i, ki := range k {
		next.AddScaledVec(next, h*bt.weights[0][i], ki)
		errVec.AddScaledVec(errVec, h*(bt.weights[0][i]-bt.weights[1][i]), ki)
	}

	return next, mat.Norm(errVec, math.Inf(1)), nil
}

// finite reports an ErrNonFinite if the vector contains NaN or Inf.
func finite(v mat.Vector, t float64) error {
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w at t=%g", ErrNonFinite, t)
		}
	}
	return nil
}
