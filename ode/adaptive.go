package ode

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInterval is returned for an integration interval with t1 < t0.
var ErrInterval = errors.New("ode: invalid integration interval")

// errNoConvergence marks a failed Newton iteration inside an implicit
// step. It is handled internally as a step rejection.
var errNoConvergence = errors.New("ode: Newton iteration did not converge")

const (
	// Consecutive explicit rejections before the integrator assumes
	// stiffness and switches to the implicit method.
	stiffnessRejections = 6
	newtonMaxIter       = 25
	newtonTol           = 1e-10
)

// Adaptive integrates initial-value problems with local error control.
// It starts with an embedded explicit Runge-Kutta pair and switches to
// an implicit trapezoidal rule when repeated step rejections indicate
// stiffness. Step-size and method selection are internal; callers only
// supply the tolerance.
type Adaptive struct {
	// Tol is the local error tolerance per step.
	Tol float64
	// MaxSteps bounds the total number of attempted steps per call.
	MaxSteps int

	tableau butcherTableau
}

// NewAdaptive returns an adaptive integrator with the given local
// error tolerance.
func NewAdaptive(tol float64) *Adaptive {
	return &Adaptive{
		Tol:      tol,
		MaxSteps: 100000,
		tableau:  newBogackiShampine23(),
	}
}

// Integrate advances the state from t0 to t1 and returns the terminal
// state. The input state is not modified.
func (a *Adaptive) Integrate(sys System, t0, t1 float64, state mat.Vector) (*mat.VecDense, error) {
	if t1 < t0 {
		return nil, fmt.Errorf("%w: t0=%g, t1=%g", ErrInterval, t0, t1)
	}
	y := mat.NewVecDense(state.Len(), nil)
	y.CloneFromVec(state)
	if t1 == t0 {
		return y, nil
	}

	span := t1 - t0
	minStep := span * 1e-12
	h := span / 16
	t := t0
	stiff := false
	rejections := 0

	for steps := 0; t < t1; steps++ {
		if steps >= a.MaxSteps {
			return nil, fmt.Errorf("%w: %d steps without reaching t=%g", ErrDiverged, a.MaxSteps, t1)
		}
		last := false
		if h >= t1-t {
			h = t1 - t
			last = true
		}

		var (
			next   *mat.VecDense
			locErr float64
			order  float64
			err    error
		)
		if stiff {
			next, locErr, err = a.implicitStep(sys, t, h, y)
			order = 2
		} else {
			next, locErr, err = a.tableau.step(sys, t, h, y)
			order = a.tableau.order
		}
		if errors.Is(err, errNoConvergence) {
			// Treat as a rejection: retry with a smaller step.
			locErr = math.Inf(1)
		} else if err != nil {
			return nil, err
		}

		tol := a.Tol * (1 + mat.Norm(y, math.Inf(1)))
		if locErr <= tol {
			if err := finite(next, t+h); err != nil {
				return nil, err
			}
			y = next
			if last {
				t = t1
			} else {
				t += h
			}
			rejections = 0
			h *= growFactor(tol, locErr, order)
			continue
		}

		rejections++
		h *= shrinkFactor(tol, locErr, order)
		if !stiff && rejections >= stiffnessRejections {
			stiff = true
			rejections = 0
		}
		if h < minStep {
			return nil, fmt.Errorf("%w: step size underflow at t=%g", ErrDiverged, t)
		}
	}
	return y, nil
}

func growFactor(tol, locErr, order float64) float64 {
	if locErr == 0 {
		return 5
	}
	return math.Min(5, 0.9*math.Pow(tol/locErr, 1/order))
}

func shrinkFactor(tol, locErr, order float64) float64 {
	if locErr == 0 || math.IsNaN(locErr) || math.IsInf(locErr, 1) {
		return 0.1
	}
	return math.Max(0.1, math.Min(0.9, 0.9*math.Pow(tol/locErr, 1/order)))
}

// implicitStep advances by one trapezoidal step. A backward Euler
// solution from the same point provides the local error estimate.
func (a *Adaptive) implicitStep(sys System, t, h float64, y *mat.VecDense) (*mat.VecDense, float64, error) {
	fn, err := sys.Derivative(t, y)
	if err != nil {
		return nil, 0, err
	}

	be, err := newton(sys, y, fn, t, h, 1, y)
	if err != nil {
		return nil, 0, err
	}
	tr, err := newton(sys, y, fn, t, h, 0.5, be)
	if err != nil {
		return nil, 0, err
	}

	var diff mat.VecDense
	diff.SubVec(tr, be)
	return tr, mat.Norm(&diff, math.Inf(1)), nil
}

// newton solves the theta-method stage equation
//
//	y = yn + h (1-theta) f(t, yn) + h theta f(t+h, y)
//
// by undamped Newton iteration with a finite-difference Jacobian.
func newton(sys System, yn *mat.VecDense, fn mat.Vector, t, h, theta float64, guess *mat.VecDense) (*mat.VecDense, error) {
	m := yn.Len()
	y := mat.NewVecDense(m, nil)
	y.CloneFromVec(guess)

	residual := func(yv *mat.VecDense) (*mat.VecDense, mat.Vector, error) {
		fy, err := sys.Derivative(t+h, yv)
		if err != nil {
			return nil, nil, err
		}
		r := mat.NewVecDense(m, nil)
		r.SubVec(yv, yn)
		r.AddScaledVec(r, -h*(1-theta), fn)
		r.AddScaledVec(r, -h*theta, fy)
		return r, fy, nil
	}

	for iter := 0; iter < newtonMaxIter; iter++ {
		r, fy, err := residual(y)
		if err != nil {
			return nil, err
		}
		if mat.Norm(r, math.Inf(1)) <= newtonTol*(1+mat.Norm(y, math.Inf(1))) {
			return y, nil
		}

		// J = I - h theta df/dy, columns by forward differences.
		jac := mat.NewDense(m, m, nil)
		for j := 0; j < m; j++ {
			eps := math.Sqrt(1e-16) * (1 + math.Abs(y.AtVec(j)))
			pert := mat.NewVecDense(m, nil)
			pert.CloneFromVec(y)
			pert.SetVec(j, pert.AtVec(j)+eps)
			fp, err := sys.Derivative(t+h, pert)
			if err != nil {
				return nil, err
			}
			for i := 0; i < m; i++ {
				d := -h * theta * (fp.AtVec(i) - fy.AtVec(i)) / eps
				if i == j {
					d++
				}
				jac.Set(i, j, d)
			}
		}

		var dy mat.VecDense
		if err := dy.SolveVec(jac, r); err != nil {
			return nil, fmt.Errorf("%w: singular Newton matrix", errNoConvergence)
		}
		y.SubVec(y, &dy)
	}
	return nil, errNoConvergence
}
