// Package simulate drives the continuous-time reconstruction of
// reactor mass trajectories: it assembles the interpolated input
// signals, integrates the balance model over the measurement grid and
// replays the reconciliation at every grid point to produce aligned
// output series.
package simulate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/dfabianus/biopreprocessing/balance"
	"github.com/dfabianus/biopreprocessing/ode"
	"github.com/dfabianus/biopreprocessing/signal"
)

// Tolerance is the local error tolerance handed to the integrator.
const Tolerance = 1e-8

// Inputs bundles the measured series and kinetic constants of one run.
type Inputs struct {
	// Time is the measurement grid, strictly increasing.
	Time []float64
	// QS, QCO2, QO2 are the measured supply-rate series in C-mol/h,
	// sampled on the grid.
	QS, QCO2, QO2 []float64
	// Volume is the reactor volume series in L, sampled on the grid.
	Volume []float64
	// Initial is the starting mass state [X, S, CO2, O2] in g.
	Initial [balance.NumSpecies]float64
	// InductionTime is when the maximum uptake rate switches.
	InductionTime float64
	// QSMaxBefore and QSMaxAfter are the pre- and post-induction
	// maximum specific uptake rates.
	QSMaxBefore, QSMaxAfter float64
	// KS is the half-saturation constant.
	KS float64
}

// parameters interpolates the input series into the model's parameter
// bundle.
func (in Inputs) parameters() (balance.Parameters, error) {
	var p balance.Parameters
	series := []struct {
		name   string
		values []float64
		dst    *signal.Func
	}{
		{"q_s", in.QS, &p.QS},
		{"q_co2", in.QCO2, &p.QCO2},
		{"q_o2", in.QO2, &p.QO2},
		{"volume", in.Volume, &p.Volume},
	}
	for _, s := range series {
		f, err := signal.Interp(in.Time, s.values)
		if err != nil {
			return balance.Parameters{}, fmt.Errorf("%s: %w", s.name, err)
		}
		*s.dst = f
	}
	p.QSMax = signal.Step(in.InductionTime, in.QSMaxBefore, in.QSMaxAfter)
	p.KS = signal.Constant(in.KS)
	return p, nil
}

// Result holds the aligned output trajectories of a run, one row per
// grid timestamp.
type Result struct {
	Time []float64
	// Reconstructed masses in g.
	MX, MS, MCO2, MO2 []float64
	// Concentrations in g/L (mass over interpolated volume).
	CX, CS []float64
	// Reconciled molar rates.
	RX, RS, RCO2, RO2 []float64
	// Reconciliation diagnostic per row.
	H []float64
}

// Columns returns the result as named columns using the deterministic
// suffix convention, prefixed with the caller's label.
func (r *Result) Columns(prefix string) map[string][]float64 {
	return map[string][]float64{
		prefix + "_mX":   r.MX,
		prefix + "_mS":   r.MS,
		prefix + "_mCO2": r.MCO2,
		prefix + "_mO2":  r.MO2,
		prefix + "_cX":   r.CX,
		prefix + "_cS":   r.CS,
		prefix + "_rX":   r.RX,
		prefix + "_rS":   r.RS,
		prefix + "_rCO2": r.RCO2,
		prefix + "_rO2":  r.RO2,
		prefix + "_h":    r.H,
	}
}

// Run integrates the balance model of the given variant over the
// measurement grid and replays the reconciliation at every grid point.
func Run(in Inputs, v balance.Variant) (*Result, error) {
	params, err := in.parameters()
	if err != nil {
		return nil, err
	}
	model, err := balance.NewModel(params, v)
	if err != nil {
		return nil, err
	}

	n := len(in.Time)
	res := &Result{
		Time: append([]float64(nil), in.Time...),
		MX:   make([]float64, n), MS: make([]float64, n),
		MCO2: make([]float64, n), MO2: make([]float64, n),
		CX: make([]float64, n), CS: make([]float64, n),
		RX: make([]float64, n), RS: make([]float64, n),
		RCO2: make([]float64, n), RO2: make([]float64, n),
		H: make([]float64, n),
	}

	integrator := ode.NewAdaptive(Tolerance)
	state := mat.NewVecDense(balance.NumSpecies, in.Initial[:])

	for i := 0; i < n; i++ {
		if i > 0 {
			state, err = integrator.Integrate(model, in.Time[i-1], in.Time[i], state)
			if err != nil {
				return nil, fmt.Errorf("interval [%g, %g]: %w", in.Time[i-1], in.Time[i], err)
			}
		}

		x := []float64{
			state.AtVec(balance.Biomass),
			state.AtVec(balance.Substrate),
			state.AtVec(balance.CO2),
			state.AtVec(balance.O2),
		}
		res.MX[i], res.MS[i], res.MCO2[i], res.MO2[i] = x[0], x[1], x[2], x[3]

		volume := params.Volume(in.Time[i])
		res.CX[i] = x[balance.Biomass] / volume
		res.CS[i] = x[balance.Substrate] / volume

		ev, err := model.Evaluate(in.Time[i], x)
		if err != nil {
			return nil, fmt.Errorf("replay at t=%g: %w", in.Time[i], err)
		}
		res.RX[i] = ev.Rates[balance.Biomass]
		res.RS[i] = ev.Rates[balance.Substrate]
		res.RCO2[i] = ev.Rates[balance.CO2]
		res.RO2[i] = ev.Rates[balance.O2]
		res.H[i] = ev.H
	}
	return res, nil
}

// RunFullBalance runs the variant enforcing carbon and degree of
// reduction together.
func RunFullBalance(in Inputs) (*Result, error) { return Run(in, balance.FullBalance) }

// RunCarbon runs the carbon-only variant.
func RunCarbon(in Inputs) (*Result, error) { return Run(in, balance.CarbonOnly) }

// RunReduction runs the degree-of-reduction-only variant.
func RunReduction(in Inputs) (*Result, error) { return Run(in, balance.ReductionOnly) }
