// Package reconcile implements stoichiometric rate reconciliation: given
// elemental/energy balance constraints over a species rate vector that
// is only partially measured, it solves for the unmeasured rates and,
// when the measurements are redundant, adjusts them by generalized
// least squares and reports a consistency diagnostic.
package reconcile

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/dfabianus/biopreprocessing/gonumext"
)

var (
	// ErrDimension is returned when index sets, rate-vector length and
	// matrix shape disagree. Caller-fixable.
	ErrDimension = errors.New("reconcile: dimension mismatch")
	// ErrPartition is returned when the known/unknown index sets are
	// not a disjoint cover of the species indices. Caller-fixable.
	ErrPartition = errors.New("reconcile: invalid rate partition")
	// ErrSingular is returned when the unknown-column sub-matrix does
	// not have full column rank, so no pseudo-inverse exists for the
	// chosen partition.
	ErrSingular = errors.New("reconcile: singular unknown sub-matrix")
	// ErrNonFinite is returned when a reconciled rate or the diagnostic
	// comes out NaN or infinite.
	ErrNonFinite = errors.New("reconcile: non-finite result")
)

// Mode selects the closure strategy of a reconciler.
type Mode int

const (
	// Exact solves the balance exactly: the number of unknowns equals
	// the number of constraint rows and the diagnostic is always zero.
	Exact Mode = iota
	// Redundant has more constraint rows than unknowns; the surplus is
	// used to correct the measured rates by generalized least squares
	// and to compute the consistency diagnostic h.
	Redundant
)

func (m Mode) String() string {
	switch m {
	case Exact:
		return "exact"
	case Redundant:
		return "redundant"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Partition splits the species indices of a rate vector into measured
// (known) and unmeasured (unknown) sets.
type Partition struct {
	Unknown []int
	Known   []int
}

// NewPartition validates that unknown and known are disjoint, in range
// and together cover all n species indices exactly once.
func NewPartition(unknown, known []int, n int) (Partition, error) {
	if len(unknown)+len(known) != n {
		return Partition{}, fmt.Errorf("%w: %d unknown + %d known != %d species",
			ErrPartition, len(unknown), len(known), n)
	}
	seen := make([]bool, n)
	for _, set := range [][]int{unknown, known} {
		for _, i := range set {
			if i < 0 || i >= n {
				return Partition{}, fmt.Errorf("%w: index %d out of range [0,%d)", ErrPartition, i, n)
			}
			if seen[i] {
				return Partition{}, fmt.Errorf("%w: index %d listed twice", ErrPartition, i)
			}
			seen[i] = true
		}
	}
	return Partition{
		Unknown: append([]int(nil), unknown...),
		Known:   append([]int(nil), known...),
	}, nil
}

// Result holds one reconciliation outcome. Rates is ordered
// unknown-then-known, independent of the caller's species ordering;
// callers remap through their partition.
type Result struct {
	// Rates is the reconciled rate vector, unknowns first in partition
	// order, then the (possibly adjusted) knowns.
	Rates []float64
	// H is the weighted sum of squared residuals of the redundant
	// constraints. Zero in exact mode and whenever the measured rates
	// already satisfy the redundancy.
	H float64
}

// Reconciler couples one stoichiometric matrix with a rate partition
// and a closure mode. It is immutable and safe to reuse across calls.
type Reconciler struct {
	e    *mat.Dense
	part Partition
	mode Mode
}

// New validates the matrix shape against the partition and mode.
// E has one row per independent balance and one column per species.
func New(e *mat.Dense, part Partition, mode Mode) (*Reconciler, error) {
	rows, cols := e.Dims()
	n := len(part.Unknown) + len(part.Known)
	if cols != n {
		return nil, fmt.Errorf("%w: %d matrix columns for %d species", ErrDimension, cols, n)
	}
	switch mode {
	case Exact:
		if rows != len(part.Unknown) {
			return nil, fmt.Errorf("%w: exact closure needs %d rows, got %d",
				ErrDimension, len(part.Unknown), rows)
		}
	case Redundant:
		if rows <= len(part.Unknown) {
			return nil, fmt.Errorf("%w: redundant mode needs more than %d rows, got %d",
				ErrDimension, len(part.Unknown), rows)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %d", ErrDimension, int(mode))
	}
	var eCopy mat.Dense
	eCopy.CloneFrom(e)
	return &Reconciler{e: &eCopy, part: part, mode: mode}, nil
}

// Mode returns the closure mode of the reconciler.
func (rc *Reconciler) Mode() Mode { return rc.mode }

// Partition returns the rate partition of the reconciler.
func (rc *Reconciler) Partition() Partition { return rc.part }

// columns extracts the sub-matrix of e restricted to the given columns.
func columns(e *mat.Dense, idx []int) *mat.Dense {
	rows, _ := e.Dims()
	sub := mat.NewDense(rows, len(idx), nil)
	for j, col := range idx {
		for i := 0; i < rows; i++ {
			sub.Set(i, j, e.At(i, col))
		}
	}
	return sub
}

// Reconcile computes the reconciled rates for the full species rate
// vector r. Only the entries at the known indices are read; the
// unknown entries are solved for.
func (rc *Reconciler) Reconcile(r []float64) (Result, error) {
	n := len(rc.part.Unknown) + len(rc.part.Known)
	if len(r) != n {
		return Result{}, fmt.Errorf("%w: rate vector length %d, want %d", ErrDimension, len(r), n)
	}

	known := mat.NewVecDense(len(rc.part.Known), nil)
	for j, idx := range rc.part.Known {
		known.SetVec(j, r[idx])
	}

	eu := columns(rc.e, rc.part.Unknown)
	ek := columns(rc.e, rc.part.Known)

	// pinv = (Eu^T Eu)^-1 Eu^T, the least-squares inverse of the
	// unknown columns. Inversion fails exactly when the partition does
	// not give Eu full column rank.
	var gram mat.Dense
	gram.Mul(eu.T(), eu)
	var gramInv mat.Dense
	if err := gramInv.Inverse(&gram); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	var pinv mat.Dense
	pinv.Mul(&gramInv, eu.T())

	var res Result
	switch rc.mode {
	case Exact:
		res = rc.exactClosure(&pinv, ek, known)
	case Redundant:
		var err error
		res, err = rc.redundantClosure(&pinv, eu, ek, known)
		if err != nil {
			return Result{}, err
		}
	}

	if gonumext.HasNonFinite(res.Rates) || gonumext.HasNonFinite([]float64{res.H}) {
		return Result{}, fmt.Errorf("%w: rates %v, h %v", ErrNonFinite, res.Rates, res.H)
	}
	return res, nil
}

// exactClosure solves the balance directly: unknowns = -pinv Ek r_known,
// knowns pass through unchanged and there is no redundancy to test.
func (rc *Reconciler) exactClosure(pinv, ek *mat.Dense, known *mat.VecDense) Result {
	var predicted mat.VecDense
	predicted.MulVec(ek, known)
	var unknowns mat.VecDense
	unknowns.MulVec(pinv, &predicted)
	unknowns.ScaleVec(-1, &unknowns)

	return Result{Rates: stack(&unknowns, known), H: 0}
}

// redundantClosure corrects the measured rates along the redundant
// constraint direction before solving for the unknowns.
//
// The redundancy matrix Red = Ek - Eu pinv Ek is the part of the
// predicted known rates not explained by solving for the unknowns. Its
// largest singular triplet gives the single supported redundancy
// direction Rred = s1 v1^T; residual, correction and the diagnostic h
// all live on that one row.
func (rc *Reconciler) redundantClosure(pinv, eu, ek *mat.Dense, known *mat.VecDense) (Result, error) {
	k := len(rc.part.Known)

	var eupinv, explained, red mat.Dense
	eupinv.Mul(eu, pinv)
	explained.Mul(&eupinv, ek)
	red.Sub(ek, &explained)

	var svd mat.SVD
	if ok := svd.Factorize(&red, mat.SVDThin); !ok {
		return Result{}, fmt.Errorf("%w: SVD of redundancy matrix failed", ErrSingular)
	}
	values := svd.Values(nil)
	if values[0] == 0 {
		return Result{}, fmt.Errorf("%w: redundancy matrix has rank 0", ErrSingular)
	}
	var v mat.Dense
	svd.VTo(&v)

	// Reduced one-row redundancy matrix Rred = s1 v1^T.
	rred := mat.NewDense(1, k, nil)
	for j := 0; j < k; j++ {
		rred.Set(0, j, values[0]*v.At(j, 0))
	}

	// Residual eps = Rred r_known and its covariance P = Rred Rred^T
	// under unit measurement weight.
	var eps mat.VecDense
	eps.MulVec(rred, known)
	var p mat.Dense
	p.Mul(rred, rred.T())

	// delta = Rred^T P^-1 Rred r_known; reconciled knowns subtract it.
	var pInv mat.Dense
	if err := pInv.Inverse(&p); err != nil {
		return Result{}, fmt.Errorf("%w: residual covariance not invertible: %v", ErrSingular, err)
	}
	var scaled mat.VecDense
	scaled.MulVec(&pInv, &eps)
	var delta mat.VecDense
	delta.MulVec(rred.T(), &scaled)

	adjusted := mat.NewVecDense(k, nil)
	adjusted.SubVec(known, &delta)

	// Unknowns close the balance on the adjusted knowns.
	var predicted mat.VecDense
	predicted.MulVec(ek, adjusted)
	var unknowns mat.VecDense
	unknowns.MulVec(pinv, &predicted)
	unknowns.ScaleVec(-1, &unknowns)

	// h = eps^T P^-1 eps, the weighted sum of squared residuals.
	h := mat.Dot(&eps, &scaled)

	return Result{Rates: stack(&unknowns, adjusted), H: h}, nil
}

// stack concatenates the unknown and known vectors into one slice.
func stack(unknowns, knowns *mat.VecDense) []float64 {
	out := make([]float64, 0, unknowns.Len()+knowns.Len())
	for i := 0; i < unknowns.Len(); i++ {
		out = append(out, unknowns.AtVec(i))
	}
	for i := 0; i < knowns.Len(); i++ {
		out = append(out, knowns.AtVec(i))
	}
	return out
}

// Remap scatters a unknown-then-known ordered rate slice back into
// species order according to the partition.
func (rc *Reconciler) Remap(rates []float64) ([]float64, error) {
	n := len(rc.part.Unknown) + len(rc.part.Known)
	if len(rates) != n {
		return nil, fmt.Errorf("%w: rate vector length %d, want %d", ErrDimension, len(rates), n)
	}
	out := make([]float64, n)
	for j, idx := range rc.part.Unknown {
		out[idx] = rates[j]
	}
	for j, idx := range rc.part.Known {
		out[idx] = rates[len(rc.part.Unknown)+j]
	}
	return out, nil
}
