package reconcile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/dfabianus/biopreprocessing/reconcile"
)

// Carbon and degree-of-reduction balance over [X, S, CO2, O2], the
// matrices used throughout the balancing model.
func fullBalance() *mat.Dense {
	return mat.NewDense(2, 4, []float64{
		1, 1, 1, 0,
		4.2, 4, 0, -4,
	})
}

func carbonOnly() *mat.Dense {
	return mat.NewDense(1, 4, []float64{1, 1, 1, 0})
}

func mustPartition(t *testing.T) reconcile.Partition {
	t.Helper()
	p, err := reconcile.NewPartition([]int{0}, []int{1, 2, 3}, 4)
	require.NoError(t, err)
	return p
}

func TestPartitionValidation(t *testing.T) {
	_, err := reconcile.NewPartition([]int{0}, []int{1, 2}, 4)
	assert.ErrorIs(t, err, reconcile.ErrPartition, "sizes must sum to n")

	_, err = reconcile.NewPartition([]int{0}, []int{0, 1, 2}, 4)
	assert.ErrorIs(t, err, reconcile.ErrPartition, "sets must be disjoint")

	_, err = reconcile.NewPartition([]int{4}, []int{1, 2, 3}, 4)
	assert.ErrorIs(t, err, reconcile.ErrPartition, "indices must be in range")
}

func TestNewShapeValidation(t *testing.T) {
	p := mustPartition(t)

	_, err := reconcile.New(mat.NewDense(1, 3, []float64{1, 1, 1}), p, reconcile.Exact)
	assert.ErrorIs(t, err, reconcile.ErrDimension, "column count must match species count")

	_, err = reconcile.New(fullBalance(), p, reconcile.Exact)
	assert.ErrorIs(t, err, reconcile.ErrDimension, "exact closure needs rows == unknowns")

	_, err = reconcile.New(carbonOnly(), p, reconcile.Redundant)
	assert.ErrorIs(t, err, reconcile.ErrDimension, "redundant mode needs rows > unknowns")
}

func TestExactClosureRecoversUnknown(t *testing.T) {
	rc, err := reconcile.New(carbonOnly(), mustPartition(t), reconcile.Exact)
	require.NoError(t, err)

	// Knowns consistent with rX = 1: 1 + (-2) + 1 = 0.
	res, err := rc.Reconcile([]float64{0, -2, 1, -0.95})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, res.Rates[0], 1e-12, "reconciled biomass rate")
	assert.Equal(t, []float64{-2, 1, -0.95}, res.Rates[1:], "knowns pass through unchanged")
	assert.Equal(t, 0.0, res.H, "no redundancy to test in exact mode")
}

func TestExactClosureIdempotent(t *testing.T) {
	rc, err := reconcile.New(carbonOnly(), mustPartition(t), reconcile.Exact)
	require.NoError(t, err)

	first, err := rc.Reconcile([]float64{0, -1.3, 0.8, -0.4})
	require.NoError(t, err)
	remapped, err := rc.Remap(first.Rates)
	require.NoError(t, err)

	second, err := rc.Reconcile(remapped)
	require.NoError(t, err)
	for i := range first.Rates {
		assert.InDelta(t, first.Rates[i], second.Rates[i], 1e-12)
	}
}

func TestRedundantConsistentMeasurements(t *testing.T) {
	rc, err := reconcile.New(fullBalance(), mustPartition(t), reconcile.Redundant)
	require.NoError(t, err)

	// Exactly consistent with rX = 1 on both balance rows:
	// carbon: 1 - 2 + 1 = 0, reduction: 4.2 - 8 + 3.8 = 0.
	res, err := rc.Reconcile([]float64{0, -2, 1, -0.95})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, res.Rates[0], 1e-10)
	assert.InDelta(t, -2.0, res.Rates[1], 1e-10, "consistent knowns need no correction")
	assert.InDelta(t, 1.0, res.Rates[2], 1e-10)
	assert.InDelta(t, -0.95, res.Rates[3], 1e-10)
	assert.InDelta(t, 0.0, res.H, 1e-18)
}

func TestRedundantInconsistentMeasurements(t *testing.T) {
	rc, err := reconcile.New(fullBalance(), mustPartition(t), reconcile.Redundant)
	require.NoError(t, err)

	// Perturb the consistent vector; the correction must restore
	// consistency and the diagnostic must flag the perturbation.
	res, err := rc.Reconcile([]float64{0, -2, 1.4, -0.95})
	require.NoError(t, err)

	assert.Greater(t, res.H, 0.0)

	// The reconciled full vector satisfies both balances.
	remapped, err := rc.Remap(res.Rates)
	require.NoError(t, err)
	full := mat.NewVecDense(4, remapped)
	var residual mat.VecDense
	residual.MulVec(fullBalance(), full)
	assert.InDelta(t, 0.0, residual.AtVec(0), 1e-10, "carbon balance closes")
	assert.InDelta(t, 0.0, residual.AtVec(1), 1e-10, "reduction balance closes")
}

func TestRedundantDiagnosticScalesWithResidual(t *testing.T) {
	rc, err := reconcile.New(fullBalance(), mustPartition(t), reconcile.Redundant)
	require.NoError(t, err)

	small, err := rc.Reconcile([]float64{0, -2, 1.1, -0.95})
	require.NoError(t, err)
	large, err := rc.Reconcile([]float64{0, -2, 2.0, -0.95})
	require.NoError(t, err)

	assert.Greater(t, large.H, small.H)
}

func TestSingularPartition(t *testing.T) {
	// Unknown column is all zero: Eu^T Eu is not invertible.
	e := mat.NewDense(1, 4, []float64{0, 1, 1, 0})
	rc, err := reconcile.New(e, mustPartition(t), reconcile.Exact)
	require.NoError(t, err)

	_, err = rc.Reconcile([]float64{0, -2, 1, 0})
	assert.ErrorIs(t, err, reconcile.ErrSingular)
}

func TestReconcileRateLengthChecked(t *testing.T) {
	rc, err := reconcile.New(carbonOnly(), mustPartition(t), reconcile.Exact)
	require.NoError(t, err)

	_, err = rc.Reconcile([]float64{1, 2, 3})
	assert.ErrorIs(t, err, reconcile.ErrDimension)
}

func TestValidationAndNumericalErrorsDistinct(t *testing.T) {
	assert.NotErrorIs(t, reconcile.ErrDimension, reconcile.ErrSingular)
	assert.NotErrorIs(t, reconcile.ErrPartition, reconcile.ErrSingular)
	assert.NotErrorIs(t, reconcile.ErrNonFinite, reconcile.ErrDimension)
}
