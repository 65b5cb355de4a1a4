package signal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfabianus/biopreprocessing/signal"
)

func TestInterpInsideRange(t *testing.T) {
	f, err := signal.Interp([]float64{0, 1, 2}, []float64{0, 10, 20})
	require.NoError(t, err)

	assert.InDelta(t, 15.0, f(1.5), 1e-12)
	assert.InDelta(t, 0.0, f(0), 1e-12)
	assert.InDelta(t, 10.0, f(1), 1e-12)
	assert.InDelta(t, 20.0, f(2), 1e-12)
}

func TestInterpExtrapolates(t *testing.T) {
	f, err := signal.Interp([]float64{0, 1, 2}, []float64{0, 10, 20})
	require.NoError(t, err)

	assert.InDelta(t, 30.0, f(3), 1e-12, "must continue the last segment's slope")
	assert.InDelta(t, -10.0, f(-1), 1e-12, "must continue the first segment's slope")
}

func TestInterpNonUniformSlopes(t *testing.T) {
	f, err := signal.Interp([]float64{0, 1, 3}, []float64{0, 2, 0})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, f(0.5), 1e-12)
	assert.InDelta(t, 1.0, f(2), 1e-12)
	// Extrapolation beyond t=3 continues the -1 slope of the last segment.
	assert.InDelta(t, -1.0, f(4), 1e-12)
}

func TestInterpSinglePoint(t *testing.T) {
	f, err := signal.Interp([]float64{1}, []float64{5})
	require.NoError(t, err)

	assert.InDelta(t, 5.0, f(-3), 1e-12)
	assert.InDelta(t, 5.0, f(42), 1e-12)
}

func TestInterpValidation(t *testing.T) {
	_, err := signal.Interp([]float64{0, 1}, []float64{0})
	assert.ErrorIs(t, err, signal.ErrLengthMismatch)

	_, err = signal.Interp([]float64{0, 1, 1}, []float64{0, 1, 2})
	assert.ErrorIs(t, err, signal.ErrNotIncreasing)

	_, err = signal.Interp([]float64{1, 0}, []float64{0, 1})
	assert.ErrorIs(t, err, signal.ErrNotIncreasing)

	_, err = signal.Interp(nil, nil)
	assert.ErrorIs(t, err, signal.ErrEmpty)
}

func TestTimeSeriesCopiesInput(t *testing.T) {
	tgrid := []float64{0, 1, 2}
	vals := []float64{0, 10, 20}
	ts, err := signal.NewTimeSeries(tgrid, vals)
	require.NoError(t, err)

	vals[1] = -999
	assert.Equal(t, 10.0, ts.Value(1), "series must not alias the caller's slice")
}

func TestStep(t *testing.T) {
	f := signal.Step(2, 0.3, 0.1)

	assert.Equal(t, 0.3, f(0))
	assert.Equal(t, 0.3, f(1.999))
	assert.Equal(t, 0.1, f(2), "switch time itself belongs to the post-induction phase")
	assert.Equal(t, 0.1, f(10))
}

func TestConstant(t *testing.T) {
	f := signal.Constant(0.05)
	assert.Equal(t, 0.05, f(-1))
	assert.Equal(t, 0.05, f(1e6))
}
