package gonumext

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestEye(t *testing.T) {
	e := Eye(3)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			want := 0.0
			if row == col {
				want = 1.0
			}
			if e.At(row, col) != want {
				t.Errorf("Eye(3)[%d,%d] = %v, want %v", row, col, e.At(row, col), want)
			}
		}
	}
}

func TestHasNaNOrInf(t *testing.T) {
	ok := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	if HasNaNOrInf(ok) {
		t.Error("finite matrix flagged as non-finite")
	}
	bad := mat.NewDense(2, 2, []float64{1, math.NaN(), 3, 4})
	if !HasNaNOrInf(bad) {
		t.Error("NaN entry not detected")
	}
	inf := mat.NewVecDense(2, []float64{0, math.Inf(-1)})
	if !HasNaNOrInf(inf) {
		t.Error("Inf entry not detected")
	}
}

func TestHasNonFinite(t *testing.T) {
	if HasNonFinite([]float64{0, 1, -2}) {
		t.Error("finite slice flagged")
	}
	if !HasNonFinite([]float64{0, math.Inf(1)}) {
		t.Error("Inf not detected")
	}
}
