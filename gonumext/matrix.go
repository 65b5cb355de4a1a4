// Package gonumext collects small gonum helpers shared by the numeric
// packages.
package gonumext

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Eye returns a fresh n by n identity matrix.
func Eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// HasNaNOrInf reports whether any entry of matrix is NaN or infinite.
func HasNaNOrInf(matrix mat.Matrix) bool {
	m, n := matrix.Dims()
	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			v := matrix.At(row, col)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}

// HasNonFinite reports whether any element of xs is NaN or infinite.
func HasNonFinite(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
