package numeric

import (
	"fmt"
	"math"
)

// Matrix is a dense, row-major derivative block. Rows index the flattened
// "of" variable and columns the flattened "wrt" variable.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewMatrix allocates a zero matrix.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// MatrixFrom builds a matrix from row slices.
func MatrixFrom(rows ...[]float64) (Matrix, error) {
	if len(rows) == 0 {
		return Matrix{}, nil
	}
	m := NewMatrix(len(rows), len(rows[0]))
	for i, row := range rows {
		if len(row) != m.Cols {
			return Matrix{}, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), m.Cols)
		}
		copy(m.Data[i*m.Cols:], row)
	}
	return m, nil
}

// At returns element (i, j).
func (m Matrix) At(i, j int) float64 {
	return m.Data[i*m.Cols+j]
}

// Set assigns element (i, j).
func (m Matrix) Set(i, j int, v float64) {
	m.Data[i*m.Cols+j] = v
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	return Matrix{Rows: m.Rows, Cols: m.Cols, Data: append([]float64(nil), m.Data...)}
}

// SameShape reports whether both matrices have the same dimensions.
func (m Matrix) SameShape(o Matrix) bool {
	return m.Rows == o.Rows && m.Cols == o.Cols
}

// MaxAbsDiff returns the largest element-wise absolute difference.
func (m Matrix) MaxAbsDiff(o Matrix) (float64, error) {
	if !m.SameShape(o) {
		return 0, fmt.Errorf("matrix shapes differ: %dx%d vs %dx%d", m.Rows, m.Cols, o.Rows, o.Cols)
	}
	var worst float64
	for i := range m.Data {
		worst = math.Max(worst, math.Abs(m.Data[i]-o.Data[i]))
	}
	return worst, nil
}

// IsFinite reports whether every element is a finite number.
func (m Matrix) IsFinite() bool {
	for _, v := range m.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// RowsSlices returns the matrix as a slice of rows, for printing and encoding.
func (m Matrix) RowsSlices() [][]float64 {
	out := make([][]float64, m.Rows)
	for i := range out {
		out[i] = append([]float64(nil), m.Data[i*m.Cols:(i+1)*m.Cols]...)
	}
	return out
}
