package autodiff

import (
	"fmt"
	"math"
	"math/rand"
)

// Matrix represents a 2D matrix of float64 values.
type Matrix struct {
	Rows int
	Cols int
	Data [][]float64
}

// NewMatrix creates a zero matrix with the specified dimensions.
func NewMatrix(rows, cols int) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid matrix dimensions: rows=%d, cols=%d (must be positive)", rows, cols)
	}

	data := make([][]float64, rows)
	for i := range data {
		data[i] = make([]float64, cols)
	}

	return &Matrix{
		Rows: rows,
		Cols: cols,
		Data: data,
	}, nil
}

// NewRandomMatrix creates a matrix initialized from a scaled uniform
// distribution. Small values keep early training stable.
func NewRandomMatrix(rows, cols int, scale float64, rng *rand.Rand) (*Matrix, error) {
	m, err := NewMatrix(rows, cols)
	if err != nil {
		return nil, err
	}

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Data[i][j] = (rng.Float64()*2 - 1) * scale
		}
	}

	return m, nil
}

// Clone creates a deep copy of the matrix.
func (m *Matrix) Clone() (*Matrix, error) {
	clone, err := NewMatrix(m.Rows, m.Cols)
	if err != nil {
		return nil, err
	}

	for i := 0; i < m.Rows; i++ {
		copy(clone.Data[i], m.Data[i])
	}

	return clone, nil
}

// Zero resets every element in place.
func (m *Matrix) Zero() {
	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			m.Data[i][j] = 0
		}
	}
}

// RowArgmax returns the column index of the largest value in row i.
func (m *Matrix) RowArgmax(i int) (int, error) {
	if i < 0 || i >= m.Rows {
		return 0, fmt.Errorf("row %d out of range [0,%d)", i, m.Rows)
	}
	best := 0
	for j := 1; j < m.Cols; j++ {
		if m.Data[i][j] > m.Data[i][best] {
			best = j
		}
	}
	return best, nil
}

// RowMax returns the largest value in row i.
func (m *Matrix) RowMax(i int) (float64, error) {
	j, err := m.RowArgmax(i)
	if err != nil {
		return 0, err
	}
	return m.Data[i][j], nil
}

// Equal reports whether two matrices agree element-wise within epsilon.
func Equal(a, b *Matrix, epsilon float64) bool {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		return false
	}
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			if math.Abs(a.Data[i][j]-b.Data[i][j]) > epsilon {
				return false
			}
		}
	}
	return true
}
