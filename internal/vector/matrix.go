package vector

import (
	"fmt"
	"math"
)

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	data []float32
	rows int
	cols int
}

// NewMatrix copies rows into a Matrix. Every row must have the width of the
// first row and hold only finite values.
func NewMatrix(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return &Matrix{}, nil
	}

	cols := len(rows[0])
	if cols == 0 {
		return nil, fmt.Errorf("row 0 is empty")
	}

	data := make([]float32, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, &DimensionError{Row: i, Expected: cols, Got: len(r)}
		}
		data = append(data, r...)
	}

	m := &Matrix{data: data, rows: len(rows), cols: cols}
	if err := m.checkFinite(); err != nil {
		return nil, err
	}
	return m, nil
}

// newMatrixFromData wraps data without copying. len(data) must equal rows*cols.
func newMatrixFromData(data []float32, rows, cols int) (*Matrix, error) {
	if rows*cols != len(data) {
		return nil, fmt.Errorf("matrix data has %d values, want %d x %d", len(data), rows, cols)
	}
	if rows > 0 && cols == 0 {
		return nil, fmt.Errorf("matrix has %d rows of width 0", rows)
	}
	m := &Matrix{data: data, rows: rows, cols: cols}
	if err := m.checkFinite(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matrix) checkFinite() error {
	for i, x := range m.data {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("non-finite value at row %d column %d", i/m.cols, i%m.cols)
		}
	}
	return nil
}

// Rows returns the row count.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the row width.
func (m *Matrix) Cols() int { return m.cols }

// Row returns row i. The slice aliases the matrix and must not be modified.
func (m *Matrix) Row(i int) []float32 {
	return m.data[i*m.cols : (i+1)*m.cols : (i+1)*m.cols]
}

// DimensionError reports a row whose width differs from the first row.
type DimensionError struct {
	Row      int
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("row %d has %d dimensions, expected %d", e.Row, e.Got, e.Expected)
}
