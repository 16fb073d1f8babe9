package errors

import (
	"fmt"
	"math"
)

// NonFiniteError reports NaN or Inf values found in an input or output array.
type NonFiniteError struct {
	Op     string
	Row    int
	Col    int
	Value  float64
	Source string // "input" or "output"
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("scigoex: %s: %s contains non-finite value %v at (%d, %d)", e.Op, e.Source, e.Value, e.Row, e.Col)
}

// NewNonFiniteError は新しいNonFiniteErrorを作成し、スタックトレースを付与します。
func NewNonFiniteError(op, source string, row, col int, value float64) error {
	return WithStack(&NonFiniteError{Op: op, Source: source, Row: row, Col: col, Value: value})
}

// CheckMatrix checks all values in a matrix and reports the first NaN or Inf.
func CheckMatrix(op, source string, matrix interface{ At(int, int) float64 }, rows, cols int) error {
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := matrix.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return NewNonFiniteError(op, source, i, j, v)
			}
		}
	}
	return nil
}

// CheckSlice is CheckMatrix for a single row of values.
func CheckSlice(op, source string, values []float64) error {
	for j, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewNonFiniteError(op, source, 0, j, v)
		}
	}
	return nil
}

// SafeDivide performs division with protection against division by zero.
// Returns 0 if denominator is zero or close to zero.
func SafeDivide(numerator, denominator float64) float64 {
	if math.Abs(denominator) < 1e-10 {
		return 0
	}
	return numerator / denominator
}
