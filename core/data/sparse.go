package data

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// CSR is a compressed sparse row matrix. It implements mat.Matrix so the
// reference estimators can read it through At, but accelerated backends
// reject it.
type CSR struct {
	rows, cols int
	indptr     []int
	indices    []int
	data       []float64
}

var (
	_ mat.Matrix = (*CSR)(nil)
	_ Sparse     = (*CSR)(nil)
)

// NewCSR builds a CSR matrix from its raw arrays. Column indices within each
// row must be strictly increasing.
func NewCSR(rows, cols int, indptr, indices []int, values []float64) (*CSR, error) {
	const op = "NewCSR"
	if rows <= 0 || cols <= 0 {
		return nil, scigoerrors.NewValueError(op, "rows and cols must be positive")
	}
	if len(indptr) != rows+1 {
		return nil, scigoerrors.NewDimensionError(op, rows+1, len(indptr), 0)
	}
	if len(indices) != len(values) {
		return nil, scigoerrors.NewDimensionError(op, len(values), len(indices), 1)
	}
	if indptr[0] != 0 || indptr[rows] != len(values) {
		return nil, scigoerrors.NewValueError(op, "indptr must start at 0 and end at nnz")
	}
	for i := 0; i < rows; i++ {
		if indptr[i] > indptr[i+1] {
			return nil, scigoerrors.NewValueError(op, "indptr must be non-decreasing")
		}
		prev := -1
		for k := indptr[i]; k < indptr[i+1]; k++ {
			j := indices[k]
			if j <= prev || j >= cols {
				return nil, scigoerrors.NewValueError(op, "column indices must be sorted and in range")
			}
			prev = j
		}
	}
	return &CSR{rows: rows, cols: cols, indptr: indptr, indices: indices, data: values}, nil
}

// CSRFromDense converts m to CSR, dropping exact zeros.
func CSRFromDense(m mat.Matrix) *CSR {
	r, c := m.Dims()
	out := &CSR{rows: r, cols: c, indptr: make([]int, r+1)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); v != 0 {
				out.indices = append(out.indices, j)
				out.data = append(out.data, v)
			}
		}
		out.indptr[i+1] = len(out.data)
	}
	return out
}

// Dims implements mat.Matrix.
func (s *CSR) Dims() (int, int) { return s.rows, s.cols }

// At implements mat.Matrix.
func (s *CSR) At(i, j int) float64 {
	if uint(i) >= uint(s.rows) {
		panic(mat.ErrRowAccess)
	}
	if uint(j) >= uint(s.cols) {
		panic(mat.ErrColAccess)
	}
	lo, hi := s.indptr[i], s.indptr[i+1]
	idx := lo + sort.SearchInts(s.indices[lo:hi], j)
	if idx < hi && s.indices[idx] == j {
		return s.data[idx]
	}
	return 0
}

// T implements mat.Matrix.
func (s *CSR) T() mat.Matrix { return mat.Transpose{Matrix: s} }

// NNZ returns the number of stored values.
func (s *CSR) NNZ() int { return len(s.data) }

// RowNonZero calls fn for each stored value of row i.
func (s *CSR) RowNonZero(i int, fn func(j int, v float64)) {
	for k := s.indptr[i]; k < s.indptr[i+1]; k++ {
		fn(s.indices[k], s.data[k])
	}
}

// Float32Dense is a row-major single precision matrix.
type Float32Dense struct {
	rows, cols int
	stride     int
	data       []float32
}

var _ Float32Matrix = (*Float32Dense)(nil)

// NewFloat32Dense creates a rows x cols matrix backed by data, or a zeroed
// one when data is nil.
func NewFloat32Dense(rows, cols int, data []float32) *Float32Dense {
	if data == nil {
		data = make([]float32, rows*cols)
	}
	if len(data) != rows*cols {
		panic(mat.ErrShape)
	}
	return &Float32Dense{rows: rows, cols: cols, stride: cols, data: data}
}

// Float32From copies m into single precision.
func Float32From(m mat.Matrix) *Float32Dense {
	r, c := m.Dims()
	out := NewFloat32Dense(r, c, nil)
	src := RowMajor(m)
	for i, v := range src {
		out.data[i] = float32(v)
	}
	return out
}

// Dims implements mat.Matrix.
func (f *Float32Dense) Dims() (int, int) { return f.rows, f.cols }

// At implements mat.Matrix.
func (f *Float32Dense) At(i, j int) float64 {
	if uint(i) >= uint(f.rows) {
		panic(mat.ErrRowAccess)
	}
	if uint(j) >= uint(f.cols) {
		panic(mat.ErrColAccess)
	}
	return float64(f.data[i*f.stride+j])
}

// Set sets the element at (i, j).
func (f *Float32Dense) Set(i, j int, v float32) {
	f.data[i*f.stride+j] = v
}

// T implements mat.Matrix.
func (f *Float32Dense) T() mat.Matrix { return mat.Transpose{Matrix: f} }

// RawFloat32 returns the backing slice and row stride.
func (f *Float32Dense) RawFloat32() ([]float32, int) { return f.data, f.stride }
