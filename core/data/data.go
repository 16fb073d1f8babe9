// Package data inspects estimator inputs: element type, sparsity and shape.
// Dispatch predicates and the reference estimators both classify inputs
// through this package so they agree on what "sparse" or "float32" means.
package data

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// DType is the element type of an input array.
type DType int

const (
	Float64 DType = iota
	Float32
)

func (d DType) String() string {
	if d == Float32 {
		return "float32"
	}
	return "float64"
}

// Float32Matrix is implemented by matrices stored in single precision.
type Float32Matrix interface {
	mat.Matrix
	RawFloat32() (data []float32, stride int)
}

// Sparse is implemented by sparse matrices.
type Sparse interface {
	mat.Matrix
	NNZ() int
}

// DTypeOf reports the element type of m.
func DTypeOf(m mat.Matrix) DType {
	if _, ok := m.(Float32Matrix); ok {
		return Float32
	}
	return Float64
}

// IsSparse reports whether m is a sparse matrix.
func IsSparse(m mat.Matrix) bool {
	if m == nil {
		return false
	}
	_, ok := m.(Sparse)
	return ok
}

// NumSamples returns the number of rows of m, 0 for nil.
func NumSamples(m mat.Matrix) int {
	if m == nil {
		return 0
	}
	r, _ := m.Dims()
	return r
}

// Dense returns m as a *mat.Dense, copying only when m is not already one.
func Dense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

// RowMajor returns the elements of m as a contiguous row-major slice.
// The returned slice aliases m when m is a *mat.Dense with stride == cols.
func RowMajor(m mat.Matrix) []float64 {
	r, c := m.Dims()
	if d, ok := m.(*mat.Dense); ok {
		raw := d.RawMatrix()
		if raw.Stride == c {
			return raw.Data[:r*c]
		}
	}
	out := make([]float64, r*c)
	switch v := m.(type) {
	case *CSR:
		for i := 0; i < r; i++ {
			for k := v.indptr[i]; k < v.indptr[i+1]; k++ {
				out[i*c+v.indices[k]] = v.data[k]
			}
		}
	case *Float32Dense:
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out[i*c+j] = float64(v.data[i*v.stride+j])
			}
		}
	default:
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out[i*c+j] = m.At(i, j)
			}
		}
	}
	return out
}

// WrapLike converts out to the element type of in. Results of an accelerated
// backend are computed in float64 and re-wrapped so callers get back the
// precision they passed in.
func WrapLike(in, out mat.Matrix) mat.Matrix {
	if out == nil || in == nil {
		return out
	}
	if DTypeOf(in) == Float32 && DTypeOf(out) == Float64 {
		return Float32From(out)
	}
	return out
}

// CheckOption configures CheckArray.
type CheckOption func(*checkConfig)

type checkConfig struct {
	acceptSparse bool
	estimator    string
	minSamples   int
}

// AcceptSparse controls whether sparse input is accepted. When false,
// CheckArray returns an UnsupportedInputError for sparse input.
func AcceptSparse(accept bool) CheckOption {
	return func(c *checkConfig) { c.acceptSparse = accept }
}

// ForEstimator sets the estimator name used in error messages.
func ForEstimator(name string) CheckOption {
	return func(c *checkConfig) { c.estimator = name }
}

// MinSamples sets the minimum number of rows.
func MinSamples(n int) CheckOption {
	return func(c *checkConfig) { c.minSamples = n }
}

// CheckArray validates an estimator input: non-nil, non-empty, finite and
// dense unless AcceptSparse(true) is given.
func CheckArray(op string, X mat.Matrix, opts ...CheckOption) error {
	cfg := checkConfig{acceptSparse: true, estimator: op, minSamples: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if X == nil {
		return scigoerrors.NewValueError(op, "input is nil")
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return scigoerrors.Wrapf(scigoerrors.ErrEmptyData, "%s: got shape (%d, %d)", op, r, c)
	}
	if r < cfg.minSamples {
		return scigoerrors.NewValueError(op, fmt.Sprintf("n_samples=%d should be >= %d", r, cfg.minSamples))
	}
	if IsSparse(X) {
		if !cfg.acceptSparse {
			return scigoerrors.NewUnsupportedInputError(cfg.estimator, "sparse input is not supported")
		}
		if csr, ok := X.(*CSR); ok {
			return scigoerrors.CheckSlice(op, "input", csr.data)
		}
	}
	if d, ok := X.(*mat.Dense); ok {
		raw := d.RawMatrix()
		for i := 0; i < r; i++ {
			row := raw.Data[i*raw.Stride : i*raw.Stride+c]
			for j, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return scigoerrors.NewNonFiniteError(op, "input", i, j, v)
				}
			}
		}
		return nil
	}
	return scigoerrors.CheckMatrix(op, "input", X, r, c)
}
