package preprocessing

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

func scalerData() *mat.Dense {
	return mat.NewDense(4, 2, []float64{
		1, 0,
		2, 0,
		3, 4,
		4, 0,
	})
}

func TestStandardScaler_Dense(t *testing.T) {
	s := NewStandardScalerDefault()
	out, err := s.FitTransform(scalerData())
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}

	// 列0: 平均2.5, 分散1.25 / 列1: 平均1, 分散3（母分散）
	if math.Abs(s.Mean[0]-2.5) > 1e-12 || math.Abs(s.Var[0]-1.25) > 1e-12 {
		t.Errorf("column 0 mean=%v var=%v", s.Mean[0], s.Var[0])
	}
	if math.Abs(s.Mean[1]-1) > 1e-12 || math.Abs(s.Var[1]-3) > 1e-12 {
		t.Errorf("column 1 mean=%v var=%v", s.Mean[1], s.Var[1])
	}
	if s.FittedBy() != BackendReference {
		t.Errorf("FittedBy = %q", s.FittedBy())
	}

	r, c := out.Dims()
	for j := 0; j < c; j++ {
		var sum, sq float64
		for i := 0; i < r; i++ {
			sum += out.At(i, j)
			sq += out.At(i, j) * out.At(i, j)
		}
		if math.Abs(sum) > 1e-12 || math.Abs(sq/float64(r)-1) > 1e-12 {
			t.Errorf("column %d not standardized: sum=%v mean square=%v", j, sum, sq/float64(r))
		}
	}

	back, err := s.InverseTransform(out)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(back, scalerData(), 1e-12) {
		t.Errorf("inverse transform mismatch: %v", mat.Formatted(back))
	}
}

func TestStandardScaler_ConstantFeature(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{5, 5, 5})
	s := NewStandardScalerDefault()
	out, err := s.FitTransform(X)
	if err != nil {
		t.Fatal(err)
	}
	if s.Scale[0] != 1 {
		t.Errorf("scale of constant feature = %v, want 1", s.Scale[0])
	}
	for i := 0; i < 3; i++ {
		if out.At(i, 0) != 0 {
			t.Errorf("row %d = %v, want 0", i, out.At(i, 0))
		}
	}
}

func TestStandardScaler_Sparse(t *testing.T) {
	X := data.CSRFromDense(scalerData())

	// 中心化は疎行列では不可能
	err := NewStandardScalerDefault().Fit(X)
	if !scigoerrors.IsUnsupportedInput(err) {
		t.Errorf("sparse with_mean: got %v, want UnsupportedInputError", err)
	}

	s := NewStandardScaler(false, true)
	out, err := s.FitTransform(X)
	if err != nil {
		t.Fatal(err)
	}
	csr, ok := out.(*data.CSR)
	if !ok {
		t.Fatalf("output is %T, want *data.CSR", out)
	}
	if csr.NNZ() != X.NNZ() {
		t.Errorf("nnz changed: %d -> %d", X.NNZ(), csr.NNZ())
	}

	dense := NewStandardScaler(false, true)
	want, err := dense.FitTransform(scalerData())
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(csr, want, 1e-12) {
		t.Error("sparse and dense results differ")
	}
}

func TestStandardScaler_Errors(t *testing.T) {
	s := NewStandardScalerDefault()
	var nf *scigoerrors.NotFittedError
	if _, err := s.Transform(scalerData()); !errors.As(err, &nf) {
		t.Errorf("transform before fit: got %v, want NotFittedError", err)
	}
	if err := s.Fit(scalerData()); err != nil {
		t.Fatal(err)
	}
	var dimErr *scigoerrors.DimensionError
	if _, err := s.Transform(mat.NewDense(1, 3, nil)); !errors.As(err, &dimErr) {
		t.Errorf("feature mismatch: got %v, want DimensionError", err)
	}
	var nonFinite *scigoerrors.NonFiniteError
	if err := s.Fit(mat.NewDense(2, 1, []float64{1, math.NaN()})); !errors.As(err, &nonFinite) {
		t.Errorf("NaN input: got %v, want NonFiniteError", err)
	}
}

func TestStandardScaler_String(t *testing.T) {
	s := NewStandardScalerDefault()
	if got := s.String(); got != "StandardScaler(with_mean=true, with_std=true)" {
		t.Errorf("String() = %q", got)
	}
}

func TestMinMaxScaler(t *testing.T) {
	m := NewMinMaxScaler([2]float64{-1, 1})
	out, err := m.FitTransform(scalerData())
	if err != nil {
		t.Fatal(err)
	}
	want := mat.NewDense(4, 2, []float64{
		-1, -1,
		-1.0 / 3, -1,
		1.0 / 3, 1,
		1, -1,
	})
	if !mat.EqualApprox(out, want, 1e-12) {
		t.Errorf("got %v, want %v", mat.Formatted(out), mat.Formatted(want))
	}

	back, err := m.InverseTransform(out)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(back, scalerData(), 1e-12) {
		t.Error("inverse transform mismatch")
	}

	if err := m.Fit(data.CSRFromDense(scalerData())); !scigoerrors.IsUnsupportedInput(err) {
		t.Errorf("sparse input: got %v, want UnsupportedInputError", err)
	}

	var valErr *scigoerrors.ValidationError
	if err := NewMinMaxScaler([2]float64{1, 0}).Fit(scalerData()); !errors.As(err, &valErr) {
		t.Errorf("inverted range: got %v, want ValidationError", err)
	}
}

func TestMinMaxScaler_LargeInputRowsIndependent(t *testing.T) {
	n := minMaxParallelThreshold + 3
	X := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(n-i))
	}
	m := NewMinMaxScalerDefault()
	out, err := m.FitTransform(X)
	if err != nil {
		t.Fatal(err)
	}
	last := float64(n - 1)
	for _, i := range []int{0, 1, n / 2, n - 1} {
		if got, want := out.At(i, 0), float64(i)/last; got != want {
			t.Errorf("row %d col 0 = %v, want %v", i, got, want)
		}
		if got, want := out.At(i, 1), float64(n-i-1)/last; got != want {
			t.Errorf("row %d col 1 = %v, want %v", i, got, want)
		}
	}
}
