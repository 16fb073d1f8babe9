package cluster

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// twoBlobs は (0,0) 付近と (10,10) 付近の2つの塊
func twoBlobs() *mat.Dense {
	return mat.NewDense(6, 2, []float64{
		0.0, 0.0,
		0.5, 0.0,
		0.0, 0.5,
		10.0, 10.0,
		10.5, 10.0,
		10.0, 10.5,
	})
}

func TestKMeans_FitPredict_TwoBlobs(t *testing.T) {
	k := NewKMeans(WithKMeansNClusters(2), WithKMeansRandomState(42))
	if err := k.Fit(twoBlobs(), nil); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	labels := k.Labels()
	if labels[0] != labels[1] || labels[1] != labels[2] {
		t.Errorf("first blob split: %v", labels)
	}
	if labels[3] != labels[4] || labels[4] != labels[5] {
		t.Errorf("second blob split: %v", labels)
	}
	if labels[0] == labels[3] {
		t.Errorf("blobs merged: %v", labels)
	}

	// 各塊の重心は (1/6, 1/6)、二乗距離の和は塊ごとに 2/36 + 5/36 + 5/36
	if want := 2.0 / 3.0; math.Abs(k.Inertia()-want) > 1e-9 {
		t.Errorf("unexpected inertia %v", k.Inertia())
	}
	if k.FittedBy() != BackendReference {
		t.Errorf("FittedBy = %q, want reference", k.FittedBy())
	}

	pred, err := k.Predict(mat.NewDense(2, 2, []float64{0.2, 0.2, 9.8, 9.9}))
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}
	if int(pred.At(0, 0)) != labels[0] || int(pred.At(1, 0)) != labels[3] {
		t.Errorf("unexpected predictions %v", mat.Formatted(pred))
	}
}

func TestKMeans_InitCentersDeterministic(t *testing.T) {
	init := mat.NewDense(2, 2, []float64{0, 0, 10, 10})
	k := NewKMeans(WithKMeansNClusters(2), WithKMeansInitCenters(init))
	if err := k.Fit(twoBlobs(), nil); err != nil {
		t.Fatal(err)
	}
	centers := k.ClusterCenters()
	want := mat.NewDense(2, 2, []float64{1.0 / 6, 1.0 / 6, 10 + 1.0/6, 10 + 1.0/6})
	if !mat.EqualApprox(centers, want, 1e-9) {
		t.Errorf("centers = %v, want %v", mat.Formatted(centers), mat.Formatted(want))
	}
	if k.EffectiveNInit() != 1 {
		t.Errorf("n_init auto with array init = %d, want 1", k.EffectiveNInit())
	}
}

func TestKMeans_SampleWeight(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{0, 1, 10})
	init := mat.NewDense(2, 1, []float64{0, 10})
	k := NewKMeans(WithKMeansNClusters(2), WithKMeansInitCenters(init))
	if err := k.FitWeighted(context.Background(), X, []float64{1, 3, 1}); err != nil {
		t.Fatal(err)
	}
	// 重み付き平均 (0*1 + 1*3) / 4 = 0.75
	if got := k.ClusterCenters().At(0, 0); math.Abs(got-0.75) > 1e-12 {
		t.Errorf("weighted center = %v, want 0.75", got)
	}

	err := k.FitWeighted(context.Background(), X, []float64{1, 1})
	var dimErr *scigoerrors.DimensionError
	if !errors.As(err, &dimErr) {
		t.Errorf("expected DimensionError for short sample_weight, got %v", err)
	}
}

func TestKMeans_SparseTransformIsDense(t *testing.T) {
	X := data.CSRFromDense(twoBlobs())
	init := mat.NewDense(2, 2, []float64{0, 0, 10, 10})
	k := NewKMeans(WithKMeansNClusters(2), WithKMeansInitCenters(init))

	out, err := k.FitTransform(X)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out.(*mat.Dense); !ok {
		t.Fatalf("transform output is %T, want *mat.Dense", out)
	}
	r, c := out.Dims()
	if r != 6 || c != 2 {
		t.Errorf("shape = (%d, %d), want (6, 2)", r, c)
	}

	dense := NewKMeans(WithKMeansNClusters(2), WithKMeansInitCenters(init))
	want, err := dense.FitTransform(twoBlobs())
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(out, want, 1e-12) {
		t.Error("sparse and dense transforms differ")
	}
}

func TestKMeans_Errors(t *testing.T) {
	k := NewKMeans(WithKMeansNClusters(10))
	err := k.Fit(twoBlobs(), nil)
	var valErr *scigoerrors.ValueError
	if !errors.As(err, &valErr) {
		t.Errorf("n_samples < n_clusters: got %v, want ValueError", err)
	}

	_, err = NewKMeans().Predict(twoBlobs())
	var nf *scigoerrors.NotFittedError
	if !errors.As(err, &nf) {
		t.Errorf("predict before fit: got %v, want NotFittedError", err)
	}

	k = NewKMeans(WithKMeansNClusters(2), WithKMeansRandomState(0))
	if err := k.Fit(twoBlobs(), nil); err != nil {
		t.Fatal(err)
	}
	_, err = k.Transform(mat.NewDense(1, 3, []float64{1, 2, 3}))
	var dimErr *scigoerrors.DimensionError
	if !errors.As(err, &dimErr) {
		t.Errorf("feature mismatch: got %v, want DimensionError", err)
	}

	bad := NewKMeans(WithKMeansAlgorithm("hamerly"))
	var vErr *scigoerrors.ValidationError
	if err := bad.Fit(twoBlobs(), nil); !errors.As(err, &vErr) {
		t.Errorf("unknown algorithm: got %v, want ValidationError", err)
	}
}

func TestKMeans_ScoreAndFitPredict(t *testing.T) {
	k := NewKMeans(WithKMeansNClusters(2), WithKMeansRandomState(7))
	labels, err := k.FitPredict(twoBlobs(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := labels.Dims(); r != 6 || c != 1 {
		t.Errorf("labels shape (%d, %d)", r, c)
	}
	score, err := k.Score(twoBlobs())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(score+k.Inertia()) > 1e-9 {
		t.Errorf("score %v != -inertia %v", score, k.Inertia())
	}
}

func TestKMeans_DistinctClustersWarning(t *testing.T) {
	var warned []error
	scigoerrors.SetWarningHandler(func(w error) { warned = append(warned, w) })
	defer scigoerrors.SetWarningHandler(func(error) {})

	// 全サンプルが同一点なので1クラスタしか見つからない
	X := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
	k := NewKMeans(WithKMeansNClusters(2), WithKMeansRandomState(1))
	if err := k.Fit(X, nil); err != nil {
		t.Fatal(err)
	}
	if len(warned) == 0 {
		t.Fatal("expected a ConvergenceWarning")
	}
	var cw *scigoerrors.ConvergenceWarning
	if !errors.As(warned[0], &cw) {
		t.Errorf("warning type %T", warned[0])
	}
}

func TestScaledTolerance(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{0, 0, 2, 4})
	// 分散は 1 と 4、平均 2.5
	if got := ScaledTolerance(X, 1e-4); math.Abs(got-2.5e-4) > 1e-15 {
		t.Errorf("ScaledTolerance = %v, want 2.5e-4", got)
	}
	if ScaledTolerance(X, 0) != 0 {
		t.Error("zero tolerance should stay zero")
	}
}

func TestKMeansSlotsStartOriginal(t *testing.T) {
	if !KMeansFit.IsOriginal() || !KMeansPredict.IsOriginal() || !KMeansTransform.IsOriginal() {
		t.Error("slots should hold the reference implementation")
	}
	if KMeansFit.Key().String() != "KMeans.fit" {
		t.Errorf("key = %s", KMeansFit.Key())
	}
}
