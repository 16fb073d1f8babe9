package kmeans_test

import (
	"context"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/device/devicetest"
	"github.com/YuminosukeSato/scigoex/dispatch"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/patches/kmeans"
	"github.com/YuminosukeSato/scigoex/pkg/version"
	"github.com/YuminosukeSato/scigoex/sklearn/cluster"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

func blobs() *mat.Dense {
	return mat.NewDense(6, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		10, 10,
		10, 11,
		11, 10,
	})
}

// patched routes KMeans through a dispatcher backed by a fake device and
// reverts the slots when the test ends.
func patched(t *testing.T, info version.Info) (*dispatch.Dispatcher, *devicetest.Driver) {
	t.Helper()
	drv := devicetest.New()
	m := devicetest.NewManager(drv)
	d := dispatch.New(dispatch.WithDevices(m))

	r := patch.NewRegistry()
	if err := r.Register(kmeans.Entries(d, info)...); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Apply(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if _, err := r.Revert(); err != nil {
			t.Errorf("revert: %v", err)
		}
		_ = m.Close()
	})
	return d, drv
}

func TestSupported(t *testing.T) {
	info := version.Detect(version.Builtin)
	dense := blobs()
	sparse := data.CSRFromDense(blobs())

	tests := []struct {
		name   string
		k      *cluster.KMeans
		method string
		args   dispatch.Args
		want   bool
	}{
		{"lloyd dense", cluster.NewKMeans(cluster.WithKMeansNClusters(2)), "fit", dispatch.Args{X: dense}, true},
		{"auto dense", cluster.NewKMeans(cluster.WithKMeansNClusters(2), cluster.WithKMeansAlgorithm(cluster.AlgorithmAuto)), "fit", dispatch.Args{X: dense}, true},
		{"elkan", cluster.NewKMeans(cluster.WithKMeansNClusters(2), cluster.WithKMeansAlgorithm(cluster.AlgorithmElkan)), "fit", dispatch.Args{X: dense}, false},
		{"sparse input", cluster.NewKMeans(cluster.WithKMeansNClusters(2)), "fit", dispatch.Args{X: sparse}, false},
		{"sample weight", cluster.NewKMeans(cluster.WithKMeansNClusters(2)), "fit", dispatch.Args{X: dense, SampleWeight: []float64{1, 1, 1, 1, 1, 1}}, false},
		{"n_clusters == n_samples", cluster.NewKMeans(cluster.WithKMeansNClusters(6)), "fit", dispatch.Args{X: dense}, false},
		{"predict unfitted", cluster.NewKMeans(), "predict", dispatch.Args{X: dense}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := kmeans.Adapt(tt.k, info).Supported(dispatch.Host, tt.method, tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if chain.Supported() != tt.want {
				t.Errorf("Supported() = %v, want %v\n%s", chain.Supported(), tt.want, chain)
			}
		})
	}

	if _, err := kmeans.Adapt(cluster.NewKMeans(), info).Supported(dispatch.Host, "score", dispatch.Args{X: dense}); !scigoerrors.IsDispatchInternal(err) {
		t.Errorf("unknown method: got %v, want DispatchInternalError", err)
	}
}

func TestSupportedOldRuntime(t *testing.T) {
	info := version.Detect(version.MustParse("2021.1.0"))
	chain, err := kmeans.Adapt(cluster.NewKMeans(cluster.WithKMeansNClusters(2)), info).Supported(dispatch.Host, "fit", dispatch.Args{X: blobs()})
	if err != nil {
		t.Fatal(err)
	}
	if chain.Supported() {
		t.Error("KMeans should not be accelerated on a 2021.1 runtime")
	}
}

func TestPatchedLloydDenseRunsAccelerated(t *testing.T) {
	d, drv := patched(t, version.Detect(version.Builtin))

	k := cluster.NewKMeans(cluster.WithKMeansNClusters(2), cluster.WithKMeansRandomState(0))
	if err := k.Fit(blobs(), nil); err != nil {
		t.Fatal(err)
	}
	if k.FittedBy() != string(dispatch.Device) {
		t.Errorf("FittedBy = %q, want device", k.FittedBy())
	}
	if drv.PairwiseCalls() == 0 {
		t.Error("device kernel was not called")
	}
	labels := k.Labels()
	if labels[0] == labels[3] {
		t.Errorf("blobs merged: %v", labels)
	}

	pred, err := k.Predict(mat.NewDense(1, 2, []float64{10.2, 10.1}))
	if err != nil {
		t.Fatal(err)
	}
	if int(pred.At(0, 0)) != labels[3] {
		t.Errorf("predicted %v, want %d", pred.At(0, 0), labels[3])
	}

	st := d.Stats()
	if st.Device != 2 || st.Reference != 0 {
		t.Errorf("stats = %+v, want 2 device calls", st)
	}
}

func TestPatchedSparseFallsBackToReference(t *testing.T) {
	d, drv := patched(t, version.Detect(version.Builtin))

	X := data.CSRFromDense(blobs())
	init := mat.NewDense(2, 2, []float64{0, 0, 10, 10})
	k := cluster.NewKMeans(cluster.WithKMeansNClusters(2), cluster.WithKMeansInitCenters(init))
	if err := k.Fit(X, nil); err != nil {
		t.Fatal(err)
	}
	if k.FittedBy() != cluster.BackendReference {
		t.Errorf("FittedBy = %q, want reference", k.FittedBy())
	}

	out, err := k.Transform(X)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out.(*mat.Dense); !ok {
		t.Errorf("transform output is %T, want dense", out)
	}
	if r, c := out.Dims(); r != 6 || c != 2 {
		t.Errorf("shape (%d, %d), want (6, 2)", r, c)
	}
	if drv.PairwiseCalls() != 0 {
		t.Errorf("device kernel called %d times", drv.PairwiseCalls())
	}
	if st := d.Stats(); st.Reference != 2 || st.Device != 0 || st.Host != 0 {
		t.Errorf("stats = %+v, want 2 reference calls", st)
	}
}

func TestPatchedSampleWeightUsesReference(t *testing.T) {
	patched(t, version.Detect(version.Builtin))

	k := cluster.NewKMeans(cluster.WithKMeansNClusters(2), cluster.WithKMeansRandomState(1))
	w := []float64{1, 2, 1, 1, 2, 1}
	if err := k.FitWeighted(context.Background(), blobs(), w); err != nil {
		t.Fatal(err)
	}
	if k.FittedBy() != cluster.BackendReference {
		t.Errorf("FittedBy = %q, want reference", k.FittedBy())
	}
}

func TestPatchedAcceleratedErrorsPropagate(t *testing.T) {
	_, drv := patched(t, version.Detect(version.Builtin))
	drv.Err = scigoerrors.New("device lost")

	k := cluster.NewKMeans(cluster.WithKMeansNClusters(2), cluster.WithKMeansRandomState(0))
	if err := k.Fit(blobs(), nil); err == nil {
		t.Fatal("expected device error")
	}
	if k.IsFitted() {
		t.Error("model marked fitted after a failed accelerated fit")
	}
}

func TestPatchedInputValidationMatchesReference(t *testing.T) {
	patched(t, version.Detect(version.Builtin))

	// 予測の前にfitしていない場合はpredicateが失敗し参照実装がエラーを返す
	_, err := cluster.NewKMeans().Predict(blobs())
	if err == nil {
		t.Fatal("expected NotFittedError")
	}
	var nf *scigoerrors.NotFittedError
	if !scigoerrors.As(err, &nf) {
		t.Errorf("got %v, want NotFittedError", err)
	}
}

func TestRevertRestoresReference(t *testing.T) {
	drv := devicetest.New()
	d := dispatch.New(dispatch.WithDevices(devicetest.NewManager(drv)))
	r := patch.NewRegistry()
	if err := r.Register(kmeans.Entries(d, version.Detect(version.Builtin))...); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Apply(); err != nil {
		t.Fatal(err)
	}
	if cluster.KMeansFit.IsOriginal() {
		t.Fatal("fit slot not patched")
	}
	if _, err := r.Revert(); err != nil {
		t.Fatal(err)
	}
	if !cluster.KMeansFit.IsOriginal() || !cluster.KMeansPredict.IsOriginal() || !cluster.KMeansTransform.IsOriginal() {
		t.Fatal("slots not restored")
	}

	k := cluster.NewKMeans(cluster.WithKMeansNClusters(2), cluster.WithKMeansRandomState(0))
	if err := k.Fit(blobs(), nil); err != nil {
		t.Fatal(err)
	}
	if k.FittedBy() != cluster.BackendReference || drv.PairwiseCalls() != 0 {
		t.Errorf("unpatched fit ran %q with %d device calls", k.FittedBy(), drv.PairwiseCalls())
	}
}

func TestPatchedFloat32OutputsMatchReference(t *testing.T) {
	X := data.Float32From(blobs())
	run := func(t *testing.T) (fittedBy string, transformed, labels mat.Matrix) {
		t.Helper()
		k := cluster.NewKMeans(cluster.WithKMeansNClusters(2), cluster.WithKMeansRandomState(0))
		if err := k.FitContext(context.Background(), X); err != nil {
			t.Fatal(err)
		}
		tr, err := k.Transform(X)
		if err != nil {
			t.Fatal(err)
		}
		pr, err := k.Predict(X)
		if err != nil {
			t.Fatal(err)
		}
		return k.FittedBy(), tr, pr
	}

	refBy, refTr, refPr := run(t)
	if refBy != cluster.BackendReference {
		t.Fatalf("unpatched fit ran on %q", refBy)
	}

	patched(t, version.Detect(version.Builtin))
	accBy, accTr, accPr := run(t)
	if accBy == cluster.BackendReference {
		t.Fatal("patched fit ran the reference implementation")
	}

	for _, out := range []struct {
		name     string
		ref, acc mat.Matrix
	}{
		{"transform", refTr, accTr},
		{"predict", refPr, accPr},
	} {
		if data.DTypeOf(out.ref) != data.Float32 || data.DTypeOf(out.acc) != data.Float32 {
			t.Errorf("%s dtype: reference %v, patched %v, want float32 for both", out.name, data.DTypeOf(out.ref), data.DTypeOf(out.acc))
		}
		r1, c1 := out.ref.Dims()
		r2, c2 := out.acc.Dims()
		if r1 != r2 || c1 != c2 {
			t.Errorf("%s shape: reference (%d, %d), patched (%d, %d)", out.name, r1, c1, r2, c2)
		}
	}
	// クラスタ番号は初期化順に依存するので、同じ塊が同じラベルを共有するかだけを見る
	if accPr.At(0, 0) != accPr.At(2, 0) || accPr.At(0, 0) == accPr.At(3, 0) {
		t.Errorf("patched labels do not separate the blobs: %v", mat.Formatted(accPr.T()))
	}
}
