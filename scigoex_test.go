package scigoex_test

import (
	"context"
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex"
	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/device/devicetest"
	"github.com/YuminosukeSato/scigoex/dispatch"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/patches/kmeans"
	"github.com/YuminosukeSato/scigoex/pkg/config"
	"github.com/YuminosukeSato/scigoex/pkg/log"
	"github.com/YuminosukeSato/scigoex/sklearn/cluster"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

func newRuntime(t *testing.T, cfg *config.Config) (*scigoex.Runtime, *devicetest.Driver, *log.TestLogger) {
	t.Helper()
	drv := devicetest.New()
	logger, _ := log.NewTestLogger(log.LevelDebug)
	rt, err := scigoex.New(cfg, scigoex.WithDriver(drv), scigoex.WithLogger(logger))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := rt.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return rt, drv, logger
}

func blobs() *mat.Dense {
	return mat.NewDense(8, 2, []float64{
		1, 1,
		1, 2,
		2, 1,
		2, 2,
		8, 8,
		8, 9,
		9, 8,
		9, 9,
	})
}

func TestKMeansLloydDenseIsAccelerated(t *testing.T) {
	rt, drv, logger := newRuntime(t, nil)
	if _, err := rt.Patch(); err != nil {
		t.Fatal(err)
	}

	k := cluster.NewKMeans(cluster.WithKMeansNClusters(2), cluster.WithKMeansAlgorithm(cluster.AlgorithmLloyd), cluster.WithKMeansRandomState(3))
	if err := k.Fit(blobs(), nil); err != nil {
		t.Fatal(err)
	}
	if k.FittedBy() != string(dispatch.Device) {
		t.Errorf("FittedBy = %q, want device", k.FittedBy())
	}
	if drv.PairwiseCalls() == 0 {
		t.Error("device kernel not called")
	}
	if st := rt.Dispatcher.Stats(); st.Device != 1 || st.Reference != 0 {
		t.Errorf("stats = %+v", st)
	}
	if !logger.ContainsField(log.DispatchBackendKey, "device") {
		t.Error("decision not logged")
	}
}

func TestKMeansSparseUsesReference(t *testing.T) {
	rt, drv, logger := newRuntime(t, nil)
	if _, err := rt.Patch(); err != nil {
		t.Fatal(err)
	}

	X := data.CSRFromDense(blobs())
	k := cluster.NewKMeans(cluster.WithKMeansNClusters(3), cluster.WithKMeansRandomState(0))
	out, err := k.FitTransform(X)
	if err != nil {
		t.Fatal(err)
	}
	if k.FittedBy() != cluster.BackendReference {
		t.Errorf("FittedBy = %q, want reference", k.FittedBy())
	}
	if _, ok := out.(*mat.Dense); !ok {
		t.Errorf("transform output is %T, want dense", out)
	}
	if r, c := out.Dims(); r != 8 || c != 3 {
		t.Errorf("shape (%d, %d), want (8, 3)", r, c)
	}
	if drv.PairwiseCalls() != 0 {
		t.Error("device kernel called for sparse input")
	}
	if !logger.ContainsMessage("KMeans.fit: running reference implementation") {
		t.Error("reference decision not logged")
	}
	if !logger.ContainsMessage("KMeans.fit[device]: X is not sparse: fail") {
		t.Error("failed condition not logged")
	}
}

func TestUnregisteredMethodIsFatal(t *testing.T) {
	rt, _, _ := newRuntime(t, nil)

	est := kmeans.Adapt(cluster.NewKMeans(), rt.Features)
	_, err := rt.Dispatcher.Decide(context.Background(), est, "fit_predict", dispatch.Args{X: blobs()})
	if !scigoerrors.IsDispatchInternal(err) {
		t.Errorf("Decide: got %v, want DispatchInternalError", err)
	}

	_, err = rt.Registry.State(patch.Key{Target: "KMeans", Method: "score"})
	if !scigoerrors.IsDispatchInternal(err) {
		t.Errorf("State: got %v, want DispatchInternalError", err)
	}
	_, err = rt.Patch(patch.Key{Target: "KMeans", Method: "score"})
	if !scigoerrors.IsDispatchInternal(err) {
		t.Errorf("Patch: got %v, want DispatchInternalError", err)
	}
}

func TestPatchUnpatchRoundTrip(t *testing.T) {
	rt, _, _ := newRuntime(t, nil)
	before := rt.Registry.States()
	if len(before) != rt.Registry.Len() || rt.Registry.Len() != 9 {
		t.Fatalf("registry has %d entries, want 9", rt.Registry.Len())
	}

	applied, err := rt.Patch()
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 9 {
		t.Errorf("applied %d changes, want 9", len(applied))
	}
	for k, s := range rt.Registry.States() {
		if s != patch.Patched {
			t.Errorf("%s is %s after Patch", k, s)
		}
	}
	if cluster.KMeansFit.IsOriginal() {
		t.Error("KMeans.fit slot not replaced")
	}

	// 二重適用は拒否される
	if _, err := rt.Patch(patch.Key{Target: "KMeans", Method: "fit"}); !errors.Is(err, scigoerrors.ErrAlreadyPatched) {
		t.Errorf("second Patch: got %v, want ErrAlreadyPatched", err)
	}

	reverted, err := rt.Unpatch()
	if err != nil {
		t.Fatal(err)
	}
	if len(reverted) != 9 {
		t.Errorf("reverted %d changes, want 9", len(reverted))
	}
	after := rt.Registry.States()
	for k, s := range before {
		if after[k] != s {
			t.Errorf("%s: %s after round trip, want %s", k, after[k], s)
		}
	}
	if !cluster.KMeansFit.IsOriginal() {
		t.Error("KMeans.fit slot not restored")
	}
}

func TestDecisionsAreDeterministic(t *testing.T) {
	rt, _, _ := newRuntime(t, nil)
	est := kmeans.Adapt(cluster.NewKMeans(cluster.WithKMeansNClusters(2)), rt.Features)

	first, err := rt.Dispatcher.Decide(context.Background(), est, "fit", dispatch.Args{X: blobs()})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		dec, err := rt.Dispatcher.Decide(context.Background(), est, "fit", dispatch.Args{X: blobs()})
		if err != nil {
			t.Fatal(err)
		}
		if dec.Backend != first.Backend || len(dec.Evaluations) != len(first.Evaluations) {
			t.Fatalf("decision %d differs: %s vs %s", i, dec.Backend, first.Backend)
		}
	}
}

func TestHostTargetFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Dispatch.TargetOffload = "cpu"
	rt, drv, _ := newRuntime(t, cfg)
	if _, err := rt.Patch(); err != nil {
		t.Fatal(err)
	}

	k := cluster.NewKMeans(cluster.WithKMeansNClusters(2), cluster.WithKMeansRandomState(3))
	if err := k.Fit(blobs(), nil); err != nil {
		t.Fatal(err)
	}
	if k.FittedBy() != string(dispatch.Host) {
		t.Errorf("FittedBy = %q, want host", k.FittedBy())
	}
	if drv.PairwiseCalls() != 0 {
		t.Error("device used with target_offload=cpu")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Dispatch.Order = []string{"reference", "host"}
	if _, err := scigoex.New(cfg, scigoex.WithDriver(devicetest.New())); !scigoerrors.IsConfigurationError(err) {
		t.Errorf("reference before host: got %v, want ConfigurationError", err)
	}

	cfg = config.Default()
	cfg.Device.MinVersion = "not-a-version"
	if _, err := scigoex.New(cfg, scigoex.WithDriver(devicetest.New())); !scigoerrors.IsConfigurationError(err) {
		t.Errorf("bad min_version: got %v, want ConfigurationError", err)
	}
}

func TestCloseRevertsAndReleasesDriver(t *testing.T) {
	drv := devicetest.New()
	rt, err := scigoex.New(nil, scigoex.WithDriver(drv))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Patch(); err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if !drv.Closed() {
		t.Error("driver not closed")
	}
	if !cluster.KMeansFit.IsOriginal() {
		t.Error("Close did not revert patches")
	}
}
