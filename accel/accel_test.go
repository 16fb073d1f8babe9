package accel_test

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/accel"
	"github.com/YuminosukeSato/scigoex/device"
	"github.com/YuminosukeSato/scigoex/device/devicetest"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

func blobs() *mat.Dense {
	return mat.NewDense(8, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
		20, 20,
		20, 21,
		21, 20,
		21, 21,
	})
}

func deviceQueue(t *testing.T) (*device.Queue, *devicetest.Driver) {
	t.Helper()
	drv := devicetest.New()
	m := devicetest.NewManager(drv)
	t.Cleanup(func() { _ = m.Close() })
	q, err := m.DeviceQueue(-1)
	if err != nil {
		t.Fatal(err)
	}
	return q, drv
}

func TestKMeansFitQueues(t *testing.T) {
	dq, drv := deviceQueue(t)
	queues := map[string]*device.Queue{
		"host":   device.NewHostQueue(2),
		"device": dq,
	}
	for name, q := range queues {
		t.Run(name, func(t *testing.T) {
			res, err := accel.KMeansFit(context.Background(), q, blobs(), accel.KMeansParams{
				NClusters: 2,
				Init:      accel.InitKMeansPlusPlus,
				NInit:     3,
				MaxIter:   100,
				Seed:      42,
			})
			if err != nil {
				t.Fatal(err)
			}
			// 各塊の重心は (0.5, 0.5) と (20.5, 20.5)、inertia は 8 * 0.5
			if math.Abs(res.Inertia-4) > 1e-9 {
				t.Errorf("inertia = %v, want 4", res.Inertia)
			}
			if res.Labels[0] == res.Labels[4] {
				t.Errorf("blobs merged: %v", res.Labels)
			}
			if r, c := res.Centers.Dims(); r != 2 || c != 2 {
				t.Errorf("centers shape (%d, %d)", r, c)
			}
		})
	}
	if drv.PairwiseCalls() == 0 {
		t.Error("device queue never used the driver")
	}
}

func TestKMeansFitDeterministic(t *testing.T) {
	q := device.NewHostQueue(4)
	params := accel.KMeansParams{NClusters: 2, Init: accel.InitRandom, NInit: 5, MaxIter: 50, Seed: 7}
	a, err := accel.KMeansFit(context.Background(), q, blobs(), params)
	if err != nil {
		t.Fatal(err)
	}
	b, err := accel.KMeansFit(context.Background(), q, blobs(), params)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(a.Centers, b.Centers) || a.NIter != b.NIter {
		t.Error("same seed produced different results")
	}
}

func TestKMeansFitErrors(t *testing.T) {
	q := device.NewHostQueue(1)
	if _, err := accel.KMeansFit(context.Background(), nil, blobs(), accel.KMeansParams{NClusters: 2}); !scigoerrors.IsDispatchInternal(err) {
		t.Errorf("nil queue: got %v", err)
	}
	if _, err := accel.KMeansFit(context.Background(), q, blobs(), accel.KMeansParams{NClusters: 9}); err == nil {
		t.Error("expected error for n_clusters > n_samples")
	}
	if _, err := accel.KMeansFit(context.Background(), q, blobs(), accel.KMeansParams{NClusters: 2, Init: accel.InitArray}); err == nil {
		t.Error("expected error for array init without centers")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := accel.KMeansFit(ctx, q, blobs(), accel.KMeansParams{NClusters: 2, MaxIter: 10}); err == nil {
		t.Error("expected error for cancelled context")
	}

	dq, drv := deviceQueue(t)
	drv.Err = scigoerrors.New("device lost")
	if _, err := accel.KMeansFit(context.Background(), dq, blobs(), accel.KMeansParams{NClusters: 2, MaxIter: 10}); err == nil {
		t.Error("driver error was swallowed")
	}
}

func TestKMeansPredictTransform(t *testing.T) {
	centers := mat.NewDense(2, 2, []float64{0, 0, 3, 4})
	X := mat.NewDense(2, 2, []float64{0, 0, 3, 4})
	q := device.NewHostQueue(1)

	labels, err := accel.KMeansPredict(context.Background(), q, X, centers)
	if err != nil {
		t.Fatal(err)
	}
	if labels.At(0, 0) != 0 || labels.At(1, 0) != 1 {
		t.Errorf("labels %v", mat.Formatted(labels))
	}

	dist, err := accel.KMeansTransform(context.Background(), q, X, centers)
	if err != nil {
		t.Fatal(err)
	}
	want := mat.NewDense(2, 2, []float64{0, 5, 5, 0})
	if !mat.EqualApprox(dist, want, 1e-12) {
		t.Errorf("distances %v", mat.Formatted(dist))
	}
}

func pcaData() *mat.Dense {
	return mat.NewDense(6, 3, []float64{
		2.5, 2.4, 0.5,
		0.5, 0.7, 1.0,
		2.2, 2.9, 0.2,
		1.9, 2.2, 0.9,
		3.1, 3.0, 0.1,
		2.3, 2.7, 0.6,
	})
}

func TestPCAFitCovMatchesSVD(t *testing.T) {
	host := device.NewHostQueue(2)
	svd, err := accel.PCAFit(context.Background(), host, pcaData(), accel.PCAMethodSVD)
	if err != nil {
		t.Fatal(err)
	}
	dq, drv := deviceQueue(t)
	cov, err := accel.PCAFit(context.Background(), dq, pcaData(), accel.PCAMethodCov)
	if err != nil {
		t.Fatal(err)
	}
	if drv.GramCalls() != 1 {
		t.Errorf("gram calls = %d, want 1", drv.GramCalls())
	}

	if math.Abs(svd.TotalVariance-cov.TotalVariance) > 1e-9 {
		t.Errorf("total variance %v vs %v", svd.TotalVariance, cov.TotalVariance)
	}
	for i := range svd.Variances {
		if math.Abs(svd.Variances[i]-cov.Variances[i]) > 1e-9 {
			t.Errorf("variance %d: %v vs %v", i, svd.Variances[i], cov.Variances[i])
		}
	}
	// 固有ベクトルは符号を除いて一致する
	_, d := cov.Components.Dims()
	for i := range svd.Variances {
		dot := 0.0
		for j := 0; j < d; j++ {
			dot += svd.Components.At(i, j) * cov.Components.At(i, j)
		}
		if math.Abs(math.Abs(dot)-1) > 1e-6 {
			t.Errorf("component %d differs: |dot| = %v", i, math.Abs(dot))
		}
	}
}

func TestPCAFitErrors(t *testing.T) {
	dq, _ := deviceQueue(t)
	_, err := accel.PCAFit(context.Background(), dq, pcaData(), accel.PCAMethodSVD)
	if !scigoerrors.IsConfigurationError(err) {
		t.Errorf("svd on device: got %v, want ConfigurationError", err)
	}
	_, err = accel.PCAFit(context.Background(), device.NewHostQueue(1), pcaData(), "qr")
	if !scigoerrors.IsDispatchInternal(err) {
		t.Errorf("unknown method: got %v, want DispatchInternalError", err)
	}
}

func TestPCATransform(t *testing.T) {
	q := device.NewHostQueue(2)
	res, err := accel.PCAFit(context.Background(), q, pcaData(), accel.PCAMethodSVD)
	if err != nil {
		t.Fatal(err)
	}
	out, err := accel.PCATransform(context.Background(), q, pcaData(), res.Mean, res.Components, res.Variances, true)
	if err != nil {
		t.Fatal(err)
	}
	n, k := out.Dims()
	// 白色化後の各成分の分散は1（最後の成分は分散0でなければ）
	for c := 0; c < k; c++ {
		if res.Variances[c] < 1e-12 {
			continue
		}
		sq := 0.0
		for i := 0; i < n; i++ {
			sq += out.At(i, c) * out.At(i, c)
		}
		if v := sq / float64(n-1); math.Abs(v-1) > 1e-9 {
			t.Errorf("component %d variance %v", c, v)
		}
	}

	if _, err := accel.PCATransform(context.Background(), q, mat.NewDense(1, 2, nil), res.Mean, res.Components, res.Variances, false); err == nil {
		t.Error("expected dimension error")
	}
}

func TestMomentsAndStandardize(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})
	q := device.NewHostQueue(3)
	mean, variance, err := accel.Moments(context.Background(), q, X)
	if err != nil {
		t.Fatal(err)
	}
	if mean[0] != 2.5 || mean[1] != 10 {
		t.Errorf("mean = %v", mean)
	}
	if math.Abs(variance[0]-1.25) > 1e-12 || variance[1] != 0 {
		t.Errorf("variance = %v", variance)
	}

	out := accel.Standardize(context.Background(), q, X, mean, []float64{math.Sqrt(1.25), 1})
	if math.Abs(out.At(0, 0)+1.5/math.Sqrt(1.25)) > 1e-12 || out.At(0, 1) != 0 {
		t.Errorf("row 0 = %v", out.RawRowView(0))
	}
	if X.At(0, 0) != 1 {
		t.Error("Standardize modified its input")
	}
}

func TestMinMaxAndRescale(t *testing.T) {
	X := mat.NewDense(5, 2, []float64{
		3, -1,
		1, 7,
		4, 7,
		2, 0,
		5, 7,
	})
	q := device.NewHostQueue(2)
	lo, hi, err := accel.MinMax(context.Background(), q, X)
	if err != nil {
		t.Fatal(err)
	}
	if lo[0] != 1 || lo[1] != -1 || hi[0] != 5 || hi[1] != 7 {
		t.Errorf("min = %v, max = %v", lo, hi)
	}

	out := accel.Rescale(context.Background(), q, X, lo, []float64{4, 8}, -1, 1)
	if out.At(1, 0) != -1 || out.At(4, 0) != 1 || out.At(0, 1) != -1 || out.At(2, 1) != 1 {
		t.Errorf("rescaled = %v", mat.Formatted(out))
	}
	if X.At(0, 0) != 3 {
		t.Error("Rescale modified its input")
	}
}
