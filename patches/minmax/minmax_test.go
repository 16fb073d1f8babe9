package minmax_test

import (
	"context"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/device/devicetest"
	"github.com/YuminosukeSato/scigoex/dispatch"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/patches/minmax"
	"github.com/YuminosukeSato/scigoex/pkg/version"
	"github.com/YuminosukeSato/scigoex/preprocessing"
)

func sample() *mat.Dense {
	return mat.NewDense(5, 3, []float64{
		1, 0, 7,
		2, 3, 7,
		3, 0, 7,
		4, -2, 7,
		5, 2, 7,
	})
}

func patched(t *testing.T, info version.Info) *dispatch.Dispatcher {
	t.Helper()
	m := devicetest.NewManager(devicetest.New())
	d := dispatch.New(dispatch.WithDevices(m), dispatch.WithDefaultNJobs(2))
	r := patch.NewRegistry()
	if err := r.Register(minmax.Entries(d, info)...); err != nil {
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
	return d
}

func TestSupportedHostOnly(t *testing.T) {
	e := minmax.Adapt(preprocessing.NewMinMaxScalerDefault(), version.Detect(version.Builtin))

	dev, err := e.Supported(dispatch.Device, "fit", dispatch.Args{X: sample()})
	if err != nil {
		t.Fatal(err)
	}
	if dev.Supported() {
		t.Error("MinMaxScaler has no device kernel")
	}
	host, err := e.Supported(dispatch.Host, "fit", dispatch.Args{X: sample()})
	if err != nil {
		t.Fatal(err)
	}
	if !host.Supported() {
		t.Errorf("host should be supported:\n%s", host)
	}
	tr, err := e.Supported(dispatch.Host, "transform", dispatch.Args{X: sample()})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Supported() {
		t.Error("transform before fit should not be supported")
	}
	if _, err := e.Supported(dispatch.Host, "inverse_transform", dispatch.Args{X: sample()}); err == nil {
		t.Error("unknown method should be an error")
	}
}

func TestSupportedRequiresRuntime(t *testing.T) {
	e := minmax.Adapt(preprocessing.NewMinMaxScalerDefault(), version.Detect(version.MustParse("2023.2")))
	c, err := e.Supported(dispatch.Host, "fit", dispatch.Args{X: sample()})
	if err != nil {
		t.Fatal(err)
	}
	if c.Supported() {
		t.Errorf("runtime 2023.2 predates MinMaxScaler:\n%s", c)
	}
}

func TestPatchedMatchesReference(t *testing.T) {
	d := patched(t, version.Detect(version.Builtin))

	m := preprocessing.NewMinMaxScaler([2]float64{-1, 1})
	got, err := m.FitTransform(sample())
	if err != nil {
		t.Fatal(err)
	}
	if m.FittedBy() != string(dispatch.Host) {
		t.Errorf("FittedBy = %q, want host", m.FittedBy())
	}

	ref := preprocessing.NewMinMaxScaler([2]float64{-1, 1})
	if err := preprocessing.MinMaxScalerFit.Original()(context.Background(), ref, sample()); err != nil {
		t.Fatal(err)
	}
	for j := range ref.DataMin {
		if ref.DataMin[j] != m.DataMin[j] || ref.DataMax[j] != m.DataMax[j] || ref.Scale[j] != m.Scale[j] {
			t.Errorf("column %d: min %v/%v max %v/%v", j, m.DataMin[j], ref.DataMin[j], m.DataMax[j], ref.DataMax[j])
		}
	}
	want, err := preprocessing.MinMaxScalerTransform.Original()(context.Background(), ref, sample())
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(got, want, 1e-12) {
		t.Errorf("accelerated transform differs from reference:\n%v\n%v", mat.Formatted(got), mat.Formatted(want))
	}

	if st := d.Stats(); st.Host != 2 || st.Device != 0 {
		t.Errorf("stats = %+v, want 2 host calls", st)
	}
}

func TestPatchedFloat32KeepsDType(t *testing.T) {
	patched(t, version.Detect(version.Builtin))

	m := preprocessing.NewMinMaxScalerDefault()
	out, err := m.FitTransform(data.Float32From(sample()))
	if err != nil {
		t.Fatal(err)
	}
	if data.DTypeOf(out) != data.Float32 {
		t.Errorf("output dtype = %v, want float32", data.DTypeOf(out))
	}
}

func TestPatchedSparseFallsBackAndFails(t *testing.T) {
	d := patched(t, version.Detect(version.Builtin))

	m := preprocessing.NewMinMaxScalerDefault()
	if err := m.Fit(data.CSRFromDense(sample())); err == nil {
		t.Fatal("sparse input should be rejected")
	}
	if st := d.Stats(); st.Reference != 1 || st.Host != 0 {
		t.Errorf("stats = %+v, want one reference call", st)
	}
}
