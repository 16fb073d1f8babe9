// Package devicetest provides an in-memory device.Driver for tests.
package devicetest

import (
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/device"
	"github.com/YuminosukeSato/scigoex/pkg/version"
)

// Driver is a device.Driver that computes on the host and counts calls.
type Driver struct {
	DriverVersion version.Version
	DeviceList    []device.Info

	// Err, when set, is returned from every kernel.
	Err error

	pairwiseCalls atomic.Int64
	gramCalls     atomic.Int64
	closed        atomic.Bool
}

// New returns a driver exposing one float64-capable device with 1 GiB of memory.
func New() *Driver {
	return &Driver{
		DriverVersion: version.Builtin,
		DeviceList: []device.Info{{
			ID:          0,
			Name:        "fake-accelerator",
			Vendor:      "test",
			MemoryBytes: 1 << 30,
			Float64:     true,
		}},
	}
}

func (d *Driver) Name() string { return "fake" }

func (d *Driver) Version() version.Version { return d.DriverVersion }

func (d *Driver) Devices() ([]device.Info, error) {
	out := make([]device.Info, len(d.DeviceList))
	copy(out, d.DeviceList)
	return out, nil
}

func (d *Driver) PairwiseSqDist(id int, x []float64, n, dim int, c []float64, k int, out []float64) error {
	d.pairwiseCalls.Add(1)
	if d.Err != nil {
		return d.Err
	}
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			var s float64
			for f := 0; f < dim; f++ {
				diff := x[i*dim+f] - c[j*dim+f]
				s += diff * diff
			}
			out[i*k+j] = s
		}
	}
	return nil
}

func (d *Driver) Gram(id int, x []float64, n, dim int, out []float64) error {
	d.gramCalls.Add(1)
	if d.Err != nil {
		return d.Err
	}
	X := mat.NewDense(n, dim, x)
	var g mat.Dense
	g.Mul(X.T(), X)
	copy(out, g.RawMatrix().Data)
	return nil
}

func (d *Driver) Close() error {
	d.closed.Store(true)
	return nil
}

// PairwiseCalls is the number of PairwiseSqDist invocations.
func (d *Driver) PairwiseCalls() int64 { return d.pairwiseCalls.Load() }

// GramCalls is the number of Gram invocations.
func (d *Driver) GramCalls() int64 { return d.gramCalls.Load() }

// Closed reports whether Close was called.
func (d *Driver) Closed() bool { return d.closed.Load() }

// NewManager returns a device.Manager backed by d.
func NewManager(d *Driver) *device.Manager {
	m, err := device.NewManager(device.Config{FallbackOnError: true}, device.WithDriver(d))
	if err != nil {
		panic(err)
	}
	return m
}
