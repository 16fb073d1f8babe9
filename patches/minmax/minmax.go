// Package minmax dispatches MinMaxScaler fit and transform to the host
// kernels in accel.
package minmax

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/accel"
	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/device"
	"github.com/YuminosukeSato/scigoex/dispatch"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/patches"
	"github.com/YuminosukeSato/scigoex/pkg/version"
	"github.com/YuminosukeSato/scigoex/preprocessing"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

const name = "MinMaxScaler"

// Estimator is the dispatch view of a *preprocessing.MinMaxScaler.
type Estimator struct {
	m    *preprocessing.MinMaxScaler
	info version.Info
}

// Adapt wraps m for the dispatcher.
func Adapt(m *preprocessing.MinMaxScaler, info version.Info) *Estimator {
	return &Estimator{m: m, info: info}
}

func (e *Estimator) Name() string      { return name }
func (e *Estimator) Methods() []string { return []string{"fit", "transform"} }
func (e *Estimator) NJobs() int        { return 0 }

func (e *Estimator) Supported(b dispatch.Backend, method string, args dispatch.Args) (*dispatch.Chain, error) {
	c := dispatch.NewChain(name + "." + method)
	c.AndAll(patches.RuntimeCondition(e.info, version.FeatureMinMaxScaler))
	c.And(b == dispatch.Host, "backend is host")

	switch method {
	case "fit":
		c.And(data.NumSamples(args.X) > 0, "X has samples")
	case "transform":
		c.And(e.m.IsFitted(), "estimator is fitted")
	default:
		return nil, scigoerrors.NewDispatchInternalError(name, method)
	}
	c.And(!data.IsSparse(args.X), "X is not sparse")
	return c, nil
}

// Entries returns the patch entries routing MinMaxScaler through d.
func Entries(d *dispatch.Dispatcher, info version.Info) []patch.Patchable {
	var fit preprocessing.MinMaxScalerFitFunc = func(ctx context.Context, m *preprocessing.MinMaxScaler, X mat.Matrix) error {
		_, err := d.Dispatch(ctx, Adapt(m, info), "fit", dispatch.Implementations{
			Accelerated: func(ctx context.Context, q *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				if err := m.CheckInput("MinMaxScaler.fit", args.X); err != nil {
					return nil, err
				}
				lo, hi, err := accel.MinMax(ctx, q, args.X)
				if err != nil {
					return nil, err
				}
				m.SetFitResult(lo, hi, data.NumSamples(args.X), patches.Backend(q))
				return nil, nil
			},
			Reference: func(ctx context.Context, _ *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				return nil, preprocessing.MinMaxScalerFit.Original()(ctx, m, args.X)
			},
		}, dispatch.Args{X: X})
		return err
	}

	var transform preprocessing.MinMaxScalerTransformFunc = func(ctx context.Context, m *preprocessing.MinMaxScaler, X mat.Matrix) (mat.Matrix, error) {
		return d.Dispatch(ctx, Adapt(m, info), "transform", dispatch.Implementations{
			Accelerated: func(ctx context.Context, q *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				if err := m.CheckInput("MinMaxScaler.transform", args.X); err != nil {
					return nil, err
				}
				_, c := args.X.Dims()
				if err := m.RequireFeatures("MinMaxScaler.transform", c); err != nil {
					return nil, err
				}
				return accel.Rescale(ctx, q, args.X, m.DataMin, m.Scale, m.FeatureRange[0], m.FeatureRange[1]), nil
			},
			Reference: func(ctx context.Context, _ *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				return preprocessing.MinMaxScalerTransform.Original()(ctx, m, args.X)
			},
		}, dispatch.Args{X: X})
	}

	return []patch.Patchable{
		patch.NewEntry(preprocessing.MinMaxScalerFit, fit),
		patch.NewEntry(preprocessing.MinMaxScalerTransform, transform),
	}
}
