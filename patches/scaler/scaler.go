// Package scaler dispatches StandardScaler fit and transform. There is no
// device kernel; the accelerated path runs on the host.
package scaler

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

const name = "StandardScaler"

// Estimator is the dispatch view of a *preprocessing.StandardScaler.
type Estimator struct {
	s    *preprocessing.StandardScaler
	info version.Info
}

// Adapt wraps s for the dispatcher.
func Adapt(s *preprocessing.StandardScaler, info version.Info) *Estimator {
	return &Estimator{s: s, info: info}
}

func (e *Estimator) Name() string      { return name }
func (e *Estimator) Methods() []string { return []string{"fit", "transform"} }
func (e *Estimator) NJobs() int        { return 0 }

func (e *Estimator) Supported(b dispatch.Backend, method string, args dispatch.Args) (*dispatch.Chain, error) {
	c := dispatch.NewChain(name + "." + method)
	c.AndAll(patches.RuntimeCondition(e.info, version.FeatureStandardScaler))
	c.And(b == dispatch.Host, "backend is host")

	switch method {
	case "fit":
	case "transform":
		c.And(e.s.IsFitted(), "estimator is fitted")
	default:
		return nil, scigoerrors.NewDispatchInternalError(name, method)
	}
	c.And(!data.IsSparse(args.X), "X is not sparse")
	return c, nil
}

// Entries returns the patch entries routing StandardScaler through d.
func Entries(d *dispatch.Dispatcher, info version.Info) []patch.Patchable {
	var fit preprocessing.StandardScalerFitFunc = func(ctx context.Context, s *preprocessing.StandardScaler, X mat.Matrix) error {
		_, err := d.Dispatch(ctx, Adapt(s, info), "fit", dispatch.Implementations{
			Accelerated: func(ctx context.Context, q *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				if err := s.CheckInput("StandardScaler.fit", args.X); err != nil {
					return nil, err
				}
				mean, variance, err := accel.Moments(ctx, q, args.X)
				if err != nil {
					return nil, err
				}
				s.SetFitResult(mean, variance, data.NumSamples(args.X), patches.Backend(q))
				return nil, nil
			},
			Reference: func(ctx context.Context, _ *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				return nil, preprocessing.StandardScalerFit.Original()(ctx, s, args.X)
			},
		}, dispatch.Args{X: X})
		return err
	}

	var transform preprocessing.StandardScalerTransformFunc = func(ctx context.Context, s *preprocessing.StandardScaler, X mat.Matrix) (mat.Matrix, error) {
		return d.Dispatch(ctx, Adapt(s, info), "transform", dispatch.Implementations{
			Accelerated: func(ctx context.Context, q *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				if err := s.CheckInput("StandardScaler.transform", args.X); err != nil {
					return nil, err
				}
				_, c := args.X.Dims()
				if err := s.RequireFeatures("StandardScaler.transform", c); err != nil {
					return nil, err
				}
				return accel.Standardize(ctx, q, args.X, s.Mean, s.Scale), nil
			},
			Reference: func(ctx context.Context, _ *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				return preprocessing.StandardScalerTransform.Original()(ctx, s, args.X)
			},
		}, dispatch.Args{X: X})
	}

	return []patch.Patchable{
		patch.NewEntry(preprocessing.StandardScalerFit, fit),
		patch.NewEntry(preprocessing.StandardScalerTransform, transform),
	}
}
