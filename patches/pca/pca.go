// Package pca dispatches PCA fit and transform.
//
// The solver is resolved before dispatch. randomized and arpack always run
// the reference implementation; cov exists only as an accelerated kernel, so
// a call that no accelerated backend accepts fails with a ConfigurationError.
package pca

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/accel"
	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/device"
	"github.com/YuminosukeSato/scigoex/dispatch"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/patches"
	"github.com/YuminosukeSato/scigoex/pkg/version"
	"github.com/YuminosukeSato/scigoex/sklearn/decomposition"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

const name = "PCA"

// Estimator is the dispatch view of a *decomposition.PCA.
type Estimator struct {
	p    *decomposition.PCA
	info version.Info
}

// Adapt wraps p for the dispatcher.
func Adapt(p *decomposition.PCA, info version.Info) *Estimator {
	return &Estimator{p: p, info: info}
}

func (e *Estimator) Name() string      { return name }
func (e *Estimator) Methods() []string { return []string{"fit", "transform"} }
func (e *Estimator) NJobs() int        { return e.p.NJobs() }

// Supported evaluates the PCA predicate. The device only runs the cov
// solver; the host runs cov and full.
func (e *Estimator) Supported(b dispatch.Backend, method string, args dispatch.Args) (*dispatch.Chain, error) {
	c := dispatch.NewChain(name + "." + method)
	c.AndAll(patches.RuntimeCondition(e.info, version.FeaturePCA))

	switch method {
	case "fit":
		c.And(!data.IsSparse(args.X), "X is not sparse")
		solver := decomposition.SolverAuto
		if args.X != nil {
			n, d := args.X.Dims()
			solver = e.p.ResolveSolver(n, d)
		}
		isCov := dispatch.Condition{Description: "svd_solver is cov", Passed: solver == decomposition.SolverCov}
		if b == dispatch.Device {
			c.AndAll(isCov)
		} else {
			c.Or(isCov, dispatch.Condition{Description: "svd_solver is full", Passed: solver == decomposition.SolverFull})
		}
	case "transform":
		by := e.p.FittedBy()
		c.And(by == string(dispatch.Host) || by == string(dispatch.Device),
			fmt.Sprintf("model was fitted by an accelerated backend (fitted by %q)", by))
		c.And(!data.IsSparse(args.X), "X is not sparse")
	default:
		return nil, scigoerrors.NewDispatchInternalError(name, method)
	}
	return c, nil
}

// Entries returns the patch entries routing PCA through d.
func Entries(d *dispatch.Dispatcher, info version.Info) []patch.Patchable {
	var fit decomposition.PCAFitFunc = func(ctx context.Context, p *decomposition.PCA, X mat.Matrix) error {
		solver, err := p.CheckFitInput(X)
		if err != nil {
			return err
		}
		if solver == decomposition.SolverRandomized || solver == decomposition.SolverARPACK {
			return decomposition.PCAFit.Original()(ctx, p, X)
		}

		impls := dispatch.Implementations{
			Accelerated: func(ctx context.Context, q *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				return nil, acceleratedFit(ctx, q, p, args.X, solver)
			},
		}
		if solver != decomposition.SolverCov {
			impls.Reference = func(ctx context.Context, _ *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				return nil, decomposition.PCAFit.Original()(ctx, p, args.X)
			}
		}
		_, err = d.Dispatch(ctx, Adapt(p, info), "fit", impls, dispatch.Args{X: X})
		return err
	}

	var transform decomposition.PCATransformFunc = func(ctx context.Context, p *decomposition.PCA, X mat.Matrix) (mat.Matrix, error) {
		return d.Dispatch(ctx, Adapt(p, info), "transform", dispatch.Implementations{
			Accelerated: func(ctx context.Context, q *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				if err := p.CheckTransformInput(args.X); err != nil {
					return nil, err
				}
				return accel.PCATransform(ctx, q, args.X, p.Mean(), p.Components(), p.ExplainedVariance(), p.Whiten())
			},
			Reference: func(ctx context.Context, _ *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				return decomposition.PCATransform.Original()(ctx, p, args.X)
			},
		}, dispatch.Args{X: X})
	}

	return []patch.Patchable{
		patch.NewEntry(decomposition.PCAFit, fit),
		patch.NewEntry(decomposition.PCATransform, transform),
	}
}

func acceleratedFit(ctx context.Context, q *device.Queue, p *decomposition.PCA, X mat.Matrix, solver string) error {
	method := accel.PCAMethodSVD
	if solver == decomposition.SolverCov {
		method = accel.PCAMethodCov
	}
	res, err := accel.PCAFit(ctx, q, X, method)
	if err != nil {
		return err
	}
	n, d := X.Dims()
	p.SetFitResult(decomposition.Spectrum{
		Mean:              res.Mean,
		ExplainedVariance: res.Variances,
		Components:        res.Components,
		TotalVariance:     res.TotalVariance,
		Rank:              min(n, d),
	}, solver, n, patches.Backend(q))
	return nil
}
