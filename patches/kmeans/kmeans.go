// Package kmeans dispatches KMeans fit, predict and transform.
package kmeans

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
	"github.com/YuminosukeSato/scigoex/sklearn/cluster"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

const name = "KMeans"

// Estimator is the dispatch view of a *cluster.KMeans.
type Estimator struct {
	k    *cluster.KMeans
	info version.Info
}

// Adapt wraps k for the dispatcher.
func Adapt(k *cluster.KMeans, info version.Info) *Estimator {
	return &Estimator{k: k, info: info}
}

func (e *Estimator) Name() string      { return name }
func (e *Estimator) Methods() []string { return []string{"fit", "predict", "transform"} }
func (e *Estimator) NJobs() int        { return e.k.NJobs() }

// Supported evaluates the KMeans predicate. Device and host accept the same
// configurations; device-specific checks are added by the dispatcher.
func (e *Estimator) Supported(_ dispatch.Backend, method string, args dispatch.Args) (*dispatch.Chain, error) {
	c := dispatch.NewChain(name + "." + method)
	c.AndAll(patches.RuntimeCondition(e.info, version.FeatureKMeans))

	alg := e.k.Algorithm()
	lloyd := alg == cluster.AlgorithmLloyd || alg == cluster.AlgorithmFull || alg == cluster.AlgorithmAuto
	c.And(lloyd, fmt.Sprintf("algorithm=%s is one of lloyd, full, auto", alg))

	switch method {
	case "fit":
		c.And(!data.IsSparse(e.k.InitCenters()), "init is not sparse")
		n := data.NumSamples(args.X)
		c.And(e.k.NClusters() < n, fmt.Sprintf("n_clusters=%d < n_samples=%d", e.k.NClusters(), n))
		c.And(args.SampleWeight == nil, "sample_weight is None")
		c.And(!data.IsSparse(args.X), "X is not sparse")
	case "predict", "transform":
		c.And(e.k.IsFitted(), "estimator is fitted")
		c.And(!data.IsSparse(args.X), "X is not sparse")
	default:
		return nil, scigoerrors.NewDispatchInternalError(name, method)
	}
	return c, nil
}

// Entries returns the patch entries routing KMeans through d.
func Entries(d *dispatch.Dispatcher, info version.Info) []patch.Patchable {
	var fit cluster.KMeansFitFunc = func(ctx context.Context, k *cluster.KMeans, X mat.Matrix, sampleWeight []float64) error {
		_, err := d.Dispatch(ctx, Adapt(k, info), "fit", dispatch.Implementations{
			Accelerated: func(ctx context.Context, q *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				return nil, acceleratedFit(ctx, q, k, args.X)
			},
			Reference: func(ctx context.Context, _ *device.Queue, args dispatch.Args) (mat.Matrix, error) {
				return nil, cluster.KMeansFit.Original()(ctx, k, args.X, args.SampleWeight)
			},
		}, dispatch.Args{X: X, SampleWeight: sampleWeight})
		return err
	}

	apply := func(method string, slot *patch.Slot[cluster.KMeansApplyFunc], kernel func(context.Context, *device.Queue, mat.Matrix, *mat.Dense) (*mat.Dense, error)) cluster.KMeansApplyFunc {
		return func(ctx context.Context, k *cluster.KMeans, X mat.Matrix) (mat.Matrix, error) {
			return d.Dispatch(ctx, Adapt(k, info), method, dispatch.Implementations{
				Accelerated: func(ctx context.Context, q *device.Queue, args dispatch.Args) (mat.Matrix, error) {
					if err := k.CheckApplyInput(method, args.X); err != nil {
						return nil, err
					}
					return kernel(ctx, q, args.X, k.ClusterCenters())
				},
				Reference: func(ctx context.Context, _ *device.Queue, args dispatch.Args) (mat.Matrix, error) {
					return slot.Original()(ctx, k, args.X)
				},
			}, dispatch.Args{X: X})
		}
	}

	return []patch.Patchable{
		patch.NewEntry(cluster.KMeansFit, fit),
		patch.NewEntry(cluster.KMeansPredict, apply("predict", cluster.KMeansPredict, accel.KMeansPredict)),
		patch.NewEntry(cluster.KMeansTransform, apply("transform", cluster.KMeansTransform, accel.KMeansTransform)),
	}
}

func acceleratedFit(ctx context.Context, q *device.Queue, k *cluster.KMeans, X mat.Matrix) error {
	if err := k.CheckFitInput(X, nil); err != nil {
		return err
	}
	params := accel.KMeansParams{
		NClusters: k.NClusters(),
		Init:      k.Init(),
		NInit:     k.EffectiveNInit(),
		MaxIter:   k.MaxIter(),
		Tol:       cluster.ScaledTolerance(X, k.Tol()),
		Seed:      k.Rand().Int63(),
	}
	if k.Init() == cluster.InitArray {
		params.InitCenters = mat.DenseCopyOf(k.InitCenters())
	}

	res, err := accel.KMeansFit(ctx, q, X, params)
	if err != nil {
		return err
	}
	cluster.CheckDistinctClusters(res.Labels, k.NClusters(), res.NIter)
	n, _ := X.Dims()
	k.SetFitResult(cluster.KMeansResult{
		Centers: res.Centers,
		Labels:  res.Labels,
		Inertia: res.Inertia,
		NIter:   res.NIter,
	}, n, patches.Backend(q))
	return nil
}
