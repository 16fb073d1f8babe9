package accel

import (
	"context"
	"math"
	"math/rand"

	"github.com/viterin/vek"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/device"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// KMeans initialization methods understood by KMeansFit.
const (
	InitKMeansPlusPlus = "k-means++"
	InitRandom         = "random"
	InitArray          = "array"
)

// KMeansParams configures KMeansFit.
type KMeansParams struct {
	NClusters   int
	Init        string
	InitCenters *mat.Dense
	NInit       int
	MaxIter     int
	// Tol is the absolute center-shift tolerance.
	Tol  float64
	Seed int64
}

// KMeansResult is the best of NInit Lloyd runs.
type KMeansResult struct {
	Centers *mat.Dense
	Labels  []int
	Inertia float64
	NIter   int
}

// KMeansFit runs Lloyd's algorithm NInit times concurrently and keeps the run
// with the lowest inertia. Seeds for the runs are drawn up front from Seed so
// the result does not depend on scheduling.
func KMeansFit(ctx context.Context, q *device.Queue, X mat.Matrix, p KMeansParams) (KMeansResult, error) {
	if q == nil {
		return KMeansResult{}, scigoerrors.NewDispatchInternalErrorf("accel.KMeansFit", "fit", "nil queue")
	}
	x := data.Dense(X)
	n, _ := x.Dims()
	if p.NClusters <= 0 || p.NClusters > n {
		return KMeansResult{}, scigoerrors.NewValueError("KMeans.fit", "n_clusters must be in [1, n_samples]")
	}
	nInit := max(p.NInit, 1)

	rng := rand.New(rand.NewSource(p.Seed))
	seeds := make([]int64, nInit)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	results := make([]KMeansResult, nInit)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(nInit, q.Threads()))
	for run := 0; run < nInit; run++ {
		run := run
		g.Go(func() error {
			res, err := lloydRun(gctx, q, x, p, rand.New(rand.NewSource(seeds[run])))
			results[run] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return KMeansResult{}, err
	}

	best := 0
	for i := 1; i < nInit; i++ {
		if results[i].Inertia < results[best].Inertia {
			best = i
		}
	}
	return results[best], nil
}

func lloydRun(ctx context.Context, q *device.Queue, x *mat.Dense, p KMeansParams, rng *rand.Rand) (KMeansResult, error) {
	n, d := x.Dims()
	centers, err := initCenters(q, x, p, rng)
	if err != nil {
		return KMeansResult{}, err
	}
	k := p.NClusters

	prev := make([]int, n)
	sums := make([]float64, k*d)
	counts := make([]float64, k)
	nIter := 0
	for it := 0; it < max(p.MaxIter, 1); it++ {
		if err := ctx.Err(); err != nil {
			return KMeansResult{}, err
		}
		nIter = it + 1

		labels, _, err := q.Assign(x, centers)
		if err != nil {
			return KMeansResult{}, err
		}
		clear(sums)
		clear(counts)
		changed := it == 0
		for i, l := range labels {
			if l != prev[i] {
				changed = true
			}
			vek.Add_Inplace(sums[l*d:(l+1)*d], x.RawRowView(i))
			counts[l]++
		}
		prev = labels

		// empty clusters keep their previous center
		shift := 0.0
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			next := sums[c*d : (c+1)*d]
			vek.DivNumber_Inplace(next, counts[c])
			cur := centers.RawRowView(c)
			dist := vek.Distance(cur, next)
			shift += dist * dist
			copy(cur, next)
		}
		if !changed || shift <= p.Tol {
			break
		}
	}

	labels, best, err := q.Assign(x, centers)
	if err != nil {
		return KMeansResult{}, err
	}
	return KMeansResult{Centers: centers, Labels: labels, Inertia: vek.Sum(best), NIter: nIter}, nil
}

func initCenters(q *device.Queue, x *mat.Dense, p KMeansParams, rng *rand.Rand) (*mat.Dense, error) {
	n, d := x.Dims()
	k := p.NClusters
	switch p.Init {
	case InitArray:
		if p.InitCenters == nil {
			return nil, scigoerrors.NewValueError("KMeans.fit", "array init requires centers")
		}
		return mat.DenseCopyOf(p.InitCenters), nil
	case InitRandom:
		centers := mat.NewDense(k, d, nil)
		for c, idx := range rng.Perm(n)[:k] {
			centers.SetRow(c, x.RawRowView(idx))
		}
		return centers, nil
	}

	// k-means++: the distance to the newest center is computed on the queue.
	centers := mat.NewDense(k, d, nil)
	centers.SetRow(0, x.RawRowView(rng.Intn(n)))
	closest := make([]float64, n)
	for i := range closest {
		closest[i] = math.Inf(1)
	}
	for c := 1; c < k; c++ {
		dist, err := q.PairwiseSqDist(x, centers.Slice(c-1, c, 0, d))
		if err != nil {
			return nil, err
		}
		for i := range closest {
			closest[i] = math.Min(closest[i], dist.At(i, 0))
		}
		centers.SetRow(c, x.RawRowView(sampleProportional(closest, rng)))
	}
	return centers, nil
}

func sampleProportional(p []float64, rng *rand.Rand) int {
	total := vek.Sum(p)
	if total <= 0 {
		return rng.Intn(len(p))
	}
	target := rng.Float64() * total
	cum := 0.0
	for i, v := range p {
		cum += v
		if cum >= target && v > 0 {
			return i
		}
	}
	return len(p) - 1
}

// KMeansPredict returns the nearest center of each row as an (n, 1) matrix.
func KMeansPredict(_ context.Context, q *device.Queue, X mat.Matrix, centers *mat.Dense) (*mat.Dense, error) {
	labels, _, err := q.Assign(data.Dense(X), centers)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(labels), 1, nil)
	for i, l := range labels {
		out.Set(i, 0, float64(l))
	}
	return out, nil
}

// KMeansTransform returns euclidean distances to every center, (n, k).
func KMeansTransform(_ context.Context, q *device.Queue, X mat.Matrix, centers *mat.Dense) (*mat.Dense, error) {
	dist, err := q.PairwiseSqDist(data.Dense(X), centers)
	if err != nil {
		return nil, err
	}
	raw := dist.RawMatrix().Data
	for i, v := range raw {
		raw[i] = math.Sqrt(v)
	}
	return dist, nil
}
