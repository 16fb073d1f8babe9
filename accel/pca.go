package accel

import (
	"context"
	"math"
	"sort"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/core/parallel"
	"github.com/YuminosukeSato/scigoex/device"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// PCAMethod selects the decomposition used by PCAFit.
type PCAMethod string

const (
	// PCAMethodCov eigendecomposes the covariance matrix. The Gram matrix is
	// computed on the queue.
	PCAMethodCov PCAMethod = "cov"
	// PCAMethodSVD runs a thin SVD of the centered data on the host.
	PCAMethodSVD PCAMethod = "svd"
)

// PCAResult holds every component, sorted by decreasing variance.
type PCAResult struct {
	Mean          []float64
	Variances     []float64
	Components    *mat.Dense
	TotalVariance float64
}

// PCAFit decomposes X after centering it.
func PCAFit(ctx context.Context, q *device.Queue, X mat.Matrix, method PCAMethod) (PCAResult, error) {
	n, d := X.Dims()
	if n < 2 {
		return PCAResult{}, scigoerrors.NewValueError("PCA.fit", "at least 2 samples are required")
	}
	xc, mean := center(q, X, nil)
	if err := ctx.Err(); err != nil {
		return PCAResult{}, err
	}

	switch method {
	case PCAMethodCov:
		g, err := q.Gram(xc)
		if err != nil {
			return PCAResult{}, err
		}
		g.ScaleSym(1/float64(n-1), g)
		total := 0.0
		for i := 0; i < d; i++ {
			total += g.At(i, i)
		}

		var es mat.EigenSym
		if ok := es.Factorize(g, true); !ok {
			return PCAResult{}, scigoerrors.NewModelError("PCA.fit", "eigen", scigoerrors.New("eigendecomposition did not converge"))
		}
		vals := es.Values(nil)
		var vecs mat.Dense
		es.VectorsTo(&vecs)
		vals, comps := sortComponents(vals, &vecs)
		for i, v := range vals {
			vals[i] = math.Max(v, 0)
		}
		return PCAResult{Mean: mean, Variances: vals, Components: comps, TotalVariance: total}, nil

	case PCAMethodSVD:
		if q.IsDevice() {
			return PCAResult{}, scigoerrors.NewConfigurationError("PCA.fit", "the svd method runs on the host only")
		}
		var svd mat.SVD
		if ok := svd.Factorize(xc, mat.SVDThin); !ok {
			return PCAResult{}, scigoerrors.NewModelError("PCA.fit", "svd", scigoerrors.New("SVD did not converge"))
		}
		s := svd.Values(nil)
		var v mat.Dense
		svd.VTo(&v)
		vals := make([]float64, len(s))
		for i, sv := range s {
			vals[i] = sv * sv / float64(n-1)
		}
		return PCAResult{Mean: mean, Variances: vals, Components: mat.DenseCopyOf(v.T()), TotalVariance: vek.Sum(vals)}, nil
	}
	return PCAResult{}, scigoerrors.NewDispatchInternalErrorf("PCA", "fit", "unknown method %q", method)
}

// PCATransform projects X onto components, dividing by the component standard
// deviation when whiten is set.
func PCATransform(_ context.Context, q *device.Queue, X mat.Matrix, mean []float64, components *mat.Dense, variances []float64, whiten bool) (*mat.Dense, error) {
	_, d := X.Dims()
	k, dc := components.Dims()
	if d != dc || len(mean) != d {
		return nil, scigoerrors.NewDimensionError("PCA.transform", dc, d, 1)
	}
	xc, _ := center(q, X, mean)
	n, _ := xc.Dims()

	out := mat.NewDense(n, k, nil)
	parallel.ParallelizeN(n, q.Threads(), func(start, end int) {
		for i := start; i < end; i++ {
			row := xc.RawRowView(i)
			dst := out.RawRowView(i)
			for c := 0; c < k; c++ {
				dst[c] = vek.Dot(row, components.RawRowView(c))
				if whiten {
					dst[c] /= math.Sqrt(variances[c])
				}
			}
		}
	})
	return out, nil
}

// center returns a centered copy of X. The column means are computed when
// mean is nil.
func center(q *device.Queue, X mat.Matrix, mean []float64) (*mat.Dense, []float64) {
	xc := mat.DenseCopyOf(data.Dense(X))
	n, d := xc.Dims()
	if mean == nil {
		mean = make([]float64, d)
		for i := 0; i < n; i++ {
			vek.Add_Inplace(mean, xc.RawRowView(i))
		}
		vek.DivNumber_Inplace(mean, float64(n))
	}
	parallel.ParallelizeN(n, q.Threads(), func(start, end int) {
		for i := start; i < end; i++ {
			vek.Sub_Inplace(xc.RawRowView(i), mean)
		}
	})
	return xc, mean
}

// sortComponents orders eigenpairs by decreasing eigenvalue and returns the
// eigenvectors as rows.
func sortComponents(vals []float64, vecs *mat.Dense) ([]float64, *mat.Dense) {
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return vals[idx[a]] > vals[idx[b]] })

	d, _ := vecs.Dims()
	sorted := make([]float64, len(vals))
	comps := mat.NewDense(len(vals), d, nil)
	for to, from := range idx {
		sorted[to] = vals[from]
		comps.SetRow(to, mat.Col(nil, from, vecs))
	}
	return sorted, comps
}
