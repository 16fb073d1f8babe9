package cluster

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/pkg/errors"
	"github.com/YuminosukeSato/scigoex/pkg/log"
)

// BackendReference は参照実装で学習したことを示す
const BackendReference = "reference"

// kmeansFit は重み付きLloydアルゴリズムによる参照実装。疎行列も受け付ける。
func kmeansFit(ctx context.Context, k *KMeans, X mat.Matrix, sampleWeight []float64) error {
	if err := k.CheckFitInput(X, sampleWeight); err != nil {
		return err
	}
	n, _ := X.Dims()

	w := sampleWeight
	if w == nil {
		w = make([]float64, n)
		for i := range w {
			w[i] = 1
		}
	}
	tol := ScaledTolerance(X, k.tol)
	rng := k.Rand()
	logger := log.GetLoggerWithName("KMeans")

	best := KMeansResult{Inertia: math.Inf(1)}
	for run := 0; run < k.EffectiveNInit(); run++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		centers := initialCenters(k, X, w, rng)
		res := lloyd(X, w, centers, k.maxIter, tol, k.verbose, logger)
		if res.Inertia < best.Inertia {
			best = res
		}
	}

	CheckDistinctClusters(best.Labels, k.nClusters, best.NIter)
	k.SetFitResult(best, n, BackendReference)
	return nil
}

func kmeansPredict(_ context.Context, k *KMeans, X mat.Matrix) (mat.Matrix, error) {
	centers, err := k.checkApply("predict", X)
	if err != nil {
		return nil, err
	}
	labels, _ := assignRows(X, centers, nil)
	out := mat.NewDense(len(labels), 1, nil)
	for i, l := range labels {
		out.Set(i, 0, float64(l))
	}
	return data.WrapLike(X, out), nil
}

// kmeansTransform は疎行列の入力でも密な距離行列を返す
func kmeansTransform(_ context.Context, k *KMeans, X mat.Matrix) (mat.Matrix, error) {
	centers, err := k.checkApply("transform", X)
	if err != nil {
		return nil, err
	}
	n, _ := X.Dims()
	nc, _ := centers.Dims()
	out := mat.NewDense(n, nc, nil)
	rr := newRowReader(X)
	for i := 0; i < n; i++ {
		x := rr.row(i)
		dst := out.RawRowView(i)
		for c := 0; c < nc; c++ {
			dst[c] = math.Sqrt(sqDist(x, centers.RawRowView(c)))
		}
	}
	return data.WrapLike(X, out), nil
}

// lloyd は1回分のLloyd反復を行う
func lloyd(X mat.Matrix, w []float64, centers *mat.Dense, maxIter int, tol float64, verbose int, logger log.Logger) KMeansResult {
	n, d := X.Dims()
	nc, _ := centers.Dims()
	rr := newRowReader(X)

	labels := make([]int, n)
	sums := mat.NewDense(nc, d, nil)
	weights := make([]float64, nc)

	nIter := 0
	for it := 0; it < maxIter; it++ {
		nIter = it + 1
		sums.Zero()
		clear(weights)

		changed := it == 0
		inertia := 0.0
		for i := 0; i < n; i++ {
			x := rr.row(i)
			l, dist := nearest(x, centers)
			if l != labels[i] {
				changed = true
			}
			labels[i] = l
			inertia += w[i] * dist
			weights[l] += w[i]
			row := sums.RawRowView(l)
			for j, v := range x {
				row[j] += w[i] * v
			}
		}

		// 空のクラスタは前回の中心を保持する
		shift := 0.0
		for c := 0; c < nc; c++ {
			if weights[c] == 0 {
				continue
			}
			center := centers.RawRowView(c)
			sum := sums.RawRowView(c)
			for j := range center {
				v := sum[j] / weights[c]
				diff := v - center[j]
				shift += diff * diff
				center[j] = v
			}
		}

		if verbose > 0 {
			logger.Info(fmt.Sprintf("Iteration %d, inertia %.6f", it, inertia),
				log.IterationKey, it, log.InertiaKey, inertia)
		}
		if !changed {
			break
		}
		if shift <= tol {
			break
		}
	}

	labels, inertia := assignRows(X, centers, w)
	return KMeansResult{Centers: centers, Labels: labels, Inertia: inertia, NIter: nIter}
}

// assignRows は各行の最近傍中心と重み付き慣性を返す。w が nil なら重みは1。
func assignRows(X mat.Matrix, centers *mat.Dense, w []float64) ([]int, float64) {
	n, _ := X.Dims()
	rr := newRowReader(X)
	labels := make([]int, n)
	inertia := 0.0
	for i := 0; i < n; i++ {
		l, dist := nearest(rr.row(i), centers)
		labels[i] = l
		if w != nil {
			dist *= w[i]
		}
		inertia += dist
	}
	return labels, inertia
}

func nearest(x []float64, centers *mat.Dense) (int, float64) {
	nc, _ := centers.Dims()
	best, bestDist := 0, math.Inf(1)
	for c := 0; c < nc; c++ {
		if dist := sqDist(x, centers.RawRowView(c)); dist < bestDist {
			best, bestDist = c, dist
		}
	}
	return best, bestDist
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		diff := a[i] - b[i]
		s += diff * diff
	}
	return s
}

// ScaledTolerance は tol を特徴量分散の平均でスケールする
func ScaledTolerance(X mat.Matrix, tol float64) float64 {
	if tol == 0 {
		return 0
	}
	n, d := X.Dims()
	rr := newRowReader(X)
	mean := make([]float64, d)
	sq := make([]float64, d)
	for i := 0; i < n; i++ {
		for j, v := range rr.row(i) {
			mean[j] += v
			sq[j] += v * v
		}
	}
	total := 0.0
	for j := range mean {
		m := mean[j] / float64(n)
		total += sq[j]/float64(n) - m*m
	}
	return tol * total / float64(d)
}

// CheckDistinctClusters は見つかったクラスタ数が n_clusters より少ない場合に警告する
func CheckDistinctClusters(labels []int, nClusters, nIter int) {
	seen := make(map[int]struct{}, nClusters)
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	if len(seen) < nClusters {
		errors.Warn(errors.NewConvergenceWarning("KMeans", nIter,
			fmt.Sprintf("number of distinct clusters (%d) found smaller than n_clusters (%d)", len(seen), nClusters)))
	}
}

func initialCenters(k *KMeans, X mat.Matrix, w []float64, rng *rand.Rand) *mat.Dense {
	switch k.init {
	case InitArray:
		return mat.DenseCopyOf(k.initCenters)
	case InitRandom:
		return randomCenters(X, k.nClusters, rng)
	default:
		return kmeansPlusPlus(X, w, k.nClusters, rng)
	}
}

func randomCenters(X mat.Matrix, nClusters int, rng *rand.Rand) *mat.Dense {
	n, d := X.Dims()
	rr := newRowReader(X)
	centers := mat.NewDense(nClusters, d, nil)
	for c, idx := range rng.Perm(n)[:nClusters] {
		centers.SetRow(c, rr.row(idx))
	}
	return centers
}

// kmeansPlusPlus はサンプル重みを考慮したk-means++初期化
func kmeansPlusPlus(X mat.Matrix, w []float64, nClusters int, rng *rand.Rand) *mat.Dense {
	n, d := X.Dims()
	rr := newRowReader(X)
	centers := mat.NewDense(nClusters, d, nil)

	centers.SetRow(0, rr.row(weightedChoice(w, rng)))

	closest := make([]float64, n)
	for i := range closest {
		closest[i] = math.Inf(1)
	}
	p := make([]float64, n)
	for c := 1; c < nClusters; c++ {
		prev := centers.RawRowView(c - 1)
		for i := 0; i < n; i++ {
			if dist := sqDist(rr.row(i), prev); dist < closest[i] {
				closest[i] = dist
			}
			p[i] = w[i] * closest[i]
		}
		centers.SetRow(c, rr.row(weightedChoice(p, rng)))
	}
	return centers
}

// weightedChoice は p に比例した確率でインデックスを選ぶ
func weightedChoice(p []float64, rng *rand.Rand) int {
	total := 0.0
	for _, v := range p {
		total += v
	}
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

// rowReader は行を密なスライスとして読む。返すスライスは次の呼び出しまで有効。
type rowReader struct {
	X     mat.Matrix
	dense *mat.Dense
	csr   *data.CSR
	buf   []float64
}

func newRowReader(X mat.Matrix) *rowReader {
	_, d := X.Dims()
	rr := &rowReader{X: X, buf: make([]float64, d)}
	switch m := X.(type) {
	case *mat.Dense:
		rr.dense = m
	case *data.CSR:
		rr.csr = m
	}
	return rr
}

func (r *rowReader) row(i int) []float64 {
	switch {
	case r.dense != nil:
		return r.dense.RawRowView(i)
	case r.csr != nil:
		clear(r.buf)
		r.csr.RowNonZero(i, func(j int, v float64) { r.buf[j] = v })
		return r.buf
	default:
		return mat.Row(r.buf, i, r.X)
	}
}
