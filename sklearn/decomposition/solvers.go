package decomposition

import (
	"context"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/pkg/errors"
)

func pcaFit(ctx context.Context, p *PCA, X mat.Matrix) error {
	solver, err := p.CheckFitInput(X)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n, d := X.Dims()

	var sp Spectrum
	switch solver {
	case SolverFull, SolverARPACK:
		// arpack は完全SVDを切り詰めて求める
		sp, err = fullSpectrum(X)
	case SolverRandomized:
		sp, err = randomizedSpectrum(X, p.RequestedComponents(n, d), p.nOversamples, p.powerIterations(n, d), p.rand())
	case SolverCov:
		return errors.NewConfigurationError("PCA.fit", "svd_solver=cov has no reference implementation, enable an accelerated backend")
	}
	if err != nil {
		return err
	}
	p.SetFitResult(sp, solver, n, BackendReference)
	return nil
}

func pcaTransform(_ context.Context, p *PCA, X mat.Matrix) (mat.Matrix, error) {
	if err := p.CheckTransformInput(X); err != nil {
		return nil, err
	}
	return data.WrapLike(X, p.Project(X)), nil
}

func (p *PCA) powerIterations(n, d int) int {
	if p.iteratedPower > 0 {
		return p.iteratedPower
	}
	if float64(p.RequestedComponents(n, d)) < 0.1*float64(min(n, d)) {
		return 7
	}
	return 4
}

func (p *PCA) rand() *rand.Rand {
	if p.randomState >= 0 {
		return rand.New(rand.NewSource(p.randomState))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Center は列平均を引いたコピーと平均を返す
func Center(X mat.Matrix) (*mat.Dense, []float64) {
	xc := mat.DenseCopyOf(X)
	n, d := xc.Dims()
	mean := make([]float64, d)
	for i := 0; i < n; i++ {
		for j, v := range xc.RawRowView(i) {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	for i := 0; i < n; i++ {
		row := xc.RawRowView(i)
		for j := range row {
			row[j] -= mean[j]
		}
	}
	return xc, mean
}

// fullSpectrum は中心化したデータの薄いSVDから全成分を求める
func fullSpectrum(X mat.Matrix) (Spectrum, error) {
	xc, mean := Center(X)
	n, d := xc.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(xc, mat.SVDThin); !ok {
		return Spectrum{}, errors.NewModelError("PCA.fit", "svd", errors.New("SVD did not converge"))
	}
	s := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	ev := make([]float64, len(s))
	total := 0.0
	for i, sv := range s {
		ev[i] = sv * sv / float64(n-1)
		total += ev[i]
	}
	return Spectrum{
		Mean:              mean,
		ExplainedVariance: ev,
		Components:        mat.DenseCopyOf(v.T()),
		TotalVariance:     total,
		Rank:              min(n, d),
	}, nil
}

// randomizedSpectrum はHalkoらのランダム化SVDで上位k成分を求める
func randomizedSpectrum(X mat.Matrix, k, oversamples, power int, rng *rand.Rand) (Spectrum, error) {
	xc, mean := Center(X)
	n, d := xc.Dims()
	l := min(k+oversamples, min(n, d))

	omega := mat.NewDense(d, l, nil)
	raw := omega.RawMatrix().Data
	for i := range raw {
		raw[i] = rng.NormFloat64()
	}

	var y mat.Dense
	y.Mul(xc, omega)
	for it := 0; it < power; it++ {
		q, err := orthonormalize(&y)
		if err != nil {
			return Spectrum{}, err
		}
		var z mat.Dense
		z.Mul(xc.T(), q)
		qz, err := orthonormalize(&z)
		if err != nil {
			return Spectrum{}, err
		}
		y.Reset()
		y.Mul(xc, qz)
	}
	q, err := orthonormalize(&y)
	if err != nil {
		return Spectrum{}, err
	}

	var b mat.Dense
	b.Mul(q.T(), xc)
	var svd mat.SVD
	if ok := svd.Factorize(&b, mat.SVDThin); !ok {
		return Spectrum{}, errors.NewModelError("PCA.fit", "randomized_svd", errors.New("SVD did not converge"))
	}
	s := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	k = min(k, len(s))
	ev := make([]float64, k)
	for i := range ev {
		ev[i] = s[i] * s[i] / float64(n-1)
	}
	total := 0.0
	for _, x := range xc.RawMatrix().Data {
		total += x * x
	}
	total /= float64(n - 1)

	return Spectrum{
		Mean:              mean,
		ExplainedVariance: ev,
		Components:        mat.DenseCopyOf(v.Slice(0, d, 0, k).T()),
		TotalVariance:     total,
		Rank:              min(n, d),
	}, nil
}

// orthonormalize は列空間の正規直交基底を返す
func orthonormalize(a *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.NewModelError("PCA.fit", "randomized_svd", errors.New("orthonormalization failed"))
	}
	var u mat.Dense
	svd.UTo(&u)
	return &u, nil
}
