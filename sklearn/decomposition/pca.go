// Package decomposition は行列分解による次元削減を提供します。
package decomposition

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/core/model"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/pkg/errors"
)

// PCAFitFunc はPCA.fitの実装
type PCAFitFunc func(ctx context.Context, p *PCA, X mat.Matrix) error

// PCATransformFunc はPCA.transformの実装
type PCATransformFunc func(ctx context.Context, p *PCA, X mat.Matrix) (mat.Matrix, error)

// パッチ可能なメソッドスロット。初期値は参照実装。
var (
	PCAFit       = patch.NewSlot[PCAFitFunc](patch.Key{Target: "PCA", Method: "fit"}, pcaFit)
	PCATransform = patch.NewSlot[PCATransformFunc](patch.Key{Target: "PCA", Method: "transform"}, pcaTransform)
)

// SVDソルバー名
const (
	SolverAuto       = "auto"
	SolverFull       = "full"
	SolverRandomized = "randomized"
	SolverARPACK     = "arpack"
	// SolverCov は共分散行列の固有値分解。アクセラレーテッド実装のみ。
	SolverCov = "cov"
)

// BackendReference は参照実装で学習したことを示す
const BackendReference = "reference"

// PCA は主成分分析
// scikit-learnのPCAと互換性を持つ
type PCA struct {
	model.StateManager

	// ハイパーパラメータ
	nComponents    int     // 主成分数（0は全成分）
	varianceRatio  float64 // (0, 1) の場合、累積寄与率で主成分数を決める
	whiten         bool
	svdSolver      string
	iteratedPower  int // randomized のべき乗反復回数（0はauto）
	nOversamples   int
	randomState    int64
	nJobs          int

	// 学習パラメータ
	mu                      sync.RWMutex
	fitSolver_              string
	components_             *mat.Dense // (nComponents, nFeatures)
	explainedVariance_      []float64
	explainedVarianceRatio_ []float64
	singularValues_         []float64
	mean_                   []float64
	noiseVariance_          float64
	nComponents_            int
}

// PCAOption はPCAの設定オプション
type PCAOption func(*PCA)

// NewPCA は新しいPCAを作成
func NewPCA(options ...PCAOption) *PCA {
	p := &PCA{
		svdSolver:    SolverAuto,
		nOversamples: 10,
		randomState:  -1,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// WithPCANComponents は主成分数を設定
func WithPCANComponents(n int) PCAOption {
	return func(p *PCA) { p.nComponents = n }
}

// WithPCAVarianceRatio は累積寄与率で主成分数を決める
func WithPCAVarianceRatio(r float64) PCAOption {
	return func(p *PCA) { p.varianceRatio = r }
}

// WithPCAWhiten は白色化を設定
func WithPCAWhiten(w bool) PCAOption {
	return func(p *PCA) { p.whiten = w }
}

// WithPCASVDSolver はソルバーを設定
func WithPCASVDSolver(s string) PCAOption {
	return func(p *PCA) { p.svdSolver = s }
}

// WithPCAIteratedPower はrandomizedのべき乗反復回数を設定
func WithPCAIteratedPower(n int) PCAOption {
	return func(p *PCA) { p.iteratedPower = n }
}

// WithPCARandomState は乱数シードを設定
func WithPCARandomState(seed int64) PCAOption {
	return func(p *PCA) { p.randomState = seed }
}

// WithPCANJobs は並列数を設定
func WithPCANJobs(n int) PCAOption {
	return func(p *PCA) { p.nJobs = n }
}

// SVDSolver は設定されたソルバー名を返す
func (p *PCA) SVDSolver() string { return p.svdSolver }

// Whiten は白色化の有無を返す
func (p *PCA) Whiten() bool { return p.whiten }

// NJobs は並列数を返す
func (p *PCA) NJobs() int { return p.nJobs }

// GetParams はハイパーパラメータを返す
func (p *PCA) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_components":   p.nComponents,
		"variance_ratio": p.varianceRatio,
		"whiten":         p.whiten,
		"svd_solver":     p.svdSolver,
		"iterated_power": p.iteratedPower,
		"random_state":   p.randomState,
		"n_jobs":         p.nJobs,
	}
}

// RequestedComponents は主成分数の指定値を返す。未指定なら形状から決める。
func (p *PCA) RequestedComponents(nSamples, nFeatures int) int {
	if p.nComponents > 0 {
		return p.nComponents
	}
	k := min(nSamples, nFeatures)
	if p.svdSolver == SolverARPACK {
		k--
	}
	return k
}

// ResolveSolver は auto を形状に応じて具体的なソルバーに解決する。
// 小さな問題は full、主成分数が少ない大きな問題は randomized。
func (p *PCA) ResolveSolver(nSamples, nFeatures int) string {
	if p.svdSolver != SolverAuto {
		return p.svdSolver
	}
	if max(nSamples, nFeatures) <= 500 || p.varianceRatio > 0 {
		return SolverFull
	}
	k := p.RequestedComponents(nSamples, nFeatures)
	if k >= 1 && float64(k) < 0.8*float64(min(nSamples, nFeatures)) {
		return SolverRandomized
	}
	return SolverFull
}

// Fit はモデルを訓練する。y は使われない
func (p *PCA) Fit(X, y mat.Matrix) error {
	return p.FitContext(context.Background(), X)
}

// FitContext はコンテキスト付きでモデルを訓練
func (p *PCA) FitContext(ctx context.Context, X mat.Matrix) error {
	return PCAFit.Get()(ctx, p, X)
}

// Transform はデータを主成分空間へ射影
func (p *PCA) Transform(X mat.Matrix) (mat.Matrix, error) {
	return p.TransformContext(context.Background(), X)
}

// TransformContext はコンテキスト付きで射影
func (p *PCA) TransformContext(ctx context.Context, X mat.Matrix) (mat.Matrix, error) {
	return PCATransform.Get()(ctx, p, X)
}

// FitTransform は学習と射影を同時に行う
func (p *PCA) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := p.Fit(X, nil); err != nil {
		return nil, err
	}
	return p.Transform(X)
}

// CheckFitInput は参照実装と同じ入力検証を行い、解決済みのソルバーを返す
func (p *PCA) CheckFitInput(X mat.Matrix) (string, error) {
	if data.IsSparse(X) {
		return "", errors.NewUnsupportedInputError("PCA",
			"PCA does not support sparse input. See TruncatedSVD for a possible alternative")
	}
	if err := data.CheckArray("PCA.fit", X, data.ForEstimator("PCA"), data.MinSamples(2)); err != nil {
		return "", err
	}
	if p.varianceRatio < 0 || p.varianceRatio >= 1 {
		return "", errors.NewValidationError("variance_ratio", "must be in (0, 1)", p.varianceRatio)
	}
	if p.nComponents < 0 {
		return "", errors.NewValidationError("n_components", "must be non-negative", p.nComponents)
	}

	n, d := X.Dims()
	solver := p.ResolveSolver(n, d)
	k := p.RequestedComponents(n, d)
	switch solver {
	case SolverFull, SolverCov:
		if k > min(n, d) {
			return "", errors.NewValueError("PCA.fit",
				fmt.Sprintf("n_components=%d must be between 0 and min(n_samples, n_features)=%d with svd_solver=%s", k, min(n, d), solver))
		}
	case SolverRandomized, SolverARPACK:
		if p.varianceRatio > 0 {
			return "", errors.NewValueError("PCA.fit", "a variance ratio requires svd_solver=full")
		}
		limit := min(n, d)
		if solver == SolverARPACK {
			limit--
		}
		if k < 1 || k > limit {
			return "", errors.NewValueError("PCA.fit",
				fmt.Sprintf("n_components=%d must be between 1 and %d with svd_solver=%s", k, limit, solver))
		}
	default:
		return "", errors.NewValidationError("svd_solver", "unrecognized solver", p.svdSolver)
	}
	return solver, nil
}

// Spectrum は分解の結果。成分は寄与の大きい順。
type Spectrum struct {
	Mean []float64
	// ExplainedVariance は各成分の分散（ddof=1）
	ExplainedVariance []float64
	// Components は (len(ExplainedVariance), nFeatures)
	Components *mat.Dense
	// TotalVariance は全特徴量の分散の和
	TotalVariance float64
	// Rank は min(n_samples, n_features)
	Rank int
}

// SetFitResult はスペクトルから主成分数を選び学習済み状態を設定する
func (p *PCA) SetFitResult(sp Spectrum, solver string, nSamples int, backend string) {
	_, d := sp.Components.Dims()
	ev := sp.ExplainedVariance

	k := p.RequestedComponents(nSamples, d)
	if p.varianceRatio > 0 {
		cum := 0.0
		k = len(ev)
		for i, v := range ev {
			cum += errors.SafeDivide(v, sp.TotalVariance)
			if cum > p.varianceRatio {
				k = i + 1
				break
			}
		}
	}
	k = max(min(k, len(ev)), 1)

	comps := mat.DenseCopyOf(sp.Components.Slice(0, k, 0, d))
	flipSigns(comps)

	explained := append([]float64(nil), ev[:k]...)
	ratio := make([]float64, k)
	singular := make([]float64, k)
	for i, v := range explained {
		ratio[i] = errors.SafeDivide(v, sp.TotalVariance)
		singular[i] = math.Sqrt(v * float64(nSamples-1))
	}

	noise := 0.0
	if k < sp.Rank {
		if len(ev) == sp.Rank {
			for _, v := range ev[k:] {
				noise += v
			}
		} else {
			noise = sp.TotalVariance
			for _, v := range explained {
				noise -= v
			}
		}
		noise /= float64(sp.Rank - k)
		if noise < 0 {
			noise = 0
		}
	}

	p.mu.Lock()
	p.fitSolver_ = solver
	p.components_ = comps
	p.explainedVariance_ = explained
	p.explainedVarianceRatio_ = ratio
	p.singularValues_ = singular
	p.mean_ = append([]float64(nil), sp.Mean...)
	p.noiseVariance_ = noise
	p.nComponents_ = k
	p.mu.Unlock()

	p.MarkFitted(d, nSamples, backend)
}

// flipSigns は各成分の絶対値最大の要素が正になるよう符号を揃える
func flipSigns(comps *mat.Dense) {
	r, _ := comps.Dims()
	for i := 0; i < r; i++ {
		row := comps.RawRowView(i)
		best := 0
		for j, v := range row {
			if math.Abs(v) > math.Abs(row[best]) {
				best = j
			}
		}
		if row[best] < 0 {
			for j := range row {
				row[j] = -row[j]
			}
		}
	}
}

// NComponents は学習された主成分数を返す
func (p *PCA) NComponents() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nComponents_
}

// FitSolver は学習に使ったソルバー名を返す
func (p *PCA) FitSolver() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fitSolver_
}

// Components は主成分 (n_components, n_features) のコピーを返す
func (p *PCA) Components() *mat.Dense {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.components_ == nil {
		return nil
	}
	return mat.DenseCopyOf(p.components_)
}

// ExplainedVariance は各主成分の分散を返す
func (p *PCA) ExplainedVariance() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]float64(nil), p.explainedVariance_...)
}

// ExplainedVarianceRatio は各主成分の寄与率を返す
func (p *PCA) ExplainedVarianceRatio() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]float64(nil), p.explainedVarianceRatio_...)
}

// SingularValues は特異値を返す
func (p *PCA) SingularValues() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]float64(nil), p.singularValues_...)
}

// Mean は特徴量ごとの平均を返す
func (p *PCA) Mean() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]float64(nil), p.mean_...)
}

// NoiseVariance は推定ノイズ分散を返す
func (p *PCA) NoiseVariance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.noiseVariance_
}

// CheckTransformInput はtransformの入力を検証する
func (p *PCA) CheckTransformInput(X mat.Matrix) error {
	if err := p.RequireFitted("PCA", "transform"); err != nil {
		return err
	}
	if err := data.CheckArray("PCA.transform", X, data.ForEstimator("PCA")); err != nil {
		return err
	}
	_, d := X.Dims()
	return p.RequireFeatures("PCA.transform", d)
}

// InverseTransform は主成分空間から元の空間へ戻す
func (p *PCA) InverseTransform(Y mat.Matrix) (mat.Matrix, error) {
	if err := p.RequireFitted("PCA", "inverse_transform"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	n, k := Y.Dims()
	if k != p.nComponents_ {
		return nil, errors.NewDimensionError("PCA.inverse_transform", p.nComponents_, k, 1)
	}
	comps := p.scaledComponents()
	var out mat.Dense
	out.Mul(Y, comps)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += p.mean_[j]
		}
	}
	return &out, nil
}

// scaledComponents は白色化時に sqrt(explained_variance) を掛けた成分を返す
func (p *PCA) scaledComponents() *mat.Dense {
	if !p.whiten {
		return p.components_
	}
	c := mat.DenseCopyOf(p.components_)
	for i, v := range p.explainedVariance_ {
		row := c.RawRowView(i)
		s := math.Sqrt(v)
		for j := range row {
			row[j] *= s
		}
	}
	return c
}

// GetCovariance は生成モデルの共分散行列を返す
func (p *PCA) GetCovariance() (*mat.SymDense, error) {
	if err := p.RequireFitted("PCA", "get_covariance"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	d := len(p.mean_)
	cov := mat.NewSymDense(d, nil)
	if p.nComponents_ > 0 {
		comps := p.scaledComponents()
		diff := make([]float64, p.nComponents_)
		for i, v := range p.explainedVariance_ {
			diff[i] = math.Max(v-p.noiseVariance_, 0)
		}
		var tmp mat.Dense
		tmp.Mul(comps.T(), mat.NewDiagDense(len(diff), diff))
		var full mat.Dense
		full.Mul(&tmp, comps)
		for i := 0; i < d; i++ {
			for j := i; j < d; j++ {
				cov.SetSym(i, j, full.At(i, j))
			}
		}
	}
	for i := 0; i < d; i++ {
		cov.SetSym(i, i, cov.At(i, i)+p.noiseVariance_)
	}
	return cov, nil
}

// GetPrecision は共分散行列の逆行列を逆行列補題で計算する
func (p *PCA) GetPrecision() (*mat.Dense, error) {
	if err := p.RequireFitted("PCA", "get_precision"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	k := p.nComponents_
	noise := p.noiseVariance_
	d := len(p.mean_)
	p.mu.RUnlock()

	if noise == 0 || k == d {
		cov, err := p.GetCovariance()
		if err != nil {
			return nil, err
		}
		var inv mat.Dense
		if err := inv.Inverse(cov); err != nil {
			return nil, errors.Wrap(errors.ErrSingularMatrix, "PCA.get_precision")
		}
		return &inv, nil
	}

	p.mu.RLock()
	comps := p.scaledComponents()
	ev := p.explainedVariance_
	p.mu.RUnlock()

	var inner mat.Dense
	inner.Mul(comps, comps.T())
	inner.Scale(1/noise, &inner)
	for i, v := range ev {
		inner.Set(i, i, inner.At(i, i)+1/math.Max(v-noise, 0))
	}
	var innerInv mat.Dense
	if err := innerInv.Inverse(&inner); err != nil {
		return nil, errors.Wrap(errors.ErrSingularMatrix, "PCA.get_precision")
	}
	var tmp, prec mat.Dense
	tmp.Mul(&innerInv, comps)
	prec.Mul(comps.T(), &tmp)
	prec.Scale(-1/(noise*noise), &prec)
	for i := 0; i < d; i++ {
		prec.Set(i, i, prec.At(i, i)+1/noise)
	}
	return &prec, nil
}

// Project は中心化した X を成分へ射影する。白色化時は分散で正規化する。
func (p *PCA) Project(X mat.Matrix) *mat.Dense {
	p.mu.RLock()
	defer p.mu.RUnlock()

	xc := mat.DenseCopyOf(X)
	n, _ := xc.Dims()
	for i := 0; i < n; i++ {
		row := xc.RawRowView(i)
		for j := range row {
			row[j] -= p.mean_[j]
		}
	}
	var out mat.Dense
	out.Mul(xc, p.components_.T())
	if p.whiten {
		for i := 0; i < n; i++ {
			row := out.RawRowView(i)
			for j, v := range p.explainedVariance_ {
				row[j] /= math.Sqrt(v)
			}
		}
	}
	return &out
}
