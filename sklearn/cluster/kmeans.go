package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/core/model"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/pkg/errors"
)

// KMeansFitFunc はKMeans.fitの実装
type KMeansFitFunc func(ctx context.Context, k *KMeans, X mat.Matrix, sampleWeight []float64) error

// KMeansApplyFunc はKMeans.predict / KMeans.transformの実装
type KMeansApplyFunc func(ctx context.Context, k *KMeans, X mat.Matrix) (mat.Matrix, error)

// パッチ可能なメソッドスロット。初期値は参照実装。
var (
	KMeansFit       = patch.NewSlot[KMeansFitFunc](patch.Key{Target: "KMeans", Method: "fit"}, kmeansFit)
	KMeansPredict   = patch.NewSlot[KMeansApplyFunc](patch.Key{Target: "KMeans", Method: "predict"}, kmeansPredict)
	KMeansTransform = patch.NewSlot[KMeansApplyFunc](patch.Key{Target: "KMeans", Method: "transform"}, kmeansTransform)
)

// KMeans のアルゴリズム名
const (
	AlgorithmLloyd = "lloyd"
	AlgorithmElkan = "elkan"
	// AlgorithmFull と AlgorithmAuto は lloyd の旧名
	AlgorithmFull = "full"
	AlgorithmAuto = "auto"
)

// 初期化方法
const (
	InitKMeansPlusPlus = "k-means++"
	InitRandom         = "random"
	InitArray          = "array"
)

// KMeans はK-meansクラスタリング
// scikit-learnのKMeansと互換性を持つ
type KMeans struct {
	model.StateManager

	// ハイパーパラメータ
	nClusters   int        // クラスタ数
	init        string     // 初期化方法: "k-means++", "random", "array"
	initCenters mat.Matrix // init="array" のときの初期中心
	nInit       int        // 異なる初期化での実行回数（0はauto）
	maxIter     int        // 最大イテレーション数
	tol         float64    // 収束判定の許容誤差（特徴量分散の平均に対する相対値）
	verbose     int        // 詳細出力レベル
	randomState int64      // 乱数シード（負の値は時刻）
	algorithm   string     // "lloyd", "elkan", "full", "auto"
	nJobs       int        // 並列数（0は未設定）

	// 学習パラメータ
	mu              sync.RWMutex
	clusterCenters_ *mat.Dense // クラスタ中心（nClusters x nFeatures）
	labels_         []int      // 各サンプルのクラスタラベル
	inertia_        float64    // クラスタ内平方和誤差
	nIter_          int        // 実行されたイテレーション数
}

// KMeansOption はKMeansの設定オプション
type KMeansOption func(*KMeans)

// NewKMeans は新しいKMeansを作成
func NewKMeans(options ...KMeansOption) *KMeans {
	k := &KMeans{
		nClusters:   8,
		init:        InitKMeansPlusPlus,
		maxIter:     300,
		tol:         1e-4,
		randomState: -1,
		algorithm:   AlgorithmLloyd,
	}
	for _, opt := range options {
		opt(k)
	}
	return k
}

// WithKMeansNClusters はクラスタ数を設定
func WithKMeansNClusters(n int) KMeansOption {
	return func(k *KMeans) { k.nClusters = n }
}

// WithKMeansInit は初期化方法を設定
func WithKMeansInit(init string) KMeansOption {
	return func(k *KMeans) { k.init = init }
}

// WithKMeansInitCenters は初期中心を明示的に与える
func WithKMeansInitCenters(centers mat.Matrix) KMeansOption {
	return func(k *KMeans) {
		k.init = InitArray
		k.initCenters = centers
	}
}

// WithKMeansNInit は実行回数を設定（0はauto）
func WithKMeansNInit(n int) KMeansOption {
	return func(k *KMeans) { k.nInit = n }
}

// WithKMeansMaxIter は最大イテレーション数を設定
func WithKMeansMaxIter(maxIter int) KMeansOption {
	return func(k *KMeans) { k.maxIter = maxIter }
}

// WithKMeansTol は収束判定の許容誤差を設定
func WithKMeansTol(tol float64) KMeansOption {
	return func(k *KMeans) { k.tol = tol }
}

// WithKMeansRandomState は乱数シードを設定
func WithKMeansRandomState(seed int64) KMeansOption {
	return func(k *KMeans) { k.randomState = seed }
}

// WithKMeansAlgorithm はアルゴリズムを設定
func WithKMeansAlgorithm(algorithm string) KMeansOption {
	return func(k *KMeans) { k.algorithm = algorithm }
}

// WithKMeansNJobs は並列数を設定
func WithKMeansNJobs(n int) KMeansOption {
	return func(k *KMeans) { k.nJobs = n }
}

// WithKMeansVerbose は詳細出力レベルを設定
func WithKMeansVerbose(v int) KMeansOption {
	return func(k *KMeans) { k.verbose = v }
}

// NClusters はクラスタ数を返す
func (k *KMeans) NClusters() int { return k.nClusters }

// Init は初期化方法を返す
func (k *KMeans) Init() string { return k.init }

// InitCenters は init="array" の初期中心を返す
func (k *KMeans) InitCenters() mat.Matrix { return k.initCenters }

// MaxIter は最大イテレーション数を返す
func (k *KMeans) MaxIter() int { return k.maxIter }

// Tol は相対許容誤差を返す
func (k *KMeans) Tol() float64 { return k.tol }

// Algorithm はアルゴリズム名を返す
func (k *KMeans) Algorithm() string { return k.algorithm }

// NJobs は並列数を返す
func (k *KMeans) NJobs() int { return k.nJobs }

// Verbose は詳細出力レベルを返す
func (k *KMeans) Verbose() int { return k.verbose }

// EffectiveNInit は実際の実行回数を返す。
// auto の場合、random 初期化は10回、それ以外は1回。
func (k *KMeans) EffectiveNInit() int {
	if k.nInit > 0 {
		return k.nInit
	}
	if k.init == InitRandom {
		return 10
	}
	return 1
}

// Rand は random_state から乱数生成器を作る
func (k *KMeans) Rand() *rand.Rand {
	if k.randomState >= 0 {
		return rand.New(rand.NewSource(k.randomState))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// GetParams はハイパーパラメータを返す
func (k *KMeans) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_clusters":   k.nClusters,
		"init":         k.init,
		"n_init":       k.nInit,
		"max_iter":     k.maxIter,
		"tol":          k.tol,
		"verbose":      k.verbose,
		"random_state": k.randomState,
		"algorithm":    k.algorithm,
		"n_jobs":       k.nJobs,
	}
}

// Fit はモデルを訓練する。y は使われず、API互換のために受け取る
func (k *KMeans) Fit(X, y mat.Matrix) error {
	return k.FitContext(context.Background(), X)
}

// FitContext はコンテキスト付きでモデルを訓練
func (k *KMeans) FitContext(ctx context.Context, X mat.Matrix) error {
	return KMeansFit.Get()(ctx, k, X, nil)
}

// FitWeighted はサンプル重み付きでモデルを訓練
func (k *KMeans) FitWeighted(ctx context.Context, X mat.Matrix, sampleWeight []float64) error {
	return KMeansFit.Get()(ctx, k, X, sampleWeight)
}

// Predict は各サンプルの最近傍クラスタを (n_samples, 1) で返す
func (k *KMeans) Predict(X mat.Matrix) (mat.Matrix, error) {
	return k.PredictContext(context.Background(), X)
}

// PredictContext はコンテキスト付きで予測
func (k *KMeans) PredictContext(ctx context.Context, X mat.Matrix) (mat.Matrix, error) {
	return KMeansPredict.Get()(ctx, k, X)
}

// Transform はデータをクラスタ中心との距離 (n_samples, n_clusters) に変換
func (k *KMeans) Transform(X mat.Matrix) (mat.Matrix, error) {
	return k.TransformContext(context.Background(), X)
}

// TransformContext はコンテキスト付きで変換
func (k *KMeans) TransformContext(ctx context.Context, X mat.Matrix) (mat.Matrix, error) {
	return KMeansTransform.Get()(ctx, k, X)
}

// FitPredict は学習と予測を同時に行う
func (k *KMeans) FitPredict(X, y mat.Matrix) (mat.Matrix, error) {
	if err := k.Fit(X, y); err != nil {
		return nil, err
	}
	return k.Predict(X)
}

// FitTransform は学習と変換を同時に行う
func (k *KMeans) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := k.Fit(X, nil); err != nil {
		return nil, err
	}
	return k.Transform(X)
}

// Score はKMeans目的関数の符号反転値（-inertia）を返す
func (k *KMeans) Score(X mat.Matrix) (float64, error) {
	centers, err := k.checkApply("score", X)
	if err != nil {
		return 0, err
	}
	_, inertia := assignRows(X, centers, nil)
	return -inertia, nil
}

// ClusterCenters は学習されたクラスタ中心のコピーを返す
func (k *KMeans) ClusterCenters() *mat.Dense {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.clusterCenters_ == nil {
		return nil
	}
	return mat.DenseCopyOf(k.clusterCenters_)
}

// Labels は学習データのクラスタラベルを返す
func (k *KMeans) Labels() []int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.labels_ == nil {
		return nil
	}
	labels := make([]int, len(k.labels_))
	copy(labels, k.labels_)
	return labels
}

// Inertia は慣性（クラスタ内平方和誤差）を返す
func (k *KMeans) Inertia() float64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.inertia_
}

// NIter は最良の実行のイテレーション数を返す
func (k *KMeans) NIter() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.nIter_
}

// KMeansResult は学習結果
type KMeansResult struct {
	Centers *mat.Dense
	Labels  []int
	Inertia float64
	NIter   int
}

// SetFitResult は学習結果を設定する。backend は結果を計算した実装名。
func (k *KMeans) SetFitResult(res KMeansResult, nSamples int, backend string) {
	k.mu.Lock()
	k.clusterCenters_ = res.Centers
	k.labels_ = res.Labels
	k.inertia_ = res.Inertia
	k.nIter_ = res.NIter
	k.mu.Unlock()

	_, nFeatures := res.Centers.Dims()
	k.MarkFitted(nFeatures, nSamples, backend)
}

// CheckFitInput は参照実装と同じ入力検証を行う
func (k *KMeans) CheckFitInput(X mat.Matrix, sampleWeight []float64) error {
	if k.nClusters <= 0 {
		return errors.NewValidationError("n_clusters", "must be positive", k.nClusters)
	}
	if k.maxIter <= 0 {
		return errors.NewValidationError("max_iter", "must be positive", k.maxIter)
	}
	switch k.algorithm {
	case AlgorithmLloyd, AlgorithmElkan, AlgorithmFull, AlgorithmAuto:
	default:
		return errors.NewValidationError("algorithm", "must be one of lloyd, elkan", k.algorithm)
	}
	switch k.init {
	case InitKMeansPlusPlus, InitRandom:
	case InitArray:
		if k.initCenters == nil {
			return errors.NewValidationError("init", "array init requires centers", nil)
		}
	default:
		return errors.NewValidationError("init", "must be k-means++, random or an array", k.init)
	}

	if err := data.CheckArray("KMeans.fit", X, data.ForEstimator("KMeans")); err != nil {
		return err
	}
	n, d := X.Dims()
	if n < k.nClusters {
		return errors.NewValueError("KMeans.fit", fmt.Sprintf("n_samples=%d should be >= n_clusters=%d", n, k.nClusters))
	}
	if sampleWeight != nil {
		if len(sampleWeight) != n {
			return errors.NewDimensionError("KMeans.fit", n, len(sampleWeight), 0)
		}
		if err := errors.CheckSlice("KMeans.fit", "sample_weight", sampleWeight); err != nil {
			return err
		}
	}
	if k.init == InitArray {
		r, c := k.initCenters.Dims()
		if r != k.nClusters || c != d {
			return errors.NewValueError("KMeans.fit", "init array shape does not match (n_clusters, n_features)")
		}
	}
	return nil
}

// checkApply はpredict/transform前の検証を行い、学習済み中心を返す
func (k *KMeans) checkApply(method string, X mat.Matrix) (*mat.Dense, error) {
	if err := k.RequireFitted("KMeans", method); err != nil {
		return nil, err
	}
	if err := data.CheckArray("KMeans."+method, X, data.ForEstimator("KMeans")); err != nil {
		return nil, err
	}
	_, d := X.Dims()
	if err := k.RequireFeatures("KMeans."+method, d); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.clusterCenters_, nil
}

// CheckApplyInput はpredict/transformの入力を検証する
func (k *KMeans) CheckApplyInput(method string, X mat.Matrix) error {
	_, err := k.checkApply(method, X)
	return err
}
