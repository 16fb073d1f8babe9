// Package preprocessing はscikit-learn互換の特徴量スケーラーを提供します。
package preprocessing

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/core/model"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/pkg/errors"
)

// StandardScalerFitFunc はStandardScaler.fitの実装
type StandardScalerFitFunc func(ctx context.Context, s *StandardScaler, X mat.Matrix) error

// StandardScalerTransformFunc はStandardScaler.transformの実装
type StandardScalerTransformFunc func(ctx context.Context, s *StandardScaler, X mat.Matrix) (mat.Matrix, error)

// パッチ可能なメソッドスロット。初期値は参照実装。
var (
	StandardScalerFit = patch.NewSlot[StandardScalerFitFunc](
		patch.Key{Target: "StandardScaler", Method: "fit"}, standardScalerFit)
	StandardScalerTransform = patch.NewSlot[StandardScalerTransformFunc](
		patch.Key{Target: "StandardScaler", Method: "transform"}, standardScalerTransform)
)

// BackendReference は参照実装で学習したことを示す
const BackendReference = "reference"

// StandardScaler はscikit-learn互換の標準化スケーラー
// データを平均0、標準偏差1に変換する
type StandardScaler struct {
	model.StateManager

	// Mean は各特徴量の平均値
	Mean []float64

	// Var は各特徴量の分散（ddof=0）
	Var []float64

	// Scale は各特徴量の標準偏差。分散0の特徴量は1。
	Scale []float64

	// NFeatures は特徴量の数
	NFeatures int

	// NSamplesSeen は学習に使ったサンプル数
	NSamplesSeen int

	// WithMean は平均を引くかどうか (デフォルト: true)
	WithMean bool

	// WithStd は標準偏差で割るかどうか (デフォルト: true)
	WithStd bool
}

// NewStandardScaler は新しいStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	err := scaler.Fit(X)
//	XScaled, err := scaler.Transform(X)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault はデフォルト設定でStandardScalerを作成する
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// Fit は訓練データから統計情報（平均、標準偏差）を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	return s.FitContext(context.Background(), X)
}

// FitContext はコンテキスト付きで学習する
func (s *StandardScaler) FitContext(ctx context.Context, X mat.Matrix) error {
	return StandardScalerFit.Get()(ctx, s, X)
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	return s.TransformContext(context.Background(), X)
}

// TransformContext はコンテキスト付きで変換する
func (s *StandardScaler) TransformContext(ctx context.Context, X mat.Matrix) (mat.Matrix, error) {
	return StandardScalerTransform.Get()(ctx, s, X)
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// CheckInput は参照実装と同じ入力検証を行う。
// 疎行列の中心化はできないため with_mean=true の場合はエラー。
func (s *StandardScaler) CheckInput(op string, X mat.Matrix) error {
	if data.IsSparse(X) && s.WithMean {
		return errors.NewUnsupportedInputError("StandardScaler",
			"cannot center sparse matrices: pass with_mean=false instead")
	}
	return data.CheckArray(op, X, data.ForEstimator("StandardScaler"))
}

// SetFitResult は平均と分散から学習済み状態を設定する
func (s *StandardScaler) SetFitResult(mean, variance []float64, nSamples int, backend string) {
	c := len(mean)
	s.NFeatures = c
	s.NSamplesSeen = nSamples
	s.Mean = make([]float64, c)
	s.Var = make([]float64, c)
	s.Scale = make([]float64, c)
	for j := 0; j < c; j++ {
		if s.WithMean {
			s.Mean[j] = mean[j]
		}
		s.Scale[j] = 1.0
		if s.WithStd {
			s.Var[j] = variance[j]
			// 標準偏差が0に近い場合は1に設定（ゼロ除算を避ける）
			if sd := math.Sqrt(variance[j]); sd >= 1e-8 {
				s.Scale[j] = sd
			}
		}
	}
	s.MarkFitted(c, nSamples, backend)
}

func standardScalerFit(_ context.Context, s *StandardScaler, X mat.Matrix) error {
	if err := s.CheckInput("StandardScaler.fit", X); err != nil {
		return err
	}
	r, c := X.Dims()
	mean := make([]float64, c)
	sq := make([]float64, c)

	eachNonZero(X, func(_, j int, v float64) {
		mean[j] += v
		sq[j] += v * v
	})
	variance := make([]float64, c)
	for j := range mean {
		mean[j] /= float64(r)
		variance[j] = math.Max(sq[j]/float64(r)-mean[j]*mean[j], 0)
	}

	s.SetFitResult(mean, variance, r, BackendReference)
	return nil
}

func standardScalerTransform(_ context.Context, s *StandardScaler, X mat.Matrix) (mat.Matrix, error) {
	if err := s.RequireFitted("StandardScaler", "transform"); err != nil {
		return nil, err
	}
	if err := s.CheckInput("StandardScaler.transform", X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.RequireFeatures("StandardScaler.transform", c); err != nil {
		return nil, err
	}

	// 疎行列は疎のまま各列をスケールする
	if csr, ok := X.(*data.CSR); ok {
		return s.transformSparse(csr)
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := result.RawRowView(i)
		for j := range row {
			row[j] = (X.At(i, j) - s.Mean[j]) / s.Scale[j]
		}
	}
	return data.WrapLike(X, result), nil
}

func (s *StandardScaler) transformSparse(csr *data.CSR) (mat.Matrix, error) {
	r, c := csr.Dims()
	indptr := make([]int, 0, r+1)
	indices := make([]int, 0, csr.NNZ())
	values := make([]float64, 0, csr.NNZ())
	indptr = append(indptr, 0)
	for i := 0; i < r; i++ {
		csr.RowNonZero(i, func(j int, v float64) {
			indices = append(indices, j)
			values = append(values, v/s.Scale[j])
		})
		indptr = append(indptr, len(values))
	}
	return data.NewCSR(r, c, indptr, indices, values)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.RequireFitted("StandardScaler", "inverse_transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError("StandardScaler.inverse_transform", s.NFeatures, c, 1)
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := result.RawRowView(i)
		for j := range row {
			row[j] = X.At(i, j)*s.Scale[j] + s.Mean[j]
		}
	}
	return data.WrapLike(X, result), nil
}

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, s.NFeatures)
}

// eachNonZero は非ゼロ要素を走査する。密行列では全要素を渡す。
func eachNonZero(X mat.Matrix, fn func(i, j int, v float64)) {
	r, c := X.Dims()
	switch m := X.(type) {
	case *data.CSR:
		for i := 0; i < r; i++ {
			m.RowNonZero(i, func(j int, v float64) { fn(i, j, v) })
		}
	case *mat.Dense:
		for i := 0; i < r; i++ {
			for j, v := range m.RawRowView(i) {
				fn(i, j, v)
			}
		}
	default:
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				fn(i, j, X.At(i, j))
			}
		}
	}
}
