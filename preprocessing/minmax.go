package preprocessing

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/core/model"
	"github.com/YuminosukeSato/scigoex/core/parallel"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/pkg/errors"
)

// MinMaxScalerFitFunc はMinMaxScaler.fitの実装
type MinMaxScalerFitFunc func(ctx context.Context, m *MinMaxScaler, X mat.Matrix) error

// MinMaxScalerTransformFunc はMinMaxScaler.transformの実装
type MinMaxScalerTransformFunc func(ctx context.Context, m *MinMaxScaler, X mat.Matrix) (mat.Matrix, error)

var (
	MinMaxScalerFit = patch.NewSlot[MinMaxScalerFitFunc](
		patch.Key{Target: "MinMaxScaler", Method: "fit"}, minMaxScalerFit)
	MinMaxScalerTransform = patch.NewSlot[MinMaxScalerTransformFunc](
		patch.Key{Target: "MinMaxScaler", Method: "transform"}, minMaxScalerTransform)
)

// 参照実装の変換で行単位の並列化を始めるサンプル数
const minMaxParallelThreshold = 4096

// MinMaxScaler はscikit-learn互換のMin-Maxスケーラー
// データを指定した範囲（デフォルト[0,1]）にスケーリングする。
type MinMaxScaler struct {
	model.StateManager

	// DataMin は学習データの最小値
	DataMin []float64

	// DataMax は学習データの最大値
	DataMax []float64

	// Scale は各特徴量のデータ幅 (max - min)。定数特徴量は1。
	Scale []float64

	// NFeatures は特徴量の数
	NFeatures int

	// FeatureRange はスケーリング後の範囲 [min, max]
	FeatureRange [2]float64
}

// NewMinMaxScaler は新しいMinMaxScalerを作成する
func NewMinMaxScaler(featureRange [2]float64) *MinMaxScaler {
	return &MinMaxScaler{FeatureRange: featureRange}
}

// NewMinMaxScalerDefault はデフォルト設定([0,1]範囲)でMinMaxScalerを作成する
func NewMinMaxScalerDefault() *MinMaxScaler {
	return NewMinMaxScaler([2]float64{0.0, 1.0})
}

// Fit は訓練データから最小値・最大値を計算する
func (m *MinMaxScaler) Fit(X mat.Matrix) error {
	return m.FitContext(context.Background(), X)
}

// FitContext はコンテキスト付きで学習する
func (m *MinMaxScaler) FitContext(ctx context.Context, X mat.Matrix) error {
	return MinMaxScalerFit.Get()(ctx, m, X)
}

// Transform は学習済みの統計情報を使ってデータをスケーリングする
func (m *MinMaxScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	return m.TransformContext(context.Background(), X)
}

// TransformContext はコンテキスト付きで変換する
func (m *MinMaxScaler) TransformContext(ctx context.Context, X mat.Matrix) (mat.Matrix, error) {
	return MinMaxScalerTransform.Get()(ctx, m, X)
}

// CheckInput は参照実装と同じ入力検証を行う。疎行列は受け付けない。
func (m *MinMaxScaler) CheckInput(op string, X mat.Matrix) error {
	if m.FeatureRange[0] >= m.FeatureRange[1] {
		return errors.NewValidationError("feature_range", "minimum must be smaller than maximum", m.FeatureRange)
	}
	return data.CheckArray(op, X, data.AcceptSparse(false), data.ForEstimator("MinMaxScaler"))
}

// SetFitResult は列ごとの最小値・最大値から学習済み状態を設定する
func (m *MinMaxScaler) SetFitResult(dataMin, dataMax []float64, nSamples int, backend string) {
	c := len(dataMin)
	m.NFeatures = c
	m.DataMin = dataMin
	m.DataMax = dataMax
	m.Scale = make([]float64, c)
	for j := 0; j < c; j++ {
		m.Scale[j] = dataMax[j] - dataMin[j]
		if m.Scale[j] < 1e-8 {
			m.Scale[j] = 1.0
		}
	}
	m.MarkFitted(c, nSamples, backend)
}

func minMaxScalerFit(_ context.Context, m *MinMaxScaler, X mat.Matrix) error {
	if err := m.CheckInput("MinMaxScaler.fit", X); err != nil {
		return err
	}
	r, c := X.Dims()

	dataMin := make([]float64, c)
	dataMax := make([]float64, c)
	for j := 0; j < c; j++ {
		dataMin[j] = math.Inf(1)
		dataMax[j] = math.Inf(-1)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := X.At(i, j)
			dataMin[j] = math.Min(dataMin[j], v)
			dataMax[j] = math.Max(dataMax[j], v)
		}
	}

	m.SetFitResult(dataMin, dataMax, r, BackendReference)
	return nil
}

func minMaxScalerTransform(_ context.Context, m *MinMaxScaler, X mat.Matrix) (mat.Matrix, error) {
	if err := m.RequireFitted("MinMaxScaler", "transform"); err != nil {
		return nil, err
	}
	if err := m.CheckInput("MinMaxScaler.transform", X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := m.RequireFeatures("MinMaxScaler.transform", c); err != nil {
		return nil, err
	}

	width := m.FeatureRange[1] - m.FeatureRange[0]
	result := mat.NewDense(r, c, nil)
	parallel.ParallelizeWithThreshold(r, minMaxParallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			row := result.RawRowView(i)
			for j := range row {
				row[j] = (X.At(i, j)-m.DataMin[j])/m.Scale[j]*width + m.FeatureRange[0]
			}
		}
	})
	return data.WrapLike(X, result), nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (m *MinMaxScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := m.Fit(X); err != nil {
		return nil, err
	}
	return m.Transform(X)
}

// InverseTransform はスケーリングされたデータを元の範囲に戻す
func (m *MinMaxScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := m.RequireFitted("MinMaxScaler", "inverse_transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != m.NFeatures {
		return nil, errors.NewDimensionError("MinMaxScaler.inverse_transform", m.NFeatures, c, 1)
	}

	width := m.FeatureRange[1] - m.FeatureRange[0]
	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := result.RawRowView(i)
		for j := range row {
			row[j] = (X.At(i, j)-m.FeatureRange[0])/width*m.Scale[j] + m.DataMin[j]
		}
	}
	return data.WrapLike(X, result), nil
}

// GetParams はスケーラーのパラメータを取得する
func (m *MinMaxScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"feature_range": m.FeatureRange,
	}
}

// String はスケーラーの文字列表現を返す
func (m *MinMaxScaler) String() string {
	if !m.IsFitted() {
		return fmt.Sprintf("MinMaxScaler(feature_range=[%.1f, %.1f])", m.FeatureRange[0], m.FeatureRange[1])
	}
	return fmt.Sprintf("MinMaxScaler(feature_range=[%.1f, %.1f], n_features=%d)",
		m.FeatureRange[0], m.FeatureRange[1], m.NFeatures)
}
